// Package watcher keeps the stored document template in sync with a
// template file on disk.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Debounce is how long the watcher waits after the last event before it
// re-reads the file. Editors often write a file in several steps.
const Debounce = 200 * time.Millisecond

// TemplateSink stores template text.
type TemplateSink interface {
	SetTemplate(ctx context.Context, text string) error
}

// ChangeCallback is called after a reload has been stored.
type ChangeCallback func(text string)

// ApplyFile reads file and stores its contents. It returns the stored text.
func ApplyFile(ctx context.Context, file string, sink TemplateSink) (string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("watcher: read template: %w", err)
	}
	text := string(data)
	if err := sink.SetTemplate(ctx, text); err != nil {
		return "", err
	}
	return text, nil
}

// Watch watches file and stores its contents whenever it changes, until
// ctx is cancelled. The parent directory is watched rather than the file,
// so replace-by-rename saves are seen. A deleted file keeps the last stored
// template.
func Watch(ctx context.Context, file string, sink TemplateSink, logger *slog.Logger, cb ChangeCallback) error {
	abs, err := filepath.Abs(file)
	if err != nil {
		return fmt.Errorf("watcher: resolve %s: %w", file, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watcher: watch %s: %w", filepath.Dir(abs), err)
	}
	logger.Info("watcher: started", slog.String("template_file", abs))

	var last string
	if data, err := os.ReadFile(abs); err == nil {
		last = string(data)
	}

	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(Debounce)
			timerCh = timer.C
		} else {
			timer.Reset(Debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			data, err := os.ReadFile(abs)
			if errors.Is(err, fs.ErrNotExist) {
				logger.Warn("watcher: template file removed, keeping last template", slog.String("path", abs))
				continue
			}
			if err != nil {
				logger.Warn("watcher: read failed", slog.String("path", abs), slog.String("error", err.Error()))
				continue
			}
			text := string(data)
			if text == last {
				continue
			}
			if err := sink.SetTemplate(ctx, text); err != nil {
				logger.Warn("watcher: store template failed", slog.String("error", err.Error()))
				continue
			}
			last = text
			logger.Info("watcher: template reloaded", slog.String("path", abs), slog.Int("bytes", len(data)))
			if cb != nil {
				cb(text)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0 {
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
