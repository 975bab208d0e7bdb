package models

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// DefaultDirectory is the vault folder used when none is configured.
const DefaultDirectory = "cangquyun"

// Settings is the persisted, user-editable sync configuration.
type Settings struct {
	Token           string `json:"token"`
	SyncOnStartup   bool   `json:"sync_on_startup"`
	IntervalMinutes int    `json:"interval_minutes"`
	Directory       string `json:"directory"`
	// Watermark is the start time of the last fully successful run.
	// Empty means everything is synced on the next run.
	Watermark string `json:"watermark"`
	// Template is the document template; empty selects the built-in one.
	Template string `json:"template"`
}

// Validate validates the settings.
func (s *Settings) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.IntervalMinutes, validation.Min(0), validation.Max(24*60)),
		validation.Field(&s.Directory, validation.Length(0, 255)),
	)
}

// RootDirectory returns the configured vault folder, or DefaultDirectory.
func (s *Settings) RootDirectory() string {
	if d := strings.TrimSpace(s.Directory); d != "" {
		return d
	}
	return DefaultDirectory
}

// Redacted returns a copy safe to show in status output.
func (s Settings) Redacted() Settings {
	if s.Token != "" {
		s.Token = "********"
	}
	return s
}
