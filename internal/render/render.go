// Package render expands document templates against a bookmark's fields.
//
// The template language is deliberately small:
//
//	{{ title }}                          interpolation, dotted paths allowed
//	{% if highlightList.length > 0 %}    conditionals with an optional {% else %}
//	{% for item in highlightList %}      loops binding each element
//	{# comment #}                        dropped
//
// A '-' just inside any delimiter trims whitespace on that side. Templates
// only see the field set handed to Execute; nothing else is reachable.
package render

import (
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of compiled templates kept in memory.
const DefaultCacheSize = 16

// Template is a compiled document template.
type Template struct {
	root []node
}

// Parse compiles text into a Template.
func Parse(text string) (*Template, error) {
	toks, err := lex(text)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, _, err := p.parseList()
	if err != nil {
		return nil, err
	}
	return &Template{root: root}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(text string) *Template {
	t, err := Parse(text)
	if err != nil {
		panic(fmt.Sprintf("render: %v", err))
	}
	return t
}

// Execute renders the template against data.
func (t *Template) Execute(data map[string]any) (string, error) {
	var b strings.Builder
	if err := execNodes(&b, t.root, &scope{vars: data}); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Renderer renders documents, caching compiled templates by their text and
// falling back to the built-in template when a configured one fails.
type Renderer struct {
	cache    *lru.Cache[string, *Template]
	fallback *Template
	logger   *slog.Logger
}

// NewRenderer creates a Renderer. cacheSize <= 0 selects DefaultCacheSize.
func NewRenderer(logger *slog.Logger, cacheSize int) (*Renderer, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *Template](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("render: create cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		cache:    cache,
		fallback: MustParse(DefaultTemplate),
		logger:   logger,
	}, nil
}

// Render expands text against data. A nil data map yields "" so the caller
// skips the record. Blank text selects the default template. A template that
// fails to parse or execute is logged and replaced by the default template;
// if that fails too the result is "".
func (r *Renderer) Render(text string, data map[string]any) string {
	if data == nil {
		return ""
	}
	if strings.TrimSpace(text) != "" {
		out, err := r.execute(text, data)
		if err == nil {
			return out
		}
		r.logger.Warn("render: template failed, using default", slog.String("error", err.Error()))
	}
	out, err := r.fallback.Execute(data)
	if err != nil {
		r.logger.Warn("render: default template failed", slog.String("error", err.Error()))
		return ""
	}
	return out
}

func (r *Renderer) execute(text string, data map[string]any) (string, error) {
	t, ok := r.cache.Get(text)
	if !ok {
		var err error
		if t, err = Parse(text); err != nil {
			return "", err
		}
		r.cache.Add(text, t)
	}
	return t.Execute(data)
}
