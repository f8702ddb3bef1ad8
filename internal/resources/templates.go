// Package resources holds the page templates. Defaults are embedded; a
// directory of overrides can be layered on top and is reloaded when it
// changes.
package resources

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/Masterminds/sprig/v3"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var embedded embed.FS

type Templates struct {
	dir    string
	logger *zap.Logger

	mu   sync.RWMutex
	tmpl *template.Template
}

// NewTemplates loads the embedded templates and, when dir is non-empty,
// the overrides found there.
func NewTemplates(dir string, logger *zap.Logger) (*Templates, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Templates{
		dir:    dir,
		logger: logger.Named("templates"),
	}
	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

func funcs() template.FuncMap {
	fm := sprig.FuncMap()
	fm["money"] = func(v float64) string { return fmt.Sprintf("$%.2f", v) }
	fm["weekday"] = func(i int) string {
		days := []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
		if i < 0 || i >= len(days) {
			return "?"
		}
		return days[i]
	}
	return fm
}

// Reload reparses every template. On failure the previous set stays in
// use.
func (t *Templates) Reload() error {
	tmpl, err := template.New("pages").Funcs(funcs()).ParseFS(embedded, "templates/*.html")
	if err != nil {
		return fmt.Errorf("parse embedded templates: %w", err)
	}

	if t.dir != "" {
		matches, err := filepath.Glob(filepath.Join(t.dir, "*.html"))
		if err != nil {
			return fmt.Errorf("list template overrides: %w", err)
		}
		for _, path := range matches {
			contents, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read template %s: %w", path, err)
			}
			if _, err := tmpl.New(filepath.Base(path)).Parse(string(contents)); err != nil {
				return fmt.Errorf("parse template %s: %w", path, err)
			}
		}
	}

	t.mu.Lock()
	t.tmpl = tmpl
	t.mu.Unlock()

	t.logger.Info("loaded templates", zap.String("overrides", t.dir))
	return nil
}

// Render executes the named template into w. Output is buffered so a
// failing template writes nothing.
func (t *Templates) Render(w io.Writer, name string, data any) error {
	t.mu.RLock()
	tmpl := t.tmpl
	t.mu.RUnlock()

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

// Watch reloads the overrides whenever the directory changes, until ctx
// is done. Without an override directory it just waits.
func (t *Templates) Watch(ctx context.Context) error {
	if t.dir == "" {
		<-ctx.Done()
		return nil
	}
	return watchDir(ctx, t.dir, t.logger, func() {
		if err := t.Reload(); err != nil {
			t.logger.Error("failed to reload templates", zap.Error(err))
		}
	})
}
