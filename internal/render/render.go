// Package render turns a mail type and its data into an html body.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"
	texttemplate "text/template"

	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"
)

// ErrTemplateNotFound is returned when no template exists for a type.
var ErrTemplateNotFound = errors.New("template not found")

// Renderer produces the html body for a mail type.
type Renderer interface {
	Render(ctx context.Context, mailType string, data map[string]any) (string, error)
}

// Func adapts a plain function to Renderer.
type Func func(ctx context.Context, mailType string, data map[string]any) (string, error)

// Render calls f.
func (f Func) Render(ctx context.Context, mailType string, data map[string]any) (string, error) {
	return f(ctx, mailType, data)
}

// Templates renders "<type>.html" files as html/template and "<type>.md"
// files as text/template followed by markdown conversion. Markdown templates
// see HTML-escaped data and raw HTML in them is dropped. Parsed templates are
// cached per type.
type Templates struct {
	fsys fs.FS
	md   goldmark.Markdown

	mu    sync.RWMutex
	cache map[string]executor
}

type executor func(data map[string]any) (string, error)

// NewTemplates creates a renderer over fsys.
func NewTemplates(fsys fs.FS) *Templates {
	return &Templates{
		fsys: fsys,
		md: goldmark.New(
			goldmark.WithRendererOptions(
				goldmarkHTML.WithHardWraps(),
			),
		),
		cache: make(map[string]executor),
	}
}

// NewTemplatesDir creates a renderer over a directory on disk.
func NewTemplatesDir(dir string) (*Templates, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("templates directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("templates directory %s is not a directory", dir)
	}
	return NewTemplates(os.DirFS(dir)), nil
}

func (t *Templates) Render(_ context.Context, mailType string, data map[string]any) (string, error) {
	exec, err := t.lookup(mailType)
	if err != nil {
		return "", err
	}
	return exec(data)
}

func (t *Templates) lookup(mailType string) (executor, error) {
	name := strings.TrimSpace(mailType)
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return nil, fmt.Errorf("%w: invalid type %q", ErrTemplateNotFound, mailType)
	}

	t.mu.RLock()
	exec, ok := t.cache[name]
	t.mu.RUnlock()
	if ok {
		return exec, nil
	}

	exec, err := t.parse(name)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.cache[name] = exec
	t.mu.Unlock()
	return exec, nil
}

func (t *Templates) parse(name string) (executor, error) {
	for _, candidate := range []string{name, strings.ToLower(name)} {
		if src, err := fs.ReadFile(t.fsys, path.Clean(candidate+".html")); err == nil {
			tmpl, err := htmltemplate.New(candidate).Option("missingkey=zero").Parse(string(src))
			if err != nil {
				return nil, fmt.Errorf("parse template %s.html: %w", candidate, err)
			}
			return func(data map[string]any) (string, error) {
				var buf bytes.Buffer
				if err := tmpl.Execute(&buf, data); err != nil {
					return "", fmt.Errorf("render template %s.html: %w", candidate, err)
				}
				return buf.String(), nil
			}, nil
		}

		if src, err := fs.ReadFile(t.fsys, path.Clean(candidate+".md")); err == nil {
			tmpl, err := texttemplate.New(candidate).Option("missingkey=zero").Parse(string(src))
			if err != nil {
				return nil, fmt.Errorf("parse template %s.md: %w", candidate, err)
			}
			return func(data map[string]any) (string, error) {
				var mdBuf bytes.Buffer
				if err := tmpl.Execute(&mdBuf, escapeData(data)); err != nil {
					return "", fmt.Errorf("render template %s.md: %w", candidate, err)
				}
				var htmlBuf bytes.Buffer
				if err := t.md.Convert(mdBuf.Bytes(), &htmlBuf); err != nil {
					return "", fmt.Errorf("convert markdown %s.md: %w", candidate, err)
				}
				return htmlBuf.String(), nil
			}, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
}

// escapeData returns a copy of data with every string HTML-escaped, so
// caller values cannot inject markup through a markdown template.
func escapeData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = escapeValue(v)
	}
	return out
}

func escapeValue(v any) any {
	switch v := v.(type) {
	case string:
		return htmltemplate.HTMLEscapeString(v)
	case []string:
		out := make([]string, len(v))
		for i, s := range v {
			out[i] = htmltemplate.HTMLEscapeString(s)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = escapeValue(e)
		}
		return out
	case map[string]any:
		return escapeData(v)
	default:
		return v
	}
}
