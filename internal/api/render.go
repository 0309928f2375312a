package api

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/phrazzld/kit/internal/api/shared"
)

// ErrTemplateNotFound is returned when rendering an unknown template.
var ErrTemplateNotFound = errors.New("template not found")

// templateExtensions are the files parsed from the template folder.
var templateExtensions = map[string]bool{".html": true, ".tmpl": true, ".gohtml": true}

// templateSet parses every template of a folder, named by its slash
// separated path relative to the folder (e.g. "index.html",
// "admin/users.html"). It parses once, or on every lookup when reload is
// set.
type templateSet struct {
	dir    string
	reload bool
	funcs  template.FuncMap

	mu     sync.Mutex
	parsed *template.Template
}

func newTemplateSet(dir string, reload bool, funcs template.FuncMap) *templateSet {
	return &templateSet{dir: dir, reload: reload, funcs: funcs}
}

func (s *templateSet) load() (*template.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parsed != nil && !s.reload {
		return s.parsed, nil
	}
	t, err := parseTemplates(s.dir, s.funcs)
	if err != nil {
		return nil, err
	}
	s.parsed = t
	return t, nil
}

func parseTemplates(dir string, funcs template.FuncMap) (*template.Template, error) {
	root := template.New("").Funcs(funcs)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || !templateExtensions[strings.ToLower(filepath.Ext(p))] {
			return nil
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if _, err := root.New(filepath.ToSlash(rel)).Parse(string(content)); err != nil {
			return fmt.Errorf("failed to parse template %s: %w", rel, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return root, nil
}

func (a *App) templateFuncs() template.FuncMap {
	return template.FuncMap{
		"static": func(p string) string {
			return a.staticURL + "/" + strings.TrimLeft(p, "/")
		},
	}
}

// TemplateContext returns the values every template receives:
// project_name, static_url, is_logged_in, user and config (the web config
// keys, upper-cased).
func (a *App) TemplateContext(r *http.Request) map[string]any {
	cfg := make(map[string]any, len(a.cfg.Web.Config))
	for k, v := range a.cfg.Web.Config {
		cfg[strings.ToUpper(k)] = v
	}
	ctx := map[string]any{
		"project_name": a.cfg.ProjectName(),
		"static_url":   a.staticURL,
		"is_logged_in": false,
		"user":         "",
		"config":       cfg,
	}
	if claims, ok := shared.GetClaims(r.Context()); ok {
		ctx["is_logged_in"] = true
		ctx["user"] = claims.Username
	}
	return ctx
}

// RenderTemplate executes the named template with the template context
// merged with data, data keys taking precedence.
func (a *App) RenderTemplate(r *http.Request, name string, data map[string]any) ([]byte, error) {
	t, err := a.templates.load()
	if err != nil {
		return nil, err
	}
	tmpl := t.Lookup(name)
	if tmpl == nil {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}

	values := a.TemplateContext(r)
	for k, v := range data {
		values[k] = v
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, values); err != nil {
		return nil, fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// Render writes the named template as an HTML response. Rendering errors
// become a 500 response.
func (a *App) Render(w http.ResponseWriter, r *http.Request, name string, data map[string]any) {
	body, err := a.RenderTemplate(r, name, data)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to render page", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		a.logger.Debug("failed to write response", "error", err)
	}
}
