package api

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, filepath.Join(cfg.Root, "templates", "index.html"),
		`{{.project_name}}|{{.static_url}}|{{.is_logged_in}}|{{.config.SECRET_KEY}}|{{.count}}|{{static "app.css"}}`)
	writeFile(t, filepath.Join(cfg.Root, "templates", "admin", "users.html"), `{{template "partial.tmpl" .}}`)
	writeFile(t, filepath.Join(cfg.Root, "templates", "partial.tmpl"), `users of {{.project_name}}`)
	app := newTestApp(t, cfg, nil)
	app.Get("/", func(w http.ResponseWriter, r *http.Request) {
		app.Render(w, r, "index.html", map[string]any{"count": 3})
	})
	app.Get("/admin", func(w http.ResponseWriter, r *http.Request) {
		app.Render(w, r, "admin/users.html", nil)
	})

	w := do(app, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "tracker|/static|false|abc|3|/static/app.css", w.Body.String())

	w = do(app, http.MethodGet, "/admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "users of tracker", w.Body.String())
}

func TestRenderErrors(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, filepath.Join(cfg.Root, "templates", "broken.html"), `{{template "nope.html" .}}`)
	app := newTestApp(t, cfg, nil)

	_, err := app.RenderTemplate(httptest.NewRequest(http.MethodGet, "/", nil), "nope.html", nil)
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	app.Get("/broken", func(w http.ResponseWriter, r *http.Request) {
		app.Render(w, r, "broken.html", nil)
	})
	assert.Equal(t, http.StatusInternalServerError, do(app, http.MethodGet, "/broken", nil).Code)
}

func TestRenderMissingFolder(t *testing.T) {
	cfg := testConfig(t)
	cfg.Web.TemplateFolder = "nowhere"
	app := newTestApp(t, cfg, nil)

	_, err := app.RenderTemplate(httptest.NewRequest(http.MethodGet, "/", nil), "index.html", nil)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestRenderReload(t *testing.T) {
	for _, debug := range []bool{false, true} {
		cfg := testConfig(t)
		cfg.Debug = debug
		path := filepath.Join(cfg.Root, "templates", "page.html")
		writeFile(t, path, "v1")
		app := newTestApp(t, cfg, nil)
		req := httptest.NewRequest(http.MethodGet, "/", nil)

		body, err := app.RenderTemplate(req, "page.html", nil)
		require.NoError(t, err)
		require.Equal(t, "v1", string(body))

		writeFile(t, path, "v2")
		body, err = app.RenderTemplate(req, "page.html", nil)
		require.NoError(t, err)

		want := "v1"
		if debug {
			want = "v2"
		}
		assert.Equal(t, want, string(body), "debug=%v", debug)
	}
}

func TestQueryInt(t *testing.T) {
	tests := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{query: "", want: 50},
		{query: "limit=10", want: 10},
		{query: "limit=abc", wantErr: true},
		{query: "limit=0", wantErr: true},
		{query: "limit=5000", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/?"+tc.query, nil)
			got, err := QueryInt(r, "limit", 50, 1, 1000)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
