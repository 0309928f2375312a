// Package scaffold writes the starter files of a new kit project.
package scaffold

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/renameio/v2"
	"github.com/phrazzld/kit/internal/platform/logger"
	"gopkg.in/yaml.v3"
)

// ErrExists is returned when a starter file is already present and Force
// is not set.
var ErrExists = errors.New("file already exists")

var validName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// Options customizes a new project.
type Options struct {
	// Name of the project and of its configuration file. Defaults to the
	// base name of the directory.
	Name string

	// Modules to load, in order.
	Modules []string

	// DatabaseURL defaults to a sqlite file in the project directory.
	DatabaseURL string

	// Force overwrites existing files.
	Force bool
}

type logSection struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type databaseSection struct {
	URL     string `yaml:"url"`
	Migrate bool   `yaml:"migrate"`
}

type webSection struct {
	Name           string         `yaml:"name"`
	StaticFolder   string         `yaml:"static_folder"`
	TemplateFolder string         `yaml:"template_folder"`
	Autocommit     bool           `yaml:"autocommit"`
	Config         map[string]any `yaml:"config"`
}

type tasksSection struct {
	BrokerURL     string `yaml:"broker_url"`
	ResultBackend string `yaml:"result_backend"`
	Autocommit    bool   `yaml:"autocommit"`
	Concurrency   int    `yaml:"concurrency"`
}

// projectConfig is the starter configuration file.
type projectConfig struct {
	Root     string          `yaml:"root"`
	Debug    bool            `yaml:"debug"`
	Modules  []string        `yaml:"modules"`
	Log      logSection      `yaml:"log"`
	Database databaseSection `yaml:"database"`
	Web      webSection      `yaml:"web"`
	Tasks    tasksSection    `yaml:"tasks"`
}

const indexTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>{{.project_name}}</title>
  <link rel="stylesheet" href="{{static "app.css"}}">
</head>
<body>
  <h1>{{.project_name}}</h1>
  {{if .is_logged_in}}<p>Signed in as {{.user}}</p>{{end}}
</body>
</html>
`

const stylesheet = `body {
  font-family: sans-serif;
  margin: 2rem auto;
  max-width: 48rem;
}
`

// Create writes the configuration file, a template and a stylesheet into
// dir, creating it when needed, and returns the written paths.
func Create(ctx context.Context, dir string, opts Options) ([]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if opts.Name == "" {
		opts.Name = filepath.Base(abs)
	}
	if !validName.MatchString(opts.Name) {
		return nil, fmt.Errorf("invalid project name %q", opts.Name)
	}
	if opts.DatabaseURL == "" {
		opts.DatabaseURL = "sqlite:///" + opts.Name + ".db"
	}
	if opts.Modules == nil {
		opts.Modules = []string{}
	}

	conf, err := renderConfig(opts)
	if err != nil {
		return nil, err
	}
	files := []struct {
		path    string
		content []byte
	}{
		{filepath.Join(abs, opts.Name+".yaml"), conf},
		{filepath.Join(abs, "templates", "index.html"), []byte(indexTemplate)},
		{filepath.Join(abs, "static", "app.css"), []byte(stylesheet)},
	}

	if !opts.Force {
		for _, f := range files {
			if _, err := os.Stat(f.path); err == nil {
				return nil, fmt.Errorf("%w: %s", ErrExists, f.path)
			}
		}
	}

	log := logger.FromContext(ctx)
	written := make([]string, 0, len(files))
	for _, f := range files {
		if err := writeFile(f.path, f.content); err != nil {
			return written, err
		}
		log.Debug("scaffold file written", "path", f.path)
		written = append(written, f.path)
	}
	return written, nil
}

func renderConfig(opts Options) ([]byte, error) {
	cfg := projectConfig{
		Root:     ".",
		Modules:  opts.Modules,
		Log:      logSection{Level: "info", Format: "text"},
		Database: databaseSection{URL: opts.DatabaseURL, Migrate: true},
		Web: webSection{
			Name:           opts.Name,
			StaticFolder:   "static",
			TemplateFolder: "templates",
			Autocommit:     true,
			Config:         map[string]any{},
		},
		Tasks: tasksSection{
			BrokerURL:     "memory://",
			ResultBackend: "database",
			Autocommit:    true,
			Concurrency:   3,
		},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	return buf.Bytes(), nil
}

// writeFile replaces path atomically.
func writeFile(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(content); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
