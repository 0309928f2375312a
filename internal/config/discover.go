package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PathEnvVar names the environment variable read by the -e flag.
const PathEnvVar = "KITPATH"

var (
	// ErrNoConfigFile is returned when no configuration file could be found.
	ErrNoConfigFile = errors.New("no configuration file found in current directory, please enter a different path with the -c option")

	// ErrAmbiguousConfig is returned when several candidate files exist.
	ErrAmbiguousConfig = errors.New("several configuration files found in current directory, please disambiguate with the -c option")

	// ErrEmptyEnvPath is returned when -e is used but KITPATH is not set.
	ErrEmptyEnvPath = errors.New(PathEnvVar + " is not set")
)

// Resolve returns the configuration file to use. An explicit path wins over
// the environment; otherwise, when useEnv is set, KITPATH is used; otherwise
// dir must contain exactly one YAML file.
func Resolve(explicit string, useEnv bool, dir string) (string, error) {
	if explicit != "" {
		return filepath.Abs(explicit)
	}

	if useEnv {
		p := os.Getenv(PathEnvVar)
		if p == "" {
			return "", ErrEmptyEnvPath
		}
		return filepath.Abs(p)
	}

	candidates, err := Candidates(dir)
	if err != nil {
		return "", err
	}
	switch len(candidates) {
	case 0:
		return "", ErrNoConfigFile
	case 1:
		return filepath.Abs(filepath.Join(dir, candidates[0]))
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousConfig, strings.Join(candidates, ", "))
	}
}

// Candidates lists the YAML files of dir, sorted by name.
func Candidates(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
