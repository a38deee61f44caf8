package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxIncludeDepth = 8

// includeMerger overlays included YAML files onto a Config. It is typically
// used to keep provider definitions in a providers.d/ directory next to the
// main config file.
type includeMerger struct {
	visited map[string]bool
}

// merge processes cfg.Includes relative to dir.
func (m *includeMerger) merge(cfg *Config, dir string, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("config includes: nested deeper than %d", maxIncludeDepth)
	}

	patterns := cfg.Includes
	cfg.Includes = nil

	for _, pattern := range patterns {
		paths, err := expandInclude(pattern, dir)
		if err != nil {
			return err
		}
		for _, p := range paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return fmt.Errorf("config includes: abs path %q: %w", p, err)
			}
			if m.visited[abs] {
				return fmt.Errorf("config includes: %q included twice (cycle?)", abs)
			}
			m.visited[abs] = true

			if err := m.mergeOne(cfg, abs, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *includeMerger) mergeOne(cfg *Config, path string, depth int) error {
	if err := validatePermissions(path); err != nil {
		return fmt.Errorf("config includes: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config includes: read %q: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}

	// Providers from separate files accumulate instead of replacing each other.
	before := cfg.Providers
	cfg.Providers = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config includes: parse %q: %w", path, err)
	}
	cfg.Providers = append(before, cfg.Providers...)

	if len(cfg.Includes) > 0 {
		return m.merge(cfg, filepath.Dir(path), depth)
	}
	return nil
}

// expandInclude resolves pattern against dir. Patterns may not leave dir.
// A glob that matches nothing is not an error; a missing literal path is.
func expandInclude(pattern, dir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(dir, pattern)
	}
	pattern = filepath.Clean(pattern)

	if rel, err := filepath.Rel(dir, pattern); err == nil && strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("config includes: path %q escapes config directory", pattern)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config includes: glob %q: %w", pattern, err)
	}
	if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
		return []string{pattern}, nil
	}
	return matches, nil
}
