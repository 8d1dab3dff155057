package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"discord-rpc/internal/domain"
)

const maxIncludeDepth = 10

func includeError(format string, args ...any) error {
	return domain.NewDomainError("config.includes", domain.ErrConfigLoad, fmt.Sprintf(format, args...))
}

// processIncludes overlays every file named by cfg.Includes onto cfg, in
// order. Paths are relative to baseDir and may be globs; visited holds the
// absolute paths already merged.
func processIncludes(cfg *Config, baseDir string, visited map[string]bool, depth int) error {
	if depth > maxIncludeDepth {
		return includeError("max depth %d exceeded", maxIncludeDepth)
	}

	patterns := cfg.Includes
	cfg.Includes = nil
	for _, pattern := range patterns {
		paths, err := expandInclude(pattern, baseDir)
		if err != nil {
			return err
		}
		for _, p := range paths {
			if visited[p] {
				return includeError("circular include of %q", p)
			}
			visited[p] = true
			if err := mergeFile(cfg, p, visited, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// expandInclude resolves pattern against baseDir. Relative patterns may not
// climb out of baseDir. A glob matching nothing is not an error; a missing
// literal path is reported by mergeFile.
func expandInclude(pattern, baseDir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
		if rel, err := filepath.Rel(baseDir, pattern); err != nil || strings.HasPrefix(rel, "..") {
			return nil, includeError("%q escapes the config directory", pattern)
		}
	}
	pattern = filepath.Clean(pattern)

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, includeError("bad pattern %q: %v", pattern, err)
	}
	if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
		matches = []string{pattern}
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		abs, err := filepath.Abs(m)
		if err != nil {
			return nil, includeError("resolve %q: %v", m, err)
		}
		out = append(out, abs)
	}
	return out, nil
}

func mergeFile(cfg *Config, path string, visited map[string]bool, depth int) error {
	if err := validatePermissions(path); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return includeError("read %q: %v", path, err)
	}
	if len(data) == 0 {
		return nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return includeError("parse %q: %v", path, err)
	}
	if len(cfg.Includes) > 0 {
		return processIncludes(cfg, filepath.Dir(path), visited, depth)
	}
	return nil
}
