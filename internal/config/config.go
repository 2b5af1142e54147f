// Package config loads and merges the tool's project/global configuration.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Config is the fully-resolved configuration for one indexing run.
type Config struct {
	Version     int
	Project     Project
	Index       Index
	Performance Performance
	Phases      Phases
	Include     []string
	Exclude     []string
}

type Project struct {
	Root string
	Name string
}

type Index struct {
	MaxFileSize      int64
	MaxFileCount     int
	RespectGitignore bool
}

type Performance struct {
	ParallelFileWorkers int // 0 = auto-detect (GOMAXPROCS)
	ParseTimeoutMs      int // read from parse_timeout_ms; not applied: the syntactic pass runs each file to completion
	TracerTimeoutSec    int // timeout for the compiler-trace subprocess
	DiagnosticTimeoutSec int
}

// Phases toggles individual extraction phases independently, so a caller
// can request a fast partial re-index (e.g. syntactic-only).
type Phases struct {
	EnableCompilerTrace bool
	EnableXref          bool
	EnableRoutes        bool
	EnableSchema        bool
	EnableTypeSpecs     bool
	EnableDiagnostics   bool
}

// DefaultExclude mirrors the project-agnostic parts of the teacher's
// exclusion list, trimmed to what matters for an Elixir project.
var DefaultExclude = []string{
	"**/.git/**",
	"**/.*/**",
	"**/_build/**",
	"**/deps/**",
	"**/node_modules/**",
	"**/priv/static/**",
	"**/cover/**",
	"**/*.beam",
}

// Default returns the built-in configuration used when no project or
// global config file is present.
func Default(root string) *Config {
	return &Config{
		Version: 1,
		Project: Project{Root: root},
		Index: Index{
			MaxFileSize:      10 * 1024 * 1024,
			MaxFileCount:     20000,
			RespectGitignore: true,
		},
		Performance: Performance{
			ParallelFileWorkers: 0,
			ParseTimeoutMs:      2000,
			TracerTimeoutSec:    120,
			DiagnosticTimeoutSec: 120,
		},
		Phases: Phases{
			EnableCompilerTrace: true,
			EnableXref:          true,
			EnableRoutes:        true,
			EnableSchema:        true,
			EnableTypeSpecs:     true,
			EnableDiagnostics:   true,
		},
		Include: []string{},
		Exclude: append([]string(nil), DefaultExclude...),
	}
}

// Load resolves configuration for rootDir: a project config
// (<rootDir>/.exci.toml) merged over a user-global config (~/.exci.kdl).
func Load(rootDir string) (*Config, error) {
	if rootDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			cwd = "."
		}
		rootDir = cwd
	}
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		absRoot = rootDir
	}

	var base *Config
	if home, err := os.UserHomeDir(); err == nil {
		if globalCfg, err := LoadKDL(home); err == nil && globalCfg != nil {
			base = globalCfg
		}
	}

	project, err := LoadTOML(absRoot)
	if err != nil {
		return nil, err
	}

	switch {
	case base != nil && project != nil:
		return mergeConfigs(base, project), nil
	case project != nil:
		project.Project.Root = absRoot
		return project, nil
	case base != nil:
		base.Project.Root = absRoot
		return base, nil
	default:
		return Default(absRoot), nil
	}
}

// mergeConfigs merges a global base config under a project config: the
// project's scalar settings win, but exclusions accumulate from both.
func mergeConfigs(base, project *Config) *Config {
	merged := *project

	if len(base.Exclude) > 0 {
		seen := make(map[string]bool, len(base.Exclude)+len(project.Exclude))
		merged.Exclude = make([]string, 0, len(base.Exclude)+len(project.Exclude))
		for _, pattern := range base.Exclude {
			if !seen[pattern] {
				seen[pattern] = true
				merged.Exclude = append(merged.Exclude, pattern)
			}
		}
		for _, pattern := range project.Exclude {
			if !seen[pattern] {
				seen[pattern] = true
				merged.Exclude = append(merged.Exclude, pattern)
			}
		}
	}

	if len(project.Include) == 0 && len(base.Include) > 0 {
		merged.Include = base.Include
	}

	return &merged
}

// ResolveParallelism returns the configured worker count, resolving 0 to
// the host's GOMAXPROCS.
func (c *Config) ResolveParallelism() int {
	if c.Performance.ParallelFileWorkers > 0 {
		return c.Performance.ParallelFileWorkers
	}
	return runtime.GOMAXPROCS(0)
}
