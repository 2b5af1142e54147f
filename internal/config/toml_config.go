package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// tomlDoc mirrors the on-disk shape of .exci.toml; zero-value fields fall
// back to Default()'s values after LoadTOML merges them in.
type tomlDoc struct {
	Project struct {
		Root string `toml:"root"`
		Name string `toml:"name"`
	} `toml:"project"`
	Index struct {
		MaxFileSizeMB    int64 `toml:"max_file_size_mb"`
		MaxFileCount     int   `toml:"max_file_count"`
		RespectGitignore *bool `toml:"respect_gitignore"`
	} `toml:"index"`
	Performance struct {
		ParallelFileWorkers int `toml:"parallel_file_workers"`
		ParseTimeoutMs      int `toml:"parse_timeout_ms"`
		TracerTimeoutSec    int `toml:"tracer_timeout_sec"`
		DiagnosticTimeoutSec int `toml:"diagnostic_timeout_sec"`
	} `toml:"performance"`
	Phases struct {
		EnableCompilerTrace *bool `toml:"enable_compiler_trace"`
		EnableXref          *bool `toml:"enable_xref"`
		EnableRoutes        *bool `toml:"enable_routes"`
		EnableSchema        *bool `toml:"enable_schema"`
		EnableTypeSpecs     *bool `toml:"enable_type_specs"`
		EnableDiagnostics   *bool `toml:"enable_diagnostics"`
	} `toml:"phases"`
	Include []string `toml:"include"`
	Exclude []string `toml:"exclude"`
}

// LoadTOML loads .exci.toml from projectRoot. A missing file is not an
// error: it returns (nil, nil) so the caller falls back to defaults.
func LoadTOML(projectRoot string) (*Config, error) {
	path := filepath.Join(projectRoot, ".exci.toml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var doc tomlDoc
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg := Default(projectRoot)
	if doc.Project.Root != "" {
		cfg.Project.Root = doc.Project.Root
	}
	cfg.Project.Name = doc.Project.Name

	if doc.Index.MaxFileSizeMB > 0 {
		cfg.Index.MaxFileSize = doc.Index.MaxFileSizeMB * 1024 * 1024
	}
	if doc.Index.MaxFileCount > 0 {
		cfg.Index.MaxFileCount = doc.Index.MaxFileCount
	}
	if doc.Index.RespectGitignore != nil {
		cfg.Index.RespectGitignore = *doc.Index.RespectGitignore
	}

	if doc.Performance.ParallelFileWorkers > 0 {
		cfg.Performance.ParallelFileWorkers = doc.Performance.ParallelFileWorkers
	}
	if doc.Performance.ParseTimeoutMs > 0 {
		cfg.Performance.ParseTimeoutMs = doc.Performance.ParseTimeoutMs
	}
	if doc.Performance.TracerTimeoutSec > 0 {
		cfg.Performance.TracerTimeoutSec = doc.Performance.TracerTimeoutSec
	}
	if doc.Performance.DiagnosticTimeoutSec > 0 {
		cfg.Performance.DiagnosticTimeoutSec = doc.Performance.DiagnosticTimeoutSec
	}

	applyBool(&cfg.Phases.EnableCompilerTrace, doc.Phases.EnableCompilerTrace)
	applyBool(&cfg.Phases.EnableXref, doc.Phases.EnableXref)
	applyBool(&cfg.Phases.EnableRoutes, doc.Phases.EnableRoutes)
	applyBool(&cfg.Phases.EnableSchema, doc.Phases.EnableSchema)
	applyBool(&cfg.Phases.EnableTypeSpecs, doc.Phases.EnableTypeSpecs)
	applyBool(&cfg.Phases.EnableDiagnostics, doc.Phases.EnableDiagnostics)

	if len(doc.Include) > 0 {
		cfg.Include = doc.Include
	}
	if len(doc.Exclude) > 0 {
		cfg.Exclude = append(cfg.Exclude, doc.Exclude...)
	}

	return cfg, nil
}

func applyBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}
