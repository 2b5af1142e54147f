// Package indexing wires file discovery, every extraction phase, the
// merge layer and the persistence store into one indexing run, and
// drives the incremental refresh path used by ensure_index_current.
package indexing

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/exci-dev/exci/internal/change"
	"github.com/exci-dev/exci/internal/config"
	"github.com/exci-dev/exci/internal/discovery"
	"github.com/exci-dev/exci/internal/extract/diagnostics"
	"github.com/exci-dev/exci/internal/extract/routes"
	"github.com/exci-dev/exci/internal/extract/schema"
	"github.com/exci-dev/exci/internal/extract/syntactic"
	"github.com/exci-dev/exci/internal/extract/tracer"
	"github.com/exci-dev/exci/internal/extract/typespec"
	"github.com/exci-dev/exci/internal/extract/xref"
	"github.com/exci-dev/exci/internal/merge"
	"github.com/exci-dev/exci/internal/store"
	"github.com/exci-dev/exci/internal/types"
	"github.com/exci-dev/exci/internal/version"
)

// RefreshStatus distinguishes a no-op refresh from one that re-extracted.
type RefreshStatus string

const (
	StatusCurrent   RefreshStatus = "current"
	StatusRefreshed RefreshStatus = "refreshed"
	StatusIndexed   RefreshStatus = "indexed"
)

// Indexer owns one project's discovery, extraction and storage.
type Indexer struct {
	Root   string
	Config *config.Config
	Store  *store.Store
}

// New returns an Indexer for root, defaulting Config when nil.
func New(root string, cfg *config.Config) *Indexer {
	if cfg == nil {
		cfg = config.Default(root)
	}
	return &Indexer{Root: root, Config: cfg, Store: store.New(root)}
}

// FullIndex discovers every source file, runs every enabled phase, and
// rewrites the store from scratch.
func (ix *Indexer) FullIndex(ctx context.Context) (*types.Manifest, error) {
	files, err := ix.discover()
	if err != nil {
		return nil, err
	}

	records, fileModules := ix.extract(ctx, files)

	manifest := types.NewManifest(ix.Root, version.Info())
	ix.populateManifest(manifest, files, fileModules, records)

	if err := ix.Store.Clear(); err != nil {
		return nil, err
	}
	if err := ix.Store.WriteRecords(records); err != nil {
		return nil, err
	}
	if err := ix.Store.WriteManifest(manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

// EnsureCurrent is the entry point spec.md's ensure_index_current tool
// wraps: index from scratch if there is no store yet, otherwise run an
// incremental refresh.
func (ix *Indexer) EnsureCurrent(ctx context.Context) (*types.Manifest, RefreshStatus, error) {
	if !ix.Store.IndexExists() {
		m, err := ix.FullIndex(ctx)
		return m, StatusIndexed, err
	}
	return ix.Refresh(ctx)
}

// Refresh compares the current file enumeration against the stored
// manifest, re-extracting only the files the change detector reports as
// added, modified, or affected, and removing records for anything
// modified, deleted, or affected so stale contributions don't linger.
func (ix *Indexer) Refresh(ctx context.Context) (*types.Manifest, RefreshStatus, error) {
	manifest, err := ix.Store.ReadManifest()
	if err != nil {
		return nil, "", err
	}
	if !manifest.SchemaCompatible() || manifest.HostVersion != version.Info() {
		slog.Warn("indexing: schema or build version mismatch, rebuilding",
			"on_disk_schema", manifest.SchemaVersion, "on_disk_host_version", manifest.HostVersion)
		m, err := ix.FullIndex(ctx)
		return m, StatusIndexed, err
	}

	files, err := ix.discover()
	if err != nil {
		return nil, "", err
	}

	detection := change.Detect(ix.Root, files, manifest.Files, manifest.Dependents, manifest.ModuleFile)
	if len(detection.FilesToReindex) == 0 && len(detection.FilesToRemove) == 0 && len(detection.Deleted) == 0 {
		return manifest, StatusCurrent, nil
	}

	removeSet := make(map[string]bool, len(detection.FilesToRemove))
	for _, f := range detection.FilesToRemove {
		removeSet[f] = true
	}
	remaining, err := ix.Store.RemoveRecordsForFiles(removeSet)
	if err != nil {
		return nil, "", err
	}

	newRecords, fileModules := ix.extract(ctx, detection.FilesToReindex)

	merged := append(remaining, newRecords...)

	currentSet := make(map[string]bool, len(files))
	for _, f := range files {
		currentSet[f] = true
	}
	for f := range manifest.Files {
		if !currentSet[f] {
			delete(manifest.Files, f)
		}
	}
	for _, f := range detection.Deleted {
		delete(manifest.Files, f)
	}

	ix.refreshFileStates(manifest, detection.FilesToReindex, fileModules)
	ix.rebuildModuleIndexes(manifest, merged)
	manifest.RecordCount = len(merged)
	manifest.FileCount = len(files)
	manifest.Timestamp = time.Now()

	if err := ix.Store.RewriteRecords(merged); err != nil {
		return nil, "", err
	}
	if err := ix.Store.WriteManifest(manifest); err != nil {
		return nil, "", err
	}
	return manifest, StatusRefreshed, nil
}

func (ix *Indexer) discover() ([]string, error) {
	return discovery.Discover(ix.Root, discovery.Options{
		Include:          ix.Config.Include,
		Exclude:          ix.Config.Exclude,
		RespectGitignore: ix.Config.Index.RespectGitignore,
	})
}

// extract runs every enabled phase over files and merges their
// contributions. It also returns, per file, the modules that file's
// syntactic pass declared, for the manifest's file/module bookkeeping.
func (ix *Indexer) extract(ctx context.Context, files []string) ([]types.Record, map[string][]string) {
	parallelism := ix.Config.ResolveParallelism()
	phases := ix.Config.Phases

	syn := syntactic.ExtractFiles(ctx, ix.Root, files, parallelism)

	var tracerResult tracer.Result
	if phases.EnableCompilerTrace {
		t := &tracer.Extractor{Timeout: time.Duration(ix.Config.Performance.TracerTimeoutSec) * time.Second}
		res, err := t.Run(ctx, ix.Root)
		if err != nil {
			slog.Warn("indexing: tracer phase failed", "error", err)
		}
		tracerResult = res
	}

	var xrefResult xref.Result
	if phases.EnableXref {
		x := &xref.Extractor{}
		res, err := x.Run(ctx, ix.Root)
		if err != nil {
			slog.Warn("indexing: xref phase failed", "error", err)
		}
		xrefResult = res
	}

	var routesResult routes.Result
	if phases.EnableRoutes {
		routesResult = routes.ExtractFiles(ctx, ix.Root, files, parallelism)
	}

	var schemaResult schema.Result
	if phases.EnableSchema {
		schemaResult = schema.ExtractFiles(ctx, ix.Root, files, parallelism)
	}

	var typespecResult typespec.Result
	if phases.EnableTypeSpecs {
		typespecResult = typespec.ExtractFiles(ctx, ix.Root, files, parallelism)
	}

	var diagResult diagnostics.Result
	if phases.EnableDiagnostics {
		d := &diagnostics.Extractor{Timeout: time.Duration(ix.Config.Performance.DiagnosticTimeoutSec) * time.Second}
		res, err := d.Run(ctx, ix.Root)
		if err != nil {
			slog.Warn("indexing: diagnostic phase failed", "error", err)
		}
		diagResult = res
	}

	records := merge.Merge(merge.Input{
		Syntactic:   syn,
		Tracer:      tracerResult,
		Xref:        xrefResult,
		Routes:      routesResult,
		Schema:      schemaResult,
		Typespec:    typespecResult,
		Diagnostics: diagResult,
	})

	fileModules := make(map[string][]string)
	for _, m := range syn.Modules {
		fileModules[m.File] = append(fileModules[m.File], m.Module)
	}

	return records, fileModules
}

// populateManifest fills in a freshly created manifest from a full
// extraction pass.
func (ix *Indexer) populateManifest(manifest *types.Manifest, files []string, fileModules map[string][]string, records []types.Record) {
	for _, f := range files {
		manifest.Files[f] = ix.fileState(f, fileModules[f])
	}
	ix.rebuildModuleIndexes(manifest, records)
	manifest.RecordCount = len(records)
	manifest.FileCount = len(files)
	manifest.Timestamp = time.Now()
}

// refreshFileStates recomputes FileState entries for every re-extracted
// file, leaving entries for untouched files alone.
func (ix *Indexer) refreshFileStates(manifest *types.Manifest, reindexed []string, fileModules map[string][]string) {
	for _, f := range reindexed {
		manifest.Files[f] = ix.fileState(f, fileModules[f])
	}
}

func (ix *Indexer) fileState(relPath string, modules []string) types.FileState {
	abs := filepath.Join(ix.Root, relPath)
	st := types.FileState{Path: relPath, Modules: modules}
	info, err := os.Stat(abs)
	if err != nil {
		return st
	}
	st.ModTimeUnix = info.ModTime().Unix()
	st.Size = info.Size()
	data, err := os.ReadFile(abs)
	if err != nil {
		return st
	}
	st.Fingerprint = change.Fingerprint(data)
	return st
}

// rebuildModuleIndexes derives the manifest's module→file and
// module→dependents maps from the merged record set: ModuleDef records
// give the forward map, DepEdge records give the reverse (dependents)
// map spec.md's change detector BFS walks.
func (ix *Indexer) rebuildModuleIndexes(manifest *types.Manifest, records []types.Record) {
	manifest.ModuleFile = make(map[string]string)
	manifest.Dependents = make(map[string][]string)

	for _, r := range records {
		switch r.Kind {
		case types.KindModuleDef:
			m, err := types.DecodeModuleDef(r)
			if err != nil {
				continue
			}
			manifest.ModuleFile[m.Module] = m.File
		case types.KindDepEdge:
			d, err := types.DecodeDepEdge(r)
			if err != nil {
				continue
			}
			manifest.Dependents[d.To] = append(manifest.Dependents[d.To], d.From)
		}
	}
}
