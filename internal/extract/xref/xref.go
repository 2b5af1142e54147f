// Package xref implements the cross-reference extraction phase: reading
// the target project's own compilation manifest (or, failing that,
// shelling out to the compiler's xref sub-tool) to recover inter-module
// dependency edges the syntactic pass cannot see.
package xref

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/exci-dev/exci/internal/extract/common"
	"github.com/exci-dev/exci/internal/types"
)

// Result holds this phase's deduplicated dependency-edge contribution.
type Result struct {
	Deps []types.DepEdge
}

// Extractor reads cross-reference data for a project root.
type Extractor struct {
	// MixBin is the executable used for the fallback path. Defaults to
	// "mix" on the PATH.
	MixBin string
	Timeout time.Duration
}

// Run tries the compile manifest first, falling back to `mix xref graph`
// in JSON then DOT format. Any path that fails or doesn't parse into a
// recognizable shape is treated as empty, never fatal.
func (e *Extractor) Run(ctx context.Context, projectRoot string) (Result, error) {
	if manifestPath := findManifest(projectRoot); manifestPath != "" {
		if res, ok := readManifest(manifestPath); ok {
			return dedupe(res), nil
		}
	}
	if res, ok := e.runXrefJSON(ctx, projectRoot); ok {
		return dedupe(res), nil
	}
	if res, ok := e.runXrefDot(ctx, projectRoot); ok {
		return dedupe(res), nil
	}
	return Result{}, nil
}

// findManifest locates _build/<env>/lib/<app>/.mix/compile.elixir under
// projectRoot, returning the lexicographically first match (ordinary
// single-environment projects only ever have one).
func findManifest(projectRoot string) string {
	matches, err := filepath.Glob(filepath.Join(projectRoot, "_build", "*", "lib", "*", ".mix", "compile.elixir"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[0]
}

// readManifest decodes the ETF manifest and walks its :sources entries.
// Mix's manifest layout has changed across Elixir releases (record-based
// before 1.15, map-based after); this understands the current map-based
// shape only, matching the Open Question note that implementers must pick
// one revision's shape and apply it uniformly. Any unrecognized shape
// returns ok=false so the caller falls back to `mix xref`.
func readManifest(path string) (Result, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, false
	}
	term, err := decodeETF(data)
	if err != nil {
		return Result{}, false
	}
	sourcesField, ok := term.field("sources")
	if !ok || sourcesField.kind != etfList {
		return Result{}, false
	}

	var out Result
	for _, entry := range sourcesField.list {
		if entry.kind != etfMap {
			continue
		}
		modules := moduleNamesOf(entry)
		if len(modules) == 0 {
			continue
		}
		addEdges(&out, modules, entry, "compile_references", types.DepCompile)
		addEdges(&out, modules, entry, "runtime_references", types.DepRuntime)
		addEdges(&out, modules, entry, "export_references", types.DepExport)
	}
	return out, true
}

func moduleNamesOf(entry etfTerm) []string {
	modField, ok := entry.field("module")
	if !ok {
		return nil
	}
	switch modField.kind {
	case etfAtom:
		return []string{modField.s}
	case etfList:
		return modField.asAtomList()
	}
	return nil
}

func addEdges(out *Result, fromModules []string, entry etfTerm, key string, depType types.DepEdgeType) {
	refsField, ok := entry.field(key)
	if !ok {
		return
	}
	for _, to := range refsField.asAtomList() {
		for _, from := range fromModules {
			out.Deps = append(out.Deps, types.DepEdge{From: from, To: to, Type: depType})
		}
	}
}

// xrefJSONEdge matches `mix xref graph --format json`'s per-edge shape.
type xrefJSONEdge struct {
	Source string `json:"source"`
	Sink   string `json:"sink"`
	Type   string `json:"type"`
}

func (e *Extractor) runXrefJSON(ctx context.Context, projectRoot string) (Result, bool) {
	out, ok := e.runMix(ctx, projectRoot, "xref", "graph", "--format", "json")
	if !ok {
		return Result{}, false
	}
	var edges []xrefJSONEdge
	if err := json.Unmarshal(out, &edges); err != nil {
		return Result{}, false
	}
	var res Result
	for _, e := range edges {
		res.Deps = append(res.Deps, types.DepEdge{From: e.Source, To: e.Sink, Type: depTypeOf(e.Type)})
	}
	return res, true
}

var dotEdgeRe = regexp.MustCompile(`"([^"]+)"\s*->\s*"([^"]+)"(?:\s*\[label="([a-z]+)"\])?`)

func (e *Extractor) runXrefDot(ctx context.Context, projectRoot string) (Result, bool) {
	out, ok := e.runMix(ctx, projectRoot, "xref", "graph", "--format", "dot")
	if !ok {
		return Result{}, false
	}
	var res Result
	for _, line := range bytes.Split(out, []byte("\n")) {
		m := dotEdgeRe.FindSubmatch(line)
		if m == nil {
			continue
		}
		depType := depTypeOf(string(m[3]))
		res.Deps = append(res.Deps, types.DepEdge{From: string(m[1]), To: string(m[2]), Type: depType})
	}
	return res, true
}

func depTypeOf(s string) types.DepEdgeType {
	switch s {
	case "runtime":
		return types.DepRuntime
	case "export":
		return types.DepExport
	default:
		return types.DepCompile
	}
}

func (e *Extractor) runMix(ctx context.Context, projectRoot string, args ...string) ([]byte, bool) {
	bin := e.MixBin
	if bin == "" {
		bin = "mix"
	}
	runCtx := ctx
	var cancel func()
	if e.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(runCtx, bin, args...)
	cmd.Dir = projectRoot
	out, err := cmd.Output()
	if err != nil {
		return nil, false
	}
	return out, true
}

func dedupe(res Result) Result {
	seen := map[[3]string]bool{}
	var out Result
	for _, d := range res.Deps {
		if common.StdlibDenylist[d.To] || d.From == "" || d.To == "" {
			continue
		}
		key := d.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out.Deps = append(out.Deps, d)
	}
	return out
}
