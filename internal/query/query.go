// Package query implements the read-side graph queries: definition,
// references, BFS callers/callees, routes, schema, impact analysis,
// specs, module types and diagnostics, all streamed off the on-disk
// record store.
package query

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/exci-dev/exci/internal/errors"
	"github.com/exci-dev/exci/internal/store"
	"github.com/exci-dev/exci/internal/types"
)

// testRootPrefix names the directory impact analysis treats as test code
// when looking for files that exercise an affected module. Mix's own
// convention (and therefore every Phoenix/Ecto project generated by it)
// always calls this directory "test".
const testRootPrefix = "test/"

// MFADepth is one BFS result from Callers/Callees.
type MFADepth struct {
	MFA   string `json:"mfa"`
	Depth int    `json:"depth"`
}

// ImpactResult is impact_analysis's result shape.
type ImpactResult struct {
	ChangedModules  []string `json:"changed_modules"`
	AffectedModules []string `json:"affected_modules"`
	TestFiles       []string `json:"test_files"`
}

// Engine answers graph queries against one project's store.
type Engine struct {
	root  string
	store *store.Store
}

// New returns an Engine for the store rooted at root.
func New(root string, s *store.Store) *Engine {
	return &Engine{root: root, store: s}
}

func (e *Engine) checkIndex() error {
	if !e.store.IndexExists() {
		return errors.NewNoIndexError(e.root)
	}
	return nil
}

// Definition returns the function-def matching mfa, or an empty slice if
// none exists or mfa does not parse.
func (e *Engine) Definition(mfa string) ([]types.FunctionDef, error) {
	if err := e.checkIndex(); err != nil {
		return nil, err
	}
	target, err := types.ParseMFA(mfa)
	if err != nil {
		return nil, nil
	}
	records, err := e.store.ReadAllRecords()
	if err != nil {
		return nil, errors.NewQueryError(errors.ErrorTypeIO, "definition", err)
	}
	for _, r := range records {
		if r.Kind != types.KindFunctionDef {
			continue
		}
		f, err := types.DecodeFunctionDef(r)
		if err != nil {
			continue
		}
		if f.Module == target.Module && f.Name == target.Name && f.Arity == target.Arity {
			return []types.FunctionDef{f}, nil
		}
	}
	return nil, nil
}

// References returns every call-ref whose callee is mfa, sorted by
// (file, line).
func (e *Engine) References(mfa string) ([]types.CallRef, error) {
	if err := e.checkIndex(); err != nil {
		return nil, err
	}
	target, err := types.ParseMFA(mfa)
	if err != nil {
		return nil, nil
	}
	records, err := e.store.ReadAllRecords()
	if err != nil {
		return nil, errors.NewQueryError(errors.ErrorTypeIO, "references", err)
	}

	var out []types.CallRef
	for _, r := range records {
		if r.Kind != types.KindCallRef {
			continue
		}
		c, err := types.DecodeCallRef(r)
		if err != nil {
			continue
		}
		if c.Callee == target.String() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		return out[i].Line < out[j].Line
	})
	return out, nil
}

// Callers returns every function that (transitively, up to depth) calls
// mfa.
func (e *Engine) Callers(mfa string, depth int) ([]MFADepth, error) {
	return e.bfsCallGraph(mfa, depth, true)
}

// Callees returns every function that (transitively, up to depth) mfa
// calls.
func (e *Engine) Callees(mfa string, depth int) ([]MFADepth, error) {
	return e.bfsCallGraph(mfa, depth, false)
}

func (e *Engine) bfsCallGraph(mfa string, depth int, reverse bool) ([]MFADepth, error) {
	if err := e.checkIndex(); err != nil {
		return nil, err
	}
	if depth <= 0 {
		return nil, nil
	}
	if _, err := types.ParseMFA(mfa); err != nil {
		return nil, nil
	}

	records, err := e.store.ReadAllRecords()
	if err != nil {
		return nil, errors.NewQueryError(errors.ErrorTypeIO, "call-graph", err)
	}

	// callerOf[callee] = []callers ; calleeOf[caller] = []callees
	adjacency := map[string][]string{}
	seenEdge := map[[2]string]bool{}
	for _, r := range records {
		if r.Kind != types.KindCallRef {
			continue
		}
		c, err := types.DecodeCallRef(r)
		if err != nil || c.Callee == "" {
			continue
		}
		var from, to string
		if reverse {
			from, to = c.Callee, c.Caller
		} else {
			from, to = c.Caller, c.Callee
		}
		edge := [2]string{from, to}
		if seenEdge[edge] {
			continue
		}
		seenEdge[edge] = true
		adjacency[from] = append(adjacency[from], to)
	}

	visited := map[string]bool{mfa: true}
	var out []MFADepth
	type queued struct {
		mfa   string
		depth int
	}
	queue := []queued{{mfa, 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= depth {
			continue
		}
		for _, next := range adjacency[cur.mfa] {
			if visited[next] {
				continue
			}
			visited[next] = true
			out = append(out, MFADepth{MFA: next, Depth: cur.depth + 1})
			queue = append(queue, queued{next, cur.depth + 1})
		}
	}
	return out, nil
}

// Routes returns every route, sorted by (verb, path).
func (e *Engine) Routes() ([]types.Route, error) {
	if err := e.checkIndex(); err != nil {
		return nil, err
	}
	records, err := e.store.ReadAllRecords()
	if err != nil {
		return nil, errors.NewQueryError(errors.ErrorTypeIO, "routes", err)
	}
	var out []types.Route
	for _, r := range records {
		if r.Kind != types.KindRoute {
			continue
		}
		route, err := types.DecodeRoute(r)
		if err != nil {
			continue
		}
		out = append(out, route)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Verb != out[j].Verb {
			return out[i].Verb < out[j].Verb
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}

// Schema returns the schema declared by module, if any.
func (e *Engine) Schema(module string) ([]types.Schema, error) {
	if err := e.checkIndex(); err != nil {
		return nil, err
	}
	records, err := e.store.ReadAllRecords()
	if err != nil {
		return nil, errors.NewQueryError(errors.ErrorTypeIO, "schema", err)
	}
	for _, r := range records {
		if r.Kind != types.KindSchema {
			continue
		}
		s, err := types.DecodeSchema(r)
		if err != nil {
			continue
		}
		if s.Module == module {
			return []types.Schema{s}, nil
		}
	}
	return nil, nil
}

// FunctionSpec returns every @spec recorded for mfa.
func (e *Engine) FunctionSpec(mfa string) ([]types.TypeSpec, error) {
	if err := e.checkIndex(); err != nil {
		return nil, err
	}
	target, err := types.ParseMFA(mfa)
	if err != nil {
		return nil, nil
	}
	records, err := e.store.ReadAllRecords()
	if err != nil {
		return nil, errors.NewQueryError(errors.ErrorTypeIO, "function_spec", err)
	}
	var out []types.TypeSpec
	for _, r := range records {
		if r.Kind != types.KindTypeSpec {
			continue
		}
		s, err := types.DecodeTypeSpec(r)
		if err != nil {
			continue
		}
		if s.Module == target.Module && s.Name == target.Name && s.Arity == target.Arity {
			out = append(out, s)
		}
	}
	return out, nil
}

// ModuleTypes returns every type-family annotation declared by module.
func (e *Engine) ModuleTypes(module string) ([]types.TypeDef, error) {
	if err := e.checkIndex(); err != nil {
		return nil, err
	}
	records, err := e.store.ReadAllRecords()
	if err != nil {
		return nil, errors.NewQueryError(errors.ErrorTypeIO, "module_types", err)
	}
	var out []types.TypeDef
	for _, r := range records {
		if r.Kind != types.KindTypeDef {
			continue
		}
		td, err := types.DecodeTypeDef(r)
		if err != nil {
			continue
		}
		if td.Module == module {
			out = append(out, td)
		}
	}
	return out, nil
}

// TypeErrors returns every recorded diagnostic.
func (e *Engine) TypeErrors() ([]types.Diagnostic, error) {
	if err := e.checkIndex(); err != nil {
		return nil, err
	}
	records, err := e.store.ReadAllRecords()
	if err != nil {
		return nil, errors.NewQueryError(errors.ErrorTypeIO, "type_errors", err)
	}
	var out []types.Diagnostic
	for _, r := range records {
		if r.Kind != types.KindDiagnostic {
			continue
		}
		d, err := types.DecodeDiagnostic(r)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// ImpactAnalysis computes the modules changed by the given files, their
// transitive dependent closure, and any test file that references one of
// those modules through a use/import/alias directive.
func (e *Engine) ImpactAnalysis(files []string) (ImpactResult, error) {
	if err := e.checkIndex(); err != nil {
		return ImpactResult{}, err
	}
	normalized := make(map[string]bool, len(files))
	for _, f := range files {
		normalized[normalizeFile(f)] = true
	}

	records, err := e.store.ReadAllRecords()
	if err != nil {
		return ImpactResult{}, errors.NewQueryError(errors.ErrorTypeIO, "impact_analysis", err)
	}

	changed := map[string]bool{}
	reverseDeps := map[string][]string{} // to -> []from
	var directives []types.DirectiveRef

	for _, r := range records {
		switch r.Kind {
		case types.KindModuleDef:
			m, err := types.DecodeModuleDef(r)
			if err != nil {
				continue
			}
			if normalized[normalizeFile(m.File)] {
				changed[m.Module] = true
			}
		case types.KindDepEdge:
			d, err := types.DecodeDepEdge(r)
			if err != nil {
				continue
			}
			reverseDeps[d.To] = append(reverseDeps[d.To], d.From)
		case types.KindDirectiveRef:
			d, err := types.DecodeDirectiveRef(r)
			if err != nil {
				continue
			}
			if d.Kind == types.DirectiveUse || d.Kind == types.DirectiveImport || d.Kind == types.DirectiveAlias {
				directives = append(directives, d)
			}
		}
	}

	affected := map[string]bool{}
	for m := range changed {
		affected[m] = true
	}
	queue := sortedKeys(changed)
	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]
		froms := append([]string{}, reverseDeps[m]...)
		sort.Strings(froms)
		for _, from := range froms {
			if affected[from] {
				continue
			}
			affected[from] = true
			queue = append(queue, from)
		}
	}

	testFiles := map[string]bool{}
	for _, d := range directives {
		if affected[d.Target] && strings.HasPrefix(filepath.ToSlash(d.File), testRootPrefix) {
			testFiles[d.File] = true
		}
	}

	return ImpactResult{
		ChangedModules:  sortedKeys(changed),
		AffectedModules: sortedKeys(affected),
		TestFiles:       sortedKeys(testFiles),
	}, nil
}

func normalizeFile(f string) string {
	return filepath.ToSlash(filepath.Clean(f))
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
