package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exci-dev/exci/internal/store"
	"github.com/exci-dev/exci/internal/types"
)

func newEngine(t *testing.T) (*Engine, *store.Store, string) {
	t.Helper()
	root := t.TempDir()
	s := store.New(root)
	return New(root, s), s, root
}

func encode(t *testing.T, kind types.Kind, data any, src types.Source, conf types.Confidence) types.Record {
	t.Helper()
	r, err := types.Encode(kind, data, src, conf)
	require.NoError(t, err)
	return r
}

func TestEngine_NoIndexReturnsNoIndexError(t *testing.T) {
	e, _, _ := newEngine(t)
	_, err := e.Definition("A.foo/0")
	require.Error(t, err)
}

func TestDefinition_UnknownOrMalformedMFAIsEmptyNotError(t *testing.T) {
	e, s, root := newEngine(t)
	require.NoError(t, s.WriteManifest(types.NewManifest(root, "test")))
	require.NoError(t, s.WriteRecords(nil))

	got, err := e.Definition("not-an-mfa")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = e.Definition("A.missing/0")
	require.NoError(t, err)
	assert.Empty(t, got)
}

// TestCallersAndCallees_OneHop reproduces a two-file call graph where
// A.foo/0 calls B.bar/0, matching the one-hop callers/callees contract.
func TestCallersAndCallees_OneHop(t *testing.T) {
	e, s, root := newEngine(t)
	require.NoError(t, s.WriteManifest(types.NewManifest(root, "test")))

	call := encode(t, types.KindCallRef, types.CallRef{
		Caller: "A.foo/0", Callee: "B.bar/0", File: "lib/a.ex", Line: 4,
	}, types.SourceCompiler, types.ConfidenceHigh)
	require.NoError(t, s.WriteRecords([]types.Record{call}))

	callers, err := e.Callers("B.bar/0", 1)
	require.NoError(t, err)
	assert.Equal(t, []MFADepth{{MFA: "A.foo/0", Depth: 1}}, callers)

	callees, err := e.Callees("A.foo/0", 1)
	require.NoError(t, err)
	assert.Equal(t, []MFADepth{{MFA: "B.bar/0", Depth: 1}}, callees)
}

func TestCallersAndCallees_DepthZeroIsEmpty(t *testing.T) {
	e, s, root := newEngine(t)
	require.NoError(t, s.WriteManifest(types.NewManifest(root, "test")))
	require.NoError(t, s.WriteRecords(nil))

	got, err := e.Callers("A.foo/0", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCallersAndCallees_CyclicGraphTerminates(t *testing.T) {
	e, s, root := newEngine(t)
	require.NoError(t, s.WriteManifest(types.NewManifest(root, "test")))

	calls := []types.Record{
		encode(t, types.KindCallRef, types.CallRef{Caller: "A.foo/0", Callee: "B.bar/0", File: "lib/a.ex", Line: 1}, types.SourceCompiler, types.ConfidenceHigh),
		encode(t, types.KindCallRef, types.CallRef{Caller: "B.bar/0", Callee: "A.foo/0", File: "lib/b.ex", Line: 1}, types.SourceCompiler, types.ConfidenceHigh),
	}
	require.NoError(t, s.WriteRecords(calls))

	got, err := e.Callees("A.foo/0", 5)
	require.NoError(t, err)
	assert.Equal(t, []MFADepth{{MFA: "B.bar/0", Depth: 1}}, got,
		"A.foo/0 itself must never reappear once visited, even though the graph cycles back to it")
}

func TestReferences_FiltersByCalleeAndSortsByFileLine(t *testing.T) {
	e, s, root := newEngine(t)
	require.NoError(t, s.WriteManifest(types.NewManifest(root, "test")))

	calls := []types.Record{
		encode(t, types.KindCallRef, types.CallRef{Caller: "A.foo/0", Callee: "B.bar/0", File: "lib/z.ex", Line: 9}, types.SourceCompiler, types.ConfidenceHigh),
		encode(t, types.KindCallRef, types.CallRef{Caller: "A.foo/1", Callee: "B.bar/0", File: "lib/a.ex", Line: 2}, types.SourceCompiler, types.ConfidenceHigh),
		encode(t, types.KindCallRef, types.CallRef{Caller: "A.foo/2", Callee: "C.baz/0", File: "lib/a.ex", Line: 1}, types.SourceCompiler, types.ConfidenceHigh),
	}
	require.NoError(t, s.WriteRecords(calls))

	got, err := e.References("B.bar/0")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "lib/a.ex", got[0].File)
	assert.Equal(t, "lib/z.ex", got[1].File)
}

// TestImpactAnalysis_AliasDependencyChain reproduces impact analysis on a
// file defining Accounts when UserController depends on it via alias.
func TestImpactAnalysis_AliasDependencyChain(t *testing.T) {
	e, s, root := newEngine(t)
	require.NoError(t, s.WriteManifest(types.NewManifest(root, "test")))

	records := []types.Record{
		encode(t, types.KindModuleDef, types.ModuleDef{Module: "Accounts", File: "lib/accounts.ex", StartLine: 1, EndLine: 10}, types.SourceSyntactic, types.ConfidenceHigh),
		encode(t, types.KindModuleDef, types.ModuleDef{Module: "UserController", File: "lib/user_controller.ex", StartLine: 1, EndLine: 10}, types.SourceSyntactic, types.ConfidenceHigh),
		encode(t, types.KindDepEdge, types.DepEdge{From: "UserController", To: "Accounts", Type: types.DepCompile}, types.SourceXref, types.ConfidenceHigh),
		encode(t, types.KindDirectiveRef, types.DirectiveRef{Kind: types.DirectiveAlias, Module: "UserControllerTest", Target: "UserController", File: "test/user_controller_test.exs", Line: 2}, types.SourceSyntactic, types.ConfidenceHigh),
	}
	require.NoError(t, s.WriteRecords(records))

	got, err := e.ImpactAnalysis([]string{"lib/accounts.ex"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Accounts"}, got.ChangedModules)
	assert.Contains(t, got.AffectedModules, "Accounts")
	assert.Contains(t, got.AffectedModules, "UserController")
	assert.Equal(t, []string{"test/user_controller_test.exs"}, got.TestFiles)
}

func TestRoutes_SortedByVerbThenPath(t *testing.T) {
	e, s, root := newEngine(t)
	require.NoError(t, s.WriteManifest(types.NewManifest(root, "test")))

	records := []types.Record{
		encode(t, types.KindRoute, types.Route{Verb: "GET", Path: "/users/:id"}, types.SourceSyntactic, types.ConfidenceHigh),
		encode(t, types.KindRoute, types.Route{Verb: "GET", Path: "/posts"}, types.SourceSyntactic, types.ConfidenceHigh),
		encode(t, types.KindRoute, types.Route{Verb: "DELETE", Path: "/posts/:id"}, types.SourceSyntactic, types.ConfidenceHigh),
	}
	require.NoError(t, s.WriteRecords(records))

	got, err := e.Routes()
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "DELETE", got[0].Verb)
	assert.Equal(t, "/posts", got[1].Path)
}

func TestSchema_ReturnsFirstMatchingModule(t *testing.T) {
	e, s, root := newEngine(t)
	require.NoError(t, s.WriteManifest(types.NewManifest(root, "test")))

	require.NoError(t, s.WriteRecords([]types.Record{
		encode(t, types.KindSchema, types.Schema{Module: "App.User", Source: "users", File: "lib/user.ex"}, types.SourceSyntactic, types.ConfidenceHigh),
	}))

	got, err := e.Schema("App.User")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "users", got[0].Source)

	none, err := e.Schema("App.Missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFunctionSpec_FiltersByMFA(t *testing.T) {
	e, s, root := newEngine(t)
	require.NoError(t, s.WriteManifest(types.NewManifest(root, "test")))

	require.NoError(t, s.WriteRecords([]types.Record{
		encode(t, types.KindTypeSpec, types.TypeSpec{Module: "A", Name: "foo", Arity: 1, ParamTypes: []string{"integer"}, ReturnType: "boolean"}, types.SourceSyntactic, types.ConfidenceHigh),
		encode(t, types.KindTypeSpec, types.TypeSpec{Module: "A", Name: "bar", Arity: 0}, types.SourceSyntactic, types.ConfidenceHigh),
	}))

	got, err := e.FunctionSpec("A.foo/1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "boolean", got[0].ReturnType)
}

func TestModuleTypes_FiltersByModule(t *testing.T) {
	e, s, root := newEngine(t)
	require.NoError(t, s.WriteManifest(types.NewManifest(root, "test")))

	require.NoError(t, s.WriteRecords([]types.Record{
		encode(t, types.KindTypeDef, types.TypeDef{Module: "A", Name: "t", Kind: types.TypeDefType}, types.SourceSyntactic, types.ConfidenceHigh),
		encode(t, types.KindTypeDef, types.TypeDef{Module: "B", Name: "u", Kind: types.TypeDefType}, types.SourceSyntactic, types.ConfidenceHigh),
	}))

	got, err := e.ModuleTypes("A")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t", got[0].Name)
}

func TestTypeErrors_ReturnsAllDiagnostics(t *testing.T) {
	e, s, root := newEngine(t)
	require.NoError(t, s.WriteManifest(types.NewManifest(root, "test")))

	require.NoError(t, s.WriteRecords([]types.Record{
		encode(t, types.KindDiagnostic, types.Diagnostic{Severity: types.SeverityWarning, Message: "unused variable", File: "lib/a.ex", Line: 3}, types.SourceCompiler, types.ConfidenceHigh),
	}))

	got, err := e.TypeErrors()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.SeverityWarning, got[0].Severity)
}
