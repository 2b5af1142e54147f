package tracer

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exci-dev/exci/internal/types"
)

func writeOutFile(t *testing.T, lines []string) string {
	t.Helper()
	f, err := os.CreateTemp("", "exci-tracer-test-*.txt")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(f.Name()) })
	for _, l := range lines {
		_, err := f.WriteString(l + "\n")
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())
	return f.Name()
}

func TestReadEvents_ParsesCallAndDep(t *testing.T) {
	path := writeOutFile(t, []string{
		"call\tApp.Accounts\tget_user\t1\tApp.Repo\tget\t2\tlib/app/accounts.ex\t5",
		"dep\tApp.UserController\tApp.Accounts\tlib/app_web/user_controller.ex\t3\truntime",
	})

	events, err := readEvents(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "call", events[0].kind)
	assert.Equal(t, "App.Accounts", events[0].callerModule)
	assert.Equal(t, "dep", events[1].kind)
	assert.Equal(t, "runtime", events[1].depType)
}

func TestFilterAndDedupe_DropsMacroGeneratedLines(t *testing.T) {
	events := []rawEvent{
		{kind: "call", callerModule: "App.Accounts", callerFunc: "get_user", callerArity: "1",
			calleeModule: "App.Repo", calleeName: "get", calleeArity: "2", file: "a.ex", line: 1},
		{kind: "call", callerModule: "App.Accounts", callerFunc: "get_user", callerArity: "1",
			calleeModule: "App.Repo", calleeName: "get", calleeArity: "2", file: "a.ex", line: 5},
	}
	got := filterAndDedupe(events)
	require.Len(t, got.Calls, 1)
	assert.Equal(t, 5, got.Calls[0].Line)
}

func TestFilterAndDedupe_DropsDenylistedCallee(t *testing.T) {
	events := []rawEvent{
		{kind: "call", callerModule: "App.Accounts", callerFunc: "get_user", callerArity: "1",
			calleeModule: "Enum", calleeName: "map", calleeArity: "2", file: "a.ex", line: 5},
	}
	got := filterAndDedupe(events)
	assert.Empty(t, got.Calls)
}

func TestFilterAndDedupe_DedupesByCallSiteKey(t *testing.T) {
	events := []rawEvent{
		{kind: "call", callerModule: "App.Accounts", callerFunc: "get_user", callerArity: "1",
			calleeModule: "App.Repo", calleeName: "get", calleeArity: "2", file: "a.ex", line: 5},
		{kind: "call", callerModule: "App.Accounts", callerFunc: "get_user", callerArity: "1",
			calleeModule: "App.Repo", calleeName: "get", calleeArity: "2", file: "a.ex", line: 5},
	}
	got := filterAndDedupe(events)
	require.Len(t, got.Calls, 1)
}

func TestFilterAndDedupe_DepsDedupeByKey(t *testing.T) {
	events := []rawEvent{
		{kind: "dep", callerModule: "App.UserController", calleeModule: "App.Accounts", file: "a.ex", line: 3, depType: "runtime"},
		{kind: "dep", callerModule: "App.UserController", calleeModule: "App.Accounts", file: "a.ex", line: 3, depType: "runtime"},
	}
	got := filterAndDedupe(events)
	require.Len(t, got.Deps, 1)
	assert.Equal(t, types.DepRuntime, got.Deps[0].Type)
}

func TestAdapterScript_EmbedsOutPath(t *testing.T) {
	script := adapterScript("/tmp/exci-tracer-out-123.txt")
	assert.Contains(t, script, `"/tmp/exci-tracer-out-123.txt"`)
	assert.Contains(t, script, "ExciTracerSink")
	assert.Contains(t, script, "ParallelCompiler.compile_to_path")
}

func TestElixirStringLiteral_EscapesQuotes(t *testing.T) {
	got := elixirStringLiteral(`/tmp/a"b.txt`)
	assert.Equal(t, `"/tmp/a\"b.txt"`, got)
}
