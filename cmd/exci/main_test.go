package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleModule = `defmodule App.Accounts do
  def get_user(id) do
    App.Repo.get(id)
  end
end
`

func writeModule(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

// disableExternalPhasesConfig keeps these tests off a real mix/elixir
// toolchain by writing a project config that only runs the pure-AST phases.
func disableExternalPhasesConfig(t *testing.T, root string) {
	t.Helper()
	const doc = `[phases]
enable_compiler_trace = false
enable_xref = false
enable_diagnostics = false
`
	require.NoError(t, os.WriteFile(filepath.Join(root, ".exci.toml"), []byte(doc), 0o644))
}

// captureStdout runs fn with os.Stdout redirected to a pipe and returns
// everything it wrote, since printResult writes straight to os.Stdout.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)

	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	require.NoError(t, w.Close())
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestIndexCommand_WritesRecordsIndexedJSON(t *testing.T) {
	root := t.TempDir()
	disableExternalPhasesConfig(t, root)
	writeModule(t, root, "lib/app/accounts.ex", sampleModule)

	app := newApp()
	var runErr error
	out := captureStdout(t, func() {
		runErr = app.Run([]string{"exci", "--root", root, "index"})
	})
	require.NoError(t, runErr)

	var result struct {
		Success        bool `json:"success"`
		RecordsIndexed int  `json:"records_indexed"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Success)
	assert.Greater(t, result.RecordsIndexed, 0)
}

func TestQueryCommand_FunctionDefinition(t *testing.T) {
	root := t.TempDir()
	disableExternalPhasesConfig(t, root)
	writeModule(t, root, "lib/app/accounts.ex", sampleModule)

	app := newApp()
	require.NoError(t, app.Run([]string{"exci", "--root", root, "index"}))

	var runErr error
	out := captureStdout(t, func() {
		runErr = newApp().Run([]string{
			"exci", "--root", root, "query",
			"--mfa", "App.Accounts.get_user/1",
			"function_definition",
		})
	})
	require.NoError(t, runErr)

	var defs []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &defs))
	require.Len(t, defs, 1)
}

func TestQueryCommand_UnknownTypeIsAnError(t *testing.T) {
	root := t.TempDir()
	disableExternalPhasesConfig(t, root)
	writeModule(t, root, "lib/app/accounts.ex", sampleModule)

	app := newApp()
	err := app.Run([]string{"exci", "--root", root, "query", "not_a_real_query"})
	assert.Error(t, err)
}

func TestQueryCommand_NoTypeArgumentIsAnError(t *testing.T) {
	root := t.TempDir()

	app := newApp()
	err := app.Run([]string{"exci", "--root", root, "query"})
	assert.Error(t, err)
}

func TestQueryCommand_RoutesOnEmptyProjectIsEmptyArray(t *testing.T) {
	root := t.TempDir()
	disableExternalPhasesConfig(t, root)

	app := newApp()
	var runErr error
	out := captureStdout(t, func() {
		runErr = app.Run([]string{"exci", "--root", root, "query", "routes"})
	})
	require.NoError(t, runErr)

	var routes []interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &routes))
	assert.Empty(t, routes)
}
