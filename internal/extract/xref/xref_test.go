package xref

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exci-dev/exci/internal/types"
)

func writeManifest(t *testing.T, path string) {
	t.Helper()
	entry := encodeMap(
		[2][]byte{encodeAtom("module"), encodeAtom("App.Accounts")},
		[2][]byte{encodeAtom("compile_references"), encodeListOfAtoms("App.Repo")},
		[2][]byte{encodeAtom("runtime_references"), encodeListOfAtoms("App.Mailer")},
	)
	sourcesList := []byte{tagList, 0, 0, 0, 1}
	sourcesList = append(sourcesList, entry...)
	sourcesList = append(sourcesList, encodeNil()...)

	top := encodeMap([2][]byte{encodeAtom("sources"), sourcesList})
	payload := append([]byte{versionMagic}, top...)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, payload, 0o644))
}

func TestReadManifest_ExtractsDepEdges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "compile.elixir")
	writeManifest(t, path)

	res, ok := readManifest(path)
	require.True(t, ok)
	require.Len(t, res.Deps, 2)
	assert.Contains(t, res.Deps, types.DepEdge{From: "App.Accounts", To: "App.Repo", Type: types.DepCompile})
	assert.Contains(t, res.Deps, types.DepEdge{From: "App.Accounts", To: "App.Mailer", Type: types.DepRuntime})
}

func TestReadManifest_UnrecognizedShapeFallsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "compile.elixir")
	payload := append([]byte{versionMagic}, encodeAtom("not_a_map")...)
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	_, ok := readManifest(path)
	assert.False(t, ok)
}

func TestFindManifest_LocatesUnderBuildDir(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "_build", "dev", "lib", "app", ".mix", "compile.elixir")
	writeManifest(t, path)

	got := findManifest(root)
	assert.Equal(t, path, got)
}

func TestFindManifest_NoneFound(t *testing.T) {
	root := t.TempDir()
	assert.Empty(t, findManifest(root))
}

func TestDedupe_DropsDenylistedAndDuplicates(t *testing.T) {
	res := Result{Deps: []types.DepEdge{
		{From: "App.Accounts", To: "App.Repo", Type: types.DepCompile},
		{From: "App.Accounts", To: "App.Repo", Type: types.DepCompile},
		{From: "App.Accounts", To: "Enum", Type: types.DepCompile},
	}}
	got := dedupe(res)
	require.Len(t, got.Deps, 1)
	assert.Equal(t, "App.Repo", got.Deps[0].To)
}

func TestDepTypeOf(t *testing.T) {
	assert.Equal(t, types.DepRuntime, depTypeOf("runtime"))
	assert.Equal(t, types.DepExport, depTypeOf("export"))
	assert.Equal(t, types.DepCompile, depTypeOf("compile"))
	assert.Equal(t, types.DepCompile, depTypeOf(""))
}

func TestDotEdgeRegex_ParsesLabeledEdge(t *testing.T) {
	m := dotEdgeRe.FindSubmatch([]byte(`  "lib/app/accounts.ex" -> "lib/app/repo.ex" [label="compile"]`))
	require.NotNil(t, m)
	assert.Equal(t, "lib/app/accounts.ex", string(m[1]))
	assert.Equal(t, "lib/app/repo.ex", string(m[2]))
	assert.Equal(t, "compile", string(m[3]))
}
