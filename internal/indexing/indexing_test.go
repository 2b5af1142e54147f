package indexing

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exci-dev/exci/internal/config"
)

// disableExternalPhases is how every test here avoids shelling out to a
// real `mix`/`elixir` toolchain: only the pure-AST phases run.
func disableExternalPhases(cfg *config.Config) {
	cfg.Phases.EnableCompilerTrace = false
	cfg.Phases.EnableXref = false
	cfg.Phases.EnableDiagnostics = false
}

func writeModule(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

const sampleModule = `defmodule App.Accounts do
  def get_user(id) do
    App.Repo.get(id)
  end
end
`

func TestFullIndex_PopulatesManifestAndStore(t *testing.T) {
	root := t.TempDir()
	writeModule(t, root, "lib/app/accounts.ex", sampleModule)

	cfg := config.Default(root)
	disableExternalPhases(cfg)
	ix := New(root, cfg)

	manifest, err := ix.FullIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, manifest.FileCount)
	assert.Greater(t, manifest.RecordCount, 0)
	assert.Equal(t, "lib/app/accounts.ex", manifest.ModuleFile["App.Accounts"])

	records, err := ix.Store.ReadAllRecords()
	require.NoError(t, err)
	assert.Len(t, records, manifest.RecordCount)
}

func TestEnsureCurrent_SecondRunWithoutChangesIsCurrent(t *testing.T) {
	root := t.TempDir()
	writeModule(t, root, "lib/app/accounts.ex", sampleModule)

	cfg := config.Default(root)
	disableExternalPhases(cfg)
	ix := New(root, cfg)

	_, status, err := ix.EnsureCurrent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusIndexed, status)

	manifestBefore, err := ix.Store.ReadManifest()
	require.NoError(t, err)

	_, status, err = ix.EnsureCurrent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCurrent, status)

	manifestAfter, err := ix.Store.ReadManifest()
	require.NoError(t, err)
	assert.Equal(t, manifestBefore.RecordCount, manifestAfter.RecordCount,
		"re-running without source changes must not change the record count")
}

func TestRefresh_ModifiedFileIsReExtracted(t *testing.T) {
	root := t.TempDir()
	writeModule(t, root, "lib/app/accounts.ex", sampleModule)

	cfg := config.Default(root)
	disableExternalPhases(cfg)
	ix := New(root, cfg)

	_, status, err := ix.EnsureCurrent(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusIndexed, status)

	time.Sleep(5 * time.Millisecond)
	updated := `defmodule App.Accounts do
  def get_user(id) do
    App.Repo.get(id)
  end

  def delete_user(id) do
    App.Repo.delete(id)
  end
end
`
	writeModule(t, root, "lib/app/accounts.ex", updated)

	manifest, status, err := ix.EnsureCurrent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusRefreshed, status)

	records, err := ix.Store.ReadAllRecords()
	require.NoError(t, err)
	assert.Len(t, records, manifest.RecordCount)
}

func TestRefresh_DeletedFileRemovesItsRecords(t *testing.T) {
	root := t.TempDir()
	writeModule(t, root, "lib/app/accounts.ex", sampleModule)
	writeModule(t, root, "lib/app/mailer.ex", "defmodule App.Mailer do\nend\n")

	cfg := config.Default(root)
	disableExternalPhases(cfg)
	ix := New(root, cfg)

	_, _, err := ix.EnsureCurrent(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "lib/app/mailer.ex")))

	manifest, status, err := ix.EnsureCurrent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusRefreshed, status)
	_, stillTracked := manifest.Files["lib/app/mailer.ex"]
	assert.False(t, stillTracked)
	_, stillHasModule := manifest.ModuleFile["App.Mailer"]
	assert.False(t, stillHasModule)
}
