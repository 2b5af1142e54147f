package change

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exci-dev/exci/internal/types"
)

func writeFile(t *testing.T, root, rel, content string) types.FileState {
	t.Helper()
	abs := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	info, err := os.Stat(abs)
	require.NoError(t, err)
	return types.FileState{
		Path: rel, ModTimeUnix: info.ModTime().Unix(), Size: info.Size(),
		Fingerprint: Fingerprint([]byte(content)),
	}
}

func TestDetect_AddedAndDeleted(t *testing.T) {
	root := t.TempDir()
	kept := writeFile(t, root, "lib/app/a.ex", "a")
	stored := map[string]types.FileState{
		"lib/app/a.ex": kept,
		"lib/app/gone.ex": {Path: "lib/app/gone.ex"},
	}
	writeFile(t, root, "lib/app/new.ex", "new")

	current := []string{"lib/app/a.ex", "lib/app/new.ex"}
	res := Detect(root, current, stored, nil, nil)
	assert.Equal(t, []string{"lib/app/new.ex"}, res.Added)
	assert.Equal(t, []string{"lib/app/gone.ex"}, res.Deleted)
	assert.Empty(t, res.Modified)
}

func TestDetect_ModifiedOnlyWhenHashActuallyDiffers(t *testing.T) {
	root := t.TempDir()
	stored := map[string]types.FileState{
		"lib/app/a.ex": writeFile(t, root, "lib/app/a.ex", "old"),
	}
	// simulate a touch-without-edit: the content is unchanged, but the
	// stored mtime is backdated so the mtime/size fast path sees drift.
	stored["lib/app/a.ex"] = types.FileState{
		Path: "lib/app/a.ex", ModTimeUnix: 0, Size: 3,
		Fingerprint: Fingerprint([]byte("old")),
	}

	res := Detect(root, []string{"lib/app/a.ex"}, stored, nil, nil)
	assert.Empty(t, res.Modified, "same content hash must not count as modified despite mtime drift")
}

func TestDetect_ContentChangeIsModified(t *testing.T) {
	root := t.TempDir()
	stale := writeFile(t, root, "lib/app/a.ex", "old")
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib/app/a.ex"), []byte("new-content"), 0o644))

	res := Detect(root, []string{"lib/app/a.ex"}, map[string]types.FileState{"lib/app/a.ex": stale}, nil, nil)
	assert.Equal(t, []string{"lib/app/a.ex"}, res.Modified)
}

func TestDetect_AffectedThroughDependentsBFS(t *testing.T) {
	root := t.TempDir()
	accounts := writeFile(t, root, "lib/app/accounts.ex", "x")
	accounts.Modules = []string{"App.Accounts"}
	stored := map[string]types.FileState{
		"lib/app/repo.ex":     {Path: "lib/app/repo.ex", Modules: []string{"App.Repo"}},
		"lib/app/accounts.ex": accounts,
	}

	dependents := map[string][]string{
		"App.Repo": {"App.Accounts"},
	}
	moduleFile := map[string]string{
		"App.Accounts": "lib/app/accounts.ex",
		"App.Repo":     "lib/app/repo.ex",
	}

	current := []string{"lib/app/accounts.ex"} // repo.ex deleted
	res := Detect(root, current, stored, dependents, moduleFile)
	assert.Equal(t, []string{"lib/app/repo.ex"}, res.Deleted)
	assert.Equal(t, []string{"lib/app/accounts.ex"}, res.Affected,
		"accounts.ex itself is unchanged but depends on the deleted module, so it must be reindexed")
}

func TestDetect_AffectedViaModifiedDependency(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "lib/app/mailer.ex", "x")
	accounts := writeFile(t, root, "lib/app/accounts.ex", "y")
	accounts.Modules = []string{"App.Accounts"}

	stored := map[string]types.FileState{
		"lib/app/mailer.ex": {
			Path: "lib/app/mailer.ex", Modules: []string{"App.Mailer"},
		},
		"lib/app/accounts.ex": accounts,
	}
	dependents := map[string][]string{
		"App.Mailer": {"App.Accounts"},
	}
	moduleFile := map[string]string{
		"App.Accounts": "lib/app/accounts.ex",
		"App.Mailer":   "lib/app/mailer.ex",
	}

	current := []string{"lib/app/mailer.ex", "lib/app/accounts.ex"}
	res := Detect(root, current, stored, dependents, moduleFile)
	require.Contains(t, res.Modified, "lib/app/mailer.ex")
	assert.Contains(t, res.Affected, "lib/app/accounts.ex")
	assert.Contains(t, res.FilesToReindex, "lib/app/accounts.ex")
	assert.Contains(t, res.FilesToRemove, "lib/app/accounts.ex")
}

func TestDetect_AffectedExcludesFilesAlreadyAdded(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "lib/app/mailer.ex", "x")
	writeFile(t, root, "lib/app/accounts.ex", "y") // new file, not in stored

	stored := map[string]types.FileState{
		"lib/app/mailer.ex": {
			Path: "lib/app/mailer.ex", Modules: []string{"App.Mailer"},
		},
	}
	dependents := map[string][]string{
		"App.Mailer": {"App.Accounts"},
	}
	moduleFile := map[string]string{
		"App.Accounts": "lib/app/accounts.ex",
		"App.Mailer":   "lib/app/mailer.ex",
	}

	current := []string{"lib/app/mailer.ex", "lib/app/accounts.ex"}
	res := Detect(root, current, stored, dependents, moduleFile)
	assert.Contains(t, res.Added, "lib/app/accounts.ex")
	assert.NotContains(t, res.Affected, "lib/app/accounts.ex",
		"a file already counted as added must not also appear in affected")
}

func TestFingerprint_DifferentContentDifferentHash(t *testing.T) {
	assert.NotEqual(t, Fingerprint([]byte("a")), Fingerprint([]byte("b")))
}
