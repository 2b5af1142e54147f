// Package change implements the incremental-refresh change detector:
// given the current file enumeration and the prior manifest state, it
// determines which files were added, modified or deleted, and which
// additional files are affected through the module dependency graph.
package change

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/exci-dev/exci/internal/types"
)

// Result is the change detector's output per spec.md §4.9.
type Result struct {
	Added    []string
	Modified []string
	Deleted  []string
	Affected []string

	FilesToReindex []string // added ∪ modified ∪ affected
	FilesToRemove  []string // modified ∪ deleted ∪ affected
}

// Detect compares the current file enumeration against the prior
// manifest's per-file state, confirming mtime/size drift with a content
// hash, then BFS's the module dependents map to find every file whose
// declared module transitively depends on a changed module.
func Detect(root string, current []string, stored map[string]types.FileState, dependents map[string][]string, moduleFile map[string]string) Result {
	currentSet := make(map[string]bool, len(current))
	for _, f := range current {
		currentSet[f] = true
	}

	var added, deleted, modified []string
	for _, f := range current {
		if _, ok := stored[f]; !ok {
			added = append(added, f)
		}
	}

	storedFiles := make([]string, 0, len(stored))
	for f := range stored {
		storedFiles = append(storedFiles, f)
	}
	sort.Strings(storedFiles)

	for _, f := range storedFiles {
		if !currentSet[f] {
			deleted = append(deleted, f)
			continue
		}
		if fileChanged(root, f, stored[f]) {
			modified = append(modified, f)
		}
	}

	changed := make([]string, 0, len(modified)+len(deleted))
	changed = append(changed, modified...)
	changed = append(changed, deleted...)

	changedModules := map[string]bool{}
	for _, f := range changed {
		for _, m := range stored[f].Modules {
			changedModules[m] = true
		}
	}

	dependentModules := bfsDependents(changedModules, dependents)

	exclude := make(map[string]bool, len(changed)+len(added))
	for _, f := range changed {
		exclude[f] = true
	}
	for _, f := range added {
		exclude[f] = true
	}

	affectedSet := map[string]bool{}
	for m := range dependentModules {
		if f, ok := moduleFile[m]; ok && !exclude[f] {
			affectedSet[f] = true
		}
	}
	affected := sortedKeys(affectedSet)

	return Result{
		Added:          added,
		Modified:       modified,
		Deleted:        deleted,
		Affected:       affected,
		FilesToReindex: sortedUnion(added, modified, affected),
		FilesToRemove:  sortedUnion(modified, deleted, affected),
	}
}

// fileChanged reports whether f's on-disk state has genuinely changed
// since it was last recorded. A stat failure (the file vanished between
// discovery and detection) or a read failure is treated as a change, so
// the caller's modified/deleted handling still converges.
func fileChanged(root, f string, prior types.FileState) bool {
	abs := filepath.Join(root, f)
	info, err := os.Stat(abs)
	if err != nil {
		return true
	}
	if info.ModTime().Unix() == prior.ModTimeUnix && info.Size() == prior.Size {
		return false
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return true
	}
	return Fingerprint(data) != prior.Fingerprint
}

// Fingerprint folds a content hash with the content length, matching
// types.FileState.Fingerprint's documented shape.
func Fingerprint(content []byte) uint64 {
	return xxhash.Sum64(content) ^ uint64(len(content))
}

// bfsDependents returns every module transitively reachable from seeds
// through the dependents map, not including the seeds themselves.
func bfsDependents(seeds map[string]bool, dependents map[string][]string) map[string]bool {
	visited := map[string]bool{}
	for m := range seeds {
		visited[m] = true
	}
	queue := make([]string, 0, len(seeds))
	for m := range seeds {
		queue = append(queue, m)
	}
	sort.Strings(queue)

	result := map[string]bool{}
	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]
		next := append([]string{}, dependents[m]...)
		sort.Strings(next)
		for _, dep := range next {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			result[dep] = true
			queue = append(queue, dep)
		}
	}
	return result
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedUnion(lists ...[]string) []string {
	set := map[string]bool{}
	for _, l := range lists {
		for _, v := range l {
			set[v] = true
		}
	}
	return sortedKeys(set)
}
