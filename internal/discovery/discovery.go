// Package discovery enumerates source files under a project root with
// stable, deterministic ordering.
package discovery

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"
)

// sourceExtensions are the file extensions the extraction pipeline reads.
// .exs (scripts, tests, mix.exs, router/schema helper files are almost
// always .ex, but some projects keep Phoenix routers in .exs) is included
// alongside the normal compiled-module extension.
var sourceExtensions = map[string]bool{
	".ex":  true,
	".exs": true,
}

// Options controls which files Discover returns.
type Options struct {
	Include          []string // doublestar patterns; empty means "everything"
	Exclude          []string // doublestar patterns, checked after Include
	RespectGitignore bool
}

// Discover walks root and returns every matching source file's path,
// relative to root, sorted lexicographically for deterministic output.
func Discover(root string, opts Options) ([]string, error) {
	var gi *ignore.GitIgnore
	if opts.RespectGitignore {
		gi = loadGitignore(root)
	}

	var results []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if shouldSkipDir(d.Name(), rel, opts, gi) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		if !sourceExtensions[filepath.Ext(d.Name())] {
			return nil
		}
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}
		if !matchesInclude(rel, opts.Include) {
			return nil
		}
		if matchesAny(rel, opts.Exclude) {
			return nil
		}

		results = append(results, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(results)
	return results, nil
}

func shouldSkipDir(name, rel string, opts Options, gi *ignore.GitIgnore) bool {
	if name == ".git" {
		return true
	}
	if gi != nil && gi.MatchesPath(rel+"/") {
		return true
	}
	return matchesAny(rel+"/", opts.Exclude)
}

func matchesInclude(rel string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	return matchesAny(rel, patterns)
}

func matchesAny(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func loadGitignore(root string) *ignore.GitIgnore {
	path := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	gi, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		return nil
	}
	return gi
}

// IsSourceFile reports whether path has a recognized source extension.
func IsSourceFile(path string) bool {
	return sourceExtensions[strings.ToLower(filepath.Ext(path))]
}
