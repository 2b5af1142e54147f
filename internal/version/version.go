// Package version holds the tool's own version metadata, stamped into
// every manifest so a schema or extractor change can be told apart from
// a stale index written by an older build.
package version

import (
	"crypto/sha256"
	"fmt"
	"runtime/debug"
	"sync"
)

const (
	// Version is the current semantic version of exci.
	Version = "0.1.0"
)

var (
	// BuildDate is set during build time (use -ldflags).
	BuildDate = "development"

	// GitCommit is set during build time (use -ldflags).
	GitCommit = "unknown"
)

// Info returns the version string stamped into manifests: the semantic
// version plus the running binary's build fingerprint, so a rebuild from
// the same source version still invalidates a manifest written by a
// different build.
func Info() string {
	return Version + "+" + BuildID()
}

// FullInfo returns detailed version information for the CLI's --version.
func FullInfo() string {
	return "exci " + Version + " (commit: " + GitCommit + ", built: " + BuildDate + ")"
}

var (
	buildID     string
	buildIDOnce sync.Once
)

// BuildID fingerprints the running binary so callers can detect an index
// written by a stale build even when Version didn't change.
func BuildID() string {
	buildIDOnce.Do(func() {
		buildID = computeBuildID()
	})
	return buildID
}

func computeBuildID() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Version + "-" + GitCommit
	}

	h := sha256.New()
	h.Write([]byte(info.GoVersion))
	h.Write([]byte(info.Main.Path))
	h.Write([]byte(info.Main.Version))

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision", "vcs.modified", "vcs.time":
			h.Write([]byte(s.Key))
			h.Write([]byte(s.Value))
		}
	}

	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}
