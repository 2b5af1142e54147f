package types

import "time"

// SchemaVersion is the current on-disk manifest schema version. Bumping it
// forces schema_compatible? to fail and triggers a full rebuild.
const SchemaVersion = 1

// Manifest is the index's metadata file: per-file fingerprints, the
// module->file map, the module->dependents map, and the schema version.
type Manifest struct {
	SchemaVersion int                   `json:"schema_version"`
	HostVersion   string                `json:"host_version"`
	ProjectRoot   string                `json:"project_root"`
	Files         map[string]FileState  `json:"files"`          // path -> state
	ModuleFile    map[string]string     `json:"module_file"`    // module -> defining file
	Dependents    map[string][]string   `json:"dependents"`     // module -> modules that depend on it
	RecordCount   int                   `json:"record_count"`
	FileCount     int                   `json:"file_count"`
	Timestamp     time.Time             `json:"timestamp"`
}

// NewManifest returns an empty manifest stamped with the current schema
// version and host tool version.
func NewManifest(projectRoot, hostVersion string) *Manifest {
	return &Manifest{
		SchemaVersion: SchemaVersion,
		HostVersion:   hostVersion,
		ProjectRoot:   projectRoot,
		Files:         make(map[string]FileState),
		ModuleFile:    make(map[string]string),
		Dependents:    make(map[string][]string),
	}
}

// SchemaCompatible reports whether this manifest's schema version matches
// the version this build understands.
func (m *Manifest) SchemaCompatible() bool {
	return m != nil && m.SchemaVersion == SchemaVersion
}
