// Package common holds heuristics shared by more than one extraction
// phase, so they stay consistent rather than drifting apart per-phase.
package common

// StdlibDenylist names modules whose cross-references are dropped by the
// compiler-trace and cross-reference phases. The syntactic phase already
// records explicit qualified calls into these modules (they are written
// out as Module.fn() in source, never hidden behind indirection), so
// dropping the higher-confidence phases' copies loses no information
// while cutting a large amount of noise on any real project.
var StdlibDenylist = map[string]bool{
	"Kernel": true, "Kernel.SpecialForms": true, "Module": true,
	"Code": true, "Macro": true, "Access": true, "Enum": true,
	"String": true, "Map": true, "List": true, "Keyword": true,
	"Atom": true, "Integer": true, "Float": true, "Tuple": true,
	"Process": true, "Agent": true, "Task": true, "GenServer": true,
	"Supervisor": true, "Application": true, "Logger": true, "IO": true,
	"File": true, "Path": true, "System": true, "Regex": true,
	"Range": true, "Stream": true, "Protocol": true, "Inspect": true,
	"Exception": true, "Behaviour": true,
}
