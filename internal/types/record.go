// Package types defines the record model shared by every extraction phase,
// the persistence store and the query engine.
package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Source identifies which extraction phase produced a record.
type Source string

const (
	SourceSyntactic Source = "syntactic"
	SourceCompiler  Source = "compiler"
	SourceXref      Source = "xref"
)

// priority returns the merge precedence for a record source; higher wins.
// Fixed order per the merge layer: syntactic < xref < compiler.
func (s Source) priority() int {
	switch s {
	case SourceSyntactic:
		return 0
	case SourceXref:
		return 1
	case SourceCompiler:
		return 2
	default:
		return -1
	}
}

// HigherPriorityThan reports whether s should overwrite other during merge.
func (s Source) HigherPriorityThan(other Source) bool {
	return s.priority() >= other.priority()
}

// Confidence is the reliability tag carried by every record.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Kind names every record variant persisted to index.jsonl.
type Kind string

const (
	KindModuleDef    Kind = "module_def"
	KindFunctionDef  Kind = "function_def"
	KindCallRef      Kind = "call_ref"
	KindDirectiveRef Kind = "directive_ref"
	KindStructDef    Kind = "struct_def"
	KindRoute        Kind = "route"
	KindSchema       Kind = "schema"
	KindTypeSpec     Kind = "type_spec"
	KindTypeDef      Kind = "type_def"
	KindDiagnostic   Kind = "diagnostic"
	KindDepEdge      Kind = "dep_edge"
)

// AllKinds enumerates every record kind.
var AllKinds = []Kind{
	KindModuleDef, KindFunctionDef, KindCallRef, KindDirectiveRef,
	KindStructDef, KindRoute, KindSchema, KindTypeSpec, KindTypeDef,
	KindDiagnostic, KindDepEdge,
}

// Record is the on-disk envelope for index.jsonl: one line, one record.
type Record struct {
	Kind       Kind            `json:"kind"`
	Data       json.RawMessage `json:"data"`
	Source     Source          `json:"source"`
	Confidence Confidence      `json:"confidence"`
}

// Visibility is a FunctionDef's exported/private flag.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// ModuleDef is a fully-qualified module declaration.
type ModuleDef struct {
	Module     string   `json:"module"`
	File       string   `json:"file"`
	StartLine  int      `json:"start_line"`
	EndLine    int      `json:"end_line"`
	Behaviours []string `json:"behaviours,omitempty"`
}

// Key returns the ModuleDef's unique key: the module name.
func (m ModuleDef) Key() string { return m.Module }

// FunctionDef is a function/macro declaration.
type FunctionDef struct {
	Module     string     `json:"module"`
	Name       string     `json:"name"`
	Arity      int        `json:"arity"`
	Visibility Visibility `json:"visibility"`
	Macro      bool       `json:"macro"`
	StartLine  int        `json:"start_line"`
	EndLine    int        `json:"end_line"`
	File       string     `json:"file"`
}

// MFA renders the FunctionDef's fully-qualified call reference.
func (f FunctionDef) MFA() string {
	return MFAString(f.Module, f.Name, f.Arity)
}

// Key returns the FunctionDef's unique key: (module, name, arity).
func (f FunctionDef) Key() [3]string {
	return [3]string{f.Module, f.Name, strconv.Itoa(f.Arity)}
}

// CallRef is a call-site; Callee is empty for an unresolved local call
// emitted by the syntactic pass and later overwritten by a higher-priority
// phase.
type CallRef struct {
	Caller string `json:"caller"`
	Callee string `json:"callee,omitempty"`
	File   string `json:"file"`
	Line   int    `json:"line"`
}

// CallSiteKey is the dedup key: (file, line, callee). File is the
// project-relative path every phase records, not an absolute path.
type CallSiteKey struct {
	File   string
	Line   int
	Callee string
}

// Key returns this CallRef's call-site key.
func (c CallRef) Key() CallSiteKey {
	return CallSiteKey{File: c.File, Line: c.Line, Callee: c.Callee}
}

// DirectiveKind names an Elixir compile-time relationship statement.
type DirectiveKind string

const (
	DirectiveAlias   DirectiveKind = "alias"
	DirectiveImport  DirectiveKind = "import"
	DirectiveRequire DirectiveKind = "require"
	DirectiveUse     DirectiveKind = "use"
)

// DirectiveRef is an alias/import/require/use statement.
type DirectiveRef struct {
	Kind       DirectiveKind `json:"kind"`
	Module     string        `json:"module"` // owning module
	Target     string        `json:"target"` // target module
	File       string        `json:"file"`
	Line       int           `json:"line"`
	RenamedAs  string        `json:"renamed_as,omitempty"`
	Only       []string      `json:"only,omitempty"`
	Except     []string      `json:"except,omitempty"`
}

// StructField is a defstruct field with an optional default literal.
type StructField struct {
	Name    string `json:"name"`
	Default string `json:"default,omitempty"`
}

// StructDef is a defstruct declaration.
type StructDef struct {
	Module string        `json:"module"`
	File   string        `json:"file"`
	Line   int           `json:"line"`
	Fields []StructField `json:"fields"`
}

// Route is a fully-expanded Phoenix router entry.
type Route struct {
	Verb       string `json:"verb"`
	Path       string `json:"path"`
	Controller string `json:"controller"`
	Action     string `json:"action"`
	Router     string `json:"router"`
	File       string `json:"file"`
	Line       int    `json:"line"`
}

// Key returns the Route's unique key: (verb, path, controller, action).
func (r Route) Key() [4]string {
	return [4]string{r.Verb, r.Path, r.Controller, r.Action}
}

// AssocKind names an Ecto association macro.
type AssocKind string

const (
	AssocBelongsTo  AssocKind = "belongs_to"
	AssocHasOne     AssocKind = "has_one"
	AssocHasMany    AssocKind = "has_many"
	AssocManyToMany AssocKind = "many_to_many"
	AssocEmbedsOne  AssocKind = "embeds_one"
	AssocEmbedsMany AssocKind = "embeds_many"
)

// SchemaField is a schema field with its rendered type spelling.
type SchemaField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// SchemaAssociation is one belongs_to/has_one/has_many/... declaration.
type SchemaAssociation struct {
	Kind    AssocKind `json:"kind"`
	Name    string    `json:"name"`
	Related string    `json:"related"`
}

// Schema is an Ecto schema/embedded_schema declaration.
type Schema struct {
	Module       string              `json:"module"`
	Source       string              `json:"source,omitempty"` // nil/empty for embedded schemas
	File         string              `json:"file"`
	StartLine    int                 `json:"start_line"`
	EndLine      int                 `json:"end_line"`
	Fields       []SchemaField       `json:"fields"`
	Associations []SchemaAssociation `json:"associations"`
}

// TypeSpec is an @spec annotation on a function.
type TypeSpec struct {
	Module     string   `json:"module"`
	Name       string   `json:"name"`
	Arity      int      `json:"arity"`
	ParamTypes []string `json:"param_types"`
	ReturnType string   `json:"return_type"`
	File       string   `json:"file"`
	Line       int      `json:"line"`
}

// TypeDefKind names one of the five @type-family annotations.
type TypeDefKind string

const (
	TypeDefType          TypeDefKind = "type"
	TypeDefPrivateType   TypeDefKind = "private-type"
	TypeDefOpaque        TypeDefKind = "opaque"
	TypeDefCallback      TypeDefKind = "callback"
	TypeDefMacrocallback TypeDefKind = "macrocallback"
)

// TypeDef is an @type/@typep/@opaque/@callback/@macrocallback declaration.
type TypeDef struct {
	Module     string      `json:"module"`
	Name       string      `json:"name"`
	Arity      int         `json:"arity"`
	Kind       TypeDefKind `json:"kind"`
	Params     []string    `json:"params,omitempty"`
	Definition string      `json:"definition"`
	File       string      `json:"file"`
	Line       int         `json:"line"`
}

// Severity is a compiler diagnostic's severity level.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityHint    Severity = "hint"
)

// Diagnostic is a compiler-reported error, warning, info or hint.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	File     string   `json:"file"`
	Line     int      `json:"line"`
	Source   string   `json:"source,omitempty"`
}

// DepEdgeType names the kind of inter-module dependency relation.
type DepEdgeType string

const (
	DepCompile DepEdgeType = "compile"
	DepRuntime DepEdgeType = "runtime"
	DepExport  DepEdgeType = "export"
)

// DepEdge is a directed inter-module dependency edge.
type DepEdge struct {
	From string      `json:"from"`
	To   string      `json:"to"`
	Type DepEdgeType `json:"type"`
}

// Key returns the DepEdge's unique key: (from, to, type).
func (d DepEdge) Key() [3]string {
	return [3]string{d.From, d.To, string(d.Type)}
}

// FileState is one file's fingerprint as of the last extraction.
type FileState struct {
	Path        string   `json:"path"`
	ModTimeUnix int64    `json:"mtime_unix"`
	Size        int64    `json:"size"`
	Fingerprint uint64   `json:"fingerprint"` // xxhash64(content), folded with size
	Modules     []string `json:"modules"`
}

// MFAString renders module/name/arity into the MFA grammar:
// <Module>(.<Submodule>)*.<name>/<arity>
func MFAString(module, name string, arity int) string {
	return fmt.Sprintf("%s.%s/%d", module, name, arity)
}

// MFA is a parsed Module.name/arity reference.
type MFA struct {
	Module string
	Name   string
	Arity  int
}

func (m MFA) String() string { return MFAString(m.Module, m.Name, m.Arity) }

// ParseMFA parses the MFA grammar. A violating string returns an error;
// callers at the query boundary treat that as an empty-result query rather
// than surfacing the error (per the MFA grammar note in the spec).
func ParseMFA(s string) (MFA, error) {
	slash := strings.LastIndex(s, "/")
	if slash < 0 || slash == len(s)-1 {
		return MFA{}, fmt.Errorf("mfa %q: missing /arity", s)
	}
	arityStr := s[slash+1:]
	arity, err := strconv.Atoi(arityStr)
	if err != nil || arity < 0 {
		return MFA{}, fmt.Errorf("mfa %q: arity must be a non-negative integer", s)
	}
	head := s[:slash]
	dot := strings.LastIndex(head, ".")
	if dot <= 0 || dot == len(head)-1 {
		return MFA{}, fmt.Errorf("mfa %q: missing module.name", s)
	}
	module := head[:dot]
	name := head[dot+1:]
	if module == "" || name == "" {
		return MFA{}, fmt.Errorf("mfa %q: empty module or name", s)
	}
	for _, seg := range strings.Split(module, ".") {
		if seg == "" {
			return MFA{}, fmt.Errorf("mfa %q: empty module segment", s)
		}
	}
	return MFA{Module: module, Name: name, Arity: arity}, nil
}
