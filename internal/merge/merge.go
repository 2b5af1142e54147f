// Package merge folds the independent extraction phases' contributions
// into the final ordered record stream written to the store.
package merge

import (
	"log/slog"

	"github.com/exci-dev/exci/internal/extract/diagnostics"
	"github.com/exci-dev/exci/internal/extract/routes"
	"github.com/exci-dev/exci/internal/extract/schema"
	"github.com/exci-dev/exci/internal/extract/syntactic"
	"github.com/exci-dev/exci/internal/extract/tracer"
	"github.com/exci-dev/exci/internal/extract/typespec"
	"github.com/exci-dev/exci/internal/extract/xref"
	"github.com/exci-dev/exci/internal/types"
)

// Input collects one extraction run's per-phase contributions.
type Input struct {
	Syntactic   syntactic.Result
	Tracer      tracer.Result
	Xref        xref.Result
	Routes      routes.Result
	Schema      schema.Result
	Typespec    typespec.Result
	Diagnostics diagnostics.Result
}

type mergedCall struct {
	call   types.CallRef
	source types.Source
}

// Merge concatenates the non-call record kinds, folds CallRefs from every
// phase into one table keyed by call-site key (insertion order syntactic
// then compiler, higher-priority source overwriting), and dedupes DepEdges
// from xref and the compiler trace by (from, to, type).
func Merge(in Input) []types.Record {
	var out []types.Record
	put := func(kind types.Kind, data any, source types.Source, confidence types.Confidence) {
		rec, err := types.Encode(kind, data, source, confidence)
		if err != nil {
			slog.Warn("merge: encode failed", "kind", kind, "error", err)
			return
		}
		out = append(out, rec)
	}

	for _, m := range in.Syntactic.Modules {
		put(types.KindModuleDef, m, types.SourceSyntactic, types.ConfidenceHigh)
	}
	for _, f := range in.Syntactic.Functions {
		put(types.KindFunctionDef, f, types.SourceSyntactic, types.ConfidenceHigh)
	}
	for _, d := range in.Syntactic.Directives {
		put(types.KindDirectiveRef, d, types.SourceSyntactic, types.ConfidenceHigh)
	}
	for _, s := range in.Syntactic.Structs {
		put(types.KindStructDef, s, types.SourceSyntactic, types.ConfidenceHigh)
	}
	for _, r := range in.Routes.Routes {
		put(types.KindRoute, r, types.SourceSyntactic, types.ConfidenceHigh)
	}
	for _, s := range in.Schema.Schemas {
		put(types.KindSchema, s, types.SourceSyntactic, types.ConfidenceHigh)
	}
	for _, s := range in.Typespec.Specs {
		put(types.KindTypeSpec, s, types.SourceSyntactic, types.ConfidenceHigh)
	}
	for _, td := range in.Typespec.Types {
		put(types.KindTypeDef, td, types.SourceSyntactic, types.ConfidenceHigh)
	}
	for _, d := range in.Diagnostics.Diagnostics {
		put(types.KindDiagnostic, d, types.SourceCompiler, types.ConfidenceHigh)
	}

	type callSite struct {
		File string
		Line int
	}

	callTable := map[types.CallSiteKey]mergedCall{}
	var order []types.CallSiteKey
	// unresolved tracks, per call site, the key of a still-unresolved
	// (Callee == "") entry already in callTable, so a later phase that
	// resolves the same site overwrites it instead of coexisting
	// alongside it under a different CallSiteKey.
	unresolved := map[callSite]types.CallSiteKey{}

	addCall := func(c types.CallRef, source types.Source) {
		key := c.Key()
		if existing, ok := callTable[key]; ok {
			if source.HigherPriorityThan(existing.source) {
				callTable[key] = mergedCall{call: c, source: source}
			}
			return
		}

		site := callSite{File: c.File, Line: c.Line}
		if c.Callee != "" {
			if priorKey, ok := unresolved[site]; ok {
				if source.HigherPriorityThan(callTable[priorKey].source) {
					delete(callTable, priorKey)
					delete(unresolved, site)
					for i, k := range order {
						if k == priorKey {
							order[i] = key
							break
						}
					}
					callTable[key] = mergedCall{call: c, source: source}
					return
				}
			}
		} else {
			unresolved[site] = key
		}

		callTable[key] = mergedCall{call: c, source: source}
		order = append(order, key)
	}
	for _, c := range in.Syntactic.Calls {
		addCall(c, types.SourceSyntactic)
	}
	for _, c := range in.Tracer.Calls {
		addCall(c, types.SourceCompiler)
	}
	for _, key := range order {
		mc := callTable[key]
		put(types.KindCallRef, mc.call, mc.source, callConfidence(mc))
	}

	depSeen := map[[3]string]bool{}
	addDep := func(d types.DepEdge, source types.Source) {
		key := d.Key()
		if depSeen[key] {
			return
		}
		depSeen[key] = true
		put(types.KindDepEdge, d, source, types.ConfidenceHigh)
	}
	for _, d := range in.Xref.Deps {
		addDep(d, types.SourceXref)
	}
	for _, d := range in.Tracer.Deps {
		addDep(d, types.SourceCompiler)
	}

	return out
}

// callConfidence assigns a merged CallRef's confidence: compiler-observed
// calls are always high; a syntactic call that resolved its callee through
// alias resolution is medium, an unresolved one is low.
func callConfidence(mc mergedCall) types.Confidence {
	switch mc.source {
	case types.SourceCompiler:
		return types.ConfidenceHigh
	case types.SourceSyntactic:
		if mc.call.Callee != "" {
			return types.ConfidenceMedium
		}
		return types.ConfidenceLow
	default:
		return types.ConfidenceMedium
	}
}
