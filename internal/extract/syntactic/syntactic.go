// Package syntactic implements the first extraction phase: a recursive
// descent over the concrete syntax tree that needs no compiler cooperation.
// It is the only phase guaranteed to run on every file, including files
// that fail to compile.
package syntactic

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	"golang.org/x/sync/errgroup"

	"github.com/exci-dev/exci/internal/parser"
	"github.com/exci-dev/exci/internal/types"
)

// Result holds one file's (or one run's merged) syntactic contribution.
type Result struct {
	Modules    []types.ModuleDef
	Functions  []types.FunctionDef
	Calls      []types.CallRef
	Directives []types.DirectiveRef
	Structs    []types.StructDef
}

func (r *Result) append(o Result) {
	r.Modules = append(r.Modules, o.Modules...)
	r.Functions = append(r.Functions, o.Functions...)
	r.Calls = append(r.Calls, o.Calls...)
	r.Directives = append(r.Directives, o.Directives...)
	r.Structs = append(r.Structs, o.Structs...)
}

// Sort orders every slice per the deterministic output contract:
// (module), (module,name,arity), (file,line).
func (r *Result) Sort() {
	sort.Slice(r.Modules, func(i, j int) bool { return r.Modules[i].Module < r.Modules[j].Module })
	sort.Slice(r.Functions, func(i, j int) bool {
		a, b := r.Functions[i], r.Functions[j]
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Arity < b.Arity
	})
	sort.Slice(r.Calls, func(i, j int) bool {
		a, b := r.Calls[i], r.Calls[j]
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
	sort.Slice(r.Directives, func(i, j int) bool {
		a, b := r.Directives[i], r.Directives[j]
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
	sort.Slice(r.Structs, func(i, j int) bool {
		a, b := r.Structs[i], r.Structs[j]
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
}

// reservedCallTargets names call-node target identifiers that are
// language-level forms rather than ordinary function calls. This is the
// only language-specific knowledge the extractor needs beyond the
// definition/directive heads handled explicitly in handleCall.
var reservedCallTargets = map[string]bool{
	"if": true, "unless": true, "case": true, "cond": true, "for": true,
	"with": true, "receive": true, "try": true, "quote": true,
	"unquote": true, "unquote_splicing": true, "fn": true, "super": true,
	"and": true, "or": true, "not": true, "in": true, "when": true,
}

// definitionHeads are call targets that introduce a new module or function
// scope; each is dispatched to its own handler and never recorded as a
// CallRef.
var definitionHeads = map[string]bool{
	"def": true, "defp": true, "defmacro": true, "defmacrop": true,
	"defdelegate": true, "defguard": true, "defguardp": true,
}

var directiveHeads = map[string]types.DirectiveKind{
	"alias":   types.DirectiveAlias,
	"import":  types.DirectiveImport,
	"require": types.DirectiveRequire,
	"use":     types.DirectiveUse,
}

// ExtractFiles runs the syntactic extractor over every path in paths
// (relative to root), bounded by parallelism concurrent workers, and
// returns the merged, sorted result. A per-file read or parse failure
// contributes nothing for that file and is logged; it never fails the run.
func ExtractFiles(ctx context.Context, root string, paths []string, parallelism int) Result {
	if parallelism <= 0 {
		parallelism = 1
	}
	partial := make([]Result, len(paths))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, relPath := range paths {
		i, relPath := i, relPath
		g.Go(func() error {
			partial[i] = extractOneFile(root, relPath)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures degrade to empty Result

	var out Result
	for _, p := range partial {
		out.append(p)
	}
	out.Sort()
	return out
}

func extractOneFile(root, relPath string) Result {
	abs := filepath.Join(root, relPath)
	data, err := os.ReadFile(abs)
	if err != nil {
		slog.Warn("syntactic: read failed", "file", relPath, "error", err)
		return Result{}
	}
	return ExtractFile(relPath, data)
}

// ExtractFile runs the extractor over a single in-memory source buffer. A
// parse failure yields an empty Result rather than an error, matching the
// phase's failure semantics.
func ExtractFile(relPath string, source []byte) Result {
	tree, err := parser.Parse(source)
	if err != nil {
		slog.Warn("syntactic: parse failed", "file", relPath, "error", err)
		return Result{}
	}
	defer tree.Close()

	w := &walker{file: relPath, source: source}
	w.visit(tree.RootNode())
	w.result.Sort()
	return w.result
}

// walker carries the descent context: the module currently being
// traversed, the function currently being traversed (nil at module scope),
// and the alias substitutions seen so far in the current module.
type walker struct {
	file      string
	source    []byte
	result    Result
	module    string
	aliasMap  map[string]string
	fn        *types.MFA
}

func (w *walker) visit(n *tree_sitter.Node) {
	if n == nil {
		return
	}
	if n.Kind() == "call" {
		if !w.handleCall(n) {
			return
		}
	}
	for _, c := range parser.Children(n) {
		w.visit(c)
	}
}

// handleCall classifies a call node and dispatches to a record-producing
// handler. It returns whether the generic walk should continue into the
// node's children; definition and directive heads walk their own body and
// return false, control-flow forms return true so nested calls are still
// found, and ordinary calls are recorded as CallRefs and also walked (a
// call's arguments can themselves contain calls).
func (w *walker) handleCall(n *tree_sitter.Node) bool {
	target := parser.FieldByName(n, "target")
	if target == nil {
		return true
	}
	if target.Kind() != "identifier" {
		// Qualified call (Module.func(...)) or some other compound target;
		// never a definition/directive head, may be a recordable call site.
		w.extractCallSite(n, target)
		return true
	}

	name := parser.Text(target, w.source)
	switch {
	case name == "defmodule":
		w.extractModule(n)
		return false
	case definitionHeads[name]:
		w.extractFunction(n, name)
		return false
	case name == "defstruct":
		w.extractStruct(n)
		return false
	case directiveHeads[name] != "":
		w.extractDirective(n, directiveHeads[name])
		return false
	case reservedCallTargets[name]:
		return true
	default:
		w.extractCallSite(n, target)
		return true
	}
}

func (w *walker) extractModule(n *tree_sitter.Node) {
	args := parser.ChildByKind(n, "arguments")
	if args == nil {
		return
	}
	aliasNode := parser.ChildByKind(args, "alias")
	if aliasNode == nil {
		return
	}
	local := parser.Text(aliasNode, w.source)
	if local == "" {
		return
	}
	full := local
	if w.module != "" {
		full = w.module + "." + local
	}

	doBlock := parser.ChildByKind(n, "do_block")
	def := types.ModuleDef{
		Module:    full,
		File:      w.file,
		StartLine: parser.Line(n),
		EndLine:   parser.EndLine(n),
	}
	if doBlock != nil {
		def.Behaviours = extractBehaviours(doBlock, w.source)
	}
	w.result.Modules = append(w.result.Modules, def)

	oldModule, oldAlias, oldFn := w.module, w.aliasMap, w.fn
	w.module = full
	w.aliasMap = map[string]string{}
	w.fn = nil
	if doBlock != nil {
		w.visit(doBlock)
	}
	w.module, w.aliasMap, w.fn = oldModule, oldAlias, oldFn
}

// extractBehaviours scans a module body's direct statements for
// `@behaviour X` module-attribute declarations.
func extractBehaviours(doBlock *tree_sitter.Node, source []byte) []string {
	var out []string
	for _, child := range parser.Children(doBlock) {
		if child.Kind() != "unary_operator" {
			continue
		}
		// @behaviour Foo parses as unary_operator(@, call(target=behaviour, arguments=[alias Foo]))
		operand := parser.FieldByName(child, "operand")
		if operand == nil || operand.Kind() != "call" {
			continue
		}
		target := parser.FieldByName(operand, "target")
		if target == nil || parser.Text(target, source) != "behaviour" {
			continue
		}
		args := parser.ChildByKind(operand, "arguments")
		aliasNode := parser.ChildByKind(args, "alias")
		if aliasNode == nil {
			continue
		}
		out = append(out, parser.Text(aliasNode, source))
	}
	return out
}

func (w *walker) extractFunction(n *tree_sitter.Node, head string) {
	args := parser.ChildByKind(n, "arguments")
	if args == nil {
		return
	}

	var name string
	arity := 0
	if nameCall := parser.ChildByKind(args, "call"); nameCall != nil {
		nameTarget := parser.FieldByName(nameCall, "target")
		if nameTarget == nil {
			return
		}
		name = parser.Text(nameTarget, w.source)
		innerArgs := parser.ChildByKind(nameCall, "arguments")
		if innerArgs != nil {
			arity = int(innerArgs.NamedChildCount())
		}
	} else if id := parser.ChildByKind(args, "identifier"); id != nil {
		name = parser.Text(id, w.source)
	} else {
		return
	}
	if name == "" || w.module == "" {
		return
	}

	visibility := types.VisibilityPublic
	macro := false
	switch head {
	case "defp", "defguardp":
		visibility = types.VisibilityPrivate
	case "defmacro":
		macro = true
	case "defmacrop":
		macro = true
		visibility = types.VisibilityPrivate
	}

	w.result.Functions = append(w.result.Functions, types.FunctionDef{
		Module:     w.module,
		Name:       name,
		Arity:      arity,
		Visibility: visibility,
		Macro:      macro,
		StartLine:  parser.Line(n),
		EndLine:    parser.EndLine(n),
		File:       w.file,
	})

	oldFn := w.fn
	mfa := types.MFA{Module: w.module, Name: name, Arity: arity}
	w.fn = &mfa
	if doBlock := parser.ChildByKind(n, "do_block"); doBlock != nil {
		w.visit(doBlock)
	} else if kw := parser.ChildByKind(args, "keywords"); kw != nil {
		// Keyword form: def foo(x), do: bar(x) — the body lives in the
		// trailing keyword list inside args.
		w.visit(kw)
	}
	w.fn = oldFn
}

func (w *walker) extractStruct(n *tree_sitter.Node) {
	if w.module == "" {
		return
	}
	args := parser.ChildByKind(n, "arguments")
	if args == nil {
		return
	}
	list := parser.ChildByKind(args, "list")
	var fields []types.StructField
	if list != nil {
		fields = structFieldsFromList(list, w.source)
	}
	w.result.Structs = append(w.result.Structs, types.StructDef{
		Module: w.module,
		File:   w.file,
		Line:   parser.Line(n),
		Fields: fields,
	})
}

func structFieldsFromList(list *tree_sitter.Node, source []byte) []types.StructField {
	var fields []types.StructField
	for _, child := range parser.Children(list) {
		switch child.Kind() {
		case "atom":
			name := strings.TrimPrefix(parser.Text(child, source), ":")
			fields = append(fields, types.StructField{Name: name})
		case "keywords":
			for _, pair := range parser.ChildrenByKind(child, "pair") {
				key := parser.FieldByName(pair, "key")
				value := parser.FieldByName(pair, "value")
				if key == nil {
					continue
				}
				name := strings.TrimSuffix(parser.Text(key, source), ":")
				field := types.StructField{Name: name}
				if value != nil {
					field.Default = parser.Text(value, source)
				}
				fields = append(fields, field)
			}
		}
	}
	return fields
}

func (w *walker) extractDirective(n *tree_sitter.Node, kind types.DirectiveKind) {
	if w.module == "" {
		return
	}
	args := parser.ChildByKind(n, "arguments")
	if args == nil {
		return
	}
	aliasNode := parser.ChildByKind(args, "alias")
	if aliasNode == nil {
		return
	}
	target := parser.Text(aliasNode, w.source)
	if target == "" {
		return
	}

	ref := types.DirectiveRef{
		Kind:   kind,
		Module: w.module,
		Target: target,
		File:   w.file,
		Line:   parser.Line(n),
	}
	if renamed := keywordStringValue(args, w.source, "as"); renamed != "" {
		ref.RenamedAs = renamed
	}
	ref.Only = keywordAtomListValue(args, w.source, "only")
	ref.Except = keywordAtomListValue(args, w.source, "except")
	w.result.Directives = append(w.result.Directives, ref)

	if kind == types.DirectiveAlias {
		local := ref.RenamedAs
		if local == "" {
			local = lastSegment(target)
		}
		w.aliasMap[local] = target
	}
}

// keywordStringValue finds `key: <alias-or-identifier>` in a call's
// trailing keyword list and renders the value's source text.
func keywordStringValue(args *tree_sitter.Node, source []byte, key string) string {
	kw := parser.ChildByKind(args, "keywords")
	if kw == nil {
		return ""
	}
	for _, pair := range parser.ChildrenByKind(kw, "pair") {
		k := parser.FieldByName(pair, "key")
		v := parser.FieldByName(pair, "value")
		if k == nil || v == nil {
			continue
		}
		if strings.TrimSuffix(parser.Text(k, source), ":") == key {
			return parser.Text(v, source)
		}
	}
	return ""
}

// keywordAtomListValue finds `key: [:a, :b]` and returns the bare atom
// names, or nil if absent.
func keywordAtomListValue(args *tree_sitter.Node, source []byte, key string) []string {
	kw := parser.ChildByKind(args, "keywords")
	if kw == nil {
		return nil
	}
	for _, pair := range parser.ChildrenByKind(kw, "pair") {
		k := parser.FieldByName(pair, "key")
		v := parser.FieldByName(pair, "value")
		if k == nil || v == nil {
			continue
		}
		if strings.TrimSuffix(parser.Text(k, source), ":") != key {
			continue
		}
		if v.Kind() != "list" {
			continue
		}
		var out []string
		for _, atom := range parser.ChildrenByKind(v, "atom") {
			out = append(out, strings.TrimPrefix(parser.Text(atom, source), ":"))
		}
		return out
	}
	return nil
}

// extractCallSite records a CallRef for a call node that is neither a
// definition head, directive head, nor reserved control-flow form. Calls
// outside a known function contribute nothing: the record model requires a
// caller MFA.
func (w *walker) extractCallSite(n, target *tree_sitter.Node) {
	if w.fn == nil {
		return
	}
	caller := w.fn.String()
	line := parser.Line(n)

	switch target.Kind() {
	case "dot":
		left := parser.FieldByName(target, "left")
		right := parser.FieldByName(target, "right")
		if left != nil && left.Kind() == "alias" && right != nil {
			module := w.resolveAlias(parser.Text(left, w.source))
			name := parser.Text(right, w.source)
			args := parser.ChildByKind(n, "arguments")
			arity := 0
			if args != nil {
				arity = int(args.NamedChildCount())
			}
			callee := types.MFAString(module, name, arity)
			w.result.Calls = append(w.result.Calls, types.CallRef{Caller: caller, Callee: callee, File: w.file, Line: line})
			return
		}
		// Qualified through a variable or other runtime expression: no
		// static callee is resolvable at this phase.
		w.result.Calls = append(w.result.Calls, types.CallRef{Caller: caller, File: w.file, Line: line})
	case "identifier":
		name := parser.Text(target, w.source)
		if reservedCallTargets[name] || definitionHeads[name] || directiveHeads[name] != "" {
			return
		}
		w.result.Calls = append(w.result.Calls, types.CallRef{Caller: caller, File: w.file, Line: line})
	}
}

// resolveAlias expands a module reference's leading segment through the
// current module's alias directives, e.g. "Bar.baz" with `alias Foo.Bar`
// in scope resolves to "Foo.Bar.baz".
func (w *walker) resolveAlias(raw string) string {
	head, rest := raw, ""
	if idx := strings.Index(raw, "."); idx >= 0 {
		head, rest = raw[:idx], raw[idx:]
	}
	if full, ok := w.aliasMap[head]; ok {
		return full + rest
	}
	return raw
}

func lastSegment(dotted string) string {
	if idx := strings.LastIndex(dotted, "."); idx >= 0 {
		return dotted[idx+1:]
	}
	return dotted
}
