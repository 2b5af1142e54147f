// Package typespec extracts @spec/@type/@typep/@opaque/@callback/
// @macrocallback annotations by AST shape, without evaluating them.
package typespec

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	"golang.org/x/sync/errgroup"

	"github.com/exci-dev/exci/internal/parser"
	"github.com/exci-dev/exci/internal/types"
)

var typeDefKinds = map[string]types.TypeDefKind{
	"type":          types.TypeDefType,
	"typep":         types.TypeDefPrivateType,
	"opaque":        types.TypeDefOpaque,
	"callback":      types.TypeDefCallback,
	"macrocallback": types.TypeDefMacrocallback,
}

// Result holds a run's type-annotation contribution.
type Result struct {
	Specs []types.TypeSpec
	Types []types.TypeDef
}

// ExtractFiles runs the type-annotation extractor over every path, bounded
// by parallelism concurrent workers.
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
	_ = g.Wait()

	var out Result
	for _, p := range partial {
		out.Specs = append(out.Specs, p.Specs...)
		out.Types = append(out.Types, p.Types...)
	}
	sortResult(&out)
	return out
}

func extractOneFile(root, relPath string) Result {
	abs := filepath.Join(root, relPath)
	data, err := os.ReadFile(abs)
	if err != nil {
		slog.Warn("typespec: read failed", "file", relPath, "error", err)
		return Result{}
	}
	return ExtractFile(relPath, data)
}

// ExtractFile extracts every type annotation in a single source buffer.
func ExtractFile(relPath string, source []byte) Result {
	tree, err := parser.Parse(source)
	if err != nil {
		slog.Warn("typespec: parse failed", "file", relPath, "error", err)
		return Result{}
	}
	defer tree.Close()

	w := &walker{file: relPath, source: source}
	w.visit(tree.RootNode())
	sortResult(&w.result)
	return w.result
}

func sortResult(r *Result) {
	sort.Slice(r.Specs, func(i, j int) bool {
		a, b := r.Specs[i], r.Specs[j]
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
	sort.Slice(r.Types, func(i, j int) bool {
		a, b := r.Types[i], r.Types[j]
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
}

type walker struct {
	file   string
	source []byte
	result Result
	module string
}

func (w *walker) visit(n *tree_sitter.Node) {
	if n == nil {
		return
	}
	switch n.Kind() {
	case "call":
		target := parser.FieldByName(n, "target")
		if target != nil && target.Kind() == "identifier" && parser.Text(target, w.source) == "defmodule" {
			w.handleModule(n)
			return
		}
	case "unary_operator":
		if w.handleAttribute(n) {
			return
		}
	}
	for _, c := range parser.Children(n) {
		w.visit(c)
	}
}

func (w *walker) handleModule(n *tree_sitter.Node) {
	args := parser.ChildByKind(n, "arguments")
	if args == nil {
		return
	}
	aliasNode := parser.ChildByKind(args, "alias")
	if aliasNode == nil {
		return
	}
	local := parser.Text(aliasNode, w.source)
	full := local
	if w.module != "" {
		full = w.module + "." + local
	}

	old := w.module
	w.module = full
	if doBlock := parser.ChildByKind(n, "do_block"); doBlock != nil {
		w.visit(doBlock)
	}
	w.module = old
}

// handleAttribute inspects a unary_operator node for an @spec/@type/...
// shape and, if recognized, appends the corresponding record and reports
// true so the caller does not also generic-walk this subtree.
func (w *walker) handleAttribute(n *tree_sitter.Node) bool {
	operand := parser.FieldByName(n, "operand")
	if operand == nil || operand.Kind() != "call" {
		return false
	}
	target := parser.FieldByName(operand, "target")
	if target == nil || target.Kind() != "identifier" {
		return false
	}
	name := parser.Text(target, w.source)

	args := parser.ChildByKind(operand, "arguments")
	positional, _ := splitArgs(args)
	if len(positional) < 1 {
		return false
	}
	sig := positional[0]

	if w.module == "" {
		return true
	}

	if name == "spec" {
		w.handleSpec(n, sig)
		return true
	}
	if kind, ok := typeDefKinds[name]; ok {
		w.handleType(n, sig, kind)
		return true
	}
	return false
}

func (w *walker) handleSpec(attr, sig *tree_sitter.Node) {
	left, right := splitSignature(sig)
	funcName, arity, paramTypes := signatureParts(left, w.source)
	if funcName == "" {
		return
	}
	returnType := ""
	if right != nil {
		returnType = parser.Text(right, w.source)
	}
	w.result.Specs = append(w.result.Specs, types.TypeSpec{
		Module:     w.module,
		Name:       funcName,
		Arity:      arity,
		ParamTypes: paramTypes,
		ReturnType: returnType,
		File:       w.file,
		Line:       parser.Line(attr),
	})
}

func (w *walker) handleType(attr, sig *tree_sitter.Node, kind types.TypeDefKind) {
	left, _ := splitSignature(sig)
	funcName, arity, params := signatureParts(left, w.source)
	if funcName == "" {
		return
	}
	w.result.Types = append(w.result.Types, types.TypeDef{
		Module:     w.module,
		Name:       funcName,
		Arity:      arity,
		Kind:       kind,
		Params:     params,
		Definition: parser.Text(sig, w.source),
		File:       w.file,
		Line:       parser.Line(attr),
	})
}

// splitSignature splits `name(params) :: definition` into its left and
// right operands. When sig is not a `::` binary_operator, left is sig
// itself and right is nil.
func splitSignature(sig *tree_sitter.Node) (left, right *tree_sitter.Node) {
	if sig.Kind() == "binary_operator" {
		if l := parser.FieldByName(sig, "left"); l != nil {
			if r := parser.FieldByName(sig, "right"); r != nil {
				return l, r
			}
		}
	}
	return sig, nil
}

// signatureParts reads a `name` or `name(arg1, arg2)` node into its
// function name, arity, and raw argument-type texts.
func signatureParts(n *tree_sitter.Node, source []byte) (name string, arity int, paramTypes []string) {
	if n == nil {
		return "", 0, nil
	}
	switch n.Kind() {
	case "identifier":
		return parser.Text(n, source), 0, nil
	case "call":
		target := parser.FieldByName(n, "target")
		if target == nil || target.Kind() != "identifier" {
			return "", 0, nil
		}
		args := parser.ChildByKind(n, "arguments")
		positional, _ := splitArgs(args)
		for _, p := range positional {
			paramTypes = append(paramTypes, parser.Text(p, source))
		}
		return parser.Text(target, source), len(positional), paramTypes
	default:
		return "", 0, nil
	}
}

func splitArgs(args *tree_sitter.Node) (positional []*tree_sitter.Node, kw *tree_sitter.Node) {
	if args == nil {
		return nil, nil
	}
	for _, child := range parser.Children(args) {
		if !child.IsNamed() {
			continue
		}
		if child.Kind() == "keywords" {
			kw = child
			continue
		}
		positional = append(positional, child)
	}
	return positional, kw
}
