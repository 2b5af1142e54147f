// Package schema implements the Ecto-schema extraction phase: recognizing
// schema/embedded_schema blocks and their field and association macros by
// AST shape, without executing the ORM DSL.
package schema

import (
	"bytes"
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

var schemaMarkers = [][]byte{
	[]byte("Ecto.Schema"),
	[]byte("embedded_schema"),
	[]byte("schema \""),
}

var assocMacros = map[string]types.AssocKind{
	"belongs_to":   types.AssocBelongsTo,
	"has_one":      types.AssocHasOne,
	"has_many":     types.AssocHasMany,
	"many_to_many": types.AssocManyToMany,
	"embeds_one":   types.AssocEmbedsOne,
	"embeds_many":  types.AssocEmbedsMany,
}

// Result holds a run's schema contribution.
type Result struct {
	Schemas []types.Schema
}

// IsSchemaFile reports whether source contains the use-ORM marker or the
// schema/embedded_schema marker. False positives are harmless (the
// AST-based pass simply finds nothing); this is only a parse-cost filter.
func IsSchemaFile(source []byte) bool {
	for _, m := range schemaMarkers {
		if bytes.Contains(source, m) {
			return true
		}
	}
	return false
}

// ExtractFiles runs the schema extractor over every path, bounded by
// parallelism concurrent workers.
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
		out.Schemas = append(out.Schemas, p.Schemas...)
	}
	sortSchemas(out.Schemas)
	return out
}

func extractOneFile(root, relPath string) Result {
	abs := filepath.Join(root, relPath)
	data, err := os.ReadFile(abs)
	if err != nil {
		slog.Warn("schema: read failed", "file", relPath, "error", err)
		return Result{}
	}
	return ExtractFile(relPath, data)
}

// ExtractFile extracts every schema declared in a single source buffer.
func ExtractFile(relPath string, source []byte) Result {
	if !IsSchemaFile(source) {
		return Result{}
	}
	tree, err := parser.Parse(source)
	if err != nil {
		slog.Warn("schema: parse failed", "file", relPath, "error", err)
		return Result{}
	}
	defer tree.Close()

	w := &walker{file: relPath, source: source}
	w.visit(tree.RootNode())
	sortSchemas(w.result.Schemas)
	return w.result
}

func sortSchemas(schemas []types.Schema) {
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Module < schemas[j].Module })
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
	if n.Kind() == "call" {
		target := parser.FieldByName(n, "target")
		if target != nil && target.Kind() == "identifier" {
			switch parser.Text(target, w.source) {
			case "defmodule":
				w.handleModule(n)
				return
			case "schema":
				w.handleSchema(n, false)
				return
			case "embedded_schema":
				w.handleSchema(n, true)
				return
			}
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

func (w *walker) handleSchema(n *tree_sitter.Node, embedded bool) {
	if w.module == "" {
		return
	}
	var source string
	if !embedded {
		args := parser.ChildByKind(n, "arguments")
		positional, _ := splitArgs(args)
		if len(positional) < 1 {
			return
		}
		source = stringLiteralValue(positional[0], w.source)
	}
	doBlock := parser.ChildByKind(n, "do_block")
	if doBlock == nil {
		return
	}

	sch := types.Schema{
		Module:    w.module,
		Source:    source,
		File:      w.file,
		StartLine: parser.Line(n),
		EndLine:   parser.EndLine(n),
	}
	for _, child := range parser.Children(doBlock) {
		if child.Kind() != "call" {
			continue
		}
		target := parser.FieldByName(child, "target")
		if target == nil || target.Kind() != "identifier" {
			continue
		}
		name := parser.Text(target, w.source)
		switch {
		case name == "field":
			if f, ok := fieldOf(child, w.source); ok {
				sch.Fields = append(sch.Fields, f)
			}
		case name == "timestamps":
			sch.Fields = append(sch.Fields,
				types.SchemaField{Name: "inserted_at", Type: "naive_datetime"},
				types.SchemaField{Name: "updated_at", Type: "naive_datetime"},
			)
		default:
			if kind, ok := assocMacros[name]; ok {
				if a, ok := assocOf(child, w.source, kind); ok {
					sch.Associations = append(sch.Associations, a)
				}
			}
		}
	}
	w.result.Schemas = append(w.result.Schemas, sch)
}

func fieldOf(n *tree_sitter.Node, source []byte) (types.SchemaField, bool) {
	args := parser.ChildByKind(n, "arguments")
	positional, _ := splitArgs(args)
	if len(positional) < 1 {
		return types.SchemaField{}, false
	}
	name := atomValue(positional[0], source)
	if name == "" {
		return types.SchemaField{}, false
	}
	typ := "string"
	if len(positional) >= 2 {
		typ = renderType(positional[1], source)
	}
	return types.SchemaField{Name: name, Type: typ}, true
}

func assocOf(n *tree_sitter.Node, source []byte, kind types.AssocKind) (types.SchemaAssociation, bool) {
	args := parser.ChildByKind(n, "arguments")
	positional, _ := splitArgs(args)
	if len(positional) < 2 {
		return types.SchemaAssociation{}, false
	}
	name := atomValue(positional[0], source)
	related := parser.Text(positional[1], source)
	if name == "" || related == "" {
		return types.SchemaAssociation{}, false
	}
	return types.SchemaAssociation{Kind: kind, Name: name, Related: related}, true
}

func renderType(n *tree_sitter.Node, source []byte) string {
	if n == nil {
		return "string"
	}
	switch n.Kind() {
	case "atom":
		return strings.TrimPrefix(parser.Text(n, source), ":")
	default:
		return parser.Text(n, source)
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

func stringLiteralValue(n *tree_sitter.Node, source []byte) string {
	if n == nil {
		return ""
	}
	return strings.Trim(parser.Text(n, source), `"`)
}

func atomValue(n *tree_sitter.Node, source []byte) string {
	if n == nil {
		return ""
	}
	return strings.TrimPrefix(parser.Text(n, source), ":")
}
