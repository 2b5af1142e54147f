// Package routes implements the Phoenix-router extraction phase: folding
// scope/resources/live/verb macros into a flat, fully-expanded route list.
// Recognition is pure AST shape-matching — the package never attempts to
// execute the router DSL.
package routes

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

// routerMarker is the string that identifies a Phoenix router module; it
// is checked before parsing so non-router files never pay parse cost.
const routerMarker = "Phoenix.Router"

var verbs = map[string]bool{
	"get": true, "post": true, "put": true, "patch": true, "delete": true,
	"head": true, "options": true, "connect": true, "trace": true,
}

type crudAction struct {
	verb, action, suffix string
}

var crudTable = []crudAction{
	{"GET", "index", ""},
	{"GET", "new", "/new"},
	{"POST", "create", ""},
	{"GET", "show", "/:id"},
	{"GET", "edit", "/:id/edit"},
	{"PUT", "update", "/:id"},
	{"PATCH", "update", "/:id"},
	{"DELETE", "delete", "/:id"},
}

// Result holds a run's route contribution.
type Result struct {
	Routes []types.Route
}

// IsRouterFile reports whether source contains the router marker.
func IsRouterFile(source []byte) bool {
	return bytes.Contains(source, []byte(routerMarker))
}

// ExtractFiles runs the route extractor over every path, bounded by
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
		out.Routes = append(out.Routes, p.Routes...)
	}
	sortRoutes(out.Routes)
	return out
}

func extractOneFile(root, relPath string) Result {
	abs := filepath.Join(root, relPath)
	data, err := os.ReadFile(abs)
	if err != nil {
		slog.Warn("routes: read failed", "file", relPath, "error", err)
		return Result{}
	}
	return ExtractFile(relPath, data)
}

// ExtractFile extracts every route from a single source buffer. Files
// without the router marker, and files that fail to parse, contribute
// nothing.
func ExtractFile(relPath string, source []byte) Result {
	if !IsRouterFile(source) {
		return Result{}
	}
	tree, err := parser.Parse(source)
	if err != nil {
		slog.Warn("routes: parse failed", "file", relPath, "error", err)
		return Result{}
	}
	defer tree.Close()

	w := &walker{file: relPath, source: source}
	for _, child := range parser.Children(tree.RootNode()) {
		if child.Kind() == "call" {
			w.maybeExtractModule(child)
		}
	}
	sortRoutes(w.result.Routes)
	return w.result
}

func sortRoutes(routes []types.Route) {
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Verb != routes[j].Verb {
			return routes[i].Verb < routes[j].Verb
		}
		return routes[i].Path < routes[j].Path
	})
}

// foldCtx is the descent context folded through scope/resources nesting.
type foldCtx struct {
	pathPrefix  string
	aliasPrefix string
}

type walker struct {
	file         string
	source       []byte
	result       Result
	routerModule string
}

func (w *walker) maybeExtractModule(n *tree_sitter.Node) {
	target := parser.FieldByName(n, "target")
	if target == nil || target.Kind() != "identifier" || parser.Text(target, w.source) != "defmodule" {
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
	w.routerModule = parser.Text(aliasNode, w.source)
	doBlock := parser.ChildByKind(n, "do_block")
	if doBlock != nil {
		w.visitBody(doBlock, foldCtx{})
	}
}

func (w *walker) visitBody(body *tree_sitter.Node, ctx foldCtx) {
	for _, child := range parser.Children(body) {
		if child.Kind() == "call" {
			w.handleRouteCall(child, ctx)
		}
	}
}

func (w *walker) handleRouteCall(n *tree_sitter.Node, ctx foldCtx) {
	target := parser.FieldByName(n, "target")
	if target == nil || target.Kind() != "identifier" {
		return
	}
	name := parser.Text(target, w.source)
	switch {
	case name == "scope":
		w.handleScope(n, ctx)
	case name == "resources":
		w.handleResources(n, ctx)
	case name == "live":
		w.handleLive(n, ctx)
	case verbs[name]:
		w.handleVerb(n, ctx, strings.ToUpper(name))
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
	raw := parser.Text(n, source)
	return strings.Trim(raw, `"`)
}

func moduleRefText(n *tree_sitter.Node, source []byte) string {
	if n == nil {
		return ""
	}
	return parser.Text(n, source)
}

func atomValue(n *tree_sitter.Node, source []byte) string {
	if n == nil {
		return ""
	}
	return strings.TrimPrefix(parser.Text(n, source), ":")
}

func keywordValue(kw *tree_sitter.Node, source []byte, key string) *tree_sitter.Node {
	if kw == nil {
		return nil
	}
	for _, pair := range parser.ChildrenByKind(kw, "pair") {
		k := parser.FieldByName(pair, "key")
		if k == nil {
			continue
		}
		if strings.TrimSuffix(parser.Text(k, source), ":") == key {
			return parser.FieldByName(pair, "value")
		}
	}
	return nil
}

func keywordAtomList(kw *tree_sitter.Node, source []byte, key string) []string {
	v := keywordValue(kw, source, key)
	if v == nil || v.Kind() != "list" {
		return nil
	}
	var out []string
	for _, atom := range parser.ChildrenByKind(v, "atom") {
		out = append(out, strings.TrimPrefix(parser.Text(atom, source), ":"))
	}
	return out
}

// qualify prefixes local with aliasPrefix unless local already carries a
// dotted (fully-qualified) reference.
func qualify(aliasPrefix, local string) string {
	if local == "" {
		return ""
	}
	if aliasPrefix != "" && !strings.Contains(local, ".") {
		return aliasPrefix + "." + local
	}
	return local
}

// joinPath concatenates a prefix and a local route path with exactly one
// separating slash and no trailing slash unless the result is empty.
func joinPath(prefix, local string) string {
	p := strings.TrimSuffix(prefix, "/")
	l := local
	if l != "" && !strings.HasPrefix(l, "/") {
		l = "/" + l
	}
	result := p + l
	if result == "" {
		result = "/"
	}
	return result
}

func lastPathSegment(path string) string {
	trimmed := strings.Trim(path, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}

// singularize applies the fixed syntactic rule: ies→y, else es→ε, else
// s→ε, else identity.
func singularize(s string) string {
	switch {
	case strings.HasSuffix(s, "ies"):
		return s[:len(s)-3] + "y"
	case strings.HasSuffix(s, "es"):
		return s[:len(s)-2]
	case strings.HasSuffix(s, "s"):
		return s[:len(s)-1]
	default:
		return s
	}
}

func (w *walker) handleScope(n *tree_sitter.Node, ctx foldCtx) {
	args := parser.ChildByKind(n, "arguments")
	positional, kw := splitArgs(args)

	localPath := ""
	aliasArg := ""
	for _, p := range positional {
		switch p.Kind() {
		case "string":
			if localPath == "" {
				localPath = stringLiteralValue(p, w.source)
			}
		case "alias":
			if aliasArg == "" {
				aliasArg = moduleRefText(p, w.source)
			}
		}
	}
	if v := keywordValue(kw, w.source, "path"); v != nil {
		localPath = stringLiteralValue(v, w.source)
	}
	if v := keywordValue(kw, w.source, "alias"); v != nil {
		aliasArg = moduleRefText(v, w.source)
	}

	newCtx := foldCtx{pathPrefix: joinPath(ctx.pathPrefix, localPath), aliasPrefix: ctx.aliasPrefix}
	if aliasArg != "" {
		newCtx.aliasPrefix = aliasArg
	}

	if doBlock := parser.ChildByKind(n, "do_block"); doBlock != nil {
		w.visitBody(doBlock, newCtx)
	}
}

func (w *walker) handleVerb(n *tree_sitter.Node, ctx foldCtx, verb string) {
	args := parser.ChildByKind(n, "arguments")
	positional, _ := splitArgs(args)
	if len(positional) < 1 {
		return
	}
	localPath := stringLiteralValue(positional[0], w.source)
	controller := ""
	action := ""
	if len(positional) >= 2 {
		controller = moduleRefText(positional[1], w.source)
	}
	if len(positional) >= 3 {
		action = atomValue(positional[2], w.source)
	}

	w.result.Routes = append(w.result.Routes, types.Route{
		Verb:       verb,
		Path:       joinPath(ctx.pathPrefix, localPath),
		Controller: qualify(ctx.aliasPrefix, controller),
		Action:     action,
		Router:     w.routerModule,
		File:       w.file,
		Line:       parser.Line(n),
	})
}

func (w *walker) handleLive(n *tree_sitter.Node, ctx foldCtx) {
	args := parser.ChildByKind(n, "arguments")
	positional, _ := splitArgs(args)
	if len(positional) < 2 {
		return
	}
	localPath := stringLiteralValue(positional[0], w.source)
	controller := moduleRefText(positional[1], w.source)

	w.result.Routes = append(w.result.Routes, types.Route{
		Verb:       "GET",
		Path:       joinPath(ctx.pathPrefix, localPath),
		Controller: qualify(ctx.aliasPrefix, controller),
		Action:     "live",
		Router:     w.routerModule,
		File:       w.file,
		Line:       parser.Line(n),
	})
}

func (w *walker) handleResources(n *tree_sitter.Node, ctx foldCtx) {
	args := parser.ChildByKind(n, "arguments")
	positional, kw := splitArgs(args)
	if len(positional) < 2 {
		return
	}
	localPath := stringLiteralValue(positional[0], w.source)
	controller := qualify(ctx.aliasPrefix, moduleRefText(positional[1], w.source))
	only := keywordAtomList(kw, w.source, "only")
	except := keywordAtomList(kw, w.source, "except")

	resourcePath := joinPath(ctx.pathPrefix, localPath)
	line := parser.Line(n)
	for _, c := range crudTable {
		if !actionAllowed(c.action, only, except) {
			continue
		}
		w.result.Routes = append(w.result.Routes, types.Route{
			Verb:       c.verb,
			Path:       resourcePath + c.suffix,
			Controller: controller,
			Action:     c.action,
			Router:     w.routerModule,
			File:       w.file,
			Line:       line,
		})
	}

	if doBlock := parser.ChildByKind(n, "do_block"); doBlock != nil {
		parentSeg := lastPathSegment(localPath)
		nestedCtx := foldCtx{
			pathPrefix:  resourcePath + "/:" + singularize(parentSeg) + "_id",
			aliasPrefix: ctx.aliasPrefix,
		}
		w.visitBody(doBlock, nestedCtx)
	}
}

func actionAllowed(action string, only, except []string) bool {
	if len(only) > 0 {
		return contains(only, action)
	}
	if len(except) > 0 {
		return !contains(except, action)
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
