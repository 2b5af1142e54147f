// Package parser wraps the Elixir tree-sitter grammar behind a small,
// dependency-light concrete syntax tree API. It is the only package that
// imports the tree-sitter bindings directly.
package parser

import (
	"fmt"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_elixir "github.com/tree-sitter/tree-sitter-elixir/bindings/go"
)

var (
	languageOnce sync.Once
	language     *tree_sitter.Language
	parserPool   *sync.Pool
)

func initLanguage() {
	languageOnce.Do(func() {
		language = tree_sitter.NewLanguage(tree_sitter_elixir.Language())
		parserPool = &sync.Pool{
			New: func() any {
				p := tree_sitter.NewParser()
				if err := p.SetLanguage(language); err != nil {
					panic(fmt.Sprintf("parser: set elixir language: %v", err))
				}
				return p
			},
		}
	})
}

// Parse parses Elixir source into a concrete syntax tree. The caller must
// call tree.Close() when done. A malformed file still yields a tree (with
// ERROR nodes); this package never treats a parse as fatal, matching the
// syntactic extractor's parse-error-is-empty-contribution contract.
func Parse(source []byte) (*tree_sitter.Tree, error) {
	initLanguage()

	p, _ := parserPool.Get().(*tree_sitter.Parser)
	if p == nil {
		return nil, fmt.Errorf("parser: failed to acquire elixir parser")
	}
	defer parserPool.Put(p)

	tree := p.Parse(source, nil)
	if tree == nil {
		return nil, fmt.Errorf("parser: parse returned nil tree")
	}
	return tree, nil
}

// WalkFunc is called for each node during a depth-first traversal. Return
// false to skip the node's children.
type WalkFunc func(node *tree_sitter.Node) bool

// Walk performs a depth-first pre-order traversal of the tree rooted at
// node, calling fn for each node visited.
func Walk(node *tree_sitter.Node, fn WalkFunc) {
	if node == nil {
		return
	}
	if !fn(node) {
		return
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		if child := node.Child(i); child != nil {
			Walk(child, fn)
		}
	}
}

// Text returns the source text spanned by node.
func Text(node *tree_sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	return string(source[node.StartByte():node.EndByte()])
}

// Line returns node's 1-based starting line number.
func Line(node *tree_sitter.Node) int {
	if node == nil {
		return 0
	}
	return int(node.StartPosition().Row) + 1
}

// EndLine returns node's 1-based ending line number.
func EndLine(node *tree_sitter.Node) int {
	if node == nil {
		return 0
	}
	return int(node.EndPosition().Row) + 1
}

// ChildByKind returns the first direct child of node with the given kind,
// or nil.
func ChildByKind(node *tree_sitter.Node, kind string) *tree_sitter.Node {
	if node == nil {
		return nil
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		if child := node.Child(i); child != nil && child.Kind() == kind {
			return child
		}
	}
	return nil
}

// ChildrenByKind returns every direct child of node with the given kind.
func ChildrenByKind(node *tree_sitter.Node, kind string) []*tree_sitter.Node {
	if node == nil {
		return nil
	}
	var out []*tree_sitter.Node
	for i := uint(0); i < node.ChildCount(); i++ {
		if child := node.Child(i); child != nil && child.Kind() == kind {
			out = append(out, child)
		}
	}
	return out
}

// Children returns every direct child of node.
func Children(node *tree_sitter.Node) []*tree_sitter.Node {
	if node == nil {
		return nil
	}
	out := make([]*tree_sitter.Node, 0, node.ChildCount())
	for i := uint(0); i < node.ChildCount(); i++ {
		if child := node.Child(i); child != nil {
			out = append(out, child)
		}
	}
	return out
}

// FieldByName returns node's child registered under the given grammar
// field name, or nil.
func FieldByName(node *tree_sitter.Node, name string) *tree_sitter.Node {
	if node == nil {
		return nil
	}
	return node.ChildByFieldName(name)
}
