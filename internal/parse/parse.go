// Package parse implements the default Parser adapter behind the
// Scan/Rescan Service: a tree-sitter walk over Go source that emits one
// graph.NodeRef per function, method and type declaration (type
// declarations inside function bodies included). A node's canonical path
// is its bare name, or Receiver.Method for a method; the package name is
// not part of it. The Edit Resolver's canonical mode finds a node by that
// name within its file again after the file changes shape.
package parse

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"ploke/internal/graph"
	"ploke/internal/hash"
	"ploke/internal/logging"
)

// Parser is the interface the Scan/Rescan Service depends on. The
// tree-sitter-backed implementation below is Go-only; a future
// implementation could swap in other smacker/go-tree-sitter grammars
// behind the same interface.
type Parser interface {
	// Parse extracts NodeRefs from a file's content. fileTrackingHash is
	// stamped onto every returned NodeRef so the Code-Graph Store can
	// detect staleness without re-parsing.
	Parse(filePath string, content []byte, fileTrackingHash hash.Tracking) ([]graph.NodeRef, error)
	Close()
}

// GoParser walks Go source with tree-sitter, extracting functions,
// methods, and type declarations (structs and interfaces) as nodes.
type GoParser struct {
	parser *sitter.Parser
}

// NewGoParser constructs a ready-to-use Go parser.
func NewGoParser() *GoParser {
	p := sitter.NewParser()
	p.SetLanguage(golang.GetLanguage())
	return &GoParser{parser: p}
}

// Close releases the underlying tree-sitter parser.
func (g *GoParser) Close() { g.parser.Close() }

// Parse implements Parser.
func (g *GoParser) Parse(filePath string, content []byte, fileTrackingHash hash.Tracking) ([]graph.NodeRef, error) {
	tree, err := g.parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse: %s: %w", filePath, err)
	}
	defer tree.Close()

	var nodes []graph.NodeRef
	walk(tree.RootNode(), content, filePath, fileTrackingHash, &nodes)
	logging.ParseDebug("parsed %s: %d nodes", filePath, len(nodes))
	return nodes, nil
}

func walk(n *sitter.Node, src []byte, filePath string, fth hash.Tracking, out *[]graph.NodeRef) {
	switch n.Type() {
	case "function_declaration":
		if name := n.ChildByFieldName("name"); name != nil {
			emit(out, filePath, fth, n, "function", name.Content(src))
		}
	case "method_declaration":
		name := n.ChildByFieldName("name")
		receiver := n.ChildByFieldName("receiver")
		if name != nil && receiver != nil {
			recvType := receiverTypeName(receiver, src)
			emit(out, filePath, fth, n, "method", fmt.Sprintf("%s.%s", recvType, name.Content(src)))
		}
	case "type_declaration":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			spec := n.NamedChild(i)
			if spec.Type() != "type_spec" {
				continue
			}
			name := spec.ChildByFieldName("name")
			if name == nil {
				continue
			}
			kind := "type"
			if t := spec.ChildByFieldName("type"); t != nil {
				switch t.Type() {
				case "struct_type":
					kind = "struct"
				case "interface_type":
					kind = "interface"
				}
			}
			emit(out, filePath, fth, spec, kind, name.Content(src))
		}
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), src, filePath, fth, out)
	}
}

// receiverTypeName extracts "Foo" from a receiver field list like
// "(f *Foo)" so method canon paths read Foo.Method rather than f.Method.
func receiverTypeName(receiver *sitter.Node, src []byte) string {
	for i := 0; i < int(receiver.NamedChildCount()); i++ {
		param := receiver.NamedChild(i)
		t := param.ChildByFieldName("type")
		if t == nil {
			continue
		}
		text := t.Content(src)
		for len(text) > 0 && text[0] == '*' {
			text = text[1:]
		}
		return text
	}
	return ""
}

func emit(out *[]graph.NodeRef, filePath string, fth hash.Tracking, n *sitter.Node, kind, name string) {
	*out = append(*out, graph.NodeRef{
		FilePath:         filePath,
		StartByte:        int(n.StartByte()),
		EndByte:          int(n.EndByte()),
		NodeKind:         kind,
		CanonPath:        name,
		FileTrackingHash: fth,
	})
}
