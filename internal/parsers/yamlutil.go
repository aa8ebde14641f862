package parsers

import (
	"encoding/json"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Benny93/apigraph-go/internal/graph"
)

const includeTag = "!include"

// pointer is a JSON pointer whose segments are already escaped for use in
// an IRI fragment. The empty pointer addresses the whole document.
type pointer string

func (p pointer) child(segs ...string) pointer {
	var b strings.Builder
	b.WriteString(string(p))
	for _, s := range segs {
		b.WriteByte('/')
		b.WriteString(escapeSegment(s))
	}
	return pointer(b.String())
}

func escapeSegment(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	s = strings.ReplaceAll(s, "/", "~1")
	return url.PathEscape(s)
}

func unescapeSegment(s string) string {
	if u, err := url.PathUnescape(s); err == nil {
		s = u
	}
	s = strings.ReplaceAll(s, "~1", "/")
	return strings.ReplaceAll(s, "~0", "~")
}

// parsePointer normalizes a fragment such as "/components/schemas/Pet"
// written by hand in a $ref.
func parsePointer(frag string) pointer {
	if frag == "" || frag == "/" {
		return ""
	}
	var p pointer
	for _, seg := range strings.Split(strings.TrimPrefix(frag, "/"), "/") {
		p = p.child(unescapeSegment(seg))
	}
	return p
}

// pos locates a node being built: ids are formed from base and ptr, while
// source locations point into the document src the syntax came from. The
// two differ for included fragments and overlay layers.
type pos struct {
	base string
	ptr  pointer
	src  string
}

func (p pos) id() string { return p.base + "#" + string(p.ptr) }

func (p pos) child(segs ...string) pos {
	return pos{base: p.base, ptr: p.ptr.child(segs...), src: p.src}
}

type entry struct {
	Key     string
	KeyNode *yaml.Node
	Value   *yaml.Node
}

func unalias(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	if n != nil && n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		return unalias(n.Content[0])
	}
	return n
}

// entries returns the key/value pairs of a mapping in document order.
func entries(n *yaml.Node) []entry {
	n = unalias(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	out := make([]entry, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		out = append(out, entry{Key: n.Content[i].Value, KeyNode: n.Content[i], Value: n.Content[i+1]})
	}
	return out
}

func lookup(n *yaml.Node, key string) *yaml.Node {
	n = unalias(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

func str(n *yaml.Node, key string) string {
	v := unalias(lookup(n, key))
	if v == nil || v.Kind != yaml.ScalarNode || v.ShortTag() == "!!null" {
		return ""
	}
	return v.Value
}

func items(n *yaml.Node) []*yaml.Node {
	n = unalias(n)
	if n == nil || n.Kind != yaml.SequenceNode {
		return nil
	}
	return n.Content
}

func isMap(n *yaml.Node) bool {
	n = unalias(n)
	return n != nil && n.Kind == yaml.MappingNode
}

func isScalar(n *yaml.Node) bool {
	n = unalias(n)
	return n != nil && n.Kind == yaml.ScalarNode && n.ShortTag() != "!!null"
}

func isNull(n *yaml.Node) bool {
	n = unalias(n)
	return n == nil || (n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null")
}

// stringList reads a scalar or a sequence of scalars.
func stringList(n *yaml.Node) []string {
	n = unalias(n)
	if n == nil {
		return nil
	}
	if n.Kind == yaml.ScalarNode {
		if n.ShortTag() == "!!null" {
			return nil
		}
		return []string{n.Value}
	}
	var out []string
	for _, it := range items(n) {
		if isScalar(it) {
			out = append(out, unalias(it).Value)
		}
	}
	return out
}

// scalarValue converts a YAML scalar into a typed graph value.
func scalarValue(n *yaml.Node) (graph.Value, bool) {
	n = unalias(n)
	if n == nil || n.Kind != yaml.ScalarNode {
		return graph.Value{}, false
	}
	switch n.ShortTag() {
	case "!!null":
		return graph.Value{}, false
	case "!!int":
		var i int64
		if err := n.Decode(&i); err == nil {
			return graph.Int(i), true
		}
	case "!!float":
		var f float64
		if err := n.Decode(&f); err == nil {
			return graph.Float(f), true
		}
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err == nil {
			return graph.Bool(b), true
		}
	}
	return graph.String(n.Value), true
}

// dataValue converts arbitrary YAML into a graph value: scalars stay typed,
// sequences become lists and mappings are kept as their JSON text.
func dataValue(n *yaml.Node) (graph.Value, bool) {
	n = unalias(n)
	if n == nil {
		return graph.Value{}, false
	}
	switch n.Kind {
	case yaml.ScalarNode:
		return scalarValue(n)
	case yaml.SequenceNode:
		var out []graph.Value
		for _, it := range n.Content {
			if v, ok := dataValue(it); ok {
				out = append(out, v)
			}
		}
		return graph.List(out...), true
	case yaml.MappingNode:
		var decoded any
		if err := n.Decode(&decoded); err != nil {
			return graph.Value{}, false
		}
		data, err := json.Marshal(jsonCompatible(decoded))
		if err != nil {
			return graph.Value{}, false
		}
		return graph.String(string(data)), true
	}
	return graph.Value{}, false
}

// jsonCompatible rewrites map[any]any produced by YAML merge keys into
// string keyed maps.
func jsonCompatible(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = jsonCompatible(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if ks, ok := k.(string); ok {
				out[ks] = jsonCompatible(val)
			}
		}
		return out
	case []any:
		for i := range t {
			t[i] = jsonCompatible(t[i])
		}
		return t
	}
	return v
}
