// Package render serializes an API graph as a JSON-LD document.
//
// The document is a single object with a @graph array. The first entry is
// the API root with every node reachable from it embedded depth first; a node
// is embedded at its first occurrence and referenced by @id afterwards.
// Nodes unreachable from the root follow, sorted by IRI. Output is stable:
// object keys are sorted and list order follows the graph.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Benny93/apigraph-go/internal/apierr"
	"github.com/Benny93/apigraph-go/internal/graph"
	"github.com/Benny93/apigraph-go/internal/vocab"
)

// MediaType is the media type of every rendered document.
const MediaType = "application/ld+json"

// Options controls the shape of the output.
type Options struct {
	// CompactURIs writes prefix:suffix names declared in @context instead of
	// absolute IRIs.
	CompactURIs bool

	// SourceMaps adds an smaps entry with the source position of each node.
	// smaps is not a mapped term, so JSON-LD processors ignore it.
	SourceMaps bool

	// Indent is the per-level indentation. Empty writes a single line.
	Indent string
}

// DefaultOptions matches the command line defaults.
func DefaultOptions() Options {
	return Options{CompactURIs: true, SourceMaps: true, Indent: "  "}
}

// Document is a rendered model.
type Document struct {
	Text      string
	MediaType string
}

// GenerateString renders g.
func GenerateString(g *graph.Graph, opts Options) (*Document, error) {
	w := newWriter(g, opts)
	out := make(map[string]any, 2)
	if opts.CompactURIs {
		out["@context"] = w.context()
	}
	out["@graph"] = w.nodes()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", opts.Indent)
	if err := enc.Encode(out); err != nil {
		return nil, &apierr.SerializationError{Err: err}
	}
	return &Document{Text: buf.String(), MediaType: MediaType}, nil
}

type writer struct {
	g       *graph.Graph
	opts    Options
	prefix  vocab.PrefixMap
	visited map[string]bool
}

func newWriter(g *graph.Graph, opts Options) *writer {
	w := &writer{g: g, opts: opts, visited: make(map[string]bool)}
	if opts.CompactURIs {
		w.prefix = vocab.PrefixMap(vocab.Prefixes())
		for name, base := range documentPrefixes(g) {
			w.prefix[name] = base
		}
	}
	return w
}

// documentPrefixes names the base IRI of each source document: src for the
// root document, then src1, src2 and so on in IRI order.
func documentPrefixes(g *graph.Graph) map[string]string {
	rootBase := base(g.Root())
	seen := make(map[string]bool)
	var others []string
	for _, id := range g.NodeIDs() {
		b := base(id)
		if b == "" || b == rootBase || seen[b] {
			continue
		}
		seen[b] = true
		others = append(others, b)
	}
	sort.Strings(others)

	out := make(map[string]string, len(others)+1)
	if rootBase != "" {
		out["src"] = rootBase
	}
	for i, b := range others {
		out["src"+strconv.Itoa(i+1)] = b
	}
	return out
}

// base returns the document part of a node IRI including the fragment mark.
func base(id string) string {
	i := strings.IndexByte(id, '#')
	if i < 0 {
		return ""
	}
	return id[:i+1]
}

func (w *writer) context() map[string]any {
	ctx := make(map[string]any, len(w.prefix))
	for name, ns := range w.prefix {
		ctx[name] = ns
	}
	return ctx
}

func (w *writer) iri(s string) string {
	if w.prefix == nil {
		return s
	}
	return w.prefix.Compact(s)
}

func (w *writer) nodes() []any {
	var out []any
	if root := w.g.RootNode(); root != nil {
		out = append(out, w.node(root))
	}
	for _, n := range w.g.Nodes() {
		if !w.visited[n.ID] {
			out = append(out, w.node(n))
		}
	}
	if out == nil {
		out = []any{}
	}
	return out
}

func (w *writer) node(n *graph.DocumentNode) map[string]any {
	w.visited[n.ID] = true

	obj := make(map[string]any, len(n.Properties)+3)
	obj["@id"] = w.iri(n.ID)
	types := make([]any, 0, len(n.Types))
	for _, t := range n.Types {
		types = append(types, w.iri(t))
	}
	obj["@type"] = types

	for _, prop := range n.PropertyNames() {
		obj[w.iri(prop)] = w.value(n.Properties[prop])
	}
	if w.opts.SourceMaps && n.Source != nil {
		obj["smaps"] = map[string]any{
			"lexical": map[string]any{
				"uri":    n.Source.URI,
				"line":   n.Source.Line,
				"column": n.Source.Column,
			},
		}
	}
	return obj
}

func (w *writer) value(v graph.Value) any {
	switch v.Kind {
	case graph.KindRef:
		return w.ref(v.Ref)
	case graph.KindList:
		items := make([]any, 0, len(v.List))
		w.flatten(v, &items)
		return items
	}
	return v.Scalar
}

// flatten appends the members of nested lists in order; JSON-LD sets do not
// nest.
func (w *writer) flatten(v graph.Value, items *[]any) {
	for _, item := range v.List {
		if item.Kind == graph.KindList {
			w.flatten(item, items)
			continue
		}
		*items = append(*items, w.value(item))
	}
}

func (w *writer) ref(id string) any {
	if n := w.g.GetNode(id); n != nil && !w.visited[id] {
		return w.node(n)
	}
	return map[string]any{"@id": w.iri(id)}
}

// String implements fmt.Stringer for log output.
func (d *Document) String() string {
	return fmt.Sprintf("%s (%d bytes)", d.MediaType, len(d.Text))
}
