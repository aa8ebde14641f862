package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/piprate/json-gold/ld"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/apigraph-go/internal/apierr"
	"github.com/Benny93/apigraph-go/internal/graph"
	"github.com/Benny93/apigraph-go/internal/parsers"
	"github.com/Benny93/apigraph-go/internal/vocab"
)

type docs map[string]string

func (d docs) Fetch(_ context.Context, uri string) ([]byte, error) {
	data, ok := d[uri]
	if !ok {
		return nil, fmt.Errorf("%s: %w", uri, fs.ErrNotExist)
	}
	return []byte(data), nil
}

const petsOAS = `openapi: 3.0.0
info:
  title: Pets
  version: "2.1"
  description: pet store
paths:
  /pets/{id}:
    get:
      operationId: getPet
      tags: [pets]
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: integer
            minimum: 1
      responses:
        "200":
          description: one pet
          content:
            application/json:
              schema:
                $ref: "#/components/schemas/Pet"
components:
  schemas:
    Pet:
      type: object
      required: [name]
      properties:
        name:
          type: string
          maxLength: 64
        friends:
          type: array
          items:
            $ref: "#/components/schemas/Pet"
`

const libraryRAML = `#%RAML 1.0
title: Library
version: v1
traits:
  paged:
    queryParameters:
      limit:
        type: integer
        default: 20
types:
  Book:
    properties:
      title: string
      isbn?: string
/books:
  is: [paged]
  get:
    responses:
      200:
        body:
          application/json:
            type: Book[]
`

func parse(t *testing.T, uri, text string, d parsers.Dialect) *graph.Graph {
	t.Helper()
	g, err := parsers.New(parsers.Options{Fetcher: docs{uri: text}}).Parse(context.Background(), uri, d)
	require.NoError(t, err)
	return g
}

// quads expands a rendered document with a JSON-LD processor and returns
// its statements in the form graph.Triples uses.
func quads(t *testing.T, text string) []graph.Triple {
	t.Helper()

	var doc any
	require.NoError(t, json.Unmarshal([]byte(text), &doc))

	proc := ld.NewJsonLdProcessor()
	res, err := proc.ToRDF(doc, ld.NewJsonLdOptions(""))
	require.NoError(t, err)
	ds, ok := res.(*ld.RDFDataset)
	require.True(t, ok)

	seen := make(map[graph.Triple]bool)
	for _, q := range ds.Graphs["@default"] {
		require.True(t, ld.IsIRI(q.Subject), "blank subject %v", q.Subject)
		tr := graph.Triple{Subject: q.Subject.GetValue(), Predicate: q.Predicate.GetValue()}
		if lit, ok := q.Object.(*ld.Literal); ok {
			tr.Object, tr.Literal, tr.Datatype = lit.Value, true, lit.Datatype
		} else {
			tr.Object = q.Object.GetValue()
		}
		seen[tr] = true
	}
	out := make([]graph.Triple, 0, len(seen))
	for tr := range seen {
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func TestGenerateString_RoundTrip(t *testing.T) {
	t.Parallel()

	graphs := map[string]*graph.Graph{
		"OAS 3.0":  parse(t, "file:///pets.yaml", petsOAS, parsers.OAS30),
		"RAML 1.0": parse(t, "file:///lib.raml", libraryRAML, parsers.RAML10),
	}
	for name, g := range graphs {
		want := g.Triples()
		require.NotEmpty(t, want)

		for _, compact := range []bool{true, false} {
			t.Run(fmt.Sprintf("%s compact=%t", name, compact), func(t *testing.T) {
				t.Parallel()
				doc, err := GenerateString(g, Options{CompactURIs: compact, SourceMaps: true, Indent: "  "})
				require.NoError(t, err)
				assert.Equal(t, MediaType, doc.MediaType)
				if diff := cmp.Diff(want, quads(t, doc.Text)); diff != "" {
					t.Errorf("statements differ (-graph +json-ld):\n%s", diff)
				}
			})
		}
	}
}

func TestGenerateString_CompactAndAbsoluteAgree(t *testing.T) {
	t.Parallel()

	g := parse(t, "file:///pets.yaml", petsOAS, parsers.OAS30)
	compact, err := GenerateString(g, Options{CompactURIs: true})
	require.NoError(t, err)
	absolute, err := GenerateString(g, Options{})
	require.NoError(t, err)

	assert.NotEqual(t, compact.Text, absolute.Text)
	assert.Equal(t, quads(t, absolute.Text), quads(t, compact.Text))
	assert.NotContains(t, absolute.Text, "@context")
}

func decode(t *testing.T, doc *Document) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc.Text), &out))
	return out
}

// bodies counts the node objects carrying a body (@type) per @id.
func bodies(v any, counts map[string]int) {
	switch x := v.(type) {
	case map[string]any:
		if _, ok := x["@type"]; ok {
			counts[x["@id"].(string)]++
		}
		for k, val := range x {
			if k != "@context" {
				bodies(val, counts)
			}
		}
	case []any:
		for _, item := range x {
			bodies(item, counts)
		}
	}
}

func cyclicGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.NewGraph()
	root := graph.NewNode("file:///a.yaml#/web-api", vocab.TypeWebAPI)
	root.Set(vocab.PropName, graph.String("A <b> & c"))
	root.Set(vocab.PropEndpoint, graph.RefList("file:///a.yaml#/paths/~1x", "file:///a.yaml#/paths/~1y"))
	x := graph.NewNode("file:///a.yaml#/paths/~1x", vocab.TypeEndPoint)
	x.Set(vocab.PropPath, graph.String("/x"))
	x.Set(vocab.PropExtends, graph.RefList("file:///a.yaml#/paths/~1y", "file:///a.yaml#/web-api"))
	y := graph.NewNode("file:///a.yaml#/paths/~1y", vocab.TypeEndPoint)
	y.Set(vocab.PropPath, graph.String("/y"))
	y.Source = &graph.SourceLocation{URI: "file:///a.yaml", Line: 7, Column: 3}
	orphan := graph.NewNode("file:///b.yaml#/types/T", vocab.TypeNodeShape, vocab.TypeShape)
	orphan.Set(vocab.PropMinLength, graph.Int(3))
	orphan.Set(vocab.PropIn, graph.List(graph.List(graph.String("a"), graph.String("b")), graph.Bool(true)))

	for _, n := range []*graph.DocumentNode{root, x, y, orphan} {
		require.NoError(t, g.AddNode(n))
	}
	g.SetRoot(root.ID)
	return g
}

func TestGenerateString_Embedding(t *testing.T) {
	t.Parallel()

	g := cyclicGraph(t)
	doc, err := GenerateString(g, Options{})
	require.NoError(t, err)
	out := decode(t, doc)

	entries := out["@graph"].([]any)
	require.Len(t, entries, 2)
	assert.Equal(t, "file:///a.yaml#/web-api", entries[0].(map[string]any)["@id"])
	assert.Equal(t, "file:///b.yaml#/types/T", entries[1].(map[string]any)["@id"])

	counts := make(map[string]int)
	bodies(out, counts)
	assert.Equal(t, map[string]int{
		"file:///a.yaml#/web-api":   1,
		"file:///a.yaml#/paths/~1x": 1,
		"file:///a.yaml#/paths/~1y": 1,
		"file:///b.yaml#/types/T":   1,
	}, counts)

	// Nested lists flatten; markup characters are not escaped.
	orphan := entries[1].(map[string]any)
	assert.Equal(t, []any{"a", "b", true}, orphan[vocab.PropIn])
	assert.Contains(t, doc.Text, `"A <b> & c"`)

	again, err := GenerateString(g, Options{})
	require.NoError(t, err)
	assert.Equal(t, doc.Text, again.Text)
}

func TestGenerateString_CompactContext(t *testing.T) {
	t.Parallel()

	doc, err := GenerateString(cyclicGraph(t), Options{CompactURIs: true, Indent: "  "})
	require.NoError(t, err)
	out := decode(t, doc)

	ctx := out["@context"].(map[string]any)
	assert.Equal(t, "file:///a.yaml#", ctx["src"])
	assert.Equal(t, "file:///b.yaml#", ctx["src1"])
	assert.Equal(t, vocab.Core, ctx["core"])

	root := out["@graph"].([]any)[0].(map[string]any)
	assert.Equal(t, "src:/web-api", root["@id"])
	assert.Equal(t, []any{"apiContract:WebAPI"}, root["@type"])
	assert.Equal(t, "A <b> & c", root["core:name"])
	assert.NotContains(t, root, "smaps")
}

func TestGenerateString_SourceMaps(t *testing.T) {
	t.Parallel()

	g := cyclicGraph(t)
	with, err := GenerateString(g, Options{SourceMaps: true})
	require.NoError(t, err)
	without, err := GenerateString(g, Options{})
	require.NoError(t, err)

	assert.Contains(t, with.Text, `"smaps":{"lexical":{"column":3,"line":7,"uri":"file:///a.yaml"}}`)
	assert.NotContains(t, without.Text, "smaps")
	assert.Equal(t, quads(t, without.Text), quads(t, with.Text))
	assert.Equal(t, 1, strings.Count(with.Text, "\n"), "unindented output is one line")
}

func TestGenerateString_Errors(t *testing.T) {
	t.Parallel()

	g := graph.NewGraph()
	n := graph.NewNode("file:///a.yaml#/web-api", vocab.TypeWebAPI)
	n.Set(vocab.PropMinInclusive, graph.Float(math.Inf(1)))
	require.NoError(t, g.AddNode(n))
	g.SetRoot(n.ID)

	_, err := GenerateString(g, DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apierr.ErrSerialization))
}

func TestGenerateString_Empty(t *testing.T) {
	t.Parallel()

	doc, err := GenerateString(graph.NewGraph(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "{\"@graph\":[]}\n", doc.Text)
}
