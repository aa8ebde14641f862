package parsers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/apigraph-go/internal/apierr"
	"github.com/Benny93/apigraph-go/internal/graph"
	"github.com/Benny93/apigraph-go/internal/vocab"
)

// memFetcher serves documents from memory, keyed by absolute URI.
type memFetcher map[string]string

func (m memFetcher) Fetch(_ context.Context, uri string) ([]byte, error) {
	data, ok := m[uri]
	if !ok {
		return nil, fmt.Errorf("%s: %w", uri, fs.ErrNotExist)
	}
	return []byte(data), nil
}

func parse(t *testing.T, docs memFetcher, location string, d Dialect) (*graph.Graph, error) {
	t.Helper()
	return New(Options{Fetcher: docs}).Parse(context.Background(), location, d)
}

func mustParse(t *testing.T, docs memFetcher, location string, d Dialect) *graph.Graph {
	t.Helper()
	g, err := parse(t, docs, location, d)
	require.NoError(t, err)
	return g
}

func TestParse_OAS30(t *testing.T) {
	t.Parallel()

	docs := memFetcher{"file:///api/api.yaml": `openapi: 3.0.0
info:
  title: Ping
  version: "1.0"
paths:
  /ping:
    get:
      operationId: ping
      responses:
        "200":
          description: pong
`}
	g := mustParse(t, docs, "file:///api/api.yaml", OAS30)

	root := g.RootNode()
	require.NotNil(t, root)
	assert.Equal(t, "file:///api/api.yaml#/web-api", root.ID)
	assert.True(t, root.HasType(vocab.TypeWebAPI))
	assert.Equal(t, "Ping", root.Str(vocab.PropName))
	assert.Equal(t, "1.0", root.Str(vocab.PropVersion))

	eps := root.Refs(vocab.PropEndpoint)
	require.Len(t, eps, 1)
	ep := g.GetNode(eps[0])
	require.NotNil(t, ep)
	assert.Equal(t, "/ping", ep.Str(vocab.PropPath))

	ops := ep.Refs(vocab.PropOperation)
	require.Len(t, ops, 1)
	op := g.GetNode(ops[0])
	require.NotNil(t, op)
	assert.Equal(t, "get", op.Str(vocab.PropMethod))
	assert.Equal(t, "ping", op.Str(vocab.PropOperationID))

	resps := op.Refs(vocab.PropReturns)
	require.Len(t, resps, 1)
	resp := g.GetNode(resps[0])
	require.NotNil(t, resp)
	assert.Equal(t, "200", resp.Str(vocab.PropStatusCode))

	require.NotNil(t, op.Source)
	assert.Equal(t, "file:///api/api.yaml", op.Source.URI)
	assert.Positive(t, op.Source.Line)
	assert.Empty(t, g.DanglingReferences())
}

func TestParse_SelfReferencingSchema(t *testing.T) {
	t.Parallel()

	docs := memFetcher{"file:///api/api.yaml": `openapi: 3.0.0
info: {title: T, version: "1"}
paths: {}
components:
  schemas:
    Node:
      type: object
      properties:
        next:
          $ref: '#/components/schemas/Node'
`}
	g := mustParse(t, docs, "file:///api/api.yaml", OAS30)

	decl := "file:///api/api.yaml#/components/schemas/Node"
	require.True(t, g.HasNode(decl))
	assert.Contains(t, g.RootNode().Refs(vocab.PropDeclares), decl)

	link := g.GetNode(decl + "/properties/next")
	require.NotNil(t, link)
	assert.True(t, link.HasType(vocab.TypeLinkable))
	assert.Equal(t, []string{decl}, link.Refs(vocab.PropLinkTarget))
	assert.Empty(t, g.DanglingReferences())
}

func TestParse_SelfReferencingSchemaFile(t *testing.T) {
	t.Parallel()

	docs := memFetcher{
		"file:///api/api.yaml": `openapi: 3.0.0
info: {title: T, version: "1"}
paths: {}
components:
  schemas:
    Node:
      $ref: 'node.yaml'
`,
		"file:///api/node.yaml": `type: object
properties:
  next:
    $ref: 'node.yaml'
`,
	}
	g := mustParse(t, docs, "file:///api/api.yaml", OAS30)

	const file = "file:///api/node.yaml#"
	decl := g.GetNode("file:///api/api.yaml#/components/schemas/Node")
	require.NotNil(t, decl)
	assert.True(t, decl.HasType(vocab.TypeLinkable))
	assert.Equal(t, []string{file}, decl.Refs(vocab.PropLinkTarget))

	body := g.GetNode(file)
	require.NotNil(t, body)
	assert.True(t, body.HasType(vocab.TypeNodeShape))

	next := g.GetNode(file + "/properties/next")
	require.NotNil(t, next)
	assert.True(t, next.HasType(vocab.TypeLinkable))
	assert.Equal(t, []string{file}, next.Refs(vocab.PropLinkTarget))
	assert.Empty(t, g.DanglingReferences())
}

func TestParse_RAMLTraits(t *testing.T) {
	t.Parallel()

	docs := memFetcher{"file:///api/api.raml": `#%RAML 1.0
title: Users
version: v1
mediaType: application/json
traits:
  paged:
    queryParameters:
      limit:
        type: integer
        default: <<size>>
/users:
  get:
    is: [ paged: { size: 10 } ]
    responses:
      200:
        body:
          type: string
`}
	g := mustParse(t, docs, "file:///api/api.raml", RAML10)

	const base = "file:///api/api.raml#"
	trait := g.GetNode(base + "/traits/paged")
	require.NotNil(t, trait)
	assert.True(t, trait.HasType(vocab.TypeTrait))
	assert.Equal(t, "paged", trait.Str(vocab.PropName))
	assert.Contains(t, g.RootNode().Refs(vocab.PropDeclares), trait.ID)

	op := g.GetNode(base + "/~1users/get")
	require.NotNil(t, op)
	apps := op.Refs(vocab.PropExtends)
	require.Len(t, apps, 1)

	app := g.GetNode(apps[0])
	require.NotNil(t, app)
	assert.True(t, app.HasType(vocab.TypeParametrizedTrait))
	assert.Equal(t, []string{trait.ID}, app.Refs(vocab.PropTarget))

	vars := app.Refs(vocab.PropVariable)
	require.Len(t, vars, 1)
	v := g.GetNode(vars[0])
	require.NotNil(t, v)
	assert.Equal(t, "size", v.Str(vocab.PropName))
	val, ok := v.Get(vocab.PropValue)
	require.True(t, ok)
	assert.Equal(t, graph.Int(10), val)

	resp := g.GetNode(base + "/~1users/get/responses/200")
	require.NotNil(t, resp)
	pls := resp.Refs(vocab.PropPayload)
	require.Len(t, pls, 1)
	assert.Equal(t, "application/json", g.GetNode(pls[0]).Str(vocab.PropMediaType))
}

func TestParse_RAMLTypes(t *testing.T) {
	t.Parallel()

	docs := memFetcher{
		"file:///api/api.raml": `#%RAML 1.0
title: Types
types:
  User:
    properties:
      name: string
      nick?: string
  Users: User[] | nil
/users:
  post:
    body:
      application/json: !include user.json
`,
		"file:///api/user.json": `{"type": "object", "properties": {"id": {"type": "integer"}}}`,
	}
	g := mustParse(t, docs, "file:///api/api.raml", RAML10)

	const base = "file:///api/api.raml#"
	user := g.GetNode(base + "/types/User")
	require.NotNil(t, user)
	assert.True(t, user.HasType(vocab.TypeNodeShape))
	require.Len(t, user.Refs(vocab.PropProperty), 2)

	nick := g.GetNode(base + "/types/User/property/nick")
	require.NotNil(t, nick)
	assert.Equal(t, "nick", nick.Str(vocab.PropName))
	minCount, _ := nick.Get(vocab.PropMinCount)
	assert.Equal(t, graph.Int(0), minCount)

	users := g.GetNode(base + "/types/Users")
	require.NotNil(t, users)
	assert.True(t, users.HasType(vocab.TypeUnionShape))
	alts := users.Refs(vocab.PropAnyOf)
	require.Len(t, alts, 2)
	arr := g.GetNode(alts[0])
	require.NotNil(t, arr)
	assert.True(t, arr.HasType(vocab.TypeArrayShape))
	items := g.GetNode(arr.Refs(vocab.PropItems)[0])
	require.NotNil(t, items)
	assert.Equal(t, []string{user.ID}, items.Refs(vocab.PropLinkTarget))
	assert.True(t, g.GetNode(alts[1]).HasType(vocab.TypeNilShape))

	schema := g.GetNode(base + "/~1users/post/body/application~1json/schema")
	require.NotNil(t, schema)
	assert.True(t, schema.HasType(vocab.TypeNodeShape))
	require.NotNil(t, schema.Source)
	assert.Equal(t, "file:///api/user.json", schema.Source.URI)
}

func TestParse_RAMLOverlay(t *testing.T) {
	t.Parallel()

	docs := memFetcher{
		"file:///api/api.raml": `#%RAML 1.0
title: Base
/users:
  get:
    description: list
`,
		"file:///api/overlay.raml": `#%RAML 1.0 Overlay
extends: api.raml
/users:
  get:
    description: list users
`,
	}
	g := mustParse(t, docs, "file:///api/overlay.raml", RAML10)

	assert.Equal(t, "file:///api/api.raml#/web-api", g.Root())
	op := g.GetNode("file:///api/api.raml#/~1users/get")
	require.NotNil(t, op)
	assert.Equal(t, "list", op.Str(vocab.PropDescription))

	layers := g.Extensions()
	require.Len(t, layers, 1)
	layered := layers[0].GetNode(op.ID)
	require.NotNil(t, layered)
	assert.Equal(t, "list users", layered.Str(vocab.PropDescription))
	require.NotNil(t, layered.Source)
	assert.Equal(t, "file:///api/overlay.raml", layered.Source.URI)
}

const petsOAS20 = `swagger: "2.0"
info:
  title: Pet Store
  version: "1.0"
host: pets.example.com
basePath: /v1
schemes: [https]
consumes: [application/json]
produces: [application/json]
paths:
  /pets:
    get:
      operationId: listPets
      parameters:
        - name: limit
          in: query
          type: integer
      responses:
        "200":
          description: all pets
          schema:
            type: array
            items:
              $ref: '#/definitions/Pet'
    post:
      operationId: createPet
      parameters:
        - name: pet
          in: body
          required: true
          schema:
            $ref: '#/definitions/Pet'
      responses:
        "201":
          description: created
  /photos:
    put:
      operationId: uploadPhoto
      consumes: [multipart/form-data]
      parameters:
        - name: id
          in: formData
          required: true
          type: string
        - name: photo
          in: formData
          type: file
      responses:
        "204":
          description: stored
definitions:
  Pet:
    type: object
    required: [name]
    properties:
      name:
        type: string
`

const petsRAML08 = `#%RAML 0.8
title: Pet Store
version: v1
baseUri: https://pets.example.com/v1
mediaType: application/json
schemas:
  - pet: |
      {
        "type": "object",
        "properties": {"name": {"type": "string"}},
        "required": ["name"]
      }
traits:
  - paged:
      queryParameters:
        page:
          type: integer
          minimum: 1
resourceTypes:
  - collection:
      description: a collection
      get:
        is: [ paged ]
        responses:
          200:
            description: the collection
/pets:
  type: collection
  post:
    body:
      application/json:
        schema: pet
      application/x-www-form-urlencoded:
        formParameters:
          name:
            type: string
            required: true
    responses:
      201:
        description: created
`

// single returns the one node referenced by prop.
func single(t *testing.T, g *graph.Graph, n *graph.DocumentNode, prop string) *graph.DocumentNode {
	t.Helper()
	ids := n.Refs(prop)
	require.Len(t, ids, 1, prop)
	out := g.GetNode(ids[0])
	require.NotNil(t, out, ids[0])
	return out
}

func stringValues(n *graph.DocumentNode, prop string) []string {
	v, _ := n.Get(prop)
	var out []string
	for _, item := range v.List {
		if s, ok := item.AsString(); ok {
			out = append(out, s)
		}
	}
	return out
}

func TestParse_OAS20(t *testing.T) {
	t.Parallel()

	const base = "file:///api/pets.yaml#"
	g := mustParse(t, memFetcher{"file:///api/pets.yaml": petsOAS20}, "file:///api/pets.yaml", OAS20)

	root := g.RootNode()
	require.NotNil(t, root)
	assert.Equal(t, "Pet Store", root.Str(vocab.PropName))
	assert.Equal(t, []string{"application/json"}, stringValues(root, vocab.PropAccepts))
	assert.Equal(t, []string{"application/json"}, stringValues(root, vocab.PropContentType))
	assert.Equal(t, []string{"https"}, stringValues(root, vocab.PropScheme))
	assert.Equal(t, "https://pets.example.com/v1", single(t, g, root, vocab.PropServer).Str(vocab.PropURLTemplate))

	pet := g.GetNode(base + "/definitions/Pet")
	require.NotNil(t, pet)
	assert.True(t, pet.HasType(vocab.TypeNodeShape))
	assert.Equal(t, "Pet", pet.Str(vocab.PropName))
	assert.Contains(t, root.Refs(vocab.PropDeclares), pet.ID)
	assert.Empty(t, g.DanglingReferences())

	ops := make(map[string]*graph.DocumentNode)
	for _, op := range g.NodesByType(vocab.TypeOperation) {
		ops[op.Str(vocab.PropOperationID)] = op
	}

	tests := []struct {
		operationID string
		method      string
		check       func(t *testing.T, op *graph.DocumentNode)
	}{
		{
			operationID: "listPets",
			method:      "get",
			check: func(t *testing.T, op *graph.DocumentNode) {
				limit := single(t, g, single(t, g, op, vocab.PropExpects), vocab.PropParameter)
				assert.Equal(t, "limit", limit.Str(vocab.PropParamName))
				assert.Equal(t, "query", limit.Str(vocab.PropBinding))

				resp := single(t, g, op, vocab.PropReturns)
				assert.Equal(t, "200", resp.Str(vocab.PropStatusCode))
				pl := single(t, g, resp, vocab.PropPayload)
				assert.Equal(t, "application/json", pl.Str(vocab.PropMediaType))
				list := single(t, g, pl, vocab.PropSchema)
				assert.True(t, list.HasType(vocab.TypeArrayShape))
				items := single(t, g, list, vocab.PropItems)
				assert.True(t, items.HasType(vocab.TypeLinkable))
				assert.Equal(t, []string{pet.ID}, items.Refs(vocab.PropLinkTarget))
			},
		},
		{
			operationID: "createPet",
			method:      "post",
			check: func(t *testing.T, op *graph.DocumentNode) {
				req := single(t, g, op, vocab.PropExpects)
				assert.Empty(t, req.Refs(vocab.PropParameter), "body parameters become payloads")
				pl := single(t, g, req, vocab.PropPayload)
				assert.Equal(t, "application/json", pl.Str(vocab.PropMediaType))
				assert.Equal(t, "pet", pl.Str(vocab.PropName))
				schema := single(t, g, pl, vocab.PropSchema)
				assert.Equal(t, []string{pet.ID}, schema.Refs(vocab.PropLinkTarget))

				resp := single(t, g, op, vocab.PropReturns)
				assert.Equal(t, "201", resp.Str(vocab.PropStatusCode))
				assert.Empty(t, resp.Refs(vocab.PropPayload))
			},
		},
		{
			operationID: "uploadPhoto",
			method:      "put",
			check: func(t *testing.T, op *graph.DocumentNode) {
				req := single(t, g, op, vocab.PropExpects)
				assert.Empty(t, req.Refs(vocab.PropPayload))
				params := req.Refs(vocab.PropParameter)
				require.Len(t, params, 2)
				var names []string
				for _, id := range params {
					prm := g.GetNode(id)
					require.NotNil(t, prm)
					assert.Equal(t, "formData", prm.Str(vocab.PropBinding))
					names = append(names, prm.Str(vocab.PropParamName))
				}
				assert.Equal(t, []string{"id", "photo"}, names)
				photo := g.GetNode(params[1])
				assert.True(t, single(t, g, photo, vocab.PropSchema).HasType(vocab.TypeFileShape))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.operationID, func(t *testing.T) {
			t.Parallel()
			op := ops[tt.operationID]
			require.NotNil(t, op)
			assert.Equal(t, tt.method, op.Str(vocab.PropMethod))
			tt.check(t, op)
		})
	}
}

func TestParse_RAML08(t *testing.T) {
	t.Parallel()

	const base = "file:///api/pets.raml#"
	g := mustParse(t, memFetcher{"file:///api/pets.raml": petsRAML08}, "file:///api/pets.raml", RAML08)

	root := g.RootNode()
	require.NotNil(t, root)
	assert.Equal(t, "Pet Store", root.Str(vocab.PropName))
	assert.Equal(t, "https://pets.example.com/v1", single(t, g, root, vocab.PropServer).Str(vocab.PropURLTemplate))

	tests := []struct {
		id   string
		name string
		typ  string
	}{
		{id: base + "/schemas/0/pet", name: "pet", typ: vocab.TypeNodeShape},
		{id: base + "/traits/0/paged", name: "paged", typ: vocab.TypeTrait},
		{id: base + "/resourceTypes/0/collection", name: "collection", typ: vocab.TypeResourceType},
	}
	for _, tt := range tests {
		t.Run("Declares_"+tt.name, func(t *testing.T) {
			t.Parallel()
			n := g.GetNode(tt.id)
			require.NotNil(t, n)
			assert.True(t, n.HasType(tt.typ))
			assert.Equal(t, tt.name, n.Str(vocab.PropName))
			assert.Contains(t, root.Refs(vocab.PropDeclares), tt.id)
		})
	}

	t.Run("ListFormApplications", func(t *testing.T) {
		t.Parallel()
		ep := g.GetNode(base + "/~1pets")
		require.NotNil(t, ep)
		rt := single(t, g, ep, vocab.PropExtends)
		assert.True(t, rt.HasType(vocab.TypeParametrizedRType))
		assert.Equal(t, []string{base + "/resourceTypes/0/collection"}, rt.Refs(vocab.PropTarget))

		get := g.GetNode(base + "/resourceTypes/0/collection/get")
		require.NotNil(t, get)
		trait := single(t, g, get, vocab.PropExtends)
		assert.True(t, trait.HasType(vocab.TypeParametrizedTrait))
		assert.Equal(t, []string{base + "/traits/0/paged"}, trait.Refs(vocab.PropTarget))
	})

	t.Run("Payloads", func(t *testing.T) {
		t.Parallel()
		op := g.GetNode(base + "/~1pets/post")
		require.NotNil(t, op)
		assert.Equal(t, "post", op.Str(vocab.PropMethod))

		payloads := make(map[string]*graph.DocumentNode)
		for _, id := range single(t, g, op, vocab.PropExpects).Refs(vocab.PropPayload) {
			pl := g.GetNode(id)
			require.NotNil(t, pl)
			payloads[pl.Str(vocab.PropMediaType)] = pl
		}
		require.Len(t, payloads, 2)

		jsonPayload := payloads["application/json"]
		require.NotNil(t, jsonPayload)
		schema := single(t, g, jsonPayload, vocab.PropSchema)
		assert.True(t, schema.HasType(vocab.TypeLinkable))
		assert.Equal(t, []string{base + "/schemas/0/pet"}, schema.Refs(vocab.PropLinkTarget))

		form := payloads["application/x-www-form-urlencoded"]
		require.NotNil(t, form)
		shape := single(t, g, form, vocab.PropSchema)
		assert.True(t, shape.HasType(vocab.TypeNodeShape))
		prop := single(t, g, shape, vocab.PropProperty)
		assert.Equal(t, "name", prop.Str(vocab.PropName))
		minCount, ok := prop.Get(vocab.PropMinCount)
		require.True(t, ok)
		assert.Equal(t, graph.Int(1), minCount)
		assert.True(t, single(t, g, prop, vocab.PropRange).HasType(vocab.TypeScalarShape))
	})
}

func TestParse_Async(t *testing.T) {
	t.Parallel()

	docs := memFetcher{"file:///api/events.yaml": `asyncapi: 2.0.0
info:
  title: Events
  version: "1.0"
channels:
  user/signedup:
    publish:
      message:
        payload:
          type: object
          properties:
            id:
              type: string
`}
	g := mustParse(t, docs, "file:///api/events.yaml", Async20)

	root := g.RootNode()
	require.NotNil(t, root)
	assert.True(t, root.HasType(vocab.TypeAsyncAPI))

	const channel = "file:///api/events.yaml#/channels/user~1signedup"
	ch := g.GetNode(channel)
	require.NotNil(t, ch)
	assert.Equal(t, "user/signedup", ch.Str(vocab.PropPath))

	op := g.GetNode(channel + "/publish")
	require.NotNil(t, op)
	assert.Equal(t, "publish", op.Str(vocab.PropMethod))

	msgs := op.Refs(vocab.PropExpects)
	require.Len(t, msgs, 1)
	msg := g.GetNode(msgs[0])
	require.NotNil(t, msg)
	assert.True(t, msg.HasType(vocab.TypeMessage))
	assert.True(t, msg.HasType(vocab.TypeRequest))
	require.Len(t, msg.Refs(vocab.PropPayload), 1)
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	t.Run("UnsupportedDialect", func(t *testing.T) {
		t.Parallel()
		_, err := parse(t, memFetcher{}, "file:///api/api.yaml", Dialect("WSDL"))
		assert.ErrorIs(t, err, apierr.ErrConfiguration)
	})

	t.Run("UnreachableSource", func(t *testing.T) {
		t.Parallel()
		_, err := parse(t, memFetcher{}, "file:///api/missing.yaml", OAS30)
		assert.ErrorIs(t, err, apierr.ErrParse)
		assert.ErrorIs(t, err, fs.ErrNotExist)
	})

	t.Run("MalformedYAML", func(t *testing.T) {
		t.Parallel()
		docs := memFetcher{"file:///api/api.yaml": "openapi: [3.0.0\n"}
		_, err := parse(t, docs, "file:///api/api.yaml", OAS30)
		assert.ErrorIs(t, err, apierr.ErrParse)
	})

	t.Run("WrongRAMLVersion", func(t *testing.T) {
		t.Parallel()
		docs := memFetcher{"file:///api/api.raml": "#%RAML 0.8\ntitle: Old\n"}
		_, err := parse(t, docs, "file:///api/api.raml", RAML10)
		var pe *apierr.ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "file:///api/api.raml", pe.Location)
	})

	t.Run("IncludeCycle", func(t *testing.T) {
		t.Parallel()
		docs := memFetcher{
			"file:///api/a.raml": "#%RAML 1.0\ntitle: A\ntypes:\n  T: !include b.raml\n",
			"file:///api/b.raml": "#%RAML 1.0 DataType\ntype: !include a.raml\n",
		}
		_, err := parse(t, docs, "file:///api/a.raml", RAML10)
		var cyc *apierr.CyclicReferenceError
		require.ErrorAs(t, err, &cyc)
		assert.ErrorIs(t, err, apierr.ErrCyclicReference)
		assert.Contains(t, cyc.Chain, "file:///api/a.raml")
		assert.Contains(t, cyc.Chain, "file:///api/b.raml")
	})
}

func TestParseDialect(t *testing.T) {
	t.Parallel()

	for _, d := range Dialects() {
		got, err := ParseDialect(string(d))
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}

	_, err := ParseDialect("RAML 2.0")
	var ce *apierr.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "dialect", ce.Field)
}

func TestPointerEscaping(t *testing.T) {
	t.Parallel()

	p := pointer("").child("paths", "/users/{id}", "a~b")
	assert.Equal(t, pointer("/paths/~1users~1%7Bid%7D/a~0b"), p)
	assert.Equal(t, "/users/{id}", unescapeSegment("~1users~1%7Bid%7D"))
	assert.Equal(t, p, parsePointer("/paths/~1users~1{id}/a~0b"))
}
