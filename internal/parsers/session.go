package parsers

import (
	"errors"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Benny93/apigraph-go/internal/apierr"
	"github.com/Benny93/apigraph-go/internal/graph"
	"github.com/Benny93/apigraph-go/internal/vocab"
)

// pendingRef is a reference target that must exist in the graph once the
// main grammar pass is done.
type pendingRef struct {
	target string
	build  func(p pos, n *yaml.Node) string
}

// session holds the state of one Parse call.
type session struct {
	dialect Dialect
	loader  *loader
	graph   *graph.Graph
	pending []pendingRef
	err     error
}

func newSession(d Dialect, ld *loader) *session {
	return &session{dialect: d, loader: ld, graph: graph.NewGraph()}
}

// fail records the first error of the session. Builders keep going and the
// error is reported when the pass completes.
func (s *session) fail(err error) {
	if s.err == nil && err != nil {
		s.err = err
	}
}

func (s *session) failAt(p pos, at *yaml.Node, msg string) {
	pe := &apierr.ParseError{Location: p.src, Msg: msg}
	if at != nil {
		pe.Line, pe.Column = at.Line, at.Column
	}
	s.fail(pe)
}

// node creates a node for the syntax at p.
func (s *session) node(p pos, at *yaml.Node, types ...string) *graph.DocumentNode {
	n := graph.NewNode(p.id(), types...)
	if at != nil && at.Line > 0 {
		n.Source = &graph.SourceLocation{URI: p.src, Line: at.Line, Column: at.Column}
	}
	return n
}

// add merges a finished node into the graph.
func (s *session) add(n *graph.DocumentNode) string {
	if err := s.graph.AddNode(n); err != nil {
		pe := &apierr.ParseError{Msg: "cannot insert node " + n.ID, Err: err}
		if n.Source != nil {
			pe.Location, pe.Line, pe.Column = n.Source.URI, n.Source.Line, n.Source.Column
		}
		if errors.Is(err, graph.ErrConflictingNode) {
			pe.Msg = "conflicting definitions for " + n.ID
		}
		s.fail(pe)
	}
	return n.ID
}

// link creates a link node at p pointing at target. The resolver replaces
// it with the target's body.
func (s *session) link(p pos, at *yaml.Node, target, label string, types ...string) string {
	n := s.node(p, at, append([]string{vocab.TypeLinkable}, types...)...)
	n.Set(vocab.PropLinkTarget, graph.Ref(target))
	if label != "" {
		n.Set(vocab.PropLinkLabel, graph.String(label))
	}
	return s.add(n)
}

// require queues target to be built by fn if no node holds its id once the
// main pass is over.
func (s *session) require(target string, fn func(p pos, n *yaml.Node) string) {
	s.pending = append(s.pending, pendingRef{target: target, build: fn})
}

// refLink turns a $ref into a link node and queues its target.
func (s *session) refLink(p pos, at *yaml.Node, ref string, fn func(p pos, n *yaml.Node) string, types ...string) string {
	target, err := refIRI(p.src, ref)
	if err != nil {
		s.failAt(p, at, "invalid $ref "+strconv.Quote(ref))
		return p.id()
	}
	s.require(target, fn)
	return s.link(p, at, target, ref, types...)
}

// finish builds every queued reference target not already in the graph.
// Targets that cannot be located are left dangling for the resolver.
func (s *session) finish() error {
	for len(s.pending) > 0 && s.err == nil {
		pr := s.pending[0]
		s.pending = s.pending[1:]
		if s.graph.HasNode(pr.target) {
			continue
		}
		uri, frag, _ := strings.Cut(pr.target, "#")
		doc := s.loader.doc(uri)
		if doc == nil || doc.Root == nil {
			continue
		}
		n, src := s.resolvePointer(doc, frag)
		if n == nil {
			continue
		}
		pr.build(pos{base: uri, ptr: pointer(frag), src: src}, n)
	}
	return s.err
}

// resolvePointer walks an escaped pointer inside doc, following includes.
func (s *session) resolvePointer(doc *document, frag string) (*yaml.Node, string) {
	cur, src := s.deref(doc.Root, doc.URI)
	if frag == "" {
		return cur, src
	}
	for _, seg := range strings.Split(strings.TrimPrefix(frag, "/"), "/") {
		key := unescapeSegment(seg)
		switch {
		case isMap(cur):
			cur = lookup(cur, key)
		case unalias(cur) != nil && unalias(cur).Kind == yaml.SequenceNode:
			i, err := strconv.Atoi(key)
			list := items(cur)
			if err != nil || i < 0 || i >= len(list) {
				return nil, src
			}
			cur = list[i]
		default:
			return nil, src
		}
		if cur == nil {
			return nil, src
		}
		cur, src = s.deref(cur, src)
	}
	return cur, src
}

// deref follows an !include tag. Text includes come back as a plain scalar.
func (s *session) deref(n *yaml.Node, src string) (*yaml.Node, string) {
	n = unalias(n)
	for n != nil && n.Kind == yaml.ScalarNode && n.Tag == includeTag {
		uri, err := resolveURI(src, strings.TrimSpace(n.Value))
		if err != nil {
			return nil, src
		}
		doc := s.loader.doc(uri)
		if doc == nil {
			return nil, src
		}
		if doc.Root == nil {
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: doc.text(), Line: 1, Column: 1}, uri
		}
		n, src = unalias(doc.Root), uri
	}
	return n, src
}

// refIRI converts a $ref relative to the document at base into the IRI of
// the node it points at.
func refIRI(base, ref string) (string, error) {
	file, frag, _ := strings.Cut(ref, "#")
	uri := base
	if file != "" {
		var err error
		if uri, err = resolveURI(base, file); err != nil {
			return "", err
		}
	}
	return uri + "#" + string(parsePointer(frag)), nil
}

// setScalar copies a scalar from m[key] onto prop.
func setScalar(n *graph.DocumentNode, prop string, m *yaml.Node, key string) {
	if v, ok := scalarValue(lookup(m, key)); ok {
		n.Set(prop, v)
	}
}

// setString sets prop when value is non-empty.
func setString(n *graph.DocumentNode, prop, value string) {
	if value != "" {
		n.Set(prop, graph.String(value))
	}
}

// extensionName recognizes annotation keys for the session dialect:
// "(name)" in RAML and "x-name" elsewhere.
func (s *session) extensionName(key string) (string, bool) {
	if s.dialect == RAML10 || s.dialect == RAML08 {
		if len(key) > 2 && strings.HasPrefix(key, "(") && strings.HasSuffix(key, ")") {
			return key[1 : len(key)-1], true
		}
		return "", false
	}
	return strings.CutPrefix(key, "x-")
}

// extensions attaches annotation entries of m to n as DomainExtension nodes.
func (s *session) extensions(n *graph.DocumentNode, p pos, m *yaml.Node) {
	for _, e := range entries(m) {
		name, ok := s.extensionName(e.Key)
		if !ok {
			continue
		}
		ext := s.node(p.child(e.Key), e.KeyNode, vocab.TypeDomainExtension)
		ext.Set(vocab.PropName, graph.String(name))
		if v, ok := dataValue(e.Value); ok {
			ext.Set(vocab.PropValue, v)
		}
		n.AppendRef(vocab.PropCustomProperties, s.add(ext))
	}
}

// requirements builds a list of security requirements from OAS-style
// entries ({scheme: [scopes]}). An empty list is kept: it marks the owner as
// explicitly unsecured.
func (s *session) requirements(p pos, n *yaml.Node, schemeID func(name string) string) graph.Value {
	var reqs []string
	for i, it := range items(n) {
		rp := p.child(strconv.Itoa(i))
		req := s.node(rp, it, vocab.TypeSecurityRequirement)
		for _, e := range entries(it) {
			ps := s.node(rp.child(e.Key), e.KeyNode, vocab.TypeParametrizedScheme)
			ps.Set(vocab.PropName, graph.String(e.Key))
			ps.Set(vocab.PropSecurityScheme, graph.Ref(schemeID(e.Key)))
			var scopes []graph.Value
			for _, sc := range stringList(e.Value) {
				scopes = append(scopes, graph.String(sc))
			}
			if len(scopes) > 0 {
				ps.Set(vocab.PropScopes, graph.List(scopes...))
			}
			req.AppendRef(vocab.PropSchemes, s.add(ps))
		}
		reqs = append(reqs, s.add(req))
	}
	return graph.RefList(reqs...)
}

// schema builds a JSON Schema into a shape and returns its id. Used for
// OAS and AsyncAPI payloads and for JSON schemas included from RAML.
func (s *session) schema(p pos, n *yaml.Node) string {
	n, src := s.deref(n, p.src)
	p.src = src
	if ref := str(n, "$ref"); ref != "" {
		return s.refLink(p, n, ref, s.schema, vocab.TypeShape)
	}

	typ := schemaType(n)
	shape := s.node(p, n, vocab.TypeShape)
	switch {
	case lookup(n, "allOf") != nil:
		shape.AddType(vocab.TypeAnyShape)
		shape.Set(vocab.PropAnd, s.schemaList(p.child("allOf"), lookup(n, "allOf")))
	case lookup(n, "oneOf") != nil:
		shape.AddType(vocab.TypeAnyShape)
		shape.Set(vocab.PropXone, s.schemaList(p.child("oneOf"), lookup(n, "oneOf")))
	case lookup(n, "anyOf") != nil:
		shape.AddType(vocab.TypeUnionShape)
		shape.Set(vocab.PropAnyOf, s.schemaList(p.child("anyOf"), lookup(n, "anyOf")))
	case typ == "object" || lookup(n, "properties") != nil:
		shape.AddType(vocab.TypeNodeShape)
		s.objectProperties(shape, p, n)
	case typ == "array" || lookup(n, "items") != nil:
		shape.AddType(vocab.TypeArrayShape)
		if it := lookup(n, "items"); it != nil {
			shape.Set(vocab.PropItems, graph.Ref(s.schema(p.child("items"), it)))
		}
	case typ == "file":
		shape.AddType(vocab.TypeFileShape)
	case typ == "null":
		shape.AddType(vocab.TypeNilShape)
	case typ != "":
		shape.AddType(vocab.TypeScalarShape)
		shape.Set(vocab.PropDatatype, graph.String(jsonDatatype(typ, str(n, "format"))))
	default:
		shape.AddType(vocab.TypeAnyShape)
	}

	setString(shape, vocab.PropDisplayName, str(n, "title"))
	setString(shape, vocab.PropDescription, str(n, "description"))
	setString(shape, vocab.PropFormat, str(n, "format"))
	setScalar(shape, vocab.PropPattern, n, "pattern")
	setScalar(shape, vocab.PropMinLength, n, "minLength")
	setScalar(shape, vocab.PropMaxLength, n, "maxLength")
	setScalar(shape, vocab.PropMinInclusive, n, "minimum")
	setScalar(shape, vocab.PropMaxInclusive, n, "maximum")
	setScalar(shape, vocab.PropDeprecated, n, "deprecated")
	if enum := lookup(n, "enum"); enum != nil {
		if v, ok := dataValue(enum); ok {
			shape.Set(vocab.PropIn, v)
		}
	}
	if v, ok := dataValue(lookup(n, "default")); ok {
		shape.Set(vocab.PropDefault, v)
	}
	if v, ok := dataValue(lookup(n, "example")); ok {
		shape.Set(vocab.PropExample, v)
	}
	s.extensions(shape, p, n)
	return s.add(shape)
}

func (s *session) schemaList(p pos, n *yaml.Node) graph.Value {
	var ids []string
	for i, it := range items(n) {
		ids = append(ids, s.schema(p.child(strconv.Itoa(i)), it))
	}
	return graph.RefList(ids...)
}

func (s *session) objectProperties(shape *graph.DocumentNode, p pos, n *yaml.Node) {
	required := make(map[string]bool)
	for _, r := range stringList(lookup(n, "required")) {
		required[r] = true
	}
	for _, e := range entries(lookup(n, "properties")) {
		prop := s.node(p.child("property", e.Key), e.KeyNode, vocab.TypePropertyShape, vocab.TypeShape)
		prop.Set(vocab.PropName, graph.String(e.Key))
		minCount := int64(0)
		if required[e.Key] {
			minCount = 1
		}
		prop.Set(vocab.PropMinCount, graph.Int(minCount))
		prop.Set(vocab.PropRange, graph.Ref(s.schema(p.child("properties", e.Key), e.Value)))
		shape.AppendRef(vocab.PropProperty, s.add(prop))
	}
	if ap := lookup(n, "additionalProperties"); ap != nil {
		if v, ok := scalarValue(ap); ok && v.Scalar == false {
			shape.Set(vocab.PropClosed, graph.Bool(true))
		}
	}
}

func schemaType(n *yaml.Node) string {
	t := lookup(n, "type")
	for _, s := range stringList(t) {
		if s != "null" || len(items(t)) <= 1 {
			return s
		}
	}
	return ""
}

func jsonDatatype(typ, format string) string {
	switch typ {
	case "integer":
		if format == "int64" {
			return vocab.XSDLong
		}
		return vocab.XSDInteger
	case "number":
		switch format {
		case "float":
			return vocab.XSDFloat
		case "double":
			return vocab.XSDDouble
		}
		return vocab.XSDNumber
	case "boolean":
		return vocab.XSDBoolean
	}
	switch format {
	case "date":
		return vocab.XSDDate
	case "date-time":
		return vocab.XSDDateTime
	case "time":
		return vocab.XSDTime
	case "byte":
		return vocab.XSDBase64
	case "uri":
		return vocab.XSDAnyURI
	}
	return vocab.XSDString
}
