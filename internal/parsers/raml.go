package parsers

import (
	"fmt"
	"net/url"
	"path"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Benny93/apigraph-go/internal/apierr"
	"github.com/Benny93/apigraph-go/internal/graph"
	"github.com/Benny93/apigraph-go/internal/vocab"
)

var ramlMethods = []string{"get", "patch", "put", "post", "delete", "head", "options", "trace", "connect"}

// Declaration sections and the name tables they populate.
const (
	declTypes         = "types"
	declSchemas       = "schemas"
	declTraits        = "traits"
	declResourceTypes = "resourceTypes"
	declSchemes       = "securitySchemes"
)

// ramlScope maps declared names to node ids. Library aliases open nested
// scopes; overlays fall back to the scope of the document they extend.
type ramlScope struct {
	base   string
	names  map[string]map[string]string
	libs   map[string]*ramlScope
	parent *ramlScope
}

func (sc *ramlScope) resolve(kind, name string) string {
	if id, ok := sc.lookup(kind, name); ok {
		return id
	}
	if alias, rest, ok := strings.Cut(name, "."); ok {
		if lib := sc.libs[alias]; lib != nil {
			return lib.resolve(kind, rest)
		}
	}
	// Unknown names still get a stable id so the resolver can report them.
	return pos{base: sc.base}.child(kind, name).id()
}

func (sc *ramlScope) lookup(kind, name string) (string, bool) {
	for s := sc; s != nil; s = s.parent {
		if id, ok := s.names[kind][name]; ok {
			return id, true
		}
		if kind == declTypes {
			if id, ok := s.names[declSchemas][name]; ok {
				return id, true
			}
		}
	}
	return "", false
}

// decl is one named declaration, in either map or RAML 0.8 list form.
type decl struct {
	name  string
	pos   pos
	key   *yaml.Node
	value *yaml.Node
}

func declarations(p pos, n *yaml.Node) []decl {
	var out []decl
	if isMap(n) {
		for _, e := range entries(n) {
			out = append(out, decl{name: e.Key, pos: p.child(e.Key), key: e.KeyNode, value: e.Value})
		}
		return out
	}
	for i, it := range items(n) {
		for _, e := range entries(it) {
			out = append(out, decl{name: e.Key, pos: p.child(strconv.Itoa(i), e.Key), key: e.KeyNode, value: e.Value})
		}
	}
	return out
}

// ramlBuilder is the RAML 0.8 and 1.0 grammar.
type ramlBuilder struct {
	version Dialect
	s       *session
	api     *graph.DocumentNode
	libs    map[string]*ramlScope

	// defaults applied to bodies without an explicit media type
	mediaTypes []string
}

func (r *ramlBuilder) header() string {
	if r.version == RAML08 {
		return "#%RAML 0.8"
	}
	return "#%RAML 1.0"
}

func (r *ramlBuilder) build(s *session, doc *document) error {
	r.s = s
	r.libs = make(map[string]*ramlScope)
	root, err := r.document(doc, "")
	if err != nil {
		return err
	}
	s.graph.SetRoot(root)
	return s.err
}

// document builds an API, overlay or extension document. Overlays build
// the document they extend first and are then added as an extension layer
// whose ids match the base document.
func (r *ramlBuilder) document(doc *document, base string) (string, error) {
	want := r.header()
	if !strings.HasPrefix(doc.Header, want) {
		return "", &apierr.ParseError{Location: doc.URI, Line: 1, Column: 1, Msg: fmt.Sprintf("expected %q header for %s, found %q", want, r.version, doc.Header)}
	}
	kind := strings.TrimSpace(strings.TrimPrefix(doc.Header, want))

	switch kind {
	case "":
		if base == "" {
			base = doc.URI
		}
		return r.webAPI(doc, base, nil), nil
	case "Overlay", "Extension":
		if r.version == RAML08 {
			break
		}
		ext := lookup(doc.Root, "extends")
		if !isScalar(ext) {
			return "", &apierr.ParseError{Location: doc.URI, Msg: kind + " without extends"}
		}
		target, err := resolveURI(doc.URI, unalias(ext).Value)
		if err != nil {
			return "", &apierr.ParseError{Location: doc.URI, Msg: "invalid extends", Err: err}
		}
		baseDoc := r.s.loader.doc(target)
		if baseDoc == nil || baseDoc.Root == nil {
			return "", &apierr.ParseError{Location: target, Msg: "extended document is not a RAML API"}
		}
		rootID, err := r.document(baseDoc, "")
		if err != nil {
			return "", err
		}
		apiBase, _, _ := strings.Cut(rootID, "#")

		main := r.s.graph
		layer := graph.NewGraph()
		r.s.graph = layer
		r.webAPI(doc, apiBase, r.scopeFor(baseDoc, apiBase, nil))
		r.s.graph = main
		main.AddExtension(layer)
		return rootID, nil
	}
	return "", &apierr.ParseError{Location: doc.URI, Line: 1, Column: 1, Msg: fmt.Sprintf("%q is not an API document", doc.Header)}
}

// scopeFor collects the declared names of a document without building them.
func (r *ramlBuilder) scopeFor(doc *document, base string, parent *ramlScope) *ramlScope {
	sc := &ramlScope{base: base, names: make(map[string]map[string]string), libs: make(map[string]*ramlScope), parent: parent}
	p := pos{base: base, src: doc.URI}
	for _, kind := range []string{declTypes, declSchemas, declTraits, declResourceTypes, declSchemes} {
		sc.names[kind] = make(map[string]string)
		for _, d := range declarations(p.child(kind), lookup(doc.Root, kind)) {
			sc.names[kind][d.name] = d.pos.id()
		}
	}
	for _, e := range entries(lookup(doc.Root, "uses")) {
		if !isScalar(e.Value) {
			continue
		}
		uri, err := resolveURI(doc.URI, unalias(e.Value).Value)
		if err != nil {
			continue
		}
		if lib := r.library(uri); lib != nil {
			sc.libs[e.Key] = lib
		}
	}
	return sc
}

// library builds a library's declarations once per run and returns its scope.
func (r *ramlBuilder) library(uri string) *ramlScope {
	if sc, ok := r.libs[uri]; ok {
		return sc
	}
	doc := r.s.loader.doc(uri)
	if doc == nil || doc.Root == nil {
		return nil
	}
	r.libs[uri] = nil // guards re-entry; structural cycles were rejected by the loader
	sc := r.scopeFor(doc, uri, nil)
	r.libs[uri] = sc
	r.declare(sc, doc, pos{base: uri, src: uri}, false)
	return sc
}

func (r *ramlBuilder) webAPI(doc *document, base string, parent *ramlScope) string {
	s := r.s
	root := doc.Root
	p := pos{base: base, src: doc.URI}

	api := s.node(p.child("web-api"), root, vocab.TypeWebAPI, vocab.TypeAPI)
	prevAPI := r.api
	r.api = api
	defer func() { r.api = prevAPI }()

	sc := r.scopeFor(doc, base, parent)
	for _, lib := range sc.libs {
		r.declareLibrary(lib)
	}

	setString(api, vocab.PropName, str(root, "title"))
	setString(api, vocab.PropDescription, r.text(root, "description", p))
	setScalar(api, vocab.PropVersion, root, "version")
	for _, proto := range stringList(lookup(root, "protocols")) {
		api.Append(vocab.PropScheme, graph.String(strings.ToLower(proto)))
	}
	r.mediaTypes = stringList(lookup(root, "mediaType"))
	for _, mt := range r.mediaTypes {
		api.Append(vocab.PropAccepts, graph.String(mt))
		api.Append(vocab.PropContentType, graph.String(mt))
	}
	if bu := lookup(root, "baseUri"); isScalar(bu) {
		srv := s.node(p.child("baseUri"), bu, vocab.TypeServer)
		srv.Set(vocab.PropURLTemplate, graph.String(unalias(bu).Value))
		for _, id := range r.parameters(sc, p.child("baseUriParameters"), lookup(root, "baseUriParameters"), "path", true) {
			srv.AppendRef(vocab.PropParameter, id)
		}
		api.AppendRef(vocab.PropServer, s.add(srv))
	}

	r.declare(sc, doc, p, true)

	if sec := lookup(root, "securedBy"); sec != nil {
		api.Set(vocab.PropSecurity, r.securedBy(sc, p.child("securedBy"), sec))
	}
	s.extensions(api, p, root)

	for _, e := range entries(root) {
		if strings.HasPrefix(e.Key, "/") {
			r.resource(sc, api, p.child(e.Key), "", e)
		}
	}

	s.add(api)
	return api.ID
}

// declareLibrary lists a library's declarations on the current API.
func (r *ramlBuilder) declareLibrary(lib *ramlScope) {
	if lib == nil {
		return
	}
	for _, kind := range []string{declTypes, declSchemas, declTraits, declResourceTypes, declSchemes} {
		names := make([]string, 0, len(lib.names[kind]))
		for name := range lib.names[kind] {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			r.api.AppendRef(vocab.PropDeclares, lib.names[kind][name])
		}
	}
	for _, nested := range lib.libs {
		r.declareLibrary(nested)
	}
}

// declare builds every declaration of doc. Library declarations are built
// once and listed on each API through declareLibrary.
func (r *ramlBuilder) declare(sc *ramlScope, doc *document, p pos, listed bool) {
	root := doc.Root
	add := func(id, name string) {
		if n := r.s.graph.GetNode(id); n != nil && !n.Has(vocab.PropName) {
			n.Set(vocab.PropName, graph.String(name))
		}
		if listed {
			r.api.AppendRef(vocab.PropDeclares, id)
		}
	}

	for _, kind := range []string{declTypes, declSchemas} {
		for _, d := range declarations(p.child(kind), lookup(root, kind)) {
			add(r.shape(sc, d.pos, d.value), d.name)
		}
	}
	for _, d := range declarations(p.child(declTraits), lookup(root, declTraits)) {
		add(r.trait(sc, d), d.name)
	}
	for _, d := range declarations(p.child(declResourceTypes), lookup(root, declResourceTypes)) {
		add(r.resourceType(sc, d), d.name)
	}
	for _, d := range declarations(p.child(declSchemes), lookup(root, declSchemes)) {
		add(r.securityScheme(d), d.name)
	}
}

func (r *ramlBuilder) securityScheme(d decl) string {
	n, src := r.s.deref(d.value, d.pos.src)
	p := d.pos
	p.src = src
	sc := r.s.node(p, d.key, vocab.TypeSecurityScheme)
	setString(sc, vocab.PropSecurityType, str(n, "type"))
	setString(sc, vocab.PropDescription, r.text(n, "description", p))
	if settings, ok := dataValue(lookup(n, "settings")); ok {
		sc.Set(vocab.PropSettings, settings)
	}
	r.s.extensions(sc, p, n)
	return r.s.add(sc)
}

func (r *ramlBuilder) trait(sc *ramlScope, d decl) string {
	n, src := r.s.deref(d.value, d.pos.src)
	p := d.pos
	p.src = src
	t := r.s.node(p, d.key, vocab.TypeTrait, vocab.TypeAbstractDecl)
	r.operationBody(sc, t, p, n)
	return r.s.add(t)
}

func (r *ramlBuilder) resourceType(sc *ramlScope, d decl) string {
	n, src := r.s.deref(d.value, d.pos.src)
	p := d.pos
	p.src = src
	rt := r.s.node(p, d.key, vocab.TypeResourceType, vocab.TypeAbstractDecl)
	r.resourceBody(sc, rt, p, n, nil)
	return r.s.add(rt)
}

// resource builds an endpoint and its nested resources. Endpoints are
// listed flat on the API, parents before children.
func (r *ramlBuilder) resource(sc *ramlScope, api *graph.DocumentNode, p pos, parentPath string, e entry) {
	s := r.s
	n, src := s.deref(e.Value, p.src)
	p.src = src

	ep := s.node(p, e.KeyNode, vocab.TypeEndPoint)
	ep.Set(vocab.PropPath, graph.String(parentPath+e.Key))
	ep.Set(vocab.PropName, graph.String(e.Key))
	api.AppendRef(vocab.PropEndpoint, ep.ID)

	r.resourceBody(sc, ep, p, n, lookup(n, "securedBy"))
	s.add(ep)

	for _, child := range entries(n) {
		if strings.HasPrefix(child.Key, "/") {
			r.resource(sc, api, p.child(child.Key), parentPath+e.Key, child)
		}
	}
}

// resourceBody fills an endpoint or resource type declaration.
func (r *ramlBuilder) resourceBody(sc *ramlScope, ep *graph.DocumentNode, p pos, n *yaml.Node, securedBy *yaml.Node) {
	s := r.s
	setString(ep, vocab.PropDisplayName, str(n, "displayName"))
	setString(ep, vocab.PropDescription, r.text(n, "description", p))

	for _, id := range r.parameters(sc, p.child("uriParameters"), lookup(n, "uriParameters"), "path", true) {
		ep.AppendRef(vocab.PropParameter, id)
	}

	if t := lookup(n, "type"); t != nil && !isNull(t) {
		ep.AppendRef(vocab.PropExtends, r.application(sc, p.child("type"), t, vocab.TypeParametrizedRType, declResourceTypes))
	}
	for i, t := range items(lookup(n, "is")) {
		ep.AppendRef(vocab.PropExtends, r.application(sc, p.child("is", strconv.Itoa(i)), t, vocab.TypeParametrizedTrait, declTraits))
	}

	for _, e := range entries(n) {
		method, optional := strings.CutSuffix(e.Key, "?")
		if !isMethod(method) {
			continue
		}
		op := s.node(p.child(e.Key), e.KeyNode, vocab.TypeOperation)
		op.Set(vocab.PropMethod, graph.String(method))
		if optional {
			op.Set(vocab.PropOptional, graph.Bool(true))
		}
		mn, src := s.deref(e.Value, p.src)
		mp := p.child(e.Key)
		mp.src = src
		r.operationBody(sc, op, mp, mn)
		if !op.Has(vocab.PropSecurity) && securedBy != nil {
			op.Set(vocab.PropSecurity, r.securedBy(sc, mp.child("securedBy"), securedBy))
		}
		ep.AppendRef(vocab.PropOperation, s.add(op))
	}
	s.extensions(ep, p, n)
}

func isMethod(key string) bool {
	for _, m := range ramlMethods {
		if m == key {
			return true
		}
	}
	return false
}

// operationBody fills an operation or trait declaration.
func (r *ramlBuilder) operationBody(sc *ramlScope, op *graph.DocumentNode, p pos, n *yaml.Node) {
	s := r.s
	setString(op, vocab.PropName, str(n, "displayName"))
	setString(op, vocab.PropDescription, r.text(n, "description", p))
	for _, proto := range stringList(lookup(n, "protocols")) {
		op.Append(vocab.PropScheme, graph.String(strings.ToLower(proto)))
	}

	for i, t := range items(lookup(n, "is")) {
		op.AppendRef(vocab.PropExtends, r.application(sc, p.child("is", strconv.Itoa(i)), t, vocab.TypeParametrizedTrait, declTraits))
	}

	reqPos := p.child("request")
	req := s.node(reqPos, n, vocab.TypeRequest)
	for _, id := range r.parameters(sc, p.child("queryParameters"), lookup(n, "queryParameters"), "query", r.version == RAML10) {
		req.AppendRef(vocab.PropParameter, id)
	}
	for _, id := range r.parameters(sc, p.child("headers"), lookup(n, "headers"), "header", r.version == RAML10) {
		req.AppendRef(vocab.PropHeader, id)
	}
	if body := lookup(n, "body"); body != nil {
		for _, id := range r.payloads(sc, p.child("body"), body) {
			req.AppendRef(vocab.PropPayload, id)
		}
	}
	if len(req.Properties) > 0 {
		op.Set(vocab.PropExpects, graph.RefList(s.add(req)))
	}

	var responses []string
	for _, e := range entries(lookup(n, "responses")) {
		rp := p.child("responses", e.Key)
		rn, src := s.deref(e.Value, rp.src)
		rp.src = src
		resp := s.node(rp, e.KeyNode, vocab.TypeResponse)
		resp.Set(vocab.PropStatusCode, graph.String(e.Key))
		resp.Set(vocab.PropName, graph.String(e.Key))
		setString(resp, vocab.PropDescription, r.text(rn, "description", rp))
		for _, id := range r.parameters(sc, rp.child("headers"), lookup(rn, "headers"), "header", r.version == RAML10) {
			resp.AppendRef(vocab.PropHeader, id)
		}
		if body := lookup(rn, "body"); body != nil {
			for _, id := range r.payloads(sc, rp.child("body"), body) {
				resp.AppendRef(vocab.PropPayload, id)
			}
		}
		s.extensions(resp, rp, rn)
		responses = append(responses, s.add(resp))
	}
	if len(responses) > 0 {
		op.Set(vocab.PropReturns, graph.RefList(responses...))
	}

	if sec := lookup(n, "securedBy"); sec != nil {
		op.Set(vocab.PropSecurity, r.securedBy(sc, p.child("securedBy"), sec))
	}
	s.extensions(op, p, n)
}

// payloads builds the payloads of a body. A body keyed by media types has
// one payload per type; otherwise the body itself is the schema and the
// API's default media types apply.
func (r *ramlBuilder) payloads(sc *ramlScope, p pos, body *yaml.Node) []string {
	s := r.s
	body, src := s.deref(body, p.src)
	p.src = src

	var ids []string
	if isMap(body) && allMediaTypes(body) {
		for _, e := range entries(body) {
			mp := p.child(e.Key)
			pl := s.node(mp, e.KeyNode, vocab.TypePayload)
			pl.Set(vocab.PropMediaType, graph.String(e.Key))
			r.payloadSchema(sc, pl, mp, e.Value)
			ids = append(ids, s.add(pl))
		}
		return ids
	}

	pl := s.node(p, body, vocab.TypePayload)
	if len(r.mediaTypes) > 0 {
		pl.Set(vocab.PropMediaType, graph.String(r.mediaTypes[0]))
	}
	r.payloadSchema(sc, pl, p, body)
	return append(ids, s.add(pl))
}

func (r *ramlBuilder) payloadSchema(sc *ramlScope, pl *graph.DocumentNode, p pos, n *yaml.Node) {
	if isNull(n) {
		return
	}
	if r.version == RAML08 {
		if form := lookup(n, "formParameters"); form != nil {
			pl.Set(vocab.PropSchema, graph.Ref(r.formShape(sc, p.child("formParameters"), form)))
			return
		}
		if schema := lookup(n, "schema"); schema != nil {
			pl.Set(vocab.PropSchema, graph.Ref(r.shape(sc, p.child("schema"), schema)))
		}
		if ex, ok := dataValue(lookup(n, "example")); ok {
			pl.Set(vocab.PropExample, ex)
		}
		return
	}
	pl.Set(vocab.PropSchema, graph.Ref(r.shape(sc, p.child("schema"), n)))
}

// formShape models RAML 0.8 form parameters as an object shape.
func (r *ramlBuilder) formShape(sc *ramlScope, p pos, n *yaml.Node) string {
	s := r.s
	shape := s.node(p, n, vocab.TypeNodeShape, vocab.TypeShape)
	for _, e := range entries(n) {
		prop := s.node(p.child("property", e.Key), e.KeyNode, vocab.TypePropertyShape, vocab.TypeShape)
		prop.Set(vocab.PropName, graph.String(e.Key))
		req := int64(0)
		if v, ok := scalarValue(lookup(e.Value, "required")); ok && v.Scalar == true {
			req = 1
		}
		prop.Set(vocab.PropMinCount, graph.Int(req))
		prop.Set(vocab.PropRange, graph.Ref(r.shape(sc, p.child("properties", e.Key), e.Value)))
		shape.AppendRef(vocab.PropProperty, s.add(prop))
	}
	return s.add(shape)
}

func allMediaTypes(n *yaml.Node) bool {
	es := entries(n)
	if len(es) == 0 {
		return false
	}
	for _, e := range es {
		if !strings.Contains(e.Key, "/") && !strings.HasPrefix(e.Key, "<<") {
			return false
		}
	}
	return true
}

// parameters builds named parameters. A trailing "?" on the name marks the
// parameter optional; an explicit required facet overrides both.
func (r *ramlBuilder) parameters(sc *ramlScope, p pos, n *yaml.Node, binding string, required bool) []string {
	s := r.s
	var ids []string
	for _, e := range entries(n) {
		name, optional := strings.CutSuffix(e.Key, "?")
		pp := p.child(e.Key)
		prm := s.node(pp, e.KeyNode, vocab.TypeParameter)
		prm.Set(vocab.PropParamName, graph.String(name))
		prm.Set(vocab.PropName, graph.String(name))
		prm.Set(vocab.PropBinding, graph.String(binding))

		req := required && !optional
		if v, ok := scalarValue(lookup(e.Value, "required")); ok {
			if b, isBool := v.Scalar.(bool); isBool {
				req = b
			}
		}
		prm.Set(vocab.PropRequired, graph.Bool(req))
		setString(prm, vocab.PropDescription, str(e.Value, "description"))

		value := e.Value
		if isNull(value) {
			value = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "string", Line: e.KeyNode.Line, Column: e.KeyNode.Column}
		}
		prm.Set(vocab.PropSchema, graph.Ref(r.shape(sc, pp.child("schema"), value)))
		s.extensions(prm, pp, e.Value)
		ids = append(ids, s.add(prm))
	}
	return ids
}

// application builds a parametrized trait or resource type reference:
// either a bare name or a single-key mapping of name to parameters.
func (r *ramlBuilder) application(sc *ramlScope, p pos, n *yaml.Node, typ, kind string) string {
	s := r.s
	app := s.node(p, n, typ)
	name := ""
	var params *yaml.Node
	switch {
	case isScalar(n):
		name = unalias(n).Value
	case isMap(n):
		if es := entries(n); len(es) > 0 {
			name, params = es[0].Key, es[0].Value
		}
	}
	if name == "" {
		s.failAt(p, n, "invalid "+kind+" reference")
		return app.ID
	}
	app.Set(vocab.PropName, graph.String(name))
	app.Set(vocab.PropTarget, graph.Ref(sc.resolve(kind, name)))
	for _, e := range entries(params) {
		v := s.node(p.child(e.Key), e.KeyNode, vocab.TypeVariableValue)
		v.Set(vocab.PropName, graph.String(e.Key))
		if val, ok := dataValue(e.Value); ok {
			v.Set(vocab.PropValue, val)
		}
		app.AppendRef(vocab.PropVariable, s.add(v))
	}
	return s.add(app)
}

// securedBy builds security requirements. Each entry is an alternative:
// a scheme name, a mapping of name to settings, or null for anonymous access.
func (r *ramlBuilder) securedBy(sc *ramlScope, p pos, n *yaml.Node) graph.Value {
	s := r.s
	list := items(n)
	if list == nil && !isNull(n) {
		list = []*yaml.Node{n}
	}
	var reqs []string
	for i, it := range list {
		rp := p.child(strconv.Itoa(i))
		req := s.node(rp, it, vocab.TypeSecurityRequirement)
		name := ""
		var settings *yaml.Node
		switch {
		case isScalar(it):
			name = unalias(it).Value
		case isMap(it):
			if es := entries(it); len(es) > 0 {
				name, settings = es[0].Key, es[0].Value
			}
		}
		if name != "" {
			ps := s.node(rp.child(name), it, vocab.TypeParametrizedScheme)
			ps.Set(vocab.PropName, graph.String(name))
			ps.Set(vocab.PropSecurityScheme, graph.Ref(sc.resolve(declSchemes, name)))
			if v, ok := dataValue(settings); ok {
				ps.Set(vocab.PropSettings, v)
			}
			req.AppendRef(vocab.PropSchemes, s.add(ps))
		}
		reqs = append(reqs, s.add(req))
	}
	return graph.RefList(reqs...)
}

// text reads a string facet that may be an included text document.
func (r *ramlBuilder) text(n *yaml.Node, key string, p pos) string {
	v := lookup(n, key)
	if v == nil {
		return ""
	}
	v, _ = r.s.deref(v, p.src)
	if !isScalar(v) {
		return ""
	}
	return unalias(v).Value
}

// shape builds a RAML type declaration or type expression.
func (r *ramlBuilder) shape(sc *ramlScope, p pos, n *yaml.Node) string {
	s := r.s
	n, src := s.deref(n, p.src)
	p.src = src

	if isJSONDocument(src) && isMap(n) {
		return s.schema(p, n)
	}

	if isScalar(n) {
		return r.scalarShape(sc, p, n, unalias(n).Value)
	}
	if !isMap(n) {
		return r.builtin(p, n, "any")
	}

	const typeKey = "type"
	typ := lookup(n, typeKey)
	if typ != nil {
		td, tsrc := s.deref(typ, p.src)
		if isMap(td) {
			// Inline type declaration or included JSON schema as the base type.
			tp := p.child(typeKey)
			tp.src = tsrc
			return r.withFacets(sc, p, n, r.shape(sc, tp, typ))
		}
		if isScalar(td) && looksLikeSchemaText(unalias(td).Value) {
			return r.withFacets(sc, p, n, r.schemaText(p.child(typeKey), td, unalias(td).Value))
		}
	}

	base := ""
	var bases []string
	switch {
	case isScalar(typ):
		base = strings.TrimSpace(unalias(typ).Value)
	case items(typ) != nil:
		bases = stringList(typ)
	}

	switch {
	case len(bases) > 0 || (base != "" && !isBuiltin(base) && lookup(n, "properties") != nil):
		// Inheritance: the shape keeps its own facets and names its parents.
		if base != "" {
			bases = []string{base}
		}
		shape := s.node(p, n, vocab.TypeNodeShape, vocab.TypeShape)
		for i, b := range bases {
			shape.AppendRef(vocab.PropInherits, r.typeExpr(sc, p.child(typeKey, strconv.Itoa(i)), typ, b))
		}
		r.facets(sc, shape, p, n)
		return s.add(shape)
	case base != "" && !isBuiltin(base):
		// A named or composite type with local facets.
		return r.withFacets(sc, p, n, r.typeExpr(sc, p, typ, base))
	}

	if base == "" {
		base = inferType(n, r.version)
	}
	shape := r.builtinNode(p, n, base)
	r.facets(sc, shape, p, n)
	return s.add(shape)
}

// withFacets applies the facets of n onto the node built for its type.
func (r *ramlBuilder) withFacets(sc *ramlScope, p pos, n *yaml.Node, id string) string {
	shape := r.s.graph.GetNode(id)
	if shape == nil {
		return id
	}
	r.facets(sc, shape, p, n)
	return id
}

func (r *ramlBuilder) scalarShape(sc *ramlScope, p pos, at *yaml.Node, v string) string {
	if looksLikeSchemaText(v) {
		return r.schemaText(p, at, v)
	}
	if v == "" {
		v = "string"
	}
	if r.version == RAML08 {
		// Bare names in 0.8 bodies refer to declared schemas.
		if id, ok := sc.lookup(declSchemas, v); ok {
			return r.s.link(p, at, id, v, vocab.TypeShape)
		}
	}
	return r.typeExpr(sc, p, at, v)
}

// typeExpr builds a RAML type expression: unions, arrays, builtins and
// references to declared types.
func (r *ramlBuilder) typeExpr(sc *ramlScope, p pos, at *yaml.Node, expr string) string {
	s := r.s
	expr = strings.TrimSpace(expr)
	if parts := splitUnion(expr); len(parts) > 1 {
		shape := s.node(p, at, vocab.TypeUnionShape, vocab.TypeShape)
		var ids []string
		for i, part := range parts {
			ids = append(ids, r.typeExpr(sc, p.child("anyOf", strconv.Itoa(i)), at, part))
		}
		shape.Set(vocab.PropAnyOf, graph.RefList(ids...))
		return s.add(shape)
	}
	if inner, ok := strings.CutSuffix(expr, "[]"); ok {
		shape := s.node(p, at, vocab.TypeArrayShape, vocab.TypeShape)
		shape.Set(vocab.PropItems, graph.Ref(r.typeExpr(sc, p.child("items"), at, inner)))
		return s.add(shape)
	}
	if strings.HasPrefix(expr, "(") && strings.HasSuffix(expr, ")") {
		return r.typeExpr(sc, p, at, expr[1:len(expr)-1])
	}
	if isBuiltin(expr) {
		return r.builtin(p, at, expr)
	}
	return s.link(p, at, sc.resolve(declTypes, expr), expr, vocab.TypeShape)
}

func (r *ramlBuilder) builtin(p pos, at *yaml.Node, name string) string {
	return r.s.add(r.builtinNode(p, at, name))
}

func (r *ramlBuilder) builtinNode(p pos, at *yaml.Node, name string) *graph.DocumentNode {
	s := r.s
	switch name {
	case "object":
		return s.node(p, at, vocab.TypeNodeShape, vocab.TypeShape)
	case "array":
		return s.node(p, at, vocab.TypeArrayShape, vocab.TypeShape)
	case "file":
		return s.node(p, at, vocab.TypeFileShape, vocab.TypeShape)
	case "nil":
		return s.node(p, at, vocab.TypeNilShape, vocab.TypeShape)
	case "any":
		return s.node(p, at, vocab.TypeAnyShape, vocab.TypeShape)
	}
	shape := s.node(p, at, vocab.TypeScalarShape, vocab.TypeShape)
	shape.Set(vocab.PropDatatype, graph.String(ramlDatatype(name)))
	return shape
}

// facets copies RAML type facets onto shape.
func (r *ramlBuilder) facets(sc *ramlScope, shape *graph.DocumentNode, p pos, n *yaml.Node) {
	s := r.s
	setString(shape, vocab.PropDisplayName, str(n, "displayName"))
	setString(shape, vocab.PropDescription, r.text(n, "description", p))
	setString(shape, vocab.PropFormat, str(n, "format"))
	setScalar(shape, vocab.PropPattern, n, "pattern")
	setScalar(shape, vocab.PropMinLength, n, "minLength")
	setScalar(shape, vocab.PropMaxLength, n, "maxLength")
	setScalar(shape, vocab.PropMinInclusive, n, "minimum")
	setScalar(shape, vocab.PropMaxInclusive, n, "maximum")
	if enum, ok := dataValue(lookup(n, "enum")); ok {
		shape.Set(vocab.PropIn, enum)
	}
	if v, ok := dataValue(lookup(n, "default")); ok {
		shape.Set(vocab.PropDefault, v)
	}
	if v, ok := dataValue(lookup(n, "example")); ok {
		shape.Set(vocab.PropExample, v)
	}
	if v, ok := scalarValue(lookup(n, "additionalProperties")); ok && v.Scalar == false {
		shape.Set(vocab.PropClosed, graph.Bool(true))
	}
	if it := lookup(n, "items"); it != nil && !shape.Has(vocab.PropItems) {
		shape.Set(vocab.PropItems, graph.Ref(r.shape(sc, p.child("items"), it)))
	}
	for _, e := range entries(lookup(n, "properties")) {
		name, optional := strings.CutSuffix(e.Key, "?")
		required := !optional
		if v, ok := scalarValue(lookup(e.Value, "required")); ok {
			if b, isBool := v.Scalar.(bool); isBool {
				required = b
			}
		}
		prop := s.node(p.child("property", name), e.KeyNode, vocab.TypePropertyShape, vocab.TypeShape)
		prop.Set(vocab.PropName, graph.String(name))
		minCount := int64(0)
		if required {
			minCount = 1
		}
		prop.Set(vocab.PropMinCount, graph.Int(minCount))
		value := e.Value
		if isNull(value) {
			value = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "string", Line: e.KeyNode.Line, Column: e.KeyNode.Column}
		}
		prop.Set(vocab.PropRange, graph.Ref(r.shape(sc, p.child("properties", e.Key), value)))
		shape.AppendRef(vocab.PropProperty, s.add(prop))
	}
	s.extensions(shape, p, n)
}

// schemaText builds a shape from an inline JSON schema. Other schema
// languages are kept as raw text.
func (r *ramlBuilder) schemaText(p pos, at *yaml.Node, text string) string {
	s := r.s
	if strings.HasPrefix(strings.TrimSpace(text), "{") {
		var doc yaml.Node
		if err := yaml.Unmarshal([]byte(text), &doc); err == nil && len(doc.Content) > 0 {
			offsetLines(doc.Content[0], at)
			return s.schema(p, doc.Content[0])
		}
	}
	shape := s.node(p, at, vocab.TypeSchemaShape, vocab.TypeAnyShape, vocab.TypeShape)
	shape.Set(vocab.PropRawSchema, graph.String(text))
	return s.add(shape)
}

// offsetLines shifts positions of an embedded document so source maps
// point into the enclosing file.
func offsetLines(n, at *yaml.Node) {
	if at == nil || n == nil {
		return
	}
	n.Line += at.Line
	for _, c := range n.Content {
		offsetLines(c, at)
	}
}

func looksLikeSchemaText(v string) bool {
	v = strings.TrimSpace(v)
	return strings.HasPrefix(v, "{") || strings.HasPrefix(v, "<")
}

func isJSONDocument(uri string) bool {
	u, err := url.Parse(uri)
	return err == nil && strings.EqualFold(path.Ext(u.Path), ".json")
}

func inferType(n *yaml.Node, version Dialect) string {
	switch {
	case lookup(n, "properties") != nil:
		return "object"
	case lookup(n, "items") != nil:
		return "array"
	case version == RAML08, lookup(n, "pattern") != nil, lookup(n, "minLength") != nil, lookup(n, "maxLength") != nil:
		return "string"
	case lookup(n, "minimum") != nil, lookup(n, "maximum") != nil:
		return "number"
	case lookup(n, "enum") != nil:
		return "string"
	}
	return "any"
}

var ramlBuiltins = map[string]string{
	"string":        vocab.XSDString,
	"number":        vocab.XSDNumber,
	"integer":       vocab.XSDInteger,
	"boolean":       vocab.XSDBoolean,
	"date-only":     vocab.XSDDate,
	"time-only":     vocab.XSDTime,
	"datetime-only": vocab.XSDDateTime,
	"datetime":      vocab.XSDDateTime,
	"date":          vocab.XSDDateTime,
	"object":        "",
	"array":         "",
	"file":          "",
	"nil":           "",
	"any":           "",
}

func isBuiltin(name string) bool {
	_, ok := ramlBuiltins[name]
	return ok
}

func ramlDatatype(name string) string {
	if dt := ramlBuiltins[name]; dt != "" {
		return dt
	}
	return vocab.XSDString
}

// splitUnion splits a type expression on top-level "|".
func splitUnion(expr string) []string {
	var parts []string
	depth, start := 0, 0
	for i, c := range expr {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
		case '|':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(expr[start:i]))
				start = i + 1
			}
		}
	}
	return append(parts, strings.TrimSpace(expr[start:]))
}
