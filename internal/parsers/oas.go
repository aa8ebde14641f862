package parsers

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Benny93/apigraph-go/internal/graph"
	"github.com/Benny93/apigraph-go/internal/vocab"
)

var httpMethods = []string{"get", "put", "post", "delete", "options", "head", "patch", "trace"}

// oasBuilder is the OpenAPI 2.0 and 3.0 grammar.
type oasBuilder struct {
	version Dialect
	s       *session
	doc     *document

	// OAS 2.0 media types inherited by operations.
	consumes []string
	produces []string
}

func (o *oasBuilder) v2() bool { return o.version == OAS20 }

func (o *oasBuilder) build(s *session, doc *document) error {
	o.s, o.doc = s, doc
	root := doc.Root
	p := pos{base: doc.URI, src: doc.URI}

	api := s.node(p.child("web-api"), root, vocab.TypeWebAPI, vocab.TypeAPI)
	s.graph.SetRoot(api.ID)

	info := lookup(root, "info")
	setString(api, vocab.PropName, str(info, "title"))
	setString(api, vocab.PropDescription, str(info, "description"))
	setScalar(api, vocab.PropVersion, info, "version")
	s.extensions(api, p.child("info"), info)
	s.extensions(api, p, root)

	if o.v2() {
		o.consumes = stringList(lookup(root, "consumes"))
		o.produces = stringList(lookup(root, "produces"))
		o.serverV2(api, p, root)
	} else {
		for i, srv := range items(lookup(root, "servers")) {
			api.AppendRef(vocab.PropServer, o.server(p.child("servers", strconv.Itoa(i)), srv))
		}
	}
	for _, mt := range o.consumes {
		api.Append(vocab.PropAccepts, graph.String(mt))
	}
	for _, mt := range o.produces {
		api.Append(vocab.PropContentType, graph.String(mt))
	}

	o.declarations(api, p, root)

	if sec := lookup(root, "security"); sec != nil {
		api.Set(vocab.PropSecurity, o.security(p.child("security"), sec))
	}
	for _, tag := range items(lookup(root, "tags")) {
		if name := str(tag, "name"); name != "" {
			api.Append(vocab.PropTag, graph.String(name))
		}
	}

	for _, e := range entries(lookup(root, "paths")) {
		if strings.HasPrefix(e.Key, "x-") {
			continue
		}
		api.AppendRef(vocab.PropEndpoint, o.endpoint(p.child("paths", e.Key), e))
	}

	s.add(api)
	return s.err
}

func (o *oasBuilder) serverV2(api *graph.DocumentNode, p pos, root *yaml.Node) {
	schemes := stringList(lookup(root, "schemes"))
	for _, sc := range schemes {
		api.Append(vocab.PropScheme, graph.String(sc))
	}
	host := str(root, "host")
	if host == "" {
		return
	}
	scheme := "http"
	if len(schemes) > 0 {
		scheme = schemes[0]
	}
	srv := o.s.node(p.child("host"), lookup(root, "host"), vocab.TypeServer)
	srv.Set(vocab.PropURLTemplate, graph.String(scheme+"://"+host+str(root, "basePath")))
	api.AppendRef(vocab.PropServer, o.s.add(srv))
}

func (o *oasBuilder) server(p pos, n *yaml.Node) string {
	srv := o.s.node(p, n, vocab.TypeServer)
	setString(srv, vocab.PropURLTemplate, str(n, "url"))
	setString(srv, vocab.PropDescription, str(n, "description"))
	for _, v := range entries(lookup(n, "variables")) {
		param := o.s.node(p.child("variables", v.Key), v.KeyNode, vocab.TypeParameter)
		param.Set(vocab.PropParamName, graph.String(v.Key))
		param.Set(vocab.PropBinding, graph.String("path"))
		param.Set(vocab.PropRequired, graph.Bool(true))
		setString(param, vocab.PropDescription, str(v.Value, "description"))
		shape := o.s.node(p.child("variables", v.Key, "schema"), v.Value, vocab.TypeScalarShape, vocab.TypeShape)
		shape.Set(vocab.PropDatatype, graph.String(vocab.XSDString))
		setScalar(shape, vocab.PropDefault, v.Value, "default")
		if enum, ok := dataValue(lookup(v.Value, "enum")); ok {
			shape.Set(vocab.PropIn, enum)
		}
		param.Set(vocab.PropSchema, graph.Ref(o.s.add(shape)))
		srv.AppendRef(vocab.PropParameter, o.s.add(param))
	}
	o.s.extensions(srv, p, n)
	return o.s.add(srv)
}

// declarations builds reusable definitions and lists them on the API.
func (o *oasBuilder) declarations(api *graph.DocumentNode, p pos, root *yaml.Node) {
	type section struct {
		path  []string
		build func(p pos, n *yaml.Node) string
	}
	var sections []section
	if o.v2() {
		sections = []section{
			{[]string{"definitions"}, o.s.schema},
			{[]string{"parameters"}, o.parameter},
			{[]string{"responses"}, o.response},
			{[]string{"securityDefinitions"}, o.securityScheme},
		}
	} else {
		sections = []section{
			{[]string{"components", "schemas"}, o.s.schema},
			{[]string{"components", "parameters"}, o.parameter},
			{[]string{"components", "headers"}, o.header},
			{[]string{"components", "requestBodies"}, o.requestBody},
			{[]string{"components", "responses"}, o.response},
			{[]string{"components", "securitySchemes"}, o.securityScheme},
		}
	}

	for _, sec := range sections {
		n := root
		for _, k := range sec.path {
			n = lookup(n, k)
		}
		sp := p.child(sec.path...)
		for _, e := range entries(n) {
			if strings.HasPrefix(e.Key, "x-") {
				continue
			}
			id := sec.build(sp.child(e.Key), e.Value)
			declare(o.s.graph, api, id, e.Key)
		}
	}
}

// declare names a declaration and lists it on the API element.
func declare(g *graph.Graph, api *graph.DocumentNode, id, name string) {
	if n := g.GetNode(id); n != nil && !n.Has(vocab.PropName) {
		n.Set(vocab.PropName, graph.String(name))
	}
	api.AppendRef(vocab.PropDeclares, id)
}

func (o *oasBuilder) endpoint(p pos, e entry) string {
	s := o.s
	ep := s.node(p, e.KeyNode, vocab.TypeEndPoint)
	ep.Set(vocab.PropPath, graph.String(e.Key))
	setString(ep, vocab.PropSummary, str(e.Value, "summary"))
	setString(ep, vocab.PropDescription, str(e.Value, "description"))

	shared := lookup(e.Value, "parameters")
	for i, prm := range items(shared) {
		ep.AppendRef(vocab.PropParameter, o.parameter(p.child("parameters", strconv.Itoa(i)), prm))
	}
	for _, m := range httpMethods {
		if op := lookup(e.Value, m); op != nil {
			ep.AppendRef(vocab.PropOperation, o.operation(p.child(m), m, op))
		}
	}
	s.extensions(ep, p, e.Value)
	return s.add(ep)
}

func (o *oasBuilder) operation(p pos, method string, n *yaml.Node) string {
	s := o.s
	op := s.node(p, n, vocab.TypeOperation)
	op.Set(vocab.PropMethod, graph.String(method))
	setString(op, vocab.PropOperationID, str(n, "operationId"))
	setString(op, vocab.PropSummary, str(n, "summary"))
	setString(op, vocab.PropDescription, str(n, "description"))
	setScalar(op, vocab.PropDeprecated, n, "deprecated")
	for _, tag := range stringList(lookup(n, "tags")) {
		op.Append(vocab.PropTag, graph.String(tag))
	}

	consumes, produces := o.consumes, o.produces
	if c := lookup(n, "consumes"); c != nil {
		consumes = stringList(c)
	}
	if pr := lookup(n, "produces"); pr != nil {
		produces = stringList(pr)
	}

	if req := o.request(p, n, consumes); req != "" {
		op.Set(vocab.PropExpects, graph.RefList(req))
	}

	var responses []string
	for _, e := range entries(lookup(n, "responses")) {
		if strings.HasPrefix(e.Key, "x-") {
			continue
		}
		rp := p.child("responses", e.Key)
		var id string
		if ref := str(e.Value, "$ref"); ref != "" {
			id = o.responseLink(rp, e, ref)
		} else {
			id = o.responseBody(rp, e.Value, e.Key, produces)
		}
		responses = append(responses, id)
	}
	if len(responses) > 0 {
		op.Set(vocab.PropReturns, graph.RefList(responses...))
	}

	if sec := lookup(n, "security"); sec != nil {
		op.Set(vocab.PropSecurity, o.security(p.child("security"), sec))
	}
	s.extensions(op, p, n)
	return s.add(op)
}

// request gathers parameters and the body of an operation. OAS 2.0 body
// parameters become payloads.
func (o *oasBuilder) request(opPos pos, op *yaml.Node, consumes []string) string {
	s := o.s
	p := opPos.child("requestBody")
	params := items(lookup(op, "parameters"))
	body := lookup(op, "requestBody")
	if len(params) == 0 && body == nil {
		return ""
	}

	var req *graph.DocumentNode
	if ref := str(body, "$ref"); ref != "" {
		target, err := refIRI(p.src, ref)
		if err != nil {
			s.failAt(p, body, "invalid $ref "+strconv.Quote(ref))
			return ""
		}
		s.require(target, o.requestBody)
		req = s.node(p, body, vocab.TypeLinkable, vocab.TypeRequest)
		req.Set(vocab.PropLinkTarget, graph.Ref(target))
		req.Set(vocab.PropLinkLabel, graph.String(ref))
	} else {
		at := body
		if at == nil {
			at = op
		}
		req = s.node(p, at, vocab.TypeRequest)
		if body != nil {
			o.fillRequestBody(req, p, body)
		}
	}

	for i, prm := range params {
		pp := opPos.child("parameters", strconv.Itoa(i))
		if o.v2() && str(prm, "in") == "body" {
			req.AppendRef(vocab.PropPayload, o.bodyParameter(pp, prm, consumes))
			continue
		}
		req.AppendRef(vocab.PropParameter, o.parameter(pp, prm))
	}
	return s.add(req)
}

func (o *oasBuilder) requestBody(p pos, n *yaml.Node) string {
	if ref := str(n, "$ref"); ref != "" {
		return o.s.refLink(p, n, ref, o.requestBody, vocab.TypeRequest)
	}
	req := o.s.node(p, n, vocab.TypeRequest)
	o.fillRequestBody(req, p, n)
	return o.s.add(req)
}

func (o *oasBuilder) fillRequestBody(req *graph.DocumentNode, p pos, n *yaml.Node) {
	setString(req, vocab.PropDescription, str(n, "description"))
	setScalar(req, vocab.PropRequired, n, "required")
	for _, id := range o.content(p.child("content"), lookup(n, "content")) {
		req.AppendRef(vocab.PropPayload, id)
	}
	o.s.extensions(req, p, n)
}

func (o *oasBuilder) content(p pos, n *yaml.Node) []string {
	var ids []string
	for _, e := range entries(n) {
		mp := p.child(e.Key)
		pl := o.s.node(mp, e.KeyNode, vocab.TypePayload)
		pl.Set(vocab.PropMediaType, graph.String(e.Key))
		if sch := lookup(e.Value, "schema"); sch != nil {
			pl.Set(vocab.PropSchema, graph.Ref(o.s.schema(mp.child("schema"), sch)))
		}
		if ex, ok := dataValue(lookup(e.Value, "example")); ok {
			pl.Set(vocab.PropExample, ex)
		}
		ids = append(ids, o.s.add(pl))
	}
	return ids
}

func (o *oasBuilder) bodyParameter(p pos, n *yaml.Node, consumes []string) string {
	pl := o.s.node(p, n, vocab.TypePayload)
	if len(consumes) > 0 {
		pl.Set(vocab.PropMediaType, graph.String(consumes[0]))
	}
	setString(pl, vocab.PropName, str(n, "name"))
	setString(pl, vocab.PropDescription, str(n, "description"))
	if sch := lookup(n, "schema"); sch != nil {
		pl.Set(vocab.PropSchema, graph.Ref(o.s.schema(p.child("schema"), sch)))
	}
	return o.s.add(pl)
}

func (o *oasBuilder) parameter(p pos, n *yaml.Node) string {
	s := o.s
	if ref := str(n, "$ref"); ref != "" {
		return s.refLink(p, n, ref, o.parameter, vocab.TypeParameter)
	}
	if o.v2() && str(n, "in") == "body" {
		return o.bodyParameter(p, n, o.consumes)
	}

	prm := s.node(p, n, vocab.TypeParameter)
	setString(prm, vocab.PropParamName, str(n, "name"))
	setString(prm, vocab.PropName, str(n, "name"))
	setString(prm, vocab.PropBinding, str(n, "in"))
	setString(prm, vocab.PropDescription, str(n, "description"))
	setScalar(prm, vocab.PropRequired, n, "required")
	setScalar(prm, vocab.PropDeprecated, n, "deprecated")

	switch {
	case lookup(n, "schema") != nil:
		prm.Set(vocab.PropSchema, graph.Ref(s.schema(p.child("schema"), lookup(n, "schema"))))
	case lookup(n, "content") != nil:
		for _, e := range entries(lookup(n, "content")) {
			if sch := lookup(e.Value, "schema"); sch != nil {
				prm.Set(vocab.PropSchema, graph.Ref(s.schema(p.child("content", e.Key, "schema"), sch)))
				break
			}
		}
	case o.v2() && lookup(n, "type") != nil:
		prm.Set(vocab.PropSchema, graph.Ref(s.schema(p.child("schema"), without(n, "name", "in", "required", "description"))))
	}
	s.extensions(prm, p, n)
	return s.add(prm)
}

func (o *oasBuilder) header(p pos, n *yaml.Node) string {
	if ref := str(n, "$ref"); ref != "" {
		return o.s.refLink(p, n, ref, o.header, vocab.TypeParameter)
	}
	h := o.s.node(p, n, vocab.TypeParameter)
	h.Set(vocab.PropBinding, graph.String("header"))
	setString(h, vocab.PropDescription, str(n, "description"))
	setScalar(h, vocab.PropRequired, n, "required")
	if sch := lookup(n, "schema"); sch != nil {
		h.Set(vocab.PropSchema, graph.Ref(o.s.schema(p.child("schema"), sch)))
	} else if lookup(n, "type") != nil {
		h.Set(vocab.PropSchema, graph.Ref(o.s.schema(p.child("schema"), without(n, "description"))))
	}
	return o.s.add(h)
}

// responseLink keeps the status code on the usage site of a shared response.
func (o *oasBuilder) responseLink(p pos, e entry, ref string) string {
	target, err := refIRI(p.src, ref)
	if err != nil {
		o.s.failAt(p, e.Value, "invalid $ref "+strconv.Quote(ref))
		return p.id()
	}
	o.s.require(target, o.response)
	n := o.s.node(p, e.KeyNode, vocab.TypeLinkable, vocab.TypeResponse)
	n.Set(vocab.PropLinkTarget, graph.Ref(target))
	n.Set(vocab.PropLinkLabel, graph.String(ref))
	n.Set(vocab.PropStatusCode, graph.String(e.Key))
	n.Set(vocab.PropName, graph.String(e.Key))
	return o.s.add(n)
}

func (o *oasBuilder) response(p pos, n *yaml.Node) string {
	if ref := str(n, "$ref"); ref != "" {
		return o.s.refLink(p, n, ref, o.response, vocab.TypeResponse)
	}
	return o.responseBody(p, n, "", o.produces)
}

func (o *oasBuilder) responseBody(p pos, n *yaml.Node, code string, produces []string) string {
	s := o.s
	r := s.node(p, n, vocab.TypeResponse)
	if code != "" {
		r.Set(vocab.PropStatusCode, graph.String(code))
		r.Set(vocab.PropName, graph.String(code))
	}
	setString(r, vocab.PropDescription, str(n, "description"))

	for _, h := range entries(lookup(n, "headers")) {
		id := o.header(p.child("headers", h.Key), h.Value)
		if hn := s.graph.GetNode(id); hn != nil {
			hn.Set(vocab.PropParamName, graph.String(h.Key))
		}
		r.AppendRef(vocab.PropHeader, id)
	}

	if o.v2() {
		if sch := lookup(n, "schema"); sch != nil {
			pl := s.node(p.child("payload"), sch, vocab.TypePayload)
			if len(produces) > 0 {
				pl.Set(vocab.PropMediaType, graph.String(produces[0]))
			}
			pl.Set(vocab.PropSchema, graph.Ref(s.schema(p.child("schema"), sch)))
			r.AppendRef(vocab.PropPayload, s.add(pl))
		}
	} else {
		for _, id := range o.content(p.child("content"), lookup(n, "content")) {
			r.AppendRef(vocab.PropPayload, id)
		}
	}
	s.extensions(r, p, n)
	return s.add(r)
}

func (o *oasBuilder) securityScheme(p pos, n *yaml.Node) string {
	if ref := str(n, "$ref"); ref != "" {
		return o.s.refLink(p, n, ref, o.securityScheme, vocab.TypeSecurityScheme)
	}
	sc := o.s.node(p, n, vocab.TypeSecurityScheme)
	setString(sc, vocab.PropSecurityType, str(n, "type"))
	setString(sc, vocab.PropDescription, str(n, "description"))
	if settings, ok := dataValue(without(n, "type", "description")); ok && settings.Kind == graph.KindScalar && settings.Scalar != "{}" {
		sc.Set(vocab.PropSettings, settings)
	}
	o.s.extensions(sc, p, n)
	return o.s.add(sc)
}

func (o *oasBuilder) security(p pos, n *yaml.Node) graph.Value {
	decl := pos{base: o.doc.URI, src: o.doc.URI}.child("components", "securitySchemes")
	if o.v2() {
		decl = pos{base: o.doc.URI, src: o.doc.URI}.child("securityDefinitions")
	}
	return o.s.requirements(p, n, func(name string) string { return decl.child(name).id() })
}

// without returns a copy of mapping n minus the given keys.
func without(n *yaml.Node, keys ...string) *yaml.Node {
	skip := make(map[string]bool, len(keys))
	for _, k := range keys {
		skip[k] = true
	}
	out := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Line: n.Line, Column: n.Column}
	for _, e := range entries(n) {
		if skip[e.Key] || strings.HasPrefix(e.Key, "x-") {
			continue
		}
		out.Content = append(out.Content, e.KeyNode, e.Value)
	}
	return out
}
