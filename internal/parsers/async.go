package parsers

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Benny93/apigraph-go/internal/graph"
	"github.com/Benny93/apigraph-go/internal/vocab"
)

// asyncBuilder is the AsyncAPI 2.0 grammar. Channels become endpoints and
// publish/subscribe become operations whose request or response is a
// message.
type asyncBuilder struct {
	s   *session
	doc *document
}

func (a *asyncBuilder) build(s *session, doc *document) error {
	a.s, a.doc = s, doc
	root := doc.Root
	p := pos{base: doc.URI, src: doc.URI}

	api := s.node(p.child("async-api"), root, vocab.TypeAsyncAPI, vocab.TypeAPI)
	s.graph.SetRoot(api.ID)

	info := lookup(root, "info")
	setString(api, vocab.PropName, str(info, "title"))
	setString(api, vocab.PropDescription, str(info, "description"))
	setScalar(api, vocab.PropVersion, info, "version")
	if ct := str(root, "defaultContentType"); ct != "" {
		api.Set(vocab.PropContentType, graph.List(graph.String(ct)))
	}
	s.extensions(api, p, root)

	for _, e := range entries(lookup(root, "servers")) {
		api.AppendRef(vocab.PropServer, a.server(p.child("servers", e.Key), e))
	}

	components := lookup(root, "components")
	cp := p.child("components")
	for _, e := range entries(lookup(components, "schemas")) {
		declare(s.graph, api, s.schema(cp.child("schemas", e.Key), e.Value), e.Key)
	}
	for _, e := range entries(lookup(components, "messages")) {
		declare(s.graph, api, a.message(cp.child("messages", e.Key), e.Value), e.Key)
	}
	for _, e := range entries(lookup(components, "parameters")) {
		declare(s.graph, api, a.parameter(cp.child("parameters", e.Key), e.Value), e.Key)
	}
	for _, e := range entries(lookup(components, "securitySchemes")) {
		declare(s.graph, api, a.securityScheme(cp.child("securitySchemes", e.Key), e.Value), e.Key)
	}

	for _, e := range entries(lookup(root, "channels")) {
		if strings.HasPrefix(e.Key, "x-") {
			continue
		}
		api.AppendRef(vocab.PropEndpoint, a.channel(p.child("channels", e.Key), e))
	}

	s.add(api)
	return s.err
}

func (a *asyncBuilder) server(p pos, e entry) string {
	srv := a.s.node(p, e.KeyNode, vocab.TypeServer)
	srv.Set(vocab.PropName, graph.String(e.Key))
	setString(srv, vocab.PropURLTemplate, str(e.Value, "url"))
	setString(srv, vocab.PropProtocol, str(e.Value, "protocol"))
	setString(srv, vocab.PropDescription, str(e.Value, "description"))
	if sec := lookup(e.Value, "security"); sec != nil {
		srv.Set(vocab.PropSecurity, a.security(p.child("security"), sec))
	}
	a.s.extensions(srv, p, e.Value)
	return a.s.add(srv)
}

func (a *asyncBuilder) channel(p pos, e entry) string {
	s := a.s
	ch := s.node(p, e.KeyNode, vocab.TypeEndPoint)
	ch.Set(vocab.PropPath, graph.String(e.Key))
	setString(ch, vocab.PropDescription, str(e.Value, "description"))
	for _, prm := range entries(lookup(e.Value, "parameters")) {
		id := a.parameter(p.child("parameters", prm.Key), prm.Value)
		if pn := s.graph.GetNode(id); pn != nil {
			pn.Set(vocab.PropParamName, graph.String(prm.Key))
		}
		ch.AppendRef(vocab.PropParameter, id)
	}
	for _, method := range []string{"publish", "subscribe"} {
		if op := lookup(e.Value, method); op != nil {
			ch.AppendRef(vocab.PropOperation, a.operation(p.child(method), method, op))
		}
	}
	s.extensions(ch, p, e.Value)
	return s.add(ch)
}

func (a *asyncBuilder) operation(p pos, method string, n *yaml.Node) string {
	s := a.s
	op := s.node(p, n, vocab.TypeOperation)
	op.Set(vocab.PropMethod, graph.String(method))
	setString(op, vocab.PropOperationID, str(n, "operationId"))
	setString(op, vocab.PropSummary, str(n, "summary"))
	setString(op, vocab.PropDescription, str(n, "description"))
	for _, tag := range items(lookup(n, "tags")) {
		if name := str(tag, "name"); name != "" {
			op.Append(vocab.PropTag, graph.String(name))
		}
	}

	// Messages a client publishes are requests; messages it subscribes to
	// are responses.
	prop, kind := vocab.PropExpects, vocab.TypeRequest
	if method == "subscribe" {
		prop, kind = vocab.PropReturns, vocab.TypeResponse
	}
	msg := lookup(n, "message")
	if alts := lookup(msg, "oneOf"); alts != nil {
		for i, m := range items(alts) {
			op.AppendRef(prop, a.typedMessage(p.child("message", "oneOf", strconv.Itoa(i)), m, kind))
		}
	} else if msg != nil {
		op.AppendRef(prop, a.typedMessage(p.child("message"), msg, kind))
	}

	if sec := lookup(n, "security"); sec != nil {
		op.Set(vocab.PropSecurity, a.security(p.child("security"), sec))
	}
	s.extensions(op, p, n)
	return s.add(op)
}

// typedMessage builds a message in request or response position.
func (a *asyncBuilder) typedMessage(p pos, n *yaml.Node, kind string) string {
	if ref := str(n, "$ref"); ref != "" {
		return a.s.refLink(p, n, ref, a.message, vocab.TypeMessage, kind)
	}
	id := a.message(p, n)
	if m := a.s.graph.GetNode(id); m != nil && !m.HasType(kind) {
		m.AddType(kind)
		a.s.graph.Reindex(m)
	}
	return id
}

func (a *asyncBuilder) message(p pos, n *yaml.Node) string {
	s := a.s
	if ref := str(n, "$ref"); ref != "" {
		return s.refLink(p, n, ref, a.message, vocab.TypeMessage)
	}
	m := s.node(p, n, vocab.TypeMessage)
	setString(m, vocab.PropName, str(n, "name"))
	setString(m, vocab.PropDisplayName, str(n, "title"))
	setString(m, vocab.PropSummary, str(n, "summary"))
	setString(m, vocab.PropDescription, str(n, "description"))

	if payload := lookup(n, "payload"); payload != nil {
		pl := s.node(p.child("payload-type"), payload, vocab.TypePayload)
		setString(pl, vocab.PropMediaType, str(n, "contentType"))
		pl.Set(vocab.PropSchema, graph.Ref(s.schema(p.child("payload"), payload)))
		m.AppendRef(vocab.PropPayload, s.add(pl))
	}
	if headers := lookup(n, "headers"); headers != nil {
		h := s.node(p.child("header-parameter"), headers, vocab.TypeParameter)
		h.Set(vocab.PropParamName, graph.String("headers"))
		h.Set(vocab.PropBinding, graph.String("header"))
		h.Set(vocab.PropSchema, graph.Ref(s.schema(p.child("headers"), headers)))
		m.AppendRef(vocab.PropHeader, s.add(h))
	}
	s.extensions(m, p, n)
	return s.add(m)
}

func (a *asyncBuilder) parameter(p pos, n *yaml.Node) string {
	if ref := str(n, "$ref"); ref != "" {
		return a.s.refLink(p, n, ref, a.parameter, vocab.TypeParameter)
	}
	prm := a.s.node(p, n, vocab.TypeParameter)
	prm.Set(vocab.PropBinding, graph.String("path"))
	prm.Set(vocab.PropRequired, graph.Bool(true))
	setString(prm, vocab.PropDescription, str(n, "description"))
	if sch := lookup(n, "schema"); sch != nil {
		prm.Set(vocab.PropSchema, graph.Ref(a.s.schema(p.child("schema"), sch)))
	}
	return a.s.add(prm)
}

func (a *asyncBuilder) securityScheme(p pos, n *yaml.Node) string {
	if ref := str(n, "$ref"); ref != "" {
		return a.s.refLink(p, n, ref, a.securityScheme, vocab.TypeSecurityScheme)
	}
	sc := a.s.node(p, n, vocab.TypeSecurityScheme)
	setString(sc, vocab.PropSecurityType, str(n, "type"))
	setString(sc, vocab.PropDescription, str(n, "description"))
	if settings, ok := dataValue(without(n, "type", "description")); ok && settings.Scalar != "{}" {
		sc.Set(vocab.PropSettings, settings)
	}
	return a.s.add(sc)
}

func (a *asyncBuilder) security(p pos, n *yaml.Node) graph.Value {
	decl := pos{base: a.doc.URI, src: a.doc.URI}.child("components", "securitySchemes")
	return a.s.requirements(p, n, func(name string) string { return decl.child(name).id() })
}
