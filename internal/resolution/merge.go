package resolution

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Benny93/apigraph-go/internal/graph"
	"github.com/Benny93/apigraph-go/internal/vocab"
)

// Types that describe a declaration rather than its body.
var declarationTypes = map[string]bool{
	vocab.TypeTrait:        true,
	vocab.TypeResourceType: true,
	vocab.TypeAbstractDecl: true,
	vocab.TypeLinkable:     true,
}

// applyTraits merges trait bodies into operations: the operation's own
// traits first, then the traits of its endpoint.
func (r *run) applyTraits() {
	for _, ep := range r.g.NodesByType(vocab.TypeEndPoint) {
		if r.inTemplate(ep.ID) {
			continue
		}
		epTraits := r.applications(ep, vocab.TypeParametrizedTrait)
		for _, opID := range ep.Refs(vocab.PropOperation) {
			op := r.g.GetNode(opID)
			if op == nil || r.inTemplate(op.ID) {
				continue
			}
			for _, app := range r.applications(op, vocab.TypeParametrizedTrait) {
				r.apply(op, app, r.paramsFor(app, ep, op))
			}
			for _, app := range epTraits {
				r.apply(op, app, r.paramsFor(app, ep, op))
			}
		}
	}
}

// applyResourceTypes merges resource type bodies into endpoints. Resource
// types may themselves name a resource type; those arrive as new
// applications and are applied in turn.
func (r *run) applyResourceTypes() {
	for _, ep := range r.g.NodesByType(vocab.TypeEndPoint) {
		if r.inTemplate(ep.ID) {
			continue
		}
		done := make(map[string]bool)
		for {
			var next *graph.DocumentNode
			for _, app := range r.applications(ep, vocab.TypeParametrizedRType) {
				if !done[app.ID] {
					next = app
					break
				}
			}
			if next == nil {
				break
			}
			done[next.ID] = true
			r.apply(ep, next, r.paramsFor(next, ep, nil))
		}
	}
}

func (r *run) applications(n *graph.DocumentNode, typ string) []*graph.DocumentNode {
	var out []*graph.DocumentNode
	for _, id := range n.Refs(vocab.PropExtends) {
		if app := r.g.GetNode(id); app != nil && app.HasType(typ) {
			out = append(out, app)
		}
	}
	return out
}

// apply merges the declaration an application points at into dst.
// A missing declaration leaves the application's target dangling.
func (r *run) apply(dst, app *graph.DocumentNode, p params) {
	targets := app.Refs(vocab.PropTarget)
	if len(targets) == 0 {
		return
	}
	decl := r.g.GetNode(targets[0])
	if decl == nil {
		return
	}
	m := &merger{
		g:       r.g,
		srcRoot: decl.ID,
		dstRoot: dst.ID,
		tag:     decl.Str(vocab.PropName),
		params:  p,
	}
	m.merge(dst, decl)
}

// merger copies a declaration body onto a node. The node's own values
// always win; missing values are filled in; lists of child nodes are
// matched by key and merged recursively; children with no counterpart are
// cloned under the destination.
type merger struct {
	g       *graph.Graph
	srcRoot string
	dstRoot string
	tag     string
	params  params
}

func (m *merger) owned(id string) bool {
	return strings.HasPrefix(id, m.srcRoot+"/")
}

func (m *merger) ownsAny(v graph.Value) bool {
	for _, id := range v.Refs() {
		if m.owned(id) {
			return true
		}
	}
	return false
}

func (m *merger) merge(dst, src *graph.DocumentNode) {
	retyped := false
	for _, t := range src.Types {
		if !declarationTypes[t] && !dst.HasType(t) {
			dst.AddType(t)
			retyped = true
		}
	}

	for _, prop := range src.PropertyNames() {
		switch {
		case prop == vocab.PropOptional:
			continue
		case prop == vocab.PropName && src.ID == m.srcRoot:
			continue
		case prop == vocab.PropLinkTarget && dst.Has(vocab.PropResolvedLink):
			continue
		}
		sv := src.Properties[prop]
		dv, has := dst.Get(prop)
		switch {
		case m.ownsAny(sv):
			m.mergeChildren(dst, prop, sv, dv, has)
		case !has:
			dst.Set(prop, m.params.value(sv))
		case dv.Kind == graph.KindList && sv.Kind == graph.KindList:
			dst.Set(prop, union(dv, m.params.value(sv)))
		}
	}

	if retyped {
		m.g.Reindex(dst)
	}
}

func (m *merger) mergeChildren(dst *graph.DocumentNode, prop string, sv, dv graph.Value, has bool) {
	if has && dv.Kind == graph.KindRef && sv.Kind == graph.KindRef {
		partner, child := m.g.GetNode(dv.Ref), m.g.GetNode(sv.Ref)
		if partner != nil && child != nil {
			m.merge(partner, child)
		}
		return
	}
	if has && dv.Kind == graph.KindScalar {
		return
	}

	ids := dv.Refs()
	changed := false
	for _, sid := range sv.Refs() {
		if !m.owned(sid) {
			if ref := m.params.ref(sid); !contains(ids, ref) {
				ids = append(ids, ref)
				changed = true
			}
			continue
		}
		child := m.g.GetNode(sid)
		if child == nil {
			continue
		}
		if partner := m.partner(ids, child); partner != nil {
			m.merge(partner, child)
			continue
		}
		if v, ok := child.Get(vocab.PropOptional); ok && v.Scalar == true {
			continue
		}
		ids = append(ids, m.clone(child))
		changed = true
	}
	if !changed {
		return
	}
	if sv.Kind == graph.KindRef && !has && len(ids) == 1 {
		dst.Set(prop, graph.Ref(ids[0]))
		return
	}
	dst.Set(prop, graph.RefList(ids...))
}

// partner finds the child of dst that corresponds to child.
func (m *merger) partner(ids []string, child *graph.DocumentNode) *graph.DocumentNode {
	key := m.key(child, m.srcRoot, m.params)
	for _, id := range ids {
		if n := m.g.GetNode(id); n != nil && m.key(n, m.dstRoot, nil) == key {
			return n
		}
	}
	return nil
}

// key identifies a child node within its parent list.
func (m *merger) key(n *graph.DocumentNode, root string, p params) string {
	s := func(prop string) string { return p.str(n.Str(prop)) }
	switch {
	case n.HasType(vocab.TypeOperation):
		return "operation:" + s(vocab.PropMethod)
	case n.HasType(vocab.TypeResponse):
		return "response:" + s(vocab.PropStatusCode)
	case n.HasType(vocab.TypeRequest):
		return "request"
	case n.HasType(vocab.TypeParameter):
		return "parameter:" + s(vocab.PropBinding) + ":" + s(vocab.PropParamName)
	case n.HasType(vocab.TypePayload):
		return "payload:" + s(vocab.PropMediaType)
	case n.HasType(vocab.TypePropertyShape):
		return "property:" + s(vocab.PropName)
	case n.HasType(vocab.TypeParametrizedTrait):
		return "trait:" + s(vocab.PropName)
	case n.HasType(vocab.TypeParametrizedRType):
		return "resourceType:" + s(vocab.PropName)
	case n.HasType(vocab.TypeDomainExtension):
		return "extension:" + s(vocab.PropName)
	case n.HasType(vocab.TypeVariableValue):
		return "variable:" + s(vocab.PropName)
	}
	rest := strings.TrimPrefix(n.ID, root)
	if root == m.dstRoot {
		rest = m.untag(rest)
	}
	return "at:" + rest
}

// untag removes the segment clone adds on id collisions.
func (m *merger) untag(rest string) string {
	seg := "/" + escapeTag(m.tag)
	if !strings.HasPrefix(rest, seg) {
		return rest
	}
	after := rest[len(seg):]
	if n, ok := strings.CutPrefix(after, "-"); ok {
		i := 0
		for i < len(n) && n[i] >= '0' && n[i] <= '9' {
			i++
		}
		if i > 0 {
			after = n[i:]
		}
	}
	if after == "" || strings.HasPrefix(after, "/") {
		return after
	}
	return rest
}

// clone copies child and every node it owns below the destination root and
// returns the id of the copy. Ids are relocated from the declaration to the
// destination; on collision they move under a segment named after the
// declaration.
func (m *merger) clone(child *graph.DocumentNode) string {
	members := m.collect(child)

	prefix := m.dstRoot
	for i := 1; m.collides(members, prefix); i++ {
		prefix = fmt.Sprintf("%s/%s", m.dstRoot, escapeTag(m.tag))
		if i > 1 {
			prefix = fmt.Sprintf("%s-%d", prefix, i)
		}
	}
	relocate := func(id string) string {
		if _, ok := members[id]; ok {
			return m.params.ref(prefix + strings.TrimPrefix(id, m.srcRoot))
		}
		return m.params.ref(id)
	}

	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c := members[id].Clone()
		c.ID = relocate(id)
		c.Delete(vocab.PropOptional)
		for prop, v := range c.Properties {
			c.Properties[prop] = m.params.value(v.MapRefs(relocate))
		}
		m.g.PutNode(c)
	}
	return relocate(child.ID)
}

// collect returns child and the declaration-owned nodes reachable from it.
func (m *merger) collect(child *graph.DocumentNode) map[string]*graph.DocumentNode {
	members := map[string]*graph.DocumentNode{child.ID: child}
	stack := []*graph.DocumentNode{child}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, ref := range n.OutRefs() {
			if _, seen := members[ref]; seen || !m.owned(ref) {
				continue
			}
			if next := m.g.GetNode(ref); next != nil {
				members[ref] = next
				stack = append(stack, next)
			}
		}
	}
	return members
}

func (m *merger) collides(members map[string]*graph.DocumentNode, prefix string) bool {
	for id := range members {
		if m.g.HasNode(m.params.ref(prefix + strings.TrimPrefix(id, m.srcRoot))) {
			return true
		}
	}
	return false
}

func escapeTag(tag string) string {
	if tag == "" {
		return "applied"
	}
	return strings.NewReplacer("~", "~0", "/", "~1", " ", "%20").Replace(tag)
}

// union appends the entries of b missing from a.
func union(a, b graph.Value) graph.Value {
	out := append([]graph.Value(nil), a.List...)
	for _, v := range b.List {
		found := false
		for _, have := range out {
			if have.Equal(v) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, v)
		}
	}
	return graph.List(out...)
}

func contains(ids []string, id string) bool {
	for _, have := range ids {
		if have == id {
			return true
		}
	}
	return false
}
