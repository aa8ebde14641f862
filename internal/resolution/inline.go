package resolution

import (
	"sort"
	"strings"

	"github.com/Benny93/apigraph-go/internal/graph"
	"github.com/Benny93/apigraph-go/internal/vocab"
)

// frame is one level of reference expansion: the declaration being
// expanded and the id its copy took.
type frame struct {
	target string
	copyID string
}

// inlineLinks replaces every link node with a copy of its target's body.
func (r *run) inlineLinks() {
	for _, link := range r.g.NodesByType(vocab.TypeLinkable) {
		n := r.g.GetNode(link.ID)
		if n == nil || !n.HasType(vocab.TypeLinkable) || r.inTemplate(n.ID) {
			continue
		}
		r.inline(n, nil)
	}
}

func (r *run) inline(link *graph.DocumentNode, stack []frame) {
	targets := link.Refs(vocab.PropLinkTarget)
	if len(targets) == 0 {
		return
	}
	target := targets[0]
	decl := r.g.GetNode(target)
	if decl == nil {
		return
	}

	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].target == target {
			r.recursive(link, target, stack[i].copyID)
			return
		}
	}
	if strings.HasPrefix(link.ID, target+"/") || r.expanding[target] || len(stack) >= r.opts.InlineDepth {
		r.recursive(link, target, target)
		return
	}

	if decl.HasType(vocab.TypeLinkable) {
		r.expanding[link.ID] = true
		r.inline(decl, stack)
		delete(r.expanding, link.ID)
		if decl = r.g.GetNode(target); decl == nil {
			return
		}
	}

	relocate := func(id string) string {
		if id == target {
			return link.ID
		}
		if strings.HasPrefix(id, target+"/") {
			return link.ID + strings.TrimPrefix(id, target)
		}
		return id
	}

	body := decl.Clone()
	body.ID = link.ID
	for prop, v := range body.Properties {
		body.Properties[prop] = v.MapRefs(relocate)
	}
	for _, t := range link.Types {
		if t != vocab.TypeLinkable {
			body.AddType(t)
		}
	}
	body.RemoveType(vocab.TypeLinkable)
	for prop, v := range link.Properties {
		if prop == vocab.PropLinkTarget {
			continue
		}
		body.Set(prop, v.Clone())
	}
	r.markResolved(body, target)
	if link.Source != nil {
		src := *link.Source
		body.Source = &src
	}
	r.g.PutNode(body)

	var copies []string
	for _, id := range r.subtree(target) {
		if id == target {
			continue
		}
		c := r.g.GetNode(id).Clone()
		c.ID = relocate(id)
		for prop, v := range c.Properties {
			c.Properties[prop] = v.MapRefs(relocate)
		}
		r.g.PutNode(c)
		copies = append(copies, c.ID)
	}

	nested := append(append([]frame(nil), stack...), frame{target: target, copyID: link.ID})
	for _, id := range copies {
		if n := r.g.GetNode(id); n != nil && n.HasType(vocab.TypeLinkable) {
			r.inline(n, nested)
		}
	}
}

// recursive replaces a link that would expand forever with a terminal
// back-reference to fixPoint.
func (r *run) recursive(link *graph.DocumentNode, target, fixPoint string) {
	rs := graph.NewNode(link.ID, vocab.TypeRecursiveShape, vocab.TypeShape)
	for prop, v := range link.Properties {
		if prop == vocab.PropLinkTarget {
			continue
		}
		rs.Set(prop, v.Clone())
	}
	rs.Set(vocab.PropFixPoint, graph.Ref(fixPoint))
	r.markResolved(rs, target)
	rs.Source = link.Source
	r.g.PutNode(rs)
}

// markResolved records where an inlined node came from. Compatibility
// output drops the trail along with link labels.
func (r *run) markResolved(n *graph.DocumentNode, target string) {
	if r.mode == ModeEditing {
		n.Set(vocab.PropResolvedLink, graph.Ref(target))
		return
	}
	n.Delete(vocab.PropLinkLabel)
	n.Delete(vocab.PropResolvedLink)
}

// subtree returns root and the ids nested below it, sorted.
func (r *run) subtree(root string) []string {
	ids := r.g.NodeIDs()
	var out []string
	for i := sort.SearchStrings(ids, root); i < len(ids) && strings.HasPrefix(ids[i], root); i++ {
		if ids[i] == root || strings.HasPrefix(ids[i], root+"/") {
			out = append(out, ids[i])
		}
	}
	return out
}

// mergeInherited copies the facets and properties of parent shapes into
// the shapes that inherit from them. Parents are completed first.
func (r *run) mergeInherited() {
	done := make(map[string]bool)
	var visit func(n *graph.DocumentNode)
	visit = func(n *graph.DocumentNode) {
		if done[n.ID] {
			return
		}
		done[n.ID] = true
		for _, pid := range n.Refs(vocab.PropInherits) {
			parent := r.g.GetNode(pid)
			if parent == nil || parent.HasType(vocab.TypeRecursiveShape) {
				continue
			}
			visit(parent)
			r.inherit(n, parent)
		}
	}
	for _, n := range r.g.Nodes() {
		if n.Has(vocab.PropInherits) && !r.inTemplate(n.ID) {
			visit(n)
		}
	}
}

var notInherited = map[string]bool{
	vocab.PropName:         true,
	vocab.PropDisplayName:  true,
	vocab.PropInherits:     true,
	vocab.PropLinkLabel:    true,
	vocab.PropResolvedLink: true,
	vocab.PropFixPoint:     true,
}

func (r *run) inherit(child, parent *graph.DocumentNode) {
	retyped := false
	for _, t := range parent.Types {
		if t != vocab.TypeLinkable && !child.HasType(t) {
			child.AddType(t)
			retyped = true
		}
	}
	for _, prop := range parent.PropertyNames() {
		if notInherited[prop] {
			continue
		}
		pv := parent.Properties[prop]
		cv, has := child.Get(prop)
		switch {
		case !has:
			child.Set(prop, pv.Clone())
		case prop == vocab.PropProperty:
			child.Set(prop, r.mergeProperties(cv, pv))
		}
	}
	if retyped {
		r.g.Reindex(child)
	}
}

// mergeProperties appends the parent's property shapes whose names the
// child does not redefine.
func (r *run) mergeProperties(own, inherited graph.Value) graph.Value {
	names := make(map[string]bool)
	ids := own.Refs()
	for _, id := range ids {
		if n := r.g.GetNode(id); n != nil {
			names[n.Str(vocab.PropName)] = true
		}
	}
	for _, id := range inherited.Refs() {
		n := r.g.GetNode(id)
		if n == nil || names[n.Str(vocab.PropName)] || contains(ids, id) {
			continue
		}
		names[n.Str(vocab.PropName)] = true
		ids = append(ids, id)
	}
	return graph.RefList(ids...)
}
