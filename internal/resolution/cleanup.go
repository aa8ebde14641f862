package resolution

import (
	"github.com/Benny93/apigraph-go/internal/graph"
	"github.com/Benny93/apigraph-go/internal/vocab"
)

// mergeExtensions applies overlay and extension layers in declaration
// order. Layer values replace base values except lists, which are
// concatenated without repeating entries.
func (r *run) mergeExtensions() {
	for _, layer := range r.g.Extensions() {
		for _, ext := range layer.Nodes() {
			base := r.g.GetNode(ext.ID)
			if base == nil {
				r.g.PutNode(ext.Clone())
				continue
			}
			for _, t := range ext.Types {
				base.AddType(t)
			}
			for _, prop := range ext.PropertyNames() {
				ev := ext.Properties[prop]
				bv, has := base.Get(prop)
				if has && bv.Kind == graph.KindList && ev.Kind == graph.KindList {
					base.Set(prop, union(bv, ev))
					continue
				}
				base.Set(prop, ev.Clone())
			}
			r.g.Reindex(base)
		}
	}
	r.g.ClearExtensions()
}

// propagateSecurity copies the API's default security onto operations that
// declare none. An explicit empty list counts as declared.
func (r *run) propagateSecurity() {
	root := r.g.RootNode()
	if root == nil {
		return
	}
	sec, ok := root.Get(vocab.PropSecurity)
	if !ok {
		return
	}
	for _, op := range r.g.NodesByType(vocab.TypeOperation) {
		if r.inTemplate(op.ID) || op.Has(vocab.PropSecurity) {
			continue
		}
		op.Set(vocab.PropSecurity, sec.Clone())
	}
}

// authoring properties dropped by compatibility output.
var authoringProps = []string{
	vocab.PropExtends,
	vocab.PropLinkLabel,
	vocab.PropResolvedLink,
	vocab.PropInherits,
}

// compact removes application references, link labels and declarations,
// then drops every node no longer reachable from the API root.
func (r *run) compact() {
	for _, n := range r.g.Nodes() {
		for _, prop := range authoringProps {
			n.Delete(prop)
		}
	}
	root := r.g.RootNode()
	if root == nil {
		return
	}
	root.Delete(vocab.PropDeclares)

	keep := r.g.Reachable(root.ID)
	for _, id := range r.g.NodeIDs() {
		if !keep[id] {
			r.g.RemoveNode(id)
		}
	}
	r.templates = nil
}
