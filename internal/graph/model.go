// Package graph provides the API graph data model.
//
// A graph is a flat arena of DocumentNode values addressed by IRI. Edges are
// implicit: a property whose value is a reference (or a list containing
// references) points at another node by id. Nodes never hold pointers to
// each other, so cyclic API descriptions are represented without ownership
// cycles.
package graph

import (
	"fmt"
	"sort"
)

// ValueKind discriminates the three shapes a property value can take.
type ValueKind int

const (
	KindScalar ValueKind = iota
	KindList
	KindRef
)

// Value is a property value: a scalar, an ordered list of values, or a
// reference to another node.
type Value struct {
	Kind ValueKind

	// Scalar holds a string, bool, int64 or float64 when Kind is KindScalar.
	Scalar any

	// List holds the elements when Kind is KindList.
	List []Value

	// Ref holds the target node IRI when Kind is KindRef.
	Ref string
}

// String returns a string scalar value.
func String(s string) Value { return Value{Kind: KindScalar, Scalar: s} }

// Bool returns a boolean scalar value.
func Bool(b bool) Value { return Value{Kind: KindScalar, Scalar: b} }

// Int returns an integer scalar value.
func Int(i int64) Value { return Value{Kind: KindScalar, Scalar: i} }

// Float returns a floating point scalar value.
func Float(f float64) Value { return Value{Kind: KindScalar, Scalar: f} }

// Ref returns a reference to the node with the given IRI.
func Ref(id string) Value { return Value{Kind: KindRef, Ref: id} }

// List returns an ordered list value.
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{Kind: KindList, List: items}
}

// RefList returns a list of references in the given order.
func RefList(ids ...string) Value {
	items := make([]Value, len(ids))
	for i, id := range ids {
		items[i] = Ref(id)
	}
	return List(items...)
}

// Refs returns every node IRI referenced by v, in order.
func (v Value) Refs() []string {
	switch v.Kind {
	case KindRef:
		return []string{v.Ref}
	case KindList:
		var out []string
		for _, item := range v.List {
			out = append(out, item.Refs()...)
		}
		return out
	}
	return nil
}

// AsString returns the string scalar held by v.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindScalar {
		return "", false
	}
	s, ok := v.Scalar.(string)
	return s, ok
}

// Equal reports whether two values are structurally identical.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindRef:
		return v.Ref == o.Ref
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	default:
		return v.Scalar == o.Scalar
	}
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	if v.Kind != KindList {
		return v
	}
	items := make([]Value, len(v.List))
	for i, item := range v.List {
		items[i] = item.Clone()
	}
	return Value{Kind: KindList, List: items}
}

// MapRefs returns a copy of v with every reference passed through fn.
func (v Value) MapRefs(fn func(string) string) Value {
	switch v.Kind {
	case KindRef:
		return Ref(fn(v.Ref))
	case KindList:
		items := make([]Value, len(v.List))
		for i, item := range v.List {
			items[i] = item.MapRefs(fn)
		}
		return Value{Kind: KindList, List: items}
	}
	return v
}

// SourceLocation points at the syntax that produced a node.
type SourceLocation struct {
	URI    string
	Line   int
	Column int
}

func (l SourceLocation) String() string {
	return fmt.Sprintf("%s:%d:%d", l.URI, l.Line, l.Column)
}

// DocumentNode is a node in the API graph.
type DocumentNode struct {
	// ID is the absolute IRI of the node.
	ID string

	// Types is the sorted set of semantic type IRIs. Never empty once the
	// node is in a graph.
	Types []string

	// Properties maps property IRIs to values.
	Properties map[string]Value

	// Source is the location of the syntax the node was built from, if known.
	Source *SourceLocation
}

// NewNode creates a node with the given id and types.
func NewNode(id string, types ...string) *DocumentNode {
	n := &DocumentNode{ID: id, Properties: make(map[string]Value)}
	for _, t := range types {
		n.AddType(t)
	}
	return n
}

// AddType adds t to the node's type set, keeping it sorted.
func (n *DocumentNode) AddType(t string) {
	i := sort.SearchStrings(n.Types, t)
	if i < len(n.Types) && n.Types[i] == t {
		return
	}
	n.Types = append(n.Types, "")
	copy(n.Types[i+1:], n.Types[i:])
	n.Types[i] = t
}

// RemoveType drops t from the node's type set.
func (n *DocumentNode) RemoveType(t string) {
	i := sort.SearchStrings(n.Types, t)
	if i < len(n.Types) && n.Types[i] == t {
		n.Types = append(n.Types[:i], n.Types[i+1:]...)
	}
}

// HasType reports whether the node carries type t.
func (n *DocumentNode) HasType(t string) bool {
	i := sort.SearchStrings(n.Types, t)
	return i < len(n.Types) && n.Types[i] == t
}

// Set assigns a property value.
func (n *DocumentNode) Set(prop string, v Value) {
	if n.Properties == nil {
		n.Properties = make(map[string]Value)
	}
	n.Properties[prop] = v
}

// Get returns a property value.
func (n *DocumentNode) Get(prop string) (Value, bool) {
	v, ok := n.Properties[prop]
	return v, ok
}

// Has reports whether the property is set.
func (n *DocumentNode) Has(prop string) bool {
	_, ok := n.Properties[prop]
	return ok
}

// Delete removes a property.
func (n *DocumentNode) Delete(prop string) {
	delete(n.Properties, prop)
}

// Str returns the string scalar for prop, or "" when absent.
func (n *DocumentNode) Str(prop string) string {
	s, _ := n.Properties[prop].AsString()
	return s
}

// Refs returns the node IRIs referenced by prop.
func (n *DocumentNode) Refs(prop string) []string {
	return n.Properties[prop].Refs()
}

// AppendRef appends a reference to the list held by prop, converting a
// single value into a list when needed.
func (n *DocumentNode) AppendRef(prop, id string) {
	n.Append(prop, Ref(id))
}

// Append appends v to the list held by prop.
func (n *DocumentNode) Append(prop string, v Value) {
	cur, ok := n.Properties[prop]
	switch {
	case !ok:
		n.Set(prop, List(v))
	case cur.Kind == KindList:
		cur.List = append(cur.List, v)
		n.Properties[prop] = cur
	default:
		n.Set(prop, List(cur, v))
	}
}

// PropertyNames returns the property IRIs in sorted order.
func (n *DocumentNode) PropertyNames() []string {
	names := make([]string, 0, len(n.Properties))
	for k := range n.Properties {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// OutRefs returns every node IRI the node references, in sorted property
// order and list order.
func (n *DocumentNode) OutRefs() []string {
	var out []string
	for _, p := range n.PropertyNames() {
		out = append(out, n.Properties[p].Refs()...)
	}
	return out
}

// Clone returns a deep copy of the node.
func (n *DocumentNode) Clone() *DocumentNode {
	c := &DocumentNode{
		ID:         n.ID,
		Types:      append([]string(nil), n.Types...),
		Properties: make(map[string]Value, len(n.Properties)),
	}
	for k, v := range n.Properties {
		c.Properties[k] = v.Clone()
	}
	if n.Source != nil {
		src := *n.Source
		c.Source = &src
	}
	return c
}

// Equal reports whether two nodes carry the same id, types, properties and
// source location.
func (n *DocumentNode) Equal(o *DocumentNode) bool {
	if n == nil || o == nil {
		return n == o
	}
	if n.ID != o.ID || len(n.Types) != len(o.Types) || len(n.Properties) != len(o.Properties) {
		return false
	}
	for i := range n.Types {
		if n.Types[i] != o.Types[i] {
			return false
		}
	}
	for k, v := range n.Properties {
		ov, ok := o.Properties[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	switch {
	case n.Source == nil && o.Source == nil:
		return true
	case n.Source == nil || o.Source == nil:
		return false
	default:
		return *n.Source == *o.Source
	}
}
