package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrConflictingNode is returned when a node is inserted under an id
	// already held by a different node.
	ErrConflictingNode = errors.New("conflicting node")

	// ErrUntypedNode is returned when a node with an empty type set is inserted.
	ErrUntypedNode = errors.New("node has no types")
)

// Graph is an in-memory API graph.
//
// Nodes are keyed by IRI. A secondary index on type keeps NodesByType
// proportional to the result set. AddNode is safe for concurrent use so
// parsers can merge fragments from several goroutines.
type Graph struct {
	mu      sync.RWMutex
	root    string
	nodes   map[string]*DocumentNode
	byType  map[string]map[string]*DocumentNode
	partial bool

	// extensions are overlay or extension layers applied by the resolver.
	extensions []*Graph
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:  make(map[string]*DocumentNode),
		byType: make(map[string]map[string]*DocumentNode),
	}
}

// SetRoot sets the id of the root API element.
func (g *Graph) SetRoot(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.root = id
}

// Root returns the id of the root API element.
func (g *Graph) Root() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.root
}

// RootNode returns the root API element, or nil when unset.
func (g *Graph) RootNode() *DocumentNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[g.root]
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// AddNode inserts a node. Inserting a node identical to the one already held
// under the same id is a no-op; inserting a different one fails with
// ErrConflictingNode.
func (g *Graph) AddNode(node *DocumentNode) error {
	if len(node.Types) == 0 {
		return fmt.Errorf("%w: %s", ErrUntypedNode, node.ID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.nodes[node.ID]; ok {
		if existing.Equal(node) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrConflictingNode, node.ID)
	}
	g.insert(node)
	return nil
}

// PutNode inserts or replaces a node.
func (g *Graph) PutNode(node *DocumentNode) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.nodes[node.ID]; ok {
		g.unindex(old)
	}
	g.insert(node)
}

// GetNode returns the node with the given id, or nil if it does not exist.
func (g *Graph) GetNode(id string) *DocumentNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id]
}

// HasNode reports whether id is present.
func (g *Graph) HasNode(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// RemoveNode removes a node. References to it are left in place.
// Returns true if the node existed.
func (g *Graph) RemoveNode(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.nodes[id]
	if !ok {
		return false
	}
	g.unindex(node)
	delete(g.nodes, id)
	return true
}

// Reindex refreshes the type index for a node whose type set was edited in
// place.
func (g *Graph) Reindex(node *DocumentNode) {
	g.PutNode(node)
}

// Nodes returns all nodes sorted by id.
func (g *Graph) Nodes() []*DocumentNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*DocumentNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sortNodes(out)
	return out
}

// NodeIDs returns all node ids in sorted order.
func (g *Graph) NodeIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NodesByType returns the nodes carrying type t, sorted by id.
func (g *Graph) NodesByType(t string) []*DocumentNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	idx, ok := g.byType[t]
	if !ok {
		return nil
	}
	out := make([]*DocumentNode, 0, len(idx))
	for _, n := range idx {
		out = append(out, n)
	}
	sortNodes(out)
	return out
}

// MarkPartial flags the graph as allowed to hold dangling references.
func (g *Graph) MarkPartial() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.partial = true
}

// IsPartial reports whether the graph is partial.
func (g *Graph) IsPartial() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.partial
}

// AddExtension appends an overlay or extension layer.
func (g *Graph) AddExtension(ext *Graph) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.extensions = append(g.extensions, ext)
}

// Extensions returns the extension layers in declaration order.
func (g *Graph) Extensions() []*Graph {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*Graph(nil), g.extensions...)
}

// ClearExtensions drops all extension layers.
func (g *Graph) ClearExtensions() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.extensions = nil
}

// Clone returns a deep copy of the graph, including extension layers.
func (g *Graph) Clone() *Graph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	c := NewGraph()
	c.root = g.root
	c.partial = g.partial
	for _, n := range g.nodes {
		c.insert(n.Clone())
	}
	for _, ext := range g.extensions {
		c.extensions = append(c.extensions, ext.Clone())
	}
	return c
}

// Snapshot returns a deep copy of the node map, suitable for diffing.
func (g *Graph) Snapshot() map[string]*DocumentNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string]*DocumentNode, len(g.nodes))
	for id, n := range g.nodes {
		out[id] = n.Clone()
	}
	return out
}

// Equal reports whether two graphs have the same root, partial flag and
// node set, node for node.
func (g *Graph) Equal(o *Graph) bool {
	if g == o {
		return true
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	o.mu.RLock()
	defer o.mu.RUnlock()

	if g.root != o.root || g.partial != o.partial || len(g.nodes) != len(o.nodes) {
		return false
	}
	for id, n := range g.nodes {
		if !n.Equal(o.nodes[id]) {
			return false
		}
	}
	return true
}

// DanglingReference is a reference whose target is not in the graph.
type DanglingReference struct {
	From     string
	Property string
	Target   string
}

// DanglingReferences returns every reference that does not resolve inside
// the graph, sorted by source node, property and target.
func (g *Graph) DanglingReferences() []DanglingReference {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []DanglingReference
	for id, n := range g.nodes {
		for p, v := range n.Properties {
			for _, target := range v.Refs() {
				if _, ok := g.nodes[target]; !ok {
					out = append(out, DanglingReference{From: id, Property: p, Target: target})
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.Property != b.Property {
			return a.Property < b.Property
		}
		return a.Target < b.Target
	})
	return out
}

// Reachable returns the set of node ids reachable from the given id,
// including the start node when it exists.
func (g *Graph) Reachable(from string) map[string]bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		n, ok := g.nodes[id]
		if !ok {
			continue
		}
		seen[id] = true
		stack = append(stack, n.OutRefs()...)
	}
	return seen
}

// Referrers returns the ids of nodes holding a reference to id, sorted.
func (g *Graph) Referrers(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []string
	for nid, n := range g.nodes {
		for _, v := range n.Properties {
			if containsRef(v, id) {
				out = append(out, nid)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func containsRef(v Value, id string) bool {
	for _, r := range v.Refs() {
		if r == id {
			return true
		}
	}
	return false
}

// insert adds a node and indexes it. Must be called with the write lock held.
func (g *Graph) insert(node *DocumentNode) {
	g.nodes[node.ID] = node
	for _, t := range node.Types {
		if g.byType[t] == nil {
			g.byType[t] = make(map[string]*DocumentNode)
		}
		g.byType[t][node.ID] = node
	}
}

// unindex removes a node from the type index. Must be called with the write
// lock held.
func (g *Graph) unindex(node *DocumentNode) {
	for t, idx := range g.byType {
		delete(idx, node.ID)
		if len(idx) == 0 {
			delete(g.byType, t)
		}
	}
}

func sortNodes(nodes []*DocumentNode) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
}
