// Package storage provides the model registry for apigraph.
//
// It defines the Backend protocol that all registry implementations must
// satisfy, along with the record types shared across backends. A registry
// keeps, per source document, the last generated JSON-LD model, a summary of
// the run that produced it and a searchable index of its named nodes.
package storage

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/Benny93/apigraph-go/internal/graph"
	"github.com/Benny93/apigraph-go/internal/vocab"
)

// ModelRecord describes a stored model.
type ModelRecord struct {
	// ID is the normalized source URI of the model.
	ID string `json:"id"`

	Dialect    string    `json:"dialect"`
	Profile    string    `json:"profile"`
	Conforms   bool      `json:"conforms"`
	Violations int       `json:"violations"`
	Warnings   int       `json:"warnings"`
	Nodes      int       `json:"nodes"`
	Partial    bool      `json:"partial,omitempty"`
	RunID      string    `json:"runId"`
	Output     string    `json:"output,omitempty"`
	StoredAt   time.Time `json:"storedAt"`
}

// NodeEntry is the searchable summary of one model node.
type NodeEntry struct {
	ModelID string `json:"model"`
	NodeID  string `json:"id"`

	// Type is the compact IRI of the node's most specific type.
	Type string `json:"type"`

	// Name is a short label: the declared name, path or method.
	Name string `json:"name"`

	// Text holds descriptions and other indexed prose.
	Text string `json:"text,omitempty"`
}

// key identifies an entry across models. Node ids of shared libraries repeat
// across models, so the model id is part of the key.
func (e NodeEntry) key() string {
	return entryKey(e.ModelID, e.NodeID)
}

const keySep = "\x1f"

func entryKey(modelID, nodeID string) string {
	return modelID + keySep + nodeID
}

// SearchResult represents a search result from the registry.
type SearchResult struct {
	ModelID string  `json:"model"`
	NodeID  string  `json:"id"`
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet,omitempty"`
}

// Backend defines the interface for registry implementations.
//
// Implementations must be thread-safe and support concurrent access.
type Backend interface {
	// Initialize opens or creates the registry at the given path.
	// If readOnly is true, the registry is opened in read-only mode.
	Initialize(path string, readOnly bool) error

	// Close releases all resources held by the backend.
	Close() error

	// SaveModel replaces everything stored for rec.ID with the given
	// document and node entries.
	SaveModel(ctx context.Context, rec ModelRecord, document string, entries []NodeEntry) error

	// GetModel returns a model record, or nil if not found.
	GetModel(ctx context.Context, id string) (*ModelRecord, error)

	// GetDocument returns the stored JSON-LD text of a model.
	GetDocument(ctx context.Context, id string) (string, bool, error)

	// GetNode returns one node entry, or nil if not found.
	GetNode(ctx context.Context, modelID, nodeID string) (*NodeEntry, error)

	// ListModels returns every record sorted by id.
	ListModels(ctx context.Context) ([]ModelRecord, error)

	// DeleteModel removes a model. It reports whether the model existed.
	DeleteModel(ctx context.Context, id string) (bool, error)

	// Search performs full-text search over node entries of all models.
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// entryTypes lists the indexed node types, most specific first.
var entryTypes = []string{
	vocab.TypeWebAPI,
	vocab.TypeAsyncAPI,
	vocab.TypeEndPoint,
	vocab.TypeOperation,
	vocab.TypeResponse,
	vocab.TypeRequest,
	vocab.TypeParameter,
	vocab.TypePayload,
	vocab.TypeMessage,
	vocab.TypeServer,
	vocab.TypeSecurityScheme,
	vocab.TypeTrait,
	vocab.TypeResourceType,
	vocab.TypeRecursiveShape,
	vocab.TypeNodeShape,
	vocab.TypeArrayShape,
	vocab.TypeUnionShape,
	vocab.TypeScalarShape,
	vocab.TypeFileShape,
	vocab.TypeSchemaShape,
	vocab.TypeDomainExtension,
}

var compact = vocab.PrefixMap(vocab.Prefixes())

// Summarize builds the node entries of a model. Nodes without any label or
// prose are skipped.
func Summarize(modelID string, g *graph.Graph) []NodeEntry {
	var out []NodeEntry
	for _, n := range g.Nodes() {
		typ := primaryType(n)
		if typ == "" {
			continue
		}
		e := NodeEntry{ModelID: modelID, NodeID: n.ID, Type: compact.Compact(typ), Name: label(n)}
		var text []string
		for _, prop := range []string{vocab.PropSummary, vocab.PropDescription, vocab.PropOperationID, vocab.PropMediaType} {
			if s := n.Str(prop); s != "" {
				text = append(text, s)
			}
		}
		e.Text = strings.Join(text, " ")
		if e.Name == "" && e.Text == "" {
			continue
		}
		out = append(out, e)
	}
	return out
}

func primaryType(n *graph.DocumentNode) string {
	for _, t := range entryTypes {
		if n.HasType(t) {
			return t
		}
	}
	return ""
}

func label(n *graph.DocumentNode) string {
	switch {
	case n.HasType(vocab.TypeEndPoint):
		return n.Str(vocab.PropPath)
	case n.HasType(vocab.TypeOperation):
		return strings.ToUpper(n.Str(vocab.PropMethod))
	case n.HasType(vocab.TypeResponse):
		if code := n.Str(vocab.PropStatusCode); code != "" {
			return code
		}
	case n.HasType(vocab.TypeParameter):
		if name := n.Str(vocab.PropParamName); name != "" {
			return name
		}
	}
	if name := n.Str(vocab.PropName); name != "" {
		return name
	}
	return n.Str(vocab.PropDisplayName)
}

// sortResults orders by score, best first, then by model and node id.
func sortResults(results []SearchResult, limit int) []SearchResult {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.ModelID != b.ModelID {
			return a.ModelID < b.ModelID
		}
		return a.NodeID < b.NodeID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func snippet(text string) string {
	const snippetLen = 120
	if len(text) <= snippetLen {
		return text
	}
	return text[:snippetLen] + "..."
}
