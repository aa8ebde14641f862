package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend is an in-memory registry for tests and one-shot runs.
type MemoryBackend struct {
	mu        sync.RWMutex
	models    map[string]ModelRecord
	documents map[string]string
	entries   map[string]map[string]NodeEntry // model -> node -> entry
}

// NewMemoryBackend creates a new in-memory registry.
func NewMemoryBackend() *MemoryBackend {
	m := &MemoryBackend{}
	m.reset()
	return m
}

func (m *MemoryBackend) reset() {
	m.models = make(map[string]ModelRecord)
	m.documents = make(map[string]string)
	m.entries = make(map[string]map[string]NodeEntry)
}

// Initialize implements Backend. The path is ignored.
func (m *MemoryBackend) Initialize(path string, readOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.models == nil {
		m.reset()
	}
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
	return nil
}

// SaveModel implements Backend.
func (m *MemoryBackend) SaveModel(ctx context.Context, rec ModelRecord, document string, entries []NodeEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.models[rec.ID] = rec
	m.documents[rec.ID] = document
	nodes := make(map[string]NodeEntry, len(entries))
	for _, e := range entries {
		e.ModelID = rec.ID
		nodes[e.NodeID] = e
	}
	m.entries[rec.ID] = nodes
	return nil
}

// GetModel implements Backend.
func (m *MemoryBackend) GetModel(ctx context.Context, id string) (*ModelRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.models[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// GetDocument implements Backend.
func (m *MemoryBackend) GetDocument(ctx context.Context, id string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	return doc, ok, nil
}

// GetNode implements Backend.
func (m *MemoryBackend) GetNode(ctx context.Context, modelID, nodeID string) (*NodeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[modelID][nodeID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// ListModels implements Backend.
func (m *MemoryBackend) ListModels(ctx context.Context) ([]ModelRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := make([]ModelRecord, 0, len(m.models))
	for _, rec := range m.models {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// DeleteModel implements Backend.
func (m *MemoryBackend) DeleteModel(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.models[id]; !ok {
		return false, nil
	}
	delete(m.models, id)
	delete(m.documents, id)
	delete(m.entries, id)
	return true, nil
}

// Search implements Backend with the same scoring as the FTS index.
func (m *MemoryBackend) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	queryTokens := tokenize(query)
	results := []SearchResult{}
	if len(queryTokens) == 0 {
		return results, nil
	}
	for _, nodes := range m.entries {
		for _, e := range nodes {
			freq := termFrequencies(e)
			score := 0.0
			for _, token := range queryTokens {
				score += float64(freq[token])
			}
			if score <= 0 {
				continue
			}
			results = append(results, SearchResult{
				ModelID: e.ModelID,
				NodeID:  e.NodeID,
				Name:    e.Name,
				Type:    e.Type,
				Score:   score,
				Snippet: snippet(e.Text),
			})
		}
	}
	return sortResults(results, limit), nil
}
