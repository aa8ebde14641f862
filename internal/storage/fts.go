package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for FTS
const (
	prefixFTSToken = "fts:t:" // fts:t:token:entryKey -> frequency
	prefixFTSMeta  = "fts:m:" // fts:m:entryKey -> NodeEntry JSON
)

// FTSIndex is a simple inverted index over node entries.
type FTSIndex struct {
	db *badger.DB
}

// NewFTSIndex creates a new FTS index using the given BadgerDB instance.
func NewFTSIndex(db *badger.DB) *FTSIndex {
	return &FTSIndex{db: db}
}

var (
	identifier    = regexp.MustCompile(`^[\pL\pN_.\-]+$`)
	separators    = regexp.MustCompile(`[^\pL\pN]+`)
	camelBoundary = regexp.MustCompile(`(\p{Ll})(\p{Lu})`)
	alphaDigit    = regexp.MustCompile(`(\pL)(\pN)`)
	digitAlpha    = regexp.MustCompile(`(\pN)(\pL)`)
)

// tokenize splits text into searchable tokens.
// Handles camelCase, snake_case, dot notation, paths and media types.
// Tokens are lowercase, at least two characters long, never contain a
// colon, and are returned sorted without duplicates.
func tokenize(text string) []string {
	tokens := make(map[string]bool)
	add := func(s string) {
		s = strings.ToLower(s)
		if len(s) >= 2 {
			tokens[s] = true
		}
	}

	for _, word := range strings.Fields(text) {
		word = strings.Trim(word, `.,;!?()[]{}"'`)
		// Keep identifiers like parse_input or user.validate whole.
		if identifier.MatchString(word) {
			add(word)
		}
		for _, part := range separators.Split(word, -1) {
			add(part)
			split := camelBoundary.ReplaceAllString(part, "$1 $2")
			split = alphaDigit.ReplaceAllString(split, "$1 $2")
			split = digitAlpha.ReplaceAllString(split, "$1 $2")
			for _, p := range strings.Fields(split) {
				add(p)
			}
		}
	}

	result := make([]string, 0, len(tokens))
	for token := range tokens {
		result = append(result, token)
	}
	sort.Strings(result)
	return result
}

// termFrequencies counts the tokens of an entry. The name counts twice so
// that label matches outrank matches in descriptions.
func termFrequencies(e NodeEntry) map[string]int {
	freq := make(map[string]int)
	for _, token := range tokenize(e.Name) {
		freq[token] += 2
	}
	for _, token := range tokenize(e.Text) {
		freq[token]++
	}
	return freq
}

// index writes the token and metadata keys of one entry.
func (f *FTSIndex) index(wb *badger.WriteBatch, e NodeEntry) error {
	key := e.key()
	for token, freq := range termFrequencies(e) {
		if err := wb.Set(tokenKey(token, key), []byte(strconv.Itoa(freq))); err != nil {
			return fmt.Errorf("setting token index: %w", err)
		}
	}

	meta, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	if err := wb.Set([]byte(prefixFTSMeta+key), meta); err != nil {
		return fmt.Errorf("setting metadata: %w", err)
	}
	return nil
}

func tokenKey(token, entryKey string) []byte {
	return []byte(prefixFTSToken + token + ":" + entryKey)
}

// removeModel deletes every index key of a model. The token keys are
// recomputed from the stored entries rather than scanned for.
func (f *FTSIndex) removeModel(txn *badger.Txn, wb *badger.WriteBatch, modelID string) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixFTSMeta + modelID + keySep)
	it := txn.NewIterator(opts)
	defer it.Close()

	count := 0
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		var e NodeEntry
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		}); err != nil {
			return count, fmt.Errorf("unmarshaling entry: %w", err)
		}
		for token := range termFrequencies(e) {
			if err := wb.Delete(tokenKey(token, e.key())); err != nil {
				return count, err
			}
		}
		if err := wb.Delete(item.KeyCopy(nil)); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Entry returns the stored entry for a key, or nil.
func (f *FTSIndex) Entry(modelID, nodeID string) (*NodeEntry, error) {
	if f.db == nil {
		return nil, nil
	}

	var e *NodeEntry
	err := f.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixFTSMeta + entryKey(modelID, nodeID)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		e = &NodeEntry{}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, e)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("getting entry: %w", err)
	}
	return e, nil
}

// Search performs full-text search with simple TF scoring.
func (f *FTSIndex) Search(query string, limit int) ([]SearchResult, error) {
	if f.db == nil {
		return []SearchResult{}, nil
	}

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return []SearchResult{}, nil
	}

	scores := make(map[string]float64)

	txn := f.db.NewTransaction(false)
	defer txn.Discard()

	for _, token := range queryTokens {
		prefix := prefixFTSToken + token + ":"
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := strings.TrimPrefix(string(item.Key()), prefix)

			var freq int
			_ = item.Value(func(val []byte) error {
				freq, _ = strconv.Atoi(string(val))
				return nil
			})
			scores[key] += float64(freq)
		}
		it.Close()
	}

	results := make([]SearchResult, 0, len(scores))
	for key, score := range scores {
		if score <= 0 {
			continue
		}

		item, err := txn.Get([]byte(prefixFTSMeta + key))
		if err != nil {
			continue // Entry metadata not found
		}
		var e NodeEntry
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		}); err != nil {
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

	return sortResults(results, limit), nil
}

// IndexSize returns the number of indexed tokens (for debugging/testing).
func (f *FTSIndex) IndexSize() (int, error) {
	if f.db == nil {
		return 0, nil
	}

	count := 0
	txn := f.db.NewTransaction(false)
	defer txn.Discard()

	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixFTSToken)
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		count++
	}

	return count, nil
}
