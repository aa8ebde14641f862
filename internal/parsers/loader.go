package parsers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	graphlib "github.com/dominikbraun/graph"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gopkg.in/yaml.v3"

	"github.com/Benny93/apigraph-go/internal/apierr"
)

// document is one fetched source.
type document struct {
	URI    string
	Raw    []byte
	Root   *yaml.Node // nil for text documents
	Header string     // first line, used for RAML headers
}

func (d *document) text() string { return string(d.Raw) }

// reference is an outgoing document edge discovered while loading.
type reference struct {
	Target     string
	Structural bool
}

// loader fetches a root document and everything it references. Independent
// sources are fetched concurrently; each URI is fetched once.
//
// Structural edges (RAML includes, libraries and extended documents) are
// recorded in a directed graph that rejects cycles. Every $ref, whole-file
// or not, is a data reference and may be cyclic.
type loader struct {
	fetcher Fetcher
	logger  *slog.Logger
	sem     *semaphore.Weighted

	mu       sync.Mutex
	docs     map[string]*document
	seen     map[string]bool
	includes graphlib.Graph[string, string]
}

func newLoader(fetcher Fetcher, logger *slog.Logger, concurrency int) *loader {
	if concurrency < 1 {
		concurrency = 1
	}
	return &loader{
		fetcher:  fetcher,
		logger:   logger,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		docs:     make(map[string]*document),
		seen:     make(map[string]bool),
		includes: graphlib.New(graphlib.StringHash, graphlib.Directed(), graphlib.PreventCycles()),
	}
}

// loadAll fetches root and the transitive closure of its references.
func (l *loader) loadAll(ctx context.Context, root string) error {
	g, gctx := errgroup.WithContext(ctx)
	l.schedule(gctx, g, root)
	return g.Wait()
}

func (l *loader) schedule(ctx context.Context, g *errgroup.Group, uri string) {
	l.mu.Lock()
	if l.seen[uri] {
		l.mu.Unlock()
		return
	}
	l.seen[uri] = true
	l.mu.Unlock()

	g.Go(func() error {
		doc, err := l.fetch(ctx, uri)
		if err != nil {
			return err
		}

		l.mu.Lock()
		l.docs[uri] = doc
		l.mu.Unlock()

		refs, err := discover(doc)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			if ref.Structural {
				if err := l.addStructural(uri, ref.Target); err != nil {
					return err
				}
			}
			l.schedule(ctx, g, ref.Target)
		}
		return nil
	})
}

func (l *loader) fetch(ctx context.Context, uri string) (*document, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	data, err := l.fetcher.Fetch(ctx, uri)
	l.sem.Release(1)
	if err != nil {
		return nil, &apierr.ParseError{Location: uri, Msg: "unreachable source", Err: err}
	}
	l.logger.Debug("fetched source", "uri", uri, "bytes", len(data))

	doc := &document{URI: uri, Raw: data}
	if line, _, _ := bytes.Cut(data, []byte("\n")); len(line) > 0 {
		doc.Header = strings.TrimSpace(string(line))
	}
	if !isStructuredExt(uri) {
		return doc, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &apierr.ParseError{Location: uri, Msg: "malformed syntax", Err: err}
	}
	if len(root.Content) == 0 {
		return nil, &apierr.ParseError{Location: uri, Msg: "empty document"}
	}
	doc.Root = root.Content[0]
	return doc, nil
}

// addStructural records a structural edge and fails if it closes a cycle.
func (l *loader) addStructural(from, to string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, v := range []string{from, to} {
		if err := l.includes.AddVertex(v); err != nil && !errors.Is(err, graphlib.ErrVertexAlreadyExists) {
			return fmt.Errorf("tracking include %s: %w", v, err)
		}
	}

	err := l.includes.AddEdge(from, to)
	switch {
	case err == nil, errors.Is(err, graphlib.ErrEdgeAlreadyExists):
		return nil
	case errors.Is(err, graphlib.ErrEdgeCreatesCycle):
		chain := []string{from}
		if path, perr := graphlib.ShortestPath(l.includes, to, from); perr == nil {
			chain = path
		}
		return &apierr.CyclicReferenceError{Chain: append(chain, to)}
	default:
		return fmt.Errorf("tracking include %s -> %s: %w", from, to, err)
	}
}

// doc returns a loaded document. Only valid after loadAll returned.
func (l *loader) doc(uri string) *document {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.docs[uri]
}

// discover lists the documents referenced by doc.
func discover(doc *document) ([]reference, error) {
	if doc.Root == nil {
		return nil, nil
	}

	var refs []reference
	add := func(target string, structural bool, at *yaml.Node) error {
		uri, err := resolveURI(doc.URI, target)
		if err != nil {
			return &apierr.ParseError{Location: doc.URI, Line: at.Line, Column: at.Column, Msg: "unsupported include", Err: err}
		}
		refs = append(refs, reference{Target: uri, Structural: structural})
		return nil
	}

	if strings.HasPrefix(doc.Header, "#%RAML") {
		for _, e := range entries(lookup(doc.Root, "uses")) {
			if isScalar(e.Value) {
				if err := add(unalias(e.Value).Value, true, e.Value); err != nil {
					return nil, err
				}
			}
		}
		if ext := lookup(doc.Root, "extends"); isScalar(ext) {
			if err := add(unalias(ext).Value, true, ext); err != nil {
				return nil, err
			}
		}
	}

	var walk func(n *yaml.Node) error
	walk = func(n *yaml.Node) error {
		if n == nil {
			return nil
		}
		if n.Kind == yaml.ScalarNode && n.Tag == includeTag {
			return add(strings.TrimSpace(n.Value), true, n)
		}
		if n.Kind == yaml.MappingNode {
			for i := 0; i+1 < len(n.Content); i += 2 {
				k, v := n.Content[i], n.Content[i+1]
				if k.Value == "$ref" && v.Kind == yaml.ScalarNode {
					if file, _, _ := strings.Cut(v.Value, "#"); file != "" {
						if err := add(file, false, v); err != nil {
							return err
						}
					}
					continue
				}
				if err := walk(v); err != nil {
					return err
				}
			}
			return nil
		}
		for _, c := range n.Content {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(doc.Root); err != nil {
		return nil, err
	}
	return refs, nil
}
