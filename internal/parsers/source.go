package parsers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Fetcher reads the raw bytes of a document addressed by an absolute URI.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// DefaultFetcher reads file URIs from disk and http(s) URIs with a single
// blocking GET.
type DefaultFetcher struct {
	Client *http.Client
}

// NewDefaultFetcher creates a fetcher with a bounded HTTP timeout.
func NewDefaultFetcher() *DefaultFetcher {
	return &DefaultFetcher{Client: &http.Client{Timeout: 30 * time.Second}}
}

// Fetch implements Fetcher.
func (f *DefaultFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parsing uri: %w", err)
	}

	switch u.Scheme {
	case "file":
		return os.ReadFile(filepath.FromSlash(u.Path))
	case "http", "https":
		return f.get(ctx, u.String())
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

func (f *DefaultFetcher) get(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %s", uri, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// NormalizeLocation turns a URI or local path into an absolute URI.
// URIs with an http, https or file scheme are kept; anything else is
// treated as a path relative to the working directory.
func NormalizeLocation(location string) (string, error) {
	if strings.TrimSpace(location) == "" {
		return "", fmt.Errorf("empty location")
	}

	if u, err := url.Parse(location); err == nil {
		switch u.Scheme {
		case "http", "https":
			u.Fragment = ""
			return u.String(), nil
		case "file":
			if !filepath.IsAbs(filepath.FromSlash(u.Path)) {
				abs, err := filepath.Abs(filepath.FromSlash(u.Host + u.Path))
				if err != nil {
					return "", fmt.Errorf("resolving path: %w", err)
				}
				return fileURI(abs), nil
			}
			return fileURI(filepath.FromSlash(u.Path)), nil
		}
	}

	abs, err := filepath.Abs(location)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	return fileURI(abs), nil
}

func fileURI(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// resolveURI resolves ref against base and drops any fragment.
func resolveURI(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing base %q: %w", base, err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parsing reference %q: %w", ref, err)
	}
	out := b.ResolveReference(r)
	out.Fragment = ""
	return out.String(), nil
}

// isStructuredExt reports whether a document at uri should be read as
// YAML (which includes JSON). Other includes are kept as text.
func isStructuredExt(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}
	switch strings.ToLower(filepath.Ext(u.Path)) {
	case ".raml", ".yaml", ".yml", ".json", "":
		return true
	default:
		return false
	}
}
