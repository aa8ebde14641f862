package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Benny93/apigraph-go/internal/apierr"
	"github.com/Benny93/apigraph-go/internal/graph"
	"github.com/Benny93/apigraph-go/internal/vocab"
)

// writeFile replaces path with data. The data goes to a temporary file in
// the same directory first, so path is either untouched or complete.
func writeFile(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &apierr.SerializationError{Path: path, Err: fmt.Errorf("creating directory: %w", err)}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &apierr.SerializationError{Path: path, Err: err}
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return &apierr.SerializationError{Path: path, Err: err}
	}
	if err = tmp.Sync(); err != nil {
		return &apierr.SerializationError{Path: path, Err: err}
	}
	if err = tmp.Close(); err != nil {
		return &apierr.SerializationError{Path: path, Err: err}
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return &apierr.SerializationError{Path: path, Err: err}
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return &apierr.SerializationError{Path: path, Err: err}
	}
	return nil
}

// experimental reports whether an annotation is withheld from general
// availability output.
func experimental(name string) bool {
	name = strings.ToLower(name)
	return name == "internal" || name == "experimental" || strings.HasPrefix(name, "amf-")
}

// stripExperimental removes internal and experimental annotations and every
// reference to them. It returns the number of annotations removed.
func stripExperimental(g *graph.Graph) int {
	removed := 0
	for _, ext := range g.NodesByType(vocab.TypeDomainExtension) {
		if !experimental(ext.Str(vocab.PropName)) {
			continue
		}
		for _, id := range g.Referrers(ext.ID) {
			owner := g.GetNode(id)
			if owner == nil {
				continue
			}
			for _, prop := range owner.PropertyNames() {
				v := owner.Properties[prop]
				if !containsRef(v, ext.ID) {
					continue
				}
				if kept := without(v.Refs(), ext.ID); len(kept) > 0 {
					owner.Set(prop, graph.RefList(kept...))
				} else {
					owner.Delete(prop)
				}
			}
		}
		g.RemoveNode(ext.ID)
		removed++
	}
	return removed
}

func containsRef(v graph.Value, id string) bool {
	for _, ref := range v.Refs() {
		if ref == id {
			return true
		}
	}
	return false
}

func without(ids []string, drop string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
