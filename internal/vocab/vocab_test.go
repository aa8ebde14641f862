package vocab

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrefixMap_CompactExpand(t *testing.T) {
	t.Parallel()

	m := PrefixMap(Prefixes())
	m["src"] = "file:///api/root.raml#"

	t.Run("VocabularyTerm", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "apiContract:Operation", m.Compact(TypeOperation))
		assert.Equal(t, TypeOperation, m.Expand("apiContract:Operation"))
	})

	t.Run("DocumentBase", func(t *testing.T) {
		t.Parallel()
		iri := "file:///api/root.raml#/web-api"
		assert.Equal(t, "src:/web-api", m.Compact(iri))
		assert.Equal(t, iri, m.Expand("src:/web-api"))
	})

	t.Run("UnknownNamespaceUnchanged", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "http://example.com/x", m.Compact("http://example.com/x"))
		assert.Equal(t, "http://example.com/x", m.Expand("http://example.com/x"))
		assert.Equal(t, "zzz:thing", m.Expand("zzz:thing"))
	})

	t.Run("LongestNamespaceWins", func(t *testing.T) {
		t.Parallel()
		m2 := PrefixMap{"a": "http://x.org/", "b": "http://x.org/deep#"}
		assert.Equal(t, "b:term", m2.Compact("http://x.org/deep#term"))
	})
}

func TestPrefixes_ReturnsCopy(t *testing.T) {
	t.Parallel()

	p := Prefixes()
	p["doc"] = "mutated"
	assert.Equal(t, Document, Prefixes()["doc"])
}
