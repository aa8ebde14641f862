package resolution

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Benny93/apigraph-go/internal/graph"
)

func TestParams_Substitution(t *testing.T) {
	t.Parallel()

	p := params{
		"item":         graph.String("userAccount"),
		"size":         graph.Int(25),
		"resourcePath": graph.String("/users/{id}"),
	}

	tests := []struct {
		in, want string
	}{
		{"<<item>>", "userAccount"},
		{"list of <<item | !pluralize>>", "list of userAccounts"},
		{"<<item|!uppercamelcase>>", "UserAccount"},
		{"<<item | !lowerhyphencase>>", "user-account"},
		{"<<item | !upperunderscorecase>>", "USER_ACCOUNT"},
		{"<<item | !uppercase | !lowercase>>", "useraccount"},
		{"page of <<size>>", "page of 25"},
		{"<<unknown>> stays", "<<unknown>> stays"},
		{"no params", "no params"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.str(tt.in), tt.in)
	}

	assert.Equal(t, graph.Int(25), p.value(graph.String("<<size>>")))
	assert.Equal(t, graph.String("25 items"), p.value(graph.String("<<size>> items")))
	assert.Equal(t,
		graph.List(graph.String("userAccount"), graph.Bool(true)),
		p.value(graph.List(graph.String("<<item>>"), graph.Bool(true))))
}

func TestParams_Ref(t *testing.T) {
	t.Parallel()

	p := params{"item": graph.String("Book")}
	assert.Equal(t, "file:///a.raml#/types/Book", p.ref("file:///a.raml#/types/%3C%3Citem%3E%3E"))
	assert.Equal(t, "file:///a.raml#/types/Book", p.value(graph.Ref("file:///a.raml#/types/%3C%3Citem%3E%3E")).Ref)
	assert.Equal(t, "file:///a.raml#/types/User", p.ref("file:///a.raml#/types/User"))
}

func TestInflection(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "books", pluralize("book"))
	assert.Equal(t, "categories", pluralize("category"))
	assert.Equal(t, "boxes", pluralize("box"))
	assert.Equal(t, "keys", pluralize("key"))
	assert.Equal(t, "book", singularize("books"))
	assert.Equal(t, "category", singularize("categories"))
	assert.Equal(t, "class", singularize("classes"))
	assert.Equal(t, "users", resourcePathName("/users/{id}"))
	assert.Equal(t, "", resourcePathName("/{id}"))
}
