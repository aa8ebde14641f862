package graph

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"

	"github.com/Benny93/apigraph-go/internal/vocab"
)

// Triple is one RDF statement recovered from the graph. Object holds an IRI
// when Literal is false, otherwise the lexical form of a literal typed by
// Datatype.
type Triple struct {
	Subject   string
	Predicate string
	Object    string
	Literal   bool
	Datatype  string
}

func (t Triple) String() string {
	if t.Literal {
		return fmt.Sprintf("<%s> <%s> %q^^<%s> .", t.Subject, t.Predicate, t.Object, t.Datatype)
	}
	return fmt.Sprintf("<%s> <%s> <%s> .", t.Subject, t.Predicate, t.Object)
}

var canonicalDouble = regexp.MustCompile(`(\d)0*E\+?0*(\d)`)

// Triples returns the set of statements the graph encodes, sorted and
// de-duplicated. Lists contribute one statement per element, matching a
// JSON-LD set.
func (g *Graph) Triples() []Triple {
	seen := make(map[Triple]bool)
	for _, n := range g.Nodes() {
		for _, t := range n.Types {
			seen[Triple{Subject: n.ID, Predicate: vocab.RDF + "type", Object: t}] = true
		}
		for p, v := range n.Properties {
			for _, obj := range objects(v) {
				obj.Subject, obj.Predicate = n.ID, p
				seen[obj] = true
			}
		}
	}

	out := make([]Triple, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func objects(v Value) []Triple {
	switch v.Kind {
	case KindRef:
		return []Triple{{Object: v.Ref}}
	case KindList:
		var out []Triple
		for _, item := range v.List {
			out = append(out, objects(item)...)
		}
		return out
	}

	switch s := v.Scalar.(type) {
	case string:
		return []Triple{{Object: s, Literal: true, Datatype: vocab.XSDString}}
	case bool:
		return []Triple{{Object: strconv.FormatBool(s), Literal: true, Datatype: vocab.XSDBoolean}}
	case int64:
		return []Triple{{Object: strconv.FormatInt(s, 10), Literal: true, Datatype: vocab.XSDInteger}}
	case float64:
		// JSON has one number type; integral values read back as integers.
		if s == math.Trunc(s) && math.Abs(s) < 1e21 {
			return []Triple{{Object: strconv.FormatInt(int64(s), 10), Literal: true, Datatype: vocab.XSDInteger}}
		}
		lex := canonicalDouble.ReplaceAllString(fmt.Sprintf("%1.15E", s), "${1}E${2}")
		return []Triple{{Object: lex, Literal: true, Datatype: vocab.XSDDouble}}
	}
	return nil
}
