package resolution

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/Benny93/apigraph-go/internal/graph"
	"github.com/Benny93/apigraph-go/internal/vocab"
)

// paramRef matches <<name>> with optional "| !function" transformations.
var paramRef = regexp.MustCompile(`<<\s*([^<>|\s]+)\s*((?:\|\s*![A-Za-z]+\s*)*)>>`)

// params are the values substituted into a trait or resource type body.
type params map[string]graph.Value

// paramsFor collects the variables of an application node plus the
// reserved resourcePath, resourcePathName and methodName parameters.
func (r *run) paramsFor(app, ep, op *graph.DocumentNode) params {
	p := make(params)
	if ep != nil {
		path := ep.Str(vocab.PropPath)
		p["resourcePath"] = graph.String(path)
		p["resourcePathName"] = graph.String(resourcePathName(path))
	}
	if op != nil {
		p["methodName"] = graph.String(op.Str(vocab.PropMethod))
	}
	for _, id := range app.Refs(vocab.PropVariable) {
		v := r.g.GetNode(id)
		if v == nil {
			continue
		}
		if val, ok := v.Get(vocab.PropValue); ok {
			p[v.Str(vocab.PropName)] = val
		}
	}
	return p
}

// resourcePathName is the last path segment that is not a URI parameter.
func resourcePathName(path string) string {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i] != "" && !strings.HasPrefix(segs[i], "{") {
			return segs[i]
		}
	}
	return ""
}

// str substitutes every parameter reference in s. Unknown parameters are
// left in place.
func (p params) str(s string) string {
	if len(p) == 0 || !strings.Contains(s, "<<") {
		return s
	}
	return paramRef.ReplaceAllStringFunc(s, func(m string) string {
		sub := paramRef.FindStringSubmatch(m)
		v, ok := p[sub[1]]
		if !ok {
			return m
		}
		return transform(scalarText(v), sub[2])
	})
}

// value substitutes parameters inside v. A string that is exactly one
// untransformed reference takes the parameter's typed value.
func (p params) value(v graph.Value) graph.Value {
	switch v.Kind {
	case graph.KindScalar:
		s, ok := v.Scalar.(string)
		if !ok {
			return v
		}
		if sub := paramRef.FindStringSubmatch(s); sub != nil && sub[0] == s && sub[2] == "" {
			if pv, ok := p[sub[1]]; ok {
				return pv.Clone()
			}
		}
		return graph.String(p.str(s))
	case graph.KindRef:
		return graph.Ref(p.ref(v.Ref))
	case graph.KindList:
		out := make([]graph.Value, len(v.List))
		for i, it := range v.List {
			out[i] = p.value(it)
		}
		return graph.List(out...)
	}
	return v
}

// ref substitutes parameters inside the fragment segments of an IRI.
func (p params) ref(id string) string {
	base, frag, ok := strings.Cut(id, "#")
	if !ok || !strings.Contains(frag, "%3C%3C") {
		return id
	}
	segs := strings.Split(frag, "/")
	for i, seg := range segs {
		raw, err := url.PathUnescape(seg)
		if err != nil {
			continue
		}
		if sub := p.str(raw); sub != raw {
			segs[i] = url.PathEscape(strings.ReplaceAll(strings.ReplaceAll(sub, "~", "~0"), "/", "~1"))
		}
	}
	return base + "#" + strings.Join(segs, "/")
}

func scalarText(v graph.Value) string {
	if v.Kind != graph.KindScalar {
		return ""
	}
	if s, ok := v.Scalar.(string); ok {
		return s
	}
	return fmt.Sprint(v.Scalar)
}

// transform applies the "| !fn" chain of a parameter reference.
func transform(s, chain string) string {
	for _, part := range strings.Split(chain, "|") {
		fn := strings.TrimPrefix(strings.TrimSpace(part), "!")
		switch fn {
		case "":
		case "singularize":
			s = singularize(s)
		case "pluralize":
			s = pluralize(s)
		case "uppercase":
			s = strings.ToUpper(s)
		case "lowercase":
			s = strings.ToLower(s)
		case "lowercamelcase":
			s = camel(words(s), false)
		case "uppercamelcase":
			s = camel(words(s), true)
		case "lowerunderscorecase":
			s = strings.ToLower(strings.Join(words(s), "_"))
		case "upperunderscorecase":
			s = strings.ToUpper(strings.Join(words(s), "_"))
		case "lowerhyphencase":
			s = strings.ToLower(strings.Join(words(s), "-"))
		case "upperhyphencase":
			s = strings.ToUpper(strings.Join(words(s), "-"))
		}
	}
	return s
}

// words splits on separators and lower-to-upper case changes.
func words(s string) []string {
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
	}
	runes := []rune(s)
	for i, c := range runes {
		switch {
		case !unicode.IsLetter(c) && !unicode.IsDigit(c):
			flush()
		case unicode.IsUpper(c) && i > 0 && unicode.IsLower(runes[i-1]):
			flush()
			cur = append(cur, c)
		default:
			cur = append(cur, c)
		}
	}
	flush()
	return out
}

func camel(ws []string, upperFirst bool) string {
	var b strings.Builder
	for i, w := range ws {
		w = strings.ToLower(w)
		if i > 0 || upperFirst {
			r := []rune(w)
			r[0] = unicode.ToUpper(r[0])
			w = string(r)
		}
		b.WriteString(w)
	}
	return b.String()
}

func pluralize(s string) string {
	lower := strings.ToLower(s)
	switch {
	case s == "":
		return s
	case strings.HasSuffix(lower, "y") && len(s) > 1 && !strings.ContainsRune("aeiou", rune(lower[len(lower)-2])):
		return s[:len(s)-1] + "ies"
	case strings.HasSuffix(lower, "s"), strings.HasSuffix(lower, "x"), strings.HasSuffix(lower, "ch"), strings.HasSuffix(lower, "sh"):
		return s + "es"
	}
	return s + "s"
}

func singularize(s string) string {
	lower := strings.ToLower(s)
	switch {
	case strings.HasSuffix(lower, "ies") && len(s) > 3:
		return s[:len(s)-3] + "y"
	case strings.HasSuffix(lower, "sses"), strings.HasSuffix(lower, "xes"), strings.HasSuffix(lower, "ches"), strings.HasSuffix(lower, "shes"):
		return s[:len(s)-2]
	case strings.HasSuffix(lower, "s") && !strings.HasSuffix(lower, "ss"):
		return s[:len(s)-1]
	}
	return s
}
