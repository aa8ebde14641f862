// Package validation checks an API graph against a dialect profile.
//
// A profile is a fixed list of rules. Each rule targets nodes of one type and
// either matches a JSON Schema against the node's projection (its properties
// keyed by compact IRI) or runs a check function over the graph. Validation
// never fails: non-conformance is reported, and the caller decides what a
// Violation means for the run.
package validation

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Benny93/apigraph-go/internal/graph"
	"github.com/Benny93/apigraph-go/internal/parsers"
	"github.com/Benny93/apigraph-go/internal/vocab"
)

// Severity ranks a validation result. Only Violation breaks conformance.
type Severity string

const (
	Violation Severity = "Violation"
	Warning   Severity = "Warning"
	Info      Severity = "Info"
)

// Profile names a closed set of rules.
type Profile string

const (
	ProfileRAML   Profile = "RAML"
	ProfileRAML08 Profile = "RAML08"
	ProfileOAS    Profile = "OAS"
	ProfileASYNC  Profile = "ASYNC"
)

// Profiles lists every profile.
func Profiles() []Profile {
	return []Profile{ProfileRAML, ProfileRAML08, ProfileOAS, ProfileASYNC}
}

// ProfileForDialect returns the profile a dialect is validated against.
func ProfileForDialect(d parsers.Dialect) (Profile, error) {
	switch d {
	case parsers.RAML10:
		return ProfileRAML, nil
	case parsers.RAML08:
		return ProfileRAML08, nil
	case parsers.OAS20, parsers.OAS30:
		return ProfileOAS, nil
	case parsers.Async20:
		return ProfileASYNC, nil
	}
	return "", fmt.Errorf("no validation profile for dialect %q", d)
}

// Result is one finding against one node.
type Result struct {
	RuleID   string                `json:"rule"`
	Severity Severity              `json:"severity"`
	Target   string                `json:"target"`
	Message  string                `json:"message"`
	Location *graph.SourceLocation `json:"location,omitempty"`
}

// Report is the outcome of validating a graph.
type Report struct {
	Profile  Profile  `json:"profile"`
	Model    string   `json:"model"`
	Conforms bool     `json:"conforms"`
	Results  []Result `json:"results"`
}

// Count returns the number of results with severity s.
func (r *Report) Count(s Severity) int {
	n := 0
	for _, res := range r.Results {
		if res.Severity == s {
			n++
		}
	}
	return n
}

// String renders the report grouped by severity.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Model: %s\n", r.Model)
	fmt.Fprintf(&b, "Profile: %s\n", r.Profile)
	fmt.Fprintf(&b, "Conforms: %t\n", r.Conforms)
	fmt.Fprintf(&b, "Number of results: %d\n", len(r.Results))
	for _, sev := range []Severity{Violation, Warning, Info} {
		if r.Count(sev) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\nLevel: %s\n", sev)
		for _, res := range r.Results {
			if res.Severity != sev {
				continue
			}
			fmt.Fprintf(&b, "\n- Constraint: %s\n", res.RuleID)
			fmt.Fprintf(&b, "  Message: %s\n", res.Message)
			fmt.Fprintf(&b, "  Target: %s\n", res.Target)
			if res.Location != nil {
				fmt.Fprintf(&b, "  Location: %s\n", res.Location)
			}
		}
	}
	return b.String()
}

// Validate checks g against profile. Trait and resource type bodies are
// skipped since their values may still hold parameters. An unknown profile
// yields an empty, conforming report.
func Validate(g *graph.Graph, profile Profile) *Report {
	sc := newScope(g)
	report := &Report{Profile: profile, Model: g.Root(), Results: []Result{}}

	for _, rule := range profiles[profile] {
		for _, n := range sc.targets(rule.Target) {
			if sc.inTemplate(n.ID) {
				continue
			}
			// A link carries only the reference; its target is checked.
			if rule.schema != nil && n.HasType(vocab.TypeLinkable) {
				continue
			}
			for _, msg := range rule.evaluate(sc, n) {
				report.Results = append(report.Results, Result{
					RuleID:   rule.ID,
					Severity: rule.Severity,
					Target:   n.ID,
					Message:  msg,
					Location: n.Source,
				})
			}
		}
	}

	sort.Slice(report.Results, func(i, j int) bool {
		a, b := report.Results[i], report.Results[j]
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		return a.Message < b.Message
	})
	report.Conforms = report.Count(Violation) == 0
	return report
}

// Rule is one constraint of a profile.
type Rule struct {
	ID       string
	Target   string // node type IRI; empty targets every node
	Severity Severity
	Message  string

	schema *gojsonschema.Schema
	check  func(sc *scope, n *graph.DocumentNode) []string
}

// Rules returns the rules of a profile in evaluation order.
func Rules(p Profile) []Rule {
	out := make([]Rule, 0, len(profiles[p]))
	for _, r := range profiles[p] {
		out = append(out, *r)
	}
	return out
}

func (r *Rule) evaluate(sc *scope, n *graph.DocumentNode) []string {
	if r.check != nil {
		return r.check(sc, n)
	}
	res, err := r.schema.Validate(gojsonschema.NewGoLoader(project(n)))
	if err != nil {
		return []string{fmt.Sprintf("%s: %v", r.Message, err)}
	}
	if res.Valid() {
		return nil
	}
	details := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		details = append(details, e.String())
	}
	sort.Strings(details)
	details = slices.Compact(details)
	return []string{fmt.Sprintf("%s (%s)", r.Message, strings.Join(details, "; "))}
}

var compact = vocab.PrefixMap(vocab.Prefixes())

// project renders a node as a JSON-like document keyed by compact property
// IRIs. References become their target IRI.
func project(n *graph.DocumentNode) map[string]any {
	out := make(map[string]any, len(n.Properties)+1)
	types := make([]any, 0, len(n.Types))
	for _, t := range n.Types {
		types = append(types, compact.Compact(t))
	}
	out["@type"] = types
	for prop, v := range n.Properties {
		out[compact.Compact(prop)] = projectValue(v)
	}
	return out
}

func projectValue(v graph.Value) any {
	switch v.Kind {
	case graph.KindRef:
		return v.Ref
	case graph.KindList:
		items := make([]any, 0, len(v.List))
		for _, item := range v.List {
			items = append(items, projectValue(item))
		}
		return items
	default:
		return v.Scalar
	}
}

// scope holds per-run lookups shared by check functions.
type scope struct {
	g            *graph.Graph
	templates    []string
	operationIDs map[string]int
	dangling     map[string][]graph.DanglingReference
}

func newScope(g *graph.Graph) *scope {
	sc := &scope{
		g:            g,
		operationIDs: make(map[string]int),
		dangling:     make(map[string][]graph.DanglingReference),
	}
	for _, n := range g.NodesByType(vocab.TypeAbstractDecl) {
		sc.templates = append(sc.templates, n.ID)
	}
	for _, op := range g.NodesByType(vocab.TypeOperation) {
		if id := op.Str(vocab.PropOperationID); id != "" && !sc.inTemplate(op.ID) {
			sc.operationIDs[id]++
		}
	}
	for _, d := range g.DanglingReferences() {
		sc.dangling[d.From] = append(sc.dangling[d.From], d)
	}
	return sc
}

func (sc *scope) targets(typ string) []*graph.DocumentNode {
	if typ == "" {
		return sc.g.Nodes()
	}
	return sc.g.NodesByType(typ)
}

func (sc *scope) inTemplate(id string) bool {
	for _, t := range sc.templates {
		if id == t || strings.HasPrefix(id, t+"/") {
			return true
		}
	}
	return false
}
