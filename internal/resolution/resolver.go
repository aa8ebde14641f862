// Package resolution turns a parsed API graph into its resolved form:
// traits and resource types applied, overlays merged, references inlined
// and default security propagated.
package resolution

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Benny93/apigraph-go/internal/apierr"
	"github.com/Benny93/apigraph-go/internal/graph"
	"github.com/Benny93/apigraph-go/internal/vocab"
)

// Mode selects how much of the authoring structure survives resolution.
type Mode string

const (
	// ModeEditing keeps declarations, application references and link
	// labels so the model can be edited and re-resolved.
	ModeEditing Mode = "editing"

	// ModeCompatibility drops everything that was inlined or applied,
	// leaving a self-contained model.
	ModeCompatibility Mode = "compatibility"
)

// DefaultInlineDepth bounds nested reference expansion.
const DefaultInlineDepth = 8

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeEditing, ModeCompatibility:
		return Mode(s), nil
	}
	return "", &apierr.ConfigurationError{Field: "mode", Msg: fmt.Sprintf("unsupported resolution mode %q", s)}
}

// Options tunes a resolution run.
type Options struct {
	// InlineDepth bounds nested reference expansion. Zero means
	// DefaultInlineDepth.
	InlineDepth int

	// AllowPartial keeps dangling references instead of failing; the
	// result is marked partial.
	AllowPartial bool

	Logger *slog.Logger
}

// run is the state of one Resolve call.
type run struct {
	g      *graph.Graph
	mode   Mode
	opts   Options
	logger *slog.Logger

	// templates are trait and resource type declarations; their bodies
	// are only ever copied, never resolved in place.
	templates []string

	// expanding guards link chains against unbounded recursion.
	expanding map[string]bool
}

// Resolve returns the resolved form of g. The input graph is not modified.
func Resolve(ctx context.Context, g *graph.Graph, mode Mode, opts Options) (*graph.Graph, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	if opts.InlineDepth <= 0 {
		opts.InlineDepth = DefaultInlineDepth
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := &run{
		g:         g.Clone(),
		mode:      mode,
		opts:      opts,
		logger:    opts.Logger,
		expanding: make(map[string]bool),
	}
	for _, n := range r.g.NodesByType(vocab.TypeAbstractDecl) {
		r.templates = append(r.templates, n.ID)
	}

	steps := []struct {
		name string
		fn   func()
	}{
		{"traits", r.applyTraits},
		{"resource types", r.applyResourceTypes},
		{"traits", r.applyTraits},
		{"extensions", r.mergeExtensions},
		{"inlining", r.inlineLinks},
		{"inheritance", r.mergeInherited},
		{"security", r.propagateSecurity},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		step.fn()
		r.logger.Debug("resolution step done", "step", step.name, "nodes", r.g.NodeCount())
	}

	if mode == ModeCompatibility {
		r.compact()
	}

	if err := r.checkReferences(); err != nil {
		return nil, err
	}
	return r.g, nil
}

// inTemplate reports whether id belongs to a trait or resource type body.
func (r *run) inTemplate(id string) bool {
	for _, t := range r.templates {
		if id == t || strings.HasPrefix(id, t+"/") {
			return true
		}
	}
	return false
}

// checkReferences fails on references that still dangle, unless partial
// models are allowed.
func (r *run) checkReferences() error {
	for _, d := range r.g.DanglingReferences() {
		if r.inTemplate(d.From) {
			continue
		}
		if r.opts.AllowPartial {
			r.logger.Warn("unresolved reference kept", "node", d.From, "target", d.Target)
			r.g.MarkPartial()
			continue
		}
		return &apierr.UnresolvedReferenceError{NodeID: d.From, Target: d.Target}
	}
	return nil
}
