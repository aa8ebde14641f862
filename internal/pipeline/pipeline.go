// Package pipeline runs one API description through parse, validate,
// resolve and serialize, and writes the resulting JSON-LD model.
//
// A Runner owns no per-run state: every Run builds its own graph, so one
// Runner may serve concurrent runs. Validation findings never abort a run
// unless the fail policy is configured; every other stage error is fatal and
// leaves no output file behind.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Benny93/apigraph-go/internal/apierr"
	"github.com/Benny93/apigraph-go/internal/graph"
	"github.com/Benny93/apigraph-go/internal/parsers"
	"github.com/Benny93/apigraph-go/internal/render"
	"github.com/Benny93/apigraph-go/internal/resolution"
	"github.com/Benny93/apigraph-go/internal/validation"
)

// Phase names passed to a ProgressCallback.
const (
	PhaseParse     = "Parsing"
	PhaseValidate  = "Validating"
	PhaseResolve   = "Resolving"
	PhaseSerialize = "Serializing"
	PhaseWrite     = "Writing"
)

// ProgressCallback is called with phase name and progress (0.0-1.0).
type ProgressCallback func(phase string, progress float64)

// Result summarizes a successful run.
type Result struct {
	RunID    string
	Dialect  parsers.Dialect
	Output   string // path written, empty when writing was skipped
	Document *render.Document
	Report   *validation.Report
	Model    *graph.Graph
	Nodes    int
	Partial  bool
	Stripped int // annotations removed for general availability
	Duration time.Duration
}

// Runner executes pipeline runs.
type Runner struct {
	logger   *slog.Logger
	parser   *parsers.Parser
	metrics  *Metrics
	progress ProgressCallback
}

// Option configures a Runner.
type Option func(*runnerOptions)

type runnerOptions struct {
	fetcher     parsers.Fetcher
	registry    prometheus.Registerer
	progress    ProgressCallback
	concurrency int
}

// WithFetcher replaces the default file and HTTP fetcher.
func WithFetcher(f parsers.Fetcher) Option {
	return func(o *runnerOptions) { o.fetcher = f }
}

// WithRegistry registers pipeline metrics with reg.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(o *runnerOptions) { o.registry = reg }
}

// WithProgress reports phase progress to cb.
func WithProgress(cb ProgressCallback) Option {
	return func(o *runnerOptions) { o.progress = cb }
}

// WithFetchConcurrency bounds simultaneous include fetches per run.
func WithFetchConcurrency(n int) Option {
	return func(o *runnerOptions) { o.concurrency = n }
}

// NewRunner creates a Runner that writes diagnostics to logger. A nil logger
// discards them.
func NewRunner(logger *slog.Logger, opts ...Option) *Runner {
	var o runnerOptions
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		logger: logger,
		parser: parsers.New(parsers.Options{
			Fetcher:     o.fetcher,
			Logger:      logger,
			Concurrency: o.concurrency,
		}),
		metrics:  NewMetrics(o.registry),
		progress: o.progress,
	}
}

func (r *Runner) report(phase string, progress float64) {
	if r.progress != nil {
		r.progress(phase, progress)
	}
}

// Run executes one pipeline run. Configuration errors are returned before
// any document is read.
func (r *Runner) Run(ctx context.Context, cfg Config) (res *Result, err error) {
	start := time.Now()
	runID := uuid.NewString()
	log := r.logger.With("run", runID)
	defer func() {
		r.metrics.recordRun(cfg.Dialect, err)
		if err != nil {
			log.Error("run failed", "stage", apierr.Stage(err), "error", err)
		}
	}()

	s, err := cfg.settings()
	if err != nil {
		return nil, err
	}
	res = &Result{RunID: runID, Dialect: s.dialect}
	log.Info("starting run", "source", s.Source, "dialect", string(s.dialect), "mode", string(s.mode))

	g, err := r.parse(ctx, log, s)
	if err != nil {
		return nil, err
	}

	if res.Report, err = r.validate(log, s, g); err != nil {
		return nil, err
	}

	if g, err = r.resolve(ctx, log, s, g); err != nil {
		return nil, err
	}
	res.Partial = g.IsPartial()

	if s.GeneralAvailability {
		res.Stripped = stripExperimental(g)
		log.Debug("stripped experimental annotations", "count", res.Stripped)
	}
	res.Model = g
	res.Nodes = g.NodeCount()
	r.metrics.observeNodes(res.Nodes)

	if res.Document, err = r.serialize(log, s, g); err != nil {
		return nil, err
	}

	if !s.NoWrite {
		if err := r.write(ctx, log, s, res.Document); err != nil {
			return nil, err
		}
		res.Output = s.Output
	}

	res.Duration = time.Since(start)
	log.Info("run complete",
		"nodes", res.Nodes,
		"conforms", res.Report.Conforms,
		"partial", res.Partial,
		"output", res.Output,
		"duration", res.Duration)
	return res, nil
}

func (r *Runner) parse(ctx context.Context, log *slog.Logger, s *settings) (*graph.Graph, error) {
	r.report(PhaseParse, 0.0)
	start := time.Now()
	g, err := r.parser.Parse(ctx, s.Source, s.dialect)
	r.metrics.observeStage(apierr.StageParse, time.Since(start))
	if err != nil {
		return nil, err
	}
	log.Debug("parsed", "nodes", g.NodeCount(), "extensions", len(g.Extensions()))
	r.report(PhaseParse, 1.0)
	return g, nil
}

// validate logs the report. Any Violation is logged at warn so it reaches
// the diagnostic stream at every verbosity.
func (r *Runner) validate(log *slog.Logger, s *settings, g *graph.Graph) (*validation.Report, error) {
	r.report(PhaseValidate, 0.0)
	profile, err := validation.ProfileForDialect(s.dialect)
	if err != nil {
		return nil, &apierr.ConfigurationError{Field: "dialect", Msg: err.Error()}
	}

	start := time.Now()
	report := validation.Validate(g, profile)
	r.metrics.observeStage(apierr.StageValidate, time.Since(start))
	r.metrics.recordReport(report)

	violations := report.Count(validation.Violation)
	if violations > 0 {
		log.Warn("model does not conform",
			"profile", string(profile),
			"violations", violations,
			"warnings", report.Count(validation.Warning),
			"report", report.String())
	} else {
		log.Info("model conforms",
			"profile", string(profile),
			"warnings", report.Count(validation.Warning))
		log.Debug("validation report", "report", report.String())
	}
	r.report(PhaseValidate, 1.0)

	if violations > 0 && s.policy == PolicyFail {
		return nil, &apierr.ValidationFailedError{Profile: string(profile), Violations: violations}
	}
	return report, nil
}

func (r *Runner) resolve(ctx context.Context, log *slog.Logger, s *settings, g *graph.Graph) (*graph.Graph, error) {
	r.report(PhaseResolve, 0.0)
	start := time.Now()
	resolved, err := resolution.Resolve(ctx, g, s.mode, resolution.Options{
		InlineDepth:  s.InlineDepth,
		AllowPartial: s.AllowPartial,
		Logger:       log,
	})
	r.metrics.observeStage(apierr.StageResolve, time.Since(start))
	if err != nil {
		return nil, err
	}
	r.report(PhaseResolve, 1.0)
	return resolved, nil
}

func (r *Runner) serialize(log *slog.Logger, s *settings, g *graph.Graph) (*render.Document, error) {
	r.report(PhaseSerialize, 0.0)
	start := time.Now()
	doc, err := render.GenerateString(g, render.Options{
		CompactURIs: s.CompactURIs,
		SourceMaps:  s.SourceMaps,
		Indent:      "  ",
	})
	r.metrics.observeStage(apierr.StageSerialize, time.Since(start))
	if err != nil {
		return nil, err
	}
	log.Debug("serialized", "document", doc.String())
	r.report(PhaseSerialize, 1.0)
	return doc, nil
}

func (r *Runner) write(ctx context.Context, log *slog.Logger, s *settings, doc *render.Document) error {
	// The write is the only side effect; a cancelled run must not reach it.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("before writing %s: %w", s.Output, err)
	}
	r.report(PhaseWrite, 0.0)
	if err := writeFile(s.Output, []byte(doc.Text)); err != nil {
		return err
	}
	log.Debug("wrote model", "path", s.Output, "bytes", len(doc.Text))
	r.report(PhaseWrite, 1.0)
	return nil
}
