// Package cmd provides CLI command implementations for apigraph.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Benny93/apigraph-go/internal/apierr"
	"github.com/Benny93/apigraph-go/internal/ingestion"
	"github.com/Benny93/apigraph-go/internal/pipeline"
	"github.com/Benny93/apigraph-go/internal/storage"
	"github.com/Benny93/apigraph-go/internal/validation"
	"github.com/Benny93/apigraph-go/mcp"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Env carries what every command needs. It is built after flag parsing.
type Env struct {
	Ctx      context.Context
	Out      io.Writer
	In       io.Reader
	Logger   *slog.Logger
	Registry string
	Metrics  *prometheus.Registry
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
)

// PipelineFlags are the run settings shared by generate, validate, batch
// and watch.
type PipelineFlags struct {
	Dialect             string `short:"d" env:"APIGRAPH_DIALECT" help:"Dialect: RAML 1.0, RAML 0.8, OAS 2.0, OAS 3.0 or ASYNC 2.0"`
	Mode                string `default:"editing" enum:"editing,compatibility" help:"Resolution mode (${enum})"`
	OnViolation         string `default:"continue" enum:"continue,fail" help:"What to do when validation finds violations (${enum})"`
	GeneralAvailability bool   `name:"ga" help:"Strip internal and experimental annotations"`
	CompactURIs         bool   `name:"compact-uris" negatable:"" default:"true" help:"Emit compact IRIs with a @context"`
	SourceMaps          bool   `name:"source-maps" negatable:"" default:"true" help:"Emit source maps"`
	InlineDepth         int    `default:"8" help:"Maximum depth for inlining recursive declarations"`
	AllowPartial        bool   `help:"Produce a partial model when references cannot be resolved"`
}

func (f PipelineFlags) config(source, output string) pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.Source = source
	cfg.Dialect = f.Dialect
	cfg.Output = output
	cfg.Mode = f.Mode
	cfg.ViolationPolicy = f.OnViolation
	cfg.GeneralAvailability = f.GeneralAvailability
	cfg.CompactURIs = f.CompactURIs
	cfg.SourceMaps = f.SourceMaps
	cfg.InlineDepth = f.InlineDepth
	cfg.AllowPartial = f.AllowPartial
	return cfg
}

// GenerateCmd turns one API description into a JSON-LD model.
type GenerateCmd struct {
	PipelineFlags `embed:""`

	Source string `arg:"" optional:"" help:"Path or URI of the root API description"`
	Output string `short:"o" default:"${output}" help:"Output file"`
	Store  bool   `help:"Save the model in the registry"`
}

// Run executes the generate command. The registry is opened before the run,
// so a registry failure leaves no output file behind.
func (c *GenerateCmd) Run(env *Env) error {
	cfg := c.config(c.Source, c.Output)
	if err := cfg.Validate(); err != nil {
		return err
	}

	var store *storage.BadgerBackend
	if c.Store {
		s, err := openRegistry(env.Registry, false)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()
		store = s
	}

	runner := pipeline.NewRunner(env.Logger, pipeline.WithRegistry(env.Metrics))
	res, err := runner.Run(env.Ctx, cfg)
	if err != nil {
		return err
	}

	if store != nil {
		if err := ingestion.Publish(env.Ctx, store, res, c.Source); err != nil {
			env.Logger.Warn("model written but not stored", "output", res.Output, "error", err)
		}
	}

	printResult(env.Out, res)
	return nil
}

func printResult(out io.Writer, res *pipeline.Result) {
	if res.Report.Conforms {
		green.Fprintf(out, "✓ Generated %s\n", res.Output)
	} else {
		yellow.Fprintf(out, "! Generated %s (model does not conform)\n", res.Output)
	}
	fmt.Fprintf(out, "  Dialect:     %s\n", res.Dialect)
	fmt.Fprintf(out, "  Nodes:       %d\n", res.Nodes)
	fmt.Fprintf(out, "  Violations:  %d\n", res.Report.Count(validation.Violation))
	fmt.Fprintf(out, "  Warnings:    %d\n", res.Report.Count(validation.Warning))
	if res.Partial {
		fmt.Fprintf(out, "  Partial:     true\n")
	}
	if res.Stripped > 0 {
		fmt.Fprintf(out, "  Stripped:    %d\n", res.Stripped)
	}
	fmt.Fprintf(out, "  Duration:    %s\n", res.Duration.Round(time.Millisecond))
}

// ValidateCmd prints the validation report of an API description.
type ValidateCmd struct {
	Source  string `arg:"" optional:"" help:"Path or URI of the root API description"`
	Dialect string `short:"d" env:"APIGRAPH_DIALECT" help:"Dialect of the description"`
	Format  string `default:"text" enum:"text,json" help:"Report format (${enum})"`
}

// Run executes the validate command. A report with violations is an error.
func (c *ValidateCmd) Run(env *Env) error {
	cfg := pipeline.DefaultConfig()
	cfg.Source = c.Source
	cfg.Dialect = c.Dialect
	cfg.NoWrite = true

	runner := pipeline.NewRunner(env.Logger, pipeline.WithRegistry(env.Metrics))
	res, err := runner.Run(env.Ctx, cfg)
	if err != nil {
		return err
	}

	report := res.Report
	if c.Format == "json" {
		enc := json.NewEncoder(env.Out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		fmt.Fprint(env.Out, report.String())
	}

	if !report.Conforms {
		return &apierr.ValidationFailedError{Profile: string(report.Profile), Violations: report.Count(validation.Violation)}
	}
	return nil
}

// BatchCmd generates a model for every API description under a directory.
type BatchCmd struct {
	PipelineFlags `embed:""`

	Root        string `arg:"" optional:"" default:"." help:"Directory to scan"`
	OutputDir   string `short:"o" help:"Directory for generated models (default: next to each description)"`
	Concurrency int    `short:"j" default:"4" help:"Simultaneous runs"`
	Store       bool   `help:"Save every model in the registry"`
}

func (c *BatchCmd) options() (ingestion.BatchOptions, error) {
	patterns, err := ingestion.LoadGitignore(c.Root)
	if err != nil {
		return ingestion.BatchOptions{}, fmt.Errorf("loading .gitignore: %w", err)
	}
	return ingestion.BatchOptions{
		Base:        c.config("", ""),
		OutputDir:   c.OutputDir,
		Concurrency: c.Concurrency,
		Patterns:    patterns,
	}, nil
}

// Run executes the batch command.
func (c *BatchCmd) Run(env *Env) error {
	opts, err := c.options()
	if err != nil {
		return err
	}
	if c.Store {
		store, err := openRegistry(env.Registry, false)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		opts.Store = store
	}

	runner := pipeline.NewRunner(env.Logger, pipeline.WithRegistry(env.Metrics))
	res, err := ingestion.RunBatch(env.Ctx, runner, env.Logger, c.Root, opts)
	if err != nil {
		return err
	}
	printBatch(env.Out, res)

	if res.Failed > 0 {
		return fmt.Errorf("%d of %d descriptions failed", res.Failed, len(res.Items))
	}
	return nil
}

func printBatch(out io.Writer, res *ingestion.BatchResult) {
	for _, item := range res.Items {
		switch {
		case item.Err != nil:
			red.Fprintf(out, "✗ %s: %v\n", item.File.RelPath, item.Err)
		case !item.Result.Report.Conforms:
			yellow.Fprintf(out, "! %s → %s\n", item.File.RelPath, item.Result.Output)
		default:
			green.Fprintf(out, "✓ %s → %s\n", item.File.RelPath, item.Result.Output)
		}
	}
	fmt.Fprintf(out, "\n  Descriptions:   %d\n", len(res.Items))
	fmt.Fprintf(out, "  Failed:         %d\n", res.Failed)
	fmt.Fprintf(out, "  Non-conforming: %d\n", res.NonConformed)
	fmt.Fprintf(out, "  Duration:       %.2fs\n", res.DurationSecs)
}

// WatchCmd regenerates models whenever a description under a directory
// changes.
type WatchCmd struct {
	BatchCmd `embed:""`

	Debounce time.Duration `default:"500ms" help:"Quiet period before a rebuild"`
}

// Run executes the watch command.
func (c *WatchCmd) Run(env *Env) error {
	opts, err := c.options()
	if err != nil {
		return err
	}
	if c.Store {
		store, err := openRegistry(env.Registry, false)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		opts.Store = store
	}

	fmt.Fprintf(env.Out, "Watching %s for changes (Ctrl+C to stop)\n\n", c.Root)
	r := &ingestion.Rebuilder{
		Runner:  pipeline.NewRunner(env.Logger, pipeline.WithRegistry(env.Metrics)),
		Logger:  env.Logger,
		Root:    c.Root,
		Options: opts,
		OnBatch: func(res *ingestion.BatchResult) { printBatch(env.Out, res) },
	}
	err = r.Run(env.Ctx, c.Debounce)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch error: %w", err)
	}

	fmt.Fprintln(env.Out, "Watch mode stopped.")
	return nil
}

// MCPCmd starts the MCP server on stdio.
type MCPCmd struct {
	NoRegistry bool `help:"Serve without the model registry"`
}

// Run executes the mcp command.
func (c *MCPCmd) Run(env *Env) error {
	var store storage.Backend
	if !c.NoRegistry {
		s, err := openRegistry(env.Registry, false)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()
		store = s
	}

	runner := pipeline.NewRunner(env.Logger, pipeline.WithRegistry(env.Metrics))
	server := mcp.NewServer(runner, store, env.Logger, Version)

	// Nothing else may write to stdout: it carries the protocol.
	err := server.Run(env.Ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// CLI represents the command-line interface.
type CLI struct {
	Version   kong.VersionFlag `help:"Show version information"`
	Config    kong.ConfigFlag  `help:"Load flag defaults from a JSON file"`
	Verbose   bool             `short:"v" xor:"level" help:"Enable debug logging"`
	Quiet     bool             `short:"q" xor:"level" help:"Only log warnings and errors"`
	LogFormat string           `default:"text" enum:"text,json" env:"APIGRAPH_LOG_FORMAT" help:"Log format (${enum})"`
	LogFile   string           `type:"path" help:"Write logs to a file instead of stderr"`
	Registry  string           `type:"path" default:".apigraph" env:"APIGRAPH_REGISTRY" help:"Model registry directory"`
	Metrics   string           `type:"path" name:"metrics-file" help:"Write Prometheus metrics to a file after the command"`

	// Commands
	Generate GenerateCmd `cmd:"" help:"Generate the JSON-LD model of an API description"`
	Validate ValidateCmd `cmd:"" help:"Validate an API description and print the report"`
	Batch    BatchCmd    `cmd:"" help:"Generate models for every API description under a directory"`
	Watch    WatchCmd    `cmd:"" help:"Regenerate models when descriptions change"`
	MCP      MCPCmd      `cmd:"" help:"Start MCP server (stdio transport)"`
	List     ListCmd     `cmd:"" help:"List stored models"`
	Query    QueryCmd    `cmd:"" help:"Search stored models"`
	Show     ShowCmd     `cmd:"" help:"Print a stored model or node"`
	Clean    CleanCmd    `cmd:"" help:"Delete a stored model or the whole registry"`

	out    io.Writer
	errOut io.Writer
	in     io.Reader
}

// NewCLI creates a new CLI instance writing to the standard streams.
func NewCLI() *CLI {
	return &CLI{out: os.Stdout, errOut: os.Stderr, in: os.Stdin}
}

func (c *CLI) parser() (*kong.Kong, error) {
	return kong.New(c,
		kong.Name("apigraph"),
		kong.Description("Parse, validate and resolve API descriptions into a JSON-LD graph"),
		kong.Writers(c.out, c.errOut),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Configuration(kong.JSON, ".apigraph.json", "~/.config/apigraph/config.json"),
		kong.Vars{
			"version": Version,
			"output":  pipeline.DefaultOutput,
		},
	)
}

// Execute parses command-line arguments and executes the selected command.
// Parse failures are configuration errors.
func (c *CLI) Execute(args []string) error {
	parser, err := c.parser()
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return &apierr.ConfigurationError{Msg: err.Error()}
	}
	logger, closeLog, err := c.logger()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := &Env{
		Ctx:      ctx,
		Out:      c.out,
		In:       c.in,
		Logger:   logger,
		Registry: c.Registry,
		Metrics:  prometheus.NewRegistry(),
	}
	err = kctx.Run(env)

	if c.Metrics != "" {
		if werr := prometheus.WriteToTextfile(c.Metrics, env.Metrics); werr != nil {
			logger.Warn("writing metrics", "path", c.Metrics, "error", werr)
		}
	}
	return err
}

// logger builds the diagnostic logger from the global flags.
func (c *CLI) logger() (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	switch {
	case c.Verbose:
		level = slog.LevelDebug
	case c.Quiet:
		level = slog.LevelWarn
	}

	w, closeFn := c.errOut, func() {}
	if c.LogFile != "" {
		f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, &apierr.ConfigurationError{Field: "log-file", Msg: err.Error()}
		}
		w, closeFn = f, func() { _ = f.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(c.LogFormat, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), closeFn, nil
}

// openRegistry opens the Badger registry under dir. A read-only open of a
// missing registry is an error rather than creating an empty one.
func openRegistry(dir string, readOnly bool) (*storage.BadgerBackend, error) {
	dbPath := filepath.Join(dir, "badger")
	if readOnly {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("no registry found at %s. Run 'apigraph generate --store' first", dir)
		}
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating registry directory: %w", err)
	}

	store := storage.NewBadgerBackend()
	if err := store.Initialize(dbPath, readOnly); err != nil {
		return nil, fmt.Errorf("initializing registry: %w", err)
	}
	return store, nil
}
