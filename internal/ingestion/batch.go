package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"golang.org/x/sync/errgroup"

	"github.com/Benny93/apigraph-go/internal/parsers"
	"github.com/Benny93/apigraph-go/internal/pipeline"
	"github.com/Benny93/apigraph-go/internal/storage"
	"github.com/Benny93/apigraph-go/internal/validation"
)

// ModelExt is the file extension of generated models.
const ModelExt = ".jsonld"

// BatchOptions configures a batch run.
type BatchOptions struct {
	// Base holds the settings shared by every run. Source, Dialect and
	// Output are filled in per file.
	Base pipeline.Config

	// OutputDir receives one model per description, mirroring the tree
	// under the root. Empty writes next to each description.
	OutputDir string

	// Concurrency bounds simultaneous runs. Zero means four.
	Concurrency int

	// Store, when set, receives every successful model.
	Store storage.Backend

	Patterns []gitignore.Pattern
}

// BatchItem is the outcome for one description.
type BatchItem struct {
	File   FileEntry
	Result *pipeline.Result
	Err    error
}

// BatchResult summarizes a batch run.
type BatchResult struct {
	Items        []BatchItem
	Failed       int
	NonConformed int
	DurationSecs float64
}

// OutputPath maps a description to the model path under dir.
func OutputPath(dir string, f FileEntry) string {
	name := strings.TrimSuffix(f.RelPath, filepath.Ext(f.RelPath)) + ModelExt
	if dir == "" {
		return strings.TrimSuffix(f.Path, filepath.Ext(f.Path)) + ModelExt
	}
	return filepath.Join(dir, name)
}

// RunBatch generates a model for every API description under root. A
// failing description does not stop the others; its error is kept in the
// item. The returned error covers walking the tree and cancellation only.
func RunBatch(ctx context.Context, runner *pipeline.Runner, logger *slog.Logger, root string, opts BatchOptions) (*BatchResult, error) {
	start := time.Now()
	files, err := WalkAPIs(root, opts.Patterns)
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	logger.Info("found API descriptions", "root", root, "count", len(files))

	limit := opts.Concurrency
	if limit <= 0 {
		limit = 4
	}

	result := &BatchResult{Items: make([]BatchItem, len(files))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cfg := opts.Base
			cfg.Source = f.Path
			cfg.Dialect = string(f.Dialect)
			cfg.Output = OutputPath(opts.OutputDir, f)

			item := BatchItem{File: f}
			item.Result, item.Err = runner.Run(gctx, cfg)
			if item.Err == nil && opts.Store != nil {
				item.Err = Publish(gctx, opts.Store, item.Result, f.Path)
			}

			mu.Lock()
			defer mu.Unlock()
			result.Items[i] = item
			switch {
			case item.Err != nil:
				result.Failed++
				logger.Warn("description failed", "file", f.RelPath, "error", item.Err)
			case !item.Result.Report.Conforms:
				result.NonConformed++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	result.DurationSecs = time.Since(start).Seconds()
	return result, nil
}

// Publish saves a run result in the registry under its normalized source.
func Publish(ctx context.Context, store storage.Backend, res *pipeline.Result, source string) error {
	id, err := parsers.NormalizeLocation(source)
	if err != nil {
		return err
	}
	rec := storage.ModelRecord{
		ID:         id,
		Dialect:    string(res.Dialect),
		Profile:    string(res.Report.Profile),
		Conforms:   res.Report.Conforms,
		Violations: res.Report.Count(validation.Violation),
		Warnings:   res.Report.Count(validation.Warning),
		Nodes:      res.Nodes,
		Partial:    res.Partial,
		RunID:      res.RunID,
		Output:     res.Output,
		StoredAt:   time.Now().UTC(),
	}
	if err := store.SaveModel(ctx, rec, res.Document.Text, storage.Summarize(id, res.Model)); err != nil {
		return fmt.Errorf("storing %s: %w", id, err)
	}
	return nil
}
