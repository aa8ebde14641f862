package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Benny93/apigraph-go/internal/parsers"
	"github.com/Benny93/apigraph-go/internal/storage"
)

// ListCmd lists the models stored in the registry.
type ListCmd struct{}

// Run executes the list command.
func (c *ListCmd) Run(env *Env) error {
	store, err := openRegistry(env.Registry, true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	models, err := store.ListModels(env.Ctx)
	if err != nil {
		return fmt.Errorf("listing models: %w", err)
	}
	if len(models) == 0 {
		fmt.Fprintln(env.Out, "No stored models")
		return nil
	}

	for _, m := range models {
		mark := green.Sprint("✓")
		if !m.Conforms {
			mark = yellow.Sprint("!")
		}
		fmt.Fprintf(env.Out, "%s %s\n", mark, m.ID)
		fmt.Fprintf(env.Out, "    %s, %d nodes, %d violations, %d warnings, stored %s\n",
			m.Dialect, m.Nodes, m.Violations, m.Warnings, m.StoredAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// QueryCmd searches the nodes of stored models.
type QueryCmd struct {
	Query string `arg:"" help:"Search query"`
	Limit int    `short:"n" default:"20" help:"Maximum results"`
}

// Run executes the query command.
func (c *QueryCmd) Run(env *Env) error {
	store, err := openRegistry(env.Registry, true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	results, err := store.Search(env.Ctx, c.Query, c.Limit)
	if err != nil {
		return fmt.Errorf("searching: %w", err)
	}
	if len(results) == 0 {
		fmt.Fprintln(env.Out, "No results found")
		return nil
	}

	for i, r := range results {
		fmt.Fprintf(env.Out, "\n%d. %s (%s)\n", i+1, r.Name, r.Type)
		fmt.Fprintf(env.Out, "   Model: %s\n", r.ModelID)
		fmt.Fprintf(env.Out, "   Node:  %s\n", r.NodeID)
		fmt.Fprintf(env.Out, "   Score: %.3f\n", r.Score)
		if r.Snippet != "" {
			fmt.Fprintf(env.Out, "   %s\n", r.Snippet)
		}
	}
	return nil
}

// ShowCmd prints a stored model, or one node summary when a node id is
// given.
type ShowCmd struct {
	Model string `arg:"" help:"Model id or path of its source description"`
	Node  string `arg:"" optional:"" help:"Node id within the model"`
}

// Run executes the show command.
func (c *ShowCmd) Run(env *Env) error {
	store, err := openRegistry(env.Registry, true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	id, err := resolveModel(env.Ctx, store, c.Model)
	if err != nil {
		return err
	}

	if c.Node == "" {
		doc, ok, err := store.GetDocument(env.Ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("model not found: %s", c.Model)
		}
		fmt.Fprintln(env.Out, strings.TrimRight(doc, "\n"))
		return nil
	}

	entry, err := store.GetNode(env.Ctx, id, c.Node)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("node not found: %s", c.Node)
	}
	enc := json.NewEncoder(env.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(entry)
}

// CleanCmd deletes one stored model or, without arguments, the whole
// registry.
type CleanCmd struct {
	Model string `arg:"" optional:"" help:"Model id or path of its source description"`
	Force bool   `short:"f" help:"Skip confirmation"`
}

// Run executes the clean command.
func (c *CleanCmd) Run(env *Env) error {
	if c.Model != "" {
		return c.deleteModel(env)
	}

	if _, err := os.Stat(env.Registry); os.IsNotExist(err) {
		return fmt.Errorf("no registry found at %s. Nothing to clean", env.Registry)
	}

	if !c.Force {
		fmt.Fprintf(env.Out, "Delete registry at %s? [y/N] ", env.Registry)
		if !confirmed(env) {
			fmt.Fprintln(env.Out, "Aborted")
			return nil
		}
	}

	if err := os.RemoveAll(env.Registry); err != nil {
		return fmt.Errorf("deleting registry: %w", err)
	}
	green.Fprintf(env.Out, "Deleted %s\n", env.Registry)
	return nil
}

func (c *CleanCmd) deleteModel(env *Env) error {
	store, err := openRegistry(env.Registry, false)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	id, err := resolveModel(env.Ctx, store, c.Model)
	if err != nil {
		return err
	}
	ok, err := store.DeleteModel(env.Ctx, id)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("model not found: %s", c.Model)
	}
	green.Fprintf(env.Out, "Deleted %s\n", id)
	return nil
}

func confirmed(env *Env) bool {
	if env.In == nil {
		return false
	}
	line, _ := bufio.NewReader(env.In).ReadString('\n')
	answer := strings.TrimSpace(line)
	return answer == "y" || answer == "Y"
}

// resolveModel accepts either a stored id or a path that normalizes to one.
func resolveModel(ctx context.Context, store storage.Backend, model string) (string, error) {
	rec, err := store.GetModel(ctx, model)
	if err != nil {
		return "", err
	}
	if rec != nil {
		return model, nil
	}
	return parsers.NormalizeLocation(model)
}
