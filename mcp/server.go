// Package mcp provides the MCP (Model Context Protocol) server for apigraph.
//
// The server lets an agent generate and validate models and query the model
// registry. Every tool is also callable directly through CallTool, which is
// what the protocol handlers delegate to.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Benny93/apigraph-go/internal/ingestion"
	"github.com/Benny93/apigraph-go/internal/parsers"
	"github.com/Benny93/apigraph-go/internal/pipeline"
	"github.com/Benny93/apigraph-go/internal/storage"
	"github.com/Benny93/apigraph-go/internal/validation"
	"github.com/Benny93/apigraph-go/internal/vocab"
)

// Tool names.
const (
	ToolGenerate   = "apigraph_generate"
	ToolValidate   = "apigraph_validate"
	ToolSearch     = "apigraph_search"
	ToolListModels = "apigraph_list_models"
	ToolShow       = "apigraph_show"
)

// Resource URIs.
const (
	ResourceProfiles   = "apigraph://profiles"
	ResourceVocabulary = "apigraph://vocabulary"
	ResourceModels     = "apigraph://models"
)

// ErrNoRegistry is returned by registry tools when the server has no store.
var ErrNoRegistry = errors.New("no model registry configured")

// Server represents the MCP server.
type Server struct {
	runner *pipeline.Runner
	store  storage.Backend
	logger *slog.Logger
	server *mcp.Server
}

// Tool represents an MCP tool.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// Resource represents an MCP resource.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// NewServer creates a new MCP server. store may be nil, in which case the
// registry tools report ErrNoRegistry.
func NewServer(runner *pipeline.Runner, store storage.Backend, logger *slog.Logger, version string) *Server {
	s := &Server{
		runner: runner,
		store:  store,
		logger: logger,
	}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "apigraph",
		Version: version,
	}, nil)

	s.registerTools()
	s.registerResources()

	return s
}

var (
	sourceSchema  = &jsonschema.Schema{Type: "string", Description: "Path or URI of the root API description"}
	dialectSchema = &jsonschema.Schema{
		Type:        "string",
		Description: "Dialect of the description",
		Enum:        dialectEnum(),
	}
)

func dialectEnum() []any {
	var out []any
	for _, d := range parsers.Dialects() {
		out = append(out, string(d))
	}
	return out
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []Tool {
	return []Tool{
		{
			Name:        ToolGenerate,
			Description: "Parse, validate and resolve an API description and return its JSON-LD model.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"source":  sourceSchema,
					"dialect": dialectSchema,
					"mode":    {Type: "string", Description: "Resolution mode", Enum: []any{"editing", "compatibility"}},
					"store":   {Type: "boolean", Description: "Save the model in the registry"},
				},
				Required: []string{"source", "dialect"},
			},
		},
		{
			Name:        ToolValidate,
			Description: "Validate an API description against its dialect profile and return the report.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"source":  sourceSchema,
					"dialect": dialectSchema,
				},
				Required: []string{"source", "dialect"},
			},
		},
		{
			Name:        ToolSearch,
			Description: "Search endpoints, operations, shapes and other named nodes of stored models.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"query": {Type: "string", Description: "Search query text"},
					"limit": {Type: "integer", Description: "Maximum number of results"},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        ToolListModels,
			Description: "List every stored model with its validation summary.",
			InputSchema: &jsonschema.Schema{
				Type:       "object",
				Properties: map[string]*jsonschema.Schema{},
			},
		},
		{
			Name:        ToolShow,
			Description: "Return a stored model document, or one node entry when node is given.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"model": {Type: "string", Description: "Model id (normalized source URI) or source path"},
					"node":  {Type: "string", Description: "Node IRI"},
				},
				Required: []string{"model"},
			},
		},
	}
}

// ListResources returns all registered resources.
func (s *Server) ListResources() []Resource {
	return []Resource{
		{
			URI:         ResourceProfiles,
			Name:        "Validation Profiles",
			Description: "Validation profiles and the rules each one applies",
			MimeType:    "text/plain",
		},
		{
			URI:         ResourceVocabulary,
			Name:        "Vocabulary",
			Description: "Namespace prefixes used in compact JSON-LD output",
			MimeType:    "text/plain",
		},
		{
			URI:         ResourceModels,
			Name:        "Stored Models",
			Description: "Overview of the model registry",
			MimeType:    "text/plain",
		},
	}
}

// CallTool executes a tool with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case ToolGenerate:
		source, _ := args["source"].(string)
		dialect, _ := args["dialect"].(string)
		mode, _ := args["mode"].(string)
		store, _ := args["store"].(bool)
		return s.handleGenerate(ctx, source, dialect, mode, store)
	case ToolValidate:
		source, _ := args["source"].(string)
		dialect, _ := args["dialect"].(string)
		return s.handleValidate(ctx, source, dialect)
	case ToolSearch:
		query, _ := args["query"].(string)
		limit, _ := args["limit"].(float64)
		if limit == 0 {
			limit = 20
		}
		return s.handleSearch(ctx, query, int(limit))
	case ToolListModels:
		return s.handleListModels(ctx)
	case ToolShow:
		model, _ := args["model"].(string)
		node, _ := args["node"].(string)
		return s.handleShow(ctx, model, node)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (string, error) {
	switch uri {
	case ResourceProfiles:
		return getProfiles(), nil
	case ResourceVocabulary:
		return getVocabulary(), nil
	case ResourceModels:
		return s.getModels(ctx)
	default:
		return "", fmt.Errorf("unknown resource: %s", uri)
	}
}

// Run serves the MCP protocol over stdin and stdout until the client
// disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Connect serves one session over the given transport.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}

func (s *Server) registerTools() {
	for _, tool := range s.ListTools() {
		name := tool.Name
		s.server.AddTool(&mcp.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := map[string]any{}
			if len(req.Params.Arguments) > 0 {
				if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
					return nil, fmt.Errorf("decoding arguments: %w", err)
				}
			}
			text, err := s.CallTool(ctx, name, args)
			if err != nil {
				s.logger.Warn("tool failed", "tool", name, "error", err)
				return &mcp.CallToolResult{
					IsError: true,
					Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				}, nil
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: text}},
			}, nil
		})
	}
}

func (s *Server) registerResources() {
	for _, res := range s.ListResources() {
		uri, mimeType := res.URI, res.MimeType
		s.server.AddResource(&mcp.Resource{
			URI:         res.URI,
			Name:        res.Name,
			Description: res.Description,
			MIMEType:    res.MimeType,
		}, func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			text, err := s.ReadResource(ctx, uri)
			if err != nil {
				return nil, err
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: mimeType, Text: text}},
			}, nil
		})
	}
}

// Tool Handlers

func (s *Server) run(ctx context.Context, source, dialect, mode string) (*pipeline.Result, error) {
	cfg := pipeline.DefaultConfig()
	cfg.Source = source
	cfg.Dialect = dialect
	if mode != "" {
		cfg.Mode = mode
	}
	cfg.NoWrite = true
	return s.runner.Run(ctx, cfg)
}

func (s *Server) handleGenerate(ctx context.Context, source, dialect, mode string, store bool) (string, error) {
	res, err := s.run(ctx, source, dialect, mode)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Generated %d nodes from %s (%s).\n", res.Nodes, source, res.Dialect)
	fmt.Fprintf(&sb, "Conforms: %t (%d violations, %d warnings)\n",
		res.Report.Conforms, res.Report.Count(validation.Violation), res.Report.Count(validation.Warning))
	if res.Partial {
		sb.WriteString("Warning: the model is partial; some references could not be resolved.\n")
	}

	if store {
		if s.store == nil {
			return "", ErrNoRegistry
		}
		if err := ingestion.Publish(ctx, s.store, res, source); err != nil {
			return "", err
		}
		sb.WriteString("Stored in the registry.\n")
	}

	sb.WriteString("\n")
	sb.WriteString(res.Document.Text)
	return sb.String(), nil
}

func (s *Server) handleValidate(ctx context.Context, source, dialect string) (string, error) {
	res, err := s.run(ctx, source, dialect, "")
	if err != nil {
		return "", err
	}
	return res.Report.String(), nil
}

func (s *Server) handleSearch(ctx context.Context, query string, limit int) (string, error) {
	if query == "" {
		return "No query provided", nil
	}
	if s.store == nil {
		return "", ErrNoRegistry
	}

	results, err := s.store.Search(ctx, query, limit)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No results found", nil
	}
	return formatSearchResults(results, query), nil
}

// formatSearchResults formats search results as markdown.
func formatSearchResults(results []storage.SearchResult, query string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d results for '%s':\n\n", len(results), query)

	for i, r := range results {
		fmt.Fprintf(&sb, "%d. **%s** (%s)\n", i+1, r.Name, r.Type)
		fmt.Fprintf(&sb, "   Node: %s\n", r.NodeID)
		fmt.Fprintf(&sb, "   Model: %s\n", r.ModelID)
		fmt.Fprintf(&sb, "   Score: %.3f\n", r.Score)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Snippet)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Next: Use `%s` with a model and node for details.", ToolShow)
	return sb.String()
}

func (s *Server) handleListModels(ctx context.Context) (string, error) {
	if s.store == nil {
		return "", ErrNoRegistry
	}
	models, err := s.store.ListModels(ctx)
	if err != nil {
		return "", err
	}
	if len(models) == 0 {
		return "No models stored", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d stored models:\n\n", len(models))
	for _, m := range models {
		status := "conforms"
		if !m.Conforms {
			status = fmt.Sprintf("%d violations", m.Violations)
		}
		fmt.Fprintf(&sb, "- %s (%s, %d nodes, %s)\n", m.ID, m.Dialect, m.Nodes, status)
	}
	return sb.String(), nil
}

func (s *Server) handleShow(ctx context.Context, model, node string) (string, error) {
	if s.store == nil {
		return "", ErrNoRegistry
	}
	id, err := s.modelID(ctx, model)
	if err != nil {
		return "", err
	}

	if node == "" {
		doc, ok, err := s.store.GetDocument(ctx, id)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("model not found: %s", model)
		}
		return doc, nil
	}

	entry, err := s.store.GetNode(ctx, id, node)
	if err != nil {
		return "", err
	}
	if entry == nil {
		return "", fmt.Errorf("node not found: %s", node)
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// modelID accepts either a stored id or a path that normalizes to one.
func (s *Server) modelID(ctx context.Context, model string) (string, error) {
	if rec, err := s.store.GetModel(ctx, model); err != nil {
		return "", err
	} else if rec != nil {
		return model, nil
	}
	return parsers.NormalizeLocation(model)
}

func getProfiles() string {
	var sb strings.Builder
	sb.WriteString("Validation profiles:\n")
	for _, p := range validation.Profiles() {
		fmt.Fprintf(&sb, "\n%s\n", p)
		for _, r := range validation.Rules(p) {
			fmt.Fprintf(&sb, "  - %s [%s]: %s\n", r.ID, r.Severity, r.Message)
		}
	}
	return sb.String()
}

func getVocabulary() string {
	prefixes := vocab.Prefixes()
	names := make([]string, 0, len(prefixes))
	for name := range prefixes {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("Namespace prefixes:\n\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "  %s: %s\n", name, prefixes[name])
	}
	return sb.String()
}

func (s *Server) getModels(ctx context.Context) (string, error) {
	if s.store == nil {
		return "No model registry configured.", nil
	}
	models, err := s.store.ListModels(ctx)
	if err != nil {
		return "", err
	}

	conforming, nodes := 0, 0
	for _, m := range models {
		if m.Conforms {
			conforming++
		}
		nodes += m.Nodes
	}
	return fmt.Sprintf("Models: %d\nConforming: %d\nNodes: %d\n", len(models), conforming, nodes), nil
}
