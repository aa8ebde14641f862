package mcp

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/apigraph-go/internal/pipeline"
	"github.com/Benny93/apigraph-go/internal/storage"
)

const pingOAS = `openapi: 3.0.0
info:
  title: Ping
  description: liveness probe
  version: "1.0"
servers:
  - url: https://ping.example.com
paths:
  /ping:
    get:
      operationId: ping
      responses:
        "200":
          description: pong
`

func newTestServer(t *testing.T, store storage.Backend) (*Server, string) {
	t.Helper()

	dir := t.TempDir()
	source := filepath.Join(dir, "ping.yaml")
	require.NoError(t, os.WriteFile(source, []byte(pingOAS), 0o644))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(pipeline.NewRunner(logger), store, logger, "test"), source
}

func TestServer_ListTools(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	tools := s.ListTools()

	var names []string
	for _, tool := range tools {
		names = append(names, tool.Name)
		assert.Equal(t, "object", tool.InputSchema.Type)
	}
	assert.Equal(t, []string{ToolGenerate, ToolValidate, ToolSearch, ToolListModels, ToolShow}, names)
}

func TestServer_Generate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryBackend()
	s, source := newTestServer(t, store)

	out, err := s.CallTool(ctx, ToolGenerate, map[string]any{
		"source":  source,
		"dialect": "OAS 3.0",
		"store":   true,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Conforms: true")
	assert.Contains(t, out, "Stored in the registry.")
	assert.Contains(t, out, `"@graph"`)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(source), "api-model.json"))

	t.Run("Search", func(t *testing.T) {
		out, err := s.CallTool(ctx, ToolSearch, map[string]any{"query": "liveness"})
		require.NoError(t, err)
		assert.Contains(t, out, "Found 1 results for 'liveness'")
		assert.Contains(t, out, "**Ping**")
	})

	t.Run("ListModels", func(t *testing.T) {
		out, err := s.CallTool(ctx, ToolListModels, nil)
		require.NoError(t, err)
		assert.Contains(t, out, "1 stored models")
		assert.Contains(t, out, "ping.yaml (OAS 3.0")
	})

	t.Run("ShowDocument", func(t *testing.T) {
		out, err := s.CallTool(ctx, ToolShow, map[string]any{"model": source})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "{"))
		assert.Contains(t, out, "Ping")
	})

	t.Run("ShowNode", func(t *testing.T) {
		results, err := store.Search(ctx, "liveness", 1)
		require.NoError(t, err)
		require.Len(t, results, 1)

		out, err := s.CallTool(ctx, ToolShow, map[string]any{"model": results[0].ModelID, "node": results[0].NodeID})
		require.NoError(t, err)
		assert.Contains(t, out, `"name": "Ping"`)
		assert.Contains(t, out, `"type": "apiContract:WebAPI"`)
	})

	t.Run("ShowMissing", func(t *testing.T) {
		_, err := s.CallTool(ctx, ToolShow, map[string]any{"model": "absent.yaml"})
		assert.ErrorContains(t, err, "model not found")
	})
}

func TestServer_Validate(t *testing.T) {
	t.Parallel()

	s, source := newTestServer(t, nil)
	out, err := s.CallTool(context.Background(), ToolValidate, map[string]any{"source": source, "dialect": "OAS 3.0"})
	require.NoError(t, err)
	assert.Contains(t, out, "Profile: OAS")
	assert.Contains(t, out, "Conforms: true")

	_, err = s.CallTool(context.Background(), ToolValidate, map[string]any{"source": source, "dialect": "WSDL"})
	assert.ErrorContains(t, err, "dialect")
}

func TestServer_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, source := newTestServer(t, nil)

	_, err := s.CallTool(ctx, "apigraph_unknown", nil)
	assert.ErrorContains(t, err, "unknown tool")

	for _, name := range []string{ToolListModels, ToolShow} {
		_, err := s.CallTool(ctx, name, map[string]any{"model": "x"})
		assert.ErrorIs(t, err, ErrNoRegistry, name)
	}
	_, err = s.CallTool(ctx, ToolSearch, map[string]any{"query": "ping"})
	assert.ErrorIs(t, err, ErrNoRegistry)

	_, err = s.CallTool(ctx, ToolGenerate, map[string]any{"source": source, "dialect": "OAS 3.0", "store": true})
	assert.ErrorIs(t, err, ErrNoRegistry)

	out, err := s.CallTool(ctx, ToolSearch, map[string]any{"query": ""})
	require.NoError(t, err)
	assert.Equal(t, "No query provided", out)
}

func TestServer_ReadResource(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestServer(t, storage.NewMemoryBackend())

	profiles, err := s.ReadResource(ctx, ResourceProfiles)
	require.NoError(t, err)
	assert.Contains(t, profiles, "oas-info-title-required [Violation]")
	assert.Contains(t, profiles, "raml08-method-enum")

	vocabulary, err := s.ReadResource(ctx, ResourceVocabulary)
	require.NoError(t, err)
	assert.Contains(t, vocabulary, "apiContract: http://a.ml/vocabularies/apiContract#")

	models, err := s.ReadResource(ctx, ResourceModels)
	require.NoError(t, err)
	assert.Equal(t, "Models: 0\nConforming: 0\nNodes: 0\n", models)

	_, err = s.ReadResource(ctx, "apigraph://nothing")
	assert.Error(t, err)
}

func TestServer_Session(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, source := newTestServer(t, storage.NewMemoryBackend())

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := s.Connect(ctx, serverTransport)
	require.NoError(t, err)
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "test"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer cs.Close()

	tools, err := cs.ListTools(ctx, &mcp.ListToolsParams{})
	require.NoError(t, err)
	assert.Len(t, tools.Tools, 5)

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      ToolValidate,
		Arguments: map[string]any{"source": source, "dialect": "OAS 3.0"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "Conforms: true")

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      ToolShow,
		Arguments: map[string]any{"model": "absent.yaml"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	contents, err := cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: ResourceVocabulary})
	require.NoError(t, err)
	require.Len(t, contents.Contents, 1)
	assert.Contains(t, contents.Contents[0].Text, "shacl:")
}
