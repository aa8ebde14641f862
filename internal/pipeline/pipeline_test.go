package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/apigraph-go/internal/apierr"
	"github.com/Benny93/apigraph-go/internal/graph"
	"github.com/Benny93/apigraph-go/internal/resolution"
	"github.com/Benny93/apigraph-go/internal/vocab"
)

// memFetcher serves documents from memory and counts reads.
type memFetcher struct {
	mu    sync.Mutex
	docs  map[string]string
	reads int
}

func (m *memFetcher) Fetch(_ context.Context, uri string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	data, ok := m.docs[uri]
	if !ok {
		return nil, fmt.Errorf("%s: %w", uri, fs.ErrNotExist)
	}
	return []byte(data), nil
}

const pingOAS = `openapi: 3.0.0
info:
  title: Ping
  description: liveness
  version: "1.0"
x-team: core
x-internal: true
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

const untitledOAS = `openapi: 3.0.0
info:
  version: "1.0"
paths:
  /ping:
    get:
      responses:
        "200":
          description: pong
`

type fixture struct {
	fetcher *memFetcher
	logs    *bytes.Buffer
	runner  *Runner
	dir     string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		fetcher: &memFetcher{docs: map[string]string{
			"file:///api/ping.yaml":     pingOAS,
			"file:///api/untitled.yaml": untitledOAS,
			"file:///api/broken.yaml":   "openapi: 3.0.0\npaths: [unclosed\n",
		}},
		logs: &bytes.Buffer{},
		dir:  t.TempDir(),
	}
	logger := slog.New(slog.NewTextHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelWarn}))
	f.runner = NewRunner(logger, append([]Option{WithFetcher(f.fetcher)}, opts...)...)
	return f
}

func (f *fixture) config(source string) Config {
	cfg := DefaultConfig()
	cfg.Source = source
	cfg.Dialect = "OAS 3.0"
	cfg.Output = filepath.Join(f.dir, "out", "model.json")
	return cfg
}

func TestRun_ScenarioA(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cfg := f.config("file:///api/ping.yaml")

	res, err := f.runner.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, apierr.ExitCode(err))
	assert.True(t, res.Report.Conforms)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, cfg.Output, res.Output)

	var found bool
	for _, ep := range res.Model.NodesByType(vocab.TypeEndPoint) {
		if ep.Str(vocab.PropPath) != "/ping" {
			continue
		}
		for _, opID := range ep.Refs(vocab.PropOperation) {
			op := res.Model.GetNode(opID)
			require.NotNil(t, op)
			assert.Equal(t, "get", op.Str(vocab.PropMethod))
			for _, rid := range op.Refs(vocab.PropReturns) {
				if resp := res.Model.GetNode(rid); resp != nil && resp.Str(vocab.PropStatusCode) == "200" {
					found = true
				}
			}
		}
	}
	assert.True(t, found, "GET /ping with a 200 response")

	data, err := os.ReadFile(cfg.Output)
	require.NoError(t, err)
	assert.Equal(t, res.Document.Text, string(data))
	assert.Equal(t, "application/ld+json", res.Document.MediaType)

	entries, err := os.ReadDir(filepath.Dir(cfg.Output))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary files left behind")
	assert.Equal(t, "model.json", entries[0].Name())
}

func TestRun_ScenarioC_MissingSource(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cfg := f.config("")

	res, err := f.runner.Run(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, res)

	var cerr *apierr.ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "source", cerr.Field)
	assert.Equal(t, apierr.StageConfig, apierr.Stage(err))
	assert.Equal(t, 2, apierr.ExitCode(err))
	assert.Zero(t, f.fetcher.reads, "no document read before configuration is valid")
	assert.NoFileExists(t, cfg.Output)
}

func TestRun_ScenarioD_ViolationsContinue(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cfg := f.config("file:///api/untitled.yaml")

	res, err := f.runner.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, apierr.ExitCode(err))
	assert.False(t, res.Report.Conforms)
	assert.FileExists(t, cfg.Output)

	logs := f.logs.String()
	assert.Contains(t, logs, "level=WARN")
	assert.Contains(t, logs, "model does not conform")
	assert.Contains(t, logs, "oas-info-title-required")
}

func TestRun_ViolationsFail(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cfg := f.config("file:///api/untitled.yaml")
	cfg.ViolationPolicy = string(PolicyFail)

	_, err := f.runner.Run(context.Background(), cfg)
	require.Error(t, err)

	var verr *apierr.ValidationFailedError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "OAS", verr.Profile)
	assert.Positive(t, verr.Violations)
	assert.Equal(t, 1, apierr.ExitCode(err))
	assert.NoFileExists(t, cfg.Output)
}

func TestRun_FatalErrorsWriteNothing(t *testing.T) {
	t.Parallel()

	t.Run("malformed document", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		cfg := f.config("file:///api/broken.yaml")
		_, err := f.runner.Run(context.Background(), cfg)
		require.Error(t, err)
		assert.ErrorIs(t, err, apierr.ErrParse)
		assert.NoFileExists(t, cfg.Output)
		assert.Contains(t, f.logs.String(), "run failed")
	})

	t.Run("missing document", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		cfg := f.config("file:///api/absent.yaml")
		_, err := f.runner.Run(context.Background(), cfg)
		require.Error(t, err)
		assert.ErrorIs(t, err, fs.ErrNotExist)
		assert.NoFileExists(t, cfg.Output)
	})

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		cfg := f.config("file:///api/ping.yaml")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := f.runner.Run(ctx, cfg)
		require.Error(t, err)
		assert.NoFileExists(t, cfg.Output)
	})

	t.Run("unwritable output", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		blocker := filepath.Join(f.dir, "file")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
		cfg := f.config("file:///api/ping.yaml")
		cfg.Output = filepath.Join(blocker, "model.json")
		_, err := f.runner.Run(context.Background(), cfg)
		require.Error(t, err)
		assert.ErrorIs(t, err, apierr.ErrSerialization)
		assert.Equal(t, apierr.StageSerialize, apierr.Stage(err))
	})
}

const petsOAS20 = `swagger: "2.0"
info:
  title: Pet Store
  version: "1.0"
host: pets.example.com
basePath: /v1
consumes: [application/json]
produces: [application/json]
paths:
  /pets:
    get:
      responses:
        "200":
          description: all pets
          schema:
            type: array
            items:
              $ref: '#/definitions/Pet'
    post:
      parameters:
        - name: pet
          in: body
          schema:
            $ref: '#/definitions/Pet'
      responses:
        "201":
          description: created
  /photos:
    put:
      parameters:
        - name: photo
          in: formData
          type: file
      responses:
        "204":
          description: stored
definitions:
  Pet:
    type: object
    properties:
      name:
        type: string
`

const petsRAML08 = `#%RAML 0.8
title: Pet Store
version: v1
mediaType: application/json
schemas:
  - pet: '{"type": "object", "properties": {"name": {"type": "string"}}}'
traits:
  - paged:
      queryParameters:
        page:
          type: integer
resourceTypes:
  - collection:
      get:
        is: [ paged ]
        responses:
          200:
            body:
              schema: pet
/pets:
  type: collection
  post:
    body:
      application/x-www-form-urlencoded:
        formParameters:
          name:
            type: string
    responses:
      201:
        description: created
`

// operations lists "METHOD path" for every operation reachable from an
// endpoint, with the media types of its request and response payloads.
func operations(t *testing.T, g *graph.Graph) map[string][]string {
	t.Helper()
	out := make(map[string][]string)
	for _, ep := range g.NodesByType(vocab.TypeEndPoint) {
		for _, opID := range ep.Refs(vocab.PropOperation) {
			op := g.GetNode(opID)
			require.NotNil(t, op, opID)
			key := strings.ToUpper(op.Str(vocab.PropMethod)) + " " + ep.Str(vocab.PropPath)
			out[key] = []string{}
			for _, prop := range []string{vocab.PropExpects, vocab.PropReturns} {
				for _, id := range op.Refs(prop) {
					for _, plID := range g.GetNode(id).Refs(vocab.PropPayload) {
						pl := g.GetNode(plID)
						require.NotNil(t, pl, plID)
						schema := pl.Refs(vocab.PropSchema)
						require.Len(t, schema, 1, plID)
						assert.False(t, g.GetNode(schema[0]).HasType(vocab.TypeLinkable), "schema of %s is inlined", plID)
						out[key] = append(out[key], pl.Str(vocab.PropMediaType))
					}
				}
			}
		}
	}
	return out
}

func TestRun_LegacyDialects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		source   string
		document string
		dialect  string
		profile  string
		want     map[string][]string
	}{
		{
			name:     "OAS20",
			source:   "file:///api/pets.yaml",
			document: petsOAS20,
			dialect:  "OAS 2.0",
			profile:  "OAS",
			want: map[string][]string{
				"GET /pets":   {"application/json"},
				"POST /pets":  {"application/json"},
				"PUT /photos": {},
			},
		},
		{
			name:     "RAML08",
			source:   "file:///api/pets.raml",
			document: petsRAML08,
			dialect:  "RAML 0.8",
			profile:  "RAML08",
			want: map[string][]string{
				"GET /pets":  {"application/json"},
				"POST /pets": {"application/x-www-form-urlencoded"},
			},
		},
	}
	for _, tt := range tests {
		for _, mode := range []resolution.Mode{resolution.ModeEditing, resolution.ModeCompatibility} {
			t.Run(tt.name+"/"+string(mode), func(t *testing.T) {
				t.Parallel()
				f := newFixture(t)
				f.fetcher.docs[tt.source] = tt.document
				cfg := f.config(tt.source)
				cfg.Dialect = tt.dialect
				cfg.Mode = string(mode)
				cfg.ViolationPolicy = string(PolicyFail)

				res, err := f.runner.Run(context.Background(), cfg)
				require.NoError(t, err)
				assert.Equal(t, tt.profile, string(res.Report.Profile))
				assert.True(t, res.Report.Conforms, res.Report.String())
				assert.Equal(t, tt.want, operations(t, res.Model))
				assert.FileExists(t, cfg.Output)
			})
		}
	}
}

func TestRun_GeneralAvailability(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cfg := f.config("file:///api/ping.yaml")
	cfg.NoWrite = true

	full, err := f.runner.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Zero(t, full.Stripped)
	assert.Contains(t, full.Document.Text, "x-internal")
	assert.Empty(t, full.Output)
	assert.NoFileExists(t, cfg.Output)

	cfg.GeneralAvailability = true
	ga, err := f.runner.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, ga.Stripped)
	assert.NotContains(t, ga.Document.Text, "x-internal")
	assert.Contains(t, ga.Document.Text, "x-team")
	assert.Empty(t, ga.Model.DanglingReferences())
}

func TestRun_Progress(t *testing.T) {
	t.Parallel()

	var phases []string
	f := newFixture(t, WithProgress(func(phase string, progress float64) {
		if progress == 1.0 {
			phases = append(phases, phase)
		}
	}))
	_, err := f.runner.Run(context.Background(), f.config("file:///api/ping.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{PhaseParse, PhaseValidate, PhaseResolve, PhaseSerialize, PhaseWrite}, phases)
}

func TestRun_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	f := newFixture(t, WithRegistry(reg))
	_, err := f.runner.Run(context.Background(), f.config("file:///api/ping.yaml"))
	require.NoError(t, err)
	_, err = f.runner.Run(context.Background(), f.config("file:///api/broken.yaml"))
	require.Error(t, err)
	_, err = f.runner.Run(context.Background(), f.config(""))
	require.Error(t, err)

	m := f.runner.metrics
	assert.InDelta(t, 1, testutil.ToFloat64(m.runs.WithLabelValues("OAS 3.0", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.runs.WithLabelValues("OAS 3.0", apierr.StageParse)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.runs.WithLabelValues("OAS 3.0", apierr.StageConfig)), 0)

	// A second runner on the same registry shares the collectors.
	other := NewRunner(nil, WithFetcher(f.fetcher), WithRegistry(reg))
	_, err = other.Run(context.Background(), f.config("file:///api/ping.yaml"))
	require.NoError(t, err)
	assert.InDelta(t, 2, testutil.ToFloat64(m.runs.WithLabelValues("OAS 3.0", "ok")), 0)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	base := DefaultConfig()
	base.Source = "api.yaml"
	base.Dialect = "RAML 1.0"
	require.NoError(t, base.Validate())

	tests := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{"missing source", func(c *Config) { c.Source = "" }, "source"},
		{"missing dialect", func(c *Config) { c.Dialect = "" }, "dialect"},
		{"unknown dialect", func(c *Config) { c.Dialect = "GraphQL" }, "dialect"},
		{"unknown mode", func(c *Config) { c.Mode = "lenient" }, "mode"},
		{"unknown policy", func(c *Config) { c.ViolationPolicy = "ignore" }, "violationPolicy"},
		{"negative depth", func(c *Config) { c.InlineDepth = -1 }, "inlineDepth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.edit(&cfg)
			err := cfg.Validate()
			var cerr *apierr.ConfigurationError
			require.True(t, errors.As(err, &cerr), "got %v", err)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}

	s, err := Config{Source: "a.yaml", Dialect: "OAS 2.0"}.settings()
	require.NoError(t, err)
	assert.Equal(t, DefaultOutput, s.Output)
	assert.Equal(t, PolicyContinue, s.policy)
	assert.True(t, strings.HasSuffix(s.Output, "api-model.json"))
}
