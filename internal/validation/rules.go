package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Benny93/apigraph-go/internal/graph"
	"github.com/Benny93/apigraph-go/internal/vocab"
)

func schemaRule(id, target string, sev Severity, msg, schema string) *Rule {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("validation: rule %s: %v", id, err))
	}
	return &Rule{ID: id, Target: target, Severity: sev, Message: msg, schema: s}
}

func checkRule(id, target string, sev Severity, msg string, fn func(*scope, *graph.DocumentNode) []string) *Rule {
	return &Rule{ID: id, Target: target, Severity: sev, Message: msg, check: fn}
}

const (
	requireTitle = `{
		"required": ["core:name"],
		"properties": {"core:name": {"type": "string", "minLength": 1}}
	}`
	requireVersion = `{
		"required": ["core:version"],
		"properties": {"core:version": {"type": ["string", "number"]}}
	}`
	leadingSlash = `{
		"properties": {"apiContract:path": {"type": "string", "pattern": "^/"}}
	}`
)

var profiles = map[Profile][]*Rule{
	ProfileOAS:    append(oasRules(), sharedRules()...),
	ProfileRAML:   append(ramlRules("raml", ramlMethods10), sharedRules()...),
	ProfileRAML08: append(ramlRules("raml08", ramlMethods08), sharedRules()...),
	ProfileASYNC:  append(asyncRules(), sharedRules()...),
}

func oasRules() []*Rule {
	return []*Rule{
		schemaRule("oas-info-title-required", vocab.TypeWebAPI, Violation,
			"info.title is required", requireTitle),
		schemaRule("oas-info-version-required", vocab.TypeWebAPI, Violation,
			"info.version is required", requireVersion),
		schemaRule("oas-path-leading-slash", vocab.TypeEndPoint, Violation,
			"path must begin with a slash", leadingSlash),
		schemaRule("oas-operation-responses-required", vocab.TypeOperation, Violation,
			"operation must declare at least one response", `{
				"required": ["apiContract:returns"],
				"properties": {"apiContract:returns": {"type": ["array", "string"], "minItems": 1}}
			}`),
		schemaRule("oas-status-code-format", vocab.TypeResponse, Violation,
			"status code must be a three digit code, a range such as 2XX, or default", `{
				"properties": {"apiContract:statusCode": {"type": "string", "pattern": "^([1-5][0-9][0-9]|[1-5]XX|default)$"}}
			}`),
		checkRule("oas-operation-id-unique", vocab.TypeOperation, Violation,
			"operationId must be unique", uniqueOperationID),
		schemaRule("oas-parameter-binding", vocab.TypeParameter, Violation,
			"parameter location must be query, header, path, cookie, body or formData", `{
				"required": ["apiContract:binding"],
				"properties": {"apiContract:binding": {"enum": ["query", "header", "path", "cookie", "body", "formData"]}}
			}`),
		schemaRule("oas-path-parameter-required", vocab.TypeParameter, Violation,
			"path parameters must be required", `{
				"if": {
					"required": ["apiContract:binding"],
					"properties": {"apiContract:binding": {"const": "path"}}
				},
				"then": {
					"required": ["apiContract:required"],
					"properties": {"apiContract:required": {"const": true}}
				}
			}`),
		schemaRule("oas-server-defined", vocab.TypeWebAPI, Warning,
			"no server is declared", `{"required": ["apiContract:server"]}`),
	}
}

var (
	ramlMethods10 = []string{"get", "patch", "put", "post", "delete", "head", "options"}
	ramlMethods08 = []string{"get", "patch", "put", "post", "delete", "head", "options", "trace", "connect"}
)

func ramlRules(prefix string, methods []string) []*Rule {
	quoted := make([]string, len(methods))
	for i, m := range methods {
		quoted[i] = `"` + m + `"`
	}
	return []*Rule{
		schemaRule(prefix+"-title-required", vocab.TypeWebAPI, Violation,
			"title is required", requireTitle),
		schemaRule(prefix+"-resource-path", vocab.TypeEndPoint, Violation,
			"resource path must begin with a slash", leadingSlash),
		schemaRule(prefix+"-method-enum", vocab.TypeOperation, Violation,
			"method must be one of "+strings.Join(methods, ", "), `{
				"required": ["apiContract:method"],
				"properties": {"apiContract:method": {"enum": [`+strings.Join(quoted, ", ")+`]}}
			}`),
		schemaRule(prefix+"-status-code", vocab.TypeResponse, Violation,
			"response code must be a three digit number", `{
				"properties": {"apiContract:statusCode": {"type": "string", "pattern": "^[1-5][0-9][0-9]$"}}
			}`),
		schemaRule(prefix+"-media-type", vocab.TypePayload, Violation,
			"media type must have the form type/subtype", `{
				"properties": {"core:mediaType": {"type": "string", "pattern": "^[A-Za-z0-9!#$&^_.+-]+/[A-Za-z0-9!#$&^_.+*-]+( *;.*)?$"}}
			}`),
		schemaRule(prefix+"-version-type", vocab.TypeWebAPI, Warning,
			"version should be a string", `{
				"properties": {"core:version": {"type": "string"}}
			}`),
	}
}

func asyncRules() []*Rule {
	return []*Rule{
		schemaRule("async-title-required", vocab.TypeAsyncAPI, Violation,
			"info.title is required", requireTitle),
		schemaRule("async-version-required", vocab.TypeAsyncAPI, Violation,
			"info.version is required", requireVersion),
		schemaRule("async-channel-name", vocab.TypeEndPoint, Violation,
			"channel name must not be empty", `{
				"required": ["apiContract:path"],
				"properties": {"apiContract:path": {"type": "string", "minLength": 1}}
			}`),
		schemaRule("async-operation-method", vocab.TypeOperation, Violation,
			"operation must be publish or subscribe", `{
				"required": ["apiContract:method"],
				"properties": {"apiContract:method": {"enum": ["publish", "subscribe"]}}
			}`),
	}
}

func sharedRules() []*Rule {
	return []*Rule{
		checkRule("node-types-required", "", Violation,
			"node has no type", func(_ *scope, n *graph.DocumentNode) []string {
				if len(n.Types) == 0 {
					return []string{"node has no type"}
				}
				return nil
			}),
		checkRule("dangling-reference", "", Warning,
			"reference does not resolve", danglingReferences),
		schemaRule("property-shape-range", vocab.TypePropertyShape, Violation,
			"property shape must have a range", `{"required": ["shapes:range"]}`),
		checkRule("shape-min-max", vocab.TypeShape, Violation,
			"minimum facet exceeds maximum", minMax),
		schemaRule("api-description", vocab.TypeAPI, Info,
			"API has no description", `{"required": ["core:description"]}`),
	}
}

func uniqueOperationID(sc *scope, n *graph.DocumentNode) []string {
	id := n.Str(vocab.PropOperationID)
	if id == "" || sc.operationIDs[id] < 2 {
		return nil
	}
	return []string{fmt.Sprintf("operationId %q is used by %d operations", id, sc.operationIDs[id])}
}

func danglingReferences(sc *scope, n *graph.DocumentNode) []string {
	var out []string
	for _, d := range sc.dangling[n.ID] {
		out = append(out, fmt.Sprintf("%s references missing %s", compact.Compact(d.Property), d.Target))
	}
	return out
}

var facetBounds = [][2]string{
	{vocab.PropMinLength, vocab.PropMaxLength},
	{vocab.PropMinInclusive, vocab.PropMaxInclusive},
}

func minMax(_ *scope, n *graph.DocumentNode) []string {
	var out []string
	for _, pair := range facetBounds {
		lo, okLo := number(n, pair[0])
		hi, okHi := number(n, pair[1])
		if okLo && okHi && lo > hi {
			out = append(out, fmt.Sprintf("%s %v exceeds %s %v",
				compact.Compact(pair[0]), lo, compact.Compact(pair[1]), hi))
		}
	}
	return out
}

func number(n *graph.DocumentNode, prop string) (float64, bool) {
	v, ok := n.Get(prop)
	if !ok || v.Kind != graph.KindScalar {
		return 0, false
	}
	switch x := v.Scalar.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case int:
		return float64(x), true
	}
	return 0, false
}
