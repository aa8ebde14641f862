// Package vocab defines the IRIs used by the API graph.
//
// Terms follow the AML vocabularies used by API documentation tooling so that
// generated models stay compatible with existing consumers. Every type and
// property IRI is built from one of the namespace constants below; the
// default prefix map used for compact URIs is derived from the same table.
package vocab

import (
	"sort"
	"strings"
)

// Namespace IRIs.
const (
	Document    = "http://a.ml/vocabularies/document#"
	APIContract = "http://a.ml/vocabularies/apiContract#"
	Core        = "http://a.ml/vocabularies/core#"
	Shacl       = "http://www.w3.org/ns/shacl#"
	Shapes      = "http://a.ml/vocabularies/shapes#"
	Security    = "http://a.ml/vocabularies/security#"
	Data        = "http://a.ml/vocabularies/data#"
	XSD         = "http://www.w3.org/2001/XMLSchema#"
	RDF         = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
)

// Node type IRIs.
const (
	TypeDocument            = Document + "Document"
	TypeDomainElement       = Document + "DomainElement"
	TypeAbstractDecl        = Document + "AbstractDeclaration"
	TypeLinkable            = Document + "Linkable"
	TypeVariableValue       = Document + "VariableValue"
	TypeDomainExtension     = APIContract + "DomainExtension"
	TypeWebAPI              = APIContract + "WebAPI"
	TypeAsyncAPI            = APIContract + "AsyncAPI"
	TypeAPI                 = APIContract + "API"
	TypeServer              = APIContract + "Server"
	TypeEndPoint            = APIContract + "EndPoint"
	TypeOperation           = APIContract + "Operation"
	TypeRequest             = APIContract + "Request"
	TypeResponse            = APIContract + "Response"
	TypePayload             = APIContract + "Payload"
	TypeParameter           = APIContract + "Parameter"
	TypeMessage             = APIContract + "Message"
	TypeTag                 = APIContract + "Tag"
	TypeTrait               = APIContract + "Trait"
	TypeResourceType        = APIContract + "ResourceType"
	TypeParametrizedTrait   = APIContract + "ParametrizedTrait"
	TypeParametrizedRType   = APIContract + "ParametrizedResourceType"
	TypeTraited             = APIContract + "Traited"
	TypeShape               = Shapes + "Shape"
	TypeAnyShape            = Shapes + "AnyShape"
	TypeScalarShape         = Shapes + "ScalarShape"
	TypeArrayShape          = Shapes + "ArrayShape"
	TypeUnionShape          = Shapes + "UnionShape"
	TypeFileShape           = Shapes + "FileShape"
	TypeNilShape            = Shapes + "NilShape"
	TypeSchemaShape         = Shapes + "SchemaShape"
	TypeRecursiveShape      = Shapes + "RecursiveShape"
	TypeNodeShape           = Shacl + "NodeShape"
	TypePropertyShape       = Shacl + "PropertyShape"
	TypeSecurityScheme      = Security + "SecurityScheme"
	TypeSecurityRequirement = Security + "SecurityRequirement"
	TypeParametrizedScheme  = Security + "ParametrizedSecurityScheme"
)

// Property IRIs.
const (
	PropName             = Core + "name"
	PropDisplayName      = Core + "displayName"
	PropDescription      = Core + "description"
	PropSummary          = Core + "summary"
	PropVersion          = Core + "version"
	PropMediaType        = Core + "mediaType"
	PropURLTemplate      = Core + "urlTemplate"
	PropValue            = Core + "value"
	PropDeclares         = Document + "declares"
	PropExtends          = Document + "extends"
	PropTarget           = Document + "target"
	PropVariable         = Document + "variable"
	PropLinkTarget       = Document + "link-target"
	PropLinkLabel        = Document + "link-label"
	PropResolvedLink     = Document + "resolved-link-target"
	PropOptional         = Document + "optional"
	PropReferences       = Document + "references"
	PropCustomProperties = Document + "customDomainProperties"
	PropServer           = APIContract + "server"
	PropEndpoint         = APIContract + "endpoint"
	PropPath             = APIContract + "path"
	PropOperation        = APIContract + "supportedOperation"
	PropMethod           = APIContract + "method"
	PropOperationID      = APIContract + "operationId"
	PropExpects          = APIContract + "expects"
	PropReturns          = APIContract + "returns"
	PropStatusCode       = APIContract + "statusCode"
	PropPayload          = APIContract + "payload"
	PropParameter        = APIContract + "parameter"
	PropURIParameter     = APIContract + "uriParameter"
	PropHeader           = APIContract + "header"
	PropParamName        = APIContract + "paramName"
	PropBinding          = APIContract + "binding"
	PropRequired         = APIContract + "required"
	PropDeprecated       = Core + "deprecated"
	PropProtocol         = APIContract + "protocol"
	PropScheme           = APIContract + "scheme"
	PropAccepts          = APIContract + "accepts"
	PropContentType      = APIContract + "contentType"
	PropTag              = APIContract + "tag"
	PropMessage          = APIContract + "message"
	PropSchema           = Shapes + "schema"
	PropRange            = Shapes + "range"
	PropItems            = Shapes + "items"
	PropAnyOf            = Shapes + "anyOf"
	PropFixPoint         = Shapes + "fixPoint"
	PropFormat           = Shapes + "format"
	PropRawSchema        = Shapes + "raw"
	PropInherits         = Shapes + "inherits"
	PropExample          = APIContract + "example"
	PropDefault          = Shacl + "defaultValueStr"
	PropProperty         = Shacl + "property"
	PropShaclPath        = Shacl + "path"
	PropShaclName        = Shacl + "name"
	PropDatatype         = Shacl + "datatype"
	PropMinCount         = Shacl + "minCount"
	PropMinLength        = Shacl + "minLength"
	PropMaxLength        = Shacl + "maxLength"
	PropMinInclusive     = Shacl + "minInclusive"
	PropMaxInclusive     = Shacl + "maxInclusive"
	PropPattern          = Shacl + "pattern"
	PropIn               = Shacl + "in"
	PropClosed           = Shacl + "closed"
	PropAnd              = Shacl + "and"
	PropOr               = Shacl + "or"
	PropXone             = Shacl + "xone"
	PropSecurity         = Security + "security"
	PropSchemes          = Security + "schemes"
	PropSecurityScheme   = Security + "scheme"
	PropSecurityType     = Security + "type"
	PropScopes           = Security + "scopes"
	PropSettings         = Security + "settings"
)

// prefixes maps the short names declared in compact output to namespaces.
var prefixes = map[string]string{
	"doc":         Document,
	"apiContract": APIContract,
	"core":        Core,
	"shacl":       Shacl,
	"shapes":      Shapes,
	"security":    Security,
	"data":        Data,
	"xsd":         XSD,
	"rdf":         RDF,
}

// Prefixes returns a copy of the vocabulary prefix map.
func Prefixes() map[string]string {
	out := make(map[string]string, len(prefixes))
	for k, v := range prefixes {
		out[k] = v
	}
	return out
}

// PrefixMap is a reversible prefix → namespace table.
type PrefixMap map[string]string

// Compact rewrites iri as prefix:suffix using the longest matching namespace.
// IRIs without a matching namespace are returned unchanged.
func (m PrefixMap) Compact(iri string) string {
	best, bestNS := "", ""
	for _, prefix := range m.Names() {
		ns := m[prefix]
		if strings.HasPrefix(iri, ns) && len(ns) > len(bestNS) {
			best, bestNS = prefix, ns
		}
	}
	if bestNS == "" {
		return iri
	}
	suffix := iri[len(bestNS):]
	// "p://x" would read back as an absolute IRI.
	if strings.HasPrefix(suffix, "//") {
		return iri
	}
	return best + ":" + suffix
}

// Expand reverses Compact. Values whose prefix is not declared are returned unchanged.
func (m PrefixMap) Expand(value string) string {
	prefix, suffix, ok := strings.Cut(value, ":")
	if !ok || strings.HasPrefix(suffix, "//") {
		return value
	}
	if ns, found := m[prefix]; found {
		return ns + suffix
	}
	return value
}

// Names returns the declared prefixes in sorted order.
func (m PrefixMap) Names() []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// XSD datatypes for scalar shapes.
const (
	XSDString   = XSD + "string"
	XSDInteger  = XSD + "integer"
	XSDLong     = XSD + "long"
	XSDFloat    = XSD + "float"
	XSDDouble   = XSD + "double"
	XSDBoolean  = XSD + "boolean"
	XSDDate     = XSD + "date"
	XSDDateTime = XSD + "dateTime"
	XSDTime     = XSD + "time"
	XSDAnyURI   = XSD + "anyURI"
	XSDBase64   = XSD + "base64Binary"
	XSDNumber   = Shapes + "number"
	XSDNil      = XSD + "nil"
)
