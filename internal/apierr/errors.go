// Package apierr defines the fatal error kinds of a pipeline run.
//
// Every typed error unwraps to a sentinel so callers can branch with
// errors.Is, and carries the stage and the offending location or node id so
// the message alone is enough to diagnose a failed run.
package apierr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for programmatic error checking via errors.Is().
var (
	ErrConfiguration       = errors.New("configuration error")
	ErrParse               = errors.New("parse error")
	ErrCyclicReference     = errors.New("cyclic reference")
	ErrUnresolvedReference = errors.New("unresolved reference")
	ErrSerialization       = errors.New("serialization error")
	ErrValidationFailed    = errors.New("validation failed")
)

// Pipeline stage names.
const (
	StageConfig    = "config"
	StageParse     = "parse"
	StageValidate  = "validate"
	StageResolve   = "resolve"
	StageSerialize = "serialize"
)

// ConfigurationError is a missing or invalid invocation parameter.
type ConfigurationError struct {
	Field string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrConfiguration, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", ErrConfiguration, e.Field, e.Msg)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// ParseError is malformed syntax, an unreachable source, an unsupported
// include or a conflicting node produced while merging fragments.
type ParseError struct {
	Location string // URI of the offending document
	Line     int    // 1-based, 0 when unknown
	Column   int
	Msg      string
	Err      error // Optional underlying error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString(ErrParse.Error())
	if e.Location != "" {
		b.WriteString(": ")
		b.WriteString(e.Location)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrParse}
	}
	return []error{ErrParse, e.Err}
}

// CyclicReferenceError is a file-level inclusion cycle. Chain lists the
// documents from the first include back to the repeated one.
type CyclicReferenceError struct {
	Chain []string
}

func (e *CyclicReferenceError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCyclicReference, strings.Join(e.Chain, " -> "))
}

func (e *CyclicReferenceError) Unwrap() error { return ErrCyclicReference }

// UnresolvedReferenceError is a reference to a declaration that does not
// exist in the graph.
type UnresolvedReferenceError struct {
	NodeID string // node holding the reference
	Target string // missing declaration id
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("%s: %s references missing %s", ErrUnresolvedReference, e.NodeID, e.Target)
}

func (e *UnresolvedReferenceError) Unwrap() error { return ErrUnresolvedReference }

// SerializationError is a failure to render or write the output document.
type SerializationError struct {
	Path string
	Err  error
}

func (e *SerializationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", ErrSerialization, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrSerialization, e.Path, e.Err)
}

func (e *SerializationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSerialization}
	}
	return []error{ErrSerialization, e.Err}
}

// ValidationFailedError reports a model with violations under the fail
// violation policy, and from the validate command.
type ValidationFailedError struct {
	Profile    string
	Violations int
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("%s: %d violation(s) against profile %s", ErrValidationFailed, e.Violations, e.Profile)
}

func (e *ValidationFailedError) Unwrap() error { return ErrValidationFailed }

// Stage returns the pipeline stage an error belongs to, or "" when err is
// not one of the kinds above.
func Stage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return StageConfig
	case errors.Is(err, ErrParse), errors.Is(err, ErrCyclicReference):
		return StageParse
	case errors.Is(err, ErrValidationFailed):
		return StageValidate
	case errors.Is(err, ErrUnresolvedReference):
		return StageResolve
	case errors.Is(err, ErrSerialization):
		return StageSerialize
	default:
		return ""
	}
}

// ExitCode maps an error to a process exit status: 0 for nil, 2 for
// configuration errors, 1 otherwise.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrConfiguration):
		return 2
	default:
		return 1
	}
}
