package pipeline

import (
	"fmt"

	"github.com/Benny93/apigraph-go/internal/apierr"
	"github.com/Benny93/apigraph-go/internal/parsers"
	"github.com/Benny93/apigraph-go/internal/resolution"
)

// DefaultOutput is where the model is written when no output is given.
const DefaultOutput = "./api-model.json"

// ViolationPolicy decides what a non-conforming validation report does to
// a run.
type ViolationPolicy string

const (
	// PolicyContinue logs violations and carries on.
	PolicyContinue ViolationPolicy = "continue"
	// PolicyFail aborts the run with a ValidationFailedError.
	PolicyFail ViolationPolicy = "fail"
)

// Config holds the parameters of one run.
type Config struct {
	Source  string `json:"source"`
	Dialect string `json:"dialect"`
	Output  string `json:"output,omitempty"`

	// GeneralAvailability strips internal and experimental annotations
	// from the output.
	GeneralAvailability bool `json:"generalAvailability,omitempty"`

	Mode            string `json:"mode,omitempty"`
	ViolationPolicy string `json:"violationPolicy,omitempty"`
	CompactURIs     bool   `json:"compactUris"`
	SourceMaps      bool   `json:"sourceMaps"`
	InlineDepth     int    `json:"inlineDepth,omitempty"`
	AllowPartial    bool   `json:"allowPartial,omitempty"`

	// NoWrite skips the output file; the rendered document is still
	// returned in the Result.
	NoWrite bool `json:"-"`
}

// DefaultConfig returns a Config with the command line defaults and no
// source.
func DefaultConfig() Config {
	return Config{
		Output:          DefaultOutput,
		Mode:            string(resolution.ModeEditing),
		ViolationPolicy: string(PolicyContinue),
		CompactURIs:     true,
		SourceMaps:      true,
	}
}

// settings is a validated Config.
type settings struct {
	Config
	dialect parsers.Dialect
	mode    resolution.Mode
	policy  ViolationPolicy
}

// Validate reports the first invalid parameter as a ConfigurationError.
func (c Config) Validate() error {
	_, err := c.settings()
	return err
}

func (c Config) settings() (*settings, error) {
	if c.Source == "" {
		return nil, &apierr.ConfigurationError{Field: "source", Msg: "is required"}
	}
	if c.Dialect == "" {
		return nil, &apierr.ConfigurationError{Field: "dialect", Msg: "is required"}
	}
	dialect, err := parsers.ParseDialect(c.Dialect)
	if err != nil {
		return nil, err
	}

	s := &settings{Config: c, dialect: dialect, mode: resolution.ModeEditing, policy: PolicyContinue}
	if c.Mode != "" {
		if s.mode, err = resolution.ParseMode(c.Mode); err != nil {
			return nil, err
		}
	}
	switch ViolationPolicy(c.ViolationPolicy) {
	case "":
	case PolicyContinue, PolicyFail:
		s.policy = ViolationPolicy(c.ViolationPolicy)
	default:
		return nil, &apierr.ConfigurationError{
			Field: "violationPolicy",
			Msg:   fmt.Sprintf("unsupported policy %q (want %s or %s)", c.ViolationPolicy, PolicyContinue, PolicyFail),
		}
	}
	if c.InlineDepth < 0 {
		return nil, &apierr.ConfigurationError{Field: "inlineDepth", Msg: "must not be negative"}
	}
	if s.Output == "" {
		s.Output = DefaultOutput
	}
	return s, nil
}
