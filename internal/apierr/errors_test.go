package apierr

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrors_IsAndStage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		sentinel error
		stage    string
		exit     int
	}{
		{"Configuration", &ConfigurationError{Field: "source", Msg: "required"}, ErrConfiguration, StageConfig, 2},
		{"Parse", &ParseError{Location: "file:///a.yaml", Line: 2, Column: 1, Msg: "bad"}, ErrParse, StageParse, 1},
		{"Cycle", &CyclicReferenceError{Chain: []string{"a", "b", "a"}}, ErrCyclicReference, StageParse, 1},
		{"Unresolved", &UnresolvedReferenceError{NodeID: "n", Target: "t"}, ErrUnresolvedReference, StageResolve, 1},
		{"Serialization", &SerializationError{Path: "/out.json", Err: fs.ErrPermission}, ErrSerialization, StageSerialize, 1},
		{"ValidationFailed", &ValidationFailedError{Profile: "OAS", Violations: 2}, ErrValidationFailed, StageValidate, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			wrapped := fmt.Errorf("running pipeline: %w", tt.err)
			assert.True(t, errors.Is(wrapped, tt.sentinel))
			assert.Equal(t, tt.stage, Stage(wrapped))
			assert.Equal(t, tt.exit, ExitCode(wrapped))
		})
	}
}

func TestParseError_Message(t *testing.T) {
	t.Parallel()

	err := &ParseError{Location: "file:///api.raml", Line: 4, Column: 3, Msg: "unexpected key", Err: fs.ErrNotExist}

	assert.Equal(t, "parse error: file:///api.raml:4:3: unexpected key: file does not exist", err.Error())
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.ErrorIs(t, err, ErrParse)
}

func TestCyclicReferenceError_Message(t *testing.T) {
	t.Parallel()

	err := &CyclicReferenceError{Chain: []string{"a.raml", "b.raml", "a.raml"}}

	assert.Equal(t, "cyclic reference: a.raml -> b.raml -> a.raml", err.Error())
}

func TestExitCode_Nil(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, "", Stage(nil))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
}
