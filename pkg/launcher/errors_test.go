package launcher

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaunchError_Error(t *testing.T) {
	err := NewError(StageFS, "s1", "cannot open log file").
		WithContext("path", "/tmp/x").
		WithContext("attempt", 2).
		WithCause(os.ErrPermission).
		WithSuggestion("fix it")

	msg := err.Error()
	assert.Equal(t, "[fs] node s1: cannot open log file; Context: attempt=2, path=/tmp/x; Cause: permission denied; Suggestion: fix it", msg)
}

func TestLaunchError_WithoutNode(t *testing.T) {
	err := NewError(StageExec, "", "boom")
	assert.Equal(t, "[exec] boom", err.Error())
}

func TestLaunchError_Unwrap(t *testing.T) {
	err := ErrLogFile("s1", "/nope/log", os.ErrNotExist)

	assert.True(t, errors.Is(err, os.ErrNotExist))

	wrapped := fmt.Errorf("launch: %w", err)
	assert.True(t, IsStage(wrapped, StageFS))
	assert.False(t, IsStage(wrapped, StageExec))
	assert.Equal(t, StageFS, StageOf(wrapped))
	assert.Equal(t, Stage(""), StageOf(errors.New("plain")))
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name  string
		err   *LaunchError
		stage Stage
	}{
		{"executable", ErrExecutableNotFound("s1", "simple_switch_grpc", errors.New("not found")), StageExec},
		{"start", ErrStartFailed("s1", []string{"a", "b"}, errors.New("fork")), StageExec},
		{"workdir", ErrWorkDir("onos1", "/x", errors.New("ro")), StageFS},
		{"write", ErrWriteFile("s1", "/x/chassis", errors.New("ro")), StageFS},
		{"missing port", ErrMissingPort("s1", "grpc"), StagePort},
		{"busy port", ErrPortBusy("s1", "grpc", 50001, errors.New("in use")), StagePort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotNil(t, tt.err)
			assert.Equal(t, tt.stage, tt.err.Stage)
			assert.NotEmpty(t, tt.err.Node)
			assert.Contains(t, tt.err.Error(), "["+string(tt.stage)+"]")
		})
	}
}
