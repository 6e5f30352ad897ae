package errors

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForCLI(t *testing.T) {
	fe := New(ErrCodeFileNotFound, "file not found: a.go", nil).
		WithSuggestion("Check the path and re-run.")
	out := FormatForCLI(fe)

	assert.Contains(t, out, "Error: file not found: a.go")
	assert.Contains(t, out, "Hint: Check the path and re-run.")
	assert.Contains(t, out, ErrCodeFileNotFound)
}

func TestFormatForCLI_WrapsPlainErrors(t *testing.T) {
	out := FormatForCLI(errors.New("boom"))
	assert.Contains(t, out, "Error: boom")
	assert.Contains(t, out, ErrCodeInternal)
}

func TestFormatForCLI_FindsWrappedFinderError(t *testing.T) {
	inner := New(ErrCodeQueryEmpty, "query is empty", nil)
	wrapped := errorsJoin("context: ", inner)
	out := FormatForCLI(wrapped)
	assert.Contains(t, out, ErrCodeQueryEmpty)
}

// errorsJoin wraps err in a minimal error type whose Unwrap returns it.
func errorsJoin(prefix string, err error) error {
	return &wrapper{prefix: prefix, err: err}
}

type wrapper struct {
	prefix string
	err    error
}

func (w *wrapper) Error() string { return w.prefix + w.err.Error() }
func (w *wrapper) Unwrap() error { return w.err }

func TestFormatForCLI_Nil(t *testing.T) {
	assert.Empty(t, FormatForCLI(nil))
}

func TestFormatForLog(t *testing.T) {
	cause := errors.New("connection refused")
	fe := New(ErrCodeNetworkTimeout, "embed timed out", cause).
		WithDetail("model", "nomic-embed-text")
	attrs := FormatForLog(fe)

	require.NotNil(t, attrs)
	assert.Equal(t, ErrCodeNetworkTimeout, attrs["error_code"])
	assert.Equal(t, "connection refused", attrs["cause"])
	assert.Equal(t, true, attrs["retryable"])
	assert.Equal(t, "nomic-embed-text", attrs["detail_model"])
}

func TestFormatForLog_PlainError(t *testing.T) {
	attrs := FormatForLog(errors.New("x"))
	require.Len(t, attrs, 1)
	assert.True(t, strings.Contains(attrs["error"].(string), "x"))
}

func TestFormatForLog_Nil(t *testing.T) {
	assert.Nil(t, FormatForLog(nil))
}
