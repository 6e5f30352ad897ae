package errors

import (
	"errors"
	"fmt"
	"strings"
)

// FormatForCLI renders an error for terminal output: message first,
// then the actionable hint, then the code for bug reports. Non-Finder
// errors are wrapped so every CLI failure prints the same shape.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	var fe *FinderError
	if !errors.As(err, &fe) {
		fe = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", fe.Message)
	if fe.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", fe.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", fe.Code)
	return sb.String()
}

// FormatForLog flattens an error into slog-friendly key-value pairs.
// Details are prefixed so they never collide with the fixed keys.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}
	var fe *FinderError
	if !errors.As(err, &fe) {
		return map[string]any{"error": err.Error()}
	}

	out := map[string]any{
		"error_code": fe.Code,
		"message":    fe.Message,
		"category":   string(fe.Category),
		"severity":   string(fe.Severity),
		"retryable":  fe.Retryable,
	}
	if fe.Cause != nil {
		out["cause"] = fe.Cause.Error()
	}
	if fe.Suggestion != "" {
		out["suggestion"] = fe.Suggestion
	}
	for k, v := range fe.Details {
		out["detail_"+k] = v
	}
	return out
}
