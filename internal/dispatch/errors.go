package dispatch

import (
	"context"
	"errors"
	"fmt"

	ferrors "github.com/AmirTlinov/context-finder-mcp/internal/errors"
	"github.com/AmirTlinov/context-finder-mcp/internal/pack"
	"github.com/AmirTlinov/context-finder-mcp/internal/search"
)

// Public error taxonomy. Internal error codes never leak; dispatch
// maps everything onto these.
const (
	CodeInvalidRequest  = "invalid_request"
	CodeInvalidCursor   = "invalid_cursor"
	CodeMissingField    = "missing_field"
	CodeIndexMissing    = "index_missing"
	CodeIndexCorrupt    = "index_corrupt"
	CodeFilesystemError = "filesystem_error"
	CodeUnauthorized    = "unauthorized"
	CodeConfigError     = "config_error"
	CodeInternal        = "internal"
)

// ToolError is the structured error payload carried by error
// responses.
type ToolError struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	Hint        string            `json:"hint,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
	NextActions []pack.NextAction `json:"next_actions,omitempty"`
	Meta        ToolMeta          `json:"meta,omitempty"`
	Timeout     bool              `json:"timeout,omitempty"`
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewToolError creates a taxonomy error with its canonical recovery
// hint attached.
func NewToolError(code, message string) *ToolError {
	te := &ToolError{Code: code, Message: message}
	te.Hint, te.NextActions = recoveryFor(code, "")
	return te
}

// WithDetail attaches a machine-readable detail.
func (e *ToolError) WithDetail(key, value string) *ToolError {
	if e.Details == nil {
		e.Details = map[string]string{}
	}
	e.Details[key] = value
	return e
}

// recoveryFor returns the canonical hint and next actions per code.
func recoveryFor(code, root string) (string, []pack.NextAction) {
	switch code {
	case CodeIndexMissing:
		return "No index exists for this project root yet.",
			[]pack.NextAction{{Tool: ToolIndex, Args: map[string]any{"path": root}, Reason: "build the index, then retry"}}
	case CodeIndexCorrupt:
		return "The on-disk index failed to load; rebuilding replaces it.",
			[]pack.NextAction{{Tool: ToolIndex, Args: map[string]any{"path": root, "force": true}, Reason: "rebuild the index from scratch"}}
	case CodeInvalidCursor:
		return "The cursor does not belong to this tool/root; drop it and start over.",
			[]pack.NextAction{{Tool: "", Reason: "repeat the original call without a cursor"}}
	case CodeMissingField:
		return "A required argument is missing; see details for the field name.", nil
	case CodeFilesystemError:
		return "A file read failed; the path may have changed since indexing.", nil
	case CodeInternal:
		return "Unexpected failure; retrying once is safe.", nil
	default:
		return "", nil
	}
}

// MapError converts any internal error into a public ToolError.
// Internal codes and wrapped causes never reach the caller verbatim.
func MapError(err error, root string) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		if te.Hint == "" {
			te.Hint, te.NextActions = recoveryFor(te.Code, root)
		}
		return te
	}

	if errors.Is(err, search.ErrEmptyQuery) {
		return NewToolError(CodeInvalidRequest, "query must not be empty")
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		out := NewToolError(CodeInternal, "request timed out")
		out.Timeout = true
		return out
	}

	var fe *ferrors.FinderError
	if errors.As(err, &fe) {
		code := CodeInternal
		switch fe.Category {
		case ferrors.CategoryValidation:
			code = CodeInvalidRequest
		case ferrors.CategoryConfig:
			code = CodeConfigError
		case ferrors.CategoryIO:
			code = CodeFilesystemError
		}
		switch fe.Code {
		case ferrors.ErrCodeCorruptIndex:
			code = CodeIndexCorrupt
		case ferrors.ErrCodeFileNotFound:
			code = CodeFilesystemError
		}
		out := &ToolError{Code: code, Message: fe.Message, Details: fe.Details}
		out.Hint, out.NextActions = recoveryFor(code, root)
		if out.Hint == "" && fe.Suggestion != "" {
			out.Hint = fe.Suggestion
		}
		return out
	}

	out := NewToolError(CodeInternal, "internal error")
	return out
}

// errorResponse renders a ToolError as a protocol response.
func errorResponse(te *ToolError, mode ResponseMode) *Response {
	te.Meta = te.Meta.filter(mode)
	if mode != ModeFull {
		te.NextActions = trimErrorActions(te.NextActions, mode)
	}
	return &Response{
		StructuredContent: te,
		Content:           []string{renderErrorDoc(te)},
		IsError:           true,
	}
}

// trimErrorActions keeps recovery actions even in compact modes only
// when they are the canonical single next step.
func trimErrorActions(actions []pack.NextAction, mode ResponseMode) []pack.NextAction {
	if mode == ModeMinimal {
		return nil
	}
	if len(actions) > 1 {
		return actions[:1]
	}
	return actions
}
