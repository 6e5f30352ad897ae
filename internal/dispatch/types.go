// Package dispatch is the agent-facing tool protocol core: request
// shaping, response-mode filtering, cursor encode/decode with
// store-backed aliasing, per-connection session working sets, and the
// public error taxonomy.
package dispatch

import (
	"encoding/json"
	"strings"
)

// Tool names. Every name and its argument schema is a stable public
// surface.
const (
	ToolContextPack   = "context_pack"
	ToolMeaningPack   = "meaning_pack"
	ToolReadPack      = "read_pack"
	ToolGrepContext   = "grep_context"
	ToolFileSlice     = "file_slice"
	ToolListFiles     = "list_files"
	ToolMap           = "map"
	ToolWorktreePack  = "worktree_pack"
	ToolEvidenceFetch = "evidence_fetch"
	ToolIndex         = "index"
	ToolOnboarding    = "onboarding"
	ToolNotebookApply = "notebook_apply_suggest"
)

// ResponseMode governs which structured fields are emitted and how
// aggressively envelopes are trimmed.
type ResponseMode string

const (
	ModeMinimal ResponseMode = "minimal"
	ModeFacts   ResponseMode = "facts"
	ModeFull    ResponseMode = "full"
)

// ParseResponseMode resolves a mode string; empty or unknown falls
// back to the Facts default.
func ParseResponseMode(s string) ResponseMode {
	switch ResponseMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeMinimal:
		return ModeMinimal
	case ModeFull:
		return ModeFull
	default:
		return ModeFacts
	}
}

// ToolMeta is the provenance block attached to responses. Shape varies
// with the response mode: Minimal keeps only the root fingerprint.
type ToolMeta struct {
	RootFingerprint string `json:"root_fingerprint,omitempty"`
	IndexState      string `json:"index_state,omitempty"`
	TimingMS        int64  `json:"timing_ms,omitempty"`
}

// filter trims meta for a response mode.
func (m ToolMeta) filter(mode ResponseMode) ToolMeta {
	switch mode {
	case ModeMinimal:
		return ToolMeta{RootFingerprint: m.RootFingerprint}
	case ModeFacts:
		return ToolMeta{RootFingerprint: m.RootFingerprint, IndexState: m.IndexState}
	default:
		return m
	}
}

// Request is one tool invocation.
type Request struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args,omitempty"`
}

// CommonArgs are the argument fields every tool shares.
type CommonArgs struct {
	Path         string `json:"path,omitempty"`
	ResponseMode string `json:"response_mode,omitempty"`
	MaxChars     int    `json:"max_chars,omitempty"`
	Cursor       string `json:"cursor,omitempty"`
	TimeoutMS    int    `json:"timeout_ms,omitempty"`
}

// Response is the tool protocol reply: a human-readable .context
// document plus, outside Minimal mode, the machine-readable result.
type Response struct {
	StructuredContent any      `json:"structured_content,omitempty"`
	Content           []string `json:"content"`
	IsError           bool     `json:"is_error,omitempty"`
}
