// Package mcpserver bridges the MCP transport to the tool dispatch
// core: it registers every public tool with the MCP SDK and forwards
// calls to dispatch.ServiceState, which owns request shaping, cursors,
// sessions, and the error taxonomy.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/AmirTlinov/context-finder-mcp/internal/dispatch"
	"github.com/AmirTlinov/context-finder-mcp/pkg/version"
)

// Server hosts the MCP transport for one process.
type Server struct {
	mcp    *mcp.Server
	state  *dispatch.ServiceState
	logger *slog.Logger
}

// CommonInput carries the argument fields every tool shares.
type CommonInput struct {
	Path         string `json:"path,omitempty" jsonschema:"project root; optional after the first call of a connection"`
	ResponseMode string `json:"response_mode,omitempty" jsonschema:"minimal, facts (default), or full"`
	MaxChars     int    `json:"max_chars,omitempty" jsonschema:"character budget for the response payload"`
	Cursor       string `json:"cursor,omitempty" jsonschema:"continuation cursor from a previous call"`
	TimeoutMS    int    `json:"timeout_ms,omitempty" jsonschema:"per-call timeout in milliseconds"`
}

// ContextPackInput is the context_pack / meaning_pack argument schema.
type ContextPackInput struct {
	CommonInput
	Query        string   `json:"query" jsonschema:"the search query"`
	Limit        int      `json:"limit,omitempty" jsonschema:"maximum primary results, default 10"`
	IncludePaths []string `json:"include_paths,omitempty" jsonschema:"keep only chunks under these path prefixes"`
	ExcludePaths []string `json:"exclude_paths,omitempty" jsonschema:"drop chunks under these path prefixes"`
	FilePattern  string   `json:"file_pattern,omitempty" jsonschema:"glob matched against basename and full path"`
	PreferCode   *bool    `json:"prefer_code,omitempty" jsonschema:"put code ahead of docs in the pack"`
	IncludeDocs  *bool    `json:"include_docs,omitempty" jsonschema:"keep documentation chunks at all"`
	RelatedMode  string   `json:"related_mode,omitempty" jsonschema:"explore or focus"`
	Strategy     string   `json:"strategy,omitempty" jsonschema:"related-context strategy: direct, extended, deep"`
}

// ReadPackInput is the read_pack argument schema.
type ReadPackInput struct {
	CommonInput
	Questions []string `json:"questions" jsonschema:"questions to answer, optionally annotated with directives like deep, k:5, in:src"`
}

// GrepInput is the grep_context argument schema.
type GrepInput struct {
	CommonInput
	Pattern      string `json:"pattern" jsonschema:"regular expression (or literal text with literal=true)"`
	Literal      bool   `json:"literal,omitempty" jsonschema:"treat pattern as literal text"`
	ContextLines int    `json:"context_lines,omitempty" jsonschema:"lines of context around each match"`
	IncludePath  string `json:"include_path,omitempty" jsonschema:"restrict matches to this path prefix"`
	MaxMatches   int    `json:"max_matches,omitempty" jsonschema:"matches per page, default 20"`
}

// FileSliceInput is the file_slice argument schema.
type FileSliceInput struct {
	CommonInput
	File      string `json:"file" jsonschema:"repo-relative file path"`
	StartLine int    `json:"start_line,omitempty" jsonschema:"first line, 1-indexed"`
	EndLine   int    `json:"end_line,omitempty" jsonschema:"last line, inclusive"`
	MaxLines  int    `json:"max_lines,omitempty" jsonschema:"soft line cap"`
}

// ListFilesInput is the list_files argument schema.
type ListFilesInput struct {
	CommonInput
	Prefix string `json:"prefix,omitempty" jsonschema:"path prefix filter"`
	Limit  int    `json:"limit,omitempty" jsonschema:"files per page, default 100"`
}

// MapInput is the map argument schema.
type MapInput struct {
	CommonInput
	Depth int `json:"depth,omitempty" jsonschema:"directory aggregation depth, default 2"`
}

// WorktreeInput is the worktree_pack argument schema.
type WorktreeInput struct {
	CommonInput
	BaseBranch  string `json:"base_branch,omitempty" jsonschema:"branch to diff each worktree against"`
	WithPurpose bool   `json:"with_purpose,omitempty" jsonschema:"compute a purpose summary per worktree"`
	MaxPurposes int    `json:"max_purposes,omitempty" jsonschema:"purpose summaries per page, default 2"`
}

// EvidencePointerInput mirrors an evidence pointer.
type EvidencePointerInput struct {
	File       string `json:"file" jsonschema:"repo-relative file path"`
	StartLine  int    `json:"start_line" jsonschema:"first line, 1-indexed"`
	EndLine    int    `json:"end_line" jsonschema:"last line, inclusive"`
	SourceHash string `json:"source_hash,omitempty" jsonschema:"sha256 of the slice when it was packed"`
}

// EvidenceFetchInput is the evidence_fetch argument schema.
type EvidenceFetchInput struct {
	CommonInput
	Items      []EvidencePointerInput `json:"items" jsonschema:"evidence pointers to fetch"`
	MaxLines   int                    `json:"max_lines,omitempty" jsonschema:"soft line cap per item"`
	StrictHash bool                   `json:"strict_hash,omitempty" jsonschema:"fail on hash mismatch instead of flagging stale"`
}

// IndexInput is the index argument schema.
type IndexInput struct {
	CommonInput
	Force bool `json:"force,omitempty" jsonschema:"rebuild even when the index looks fresh"`
}

// NotebookAnchorInput mirrors a suggested notebook anchor.
type NotebookAnchorInput struct {
	ID         string   `json:"id" jsonschema:"stable anchor id"`
	Title      string   `json:"title,omitempty" jsonschema:"short human label"`
	File       string   `json:"file" jsonschema:"repo-relative file path"`
	StartLine  int      `json:"start_line" jsonschema:"first line, 1-indexed"`
	EndLine    int      `json:"end_line" jsonschema:"last line, inclusive"`
	SourceHash string   `json:"source_hash,omitempty" jsonschema:"sha256 of the slice when verified"`
	Note       string   `json:"note,omitempty" jsonschema:"why this anchor matters"`
	Tags       []string `json:"tags,omitempty"`
}

// NotebookRunbookInput mirrors a suggested runbook.
type NotebookRunbookInput struct {
	ID        string   `json:"id" jsonschema:"stable runbook id"`
	Title     string   `json:"title,omitempty"`
	Steps     []string `json:"steps" jsonschema:"ordered, verified steps"`
	AnchorIDs []string `json:"anchor_ids,omitempty" jsonschema:"anchors this runbook relies on"`
	Tags      []string `json:"tags,omitempty"`
}

// NotebookSuggestionInput is a proposed batch of notebook entries.
type NotebookSuggestionInput struct {
	Version   int                    `json:"version" jsonschema:"suggestion version, currently 1"`
	RepoID    string                 `json:"repo_id,omitempty" jsonschema:"fingerprint of the root the suggestion was built for"`
	Anchors   []NotebookAnchorInput  `json:"anchors,omitempty"`
	Runbooks  []NotebookRunbookInput `json:"runbooks,omitempty"`
	Truncated bool                   `json:"truncated,omitempty" jsonschema:"set when the suggesting call hit its budget"`
}

// NotebookBackupPolicyInput controls pre-apply snapshots.
type NotebookBackupPolicyInput struct {
	CreateBackup *bool `json:"create_backup,omitempty" jsonschema:"snapshot before applying, default true"`
	MaxBackups   int   `json:"max_backups,omitempty" jsonschema:"backups retained per notebook, default 5"`
}

// NotebookApplyInput is the notebook_apply_suggest argument schema.
type NotebookApplyInput struct {
	CommonInput
	Version         int                        `json:"version,omitempty" jsonschema:"request version, currently 1"`
	Mode            string                     `json:"mode" jsonschema:"preview, apply, or rollback"`
	Suggestion      *NotebookSuggestionInput   `json:"suggestion,omitempty" jsonschema:"entries to merge (preview/apply)"`
	AllowTruncated  bool                       `json:"allow_truncated,omitempty" jsonschema:"permit applying a truncated suggestion"`
	OverwritePolicy string                     `json:"overwrite_policy,omitempty" jsonschema:"safe (default, skips hand-edited entries) or force"`
	BackupPolicy    *NotebookBackupPolicyInput `json:"backup_policy,omitempty"`
	BackupID        string                     `json:"backup_id,omitempty" jsonschema:"backup to restore (rollback)"`
}

// New creates the MCP server over a dispatch state.
func New(state *dispatch.ServiceState, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		state:  state,
		logger: logger,
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    "context-finder",
			Version: version.Version,
		}, nil),
	}
	s.registerTools()
	return s
}

// MCPServer exposes the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        dispatch.ToolContextPack,
		Description: "Evidence-anchored context pack for a query: hybrid search, graph-related context, character-budgeted items.",
	}, forward[ContextPackInput](s, dispatch.ToolContextPack))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        dispatch.ToolMeaningPack,
		Description: "Compact CPV1 cognitive pack for a query: interned strings, anchors, verifiable evidence pointers, next-best-action.",
	}, forward[ContextPackInput](s, dispatch.ToolMeaningPack))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        dispatch.ToolReadPack,
		Description: "Answer multiple project questions (how to run, where is X) under one budget, with pagination and cross-call dedupe.",
	}, forward[ReadPackInput](s, dispatch.ToolReadPack))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        dispatch.ToolGrepContext,
		Description: "Bounded repository grep with context lines and cursor pagination.",
	}, forward[GrepInput](s, dispatch.ToolGrepContext))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        dispatch.ToolFileSlice,
		Description: "Read a bounded line span from one file.",
	}, forward[FileSliceInput](s, dispatch.ToolFileSlice))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        dispatch.ToolListFiles,
		Description: "List indexed files, optionally under a prefix, with pagination.",
	}, forward[ListFilesInput](s, dispatch.ToolListFiles))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        dispatch.ToolMap,
		Description: "Directory-level map of the indexed corpus: file/chunk counts and top symbols per directory.",
	}, forward[MapInput](s, dispatch.ToolMap))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        dispatch.ToolWorktreePack,
		Description: "Enumerate git worktrees with HEAD subject, dirty paths, changed-vs-base paths, and optional purpose summaries.",
	}, forward[WorktreeInput](s, dispatch.ToolWorktreePack))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        dispatch.ToolEvidenceFetch,
		Description: "Fetch verified source slices for evidence pointers, with sha256 drift detection.",
	}, forward[EvidenceFetchInput](s, dispatch.ToolEvidenceFetch))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        dispatch.ToolOnboarding,
		Description: "Agent-oriented project introduction: probed facts, anchor doc snippets, bounded map.",
	}, forward[CommonInput](s, dispatch.ToolOnboarding))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        dispatch.ToolNotebookApply,
		Description: "Preview, apply, or roll back a suggested batch of notebook anchors and runbooks, with backups and a safe overwrite policy.",
	}, forward[NotebookApplyInput](s, dispatch.ToolNotebookApply))
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        dispatch.ToolIndex,
		Description: "Build or rebuild the project index.",
	}, forward[IndexInput](s, dispatch.ToolIndex))
}

// forward adapts a typed MCP handler onto the dispatch core. The
// session id comes from the MCP connection so working sets survive
// across calls on one connection.
func forward[In any](s *Server, tool string) func(context.Context, *mcp.CallToolRequest, In) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input In) (*mcp.CallToolResult, any, error) {
		args, err := json.Marshal(input)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal arguments: %w", err)
		}
		resp := s.state.Dispatch(ctx, connID(req), &dispatch.Request{Tool: tool, Args: args})

		result := &mcp.CallToolResult{IsError: resp.IsError}
		for _, text := range resp.Content {
			result.Content = append(result.Content, &mcp.TextContent{Text: text})
		}
		return result, resp.StructuredContent, nil
	}
}

// connID derives a stable per-connection session key.
func connID(req *mcp.CallToolRequest) string {
	if req != nil && req.Session != nil {
		return fmt.Sprintf("%p", req.Session)
	}
	return "default"
}

// Serve runs the server over stdio until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP server", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}
