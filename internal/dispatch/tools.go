package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/AmirTlinov/context-finder-mcp/internal/assemble"
	"github.com/AmirTlinov/context-finder-mcp/internal/classify"
	"github.com/AmirTlinov/context-finder-mcp/internal/cpv1"
	"github.com/AmirTlinov/context-finder-mcp/internal/evidence"
	"github.com/AmirTlinov/context-finder-mcp/internal/notebook"
	"github.com/AmirTlinov/context-finder-mcp/internal/pack"
	"github.com/AmirTlinov/context-finder-mcp/internal/persist"
	"github.com/AmirTlinov/context-finder-mcp/internal/recall"
	"github.com/AmirTlinov/context-finder-mcp/internal/search"
)

// IndexFn rebuilds the index for a root. Wired by the server shell;
// nil means this process cannot index.
type IndexFn func(ctx context.Context, root string, force bool) error

// SetIndexer wires the index tool's implementation.
func (s *ServiceState) SetIndexer(fn IndexFn) { s.indexFn = fn }

// Dispatch routes one tool request. It never panics outward and never
// returns a Go error: faults become structured error responses.
func (s *ServiceState) Dispatch(ctx context.Context, connID string, req *Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tool handler panicked", "tool", req.Tool, "panic", r)
			resp = errorResponse(NewToolError(CodeInternal, "internal error"), ModeFacts)
		}
	}()
	var common CommonArgs
	if len(req.Args) > 0 {
		if err := json.Unmarshal(req.Args, &common); err != nil {
			return errorResponse(NewToolError(CodeInvalidRequest, "arguments are not a JSON object"), ModeFacts)
		}
	}
	mode := ParseResponseMode(common.ResponseMode)

	sess := s.Session(connID)
	root := common.Path
	if root == "" {
		root = sess.RootDisplay()
	}
	if root == "" {
		return errorResponse(NewToolError(CodeMissingField, "path is required on the first call of a connection").
			WithDetail("field", "path"), mode)
	}
	sess.SetRootDisplay(root)

	if common.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(common.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	started := time.Now()
	resp, err := s.route(ctx, sess, req, root, mode)
	if err != nil {
		te := MapError(err, root)
		te.Meta.RootFingerprint = persist.Fingerprint(root)
		s.metrics.ObserveTool(req.Tool, time.Since(started), te.Code)
		return errorResponse(te, mode)
	}
	s.metrics.ObserveTool(req.Tool, time.Since(started), "")
	if mode == ModeFull {
		if meta, ok := resp.StructuredContent.(*toolResult); ok {
			meta.Meta.TimingMS = time.Since(started).Milliseconds()
		}
	}
	return resp
}

// unmarshalArgs decodes raw tool arguments; an absent args object is
// treated as empty, not an error.
func unmarshalArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// toolResult is the structured payload wrapper carrying meta.
type toolResult struct {
	Result      any               `json:"result"`
	NextActions []pack.NextAction `json:"next_actions,omitempty"`
	NextCursor  string            `json:"next_cursor,omitempty"`
	Meta        ToolMeta          `json:"meta"`
}

func (s *ServiceState) route(ctx context.Context, sess *Session, req *Request, root string, mode ResponseMode) (*Response, error) {
	switch req.Tool {
	case ToolContextPack:
		return s.handleContextPack(ctx, req.Args, root, mode)
	case ToolMeaningPack:
		return s.handleMeaningPack(ctx, req.Args, root, mode)
	case ToolReadPack:
		return s.handleReadPack(ctx, sess, req.Args, root, mode)
	case ToolGrepContext:
		return s.handleGrep(ctx, req.Args, root, mode)
	case ToolFileSlice:
		return s.handleFileSlice(req.Args, root, mode)
	case ToolListFiles:
		return s.handleListFiles(ctx, req.Args, root, mode)
	case ToolMap:
		return s.handleMap(ctx, req.Args, root, mode)
	case ToolWorktreePack:
		return s.handleWorktreePack(ctx, req.Args, root, mode)
	case ToolEvidenceFetch:
		return s.handleEvidenceFetch(req.Args, root, mode)
	case ToolOnboarding:
		return s.handleOnboarding(ctx, req.Args, root, mode)
	case ToolNotebookApply:
		return s.handleNotebookApply(req.Args, root, mode)
	case ToolIndex:
		return s.handleIndex(ctx, req.Args, root, mode)
	default:
		return nil, NewToolError(CodeInvalidRequest, fmt.Sprintf("unknown tool %q", req.Tool))
	}
}

// respond wraps a result with mode-filtered meta and the .context doc.
func (s *ServiceState) respond(result any, doc string, meta ToolMeta, mode ResponseMode, nextActions []pack.NextAction, nextCursor string) *Response {
	if mode != ModeFull && nextCursor == "" {
		nextActions = nil // next_actions only on pagination outside Full
	}
	resp := &Response{Content: []string{doc}}
	if mode != ModeMinimal {
		resp.StructuredContent = &toolResult{
			Result:      result,
			NextActions: nextActions,
			NextCursor:  nextCursor,
			Meta:        meta.filter(mode),
		}
	}
	return resp
}

func (s *ServiceState) metaFor(root string, bundle *EngineBundle) ToolMeta {
	m := ToolMeta{RootFingerprint: persist.Fingerprint(root)}
	if bundle != nil {
		m.IndexState = bundle.IndexState
	}
	return m
}

// ---- context_pack -------------------------------------------------

type contextPackArgs struct {
	CommonArgs
	Query        string   `json:"query"`
	Limit        int      `json:"limit,omitempty"`
	IncludePaths []string `json:"include_paths,omitempty"`
	ExcludePaths []string `json:"exclude_paths,omitempty"`
	FilePattern  string   `json:"file_pattern,omitempty"`
	PreferCode   *bool    `json:"prefer_code,omitempty"`
	IncludeDocs  *bool    `json:"include_docs,omitempty"`
	RelatedMode  string   `json:"related_mode,omitempty"`
	Strategy     string   `json:"strategy,omitempty"`
	MaxRelated   int      `json:"max_related_per_primary,omitempty"`
}

// runContextPack is the shared pipeline behind context_pack and
// meaning_pack: search, enrich, optionally graph-augment, pack.
func (s *ServiceState) runContextPack(ctx context.Context, args contextPackArgs, root string) (*pack.Output, *EngineBundle, error) {
	bundle, err := s.engineFor(ctx, root)
	if err != nil {
		return nil, nil, err
	}

	limit := args.Limit
	if limit <= 0 {
		limit = search.DefaultLimit
	}
	results, err := bundle.Engine.Search(ctx, args.Query, limit)
	if err != nil {
		return nil, bundle, err
	}

	strategy := assemble.StrategyByName(args.Strategy)
	enriched := bundle.Assembler.Enrich(results, strategy)

	cls := classify.Classify(args.Query)
	profile := bundle.Engine.Profile()
	if profile.GraphAugment && strategy.Name != "direct" &&
		cls.Type == classify.QueryTypeConceptual &&
		bundle.NodeStore != nil && bundle.NodeModel != nil {
		enriched = bundle.Assembler.AugmentWithNodeStore(ctx, enriched, bundle.NodeStore,
			bundle.NodeModel, args.Query, strategy, profile.GraphFusionWeight)
	}

	opts := pack.DefaultOptions()
	if args.MaxChars > 0 {
		opts.MaxChars = args.MaxChars
	}
	opts.IncludePaths = args.IncludePaths
	opts.ExcludePaths = args.ExcludePaths
	opts.FilePattern = args.FilePattern
	if args.PreferCode != nil {
		opts.PreferCode = *args.PreferCode
	}
	if args.IncludeDocs != nil {
		opts.IncludeDocs = *args.IncludeDocs
	}
	if args.RelatedMode != "" {
		opts.RelatedMode = args.RelatedMode
	}
	if args.MaxRelated > 0 {
		opts.MaxRelatedPerPrimary = args.MaxRelated
	}
	opts.QueryTokens = cls.Tokens

	modelID := ""
	if m := bundle.Engine.Registry().Default(); m != nil {
		modelID = m.Info.ID
	}
	out := pack.Build(args.Query, modelID, profile.Name, enriched, opts)
	return out, bundle, nil
}

func (s *ServiceState) handleContextPack(ctx context.Context, raw json.RawMessage, root string, mode ResponseMode) (*Response, error) {
	var args contextPackArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, NewToolError(CodeInvalidRequest, "bad context_pack arguments")
	}
	if args.Query == "" {
		return nil, NewToolError(CodeMissingField, "query is required").WithDetail("field", "query")
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, search.ErrEmptyQuery
	}

	out, bundle, err := s.runContextPack(ctx, args, root)
	if err != nil {
		return nil, err
	}

	var actions []pack.NextAction
	if len(out.Items) > 0 {
		actions = append(actions, pack.NextAction{
			Tool:   ToolEvidenceFetch,
			Reason: "verify and expand the top item's source slice",
		})
	}
	out.NextActions = actions
	return s.respond(out, renderPackDoc(out, ""), s.metaFor(root, bundle), mode, actions, ""), nil
}

// ---- meaning_pack -------------------------------------------------

func (s *ServiceState) handleMeaningPack(ctx context.Context, raw json.RawMessage, root string, mode ResponseMode) (*Response, error) {
	var args contextPackArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, NewToolError(CodeInvalidRequest, "bad meaning_pack arguments")
	}
	if args.Query == "" {
		return nil, NewToolError(CodeMissingField, "query is required").WithDetail("field", "query")
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, search.ErrEmptyQuery
	}

	out, bundle, err := s.runContextPack(ctx, args, root)
	if err != nil {
		return nil, err
	}

	p := cpv1.New(persist.Fingerprint(root), args.Query)
	focus := p.Section(cpv1.SectionFocus)
	anchors := p.Section(cpv1.SectionAnchors)
	for i, item := range out.Items {
		sha := ""
		if item.Content != "" {
			sha = evidence.HashSlice(item.Content)
		}
		evID := p.AddEvidence(evidenceKind(item), item.File, item.StartLine, item.EndLine, sha)
		if i == 0 {
			focus.AddRow(fmt.Sprintf("F 1 %s (%s)", jsonCompact(item.Symbol, item.File), evID))
		}
		anchors.AddRow(fmt.Sprintf("A %d %s", i+1, evID))
	}
	if len(out.Items) > 0 {
		p.SetNBA(ToolEvidenceFetch, map[string]any{"items": []map[string]any{{
			"file":       out.Items[0].File,
			"start_line": out.Items[0].StartLine,
			"end_line":   out.Items[0].EndLine,
		}}})
	}

	maxChars := args.MaxChars
	if maxChars <= 0 {
		maxChars = pack.DefaultOptions().MaxChars
	}
	text := p.ShrinkToFit(maxChars)
	result := map[string]any{"pack": text, "budget": out.Budget}
	return s.respond(result, text, s.metaFor(root, bundle), mode, nil, ""), nil
}

func evidenceKind(item pack.Item) string {
	if pack.IsDocPath(item.File) {
		return "doc"
	}
	return "code"
}

func jsonCompact(symbol, file string) string {
	if symbol != "" {
		return symbol
	}
	return file
}

// ---- read_pack (recall) ------------------------------------------

type readPackArgs struct {
	CommonArgs
	Questions []string `json:"questions"`
}

// readPackCursorState carries the remaining questions plus the
// effective scoping of the original call.
type readPackCursorState struct {
	Questions []string `json:"questions"`
	Mode      string   `json:"mode,omitempty"`
	MaxChars  int      `json:"max_chars,omitempty"`
}

func (s *ServiceState) handleReadPack(ctx context.Context, sess *Session, raw json.RawMessage, root string, mode ResponseMode) (*Response, error) {
	var args readPackArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, NewToolError(CodeInvalidRequest, "bad read_pack arguments")
	}
	rootHash := persist.Fingerprint(root)

	questions := args.Questions
	maxChars := args.MaxChars
	if args.Cursor != "" {
		var state readPackCursorState
		if err := s.resolveCursor(args.Cursor, ToolReadPack, rootHash, &state); err != nil {
			return nil, err
		}
		questions = state.Questions
		if state.MaxChars > 0 && maxChars == 0 {
			maxChars = state.MaxChars
		}
		if state.Mode != "" && args.ResponseMode == "" {
			mode = ParseResponseMode(state.Mode)
		}
	}
	if len(questions) == 0 {
		return nil, NewToolError(CodeMissingField, "questions are required").WithDetail("field", "questions")
	}
	if maxChars <= 0 {
		maxChars = 8000
	}

	bundle, err := s.engineFor(ctx, root)
	var searchFn recall.SearchFn
	semanticFresh := false
	if err == nil && bundle != nil {
		searchFn = func(ctx context.Context, query string, limit int) ([]*search.Result, error) {
			return bundle.Engine.Search(ctx, query, limit)
		}
		semanticFresh = bundle.IndexState == "fresh"
	}

	seen := sess.SeenFiles()
	out := recall.Run(ctx, recall.Deps{
		Root:          root,
		Search:        searchFn,
		SemanticFresh: semanticFresh,
		SeenFiles:     seen,
	}, questions, maxChars)
	sess.MarkSeen(seen)

	nextCursor := ""
	if len(out.RemainingQuestions) > 0 {
		state, merr := json.Marshal(readPackCursorState{
			Questions: out.RemainingQuestions,
			Mode:      string(mode),
			MaxChars:  maxChars,
		})
		if merr == nil {
			nextCursor, _ = s.issueCursor(&Cursor{
				V: CursorVersion, Tool: ToolReadPack, Root: root, RootHash: rootHash, State: state,
			})
		}
	}

	meta := s.metaFor(root, bundle)
	return s.respond(out, renderRecallDoc(out, nextCursor), meta, mode, nil, nextCursor), nil
}

// ---- grep_context -------------------------------------------------

type grepArgs struct {
	CommonArgs
	Pattern      string `json:"pattern"`
	Literal      bool   `json:"literal,omitempty"`
	ContextLines int    `json:"context_lines,omitempty"`
	IncludePath  string `json:"include_path,omitempty"`
	MaxMatches   int    `json:"max_matches,omitempty"`
}

type grepCursorState struct {
	Pattern      string `json:"pattern"`
	Literal      bool   `json:"literal,omitempty"`
	ContextLines int    `json:"context_lines,omitempty"`
	IncludePath  string `json:"include_path,omitempty"`
	Skip         int    `json:"skip"`
}

func (s *ServiceState) handleGrep(ctx context.Context, raw json.RawMessage, root string, mode ResponseMode) (*Response, error) {
	var args grepArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, NewToolError(CodeInvalidRequest, "bad grep_context arguments")
	}
	rootHash := persist.Fingerprint(root)

	state := grepCursorState{
		Pattern:      args.Pattern,
		Literal:      args.Literal,
		ContextLines: args.ContextLines,
		IncludePath:  args.IncludePath,
	}
	if args.Cursor != "" {
		var cs grepCursorState
		if err := s.resolveCursor(args.Cursor, ToolGrepContext, rootHash, &cs); err != nil {
			return nil, err
		}
		if args.Pattern != "" && args.Pattern != cs.Pattern {
			return nil, NewToolError(CodeInvalidCursor, "cursor filter does not match the request").
				WithDetail("expected_pattern", args.Pattern).
				WithDetail("cursor_pattern", cs.Pattern)
		}
		state = cs
	}
	if state.Pattern == "" {
		return nil, NewToolError(CodeMissingField, "pattern is required").WithDetail("field", "pattern")
	}

	patternText := state.Pattern
	if state.Literal {
		patternText = regexp.QuoteMeta(patternText)
	}
	re, err := regexp.Compile(patternText)
	if err != nil {
		return nil, NewToolError(CodeInvalidRequest, "pattern is not a valid regular expression").
			WithDetail("pattern", state.Pattern)
	}

	limit := args.MaxMatches
	if limit <= 0 {
		limit = 20
	}
	snippets := recall.Grep(root, re, recall.GrepOptions{
		IncludePath:  state.IncludePath,
		ContextLines: state.ContextLines,
		MaxSnippets:  state.Skip + limit + 1,
	})

	page := snippets
	if state.Skip < len(page) {
		page = page[state.Skip:]
	} else {
		page = nil
	}
	hasMore := len(page) > limit
	if hasMore {
		page = page[:limit]
	}
	nextCursor := ""
	if hasMore {
		state.Skip += limit
		data, merr := json.Marshal(state)
		if merr == nil {
			nextCursor, _ = s.issueCursor(&Cursor{
				V: CursorVersion, Tool: ToolGrepContext, Root: root, RootHash: rootHash, State: data,
			})
		}
	}

	result := map[string]any{"matches": page, "truncated": hasMore}
	var d contextDoc
	d.header("grep: " + state.Pattern)
	for _, sn := range page {
		d.anchor(sn.File, sn.StartLine, "")
		d.block(sn.Content)
	}
	d.cursor(nextCursor)
	return s.respond(result, d.String(), s.metaFor(root, nil), mode, nil, nextCursor), nil
}

// ---- file_slice ---------------------------------------------------

type fileSliceArgs struct {
	CommonArgs
	File      string `json:"file"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
	MaxLines  int    `json:"max_lines,omitempty"`
}

func (s *ServiceState) handleFileSlice(raw json.RawMessage, root string, mode ResponseMode) (*Response, error) {
	var args fileSliceArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, NewToolError(CodeInvalidRequest, "bad file_slice arguments")
	}
	if args.File == "" {
		return nil, NewToolError(CodeMissingField, "file is required").WithDetail("field", "file")
	}
	if args.StartLine <= 0 {
		args.StartLine = 1
	}
	if args.EndLine < args.StartLine {
		args.EndLine = args.StartLine + 199
	}

	res, err := evidence.Fetch(root, []evidence.Pointer{{
		File: args.File, StartLine: args.StartLine, EndLine: args.EndLine,
	}}, args.MaxChars, args.MaxLines, false)
	if err != nil {
		return nil, err
	}

	var d contextDoc
	d.header("slice: " + args.File)
	for _, item := range res.Items {
		d.anchor(item.File, item.StartLine, "")
		d.block(item.Content)
	}
	return s.respond(res, d.String(), s.metaFor(root, nil), mode, nil, ""), nil
}

// ---- list_files ---------------------------------------------------

type listFilesArgs struct {
	CommonArgs
	Prefix string `json:"prefix,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type listFilesCursorState struct {
	Prefix string `json:"prefix,omitempty"`
	Offset int    `json:"offset"`
}

func (s *ServiceState) handleListFiles(ctx context.Context, raw json.RawMessage, root string, mode ResponseMode) (*Response, error) {
	var args listFilesArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, NewToolError(CodeInvalidRequest, "bad list_files arguments")
	}
	rootHash := persist.Fingerprint(root)

	state := listFilesCursorState{Prefix: args.Prefix}
	if args.Cursor != "" {
		var cs listFilesCursorState
		if err := s.resolveCursor(args.Cursor, ToolListFiles, rootHash, &cs); err != nil {
			return nil, err
		}
		if args.Prefix != "" && args.Prefix != cs.Prefix {
			return nil, NewToolError(CodeInvalidCursor, "cursor filter does not match the request").
				WithDetail("expected_prefix", args.Prefix).
				WithDetail("cursor_prefix", cs.Prefix)
		}
		state = cs
	}

	bundle, err := s.engineFor(ctx, root)
	if err != nil {
		return nil, err
	}
	all := bundle.Engine.Corpus().Files()
	var filtered []string
	for _, f := range all {
		if state.Prefix == "" || strings.HasPrefix(f, state.Prefix) {
			filtered = append(filtered, f)
		}
	}

	limit := args.Limit
	if limit <= 0 {
		limit = 100
	}
	page := filtered
	if state.Offset < len(page) {
		page = page[state.Offset:]
	} else {
		page = nil
	}
	hasMore := len(page) > limit
	if hasMore {
		page = page[:limit]
	}

	nextCursor := ""
	if hasMore {
		state.Offset += limit
		data, merr := json.Marshal(state)
		if merr == nil {
			nextCursor, _ = s.issueCursor(&Cursor{
				V: CursorVersion, Tool: ToolListFiles, Root: root, RootHash: rootHash, State: data,
			})
		}
	}

	result := map[string]any{"files": page, "total": len(filtered), "truncated": hasMore}
	var d contextDoc
	d.header("files")
	for _, f := range page {
		d.line(f)
	}
	d.cursor(nextCursor)
	return s.respond(result, d.String(), s.metaFor(root, bundle), mode, nil, nextCursor), nil
}

// ---- map ----------------------------------------------------------

type mapArgs struct {
	CommonArgs
	Depth int `json:"depth,omitempty"`
}

func (s *ServiceState) handleMap(ctx context.Context, raw json.RawMessage, root string, mode ResponseMode) (*Response, error) {
	var args mapArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, NewToolError(CodeInvalidRequest, "bad map arguments")
	}
	bundle, err := s.engineFor(ctx, root)
	if err != nil {
		return nil, err
	}
	view := pack.BuildMap(bundle.Engine.Corpus(), args.Depth, args.MaxChars)
	return s.respond(view, renderMapDoc(view), s.metaFor(root, bundle), mode, nil, ""), nil
}

// ---- worktree_pack ------------------------------------------------

type worktreeArgs struct {
	CommonArgs
	BaseBranch  string `json:"base_branch,omitempty"`
	WithPurpose bool   `json:"with_purpose,omitempty"`
	MaxPurposes int    `json:"max_purposes,omitempty"`
}

func (s *ServiceState) handleWorktreePack(ctx context.Context, raw json.RawMessage, root string, mode ResponseMode) (*Response, error) {
	var args worktreeArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, NewToolError(CodeInvalidRequest, "bad worktree_pack arguments")
	}

	var purpose pack.PurposeFn
	if args.WithPurpose {
		purpose = func(ctx context.Context, wtRoot string) string {
			out, _, err := s.runContextPack(ctx, contextPackArgs{
				Query:      "what is this change about",
				Limit:      2,
				CommonArgs: CommonArgs{MaxChars: 600},
			}, wtRoot)
			if err != nil || len(out.Items) == 0 {
				return ""
			}
			return out.Items[0].File + ": " + firstLineOf(out.Items[0].Content)
		}
	}
	maxPurposes := args.MaxPurposes
	if maxPurposes <= 0 {
		maxPurposes = 2
	}

	view, err := pack.BuildWorktreeView(ctx, root, args.BaseBranch, purpose, maxPurposes, args.MaxChars)
	if err != nil {
		return nil, NewToolError(CodeFilesystemError, "git worktree enumeration failed").
			WithDetail("root", root)
	}
	return s.respond(view, renderWorktreeDoc(view, ""), s.metaFor(root, nil), mode, nil, ""), nil
}

func firstLineOf(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// ---- evidence_fetch -----------------------------------------------

type evidenceFetchArgs struct {
	CommonArgs
	Items      []evidence.Pointer `json:"items"`
	MaxLines   int                `json:"max_lines,omitempty"`
	StrictHash bool               `json:"strict_hash,omitempty"`
}

func (s *ServiceState) handleEvidenceFetch(raw json.RawMessage, root string, mode ResponseMode) (*Response, error) {
	var args evidenceFetchArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, NewToolError(CodeInvalidRequest, "bad evidence_fetch arguments")
	}
	if len(args.Items) == 0 {
		return nil, NewToolError(CodeMissingField, "items are required").WithDetail("field", "items")
	}

	res, err := evidence.Fetch(root, args.Items, args.MaxChars, args.MaxLines, args.StrictHash)
	if err != nil {
		return nil, err
	}

	var d contextDoc
	d.header("evidence")
	for _, item := range res.Items {
		d.anchor(item.File, item.StartLine, "")
		if item.Stale {
			d.line("  (stale: content changed since the pack was built)")
		}
		d.block(item.Content)
	}
	return s.respond(res, d.String(), s.metaFor(root, nil), mode, nil, ""), nil
}

// ---- onboarding ---------------------------------------------------

func (s *ServiceState) handleOnboarding(ctx context.Context, raw json.RawMessage, root string, mode ResponseMode) (*Response, error) {
	var args CommonArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, NewToolError(CodeInvalidRequest, "bad onboarding arguments")
	}

	facts := recall.ProbeFacts(root)
	var anchors []pack.AnchorSnippet
	for _, name := range pack.AnchorDocNames {
		if sn, ok := recall.ReadSlice(root, name, 0, 8); ok {
			anchors = append(anchors, pack.AnchorSnippet{
				File: sn.File, StartLine: sn.StartLine, EndLine: sn.EndLine, Content: sn.Content,
			})
		}
		if len(anchors) >= 2 {
			break
		}
	}

	var mapView *pack.MapView
	if bundle, err := s.engineFor(ctx, root); err == nil {
		mapView = pack.BuildMap(bundle.Engine.Corpus(), 2, 4000)
	}

	view := pack.BuildOnboarding(pack.OnboardingInput{
		Facts:   facts.Categories(),
		Anchors: anchors,
		Map:     mapView,
	}, args.MaxChars)

	var d contextDoc
	d.header("onboarding")
	for _, a := range view.Anchors {
		d.anchor(a.File, a.StartLine, "")
		d.block(a.Content)
	}
	return s.respond(view, d.String(), s.metaFor(root, nil), mode, nil, ""), nil
}

// ---- notebook_apply_suggest ---------------------------------------

type notebookApplyArgs struct {
	CommonArgs
	Version         int                    `json:"version"`
	Mode            string                 `json:"mode"`
	Suggestion      *notebook.Suggestion   `json:"suggestion,omitempty"`
	AllowTruncated  bool                   `json:"allow_truncated,omitempty"`
	OverwritePolicy string                 `json:"overwrite_policy,omitempty"`
	BackupPolicy    *notebook.BackupPolicy `json:"backup_policy,omitempty"`
	BackupID        string                 `json:"backup_id,omitempty"`
}

func (s *ServiceState) handleNotebookApply(raw json.RawMessage, root string, mode ResponseMode) (*Response, error) {
	var args notebookApplyArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, NewToolError(CodeInvalidRequest, "bad notebook_apply_suggest arguments")
	}
	if args.Mode == "" {
		return nil, NewToolError(CodeMissingField, "mode is required (preview, apply, or rollback)").
			WithDetail("field", "mode")
	}
	if args.Version == 0 {
		args.Version = notebook.Version
	}

	out, err := notebook.ApplySuggest(root, &notebook.Request{
		Version:         args.Version,
		Mode:            args.Mode,
		Suggestion:      args.Suggestion,
		AllowTruncated:  args.AllowTruncated,
		OverwritePolicy: args.OverwritePolicy,
		BackupPolicy:    args.BackupPolicy,
		BackupID:        args.BackupID,
	})
	if err != nil {
		return nil, NewToolError(CodeInvalidRequest, err.Error())
	}

	var d contextDoc
	d.header("notebook " + out.Mode)
	d.line(fmt.Sprintf("anchors: %d -> %d (new %d, updated %d, skipped %d)",
		out.Summary.AnchorsBefore, out.Summary.AnchorsAfter,
		out.Summary.NewAnchors, out.Summary.UpdatedAnchors, out.Summary.SkippedAnchors))
	d.line(fmt.Sprintf("runbooks: %d -> %d (new %d, updated %d, skipped %d)",
		out.Summary.RunbooksBefore, out.Summary.RunbooksAfter,
		out.Summary.NewRunbooks, out.Summary.UpdatedRunbooks, out.Summary.SkippedRunbooks))
	if out.BackupID != "" {
		d.line("backup: " + out.BackupID)
	}
	for _, w := range out.Warnings {
		d.line("warning: " + w)
	}

	var actions []pack.NextAction
	if out.Mode == notebook.ModePreview {
		actions = append(actions, pack.NextAction{
			Tool:   ToolNotebookApply,
			Args:   map[string]any{"mode": notebook.ModeApply},
			Reason: "apply the previewed suggestion",
		})
	} else if out.BackupID != "" {
		actions = append(actions, pack.NextAction{
			Tool:   ToolNotebookApply,
			Args:   map[string]any{"mode": notebook.ModeRollback, "backup_id": out.BackupID},
			Reason: "roll back this apply if it was wrong",
		})
	}
	d.nextActions(actions)
	return s.respond(out, d.String(), s.metaFor(root, nil), mode, actions, ""), nil
}

// ---- index --------------------------------------------------------

type indexArgs struct {
	CommonArgs
	Force bool `json:"force,omitempty"`
}

func (s *ServiceState) handleIndex(ctx context.Context, raw json.RawMessage, root string, mode ResponseMode) (*Response, error) {
	var args indexArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, NewToolError(CodeInvalidRequest, "bad index arguments")
	}
	if s.indexFn == nil {
		return nil, NewToolError(CodeConfigError, "this server was started without indexing support")
	}
	if err := s.indexFn(ctx, root, args.Force); err != nil {
		return nil, err
	}

	// Invalidate the engine slot so the next call reloads.
	s.mu.Lock()
	delete(s.engines, root)
	s.mu.Unlock()

	result := map[string]any{"indexed": true, "root": root}
	var d contextDoc
	d.header("index")
	d.line("index rebuilt for " + root)
	return s.respond(result, d.String(), s.metaFor(root, nil), mode, nil, ""), nil
}
