package notebook

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/AmirTlinov/context-finder-mcp/internal/persist"
)

// Apply-suggest modes.
const (
	ModePreview  = "preview"
	ModeApply    = "apply"
	ModeRollback = "rollback"
)

// Overwrite policies. Safe skips entries the user edited by hand
// (entries without the suggested tag); force replaces everything.
const (
	OverwriteSafe  = "safe"
	OverwriteForce = "force"
)

// BackupPolicy controls snapshotting before an apply.
type BackupPolicy struct {
	CreateBackup *bool `json:"create_backup,omitempty"` // default true
	MaxBackups   int   `json:"max_backups,omitempty"`   // default 5
}

func (p *BackupPolicy) createBackup() bool {
	return p == nil || p.CreateBackup == nil || *p.CreateBackup
}

func (p *BackupPolicy) maxBackups() int {
	if p == nil || p.MaxBackups <= 0 {
		return DefaultMaxBackups
	}
	return p.MaxBackups
}

// Request is one notebook_apply_suggest invocation.
type Request struct {
	Version         int           `json:"version"`
	Mode            string        `json:"mode"`
	Suggestion      *Suggestion   `json:"suggestion,omitempty"`
	AllowTruncated  bool          `json:"allow_truncated,omitempty"`
	OverwritePolicy string        `json:"overwrite_policy,omitempty"` // safe (default) | force
	BackupPolicy    *BackupPolicy `json:"backup_policy,omitempty"`
	BackupID        string        `json:"backup_id,omitempty"` // rollback only
}

// Summary reports what an apply (or would-be apply) did.
type Summary struct {
	AnchorsBefore     int      `json:"anchors_before"`
	AnchorsAfter      int      `json:"anchors_after"`
	RunbooksBefore    int      `json:"runbooks_before"`
	RunbooksAfter     int      `json:"runbooks_after"`
	NewAnchors        int      `json:"new_anchors"`
	UpdatedAnchors    int      `json:"updated_anchors"`
	SkippedAnchors    int      `json:"skipped_anchors"`
	NewRunbooks       int      `json:"new_runbooks"`
	UpdatedRunbooks   int      `json:"updated_runbooks"`
	SkippedRunbooks   int      `json:"skipped_runbooks"`
	SkippedAnchorIDs  []string `json:"skipped_anchor_ids,omitempty"`
	SkippedRunbookIDs []string `json:"skipped_runbook_ids,omitempty"`
	TouchedAnchorIDs  []string `json:"touched_anchor_ids,omitempty"`
	TouchedRunbookIDs []string `json:"touched_runbook_ids,omitempty"`
}

// Outcome is the apply-suggest result.
type Outcome struct {
	Mode     string   `json:"mode"`
	RepoID   string   `json:"repo_id"`
	BackupID string   `json:"backup_id,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Summary  Summary  `json:"summary"`
}

// ApplySuggest runs the preview/apply/rollback workflow for root.
func ApplySuggest(root string, req *Request) (*Outcome, error) {
	if req.Version != Version {
		return nil, fmt.Errorf("unsupported notebook_apply_suggest version %d", req.Version)
	}
	switch req.Mode {
	case ModePreview, ModeApply:
		return applyOrPreview(root, req)
	case ModeRollback:
		return rollback(root, req.BackupID)
	default:
		return nil, fmt.Errorf("unknown mode %q (use preview, apply, or rollback)", req.Mode)
	}
}

func applyOrPreview(root string, req *Request) (*Outcome, error) {
	suggestion := req.Suggestion
	if suggestion == nil {
		return nil, fmt.Errorf("%s requires a suggestion", req.Mode)
	}
	if suggestion.Version != Version {
		return nil, fmt.Errorf("unsupported suggestion version %d", suggestion.Version)
	}
	// Fail-closed: a truncated suggestion may be missing entries the
	// agent meant to keep; applying it silently loses them.
	if suggestion.Truncated && req.Mode == ModeApply && !req.AllowTruncated {
		return nil, fmt.Errorf("refusing to apply truncated suggestion; re-suggest with a larger budget or pass allow_truncated=true")
	}
	repoID := RepoID(root)
	if suggestion.RepoID != "" && suggestion.RepoID != repoID {
		return nil, fmt.Errorf("suggestion repo_id mismatch (expected %s, got %s)", repoID, suggestion.RepoID)
	}
	policy := req.OverwritePolicy
	if policy == "" {
		policy = OverwriteSafe
	}
	if policy != OverwriteSafe && policy != OverwriteForce {
		return nil, fmt.Errorf("unknown overwrite_policy %q", policy)
	}

	l, err := lock(root)
	if err != nil {
		return nil, err
	}
	defer func() { _ = l.Unlock() }()

	nb, err := Load(root)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Mode: req.Mode, RepoID: repoID}
	if suggestion.Truncated {
		out.Warnings = append(out.Warnings, "suggestion_truncated")
	}
	out.Summary.AnchorsBefore = len(nb.Anchors)
	out.Summary.RunbooksBefore = len(nb.Runbooks)
	now := nowMillis()

	if req.Mode == ModePreview {
		preview := cloneNotebook(nb)
		if err := mergeSuggestion(preview, suggestion, policy, now, &out.Summary); err != nil {
			return nil, err
		}
		out.Summary.AnchorsAfter = len(preview.Anchors)
		out.Summary.RunbooksAfter = len(preview.Runbooks)
		return out, nil
	}

	// Apply: snapshot first so the write is reversible.
	if req.BackupPolicy.createBackup() && (len(nb.Anchors) > 0 || len(nb.Runbooks) > 0 || nb.CreatedAt != "") {
		data, err := json.Marshal(nb)
		if err != nil {
			return nil, fmt.Errorf("serialize notebook backup: %w", err)
		}
		id := backupID(data)
		if err := writeBackup(root, id, data); err != nil {
			return nil, err
		}
		cleanupBackups(root, req.BackupPolicy.maxBackups())
		out.BackupID = id
	}

	if nb.CreatedAt == "" {
		nb.CreatedAt = now
	}
	nb.UpdatedAt = now
	if err := mergeSuggestion(nb, suggestion, policy, now, &out.Summary); err != nil {
		return nil, err
	}
	if err := save(root, nb); err != nil {
		return nil, err
	}
	out.Summary.AnchorsAfter = len(nb.Anchors)
	out.Summary.RunbooksAfter = len(nb.Runbooks)
	return out, nil
}

// mergeSuggestion upserts the suggestion into nb. Anchors merge first
// so runbook references validate against the merged set.
func mergeSuggestion(nb *Notebook, suggestion *Suggestion, policy, now string, summary *Summary) error {
	if err := ensureUniqueIDs(suggestion.Anchors, func(a Anchor) string { return a.ID }, "anchor"); err != nil {
		return err
	}
	if err := ensureUniqueIDs(suggestion.Runbooks, func(rb Runbook) string { return rb.ID }, "runbook"); err != nil {
		return err
	}

	anchorIdx := map[string]int{}
	for i := range nb.Anchors {
		anchorIdx[nb.Anchors[i].ID] = i
	}
	for _, incoming := range suggestion.Anchors {
		anchor := incoming
		if err := validateAnchor(&anchor); err != nil {
			return err
		}
		anchor.Tags = ensureTag(anchor.Tags, suggestedTag)
		anchor.UpdatedAt = now

		i, exists := anchorIdx[anchor.ID]
		if !exists {
			anchorIdx[anchor.ID] = len(nb.Anchors)
			nb.Anchors = append(nb.Anchors, anchor)
			summary.NewAnchors++
			summary.TouchedAnchorIDs = append(summary.TouchedAnchorIDs, anchor.ID)
			continue
		}
		existing := &nb.Anchors[i]
		if policy == OverwriteSafe && !hasTag(existing.Tags, suggestedTag) {
			summary.SkippedAnchors++
			summary.SkippedAnchorIDs = append(summary.SkippedAnchorIDs, anchor.ID)
			continue
		}
		// A suggestion without a hash must not discard the verified one.
		if anchor.SourceHash == "" {
			anchor.SourceHash = existing.SourceHash
		}
		*existing = anchor
		summary.UpdatedAnchors++
		summary.TouchedAnchorIDs = append(summary.TouchedAnchorIDs, anchor.ID)
	}

	known := map[string]bool{}
	for i := range nb.Anchors {
		known[nb.Anchors[i].ID] = true
	}
	runbookIdx := map[string]int{}
	for i := range nb.Runbooks {
		runbookIdx[nb.Runbooks[i].ID] = i
	}
	for _, incoming := range suggestion.Runbooks {
		rb := incoming
		if err := validateRunbook(&rb, known); err != nil {
			return err
		}
		rb.Tags = ensureTag(rb.Tags, suggestedTag)
		rb.UpdatedAt = now

		i, exists := runbookIdx[rb.ID]
		if !exists {
			runbookIdx[rb.ID] = len(nb.Runbooks)
			nb.Runbooks = append(nb.Runbooks, rb)
			summary.NewRunbooks++
			summary.TouchedRunbookIDs = append(summary.TouchedRunbookIDs, rb.ID)
			continue
		}
		if policy == OverwriteSafe && !hasTag(nb.Runbooks[i].Tags, suggestedTag) {
			summary.SkippedRunbooks++
			summary.SkippedRunbookIDs = append(summary.SkippedRunbookIDs, rb.ID)
			continue
		}
		nb.Runbooks[i] = rb
		summary.UpdatedRunbooks++
		summary.TouchedRunbookIDs = append(summary.TouchedRunbookIDs, rb.ID)
	}

	sort.Strings(summary.TouchedAnchorIDs)
	sort.Strings(summary.TouchedRunbookIDs)
	return nil
}

func rollback(root, id string) (*Outcome, error) {
	if id == "" {
		return nil, fmt.Errorf("rollback requires a backup_id")
	}

	l, err := lock(root)
	if err != nil {
		return nil, err
	}
	defer func() { _ = l.Unlock() }()

	current, err := Load(root)
	if err != nil {
		return nil, err
	}
	var restored Notebook
	if err := persist.ReadJSON(backupPath(root, id), &restored); err != nil {
		return nil, fmt.Errorf("read notebook backup %s: %w", id, err)
	}
	if restored.Version != Version {
		return nil, fmt.Errorf("unsupported notebook backup version %d", restored.Version)
	}
	repoID := RepoID(root)
	if restored.RepoID != repoID {
		return nil, fmt.Errorf("backup repo_id mismatch (expected %s, got %s)", repoID, restored.RepoID)
	}

	out := &Outcome{Mode: ModeRollback, RepoID: repoID, BackupID: id}
	out.Summary.AnchorsBefore = len(current.Anchors)
	out.Summary.RunbooksBefore = len(current.Runbooks)
	out.Summary.TouchedAnchorIDs = symmetricDiff(anchorIDs(current), anchorIDs(&restored))
	out.Summary.TouchedRunbookIDs = symmetricDiff(runbookIDs(current), runbookIDs(&restored))

	restored.UpdatedAt = nowMillis()
	if restored.CreatedAt == "" {
		restored.CreatedAt = restored.UpdatedAt
	}
	if err := save(root, &restored); err != nil {
		return nil, err
	}
	out.Summary.AnchorsAfter = len(restored.Anchors)
	out.Summary.RunbooksAfter = len(restored.Runbooks)
	return out, nil
}

func cloneNotebook(nb *Notebook) *Notebook {
	clone := *nb
	clone.Anchors = append([]Anchor(nil), nb.Anchors...)
	clone.Runbooks = append([]Runbook(nil), nb.Runbooks...)
	return &clone
}

func anchorIDs(nb *Notebook) map[string]bool {
	out := make(map[string]bool, len(nb.Anchors))
	for i := range nb.Anchors {
		out[nb.Anchors[i].ID] = true
	}
	return out
}

func runbookIDs(nb *Notebook) map[string]bool {
	out := make(map[string]bool, len(nb.Runbooks))
	for i := range nb.Runbooks {
		out[nb.Runbooks[i].ID] = true
	}
	return out
}

// symmetricDiff returns ids present in exactly one of the sets, sorted.
func symmetricDiff(a, b map[string]bool) []string {
	var out []string
	for id := range a {
		if !b[id] {
			out = append(out, id)
		}
	}
	for id := range b {
		if !a[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
