package pack

import (
	"bytes"
	"context"
	"os/exec"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// maxDirtyPaths bounds the dirty-path listing per worktree.
const maxDirtyPaths = 20

// maxChangedPaths bounds the changed-vs-base listing per worktree.
const maxChangedPaths = 30

// Worktree describes one git worktree for the worktree pack.
type Worktree struct {
	Path          string   `json:"path"`
	Branch        string   `json:"branch,omitempty"`
	Head          string   `json:"head,omitempty"`
	HeadSubject   string   `json:"head_subject,omitempty"`
	DirtyPaths    []string `json:"dirty_paths,omitempty"`
	ChangedVsBase []string `json:"changed_vs_base,omitempty"`
	Purpose       string   `json:"purpose,omitempty"`
}

// WorktreeView is the worktree pack payload.
type WorktreeView struct {
	Worktrees []Worktree `json:"worktrees"`
	Budget    Budget     `json:"budget"`
}

// PurposeFn computes a bounded "purpose summary" for a worktree root,
// typically by running the meaning-pack pipeline against it. nil skips
// purpose summaries.
type PurposeFn func(ctx context.Context, root string) string

// ListWorktrees enumerates worktrees via `git worktree list
// --porcelain`, the one git operation go-git does not model.
func ListWorktrees(ctx context.Context, root string) ([]Worktree, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", root, "worktree", "list", "--porcelain")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return parseWorktreePorcelain(out.String()), nil
}

func parseWorktreePorcelain(text string) []Worktree {
	var worktrees []Worktree
	var cur *Worktree
	flush := func() {
		if cur != nil {
			worktrees = append(worktrees, *cur)
			cur = nil
		}
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "worktree "):
			flush()
			cur = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD ") && cur != nil:
			cur.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch ") && cur != nil:
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "":
			flush()
		}
	}
	flush()
	return worktrees
}

// InspectWorktree fills in HEAD subject, dirty paths (bounded), and
// changed-vs-base paths using go-git. Inspection faults leave the
// corresponding fields empty rather than failing the pack.
func InspectWorktree(wt *Worktree, baseBranch string) {
	repo, err := git.PlainOpen(wt.Path)
	if err != nil {
		return
	}

	head, err := repo.Head()
	if err != nil {
		return
	}
	if commit, err := repo.CommitObject(head.Hash()); err == nil {
		wt.HeadSubject = firstLine(commit.Message)
	}

	if tree, err := repo.Worktree(); err == nil {
		if status, err := tree.Status(); err == nil {
			var dirty []string
			for p, s := range status {
				if s.Worktree != git.Unmodified || s.Staging != git.Unmodified {
					dirty = append(dirty, p)
				}
			}
			sort.Strings(dirty)
			if len(dirty) > maxDirtyPaths {
				dirty = dirty[:maxDirtyPaths]
			}
			wt.DirtyPaths = dirty
		}
	}

	if baseBranch != "" {
		wt.ChangedVsBase = changedVsBase(repo, head.Hash(), baseBranch)
	}
}

// changedVsBase diffs the worktree HEAD tree against the base branch
// tip, returning changed file paths, bounded.
func changedVsBase(repo *git.Repository, head plumbing.Hash, baseBranch string) []string {
	baseRef, err := repo.Reference(plumbing.NewBranchReferenceName(baseBranch), true)
	if err != nil {
		return nil
	}
	if baseRef.Hash() == head {
		return nil
	}
	baseCommit, err := repo.CommitObject(baseRef.Hash())
	if err != nil {
		return nil
	}
	headCommit, err := repo.CommitObject(head)
	if err != nil {
		return nil
	}
	baseTree, err := baseCommit.Tree()
	if err != nil {
		return nil
	}
	headTree, err := headCommit.Tree()
	if err != nil {
		return nil
	}
	changes, err := object.DiffTree(baseTree, headTree)
	if err != nil {
		return nil
	}

	var paths []string
	for _, ch := range changes {
		p := ch.To.Name
		if p == "" {
			p = ch.From.Name
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	if len(paths) > maxChangedPaths {
		paths = paths[:maxChangedPaths]
	}
	return paths
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

// BuildWorktreeView enumerates, inspects, and optionally summarizes
// worktrees. maxPurposes bounds how many purpose summaries run per
// page (they invoke a whole retrieval pipeline each).
func BuildWorktreeView(ctx context.Context, root, baseBranch string, purpose PurposeFn, maxPurposes, maxChars int) (*WorktreeView, error) {
	worktrees, err := ListWorktrees(ctx, root)
	if err != nil {
		return nil, err
	}
	for i := range worktrees {
		InspectWorktree(&worktrees[i], baseBranch)
		if purpose != nil && i < maxPurposes {
			worktrees[i].Purpose = purpose(ctx, worktrees[i].Path)
		}
	}

	if maxChars <= 0 {
		maxChars = DefaultOptions().MaxChars
	}
	view := &WorktreeView{Worktrees: worktrees, Budget: Budget{MaxChars: maxChars}}
	for {
		used := worktreeChars(view)
		if used <= maxChars {
			view.Budget.UsedChars = used
			return view, nil
		}
		view.Budget.Truncated = true
		view.Budget.Truncation = TruncationMaxChars
		if len(view.Worktrees) == 0 {
			view.Budget.UsedChars = worktreeChars(view)
			return view, nil
		}
		last := &view.Worktrees[len(view.Worktrees)-1]
		switch {
		case last.Purpose != "":
			last.Purpose = ""
		case len(last.ChangedVsBase) > 0:
			last.ChangedVsBase = nil
		case len(last.DirtyPaths) > 0:
			last.DirtyPaths = nil
		default:
			view.Worktrees = view.Worktrees[:len(view.Worktrees)-1]
			view.Budget.DroppedItems++
		}
	}
}

func worktreeChars(view *WorktreeView) int {
	used := 0
	for _, wt := range view.Worktrees {
		used += len(wt.Path) + len(wt.Branch) + len(wt.HeadSubject) + len(wt.Purpose) + 16
		for _, p := range wt.DirtyPaths {
			used += len(p) + 1
		}
		for _, p := range wt.ChangedVsBase {
			used += len(p) + 1
		}
	}
	return used
}
