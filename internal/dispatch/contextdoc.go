package dispatch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AmirTlinov/context-finder-mcp/internal/pack"
	"github.com/AmirTlinov/context-finder-mcp/internal/recall"
)

// contextDoc accumulates a .context document: "# " headers, "R:"
// evidence anchors, indented content blocks, a next_actions section,
// and a trailing cursor line.
type contextDoc struct {
	b strings.Builder
}

func (d *contextDoc) header(title string) {
	if d.b.Len() > 0 {
		d.b.WriteByte('\n')
	}
	fmt.Fprintf(&d.b, "# %s\n", title)
}

func (d *contextDoc) anchor(file string, line int, symbol string) {
	if symbol != "" {
		fmt.Fprintf(&d.b, "R: %s:%d [%s]\n", file, line, symbol)
	} else {
		fmt.Fprintf(&d.b, "R: %s:%d\n", file, line)
	}
}

func (d *contextDoc) block(content string) {
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		d.b.WriteString("    " + line + "\n")
	}
}

func (d *contextDoc) line(s string) {
	d.b.WriteString(s + "\n")
}

func (d *contextDoc) nextActions(actions []pack.NextAction) {
	if len(actions) == 0 {
		return
	}
	d.b.WriteString("\nnext_actions:\n")
	for _, a := range actions {
		if a.Reason != "" {
			fmt.Fprintf(&d.b, "  - %s (%s)\n", a.Tool, a.Reason)
		} else {
			fmt.Fprintf(&d.b, "  - %s\n", a.Tool)
		}
	}
}

func (d *contextDoc) cursor(token string) {
	if token != "" {
		fmt.Fprintf(&d.b, "\ncursor: %s\n", token)
	}
}

func (d *contextDoc) String() string { return d.b.String() }

// renderPackDoc renders a context pack as a .context document.
func renderPackDoc(out *pack.Output, cursorToken string) string {
	var d contextDoc
	d.header("context: " + out.Query)
	for _, item := range out.Items {
		d.anchor(item.File, item.StartLine, item.Symbol)
		if item.Content != "" {
			d.block(item.Content)
		}
	}
	if out.Budget.Truncated {
		d.line(fmt.Sprintf("truncated: %s (dropped %d)", out.Budget.Truncation, out.Budget.DroppedItems))
	}
	d.nextActions(out.NextActions)
	d.cursor(cursorToken)
	return d.String()
}

// renderRecallDoc renders recall output.
func renderRecallDoc(out *recall.Output, cursorToken string) string {
	var d contextDoc
	if out.Facts != nil {
		d.header("project facts")
		cats := out.Facts.Categories()
		keys := make([]string, 0, len(cats))
		for k := range cats {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			d.line(fmt.Sprintf("%s: %s", k, strings.Join(cats[k], ", ")))
		}
	}
	for _, a := range out.Answers {
		d.header(a.Question)
		for _, sn := range a.Snippets {
			d.anchor(sn.File, sn.StartLine, "")
			d.block(sn.Content)
		}
		if len(a.Snippets) == 0 {
			d.line("(no evidence found)")
		}
	}
	d.cursor(cursorToken)
	return d.String()
}

// renderErrorDoc renders an error payload.
func renderErrorDoc(te *ToolError) string {
	var d contextDoc
	d.header("error: " + te.Code)
	d.line(te.Message)
	if te.Hint != "" {
		d.line("hint: " + te.Hint)
	}
	keys := make([]string, 0, len(te.Details))
	for k := range te.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d.line(fmt.Sprintf("%s: %s", k, te.Details[k]))
	}
	d.nextActions(te.NextActions)
	return d.String()
}

// renderMapDoc renders a map view.
func renderMapDoc(view *pack.MapView) string {
	var d contextDoc
	d.header(fmt.Sprintf("map (depth %d)", view.Depth))
	for _, e := range view.Entries {
		line := fmt.Sprintf("%s: %d files, %d chunks", e.Dir, e.Files, e.Chunks)
		if len(e.TopSymbols) > 0 {
			line += " [" + strings.Join(e.TopSymbols, " ") + "]"
		}
		d.line(line)
	}
	return d.String()
}

// renderWorktreeDoc renders the worktree view.
func renderWorktreeDoc(view *pack.WorktreeView, cursorToken string) string {
	var d contextDoc
	d.header("worktrees")
	for _, wt := range view.Worktrees {
		d.line(fmt.Sprintf("%s (%s)", wt.Path, wt.Branch))
		if wt.HeadSubject != "" {
			d.line("  head: " + wt.HeadSubject)
		}
		if len(wt.DirtyPaths) > 0 {
			d.line("  dirty: " + strings.Join(wt.DirtyPaths, ", "))
		}
		if len(wt.ChangedVsBase) > 0 {
			d.line("  changed: " + strings.Join(wt.ChangedVsBase, ", "))
		}
		if wt.Purpose != "" {
			d.line("  purpose: " + wt.Purpose)
		}
	}
	d.cursor(cursorToken)
	return d.String()
}
