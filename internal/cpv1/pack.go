// Package cpv1 implements the Cognitive Pack v1 text format: a
// line-oriented pack with an interned string dictionary, named
// sections, an evidence section with verifiable line-span pointers,
// and a trailing next-best-action hint. Agents parse it line by line;
// every string that may contain whitespace travels JSON-encoded.
package cpv1

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Magic is the first line of every pack.
const Magic = "CPV1"

// Well-known section names, in conventional emission order.
const (
	SectionFocus       = "FOCUS"
	SectionMap         = "MAP"
	SectionOutline     = "OUTLINE"
	SectionAnchors     = "ANCHORS"
	SectionEntrypoints = "ENTRYPOINTS"
	SectionContracts   = "CONTRACTS"
	SectionFlows       = "FLOWS"
	SectionBrokers     = "BROKERS"
	SectionEvidence    = "EVIDENCE"
)

// Dict interns strings with insertion-order ids. Ids start at 1 and
// are never reused within a pack; the same string always resolves to
// the same id. The dict resets per pack, never across packs.
type Dict struct {
	ids     map[string]int
	entries []string
}

// NewDict creates an empty dictionary.
func NewDict() *Dict {
	return &Dict{ids: make(map[string]int)}
}

// Intern returns the id for s, assigning the next id on first sight.
func (d *Dict) Intern(s string) int {
	if id, ok := d.ids[s]; ok {
		return id
	}
	id := len(d.entries) + 1
	d.ids[s] = id
	d.entries = append(d.entries, s)
	return id
}

// Lookup resolves an id back to its string.
func (d *Dict) Lookup(id int) (string, bool) {
	if id < 1 || id > len(d.entries) {
		return "", false
	}
	return d.entries[id-1], true
}

// Len returns the number of interned strings.
func (d *Dict) Len() int { return len(d.entries) }

// Evidence is one EV pointer: a verifiable line span in a file.
type Evidence struct {
	ID        string // "evN", discovery order
	Kind      string
	FileDict  int // dict id of the file path
	StartLine int
	EndLine   int
	SHA256    string // optional hex digest of the slice
}

func (e *Evidence) render() string {
	line := fmt.Sprintf("EV %s kind=%s file=%d L%d-L%d", e.ID, e.Kind, e.FileDict, e.StartLine, e.EndLine)
	if e.SHA256 != "" {
		line += " sha256=" + e.SHA256
	}
	return line
}

// Section is a named group of preformatted rows.
type Section struct {
	Name string
	Rows []string
}

// NBA is the next-best-action hint closing a pack.
type NBA struct {
	Tool string
	Args map[string]any
}

// Pack is a CPV1 pack under construction.
type Pack struct {
	RootFP string
	Query  string

	dict     *Dict
	sections []*Section
	evidence []*Evidence
	nba      *NBA
}

// New creates a pack for a root fingerprint and query.
func New(rootFP, query string) *Pack {
	return &Pack{RootFP: rootFP, Query: query, dict: NewDict()}
}

// Intern interns s in the pack's dictionary.
func (p *Pack) Intern(s string) int { return p.dict.Intern(s) }

// Dict exposes the pack's dictionary.
func (p *Pack) Dict() *Dict { return p.dict }

// Section returns the named section, creating it in call order.
func (p *Pack) Section(name string) *Section {
	for _, s := range p.sections {
		if s.Name == name {
			return s
		}
	}
	s := &Section{Name: name}
	p.sections = append(p.sections, s)
	return s
}

// AddRow appends a preformatted row to a section.
func (s *Section) AddRow(row string) { s.Rows = append(s.Rows, row) }

// AddEvidence records an evidence pointer and returns its stable id
// ("evN" in discovery order; stable across re-renders of this pack).
func (p *Pack) AddEvidence(kind, file string, startLine, endLine int, sha string) string {
	ev := &Evidence{
		ID:        fmt.Sprintf("ev%d", len(p.evidence)+1),
		Kind:      kind,
		FileDict:  p.Intern(file),
		StartLine: startLine,
		EndLine:   endLine,
		SHA256:    sha,
	}
	p.evidence = append(p.evidence, ev)
	return ev.ID
}

// EvidenceCount returns the number of recorded pointers.
func (p *Pack) EvidenceCount() int { return len(p.evidence) }

// SetNBA sets the pack's next-best-action hint.
func (p *Pack) SetNBA(tool string, args map[string]any) {
	p.nba = &NBA{Tool: tool, Args: args}
}

// Render serializes the pack. Layout: magic, ROOT_FP, QUERY, dict
// lines in id order, sections in creation order (EVIDENCE emitted from
// the evidence list), then NBA.
func (p *Pack) Render() string {
	var b strings.Builder
	b.WriteString(Magic + "\n")
	fmt.Fprintf(&b, "ROOT_FP %s\n", p.RootFP)
	fmt.Fprintf(&b, "QUERY %s\n", jsonString(p.Query))

	for i, s := range p.dict.entries {
		fmt.Fprintf(&b, "D %d %s\n", i+1, jsonString(s))
	}

	for _, s := range p.sections {
		if s.Name == SectionEvidence {
			continue // rendered below, from the evidence list
		}
		if len(s.Rows) == 0 {
			continue
		}
		fmt.Fprintf(&b, "S %s\n", s.Name)
		for _, row := range s.Rows {
			b.WriteString(row + "\n")
		}
	}

	if len(p.evidence) > 0 {
		fmt.Fprintf(&b, "S %s\n", SectionEvidence)
		for _, ev := range p.evidence {
			b.WriteString(ev.render() + "\n")
		}
	}

	if p.nba != nil {
		args, _ := json.Marshal(p.nba.Args)
		fmt.Fprintf(&b, "NBA %s %s\n", p.nba.Tool, string(args))
	}
	return b.String()
}

func jsonString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}
