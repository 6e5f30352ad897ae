package cpv1

import (
	"strings"
	"unicode/utf8"
)

// mapKeepRows is how many MAP rows survive the first map-trimming
// stage; the final stage may remove the rest.
const mapKeepRows = 3

// ShrinkToFit renders the pack, removing optional content until the
// rendering fits maxChars (counted in characters). Removal order:
// NBA, OUTLINE rows (last first), MAP rows beyond the first few,
// unreferenced EV rows, sha256 suffixes, then trailing map/anchor
// rows. The magic line, ROOT_FP, QUERY, and the top anchor+evidence
// pair are never removed; a section marker survives while the section
// has at least one row.
//
// Shrinking mutates the pack, so a second ShrinkToFit at the same
// budget is a fixed point: it returns the same rendering unchanged.
func (p *Pack) ShrinkToFit(maxChars int) string {
	text := p.Render()
	if fits(text, maxChars) {
		return text
	}

	steps := []func() bool{
		p.dropNBA,
		func() bool { return p.dropLastRow(SectionOutline, 0) },
		func() bool { return p.dropLastRow(SectionMap, mapKeepRows) },
		p.dropUnreferencedEvidence,
		p.dropHashSuffixes,
		func() bool { return p.dropLastRow(SectionMap, 0) },
		func() bool { return p.dropLastRow(SectionAnchors, 1) },
	}
	for _, step := range steps {
		for step() {
			text = p.Render()
			if fits(text, maxChars) {
				return text
			}
		}
	}
	return p.Render()
}

func fits(text string, maxChars int) bool {
	return utf8.RuneCountInString(text) <= maxChars
}

func (p *Pack) dropNBA() bool {
	if p.nba == nil {
		return false
	}
	p.nba = nil
	return true
}

// dropLastRow removes the trailing row of a section while more than
// keep rows remain.
func (p *Pack) dropLastRow(name string, keep int) bool {
	for _, s := range p.sections {
		if s.Name != name {
			continue
		}
		if len(s.Rows) > keep {
			s.Rows = s.Rows[:len(s.Rows)-1]
			return true
		}
		return false
	}
	return false
}

// dropUnreferencedEvidence removes, last first, EV rows whose id is
// not mentioned by any section row. The first pointer always survives:
// it anchors the pack.
func (p *Pack) dropUnreferencedEvidence() bool {
	referenced := make(map[string]bool)
	for _, s := range p.sections {
		for _, row := range s.Rows {
			for _, ev := range p.evidence {
				if strings.Contains(row, ev.ID) {
					referenced[ev.ID] = true
				}
			}
		}
	}
	for i := len(p.evidence) - 1; i >= 1; i-- {
		if !referenced[p.evidence[i].ID] {
			p.evidence = append(p.evidence[:i], p.evidence[i+1:]...)
			return true
		}
	}
	return false
}

// dropHashSuffixes strips sha256 suffixes from every EV row at once.
func (p *Pack) dropHashSuffixes() bool {
	changed := false
	for _, ev := range p.evidence {
		if ev.SHA256 != "" {
			ev.SHA256 = ""
			changed = true
		}
	}
	return changed
}
