package cpv1

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Parsed is the decoded view of a rendered pack.
type Parsed struct {
	RootFP   string
	Query    string
	Dict     map[int]string
	Sections map[string][]string
	Evidence []Evidence
	NBATool  string
	NBAArgs  map[string]any
}

// Parse decodes a rendered CPV1 pack. It is strict about the line
// grammar and forgiving about content: unknown section rows are kept
// verbatim.
func Parse(text string) (*Parsed, error) {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) == 0 || lines[0] != Magic {
		return nil, fmt.Errorf("not a CPV1 pack")
	}

	p := &Parsed{Dict: map[int]string{}, Sections: map[string][]string{}}
	section := ""
	for _, line := range lines[1:] {
		switch {
		case strings.HasPrefix(line, "ROOT_FP "):
			p.RootFP = strings.TrimPrefix(line, "ROOT_FP ")
		case strings.HasPrefix(line, "QUERY "):
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "QUERY ")), &p.Query); err != nil {
				return nil, fmt.Errorf("bad QUERY line: %w", err)
			}
		case strings.HasPrefix(line, "D "):
			rest := strings.TrimPrefix(line, "D ")
			sp := strings.IndexByte(rest, ' ')
			if sp < 0 {
				return nil, fmt.Errorf("bad dict line %q", line)
			}
			id, err := strconv.Atoi(rest[:sp])
			if err != nil {
				return nil, fmt.Errorf("bad dict id in %q", line)
			}
			var s string
			if err := json.Unmarshal([]byte(rest[sp+1:]), &s); err != nil {
				return nil, fmt.Errorf("bad dict string in %q", line)
			}
			p.Dict[id] = s
		case strings.HasPrefix(line, "S "):
			section = strings.TrimPrefix(line, "S ")
			if _, ok := p.Sections[section]; !ok {
				p.Sections[section] = []string{}
			}
		case strings.HasPrefix(line, "EV "):
			ev, err := parseEvidence(line)
			if err != nil {
				return nil, err
			}
			p.Evidence = append(p.Evidence, ev)
		case strings.HasPrefix(line, "NBA "):
			rest := strings.TrimPrefix(line, "NBA ")
			sp := strings.IndexByte(rest, ' ')
			if sp < 0 {
				p.NBATool = rest
				continue
			}
			p.NBATool = rest[:sp]
			if err := json.Unmarshal([]byte(rest[sp+1:]), &p.NBAArgs); err != nil {
				return nil, fmt.Errorf("bad NBA args in %q", line)
			}
		default:
			if section == "" {
				return nil, fmt.Errorf("row outside section: %q", line)
			}
			p.Sections[section] = append(p.Sections[section], line)
		}
	}
	return p, nil
}

func parseEvidence(line string) (Evidence, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return Evidence{}, fmt.Errorf("bad EV line %q", line)
	}
	ev := Evidence{ID: fields[1]}
	for _, f := range fields[2:] {
		switch {
		case strings.HasPrefix(f, "kind="):
			ev.Kind = strings.TrimPrefix(f, "kind=")
		case strings.HasPrefix(f, "file="):
			id, err := strconv.Atoi(strings.TrimPrefix(f, "file="))
			if err != nil {
				return Evidence{}, fmt.Errorf("bad file id in %q", line)
			}
			ev.FileDict = id
		case strings.HasPrefix(f, "sha256="):
			ev.SHA256 = strings.TrimPrefix(f, "sha256=")
		case strings.HasPrefix(f, "L"):
			span := strings.TrimPrefix(f, "L")
			parts := strings.SplitN(span, "-L", 2)
			if len(parts) != 2 {
				return Evidence{}, fmt.Errorf("bad span in %q", line)
			}
			start, err1 := strconv.Atoi(parts[0])
			end, err2 := strconv.Atoi(parts[1])
			if err1 != nil || err2 != nil {
				return Evidence{}, fmt.Errorf("bad span in %q", line)
			}
			ev.StartLine, ev.EndLine = start, end
		}
	}
	return ev, nil
}
