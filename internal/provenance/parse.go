package provenance

import (
	"strings"

	"provtrace/internal/frontmatter"
)

// state is the parser's position inside the front-matter block. Exactly one
// state is active at a time; the list states are mutually exclusive.
type state int

const (
	stateOutside        state = iota // before the provenance key
	stateProvenance                  // directly inside provenance, no list open
	statePolicy                      // inside policy:
	stateControls                    // inside controls:
	stateJustifications              // inside justifications: of the current control
	stateFolding                     // collecting a folded rationale
	stateClosed                      // a sibling top-level key ended the block
)

// parser carries the single current context of the state machine. policy and
// control index into rec so that appends never invalidate them.
type parser struct {
	state      state
	rec        *Record
	policy     int
	control    int
	justIndent int
	foldIndent int
	fold       []string
}

// ParseText parses the provenance block of a whole document.
func ParseText(text string) *Record {
	return Parse(frontmatter.SplitLines(text))
}

// Parse extracts the provenance record from the lines of one document. It
// returns nil when the document has no leading front-matter block or the
// block has no top-level provenance key. Parse never fails: unknown or
// malformed lines are skipped and the result may be partially populated.
func Parse(lines []string) *Record {
	body, ok := frontmatter.Lines(lines)
	if !ok {
		return nil
	}
	p := &parser{policy: -1, control: -1}
	for _, line := range body {
		if p.state == stateClosed {
			break
		}
		p.feed(line)
	}
	if p.state == stateFolding {
		p.endFold()
	}
	return p.rec
}

func (p *parser) feed(line string) {
	trimmed := strings.TrimSpace(line)
	indent := indentation(line)

	if p.state == stateFolding {
		if trimmed == "" {
			return
		}
		if indent > p.foldIndent {
			p.fold = append(p.fold, trimmed)
			return
		}
		p.endFold()
	}

	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return
	}

	if indent == 0 {
		if key, _, ok := keyValue(trimmed); ok && key == "provenance" {
			p.open()
			return
		}
		if p.state != stateOutside {
			p.state = stateClosed
		}
		return
	}
	if p.state == stateOutside {
		return
	}

	if trimmed == "-" || strings.HasPrefix(trimmed, "- ") {
		p.item(strings.TrimSpace(trimmed[1:]), indent)
		return
	}
	if key, value, ok := keyValue(trimmed); ok {
		p.key(key, value, indent)
	}
}

func (p *parser) open() {
	p.state = stateProvenance
	p.rec = NewRecord()
	p.policy = -1
	p.control = -1
	p.fold = nil
}

// key handles a non-item "key: value" line inside the provenance block.
func (p *parser) key(key, value string, indent int) {
	switch key {
	case "policy":
		p.enterList(statePolicy, value)
	case "controls":
		p.enterList(stateControls, value)
	case "justifications":
		inControls := p.state == stateControls || p.state == stateJustifications
		if inControls && p.control >= 0 && value == "" {
			p.state = stateJustifications
			p.justIndent = indent
		}
	case "type":
		if p.state == statePolicy && p.policy >= 0 {
			p.rec.Policy[p.policy].Type = value
		}
	case "verified":
		p.state = stateProvenance
		if value != "" {
			p.rec.Verified = &value
		}
	case "rationale":
		p.state = stateProvenance
		switch {
		case value == ">" || value == ">-":
			p.state = stateFolding
			p.foldIndent = indent
			p.fold = nil
		case value != "":
			p.rec.Rationale = &value
		}
	}
}

// enterList switches to a list state. An inline value ("policy: []") means
// the list has no block items, so no list state is opened.
func (p *parser) enterList(s state, value string) {
	p.state = stateProvenance
	if value == "" {
		p.state = s
	}
	p.policy = -1
	p.control = -1
}

// item handles a "- ..." list item line.
func (p *parser) item(content string, indent int) {
	switch p.state {
	case statePolicy:
		key, value, ok := keyValue(content)
		if !ok || key != "uri" {
			return
		}
		if value == "" {
			p.policy = -1
			return
		}
		p.rec.Policy = append(p.rec.Policy, PolicyReference{URI: value})
		p.policy = len(p.rec.Policy) - 1

	case stateJustifications, stateControls:
		if p.state == stateJustifications && p.control >= 0 && indent >= p.justIndent {
			if content != "" {
				c := &p.rec.Controls[p.control]
				c.Justifications = append(c.Justifications, content)
			}
			return
		}
		p.state = stateControls
		if key, value, ok := keyValue(content); ok && key == "id" {
			if value == "" {
				p.control = -1
				return
			}
			p.rec.Controls = append(p.rec.Controls, StructuredControl(value))
			p.control = len(p.rec.Controls) - 1
			return
		}
		p.control = -1
		if content != "" {
			p.rec.Controls = append(p.rec.Controls, LegacyControl(content))
		}
	}
}

func (p *parser) endFold() {
	p.state = stateProvenance
	if len(p.fold) > 0 {
		s := strings.Join(p.fold, " ")
		p.rec.Rationale = &s
	}
	p.fold = nil
}

// keyValue splits "key: value" at the first colon. Both parts are trimmed.
func keyValue(s string) (key, value string, ok bool) {
	i := strings.IndexByte(s, ':')
	if i <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:]), true
}

func indentation(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}
