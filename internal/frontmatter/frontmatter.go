// Package frontmatter provides helpers for reading and writing markdown files
// that carry a front-matter block between --- delimiter lines.
package frontmatter

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Delimiter is the marker line that opens and closes a front-matter block.
const Delimiter = "---"

// SplitLines splits text into lines, accepting both \n and \r\n endings.
// A trailing newline does not produce an empty final line.
func SplitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// Lines returns the body of the front-matter block of a document given as
// lines. The block is recognised only when the very first line is the
// delimiter (surrounding whitespace ignored). The body runs up to the next
// delimiter line or, when the block is never closed, to the end of the
// document. ok is false when the document has no leading delimiter.
func Lines(lines []string) (body []string, ok bool) {
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != Delimiter {
		return nil, false
	}
	for i, line := range lines[1:] {
		if strings.TrimSpace(line) == Delimiter {
			return lines[1 : i+1], true
		}
	}
	return lines[1:], true
}

// Write marshals v as YAML frontmatter and concatenates body, returning the
// complete markdown document with --- delimiters.
func Write(v any, body string) ([]byte, error) {
	fm, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("frontmatter: marshal: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(Delimiter + "\n")
	buf.Write(fm)
	buf.WriteString(Delimiter + "\n")
	if body != "" {
		buf.WriteString(body)
	}
	return buf.Bytes(), nil
}
