// Package statusdoc edits the loop's markdown status document structurally:
// an ordered sequence of lines where "## " headings open sections. Edits
// target the first matching heading; unknown sections pass through verbatim,
// and an untouched document round-trips byte for byte.
package statusdoc

import (
	"fmt"
	"strings"
)

// Recognized heading spellings. The document may be authored in English or
// Japanese; each operation accepts either form.
var (
	CurrentIterationHeadings = []string{"## Current Iteration", "## 現在のイテレーション"}
	TodoHeadings             = []string{"## TODO", "## やること"}
	NextPlanHeadings         = []string{"## Next Iteration Plan", "## 次のイテレーション計画"}
	NotesHeadings            = []string{"## Notes", "## メモ"}
)

// Document is a parsed status document.
type Document struct {
	lines           []string
	trailingNewline bool
}

// Parse builds a Document from raw bytes.
func Parse(data []byte) *Document {
	text := string(data)
	return &Document{
		lines:           strings.Split(strings.TrimSuffix(text, "\n"), "\n"),
		trailingNewline: strings.HasSuffix(text, "\n"),
	}
}

// Bytes serializes the document. Parse followed by Bytes is the identity.
func (d *Document) Bytes() []byte {
	text := strings.Join(d.lines, "\n")
	if d.trailingNewline {
		text += "\n"
	}
	return []byte(text)
}

// String returns the document text.
func (d *Document) String() string {
	return string(d.Bytes())
}

// sectionRange locates the first section whose heading matches any of the
// given spellings. start is the heading line; end is the exclusive index of
// the next "## " heading (or the document end). ok is false when no heading
// matches.
func (d *Document) sectionRange(headings []string) (start, end int, ok bool) {
	start = -1
	for i, line := range d.lines {
		if containsString(headings, strings.TrimSpace(line)) {
			start = i
			break
		}
	}
	if start == -1 {
		return 0, 0, false
	}

	end = len(d.lines)
	for i := start + 1; i < len(d.lines); i++ {
		if strings.HasPrefix(d.lines[i], "## ") {
			end = i
			break
		}
	}
	return start, end, true
}

// MarkDone checks off every unchecked occurrence of item.
func (d *Document) MarkDone(item string) {
	unchecked := "- [ ] " + item
	checked := "- [x] " + item
	for i, line := range d.lines {
		if strings.Contains(line, unchecked) {
			d.lines[i] = strings.Replace(line, unchecked, checked, 1)
		}
	}
}

// AddIfMissing appends an unchecked item to the TODO section. An item already
// present, checked or unchecked, is never duplicated. Without a TODO section
// the item goes directly above the next-plan section, and failing that, to
// the end of the document.
func (d *Document) AddIfMissing(item string) {
	text := strings.Join(d.lines, "\n")
	if strings.Contains(text, "- [ ] "+item) || strings.Contains(text, "- [x] "+item) {
		return
	}
	entry := "- [ ] " + item

	if _, end, ok := d.sectionRange(TodoHeadings); ok {
		d.insertLine(end, entry)
		return
	}
	if start, _, ok := d.sectionRange(NextPlanHeadings); ok {
		d.insertLine(start, entry)
		return
	}
	d.lines = append(d.lines, "", entry)
	d.trailingNewline = true
}

// SetCurrentIteration collapses the current-iteration section body to a
// single "iter-%04d" line. A document without the section is left unchanged.
func (d *Document) SetCurrentIteration(iteration int) {
	start, end, ok := d.sectionRange(CurrentIterationHeadings)
	if !ok {
		return
	}

	iterLine := fmt.Sprintf("iter-%04d", iteration)
	if start+1 < end {
		d.lines[start+1] = iterLine
		if end-(start+1) > 1 {
			d.lines = append(d.lines[:start+2], d.lines[end:]...)
		}
	} else {
		d.insertLine(start+1, iterLine)
	}
}

// ReplaceSectionBody replaces the body of the first matching section with the
// given text. An empty body leaves a single blank line so the heading keeps
// its separation. Missing sections are a no-op.
func (d *Document) ReplaceSectionBody(headings []string, body string) {
	start, end, ok := d.sectionRange(headings)
	if !ok {
		return
	}

	var bodyLines []string
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		bodyLines = []string{""}
	} else {
		for _, line := range strings.Split(trimmed, "\n") {
			bodyLines = append(bodyLines, strings.TrimRight(line, " \t"))
		}
	}

	rebuilt := make([]string, 0, start+1+len(bodyLines)+len(d.lines)-end)
	rebuilt = append(rebuilt, d.lines[:start+1]...)
	rebuilt = append(rebuilt, bodyLines...)
	rebuilt = append(rebuilt, d.lines[end:]...)
	d.lines = rebuilt
}

func (d *Document) insertLine(at int, line string) {
	d.lines = append(d.lines, "")
	copy(d.lines[at+1:], d.lines[at:])
	d.lines[at] = line
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
