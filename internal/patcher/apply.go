package patcher

import (
	"fmt"
	"strings"
)

// document is file content split into lines plus its trailing-newline state.
// Lines keep a trailing '\r' when the file uses CRLF endings.
type document struct {
	lines []string
	eol   bool
}

func splitDocument(content string) document {
	if content == "" {
		return document{eol: true}
	}
	eol := strings.HasSuffix(content, "\n")
	return document{
		lines: strings.Split(strings.TrimSuffix(content, "\n"), "\n"),
		eol:   eol,
	}
}

func (d document) String() string {
	if len(d.lines) == 0 {
		return ""
	}
	out := strings.Join(d.lines, "\n")
	if d.eol {
		out += "\n"
	}
	return out
}

// newline is the ending given to added lines: "\r" when the first line of
// the file ends in CRLF.
func (d document) newline() string {
	if len(d.lines) > 0 && strings.HasSuffix(d.lines[0], "\r") {
		return "\r"
	}
	return ""
}

// splice returns the hunk's context and added lines to replace orig, the file
// lines its context and removed lines matched. Context lines keep the line
// ending they had in the file; added lines get cr.
func splice(h Hunk, orig []string, cr string) []string {
	var out []string
	k := 0
	for _, l := range h.Lines {
		if l == "" {
			continue
		}
		switch l[0] {
		case ' ':
			ending := ""
			if strings.HasSuffix(orig[k], "\r") {
				ending = "\r"
			}
			out = append(out, l[1:]+ending)
			k++
		case '-':
			k++
		case '+':
			out = append(out, l[1:]+cr)
		}
	}
	return out
}

// sameLine compares a file line with a diff line, ignoring a CR ending.
func sameLine(have, want string) bool {
	return strings.TrimSuffix(have, "\r") == want
}

// hunkSides splits a hunk into the lines it expects to find (context and
// removed) and the lines it leaves behind (context and added).
func hunkSides(h Hunk) (from, to []string) {
	for _, l := range h.Lines {
		if l == "" {
			continue
		}
		switch l[0] {
		case ' ':
			from = append(from, l[1:])
			to = append(to, l[1:])
		case '-':
			from = append(from, l[1:])
		case '+':
			to = append(to, l[1:])
		}
	}
	return from, to
}

// eolAfter applies "\ No newline at end of file" markers to the new side.
func eolAfter(h Hunk, current bool) bool {
	eol := current
	var prev byte
	for _, l := range h.Lines {
		if l == "" {
			continue
		}
		if l[0] == '\\' {
			switch prev {
			case '+', ' ':
				eol = false
			case '-':
				eol = true
			}
			continue
		}
		prev = l[0]
	}
	return eol
}

// applyExact applies every hunk at its declared position. Context and
// removed lines must match byte for byte.
func applyExact(content string, hunks []Hunk) (string, error) {
	doc := splitDocument(content)
	cr := doc.newline()
	var out []string
	cursor := 0
	eol := doc.eol

	for i, h := range hunks {
		from, _ := hunkSides(h)
		pos := h.OldStart - 1
		if h.OldCount == 0 || len(from) == 0 {
			// Pure insertion: the header names the line after which to insert.
			pos = h.OldStart
		}
		if pos < cursor || pos+len(from) > len(doc.lines) {
			return "", fmt.Errorf("hunk %d: declared range -%d,%d is outside the file", i+1, h.OldStart, h.OldCount)
		}
		for k, want := range from {
			if !sameLine(doc.lines[pos+k], want) {
				return "", fmt.Errorf("hunk %d: line %d does not match: want %q, have %q", i+1, pos+k+1, want, doc.lines[pos+k])
			}
		}
		out = append(out, doc.lines[cursor:pos]...)
		out = append(out, splice(h, doc.lines[pos:pos+len(from)], cr)...)
		cursor = pos + len(from)
		eol = eolAfter(h, eol)
	}
	out = append(out, doc.lines[cursor:]...)

	return document{lines: out, eol: eol || len(out) == 0}.String(), nil
}

// normalizeLineForMatching prepares a line for comparison by trimming whitespace
// and normalizing all internal whitespace sequences to a single space.
func normalizeLineForMatching(line string) string {
	return strings.Join(strings.Fields(line), " ")
}

// matchAt reports whether block matches lines starting at pos, ignoring
// whitespace differences.
func matchAt(lines, block []string, pos int) bool {
	if pos < 0 || pos+len(block) > len(lines) {
		return false
	}
	for k, want := range block {
		if normalizeLineForMatching(lines[pos+k]) != normalizeLineForMatching(want) {
			return false
		}
	}
	return true
}

// findNear searches for block within ±window lines of start, nearest first.
func findNear(lines, block []string, start, window int) int {
	for off := 0; off <= window; off++ {
		if matchAt(lines, block, start-off) {
			return start - off
		}
		if off > 0 && matchAt(lines, block, start+off) {
			return start + off
		}
	}
	return -1
}

// applyFuzzy re-anchors each hunk within ±window lines of its declared start
// (adjusted for earlier hunks), matching context and removed lines without
// regard to whitespace, and splices in the hunk's context and added lines.
// A hunk that cannot be placed fails the whole operation.
func applyFuzzy(content string, hunks []Hunk, window int) (string, error) {
	doc := splitDocument(content)
	lines := append([]string(nil), doc.lines...)
	cr := doc.newline()
	eol := doc.eol
	delta := 0

	for i, h := range hunks {
		from, to := hunkSides(h)
		start := h.OldStart - 1 + delta
		if len(from) == 0 {
			start = h.OldStart + delta
		}
		if start < 0 {
			start = 0
		}
		if start > len(lines) {
			start = len(lines)
		}

		pos := start
		if len(from) > 0 {
			pos = findNear(lines, from, start, window)
			if pos < 0 {
				return "", fmt.Errorf("hunk %d: no match within %d lines of line %d", i+1, window, h.OldStart)
			}
		}

		spliced := make([]string, 0, len(lines)-len(from)+len(to))
		spliced = append(spliced, lines[:pos]...)
		spliced = append(spliced, splice(h, lines[pos:pos+len(from)], cr)...)
		spliced = append(spliced, lines[pos+len(from):]...)
		lines = spliced
		delta += len(to) - len(from)
		eol = eolAfter(h, eol)
	}

	return document{lines: lines, eol: eol || len(lines) == 0}.String(), nil
}
