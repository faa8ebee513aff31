package patcher

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DevNull is the null-device marker used for the missing side of a diff.
const DevNull = "/dev/null"

// ErrNoPatchData is returned when the text contains no file patch at all.
var ErrNoPatchData = errors.New("no patch data found")

// Hunk is one contiguous block of a file patch. Lines keep their leading
// ' ', '+', '-' or '\' marker.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []string
}

// FilePatch is the set of hunks for a single file.
type FilePatch struct {
	OldPath string
	NewPath string
	Hunks   []Hunk
}

// IsCreate reports whether the patch creates a file: the old side is the
// null device, or there is no old-file marker and no hunk expects existing lines.
func (p FilePatch) IsCreate() bool {
	if p.OldPath == DevNull {
		return true
	}
	if p.OldPath != "" || len(p.Hunks) == 0 {
		return false
	}
	for _, h := range p.Hunks {
		if h.OldCount != 0 {
			return false
		}
	}
	return true
}

// IsDelete reports whether the patch deletes a file.
func (p FilePatch) IsDelete() bool {
	return p.NewPath == DevNull
}

// TargetPath returns the path the patch applies to, without a/ or b/ prefixes.
func (p FilePatch) TargetPath() string {
	if p.IsDelete() {
		return p.OldPath
	}
	return p.NewPath
}

var hunkHeaderRegex = regexp.MustCompile(`^@@\s+-(\d+)(?:,(\d+))?\s+\+(\d+)(?:,(\d+))?\s+@@`)

// ParseUnifiedDiff parses text into file patches. Headers may come from
// `git diff` (with a "diff --git" line) or from plain `diff -u`; a "+++" line
// or a hunk without any header opens a patch with no old-file marker.
//
// Hunk bodies are read by the line counts of their headers, so removed or
// added lines that look like headers stay in the hunk. A body that ends
// before its counts are met is an error, except for trailing blank context
// lines lost at the end of the text.
func ParseUnifiedDiff(text string) ([]FilePatch, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")

	var patches []FilePatch
	var current *FilePatch
	var hunk *Hunk
	var oldLeft, newLeft int
	// closed is set right after a hunk's counts are met.
	closed := false

	flushHunk := func() {
		if current != nil && hunk != nil {
			current.Hunks = append(current.Hunks, *hunk)
		}
		hunk = nil
	}
	flushFile := func() {
		flushHunk()
		if current != nil {
			patches = append(patches, *current)
		}
		current = nil
	}
	// openFile starts a new patch unless the current one is still collecting headers.
	openFile := func() {
		if current == nil || len(current.Hunks) > 0 || hunk != nil {
			flushFile()
			current = &FilePatch{}
		}
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if hunk != nil && (oldLeft > 0 || newLeft > 0) {
			kind := byte(' ')
			if line != "" {
				kind = line[0]
			}
			switch {
			case kind == ' ' && oldLeft > 0 && newLeft > 0:
				oldLeft--
				newLeft--
			case kind == '-' && oldLeft > 0:
				oldLeft--
			case kind == '+' && newLeft > 0:
				newLeft--
			case kind == '\\':
			default:
				return nil, fmt.Errorf("hunk -%d,%d +%d,%d: line %q does not fit (%d old and %d new lines left)",
					hunk.OldStart, hunk.OldCount, hunk.NewStart, hunk.NewCount, line, oldLeft, newLeft)
			}
			if line == "" {
				// Editors and models often drop the space on blank context lines.
				line = " "
			}
			hunk.Lines = append(hunk.Lines, line)
			closed = oldLeft == 0 && newLeft == 0
			continue
		}

		if closed {
			closed = false
			if strings.HasPrefix(line, "\\") {
				hunk.Lines = append(hunk.Lines, line)
				continue
			}
			isHeader := strings.HasPrefix(line, "+++ ") || strings.HasPrefix(line, "@@") ||
				(strings.HasPrefix(line, "--- ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ "))
			if !isHeader && (strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-")) {
				return nil, fmt.Errorf("hunk -%d,%d +%d,%d: more lines than the header declares: %q",
					hunk.OldStart, hunk.OldCount, hunk.NewStart, hunk.NewCount, line)
			}
		}

		switch {
		case strings.HasPrefix(line, "diff --git "):
			flushFile()
			current = &FilePatch{}
			if parts := strings.Fields(line); len(parts) >= 4 {
				current.OldPath = trimDiffPath(parts[2])
				current.NewPath = trimDiffPath(parts[3])
			}

		case strings.HasPrefix(line, "--- ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ "):
			openFile()
			current.OldPath = parseHeaderPath(strings.TrimPrefix(line, "--- "))
			current.NewPath = parseHeaderPath(strings.TrimPrefix(lines[i+1], "+++ "))
			i++

		case strings.HasPrefix(line, "+++ "):
			openFile()
			current.NewPath = parseHeaderPath(strings.TrimPrefix(line, "+++ "))

		case strings.HasPrefix(line, "@@"):
			h, err := parseHunkHeader(line)
			if err != nil {
				return nil, err
			}
			if current == nil {
				current = &FilePatch{}
			}
			flushHunk()
			hunk = &h
			oldLeft, newLeft = h.OldCount, h.NewCount
			closed = oldLeft == 0 && newLeft == 0

		case current != nil && hunk == nil && strings.HasPrefix(line, "deleted file mode"):
			current.NewPath = DevNull
		case current != nil && hunk == nil && strings.HasPrefix(line, "new file mode"):
			current.OldPath = DevNull
		}
	}

	if hunk != nil && (oldLeft > 0 || newLeft > 0) {
		if oldLeft != newLeft {
			return nil, fmt.Errorf("hunk -%d,%d +%d,%d: body ends early (%d old and %d new lines missing)",
				hunk.OldStart, hunk.OldCount, hunk.NewStart, hunk.NewCount, oldLeft, newLeft)
		}
		for ; oldLeft > 0; oldLeft-- {
			hunk.Lines = append(hunk.Lines, " ")
		}
	}
	flushFile()

	var out []FilePatch
	for _, p := range patches {
		if p.OldPath == "" && p.NewPath == "" && len(p.Hunks) == 0 {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, ErrNoPatchData
	}
	return out, nil
}

func parseHunkHeader(line string) (Hunk, error) {
	m := hunkHeaderRegex.FindStringSubmatch(line)
	if m == nil {
		return Hunk{}, fmt.Errorf("invalid hunk header: %q", line)
	}
	atoi := func(s string, def int) int {
		if s == "" {
			return def
		}
		n, _ := strconv.Atoi(s)
		return n
	}
	return Hunk{
		OldStart: atoi(m[1], 0),
		OldCount: atoi(m[2], 1),
		NewStart: atoi(m[3], 0),
		NewCount: atoi(m[4], 1),
	}, nil
}

func parseHeaderPath(raw string) string {
	raw = strings.TrimSpace(raw)
	// Drop a trailing timestamp as written by `diff -u`.
	if i := strings.IndexByte(raw, '\t'); i >= 0 {
		raw = raw[:i]
	}
	if fields := strings.Fields(raw); len(fields) > 0 {
		raw = fields[0]
	}
	return trimDiffPath(raw)
}

func trimDiffPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == DevNull {
		return raw
	}
	raw = strings.TrimPrefix(raw, "a/")
	raw = strings.TrimPrefix(raw, "b/")
	return raw
}
