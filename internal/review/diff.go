// Package review turns a final file state into reviewable diffs and asks the
// user to accept or reject them.
package review

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/sokinpui/coda/internal/fs"
	"github.com/sokinpui/coda/model"
)

// UnifiedDiff renders a unified diff of path from current to proposed.
func UnifiedDiff(path, current, proposed string, action model.Action) (string, error) {
	from, to := "a/"+path, "b/"+path
	switch action {
	case model.ActionCreate:
		from = "/dev/null"
	case model.ActionDelete:
		to = "/dev/null"
	}
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(current),
		B:        difflib.SplitLines(proposed),
		FromFile: from,
		ToFile:   to,
		Context:  3,
	})
	if err != nil {
		return "", fmt.Errorf("failed to diff %s: %w", path, err)
	}
	return text, nil
}

// Meaningful reports whether a diff adds or removes at least one line with
// non-whitespace content. Header lines do not count.
func Meaningful(diffText string) bool {
	inHunk := false
	for _, line := range strings.Split(diffText, "\n") {
		if strings.HasPrefix(line, "@@") {
			inHunk = true
			continue
		}
		if !inHunk {
			continue
		}
		if (strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-")) && strings.TrimSpace(line[1:]) != "" {
			return true
		}
	}
	return false
}

// BuildItems diffs every entry of state against the file on disk and keeps
// the meaningful ones, in path order. A deletion of a file that is already
// gone produces no item.
func BuildItems(resolver *fs.PathResolver, state model.FinalFileState) ([]model.ReviewItem, error) {
	var items []model.ReviewItem
	for _, path := range state.Paths() {
		st := state[path]
		current, exists, err := fs.ReadCurrent(resolver.Resolve(path))
		if err != nil {
			return nil, fmt.Errorf("could not read %s: %w", path, err)
		}

		var action model.Action
		proposed := st.Content
		switch {
		case st.Deleted && !exists:
			continue
		case st.Deleted:
			action = model.ActionDelete
			proposed = ""
		case exists:
			action = model.ActionModify
		default:
			action = model.ActionCreate
		}
		if action == model.ActionModify && current == proposed {
			continue
		}

		text, err := UnifiedDiff(path, current, proposed, action)
		if err != nil {
			return nil, err
		}
		if !Meaningful(text) {
			continue
		}
		items = append(items, model.ReviewItem{FilePath: path, Action: action, DiffText: text})
	}
	return items, nil
}

// Summarize renders a one-line-per-file listing of items.
func Summarize(items []model.ReviewItem) string {
	var b strings.Builder
	for _, it := range items {
		added, removed := countLines(it.DiffText)
		fmt.Fprintf(&b, "  %-6s %s (+%d -%d)\n", it.Action, it.FilePath, added, removed)
	}
	return b.String()
}

func countLines(diffText string) (added, removed int) {
	inHunk := false
	for _, line := range strings.Split(diffText, "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			inHunk = true
		case !inHunk:
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}
