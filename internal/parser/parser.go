package parser

import (
	"regexp"
	"strings"

	"github.com/sokinpui/coda/model"
)

// filePathRegex extracts the file path from a '+++ b/...' line.
var filePathRegex = regexp.MustCompile(`(?m)^\+\+\+ (?:b/)?(?P<path>\S+)`)

// oldPathRegex extracts the file path from a '--- a/...' line, used for deletions.
var oldPathRegex = regexp.MustCompile(`(?m)^--- (?:a/)?(?P<path>\S+)`)

// hunkHeaderRegex matches a unified-diff hunk header line.
var hunkHeaderRegex = regexp.MustCompile(`^@@ -\d+(?:,\d+)? \+\d+(?:,\d+)? @@`)

// ExtractPathFromDiff finds the file path in a raw diff string.
func ExtractPathFromDiff(content string) string {
	if match := filePathRegex.FindStringSubmatch(content); len(match) > 1 {
		if p := strings.TrimSpace(match[1]); p != "/dev/null" {
			return p
		}
	}
	if match := oldPathRegex.FindStringSubmatch(content); len(match) > 1 {
		if p := strings.TrimSpace(match[1]); p != "/dev/null" {
			return p
		}
	}
	return ""
}

// LooksLikeDiff reports whether text is plausibly a unified diff rather than file content.
func LooksLikeDiff(text string) bool {
	t := strings.TrimSpace(text)
	if strings.HasPrefix(t, "diff --git ") {
		return true
	}
	switch {
	case strings.HasPrefix(t, "--- "):
		return strings.Contains(t, "\n+++ ") && strings.Contains(t, "\n@@")
	case strings.HasPrefix(t, "+++ "):
		return strings.Contains(t, "\n@@")
	}
	return hunkHeaderRegex.MatchString(t)
}

// ExtractDiffBlocks finds all diff blocks in pasted content. Fenced blocks
// tagged diff or patch are used when present; otherwise content that is a
// bare diff is returned as a single block. Blocks without a path are dropped.
func ExtractDiffBlocks(content string) []model.DiffBlock {
	var raw []string
	blocks, err := ExtractCodeBlocks([]byte(content))
	if err == nil {
		for _, b := range blocks {
			lang := strings.ToLower(b.Lang)
			if lang == "diff" || lang == "patch" || (lang == "" && LooksLikeDiff(b.Content)) {
				raw = append(raw, b.Content)
			}
		}
	}
	if len(raw) == 0 && LooksLikeDiff(content) {
		raw = append(raw, content)
	}

	var diffs []model.DiffBlock
	for _, r := range raw {
		rawContent := strings.TrimSpace(r) + "\n"
		filePath := ExtractPathFromDiff(rawContent)
		if filePath == "" {
			continue
		}
		diffs = append(diffs, model.DiffBlock{
			FilePath:   filePath,
			RawContent: rawContent,
		})
	}
	return diffs
}
