package model

import (
	"fmt"
	"sort"
	"strings"
)

// Action is the kind of change planned for a single file.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionModify Action = "MODIFY"
	ActionDelete Action = "DELETE"
)

// ParseAction accepts an action name in any letter case.
func ParseAction(s string) (Action, bool) {
	switch Action(strings.ToUpper(strings.TrimSpace(s))) {
	case ActionCreate:
		return ActionCreate, true
	case ActionModify:
		return ActionModify, true
	case ActionDelete:
		return ActionDelete, true
	}
	return "", false
}

// FileOperation is one planned change, as decided by analysis.
// FilePath is always a normalized, slash-separated relative path.
type FileOperation struct {
	FilePath string `json:"filePath"`
	Action   Action `json:"action"`
}

// OperationGroup is an ordered set of paths generated together.
// Grouping is a hint; generation may still return changes for other paths.
type OperationGroup []string

// FileState is the final state of one path: new content or a confirmed deletion.
type FileState struct {
	Content string
	Deleted bool
}

// DeleteConfirmed marks a path for removal.
var DeleteConfirmed = FileState{Deleted: true}

// Content returns the state for a file that should hold content.
func Content(s string) FileState {
	return FileState{Content: s}
}

func (s FileState) String() string {
	if s.Deleted {
		return "DELETE_CONFIRMED"
	}
	return fmt.Sprintf("content(%d bytes)", len(s.Content))
}

// FinalFileState maps a normalized relative path to its final state.
type FinalFileState map[string]FileState

// Paths returns the keys in lexical order, the order every stage iterates in.
func (s FinalFileState) Paths() []string {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// ReviewItem is a change worth showing to the user.
type ReviewItem struct {
	FilePath string `json:"filePath"`
	Action   Action `json:"action"`
	DiffText string `json:"diffText"`
}

// ApplyOutcome counts the results of one apply run.
type ApplyOutcome struct {
	Success int      `json:"success"`
	Failed  int      `json:"failed"`
	Skipped int      `json:"skipped"`
	Lines   []string `json:"lines"`
}

// Text renders the outcome as the summary persisted to the conversation log.
func (o ApplyOutcome) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Apply finished: %d succeeded, %d failed, %d skipped", o.Success, o.Failed, o.Skipped)
	for _, line := range o.Lines {
		b.WriteString("\n")
		b.WriteString(line)
	}
	return b.String()
}

// DiffBlock represents a raw diff block from pasted content.
type DiffBlock struct {
	FilePath   string
	RawContent string
}

// Summary holds the results of a patch run for display.
type Summary struct {
	Created  []string
	Modified []string
	Deleted  []string
	Failed   []string
	Message  string
}
