package consolidate

import (
	"fmt"
	"strings"

	"github.com/sokinpui/coda/model"
)

// DeleteSentinel is the reply that asks for a file to be removed in the
// per-file strategy.
const DeleteSentinel = "DELETE_FILE"

// Request is the context shared by every model call of one run.
type Request struct {
	// Code is the rendered snapshot of the project files.
	Code string
	// Transcript is the conversation so far.
	Transcript string
}

const analysisSystemPrompt = `You plan file changes for a software project.
Read the code and the conversation, then decide which files must be created, modified or deleted so the project reflects everything that was agreed.
Reply with a single JSON object and nothing else:
{"operations": [{"filePath": "relative/path", "action": "CREATE" | "MODIFY" | "DELETE"}], "groups": [["relative/path", ...]]}
Paths are relative to the project root and use forward slashes.
"groups" batches related CREATE/MODIFY files that should be written together; it may be empty.
If nothing needs to change, reply with {"operations": [], "groups": []}.`

const generationSystemPrompt = `You write the final content of files in a software project.
Apply everything agreed in the conversation. Keep unrelated code unchanged.
Call the ` + "`propose_changes`" + ` function exactly once. Give the complete file content for every CREATE and MODIFY; never abbreviate or elide code.`

const perFileSystemPrompt = `You write the final content of one file in a software project.
Apply everything agreed in the conversation that concerns this file. Keep unrelated code unchanged.
Reply with the complete new file content in a single fenced code block and nothing else.
If the file should be removed, reply with exactly ` + DeleteSentinel + `.`

func contextBlock(req Request) string {
	var b strings.Builder
	b.WriteString("## Code\n\n")
	if strings.TrimSpace(req.Code) == "" {
		b.WriteString("(no files)\n")
	} else {
		b.WriteString(req.Code)
	}
	b.WriteString("\n## Conversation\n\n")
	if strings.TrimSpace(req.Transcript) == "" {
		b.WriteString("(empty)\n")
	} else {
		b.WriteString(req.Transcript)
	}
	return b.String()
}

func analysisPrompt(req Request) string {
	return contextBlock(req) + "\nList the file operations now."
}

func operationList(ops []model.FileOperation) string {
	var b strings.Builder
	for _, op := range ops {
		fmt.Fprintf(&b, "- %s %s\n", op.Action, op.FilePath)
	}
	return b.String()
}

func batchPrompt(req Request, all, group []model.FileOperation) string {
	var b strings.Builder
	b.WriteString(contextBlock(req))
	b.WriteString("\n## Planned operations\n\n")
	b.WriteString(operationList(all))
	b.WriteString("\n## Files to write now\n\n")
	b.WriteString(operationList(group))
	return b.String()
}

func perFilePrompt(req Request, op model.FileOperation, current string, exists bool) string {
	var b strings.Builder
	b.WriteString(contextBlock(req))
	fmt.Fprintf(&b, "\n## Target file: %s (%s)\n\n", op.FilePath, op.Action)
	if exists {
		fmt.Fprintf(&b, "Current content:\n```\n%s\n```\n", strings.TrimRight(current, "\n"))
	} else {
		b.WriteString("The file does not exist yet.\n")
	}
	return b.String()
}
