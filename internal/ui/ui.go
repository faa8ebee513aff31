package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/sokinpui/coda/model"
)

var (
	HeaderColor  = color.New(color.FgBlue, color.Bold)
	InfoColor    = color.New(color.FgCyan)
	SuccessColor = color.New(color.FgGreen)
	WarningColor = color.New(color.FgYellow)
	ErrorColor   = color.New(color.FgRed)
	PathColor    = color.New(color.FgYellow)
	PromptColor  = color.New(color.FgMagenta)
)

// Out receives all console output. Tests swap it for a buffer.
var Out io.Writer = os.Stderr

func Header(format string, a ...interface{}) {
	HeaderColor.Fprintf(Out, format+"\n", a...)
}

func Info(format string, a ...interface{}) {
	InfoColor.Fprintf(Out, format+"\n", a...)
}

func Success(format string, a ...interface{}) {
	SuccessColor.Fprintf(Out, format+"\n", a...)
}

func Warning(format string, a ...interface{}) {
	WarningColor.Fprintf(Out, format+"\n", a...)
}

func Error(format string, a ...interface{}) {
	ErrorColor.Fprintf(Out, format+"\n", a...)
}

func Path(format string, a ...interface{}) {
	PathColor.Fprintf(Out, "  "+format+"\n", a...)
}

func Prompt(format string, a ...interface{}) string {
	return PromptColor.Sprintf(format, a...)
}

// --- Summaries ---

func printList(files []string) {
	for _, f := range files {
		fmt.Fprintf(Out, "  - %s\n", f)
	}
}

// PrintPatchSummary reports the result of applying pasted diffs.
func PrintPatchSummary(s model.Summary) {
	Header("\n--- Patch Summary ---")
	if s.Message != "" {
		Info(s.Message)
	}

	if len(s.Created) == 0 && len(s.Modified) == 0 && len(s.Deleted) == 0 && len(s.Failed) == 0 {
		Info("No files were updated.")
		return
	}

	if len(s.Modified) > 0 {
		Success("Applied diff to %d file(s):", len(s.Modified))
		printList(s.Modified)
	}
	if len(s.Created) > 0 {
		Success("Created %d new file(s):", len(s.Created))
		printList(s.Created)
	}
	if len(s.Deleted) > 0 {
		Success("Deleted %d file(s):", len(s.Deleted))
		printList(s.Deleted)
	}
	if len(s.Failed) > 0 {
		Error("Failed to process %d file(s):", len(s.Failed))
		printList(s.Failed)
	}
}

// PrintApplySummary reports the result of a consolidation apply.
func PrintApplySummary(o model.ApplyOutcome) {
	Header("\n--- Apply Summary ---")
	for _, line := range o.Lines {
		switch {
		case strings.HasPrefix(line, "Failed"):
			ErrorColor.Fprintf(Out, "  %s\n", line)
		case strings.HasPrefix(line, "Skipped"):
			fmt.Fprintf(Out, "  %s\n", line)
		default:
			SuccessColor.Fprintf(Out, "  %s\n", line)
		}
	}
	msg := fmt.Sprintf("%d succeeded, %d failed, %d skipped", o.Success, o.Failed, o.Skipped)
	if o.Failed > 0 {
		Error(msg)
		return
	}
	Success(msg)
}

// --- Progress Bar ---

type ProgressBar struct {
	total   int
	prefix  string
	current int
}

func NewProgressBar(total int, prefix string) *ProgressBar {
	return &ProgressBar{total: total, prefix: prefix}
}

func (p *ProgressBar) Start() {
	p.draw()
}

func (p *ProgressBar) Increment() {
	p.current++
	p.draw()
}

func (p *ProgressBar) Finish() {
	if p.total > 0 {
		fmt.Fprintln(Out)
	}
}

func (p *ProgressBar) draw() {
	if p.total == 0 {
		return
	}
	const barLength = 40
	percent := float64(p.current) / float64(p.total)
	filledLength := int(percent * barLength)
	bar := strings.Repeat("█", filledLength) + strings.Repeat("-", barLength-filledLength)

	percentStr := fmt.Sprintf("%.1f%%", percent*100)
	countStr := fmt.Sprintf("[%d/%d]", p.current, p.total)

	fmt.Fprintf(Out, "\r%s |%s| %s %s", p.prefix, bar, countStr, percentStr)
}
