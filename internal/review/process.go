package review

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/sokinpui/coda/model"
)

// Message types exchanged with an external viewer.
const (
	msgRequestStatus = "requestStatus"
	msgDiffResult    = "diffResult"
	msgApplyDiff     = "applyDiff"
	msgRejectDiff    = "rejectDiff"
	msgDiffApplied   = "diffApplied"
)

type viewerFile struct {
	Path    string       `json:"path"`
	Action  model.Action `json:"action"`
	Content string       `json:"content"`
}

type viewerMessage struct {
	Type   string       `json:"type"`
	Status *bool        `json:"status,omitempty"`
	Files  []viewerFile `json:"files,omitempty"`
}

// Process runs an external diff viewer and talks to it with newline-delimited
// JSON over its stdin and stdout.
type Process struct {
	// Command is the viewer argv. An empty command makes the reviewer unavailable.
	Command []string
	Dir     string
	Logger  *zap.Logger
}

func (p Process) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func (p Process) Review(ctx context.Context, items []model.ReviewItem) (bool, error) {
	if len(p.Command) == 0 {
		return false, ErrUnavailable
	}
	cmd := exec.CommandContext(ctx, p.Command[0], p.Command[1:]...)
	cmd.Dir = p.Dir
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("%w: could not start %s: %v", ErrUnavailable, p.Command[0], err)
	}
	p.logger().Info("started external reviewer", zap.Strings("command", p.Command), zap.Int("pid", cmd.Process.Pid))

	accepted, convErr := converse(stdin, stdout, items)
	stdin.Close()
	waitErr := cmd.Wait()
	if convErr != nil {
		return false, convErr
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if waitErr != nil {
		p.logger().Warn("external reviewer exited with error", zap.Error(waitErr))
	}
	return accepted, nil
}

// converse sends the review items and waits for a decision. EOF counts as a rejection.
func converse(w io.Writer, r io.Reader, items []model.ReviewItem) (bool, error) {
	enc := json.NewEncoder(w)
	pending := false
	files := make([]viewerFile, 0, len(items))
	for _, it := range items {
		files = append(files, viewerFile{Path: it.FilePath, Action: it.Action, Content: it.DiffText})
	}
	if err := enc.Encode(viewerMessage{Type: msgRequestStatus, Status: &pending}); err != nil {
		return false, fmt.Errorf("failed to send to reviewer: %w", err)
	}
	if err := enc.Encode(viewerMessage{Type: msgDiffResult, Files: files}); err != nil {
		return false, fmt.Errorf("failed to send to reviewer: %w", err)
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var msg viewerMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		switch msg.Type {
		case msgApplyDiff:
			// The viewer may exit right after accepting.
			_ = enc.Encode(viewerMessage{Type: msgDiffApplied})
			return true, nil
		case msgRejectDiff:
			return false, nil
		}
	}
	if err := sc.Err(); err != nil {
		return false, fmt.Errorf("failed to read from reviewer: %w", err)
	}
	return false, nil
}
