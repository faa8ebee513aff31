// Package gitcheck guards bulk file changes behind a clean git working tree.
package gitcheck

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrDirty is returned when the working tree has uncommitted changes.
var ErrDirty = errors.New("working tree has uncommitted changes")

// ErrGitUnavailable is returned when git cannot be run or the directory is not a repository.
var ErrGitUnavailable = errors.New("git is unavailable")

// Checker reports whether a project can be modified safely.
type Checker interface {
	IsClean(ctx context.Context, projectRoot string) error
}

// Git implements Checker by running the git binary.
type Git struct {
	// Binary defaults to "git".
	Binary string
}

func (g Git) bin() string {
	if g.Binary == "" {
		return "git"
	}
	return g.Binary
}

func (g Git) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.bin(), args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%w: git %s: %s", ErrGitUnavailable, strings.Join(args, " "), msg)
	}
	return stdout.String(), nil
}

// Root finds the top-level directory of the repository containing dir.
func (g Git) Root(ctx context.Context, dir string) (string, error) {
	out, err := g.run(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// IsClean returns nil when the working tree has no staged, unstaged or
// untracked changes. It wraps ErrDirty with the offending paths otherwise.
func (g Git) IsClean(ctx context.Context, projectRoot string) error {
	out, err := g.run(ctx, projectRoot, "status", "--porcelain", "--untracked-files=normal")
	if err != nil {
		return err
	}
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return nil
	}
	lines := strings.Split(out, "\n")
	shown := lines
	if len(shown) > 10 {
		shown = shown[:10]
	}
	msg := strings.Join(shown, "; ")
	if len(lines) > len(shown) {
		msg += fmt.Sprintf("; and %d more", len(lines)-len(shown))
	}
	return fmt.Errorf("%w: %s", ErrDirty, msg)
}

// TrackedFiles lists the files git tracks under projectRoot, slash-separated.
func (g Git) TrackedFiles(ctx context.Context, projectRoot string) ([]string, error) {
	out, err := g.run(ctx, projectRoot, "ls-files", "-z")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, f := range strings.Split(out, "\x00") {
		if f != "" {
			files = append(files, f)
		}
	}
	return files, nil
}
