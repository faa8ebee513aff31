package patcher

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sokinpui/coda/internal/fs"
	"github.com/sokinpui/coda/internal/parser"
)

// DefaultFuzzWindow is how far, in lines, the fuzzy fallback looks around a
// hunk's declared start.
const DefaultFuzzWindow = 3

var (
	// ErrEmptyResult guards against an incomplete diff truncating a file.
	ErrEmptyResult = errors.New("patch would leave a non-empty file empty")
	// ErrTargetExists is returned for a create diff whose target has content.
	ErrTargetExists = errors.New("diff creates a file that already exists")
)

// Op is what a patch does to its target.
type Op int

const (
	OpModify Op = iota
	OpCreate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpDelete:
		return "delete"
	default:
		return "modify"
	}
}

// Result is the outcome of applying a diff in memory.
type Result struct {
	Path    string
	Op      Op
	Content string
	Fuzzy   bool
}

// PatchError wraps any failure to apply a diff to a file.
type PatchError struct {
	File string
	Err  error
}

func (e *PatchError) Error() string {
	return fmt.Sprintf("patch %s: %v", e.File, e.Err)
}

func (e *PatchError) Unwrap() error { return e.Err }

// Options configures an Engine.
type Options struct {
	// FuzzWindow bounds the fuzzy re-anchoring search. Nil means
	// DefaultFuzzWindow, zero tries the declared offset only and a negative
	// value disables the fallback.
	FuzzWindow *int
	FailureLog *FailureLog
	Logger     *zap.Logger
}

// Engine applies unified diffs to file content.
type Engine struct {
	fuzzWindow int
	failures   *FailureLog
	logger     *zap.Logger
	now        func() time.Time
}

// Window returns n as an Options.FuzzWindow value.
func Window(n int) *int { return &n }

// New creates an Engine.
func New(opts Options) *Engine {
	window := DefaultFuzzWindow
	if opts.FuzzWindow != nil {
		window = *opts.FuzzWindow
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		fuzzWindow: window,
		failures:   opts.FailureLog,
		logger:     logger.Named("patcher"),
		now:        time.Now,
	}
}

// CleanDiff strips a surrounding code fence and whitespace from diff text.
func CleanDiff(diffText string) string {
	clean := parser.UnwrapFence(diffText)
	if clean != "" && !strings.HasSuffix(clean, "\n") {
		clean += "\n"
	}
	return clean
}

// Patch applies the first file patch in diffText to content without touching
// the disk. Exact application is tried first, then the fuzzy fallback.
func (e *Engine) Patch(content, diffText string) (Result, error) {
	patches, err := ParseUnifiedDiff(CleanDiff(diffText))
	if err != nil {
		return Result{}, err
	}
	p := patches[0]
	res := Result{Path: p.TargetPath(), Op: OpModify}
	// A patch without an old-file marker whose hunks only add lines creates a
	// missing file but inserts into an existing one.
	switch {
	case p.IsDelete():
		res.Op = OpDelete
		return res, nil
	case p.OldPath == DevNull && content != "":
		return res, ErrTargetExists
	case p.IsCreate() && content == "":
		res.Op = OpCreate
	}

	out, exactErr := applyExact(content, p.Hunks)
	if exactErr != nil {
		if e.fuzzWindow < 0 {
			return res, exactErr
		}
		fuzzed, fuzzyErr := applyFuzzy(content, p.Hunks, e.fuzzWindow)
		if fuzzyErr != nil {
			return res, fmt.Errorf("exact apply failed (%v); fuzzy apply failed: %w", exactErr, fuzzyErr)
		}
		out = fuzzed
		res.Fuzzy = true
	}

	if out == "" && content != "" {
		return res, ErrEmptyResult
	}
	res.Content = out
	return res, nil
}

// ApplyToContent patches content held in memory on behalf of file. Failures
// are recorded in the failure log.
func (e *Engine) ApplyToContent(file, content, diffText string) (Result, error) {
	res, err := e.Patch(content, diffText)
	if res.Path == "" {
		res.Path = file
	}
	if err != nil {
		return res, e.fail(file, diffText, content, err)
	}
	if res.Fuzzy {
		e.logger.Info("applied diff with fuzzy fallback", zap.String("file", file))
	}
	return res, nil
}

// ApplyDiffToFile applies diffText to the file at targetPath. A nil error
// means success. Deleting a missing file succeeds. New content is committed
// through a scratch file so the target is never partially written.
func (e *Engine) ApplyDiffToFile(targetPath, diffText string) error {
	current, _, err := fs.ReadCurrent(targetPath)
	if err != nil {
		return e.fail(targetPath, diffText, "", fmt.Errorf("could not read target: %w", err))
	}

	res, err := e.Patch(current, diffText)
	if err != nil {
		return e.fail(targetPath, diffText, current, err)
	}

	if res.Op == OpDelete {
		removed, err := fs.Remove(targetPath)
		if err != nil {
			return e.fail(targetPath, diffText, current, err)
		}
		e.logger.Info("deleted file from diff", zap.String("file", targetPath), zap.Bool("existed", removed))
		return nil
	}

	if err := fs.WriteAtomic(targetPath, []byte(res.Content)); err != nil {
		return e.fail(targetPath, diffText, current, err)
	}
	e.logger.Info("applied diff",
		zap.String("file", targetPath),
		zap.Stringer("op", res.Op),
		zap.Bool("fuzzy", res.Fuzzy))
	return nil
}

func (e *Engine) fail(file, diffText, content string, cause error) error {
	rec := FailureRecord{
		File:        file,
		Diff:        CleanDiff(diffText),
		FileContent: content,
		Error:       cause.Error(),
		Timestamp:   e.now().UTC(),
	}
	if err := e.failures.Append(rec); err != nil {
		e.logger.Error("could not record patch failure", zap.String("file", file), zap.Error(err))
	}
	e.logger.Warn("patch failed", zap.String("file", file), zap.Error(cause))
	return &PatchError{File: file, Err: cause}
}
