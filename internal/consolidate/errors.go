package consolidate

import (
	"fmt"
	"strings"
)

// PreconditionError stops a run before any model call is made.
type PreconditionError struct {
	Err error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed: %v", e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// ModelProtocolError reports model output that could not be used: malformed
// JSON, a missing or wrong function call, or invalid fields.
type ModelProtocolError struct {
	Stage  Stage
	Reason string
	// Raw is the offending model output, truncated.
	Raw string
}

func (e *ModelProtocolError) Error() string {
	return fmt.Sprintf("%s: unusable model output: %s", strings.ToLower(e.Stage.String()), e.Reason)
}

// RawOutput returns the truncated model output.
func (e *ModelProtocolError) RawOutput() string { return e.Raw }

func protocolError(stage Stage, raw string, format string, args ...any) *ModelProtocolError {
	return &ModelProtocolError{Stage: stage, Reason: fmt.Sprintf(format, args...), Raw: truncate(raw, 2000)}
}

// ApplyError is returned when one or more files could not be written or deleted.
type ApplyError struct {
	Failed int
}

func (e *ApplyError) Error() string {
	if e.Failed == 1 {
		return "apply failed for 1 file"
	}
	return fmt.Sprintf("apply failed for %d files", e.Failed)
}

// StageError wraps a fatal error with the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("consolidation failed while %s: %v", strings.ToLower(e.Stage.String()), e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
