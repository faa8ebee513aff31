// Package consolidate turns a conversation into an applied set of file
// changes: analyze, generate, review, apply.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sokinpui/coda/internal/apply"
	"github.com/sokinpui/coda/internal/conversation"
	"github.com/sokinpui/coda/internal/fs"
	"github.com/sokinpui/coda/internal/gitcheck"
	"github.com/sokinpui/coda/internal/review"
	"github.com/sokinpui/coda/internal/state"
	"github.com/sokinpui/coda/model"
)

// Recorder persists a summary of each run.
type Recorder interface {
	Record(ctx context.Context, run state.Run) error
}

// Orchestrator sequences the pipeline stages for one project.
type Orchestrator struct {
	Git          gitcheck.Checker
	Analyzer     *Analyzer
	Generator    *Generator
	Reviewer     review.Reviewer
	Applier      *apply.Applier
	Resolver     *fs.PathResolver
	Conversation *conversation.Log
	// CodeContext renders the project files sent to the model.
	CodeContext func(ctx context.Context) (string, error)
	// History is optional.
	History Recorder
	// OnStage is called after every transition. Optional.
	OnStage func(stage Stage, detail string)
	Logger  *zap.Logger
}

// Result describes a finished run.
type Result struct {
	RunID      string
	Stage      Stage
	Operations []model.FileOperation
	Items      []model.ReviewItem
	Failures   []FileFailure
	Outcome    model.ApplyOutcome
	Message    string
}

type run struct {
	o       *Orchestrator
	logger  *zap.Logger
	result  Result
	started time.Time
	state   model.FinalFileState
}

// Run executes the pipeline once. A rejected review ends in StageAborted
// with a nil error. Fatal errors are logged to the conversation before they
// are returned, wrapped in a *StageError.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &run{
		o:       o,
		result:  Result{RunID: uuid.NewString(), Stage: StageIdle},
		started: time.Now(),
	}
	r.logger = logger.Named("consolidate").With(zap.String("run", r.result.RunID))

	err := r.execute(ctx)
	r.record(ctx)
	return r.result, err
}

func (r *run) transition(to Stage, detail string) {
	from := r.result.Stage
	r.result.Stage = to
	msg := fmt.Sprintf("Consolidation %s: %s -> %s", r.result.RunID, from, to)
	if detail != "" {
		msg += ": " + detail
	}
	if err := r.o.Conversation.System(msg); err != nil {
		r.logger.Error("could not write conversation log", zap.Error(err))
	}
	r.logger.Info("stage transition", zap.Stringer("from", from), zap.Stringer("to", to), zap.String("detail", detail))
	if r.o.OnStage != nil {
		r.o.OnStage(to, detail)
	}
}

// fail logs err as an error entry, together with the model output behind a
// protocol error, moves to Failed and returns it wrapped.
func (r *run) fail(stage Stage, err error) error {
	if logErr := r.o.Conversation.Error(stage.String(), err); logErr != nil {
		r.logger.Error("could not write conversation log", zap.Error(logErr))
	}
	var protoErr *ModelProtocolError
	if errors.As(err, &protoErr) && protoErr.Raw != "" {
		r.logger.Warn("model protocol error", zap.String("reason", protoErr.Reason), zap.String("raw", protoErr.Raw))
	}
	r.result.Message = err.Error()
	r.transition(StageFailed, err.Error())
	return &StageError{Stage: stage, Err: err}
}

func (r *run) finish(stage Stage, message string) error {
	r.result.Message = message
	r.transition(stage, message)
	return nil
}

func (r *run) execute(ctx context.Context) error {
	o := r.o
	if err := o.Git.IsClean(ctx, o.Resolver.Root()); err != nil {
		return r.fail(StageIdle, &PreconditionError{Err: err})
	}

	r.transition(StageAnalyzing, "")
	req, err := r.request(ctx)
	if err != nil {
		return r.fail(StageAnalyzing, err)
	}
	analysis, err := o.Analyzer.Analyze(ctx, req)
	if err != nil {
		return r.fail(StageAnalyzing, err)
	}
	r.result.Operations = analysis.Operations
	if len(analysis.Operations) == 0 {
		return r.finish(StageCompleted, "no changes needed")
	}

	r.transition(StageGenerating, fmt.Sprintf("%d operation(s) in %d group(s)", len(analysis.Operations), len(analysis.Plan())))
	gen, err := o.Generator.Generate(ctx, req, analysis)
	if err != nil {
		return r.fail(StageGenerating, err)
	}
	r.state = gen.State
	r.result.Failures = gen.Failures
	for _, f := range gen.Failures {
		if err := o.Conversation.Error(StageGenerating.String()+" "+f.Path, f.Err); err != nil {
			r.logger.Error("could not write conversation log", zap.Error(err))
		}
	}

	r.transition(StageReviewing, fmt.Sprintf("%d file(s) generated", len(gen.State)))
	items, err := review.BuildItems(o.Resolver, gen.State)
	if err != nil {
		return r.fail(StageReviewing, err)
	}
	r.result.Items = items
	if len(items) == 0 {
		return r.finish(StageCompleted, "nothing to apply")
	}
	accepted, err := o.Reviewer.Review(ctx, items)
	if err != nil {
		return r.fail(StageReviewing, err)
	}
	if !accepted {
		return r.finish(StageAborted, "changes rejected by user")
	}

	r.transition(StageApplying, fmt.Sprintf("%d file(s) approved", len(items)))
	outcome, applyErr := o.Applier.Apply(ctx, gen.State, items)
	r.result.Outcome = outcome
	if err := o.Conversation.System(outcome.Text()); err != nil {
		r.logger.Error("could not write conversation log", zap.Error(err))
	}
	if applyErr != nil {
		return r.fail(StageApplying, applyErr)
	}
	if outcome.Failed > 0 {
		return r.fail(StageApplying, &ApplyError{Failed: outcome.Failed})
	}
	return r.finish(StageCompleted, fmt.Sprintf("%d file(s) changed", outcome.Success))
}

func (r *run) request(ctx context.Context) (Request, error) {
	conv, err := r.o.Conversation.Load()
	if err != nil {
		return Request{}, fmt.Errorf("could not read conversation: %w", err)
	}
	var code string
	if r.o.CodeContext != nil {
		code, err = r.o.CodeContext(ctx)
		if err != nil {
			return Request{}, fmt.Errorf("could not build code context: %w", err)
		}
	}
	return Request{Code: code, Transcript: conversation.Conversation{Messages: conv.Chat()}.Transcript()}, nil
}

func (r *run) record(ctx context.Context) {
	if r.o.History == nil {
		return
	}
	rec := state.Run{
		ID:         r.result.RunID,
		Kind:       "consolidate",
		StartedAt:  r.started,
		FinishedAt: time.Now(),
		Stage:      r.result.Stage.String(),
		Success:    r.result.Outcome.Success,
		Failed:     r.result.Outcome.Failed,
		Skipped:    r.result.Outcome.Skipped,
		Message:    r.result.Message,
	}
	if r.result.Stage == StageCompleted || r.result.Stage == StageFailed {
		for _, it := range r.result.Items {
			if _, ok := r.state[it.FilePath]; ok {
				rec.Files = append(rec.Files, state.NewFileRecord(r.o.Resolver.Resolve(it.FilePath), it.FilePath, string(it.Action)))
			}
		}
	}
	if err := r.o.History.Record(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Warn("could not record run history", zap.Error(err))
	}
}
