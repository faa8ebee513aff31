package consolidate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sokinpui/coda/internal/fs"
	"github.com/sokinpui/coda/internal/llm"
	"github.com/sokinpui/coda/internal/parser"
	"github.com/sokinpui/coda/internal/patcher"
	"github.com/sokinpui/coda/model"
)

// Strategy selects how final file contents are requested.
type Strategy string

const (
	// StrategyBatched issues one propose_changes call per operation group.
	StrategyBatched Strategy = "batched"
	// StrategyPerFile asks for each file separately, retrying transient errors.
	StrategyPerFile Strategy = "per_file"
)

// ParseStrategy accepts "batched", "per_file" or "per-file".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(StrategyBatched):
		return StrategyBatched, nil
	case string(StrategyPerFile), "per-file", "perfile":
		return StrategyPerFile, nil
	}
	return "", fmt.Errorf("unknown generation strategy %q", s)
}

// RetryPolicy bounds retries of transient model errors.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy is used when a Generator is built without one.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}

// Delay returns the wait after the given zero-based failed attempt: BaseDelay × 2^attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return p.BaseDelay << uint(attempt)
}

// FileFailure records a file whose content could not be generated.
type FileFailure struct {
	Path string
	Err  error
}

// Generation is the output of the Generator.
type Generation struct {
	State model.FinalFileState
	// Failures lists files skipped by the per-file strategy.
	Failures []FileFailure
	// Reconciled lists paths forced to DELETE_CONFIRMED by the analysis.
	Reconciled []string
}

// GeneratorOptions configures a Generator.
type GeneratorOptions struct {
	Strategy Strategy
	Retry    RetryPolicy
	// Patcher applies unified-diff replies in the per-file strategy.
	Patcher *patcher.Engine
	Logger  *zap.Logger
}

// Generator obtains final content for every file the analysis flagged.
type Generator struct {
	client   llm.Client
	resolver *fs.PathResolver
	strategy Strategy
	retry    RetryPolicy
	patcher  *patcher.Engine
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewGenerator creates a Generator reading current files through resolver.
func NewGenerator(client llm.Client, resolver *fs.PathResolver, opts GeneratorOptions) *Generator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retry := opts.Retry
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if retry.BaseDelay < 0 {
		retry.BaseDelay = 0
	}
	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyBatched
	}
	engine := opts.Patcher
	if engine == nil {
		engine = patcher.New(patcher.Options{Logger: logger})
	}
	return &Generator{
		client:   client,
		resolver: resolver,
		strategy: strategy,
		retry:    retry,
		patcher:  engine,
		logger:   logger.Named("generator"),
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Generate produces the final file state for analysis and reconciles it
// against the analysis DELETE list.
func (g *Generator) Generate(ctx context.Context, req Request, analysis Analysis) (Generation, error) {
	var gen Generation
	var err error
	switch g.strategy {
	case StrategyPerFile:
		gen, err = g.generatePerFile(ctx, req, analysis)
	default:
		gen, err = g.generateBatched(ctx, req, analysis)
	}
	if err != nil {
		return Generation{}, err
	}
	gen.Reconciled = Reconcile(gen.State, analysis.Operations)
	for _, p := range gen.Reconciled {
		g.logger.Info("analysis delete overrides generated state", zap.String("file", p))
	}
	return gen, nil
}

// Reconcile marks every path the analysis deletes as DELETE_CONFIRMED,
// overriding generated content. It returns the paths whose state changed.
func Reconcile(state model.FinalFileState, ops []model.FileOperation) []string {
	var changed []string
	for _, op := range ops {
		if op.Action != model.ActionDelete {
			continue
		}
		if cur, ok := state[op.FilePath]; ok && cur.Deleted {
			continue
		}
		state[op.FilePath] = model.DeleteConfirmed
		changed = append(changed, op.FilePath)
	}
	return changed
}

// withRetry runs fn until it succeeds, fails with a non-transient error or
// the attempt budget is spent.
func (g *Generator) withRetry(ctx context.Context, what string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !llm.IsTransient(err) || attempt+1 >= g.retry.MaxAttempts {
			return err
		}
		delay := g.retry.Delay(attempt)
		g.logger.Warn("transient model error, retrying",
			zap.String("request", what),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := g.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (g *Generator) generateBatched(ctx context.Context, req Request, analysis Analysis) (Generation, error) {
	gen := Generation{State: model.FinalFileState{}}
	for i, group := range analysis.Plan() {
		if err := ctx.Err(); err != nil {
			return Generation{}, err
		}
		var ops []model.FileOperation
		for _, p := range group {
			if op, ok := analysis.Operation(p); ok {
				ops = append(ops, op)
			}
		}
		messages := []llm.Message{
			llm.System(generationSystemPrompt),
			llm.User(batchPrompt(req, analysis.Operations, ops)),
		}
		var resp llm.Response
		err := g.withRetry(ctx, fmt.Sprintf("group %d", i+1), func() error {
			var err error
			resp, err = g.client.CallFunction(ctx, messages, llm.ProposeChangesTool())
			return err
		})
		if err != nil {
			return Generation{}, err
		}
		changes, err := ParseProposedChanges(resp)
		if err != nil {
			return Generation{}, err
		}
		for path, st := range changes {
			gen.State[path] = st
		}
		g.logger.Info("group generated", zap.Int("group", i+1), zap.Int("files", len(group)), zap.Int("changes", len(changes)))
		for _, p := range group {
			if _, ok := changes[p]; !ok {
				g.logger.Warn("model returned no content for planned file", zap.String("file", p))
			}
		}
	}
	return gen, nil
}

type proposedChange struct {
	FilePath *string `json:"filePath"`
	Action   *string `json:"action"`
	Content  *string `json:"content"`
}

// ParseProposedChanges validates a propose_changes call. A plain-text reply
// is a protocol error.
func ParseProposedChanges(resp llm.Response) (model.FinalFileState, error) {
	if resp.Call == nil {
		return nil, protocolError(StageGenerating, resp.Text, "model replied with text instead of calling %s", llm.ProposeChangesName)
	}
	raw := string(resp.Call.Arguments)
	if resp.Call.Name != llm.ProposeChangesName {
		return nil, protocolError(StageGenerating, raw, "model called %q instead of %s", resp.Call.Name, llm.ProposeChangesName)
	}
	var args struct {
		Changes *[]json.RawMessage `json:"changes"`
	}
	if err := json.Unmarshal(resp.Call.Arguments, &args); err != nil {
		return nil, protocolError(StageGenerating, raw, "arguments are not valid JSON: %v", err)
	}
	if args.Changes == nil {
		return nil, protocolError(StageGenerating, raw, `"changes" is required`)
	}

	state := model.FinalFileState{}
	for i, item := range *args.Changes {
		var c proposedChange
		if err := json.Unmarshal(item, &c); err != nil {
			return nil, protocolError(StageGenerating, raw, "change %d is not an object: %v", i, err)
		}
		if c.FilePath == nil || strings.TrimSpace(*c.FilePath) == "" {
			return nil, protocolError(StageGenerating, raw, "change %d has no filePath", i)
		}
		path, err := fs.NormalizePath(*c.FilePath)
		if err != nil {
			return nil, protocolError(StageGenerating, raw, "change %d: %v", i, err)
		}
		if c.Action == nil {
			return nil, protocolError(StageGenerating, raw, "change %d (%s) has no action", i, path)
		}
		action, ok := model.ParseAction(*c.Action)
		if !ok {
			return nil, protocolError(StageGenerating, raw, "change %d (%s) has unknown action %q", i, path, *c.Action)
		}
		if action == model.ActionDelete {
			state[path] = model.DeleteConfirmed
			continue
		}
		if c.Content == nil {
			return nil, protocolError(StageGenerating, raw, "change %d (%s) is %s without content", i, path, action)
		}
		state[path] = model.Content(*c.Content)
	}
	return state, nil
}

func (g *Generator) generatePerFile(ctx context.Context, req Request, analysis Analysis) (Generation, error) {
	gen := Generation{State: model.FinalFileState{}}
	for _, op := range analysis.Operations {
		if op.Action == model.ActionDelete {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Generation{}, err
		}
		st, err := g.generateFile(ctx, req, op)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return Generation{}, err
			}
			g.logger.Error("generation failed for file", zap.String("file", op.FilePath), zap.Error(err))
			gen.Failures = append(gen.Failures, FileFailure{Path: op.FilePath, Err: err})
			continue
		}
		gen.State[op.FilePath] = st
	}
	return gen, nil
}

func (g *Generator) generateFile(ctx context.Context, req Request, op model.FileOperation) (model.FileState, error) {
	current, exists, err := fs.ReadCurrent(g.resolver.Resolve(op.FilePath))
	if err != nil {
		return model.FileState{}, fmt.Errorf("could not read %s: %w", op.FilePath, err)
	}
	messages := []llm.Message{
		llm.System(perFileSystemPrompt),
		llm.User(perFilePrompt(req, op, current, exists)),
	}
	var reply string
	err = g.withRetry(ctx, op.FilePath, func() error {
		var err error
		reply, err = g.client.Complete(ctx, messages)
		return err
	})
	if err != nil {
		return model.FileState{}, err
	}
	return g.interpretReply(op.FilePath, current, reply)
}

// interpretReply turns a per-file reply into a state: the delete sentinel, a
// unified diff or bare hunk against current, or full content. Unfenced
// content keeps its leading indentation.
func (g *Generator) interpretReply(path, current, reply string) (model.FileState, error) {
	body := parser.UnwrapFence(reply)
	trimmed := strings.TrimSpace(body)
	switch {
	case trimmed == "":
		return model.FileState{}, protocolError(StageGenerating, reply, "empty reply for %s", path)
	case trimmed == DeleteSentinel:
		return model.DeleteConfirmed, nil
	case parser.LooksLikeDiff(trimmed):
		res, err := g.patcher.ApplyToContent(path, current, trimmed)
		if err != nil {
			return model.FileState{}, err
		}
		if res.Op == patcher.OpDelete {
			return model.DeleteConfirmed, nil
		}
		return model.Content(res.Content), nil
	}
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	return model.Content(body), nil
}
