// Package coda is the library entry point. An App ties a project directory
// to its conversation, its model provider and the consolidation pipeline.
package coda

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/sokinpui/coda/internal/apply"
	"github.com/sokinpui/coda/internal/config"
	"github.com/sokinpui/coda/internal/consolidate"
	"github.com/sokinpui/coda/internal/conversation"
	"github.com/sokinpui/coda/internal/fs"
	"github.com/sokinpui/coda/internal/gitcheck"
	"github.com/sokinpui/coda/internal/llm"
	"github.com/sokinpui/coda/internal/logging"
	"github.com/sokinpui/coda/internal/nvim"
	"github.com/sokinpui/coda/internal/patcher"
	"github.com/sokinpui/coda/internal/review"
	"github.com/sokinpui/coda/internal/state"
)

// DetailedError is returned when an operation panics. It keeps the stack
// trace of the panic for bug reports.
type DetailedError struct {
	Err   error
	Stack []byte
}

func (e *DetailedError) Error() string {
	return e.Err.Error()
}

func (e *DetailedError) Unwrap() error { return e.Err }

// recoverPanic turns a panic into a *DetailedError stored in err.
func recoverPanic(err *error) {
	if r := recover(); r != nil {
		*err = &DetailedError{
			Err:   fmt.Errorf("internal panic: %v", r),
			Stack: debug.Stack(),
		}
	}
}

// Repository is the git view of the project the App needs.
type Repository interface {
	gitcheck.Checker
	TrackedFiles(ctx context.Context, projectRoot string) ([]string, error)
}

// Option customizes an App.
type Option func(*App)

// WithClient replaces the provider client built from the configuration.
func WithClient(c llm.Client) Option { return func(a *App) { a.client = c } }

// WithReviewer replaces the default reviewer chain.
func WithReviewer(r review.Reviewer) Option { return func(a *App) { a.reviewer = r } }

// WithLogger replaces the file logger.
func WithLogger(l *zap.Logger) Option { return func(a *App) { a.logger = l } }

// WithRepository replaces the git binary.
func WithRepository(r Repository) Option { return func(a *App) { a.repo = r } }

// App is the main application object.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	resolver     *fs.PathResolver
	repo         Repository
	conversation *conversation.Log
	patcher      *patcher.Engine
	history      *state.Store
	reviewer     review.Reviewer
	refresher    apply.Refresher

	clientOnce sync.Once
	client     llm.Client
	clientErr  error

	progressCallback func(current, total int)
	stageCallback    func(stage consolidate.Stage, detail string)
}

// New creates the App for cfg.Root, creating the .coda directory when needed.
func New(cfg config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	resolver, err := fs.NewPathResolver(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("invalid project root: %w", err)
	}
	if err := config.EnsureDir(resolver.Root()); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, resolver: resolver}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		if a.logger, err = logging.New(cfg.LogDir(), cfg.Verbose); err != nil {
			return nil, err
		}
	}
	if a.repo == nil {
		a.repo = gitcheck.Git{}
	}

	a.conversation = conversation.Open(cfg.ConversationPath())
	a.patcher = patcher.New(patcher.Options{
		FuzzWindow: patcher.Window(cfg.Patch.FuzzWindow),
		FailureLog: patcher.NewFailureLog(cfg.FailureLogPath()),
		Logger:     a.logger,
	})
	if a.history, err = state.Open(cfg.HistoryPath()); err != nil {
		return nil, err
	}
	if a.reviewer == nil {
		a.reviewer = review.Chain{
			Reviewers: []review.Reviewer{
				review.Process{Command: cfg.Reviewer.Command, Dir: resolver.Root(), Logger: a.logger.Named("reviewer")},
				review.Terminal{In: os.Stdin, Out: os.Stdout, Disabled: cfg.Reviewer.DisableTUI},
				review.Console{In: os.Stdin, Out: os.Stderr},
			},
			Logger: a.logger,
		}
	}
	if cfg.Nvim.Refresh {
		a.refresher = nvim.FromEnv(a.logger)
	}

	a.logger.Debug("app initialized",
		zap.String("root", resolver.Root()),
		zap.String("provider", cfg.Provider),
		zap.String("strategy", cfg.Generation.Strategy))
	return a, nil
}

// Close releases the history database and flushes the logger.
func (a *App) Close() error {
	err := a.history.Close()
	_ = a.logger.Sync()
	return err
}

// Root is the project directory.
func (a *App) Root() string { return a.resolver.Root() }

// Config returns the configuration the App was built with.
func (a *App) Config() config.Config { return a.cfg }

// SetProgressCallback sets a function to be called on patch progress.
func (a *App) SetProgressCallback(cb func(current, total int)) {
	a.progressCallback = cb
}

// SetStageCallback sets a function to be called on every pipeline transition.
func (a *App) SetStageCallback(cb func(stage consolidate.Stage, detail string)) {
	a.stageCallback = cb
}

// model builds the provider client on first use so that commands which
// never talk to a model work without an API key.
func (a *App) model(ctx context.Context) (llm.Client, error) {
	a.clientOnce.Do(func() {
		if a.client != nil {
			return
		}
		a.client, a.clientErr = llm.New(ctx, llm.Options{
			Provider:        a.cfg.Provider,
			Model:           a.cfg.Model,
			BaseURL:         a.cfg.BaseURL,
			APIKey:          a.cfg.APIKey,
			MaxOutputTokens: a.cfg.MaxOutputTokens,
		}, a.logger)
	})
	return a.client, a.clientErr
}

// CodeContext renders the project files sent to the model: the configured
// includes, or every tracked file when none are configured.
func (a *App) CodeContext(ctx context.Context) (string, error) {
	var paths []string
	var err error
	if len(a.cfg.Context.Include) > 0 {
		paths, err = a.resolver.ExpandIncludes(a.cfg.Context.Include)
	} else {
		paths, err = a.repo.TrackedFiles(ctx, a.resolver.Root())
	}
	if err != nil {
		return "", err
	}
	text, included := a.resolver.Snapshot(paths, a.cfg.Context.MaxBytes)
	if dropped := len(paths) - len(included); dropped > 0 {
		a.logger.Info("code context truncated",
			zap.Int("files", len(included)),
			zap.Int("dropped", dropped),
			zap.Int("max_bytes", a.cfg.Context.MaxBytes))
	}
	return text, nil
}

const chatSystemPrompt = `You are a coding assistant working on the project below.
Discuss and propose changes to the code. When you show a change, name the file and give the code.
The agreed changes will be applied to the project later, so be precise about which files change and how.`

// Chat appends message to the conversation, asks the model for a reply with
// the project code as context, and appends the reply.
func (a *App) Chat(ctx context.Context, message string) (reply string, err error) {
	defer recoverPanic(&err)

	message = strings.TrimSpace(message)
	if message == "" {
		return "", errors.New("empty message")
	}
	client, err := a.model(ctx)
	if err != nil {
		return "", err
	}
	if err := a.conversation.AddMessage(conversation.RoleUser, message); err != nil {
		return "", err
	}

	reply, err = a.chat(ctx, client)
	if err != nil {
		if logErr := a.conversation.Error("chat", err); logErr != nil {
			a.logger.Error("could not write conversation log", zap.Error(logErr))
		}
		return "", err
	}
	if err := a.conversation.AddMessage(conversation.RoleAssistant, reply); err != nil {
		return "", err
	}
	return reply, nil
}

func (a *App) chat(ctx context.Context, client llm.Client) (string, error) {
	conv, err := a.conversation.Load()
	if err != nil {
		return "", fmt.Errorf("could not read conversation: %w", err)
	}
	code, err := a.CodeContext(ctx)
	if err != nil {
		return "", fmt.Errorf("could not build code context: %w", err)
	}

	system := chatSystemPrompt + "\n\n## Code\n\n" + code
	messages := []llm.Message{llm.System(system)}
	for _, m := range conv.Chat() {
		if m.Role == conversation.RoleAssistant {
			messages = append(messages, llm.Assistant(m.Content))
		} else {
			messages = append(messages, llm.User(m.Content))
		}
	}

	reply, err := client.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return "", errors.New("model returned an empty reply")
	}
	return reply, nil
}

// Consolidate runs the analyze, generate, review and apply pipeline over the
// current conversation.
func (a *App) Consolidate(ctx context.Context) (res consolidate.Result, err error) {
	defer recoverPanic(&err)

	strategy, err := consolidate.ParseStrategy(a.cfg.Generation.Strategy)
	if err != nil {
		return consolidate.Result{}, err
	}
	client, err := a.model(ctx)
	if err != nil {
		return consolidate.Result{}, err
	}

	logger := a.logger
	orch := &consolidate.Orchestrator{
		Git:      a.repo,
		Analyzer: consolidate.NewAnalyzer(client, logger),
		Generator: consolidate.NewGenerator(client, a.resolver, consolidate.GeneratorOptions{
			Strategy: strategy,
			Retry: consolidate.RetryPolicy{
				MaxAttempts: a.cfg.Generation.MaxAttempts,
				BaseDelay:   a.cfg.Generation.BaseDelay,
			},
			Patcher: a.patcher,
			Logger:  logger,
		}),
		Reviewer:     a.reviewer,
		Applier:      apply.New(a.resolver, a.refresher, logger),
		Resolver:     a.resolver,
		Conversation: a.conversation,
		CodeContext:  a.CodeContext,
		History:      a.history,
		OnStage:      a.stageCallback,
		Logger:       logger,
	}
	return orch.Run(ctx)
}

// History returns the most recent runs, newest first.
func (a *App) History(ctx context.Context, limit int) ([]state.Run, error) {
	return a.history.Recent(ctx, limit)
}

// Log returns every entry of the conversation log.
func (a *App) Log() ([]conversation.Entry, error) {
	return a.conversation.Entries()
}

// ConversationPath is where the conversation log lives.
func (a *App) ConversationPath() string { return a.conversation.Path() }
