package consolidate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sokinpui/coda/internal/apply"
	"github.com/sokinpui/coda/internal/conversation"
	"github.com/sokinpui/coda/internal/fs"
	"github.com/sokinpui/coda/internal/review"
	"github.com/sokinpui/coda/internal/state"
	"github.com/sokinpui/coda/model"
)

type gitStub struct{ err error }

func (g gitStub) IsClean(context.Context, string) error { return g.err }

type historyStub struct{ runs []state.Run }

func (h *historyStub) Record(_ context.Context, run state.Run) error {
	h.runs = append(h.runs, run)
	return nil
}

type fixture struct {
	root     string
	client   *fakeClient
	log      *conversation.Log
	history  *historyStub
	reviewed [][]model.ReviewItem
	accept   bool
	stages   []Stage
	orch     *Orchestrator
}

func newFixture(t *testing.T, git gitStub) *fixture {
	t.Helper()
	root := t.TempDir()
	resolver, err := fs.NewPathResolver(root)
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)

	f := &fixture{
		root:    root,
		client:  &fakeClient{},
		log:     conversation.Open(filepath.Join(root, ".coda", "conversation.jsonl")),
		history: &historyStub{},
		accept:  true,
	}
	require.NoError(t, f.log.AddMessage(conversation.RoleUser, "create a.ts with export const x = 1;"))
	require.NoError(t, f.log.AddMessage(conversation.RoleAssistant, "Sure, a.ts will export x."))

	f.orch = &Orchestrator{
		Git:       git,
		Analyzer:  NewAnalyzer(f.client, logger),
		Generator: NewGenerator(f.client, resolver, GeneratorOptions{Logger: logger}),
		Reviewer: review.Func(func(_ context.Context, items []model.ReviewItem) (bool, error) {
			f.reviewed = append(f.reviewed, items)
			return f.accept, nil
		}),
		Applier:      apply.New(resolver, nil, logger),
		Resolver:     resolver,
		Conversation: f.log,
		CodeContext:  func(context.Context) (string, error) { return "File: README.md\n", nil },
		History:      f.history,
		OnStage:      func(s Stage, _ string) { f.stages = append(f.stages, s) },
		Logger:       logger,
	}
	return f
}

func (f *fixture) systemEntries(t *testing.T) []conversation.Entry {
	t.Helper()
	entries, err := f.log.Entries()
	require.NoError(t, err)
	var out []conversation.Entry
	for _, e := range entries {
		if e.Type != conversation.TypeMessage {
			out = append(out, e)
		}
	}
	return out
}

func TestEndToEndCreate(t *testing.T) {
	f := newFixture(t, gitStub{})
	f.client.
		onComplete(`{"operations":[{"filePath":"a.ts","action":"CREATE"}],"groups":[]}`, nil).
		onCall(proposeCall(change{FilePath: "a.ts", Action: "CREATE", Content: str("export const x = 1;\n")}), nil)

	res, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StageCompleted, res.Stage)
	assert.Equal(t, model.ApplyOutcome{Success: 1, Lines: []string{"Created a.ts"}}, res.Outcome)
	require.Len(t, f.reviewed, 1)
	require.Len(t, f.reviewed[0], 1)
	assert.Equal(t, model.ActionCreate, f.reviewed[0][0].Action)

	data, err := os.ReadFile(filepath.Join(f.root, "a.ts"))
	require.NoError(t, err)
	assert.Equal(t, "export const x = 1;\n", string(data))

	assert.Equal(t, []Stage{StageAnalyzing, StageGenerating, StageReviewing, StageApplying, StageCompleted}, f.stages)

	entries := f.systemEntries(t)
	var joined []string
	for _, e := range entries {
		joined = append(joined, e.Content)
	}
	text := strings.Join(joined, "\n")
	assert.Contains(t, text, "Idle -> Analyzing")
	assert.Contains(t, text, "Applying -> Completed")
	assert.Contains(t, text, "Apply finished: 1 succeeded, 0 failed, 0 skipped")

	analysisPrompt := f.client.requests[0][1].Content
	assert.Contains(t, analysisPrompt, "File: README.md")
	assert.Contains(t, analysisPrompt, "create a.ts with export const x = 1;")
	assert.NotContains(t, analysisPrompt, "Idle -> Analyzing")

	require.Len(t, f.history.runs, 1)
	assert.Equal(t, res.RunID, f.history.runs[0].ID)
	assert.Equal(t, "Completed", f.history.runs[0].Stage)
	require.Len(t, f.history.runs[0].Files, 1)
	assert.Len(t, f.history.runs[0].Files[0].ContentHash, 64)
}

func TestDirtyTreeStopsBeforeAnyModelCall(t *testing.T) {
	f := newFixture(t, gitStub{err: errors.New("M a.ts")})

	res, err := f.orch.Run(context.Background())
	var pre *PreconditionError
	require.True(t, errors.As(err, &pre))
	assert.Equal(t, StageFailed, res.Stage)
	assert.Zero(t, f.client.requestCount())

	entries := f.systemEntries(t)
	require.NotEmpty(t, entries)
	assert.Equal(t, conversation.TypeError, entries[0].Type)
	assert.Contains(t, entries[0].Error, "M a.ts")
}

func TestNoOperationsCompletesWithoutChanges(t *testing.T) {
	f := newFixture(t, gitStub{})
	f.client.onComplete("```json\n{\"operations\": [], \"groups\": []}\n```", nil)

	res, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageCompleted, res.Stage)
	assert.Equal(t, "no changes needed", res.Message)
	assert.Equal(t, 1, f.client.requestCount())
	assert.Empty(t, f.reviewed)
}

func TestMalformedAnalysisIsLoggedAndFatal(t *testing.T) {
	f := newFixture(t, gitStub{})
	f.client.onComplete("I would create a.ts", nil)

	res, err := f.orch.Run(context.Background())
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageAnalyzing, stageErr.Stage)
	var protoErr *ModelProtocolError
	assert.True(t, errors.As(err, &protoErr))
	assert.Equal(t, StageFailed, res.Stage)

	var errorEntries int
	for _, e := range f.systemEntries(t) {
		if e.Type == conversation.TypeError {
			errorEntries++
			assert.Equal(t, "Analyzing", e.Content)
			assert.Equal(t, "I would create a.ts", e.Raw)
		}
	}
	assert.Equal(t, 1, errorEntries)
}

func TestRejectedReviewAborts(t *testing.T) {
	f := newFixture(t, gitStub{})
	f.accept = false
	f.client.
		onComplete(`{"operations":[{"filePath":"a.ts","action":"CREATE"}]}`, nil).
		onCall(proposeCall(change{FilePath: "a.ts", Action: "CREATE", Content: str("x\n")}), nil)

	res, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageAborted, res.Stage)
	assert.NoFileExists(t, filepath.Join(f.root, "a.ts"))
}

func TestIdenticalContentSkipsReview(t *testing.T) {
	f := newFixture(t, gitStub{})
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "a.ts"), []byte("same\n"), 0644))
	f.client.
		onComplete(`{"operations":[{"filePath":"a.ts","action":"MODIFY"}]}`, nil).
		onCall(proposeCall(change{FilePath: "a.ts", Action: "MODIFY", Content: str("same\n")}), nil)

	res, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageCompleted, res.Stage)
	assert.Equal(t, "nothing to apply", res.Message)
	assert.Empty(t, f.reviewed)
	assert.NotContains(t, f.stages, StageApplying)
}

func TestApplyFailuresEndInFailed(t *testing.T) {
	f := newFixture(t, gitStub{})
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "blocker"), []byte("file"), 0644))
	f.client.
		onComplete(`{"operations":[{"filePath":"blocker/a.ts","action":"CREATE"},{"filePath":"ok.ts","action":"CREATE"}]}`, nil).
		onCall(proposeCall(
			change{FilePath: "blocker/a.ts", Action: "CREATE", Content: str("a\n")},
			change{FilePath: "ok.ts", Action: "CREATE", Content: str("ok\n")},
		), nil)

	res, err := f.orch.Run(context.Background())
	var applyErr *ApplyError
	require.True(t, errors.As(err, &applyErr))
	assert.Equal(t, 1, applyErr.Failed)
	assert.Equal(t, StageFailed, res.Stage)
	assert.Equal(t, 1, res.Outcome.Success)
	assert.FileExists(t, filepath.Join(f.root, "ok.ts"))
	assert.Contains(t, err.Error(), "apply failed for 1 file")
}

func TestAnalysisDeleteWinsEndToEnd(t *testing.T) {
	f := newFixture(t, gitStub{})
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "p.ts"), []byte("old\n"), 0644))
	f.client.
		onComplete(`{"operations":[{"filePath":"p.ts","action":"DELETE"},{"filePath":"a.ts","action":"CREATE"}]}`, nil).
		onCall(proposeCall(
			change{FilePath: "a.ts", Action: "CREATE", Content: str("a\n")},
			change{FilePath: "p.ts", Action: "MODIFY", Content: str("new\n")},
		), nil)

	res, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageCompleted, res.Stage)
	assert.NoFileExists(t, filepath.Join(f.root, "p.ts"))
	assert.Equal(t, 2, res.Outcome.Success)
}

func TestStageNames(t *testing.T) {
	assert.Equal(t, "Reviewing", StageReviewing.String())
	assert.Equal(t, "Unknown", Stage(42).String())
	assert.True(t, StageAborted.Terminal())
	assert.False(t, StageApplying.Terminal())
}
