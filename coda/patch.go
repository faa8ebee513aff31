package coda

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sokinpui/coda/internal/fs"
	"github.com/sokinpui/coda/internal/parser"
	"github.com/sokinpui/coda/internal/state"
	"github.com/sokinpui/coda/model"
)

// Patch applies the unified diffs found in content. Each diff targets the
// path named in its header, or target when target is not empty. Failed diffs
// are listed in the summary and recorded in the patch failure log.
func (a *App) Patch(ctx context.Context, content, target string) (summary model.Summary, err error) {
	defer recoverPanic(&err)

	blocks := parser.ExtractDiffBlocks(content)
	if target != "" && len(blocks) == 0 {
		// A diff without file headers can only be applied to a named target.
		if body := parser.UnwrapFence(content); parser.LooksLikeDiff(body) {
			blocks = []model.DiffBlock{{FilePath: target, RawContent: body}}
		}
	}
	if len(blocks) == 0 {
		return model.Summary{Message: "No diff blocks found. Nothing to do."}, nil
	}

	run := state.Run{ID: uuid.NewString(), Kind: "patch", StartedAt: time.Now()}
	total := len(blocks)
	if a.progressCallback != nil {
		a.progressCallback(0, total)
	}

	var applied []string
	for i, block := range blocks {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		path := block.FilePath
		if target != "" {
			path = target
		}
		rel, action, ok := a.patchOne(path, block.RawContent)
		switch {
		case !ok:
			summary.Failed = append(summary.Failed, rel)
		case action == model.ActionCreate:
			summary.Created = append(summary.Created, rel)
		case action == model.ActionDelete:
			summary.Deleted = append(summary.Deleted, rel)
		default:
			summary.Modified = append(summary.Modified, rel)
		}
		if ok {
			applied = append(applied, rel)
			run.Files = append(run.Files, state.NewFileRecord(a.resolver.Resolve(rel), rel, string(action)))
		}
		if a.progressCallback != nil {
			a.progressCallback(i+1, total)
		}
	}

	if a.refresher != nil && len(applied) > 0 {
		abs := make([]string, len(applied))
		for i, p := range applied {
			abs[i] = a.resolver.Resolve(p)
		}
		if err := a.refresher.Refresh(ctx, abs); err != nil {
			a.logger.Warn("editor refresh failed", zap.Error(err))
		}
	}

	run.FinishedAt = time.Now()
	run.Success = len(applied)
	run.Failed = len(summary.Failed)
	run.Stage = "Completed"
	if run.Failed > 0 {
		run.Stage = "Failed"
	}
	if err := a.history.Record(context.WithoutCancel(ctx), run); err != nil {
		a.logger.Warn("could not record run history", zap.Error(err))
	}
	return summary, nil
}

// patchOne applies one diff and reports the path relative to the project,
// what happened to the file and whether it succeeded.
func (a *App) patchOne(path, diffText string) (string, model.Action, bool) {
	rel, err := fs.NormalizePath(path)
	if err != nil {
		a.logger.Warn("rejected diff target", zap.String("path", path), zap.Error(err))
		return path, "", false
	}
	abs := a.resolver.Resolve(rel)
	existed := fs.Exists(abs)
	if err := a.patcher.ApplyDiffToFile(abs, diffText); err != nil {
		return rel, "", false
	}
	switch exists := fs.Exists(abs); {
	case !existed && exists:
		return rel, model.ActionCreate, true
	case existed && !exists:
		return rel, model.ActionDelete, true
	case !exists:
		// Deleting a file that was never there.
		return rel, model.ActionDelete, true
	}
	return rel, model.ActionModify, true
}
