// Package apply writes an approved final file state to disk.
package apply

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sokinpui/coda/internal/fs"
	"github.com/sokinpui/coda/model"
)

// Refresher is told which files changed once an apply run finishes.
type Refresher interface {
	Refresh(ctx context.Context, paths []string) error
}

// Applier executes file writes and deletions one at a time.
type Applier struct {
	resolver  *fs.PathResolver
	refresher Refresher
	logger    *zap.Logger
}

// New creates an Applier. refresher may be nil.
func New(resolver *fs.PathResolver, refresher Refresher, logger *zap.Logger) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{resolver: resolver, refresher: refresher, logger: logger.Named("apply")}
}

// Apply writes or deletes every reviewed entry of state. Entries without a
// review item had no effective change and are skipped, as are deletions of
// files that are already gone. A failure does not stop the run and applied
// files are never rolled back. When ctx is done the remaining entries are
// skipped and ctx.Err() is returned with the outcome so far.
func (a *Applier) Apply(ctx context.Context, state model.FinalFileState, items []model.ReviewItem) (model.ApplyOutcome, error) {
	reviewed := make(map[string]bool, len(items))
	for _, it := range items {
		reviewed[it.FilePath] = true
	}

	var out model.ApplyOutcome
	var changed []string
	var interrupted error
	for _, path := range state.Paths() {
		if interrupted == nil {
			interrupted = ctx.Err()
		}
		switch {
		case interrupted != nil:
			out.Skipped++
			out.Lines = append(out.Lines, fmt.Sprintf("Skipped %s: interrupted", path))
			continue
		case !reviewed[path]:
			out.Skipped++
			out.Lines = append(out.Lines, fmt.Sprintf("Skipped %s: no effective change", path))
			continue
		}

		st := state[path]
		target := a.resolver.Resolve(path)
		if st.Deleted {
			removed, err := fs.Remove(target)
			switch {
			case err != nil:
				out.Failed++
				out.Lines = append(out.Lines, fmt.Sprintf("Failed to delete %s: %v", path, err))
				a.logger.Error("delete failed", zap.String("file", path), zap.Error(err))
			case !removed:
				out.Skipped++
				out.Lines = append(out.Lines, fmt.Sprintf("Skipped %s: already gone", path))
			default:
				out.Success++
				out.Lines = append(out.Lines, fmt.Sprintf("Deleted %s", path))
				changed = append(changed, path)
			}
			continue
		}

		existed := fs.Exists(target)
		if err := fs.WriteAtomic(target, []byte(st.Content)); err != nil {
			out.Failed++
			out.Lines = append(out.Lines, fmt.Sprintf("Failed to write %s: %v", path, err))
			a.logger.Error("write failed", zap.String("file", path), zap.Error(err))
			continue
		}
		out.Success++
		verb := "Created"
		if existed {
			verb = "Modified"
		}
		out.Lines = append(out.Lines, fmt.Sprintf("%s %s", verb, path))
		changed = append(changed, path)
	}

	a.logger.Info("apply finished",
		zap.Int("success", out.Success),
		zap.Int("failed", out.Failed),
		zap.Int("skipped", out.Skipped))

	if a.refresher != nil && len(changed) > 0 {
		abs := make([]string, len(changed))
		for i, p := range changed {
			abs[i] = a.resolver.Resolve(p)
		}
		if err := a.refresher.Refresh(context.WithoutCancel(ctx), abs); err != nil {
			a.logger.Warn("editor refresh failed", zap.Error(err))
		}
	}
	return out, interrupted
}
