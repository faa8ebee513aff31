package coda

import (
	"context"
	"fmt"

	"github.com/sokinpui/coda/internal/config"
	"github.com/sokinpui/coda/model"
)

// Open loads the configuration of the project at dir and creates its App.
func Open(dir string, opts ...Option) (*App, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

// ApplyPatch applies the unified diffs in content to the project at dir.
// It is a one-shot helper for using coda as a library.
func ApplyPatch(ctx context.Context, dir, content string) (model.Summary, error) {
	app, err := Open(dir)
	if err != nil {
		return model.Summary{}, fmt.Errorf("failed to initialize coda: %w", err)
	}
	defer app.Close()
	return app.Patch(ctx, content, "")
}
