package review

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/sokinpui/coda/internal/ui"
	"github.com/sokinpui/coda/model"
)

// ErrUnavailable is returned by a Reviewer that cannot run in this environment.
var ErrUnavailable = errors.New("reviewer unavailable")

// Reviewer decides whether all items are applied.
type Reviewer interface {
	Review(ctx context.Context, items []model.ReviewItem) (bool, error)
}

// Func adapts a function to Reviewer.
type Func func(ctx context.Context, items []model.ReviewItem) (bool, error)

func (f Func) Review(ctx context.Context, items []model.ReviewItem) (bool, error) {
	return f(ctx, items)
}

// Chain tries each reviewer in turn, moving on when one is unavailable.
type Chain struct {
	Reviewers []Reviewer
	Logger    *zap.Logger
}

func (c Chain) Review(ctx context.Context, items []model.ReviewItem) (bool, error) {
	for _, r := range c.Reviewers {
		ok, err := r.Review(ctx, items)
		if errors.Is(err, ErrUnavailable) {
			if c.Logger != nil {
				c.Logger.Info("reviewer unavailable, falling back", zap.String("reviewer", fmt.Sprintf("%T", r)), zap.Error(err))
			}
			continue
		}
		return ok, err
	}
	return false, ErrUnavailable
}

// Console asks for a plain yes/no confirmation after listing the items.
type Console struct {
	In  io.Reader
	Out io.Writer
}

func (c Console) Review(ctx context.Context, items []model.ReviewItem) (bool, error) {
	if c.In == nil || c.Out == nil {
		return false, ErrUnavailable
	}
	fmt.Fprintf(c.Out, "%s\n", ui.HeaderColor.Sprintf("%d file(s) will change:", len(items)))
	fmt.Fprint(c.Out, Summarize(items))
	fmt.Fprint(c.Out, ui.Prompt("Apply all changes? [y/N]: "))

	answers := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(c.In).ReadString('\n')
		answers <- line
	}()
	select {
	case <-ctx.Done():
		fmt.Fprintln(c.Out)
		return false, ctx.Err()
	case line := <-answers:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
