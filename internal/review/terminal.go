package review

import (
	"context"
	"os"

	"golang.org/x/term"

	"github.com/sokinpui/coda/internal/tui"
	"github.com/sokinpui/coda/model"
)

// Terminal is the interactive full-screen reviewer. It is unavailable when
// disabled or when either stream is not a terminal.
type Terminal struct {
	In       *os.File
	Out      *os.File
	Disabled bool
}

func (t Terminal) available() bool {
	if t.Disabled || t.In == nil || t.Out == nil {
		return false
	}
	return term.IsTerminal(int(t.In.Fd())) && term.IsTerminal(int(t.Out.Fd()))
}

func (t Terminal) Review(ctx context.Context, items []model.ReviewItem) (bool, error) {
	if !t.available() {
		return false, ErrUnavailable
	}
	return tui.Review(ctx, items, t.In, t.Out)
}
