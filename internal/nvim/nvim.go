// Package nvim tells a running Neovim to reload buffers changed on disk.
package nvim

import (
	"context"
	"fmt"
	"os"

	"github.com/neovim/go-client/nvim"
	"go.uber.org/zap"
)

// ListenAddressEnv is the variable Neovim exports to its terminals.
const ListenAddressEnv = "NVIM_LISTEN_ADDRESS"

// Refresher reloads changed buffers in the Neovim instance listening at Addr.
// With an empty Addr it does nothing.
type Refresher struct {
	Addr   string
	logger *zap.Logger
	dial   func(addr string) (session, error)
}

type session interface {
	Command(cmd string) error
	Close() error
}

func dialNvim(addr string) (session, error) {
	v, err := nvim.Dial(addr)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// New returns a Refresher for addr.
func New(addr string, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{Addr: addr, logger: logger.Named("nvim"), dial: dialNvim}
}

// FromEnv returns a Refresher for the instance named by NVIM_LISTEN_ADDRESS.
func FromEnv(logger *zap.Logger) *Refresher {
	return New(os.Getenv(ListenAddressEnv), logger)
}

// Refresh runs :checktime for every path so open buffers pick up the new
// contents. Deleted files are reported by Neovim itself.
func (r *Refresher) Refresh(ctx context.Context, paths []string) error {
	if r == nil || r.Addr == "" || len(paths) == 0 {
		return nil
	}
	v, err := r.dial(r.Addr)
	if err != nil {
		return fmt.Errorf("failed to connect to nvim at %s: %w", r.Addr, err)
	}
	defer v.Close()

	var failed int
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := v.Command(fmt.Sprintf("silent! checktime %s", escapePath(p))); err != nil {
			failed++
			r.logger.Debug("checktime failed", zap.String("file", p), zap.Error(err))
		}
	}
	r.logger.Info("refreshed nvim buffers", zap.Int("files", len(paths)), zap.Int("failed", failed))
	return nil
}

// escapePath escapes characters that are special in Ex command arguments.
func escapePath(p string) string {
	out := make([]rune, 0, len(p))
	for _, c := range p {
		switch c {
		case ' ', '\\', '%', '#', '|', '"':
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}
