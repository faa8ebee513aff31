// Package cli defines the coda command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sokinpui/coda/coda"
	"github.com/sokinpui/coda/internal/config"
	"github.com/sokinpui/coda/internal/gitcheck"
)

// Flags holds the global command-line flag values. Only flags that were set
// explicitly override the configuration file.
type Flags struct {
	Dir         string
	Provider    string
	Model       string
	Strategy    string
	FuzzWindow  int
	NoTUI       bool
	NoAnimation bool
	Verbose     bool
}

func (f *Flags) register(set *pflag.FlagSet) {
	set.StringVarP(&f.Dir, "dir", "C", "", "Project directory (default: the git root of the current directory).")
	set.StringVarP(&f.Provider, "provider", "p", "", "Model provider: anthropic, openai or gemini.")
	set.StringVarP(&f.Model, "model", "m", "", "Model name (default depends on the provider).")
	set.StringVarP(&f.Strategy, "strategy", "s", "", "Generation strategy: batched or per_file.")
	set.IntVar(&f.FuzzWindow, "fuzz-window", 0, "Lines to search around a hunk's position when it does not apply exactly.")
	set.BoolVar(&f.NoTUI, "no-tui", false, "Review changes with a plain prompt instead of the full-screen viewer.")
	set.BoolVar(&f.NoAnimation, "no-animation", false, "Disable progress updates.")
	set.BoolVarP(&f.Verbose, "verbose", "v", false, "Write debug logs to stderr.")
}

// apply copies the explicitly set flags onto cfg.
func (f *Flags) apply(cfg *config.Config, set *pflag.FlagSet) {
	if set.Changed("provider") {
		cfg.Provider = strings.ToLower(strings.TrimSpace(f.Provider))
		// A key read for the configured provider does not carry over.
		cfg.APIKey = config.APIKeyFromEnv(cfg.Provider)
	}
	if set.Changed("model") {
		cfg.Model = f.Model
	}
	if set.Changed("strategy") {
		cfg.Generation.Strategy = f.Strategy
	}
	if set.Changed("fuzz-window") {
		cfg.Patch.FuzzWindow = f.FuzzWindow
	}
	if f.NoTUI {
		cfg.Reviewer.DisableTUI = true
	}
	cfg.Verbose = f.Verbose
}

// projectRoot resolves the directory coda works on.
func (f *Flags) projectRoot(ctx context.Context) (string, error) {
	dir := f.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = wd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if root, err := (gitcheck.Git{}).Root(ctx, dir); err == nil {
		return root, nil
	}
	return dir, nil
}

type runner struct {
	flags Flags
	set   *pflag.FlagSet
}

// open builds the App for the current flags.
func (r *runner) open(ctx context.Context) (*coda.App, error) {
	root, err := r.flags.projectRoot(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not determine project directory: %w", err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	r.flags.apply(&cfg, r.set)
	return coda.New(cfg)
}

// NewRootCommand returns the coda command with all subcommands attached.
func NewRootCommand() *cobra.Command {
	r := &runner{}
	root := &cobra.Command{
		Use:   "coda",
		Short: "Chat about a codebase, then turn the conversation into applied file changes",
		Long: `coda keeps a conversation about the project in .coda/conversation.jsonl.

  coda chat "add a --json flag to the list command"
  coda consolidate      # analyze, generate, review and apply the agreed changes
  pbpaste | coda patch  # apply unified diffs from pasted text`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	r.set = root.PersistentFlags()
	r.flags.register(r.set)

	root.AddCommand(
		newChatCommand(r),
		newConsolidateCommand(r),
		newPatchCommand(r),
		newHistoryCommand(r),
		newLogCommand(r),
	)
	return root
}

// Verbose reports whether --verbose was given to cmd or one of its parents.
func Verbose(cmd *cobra.Command) bool {
	v, err := cmd.Flags().GetBool("verbose")
	return err == nil && v
}

// StackTrace returns the stack of a recovered panic, if err carries one.
func StackTrace(err error) []byte {
	var detailed *coda.DetailedError
	if errors.As(err, &detailed) {
		return detailed.Stack
	}
	return nil
}
