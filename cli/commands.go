package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sokinpui/coda/coda"
	"github.com/sokinpui/coda/internal/consolidate"
	"github.com/sokinpui/coda/internal/conversation"
	"github.com/sokinpui/coda/internal/source"
	"github.com/sokinpui/coda/internal/ui"
)

// withApp opens the App, runs fn and closes the App again.
func (r *runner) withApp(ctx context.Context, fn func(app *coda.App) error) error {
	app, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

func newChatCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a message about the project and print the reply",
		Long: `Appends the message to the conversation and asks the model for a reply,
with the project files as context. Without arguments the message is read
from stdin when piped, else from the clipboard.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			message, origin, err := source.New().Content(args)
			if err != nil {
				return err
			}
			return r.withApp(cmd.Context(), func(app *coda.App) error {
				if origin != source.OriginArgs {
					ui.Info("Message read from %s.", origin)
				}
				reply, err := app.Chat(cmd.Context(), message)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(reply, "\n"))
				return nil
			})
		},
	}
}

func newConsolidateCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:     "consolidate",
		Aliases: []string{"apply"},
		Short:   "Turn the conversation into file changes, review them and apply them",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withApp(cmd.Context(), func(app *coda.App) error {
				if !r.flags.NoAnimation {
					app.SetStageCallback(func(stage consolidate.Stage, detail string) {
						if stage.Terminal() {
							return
						}
						if detail != "" {
							ui.Info("%s: %s", stage, detail)
						} else {
							ui.Info("%s...", stage)
						}
					})
				}
				res, err := app.Consolidate(cmd.Context())
				for _, f := range res.Failures {
					ui.Warning("Could not generate %s: %v", f.Path, f.Err)
				}
				if res.Outcome.Success+res.Outcome.Failed+res.Outcome.Skipped > 0 {
					ui.PrintApplySummary(res.Outcome)
				}
				if err != nil {
					return err
				}
				switch res.Stage {
				case consolidate.StageAborted:
					ui.Warning("Consolidation aborted: %s.", res.Message)
				case consolidate.StageCompleted:
					ui.Success("Consolidation completed: %s.", res.Message)
				}
				return nil
			})
		},
	}
}

func newPatchCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "patch [file]",
		Short: "Apply unified diffs from piped or copied text",
		Long: `Reads text from stdin when piped, else from the clipboard, and applies every
unified diff in it. Diffs are taken from fenced diff blocks, or the whole
text when it is a bare diff. With a file argument every diff targets that file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, _, err := source.New().Content(nil)
			if err != nil {
				return err
			}
			var target string
			if len(args) == 1 {
				target = args[0]
			}
			return r.withApp(cmd.Context(), func(app *coda.App) error {
				if !r.flags.NoAnimation {
					var bar *ui.ProgressBar
					app.SetProgressCallback(func(current, total int) {
						if bar == nil {
							bar = ui.NewProgressBar(total, "Patching")
							bar.Start()
							return
						}
						bar.Increment()
						if current == total {
							bar.Finish()
						}
					})
				}
				summary, err := app.Patch(cmd.Context(), content, target)
				if err != nil {
					return err
				}
				ui.PrintPatchSummary(summary)
				if len(summary.Failed) > 0 {
					return fmt.Errorf("%d diff(s) could not be applied", len(summary.Failed))
				}
				return nil
			})
		},
	}
}

func newHistoryCommand(r *runner) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent consolidate and patch runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withApp(cmd.Context(), func(app *coda.App) error {
				runs, err := app.History(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "STARTED\tKIND\tSTAGE\tOK\tFAILED\tSKIPPED\tMESSAGE")
				for _, run := range runs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
						run.StartedAt.Local().Format(time.DateTime), run.Kind, run.Stage,
						run.Success, run.Failed, run.Skipped, run.Message)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show.")
	return cmd
}

func newLogCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "Print the conversation log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withApp(cmd.Context(), func(app *coda.App) error {
				entries, err := app.Log()
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "The conversation is empty.")
					return nil
				}
				return printLog(cmd.OutOrStdout(), entries)
			})
		},
	}
}

func printLog(w io.Writer, entries []conversation.Entry) error {
	for _, e := range entries {
		stamp := e.Timestamp.Local().Format(time.DateTime)
		var err error
		switch e.Type {
		case conversation.TypeError:
			_, err = fmt.Fprintf(w, "%s [error] %s: %s\n", stamp, e.Content, e.Error)
			if err == nil && e.Raw != "" {
				_, err = fmt.Fprintf(w, "model output:\n%s\n", strings.TrimRight(e.Raw, "\n"))
			}
		case conversation.TypeSystem:
			_, err = fmt.Fprintf(w, "%s [system] %s\n", stamp, e.Content)
		default:
			_, err = fmt.Fprintf(w, "%s [%s]\n%s\n\n", stamp, e.Role, strings.TrimRight(e.Content, "\n"))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// IsCanceled reports whether err comes from an interrupted run.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
