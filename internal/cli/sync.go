package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JhanGutierrez/ventry/internal/engine"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay pending actions against the backend",
		Long: `Replay every pending action in order. The run stops at the first
failure; the failed action and everything after it stay queued for the next
run, and the command exits with status 1.

Example:
  ventry sync
  ventry sync --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(a *app, f *OutputFormatter) error {
				if !a.monitor.Current() {
					err := NewExitError(ExitFailure, "backend unreachable: sync needs a gateway endpoint and no --offline")
					_ = f.Error("OFFLINE", err.Message, nil)
					err.Reported = true
					return err
				}

				report, err := a.orchestrator.Start(cmd.Context())
				if err != nil {
					return f.Fail("sync failed", err)
				}
				return f.Success(newReportView(report))
			})
		},
	}
}

// reportView is the printable form of an engine.Report.
type reportView struct {
	Status    engine.Status `json:"status"`
	Replayed  int           `json:"replayed"`
	Remaining int           `json:"remaining"`
	Affected  []string      `json:"affected"`
	Error     string        `json:"error,omitempty"`
}

func newReportView(r engine.Report) reportView {
	v := reportView{
		Status:    r.Status,
		Replayed:  r.Replayed,
		Remaining: r.Remaining,
		Affected:  r.Affected,
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	return v
}

func (v reportView) renderText(w io.Writer) error {
	switch v.Status {
	case engine.StatusCompleted:
		_, err := fmt.Fprintf(w, "Sync completed: %d replayed", v.Replayed)
		if err == nil && len(v.Affected) > 0 {
			_, err = fmt.Fprintf(w, " (updated %s)", strings.Join(v.Affected, ", "))
		}
		if err == nil {
			_, err = fmt.Fprintln(w)
		}
		return err
	case engine.StatusSkipped:
		_, err := fmt.Fprintln(w, "Sync already running, request ignored")
		return err
	default:
		_, err := fmt.Fprintf(w, "Sync failed after %d replayed, %d remaining: %s\n", v.Replayed, v.Remaining, v.Error)
		return err
	}
}
