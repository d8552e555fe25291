package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JhanGutierrez/ventry/internal/model"
)

// NewQueueCommand creates the queue command.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show pending actions in replay order",
		Long: `Show the actions waiting to be replayed against the backend, oldest
first. This is the order "ventry sync" replays them in.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(a *app, f *OutputFormatter) error {
				actions, err := a.queue.Drain(cmd.Context())
				if err != nil {
					return f.Fail("read queue failed", err)
				}
				view := queueView{Actions: make([]queuedAction, 0, len(actions))}
				for _, act := range actions {
					view.Actions = append(view.Actions, queuedAction{
						ID:         act.ID,
						Entity:     act.Intent.Entity(),
						Intent:     act.Intent.Kind(),
						EnqueuedAt: act.EnqueuedAt,
						Payload:    act.Intent,
					})
				}
				return f.Success(view)
			})
		},
	}
}

type queuedAction struct {
	ID         string           `json:"id"`
	Entity     model.Entity     `json:"entity"`
	Intent     model.IntentKind `json:"intent"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
	Payload    model.Intent     `json:"payload"`
}

type queueView struct {
	Actions []queuedAction `json:"actions"`
}

func (v queueView) renderText(w io.Writer) error {
	if len(v.Actions) == 0 {
		_, err := fmt.Fprintln(w, "Queue is empty")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tACTION\tENTITY\tINTENT\tENQUEUED")
	for i, a := range v.Actions {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, a.ID, a.Entity, a.Intent, a.EnqueuedAt.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d pending\n", len(v.Actions))
	return err
}
