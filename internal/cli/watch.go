package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync automatically whenever the backend becomes reachable",
		Long: `Watch backend reachability and replay pending actions every time it
comes back. Reachability comes from the presence socket
(connectivity.presence_url); without one, the current state is used once.

Example:
  ventry watch --verbose
  ventry watch --once`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(a *app, f *OutputFormatter) error {
				return watch(cmd, a, f, once)
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "stop after the first sync report")
	return cmd
}

func watch(cmd *cobra.Command, a *app, f *OutputFormatter, once bool) error {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	reports, unsubscribe := a.orchestrator.Subscribe()
	defer unsubscribe()

	var wg sync.WaitGroup
	var monErr error
	wg.Add(3)
	go func() {
		defer wg.Done()
		monErr = a.monitor.Run(ctx, a.source())
	}()
	go func() {
		defer wg.Done()
		_ = a.orchestrator.Run(ctx, a.monitor)
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-reports:
				if !ok {
					return
				}
				_ = f.Success(newReportView(r))
				if once {
					cancel()
					return
				}
			}
		}
	}()

	fmt.Fprintln(f.GetErrWriter(), "Watching backend reachability. Press Ctrl-C to stop.")
	wg.Wait()

	if monErr != nil && !errors.Is(monErr, context.Canceled) {
		return f.Fail("connectivity watch failed", monErr)
	}
	a.logger.Info("watch stopped")
	return nil
}
