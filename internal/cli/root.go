package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JhanGutierrez/ventry/internal/gateway"
	"github.com/JhanGutierrez/ventry/internal/model"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile      string
	DB              string
	Offline         bool
	UserID          string
	GatewayEndpoint string
	Verbose         bool
	Format          string // "json" | "text"

	// Gateway replaces the configured backend (for testing).
	Gateway *gateway.Gateway
	// IDs and Clock replace the builder defaults (for testing).
	IDs   model.IDGenerator
	Clock model.Clock
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the ventry CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ventry",
		Short: "ventry - offline-first warehouse inventory client",
		Long: `ventry records warehouses, products and stock movements against the
inventory backend. While the backend is unreachable, changes are kept in a
local cache and queued; "ventry sync" or "ventry watch" replays them in order
once it is back.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigFile, "config", "", "config file (default ./ventry.yaml or ~/.config/ventry/ventry.yaml)")
	flags.StringVar(&opts.DB, "db", "ventry.db", "path to the local SQLite cache")
	flags.BoolVar(&opts.Offline, "offline", false, "never contact the backend; queue every change")
	flags.StringVar(&opts.UserID, "user-id", "", "user recorded on movements")
	flags.StringVar(&opts.GatewayEndpoint, "gateway-endpoint", "", "GraphQL endpoint of the inventory backend")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewWarehouseCommand(opts))
	cmd.AddCommand(NewProductCommand(opts))
	cmd.AddCommand(NewMovementCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// formatter returns the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
