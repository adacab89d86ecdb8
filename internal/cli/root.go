// Package cli implements the admin command line for a running sign server.
package cli

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	URL     string
	Format  string // "json" | "text"
	Timeout time.Duration
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Operate a sign server",
		Long: `Operate a running sign server through its loopback admin API:
inspect state, switch auto update, rescan signs, manage variables and
read the audit trail.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.URL, "url", "http://127.0.0.1:8080", "server base url")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "request timeout")

	cmd.AddCommand(NewStateCommand(opts))
	cmd.AddCommand(NewAutoUpdateCommand(opts))
	cmd.AddCommand(NewReloadCommand(opts))
	cmd.AddCommand(NewSnapshotCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewVarCommand(opts))

	return cmd
}

func (o *RootOptions) client() *Client { return NewClient(o.URL, o.Timeout) }
