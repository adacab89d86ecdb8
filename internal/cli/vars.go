package cli

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"signlink.ai/internal/signlink"
)

func NewVarCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "var",
		Aliases: []string{"vars", "variable"},
		Short:   "Manage variables",
	}
	cmd.AddCommand(
		newVarListCommand(opts),
		newVarGetCommand(opts),
		newVarCreateCommand(opts),
		newVarSetCommand(opts),
		newVarClearCommand(opts),
		newVarTickerCommand(opts),
		newVarRemoveCommand(opts),
		newVarHistoryCommand(opts),
	)
	return cmd
}

func newVarListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out []signlink.VariableInfo
			if err := opts.client().Do(cmd.Context(), http.MethodGet, "/admin/v1/variables", nil, &out); err != nil {
				return requestError("var list", err)
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "NAME\tVALUE\tTICKER\tSIGNS\tBINDINGS\tOVERRIDES")
			for _, v := range out {
				fmt.Fprintf(tw, "%s\t%q\t%s\t%d\t%d\t%d\n", v.Name, v.Value, v.Ticker.Mode, v.Signs, v.Bindings, len(v.Overrides))
			}
			return tw.Flush()
		},
	}
}

func newVarGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Show one variable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v signlink.VariableInfo
			if err := opts.client().Do(cmd.Context(), http.MethodGet, variablePath(args[0]), nil, &v); err != nil {
				return requestError("var get", err)
			}
			return printVariable(cmd, opts, v)
		},
	}
}

func newVarCreateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a variable (no-op when it exists)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v signlink.VariableInfo
			if err := opts.client().Do(cmd.Context(), http.MethodPost, "/admin/v1/variables", map[string]string{"name": args[0]}, &v); err != nil {
				return requestError("var create", err)
			}
			return printVariable(cmd, opts, v)
		},
	}
}

func newVarSetCommand(opts *RootOptions) *cobra.Command {
	var viewer string
	cmd := &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Set the shared value, or the value one viewer sees with --viewer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"value": args[1]}
			if viewer != "" {
				body["viewer"] = viewer
			}
			var v signlink.VariableInfo
			if err := opts.client().Do(cmd.Context(), http.MethodPut, variablePath(args[0]), body, &v); err != nil {
				return requestError("var set", err)
			}
			return printVariable(cmd, opts, v)
		},
	}
	cmd.Flags().StringVar(&viewer, "viewer", "", "set the value for this viewer only")
	return cmd
}

func newVarClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <name> <viewer>",
		Short: "Drop a viewer's own value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Cleared bool `json:"cleared"`
			}
			if err := opts.client().Do(cmd.Context(), http.MethodDelete, variablePath(args[0], "viewers", args[1]), nil, &out); err != nil {
				return requestError("var clear", err)
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			if out.Cleared {
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s for %s\n", args[0], args[1])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s had no value for %s\n", args[0], args[1])
			}
			return nil
		},
	}
}

func newVarTickerCommand(opts *RootOptions) *cobra.Command {
	var t signlink.TickerInfo
	cmd := &cobra.Command{
		Use:   "ticker <name> <none|left|right|blink>",
		Short: "Animate a variable's text",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t.Mode = args[1]
			var v signlink.VariableInfo
			if err := opts.client().Do(cmd.Context(), http.MethodPut, variablePath(args[0], "ticker"), t, &v); err != nil {
				return requestError("var ticker", err)
			}
			return printVariable(cmd, opts, v)
		},
	}
	cmd.Flags().IntVar(&t.Interval, "interval", 0, "passes between steps")
	cmd.Flags().IntVar(&t.Pause, "pause", 0, "passes to hold a full frame")
	return cmd
}

func newVarRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Delete a variable; its signs show their real text again",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().Do(cmd.Context(), http.MethodDelete, variablePath(args[0]), nil, nil); err != nil {
				return requestError("var remove", err)
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"removed": args[0]})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func newVarHistoryCommand(opts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <name>",
		Short: "Show the value recorded in each indexed snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out []struct {
				Tick       uint64 `json:"tick"`
				Value      string `json:"value"`
				TickerMode string `json:"ticker_mode,omitempty"`
			}
			path := variablePath(args[0], "history") + "?limit=" + strconv.Itoa(limit)
			if err := opts.client().Do(cmd.Context(), http.MethodGet, path, nil, &out); err != nil {
				return requestError("var history", err)
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "TICK\tVALUE\tTICKER")
			for _, r := range out {
				fmt.Fprintf(tw, "%d\t%q\t%s\n", r.Tick, r.Value, r.TickerMode)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum records")
	return cmd
}

func printVariable(cmd *cobra.Command, opts *RootOptions, v signlink.VariableInfo) error {
	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), v)
	}
	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintf(tw, "name\t%s\n", v.Name)
	fmt.Fprintf(tw, "value\t%q\n", v.Value)
	fmt.Fprintf(tw, "ticker\t%s\n", v.Ticker.Mode)
	fmt.Fprintf(tw, "signs\t%d\n", v.Signs)
	fmt.Fprintf(tw, "bindings\t%d\n", v.Bindings)
	for _, o := range v.Overrides {
		fmt.Fprintf(tw, "  %s\t%q\n", o.Viewer, o.Value)
	}
	return tw.Flush()
}
