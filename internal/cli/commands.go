package cli

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	persistlog "signlink.ai/internal/persistence/log"
	"signlink.ai/internal/persistence/snapshot"
	"signlink.ai/internal/signlink"
	"signlink.ai/internal/sim/world"
)

type stateView struct {
	WorldID string             `json:"world_id"`
	Tick    uint64             `json:"tick"`
	Metrics world.WorldMetrics `json:"metrics"`
}

func NewStateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show world and engine state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var st stateView
			if err := opts.client().Do(cmd.Context(), http.MethodGet, "/admin/v1/state", nil, &st); err != nil {
				return requestError("state", err)
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			m, e := st.Metrics, st.Metrics.Engine
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintf(tw, "world\t%s\n", st.WorldID)
			fmt.Fprintf(tw, "tick\t%d\n", st.Tick)
			fmt.Fprintf(tw, "auto update\t%s\n", onOff(e.AutoUpdate))
			fmt.Fprintf(tw, "viewers\t%d\n", m.Viewers)
			fmt.Fprintf(tw, "loaded chunks\t%d\n", m.LoadedChunks)
			fmt.Fprintf(tw, "signs\t%d (%d virtual)\n", m.Signs, e.Signs)
			fmt.Fprintf(tw, "variables\t%d (%d bindings)\n", e.Variables, e.Bindings)
			fmt.Fprintf(tw, "step\t%.3fms\n", m.StepMS)
			return tw.Flush()
		},
	}
}

func NewAutoUpdateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "autoupdate [on|off]",
		Short: "Switch delivery of rendered lines (toggles without an argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body any
			if len(args) == 1 {
				on, err := parseOnOff(args[0])
				if err != nil {
					return WrapExitError(ExitCommandError, "autoupdate", err)
				}
				body = map[string]bool{"on": on}
			}
			var out struct {
				AutoUpdate bool `json:"auto_update"`
			}
			if err := opts.client().Do(cmd.Context(), http.MethodPost, "/admin/v1/autoupdate", body, &out); err != nil {
				return requestError("autoupdate", err)
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "auto update %s\n", onOff(out.AutoUpdate))
			return nil
		},
	}
}

func NewReloadCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Re-read variables and rescan every loaded sign",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var st signlink.Stats
			if err := opts.client().Do(cmd.Context(), http.MethodPost, "/admin/v1/reload", nil, &st); err != nil {
				return requestError("reload", err)
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reloaded: %d variables, %d bindings, %d signs\n", st.Variables, st.Bindings, st.Signs)
			return nil
		},
	}
}

func NewSnapshotCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Request a snapshot from the running world",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				OK   bool   `json:"ok"`
				Tick uint64 `json:"tick"`
			}
			if err := opts.client().Do(cmd.Context(), http.MethodPost, "/admin/v1/snapshot", nil, &out); err != nil {
				return requestError("snapshot", err)
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "snapshot requested at tick %d\n", out.Tick)
			return nil
		},
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List indexed snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out []struct {
				Tick       uint64 `json:"tick"`
				Path       string `json:"path"`
				Signs      int    `json:"signs"`
				Variables  int    `json:"variables"`
				AutoUpdate bool   `json:"auto_update"`
				RecordedAt string `json:"recorded_at"`
			}
			path := "/admin/v1/snapshots?limit=" + strconv.Itoa(limit)
			if err := opts.client().Do(cmd.Context(), http.MethodGet, path, nil, &out); err != nil {
				return requestError("snapshot list", err)
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "TICK\tSIGNS\tVARIABLES\tAUTO\tRECORDED\tPATH")
			for _, s := range out {
				fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\t%s\n", s.Tick, s.Signs, s.Variables, onOff(s.AutoUpdate), s.RecordedAt, s.Path)
			}
			return tw.Flush()
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum snapshots to list")

	inspect := &cobra.Command{
		Use:   "inspect <path>",
		Short: "Print a snapshot file without a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := snapshot.ReadSnapshot(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "read snapshot", err)
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), snap)
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintf(tw, "world\t%s\n", snap.Header.WorldID)
			fmt.Fprintf(tw, "tick\t%d\n", snap.Header.Tick)
			fmt.Fprintf(tw, "auto update\t%s\n", onOff(snap.AutoUpdate))
			fmt.Fprintf(tw, "signs\t%d\n", len(snap.Signs))
			fmt.Fprintf(tw, "variables\t%d\n", len(snap.Variables))
			for _, v := range snap.Variables {
				fmt.Fprintf(tw, "  %s\t%q\n", v.Name, v.Value)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(list, inspect)
	return cmd
}

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	Actor    string
	Action   string
	Variable string
	Since    uint64
	Limit    int
	Dir      string
}

func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit trail, newest first",
		Long: `Query the audit trail, newest first.

With --dir the hourly audit files are read directly and no server is needed.

Examples:
  admin audit --action CONFLICT --limit 20
  admin audit --variable score
  admin audit --dir ./data/worlds/world_1/audit --actor alice`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := runAudit(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "TICK\tACTOR\tACTION\tVARIABLE\tPOS\tSIDE\tLINE\tREASON")
			for _, e := range entries {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d,%d,%d\t%s\t%d\t%s\n",
					e.Tick, e.Actor, e.Action, e.Variable, e.Pos[0], e.Pos[1], e.Pos[2], e.Side, e.Line, e.Reason)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&opts.Actor, "actor", "", "filter by actor")
	cmd.Flags().StringVar(&opts.Action, "action", "", "filter by action (BIND, UNBIND, CONFLICT, ...)")
	cmd.Flags().StringVar(&opts.Variable, "variable", "", "filter by variable name")
	cmd.Flags().Uint64Var(&opts.Since, "since", 0, "only entries at or after this tick")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "maximum entries")
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "read audit files from this directory instead of the server")
	return cmd
}

func runAudit(ctx context.Context, opts *AuditOptions) ([]signlink.AuditEntry, error) {
	if opts.Dir != "" {
		all, err := persistlog.ReadAudit(opts.Dir)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "read audit", err)
		}
		matched := persistlog.FilterAudit(all, opts.Actor, opts.Action, opts.Variable)
		out := []signlink.AuditEntry{}
		for i := len(matched) - 1; i >= 0; i-- {
			if matched[i].Tick < opts.Since {
				continue
			}
			out = append(out, matched[i])
			if opts.Limit > 0 && len(out) >= opts.Limit {
				break
			}
		}
		return out, nil
	}

	q := url.Values{}
	for k, v := range map[string]string{"actor": opts.Actor, "action": opts.Action, "variable": opts.Variable} {
		if v != "" {
			q.Set(k, v)
		}
	}
	if opts.Since > 0 {
		q.Set("since", strconv.FormatUint(opts.Since, 10))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	var out []signlink.AuditEntry
	if err := opts.client().Do(ctx, http.MethodGet, "/admin/v1/audit?"+q.Encode(), nil, &out); err != nil {
		return nil, requestError("audit", err)
	}
	return out, nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}
