package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/DukeRupert/wrenchly/internal/app"
)

func newSnapshotsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Inspect a tenant's archived daily snapshots",
	}
	cmd.AddCommand(
		newSnapshotsListCmd(opts),
		newSnapshotsShowCmd(opts),
		newSnapshotsPruneCmd(opts),
	)
	return cmd
}

func parseDay(raw string) (time.Time, error) {
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q, want YYYY-MM-DD", raw)
	}
	return day, nil
}

func newSnapshotsListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list <tenant-id>",
		Short: "List archived days, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseTenantID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				days, err := a.Report.ListArchivedSnapshots(ctx, tenantID)
				if err != nil {
					return err
				}

				formatted := make([]string, len(days))
				for i, d := range days {
					formatted[i] = d.Format(time.DateOnly)
				}

				out := cmd.OutOrStdout()
				if opts.jsonOut {
					return printJSON(out, map[string]any{"days": formatted})
				}
				if len(formatted) == 0 {
					fmt.Fprintln(out, "No archived snapshots")
					return nil
				}
				for _, d := range formatted {
					fmt.Fprintln(out, d)
				}
				return nil
			})
		},
	}
}

func newSnapshotsShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <tenant-id> <YYYY-MM-DD>",
		Short: "Print one archived day",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseTenantID(args[0])
			if err != nil {
				return err
			}
			day, err := parseDay(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				snap, err := a.Report.GetArchivedSnapshot(ctx, tenantID, day)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if opts.jsonOut {
					return printJSON(out, snap)
				}

				w := newTable(out)
				fmt.Fprintf(w, "Day:\t%s\n", snap.PeriodStart.Format(time.DateOnly))
				fmt.Fprintf(w, "Requests:\t%d\n", snap.Requests)
				fmt.Fprintf(w, "Errors:\t%d (%d server)\n", snap.Errors, snap.ServerErrors)
				fmt.Fprintf(w, "apiCalls:\t%d\n", snap.Usage.APICalls)
				fmt.Fprintf(w, "workOrders:\t%d\n", snap.Usage.WorkOrders)
				fmt.Fprintf(w, "users:\t%d\n", snap.Usage.Users)
				fmt.Fprintf(w, "storageMb:\t%d\n", snap.Usage.StorageMB)
				return w.Flush()
			})
		},
	}
}

func newSnapshotsPruneCmd(opts *options) *cobra.Command {
	var before string

	cmd := &cobra.Command{
		Use:   "prune <tenant-id> --before <YYYY-MM-DD>",
		Short: "Delete archived days before a date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseTenantID(args[0])
			if err != nil {
				return err
			}
			cutoff, err := parseDay(before)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Report.PruneArchivedSnapshots(ctx, tenantID, cutoff)
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return printJSON(cmd.OutOrStdout(), map[string]any{"pruned": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d archived snapshots\n", n)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&before, "before", "", "delete days strictly before this date (required)")
	_ = cmd.MarkFlagRequired("before")
	return cmd
}
