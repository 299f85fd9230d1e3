package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DukeRupert/wrenchly/internal/app"
	"github.com/DukeRupert/wrenchly/internal/domain"
)

func newAlertsCmd(opts *options) *cobra.Command {
	var (
		open  bool
		limit int
	)

	cmd := &cobra.Command{
		Use:   "alerts <tenant-id>",
		Short: "List a tenant's alerts, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseTenantID(args[0])
			if err != nil {
				return err
			}

			filter := domain.AlertFilter{Limit: limit}
			if open {
				resolved := false
				filter.Resolved = &resolved
			}

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				alerts, err := a.Alerting.ListAlerts(ctx, tenantID, filter)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if opts.jsonOut {
					if alerts == nil {
						alerts = []*domain.Alert{}
					}
					return printJSON(out, map[string]any{"alerts": alerts})
				}
				if len(alerts) == 0 {
					fmt.Fprintln(out, "No alerts found")
					return nil
				}

				w := newTable(out)
				fmt.Fprintln(w, "ID\tTYPE\tSEVERITY\tSTATE\tUPDATED\tMESSAGE")
				for _, alert := range alerts {
					state := "open"
					if alert.Resolved {
						state = "resolved"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
						alert.ID, alert.Type, alert.Severity, state,
						alert.UpdatedAt.Format("2006-01-02 15:04"), alert.Message,
					)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&open, "open", false, "only unresolved alerts")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of alerts")
	return cmd
}

func newResolveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <tenant-id> <alert-id>",
		Short: "Mark an alert resolved",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseTenantID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				alert, err := a.Alerting.ResolveAlert(ctx, tenantID, args[1])
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return printJSON(cmd.OutOrStdout(), alert)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resolved alert %s (%s)\n", alert.ID, alert.Type)
				return nil
			})
		},
	}
}
