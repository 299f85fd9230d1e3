package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/DukeRupert/wrenchly/internal/app"
	"github.com/DukeRupert/wrenchly/internal/domain"
)

func newProvisionCmd(opts *options) *cobra.Command {
	var plan string

	cmd := &cobra.Command{
		Use:   "provision <tenant-id>",
		Short: "Create a tenant's usage record",
		Long: `Create a tenant's usage record on a plan. Provisioning an existing
tenant leaves it unchanged.

Examples:
  usagectl provision 3f2c...
  usagectl provision 3f2c... --plan professional`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseTenantID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				usage, err := a.Quota.Provision(ctx, tenantID, domain.PlanID(plan))
				if err != nil {
					return err
				}
				return renderUsage(cmd, opts, a, usage)
			})
		},
	}

	cmd.Flags().StringVar(&plan, "plan", "", "plan id (default plan when empty)")
	return cmd
}

func newUsageCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "usage <tenant-id>",
		Short: "Show a tenant's current-period usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseTenantID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				usage, err := a.Quota.GetUsage(ctx, tenantID)
				if err != nil {
					return err
				}
				return renderUsage(cmd, opts, a, usage)
			})
		},
	}
}

func newResetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <tenant-id>",
		Short: "Zero a tenant's counters and resolve its quota alerts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseTenantID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				usage, err := a.Rollover.ResetCounters(ctx, tenantID)
				if err != nil {
					return err
				}
				return renderUsage(cmd, opts, a, usage)
			})
		},
	}
}

func newSetPlanCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set-plan <tenant-id> <plan-id>",
		Short: "Move a tenant to another plan",
		Long: `Move a tenant to another plan. Counters are kept, so a downgrade can
leave the tenant over its new limits until the period rolls over.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := parseTenantID(args[0])
			if err != nil {
				return err
			}
			planID := domain.PlanID(args[1])
			if !planID.Valid() {
				return fmt.Errorf("unknown plan %q", args[1])
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				usage, err := a.Quota.ChangePlan(ctx, tenantID, planID)
				if err != nil {
					return err
				}
				return renderUsage(cmd, opts, a, usage)
			})
		},
	}
}

func newRolloverCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rollover",
		Short: "Reset every tenant whose usage period has ended",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rolled, err := a.Rollover.RunPeriodRollover(ctx, time.Now())
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"tenants": rolled,
						"count":   len(rolled),
					})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rolled over %d tenant(s)\n", len(rolled))
				for _, id := range rolled {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
				}
				return nil
			})
		},
	}
}

func renderUsage(cmd *cobra.Command, opts *options, a *app.App, usage *domain.TenantUsage) error {
	if opts.jsonOut {
		return printJSON(cmd.OutOrStdout(), usage)
	}
	plan, err := a.Catalog.Get(usage.PlanID)
	if err != nil {
		return err
	}
	return printUsage(cmd, usage, plan)
}
