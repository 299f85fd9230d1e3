package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/DukeRupert/wrenchly/internal"
	"github.com/DukeRupert/wrenchly/internal/app"
	"github.com/DukeRupert/wrenchly/internal/plans"
)

// openApp connects to the configured backends. Replaced in tests.
var openApp = func(ctx context.Context) (*app.App, error) {
	cfg, err := internal.NewConfig()
	if err != nil {
		return nil, err
	}
	if cfg.UsageStore == "memory" {
		fmt.Fprintln(os.Stderr, "warning: USAGE_STORE is memory; changes do not outlive this command")
	}
	logger := internal.NewLogger(os.Stderr, cfg.Env, "warn")
	return app.New(ctx, cfg, logger)
}

// loadCatalog reads the plan catalog without connecting to any backend.
var loadCatalog = func() (*plans.Catalog, error) {
	cfg, err := internal.NewConfig()
	if err != nil {
		return nil, err
	}
	return app.LoadCatalog(cfg)
}

type options struct {
	jsonOut bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "usagectl",
		Short: "Wrenchly usage service operator CLI",
		Long: `usagectl inspects and adjusts tenant usage for the Wrenchly usage service.

It reads the same environment as the server (DATABASE_URL, USAGE_STORE,
REDIS_URL, PLAN_CATALOG_PATH, ...) and works on the stores directly.

Examples:
  usagectl plans
  usagectl provision 3f2c... --plan professional
  usagectl usage 3f2c...
  usagectl alerts 3f2c... --open
  usagectl snapshots list 3f2c...`,
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "output in JSON format")

	root.AddCommand(
		newPlansCmd(opts),
		newProvisionCmd(opts),
		newUsageCmd(opts),
		newResetCmd(opts),
		newSetPlanCmd(opts),
		newRolloverCmd(opts),
		newAlertsCmd(opts),
		newResolveCmd(opts),
		newSnapshotsCmd(opts),
	)
	return root
}

// withApp opens the backends for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func parseTenantID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid tenant id %q", raw)
	}
	return id, nil
}

// Output helpers

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}
