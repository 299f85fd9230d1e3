package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DukeRupert/wrenchly/internal/domain"
)

func newPlansCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List the plan catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := loadCatalog()
			if err != nil {
				return err
			}

			all := catalog.All()
			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return printJSON(out, map[string]any{
					"default": catalog.Default().ID,
					"plans":   all,
				})
			}

			w := newTable(out)
			fmt.Fprintln(w, "PLAN\tNAME\tAPI CALLS\tWORK ORDERS\tUSERS\tSTORAGE MB\tFEATURES")
			for _, p := range all {
				id := string(p.ID)
				if p.ID == catalog.Default().ID {
					id += " (default)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					id, p.Name,
					p.Limits.APICalls, p.Limits.WorkOrders, p.Limits.Users, p.Limits.StorageMB,
					strings.Join(p.Features, ","),
				)
			}
			return w.Flush()
		},
	}
}

// printUsage renders a usage record's counters against its plan.
func printUsage(cmd *cobra.Command, usage *domain.TenantUsage, plan domain.Plan) error {
	w := newTable(cmd.OutOrStdout())
	fmt.Fprintf(w, "Tenant:\t%s\n", usage.TenantID)
	fmt.Fprintf(w, "Plan:\t%s\n", usage.PlanID)
	fmt.Fprintf(w, "Period:\t%s - %s\n", usage.PeriodStart.Format("2006-01-02"), usage.PeriodEnd.Format("2006-01-02"))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "RESOURCE\tUSED\tLIMIT\tPERCENT")
	for _, r := range domain.Resources {
		limit, _ := plan.Limits.For(r)
		used := usage.Counters.Get(r)
		fmt.Fprintf(w, "%s\t%d\t%s\t%.1f%%\n", r, used, limit, limit.Percentage(used))
	}
	return w.Flush()
}
