package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"booking-metrics-audit/internal/domain"
	"booking-metrics-audit/internal/kpiapi"
	"booking-metrics-audit/internal/metrics"
	"booking-metrics-audit/internal/store"
)

func newKPIDiffCommand(wrap appWrapper) *cobra.Command {
	var tolerance float64
	cmd := &cobra.Command{
		Use:   "kpi-diff",
		Short: "Diff locally recomputed platform KPIs against the running admin API",
		Args:  cobra.NoArgs,
		RunE: wrap(func(ctx context.Context, a *app, _ []string) error {
			client := kpiapi.NewClient(a.cfg.KPIAPIURL, a.cfg.ServiceRoleKey)
			_, err := runKPIDiff(ctx, a, client, tolerance)
			return err
		}),
	}
	cmd.Flags().Float64Var(&tolerance, "tolerance", 0.01, "relative difference accepted as equal")
	return cmd
}

type kpiFetcher interface {
	Fetch(ctx context.Context, period domain.Period) (kpiapi.Snapshot, error)
}

// runKPIDiff returns the number of keys that disagree across all periods.
func runKPIDiff(ctx context.Context, a *app, remote kpiFetcher, tolerance float64) (int, error) {
	if a.opts.tenant != "" {
		return 0, errors.New("kpi-diff compares platform totals; drop --tenant")
	}
	periods, err := a.periods()
	if err != nil {
		return 0, err
	}
	all, err := a.store.ListTenants(ctx, store.TenantFilter{IncludeSuspended: true})
	if err != nil {
		return 0, err
	}
	active := activeTenants(all)

	var results []metrics.TenantResult
	if _, err := a.computeAll(ctx, active, periods, func(_ domain.Tenant, rs []metrics.TenantResult) {
		results = append(results, rs...)
	}); err != nil {
		return 0, err
	}

	a.println("KPI Diff")
	a.println(strings.Repeat("=", 38))
	disagreements := 0
	for _, period := range periods {
		local, err := kpiapi.Numeric(metrics.Platform(period, results, len(all)).Comprehensive)
		if err != nil {
			return disagreements, err
		}
		theirs, err := remote.Fetch(ctx, period)
		if err != nil {
			a.logger.Warn("kpi api unavailable", "period", period, "error", err)
			a.printf("\n%s: kpi api unavailable (%v)\n", period, err)
			continue
		}

		a.printf("\n%s\n", period)
		w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tLOCAL\tREMOTE\tDELTA\tSTATUS")
		for _, d := range kpiapi.Compare(local, theirs, tolerance) {
			status := "ok"
			switch {
			case d.Missing != "":
				status = "missing " + d.Missing
				if d.Missing == "local" {
					// keys only the API reports are informational
					fmt.Fprintf(w, "%s\t-\t%.2f\t-\t%s\n", d.Key, d.Remote, status)
					continue
				}
				disagreements++
			case !d.Within:
				status = "DIFF"
				disagreements++
			}
			fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%+.2f\t%s\n", d.Key, d.Local, d.Remote, d.Delta, status)
		}
		if err := w.Flush(); err != nil {
			return disagreements, err
		}
	}
	a.printf("\nDisagreements: %d\n", disagreements)
	return disagreements, nil
}
