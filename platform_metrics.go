package main

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"booking-metrics-audit/internal/domain"
	"booking-metrics-audit/internal/metrics"
	"booking-metrics-audit/internal/report"
	"booking-metrics-audit/internal/store"
)

func newPlatformMetricsCommand(wrap appWrapper) *cobra.Command {
	return &cobra.Command{
		Use:   "platform-metrics",
		Short: "Aggregate every active tenant into platform comprehensive, participation and ranking metrics",
		Args:  cobra.NoArgs,
		RunE:  wrap(runPlatformMetrics),
	}
}

func runPlatformMetrics(ctx context.Context, a *app, _ []string) error {
	if a.opts.tenant != "" {
		return errors.New("platform-metrics always covers every tenant; drop --tenant")
	}
	periods, err := a.periods()
	if err != nil {
		return err
	}
	all, err := a.store.ListTenants(ctx, store.TenantFilter{IncludeSuspended: true})
	if err != nil {
		return err
	}
	active := activeTenants(all)

	var results []metrics.TenantResult
	summary, err := a.computeAll(ctx, active, periods, func(_ domain.Tenant, rs []metrics.TenantResult) {
		results = append(results, rs...)
	})
	if err != nil {
		return err
	}

	a.println("Platform Metrics")
	a.println(strings.Repeat("=", 38))
	for _, period := range periods {
		snap := metrics.Platform(period, results, len(all))
		printPlatformSnapshot(a, snap)
		if a.opts.dryRun {
			continue
		}
		if _, err := a.store.SavePlatformMetric(ctx, snap); err != nil {
			summary.WriteErrors++
			a.logger.Warn("platform metric write failed", "period", period, "error", err)
			continue
		}
		summary.Written++
	}
	summary.print(a)
	return nil
}

func printPlatformSnapshot(a *app, snap metrics.PlatformSnapshot) {
	c := snap.Comprehensive
	a.printf("\n%s | tenants %d/%d | active %d\n", snap.Period, snap.TenantsProcessed, snap.TotalTenants, c.ActiveTenants)
	a.println(strings.Repeat("-", 38))
	a.printf("Revenue: %s (avg per tenant %s)\n", report.FormatBRL(c.TotalRevenue), report.FormatBRL(c.AverageRevenuePerTenant))
	a.printf("Appointments: %d (completed %d)\n", c.TotalAppointments, c.CompletedAppointments)
	a.printf("Conversations: %d (billable %d)\n", c.TotalConversations, c.BillableConversations)
	a.printf("Unique customers: %d (per-tenant sum %d)\n", c.UniqueCustomers, c.CustomerMemberships)
	a.printf("Estimated MRR: %s\n", report.FormatBRL(c.EstimatedMRR))
	a.printf("Plans: %s\n", formatDistribution(c.PlanDistribution))
	a.printf("Risk: %s\n", formatDistribution(c.RiskDistribution))
	if len(snap.Ranking.ByRevenue) > 0 {
		a.println("Top revenue:")
		for _, entry := range snap.Ranking.ByRevenue {
			a.printf("  %d. %s %s\n", entry.Rank, entry.TenantName, report.FormatBRL(entry.Value))
		}
	}
}

func formatDistribution(dist map[string]int) string {
	if len(dist) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(dist))
	for k := range dist {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		name := k
		if name == "" {
			name = "unassigned"
		}
		parts[i] = name + " " + report.FormatInt(int64(dist[k]))
	}
	return strings.Join(parts, " | ")
}
