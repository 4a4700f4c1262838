package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"booking-metrics-audit/internal/domain"
	"booking-metrics-audit/internal/metrics"
	"booking-metrics-audit/internal/report"
)

func newTenantMetricsCommand(wrap appWrapper) *cobra.Command {
	return &cobra.Command{
		Use:   "tenant-metrics",
		Short: "Recompute and store comprehensive, billing and risk metrics per tenant",
		Args:  cobra.NoArgs,
		RunE:  wrap(runTenantMetrics),
	}
}

func runTenantMetrics(ctx context.Context, a *app, _ []string) error {
	periods, err := a.periods()
	if err != nil {
		return err
	}
	tenants, err := a.listTenants(ctx)
	if err != nil {
		return err
	}

	a.println("Tenant Metrics")
	a.println(strings.Repeat("=", 38))
	a.printf("Periods: %s\n", joinPeriods(periods))

	var written, writeErrors int
	summary, err := a.computeAll(ctx, tenants, periods, func(tenant domain.Tenant, results []metrics.TenantResult) {
		a.printf("\n%s (%s)\n", tenant.DisplayName(), tenant.ID)
		a.println(strings.Repeat("-", 38))
		for _, r := range results {
			printTenantResult(a, r)
			if a.opts.dryRun {
				continue
			}
			for _, data := range r.Variants() {
				if _, err := a.store.SaveTenantMetric(ctx, tenant.ID, data); err != nil {
					writeErrors++
					a.logger.Warn("metric write failed", "tenant_id", tenant.ID, "period", r.Period, "type", data.Type(), "error", err)
					continue
				}
				written++
			}
		}
	})
	summary.Written, summary.WriteErrors = written, writeErrors
	summary.print(a)
	return err
}

func printTenantResult(a *app, r metrics.TenantResult) {
	c := r.Comprehensive
	a.printf("%s | revenue %s | appointments %d | customers %d | conversations %d (billable %d) | plan %s %s | risk %s (%d)\n",
		r.Period,
		report.FormatBRL(c.Revenue.TotalRevenue),
		c.Appointments.TotalAppointments,
		c.Customers.UniqueCustomers,
		c.Conversations.TotalConversations,
		c.Conversations.BillableConversations,
		c.Billing.Plan,
		report.FormatBRL(c.Billing.Total),
		r.Risk.Level,
		r.Risk.Score,
	)
}

func joinPeriods(periods []domain.Period) string {
	parts := make([]string, len(periods))
	for i, p := range periods {
		parts[i] = string(p)
	}
	return strings.Join(parts, ", ")
}
