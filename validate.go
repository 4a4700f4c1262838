package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"booking-metrics-audit/internal/domain"
	"booking-metrics-audit/internal/metrics"
	"booking-metrics-audit/internal/store"
)

type check struct {
	Name     string
	Expected float64
	Actual   float64
	OK       bool
}

type validation struct {
	Tenant     domain.Tenant
	Checks     []check
	Mismatches int
}

func newValidateCommand(wrap appWrapper) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate [tenant-id]",
		Short: "Compare stored comprehensive metrics with a fresh recompute",
		Args:  cobra.MaximumNArgs(1),
		RunE: wrap(func(ctx context.Context, a *app, args []string) error {
			if len(args) == 1 {
				a.opts.tenant = args[0]
			}
			results, err := runValidate(ctx, a)
			if err != nil {
				return err
			}
			mismatches := 0
			for _, v := range results {
				mismatches += v.Mismatches
			}
			if strict && mismatches > 0 {
				return fmt.Errorf("validation found %d mismatches", mismatches)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit with an error when any check fails")
	return cmd
}

// runValidate checks every stored comprehensive row against a recompute of
// the same window (ending where the stored one ended), plus window
// monotonicity: a longer window never has less revenue or fewer
// unique customers than a shorter one ending at the same instant.
func runValidate(ctx context.Context, a *app) ([]validation, error) {
	tenants, err := a.listTenants(ctx)
	if err != nil {
		return nil, err
	}

	a.println("Metrics Validation")
	a.println(strings.Repeat("=", 38))

	var out []validation
	var loadErr error
	_, err = a.computeAll(ctx, tenants, domain.ValidPeriods, func(tenant domain.Tenant, results []metrics.TenantResult) {
		v := validation{Tenant: tenant}
		for _, r := range results {
			stored, err := a.storedComprehensive(ctx, tenant.ID, r.Period)
			if err != nil {
				loadErr = err
				return
			}
			expected := r.Comprehensive
			if stored != nil && !stored.WindowEnd.Equal(expected.WindowEnd) {
				if expected, err = a.recomputeAt(ctx, tenant, r.Period, stored.WindowEnd); err != nil {
					loadErr = err
					return
				}
			}
			v.Checks = append(v.Checks, compareComprehensive(r.Period, expected, stored)...)
		}
		v.Checks = append(v.Checks, monotonicChecks(results)...)
		for _, c := range v.Checks {
			if !c.OK {
				v.Mismatches++
			}
		}
		printValidation(a, v)
		out = append(out, v)
	})
	if loadErr != nil {
		return out, loadErr
	}
	return out, err
}

func (a *app) storedComprehensive(ctx context.Context, tenantID string, period domain.Period) (*metrics.Comprehensive, error) {
	rows, err := a.store.LoadTenantMetrics(ctx, store.MetricFilter{TenantID: tenantID, MetricType: metrics.TypeComprehensive, Period: period})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	data, err := metrics.Decode(rows[0].MetricType, rows[0].MetricData)
	if err != nil {
		a.logger.Warn("stored metric unreadable", "tenant_id", tenantID, "period", period, "error", err)
		return nil, nil
	}
	c, ok := data.(metrics.Comprehensive)
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// recomputeAt rebuilds one period as it looked when its window ended at end.
func (a *app) recomputeAt(ctx context.Context, tenant domain.Tenant, period domain.Period, end time.Time) (metrics.Comprehensive, error) {
	results, err := metrics.NewCalculator(a.store, a.logger).
		WithClock(func() time.Time { return end }).
		Compute(ctx, tenant, []domain.Period{period})
	if err != nil {
		return metrics.Comprehensive{}, err
	}
	return results[0].Comprehensive, nil
}

func compareComprehensive(period domain.Period, expected metrics.Comprehensive, stored *metrics.Comprehensive) []check {
	name := func(field string) string { return string(period) + " " + field }
	if stored == nil {
		return []check{{Name: name("stored row"), Expected: 1, Actual: 0}}
	}
	pairs := []struct {
		field    string
		expected float64
		actual   float64
	}{
		{"total_revenue", expected.Revenue.TotalRevenue, stored.Revenue.TotalRevenue},
		{"total_appointments", float64(expected.Appointments.TotalAppointments), float64(stored.Appointments.TotalAppointments)},
		{"unique_customers", float64(expected.Customers.UniqueCustomers), float64(stored.Customers.UniqueCustomers)},
		{"total_conversations", float64(expected.Conversations.TotalConversations), float64(stored.Conversations.TotalConversations)},
		{"billable_conversations", float64(expected.Conversations.BillableConversations), float64(stored.Conversations.BillableConversations)},
		{"billing_total", expected.Billing.Total, stored.Billing.Total},
	}
	checks := make([]check, 0, len(pairs))
	for _, p := range pairs {
		checks = append(checks, check{
			Name:     name(p.field),
			Expected: p.expected,
			Actual:   p.actual,
			OK:       math.Abs(p.expected-p.actual) < 0.005,
		})
	}
	return checks
}

func monotonicChecks(results []metrics.TenantResult) []check {
	var checks []check
	for i := 1; i < len(results); i++ {
		short, long := results[i-1], results[i]
		if short.Period.Days() > long.Period.Days() {
			short, long = long, short
		}
		label := fmt.Sprintf("%s <= %s", short.Period, long.Period)
		checks = append(checks,
			check{
				Name:     label + " revenue",
				Expected: short.Comprehensive.Revenue.TotalRevenue,
				Actual:   long.Comprehensive.Revenue.TotalRevenue,
				OK:       short.Comprehensive.Revenue.TotalRevenue <= long.Comprehensive.Revenue.TotalRevenue+0.005,
			},
			check{
				Name:     label + " unique customers",
				Expected: float64(short.Comprehensive.Customers.UniqueCustomers),
				Actual:   float64(long.Comprehensive.Customers.UniqueCustomers),
				OK:       short.Comprehensive.Customers.UniqueCustomers <= long.Comprehensive.Customers.UniqueCustomers,
			},
		)
	}
	return checks
}

func printValidation(a *app, v validation) {
	a.printf("\n%s (%s)\n", v.Tenant.DisplayName(), v.Tenant.ID)
	a.println(strings.Repeat("-", 38))
	for _, c := range v.Checks {
		status := "ok"
		if !c.OK {
			status = "MISMATCH"
		}
		a.printf("%-8s %s | expected %.2f | actual %.2f\n", status, c.Name, c.Expected, c.Actual)
	}
	a.printf("Mismatches: %d\n", v.Mismatches)
}
