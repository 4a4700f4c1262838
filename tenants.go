package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"

	"booking-metrics-audit/internal/domain"
	"booking-metrics-audit/internal/metrics"
	"booking-metrics-audit/internal/store"
)

// runSummary counts what a per-tenant loop did.
type runSummary struct {
	Tenants     int
	Processed   int
	Failed      int
	Written     int
	WriteErrors int
}

func (s runSummary) print(a *app) {
	a.printf("\nTenants: %d | processed %d | failed %d", s.Tenants, s.Processed, s.Failed)
	if a.opts.dryRun {
		a.printf(" | dry run, nothing written\n")
		return
	}
	a.printf(" | rows written %d | write errors %d\n", s.Written, s.WriteErrors)
}

// listTenants honours --tenant. A named tenant is listed even when suspended.
func (a *app) listTenants(ctx context.Context) ([]domain.Tenant, error) {
	filter := store.TenantFilter{ID: a.opts.tenant, IncludeSuspended: a.opts.tenant != ""}
	tenants, err := a.store.ListTenants(ctx, filter)
	if err != nil {
		return nil, err
	}
	if a.opts.tenant != "" && len(tenants) == 0 {
		return nil, fmt.Errorf("tenant %s not found", a.opts.tenant)
	}
	return tenants, nil
}

func activeTenants(all []domain.Tenant) []domain.Tenant {
	return lo.Filter(all, func(t domain.Tenant, _ int) bool { return t.Status != domain.TenantSuspended })
}

// computeAll runs the calculator tenant by tenant with the throttle pause in
// between. A failing tenant is logged and skipped; cancellation stops the loop.
func (a *app) computeAll(ctx context.Context, tenants []domain.Tenant, periods []domain.Period, each func(domain.Tenant, []metrics.TenantResult)) (runSummary, error) {
	summary := runSummary{Tenants: len(tenants)}
	calc := a.calculator()
	for i, tenant := range tenants {
		if i > 0 {
			if err := pause(ctx, a.opts.throttle); err != nil {
				return summary, err
			}
		}
		results, err := calc.Compute(ctx, tenant, periods)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return summary, err
			}
			summary.Failed++
			a.logger.Warn("skipping tenant", "tenant_id", tenant.ID, "tenant", tenant.DisplayName(), "error", err)
			continue
		}
		summary.Processed++
		a.logger.Debug("tenant computed", "tenant_id", tenant.ID, "periods", len(results))
		each(tenant, results)
	}
	return summary, nil
}
