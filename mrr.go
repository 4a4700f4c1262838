package main

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"booking-metrics-audit/internal/billing"
	"booking-metrics-audit/internal/domain"
	"booking-metrics-audit/internal/metrics"
	"booking-metrics-audit/internal/report"
	"booking-metrics-audit/internal/sessions"
)

const (
	StatusPaying = "paying"
	StatusTrial  = "trial"
	StatusUnpaid = "unpaid"

	mrrReportPrefix = "platform-mrr-with-trial"
)

type MRRRow struct {
	TenantID              string     `json:"tenant_id"`
	TenantName            string     `json:"tenant_name"`
	Status                string     `json:"status"`
	SubscriptionPlan      string     `json:"subscription_plan"`
	PlanFee               float64    `json:"plan_fee"`
	ActualMRR             float64    `json:"actual_mrr"`
	Payments              int        `json:"payments_count"`
	LastPaymentAt         *time.Time `json:"last_payment_at,omitempty"`
	EstimatedPlan         string     `json:"estimated_plan"`
	EstimatedMRR          float64    `json:"estimated_mrr"`
	BillableConversations int        `json:"billable_conversations"`
	TrialDaysLeft         int        `json:"trial_days_left"`
	PlanMismatch          bool       `json:"plan_mismatch"`
}

type MRRTotals struct {
	ActualMRR    float64 `json:"actual_mrr"`
	EstimatedMRR float64 `json:"estimated_mrr"`
	PlanMRR      float64 `json:"plan_mrr"`
	Paying       int     `json:"paying_tenants"`
	Trial        int     `json:"trial_tenants"`
	Unpaid       int     `json:"unpaid_tenants"`
}

type MRRReport struct {
	GeneratedAt time.Time `json:"generated_at"`
	TrialDays   int       `json:"trial_days"`
	Totals      MRRTotals `json:"totals"`
	Tenants     []MRRRow  `json:"tenants"`
}

func newMRRCommand(wrap appWrapper) *cobra.Command {
	var syncPlan bool
	cmd := &cobra.Command{
		Use:   "mrr",
		Short: "Report actual (payments) and estimated (conversation tier) MRR with trial status",
		Args:  cobra.NoArgs,
		RunE: wrap(func(ctx context.Context, a *app, _ []string) error {
			return runMRR(ctx, a, syncPlan)
		}),
	}
	cmd.Flags().BoolVar(&syncPlan, "sync-plan", false, "patch each tenant's plan and monthly fee to the estimated tier")
	return cmd
}

func runMRR(ctx context.Context, a *app, syncPlan bool) error {
	tenants, err := a.listTenants(ctx)
	if err != nil {
		return err
	}
	now := a.now().UTC()
	window := domain.Period30d.Window(now)

	payments, err := a.store.ListSubscriptionPayments(ctx, a.opts.tenant, window)
	if err != nil {
		return err
	}
	byTenant := lo.GroupBy(payments, func(p domain.SubscriptionPayment) string { return p.TenantID })

	rep := MRRReport{GeneratedAt: now, TrialDays: a.cfg.TrialDays}
	for i, tenant := range tenants {
		if i > 0 {
			if err := pause(ctx, a.opts.throttle); err != nil {
				return err
			}
		}
		messages, err := a.store.ListConversationMessages(ctx, tenant.ID, window)
		if err == nil {
			messages, err = metrics.CompleteSessions(ctx, a.store, tenant.ID, messages, window.End)
		}
		if err != nil {
			a.logger.Warn("skipping tenant", "tenant_id", tenant.ID, "error", err)
			continue
		}
		tier := metrics.Billing(metrics.Conversations(sessions.Reconstruct(messages)))
		row := buildMRRRow(tenant, byTenant[tenant.ID], tier, now, a.cfg.TrialDays)
		rep.Tenants = append(rep.Tenants, row)

		if syncPlan && row.PlanMismatch {
			if a.opts.dryRun {
				a.logger.Info("would patch plan", "tenant_id", tenant.ID, "from", row.SubscriptionPlan, "to", row.EstimatedPlan)
				continue
			}
			fee, _ := billing.PlanFee(row.EstimatedPlan)
			if err := a.store.PatchTenantPlan(ctx, tenant.ID, row.EstimatedPlan, fee); err != nil {
				a.logger.Warn("plan sync failed", "tenant_id", tenant.ID, "error", err)
				continue
			}
			a.logger.Info("plan synced", "tenant_id", tenant.ID, "plan", row.EstimatedPlan)
		}
	}
	rep.Totals = mrrTotals(rep.Tenants)
	sort.SliceStable(rep.Tenants, func(i, j int) bool { return rep.Tenants[i].ActualMRR > rep.Tenants[j].ActualMRR })

	printMRRReport(a, rep)
	return writeMRRFiles(a, rep)
}

// buildMRRRow classifies one tenant. Payments in the window make it paying;
// otherwise it is on trial while its subscription is younger than trialDays.
func buildMRRRow(tenant domain.Tenant, payments []domain.SubscriptionPayment, tier billing.Tier, now time.Time, trialDays int) MRRRow {
	row := MRRRow{
		TenantID:              tenant.ID,
		TenantName:            tenant.DisplayName(),
		SubscriptionPlan:      tenant.SubscriptionPlan,
		PlanFee:               tenant.MonthlySubscriptionFee,
		Payments:              len(payments),
		EstimatedPlan:         tier.Plan,
		EstimatedMRR:          tier.Total,
		BillableConversations: tier.Conversations,
		PlanMismatch:          tenant.SubscriptionPlan != tier.Plan,
	}
	for _, p := range payments {
		row.ActualMRR += p.Amount
		if row.LastPaymentAt == nil || p.PaymentDate.After(*row.LastPaymentAt) {
			paid := p.PaymentDate
			row.LastPaymentAt = &paid
		}
	}
	row.ActualMRR = round2(row.ActualMRR)

	started := tenant.SubscriptionStartDate
	if started.IsZero() {
		started = tenant.CreatedAt
	}
	age := -1
	if !started.IsZero() {
		age = int(dateOnlyUTC(now).Sub(dateOnlyUTC(started)).Hours() / 24)
	}

	switch {
	case len(payments) > 0:
		row.Status = StatusPaying
	case age >= 0 && age < trialDays:
		row.Status = StatusTrial
		row.TrialDaysLeft = trialDays - age
	default:
		row.Status = StatusUnpaid
	}
	return row
}

func mrrTotals(rows []MRRRow) MRRTotals {
	var t MRRTotals
	for _, r := range rows {
		t.ActualMRR += r.ActualMRR
		t.EstimatedMRR += r.EstimatedMRR
		switch r.Status {
		case StatusPaying:
			t.Paying++
			t.PlanMRR += r.PlanFee
		case StatusTrial:
			t.Trial++
		default:
			t.Unpaid++
		}
	}
	t.ActualMRR = round2(t.ActualMRR)
	t.EstimatedMRR = round2(t.EstimatedMRR)
	t.PlanMRR = round2(t.PlanMRR)
	return t
}

func printMRRReport(a *app, rep MRRReport) {
	a.println("Platform MRR (with trial)")
	a.println(strings.Repeat("=", 38))
	a.printf("As of: %s | trial %d days\n", rep.GeneratedAt.Format("2006-01-02"), rep.TrialDays)
	a.printf("Actual MRR: %s | Estimated MRR: %s | Plan MRR: %s\n",
		report.FormatBRL(rep.Totals.ActualMRR), report.FormatBRL(rep.Totals.EstimatedMRR), report.FormatBRL(rep.Totals.PlanMRR))
	a.printf("Paying: %d | Trial: %d | Unpaid: %d\n", rep.Totals.Paying, rep.Totals.Trial, rep.Totals.Unpaid)

	a.println("\nTenants")
	a.println(strings.Repeat("-", 38))
	if len(rep.Tenants) == 0 {
		a.println("No tenants found.")
		return
	}
	for _, r := range rep.Tenants {
		plan := r.SubscriptionPlan
		if plan == "" {
			plan = "none"
		}
		line := fmt.Sprintf("%s | %s | actual %s | estimated %s (%s, %d conversations) | plan %s",
			r.TenantName, r.Status, report.FormatBRL(r.ActualMRR), report.FormatBRL(r.EstimatedMRR),
			r.EstimatedPlan, r.BillableConversations, plan)
		if r.Status == StatusTrial {
			line += fmt.Sprintf(" | %d trial days left", r.TrialDaysLeft)
		}
		if r.PlanMismatch {
			line += " | plan mismatch"
		}
		a.println(line)
	}
}

func writeMRRFiles(a *app, rep MRRReport) error {
	jsonPath := report.TimestampedPath(a.opts.outDir, mrrReportPrefix, "json", rep.GeneratedAt)
	if err := report.WriteJSON(jsonPath, rep); err != nil {
		return err
	}
	rows := make([]map[string]any, 0, len(rep.Tenants))
	for _, r := range rep.Tenants {
		flat, err := report.Flatten(r)
		if err != nil {
			return err
		}
		rows = append(rows, flat)
	}
	csvPath := report.TimestampedPath(a.opts.outDir, mrrReportPrefix, "csv", rep.GeneratedAt)
	if err := report.WriteCSV(csvPath, rows, []string{"tenant_id", "tenant_name", "status", "actual_mrr", "estimated_mrr"}); err != nil {
		return err
	}
	a.printf("\nJSON report saved to %s\nCSV report saved to %s\n", jsonPath, csvPath)
	return nil
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func dateOnlyUTC(value time.Time) time.Time {
	value = value.UTC()
	return time.Date(value.Year(), value.Month(), value.Day(), 0, 0, 0, 0, time.UTC)
}
