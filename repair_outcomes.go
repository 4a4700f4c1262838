package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"booking-metrics-audit/internal/domain"
	"booking-metrics-audit/internal/metrics"
	"booking-metrics-audit/internal/sessions"
)

type repairAction struct {
	Session sessions.Session
	Outcome domain.Outcome
	Reason  string
}

type repairSummary struct {
	Sessions   int
	Inferred   int
	Unified    int
	Unresolved int
	Applied    int
	Failed     int
}

func newRepairOutcomesCommand(wrap appWrapper) *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "repair-outcomes",
		Short: "Fill missing conversation outcomes and unify conflicting ones",
		Long:  "Sessions without an outcome get the keyword inference over their first user message; sessions with conflicting outcomes get the last one written. Nothing is written without --apply.",
		Args:  cobra.NoArgs,
		RunE: wrap(func(ctx context.Context, a *app, _ []string) error {
			_, err := runRepairOutcomes(ctx, a, apply)
			return err
		}),
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "write the repaired outcomes")
	return cmd
}

// planRepairs decides the outcome to write for every session that needs one.
func planRepairs(list []sessions.Session) ([]repairAction, repairSummary) {
	summary := repairSummary{Sessions: len(list)}
	var actions []repairAction
	for _, s := range list {
		switch {
		case s.Conflicting():
			summary.Unified++
			actions = append(actions, repairAction{Session: s, Outcome: s.Outcome, Reason: "conflicting outcomes " + joinOutcomes(s.Outcomes)})
		case s.Missing():
			outcome, source := s.Resolve()
			if source != sessions.SourceInferred {
				summary.Unresolved++
				continue
			}
			summary.Inferred++
			actions = append(actions, repairAction{Session: s, Outcome: outcome, Reason: "inferred from first message"})
		}
	}
	return actions, summary
}

func runRepairOutcomes(ctx context.Context, a *app, apply bool) (repairSummary, error) {
	periods, err := a.periods()
	if err != nil {
		return repairSummary{}, err
	}
	window := largestPeriod(periods).Window(a.now())
	tenants, err := a.listTenants(ctx)
	if err != nil {
		return repairSummary{}, err
	}
	write := apply && !a.opts.dryRun

	a.println("Conversation Outcome Repair")
	a.println(strings.Repeat("=", 38))
	var total repairSummary
	for i, tenant := range tenants {
		if i > 0 {
			if err := pause(ctx, a.opts.throttle); err != nil {
				return total, err
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
		actions, summary := planRepairs(sessions.Reconstruct(messages))
		if len(actions) > 0 {
			a.printf("\n%s: %d sessions, %d inferred, %d unified, %d unresolved\n",
				tenant.DisplayName(), summary.Sessions, summary.Inferred, summary.Unified, summary.Unresolved)
		}
		for _, action := range actions {
			a.printf("  %s -> %s (%s, %d messages)\n", action.Session.ID, action.Outcome, action.Reason, len(action.Session.MessageIDs))
			if !write {
				continue
			}
			if err := a.store.UpdateConversationOutcome(ctx, action.Session.MessageIDs, action.Outcome); err != nil {
				summary.Failed++
				a.logger.Warn("outcome update failed", "tenant_id", tenant.ID, "session", action.Session.ID, "error", err)
				continue
			}
			summary.Applied++
		}
		total.Sessions += summary.Sessions
		total.Inferred += summary.Inferred
		total.Unified += summary.Unified
		total.Unresolved += summary.Unresolved
		total.Applied += summary.Applied
		total.Failed += summary.Failed
	}

	a.printf("\nSessions: %d | inferred %d | unified %d | unresolved %d\n", total.Sessions, total.Inferred, total.Unified, total.Unresolved)
	if write {
		a.printf("Applied: %d | failed %d\n", total.Applied, total.Failed)
	} else {
		a.println("Nothing written; rerun with --apply to update conversation_history.")
	}
	return total, nil
}

func largestPeriod(periods []domain.Period) domain.Period {
	largest := domain.Period7d
	for _, p := range periods {
		if p.Days() > largest.Days() {
			largest = p
		}
	}
	return largest
}

func joinOutcomes(outcomes []domain.Outcome) string {
	parts := make([]string, len(outcomes))
	for i, o := range outcomes {
		parts[i] = string(o)
	}
	return strings.Join(parts, ",")
}
