package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"booking-metrics-audit/internal/domain"
	"booking-metrics-audit/internal/sessions"
)

// Source is the read side of the booking database.
type Source interface {
	ListAppointments(ctx context.Context, tenantID string, w domain.Window) ([]domain.Appointment, error)
	ListConversationMessages(ctx context.Context, tenantID string, w domain.Window) ([]domain.ConversationMessage, error)
	SessionLoader
	ServiceNames(ctx context.Context, tenantID string) (map[string]string, error)
	ServiceCategories(ctx context.Context, tenantID string) (map[string]string, error)
	ProfessionalNames(ctx context.Context, tenantID string) (map[string]string, error)
	RegisteredCustomers(ctx context.Context, tenantID string) (int, error)
}

// SessionLoader fetches whole sessions by id.
type SessionLoader interface {
	ListSessionMessages(ctx context.Context, tenantID string, sessionIDs []string, before time.Time) ([]domain.ConversationMessage, error)
}

// CompleteSessions adds to messages every earlier message of the sessions
// they belong to, so a session that started before the fetched window keeps
// its recorded outcome. Messages created at or after before are left out.
func CompleteSessions(ctx context.Context, loader SessionLoader, tenantID string, messages []domain.ConversationMessage, before time.Time) ([]domain.ConversationMessage, error) {
	ids := lo.FilterMap(messages, func(m domain.ConversationMessage, _ int) (string, bool) {
		id := m.SessionID()
		return id, id != ""
	})
	if len(ids) == 0 {
		return messages, nil
	}
	full, err := loader.ListSessionMessages(ctx, tenantID, lo.Uniq(ids), before)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(messages))
	out := append([]domain.ConversationMessage{}, messages...)
	for _, m := range messages {
		seen[m.ID] = true
	}
	for _, m := range full {
		if !seen[m.ID] {
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	return out, nil
}

// TenantResult holds every variant computed for one tenant and period.
// CustomerIDs are the distinct users with an appointment in the window.
type TenantResult struct {
	Tenant        domain.Tenant
	Period        domain.Period
	Comprehensive Comprehensive
	Billing       ConversationBilling
	Risk          RiskAssessment
	Sessions      []sessions.Session
	CustomerIDs   []string
}

// Variants returns the results in the order they are persisted.
func (r TenantResult) Variants() []Data {
	return []Data{r.Comprehensive, r.Billing, r.Risk}
}

type Calculator struct {
	source      Source
	logger      *slog.Logger
	now         func() time.Time
	cadenceDays int
}

func NewCalculator(source Source, logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{
		source:      source,
		logger:      logger,
		now:         time.Now,
		cadenceDays: DefaultCadenceDays,
	}
}

// WithClock pins "now" for reproducible windows.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	c.now = now
	return c
}

// Compute recomputes the metrics of one tenant for every requested period.
// Rows are fetched once for the largest window (plus the preceding window of
// the same length for the revenue trend) and narrowed in memory, so nested
// windows always see nested data.
func (c *Calculator) Compute(ctx context.Context, tenant domain.Tenant, periods []domain.Period) ([]TenantResult, error) {
	if len(periods) == 0 {
		return nil, nil
	}
	for _, p := range periods {
		if !p.Valid() {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedPeriod, p)
		}
	}

	now := c.now().UTC()
	largest := lo.MaxBy(periods, func(a, b domain.Period) bool { return a.Days() > b.Days() })
	outer := largest.Window(now)
	history := domain.Window{Start: outer.Start.AddDate(0, 0, -largest.Days()), End: outer.End}

	var appointments []domain.Appointment
	var messages []domain.ConversationMessage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := c.source.ListAppointments(gctx, tenant.ID, history)
		if err != nil {
			return fmt.Errorf("appointments: %w", err)
		}
		appointments = rows
		return nil
	})
	g.Go(func() error {
		rows, err := c.source.ListConversationMessages(gctx, tenant.ID, outer)
		if err != nil {
			return fmt.Errorf("conversations: %w", err)
		}
		rows, err = CompleteSessions(gctx, c.source, tenant.ID, rows, outer.End)
		if err != nil {
			return fmt.Errorf("conversation sessions: %w", err)
		}
		messages = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("tenant %s: %w", tenant.ID, err)
	}

	lookups, registered := c.lookups(ctx, tenant.ID)
	// Sessions are resolved over all their messages; a window only decides
	// which sessions it counts (any message inside it).
	allSessions := sessions.Reconstruct(messages)

	results := make([]TenantResult, 0, len(periods))
	for _, period := range periods {
		window := period.Window(now)
		previous := domain.Window{Start: window.Start.AddDate(0, 0, -period.Days()), End: window.Start}

		inWindow := lo.Filter(appointments, func(a domain.Appointment, _ int) bool {
			return window.Contains(a.StartTime)
		})
		inPrevious := lo.Filter(appointments, func(a domain.Appointment, _ int) bool {
			return previous.Contains(a.StartTime)
		})
		touched := make(map[string]bool)
		for _, m := range messages {
			if window.Contains(m.CreatedAt) {
				touched[sessions.Key(m)] = true
			}
		}
		windowSessions := lo.Filter(allSessions, func(s sessions.Session, _ int) bool {
			return touched[s.ID]
		})

		result := c.build(tenant, period, window, now, inWindow, inPrevious, windowSessions, lookups, registered)
		results = append(results, result)
	}
	return results, nil
}

func (c *Calculator) build(
	tenant domain.Tenant,
	period domain.Period,
	window domain.Window,
	now time.Time,
	appointments []domain.Appointment,
	previous []domain.Appointment,
	sessionList []sessions.Session,
	lookups Lookups,
	registered int,
) TenantResult {
	revenue := Revenue(appointments, lookups)
	appts := Appointments(appointments, lookups)
	customers := Customers(appointments, registered)
	conversations := Conversations(sessionList)
	tier := Billing(conversations)
	previousRevenue := Revenue(previous, Lookups{})
	customerIDs := lo.Uniq(lo.FilterMap(appointments, func(a domain.Appointment, _ int) (string, bool) {
		return a.UserID, a.UserID != ""
	}))

	comprehensive := Comprehensive{
		Period:        period,
		WindowStart:   window.Start,
		WindowEnd:     window.End,
		Revenue:       revenue,
		Appointments:  appts,
		Customers:     customers,
		Conversations: conversations,
		Billing:       tier,
	}

	return TenantResult{
		Tenant:        tenant,
		Period:        period,
		Comprehensive: comprehensive,
		Billing: ConversationBilling{
			Period:                period,
			TotalConversations:    conversations.TotalConversations,
			BillableConversations: conversations.BillableConversations,
			Tier:                  tier,
			CurrentPlan:           tenant.SubscriptionPlan,
			PlanMatches:           tenant.SubscriptionPlan == tier.Plan,
		},
		Risk: Risk(RiskInput{
			Period:          period,
			AsOf:            now,
			LastAppointment: appts.LastAppointmentAt,
			Appointments:    appts,
			Conversations:   conversations,
			Revenue:         revenue.TotalRevenue,
			PreviousRevenue: previousRevenue.TotalRevenue,
			CadenceDays:     c.cadenceDays,
		}),
		Sessions:    sessionList,
		CustomerIDs: customerIDs,
	}
}

// lookups loads the name tables used by breakdowns. Failures degrade to raw
// ids and are only logged.
func (c *Calculator) lookups(ctx context.Context, tenantID string) (Lookups, int) {
	var out Lookups
	var err error
	if out.ServiceNames, err = c.source.ServiceNames(ctx, tenantID); err != nil {
		c.logger.Warn("service lookup failed", "tenant_id", tenantID, "error", err)
	}
	if out.ServiceCategories, err = c.source.ServiceCategories(ctx, tenantID); err != nil {
		c.logger.Warn("service category lookup failed", "tenant_id", tenantID, "error", err)
	}
	if out.ProfessionalNames, err = c.source.ProfessionalNames(ctx, tenantID); err != nil {
		c.logger.Warn("professional lookup failed", "tenant_id", tenantID, "error", err)
	}
	registered, err := c.source.RegisteredCustomers(ctx, tenantID)
	if err != nil {
		c.logger.Warn("registered customer count failed", "tenant_id", tenantID, "error", err)
		registered = 0
	}
	return out, registered
}
