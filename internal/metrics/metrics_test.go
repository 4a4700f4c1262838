package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"booking-metrics-audit/internal/billing"
	"booking-metrics-audit/internal/domain"
	"booking-metrics-audit/internal/sessions"
)

var now = time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)

func price(v float64) *float64 { return &v }

func appt(id, user string, daysAgo int, status domain.AppointmentStatus, final, quoted *float64) domain.Appointment {
	start := now.AddDate(0, 0, -daysAgo)
	return domain.Appointment{
		ID:          id,
		TenantID:    "t-1",
		UserID:      user,
		StartTime:   start,
		EndTime:     start.Add(45 * time.Minute),
		Status:      status,
		FinalPrice:  final,
		QuotedPrice: quoted,
	}
}

type fakeSource struct {
	appointments []domain.Appointment
	messages     []domain.ConversationMessage
	failLookups  bool
	failAppts    bool

	sessionLookups int
}

func (f *fakeSource) ListAppointments(_ context.Context, tenantID string, w domain.Window) ([]domain.Appointment, error) {
	if f.failAppts {
		return nil, errors.New("connection reset")
	}
	var out []domain.Appointment
	for _, a := range f.appointments {
		if a.TenantID == tenantID && w.Contains(a.StartTime) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeSource) ListConversationMessages(_ context.Context, tenantID string, w domain.Window) ([]domain.ConversationMessage, error) {
	var out []domain.ConversationMessage
	for _, m := range f.messages {
		if m.TenantID == tenantID && w.Contains(m.CreatedAt) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeSource) ListSessionMessages(_ context.Context, tenantID string, sessionIDs []string, before time.Time) ([]domain.ConversationMessage, error) {
	f.sessionLookups++
	wanted := map[string]bool{}
	for _, id := range sessionIDs {
		wanted[id] = true
	}
	var out []domain.ConversationMessage
	for _, m := range f.messages {
		if m.TenantID == tenantID && wanted[m.SessionID()] && m.CreatedAt.Before(before) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeSource) ServiceNames(context.Context, string) (map[string]string, error) {
	if f.failLookups {
		return nil, errors.New("boom")
	}
	return map[string]string{"svc-1": "Corte"}, nil
}

func (f *fakeSource) ServiceCategories(context.Context, string) (map[string]string, error) {
	if f.failLookups {
		return nil, errors.New("boom")
	}
	return map[string]string{"svc-1": "Cabelo"}, nil
}

func (f *fakeSource) ProfessionalNames(context.Context, string) (map[string]string, error) {
	return map[string]string{"pro-1": "Ana"}, nil
}

func (f *fakeSource) RegisteredCustomers(context.Context, string) (int, error) {
	if f.failLookups {
		return 0, errors.New("boom")
	}
	return 12, nil
}

func TestRevenueScenarioThreeCompleted(t *testing.T) {
	appointments := []domain.Appointment{
		appt("a1", "u1", 1, domain.StatusCompleted, price(100), nil),
		appt("a2", "u2", 2, domain.StatusCompleted, nil, price(50)),
		appt("a3", "u3", 3, domain.StatusCompleted, price(0), nil),
	}
	got := Revenue(appointments, Lookups{})
	if got.TotalRevenue != 150 {
		t.Fatalf("total_revenue = %v, want 150", got.TotalRevenue)
	}
	if got.CompletedAppointments != 3 {
		t.Fatalf("completed_appointments = %d, want 3", got.CompletedAppointments)
	}
	if got.AverageAppointmentValue != 50 {
		t.Fatalf("average_appointment_value = %v, want 50", got.AverageAppointmentValue)
	}
}

func TestRevenuePriceFallback(t *testing.T) {
	got := Revenue([]domain.Appointment{appt("a1", "u1", 1, domain.StatusCompleted, nil, price(45))}, Lookups{})
	if got.TotalRevenue != 45 {
		t.Fatalf("quoted fallback = %v, want 45", got.TotalRevenue)
	}
	got = Revenue([]domain.Appointment{appt("a1", "u1", 1, domain.StatusCompleted, nil, nil)}, Lookups{})
	if got.TotalRevenue != 0 {
		t.Fatalf("no price = %v, want 0", got.TotalRevenue)
	}
}

func TestRevenueStatusBuckets(t *testing.T) {
	a := appt("a1", "u1", 1, domain.StatusConfirmed, price(80), nil)
	a.ServiceID = "svc-1"
	a.Data = json.RawMessage(`{"source": "whatsapp"}`)
	appointments := []domain.Appointment{
		a,
		appt("a2", "u1", 1, domain.StatusPending, price(30), nil),
		appt("a3", "u1", 1, domain.StatusCancelled, price(20), nil),
		appt("a4", "u1", 1, domain.StatusNoShow, nil, price(10)),
	}
	got := Revenue(appointments, Lookups{
		ServiceNames:      map[string]string{"svc-1": "Corte"},
		ServiceCategories: map[string]string{"svc-1": "Cabelo"},
	})
	if got.TotalRevenue != 80 || got.ConfirmedRevenue != 80 || got.RevenueAppointments != 1 {
		t.Fatalf("unexpected revenue: %+v", got)
	}
	if got.PotentialRevenue != 30 || got.LostRevenue != 30 {
		t.Fatalf("potential/lost = %v/%v", got.PotentialRevenue, got.LostRevenue)
	}
	if got.RevenueBySource["whatsapp"] != 80 || got.RevenueByService["Corte"] != 80 || got.RevenueByCategory["Cabelo"] != 80 {
		t.Fatalf("breakdowns = %v %v %v", got.RevenueBySource, got.RevenueByService, got.RevenueByCategory)
	}
}

func TestEmptyInputsAreZeroValued(t *testing.T) {
	rev := Revenue(nil, Lookups{})
	if rev.TotalRevenue != 0 || rev.AverageAppointmentValue != 0 || rev.RevenueBySource == nil {
		t.Fatalf("empty revenue = %+v", rev)
	}
	appts := Appointments(nil, Lookups{})
	if appts.TotalAppointments != 0 || appts.SuccessRate != 0 || appts.ByStatus == nil {
		t.Fatalf("empty appointments = %+v", appts)
	}
	conv := Conversations(nil)
	if conv.TotalConversations != 0 || conv.OutcomeDistribution == nil {
		t.Fatalf("empty conversations = %+v", conv)
	}
	if Customers(nil, 0).UniqueCustomers != 0 {
		t.Fatalf("empty customers should be zero")
	}
}

func TestAppointmentRates(t *testing.T) {
	appointments := []domain.Appointment{
		appt("a1", "u1", 1, domain.StatusCompleted, price(10), nil),
		appt("a2", "u2", 2, domain.StatusCompleted, price(10), nil),
		appt("a3", "u3", 3, domain.StatusCancelled, nil, nil),
	}
	appointments[0].ProfessionalID = "pro-1"
	got := Appointments(appointments, Lookups{ProfessionalNames: map[string]string{"pro-1": "Ana"}})
	if got.SuccessRate != 66.67 || got.CancellationRate != 33.33 || got.NoShowRate != 0 {
		t.Fatalf("rates = %v %v %v", got.SuccessRate, got.CancellationRate, got.NoShowRate)
	}
	if got.AverageDurationMinutes != 45 {
		t.Fatalf("average duration = %v", got.AverageDurationMinutes)
	}
	if got.AppointmentsByProfessional["Ana"] != 1 {
		t.Fatalf("by professional = %v", got.AppointmentsByProfessional)
	}
	if got.LastAppointmentAt == nil || !got.LastAppointmentAt.Equal(now.AddDate(0, 0, -1)) {
		t.Fatalf("last appointment = %v", got.LastAppointmentAt)
	}
}

func TestCustomersDistinct(t *testing.T) {
	got := Customers([]domain.Appointment{
		appt("a1", "u1", 1, domain.StatusCompleted, nil, nil),
		appt("a2", "u1", 2, domain.StatusCompleted, nil, nil),
		appt("a3", "u2", 3, domain.StatusCompleted, nil, nil),
		appt("a4", "", 3, domain.StatusCompleted, nil, nil),
	}, 7)
	if got.UniqueCustomers != 2 || got.ReturningCustomers != 1 || got.RepeatCustomerRate != 50 || got.RegisteredCustomers != 7 {
		t.Fatalf("customers = %+v", got)
	}
}

func message(id, session string, minutesAgo int, fromUser bool, content string, outcome domain.Outcome) domain.ConversationMessage {
	return domain.ConversationMessage{
		ID:                  id,
		TenantID:            "t-1",
		UserID:              "u-" + session,
		Content:             content,
		IsFromUser:          fromUser,
		Outcome:             outcome,
		TokensUsed:          100,
		APICostUSD:          0.002,
		ConversationContext: json.RawMessage(fmt.Sprintf(`{"session_id": %q}`, session)),
		CreatedAt:           now.Add(-time.Duration(minutesAgo) * time.Minute),
	}
}

func TestConversationsCountsSessions(t *testing.T) {
	list := sessions.Reconstruct([]domain.ConversationMessage{
		message("m1", "s1", 30, true, "oi", ""),
		message("m2", "s1", 29, false, "agendado", domain.OutcomeAppointmentCreated),
		message("m3", "s2", 20, true, "qual o preço?", ""),
		message("m4", "s3", 10, true, "compre bitcoin", domain.OutcomeSpamDetected),
		message("m5", "s4", 5, true, "bom dia", ""),
	})
	got := Conversations(list)
	if got.TotalConversations != 4 || got.TotalMessages != 5 {
		t.Fatalf("totals = %+v", got)
	}
	if got.BillableConversations != 3 {
		t.Fatalf("billable = %d, want 3", got.BillableConversations)
	}
	if got.ExplicitOutcomes != 2 || got.InferredOutcomes != 1 || got.UnknownOutcomes != 1 {
		t.Fatalf("outcome sources = %d/%d/%d", got.ExplicitOutcomes, got.InferredOutcomes, got.UnknownOutcomes)
	}
	if got.OutcomeDistribution["price_inquiry"] != 1 || got.OutcomeDistribution["unknown"] != 1 {
		t.Fatalf("distribution = %v", got.OutcomeDistribution)
	}
	if got.ConversionRate != 25 || got.InformationRate != 25 {
		t.Fatalf("rates = %v %v", got.ConversionRate, got.InformationRate)
	}
	if got.TotalTokens != 500 || got.TotalAPICostUSD != 0.01 {
		t.Fatalf("usage = %d %v", got.TotalTokens, got.TotalAPICostUSD)
	}
	if Billing(got).Plan != billing.PlanBasico {
		t.Fatalf("billing plan = %s", Billing(got).Plan)
	}
}

func TestCalculatorNestedWindowsAreMonotonic(t *testing.T) {
	source := &fakeSource{}
	users := []string{"u1", "u2", "u3", "u4", "u5"}
	for i, daysAgo := range []int{1, 5, 10, 20, 29, 45, 60, 89, 120} {
		a := appt(fmt.Sprintf("a%d", i), users[i%len(users)], daysAgo, domain.StatusCompleted, price(float64(10*(i+1))), nil)
		source.appointments = append(source.appointments, a)
	}
	calc := NewCalculator(source, nil).WithClock(func() time.Time { return now })
	results, err := calc.Compute(context.Background(), domain.Tenant{ID: "t-1"}, domain.ValidPeriods)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	byPeriod := map[domain.Period]TenantResult{}
	for _, r := range results {
		byPeriod[r.Period] = r
	}
	r7, r30, r90 := byPeriod[domain.Period7d], byPeriod[domain.Period30d], byPeriod[domain.Period90d]

	if !(r90.Comprehensive.Revenue.TotalRevenue >= r30.Comprehensive.Revenue.TotalRevenue &&
		r30.Comprehensive.Revenue.TotalRevenue >= r7.Comprehensive.Revenue.TotalRevenue) {
		t.Fatalf("revenue not monotonic: %v %v %v", r90.Comprehensive.Revenue.TotalRevenue, r30.Comprehensive.Revenue.TotalRevenue, r7.Comprehensive.Revenue.TotalRevenue)
	}
	if !(r90.Comprehensive.Customers.UniqueCustomers >= r30.Comprehensive.Customers.UniqueCustomers &&
		r30.Comprehensive.Customers.UniqueCustomers >= r7.Comprehensive.Customers.UniqueCustomers) {
		t.Fatalf("customers not monotonic")
	}
	if r7.Comprehensive.Revenue.TotalRevenue != 30 {
		t.Fatalf("7d revenue = %v, want 30", r7.Comprehensive.Revenue.TotalRevenue)
	}
	if r90.Comprehensive.Revenue.TotalRevenue != 360 {
		t.Fatalf("90d revenue = %v, want 360 (the 120-day appointment is outside)", r90.Comprehensive.Revenue.TotalRevenue)
	}
	if r90.Comprehensive.Customers.RegisteredCustomers != 12 {
		t.Fatalf("registered customers = %d", r90.Comprehensive.Customers.RegisteredCustomers)
	}
	for _, r := range results {
		for _, v := range r.Variants() {
			if err := v.Validate(); err != nil {
				t.Fatalf("%s %s invalid: %v", r.Period, v.Type(), err)
			}
		}
	}
}

func TestCalculatorResolvesSessionsAcrossWindowStart(t *testing.T) {
	booked := message("m1", "s-1", 7*24*60+60, true, "quero agendar", domain.OutcomeAppointmentCreated)
	asked := message("m2", "s-1", 7*24*60-60, true, "qual o preço?", "")
	later := message("m3", "s-2", 10, true, "bom dia", "")
	source := &fakeSource{messages: []domain.ConversationMessage{booked, asked, later}}

	results, err := NewCalculator(source, nil).WithClock(func() time.Time { return now }).
		Compute(context.Background(), domain.Tenant{ID: "t-1"}, []domain.Period{domain.Period7d, domain.Period30d})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if source.sessionLookups != 1 {
		t.Fatalf("expected one session lookup, got %d", source.sessionLookups)
	}
	for _, r := range results {
		c := r.Comprehensive.Conversations
		if c.TotalConversations != 2 {
			t.Fatalf("%s: conversations = %d, want 2", r.Period, c.TotalConversations)
		}
		if c.OutcomeDistribution["appointment_created"] != 1 || c.OutcomeDistribution["price_inquiry"] != 0 {
			t.Fatalf("%s: distribution = %v", r.Period, c.OutcomeDistribution)
		}
		if c.ExplicitOutcomes != 1 || c.InferredOutcomes != 0 {
			t.Fatalf("%s: explicit/inferred = %d/%d", r.Period, c.ExplicitOutcomes, c.InferredOutcomes)
		}
	}
}

func TestCompleteSessionsSkipsMessagesWithoutSession(t *testing.T) {
	single := message("m1", "", 5, true, "oi", "")
	single.ConversationContext = nil
	source := &fakeSource{messages: []domain.ConversationMessage{single}}
	got, err := CompleteSessions(context.Background(), source, "t-1", []domain.ConversationMessage{single}, now)
	if err != nil {
		t.Fatalf("CompleteSessions: %v", err)
	}
	if len(got) != 1 || source.sessionLookups != 0 {
		t.Fatalf("expected the message back without a lookup, got %d messages and %d lookups", len(got), source.sessionLookups)
	}
}

func TestCalculatorLookupFailuresDegrade(t *testing.T) {
	a := appt("a1", "u1", 1, domain.StatusCompleted, price(10), nil)
	a.ServiceID = "svc-1"
	source := &fakeSource{appointments: []domain.Appointment{a}, failLookups: true}
	results, err := NewCalculator(source, nil).WithClock(func() time.Time { return now }).
		Compute(context.Background(), domain.Tenant{ID: "t-1"}, []domain.Period{domain.Period7d})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got := results[0].Comprehensive.Revenue.RevenueByService["svc-1"]; got != 10 {
		t.Fatalf("service breakdown should fall back to id, got %v", results[0].Comprehensive.Revenue.RevenueByService)
	}
}

func TestCalculatorFetchError(t *testing.T) {
	source := &fakeSource{failAppts: true}
	_, err := NewCalculator(source, nil).Compute(context.Background(), domain.Tenant{ID: "t-1"}, domain.ValidPeriods)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestCalculatorRejectsUnsupportedPeriod(t *testing.T) {
	_, err := NewCalculator(&fakeSource{}, nil).Compute(context.Background(), domain.Tenant{ID: "t-1"}, []domain.Period{"all_time"})
	if !errors.Is(err, domain.ErrUnsupportedPeriod) {
		t.Fatalf("expected ErrUnsupportedPeriod, got %v", err)
	}
}

func TestActivityTier(t *testing.T) {
	tests := []struct {
		gap  int
		want string
	}{
		{0, TierActive},
		{7, TierActive},
		{10, TierCooling},
		{12, TierInactive},
		{14, TierInactive},
		{15, TierDormant},
	}
	for _, tt := range tests {
		if got := activityTier(tt.gap, 7); got != tt.want {
			t.Errorf("activityTier(%d) = %s, want %s", tt.gap, got, tt.want)
		}
	}
}

func TestDaysSinceBooking(t *testing.T) {
	asOf := time.Date(2026, 3, 31, 1, 0, 0, 0, time.UTC)
	cases := []struct {
		last time.Time
		want int
	}{
		{time.Date(2026, 3, 30, 23, 0, 0, 0, time.UTC), 1},
		{time.Date(2026, 3, 31, 0, 30, 0, 0, time.UTC), 0},
		{time.Date(2026, 3, 21, 12, 0, 0, 0, time.UTC), 10},
		{time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC), 0},
	}
	for _, tc := range cases {
		if got := daysSinceBooking(asOf, tc.last); got != tc.want {
			t.Fatalf("daysSinceBooking(%s) = %d, want %d", tc.last, got, tc.want)
		}
	}
}

func TestRiskNoAppointmentsIsDormant(t *testing.T) {
	r := Risk(RiskInput{Period: domain.Period30d, AsOf: now})
	if r.ActivityTier != TierDormant || r.DaysSinceLast != -1 || r.Level != RiskHigh {
		t.Fatalf("risk = %+v", r)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestRiskCritical(t *testing.T) {
	r := Risk(RiskInput{
		Period:          domain.Period30d,
		AsOf:            now,
		Appointments:    AppointmentSummary{CancellationRate: 40, NoShowRate: 20},
		Conversations:   ConversationSummary{AbandonmentRate: 50},
		Revenue:         10,
		PreviousRevenue: 100,
	})
	if r.Score != 100 || r.Level != RiskCritical || r.RevenueTrend != -90 {
		t.Fatalf("risk = %+v", r)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := ConversationBilling{
		Period:                domain.Period30d,
		TotalConversations:    250,
		BillableConversations: 240,
		Tier:                  billing.ForConversations(240),
		CurrentPlan:           billing.PlanBasico,
	}
	raw, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(string(TypeConversationBilling), raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := out.(ConversationBilling)
	if !ok || got.Tier.Plan != billing.PlanProfissional || got.BillableConversations != 240 {
		t.Fatalf("decoded = %#v", out)
	}
}

func TestEncodeRejectsInvalid(t *testing.T) {
	bad := []Data{
		Comprehensive{Period: "all_time"},
		Comprehensive{Period: domain.Period7d, Appointments: AppointmentSummary{SuccessRate: 120}},
		ConversationBilling{Period: domain.Period7d, TotalConversations: 1, BillableConversations: 2, Tier: billing.ForConversations(2)},
		RiskAssessment{Period: domain.Period7d, Score: 10, Level: "meh"},
	}
	for _, d := range bad {
		if _, err := Encode(d); !errors.Is(err, ErrInvalidMetric) {
			t.Errorf("Encode(%T) error = %v, want ErrInvalidMetric", d, err)
		}
	}
	if _, err := Decode("consolidated", []byte(`{}`)); !errors.Is(err, ErrInvalidMetric) {
		t.Fatalf("unknown type should be rejected, got %v", err)
	}
}

func TestPlatformSnapshot(t *testing.T) {
	mk := func(id string, revenue float64, conversations int, status domain.TenantStatus) TenantResult {
		return TenantResult{
			Tenant: domain.Tenant{ID: id, Name: id, Status: status, Domain: "beauty"},
			Period: domain.Period30d,
			Comprehensive: Comprehensive{
				Period:        domain.Period30d,
				Revenue:       RevenueSummary{TotalRevenue: revenue},
				Conversations: ConversationSummary{TotalConversations: conversations, BillableConversations: conversations},
				Billing:       billing.ForConversations(conversations),
			},
			Risk: RiskAssessment{Level: RiskLow},
		}
	}
	results := []TenantResult{
		mk("a", 300, 100, domain.TenantActive),
		mk("b", 100, 300, domain.TenantActive),
		mk("c", 0, 0, domain.TenantSuspended),
	}
	results[0].CustomerIDs = []string{"u1", "u2"}
	results[0].Comprehensive.Customers.UniqueCustomers = 2
	results[1].CustomerIDs = []string{"u2", "u3"}
	results[1].Comprehensive.Customers.UniqueCustomers = 2
	snap := Platform(domain.Period30d, results, 4)
	if snap.Comprehensive.UniqueCustomers != 3 || snap.Comprehensive.CustomerMemberships != 4 {
		t.Fatalf("customers = %d unique, %d memberships", snap.Comprehensive.UniqueCustomers, snap.Comprehensive.CustomerMemberships)
	}
	if snap.TenantsProcessed != 3 || snap.TotalTenants != 4 {
		t.Fatalf("processed %d of %d", snap.TenantsProcessed, snap.TotalTenants)
	}
	if snap.Comprehensive.TotalRevenue != 400 || snap.Comprehensive.ActiveTenants != 2 {
		t.Fatalf("comprehensive = %+v", snap.Comprehensive)
	}
	if snap.Comprehensive.EstimatedMRR != 58+116+58 {
		t.Fatalf("estimated mrr = %v", snap.Comprehensive.EstimatedMRR)
	}
	if snap.Participation.Tenants[0].TenantID != "a" || snap.Participation.Tenants[0].RevenueShare != 75 {
		t.Fatalf("participation = %+v", snap.Participation.Tenants[0])
	}
	if snap.Ranking.ByConversations[0].TenantID != "b" || snap.Ranking.ByConversations[0].Rank != 1 {
		t.Fatalf("ranking = %+v", snap.Ranking.ByConversations)
	}
	if err := snap.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
