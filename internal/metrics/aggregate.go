package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/samber/lo"

	"booking-metrics-audit/internal/billing"
	"booking-metrics-audit/internal/domain"
	"booking-metrics-audit/internal/sessions"
)

type RevenueSummary struct {
	TotalRevenue            float64            `json:"total_revenue"`
	CompletedRevenue        float64            `json:"completed_revenue"`
	ConfirmedRevenue        float64            `json:"confirmed_revenue"`
	CompletedAppointments   int                `json:"completed_appointments"`
	ConfirmedAppointments   int                `json:"confirmed_appointments"`
	RevenueAppointments     int                `json:"revenue_appointments"`
	AverageAppointmentValue float64            `json:"average_appointment_value"`
	PotentialRevenue        float64            `json:"potential_revenue"`
	LostRevenue             float64            `json:"lost_revenue"`
	RevenueBySource         map[string]float64 `json:"revenue_by_source"`
	RevenueByService        map[string]float64 `json:"revenue_by_service,omitempty"`
	RevenueByCategory       map[string]float64 `json:"revenue_by_category,omitempty"`
}

type AppointmentSummary struct {
	TotalAppointments          int            `json:"total_appointments"`
	ByStatus                   map[string]int `json:"by_status"`
	SuccessRate                float64        `json:"success_rate"`
	CancellationRate           float64        `json:"cancellation_rate"`
	NoShowRate                 float64        `json:"no_show_rate"`
	AverageDurationMinutes     float64        `json:"average_duration_minutes"`
	AppointmentsByProfessional map[string]int `json:"appointments_by_professional,omitempty"`
	LastAppointmentAt          *time.Time     `json:"last_appointment_at,omitempty"`
}

type CustomerSummary struct {
	UniqueCustomers     int     `json:"unique_customers"`
	ReturningCustomers  int     `json:"returning_customers"`
	RepeatCustomerRate  float64 `json:"repeat_customer_rate"`
	RegisteredCustomers int     `json:"registered_customers"`
}

type ConversationSummary struct {
	TotalConversations     int            `json:"total_conversations"`
	BillableConversations  int            `json:"billable_conversations"`
	TotalMessages          int            `json:"total_messages"`
	OutcomeDistribution    map[string]int `json:"outcome_distribution"`
	ExplicitOutcomes       int            `json:"explicit_outcomes"`
	InferredOutcomes       int            `json:"inferred_outcomes"`
	UnknownOutcomes        int            `json:"unknown_outcomes"`
	ConflictingSessions    int            `json:"conflicting_sessions"`
	InformationRate        float64        `json:"information_rate"`
	ConversionRate         float64        `json:"conversion_rate"`
	AbandonmentRate        float64        `json:"abandonment_rate"`
	AverageDurationMinutes float64        `json:"average_duration_minutes"`
	AverageConfidence      float64        `json:"average_confidence"`
	TotalTokens            int            `json:"total_tokens"`
	TotalAPICostUSD        float64        `json:"total_api_cost_usd"`
	TotalProcessingCostUSD float64        `json:"total_processing_cost_usd"`
}

// Lookups resolves ids to display names for the breakdowns. Missing entries
// are reported under their raw id.
type Lookups struct {
	ServiceNames      map[string]string
	ServiceCategories map[string]string
	ProfessionalNames map[string]string
}

// Revenue sums revenue over completed and confirmed appointments.
func Revenue(appointments []domain.Appointment, lookups Lookups) RevenueSummary {
	summary := RevenueSummary{RevenueBySource: map[string]float64{}}
	byService := map[string]float64{}
	byCategory := map[string]float64{}

	for _, appt := range appointments {
		value := appt.Revenue()
		switch appt.Status {
		case domain.StatusCompleted:
			summary.CompletedAppointments++
			summary.CompletedRevenue += value
		case domain.StatusConfirmed:
			summary.ConfirmedAppointments++
			summary.ConfirmedRevenue += value
		case domain.StatusPending:
			summary.PotentialRevenue += value
			continue
		case domain.StatusCancelled, domain.StatusNoShow:
			summary.LostRevenue += value
			continue
		default:
			continue
		}
		summary.RevenueBySource[appt.Source()] += value
		if appt.ServiceID != "" {
			byService[nameOr(lookups.ServiceNames, appt.ServiceID)] += value
			if category, ok := lookups.ServiceCategories[appt.ServiceID]; ok && category != "" {
				byCategory[category] += value
			}
		}
	}

	summary.RevenueAppointments = summary.CompletedAppointments + summary.ConfirmedAppointments
	summary.TotalRevenue = round2(summary.CompletedRevenue + summary.ConfirmedRevenue)
	summary.CompletedRevenue = round2(summary.CompletedRevenue)
	summary.ConfirmedRevenue = round2(summary.ConfirmedRevenue)
	summary.PotentialRevenue = round2(summary.PotentialRevenue)
	summary.LostRevenue = round2(summary.LostRevenue)
	summary.AverageAppointmentValue = round2(safeDiv(summary.TotalRevenue, float64(summary.RevenueAppointments)))
	summary.RevenueBySource = roundMap(summary.RevenueBySource)
	if len(byService) > 0 {
		summary.RevenueByService = roundMap(byService)
	}
	if len(byCategory) > 0 {
		summary.RevenueByCategory = roundMap(byCategory)
	}
	return summary
}

func Appointments(appointments []domain.Appointment, lookups Lookups) AppointmentSummary {
	summary := AppointmentSummary{
		TotalAppointments: len(appointments),
		ByStatus:          map[string]int{},
	}
	if len(appointments) == 0 {
		return summary
	}

	summary.ByStatus = lo.CountValuesBy(appointments, func(a domain.Appointment) string {
		return string(a.Status)
	})

	total := float64(len(appointments))
	summary.SuccessRate = percent(float64(summary.ByStatus[string(domain.StatusCompleted)]), total)
	summary.CancellationRate = percent(float64(summary.ByStatus[string(domain.StatusCancelled)]), total)
	summary.NoShowRate = percent(float64(summary.ByStatus[string(domain.StatusNoShow)]), total)

	durations := lo.FilterMap(appointments, func(a domain.Appointment, _ int) (float64, bool) {
		d := a.DurationMinutes()
		return d, d > 0
	})
	if len(durations) > 0 {
		summary.AverageDurationMinutes = round2(lo.Sum(durations) / float64(len(durations)))
	}

	withProfessional := lo.Filter(appointments, func(a domain.Appointment, _ int) bool {
		return a.ProfessionalID != ""
	})
	if len(withProfessional) > 0 {
		summary.AppointmentsByProfessional = lo.CountValuesBy(withProfessional, func(a domain.Appointment) string {
			return nameOr(lookups.ProfessionalNames, a.ProfessionalID)
		})
	}

	last := lo.MaxBy(appointments, func(a, b domain.Appointment) bool {
		return a.StartTime.After(b.StartTime)
	})
	if !last.StartTime.IsZero() {
		at := last.StartTime.UTC()
		summary.LastAppointmentAt = &at
	}
	return summary
}

// Customers counts distinct user_id values across the window's appointments.
func Customers(appointments []domain.Appointment, registered int) CustomerSummary {
	perUser := lo.CountValuesBy(
		lo.Filter(appointments, func(a domain.Appointment, _ int) bool { return a.UserID != "" }),
		func(a domain.Appointment) string { return a.UserID },
	)
	returning := lo.CountBy(lo.Values(perUser), func(n int) bool { return n > 1 })
	return CustomerSummary{
		UniqueCustomers:     len(perUser),
		ReturningCustomers:  returning,
		RepeatCustomerRate:  percent(float64(returning), float64(len(perUser))),
		RegisteredCustomers: registered,
	}
}

// Conversations summarises reconstructed sessions. total_conversations is the
// number of unique sessions; billable_conversations drops spam, wrong numbers
// and test traffic.
func Conversations(list []sessions.Session) ConversationSummary {
	summary := ConversationSummary{OutcomeDistribution: map[string]int{}}
	if len(list) == 0 {
		return summary
	}

	var information, bookings, abandoned int
	var durationSum, confidenceSum float64
	var durationCount, confidenceCount int

	for _, s := range list {
		summary.TotalMessages += s.Messages
		summary.TotalTokens += s.TokensUsed
		summary.TotalAPICostUSD += s.APICostUSD
		summary.TotalProcessingCostUSD += s.ProcessingCostUSD
		if s.Conflicting() {
			summary.ConflictingSessions++
		}

		outcome, source := s.Resolve()
		switch source {
		case sessions.SourceExplicit:
			summary.ExplicitOutcomes++
		case sessions.SourceInferred:
			summary.InferredOutcomes++
		default:
			summary.UnknownOutcomes++
		}
		key := string(outcome)
		if key == "" {
			key = "unknown"
		}
		summary.OutcomeDistribution[key]++

		if outcome.Billable() {
			summary.BillableConversations++
		}
		if outcome.IsInformation() {
			information++
		}
		if outcome.IsBooking() {
			bookings++
		}
		if outcome.IsAbandoned() {
			abandoned++
		}
		if d := s.DurationMinutes(); d > 0 {
			durationSum += d
			durationCount++
		}
		if c, ok := s.AverageConfidence(); ok {
			confidenceSum += c
			confidenceCount++
		}
	}

	total := float64(len(list))
	summary.TotalConversations = len(list)
	summary.InformationRate = percent(float64(information), total)
	summary.ConversionRate = percent(float64(bookings), total)
	summary.AbandonmentRate = percent(float64(abandoned), total)
	summary.AverageDurationMinutes = round2(safeDiv(durationSum, float64(durationCount)))
	summary.AverageConfidence = round2(safeDiv(confidenceSum, float64(confidenceCount)))
	summary.TotalAPICostUSD = round4(summary.TotalAPICostUSD)
	summary.TotalProcessingCostUSD = round4(summary.TotalProcessingCostUSD)
	return summary
}

// Billing applies the conversation tier to a conversation summary.
func Billing(conv ConversationSummary) billing.Tier {
	return billing.ForConversations(conv.BillableConversations)
}

func nameOr(names map[string]string, id string) string {
	if name, ok := names[id]; ok && name != "" {
		return name
	}
	return id
}

func percent(part, total float64) float64 {
	return round2(safeDiv(part, total) * 100)
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func round4(value float64) float64 {
	return math.Round(value*10000) / 10000
}

func roundMap(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = round2(v)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
