package domain

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
)

type Tenant struct {
	ID                     string
	Name                   string
	BusinessName           string
	Domain                 string
	Status                 TenantStatus
	SubscriptionPlan       string
	MonthlySubscriptionFee float64
	SubscriptionStartDate  time.Time
	CreatedAt              time.Time
}

// DisplayName prefers the business name the tenant registered with.
func (t Tenant) DisplayName() string {
	if strings.TrimSpace(t.BusinessName) != "" {
		return t.BusinessName
	}
	if strings.TrimSpace(t.Name) != "" {
		return t.Name
	}
	return t.ID
}

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

type Appointment struct {
	ID             string
	TenantID       string
	UserID         string
	ProfessionalID string
	ServiceID      string
	StartTime      time.Time
	EndTime        time.Time
	Status         AppointmentStatus
	QuotedPrice    *float64
	FinalPrice     *float64
	Data           json.RawMessage
}

// Revenue applies the price fallback chain: final_price when positive, then
// quoted_price when positive, then the price recorded in appointment_data.
func (a Appointment) Revenue() float64 {
	if a.FinalPrice != nil && *a.FinalPrice > 0 {
		return *a.FinalPrice
	}
	if a.QuotedPrice != nil && *a.QuotedPrice > 0 {
		return *a.QuotedPrice
	}
	data := a.data()
	if v, ok := numberField(data["price"]); ok && v > 0 {
		return v
	}
	if service, ok := data["service"].(map[string]any); ok {
		if v, ok := numberField(service["price"]); ok && v > 0 {
			return v
		}
	}
	return 0
}

// Source is the booking channel recorded in appointment_data.
func (a Appointment) Source() string {
	data := a.data()
	for _, key := range []string{"source", "booking_method"} {
		if s, ok := data[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.ToLower(strings.TrimSpace(s))
		}
	}
	return "unknown"
}

func (a Appointment) DurationMinutes() float64 {
	if a.StartTime.IsZero() || a.EndTime.IsZero() || !a.EndTime.After(a.StartTime) {
		return 0
	}
	return a.EndTime.Sub(a.StartTime).Minutes()
}

func (a Appointment) data() map[string]any {
	if len(a.Data) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(a.Data, &out); err != nil {
		return nil
	}
	return out
}

type ConversationMessage struct {
	ID                  string
	TenantID            string
	UserID              string
	Content             string
	IsFromUser          bool
	Outcome             Outcome
	ConfidenceScore     *float64
	TokensUsed          int
	APICostUSD          float64
	ProcessingCostUSD   float64
	ConversationContext json.RawMessage
	CreatedAt           time.Time
}

// SessionID returns conversation_context.session_id or "".
func (m ConversationMessage) SessionID() string {
	ctx := m.context()
	if s, ok := ctx["session_id"].(string); ok {
		return strings.TrimSpace(s)
	}
	if v, ok := numberField(ctx["session_id"]); ok {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// DurationMinutes returns conversation_context.duration_minutes when recorded.
func (m ConversationMessage) DurationMinutes() (float64, bool) {
	return numberField(m.context()["duration_minutes"])
}

func (m ConversationMessage) context() map[string]any {
	if len(m.ConversationContext) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(m.ConversationContext, &out); err != nil {
		return nil
	}
	return out
}

type SubscriptionPayment struct {
	ID               string
	TenantID         string
	Amount           float64
	SubscriptionPlan string
	PaymentDate      time.Time
	Metadata         json.RawMessage
}

type TenantMetric struct {
	ID           string
	TenantID     string
	MetricType   string
	Period       Period
	MetricData   json.RawMessage
	CalculatedAt time.Time
}

type PlatformMetric struct {
	ID                   string
	CalculationDate      time.Time
	Period               Period
	ComprehensiveMetrics json.RawMessage
	ParticipationMetrics json.RawMessage
	RankingMetrics       json.RawMessage
	TenantsProcessed     int
	TotalTenants         int
}

func numberField(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
