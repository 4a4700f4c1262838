package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"booking-metrics-audit/internal/billing"
	"booking-metrics-audit/internal/domain"
)

// MetricType is the tenant_metrics.metric_type tag.
type MetricType string

const (
	TypeComprehensive       MetricType = "comprehensive"
	TypeConversationBilling MetricType = "conversation_billing"
	TypeRiskAssessment      MetricType = "risk_assessment"
)

var TenantMetricTypes = []MetricType{TypeComprehensive, TypeConversationBilling, TypeRiskAssessment}

var ErrInvalidMetric = errors.New("invalid metric data")

// Data is one tagged metric_data blob. Every variant validates itself before
// it reaches the metrics tables.
type Data interface {
	Type() MetricType
	Validate() error
}

type Comprehensive struct {
	Period        domain.Period       `json:"period"`
	WindowStart   time.Time           `json:"window_start"`
	WindowEnd     time.Time           `json:"window_end"`
	Revenue       RevenueSummary      `json:"revenue"`
	Appointments  AppointmentSummary  `json:"appointments"`
	Customers     CustomerSummary     `json:"customers"`
	Conversations ConversationSummary `json:"conversations"`
	Billing       billing.Tier        `json:"billing"`
}

func (Comprehensive) Type() MetricType { return TypeComprehensive }

func (c Comprehensive) Validate() error {
	if err := validatePeriod(c.Period); err != nil {
		return err
	}
	if c.Revenue.TotalRevenue < 0 || c.Revenue.AverageAppointmentValue < 0 {
		return fmt.Errorf("%w: negative revenue", ErrInvalidMetric)
	}
	if c.Customers.UniqueCustomers < 0 || c.Appointments.TotalAppointments < 0 || c.Conversations.TotalConversations < 0 {
		return fmt.Errorf("%w: negative count", ErrInvalidMetric)
	}
	if c.Conversations.BillableConversations > c.Conversations.TotalConversations {
		return fmt.Errorf("%w: billable conversations exceed total", ErrInvalidMetric)
	}
	return validateRates(map[string]float64{
		"success_rate":      c.Appointments.SuccessRate,
		"cancellation_rate": c.Appointments.CancellationRate,
		"no_show_rate":      c.Appointments.NoShowRate,
		"information_rate":  c.Conversations.InformationRate,
		"conversion_rate":   c.Conversations.ConversionRate,
	})
}

type ConversationBilling struct {
	Period                domain.Period `json:"period"`
	TotalConversations    int           `json:"total_conversations"`
	BillableConversations int           `json:"billable_conversations"`
	Tier                  billing.Tier  `json:"tier"`
	CurrentPlan           string        `json:"current_plan"`
	PlanMatches           bool          `json:"plan_matches"`
}

func (ConversationBilling) Type() MetricType { return TypeConversationBilling }

func (c ConversationBilling) Validate() error {
	if err := validatePeriod(c.Period); err != nil {
		return err
	}
	if c.BillableConversations < 0 || c.BillableConversations > c.TotalConversations {
		return fmt.Errorf("%w: billable conversations %d out of range", ErrInvalidMetric, c.BillableConversations)
	}
	if c.Tier.Plan == "" || c.Tier.Total < 0 {
		return fmt.Errorf("%w: missing tier", ErrInvalidMetric)
	}
	return nil
}

type RiskAssessment struct {
	Period           domain.Period `json:"period"`
	DaysSinceLast    int           `json:"days_since_last_appointment"`
	ActivityTier     string        `json:"activity_tier"`
	CancellationRate float64       `json:"cancellation_rate"`
	NoShowRate       float64       `json:"no_show_rate"`
	AbandonmentRate  float64       `json:"abandonment_rate"`
	RevenueTrend     float64       `json:"revenue_trend"`
	Score            int           `json:"risk_score"`
	Level            string        `json:"risk_level"`
	Factors          []string      `json:"factors"`
}

func (RiskAssessment) Type() MetricType { return TypeRiskAssessment }

func (r RiskAssessment) Validate() error {
	if err := validatePeriod(r.Period); err != nil {
		return err
	}
	if r.Score < 0 || r.Score > 100 {
		return fmt.Errorf("%w: risk score %d out of range", ErrInvalidMetric, r.Score)
	}
	if _, ok := riskLevelRank(r.Level); !ok {
		return fmt.Errorf("%w: risk level %q", ErrInvalidMetric, r.Level)
	}
	return validateRates(map[string]float64{
		"cancellation_rate": r.CancellationRate,
		"no_show_rate":      r.NoShowRate,
		"abandonment_rate":  r.AbandonmentRate,
	})
}

// Encode validates and marshals a variant for the metrics tables.
func Encode(d Data) (json.RawMessage, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil", ErrInvalidMetric)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", d.Type(), err)
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal: %w", d.Type(), err)
	}
	return raw, nil
}

// Decode rebuilds a variant from a stored metric_data blob.
func Decode(metricType string, raw []byte) (Data, error) {
	var target Data
	switch MetricType(metricType) {
	case TypeComprehensive:
		var v Comprehensive
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMetric, metricType, err)
		}
		target = v
	case TypeConversationBilling:
		var v ConversationBilling
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMetric, metricType, err)
		}
		target = v
	case TypeRiskAssessment:
		var v RiskAssessment
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMetric, metricType, err)
		}
		target = v
	default:
		return nil, fmt.Errorf("%w: unknown metric type %q", ErrInvalidMetric, metricType)
	}
	return target, nil
}

func ParseMetricType(value string) (MetricType, error) {
	for _, t := range TenantMetricTypes {
		if string(t) == value {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown metric type %q", ErrInvalidMetric, value)
}

func validatePeriod(p domain.Period) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidMetric, domain.ErrUnsupportedPeriod)
	}
	return nil
}

func validateRates(rates map[string]float64) error {
	for _, name := range sortedKeys(rates) {
		if v := rates[name]; v < 0 || v > 100 {
			return fmt.Errorf("%w: %s %.2f outside 0-100", ErrInvalidMetric, name, v)
		}
	}
	return nil
}
