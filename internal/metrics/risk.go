package metrics

import (
	"strings"
	"time"

	"booking-metrics-audit/internal/domain"
)

const (
	// DefaultCadenceDays is how often an active tenant is expected to book.
	DefaultCadenceDays = 7

	TierActive   = "active"
	TierCooling  = "cooling"
	TierInactive = "inactive"
	TierDormant  = "dormant"

	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// RiskInput carries everything the assessment needs beyond the current window.
type RiskInput struct {
	Period          domain.Period
	AsOf            time.Time
	LastAppointment *time.Time
	Appointments    AppointmentSummary
	Conversations   ConversationSummary
	Revenue         float64
	PreviousRevenue float64
	CadenceDays     int
}

func Risk(in RiskInput) RiskAssessment {
	cadence := in.CadenceDays
	if cadence <= 0 {
		cadence = DefaultCadenceDays
	}

	days := -1
	tier := TierDormant
	if in.LastAppointment != nil {
		days = daysSinceBooking(in.AsOf, *in.LastAppointment)
		tier = activityTier(days, cadence)
	}

	out := RiskAssessment{
		Period:           in.Period,
		DaysSinceLast:    days,
		ActivityTier:     tier,
		CancellationRate: in.Appointments.CancellationRate,
		NoShowRate:       in.Appointments.NoShowRate,
		AbandonmentRate:  in.Conversations.AbandonmentRate,
		RevenueTrend:     trend(in.Revenue, in.PreviousRevenue),
		Factors:          []string{},
	}

	score := 0
	switch tier {
	case TierCooling:
		score += 15
		out.Factors = append(out.Factors, "bookings slowing down")
	case TierInactive:
		score += 30
		out.Factors = append(out.Factors, "no recent bookings")
	case TierDormant:
		score += 45
		out.Factors = append(out.Factors, "no bookings in window")
	}
	if out.CancellationRate >= 20 {
		score += 20
		out.Factors = append(out.Factors, "high cancellation rate")
	} else if out.CancellationRate >= 10 {
		score += 10
	}
	if out.NoShowRate >= 15 {
		score += 15
		out.Factors = append(out.Factors, "high no-show rate")
	} else if out.NoShowRate >= 5 {
		score += 5
	}
	if out.AbandonmentRate >= 30 {
		score += 10
		out.Factors = append(out.Factors, "conversations abandoned")
	}
	if out.RevenueTrend <= -30 {
		score += 10
		out.Factors = append(out.Factors, "revenue falling")
	}
	if score > 100 {
		score = 100
	}
	out.Score = score
	out.Level = riskLevel(score)
	return out
}

// daysSinceBooking counts UTC calendar days from the last booking to asOf.
// A booking later than asOf counts as zero.
func daysSinceBooking(asOf time.Time, last time.Time) int {
	day := 24 * time.Hour
	gap := asOf.UTC().Truncate(day).Sub(last.UTC().Truncate(day))
	return max(0, int(gap/day))
}

// activityTier places a tenant on its booking cadence: active within one
// cadence of the last booking, cooling during a grace of half a cadence,
// inactive until two cadences have passed, dormant after that.
func activityTier(days int, cadenceDays int) string {
	grace := (cadenceDays + 1) / 2
	switch {
	case days <= cadenceDays:
		return TierActive
	case days <= cadenceDays+grace:
		return TierCooling
	case days <= 2*cadenceDays:
		return TierInactive
	default:
		return TierDormant
	}
}

func riskLevel(score int) string {
	switch {
	case score >= 70:
		return RiskCritical
	case score >= 45:
		return RiskHigh
	case score >= 20:
		return RiskMedium
	default:
		return RiskLow
	}
}

func riskLevelRank(level string) (int, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case RiskLow:
		return 0, true
	case RiskMedium:
		return 1, true
	case RiskHigh:
		return 2, true
	case RiskCritical:
		return 3, true
	default:
		return 0, false
	}
}

// trend is the percentage change from previous to current, 0 when there is no baseline.
func trend(current, previous float64) float64 {
	if previous <= 0 {
		return 0
	}
	return round2((current - previous) / previous * 100)
}
