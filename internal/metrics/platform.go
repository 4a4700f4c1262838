package metrics

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	"booking-metrics-audit/internal/domain"
)

const defaultRankingSize = 10

type PlatformComprehensive struct {
	Period                  domain.Period  `json:"period"`
	TotalRevenue            float64        `json:"total_revenue"`
	TotalAppointments       int            `json:"total_appointments"`
	CompletedAppointments   int            `json:"completed_appointments"`
	TotalConversations      int            `json:"total_conversations"`
	BillableConversations   int            `json:"billable_conversations"`
	UniqueCustomers         int            `json:"unique_customers"`
	CustomerMemberships     int            `json:"customer_memberships"`
	EstimatedMRR            float64        `json:"estimated_mrr"`
	ActiveTenants           int            `json:"active_tenants"`
	AverageRevenuePerTenant float64        `json:"average_revenue_per_tenant"`
	PlanDistribution        map[string]int `json:"plan_distribution"`
	RiskDistribution        map[string]int `json:"risk_distribution"`
	DomainDistribution      map[string]int `json:"domain_distribution"`
}

type TenantShare struct {
	TenantID          string  `json:"tenant_id"`
	TenantName        string  `json:"tenant_name"`
	Revenue           float64 `json:"revenue"`
	RevenueShare      float64 `json:"revenue_share"`
	Conversations     int     `json:"conversations"`
	ConversationShare float64 `json:"conversation_share"`
	Appointments      int     `json:"appointments"`
	AppointmentShare  float64 `json:"appointment_share"`
}

type Participation struct {
	Period  domain.Period `json:"period"`
	Tenants []TenantShare `json:"tenants"`
}

type RankEntry struct {
	Rank       int     `json:"rank"`
	TenantID   string  `json:"tenant_id"`
	TenantName string  `json:"tenant_name"`
	Value      float64 `json:"value"`
}

type Ranking struct {
	Period          domain.Period `json:"period"`
	ByRevenue       []RankEntry   `json:"by_revenue"`
	ByConversations []RankEntry   `json:"by_conversations"`
	ByAppointments  []RankEntry   `json:"by_appointments"`
	ByRisk          []RankEntry   `json:"by_risk"`
}

// PlatformSnapshot is one platform_metrics row before encoding.
type PlatformSnapshot struct {
	Period           domain.Period
	Comprehensive    PlatformComprehensive
	Participation    Participation
	Ranking          Ranking
	TenantsProcessed int
	TotalTenants     int
}

func (p PlatformSnapshot) Validate() error {
	if err := validatePeriod(p.Period); err != nil {
		return err
	}
	if p.TenantsProcessed < 0 || p.TenantsProcessed > p.TotalTenants {
		return fmt.Errorf("%w: processed %d of %d tenants", ErrInvalidMetric, p.TenantsProcessed, p.TotalTenants)
	}
	if p.Comprehensive.TotalRevenue < 0 || p.Comprehensive.EstimatedMRR < 0 {
		return fmt.Errorf("%w: negative platform totals", ErrInvalidMetric)
	}
	return nil
}

// Platform folds the per-tenant results of one period into the three
// platform_metrics blobs. totalTenants includes tenants that failed.
func Platform(period domain.Period, results []TenantResult, totalTenants int) PlatformSnapshot {
	results = lo.Filter(results, func(r TenantResult, _ int) bool { return r.Period == period })

	comp := PlatformComprehensive{
		Period:             period,
		PlanDistribution:   map[string]int{},
		RiskDistribution:   map[string]int{},
		DomainDistribution: map[string]int{},
	}
	// unique_customers is distinct across tenants; customer_memberships is
	// the per-tenant sum, so one person booking with two tenants counts twice.
	customers := map[string]struct{}{}
	for _, r := range results {
		c := r.Comprehensive
		comp.TotalRevenue += c.Revenue.TotalRevenue
		comp.TotalAppointments += c.Appointments.TotalAppointments
		comp.CompletedAppointments += c.Revenue.CompletedAppointments
		comp.TotalConversations += c.Conversations.TotalConversations
		comp.BillableConversations += c.Conversations.BillableConversations
		comp.CustomerMemberships += c.Customers.UniqueCustomers
		for _, id := range r.CustomerIDs {
			customers[id] = struct{}{}
		}
		comp.EstimatedMRR += c.Billing.Total
		if r.Tenant.Status == domain.TenantActive {
			comp.ActiveTenants++
		}
		comp.PlanDistribution[c.Billing.Plan]++
		comp.RiskDistribution[r.Risk.Level]++
		domainKey := r.Tenant.Domain
		if domainKey == "" {
			domainKey = "unassigned"
		}
		comp.DomainDistribution[domainKey]++
	}
	comp.UniqueCustomers = len(customers)
	comp.TotalRevenue = round2(comp.TotalRevenue)
	comp.EstimatedMRR = round2(comp.EstimatedMRR)
	comp.AverageRevenuePerTenant = round2(safeDiv(comp.TotalRevenue, float64(len(results))))

	shares := lo.Map(results, func(r TenantResult, _ int) TenantShare {
		c := r.Comprehensive
		return TenantShare{
			TenantID:          r.Tenant.ID,
			TenantName:        r.Tenant.DisplayName(),
			Revenue:           c.Revenue.TotalRevenue,
			RevenueShare:      percent(c.Revenue.TotalRevenue, comp.TotalRevenue),
			Conversations:     c.Conversations.TotalConversations,
			ConversationShare: percent(float64(c.Conversations.TotalConversations), float64(comp.TotalConversations)),
			Appointments:      c.Appointments.TotalAppointments,
			AppointmentShare:  percent(float64(c.Appointments.TotalAppointments), float64(comp.TotalAppointments)),
		}
	})
	sort.SliceStable(shares, func(i, j int) bool { return shares[i].Revenue > shares[j].Revenue })

	return PlatformSnapshot{
		Period:        period,
		Comprehensive: comp,
		Participation: Participation{Period: period, Tenants: shares},
		Ranking: Ranking{
			Period: period,
			ByRevenue: rank(results, func(r TenantResult) float64 {
				return r.Comprehensive.Revenue.TotalRevenue
			}),
			ByConversations: rank(results, func(r TenantResult) float64 {
				return float64(r.Comprehensive.Conversations.TotalConversations)
			}),
			ByAppointments: rank(results, func(r TenantResult) float64 {
				return float64(r.Comprehensive.Appointments.TotalAppointments)
			}),
			ByRisk: rank(results, func(r TenantResult) float64 {
				return float64(r.Risk.Score)
			}),
		},
		TenantsProcessed: len(results),
		TotalTenants:     max(totalTenants, len(results)),
	}
}

func rank(results []TenantResult, value func(TenantResult) float64) []RankEntry {
	entries := lo.Map(results, func(r TenantResult, _ int) RankEntry {
		return RankEntry{TenantID: r.Tenant.ID, TenantName: r.Tenant.DisplayName(), Value: value(r)}
	})
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Value == entries[j].Value {
			return entries[i].TenantName < entries[j].TenantName
		}
		return entries[i].Value > entries[j].Value
	})
	if len(entries) > defaultRankingSize {
		entries = entries[:defaultRankingSize]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}
