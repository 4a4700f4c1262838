package billing

import "math"

const (
	PlanBasico         = "Básico"
	PlanProfissional   = "Profissional"
	PlanEnterprise     = "Enterprise"
	PlanEnterprisePlus = "Enterprise+"

	basicoLimit       = 200
	profissionalLimit = 400
	enterpriseLimit   = 1250

	basicoPrice       = 58.00
	profissionalPrice = 116.00
	enterprisePrice   = 290.00

	// OverageRate is charged per conversation above the Enterprise cap.
	OverageRate = 0.25
)

// Tier is the plan a tenant lands on for a billing period.
type Tier struct {
	Plan          string  `json:"plan"`
	BasePrice     float64 `json:"base_price"`
	Conversations int     `json:"conversations"`
	Overage       int     `json:"overage_conversations"`
	OverageCharge float64 `json:"overage_charge"`
	Total         float64 `json:"total"`
}

// Plan describes one entry of the price table.
type Plan struct {
	Name             string  `json:"name"`
	Price            float64 `json:"price"`
	MaxConversations int     `json:"max_conversations"`
}

// Catalog lists the plans in ascending order. The last plan has no cap.
func Catalog() []Plan {
	return []Plan{
		{Name: PlanBasico, Price: basicoPrice, MaxConversations: basicoLimit},
		{Name: PlanProfissional, Price: profissionalPrice, MaxConversations: profissionalLimit},
		{Name: PlanEnterprise, Price: enterprisePrice, MaxConversations: enterpriseLimit},
		{Name: PlanEnterprisePlus, Price: enterprisePrice, MaxConversations: 0},
	}
}

// ForConversations maps a period's conversation count to its tier.
// Negative counts are treated as zero.
func ForConversations(count int) Tier {
	if count < 0 {
		count = 0
	}
	switch {
	case count <= basicoLimit:
		return flat(PlanBasico, basicoPrice, count)
	case count <= profissionalLimit:
		return flat(PlanProfissional, profissionalPrice, count)
	case count <= enterpriseLimit:
		return flat(PlanEnterprise, enterprisePrice, count)
	}
	overage := count - enterpriseLimit
	charge := round2(float64(overage) * OverageRate)
	return Tier{
		Plan:          PlanEnterprisePlus,
		BasePrice:     enterprisePrice,
		Conversations: count,
		Overage:       overage,
		OverageCharge: charge,
		Total:         round2(enterprisePrice + charge),
	}
}

// PlanFee returns the flat monthly fee of a named plan.
func PlanFee(name string) (float64, bool) {
	for _, p := range Catalog() {
		if p.Name == name {
			return p.Price, true
		}
	}
	return 0, false
}

func flat(plan string, price float64, count int) Tier {
	return Tier{Plan: plan, BasePrice: price, Conversations: count, Total: price}
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
