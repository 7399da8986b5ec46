package plans

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Plan identifies a subscription tier. The set of plans is fixed at compile
// time and totally ordered by Level.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPlus Plan = "plus"
	PlanPro  Plan = "pro"
)

// Limits are the per-plan usage ceilings enforced by the surrounding
// application and used here for refund eligibility checks.
type Limits struct {
	MaxStorageBytes int64
	MaxGalleries    int
}

const gib = int64(1) << 30

var planLimits = map[Plan]Limits{
	PlanFree: {MaxStorageBytes: 5 * gib, MaxGalleries: 5},
	PlanPlus: {MaxStorageBytes: 50 * gib, MaxGalleries: 50},
	PlanPro:  {MaxStorageBytes: 500 * gib, MaxGalleries: 500},
}

var planPrices = map[Plan]decimal.Decimal{
	PlanFree: decimal.Zero,
	PlanPlus: decimal.NewFromFloat(4.99),
	PlanPro:  decimal.NewFromFloat(9.99),
}

// All returns every known plan in ascending hierarchy order.
func All() []Plan {
	return []Plan{PlanFree, PlanPlus, PlanPro}
}

// IsValid reports whether p is a known plan.
func IsValid(p Plan) bool {
	switch p {
	case PlanFree, PlanPlus, PlanPro:
		return true
	default:
		return false
	}
}

// Normalize maps raw user/provider plan names (including legacy aliases) onto
// the canonical plan set. Unknown names resolve to free. Alias resolution
// happens at the API boundary only; everything below works on canonical plans.
func Normalize(raw string) Plan {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(PlanPlus), "premium":
		return PlanPlus
	case string(PlanPro), "premium_max", "pro_max":
		return PlanPro
	case string(PlanFree), "starter":
		return PlanFree
	default:
		return PlanFree
	}
}

// Level returns the hierarchy level of a plan. Levels are strictly increasing
// with tier and distinguish upgrades from downgrades.
func Level(p Plan) int {
	switch p {
	case PlanPro:
		return 2
	case PlanPlus:
		return 1
	default:
		return 0
	}
}

// Compare orders two plans by hierarchy level. It returns a negative value
// when a is below b, zero when equal, positive when a is above b.
func Compare(a, b Plan) int {
	return Level(a) - Level(b)
}

// IsPaid reports whether a plan is a paid tier.
func IsPaid(p Plan) bool {
	return Level(p) > 0
}

// Price returns the monthly price for a plan.
func Price(p Plan) decimal.Decimal {
	if price, ok := planPrices[p]; ok {
		return price
	}
	return decimal.Zero
}

// PlanLimits returns the usage ceilings for a plan.
func PlanLimits(p Plan) Limits {
	if l, ok := planLimits[p]; ok {
		return l
	}
	return planLimits[PlanFree]
}

// MostRestrictive returns the plan with the tightest limits. Used as the
// conservative fallback when no upgrade path can be derived for a refund
// eligibility check.
func MostRestrictive() Plan {
	return PlanFree
}
