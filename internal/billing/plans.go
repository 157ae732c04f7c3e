// Package billing implements the subscription lifecycle, webhook
// reconciliation, and plan/proration domain logic.
package billing

import "strings"

// Plan is one entry of the fixed plan table. Rank orders plans so that a
// change to a higher rank is an upgrade and to a lower rank a downgrade.
// Price is a whole-unit KRW amount (no fractional minor units).
type Plan struct {
	Name  string
	Price int
	Rank  int
}

// PlanRegistry is the authoritative plan table. It is the single source of
// truth for plan prices and upgrade/downgrade ordering.
type PlanRegistry interface {
	// Lookup resolves a plan by name. Display names and their romanized
	// aliases both resolve; unknown names return ok=false.
	Lookup(name string) (Plan, bool)
}

// staticPlanRegistry is a compile-time plan registry backed by an in-memory
// map. It implements PlanRegistry and is the standard production
// implementation; no database or external service is required.
type staticPlanRegistry struct {
	plans map[string]Plan
}

// planDefaults defines the hardcoded plan table:
//
//	| Plan       | Price (KRW) | Rank |
//	|------------|-------------|------|
//	| 베이직     | 9,900       | 1    |
//	| 스탠다드   | 14,900      | 2    |
//	| 프리미엄   | 19,900      | 3    |
//
// The canonical name is the Korean display name as stored on subscription
// rows and sent as the product name on gateway charges.
var planDefaults = []Plan{
	{Name: "베이직", Price: 9900, Rank: 1},
	{Name: "스탠다드", Price: 14900, Rank: 2},
	{Name: "프리미엄", Price: 19900, Rank: 3},
}

// planAliases maps romanized names accepted from API clients onto the
// canonical display names.
var planAliases = map[string]string{
	"basic":    "베이직",
	"standard": "스탠다드",
	"premium":  "프리미엄",
}

// NewStaticPlanRegistry returns a PlanRegistry backed by the hardcoded plan
// table above.
func NewStaticPlanRegistry() PlanRegistry {
	m := make(map[string]Plan, len(planDefaults)+len(planAliases))
	for _, p := range planDefaults {
		m[p.Name] = p
	}
	for alias, canonical := range planAliases {
		m[alias] = m[canonical]
	}
	return &staticPlanRegistry{plans: m}
}

// Lookup resolves a plan by canonical name or alias, case-insensitively for
// romanized aliases.
func (r *staticPlanRegistry) Lookup(name string) (Plan, bool) {
	trimmed := strings.TrimSpace(name)
	if p, ok := r.plans[trimmed]; ok {
		return p, true
	}
	p, ok := r.plans[strings.ToLower(trimmed)]
	return p, ok
}
