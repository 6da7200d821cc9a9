// Package quota enforces the per-plan usage ceilings described in the
// quota ledger design: a closed static mapping from plan id to limits,
// checked at task-creation, worker-entry and reporter boundaries.
package quota

// Plan is a closed, statically configured tier: the monthly dunning-email
// allowance and the maximum number of outstanding (pending+running) tasks.
type Plan struct {
	Name         string
	MonthlyLimit int64
	QueueLimit   int64
}

// FreePlanID is the default plan assigned to every auto-provisioned
// merchant.
const FreePlanID = "FREE"

// plans is the closed mapping; there is no dynamic plan creation.
var plans = map[string]Plan{
	"FREE":    {Name: "FREE", MonthlyLimit: 50, QueueLimit: 20},
	"STARTER": {Name: "STARTER", MonthlyLimit: 500, QueueLimit: 200},
	"GROWTH":  {Name: "GROWTH", MonthlyLimit: 5000, QueueLimit: 2000},
	"SCALE":   {Name: "SCALE", MonthlyLimit: 50000, QueueLimit: 20000},
}

// PlanFor resolves a plan id to its limits, falling back to FREE for any
// unrecognized or empty id so a merchant can never end up with unbounded
// quota because of a typo or missing column value.
func PlanFor(planID string) Plan {
	if p, ok := plans[planID]; ok {
		return p
	}
	return plans[FreePlanID]
}
