/*
rules.go - Toggleable, ranked allocation rules

PURPOSE:
  Defines the rule catalog the allocation algorithm evaluates candidates
  against. Rules are data, not code paths: each rule is a tagged variant
  over a small fixed kind enumeration, so adding a rule to a company never
  touches the engine's core loop.

RULE KINDS:
  daily_cap     VETO a candidate once they hold MaxPerDay or more leads in
                the active window ("new agents get at most N leads/day").
  metric_boost  SCORE adjustment (+Weight) for candidates whose rolling
                30-day sales count meets Threshold ("top closers get a
                bigger share").
  round_robin   SCORE adjustment (+Weight) for candidates currently at the
                pool's minimum load (fallback spreader).

EVALUATION:
  Ascending rank over ACTIVE rules only; inactive rules are skipped
  entirely, not evaluated and not counted. A veto hard-excludes the
  candidate; scores from later-ranked rules adjust the running total, they
  never reset it. Toggling takes effect on the next evaluation only.

ORDERING:
  Rank is a total order, stable across toggles: ties on rank fall back to
  rule ID, so evaluation order never depends on which rules happen to be
  active.

SEE ALSO:
  - engine.go: Composes verdicts into one allocation decision
  - factory/rule.go: JSON config -> Rule
*/
package distribution

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RULE - Tagged variant over a fixed kind enumeration
// =============================================================================

type RuleKind string

const (
	RuleDailyCap    RuleKind = "daily_cap"
	RuleMetricBoost RuleKind = "metric_boost"
	RuleRoundRobin  RuleKind = "round_robin"
)

// RuleParams holds the parameters for every kind; each kind reads only its
// own fields. Keeping one flat struct keeps rules trivially serializable.
type RuleParams struct {
	MaxPerDay int             // daily_cap: veto at this many window leads
	Threshold int             // metric_boost: minimum 30-day sales count
	Weight    decimal.Decimal // metric_boost / round_robin: score adjustment
}

// Rule is one toggleable allocation rule scoped to a company.
type Rule struct {
	ID        RuleID
	CompanyID CompanyID
	Label     string
	Kind      RuleKind
	Rank      int
	Active    bool
	Params    RuleParams
}

// =============================================================================
// VERDICT - Outcome of evaluating one rule against one candidate
// =============================================================================

// Verdict is either a veto (candidate excluded outright) or a score
// adjustment applied to the candidate's running total.
type Verdict struct {
	Veto   bool
	Adjust decimal.Decimal
}

// Evaluate applies the rule to one candidate for one lead. The snapshot
// supplies every input, so identical snapshots yield identical verdicts.
func (r Rule) Evaluate(candidate User, lead Lead, snap Snapshot) Verdict {
	switch r.Kind {
	case RuleDailyCap:
		if r.Params.MaxPerDay > 0 && snap.Loads[candidate.ID] >= r.Params.MaxPerDay {
			return Verdict{Veto: true}
		}
	case RuleMetricBoost:
		if candidate.SalesLast30 >= r.Params.Threshold {
			return Verdict{Adjust: r.Params.Weight}
		}
	case RuleRoundRobin:
		if snap.Loads[candidate.ID] == snap.MinLoad() {
			return Verdict{Adjust: r.Params.Weight}
		}
	}
	return Verdict{}
}

// =============================================================================
// RULE ORDERING
// =============================================================================

// SortRules orders rules by rank ascending, then ID ascending. The order is
// total and independent of active flags.
func SortRules(rules []Rule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Rank != rules[j].Rank {
			return rules[i].Rank < rules[j].Rank
		}
		return rules[i].ID < rules[j].ID
	})
}

// ActiveRules filters to active rules in evaluation order.
func ActiveRules(rules []Rule) []Rule {
	var active []Rule
	for _, r := range rules {
		if r.Active {
			active = append(active, r)
		}
	}
	SortRules(active)
	return active
}
