/*
Package factory provides JSON to Go distribution-rule conversion.

PURPOSE:
  Converts JSON rule definitions into distribution.Rule values. This keeps
  rules as data: a sales-ops admin can add or reorder allocation rules in
  JSON, and the factory produces the Go structs the engine evaluates. New
  rule instances never touch the engine's core loop.

WHY JSON?
  - Non-developers can modify the rule catalog
  - Easy integration with the admin UI
  - Database storage of rule configs

JSON SCHEMA:
  {
    "id": "cap-new-agents",
    "company_id": "acme",
    "label": "New agents: max 2 leads/day",
    "kind": "daily_cap",
    "rank": 10,
    "active": true,
    "params": {"max_per_day": 2}
  }

  Kinds: "daily_cap" (params.max_per_day), "metric_boost"
  (params.threshold, params.weight), "round_robin" (params.weight).
  Weights are decimal strings ("0.2" = +20% share adjustment).

VALIDATION:
  Unknown kinds, missing ids, and unparseable weights are rejected at parse
  time, keeping the evaluated rule set a closed deterministic catalog.

USAGE:
  f := factory.NewRuleFactory()
  rule, err := f.ParseRule(factory.DailyCapJSON("cap-1", "acme", 10, 2))

SEE ALSO:
  - distribution/rules.go: Rule type and evaluation semantics
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/lead-engine/distribution"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleJSON is the JSON representation of a distribution rule.
type RuleJSON struct {
	ID        string     `json:"id"`
	CompanyID string     `json:"company_id"`
	Label     string     `json:"label"`
	Kind      string     `json:"kind"`
	Rank      int        `json:"rank"`
	Active    bool       `json:"active"`
	Params    ParamsJSON `json:"params"`
}

// ParamsJSON holds the kind-specific parameters.
type ParamsJSON struct {
	MaxPerDay int    `json:"max_per_day,omitempty"`
	Threshold int    `json:"threshold,omitempty"`
	Weight    string `json:"weight,omitempty"` // decimal string, e.g. "0.2"
}

// =============================================================================
// RULE FACTORY
// =============================================================================

type RuleFactory struct{}

func NewRuleFactory() *RuleFactory {
	return &RuleFactory{}
}

// ParseRule converts a JSON document into a distribution.Rule.
func (f *RuleFactory) ParseRule(jsonStr string) (distribution.Rule, error) {
	var rj RuleJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return distribution.Rule{}, fmt.Errorf("invalid rule JSON: %w", err)
	}
	return f.FromJSON(rj)
}

// FromJSON converts an already-decoded RuleJSON into a distribution.Rule.
func (f *RuleFactory) FromJSON(rj RuleJSON) (distribution.Rule, error) {
	if rj.ID == "" {
		return distribution.Rule{}, fmt.Errorf("rule id is required")
	}
	if rj.CompanyID == "" {
		return distribution.Rule{}, fmt.Errorf("rule company_id is required")
	}

	rule := distribution.Rule{
		ID:        distribution.RuleID(rj.ID),
		CompanyID: distribution.CompanyID(rj.CompanyID),
		Label:     rj.Label,
		Rank:      rj.Rank,
		Active:    rj.Active,
	}

	switch distribution.RuleKind(rj.Kind) {
	case distribution.RuleDailyCap:
		if rj.Params.MaxPerDay <= 0 {
			return distribution.Rule{}, fmt.Errorf("daily_cap requires params.max_per_day > 0")
		}
		rule.Kind = distribution.RuleDailyCap
		rule.Params.MaxPerDay = rj.Params.MaxPerDay
	case distribution.RuleMetricBoost:
		w, err := parseWeight(rj.Params.Weight)
		if err != nil {
			return distribution.Rule{}, err
		}
		if rj.Params.Threshold <= 0 {
			return distribution.Rule{}, fmt.Errorf("metric_boost requires params.threshold > 0")
		}
		rule.Kind = distribution.RuleMetricBoost
		rule.Params.Threshold = rj.Params.Threshold
		rule.Params.Weight = w
	case distribution.RuleRoundRobin:
		w, err := parseWeight(rj.Params.Weight)
		if err != nil {
			return distribution.Rule{}, err
		}
		rule.Kind = distribution.RuleRoundRobin
		rule.Params.Weight = w
	default:
		return distribution.Rule{}, fmt.Errorf("unknown rule kind %q", rj.Kind)
	}
	return rule, nil
}

// ToJSON converts a rule back to its JSON representation (for API reads).
func ToJSON(r distribution.Rule) RuleJSON {
	rj := RuleJSON{
		ID:        string(r.ID),
		CompanyID: string(r.CompanyID),
		Label:     r.Label,
		Kind:      string(r.Kind),
		Rank:      r.Rank,
		Active:    r.Active,
	}
	switch r.Kind {
	case distribution.RuleDailyCap:
		rj.Params.MaxPerDay = r.Params.MaxPerDay
	case distribution.RuleMetricBoost:
		rj.Params.Threshold = r.Params.Threshold
		rj.Params.Weight = r.Params.Weight.String()
	case distribution.RuleRoundRobin:
		rj.Params.Weight = r.Params.Weight.String()
	}
	return rj
}

func parseWeight(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("params.weight is required")
	}
	w, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid params.weight %q: %w", s, err)
	}
	return w, nil
}

// =============================================================================
// CANNED RULE BUILDERS - Defaults for scenarios and tests
// =============================================================================

// DailyCapJSON builds a veto rule capping window leads per agent.
func DailyCapJSON(id, companyID string, rank, maxPerDay int) string {
	return marshalRule(map[string]any{
		"id":         id,
		"company_id": companyID,
		"label":      fmt.Sprintf("Cap agents at %d leads/day", maxPerDay),
		"kind":       "daily_cap",
		"rank":       rank,
		"active":     true,
		"params":     map[string]any{"max_per_day": maxPerDay},
	})
}

// MetricBoostJSON builds a score rule boosting proven closers.
func MetricBoostJSON(id, companyID string, rank, threshold int, weight string) string {
	return marshalRule(map[string]any{
		"id":         id,
		"company_id": companyID,
		"label":      fmt.Sprintf("Boost agents with %d+ sales/month", threshold),
		"kind":       "metric_boost",
		"rank":       rank,
		"active":     true,
		"params":     map[string]any{"threshold": threshold, "weight": weight},
	})
}

// RoundRobinJSON builds the fallback spreader rule.
func RoundRobinJSON(id, companyID string, rank int, weight string) string {
	return marshalRule(map[string]any{
		"id":         id,
		"company_id": companyID,
		"label":      "Spread to least-loaded agents",
		"kind":       "round_robin",
		"rank":       rank,
		"active":     true,
		"params":     map[string]any{"weight": weight},
	})
}

func marshalRule(m map[string]any) string {
	b, _ := json.MarshalIndent(m, "", "  ")
	return string(b)
}
