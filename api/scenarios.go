/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates a company, agents,
	rules, phone numbers, and leads that demonstrate specific features.

AVAILABLE SCENARIOS:

	starter-team:       Small org, no rules, leads spread by load
	capped-agents:      Daily cap + metric boost rules shaping assignment
	saturated-pipeline: More leads than the team can absorb in a day

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create company + owner
 3. Create agents and attach them under the owner
 4. Create rules via factory JSON
 5. Register phone numbers and assign some
 6. Ingest leads through the coordinator so history is real

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "capped-agents"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler wiring, writeJSON/writeError
  - factory/rule.go: Canned rule JSON builders
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/lead-engine/distribution"
	"github.com/warp/lead-engine/factory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "starter-team",
		Name:        "Starter Team",
		Description: "Owner plus three agents, no rules; leads spread by load",
	},
	{
		ID:          "capped-agents",
		Name:        "Capped Agents",
		Description: "Daily cap vetoes busy agents, metric boost favors closers",
	},
	{
		ID:          "saturated-pipeline",
		Name:        "Saturated Pipeline",
		Description: "Lead volume past the team's daily caps; some stay unassigned",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, or null when
// none has been loaded since the last reset.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:   h.currentScenario,
		Name: h.currentScenario,
	})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	var err error
	switch req.ScenarioID {
	case "starter-team":
		err = h.loadStarterTeamScenario(ctx)
	case "capped-agents":
		err = h.loadCappedAgentsScenario(ctx)
	case "saturated-pipeline":
		err = h.loadSaturatedPipelineScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data without loading anything.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadStarterTeamScenario(ctx context.Context) error {
	if err := h.seedCompany(ctx, "co-starter", "Starter Co", "agency", "small"); err != nil {
		return err
	}

	agents := []distribution.User{
		{ID: "agent-ana", CompanyID: "co-starter", Name: "Ana Silva", Role: distribution.RoleAgent, SalesLast30: 4},
		{ID: "agent-bruno", CompanyID: "co-starter", Name: "Bruno Costa", Role: distribution.RoleAgent, SalesLast30: 7},
		{ID: "agent-carla", CompanyID: "co-starter", Name: "Carla Mendes", Role: distribution.RoleAgent, SalesLast30: 2},
	}
	for _, a := range agents {
		if err := h.Store.SaveUser(ctx, a); err != nil {
			return err
		}
	}
	owner := distribution.UserID("owner-starter")
	for _, a := range agents {
		if err := h.Hierarchy.AssignAgent(ctx, a.ID, &owner); err != nil {
			return err
		}
	}

	// A small number pool: two assigned, one free.
	numbers := []distribution.PhoneNumber{
		{ID: "num-100", E164: "+15550100100", Status: distribution.NumberAvailable},
		{ID: "num-101", E164: "+15550100101", Status: distribution.NumberAvailable},
		{ID: "num-102", E164: "+15550100102", Status: distribution.NumberAvailable},
	}
	for _, n := range numbers {
		if err := h.Store.SaveNumber(ctx, n); err != nil {
			return err
		}
	}
	if err := h.Pool.Assign(ctx, "num-100", "agent-ana"); err != nil {
		return err
	}
	if err := h.Pool.Assign(ctx, "num-101", "agent-bruno"); err != nil {
		return err
	}

	// No rules: every candidate scores zero, lowest load wins.
	return h.ingestLeads(ctx, "co-starter", "website", 6)
}

func (h *Handler) loadCappedAgentsScenario(ctx context.Context) error {
	if err := h.seedCompany(ctx, "co-capped", "Capped Co", "direct", "medium"); err != nil {
		return err
	}

	agents := []distribution.User{
		{ID: "agent-diego", CompanyID: "co-capped", Name: "Diego Ramos", Role: distribution.RoleAgent, SalesLast30: 12},
		{ID: "agent-elisa", CompanyID: "co-capped", Name: "Elisa Rocha", Role: distribution.RoleAgent, SalesLast30: 3},
		{ID: "agent-fabio", CompanyID: "co-capped", Name: "Fabio Lima", Role: distribution.RoleAgent, SalesLast30: 9},
	}
	for _, a := range agents {
		if err := h.Store.SaveUser(ctx, a); err != nil {
			return err
		}
	}
	owner := distribution.UserID("owner-capped")
	for _, a := range agents {
		if err := h.Hierarchy.AssignAgent(ctx, a.ID, &owner); err != nil {
			return err
		}
	}

	// Cap everyone at 3/day, then boost proven closers (10+ sales in 30d).
	configs := []string{
		factory.DailyCapJSON("rule-cap-3", "co-capped", 1, 3),
		factory.MetricBoostJSON("rule-boost-closers", "co-capped", 2, 10, "2.5"),
		factory.RoundRobinJSON("rule-even-spread", "co-capped", 3, "1"),
	}
	for _, cfg := range configs {
		if err := h.createRuleFromJSON(ctx, cfg); err != nil {
			return err
		}
	}

	return h.ingestLeads(ctx, "co-capped", "paid-search", 8)
}

func (h *Handler) loadSaturatedPipelineScenario(ctx context.Context) error {
	if err := h.seedCompany(ctx, "co-saturated", "Saturated Co", "partner", "small"); err != nil {
		return err
	}

	agents := []distribution.User{
		{ID: "agent-gabi", CompanyID: "co-saturated", Name: "Gabi Nunes", Role: distribution.RoleAgent, SalesLast30: 5},
		{ID: "agent-hugo", CompanyID: "co-saturated", Name: "Hugo Prado", Role: distribution.RoleAgent, SalesLast30: 6},
	}
	for _, a := range agents {
		if err := h.Store.SaveUser(ctx, a); err != nil {
			return err
		}
	}
	owner := distribution.UserID("owner-saturated")
	for _, a := range agents {
		if err := h.Hierarchy.AssignAgent(ctx, a.ID, &owner); err != nil {
			return err
		}
	}

	// Tight cap: 2 agents x 2 leads/day = 4 slots for 10 leads. The rest
	// land unassigned and show up in the stats saturation number.
	if err := h.createRuleFromJSON(ctx, factory.DailyCapJSON("rule-cap-2", "co-saturated", 1, 2)); err != nil {
		return err
	}

	return h.ingestLeads(ctx, "co-saturated", "cold-import", 10)
}

// =============================================================================
// SEED HELPERS
// =============================================================================

func (h *Handler) seedCompany(ctx context.Context, id, name, relationType, sizeTier string) error {
	company := distribution.Company{
		ID:           distribution.CompanyID(id),
		Name:         name,
		RelationType: relationType,
		SizeTier:     sizeTier,
	}
	if err := h.Store.SaveCompany(ctx, company); err != nil {
		return err
	}
	// Owner id derives from the company id: co-starter -> owner-starter.
	ownerID := "owner" + id[len("co"):]
	owner := distribution.User{
		ID:        distribution.UserID(ownerID),
		CompanyID: company.ID,
		Name:      name + " Owner",
		Role:      distribution.RoleOwner,
	}
	return h.Store.SaveUser(ctx, owner)
}

func (h *Handler) createRuleFromJSON(ctx context.Context, jsonStr string) error {
	rule, err := h.RuleFactory.ParseRule(jsonStr)
	if err != nil {
		return err
	}
	return h.Store.SaveRule(ctx, rule)
}

// ingestLeads pushes n leads through the coordinator so assignment history
// and load counters come from the real allocation path, not hand-seeded rows.
func (h *Handler) ingestLeads(ctx context.Context, companyID, source string, n int) error {
	for i := 1; i <= n; i++ {
		lead := distribution.Lead{
			ID:        distribution.LeadID(fmt.Sprintf("lead-%s-%03d", companyID, i)),
			CompanyID: distribution.CompanyID(companyID),
			Source:    source,
		}
		if _, err := h.Coordinator.Ingest(ctx, lead); err != nil {
			return err
		}
	}
	return nil
}
