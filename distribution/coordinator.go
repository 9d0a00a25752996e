/*
coordinator.go - Commit paths, bulk redistribution, toggles, stats

PURPOSE:
  The Coordinator is the only component that commits allocation decisions.
  It builds a Snapshot, asks the Engine for a decision, and records it:
  assignee set, history appended, load counters implied (loads are derived
  from committed leads, never hand-edited).

SERIALIZATION:
  - One mutex per company serializes every read-decide-commit sequence
    touching that company's leads and load counters. Allocations for
    different companies run concurrently.
  - At most one redistribution per company: a second trigger while one is
    in flight is rejected with AlreadyRunning immediately. Never queued,
    never interleaved - two interleaved runs would double-count loads.

IDEMPOTENT COMMIT:
  Allocating a lead that already has an assignee is a no-op success that
  reports the existing assignee. At-least-once lead delivery is therefore
  safe: a duplicate submission changes nothing and appends no history.

PARTIAL PROGRESS:
  A redistribution run commits each lead as it goes, so a mid-run failure
  loses nothing already assigned. The report separates Attempted from
  Assigned so callers see partial completion explicitly.

SEE ALSO:
  - engine.go: The decision function
  - hierarchy.go: The graph snapshots read from
*/
package distribution

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Coordinator orchestrates allocation commits and bulk redistribution.
type Coordinator struct {
	store  Store
	engine Engine
	logger *slog.Logger

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time

	mu      sync.Mutex
	locks   map[CompanyID]*sync.Mutex
	running map[CompanyID]bool
}

func NewCoordinator(store Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:   store,
		logger:  logger.With("component", "coordinator"),
		Now:     time.Now,
		locks:   make(map[CompanyID]*sync.Mutex),
		running: make(map[CompanyID]bool),
	}
}

// companyLock returns the mutex serializing one company's commits.
func (c *Coordinator) companyLock(id CompanyID) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[id] == nil {
		c.locks[id] = &sync.Mutex{}
	}
	return c.locks[id]
}

// =============================================================================
// SNAPSHOT CONSTRUCTION
// =============================================================================

// snapshot freezes the inputs for one decision: the company's agents
// (ID-sorted), the active rules (rank-sorted), and per-agent loads counted
// over the active window ending at `at`. Callers hold the company lock.
func (c *Coordinator) snapshot(ctx context.Context, companyID CompanyID, at time.Time) (Snapshot, error) {
	users, err := c.store.ListUsersByCompany(ctx, companyID)
	if err != nil {
		return Snapshot{}, err
	}
	var agents []User
	for _, u := range users {
		if u.Role == RoleAgent {
			agents = append(agents, u)
		}
	}

	rules, err := c.store.ListRulesByCompany(ctx, companyID)
	if err != nil {
		return Snapshot{}, err
	}

	leads, err := c.store.ListLeadsByCompany(ctx, companyID)
	if err != nil {
		return Snapshot{}, err
	}
	loads := make(map[UserID]int, len(agents))
	cutoff := at.Add(-ActiveWindow)
	for _, l := range leads {
		if l.AssignedAgentID == nil || len(l.History) == 0 {
			continue
		}
		last := l.History[len(l.History)-1]
		if last.AssignedAt.After(cutoff) {
			loads[*l.AssignedAgentID]++
		}
	}

	return Snapshot{At: at, Agents: agents, Rules: ActiveRules(rules), Loads: loads}, nil
}

// =============================================================================
// ALLOCATION COMMIT
// =============================================================================

// Allocate runs the engine for one lead and commits the decision. Calling
// it on an already-assigned lead returns the existing assignee unchanged.
func (c *Coordinator) Allocate(ctx context.Context, leadID LeadID) (UserID, error) {
	lead, err := c.store.GetLead(ctx, leadID)
	if err != nil {
		return "", err
	}

	lock := c.companyLock(lead.CompanyID)
	lock.Lock()
	defer lock.Unlock()

	return c.allocateLocked(ctx, leadID, "")
}

// allocateLocked is the commit path. Callers hold the company lock.
// Re-reads the lead under the lock so a concurrent commit is observed.
func (c *Coordinator) allocateLocked(ctx context.Context, leadID LeadID, runID string) (UserID, error) {
	lead, err := c.store.GetLead(ctx, leadID)
	if err != nil {
		return "", err
	}
	if lead.AssignedAgentID != nil {
		return *lead.AssignedAgentID, nil // idempotent no-op
	}

	at := c.Now()
	snap, err := c.snapshot(ctx, lead.CompanyID, at)
	if err != nil {
		return "", err
	}
	agentID, err := c.engine.Allocate(lead, snap)
	if err != nil {
		return "", err
	}
	if err := c.store.CommitAssignment(ctx, leadID, agentID, at, runID); err != nil {
		return "", err
	}
	c.logger.InfoContext(ctx, "lead allocated",
		"lead_id", leadID, "agent_id", agentID, "company_id", lead.CompanyID, "run_id", runID)
	return agentID, nil
}

// Ingest records a new lead and allocates it immediately. Delivery is
// at-least-once: resubmitting an existing lead id re-runs the idempotent
// allocation and changes nothing. An unassignable lead is created anyway
// and stays unassigned; the returned Lead reflects the outcome.
func (c *Coordinator) Ingest(ctx context.Context, lead Lead) (Lead, error) {
	if _, err := c.store.GetCompany(ctx, lead.CompanyID); err != nil {
		return Lead{}, err
	}

	lock := c.companyLock(lead.CompanyID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.store.GetLead(ctx, lead.ID); err != nil {
		if !IsNotFound(err) {
			return Lead{}, err
		}
		if lead.CreatedAt.IsZero() {
			lead.CreatedAt = c.Now()
		}
		if err := c.store.SaveLead(ctx, lead); err != nil {
			return Lead{}, err
		}
	}

	if _, err := c.allocateLocked(ctx, lead.ID, ""); err != nil && !IsUnprocessable(err) {
		return Lead{}, err
	}
	return c.store.GetLead(ctx, lead.ID)
}

// =============================================================================
// REDISTRIBUTION
// =============================================================================

// TriggerRedistribution walks the company's unassigned leads (all leads
// when full is true), allocating each and committing per lead. A second
// call for the same company while one is in flight fails with
// AlreadyRunning. In full mode, currently-assigned leads are re-evaluated
// and reassigned only when the decision changes.
func (c *Coordinator) TriggerRedistribution(ctx context.Context, companyID CompanyID, full bool) (RedistributionReport, error) {
	c.mu.Lock()
	if c.running[companyID] {
		c.mu.Unlock()
		return RedistributionReport{}, ErrAlreadyRunning
	}
	c.running[companyID] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.running, companyID)
		c.mu.Unlock()
	}()

	if _, err := c.store.GetCompany(ctx, companyID); err != nil {
		return RedistributionReport{}, err
	}

	var leads []Lead
	var err error
	if full {
		leads, err = c.store.ListLeadsByCompany(ctx, companyID)
	} else {
		leads, err = c.store.ListUnassigned(ctx, companyID)
	}
	if err != nil {
		return RedistributionReport{}, err
	}
	if len(leads) == 0 {
		return RedistributionReport{}, ErrNoEligibleLeads
	}

	report := RedistributionReport{RunID: uuid.NewString(), CompanyID: companyID}
	lock := c.companyLock(companyID)

	for _, l := range leads {
		report.Attempted++

		// One lock scope per lead: progress commits incrementally and
		// direct allocations interleave safely between leads.
		lock.Lock()
		err := c.redistributeOne(ctx, l.ID, full, report.RunID, &report)
		lock.Unlock()
		if err != nil {
			return report, err
		}
	}

	c.logger.InfoContext(ctx, "redistribution finished",
		"run_id", report.RunID, "company_id", companyID, "full", full,
		"attempted", report.Attempted, "assigned", report.Assigned,
		"unassignable", report.Unassignable, "skipped", report.Skipped)
	return report, nil
}

// redistributeOne re-evaluates a single lead. Callers hold the company lock.
func (c *Coordinator) redistributeOne(ctx context.Context, leadID LeadID, full bool, runID string, report *RedistributionReport) error {
	lead, err := c.store.GetLead(ctx, leadID)
	if err != nil {
		return err
	}

	if !lead.Assigned() {
		if _, err := c.allocateLocked(ctx, leadID, runID); err != nil {
			if IsUnprocessable(err) {
				report.Unassignable++
				return nil
			}
			return err
		}
		report.Assigned++
		return nil
	}

	// Lead gained an assignee since the unassigned-only scan was taken.
	if !full {
		report.Skipped++
		return nil
	}

	at := c.Now()
	snap, err := c.snapshot(ctx, lead.CompanyID, at)
	if err != nil {
		return err
	}
	agentID, err := c.engine.Allocate(lead, snap)
	if err != nil {
		if IsUnprocessable(err) {
			report.Unassignable++
			return nil
		}
		return err
	}
	if agentID == *lead.AssignedAgentID {
		report.Skipped++
		return nil
	}
	if err := c.store.CommitAssignment(ctx, leadID, agentID, at, runID); err != nil {
		return err
	}
	report.Assigned++
	return nil
}

// =============================================================================
// RULE TOGGLING
// =============================================================================

// ToggleRule flips a rule's active flag. Takes effect on the next
// evaluation only; past assignments are never revisited. Committed or
// rejected, nothing optimistic.
func (c *Coordinator) ToggleRule(ctx context.Context, ruleID RuleID, active bool) error {
	rule, err := c.store.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	if rule.Active == active {
		return nil
	}
	rule.Active = active
	if err := c.store.SaveRule(ctx, rule); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "rule toggled", "rule_id", ruleID, "active", active)
	return nil
}

// =============================================================================
// STATS
// =============================================================================

var hundred = decimal.NewFromInt(100)

// Stats recomputes the company's DistributionState from committed leads.
// Always fresh; reflects the latest committed allocation.
func (c *Coordinator) Stats(ctx context.Context, companyID CompanyID) (DistributionState, error) {
	if _, err := c.store.GetCompany(ctx, companyID); err != nil {
		return DistributionState{}, err
	}
	leads, err := c.store.ListLeadsByCompany(ctx, companyID)
	if err != nil {
		return DistributionState{}, err
	}

	at := c.Now()
	cutoff := at.Add(-ActiveWindow)
	state := DistributionState{CompanyID: companyID, AsOf: at, SaturationPercent: decimal.Zero}
	for _, l := range leads {
		if l.Assigned() {
			state.AssignedCount++
		} else {
			state.UnassignedCount++
		}
		if l.CreatedAt.After(cutoff) {
			state.ActiveFlow24h++
		}
	}
	if total := state.AssignedCount + state.UnassignedCount; total > 0 {
		state.SaturationPercent = decimal.NewFromInt(int64(state.AssignedCount)).
			Div(decimal.NewFromInt(int64(total))).
			Mul(hundred).
			Round(1)
	}
	return state, nil
}
