/*
Package distribution provides the lead distribution and organizational
assignment engine.

PURPOSE:
  This package contains the core types and algorithms for routing inbound
  sales leads to agents. It maintains three global uniqueness invariants:
  - Exactly one active Owner per Company
  - Exactly one assignee per Lead
  - Exactly one holder per PhoneNumber

KEY CONCEPTS IN THIS FILE (types.go):
  - Company/User: The ownership and supervision graph
  - Lead: An inbound sales opportunity with an append-only assignment history
  - PhoneNumber: An exclusively-assignable resource (available/assigned)
  - Snapshot: The frozen inputs the allocation algorithm evaluates against
  - DistributionState: Derived per-company counters (never hand-edited)

DESIGN PRINCIPLES:
  1. Append-only history: assignments are recorded, never rewritten
  2. Precision: decimal.Decimal for scores and saturation (no float drift)
  3. Type safety: distinct ID types prevent mixing company/user/lead ids
  4. Determinism: allocation is a pure function of a Snapshot

SEE ALSO:
  - rules.go: Rule kinds and candidate evaluation
  - engine.go: The allocation algorithm
  - coordinator.go: Commit paths and bulk redistribution
*/
package distribution

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CompanyID string
type UserID string
type LeadID string
type NumberID string
type RuleID string

// =============================================================================
// COMPANY & USER - The ownership/supervision graph
// =============================================================================

// Company is a sales organization. Exactly one active Owner at any time.
type Company struct {
	ID           CompanyID
	Name         string
	RelationType string // e.g. "direct", "partner"
	SizeTier     string // e.g. "smb", "mid", "enterprise"
	CreatedAt    time.Time
}

type Role string

const (
	RoleOwner Role = "owner"
	RoleAgent Role = "agent"
)

// User is either the Owner of a company or an Agent receiving leads.
// SupervisorID is the only mutable hierarchy edge: nil means the agent is
// unassigned; non-nil must reference the Owner of the same company.
// Owners never have a supervisor.
type User struct {
	ID           UserID
	CompanyID    CompanyID
	Name         string
	Role         Role
	SupervisorID *UserID

	// Rolling 30-day closed-sales count, maintained by reporting (external).
	// Read by metric-boost rules.
	SalesLast30 int

	CreatedAt time.Time
}

// =============================================================================
// LEAD - Inbound opportunity requiring exactly one assignee
// =============================================================================

// AssignmentRecord is one entry in a lead's append-only history.
type AssignmentRecord struct {
	AgentID    UserID
	AssignedAt time.Time
	RunID      string // redistribution run that produced it, "" for direct allocation
}

type Lead struct {
	ID        LeadID
	CompanyID CompanyID
	Source    string // campaign/channel tag
	CreatedAt time.Time

	// AssignedAgentID is nil until allocation commits. History holds every
	// assignee in order, including the current one.
	AssignedAgentID *UserID
	History         []AssignmentRecord
}

// Assigned reports whether the lead currently has an assignee.
func (l Lead) Assigned() bool { return l.AssignedAgentID != nil }

// =============================================================================
// PHONE NUMBER - Two-state exclusively-assignable resource
// =============================================================================

type NumberStatus string

const (
	NumberAvailable NumberStatus = "available"
	NumberAssigned  NumberStatus = "assigned"
)

// PhoneNumber tracks assignment state only; provisioning is external.
// Invariant: Status == NumberAssigned iff AssignedTo != nil.
type PhoneNumber struct {
	ID         NumberID
	E164       string
	Status     NumberStatus
	AssignedTo *UserID
	CompanyID  *CompanyID
}

// =============================================================================
// SNAPSHOT - Frozen inputs for one allocation decision
// =============================================================================

// ActiveWindow is the trailing window used for load counting and flow stats.
const ActiveWindow = 24 * time.Hour

// Snapshot freezes everything an allocation decision depends on. Two calls
// over the same snapshot return the same decision.
type Snapshot struct {
	At     time.Time
	Agents []User           // the company's agents, sorted by ID ascending
	Rules  []Rule           // active rules only, sorted by rank ascending
	Loads  map[UserID]int   // leads assigned per agent within ActiveWindow
}

// MinLoad returns the lowest load among the snapshot's agents.
// Used by round-robin rules and tie-breaking.
func (s Snapshot) MinLoad() int {
	min := 0
	for i, a := range s.Agents {
		load := s.Loads[a.ID]
		if i == 0 || load < min {
			min = load
		}
	}
	return min
}

// =============================================================================
// DISTRIBUTION STATE - Derived per-company counters
// =============================================================================

// DistributionState is recomputed from committed leads after every
// allocation or toggle. It is a read view, never a source of truth.
type DistributionState struct {
	CompanyID       CompanyID
	UnassignedCount int
	AssignedCount   int
	ActiveFlow24h   int // leads created within ActiveWindow
	// SaturationPercent = assigned / (assigned + unassigned) * 100,
	// rounded to one decimal place. Zero when there are no leads.
	SaturationPercent decimal.Decimal
	AsOf              time.Time
}

// =============================================================================
// REDISTRIBUTION REPORT
// =============================================================================

// RedistributionReport summarizes one bulk run. Attempted counts every lead
// the run looked at; Assigned only the ones that committed, so callers can
// see partial completion explicitly.
type RedistributionReport struct {
	RunID        string
	CompanyID    CompanyID
	Attempted    int
	Assigned     int
	Unassignable int
	Skipped      int // full-rebalance leads whose decision did not change
}
