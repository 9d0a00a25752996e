/*
store.go - Persistence interfaces for the distribution engine

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations can use SQLite or in-memory storage; any backend that
  honors the atomicity contracts below is conformant.

KEY INTERFACES:
  OrgStore:    Companies and users. SaveUsers is the atomic batch write
               that ownership transfer depends on.
  LeadStore:   Leads and their append-only assignment history.
               CommitAssignment is the single write path for assignments.
  RuleStore:   Distribution rule persistence.
  NumberStore: Phone number state.
  Store:       All of the above plus Reset (scenario loading).

ATOMICITY CONTRACTS:
  SaveUsers:        All users persist or none do. Ownership transfer writes
                    demotion, promotion, and re-parenting as one batch; a
                    partially applied transfer must never be observable.
  CommitAssignment: Sets the lead's assignee AND appends the history record
                    in one transaction. History is append-only: no update,
                    no delete, corrections happen by assigning again.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go:      Production SQLite
  - distribution/store/memory.go: In-memory for tests/dev

SEE ALSO:
  - hierarchy.go: Uses OrgStore under the hierarchy mutex
  - coordinator.go: Uses LeadStore + RuleStore under per-company locks
*/
package distribution

import (
	"context"
	"time"
)

// =============================================================================
// ORG STORE - Companies and users
// =============================================================================

type OrgStore interface {
	GetCompany(ctx context.Context, id CompanyID) (Company, error)
	SaveCompany(ctx context.Context, c Company) error
	ListCompanies(ctx context.Context) ([]Company, error)

	GetUser(ctx context.Context, id UserID) (User, error)
	SaveUser(ctx context.Context, u User) error

	// SaveUsers persists all users atomically. Either every user in the
	// batch is written or none are.
	SaveUsers(ctx context.Context, users []User) error

	// ListUsersByCompany returns the company's users ordered by ID ascending.
	ListUsersByCompany(ctx context.Context, id CompanyID) ([]User, error)
}

// =============================================================================
// LEAD STORE - Leads and append-only assignment history
// =============================================================================

type LeadStore interface {
	GetLead(ctx context.Context, id LeadID) (Lead, error)

	// SaveLead creates or updates a lead's descriptive fields. It never
	// touches the assignee or history; CommitAssignment owns those.
	SaveLead(ctx context.Context, l Lead) error

	// CommitAssignment atomically sets the lead's current assignee and
	// appends an AssignmentRecord. The only write path for assignments.
	CommitAssignment(ctx context.Context, id LeadID, agentID UserID, at time.Time, runID string) error

	// ListLeadsByCompany returns the company's leads ordered by CreatedAt,
	// then ID ascending (a stable iteration order for redistribution).
	ListLeadsByCompany(ctx context.Context, id CompanyID) ([]Lead, error)

	// ListUnassigned returns the company's unassigned leads, same ordering.
	ListUnassigned(ctx context.Context, id CompanyID) ([]Lead, error)
}

// =============================================================================
// RULE STORE
// =============================================================================

type RuleStore interface {
	GetRule(ctx context.Context, id RuleID) (Rule, error)
	SaveRule(ctx context.Context, r Rule) error

	// ListRulesByCompany returns all of the company's rules (active and
	// inactive) ordered by rank ascending, then ID ascending.
	ListRulesByCompany(ctx context.Context, id CompanyID) ([]Rule, error)
}

// =============================================================================
// NUMBER STORE
// =============================================================================

type NumberStore interface {
	GetNumber(ctx context.Context, id NumberID) (PhoneNumber, error)
	SaveNumber(ctx context.Context, n PhoneNumber) error
	ListNumbersByStatus(ctx context.Context, status NumberStatus) ([]PhoneNumber, error)
}

// =============================================================================
// COMBINED STORE
// =============================================================================

// Store is the full persistence surface the engine is wired against.
type Store interface {
	OrgStore
	LeadStore
	RuleStore
	NumberStore

	// Reset clears all data. Scenario loading only; never called by the
	// engine itself.
	Reset(ctx context.Context) error
}
