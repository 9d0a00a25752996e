/*
errors.go - Centralized error types for the distribution engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every failed operation returns one of these; nothing is swallowed.

ERROR CATEGORIES:
  1. Lookup errors      - referenced ids that do not resolve
  2. State errors       - resource/ownership state mismatches
  3. Allocation errors  - no candidate survives rule evaluation
  4. Corruption errors  - detected invariant violations (never auto-repaired)

CLASSIFICATION:
  The API layer maps classes to HTTP statuses via the helpers at the bottom:
  IsNotFound -> 404, IsConflict -> 409, IsUnprocessable -> 422.
  Corruption is deliberately NONE of these; it surfaces as a 500 so it is
  never mistaken for an ordinary business rejection.

USAGE:
  if errors.Is(err, distribution.ErrAlreadyAssigned) {
      // number already has a holder; unassign first
  }
*/
package distribution

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRole is returned when an operation requires a different role
	// than the target has (e.g. assigning an agent as a supervisor).
	ErrInvalidRole = errors.New("invalid role")

	// ErrAlreadyAssigned is returned when assigning a number that already
	// has a holder. Callers must unassign first; there is no silent takeover.
	ErrAlreadyAssigned = errors.New("already assigned")

	// ErrNotAssigned is returned when unassigning an available number.
	ErrNotAssigned = errors.New("not assigned")

	// ErrAlreadyOwner is returned when transferring ownership to the user
	// who already holds it.
	ErrAlreadyOwner = errors.New("already owner")

	// ErrAlreadyRunning is returned when a redistribution is requested for a
	// company that has one in flight. Rejected, never queued.
	ErrAlreadyRunning = errors.New("redistribution already running")

	// ErrUnassignable is returned when no candidate survives rule evaluation
	// for a lead. The lead stays unassigned and is reported, not dropped.
	ErrUnassignable = errors.New("no assignable candidate")

	// ErrNoEligibleLeads is returned when a redistribution run finds nothing
	// in scope for the company.
	ErrNoEligibleLeads = errors.New("no eligible leads")

	// ErrCorruptHierarchy indicates a detected invariant violation (e.g. two
	// active owners for one company). The operation halts; nothing is "fixed".
	ErrCorruptHierarchy = errors.New("hierarchy invariant violated")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError identifies what kind of id failed to resolve.
type NotFoundError struct {
	Kind string // "company", "user", "lead", "number", "rule"
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidRoleError describes a role mismatch.
type InvalidRoleError struct {
	UserID UserID
	Have   Role
	Want   Role
}

func (e *InvalidRoleError) Error() string {
	return fmt.Sprintf("user %q has role %s, operation requires %s", e.UserID, e.Have, e.Want)
}
func (e *InvalidRoleError) Unwrap() error { return ErrInvalidRole }

// AlreadyAssignedError carries the current holder of a contested number.
type AlreadyAssignedError struct {
	NumberID NumberID
	HolderID UserID
}

func (e *AlreadyAssignedError) Error() string {
	return fmt.Sprintf("number %q already assigned to %q", e.NumberID, e.HolderID)
}
func (e *AlreadyAssignedError) Unwrap() error { return ErrAlreadyAssigned }

// UnassignableError reports why a lead could not be placed.
type UnassignableError struct {
	LeadID     LeadID
	Candidates int // pool size before vetoes
	Vetoed     int
}

func (e *UnassignableError) Error() string {
	return fmt.Sprintf("lead %q unassignable: %d candidates, %d vetoed", e.LeadID, e.Candidates, e.Vetoed)
}
func (e *UnassignableError) Unwrap() error { return ErrUnassignable }

// CorruptHierarchyError reports the owners actually found for a company.
// Zero or multiple owners are both corruption; exactly one is the invariant.
type CorruptHierarchyError struct {
	CompanyID CompanyID
	Owners    []UserID
}

func (e *CorruptHierarchyError) Error() string {
	return fmt.Sprintf("company %q has %d active owners, expected exactly 1", e.CompanyID, len(e.Owners))
}
func (e *CorruptHierarchyError) Unwrap() error { return ErrCorruptHierarchy }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true for state conflicts a caller can resolve by
// changing sequencing (unassign first, retry later, pick another target).
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyAssigned) ||
		errors.Is(err, ErrNotAssigned) ||
		errors.Is(err, ErrAlreadyOwner) ||
		errors.Is(err, ErrAlreadyRunning)
}

// IsUnprocessable returns true for requests that are well-formed but
// rejected by business rules.
func IsUnprocessable(err error) bool {
	return errors.Is(err, ErrInvalidRole) ||
		errors.Is(err, ErrUnassignable) ||
		errors.Is(err, ErrNoEligibleLeads)
}
