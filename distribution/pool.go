/*
pool.go - Phone number pool manager

PURPOSE:
  Exclusive owner of PhoneNumber state. Numbers move between exactly two
  states, available and assigned, only through Assign/Unassign. Provisioning
  and retirement are a provider's concern; this engine only tracks holders.

STATE MACHINE:
  available --Assign--> assigned
  assigned --Unassign--> available
  No third state, no automatic expiry. Assign on an assigned number fails
  with the current holder attached; callers must Unassign first.

CONCURRENCY:
  One mutex serializes all transitions, so of N concurrent Assign calls on
  the same number exactly one succeeds and the rest observe AlreadyAssigned.
*/
package distribution

import (
	"context"
	"sync"
)

// Pool manages the exclusively-assignable phone number resources.
type Pool struct {
	numbers NumberStore
	org     OrgStore
	mu      sync.Mutex
}

func NewPool(numbers NumberStore, org OrgStore) *Pool {
	return &Pool{numbers: numbers, org: org}
}

// Assign gives the number to userID. Fails with *AlreadyAssignedError if
// the number already has a holder, and with not-found if either id does
// not resolve.
func (p *Pool) Assign(ctx context.Context, numberID NumberID, userID UserID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, err := p.numbers.GetNumber(ctx, numberID)
	if err != nil {
		return err
	}
	if n.Status == NumberAssigned {
		return &AlreadyAssignedError{NumberID: numberID, HolderID: *n.AssignedTo}
	}
	user, err := p.org.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	uid := user.ID
	n.Status = NumberAssigned
	n.AssignedTo = &uid
	cid := user.CompanyID
	n.CompanyID = &cid
	return p.numbers.SaveNumber(ctx, n)
}

// Unassign releases the number back to the pool.
func (p *Pool) Unassign(ctx context.Context, numberID NumberID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, err := p.numbers.GetNumber(ctx, numberID)
	if err != nil {
		return err
	}
	if n.Status != NumberAssigned {
		return ErrNotAssigned
	}
	n.Status = NumberAvailable
	n.AssignedTo = nil
	return p.numbers.SaveNumber(ctx, n)
}

// Get returns one number.
func (p *Pool) Get(ctx context.Context, numberID NumberID) (PhoneNumber, error) {
	return p.numbers.GetNumber(ctx, numberID)
}

// ListAvailable returns numbers with no holder.
func (p *Pool) ListAvailable(ctx context.Context) ([]PhoneNumber, error) {
	return p.numbers.ListNumbersByStatus(ctx, NumberAvailable)
}

// ListAssigned returns numbers with a holder.
func (p *Pool) ListAssigned(ctx context.Context) ([]PhoneNumber, error) {
	return p.numbers.ListNumbersByStatus(ctx, NumberAssigned)
}
