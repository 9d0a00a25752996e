/*
hierarchy.go - The ownership and supervision graph

PURPOSE:
  Exclusive owner of the supervisor edges. Agents attach to at most one
  supervisor (the company's Owner) at a time; every company has exactly one
  active Owner. The allocation engine reads this graph but never writes it.

OPERATIONS:
  AssignAgent:       Attach an agent to an owner (idempotent)
  Detach:            Clear an agent's supervisor
  TransferOwnership: Atomically demote / promote / re-parent
  View:              {owner, agents, unassigned} read projection

ATOMICITY:
  TransferOwnership writes the outgoing owner's demotion, the new owner's
  promotion, and the re-parenting of the old owner's reports as ONE batch
  (OrgStore.SaveUsers). A partially applied transfer is an invariant
  violation and must never be observable.

CORRUPTION:
  Any operation that observes zero or multiple owners for a company fails
  with *CorruptHierarchyError and touches nothing. Corruption is surfaced,
  never repaired in place.

SEE ALSO:
  - store.go: SaveUsers atomic batch contract
  - coordinator.go: Reads the graph when building snapshots
*/
package distribution

import (
	"context"
	"sync"
)

// Hierarchy is the hierarchy store. All mutations serialize on one mutex:
// supervisor edges are low-write, and single-writer discipline keeps the
// read-check-write sequences race-free over any OrgStore backend.
type Hierarchy struct {
	store OrgStore
	mu    sync.Mutex
}

func NewHierarchy(store OrgStore) *Hierarchy {
	return &Hierarchy{store: store}
}

// HierarchyView is the read projection for one company.
type HierarchyView struct {
	Owner      User
	Agents     []User // supervised agents, ID ascending
	Unassigned []User // agents with no supervisor, ID ascending
}

// =============================================================================
// MUTATIONS
// =============================================================================

// AssignAgent sets an agent's supervisor. supervisorID must resolve to the
// Owner of the agent's own company. Passing nil detaches. Re-assigning to
// the current supervisor is a no-op success.
func (h *Hierarchy) AssignAgent(ctx context.Context, agentID UserID, supervisorID *UserID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	agent, err := h.store.GetUser(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.Role != RoleAgent {
		return &InvalidRoleError{UserID: agentID, Have: agent.Role, Want: RoleAgent}
	}

	if supervisorID == nil {
		return h.detachLocked(ctx, agent)
	}

	supervisor, err := h.store.GetUser(ctx, *supervisorID)
	if err != nil {
		return err
	}
	if supervisor.Role != RoleOwner || supervisor.CompanyID != agent.CompanyID {
		return &InvalidRoleError{UserID: *supervisorID, Have: supervisor.Role, Want: RoleOwner}
	}

	if agent.SupervisorID != nil && *agent.SupervisorID == *supervisorID {
		return nil // idempotent
	}

	sid := *supervisorID
	agent.SupervisorID = &sid
	return h.store.SaveUser(ctx, agent)
}

// Detach clears an agent's supervisor. Detaching an unassigned agent is a
// no-op success.
func (h *Hierarchy) Detach(ctx context.Context, agentID UserID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	agent, err := h.store.GetUser(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.Role != RoleAgent {
		return &InvalidRoleError{UserID: agentID, Have: agent.Role, Want: RoleAgent}
	}
	return h.detachLocked(ctx, agent)
}

func (h *Hierarchy) detachLocked(ctx context.Context, agent User) error {
	if agent.SupervisorID == nil {
		return nil
	}
	agent.SupervisorID = nil
	return h.store.SaveUser(ctx, agent)
}

// TransferOwnership makes newOwnerID the company's active owner. In one
// atomic batch: the outgoing owner becomes an unassigned agent, the new
// owner is promoted with no supervisor, and every agent the old owner
// supervised is re-parented to the new owner.
func (h *Hierarchy) TransferOwnership(ctx context.Context, companyID CompanyID, newOwnerID UserID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := h.store.GetCompany(ctx, companyID); err != nil {
		return err
	}
	users, err := h.store.ListUsersByCompany(ctx, companyID)
	if err != nil {
		return err
	}

	oldOwner, err := soleOwner(companyID, users)
	if err != nil {
		return err
	}

	var newOwner *User
	for i := range users {
		if users[i].ID == newOwnerID {
			newOwner = &users[i]
		}
	}
	if newOwner == nil {
		return &NotFoundError{Kind: "user", ID: string(newOwnerID)}
	}
	if newOwner.ID == oldOwner.ID {
		return ErrAlreadyOwner
	}

	batch := make([]User, 0, len(users))
	for _, u := range users {
		switch {
		case u.ID == oldOwner.ID:
			u.Role = RoleAgent
			u.SupervisorID = nil
		case u.ID == newOwnerID:
			u.Role = RoleOwner
			u.SupervisorID = nil
		case u.SupervisorID != nil && *u.SupervisorID == oldOwner.ID:
			nid := newOwnerID
			u.SupervisorID = &nid
		default:
			continue
		}
		batch = append(batch, u)
	}
	return h.store.SaveUsers(ctx, batch)
}

// =============================================================================
// READ VIEW
// =============================================================================

// View returns the company's hierarchy: its owner, supervised agents, and
// unassigned agents.
func (h *Hierarchy) View(ctx context.Context, companyID CompanyID) (HierarchyView, error) {
	if _, err := h.store.GetCompany(ctx, companyID); err != nil {
		return HierarchyView{}, err
	}
	users, err := h.store.ListUsersByCompany(ctx, companyID)
	if err != nil {
		return HierarchyView{}, err
	}

	owner, err := soleOwner(companyID, users)
	if err != nil {
		return HierarchyView{}, err
	}

	view := HierarchyView{Owner: owner}
	for _, u := range users {
		if u.Role != RoleAgent {
			continue
		}
		if u.SupervisorID == nil {
			view.Unassigned = append(view.Unassigned, u)
		} else {
			view.Agents = append(view.Agents, u)
		}
	}
	return view, nil
}

// soleOwner enforces the exactly-one-owner invariant over a user list.
func soleOwner(companyID CompanyID, users []User) (User, error) {
	var owners []UserID
	var owner User
	for _, u := range users {
		if u.Role == RoleOwner {
			owners = append(owners, u.ID)
			owner = u
		}
	}
	if len(owners) != 1 {
		return User{}, &CorruptHierarchyError{CompanyID: companyID, Owners: owners}
	}
	return owner, nil
}
