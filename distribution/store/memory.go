// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/lead-engine/distribution"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	companies map[distribution.CompanyID]distribution.Company
	users     map[distribution.UserID]distribution.User
	leads     map[distribution.LeadID]distribution.Lead
	rules     map[distribution.RuleID]distribution.Rule
	numbers   map[distribution.NumberID]distribution.PhoneNumber
}

func NewMemory() *Memory {
	m := &Memory{}
	m.reset()
	return m
}

func (m *Memory) reset() {
	m.companies = make(map[distribution.CompanyID]distribution.Company)
	m.users = make(map[distribution.UserID]distribution.User)
	m.leads = make(map[distribution.LeadID]distribution.Lead)
	m.rules = make(map[distribution.RuleID]distribution.Rule)
	m.numbers = make(map[distribution.NumberID]distribution.PhoneNumber)
}

// Reset clears all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
	return nil
}

// =============================================================================
// ORG STORE
// =============================================================================

func (m *Memory) GetCompany(_ context.Context, id distribution.CompanyID) (distribution.Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.companies[id]
	if !ok {
		return distribution.Company{}, &distribution.NotFoundError{Kind: "company", ID: string(id)}
	}
	return c, nil
}

func (m *Memory) SaveCompany(_ context.Context, c distribution.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.companies[c.ID] = c
	return nil
}

func (m *Memory) ListCompanies(_ context.Context) ([]distribution.Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]distribution.Company, 0, len(m.companies))
	for _, c := range m.companies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetUser(_ context.Context, id distribution.UserID) (distribution.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return distribution.User{}, &distribution.NotFoundError{Kind: "user", ID: string(id)}
	}
	return u, nil
}

func (m *Memory) SaveUser(_ context.Context, u distribution.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

// SaveUsers persists the batch atomically: the map writes happen under one
// lock acquisition, so readers see all of the batch or none of it.
func (m *Memory) SaveUsers(_ context.Context, users []distribution.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range users {
		m.users[u.ID] = u
	}
	return nil
}

func (m *Memory) ListUsersByCompany(_ context.Context, id distribution.CompanyID) ([]distribution.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []distribution.User
	for _, u := range m.users {
		if u.CompanyID == id {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// LEAD STORE
// =============================================================================

func (m *Memory) GetLead(_ context.Context, id distribution.LeadID) (distribution.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.leads[id]
	if !ok {
		return distribution.Lead{}, &distribution.NotFoundError{Kind: "lead", ID: string(id)}
	}
	return copyLead(l), nil
}

func (m *Memory) SaveLead(_ context.Context, l distribution.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.leads[l.ID]; ok {
		// Descriptive fields only; assignment state is CommitAssignment's.
		existing.Source = l.Source
		existing.CreatedAt = l.CreatedAt
		m.leads[l.ID] = existing
		return nil
	}
	l.AssignedAgentID = nil
	l.History = nil
	m.leads[l.ID] = l
	return nil
}

func (m *Memory) CommitAssignment(_ context.Context, id distribution.LeadID, agentID distribution.UserID, at time.Time, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return &distribution.NotFoundError{Kind: "lead", ID: string(id)}
	}
	aid := agentID
	l.AssignedAgentID = &aid
	l.History = append(l.History, distribution.AssignmentRecord{AgentID: agentID, AssignedAt: at, RunID: runID})
	m.leads[id] = l
	return nil
}

func (m *Memory) ListLeadsByCompany(_ context.Context, id distribution.CompanyID) ([]distribution.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLeads(id, false), nil
}

func (m *Memory) ListUnassigned(_ context.Context, id distribution.CompanyID) ([]distribution.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLeads(id, true), nil
}

func (m *Memory) listLeads(id distribution.CompanyID, unassignedOnly bool) []distribution.Lead {
	var out []distribution.Lead
	for _, l := range m.leads {
		if l.CompanyID != id {
			continue
		}
		if unassignedOnly && l.AssignedAgentID != nil {
			continue
		}
		out = append(out, copyLead(l))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// copyLead detaches the history slice so callers cannot mutate stored state.
func copyLead(l distribution.Lead) distribution.Lead {
	if l.AssignedAgentID != nil {
		aid := *l.AssignedAgentID
		l.AssignedAgentID = &aid
	}
	l.History = append([]distribution.AssignmentRecord(nil), l.History...)
	return l
}

// =============================================================================
// RULE STORE
// =============================================================================

func (m *Memory) GetRule(_ context.Context, id distribution.RuleID) (distribution.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok {
		return distribution.Rule{}, &distribution.NotFoundError{Kind: "rule", ID: string(id)}
	}
	return r, nil
}

func (m *Memory) SaveRule(_ context.Context, r distribution.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.ID] = r
	return nil
}

func (m *Memory) ListRulesByCompany(_ context.Context, id distribution.CompanyID) ([]distribution.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []distribution.Rule
	for _, r := range m.rules {
		if r.CompanyID == id {
			out = append(out, r)
		}
	}
	distribution.SortRules(out)
	return out, nil
}

// =============================================================================
// NUMBER STORE
// =============================================================================

func (m *Memory) GetNumber(_ context.Context, id distribution.NumberID) (distribution.PhoneNumber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.numbers[id]
	if !ok {
		return distribution.PhoneNumber{}, &distribution.NotFoundError{Kind: "number", ID: string(id)}
	}
	return n, nil
}

func (m *Memory) SaveNumber(_ context.Context, n distribution.PhoneNumber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.numbers[n.ID] = n
	return nil
}

func (m *Memory) ListNumbersByStatus(_ context.Context, status distribution.NumberStatus) ([]distribution.PhoneNumber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []distribution.PhoneNumber
	for _, n := range m.numbers {
		if n.Status == status {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
