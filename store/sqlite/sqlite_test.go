package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lead-engine/distribution"
	"github.com/warp/lead-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedCompany(t *testing.T, store *sqlite.Store) {
	t.Helper()
	err := store.SaveCompany(context.Background(), distribution.Company{
		ID: "co-1", Name: "Acme", RelationType: "direct", SizeTier: "small",
	})
	require.NoError(t, err)
}

// =============================================================================
// COMPANIES AND USERS
// =============================================================================

func TestCompany_SaveAndGet(t *testing.T) {
	store := newTestStore(t)
	seedCompany(t, store)
	ctx := context.Background()

	c, err := store.GetCompany(ctx, "co-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", c.Name)
	assert.Equal(t, "direct", c.RelationType)
	assert.False(t, c.CreatedAt.IsZero())

	_, err = store.GetCompany(ctx, "ghost")
	assert.True(t, distribution.IsNotFound(err))
}

func TestCompany_UpsertKeepsCreatedAt(t *testing.T) {
	store := newTestStore(t)
	seedCompany(t, store)
	ctx := context.Background()

	before, err := store.GetCompany(ctx, "co-1")
	require.NoError(t, err)

	require.NoError(t, store.SaveCompany(ctx, distribution.Company{ID: "co-1", Name: "Acme Renamed"}))

	after, err := store.GetCompany(ctx, "co-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Renamed", after.Name)
	assert.True(t, before.CreatedAt.Equal(after.CreatedAt))
}

func TestUser_SupervisorRoundTrip(t *testing.T) {
	store := newTestStore(t)
	seedCompany(t, store)
	ctx := context.Background()

	owner := distribution.UserID("owner-1")
	require.NoError(t, store.SaveUser(ctx, distribution.User{
		ID: "owner-1", CompanyID: "co-1", Name: "Owner", Role: distribution.RoleOwner,
	}))
	require.NoError(t, store.SaveUser(ctx, distribution.User{
		ID: "a-1", CompanyID: "co-1", Name: "Agent", Role: distribution.RoleAgent,
		SupervisorID: &owner, SalesLast30: 7,
	}))

	u, err := store.GetUser(ctx, "a-1")
	require.NoError(t, err)
	require.NotNil(t, u.SupervisorID)
	assert.Equal(t, owner, *u.SupervisorID)
	assert.Equal(t, 7, u.SalesLast30)

	// Clearing the edge persists as NULL.
	u.SupervisorID = nil
	require.NoError(t, store.SaveUser(ctx, u))
	u, err = store.GetUser(ctx, "a-1")
	require.NoError(t, err)
	assert.Nil(t, u.SupervisorID)
}

func TestSaveUsers_AtomicBatch(t *testing.T) {
	store := newTestStore(t)
	seedCompany(t, store)
	ctx := context.Background()

	batch := []distribution.User{
		{ID: "u-1", CompanyID: "co-1", Role: distribution.RoleOwner},
		{ID: "u-2", CompanyID: "co-1", Role: distribution.RoleAgent},
		{ID: "u-3", CompanyID: "co-1", Role: distribution.RoleAgent},
	}
	require.NoError(t, store.SaveUsers(ctx, batch))

	users, err := store.ListUsersByCompany(ctx, "co-1")
	require.NoError(t, err)
	require.Len(t, users, 3)
	// ID-ordered listing is part of the contract.
	assert.Equal(t, distribution.UserID("u-1"), users[0].ID)
	assert.Equal(t, distribution.UserID("u-3"), users[2].ID)
}

// =============================================================================
// LEADS AND ASSIGNMENT HISTORY
// =============================================================================

func TestLead_SaveDoesNotTouchAssignment(t *testing.T) {
	store := newTestStore(t)
	seedCompany(t, store)
	ctx := context.Background()
	at := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveLead(ctx, distribution.Lead{
		ID: "l-1", CompanyID: "co-1", Source: "website", CreatedAt: at,
	}))
	require.NoError(t, store.CommitAssignment(ctx, "l-1", "a-1", at, ""))

	// A descriptive update must not clear the committed assignee.
	require.NoError(t, store.SaveLead(ctx, distribution.Lead{
		ID: "l-1", CompanyID: "co-1", Source: "retagged", CreatedAt: at,
	}))

	l, err := store.GetLead(ctx, "l-1")
	require.NoError(t, err)
	assert.Equal(t, "retagged", l.Source)
	require.NotNil(t, l.AssignedAgentID)
	assert.Equal(t, distribution.UserID("a-1"), *l.AssignedAgentID)
}

func TestCommitAssignment_AppendsHistory(t *testing.T) {
	store := newTestStore(t)
	seedCompany(t, store)
	ctx := context.Background()
	at := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveLead(ctx, distribution.Lead{ID: "l-1", CompanyID: "co-1", CreatedAt: at}))
	require.NoError(t, store.CommitAssignment(ctx, "l-1", "a-1", at, "run-1"))
	require.NoError(t, store.CommitAssignment(ctx, "l-1", "a-2", at.Add(time.Hour), "run-2"))

	l, err := store.GetLead(ctx, "l-1")
	require.NoError(t, err)
	require.NotNil(t, l.AssignedAgentID)
	assert.Equal(t, distribution.UserID("a-2"), *l.AssignedAgentID)

	// History keeps every assignee in order, reassignments included.
	require.Len(t, l.History, 2)
	assert.Equal(t, distribution.UserID("a-1"), l.History[0].AgentID)
	assert.Equal(t, "run-1", l.History[0].RunID)
	assert.Equal(t, distribution.UserID("a-2"), l.History[1].AgentID)
	assert.True(t, l.History[1].AssignedAt.Equal(at.Add(time.Hour)))
}

func TestCommitAssignment_UnknownLead(t *testing.T) {
	store := newTestStore(t)
	seedCompany(t, store)

	err := store.CommitAssignment(context.Background(), "ghost", "a-1", time.Now(), "")
	assert.True(t, distribution.IsNotFound(err))
}

func TestListLeads_OrderAndFilter(t *testing.T) {
	store := newTestStore(t)
	seedCompany(t, store)
	ctx := context.Background()
	base := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	// Insert out of creation order to prove the listing sorts.
	require.NoError(t, store.SaveLead(ctx, distribution.Lead{ID: "l-b", CompanyID: "co-1", CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, store.SaveLead(ctx, distribution.Lead{ID: "l-c", CompanyID: "co-1", CreatedAt: base}))
	require.NoError(t, store.SaveLead(ctx, distribution.Lead{ID: "l-a", CompanyID: "co-1", CreatedAt: base}))
	require.NoError(t, store.CommitAssignment(ctx, "l-c", "a-1", base, ""))

	all, err := store.ListLeadsByCompany(ctx, "co-1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, distribution.LeadID("l-a"), all[0].ID)
	assert.Equal(t, distribution.LeadID("l-c"), all[1].ID)
	assert.Equal(t, distribution.LeadID("l-b"), all[2].ID)
	assert.Len(t, all[1].History, 1)

	unassigned, err := store.ListUnassigned(ctx, "co-1")
	require.NoError(t, err)
	require.Len(t, unassigned, 2)
	for _, l := range unassigned {
		assert.Nil(t, l.AssignedAgentID)
	}
}

// =============================================================================
// RULES
// =============================================================================

func TestRule_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	seedCompany(t, store)
	ctx := context.Background()

	rule := distribution.Rule{
		ID: "r-1", CompanyID: "co-1", Label: "Boost closers",
		Kind: distribution.RuleMetricBoost, Rank: 2, Active: true,
		Params: distribution.RuleParams{Threshold: 10, Weight: decimal.RequireFromString("2.5")},
	}
	require.NoError(t, store.SaveRule(ctx, rule))

	got, err := store.GetRule(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, rule.Kind, got.Kind)
	assert.Equal(t, rule.Params.Threshold, got.Params.Threshold)
	assert.True(t, got.Params.Weight.Equal(rule.Params.Weight))

	// Toggling persists through the same upsert.
	got.Active = false
	require.NoError(t, store.SaveRule(ctx, got))
	got, err = store.GetRule(ctx, "r-1")
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestListRules_RankOrder(t *testing.T) {
	store := newTestStore(t)
	seedCompany(t, store)
	ctx := context.Background()

	for _, r := range []distribution.Rule{
		{ID: "r-b", CompanyID: "co-1", Kind: distribution.RuleDailyCap, Rank: 2, Params: distribution.RuleParams{MaxPerDay: 1}},
		{ID: "r-a", CompanyID: "co-1", Kind: distribution.RuleDailyCap, Rank: 2, Params: distribution.RuleParams{MaxPerDay: 1}},
		{ID: "r-c", CompanyID: "co-1", Kind: distribution.RuleDailyCap, Rank: 1, Params: distribution.RuleParams{MaxPerDay: 1}},
	} {
		require.NoError(t, store.SaveRule(ctx, r))
	}

	rules, err := store.ListRulesByCompany(ctx, "co-1")
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, distribution.RuleID("r-c"), rules[0].ID)
	assert.Equal(t, distribution.RuleID("r-a"), rules[1].ID)
	assert.Equal(t, distribution.RuleID("r-b"), rules[2].ID)
}

// =============================================================================
// PHONE NUMBERS
// =============================================================================

func TestNumber_StatusTransitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveNumber(ctx, distribution.PhoneNumber{
		ID: "n-1", E164: "+15550001111", Status: distribution.NumberAvailable,
	}))

	holder := distribution.UserID("u-1")
	company := distribution.CompanyID("co-1")
	require.NoError(t, store.SaveNumber(ctx, distribution.PhoneNumber{
		ID: "n-1", E164: "+15550001111", Status: distribution.NumberAssigned,
		AssignedTo: &holder, CompanyID: &company,
	}))

	n, err := store.GetNumber(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, distribution.NumberAssigned, n.Status)
	require.NotNil(t, n.AssignedTo)
	assert.Equal(t, holder, *n.AssignedTo)

	assigned, err := store.ListNumbersByStatus(ctx, distribution.NumberAssigned)
	require.NoError(t, err)
	assert.Len(t, assigned, 1)
	available, err := store.ListNumbersByStatus(ctx, distribution.NumberAvailable)
	require.NoError(t, err)
	assert.Empty(t, available)
}

// =============================================================================
// RESET
// =============================================================================

func TestReset_ClearsEverything(t *testing.T) {
	store := newTestStore(t)
	seedCompany(t, store)
	ctx := context.Background()
	require.NoError(t, store.SaveLead(ctx, distribution.Lead{ID: "l-1", CompanyID: "co-1", CreatedAt: time.Now()}))
	require.NoError(t, store.SaveNumber(ctx, distribution.PhoneNumber{ID: "n-1", E164: "+1", Status: distribution.NumberAvailable}))

	require.NoError(t, store.Reset(ctx))

	companies, err := store.ListCompanies(ctx)
	require.NoError(t, err)
	assert.Empty(t, companies)
	_, err = store.GetLead(ctx, "l-1")
	assert.True(t, distribution.IsNotFound(err))
	_, err = store.GetNumber(ctx, "n-1")
	assert.True(t, distribution.IsNotFound(err))
}
