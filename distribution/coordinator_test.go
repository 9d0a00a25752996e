package distribution_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/lead-engine/distribution"
	"github.com/warp/lead-engine/distribution/store"
)

var testClock = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedCoordinator builds a company with one owner, the given agents, and a
// coordinator pinned to testClock.
func seedCoordinator(t *testing.T, agentIDs ...string) (*store.Memory, *distribution.Coordinator) {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()

	if err := mem.SaveCompany(ctx, distribution.Company{ID: "co-1", Name: "Acme"}); err != nil {
		t.Fatalf("SaveCompany failed: %v", err)
	}
	if err := mem.SaveUser(ctx, distribution.User{
		ID: "owner-1", CompanyID: "co-1", Role: distribution.RoleOwner,
	}); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}
	for _, id := range agentIDs {
		if err := mem.SaveUser(ctx, distribution.User{
			ID: distribution.UserID(id), CompanyID: "co-1", Role: distribution.RoleAgent,
		}); err != nil {
			t.Fatalf("SaveUser %s failed: %v", id, err)
		}
	}

	c := distribution.NewCoordinator(mem, quietLogger())
	c.Now = func() time.Time { return testClock }
	return mem, c
}

func saveUnassignedLead(t *testing.T, mem *store.Memory, id string, createdAt time.Time) {
	t.Helper()
	err := mem.SaveLead(context.Background(), distribution.Lead{
		ID: distribution.LeadID(id), CompanyID: "co-1", Source: "test", CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("SaveLead %s failed: %v", id, err)
	}
}

// =============================================================================
// ALLOCATION COMMIT
// =============================================================================

func TestCoordinatorAllocate_CommitsDecision(t *testing.T) {
	mem, c := seedCoordinator(t, "a-1")
	ctx := context.Background()
	saveUnassignedLead(t, mem, "l-1", testClock)

	agentID, err := c.Allocate(ctx, "l-1")
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if agentID != "a-1" {
		t.Errorf("expected a-1, got %s", agentID)
	}

	lead, err := mem.GetLead(ctx, "l-1")
	if err != nil {
		t.Fatalf("GetLead failed: %v", err)
	}
	if !lead.Assigned() || *lead.AssignedAgentID != "a-1" {
		t.Errorf("expected committed assignee a-1, got %v", lead.AssignedAgentID)
	}
	if len(lead.History) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(lead.History))
	}
	if lead.History[0].AgentID != "a-1" || !lead.History[0].AssignedAt.Equal(testClock) {
		t.Errorf("unexpected history record: %+v", lead.History[0])
	}
}

func TestCoordinatorAllocate_Idempotent(t *testing.T) {
	// A duplicate submission returns the existing assignee and appends
	// no history.
	mem, c := seedCoordinator(t, "a-1", "a-2")
	ctx := context.Background()
	saveUnassignedLead(t, mem, "l-1", testClock)

	first, err := c.Allocate(ctx, "l-1")
	if err != nil {
		t.Fatalf("first Allocate failed: %v", err)
	}
	second, err := c.Allocate(ctx, "l-1")
	if err != nil {
		t.Fatalf("second Allocate failed: %v", err)
	}
	if first != second {
		t.Errorf("idempotent allocate changed assignee: %s then %s", first, second)
	}

	lead, err := mem.GetLead(ctx, "l-1")
	if err != nil {
		t.Fatalf("GetLead failed: %v", err)
	}
	if len(lead.History) != 1 {
		t.Errorf("expected history untouched, got %d records", len(lead.History))
	}
}

func TestCoordinatorAllocate_UnknownLead(t *testing.T) {
	_, c := seedCoordinator(t, "a-1")

	_, err := c.Allocate(context.Background(), "ghost")
	if !distribution.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestCoordinatorAllocate_LoadWindowExpires(t *testing.T) {
	// GIVEN: one agent capped at 1 lead per active window
	mem, c := seedCoordinator(t, "a-1")
	ctx := context.Background()
	if err := mem.SaveRule(ctx, distribution.Rule{
		ID: "r-cap", CompanyID: "co-1", Kind: distribution.RuleDailyCap,
		Rank: 1, Active: true, Params: distribution.RuleParams{MaxPerDay: 1},
	}); err != nil {
		t.Fatalf("SaveRule failed: %v", err)
	}
	saveUnassignedLead(t, mem, "l-1", testClock)
	saveUnassignedLead(t, mem, "l-2", testClock)

	if _, err := c.Allocate(ctx, "l-1"); err != nil {
		t.Fatalf("Allocate l-1 failed: %v", err)
	}

	// WHEN: the cap is hit, the next lead is unassignable
	_, err := c.Allocate(ctx, "l-2")
	if !errors.Is(err, distribution.ErrUnassignable) {
		t.Fatalf("expected unassignable at cap, got %v", err)
	}

	// THEN: after the window passes, the same agent is eligible again
	c.Now = func() time.Time { return testClock.Add(distribution.ActiveWindow + time.Hour) }
	agentID, err := c.Allocate(ctx, "l-2")
	if err != nil {
		t.Fatalf("Allocate after window failed: %v", err)
	}
	if agentID != "a-1" {
		t.Errorf("expected a-1 eligible again, got %s", agentID)
	}
}

// =============================================================================
// INGEST
// =============================================================================

func TestIngest_CreatesAndAllocates(t *testing.T) {
	_, c := seedCoordinator(t, "a-1")

	lead, err := c.Ingest(context.Background(), distribution.Lead{
		ID: "l-1", CompanyID: "co-1", Source: "website",
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if !lead.Assigned() || *lead.AssignedAgentID != "a-1" {
		t.Errorf("expected ingested lead assigned to a-1, got %v", lead.AssignedAgentID)
	}
	if !lead.CreatedAt.Equal(testClock) {
		t.Errorf("expected CreatedAt stamped with the clock, got %v", lead.CreatedAt)
	}
}

func TestIngest_DuplicateIsNoop(t *testing.T) {
	mem, c := seedCoordinator(t, "a-1", "a-2")
	ctx := context.Background()

	first, err := c.Ingest(ctx, distribution.Lead{ID: "l-1", CompanyID: "co-1"})
	if err != nil {
		t.Fatalf("first Ingest failed: %v", err)
	}
	second, err := c.Ingest(ctx, distribution.Lead{ID: "l-1", CompanyID: "co-1"})
	if err != nil {
		t.Fatalf("second Ingest failed: %v", err)
	}
	if *first.AssignedAgentID != *second.AssignedAgentID {
		t.Errorf("duplicate ingest changed assignee: %s then %s", *first.AssignedAgentID, *second.AssignedAgentID)
	}

	lead, err := mem.GetLead(ctx, "l-1")
	if err != nil {
		t.Fatalf("GetLead failed: %v", err)
	}
	if len(lead.History) != 1 {
		t.Errorf("expected single history record, got %d", len(lead.History))
	}
}

func TestIngest_UnassignableLeadIsKept(t *testing.T) {
	// No agents at all: the lead is created, reported unassigned, and
	// waits for a future redistribution.
	_, c := seedCoordinator(t)

	lead, err := c.Ingest(context.Background(), distribution.Lead{ID: "l-1", CompanyID: "co-1"})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if lead.Assigned() {
		t.Errorf("expected unassigned lead, got assignee %v", lead.AssignedAgentID)
	}
}

func TestIngest_UnknownCompany(t *testing.T) {
	_, c := seedCoordinator(t, "a-1")

	_, err := c.Ingest(context.Background(), distribution.Lead{ID: "l-1", CompanyID: "ghost"})
	if !distribution.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

// =============================================================================
// REDISTRIBUTION
// =============================================================================

func TestTriggerRedistribution_AssignsBacklog(t *testing.T) {
	mem, c := seedCoordinator(t, "a-1", "a-2")
	ctx := context.Background()
	for _, id := range []string{"l-1", "l-2", "l-3"} {
		saveUnassignedLead(t, mem, id, testClock)
	}

	report, err := c.TriggerRedistribution(ctx, "co-1", false)
	if err != nil {
		t.Fatalf("TriggerRedistribution failed: %v", err)
	}
	if report.RunID == "" {
		t.Error("expected a run id")
	}
	if report.Attempted != 3 || report.Assigned != 3 {
		t.Errorf("expected 3 attempted / 3 assigned, got %d / %d", report.Attempted, report.Assigned)
	}

	// Every commit carries the run id.
	for _, id := range []string{"l-1", "l-2", "l-3"} {
		lead, err := mem.GetLead(ctx, distribution.LeadID(id))
		if err != nil {
			t.Fatalf("GetLead %s failed: %v", id, err)
		}
		if !lead.Assigned() {
			t.Errorf("lead %s still unassigned after run", id)
		}
		if len(lead.History) != 1 || lead.History[0].RunID != report.RunID {
			t.Errorf("lead %s history missing run id: %+v", id, lead.History)
		}
	}
}

func TestTriggerRedistribution_CountsUnassignable(t *testing.T) {
	// One agent capped at 1: a 3-lead backlog places one lead and reports
	// the rest, committing the partial progress.
	mem, c := seedCoordinator(t, "a-1")
	ctx := context.Background()
	if err := mem.SaveRule(ctx, distribution.Rule{
		ID: "r-cap", CompanyID: "co-1", Kind: distribution.RuleDailyCap,
		Rank: 1, Active: true, Params: distribution.RuleParams{MaxPerDay: 1},
	}); err != nil {
		t.Fatalf("SaveRule failed: %v", err)
	}
	for _, id := range []string{"l-1", "l-2", "l-3"} {
		saveUnassignedLead(t, mem, id, testClock)
	}

	report, err := c.TriggerRedistribution(ctx, "co-1", false)
	if err != nil {
		t.Fatalf("TriggerRedistribution failed: %v", err)
	}
	if report.Assigned != 1 || report.Unassignable != 2 {
		t.Errorf("expected 1 assigned / 2 unassignable, got %d / %d", report.Assigned, report.Unassignable)
	}
}

func TestTriggerRedistribution_NoEligibleLeads(t *testing.T) {
	_, c := seedCoordinator(t, "a-1")

	_, err := c.TriggerRedistribution(context.Background(), "co-1", false)
	if !errors.Is(err, distribution.ErrNoEligibleLeads) {
		t.Fatalf("expected ErrNoEligibleLeads, got %v", err)
	}
}

func TestTriggerRedistribution_FullSkipsUnchanged(t *testing.T) {
	// Full rebalance over a stable org: every decision is unchanged, so
	// nothing is reassigned and no history is appended.
	mem, c := seedCoordinator(t, "a-1")
	ctx := context.Background()
	saveUnassignedLead(t, mem, "l-1", testClock)
	if _, err := c.Allocate(ctx, "l-1"); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	report, err := c.TriggerRedistribution(ctx, "co-1", true)
	if err != nil {
		t.Fatalf("TriggerRedistribution failed: %v", err)
	}
	if report.Attempted != 1 || report.Skipped != 1 || report.Assigned != 0 {
		t.Errorf("expected 1 attempted / 1 skipped, got %+v", report)
	}

	lead, err := mem.GetLead(ctx, "l-1")
	if err != nil {
		t.Fatalf("GetLead failed: %v", err)
	}
	if len(lead.History) != 1 {
		t.Errorf("skip must not append history, got %d records", len(lead.History))
	}
}

// blockingStore parks the first ListUnassigned call until released, holding
// a redistribution run in flight.
type blockingStore struct {
	distribution.Store
	entered chan struct{}
	release chan struct{}
	once    bool
}

func (b *blockingStore) ListUnassigned(ctx context.Context, id distribution.CompanyID) ([]distribution.Lead, error) {
	if !b.once {
		b.once = true
		close(b.entered)
		<-b.release
	}
	return b.Store.ListUnassigned(ctx, id)
}

func TestTriggerRedistribution_RejectsConcurrentRun(t *testing.T) {
	mem, _ := seedCoordinator(t, "a-1")
	saveUnassignedLead(t, mem, "l-1", testClock)

	bs := &blockingStore{
		Store:   mem,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	c := distribution.NewCoordinator(bs, quietLogger())
	c.Now = func() time.Time { return testClock }
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := c.TriggerRedistribution(ctx, "co-1", false)
		done <- err
	}()

	<-bs.entered // first run is in flight

	_, err := c.TriggerRedistribution(ctx, "co-1", false)
	if !errors.Is(err, distribution.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	close(bs.release)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// The in-flight flag is cleared once the run finishes.
	if _, err := c.TriggerRedistribution(ctx, "co-1", false); !errors.Is(err, distribution.ErrNoEligibleLeads) {
		t.Fatalf("expected a fresh run to start (and find nothing), got %v", err)
	}
}

// =============================================================================
// RULE TOGGLING
// =============================================================================

func TestToggleRule_TakesEffectNextEvaluation(t *testing.T) {
	// GIVEN: a committed assignment under an active cap
	mem, c := seedCoordinator(t, "a-1")
	ctx := context.Background()
	if err := mem.SaveRule(ctx, distribution.Rule{
		ID: "r-cap", CompanyID: "co-1", Kind: distribution.RuleDailyCap,
		Rank: 1, Active: true, Params: distribution.RuleParams{MaxPerDay: 1},
	}); err != nil {
		t.Fatalf("SaveRule failed: %v", err)
	}
	saveUnassignedLead(t, mem, "l-1", testClock)
	saveUnassignedLead(t, mem, "l-2", testClock)
	if _, err := c.Allocate(ctx, "l-1"); err != nil {
		t.Fatalf("Allocate l-1 failed: %v", err)
	}
	if _, err := c.Allocate(ctx, "l-2"); !errors.Is(err, distribution.ErrUnassignable) {
		t.Fatalf("expected cap to veto, got %v", err)
	}

	// WHEN: the cap is toggled off
	if err := c.ToggleRule(ctx, "r-cap", false); err != nil {
		t.Fatalf("ToggleRule failed: %v", err)
	}

	// THEN: the next evaluation ignores it; the past assignment stands
	if _, err := c.Allocate(ctx, "l-2"); err != nil {
		t.Fatalf("Allocate after toggle failed: %v", err)
	}
	l1, err := mem.GetLead(ctx, "l-1")
	if err != nil {
		t.Fatalf("GetLead failed: %v", err)
	}
	if len(l1.History) != 1 {
		t.Errorf("toggle must not revisit past assignments, l-1 history has %d records", len(l1.History))
	}
}

func TestToggleRule_SameValueIsNoop(t *testing.T) {
	mem, c := seedCoordinator(t)
	ctx := context.Background()
	if err := mem.SaveRule(ctx, distribution.Rule{
		ID: "r-1", CompanyID: "co-1", Kind: distribution.RuleRoundRobin, Active: true,
	}); err != nil {
		t.Fatalf("SaveRule failed: %v", err)
	}

	if err := c.ToggleRule(ctx, "r-1", true); err != nil {
		t.Fatalf("same-value toggle should succeed, got %v", err)
	}
}

func TestToggleRule_UnknownRule(t *testing.T) {
	_, c := seedCoordinator(t)

	err := c.ToggleRule(context.Background(), "ghost", true)
	if !distribution.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

// =============================================================================
// STATS
// =============================================================================

func TestStats_Saturation(t *testing.T) {
	mem, c := seedCoordinator(t, "a-1")
	ctx := context.Background()
	for _, id := range []string{"l-1", "l-2"} {
		saveUnassignedLead(t, mem, id, testClock)
		if _, err := c.Allocate(ctx, distribution.LeadID(id)); err != nil {
			t.Fatalf("Allocate %s failed: %v", id, err)
		}
	}
	// One stale unassigned lead outside the active window.
	saveUnassignedLead(t, mem, "l-old", testClock.Add(-2*distribution.ActiveWindow))

	stats, err := c.Stats(ctx, "co-1")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.AssignedCount != 2 || stats.UnassignedCount != 1 {
		t.Errorf("expected 2 assigned / 1 unassigned, got %d / %d", stats.AssignedCount, stats.UnassignedCount)
	}
	if stats.ActiveFlow24h != 2 {
		t.Errorf("expected 2 leads in the active window, got %d", stats.ActiveFlow24h)
	}
	want := decimal.RequireFromString("66.7")
	if !stats.SaturationPercent.Equal(want) {
		t.Errorf("expected saturation 66.7, got %s", stats.SaturationPercent)
	}
}

func TestStats_EmptyCompany(t *testing.T) {
	_, c := seedCoordinator(t)

	stats, err := c.Stats(context.Background(), "co-1")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if !stats.SaturationPercent.IsZero() {
		t.Errorf("expected zero saturation with no leads, got %s", stats.SaturationPercent)
	}
}
