package distribution_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/warp/lead-engine/distribution"
	"github.com/warp/lead-engine/distribution/store"
)

func seedPool(t *testing.T, numberIDs ...string) (*store.Memory, *distribution.Pool) {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()

	if err := mem.SaveCompany(ctx, distribution.Company{ID: "co-1", Name: "Acme"}); err != nil {
		t.Fatalf("SaveCompany failed: %v", err)
	}
	if err := mem.SaveUser(ctx, distribution.User{
		ID: "u-1", CompanyID: "co-1", Role: distribution.RoleAgent,
	}); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}
	for i, id := range numberIDs {
		n := distribution.PhoneNumber{
			ID:     distribution.NumberID(id),
			E164:   "+1555000000" + string(rune('0'+i)),
			Status: distribution.NumberAvailable,
		}
		if err := mem.SaveNumber(ctx, n); err != nil {
			t.Fatalf("SaveNumber %s failed: %v", id, err)
		}
	}
	return mem, distribution.NewPool(mem, mem)
}

func TestPoolAssign_SetsHolderAndCompany(t *testing.T) {
	_, pool := seedPool(t, "n-1")
	ctx := context.Background()

	if err := pool.Assign(ctx, "n-1", "u-1"); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	n, err := pool.Get(ctx, "n-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if n.Status != distribution.NumberAssigned {
		t.Errorf("expected assigned status, got %s", n.Status)
	}
	if n.AssignedTo == nil || *n.AssignedTo != "u-1" {
		t.Errorf("expected holder u-1, got %v", n.AssignedTo)
	}
	// Company inferred from the holder, not supplied by the caller.
	if n.CompanyID == nil || *n.CompanyID != "co-1" {
		t.Errorf("expected company co-1, got %v", n.CompanyID)
	}
}

func TestPoolAssign_ConflictCarriesHolder(t *testing.T) {
	_, pool := seedPool(t, "n-1")
	ctx := context.Background()

	if err := pool.Assign(ctx, "n-1", "u-1"); err != nil {
		t.Fatalf("first Assign failed: %v", err)
	}

	err := pool.Assign(ctx, "n-1", "u-1")
	var aae *distribution.AlreadyAssignedError
	if !errors.As(err, &aae) {
		t.Fatalf("expected *AlreadyAssignedError, got %v", err)
	}
	if aae.HolderID != "u-1" {
		t.Errorf("expected holder u-1 in error, got %s", aae.HolderID)
	}
	if !distribution.IsConflict(err) {
		t.Error("expected conflict classification")
	}
}

func TestPoolAssign_UnknownNumber(t *testing.T) {
	_, pool := seedPool(t)

	err := pool.Assign(context.Background(), "ghost", "u-1")
	if !distribution.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestPoolAssign_UnknownUser(t *testing.T) {
	_, pool := seedPool(t, "n-1")
	ctx := context.Background()

	err := pool.Assign(ctx, "n-1", "ghost")
	if !distribution.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}

	// The failed assignment must not leave the number half-taken.
	n, err := pool.Get(ctx, "n-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if n.Status != distribution.NumberAvailable {
		t.Errorf("expected number still available, got %s", n.Status)
	}
}

func TestPoolUnassign_Releases(t *testing.T) {
	_, pool := seedPool(t, "n-1")
	ctx := context.Background()

	if err := pool.Assign(ctx, "n-1", "u-1"); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if err := pool.Unassign(ctx, "n-1"); err != nil {
		t.Fatalf("Unassign failed: %v", err)
	}

	n, err := pool.Get(ctx, "n-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if n.Status != distribution.NumberAvailable || n.AssignedTo != nil {
		t.Errorf("expected released number, got status=%s holder=%v", n.Status, n.AssignedTo)
	}

	// Released numbers can be taken again.
	if err := pool.Assign(ctx, "n-1", "u-1"); err != nil {
		t.Fatalf("re-Assign after release failed: %v", err)
	}
}

func TestPoolUnassign_AvailableNumber(t *testing.T) {
	_, pool := seedPool(t, "n-1")

	err := pool.Unassign(context.Background(), "n-1")
	if !errors.Is(err, distribution.ErrNotAssigned) {
		t.Fatalf("expected ErrNotAssigned, got %v", err)
	}
}

func TestPoolList_ByStatus(t *testing.T) {
	_, pool := seedPool(t, "n-1", "n-2", "n-3")
	ctx := context.Background()

	if err := pool.Assign(ctx, "n-2", "u-1"); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	available, err := pool.ListAvailable(ctx)
	if err != nil {
		t.Fatalf("ListAvailable failed: %v", err)
	}
	if len(available) != 2 {
		t.Errorf("expected 2 available, got %d", len(available))
	}

	assigned, err := pool.ListAssigned(ctx)
	if err != nil {
		t.Fatalf("ListAssigned failed: %v", err)
	}
	if len(assigned) != 1 || assigned[0].ID != "n-2" {
		t.Errorf("expected assigned [n-2], got %v", assigned)
	}
}

func TestPoolAssign_ConcurrentExactlyOneWins(t *testing.T) {
	// N racing assigns on one number: exactly one succeeds, the rest see
	// the already-assigned conflict.
	_, pool := seedPool(t, "n-1")
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = pool.Assign(ctx, "n-1", "u-1")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, distribution.ErrAlreadyAssigned):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", wins)
	}
}
