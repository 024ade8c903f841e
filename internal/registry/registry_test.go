package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/rewired-gh/soulwatch/internal/apperr"
	"github.com/rewired-gh/soulwatch/internal/models"
)

type memStore struct {
	tenants []models.Tenant
	saves   int
	failErr error
}

func (s *memStore) LoadTenants(context.Context) ([]models.Tenant, error) {
	return s.tenants, nil
}

func (s *memStore) SaveTenants(_ context.Context, tenants []models.Tenant) error {
	if s.failErr != nil {
		return s.failErr
	}
	s.saves++
	s.tenants = tenants
	return nil
}

func newTestRegistry(t *testing.T, seed ...models.Tenant) (*Registry, *memStore) {
	t.Helper()
	store := &memStore{tenants: seed}
	r, err := Load(context.Background(), store)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return r, store
}

func TestLoad_SkipsInvalidTenants(t *testing.T) {
	r, _ := newTestRegistry(t,
		models.Tenant{ID: "a", Users: []string{"1"}},
		models.Tenant{ID: "", Users: []string{"2"}},
		models.Tenant{ID: "b", Users: []string{"x"}},
	)
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestAddUser_CreatesTenantAndPersists(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()

	if err := r.AddUser(ctx, "guild", "1"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := r.AddUser(ctx, "guild", "2"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if store.saves != 2 {
		t.Errorf("saves = %d, want one per mutation", store.saves)
	}
	got, ok := r.Tenant("guild")
	if !ok || len(got.Users) != 2 || got.Users[0] != "1" || got.Users[1] != "2" {
		t.Errorf("tenant = %+v", got)
	}
	if len(store.tenants) != 1 || len(store.tenants[0].Users) != 2 {
		t.Errorf("persisted = %+v", store.tenants)
	}
}

func TestAddUser_RejectsDuplicate(t *testing.T) {
	r, store := newTestRegistry(t, models.Tenant{ID: "guild", Users: []string{"1"}})
	err := r.AddUser(context.Background(), "guild", "1")
	if !errors.Is(err, apperr.ErrAlreadyTracked) {
		t.Errorf("err = %v, want already tracked", err)
	}
	if store.saves != 0 {
		t.Error("rejected mutation should not persist")
	}
}

func TestRemoveUser(t *testing.T) {
	r, _ := newTestRegistry(t, models.Tenant{ID: "guild", Users: []string{"1", "2", "3"}})
	ctx := context.Background()

	if err := r.RemoveUser(ctx, "guild", "2", nil); err != nil {
		t.Fatalf("RemoveUser: %v", err)
	}
	got, _ := r.Tenant("guild")
	if len(got.Users) != 2 || got.Users[0] != "1" || got.Users[1] != "3" {
		t.Errorf("users = %v", got.Users)
	}
	if err := r.RemoveUser(ctx, "guild", "2", nil); !errors.Is(err, apperr.ErrNotTracked) {
		t.Errorf("second remove err = %v, want not tracked", err)
	}
	if err := r.RemoveUser(ctx, "unknown", "1", nil); !errors.Is(err, apperr.ErrNotTracked) {
		t.Errorf("unknown tenant err = %v, want not tracked", err)
	}
}

func TestMutation_RollsBackOnPersistFailure(t *testing.T) {
	r, store := newTestRegistry(t, models.Tenant{ID: "guild", Users: []string{"1"}})
	store.failErr = errors.New("disk full")
	ctx := context.Background()

	if err := r.AddUser(ctx, "guild", "2"); err == nil {
		t.Fatal("expected persist error")
	}
	if err := r.AddUser(ctx, "new-guild", "3"); err == nil {
		t.Fatal("expected persist error")
	}
	got, _ := r.Tenant("guild")
	if len(got.Users) != 1 {
		t.Errorf("users after failed persist = %v", got.Users)
	}
	if _, ok := r.Tenant("new-guild"); ok {
		t.Error("tenant created despite persist failure")
	}
}

func TestItems(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := r.AddItem(ctx, "guild", 1028606, 150); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if !r.HasItem("guild", 1028606) {
		t.Error("HasItem = false after AddItem")
	}
	if err := r.AddItem(ctx, "guild", 1028606, 150); !errors.Is(err, apperr.ErrAlreadyTracked) {
		t.Errorf("duplicate AddItem err = %v", err)
	}
	if err := r.SetItemPrice(ctx, "guild", 1028606, 175); err != nil {
		t.Fatalf("SetItemPrice: %v", err)
	}
	got, _ := r.Tenant("guild")
	if p := got.Items[0].LastKnownPrice; p == nil || *p != 175 {
		t.Errorf("price = %v, want 175", p)
	}
	if err := r.RemoveItem(ctx, "guild", 1028606); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if err := r.SetItemPrice(ctx, "guild", 1028606, 1); !errors.Is(err, apperr.ErrNotTracked) {
		t.Errorf("SetItemPrice on removed item err = %v", err)
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	r, _ := newTestRegistry(t, models.Tenant{ID: "guild", Users: []string{"1"}})
	snap := r.Snapshot()
	snap[0].Users[0] = "999"
	got, _ := r.Tenant("guild")
	if got.Users[0] != "1" {
		t.Error("snapshot mutation leaked into registry")
	}
}

func TestRemoveTenants_PurgesAndPersists(t *testing.T) {
	r, store := newTestRegistry(t,
		models.Tenant{ID: "a", Users: []string{"1"}},
		models.Tenant{ID: "b", Users: []string{"2"}},
		models.Tenant{ID: "c", Users: []string{"3"}},
	)
	var purged []string
	removed, err := r.RemoveTenants(context.Background(), []string{"a", "c", "missing"}, func(_ context.Context, id string) error {
		purged = append(purged, id)
		return nil
	})
	if err != nil {
		t.Fatalf("RemoveTenants: %v", err)
	}
	if len(removed) != 2 || len(purged) != 2 {
		t.Errorf("removed = %v, purged = %v", removed, purged)
	}
	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].ID != "b" {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(store.tenants) != 1 {
		t.Errorf("persisted tenants = %d, want 1", len(store.tenants))
	}
}

func TestRemoveTenants_KeepsTenantWhenPurgeFails(t *testing.T) {
	r, _ := newTestRegistry(t, models.Tenant{ID: "a", Users: []string{"1"}})
	removed, err := r.RemoveTenants(context.Background(), []string{"a"}, func(context.Context, string) error {
		return errors.New("redis down")
	})
	if err == nil {
		t.Error("expected purge error")
	}
	if len(removed) != 0 {
		t.Errorf("removed = %v", removed)
	}
	if _, ok := r.Tenant("a"); !ok {
		t.Error("tenant removed although its cache purge failed")
	}
}

func TestRemoveUser_PurgesAfterPersist(t *testing.T) {
	r, store := newTestRegistry(t, models.Tenant{ID: "guild", Users: []string{"1", "2"}})
	ctx := context.Background()

	var purged []string
	purge := func(_ context.Context, tenantID, userID string) error {
		if store.saves != 1 {
			t.Errorf("purge ran before the removal was persisted (saves=%d)", store.saves)
		}
		purged = append(purged, tenantID+"/"+userID)
		return nil
	}
	if err := r.RemoveUser(ctx, "guild", "2", purge); err != nil {
		t.Fatalf("RemoveUser: %v", err)
	}
	if len(purged) != 1 || purged[0] != "guild/2" {
		t.Errorf("purged = %v", purged)
	}

	if err := r.RemoveUser(ctx, "guild", "2", purge); !errors.Is(err, apperr.ErrNotTracked) {
		t.Errorf("err = %v, want not tracked", err)
	}
	if len(purged) != 1 {
		t.Error("purge ran for a user that was not tracked")
	}
}

func TestRemoveUser_NoPurgeWhenPersistFails(t *testing.T) {
	r, store := newTestRegistry(t, models.Tenant{ID: "guild", Users: []string{"1"}})
	store.failErr = errors.New("disk full")

	called := false
	err := r.RemoveUser(context.Background(), "guild", "1", func(context.Context, string, string) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("expected persist error")
	}
	if called {
		t.Error("cache purged although the user is still tracked")
	}
}

func TestCommitUser(t *testing.T) {
	r, _ := newTestRegistry(t, models.Tenant{ID: "guild", Users: []string{"1"}})

	calls := 0
	commit := func() error {
		calls++
		return nil
	}
	if err := r.CommitUser("guild", "1", commit); err != nil {
		t.Fatalf("CommitUser: %v", err)
	}
	if err := r.CommitUser("guild", "2", commit); !errors.Is(err, apperr.ErrNotTracked) {
		t.Errorf("untracked user err = %v", err)
	}
	if err := r.CommitUser("other", "1", commit); !errors.Is(err, apperr.ErrNotTracked) {
		t.Errorf("unknown tenant err = %v", err)
	}
	if calls != 1 {
		t.Errorf("commit ran %d times, want 1", calls)
	}

	want := errors.New("cache down")
	if err := r.CommitUser("guild", "1", func() error { return want }); !errors.Is(err, want) {
		t.Errorf("err = %v, want commit error", err)
	}
}

type priceStore struct {
	memStore
	prices  map[int64]float64
	failErr error
}

func (s *priceStore) SaveItemPrice(_ context.Context, _ string, itemID int64, price float64) error {
	if s.failErr != nil {
		return s.failErr
	}
	s.prices[itemID] = price
	return nil
}

func TestSetItemPrice_UsesItemPriceStore(t *testing.T) {
	base := 100.0
	store := &priceStore{
		memStore: memStore{tenants: []models.Tenant{{ID: "guild", Items: []models.TrackedItem{{ID: 7, LastKnownPrice: &base}}}}},
		prices:   map[int64]float64{},
	}
	r, err := Load(context.Background(), store)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ctx := context.Background()

	if err := r.SetItemPrice(ctx, "guild", 7, 120); err != nil {
		t.Fatalf("SetItemPrice: %v", err)
	}
	if store.saves != 0 {
		t.Errorf("full rewrites = %d, want 0", store.saves)
	}
	if store.prices[7] != 120 {
		t.Errorf("stored price = %v", store.prices[7])
	}

	store.failErr = errors.New("disk full")
	if err := r.SetItemPrice(ctx, "guild", 7, 130); err == nil {
		t.Fatal("expected persist error")
	}
	got, _ := r.Tenant("guild")
	if p := got.Items[0].LastKnownPrice; p == nil || *p != 120 {
		t.Errorf("price after failed persist = %v, want 120", p)
	}
}
