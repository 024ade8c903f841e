package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rewired-gh/soulwatch/internal/models"
)

// tenantStore is the registry/notifier persistence surface both stores implement.
type tenantStore interface {
	LoadTenants(ctx context.Context) ([]models.Tenant, error)
	SaveTenants(ctx context.Context, tenants []models.Tenant) error
	LoadChangelogState(ctx context.Context) (models.ChangelogState, error)
	SaveChangelogState(ctx context.Context, state models.ChangelogState) error
}

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	f, err := NewFileStore(filepath.Join(t.TempDir(), "data", "tracking.yaml"))
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}
	return f
}

func sampleTenants() []models.Tenant {
	price := 4200.0
	return []models.Tenant{
		{ID: "guild-b", Users: []string{"30", "10", "20"}},
		{ID: "guild-a", Users: []string{"1"}, Items: []models.TrackedItem{
			{ID: 1028606, LastKnownPrice: &price},
			{ID: 20573078},
		}},
		{ID: "guild-empty"},
	}
}

func checkRoundTrip(t *testing.T, s tenantStore) {
	t.Helper()
	ctx := context.Background()

	empty, err := s.LoadTenants(ctx)
	if err != nil {
		t.Fatalf("LoadTenants on empty store: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("empty store returned %d tenants", len(empty))
	}

	if err := s.SaveTenants(ctx, sampleTenants()); err != nil {
		t.Fatalf("SaveTenants: %v", err)
	}
	got, err := s.LoadTenants(ctx)
	if err != nil {
		t.Fatalf("LoadTenants: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d tenants, want 3", len(got))
	}
	if got[0].ID != "guild-b" || got[1].ID != "guild-a" || got[2].ID != "guild-empty" {
		t.Errorf("tenant order not preserved: %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}
	if u := got[0].Users; len(u) != 3 || u[0] != "30" || u[1] != "10" || u[2] != "20" {
		t.Errorf("user order not preserved: %v", u)
	}
	items := got[1].Items
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].LastKnownPrice == nil || *items[0].LastKnownPrice != 4200 {
		t.Errorf("price not preserved: %v", items[0].LastKnownPrice)
	}
	if items[1].LastKnownPrice != nil {
		t.Errorf("absent price should stay nil, got %v", *items[1].LastKnownPrice)
	}

	// Full rewrite drops tenants missing from the new list.
	if err := s.SaveTenants(ctx, got[:1]); err != nil {
		t.Fatalf("SaveTenants: %v", err)
	}
	got, _ = s.LoadTenants(ctx)
	if len(got) != 1 || got[0].ID != "guild-b" {
		t.Errorf("after rewrite got %+v", got)
	}
}

func checkChangelogState(t *testing.T, s tenantStore) {
	t.Helper()
	ctx := context.Background()

	state, err := s.LoadChangelogState(ctx)
	if err != nil {
		t.Fatalf("LoadChangelogState: %v", err)
	}
	if state.LastSentVersion != "" {
		t.Errorf("initial version = %q, want empty", state.LastSentVersion)
	}

	sentAt := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	for _, v := range []string{"[1.2.0] - 2026-09-30", "[1.3.0] - 2026-10-01"} {
		if err := s.SaveChangelogState(ctx, models.ChangelogState{LastSentVersion: v, SentAt: sentAt}); err != nil {
			t.Fatalf("SaveChangelogState: %v", err)
		}
	}
	state, err = s.LoadChangelogState(ctx)
	if err != nil {
		t.Fatalf("LoadChangelogState: %v", err)
	}
	if state.LastSentVersion != "[1.3.0] - 2026-10-01" {
		t.Errorf("version = %q", state.LastSentVersion)
	}
	if !state.SentAt.Equal(sentAt) {
		t.Errorf("sent at = %v, want %v", state.SentAt, sentAt)
	}
}

func TestStorage_TenantsRoundTrip(t *testing.T) {
	checkRoundTrip(t, newTestStorage(t))
}

func TestStorage_ChangelogState(t *testing.T) {
	checkChangelogState(t, newTestStorage(t))
}

func TestFileStore_TenantsRoundTrip(t *testing.T) {
	checkRoundTrip(t, newTestFileStore(t))
}

func TestFileStore_ChangelogState(t *testing.T) {
	checkChangelogState(t, newTestFileStore(t))
}

func TestFileStore_SectionsAreIndependent(t *testing.T) {
	f := newTestFileStore(t)
	ctx := context.Background()

	if err := f.SaveChangelogState(ctx, models.ChangelogState{LastSentVersion: "v1"}); err != nil {
		t.Fatal(err)
	}
	if err := f.SaveTenants(ctx, sampleTenants()); err != nil {
		t.Fatal(err)
	}
	state, _ := f.LoadChangelogState(ctx)
	if state.LastSentVersion != "v1" {
		t.Errorf("saving tenants clobbered changelog state: %+v", state)
	}
}

func TestSaveItemPrice_UpdatesSingleRow(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	if err := s.SaveTenants(ctx, sampleTenants()); err != nil {
		t.Fatalf("SaveTenants: %v", err)
	}

	if err := s.SaveItemPrice(ctx, "guild-a", 20573078, 15); err != nil {
		t.Fatalf("SaveItemPrice: %v", err)
	}
	got, err := s.LoadTenants(ctx)
	if err != nil {
		t.Fatalf("LoadTenants: %v", err)
	}
	items := got[1].Items
	if items[1].LastKnownPrice == nil || *items[1].LastKnownPrice != 15 {
		t.Errorf("updated price = %v, want 15", items[1].LastKnownPrice)
	}
	if items[0].LastKnownPrice == nil || *items[0].LastKnownPrice != 4200 {
		t.Errorf("other item price changed: %v", items[0].LastKnownPrice)
	}
	if len(got[0].Users) != 3 {
		t.Errorf("other tenant changed: %+v", got[0])
	}

	if err := s.SaveItemPrice(ctx, "guild-b", 20573078, 1); err == nil {
		t.Error("expected error for an item the tenant does not track")
	}
}
