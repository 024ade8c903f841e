package tracking

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/soulwatch/internal/apperr"
	"github.com/rewired-gh/soulwatch/internal/cache"
	"github.com/rewired-gh/soulwatch/internal/models"
	"github.com/rewired-gh/soulwatch/internal/registry"
)

type memStore struct{ tenants []models.Tenant }

func (s *memStore) LoadTenants(context.Context) ([]models.Tenant, error) { return s.tenants, nil }
func (s *memStore) SaveTenants(_ context.Context, t []models.Tenant) error {
	s.tenants = t
	return nil
}

type fakeResolver struct {
	names map[string]string
}

func (f *fakeResolver) Resolve(_ context.Context, identifier string) (string, error) {
	if models.IsNumericID(identifier) {
		return identifier, nil
	}
	if id, ok := f.names[identifier]; ok {
		return id, nil
	}
	return "", apperr.New(apperr.KindNotFound, "resolve", "no user named "+identifier)
}

func (f *fakeResolver) Details(_ context.Context, userID string) models.UserDetails {
	return models.DefaultUserDetails(userID)
}

type fakeCatalog struct {
	resale map[int64]models.ResaleData
	err    error
}

func (f *fakeCatalog) ResaleData(_ context.Context, itemID int64) (models.ResaleData, error) {
	if f.err != nil {
		return models.ResaleData{}, f.err
	}
	r, ok := f.resale[itemID]
	if !ok {
		return models.ResaleData{}, apperr.New(apperr.KindNotFound, "resale data", "status 404")
	}
	return r, nil
}

func (f *fakeCatalog) ItemDetails(_ context.Context, itemID int64) (models.ItemDetails, error) {
	if itemID == 1028606 {
		return models.ItemDetails{ItemID: itemID, Name: "Red Baseball Cap", CreatorName: "Roblox"}, nil
	}
	return models.ItemDetails{}, errors.New("catalog down")
}

type fixture struct {
	svc     *Service
	reg     *registry.Registry
	cache   *cache.Memory
	catalog *fakeCatalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := registry.Load(context.Background(), &memStore{})
	require.NoError(t, err)
	c := cache.NewMemory()
	cat := &fakeCatalog{resale: map[int64]models.ResaleData{
		1028606:  {AveragePrice: 1520, HasAveragePrice: true, HasPriceHistory: true},
		20573078: {AveragePrice: 5, HasAveragePrice: true},
	}}
	res := &fakeResolver{names: map[string]string{"builderman": "156"}}
	return &fixture{svc: NewService(reg, res, cat, c), reg: reg, cache: c, catalog: cat}
}

func TestTrackUsers_IndependentResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	results := f.svc.TrackUsers(ctx, "guild", []string{"builderman", "ghost", "42", "156"})
	require.Len(t, results, 4)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, "156", results[0].UserID)
	assert.ErrorIs(t, results[1].Err, apperr.ErrNotFound)
	assert.NoError(t, results[2].Err)
	assert.ErrorIs(t, results[3].Err, apperr.ErrAlreadyTracked)

	tenant, ok := f.reg.Tenant("guild")
	require.True(t, ok)
	assert.Equal(t, []string{"156", "42"}, tenant.Users)
}

func TestTrackUser_DoesNotSeedCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.TrackUser(ctx, "guild", "7")
	require.NoError(t, err)

	_, ok, err := f.cache.Get(ctx, "guild", "7")
	require.NoError(t, err)
	assert.False(t, ok, "a newly tracked user must have no cached status")
}

func TestUntrackUser_DropsCachedPresence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.TrackUser(ctx, "guild", "builderman")
	require.NoError(t, err)
	require.NoError(t, f.cache.Set(ctx, "guild", "156", models.StatusInGame))

	id, err := f.svc.UntrackUser(ctx, "guild", "builderman")
	require.NoError(t, err)
	assert.Equal(t, "156", id)

	_, ok, _ := f.cache.Get(ctx, "guild", "156")
	assert.False(t, ok)

	_, err = f.svc.UntrackUser(ctx, "guild", "156")
	assert.ErrorIs(t, err, apperr.ErrNotTracked)
}

func TestTrackItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.svc.TrackItem(ctx, "guild", 1028606)
	require.NoError(t, err)
	require.NotNil(t, item.LastKnownPrice)
	assert.Equal(t, 1520.0, *item.LastKnownPrice)

	tenant, _ := f.reg.Tenant("guild")
	require.Len(t, tenant.Items, 1)
	assert.Equal(t, 1520.0, *tenant.Items[0].LastKnownPrice, "baseline must be seeded at track time")

	_, err = f.svc.TrackItem(ctx, "guild", 1028606)
	assert.ErrorIs(t, err, apperr.ErrAlreadyTracked)
}

func TestTrackItem_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		itemID  int64
		fetch   error
		wantErr error
	}{
		{"not limited", 20573078, nil, apperr.ErrValidation},
		{"missing item", 1, nil, apperr.ErrValidation},
		{"invalid id", 0, nil, apperr.ErrValidation},
		{"fetch failure", 1028606, apperr.Transient("resale data", errors.New("502")), apperr.ErrTransientFetch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.catalog.err = tt.fetch
			_, err := f.svc.TrackItem(context.Background(), "guild", tt.itemID)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, f.reg.HasItem("guild", tt.itemID))
		})
	}
}

func TestUntrackItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.TrackItem(ctx, "guild", 1028606)
	require.NoError(t, err)
	require.NoError(t, f.svc.UntrackItem(ctx, "guild", 1028606))
	assert.ErrorIs(t, f.svc.UntrackItem(ctx, "guild", 1028606), apperr.ErrNotTracked)
}

func TestListings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Empty(t, f.svc.TrackedUsers(ctx, "guild"))
	assert.Empty(t, f.svc.TrackedItems(ctx, "guild"))

	f.svc.TrackUsers(ctx, "guild", []string{"1", "2"})
	_, err := f.svc.TrackItem(ctx, "guild", 1028606)
	require.NoError(t, err)

	users := f.svc.TrackedUsers(ctx, "guild")
	require.Len(t, users, 2)
	assert.Equal(t, models.DefaultUsername, users[0].Username)

	items := f.svc.TrackedItems(ctx, "guild")
	require.Len(t, items, 1)
	assert.Equal(t, "Red Baseball Cap", items[0].Details.Name)
}
