package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/soulwatch/internal/apperr"
	"github.com/rewired-gh/soulwatch/internal/models"
	"github.com/rewired-gh/soulwatch/internal/registry"
)

type fakeEconomy struct {
	mu         sync.Mutex
	prices     map[int64]float64
	errs       map[int64]error
	catalogErr error
}

func (f *fakeEconomy) ResaleData(_ context.Context, itemID int64) (models.ResaleData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[itemID]; err != nil {
		return models.ResaleData{}, err
	}
	p, ok := f.prices[itemID]
	return models.ResaleData{AveragePrice: p, HasAveragePrice: ok, HasPriceHistory: ok}, nil
}

func (f *fakeEconomy) ItemDetails(_ context.Context, itemID int64) (models.ItemDetails, error) {
	if f.catalogErr != nil {
		return models.ItemDetails{}, f.catalogErr
	}
	return models.ItemDetails{ItemID: itemID, Name: "Dominus Empyreus", CreatorName: "Roblox"}, nil
}

type priceFixture struct {
	poller  *Poller[int64, float64]
	reg     *registry.Registry
	economy *fakeEconomy
	dir     *fakeDirectory
	sink    *recordingSink
}

func newPriceFixture(t *testing.T, tenants ...models.Tenant) *priceFixture {
	t.Helper()
	reg, err := registry.Load(context.Background(), &memStore{tenants: tenants})
	require.NoError(t, err)
	f := &priceFixture{
		reg:     reg,
		economy: &fakeEconomy{prices: map[int64]float64{}, errs: map[int64]error{}},
		dir:     &fakeDirectory{unreachable: map[string]bool{}, flaky: map[string]bool{}, noDest: map[string]bool{}},
		sink:    &recordingSink{},
	}
	f.poller = NewPoller[int64, float64](Config{Interval: time.Hour}, reg, f.dir, NewPriceSource(f.economy, reg), f.sink)
	return f
}

func (f *priceFixture) tick(t *testing.T) TickReport {
	t.Helper()
	report, err := f.poller.Tick(context.Background())
	require.NoError(t, err)
	return report
}

func (f *priceFixture) lastKnown(t *testing.T, tenantID string, itemID int64) *float64 {
	t.Helper()
	tenant, ok := f.reg.Tenant(tenantID)
	require.True(t, ok)
	for _, it := range tenant.Items {
		if it.ID == itemID {
			return it.LastKnownPrice
		}
	}
	t.Fatalf("item %d not tracked by %s", itemID, tenantID)
	return nil
}

func TestPrice_SeededAtTrackDoesNotNotify(t *testing.T) {
	f := newPriceFixture(t)
	require.NoError(t, f.reg.AddItem(context.Background(), "guild", 1028606, 1500))
	f.economy.prices[1028606] = 1500

	report := f.tick(t)

	assert.Empty(t, f.sink.all())
	assert.Equal(t, 1, report.Count(OutcomeUnchanged))
}

func TestPrice_ChangeNotifiesOnceAndMovesBaseline(t *testing.T) {
	f := newPriceFixture(t)
	require.NoError(t, f.reg.AddItem(context.Background(), "guild", 1028606, 1500))
	f.economy.prices[1028606] = 1720

	f.tick(t)
	f.tick(t)

	events := f.sink.all()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, models.TransitionPrice, ev.Kind)
	assert.Equal(t, models.ChannelItems, ev.Channel())
	assert.Equal(t, "1028606", ev.EntityID)
	require.NotNil(t, ev.Price.OldPrice)
	assert.Equal(t, 1500.0, *ev.Price.OldPrice)
	assert.Equal(t, 1720.0, ev.Price.NewPrice)
	assert.Equal(t, 220.0, ev.Price.Delta())
	assert.Equal(t, "Dominus Empyreus", ev.Price.Details.Name)

	p := f.lastKnown(t, "guild", 1028606)
	require.NotNil(t, p)
	assert.Equal(t, 1720.0, *p)
}

func TestPrice_MissingBaselineIsSeededSilently(t *testing.T) {
	f := newPriceFixture(t, models.Tenant{ID: "guild", Items: []models.TrackedItem{{ID: 7}}})
	f.economy.prices[7] = 42

	report := f.tick(t)

	assert.Empty(t, f.sink.all())
	assert.Equal(t, 1, report.Count(OutcomeSeeded))
	p := f.lastKnown(t, "guild", 7)
	require.NotNil(t, p)
	assert.Equal(t, 42.0, *p)
}

func TestPrice_CatalogFailureKeepsTransition(t *testing.T) {
	f := newPriceFixture(t)
	require.NoError(t, f.reg.AddItem(context.Background(), "guild", 7, 10))
	f.economy.prices[7] = 9
	f.economy.catalogErr = errors.New("catalog down")

	f.tick(t)

	events := f.sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, int64(7), events[0].Price.Details.ItemID)
	assert.Empty(t, events[0].Price.Details.Name)
}

func TestPrice_FailuresAreIsolated(t *testing.T) {
	f := newPriceFixture(t)
	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, f.reg.AddItem(ctx, "guild", id, 100))
		f.economy.prices[id] = 200
	}
	f.economy.errs[2] = apperr.Transient("resale data", errors.New("503"))

	report := f.tick(t)

	assert.Len(t, f.sink.all(), 2)
	assert.Equal(t, OutcomeFailed, report.Outcomes[1].Status)
	assert.Equal(t, 100.0, *f.lastKnown(t, "guild", 2), "failed item keeps its baseline")
}

func TestPrice_UnreachableTenantIsOnlySkipped(t *testing.T) {
	f := newPriceFixture(t)
	require.NoError(t, f.reg.AddItem(context.Background(), "guild", 7, 10))
	f.economy.prices[7] = 11
	f.dir.unreachable["guild"] = true

	report := f.tick(t)

	assert.Empty(t, f.sink.all())
	assert.Empty(t, report.RemovedTenants)
	assert.Len(t, report.SkippedTenants, 1)
	_, ok := f.reg.Tenant("guild")
	assert.True(t, ok)
}

func TestPrice_ItemUntrackedMidTickFailsCommit(t *testing.T) {
	f := newPriceFixture(t)
	ctx := context.Background()
	require.NoError(t, f.reg.AddItem(ctx, "guild", 7, 10))
	require.NoError(t, f.reg.AddItem(ctx, "guild", 8, 10))
	f.economy.prices[7] = 11
	f.economy.prices[8] = 12

	src := NewPriceSource(f.economy, f.reg)
	snapshot := f.reg.Snapshot()
	require.NoError(t, f.reg.RemoveItem(ctx, "guild", 7))

	o := f.poller.observe(ctx, snapshot[0], "guild/items", 7)
	assert.Equal(t, OutcomeFailed, o.Status)
	assert.ErrorIs(t, o.Err, apperr.ErrNotTracked)
	assert.Empty(t, f.sink.all(), "no notification without a committed baseline")

	_, err := src.Fetch(ctx, 8)
	assert.NoError(t, err)
}

func TestPrice_MissingAveragePriceFails(t *testing.T) {
	f := newPriceFixture(t)
	src := NewPriceSource(f.economy, f.reg)
	_, err := src.Fetch(context.Background(), 404)
	assert.ErrorIs(t, err, apperr.ErrTransientFetch)
}
