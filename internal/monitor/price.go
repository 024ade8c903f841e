package monitor

import (
	"context"
	"strconv"

	"github.com/rewired-gh/soulwatch/internal/apperr"
	"github.com/rewired-gh/soulwatch/internal/logger"
	"github.com/rewired-gh/soulwatch/internal/models"
)

// PriceFetcher reads resale and catalog data of items.
type PriceFetcher interface {
	ResaleData(ctx context.Context, itemID int64) (models.ResaleData, error)
	ItemDetails(ctx context.Context, itemID int64) (models.ItemDetails, error)
}

// PriceStore records the last notified price of an item.
type PriceStore interface {
	SetItemPrice(ctx context.Context, tenantID string, itemID int64, price float64) error
}

// PriceSource observes tracked items' recent average price against the
// baseline kept in the registry.
type PriceSource struct {
	fetcher PriceFetcher
	store   PriceStore
}

var _ Source[int64, float64] = (*PriceSource)(nil)

// NewPriceSource creates a PriceSource.
func NewPriceSource(fetcher PriceFetcher, store PriceStore) *PriceSource {
	return &PriceSource{fetcher: fetcher, store: store}
}

func (s *PriceSource) Name() string { return "price" }
func (s *PriceSource) Channel() models.Channel { return models.ChannelItems }

func (s *PriceSource) EntityID(itemID int64) string {
	return strconv.FormatInt(itemID, 10)
}

func (s *PriceSource) Entities(t models.Tenant) []int64 {
	ids := make([]int64, 0, len(t.Items))
	for _, it := range t.Items {
		ids = append(ids, it.ID)
	}
	return ids
}

func (s *PriceSource) Fetch(ctx context.Context, itemID int64) (float64, error) {
	resale, err := s.fetcher.ResaleData(ctx, itemID)
	if err != nil {
		return 0, err
	}
	if !resale.HasAveragePrice {
		return 0, apperr.New(apperr.KindTransientFetch, "resale data", "response has no average price")
	}
	return resale.AveragePrice, nil
}

func (s *PriceSource) Baseline(_ context.Context, t models.Tenant, itemID int64) (float64, bool, error) {
	for _, it := range t.Items {
		if it.ID == itemID && it.LastKnownPrice != nil {
			return *it.LastKnownPrice, true, nil
		}
	}
	return 0, false, nil
}

func (s *PriceSource) Commit(ctx context.Context, tenantID string, itemID int64, price float64) error {
	return s.store.SetItemPrice(ctx, tenantID, itemID, price)
}

func (s *PriceSource) Transition(ctx context.Context, _ string, itemID int64, old *float64, price float64) models.Transition {
	details, err := s.fetcher.ItemDetails(ctx, itemID)
	if err != nil {
		logger.Debug("Catalog lookup for item %d failed: %v", itemID, err)
		details = models.ItemDetails{ItemID: itemID}
	}
	return models.Transition{
		Kind: models.TransitionPrice,
		Price: &models.PriceChange{
			OldPrice: old,
			NewPrice: price,
			Details:  details,
		},
	}
}
