// Package tracking implements the track/untrack operations that mutate the
// tenant registry. Any command surface (chat commands, an admin API) calls
// into Service; parsing and rendering stay with the caller.
package tracking

import (
	"context"
	"fmt"

	"github.com/rewired-gh/soulwatch/internal/apperr"
	"github.com/rewired-gh/soulwatch/internal/logger"
	"github.com/rewired-gh/soulwatch/internal/models"
	"github.com/rewired-gh/soulwatch/internal/registry"
)

// Registry is the registry surface used by tracking operations.
type Registry interface {
	Tenant(tenantID string) (models.Tenant, bool)
	AddUser(ctx context.Context, tenantID, userID string) error
	RemoveUser(ctx context.Context, tenantID, userID string, purge registry.UserPurgeFunc) error
	HasItem(tenantID string, itemID int64) bool
	AddItem(ctx context.Context, tenantID string, itemID int64, price float64) error
	RemoveItem(ctx context.Context, tenantID string, itemID int64) error
}

// Resolver resolves identifiers and fetches user details.
type Resolver interface {
	Resolve(ctx context.Context, identifier string) (string, error)
	Details(ctx context.Context, userID string) models.UserDetails
}

// Catalog fetches item data.
type Catalog interface {
	ResaleData(ctx context.Context, itemID int64) (models.ResaleData, error)
	ItemDetails(ctx context.Context, itemID int64) (models.ItemDetails, error)
}

// PresenceCache is the StateCache surface needed to forget an untracked user.
type PresenceCache interface {
	Delete(ctx context.Context, tenantID, userID string) error
}

// Service exposes the tracking operations.
type Service struct {
	registry Registry
	resolver Resolver
	catalog  Catalog
	cache    PresenceCache
}

// NewService creates a tracking Service.
func NewService(registry Registry, resolver Resolver, catalog Catalog, cache PresenceCache) *Service {
	return &Service{registry: registry, resolver: resolver, catalog: catalog, cache: cache}
}

// Result is the outcome for one identifier of a multi-identifier call.
type Result struct {
	Identifier string
	UserID     string
	Err        error
}

// TrackUser resolves identifier and tracks the user in tenantID. The cache is
// left untouched, so the next presence tick reports the user's first status.
func (s *Service) TrackUser(ctx context.Context, tenantID, identifier string) (string, error) {
	userID, err := s.resolver.Resolve(ctx, identifier)
	if err != nil {
		return "", err
	}
	if err := s.registry.AddUser(ctx, tenantID, userID); err != nil {
		return userID, err
	}
	logger.Info("Tenant %s now tracks user %s", tenantID, userID)
	return userID, nil
}

// TrackUsers tracks each identifier independently.
func (s *Service) TrackUsers(ctx context.Context, tenantID string, identifiers []string) []Result {
	results := make([]Result, 0, len(identifiers))
	for _, ident := range identifiers {
		id, err := s.TrackUser(ctx, tenantID, ident)
		results = append(results, Result{Identifier: ident, UserID: id, Err: err})
	}
	return results
}

// UntrackUser resolves identifier, removes the user from tenantID and drops
// its cached presence in the same registry critical section, so a running
// presence tick cannot write it back.
func (s *Service) UntrackUser(ctx context.Context, tenantID, identifier string) (string, error) {
	userID, err := s.resolver.Resolve(ctx, identifier)
	if err != nil {
		return "", err
	}
	if err := s.registry.RemoveUser(ctx, tenantID, userID, s.cache.Delete); err != nil {
		return userID, err
	}
	logger.Info("Tenant %s stopped tracking user %s", tenantID, userID)
	return userID, nil
}

// UntrackUsers untracks each identifier independently.
func (s *Service) UntrackUsers(ctx context.Context, tenantID string, identifiers []string) []Result {
	results := make([]Result, 0, len(identifiers))
	for _, ident := range identifiers {
		id, err := s.UntrackUser(ctx, tenantID, ident)
		results = append(results, Result{Identifier: ident, UserID: id, Err: err})
	}
	return results
}

// TrackItem admits a limited item and seeds its baseline with the current
// average price, so the next price tick only reports real movement.
func (s *Service) TrackItem(ctx context.Context, tenantID string, itemID int64) (models.TrackedItem, error) {
	const op = "track item"
	if itemID <= 0 {
		return models.TrackedItem{}, apperr.Validation(op, fmt.Sprintf("invalid item ID %d", itemID))
	}
	if s.registry.HasItem(tenantID, itemID) {
		return models.TrackedItem{}, apperr.New(apperr.KindAlreadyTracked, op, fmt.Sprintf("item %d is already tracked", itemID))
	}

	resale, err := s.catalog.ResaleData(ctx, itemID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return models.TrackedItem{}, apperr.Wrap(apperr.KindValidation, op, fmt.Sprintf("item %d does not exist", itemID), err)
		}
		return models.TrackedItem{}, err
	}
	if !resale.IsLimited() {
		return models.TrackedItem{}, apperr.Validation(op, fmt.Sprintf("item %d is not a limited item", itemID))
	}

	if err := s.registry.AddItem(ctx, tenantID, itemID, resale.AveragePrice); err != nil {
		return models.TrackedItem{}, err
	}
	logger.Info("Tenant %s now tracks item %d at %.2f", tenantID, itemID, resale.AveragePrice)
	price := resale.AveragePrice
	return models.TrackedItem{ID: itemID, LastKnownPrice: &price}, nil
}

// UntrackItem removes itemID from tenantID.
func (s *Service) UntrackItem(ctx context.Context, tenantID string, itemID int64) error {
	if err := s.registry.RemoveItem(ctx, tenantID, itemID); err != nil {
		return err
	}
	logger.Info("Tenant %s stopped tracking item %d", tenantID, itemID)
	return nil
}

// TrackedUsers lists the tenant's users with their (best-effort) details.
func (s *Service) TrackedUsers(ctx context.Context, tenantID string) []models.UserDetails {
	t, ok := s.registry.Tenant(tenantID)
	if !ok {
		return nil
	}
	out := make([]models.UserDetails, 0, len(t.Users))
	for _, id := range t.Users {
		out = append(out, s.resolver.Details(ctx, id))
	}
	return out
}

// TrackedItem pairs a tracked item with its catalog details.
type TrackedItem struct {
	models.TrackedItem
	Details models.ItemDetails
}

// TrackedItems lists the tenant's items. Catalog failures leave Details
// holding only the item ID.
func (s *Service) TrackedItems(ctx context.Context, tenantID string) []TrackedItem {
	t, ok := s.registry.Tenant(tenantID)
	if !ok {
		return nil
	}
	out := make([]TrackedItem, 0, len(t.Items))
	for _, it := range t.Items {
		d, err := s.catalog.ItemDetails(ctx, it.ID)
		if err != nil {
			logger.Debug("Catalog lookup for item %d failed: %v", it.ID, err)
			d = models.ItemDetails{ItemID: it.ID}
		}
		out = append(out, TrackedItem{TrackedItem: it, Details: d})
	}
	return out
}
