// Package registry keeps the per-tenant sets of tracked users and items and
// persists them through a Store after every mutation.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/rewired-gh/soulwatch/internal/apperr"
	"github.com/rewired-gh/soulwatch/internal/logger"
	"github.com/rewired-gh/soulwatch/internal/models"
)

// Store persists the full tenant list. SaveTenants replaces what was stored.
type Store interface {
	LoadTenants(ctx context.Context) ([]models.Tenant, error)
	SaveTenants(ctx context.Context, tenants []models.Tenant) error
}

// ItemPriceStore updates the price of one persisted item in place.
type ItemPriceStore interface {
	SaveItemPrice(ctx context.Context, tenantID string, itemID int64, price float64) error
}

// Registry is the TenantRegistry. All methods are safe for concurrent use;
// a single mutex serializes tracking mutations against poller snapshots.
type Registry struct {
	mu      sync.Mutex
	store   Store
	order   []string
	tenants map[string]*models.Tenant
}

// Load builds a Registry from the store's persisted tenants.
func Load(ctx context.Context, store Store) (*Registry, error) {
	tenants, err := store.LoadTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenants: %w", err)
	}
	r := &Registry{store: store, tenants: make(map[string]*models.Tenant, len(tenants))}
	for _, t := range tenants {
		if err := t.Validate(); err != nil {
			logger.Warn("Skipping invalid persisted tenant %s: %v", t.ID, err)
			continue
		}
		if _, dup := r.tenants[t.ID]; dup {
			continue
		}
		c := t.Clone()
		r.tenants[t.ID] = &c
		r.order = append(r.order, t.ID)
	}
	logger.Info("Loaded %d tenants from store", len(r.order))
	return r, nil
}

// Snapshot returns a deep copy of all tenants in registry order.
func (r *Registry) Snapshot() []models.Tenant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []models.Tenant {
	out := make([]models.Tenant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tenants[id].Clone())
	}
	return out
}

// Tenant returns a copy of one tenant.
func (r *Registry) Tenant(tenantID string) (models.Tenant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return models.Tenant{}, false
	}
	return t.Clone(), true
}

// mutate applies fn to the tenant (created on demand when create is set),
// persists, and rolls the tenant back if persisting fails.
func (r *Registry) mutate(ctx context.Context, tenantID string, create bool, fn func(t *models.Tenant) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mutateLocked(ctx, tenantID, create, fn)
}

func (r *Registry) mutateLocked(ctx context.Context, tenantID string, create bool, fn func(t *models.Tenant) error) error {
	t, ok := r.tenants[tenantID]
	created := false
	if !ok {
		if !create {
			return apperr.New(apperr.KindNotTracked, "registry", "tenant "+tenantID+" has nothing tracked")
		}
		t = &models.Tenant{ID: tenantID}
		created = true
	}
	before := t.Clone()

	if err := fn(t); err != nil {
		return err
	}
	if created {
		r.tenants[tenantID] = t
		r.order = append(r.order, tenantID)
	}

	if err := r.store.SaveTenants(ctx, r.snapshotLocked()); err != nil {
		if created {
			delete(r.tenants, tenantID)
			r.order = r.order[:len(r.order)-1]
		} else {
			*t = before
		}
		return fmt.Errorf("failed to persist tenants: %w", err)
	}
	return nil
}

// AddUser tracks userID in tenantID, creating the tenant on first use.
func (r *Registry) AddUser(ctx context.Context, tenantID, userID string) error {
	return r.mutate(ctx, tenantID, true, func(t *models.Tenant) error {
		for _, u := range t.Users {
			if u == userID {
				return apperr.New(apperr.KindAlreadyTracked, "track user", "user "+userID+" is already tracked")
			}
		}
		t.Users = append(t.Users, userID)
		return nil
	})
}

// UserPurgeFunc removes one user's StateCache entry.
type UserPurgeFunc func(ctx context.Context, tenantID, userID string) error

// RemoveUser stops tracking userID in tenantID. purge, when set, runs after the
// removal is persisted and before the lock is released, so no CommitUser can
// write the entry back in between. A failed purge is logged, not returned.
func (r *Registry) RemoveUser(ctx context.Context, tenantID, userID string, purge UserPurgeFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.mutateLocked(ctx, tenantID, false, func(t *models.Tenant) error {
		for i, u := range t.Users {
			if u == userID {
				t.Users = append(t.Users[:i:i], t.Users[i+1:]...)
				return nil
			}
		}
		return apperr.New(apperr.KindNotTracked, "untrack user", "user "+userID+" is not tracked")
	})
	if err != nil {
		return err
	}
	if purge != nil {
		if err := purge(ctx, tenantID, userID); err != nil {
			logger.Warn("Failed to drop cached presence of user %s in tenant %s: %v", userID, tenantID, err)
		}
	}
	return nil
}

// CommitUser runs fn only while userID is still tracked in tenantID, holding
// the registry lock for the duration of fn. It fails with KindNotTracked
// otherwise and fn is not called.
func (r *Registry) CommitUser(tenantID, userID string, fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tenants[tenantID]; ok {
		for _, u := range t.Users {
			if u == userID {
				return fn()
			}
		}
	}
	return apperr.New(apperr.KindNotTracked, "commit presence", "user "+userID+" is no longer tracked in tenant "+tenantID)
}

// HasItem reports whether tenantID tracks itemID.
func (r *Registry) HasItem(tenantID string, itemID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return false
	}
	for _, it := range t.Items {
		if it.ID == itemID {
			return true
		}
	}
	return false
}

// AddItem tracks itemID in tenantID with its seeded baseline price.
func (r *Registry) AddItem(ctx context.Context, tenantID string, itemID int64, price float64) error {
	return r.mutate(ctx, tenantID, true, func(t *models.Tenant) error {
		for _, it := range t.Items {
			if it.ID == itemID {
				return apperr.New(apperr.KindAlreadyTracked, "track item", "item "+strconv.FormatInt(itemID, 10)+" is already tracked")
			}
		}
		p := price
		t.Items = append(t.Items, models.TrackedItem{ID: itemID, LastKnownPrice: &p})
		return nil
	})
}

// RemoveItem stops tracking itemID in tenantID.
func (r *Registry) RemoveItem(ctx context.Context, tenantID string, itemID int64) error {
	return r.mutate(ctx, tenantID, false, func(t *models.Tenant) error {
		for i, it := range t.Items {
			if it.ID == itemID {
				t.Items = append(t.Items[:i:i], t.Items[i+1:]...)
				return nil
			}
		}
		return apperr.New(apperr.KindNotTracked, "untrack item", "item "+strconv.FormatInt(itemID, 10)+" is not tracked")
	})
}

// SetItemPrice records the last notified price of an item. It fails with
// KindNotTracked when the item was untracked since the caller's snapshot.
// Stores implementing ItemPriceStore get a single-row update instead of a
// full rewrite.
func (r *Registry) SetItemPrice(ctx context.Context, tenantID string, itemID int64, price float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var item *models.TrackedItem
	if t, ok := r.tenants[tenantID]; ok {
		for i := range t.Items {
			if t.Items[i].ID == itemID {
				item = &t.Items[i]
				break
			}
		}
	}
	if item == nil {
		return apperr.New(apperr.KindNotTracked, "set item price", "item "+strconv.FormatInt(itemID, 10)+" is not tracked")
	}

	before := item.LastKnownPrice
	p := price
	item.LastKnownPrice = &p

	var err error
	if ps, ok := r.store.(ItemPriceStore); ok {
		err = ps.SaveItemPrice(ctx, tenantID, itemID, price)
	} else {
		err = r.store.SaveTenants(ctx, r.snapshotLocked())
	}
	if err != nil {
		item.LastKnownPrice = before
		return fmt.Errorf("failed to persist item price: %w", err)
	}
	return nil
}

// PurgeFunc removes a tenant's StateCache entries.
type PurgeFunc func(ctx context.Context, tenantID string) error

// RemoveTenants deletes the given tenants together with their cache entries.
// Each tenant's cache purge and registry deletion happen under the registry
// lock; a tenant whose purge fails stays registered and is retried on a later
// tick. The persisted form is resynchronized once at the end.
func (r *Registry) RemoveTenants(ctx context.Context, tenantIDs []string, purge PurgeFunc) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	var errs []error
	for _, id := range tenantIDs {
		if _, ok := r.tenants[id]; !ok {
			continue
		}
		if purge != nil {
			if err := purge(ctx, id); err != nil {
				errs = append(errs, fmt.Errorf("purge tenant %s: %w", id, err))
				continue
			}
		}
		delete(r.tenants, id)
		for i, o := range r.order {
			if o == id {
				r.order = append(r.order[:i:i], r.order[i+1:]...)
				break
			}
		}
		removed = append(removed, id)
	}

	if len(removed) > 0 {
		// No rollback here: the cache entries are already gone.
		if err := r.store.SaveTenants(ctx, r.snapshotLocked()); err != nil {
			errs = append(errs, fmt.Errorf("failed to persist tenants: %w", err))
		}
	}
	return removed, errors.Join(errs...)
}

// Len returns the number of tenants.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
