// Package models defines the core domain entities: tenants, tracked entities,
// observed states and the transition events derived from them.
package models

import (
	"errors"
	"strconv"
	"time"
)

// Tenant is one guild and the entities it tracks.
// Users and Items are kept in tracking order, which is also tick order.
type Tenant struct {
	ID    string        `json:"id" yaml:"id"`
	Users []string      `json:"users" yaml:"users"`
	Items []TrackedItem `json:"items" yaml:"items"`
}

// TrackedItem is an item tracked by a tenant. LastKnownPrice is the last price
// this engine observed and notified, nil until the first observation.
type TrackedItem struct {
	ID             int64    `json:"id" yaml:"id"`
	LastKnownPrice *float64 `json:"last_known_price,omitempty" yaml:"last_known_price,omitempty"`
}

// Validate checks tenant field constraints.
func (t *Tenant) Validate() error {
	if t.ID == "" {
		return errors.New("tenant ID must not be empty")
	}
	seen := make(map[string]bool, len(t.Users))
	for _, u := range t.Users {
		if !IsNumericID(u) {
			return errors.New("tracked user ID must be numeric: " + u)
		}
		if seen[u] {
			return errors.New("duplicate tracked user: " + u)
		}
		seen[u] = true
	}
	items := make(map[int64]bool, len(t.Items))
	for _, it := range t.Items {
		if it.ID <= 0 {
			return errors.New("tracked item ID must be positive")
		}
		if items[it.ID] {
			return errors.New("duplicate tracked item: " + strconv.FormatInt(it.ID, 10))
		}
		items[it.ID] = true
	}
	return nil
}

// Clone returns a deep copy of the tenant.
func (t Tenant) Clone() Tenant {
	c := Tenant{ID: t.ID}
	if t.Users != nil {
		c.Users = append([]string(nil), t.Users...)
	}
	if t.Items != nil {
		c.Items = make([]TrackedItem, len(t.Items))
		for i, it := range t.Items {
			c.Items[i] = TrackedItem{ID: it.ID}
			if it.LastKnownPrice != nil {
				p := *it.LastKnownPrice
				c.Items[i].LastKnownPrice = &p
			}
		}
	}
	return c
}

// IsNumericID reports whether s is a non-empty string of ASCII digits.
func IsNumericID(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// TransitionKind names what kind of state changed.
type TransitionKind string

const (
	TransitionPresence TransitionKind = "presence"
	TransitionPrice    TransitionKind = "price"
)

// Transition is emitted once per observed state change of one entity in one tenant.
type Transition struct {
	ID          string          `json:"id"`
	Kind        TransitionKind  `json:"kind"`
	TenantID    string          `json:"tenant_id"`
	EntityID    string          `json:"entity_id"`
	Presence    *PresenceChange `json:"presence,omitempty"`
	Price       *PriceChange    `json:"price,omitempty"`
	DetectedAt  time.Time       `json:"detected_at"`
	Destination string          `json:"-"` // resolved while polling; empty means unresolved
}

// Channel returns the destination kind this transition is delivered to.
func (t *Transition) Channel() Channel {
	if t.Kind == TransitionPrice {
		return ChannelItems
	}
	return ChannelStatus
}

// PresenceChange describes a presence transition. OldStatus is nil on the first
// observation of a user.
type PresenceChange struct {
	OldStatus *Status     `json:"old_status,omitempty"`
	NewStatus Status      `json:"new_status"`
	Details   UserDetails `json:"details"`
}

// PriceChange describes a resale price transition. OldPrice is nil when no
// baseline existed.
type PriceChange struct {
	OldPrice *float64    `json:"old_price,omitempty"`
	NewPrice float64     `json:"new_price"`
	Details  ItemDetails `json:"details"`
}

// Delta returns NewPrice - OldPrice, or 0 without a baseline.
func (p *PriceChange) Delta() float64 {
	if p.OldPrice == nil {
		return 0
	}
	return p.NewPrice - *p.OldPrice
}

// Channel identifies one of a tenant's notification destinations.
type Channel string

const (
	ChannelStatus    Channel = "status"
	ChannelItems     Channel = "items"
	ChannelChangelog Channel = "changelog"
)
