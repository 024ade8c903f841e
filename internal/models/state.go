package models

import (
	"time"
)

// Status is a user's presence as reported by the presence API.
type Status int

const (
	StatusUnknown  Status = -1
	StatusOffline  Status = 0
	StatusOnline   Status = 1
	StatusInGame   Status = 2
	StatusInStudio Status = 3
)

// StatusFromCode maps a presence code to a Status; unrecognized codes are StatusUnknown.
func StatusFromCode(code int) Status {
	switch s := Status(code); s {
	case StatusOffline, StatusOnline, StatusInGame, StatusInStudio:
		return s
	default:
		return StatusUnknown
	}
}

func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "Offline"
	case StatusOnline:
		return "Online"
	case StatusInGame:
		return "In Game"
	case StatusInStudio:
		return "In Studio"
	default:
		return "Unknown"
	}
}

// PresenceRecord is the StateCache entry for one (tenant, user) pair.
type PresenceRecord struct {
	TenantID   string
	UserID     string
	LastStatus Status
	UpdatedAt  time.Time
}

// UserDetails enriches presence notifications. Every field may be defaulted.
type UserDetails struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Username    string `json:"username"`
	Description string `json:"description"`
	IsBanned    bool   `json:"is_banned"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Defaults used when a detail lookup fails or omits a field.
const (
	DefaultDisplayName = "No display name"
	DefaultUsername    = "No username"
	DefaultDescription = "No description available."
)

// DefaultUserDetails returns the placeholder details for userID.
func DefaultUserDetails(userID string) UserDetails {
	return UserDetails{
		UserID:      userID,
		DisplayName: DefaultDisplayName,
		Username:    DefaultUsername,
		Description: DefaultDescription,
	}
}

// UserSummary is one candidate from a display-name search.
type UserSummary struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// ItemDetails enriches price notifications.
type ItemDetails struct {
	ItemID      int64  `json:"item_id"`
	Name        string `json:"name"`
	CreatorName string `json:"creator_name"`
}

// ResaleData is the subset of the resale-data response used for tracking.
type ResaleData struct {
	AveragePrice    float64
	HasAveragePrice bool
	HasPriceHistory bool
}

// IsLimited reports whether the item can be price-tracked.
func (r ResaleData) IsLimited() bool {
	return r.HasAveragePrice && r.HasPriceHistory
}

// ChangelogState records the last changelog version broadcast to tenants.
type ChangelogState struct {
	LastSentVersion string    `json:"last_sent_version" yaml:"last_sent_version"`
	SentAt          time.Time `json:"sent_at" yaml:"sent_at"`
}
