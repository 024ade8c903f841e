package monitor

import (
	"context"

	"github.com/rewired-gh/soulwatch/internal/cache"
	"github.com/rewired-gh/soulwatch/internal/models"
)

// PresenceFetcher returns the raw presence code of a user.
type PresenceFetcher interface {
	UserPresence(ctx context.Context, userID string) (int, error)
}

// DetailLookup enriches presence transitions; it must not fail.
type DetailLookup interface {
	Details(ctx context.Context, userID string) models.UserDetails
}

// TrackedUsers guards presence commits against concurrent untracking.
type TrackedUsers interface {
	// CommitUser runs fn only while the user is tracked, and fails with
	// apperr.KindNotTracked otherwise.
	CommitUser(tenantID, userID string, fn func() error) error
}

// PresenceSource observes tracked users' presence against the StateCache.
type PresenceSource struct {
	fetcher PresenceFetcher
	cache   cache.StateCache
	details DetailLookup
	users   TrackedUsers
}

var _ Source[string, models.Status] = (*PresenceSource)(nil)

// NewPresenceSource creates a PresenceSource.
func NewPresenceSource(fetcher PresenceFetcher, c cache.StateCache, details DetailLookup, users TrackedUsers) *PresenceSource {
	return &PresenceSource{fetcher: fetcher, cache: c, details: details, users: users}
}

func (s *PresenceSource) Name() string { return "presence" }
func (s *PresenceSource) Channel() models.Channel { return models.ChannelStatus }
func (s *PresenceSource) EntityID(userID string) string {
	return userID
}

func (s *PresenceSource) Entities(t models.Tenant) []string {
	return t.Users
}

func (s *PresenceSource) Fetch(ctx context.Context, userID string) (models.Status, error) {
	code, err := s.fetcher.UserPresence(ctx, userID)
	if err != nil {
		return models.StatusUnknown, err
	}
	return models.StatusFromCode(code), nil
}

func (s *PresenceSource) Baseline(ctx context.Context, t models.Tenant, userID string) (models.Status, bool, error) {
	return s.cache.Get(ctx, t.ID, userID)
}

func (s *PresenceSource) Commit(ctx context.Context, tenantID, userID string, status models.Status) error {
	return s.users.CommitUser(tenantID, userID, func() error {
		return s.cache.Set(ctx, tenantID, userID, status)
	})
}

func (s *PresenceSource) Transition(ctx context.Context, _ string, userID string, old *models.Status, status models.Status) models.Transition {
	return models.Transition{
		Kind: models.TransitionPresence,
		Presence: &models.PresenceChange{
			OldStatus: old,
			NewStatus: status,
			Details:   s.details.Details(ctx, userID),
		},
	}
}
