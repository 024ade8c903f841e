// Package resolver turns human-entered identifiers into canonical user IDs and
// fetches the details used to enrich presence notifications.
package resolver

import (
	"context"
	"strings"

	"github.com/rewired-gh/soulwatch/internal/apperr"
	"github.com/rewired-gh/soulwatch/internal/logger"
	"github.com/rewired-gh/soulwatch/internal/models"
	"github.com/rewired-gh/soulwatch/internal/roblox"
)

// Directory is the subset of the Roblox client the resolver consumes.
type Directory interface {
	LookupUsername(ctx context.Context, username string) ([]string, error)
	SearchUsers(ctx context.Context, keyword string, limit int) ([]models.UserSummary, error)
	UserDetails(ctx context.Context, userID string) (*roblox.UserDetailsResponse, error)
	AvatarURL(ctx context.Context, userID string) (string, error)
}

// Resolver is the UserResolver.
type Resolver struct {
	dir         Directory
	searchLimit int
}

// New creates a Resolver. searchLimit caps Search results.
func New(dir Directory, searchLimit int) *Resolver {
	if searchLimit <= 0 {
		searchLimit = 10
	}
	return &Resolver{dir: dir, searchLimit: searchLimit}
}

// Resolve returns the canonical user ID for identifier. Numeric identifiers are
// returned verbatim without an existence check.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (string, error) {
	const op = "resolve"
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", apperr.Validation(op, "identifier is empty")
	}
	if models.IsNumericID(identifier) {
		return identifier, nil
	}

	ids, err := r.dir.LookupUsername(ctx, identifier)
	if err != nil {
		return "", apperr.Wrap(apperr.KindResolutionFailed, op, "lookup of "+identifier+" failed", err)
	}
	if len(ids) == 0 {
		return "", apperr.New(apperr.KindNotFound, op, "no user named "+identifier)
	}
	return ids[0], nil
}

// Search returns display-name matches for keyword, capped at the search limit.
func (r *Resolver) Search(ctx context.Context, keyword string) ([]models.UserSummary, error) {
	const op = "search"
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, apperr.Validation(op, "keyword is empty")
	}
	found, err := r.dir.SearchUsers(ctx, keyword, r.searchLimit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindResolutionFailed, op, "search for "+keyword+" failed", err)
	}
	if len(found) == 0 {
		return nil, apperr.New(apperr.KindNotFound, op, "no users match "+keyword)
	}
	if len(found) > r.searchLimit {
		found = found[:r.searchLimit]
	}
	return found, nil
}

// Details fetches profile details and avatar for userID. It never fails:
// anything that cannot be fetched is replaced by its default.
func (r *Resolver) Details(ctx context.Context, userID string) models.UserDetails {
	d := models.DefaultUserDetails(userID)

	resp, err := r.dir.UserDetails(ctx, userID)
	if err != nil {
		logger.Debug("Detail lookup for user %s failed: %v", userID, err)
	} else {
		if resp.DisplayName != nil && *resp.DisplayName != "" {
			d.DisplayName = *resp.DisplayName
		}
		if resp.Name != nil && *resp.Name != "" {
			d.Username = *resp.Name
		}
		if resp.Description != nil && *resp.Description != "" {
			d.Description = *resp.Description
		}
		if resp.IsBanned != nil {
			d.IsBanned = *resp.IsBanned
		}
	}

	avatar, err := r.dir.AvatarURL(ctx, userID)
	if err != nil {
		logger.Debug("Avatar lookup for user %s failed: %v", userID, err)
	}
	d.AvatarURL = avatar
	return d
}
