// Package roblox is a client for the Roblox web APIs consumed by soulwatch:
// presence, user details, username lookup, avatar thumbnails, item resale data
// and item catalog details.
package roblox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rewired-gh/soulwatch/internal/apperr"
	"github.com/rewired-gh/soulwatch/internal/models"
)

// Credentials dispenses the cookie used for authenticated calls.
type Credentials interface {
	Next() string
}

// Endpoints holds the base URLs of the consumed APIs.
type Endpoints struct {
	Users      string
	Presence   string
	Thumbnails string
	Economy    string
	Catalog    string
}

// ClientConfig holds HTTP and retry tuning.
type ClientConfig struct {
	Timeout        time.Duration
	MaxRetries     int
	RetryDelayBase time.Duration
}

// Client provides access to the Roblox APIs.
type Client struct {
	endpoints      Endpoints
	credentials    Credentials
	httpClient     *http.Client
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Roblox client.
func NewClient(endpoints Endpoints, credentials Credentials, cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	return &Client{
		endpoints:      endpoints,
		credentials:    credentials,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		maxRetries:     cfg.MaxRetries,
		retryDelayBase: cfg.RetryDelayBase,
	}
}

type presenceRequest struct {
	UserIDs []int64 `json:"userIds"`
}

type presenceResponse struct {
	UserPresences []struct {
		UserPresenceType int   `json:"userPresenceType"`
		UserID           int64 `json:"userId"`
	} `json:"userPresences"`
}

// Presence returns the presence code of each requested user, keyed by user ID.
// It uses the next rotated credential.
func (c *Client) Presence(ctx context.Context, userIDs []string) (map[string]int, error) {
	const op = "presence"
	req := presenceRequest{UserIDs: make([]int64, 0, len(userIDs))}
	for _, id := range userIDs {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, apperr.Validation(op, "user ID must be numeric: "+id)
		}
		req.UserIDs = append(req.UserIDs, n)
	}

	var resp presenceResponse
	if err := c.do(ctx, op, http.MethodPost, c.endpoints.Presence+"/v1/presence/users", req, true, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(resp.UserPresences))
	for _, p := range resp.UserPresences {
		out[strconv.FormatInt(p.UserID, 10)] = p.UserPresenceType
	}
	return out, nil
}

// UserPresence returns the presence code of a single user.
func (c *Client) UserPresence(ctx context.Context, userID string) (int, error) {
	codes, err := c.Presence(ctx, []string{userID})
	if err != nil {
		return 0, err
	}
	code, ok := codes[userID]
	if !ok {
		return 0, apperr.Transient("presence", fmt.Errorf("no presence returned for user %s", userID))
	}
	return code, nil
}

// UserDetailsResponse is the raw user detail payload. Absent fields stay nil.
type UserDetailsResponse struct {
	DisplayName *string `json:"displayName"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsBanned    *bool   `json:"isBanned"`
}

// UserDetails fetches the profile of a user.
func (c *Client) UserDetails(ctx context.Context, userID string) (*UserDetailsResponse, error) {
	var resp UserDetailsResponse
	u := c.endpoints.Users + "/v1/users/" + url.PathEscape(userID)
	if err := c.do(ctx, "user details", http.MethodGet, u, nil, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type usernamesRequest struct {
	Usernames          []string `json:"usernames"`
	ExcludeBannedUsers bool     `json:"excludeBannedUsers"`
}

type usernamesResponse struct {
	Data []struct {
		ID int64 `json:"id"`
	} `json:"data"`
}

// LookupUsername resolves an exact username. The result is empty when no user matches.
func (c *Client) LookupUsername(ctx context.Context, username string) ([]string, error) {
	var resp usernamesResponse
	req := usernamesRequest{Usernames: []string{username}}
	if err := c.do(ctx, "lookup username", http.MethodPost, c.endpoints.Users+"/v1/usernames/users", req, false, &resp); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.Data))
	for _, d := range resp.Data {
		ids = append(ids, strconv.FormatInt(d.ID, 10))
	}
	return ids, nil
}

type searchResponse struct {
	Data []struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	} `json:"data"`
}

// SearchUsers returns up to limit users whose display name matches keyword.
func (c *Client) SearchUsers(ctx context.Context, keyword string, limit int) ([]models.UserSummary, error) {
	q := url.Values{}
	q.Set("keyword", keyword)
	q.Set("limit", strconv.Itoa(limit))
	var resp searchResponse
	if err := c.do(ctx, "search users", http.MethodGet, c.endpoints.Users+"/v1/users/search?"+q.Encode(), nil, false, &resp); err != nil {
		return nil, err
	}
	out := make([]models.UserSummary, 0, len(resp.Data))
	for _, d := range resp.Data {
		if len(out) == limit {
			break
		}
		out = append(out, models.UserSummary{
			ID:          strconv.FormatInt(d.ID, 10),
			Username:    d.Name,
			DisplayName: d.DisplayName,
		})
	}
	return out, nil
}

type thumbnailResponse struct {
	Data []struct {
		ImageURL string `json:"imageUrl"`
	} `json:"data"`
}

// AvatarURL returns the headshot image URL of a user, or "" when none exists.
func (c *Client) AvatarURL(ctx context.Context, userID string) (string, error) {
	q := url.Values{}
	q.Set("userIds", userID)
	q.Set("size", "352x352")
	q.Set("format", "Png")
	q.Set("isCircular", "false")
	var resp thumbnailResponse
	if err := c.do(ctx, "avatar", http.MethodGet, c.endpoints.Thumbnails+"/v1/users/avatar-headshot?"+q.Encode(), nil, false, &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 {
		return "", nil
	}
	return resp.Data[0].ImageURL, nil
}

type resaleResponse struct {
	RecentAveragePrice *float64         `json:"recentAveragePrice"`
	PriceDataPoints    *json.RawMessage `json:"priceDataPoints"`
}

// ResaleData fetches an item's resale statistics with the next rotated credential.
func (c *Client) ResaleData(ctx context.Context, itemID int64) (models.ResaleData, error) {
	var resp resaleResponse
	u := fmt.Sprintf("%s/v1/assets/%d/resale-data", c.endpoints.Economy, itemID)
	if err := c.do(ctx, "resale data", http.MethodGet, u, nil, true, &resp); err != nil {
		return models.ResaleData{}, err
	}
	out := models.ResaleData{
		HasAveragePrice: resp.RecentAveragePrice != nil,
		HasPriceHistory: resp.PriceDataPoints != nil && string(*resp.PriceDataPoints) != "null",
	}
	if resp.RecentAveragePrice != nil {
		out.AveragePrice = *resp.RecentAveragePrice
	}
	return out, nil
}

type itemDetailsResponse struct {
	Name    string `json:"Name"`
	Creator struct {
		Name string `json:"Name"`
	} `json:"Creator"`
}

// ItemDetails fetches an item's catalog name and creator.
func (c *Client) ItemDetails(ctx context.Context, itemID int64) (models.ItemDetails, error) {
	var resp itemDetailsResponse
	u := fmt.Sprintf("%s/v2/assets/%d/details", c.endpoints.Catalog, itemID)
	if err := c.do(ctx, "item details", http.MethodGet, u, nil, false, &resp); err != nil {
		return models.ItemDetails{}, err
	}
	return models.ItemDetails{ItemID: itemID, Name: resp.Name, CreatorName: resp.Creator.Name}, nil
}

// do performs an HTTP request with retry logic and decodes the JSON response into out.
// Network errors, 429 and 5xx are transient; 400 and 404 are not found.
func (c *Client) do(ctx context.Context, op, method, urlStr string, body any, authenticated bool, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
	}

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return apperr.Transient(op, ctx.Err())
			case <-time.After(c.retryDelayBase * time.Duration(i)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, urlStr, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("%s: failed to create request: %w", op, err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if authenticated && c.credentials != nil {
			req.AddCookie(&http.Cookie{Name: ".ROBLOSECURITY", Value: c.credentials.Next()})
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return apperr.New(apperr.KindNotFound, op, fmt.Sprintf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg)))
		case resp.StatusCode != http.StatusOK:
			resp.Body.Close()
			return apperr.Transient(op, fmt.Errorf("unexpected status: %d", resp.StatusCode))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return apperr.Transient(op, fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	}

	return apperr.Transient(op, fmt.Errorf("max retries exceeded: %w", lastErr))
}
