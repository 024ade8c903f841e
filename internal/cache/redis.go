package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rewired-gh/soulwatch/internal/models"
)

// Redis implements StateCache with one hash per tenant, so cached presence
// survives restarts and a tenant purge is a single DEL.
type Redis struct {
	client *redis.Client
	prefix string
}

var _ StateCache = (*Redis)(nil)

type redisRecord struct {
	Status    int       `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewRedis(addr, password string, db int, prefix string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Redis{client: client, prefix: prefix}
}

// Ping checks connectivity; used once at startup.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) key(tenantID string) string {
	return fmt.Sprintf("%s:presence:%s", r.prefix, tenantID)
}

func (r *Redis) Get(ctx context.Context, tenantID, userID string) (models.Status, bool, error) {
	data, err := r.client.HGet(ctx, r.key(tenantID), userID).Result()
	if errors.Is(err, redis.Nil) {
		return models.StatusUnknown, false, nil
	}
	if err != nil {
		return models.StatusUnknown, false, fmt.Errorf("failed to read presence: %w", err)
	}
	var rec redisRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return models.StatusUnknown, false, fmt.Errorf("failed to decode presence: %w", err)
	}
	return models.Status(rec.Status), true, nil
}

func (r *Redis) Set(ctx context.Context, tenantID, userID string, status models.Status) error {
	data, err := json.Marshal(redisRecord{Status: int(status), UpdatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to encode presence: %w", err)
	}
	if err := r.client.HSet(ctx, r.key(tenantID), userID, data).Err(); err != nil {
		return fmt.Errorf("failed to write presence: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, tenantID, userID string) error {
	return r.client.HDel(ctx, r.key(tenantID), userID).Err()
}

func (r *Redis) PurgeTenant(ctx context.Context, tenantID string) error {
	return r.client.Del(ctx, r.key(tenantID)).Err()
}

func (r *Redis) Records(ctx context.Context, tenantID string) ([]models.PresenceRecord, error) {
	all, err := r.client.HGetAll(ctx, r.key(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence records: %w", err)
	}
	out := make([]models.PresenceRecord, 0, len(all))
	for userID, data := range all {
		var rec redisRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			continue // skip malformed entries
		}
		out = append(out, models.PresenceRecord{
			TenantID:   tenantID,
			UserID:     userID,
			LastStatus: models.Status(rec.Status),
			UpdatedAt:  rec.UpdatedAt,
		})
	}
	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
