// Package cache holds the last observed presence of every (tenant, user) pair.
// It is the single source of truth for presence change detection.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rewired-gh/soulwatch/internal/models"
)

// StateCache stores PresenceRecords keyed by tenant and user.
type StateCache interface {
	// Get returns the cached status; ok is false when the pair was never observed.
	Get(ctx context.Context, tenantID, userID string) (status models.Status, ok bool, err error)
	Set(ctx context.Context, tenantID, userID string, status models.Status) error
	Delete(ctx context.Context, tenantID, userID string) error
	// PurgeTenant removes every entry of tenantID in one step.
	PurgeTenant(ctx context.Context, tenantID string) error
	Records(ctx context.Context, tenantID string) ([]models.PresenceRecord, error)
	Close() error
}

// Memory is a process-local StateCache.
type Memory struct {
	mu      sync.RWMutex
	tenants map[string]map[string]models.PresenceRecord
}

var _ StateCache = (*Memory)(nil)

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{tenants: make(map[string]map[string]models.PresenceRecord)}
}

func (m *Memory) Get(_ context.Context, tenantID, userID string) (models.Status, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.tenants[tenantID][userID]
	if !ok {
		return models.StatusUnknown, false, nil
	}
	return rec.LastStatus, true, nil
}

func (m *Memory) Set(_ context.Context, tenantID, userID string, status models.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	users, ok := m.tenants[tenantID]
	if !ok {
		users = make(map[string]models.PresenceRecord)
		m.tenants[tenantID] = users
	}
	users[userID] = models.PresenceRecord{
		TenantID:   tenantID,
		UserID:     userID,
		LastStatus: status,
		UpdatedAt:  time.Now(),
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, tenantID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if users, ok := m.tenants[tenantID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(m.tenants, tenantID)
		}
	}
	return nil
}

func (m *Memory) PurgeTenant(_ context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tenants, tenantID)
	return nil
}

func (m *Memory) Records(_ context.Context, tenantID string) ([]models.PresenceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.PresenceRecord, 0, len(m.tenants[tenantID]))
	for _, rec := range m.tenants[tenantID] {
		out = append(out, rec)
	}
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}
