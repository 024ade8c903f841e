// Package storage provides SQLite-backed persistence for tracking lists and
// changelog broadcast state.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rewired-gh/soulwatch/internal/models"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/soulwatch/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "soulwatch", "data.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			id          TEXT PRIMARY KEY,
			position    INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tracked_users (
			tenant_id   TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			user_id     TEXT NOT NULL,
			position    INTEGER NOT NULL,
			PRIMARY KEY (tenant_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS tracked_items (
			tenant_id        TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			item_id          INTEGER NOT NULL,
			last_known_price REAL,
			position         INTEGER NOT NULL,
			PRIMARY KEY (tenant_id, item_id)
		)`,
		`CREATE TABLE IF NOT EXISTS changelog_state (
			id                INTEGER PRIMARY KEY CHECK (id = 1),
			last_sent_version TEXT NOT NULL,
			sent_at           INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// LoadTenants returns all persisted tenants in their saved order.
func (s *Storage) LoadTenants(ctx context.Context) ([]models.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tenants ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	var tenants []models.Tenant
	index := make(map[string]int)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		index[id] = len(tenants)
		tenants = append(tenants, models.Tenant{ID: id})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	userRows, err := s.db.QueryContext(ctx, `SELECT tenant_id, user_id FROM tracked_users ORDER BY tenant_id, position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracked users: %w", err)
	}
	for userRows.Next() {
		var tenantID, userID string
		if err := userRows.Scan(&tenantID, &userID); err != nil {
			userRows.Close()
			return nil, fmt.Errorf("failed to scan tracked user: %w", err)
		}
		if i, ok := index[tenantID]; ok {
			tenants[i].Users = append(tenants[i].Users, userID)
		}
	}
	userRows.Close()
	if err := userRows.Err(); err != nil {
		return nil, err
	}

	itemRows, err := s.db.QueryContext(ctx, `SELECT tenant_id, item_id, last_known_price FROM tracked_items ORDER BY tenant_id, position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracked items: %w", err)
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var tenantID string
		var item models.TrackedItem
		var price sql.NullFloat64
		if err := itemRows.Scan(&tenantID, &item.ID, &price); err != nil {
			return nil, fmt.Errorf("failed to scan tracked item: %w", err)
		}
		if price.Valid {
			p := price.Float64
			item.LastKnownPrice = &p
		}
		if i, ok := index[tenantID]; ok {
			tenants[i].Items = append(tenants[i].Items, item)
		}
	}
	if tenants == nil {
		tenants = []models.Tenant{}
	}
	return tenants, itemRows.Err()
}

// SaveTenants rewrites the tracking lists in one transaction.
func (s *Storage) SaveTenants(ctx context.Context, tenants []models.Tenant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM tenants`); err != nil {
		return fmt.Errorf("failed to clear tenants: %w", err)
	}
	for pos, t := range tenants {
		if _, err := tx.ExecContext(ctx, `INSERT INTO tenants (id, position) VALUES (?,?)`, t.ID, pos); err != nil {
			return fmt.Errorf("failed to insert tenant %s: %w", t.ID, err)
		}
		for i, userID := range t.Users {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tracked_users (tenant_id, user_id, position) VALUES (?,?,?)`,
				t.ID, userID, i,
			); err != nil {
				return fmt.Errorf("failed to insert tracked user %s: %w", userID, err)
			}
		}
		for i, item := range t.Items {
			var price sql.NullFloat64
			if item.LastKnownPrice != nil {
				price = sql.NullFloat64{Float64: *item.LastKnownPrice, Valid: true}
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tracked_items (tenant_id, item_id, last_known_price, position) VALUES (?,?,?,?)`,
				t.ID, item.ID, price, i,
			); err != nil {
				return fmt.Errorf("failed to insert tracked item %d: %w", item.ID, err)
			}
		}
	}

	return tx.Commit()
}

// SaveItemPrice updates the last known price of one tracked item.
func (s *Storage) SaveItemPrice(ctx context.Context, tenantID string, itemID int64, price float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tracked_items SET last_known_price = ? WHERE tenant_id = ? AND item_id = ?`,
		price, tenantID, itemID,
	)
	if err != nil {
		return fmt.Errorf("failed to update price of item %d: %w", itemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update price of item %d: %w", itemID, err)
	}
	if n == 0 {
		return fmt.Errorf("item %d of tenant %s is not stored", itemID, tenantID)
	}
	return nil
}

// LoadChangelogState returns the zero state when nothing was broadcast yet.
func (s *Storage) LoadChangelogState(ctx context.Context) (models.ChangelogState, error) {
	var state models.ChangelogState
	var sentAtNano int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sent_version, sent_at FROM changelog_state WHERE id = 1`,
	).Scan(&state.LastSentVersion, &sentAtNano)
	if err == sql.ErrNoRows {
		return models.ChangelogState{}, nil
	}
	if err != nil {
		return models.ChangelogState{}, fmt.Errorf("failed to load changelog state: %w", err)
	}
	state.SentAt = time.Unix(0, sentAtNano)
	return state, nil
}

func (s *Storage) SaveChangelogState(ctx context.Context, state models.ChangelogState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO changelog_state (id, last_sent_version, sent_at)
		VALUES (1, ?, ?)`,
		state.LastSentVersion, state.SentAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save changelog state: %w", err)
	}
	return nil
}
