// Package statestore keeps the agent's local state in an embedded SQLite file:
// the notification permission, the ids left scheduled by the last sync pass
// and the log of fired proximity alerts.
package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/medrex/healthon/pkg/types"
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

// timeLayout has a fixed width so stored timestamps compare as strings
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS permission_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		status TEXT NOT NULL,
		user_dismissed_prompt INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fired_alerts (
		key TEXT PRIMARY KEY,
		fired_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fired_alerts_fired_at ON fired_alerts(fired_at)`,
	`CREATE TABLE IF NOT EXISTS scheduled_notifications (
		patient_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		id INTEGER NOT NULL,
		PRIMARY KEY (patient_id, kind, id)
	)`,
}

// Store is the SQLite-backed permission store, schedule ledger and fired log
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serialises writers
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping state store: %w", err)
	}

	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate state store: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database for health reporting
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadPermission returns the persisted permission state. A fresh store reads as unrequested.
func (s *Store) LoadPermission(ctx context.Context) (types.PermissionState, error) {
	var (
		state     types.PermissionState
		status    string
		dismissed bool
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status, user_dismissed_prompt, updated_at FROM permission_state WHERE id = 1`,
	).Scan(&status, &dismissed, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.PermissionState{Status: types.PermissionUnrequested}, nil
	}
	if err != nil {
		return state, fmt.Errorf("failed to load permission state: %w", err)
	}

	state.Status = types.PermissionStatus(status)
	state.UserDismissedPrompt = dismissed
	if t, err := time.Parse(timeLayout, updatedAt); err == nil {
		state.UpdatedAt = t
	}
	return state, nil
}

// SavePermission replaces the persisted permission state
func (s *Store) SavePermission(ctx context.Context, state types.PermissionState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permission_state (id, status, user_dismissed_prompt, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			user_dismissed_prompt = excluded.user_dismissed_prompt,
			updated_at = excluded.updated_at`,
		string(state.Status),
		state.UserDismissedPrompt,
		state.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save permission state: %w", err)
	}
	return nil
}

// MarkFired records key and reports whether this call created the record
func (s *Store) MarkFired(ctx context.Context, key string, firedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO fired_alerts (key, fired_at) VALUES (?, ?)`,
		key, firedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark %s as fired: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark %s as fired: %w", key, err)
	}
	return n == 1, nil
}

// PruneFired deletes fired records older than before and returns how many were removed
func (s *Store) PruneFired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM fired_alerts WHERE fired_at < ?`,
		before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune fired alerts: %w", err)
	}
	return res.RowsAffected()
}

// LoadScheduled returns the ids recorded for patientID by the last sync pass
func (s *Store) LoadScheduled(ctx context.Context, patientID string) (map[types.SourceKind][]uint32, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, id FROM scheduled_notifications WHERE patient_id = ? ORDER BY kind, id`,
		patientID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduled notifications: %w", err)
	}
	defer rows.Close()

	ids := make(map[types.SourceKind][]uint32)
	for rows.Next() {
		var (
			kind string
			id   int64
		)
		if err := rows.Scan(&kind, &id); err != nil {
			return nil, fmt.Errorf("failed to scan scheduled notification: %w", err)
		}
		ids[types.SourceKind(kind)] = append(ids[types.SourceKind(kind)], uint32(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read scheduled notifications: %w", err)
	}
	return ids, nil
}

// SaveScheduled replaces the ids recorded for patientID
func (s *Store) SaveScheduled(ctx context.Context, patientID string, ids map[types.SourceKind][]uint32) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schedule ledger update: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_notifications WHERE patient_id = ?`, patientID); err != nil {
		return fmt.Errorf("failed to clear scheduled notifications: %w", err)
	}
	for kind, list := range ids {
		for _, id := range list {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO scheduled_notifications (patient_id, kind, id) VALUES (?, ?, ?)`,
				patientID, string(kind), int64(id),
			); err != nil {
				return fmt.Errorf("failed to record scheduled notification %d: %w", id, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schedule ledger update: %w", err)
	}
	return nil
}
