package database

import (
	"context"
	"fmt"
	"time"
)

type SettingsRepo struct {
	db *DB
}

func NewSettingsRepository(db *DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

// Get returns the stored JSON for key, or nil when the key was never written.
func (r *SettingsRepo) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := r.db.GetContext(ctx, &value, `SELECT value FROM settings WHERE key = ?`, key)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return []byte(value), nil
}

func (r *SettingsRepo) Put(ctx context.Context, key string, value []byte, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, string(value), ts(at))
	if err != nil {
		return fmt.Errorf("failed to put setting %s: %w", key, err)
	}
	return nil
}
