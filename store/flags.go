package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/flowd/errors"
)

// SystemFlag is one row of the system_flags table.
type SystemFlag struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RestartPendingFlag is the system flag that tells every worker sharing
// the database to exit cleanly at its earliest job-empty moment so the
// supervisor relaunches it with fresh configuration.
const RestartPendingFlag = "workers:restart_pending"

// GetFlag returns a system flag value and whether it is set
func (s *Store) GetFlag(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM system_flags WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "failed to get flag %s", key)
	}

	return value, true, nil
}

// SetFlag upserts a system flag
func (s *Store) SetFlag(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_flags (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return errors.Wrapf(err, "failed to set flag %s", key)
	}

	return nil
}

// DeleteFlag removes a system flag. Deleting an absent flag is not an error.
func (s *Store) DeleteFlag(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM system_flags WHERE key = ?`, key)
	if err != nil {
		return errors.Wrapf(err, "failed to delete flag %s", key)
	}

	return nil
}

// ListFlags returns every system flag ordered by key.
func (s *Store) ListFlags(ctx context.Context) ([]SystemFlag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM system_flags ORDER BY key`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list flags")
	}
	defer rows.Close()

	var flags []SystemFlag
	for rows.Next() {
		var f SystemFlag
		if err := rows.Scan(&f.Key, &f.Value, &f.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan flag")
		}
		flags = append(flags, f)
	}

	return flags, errors.Wrap(rows.Err(), "failed to iterate flags")
}
