package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"
)

// Stats holds snapshot statistics.
type Stats struct {
	DBPath       string     `json:"db_path"`
	DBSizeBytes  int64      `json:"db_size_bytes"`
	Items        int        `json:"items"`
	Compressed   int        `json:"compressed"`
	Associations int        `json:"associations"`
	SavedAt      *time.Time `json:"saved_at,omitempty"`
}

// Stats returns snapshot statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.path}

	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(compressed), 0) FROM memory_items`).
		Scan(&st.Items, &st.Compressed); err != nil {
		return st, fmt.Errorf("count items: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_associations`).
		Scan(&st.Associations); err != nil {
		return st, fmt.Errorf("count associations: %w", err)
	}

	var saved string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM snapshot_meta WHERE key = 'saved_at'`).Scan(&saved)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return st, fmt.Errorf("read saved_at: %w", err)
	default:
		if t, err := time.Parse(time.RFC3339Nano, saved); err == nil {
			st.SavedAt = &t
		}
	}
	return st, nil
}
