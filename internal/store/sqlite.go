// Package store persists snapshots of the associative memory to SQLite so a
// process can restore the store it left behind.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/stream-fusion/internal/model"
)

// SQLiteStore holds one snapshot of memory items and their association edges.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memory_items (
		id               TEXT PRIMARY KEY,
		content          TEXT NOT NULL,
		context          TEXT,
		created_at       TEXT NOT NULL,
		importance       REAL NOT NULL,
		spiral_r         REAL NOT NULL,
		spiral_theta     REAL NOT NULL,
		spiral_z         REAL NOT NULL,
		spiral_index     INTEGER NOT NULL,
		resonance        REAL NOT NULL,
		access_count     INTEGER NOT NULL DEFAULT 0,
		last_accessed_at TEXT NOT NULL,
		decay            REAL NOT NULL DEFAULT 0,
		compressed       INTEGER NOT NULL DEFAULT 0,
		essence_words    INTEGER,
		essence_hash     TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_items_spiral ON memory_items(spiral_index);

	CREATE TABLE IF NOT EXISTS memory_associations (
		a_id     TEXT NOT NULL REFERENCES memory_items(id) ON DELETE CASCADE,
		b_id     TEXT NOT NULL REFERENCES memory_items(id) ON DELETE CASCADE,
		strength REAL NOT NULL,
		PRIMARY KEY (a_id, b_id)
	);
	CREATE INDEX IF NOT EXISTS idx_assoc_b ON memory_associations(b_id);

	CREATE TABLE IF NOT EXISTS snapshot_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save replaces the stored snapshot with items in one transaction. Each
// undirected association is written once, with the smaller id first.
func (s *SQLiteStore) Save(ctx context.Context, items []model.MemoryItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_associations`); err != nil {
		return fmt.Errorf("clear associations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_items`); err != nil {
		return fmt.Errorf("clear items: %w", err)
	}

	itemStmt, err := tx.PrepareContext(ctx, `INSERT INTO memory_items
		(id, content, context, created_at, importance, spiral_r, spiral_theta, spiral_z, spiral_index,
		 resonance, access_count, last_accessed_at, decay, compressed, essence_words, essence_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare item insert: %w", err)
	}
	defer itemStmt.Close()

	ids := make(map[string]bool, len(items))
	for _, it := range items {
		var ctxJSON sql.NullString
		if len(it.Context) > 0 {
			b, err := json.Marshal(it.Context)
			if err != nil {
				return fmt.Errorf("marshal context for %s: %w", it.ID, err)
			}
			ctxJSON = sql.NullString{String: string(b), Valid: true}
		}
		var words sql.NullInt64
		var hash sql.NullString
		if it.Essence != nil {
			words = sql.NullInt64{Int64: int64(it.Essence.WordCount), Valid: true}
			hash = sql.NullString{String: it.Essence.Hash, Valid: true}
		}
		_, err := itemStmt.ExecContext(ctx,
			it.ID, it.Content, ctxJSON, formatTime(it.CreatedAt), it.Importance,
			it.Spiral.Radius, it.Spiral.Angle, it.Spiral.Elevation, it.Spiral.Index,
			it.Resonance, it.AccessCount, formatTime(it.LastAccessedAt), it.Decay,
			boolInt(it.Compressed), words, hash,
		)
		if err != nil {
			return fmt.Errorf("insert item %s: %w", it.ID, err)
		}
		ids[it.ID] = true
	}

	assocStmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO memory_associations (a_id, b_id, strength) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare association insert: %w", err)
	}
	defer assocStmt.Close()

	for _, it := range items {
		for _, as := range it.Associations {
			if it.ID >= as.ID || !ids[as.ID] {
				continue
			}
			if _, err := assocStmt.ExecContext(ctx, it.ID, as.ID, as.Strength); err != nil {
				return fmt.Errorf("insert association %s-%s: %w", it.ID, as.ID, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO snapshot_meta (key, value) VALUES ('saved_at', ?)`,
		formatTime(time.Now())); err != nil {
		return fmt.Errorf("stamp snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load returns the stored items in insertion order with associations
// attached to both endpoints. An empty database yields an empty slice.
func (s *SQLiteStore) Load(ctx context.Context) ([]model.MemoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, content, context, created_at, importance, spiral_r, spiral_theta, spiral_z, spiral_index,
		resonance, access_count, last_accessed_at, decay, compressed, essence_words, essence_hash
		FROM memory_items ORDER BY spiral_index, id`)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := []model.MemoryItem{}
	index := make(map[string]int)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		index[it.ID] = len(items)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	arows, err := s.db.QueryContext(ctx, `SELECT a_id, b_id, strength FROM memory_associations`)
	if err != nil {
		return nil, fmt.Errorf("query associations: %w", err)
	}
	defer arows.Close()

	for arows.Next() {
		var a, b string
		var strength float64
		if err := arows.Scan(&a, &b, &strength); err != nil {
			return nil, fmt.Errorf("scan association: %w", err)
		}
		ia, okA := index[a]
		ib, okB := index[b]
		if !okA || !okB {
			continue
		}
		items[ia].Associations = append(items[ia].Associations, model.Association{ID: b, Strength: strength})
		items[ib].Associations = append(items[ib].Associations, model.Association{ID: a, Strength: strength})
	}
	if err := arows.Err(); err != nil {
		return nil, err
	}

	for i := range items {
		as := items[i].Associations
		sort.Slice(as, func(x, y int) bool { return as[x].ID < as[y].ID })
	}
	return items, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row scanner) (model.MemoryItem, error) {
	var it model.MemoryItem
	var ctxJSON, hash sql.NullString
	var words sql.NullInt64
	var createdAt, lastAccessed string
	var compressed int

	err := row.Scan(
		&it.ID, &it.Content, &ctxJSON, &createdAt, &it.Importance,
		&it.Spiral.Radius, &it.Spiral.Angle, &it.Spiral.Elevation, &it.Spiral.Index,
		&it.Resonance, &it.AccessCount, &lastAccessed, &it.Decay, &compressed, &words, &hash,
	)
	if err != nil {
		return it, err
	}

	it.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	it.LastAccessedAt, _ = time.Parse(time.RFC3339Nano, lastAccessed)
	it.Compressed = compressed != 0
	if ctxJSON.Valid {
		if err := json.Unmarshal([]byte(ctxJSON.String), &it.Context); err != nil {
			return it, fmt.Errorf("context for %s: %w", it.ID, err)
		}
	}
	if words.Valid || hash.Valid {
		it.Essence = &model.Essence{WordCount: int(words.Int64), Hash: hash.String}
	}
	return it, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
