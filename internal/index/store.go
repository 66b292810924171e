// Package index owns the persistent entry store and answers queries
// against it.
//
// The store is an embedded SQLite database (modernc.org/sqlite, pure Go)
// holding one denormalized row per filesystem entry plus an FTS5 shadow
// table over path and filename. Triggers keep the shadow table aligned
// with the entries table on insert, delete, and update, so the two can
// never drift apart within a committed transaction.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fsearch/fsearch/internal/observability"
	"github.com/fsearch/fsearch/internal/scan"
)

// ErrClosed is returned by every operation on a closed store.
var ErrClosed = errors.New("index: store is closed")

// batchSize is the number of rows between progress callbacks during a
// rebuild.
const batchSize = 1000

// Store is the embedded index over filesystem entries.
//
// A single mutex serializes every operation for its full duration. In
// particular the lock is held for the whole rebuild transaction, not per
// batch: queries issued during a rebuild block until it finishes, and in
// exchange can never observe a half-replaced table. Per-batch locking
// would be more responsive but exposes an empty or partial index
// mid-rebuild.
type Store struct {
	mu       sync.Mutex
	db       *sql.DB
	location string
	logger   *observability.Logger
}

// Open opens (or creates) the index database at location and provisions
// the schema if absent. Use ":memory:" for an in-memory database. Opening
// a database written by an older schema version performs an additive
// migration instead of failing.
func Open(location string, logger *observability.Logger) (*Store, error) {
	if logger == nil {
		logger = observability.NewLogger("index", nil)
	}
	s := &Store{location: location, logger: logger}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

// connect opens the database handle and provisions the schema. Caller
// must not hold db state; s.location must be set.
func (s *Store) connect() error {
	if s.location != ":memory:" {
		if dir := filepath.Dir(s.location); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create index dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", s.location)
	if err != nil {
		return fmt.Errorf("open sqlite %q: %w", s.location, err)
	}
	// The store-wide mutex admits one operation at a time, so a single
	// connection suffices. It also keeps ":memory:" databases coherent,
	// since each new connection would otherwise get a fresh database.
	db.SetMaxOpenConns(1)

	// WAL with relaxed sync: the index is fully rebuildable from the
	// filesystem, so durability of the very latest write is not required.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return fmt.Errorf("set synchronous mode: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return fmt.Errorf("provision schema: %w", err)
	}

	s.db = db
	s.logger.Debug("store opened", "location", s.location)
	return nil
}

// initSchema creates the entries table, the meta table, the FTS5 shadow
// table, and the synchronization triggers. Safe to run repeatedly.
func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		path       TEXT NOT NULL UNIQUE,
		path_lower TEXT NOT NULL,
		filename   TEXT NOT NULL,
		modified   REAL NOT NULL,
		size       INTEGER NOT NULL,
		is_dir     INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT
	);`
	if _, err := db.Exec(schema); err != nil {
		return err
	}

	if err := migrateEntries(db); err != nil {
		return err
	}

	shadow := `
	CREATE INDEX IF NOT EXISTS idx_entries_path_lower ON entries(path_lower);
	CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(
		path, filename, content='entries', content_rowid='id',
		tokenize='unicode61 remove_diacritics 1'
	);
	CREATE TRIGGER IF NOT EXISTS entries_ai AFTER INSERT ON entries BEGIN
		INSERT INTO entries_fts(rowid, path, filename)
		VALUES (new.id, new.path, new.filename);
	END;
	CREATE TRIGGER IF NOT EXISTS entries_ad AFTER DELETE ON entries BEGIN
		INSERT INTO entries_fts(entries_fts, rowid, path, filename)
		VALUES ('delete', old.id, old.path, old.filename);
	END;
	CREATE TRIGGER IF NOT EXISTS entries_au AFTER UPDATE ON entries BEGIN
		INSERT INTO entries_fts(entries_fts, rowid, path, filename)
		VALUES ('delete', old.id, old.path, old.filename);
		INSERT INTO entries_fts(rowid, path, filename)
		VALUES (new.id, new.path, new.filename);
	END;`
	_, err := db.Exec(shadow)
	return err
}

// migrateEntries adds columns introduced after the first schema version.
func migrateEntries(db *sql.DB) error {
	rows, err := db.Query("PRAGMA table_info(entries)")
	if err != nil {
		return err
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return err
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if !cols["path_lower"] {
		if _, err := db.Exec(`ALTER TABLE entries ADD COLUMN path_lower TEXT NOT NULL DEFAULT ''`); err != nil {
			return err
		}
		if _, err := db.Exec(`UPDATE entries SET path_lower = lower(path) WHERE path_lower = ''`); err != nil {
			return err
		}
	}
	if !cols["is_dir"] {
		if _, err := db.Exec(`ALTER TABLE entries ADD COLUMN is_dir INTEGER NOT NULL DEFAULT 0`); err != nil {
			return err
		}
	}
	return nil
}

// Location returns the database location this store is bound to.
func (s *Store) Location() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.location
}

// SwitchLocation releases the current connection and re-opens the store
// against newLocation. A no-op when the location is unchanged and the
// store is open.
func (s *Store) SwitchLocation(newLocation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if newLocation == s.location && s.db != nil {
		return nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("close %q: %w", s.location, err)
		}
		s.db = nil
	}
	s.location = newLocation
	return s.connect()
}

// Rebuild replaces the entire entry set with the incoming sequence and
// returns the number of entries indexed. The delete and all inserts run
// in one transaction, so readers observe either the old or the new
// generation. onProgress, when non-nil, is called after every flushed
// batch and once at the end; it runs on the calling goroutine inside the
// store's critical section and must not call back into the store.
func (s *Store) Rebuild(ctx context.Context, entries iter.Seq[scan.Entry], onProgress func(string)) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, ErrClosed
	}

	start := time.Now()
	rebuildID := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin rebuild: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM entries"); err != nil {
		return 0, fmt.Errorf("clear entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (path, path_lower, filename, modified, size, is_dir)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			path_lower = excluded.path_lower,
			filename   = excluded.filename,
			modified   = excluded.modified,
			size       = excluded.size,
			is_dir     = excluded.is_dir`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	count := 0
	inBatch := 0
	for e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.Path, e.PathLower(), e.Filename,
			unixSeconds(e.Modified), e.Size, boolToInt(e.IsDir),
		); err != nil {
			return 0, fmt.Errorf("insert %q: %w", e.Path, err)
		}
		count++
		inBatch++
		if inBatch >= batchSize {
			inBatch = 0
			if onProgress != nil {
				onProgress(fmt.Sprintf("Indexed %d items...", count))
			}
		}
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO meta(key, value) VALUES (?, ?), (?, ?)",
		metaLastIndexTime, formatSeconds(now),
		metaLastIndexID, rebuildID,
	); err != nil {
		return 0, fmt.Errorf("record index time: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit rebuild: %w", err)
	}

	duration := time.Since(start)
	s.logger.RebuildEvent(rebuildID, count, duration, "location", s.location)
	if onProgress != nil {
		onProgress(fmt.Sprintf("Done. %d items in %.2fs.", count, duration.Seconds()))
	}
	return count, nil
}

// IsIndexed reports whether the store holds at least one entry.
func (s *Store) IsIndexed(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return false, ErrClosed
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&count); err != nil {
		return false, fmt.Errorf("count entries: %w", err)
	}
	return count > 0, nil
}

// Stats describes the current state of the index.
type Stats struct {
	TotalItems       int        `json:"total_items"`
	LastIndexTime    *time.Time `json:"last_index_time,omitempty"`
	LastIndexID      string     `json:"last_index_id,omitempty"`
	StorageSizeBytes int64      `json:"storage_size_bytes"`
	Location         string     `json:"location"`
}

// GetStats returns entry count, last rebuild bookkeeping, and the size of
// the database file on disk.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return Stats{}, ErrClosed
	}

	stats := Stats{Location: s.location}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&stats.TotalItems); err != nil {
		return Stats{}, fmt.Errorf("count entries: %w", err)
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM meta WHERE key = ?", metaLastIndexTime).Scan(&value)
	switch {
	case err == sql.ErrNoRows:
		// Never rebuilt.
	case err != nil:
		return Stats{}, fmt.Errorf("read last index time: %w", err)
	default:
		if secs, perr := strconv.ParseFloat(value, 64); perr == nil {
			t := timeFromSeconds(secs)
			stats.LastIndexTime = &t
		}
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT value FROM meta WHERE key = ?", metaLastIndexID).Scan(&stats.LastIndexID)
	if err != nil && err != sql.ErrNoRows {
		return Stats{}, fmt.Errorf("read last index id: %w", err)
	}

	if info, err := os.Stat(s.location); err == nil {
		stats.StorageSizeBytes = info.Size()
	}
	return stats, nil
}

// Close releases the underlying connection. Further operations return
// ErrClosed. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("close %q: %w", s.location, err)
	}
	return nil
}

const (
	metaLastIndexTime = "last_index_time"
	metaLastIndexID   = "last_index_id"
)

// unixSeconds converts a time to floating-point seconds since the epoch,
// the representation stored in the modified column.
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func timeFromSeconds(secs float64) time.Time {
	return time.Unix(0, int64(secs*float64(time.Second)))
}

func formatSeconds(t time.Time) string {
	return strconv.FormatFloat(unixSeconds(t), 'f', -1, 64)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
