package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable cache tier. It survives restarts but never
// serves an entry past its expiry.
type SQLiteStore struct {
	path    string
	readDB  *sql.DB
	writeDB *sql.DB
	now     func() time.Time
}

func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	writeDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening write db: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	s := &SQLiteStore{path: dbPath, writeDB: writeDB, now: time.Now}
	if err := s.init(); err != nil {
		s.Close()
		return nil, err
	}

	readDB, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("opening read db: %w", err)
	}
	s.readDB = readDB
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.writeDB.Exec(`
		PRAGMA journal_mode = WAL;
		CREATE TABLE IF NOT EXISTS entries (
			fingerprint TEXT PRIMARY KEY,
			namespace   TEXT NOT NULL,
			payload     BLOB NOT NULL,
			stored_at   INTEGER NOT NULL,
			ttl         INTEGER NOT NULL,
			expires_at  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_entries_expires ON entries(expires_at);
		CREATE INDEX IF NOT EXISTS idx_entries_namespace ON entries(namespace);
	`)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	var errs []error
	if s.readDB != nil {
		errs = append(errs, s.readDB.Close())
	}
	if s.writeDB != nil {
		errs = append(errs, s.writeDB.Close())
	}
	return errors.Join(errs...)
}

func (s *SQLiteStore) Get(ctx context.Context, fingerprint string) (Entry, bool, error) {
	var (
		e        Entry
		storedAt int64
		ttl      int64
	)
	err := s.readDB.QueryRowContext(ctx,
		`SELECT fingerprint, namespace, payload, stored_at, ttl FROM entries WHERE fingerprint = ?`,
		fingerprint,
	).Scan(&e.Fingerprint, &e.Namespace, &e.Payload, &storedAt, &ttl)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("reading entry: %w", err)
	}
	e.StoredAt = time.Unix(0, storedAt)
	e.TTL = time.Duration(ttl)

	if e.Expired(s.now()) {
		if err := s.Delete(ctx, fingerprint); err != nil {
			return Entry{}, false, err
		}
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, e Entry) error {
	_, err := s.writeDB.ExecContext(ctx, `
		INSERT INTO entries (fingerprint, namespace, payload, stored_at, ttl, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			payload = excluded.payload,
			stored_at = excluded.stored_at,
			ttl = excluded.ttl,
			expires_at = excluded.expires_at
	`, e.Fingerprint, e.Namespace, e.Payload, e.StoredAt.UnixNano(), int64(e.TTL), e.ExpiresAt().UnixNano())
	if err != nil {
		return fmt.Errorf("writing entry %s: %w", e.Fingerprint, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, fingerprint string) error {
	if _, err := s.writeDB.ExecContext(ctx, `DELETE FROM entries WHERE fingerprint = ?`, fingerprint); err != nil {
		return fmt.Errorf("deleting entry %s: %w", fingerprint, err)
	}
	return nil
}

// Prune deletes every expired entry and reclaims disk space.
func (s *SQLiteStore) Prune(ctx context.Context) (int64, error) {
	res, err := s.writeDB.ExecContext(ctx, `DELETE FROM entries WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("pruning entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.writeDB.ExecContext(ctx, `VACUUM`)
	}
	return n, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.readDB.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0) FROM entries`,
		s.now().UnixNano(),
	).Scan(&st.Entries, &st.Expired)
	if err != nil {
		return Stats{}, fmt.Errorf("counting entries: %w", err)
	}
	if info, err := os.Stat(s.path); err == nil {
		st.Size = info.Size()
	}
	return st, nil
}

// Path is the database file location.
func (s *SQLiteStore) Path() string { return s.path }
