// Package localstore is the device-local durable storage: the pending write
// queue and the member directory cache, both on sqlite so they survive
// process restarts.
package localstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"miqaatsync/internal/model"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS pending_queue (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		token      TEXT UNIQUE NOT NULL,
		miqaat_id  TEXT NOT NULL,
		entry      TEXT NOT NULL,
		queued_at  DATETIME NOT NULL,
		last_error TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS member_cache (
		its      TEXT PRIMARY KEY,
		card_id  TEXT NOT NULL DEFAULT '',
		name     TEXT NOT NULL,
		mohallah TEXT NOT NULL DEFAULT '',
		team     TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS cache_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_member_cache_card ON member_cache(card_id);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *Store) Close() error { return s.db.Close() }

// -------- Pending queue --------

// Enqueue appends a record at the tail of the queue.
func (s *Store) Enqueue(rec model.PendingRecord) error {
	if rec.Token == "" {
		return fmt.Errorf("enqueue: idempotency token required")
	}
	if rec.QueuedAt.IsZero() {
		rec.QueuedAt = time.Now().UTC()
	}
	entry, err := json.Marshal(rec.Entry)
	if err != nil {
		return fmt.Errorf("enqueue: encode entry: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO pending_queue (token, miqaat_id, entry, queued_at, last_error)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.Token, rec.MiqaatID, string(entry), rec.QueuedAt, rec.LastError,
	)
	return err
}

// Pending returns all queued records in FIFO insertion order.
func (s *Store) Pending() ([]model.PendingRecord, error) {
	rows, err := s.db.Query(
		`SELECT token, miqaat_id, entry, queued_at, last_error FROM pending_queue ORDER BY seq`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []model.PendingRecord
	for rows.Next() {
		var rec model.PendingRecord
		var entry string
		if err := rows.Scan(&rec.Token, &rec.MiqaatID, &entry, &rec.QueuedAt, &rec.LastError); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(entry), &rec.Entry); err != nil {
			return nil, fmt.Errorf("decode entry %s: %w", rec.Token, err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Remove deletes a record by idempotency token. Removing an absent token is
// a no-op so a crash between remote confirm and delete stays recoverable.
func (s *Store) Remove(token string) error {
	_, err := s.db.Exec(`DELETE FROM pending_queue WHERE token = ?`, token)
	return err
}

// RecordFailure stores the last sync error for operator display.
func (s *Store) RecordFailure(token, detail string) error {
	_, err := s.db.Exec(`UPDATE pending_queue SET last_error = ? WHERE token = ?`, detail, token)
	return err
}

// PendingCount returns the queue depth.
func (s *Store) PendingCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pending_queue`).Scan(&n)
	return n, err
}

// -------- Member cache --------

const metaMiqaatKey = "cache_miqaat_id"

// ReplaceMembers swaps the whole cache content in one transaction and stamps
// it with the miqaat it was fetched for. Readers never see a partial cache.
func (s *Store) ReplaceMembers(members []model.Member, miqaatID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM member_cache`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(
		`INSERT INTO member_cache (its, card_id, name, mohallah, team) VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, m := range members {
		if _, err := stmt.Exec(m.ITS, m.CardID, m.Name, m.Mohallah, m.Team); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(
		`INSERT INTO cache_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaMiqaatKey, miqaatID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// LookupMember resolves an identifier, primary (ITS) first then card id.
// Returns nil when absent.
func (s *Store) LookupMember(ident string) (*model.Member, error) {
	var m model.Member
	err := s.db.QueryRow(
		`SELECT its, card_id, name, mohallah, team FROM member_cache WHERE its = ?`, ident,
	).Scan(&m.ITS, &m.CardID, &m.Name, &m.Mohallah, &m.Team)
	if err == sql.ErrNoRows {
		err = s.db.QueryRow(
			`SELECT its, card_id, name, mohallah, team FROM member_cache WHERE card_id = ? AND card_id != ''`, ident,
		).Scan(&m.ITS, &m.CardID, &m.Name, &m.Mohallah, &m.Team)
	}
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CacheMiqaatID returns the miqaat the cache was last refreshed for, or ""
// when the cache has never been filled.
func (s *Store) CacheMiqaatID() (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT value FROM cache_meta WHERE key = ?`, metaMiqaatKey).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, err
}

// IsStale reports whether the cache stamp differs from the miqaat being
// marked. Staleness is a warning, never an error: lookups keep working.
func (s *Store) IsStale(miqaatID string) (bool, error) {
	stamp, err := s.CacheMiqaatID()
	if err != nil {
		return false, err
	}
	return stamp != miqaatID, nil
}
