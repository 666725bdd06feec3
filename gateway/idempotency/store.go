// Package idempotency replays responses for repeated Idempotency-Key requests
// and keeps an audit log of every mutating API call.
package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

// ErrMismatch is returned when a key is reused with a different request.
var ErrMismatch = errors.New("idempotency key reused with a different request")

// Store persists idempotency keys and the audit log in sqlite.
type Store struct {
	db *sql.DB
}

// StoredResponse is a cached response for an idempotency key.
type StoredResponse struct {
	Status int
	Body   []byte
}

type AuditEntry struct {
	Principal      string
	Method         string
	Path           string
	IdempotencyKey string
	RequestBody    []byte
	ResponseStatus int
	ResponseBody   []byte
	Replayed       bool
	Timestamp      time.Time
}

// Open opens (creating if needed) the sqlite database at path. An empty path
// uses a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = fmt.Sprintf("file:idempotency-%s?mode=memory&cache=shared", uuid.NewString())
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	store := &Store{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
            principal TEXT NOT NULL,
            idempotency_key TEXT NOT NULL,
            request_hash TEXT NOT NULL,
            response_status INTEGER NOT NULL,
            response_body BLOB NOT NULL,
            created_at TIMESTAMP NOT NULL,
            PRIMARY KEY(principal, idempotency_key)
        );`,
		`CREATE TABLE IF NOT EXISTS audit_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            occurred_at TIMESTAMP NOT NULL,
            principal TEXT,
            method TEXT NOT NULL,
            path TEXT NOT NULL,
            idempotency_key TEXT,
            request_body BLOB,
            response_status INTEGER,
            response_body BLOB,
            replayed INTEGER NOT NULL DEFAULT 0
        );`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init idempotency schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Lookup returns the stored response, nil when the key is unused, or
// ErrMismatch when the key was used for a different request.
func (s *Store) Lookup(ctx context.Context, principal, key, requestHash string) (*StoredResponse, error) {
	const query = `SELECT response_status, response_body, request_hash FROM idempotency_keys WHERE principal = ? AND idempotency_key = ?`
	row := s.db.QueryRowContext(ctx, query, principal, key)
	var status int
	var body []byte
	var storedHash string
	err := row.Scan(&status, &body, &storedHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if storedHash != requestHash {
		return nil, ErrMismatch
	}
	return &StoredResponse{Status: status, Body: body}, nil
}

func (s *Store) Save(ctx context.Context, principal, key, requestHash string, status int, body []byte) error {
	const stmt = `INSERT OR REPLACE INTO idempotency_keys(principal, idempotency_key, request_hash, response_status, response_body, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, principal, key, requestHash, status, body, time.Now().UTC())
	return err
}

func (s *Store) InsertAuditLog(ctx context.Context, entry AuditEntry) error {
	const stmt = `INSERT INTO audit_log(principal, method, path, idempotency_key, request_body, response_status, response_body, replayed, occurred_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, entry.Principal, entry.Method, entry.Path, entry.IdempotencyKey,
		entry.RequestBody, entry.ResponseStatus, entry.ResponseBody, entry.Replayed, entry.Timestamp)
	return err
}

// RecentAudit returns up to limit audit entries, newest first.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT principal, method, path, idempotency_key, request_body, response_status, response_body, replayed, occurred_at FROM audit_log ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var (
			entry     AuditEntry
			principal sql.NullString
			key       sql.NullString
		)
		if err := rows.Scan(&principal, &entry.Method, &entry.Path, &key, &entry.RequestBody,
			&entry.ResponseStatus, &entry.ResponseBody, &entry.Replayed, &entry.Timestamp); err != nil {
			return nil, err
		}
		entry.Principal = principal.String
		entry.IdempotencyKey = key.String
		out = append(out, entry)
	}
	return out, rows.Err()
}
