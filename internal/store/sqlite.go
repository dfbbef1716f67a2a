package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/signdesk/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteBackend implements Backend using SQLite.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLite creates a SQLite-backed document store at dbPath.
func NewSQLite(dbPath string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL plus a busy timeout lets concurrent turns write without SQLITE_BUSY storms.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	backend := &SQLiteBackend{db: db}
	if err := backend.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return backend, nil
}

func (s *SQLiteBackend) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS documents (
		kind TEXT NOT NULL,
		doc_key TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (kind, doc_key)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Name identifies the backend in logs.
func (s *SQLiteBackend) Name() string {
	return "sqlite"
}

// Ping verifies database connectivity.
func (s *SQLiteBackend) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get retrieves a document by kind and key.
func (s *SQLiteBackend) Get(ctx context.Context, kind Kind, key string) (*Document, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE kind = ? AND doc_key = ?`,
		string(kind), key,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s document: %w", kind, err)
	}
	return decodeFields(kind, key, []byte(body))
}

// Put creates or replaces a document. created_at is kept from the first insert.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteBackend) Put(ctx context.Context, doc *Document) error {
	body, err := encodeFields(doc)
	if err != nil {
		return err
	}

	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err = s.putOnce(ctx, doc, body)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("Document put failed with SQLITE_BUSY, retrying",
			"kind", doc.Kind,
			"session_id", doc.Key,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("put %s document: %w", doc.Kind, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("put %s document: %w", doc.Kind, err)
}

func (s *SQLiteBackend) putOnce(ctx context.Context, doc *Document, body []byte) error {
	query := `
	INSERT INTO documents (kind, doc_key, body, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(kind, doc_key) DO UPDATE SET
		body = excluded.body,
		updated_at = excluded.updated_at`

	createdAt := doc.Time(FieldCreatedAt)
	updatedAt := doc.Time(FieldUpdatedAt)
	_, err := s.db.ExecContext(ctx, query,
		string(doc.Kind), doc.Key, string(body),
		createdAt.UnixMilli(), updatedAt.UnixMilli(),
	)
	return err
}

// Close closes the database connection.
func (s *SQLiteBackend) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
