package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const postgresInitTimeout = 5 * time.Second

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresBackend implements Backend on a JSONB documents table.
type PostgresBackend struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgres returns a Postgres backend. The connection is opened lazily on first use.
func NewPostgres(dsn string) (*PostgresBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	return &PostgresBackend{dsn: dsn, openDB: sql.Open}, nil
}

// Name identifies the backend in logs.
func (b *PostgresBackend) Name() string {
	return "postgres"
}

// Ping verifies database connectivity.
func (b *PostgresBackend) Ping(ctx context.Context) error {
	if err := b.ensureReady(); err != nil {
		return err
	}
	return b.db.PingContext(ctx)
}

// Get retrieves a document by kind and key.
func (b *PostgresBackend) Get(ctx context.Context, kind Kind, key string) (*Document, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	var body []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT body FROM signdesk_documents WHERE kind = $1 AND doc_key = $2`,
		string(kind), key,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s document: %w", kind, err)
	}
	return decodeFields(kind, key, body)
}

// Put creates or replaces a document in one statement.
func (b *PostgresBackend) Put(ctx context.Context, doc *Document) error {
	if err := b.ensureReady(); err != nil {
		return err
	}
	body, err := encodeFields(doc)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO signdesk_documents (kind, doc_key, body, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, $4, $5)
		ON CONFLICT (kind, doc_key)
		DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`
	_, err = b.db.ExecContext(ctx, query,
		string(doc.Kind), doc.Key, string(body),
		doc.Time(FieldCreatedAt), doc.Time(FieldUpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put %s document: %w", doc.Kind, err)
	}
	return nil
}

// Close closes the database connection.
func (b *PostgresBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *PostgresBackend) ensureReady() error {
	b.initOnce.Do(func() {
		db, err := b.openDB("postgres", b.dsn)
		if err != nil {
			b.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresInitTimeout)
		defer cancel()

		query := `
			CREATE TABLE IF NOT EXISTS signdesk_documents (
				kind TEXT NOT NULL,
				doc_key TEXT NOT NULL,
				body JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				PRIMARY KEY (kind, doc_key)
			)`
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			b.initErr = fmt.Errorf("create schema: %w", err)
			return
		}
		b.db = db
	})
	return b.initErr
}
