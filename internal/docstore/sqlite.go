package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (and creates if needed) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode and a busy timeout on every pooled connection.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		doc_key TEXT NOT NULL,
		data TEXT NOT NULL,
		ts INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (collection, doc_key)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_ts ON documents(collection, ts, doc_key);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Get returns the document at collection/key.
func (s *SQLiteStore) Get(ctx context.Context, collection, key string) (Document, error) {
	query := `SELECT doc_key, data, ts FROM documents WHERE collection = ? AND doc_key = ?`

	var doc Document
	var data string
	var ts int64
	err := s.db.QueryRowContext(ctx, query, collection, key).Scan(&doc.Key, &data, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("scan document %s/%s: %w", collection, key, err)
	}
	doc.Data = []byte(data)
	doc.Timestamp = time.Unix(0, ts).UTC()
	return doc, nil
}

// Set writes the document, replacing any previous one.
func (s *SQLiteStore) Set(ctx context.Context, collection, key string, data []byte, ts time.Time) error {
	query := `
	INSERT INTO documents (collection, doc_key, data, ts, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(collection, doc_key) DO UPDATE SET
		data = excluded.data,
		ts = excluded.ts,
		updated_at = excluded.updated_at`

	return s.withRetry(ctx, "set", func() error {
		_, err := s.db.ExecContext(ctx, query, collection, key, string(data), ts.UnixNano(), time.Now().UnixNano())
		if err != nil {
			return fmt.Errorf("upsert document %s/%s: %w", collection, key, err)
		}
		return nil
	})
}

// Add inserts data under a generated key.
func (s *SQLiteStore) Add(ctx context.Context, collection string, data []byte, ts time.Time) (string, error) {
	key, err := newKey()
	if err != nil {
		return "", err
	}
	query := `INSERT INTO documents (collection, doc_key, data, ts, updated_at) VALUES (?, ?, ?, ?, ?)`

	err = s.withRetry(ctx, "add", func() error {
		_, err := s.db.ExecContext(ctx, query, collection, key, string(data), ts.UnixNano(), time.Now().UnixNano())
		if err != nil {
			return fmt.Errorf("insert document %s: %w", collection, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// Update replaces the data of an existing document.
func (s *SQLiteStore) Update(ctx context.Context, collection, key string, data []byte) error {
	query := `UPDATE documents SET data = ?, updated_at = ? WHERE collection = ? AND doc_key = ?`

	return s.withRetry(ctx, "update", func() error {
		result, err := s.db.ExecContext(ctx, query, string(data), time.Now().UnixNano(), collection, key)
		if err != nil {
			return fmt.Errorf("update document %s/%s: %w", collection, key, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Delete removes the document.
func (s *SQLiteStore) Delete(ctx context.Context, collection, key string) error {
	query := `DELETE FROM documents WHERE collection = ? AND doc_key = ?`

	return s.withRetry(ctx, "delete", func() error {
		if _, err := s.db.ExecContext(ctx, query, collection, key); err != nil {
			return fmt.Errorf("delete document %s/%s: %w", collection, key, err)
		}
		return nil
	})
}

// Query lists the documents of a collection in timestamp order.
func (s *SQLiteStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	order := "ASC"
	if q.Descending {
		order = "DESC"
	}
	query := `SELECT doc_key, data, ts FROM documents WHERE collection = ? ORDER BY ts ` + order + `, doc_key ` + order
	args := []any{collection}
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents %s: %w", collection, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close document rows", "collection", collection, "error", closeErr)
		}
	}()

	var docs []Document
	for rows.Next() {
		var doc Document
		var data string
		var ts int64
		if err := rows.Scan(&doc.Key, &data, &ts); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		doc.Data = []byte(data)
		doc.Timestamp = time.Unix(0, ts).UTC()
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// withRetry runs fn, retrying SQLite busy/locked errors with exponential
// backoff: 100ms, 200ms.
func (s *SQLiteStore) withRetry(ctx context.Context, op string, fn func() error) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil || !isConflictError(err) {
			return err
		}
		if i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("sqlite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, maxRetries, err)
}

// isConflictError reports SQLITE_BUSY and "database is locked" errors,
// the two SQLite concurrency failures worth retrying.
func isConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
