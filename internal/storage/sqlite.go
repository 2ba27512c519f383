package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/choco2105/magic-reading/internal/interfaces"
)

// SQLiteStore is the single-node document store
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens or creates the database at path and applies the schema
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			body TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_collection_created ON documents(collection, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_user ON documents(collection, json_extract(body, '$.userId'));`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, collection string, record any) (string, error) {
	if !validField(collection) {
		return "", &ErrInvalidField{Field: collection}
	}
	body, err := encodeRecord(record)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, collection, created_at, body) VALUES (?, ?, ?, ?)`,
		id, collection, s.now().UTC().UnixNano(), string(body),
	)
	if err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) Query(ctx context.Context, collection string, filter interfaces.Filter, order interfaces.OrderBy, limit int) ([]interfaces.Document, error) {
	if err := checkQuery(collection, filter, order); err != nil {
		return nil, err
	}

	var (
		where = []string{"collection = ?"}
		args  = []any{collection}
	)
	for _, c := range filter {
		v, err := scalar(c.Value)
		if err != nil {
			return nil, err
		}
		switch c.Field {
		case interfaces.FieldID:
			where = append(where, "id = ?")
		default:
			where = append(where, fmt.Sprintf("json_extract(body, '$.%s') = ?", c.Field))
		}
		args = append(args, v)
	}

	dir := "ASC"
	if order.Desc {
		dir = "DESC"
	}
	orderExpr := "created_at"
	if order.Field != "" && order.Field != interfaces.FieldCreatedAt {
		orderExpr = fmt.Sprintf("json_extract(body, '$.%s')", order.Field)
	}

	q := fmt.Sprintf(`SELECT id, body, created_at FROM documents WHERE %s ORDER BY %s %s, rowid %s`,
		strings.Join(where, " AND "), orderExpr, dir, dir)
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []interfaces.Document
	for rows.Next() {
		var (
			doc     interfaces.Document
			body    string
			created int64
		)
		if err := rows.Scan(&doc.ID, &body, &created); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc.Body = []byte(body)
		doc.CreatedAt = time.Unix(0, created).UTC()
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database is reachable, for health reporting
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
