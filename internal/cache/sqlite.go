package cache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLiteStore keeps generations in a local SQLite database so the proxy can
// serve offline across restarts without an object store.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	files, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, file := range files {
		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Open(ctx context.Context, generation string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generations (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		generation, time.Now().Unix(),
	)
	return err
}

func (s *SQLiteStore) Generations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM generations ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) DropGeneration(ctx context.Context, generation string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE generation = ?`, generation); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM generations WHERE name = ?`, generation); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, generation, key string) (Object, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT status, content_type, content_encoding, body, updated_at
		 FROM entries
		 WHERE generation = ? AND cache_key = ?`,
		generation, key,
	)

	var obj Object
	var updatedAt int64
	if err := row.Scan(&obj.Status, &obj.ContentType, &obj.Encoding, &obj.Body, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Object{}, ErrNotFound
		}
		return Object{}, err
	}
	if updatedAt > 0 {
		obj.UpdatedAt = time.Unix(updatedAt, 0)
	}
	return obj, nil
}

func (s *SQLiteStore) Put(ctx context.Context, generation, key string, obj Object) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM generations WHERE name = ?`, generation).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrGenerationNotFound
	}
	if err != nil {
		return err
	}

	var updatedAt int64
	if !obj.UpdatedAt.IsZero() {
		updatedAt = obj.UpdatedAt.Unix()
	}
	body := obj.Body
	if body == nil {
		body = []byte{}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO entries (generation, cache_key, status, content_type, content_encoding, body, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(generation, cache_key) DO UPDATE SET
		   status = excluded.status,
		   content_type = excluded.content_type,
		   content_encoding = excluded.content_encoding,
		   body = excluded.body,
		   updated_at = excluded.updated_at`,
		generation, key, obj.StatusCode(), obj.ContentType, obj.Encoding, body, updatedAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, generation, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE generation = ? AND cache_key = ?`,
		generation, key,
	)
	return err
}
