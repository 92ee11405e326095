package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// maxLookupBatch bounds the number of ids bound into one IN clause.
const maxLookupBatch = 500

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS terms (
		id TEXT PRIMARY KEY,
		topics TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sources (
		path TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		language TEXT NOT NULL,
		mod_time TIMESTAMP,
		indexed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_sources_document_id ON sources(document_id);
	CREATE INDEX IF NOT EXISTS idx_sources_language ON sources(language);
	`
	_, err := db.Exec(schema)
	return err
}

// PutTerm inserts or replaces a vocabulary term.
func (s *SQLiteStorage) PutTerm(ctx context.Context, term *Term) error {
	topics, err := json.Marshal(term.Topics)
	if err != nil {
		return fmt.Errorf("failed to marshal topics: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO terms (id, topics) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET topics = excluded.topics`,
		term.ID, string(topics),
	)
	return err
}

// BatchPutTerms inserts or replaces terms in one transaction.
func (s *SQLiteStorage) BatchPutTerms(ctx context.Context, terms []*Term) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO terms (id, topics) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET topics = excluded.topics`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, term := range terms {
		topics, err := json.Marshal(term.Topics)
		if err != nil {
			return fmt.Errorf("failed to marshal topics of %s: %w", term.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, term.ID, string(topics)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetTerm returns a term by id.
func (s *SQLiteStorage) GetTerm(ctx context.Context, id string) (*Term, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT topics FROM terms WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("term %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	term := &Term{ID: id}
	if err := json.Unmarshal([]byte(raw), &term.Topics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal topics of %s: %w", id, err)
	}
	return term, nil
}

// GetTerms returns the topics of the known ids among ids.
func (s *SQLiteStorage) GetTerms(ctx context.Context, ids []string) (map[string][]string, error) {
	out := make(map[string][]string, len(ids))
	for start := 0; start < len(ids); start += maxLookupBatch {
		end := start + maxLookupBatch
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]
		args := make([]interface{}, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")

		rows, err := s.db.QueryContext(ctx, `SELECT id, topics FROM terms WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id, raw string
			if err := rows.Scan(&id, &raw); err != nil {
				rows.Close()
				return nil, err
			}
			var topics []string
			if err := json.Unmarshal([]byte(raw), &topics); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to unmarshal topics of %s: %w", id, err)
			}
			out[id] = topics
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CountTerms returns the number of vocabulary terms.
func (s *SQLiteStorage) CountTerms(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM terms`).Scan(&count)
	return count, err
}

// PutSource records that a file was indexed. IndexedAt is set to now.
func (s *SQLiteStorage) PutSource(ctx context.Context, src *Source) error {
	src.IndexedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (path, document_id, language, mod_time, indexed_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		   document_id = excluded.document_id,
		   language = excluded.language,
		   mod_time = excluded.mod_time,
		   indexed_at = excluded.indexed_at`,
		src.Path, src.DocumentID, src.Language, src.ModTime, src.IndexedAt,
	)
	return err
}

// GetSource returns the registry entry of a file.
func (s *SQLiteStorage) GetSource(ctx context.Context, path string) (*Source, error) {
	var src Source
	err := s.db.QueryRowContext(ctx,
		`SELECT path, document_id, language, mod_time, indexed_at
		 FROM sources WHERE path = ?`, path,
	).Scan(&src.Path, &src.DocumentID, &src.Language, &src.ModTime, &src.IndexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &src, nil
}

// DeleteSource removes a file from the registry.
func (s *SQLiteStorage) DeleteSource(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE path = ?`, path)
	return err
}

// ListSources returns registry entries ordered by path.
func (s *SQLiteStorage) ListSources(ctx context.Context, offset, limit int) ([]*Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, document_id, language, mod_time, indexed_at
		 FROM sources ORDER BY path LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []*Source
	for rows.Next() {
		var src Source
		if err := rows.Scan(&src.Path, &src.DocumentID, &src.Language, &src.ModTime, &src.IndexedAt); err != nil {
			return nil, err
		}
		sources = append(sources, &src)
	}
	return sources, rows.Err()
}

// CountSources returns the number of indexed files.
func (s *SQLiteStorage) CountSources(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sources`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
