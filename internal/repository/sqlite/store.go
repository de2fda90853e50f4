/*
Package sqlite provides an embedded docstore.Store backed by a single SQLite
table. It is meant for single-node deployments and demos where running a
MongoDB replica set is not worth it.

SCHEMA:

	documents(collection, id, version, body, updated_at)
	body is the JSON encoding of the document; version increases on every write.

CONCURRENCY:

	Transactions are optimistic. Reads record the row version (0 when absent),
	writes are buffered, and the commit re-checks every version inside one SQL
	transaction before upserting. A mismatch re-runs the caller's function.
	Commits are serialized with a mutex; SQLite allows a single writer anyway.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mamadbah2/gymledger/internal/repository/docstore"
)

// Store implements docstore.Store using SQLite.
type Store struct {
	db          *sql.DB
	mu          sync.Mutex
	maxAttempts int
}

var _ docstore.Store = (*Store)(nil)

// New opens (and migrates) the database at dbPath. Use ":memory:" for a
// throwaway database.
func New(dbPath string, maxAttempts int) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps ":memory:" databases alive and shared
	db.SetMaxOpenConns(1)

	if maxAttempts <= 0 {
		maxAttempts = docstore.DefaultMaxAttempts
	}
	store := &Store{db: db, maxAttempts: maxAttempts}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		version INTEGER NOT NULL,
		body TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_collection
		ON documents(collection);
	`
	_, err := s.db.Exec(schema)
	return err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Get returns one document.
func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	doc, _, err := load(ctx, s.db, collection, id)
	return doc, err
}

// Query loads the collection and filters in process.
func (s *Store) Query(ctx context.Context, collection string, filter docstore.Filter) ([]docstore.Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM documents WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []docstore.Document
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		doc, err := decode(body)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", collection, err)
		}
		if filter.Match(doc) {
			out = append(out, doc)
		}
	}
	return out, rows.Err()
}

// RunTransaction runs fn optimistically, see package documentation.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	return docstore.RunOptimistic(ctx, s.maxAttempts, func() error {
		view := &txView{db: s.db, journal: docstore.NewJournal()}
		if err := fn(ctx, docstore.Guard(view)); err != nil {
			return err
		}
		return s.commit(ctx, view.journal)
	})
}

func (s *Store) commit(ctx context.Context, j *docstore.Journal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, r := range j.Reads() {
		var version uint64
		err := sqlTx.QueryRowContext(ctx, `SELECT version FROM documents WHERE collection = ? AND id = ?`, r.Collection, r.ID).Scan(&version)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check version %s/%s: %w", r.Collection, r.ID, err)
		}
		if version != r.Version {
			return docstore.ErrConflict
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, w := range j.Writes() {
		current, version, err := load(ctx, sqlTx, w.Collection, w.ID)
		missing := errors.Is(err, docstore.ErrNotFound)
		if err != nil && !missing {
			return err
		}

		next := w.Doc
		if w.Update != nil {
			if missing {
				return fmt.Errorf("update %s/%s: %w", w.Collection, w.ID, docstore.ErrNotFound)
			}
			if next, err = docstore.ApplyUpdate(current, *w.Update); err != nil {
				return fmt.Errorf("update %s/%s: %w", w.Collection, w.ID, err)
			}
		}

		body, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", w.Collection, w.ID, err)
		}

		_, err = sqlTx.ExecContext(ctx, `
			INSERT INTO documents (collection, id, version, body, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(collection, id) DO UPDATE SET
				version = excluded.version,
				body = excluded.body,
				updated_at = excluded.updated_at
		`, w.Collection, w.ID, version+1, string(body), now)
		if err != nil {
			return fmt.Errorf("write %s/%s: %w", w.Collection, w.ID, err)
		}
	}

	return sqlTx.Commit()
}

func load(ctx context.Context, q queryer, collection, id string) (docstore.Document, uint64, error) {
	var (
		version uint64
		body    string
	)
	err := q.QueryRowContext(ctx, `SELECT version, body FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&version, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("get %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}

	doc, err := decode(body)
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return doc, version, nil
}

func decode(body string) (docstore.Document, error) {
	var doc docstore.Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

type txView struct {
	db      *sql.DB
	journal *docstore.Journal
}

func (v *txView) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	doc, version, err := load(ctx, v.db, collection, id)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return nil, err
	}
	v.journal.RecordRead(collection, id, version)
	return doc, err
}

func (v *txView) Set(_ context.Context, collection, id string, doc docstore.Document) error {
	v.journal.StageSet(collection, id, doc)
	return nil
}

func (v *txView) Update(_ context.Context, collection, id string, update docstore.Update) error {
	if update.IsEmpty() {
		return nil
	}
	v.journal.StageUpdate(collection, id, update)
	return nil
}
