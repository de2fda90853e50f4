// Package memory provides an in-process docstore.Store with optimistic
// concurrency. It backs the tests and the STORE_DRIVER=memory mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mamadbah2/gymledger/internal/repository/docstore"
)

type entry struct {
	doc     docstore.Document
	version uint64
}

// Store keeps documents in maps guarded by a mutex. Transactions never hold
// the lock while fn runs; they validate observed versions at commit.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]entry
	maxAttempts int
}

// Option configures a Store.
type Option func(*Store)

// WithMaxAttempts sets the conflict retry budget.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]map[string]entry),
		maxAttempts: docstore.DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a copy of the stored document.
func (s *Store) Get(_ context.Context, collection, id string) (docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return e.doc.Clone(), nil
}

// Query scans the collection. Results are ordered by id so repeated calls
// over the same data return the same slice.
func (s *Store) Query(_ context.Context, collection string, filter docstore.Filter) ([]docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []docstore.Document
	for _, e := range s.collections[collection] {
		if filter.Match(e.doc) {
			out = append(out, e.doc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

// RunTransaction runs fn against a journaling view and commits if no document
// fn read has changed since. Otherwise fn runs again.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	return docstore.RunOptimistic(ctx, s.maxAttempts, func() error {
		view := &txView{store: s, journal: docstore.NewJournal()}
		if err := fn(ctx, docstore.Guard(view)); err != nil {
			return err
		}
		return s.commit(view.journal)
	})
}

// Put writes a document outside any transaction. Intended for fixtures.
func (s *Store) Put(collection, id string, doc docstore.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := doc.Clone()
	if stored == nil {
		stored = docstore.Document{}
	}
	stored[docstore.IDField] = id
	s.collectionLocked(collection)[id] = entry{doc: stored, version: s.collections[collection][id].version + 1}
}

func (s *Store) commit(j *docstore.Journal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range j.Reads() {
		if s.collections[r.Collection][r.ID].version != r.Version {
			return docstore.ErrConflict
		}
	}

	// Stage into a scratch map first so a failing update leaves nothing behind.
	staged := make(map[docstore.Key]entry)
	current := func(k docstore.Key) (entry, bool) {
		if e, ok := staged[k]; ok {
			return e, true
		}
		e, ok := s.collections[k.Collection][k.ID]
		return e, ok
	}

	for _, w := range j.Writes() {
		e, exists := current(w.Key)
		if w.Update == nil {
			staged[w.Key] = entry{doc: w.Doc, version: e.version + 1}
			continue
		}
		if !exists {
			return fmt.Errorf("update %s/%s: %w", w.Collection, w.ID, docstore.ErrNotFound)
		}
		updated, err := docstore.ApplyUpdate(e.doc, *w.Update)
		if err != nil {
			return fmt.Errorf("update %s/%s: %w", w.Collection, w.ID, err)
		}
		staged[w.Key] = entry{doc: updated, version: e.version + 1}
	}

	for k, e := range staged {
		s.collectionLocked(k.Collection)[k.ID] = e
	}
	return nil
}

func (s *Store) collectionLocked(name string) map[string]entry {
	c, ok := s.collections[name]
	if !ok {
		c = make(map[string]entry)
		s.collections[name] = c
	}
	return c
}

type txView struct {
	store   *Store
	journal *docstore.Journal
}

func (v *txView) Get(_ context.Context, collection, id string) (docstore.Document, error) {
	v.store.mu.RLock()
	e, ok := v.store.collections[collection][id]
	v.store.mu.RUnlock()

	v.journal.RecordRead(collection, id, e.version)
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return e.doc.Clone(), nil
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
