package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mamadbah2/gymledger/internal/coerce"
)

// DefaultMaxAttempts bounds conflict retries when a store is built without an
// explicit budget.
const DefaultMaxAttempts = 25

type guardedTx struct {
	inner Tx
	wrote bool
}

// Guard wraps tx so that a Get after any Set or Update fails with
// ErrReadAfterWrite.
func Guard(tx Tx) Tx {
	return &guardedTx{inner: tx}
}

func (g *guardedTx) Get(ctx context.Context, collection, id string) (Document, error) {
	if g.wrote {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, ErrReadAfterWrite)
	}
	return g.inner.Get(ctx, collection, id)
}

func (g *guardedTx) Set(ctx context.Context, collection, id string, doc Document) error {
	g.wrote = true
	return g.inner.Set(ctx, collection, id, doc)
}

func (g *guardedTx) Update(ctx context.Context, collection, id string, update Update) error {
	g.wrote = true
	return g.inner.Update(ctx, collection, id, update)
}

// Key addresses one document.
type Key struct {
	Collection string
	ID         string
}

// PendingWrite is a buffered mutation. Exactly one of Doc and Update is set.
type PendingWrite struct {
	Key
	Doc    Document
	Update *Update
}

// Journal records the reads and buffered writes of one optimistic attempt.
// Version 0 stands for "absent when read".
type Journal struct {
	reads  map[Key]uint64
	writes []PendingWrite
}

// NewJournal returns an empty journal.
func NewJournal() *Journal {
	return &Journal{reads: make(map[Key]uint64)}
}

// RecordRead remembers the version observed for a document. The first
// observation wins.
func (j *Journal) RecordRead(collection, id string, version uint64) {
	k := Key{Collection: collection, ID: id}
	if _, seen := j.reads[k]; !seen {
		j.reads[k] = version
	}
}

// Reads returns the observed versions in a stable order.
func (j *Journal) Reads() []ReadVersion {
	out := make([]ReadVersion, 0, len(j.reads))
	for k, v := range j.reads {
		out = append(out, ReadVersion{Key: k, Version: v})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Collection != out[b].Collection {
			return out[a].Collection < out[b].Collection
		}
		return out[a].ID < out[b].ID
	})
	return out
}

// ReadVersion pairs a document with the version a transaction observed.
type ReadVersion struct {
	Key
	Version uint64
}

// StageSet buffers a full document write.
func (j *Journal) StageSet(collection, id string, doc Document) {
	stored := doc.Clone()
	if stored == nil {
		stored = Document{}
	}
	stored[IDField] = id
	j.writes = append(j.writes, PendingWrite{Key: Key{Collection: collection, ID: id}, Doc: stored})
}

// StageUpdate buffers a partial write.
func (j *Journal) StageUpdate(collection, id string, update Update) {
	u := update
	j.writes = append(j.writes, PendingWrite{Key: Key{Collection: collection, ID: id}, Update: &u})
}

// Writes returns buffered writes in staging order.
func (j *Journal) Writes() []PendingWrite {
	return j.writes
}

// ApplyUpdate returns a copy of doc with update applied. Increments on a
// missing field start from zero; increments on a non-numeric field fail, as
// they do in MongoDB.
func ApplyUpdate(doc Document, update Update) (Document, error) {
	out := doc.Clone()
	if out == nil {
		out = Document{}
	}

	for field, delta := range update.Inc {
		current, present := out[field]
		if !present {
			current = int64(0)
		}
		sum, err := addNumbers(current, delta)
		if err != nil {
			return nil, fmt.Errorf("increment %s: %w", field, err)
		}
		out[field] = sum
	}

	for field, value := range update.Set {
		out[field] = value
	}
	return out, nil
}

var errNonNumeric = errors.New("field is not numeric")

func addNumbers(a, b any) (any, error) {
	ai, aInt := asInt64(a)
	bi, bInt := asInt64(b)
	if aInt && bInt {
		return ai + bi, nil
	}

	af, ok := coerce.FloatOK(a)
	if !ok || !isNumber(a) {
		return nil, errNonNumeric
	}
	bf, ok := coerce.FloatOK(b)
	if !ok || !isNumber(b) {
		return nil, errNonNumeric
	}
	return af + bf, nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

// RunOptimistic calls attempt until it returns something other than
// ErrConflict, at most maxAttempts times.
func RunOptimistic(ctx context.Context, maxAttempts int, attempt func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = attempt()
		if !errors.Is(lastErr, ErrConflict) {
			return lastErr
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrAborted, maxAttempts, lastErr)
}
