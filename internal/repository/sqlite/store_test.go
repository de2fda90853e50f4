package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/gymledger/internal/coerce"
	"github.com/mamadbah2/gymledger/internal/repository/docstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "docs.db"), 5)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return tx.Set(ctx, "products", "p1", docstore.Document{"name": "protein", "stock": 10, "price": 25.0, "created_at": at})
	})
	require.NoError(t, err)

	doc, err := s.Get(ctx, "products", "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", doc.ID())
	assert.Equal(t, 10, coerce.Int(doc["stock"]))
	assert.True(t, at.Equal(coerce.Time(doc["created_at"])))

	_, err = s.Get(ctx, "products", "nope")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestStoreTransactionIncrementAndQuery(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if err := tx.Set(ctx, "products", "p1", docstore.Document{"stock": 10, "status": "active"}); err != nil {
			return err
		}
		return tx.Set(ctx, "products", "p2", docstore.Document{"stock": 0, "status": "out_of_stock"})
	}))

	require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if _, err := tx.Get(ctx, "products", "p1"); err != nil {
			return err
		}
		return tx.Update(ctx, "products", "p1", docstore.Update{Inc: map[string]any{"stock": -4}})
	}))

	doc, err := s.Get(ctx, "products", "p1")
	require.NoError(t, err)
	assert.Equal(t, 6, coerce.Int(doc["stock"]))

	active, err := s.Query(ctx, "products", docstore.Where("status", docstore.OpEq, "active"))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "p1", active[0].ID())
}

func TestStoreDetectsConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return tx.Set(ctx, "counters", "c", docstore.Document{"n": 0})
	}))

	attempts := 0
	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		attempts++
		if _, err := tx.Get(ctx, "counters", "c"); err != nil {
			return err
		}
		if attempts == 1 {
			// concurrent writer bumps the version underneath us
			require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, inner docstore.Tx) error {
				return inner.Update(ctx, "counters", "c", docstore.Update{Inc: map[string]any{"n": 10}})
			}))
		}
		return tx.Update(ctx, "counters", "c", docstore.Update{Inc: map[string]any{"n": 1}})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	doc, _ := s.Get(ctx, "counters", "c")
	assert.Equal(t, 11, coerce.Int(doc["n"]))
}

func TestStoreRollsBackFailedUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if err := tx.Set(ctx, "sales", "s1", docstore.Document{"quantity": 1}); err != nil {
			return err
		}
		return tx.Update(ctx, "products", "ghost", docstore.Update{Inc: map[string]any{"stock": -1}})
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, docstore.ErrNotFound))

	_, err = s.Get(ctx, "sales", "s1")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}
