package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/gymledger/internal/coerce"
	"github.com/mamadbah2/gymledger/internal/repository/docstore"
)

func TestStoreGetAndQuery(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.Put("products", "b", docstore.Document{"status": "active", "price": 10})
	s.Put("products", "a", docstore.Document{"status": "active", "price": 30})
	s.Put("products", "c", docstore.Document{"status": "inactive", "price": 20})

	doc, err := s.Get(ctx, "products", "a")
	require.NoError(t, err)
	assert.Equal(t, "a", doc.ID())

	_, err = s.Get(ctx, "products", "zzz")
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	docs, err := s.Query(ctx, "products", docstore.Where("status", docstore.OpEq, "active"))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID())
	assert.Equal(t, "b", docs[1].ID())

	// mutating a returned document does not leak into the store
	docs[0]["price"] = 999
	again, _ := s.Get(ctx, "products", "a")
	assert.Equal(t, 30, again["price"])
}

func TestTransactionCommitsBufferedWrites(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.Put("products", "p1", docstore.Document{"stock": int64(5)})

	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if _, err := tx.Get(ctx, "products", "p1"); err != nil {
			return err
		}
		if err := tx.Update(ctx, "products", "p1", docstore.Update{Inc: map[string]any{"stock": -2}}); err != nil {
			return err
		}
		return tx.Set(ctx, "sales", "s1", docstore.Document{"quantity": 2})
	})
	require.NoError(t, err)

	p, _ := s.Get(ctx, "products", "p1")
	assert.Equal(t, int64(3), p["stock"])
	sale, err := s.Get(ctx, "sales", "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", sale.ID())
}

func TestTransactionErrorDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.Put("products", "p1", docstore.Document{"stock": int64(5)})
	boom := errors.New("boom")

	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		_ = tx.Set(ctx, "sales", "s1", docstore.Document{})
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.Get(ctx, "sales", "s1")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestTransactionUpdateOnMissingDocumentFails(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		_ = tx.Set(ctx, "sales", "s1", docstore.Document{})
		return tx.Update(ctx, "products", "ghost", docstore.Update{Inc: map[string]any{"stock": 1}})
	})
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	_, err = s.Get(ctx, "sales", "s1")
	assert.ErrorIs(t, err, docstore.ErrNotFound, "partial commit must not happen")
}

func TestTransactionRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.Put("counters", "c", docstore.Document{"n": int64(0)})

	attempts := 0
	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		attempts++
		if _, err := tx.Get(ctx, "counters", "c"); err != nil {
			return err
		}
		if attempts == 1 {
			// a concurrent writer lands between our read and our commit
			s.Put("counters", "c", docstore.Document{"n": int64(100)})
		}
		return tx.Update(ctx, "counters", "c", docstore.Update{Inc: map[string]any{"n": 1}})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	doc, _ := s.Get(ctx, "counters", "c")
	assert.Equal(t, int64(101), doc["n"])
}

func TestTransactionAbortsWhenBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	s := NewStore(WithMaxAttempts(3))
	s.Put("counters", "c", docstore.Document{"n": int64(0)})

	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if _, err := tx.Get(ctx, "counters", "c"); err != nil {
			return err
		}
		s.Put("counters", "c", docstore.Document{"n": int64(0)})
		return tx.Update(ctx, "counters", "c", docstore.Update{Inc: map[string]any{"n": 1}})
	})
	assert.ErrorIs(t, err, docstore.ErrAborted)
}

func TestAbsentReadConflictsWithConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	attempts := 0
	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		attempts++
		_, err := tx.Get(ctx, "aggregates", "2024-03")
		if err == nil {
			return tx.Update(ctx, "aggregates", "2024-03", docstore.Update{Inc: map[string]any{"n": 1}})
		}
		if !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		if attempts == 1 {
			s.Put("aggregates", "2024-03", docstore.Document{"n": int64(1)})
		}
		return tx.Set(ctx, "aggregates", "2024-03", docstore.Document{"n": int64(1)})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	doc, _ := s.Get(ctx, "aggregates", "2024-03")
	assert.Equal(t, int64(2), doc["n"])
}

func TestConcurrentIncrementsAllLand(t *testing.T) {
	ctx := context.Background()
	s := NewStore(WithMaxAttempts(100))
	s.Put("counters", "c", docstore.Document{"n": int64(0)})

	const workers = 40
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
				if _, err := tx.Get(ctx, "counters", "c"); err != nil {
					return err
				}
				return tx.Update(ctx, "counters", "c", docstore.Update{Inc: map[string]any{"n": 1}})
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	doc, _ := s.Get(ctx, "counters", "c")
	assert.Equal(t, workers, coerce.Int(doc["n"]))
}
