package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mamadbah2/gymledger/internal/domain/models"
	"github.com/mamadbah2/gymledger/internal/repository/docstore"
	"github.com/mamadbah2/gymledger/internal/repository/memory"
	"github.com/mamadbah2/gymledger/internal/service/aggregates"
)

var march = models.YearMonth{Year: 2024, Month: time.March}

type recordingNotifier struct{ messages []string }

func (r *recordingNotifier) Notify(_ context.Context, message string) error {
	r.messages = append(r.messages, message)
	return nil
}

func newReconciler(t *testing.T, store docstore.Store, notifier Notifier) (*Service, *aggregates.Ledger) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	ledger := aggregates.NewLedger(store, logger)
	svc := NewService(store, ledger, notifier, time.UTC, logger)
	svc.now = func() time.Time { return time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC) }
	return svc, ledger
}

func seedMarch(store *memory.Store) {
	store.Put(docstore.CollectionSales, "s1", models.Sale{
		ProductName: "Whey", Quantity: 2, TotalAmount: 50, Status: models.SaleCompleted,
		Timestamp: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
	}.Document())
	store.Put(docstore.CollectionSales, "s2", models.Sale{
		ProductName: "Bar", Quantity: 1, TotalAmount: 2, Status: models.SaleCompleted,
		Timestamp: time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC),
	}.Document())
	store.Put(docstore.CollectionSales, "s-old", models.Sale{
		ProductName: "Bar", Quantity: 1, TotalAmount: 2, Status: models.SaleCompleted,
		Timestamp: time.Date(2024, 2, 28, 10, 0, 0, 0, time.UTC),
	}.Document())
	store.Put(docstore.CollectionPayments, "p1", docstore.Document{
		"amount": 30.0, "category": "class", "timestamp": time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC),
	})
	store.Put(docstore.CollectionPayments, "p2", docstore.Document{
		"amount": 500.0, "notes": "sueldo", "is_expense": true, "timestamp": time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC),
	})
}

func TestReconcileRepairsUndercount(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	notifier := &recordingNotifier{}
	svc, ledger := newReconciler(t, store, notifier)
	seedMarch(store)

	// Only the first sale made it into the aggregate.
	require.NoError(t, ledger.CreditCategory(ctx, march, models.IncomeProduct, 50))

	result, err := svc.ReconcileMonth(ctx, march)
	require.NoError(t, err)
	assert.True(t, result.Drifted())
	assert.Len(t, result.Adjustments, 2)

	agg, err := ledger.Get(ctx, march)
	require.NoError(t, err)
	assert.Equal(t, models.CategoryTotal{Total: 52, Transactions: 2}, agg.Category(models.IncomeProduct))
	assert.Equal(t, models.CategoryTotal{Total: 30, Transactions: 1}, agg.Category(models.IncomeClass))
	assert.Equal(t, 82.0, agg.TotalAmount)
	assert.Equal(t, 3, agg.TotalTransactions)

	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "2024-03")

	again, err := svc.ReconcileMonth(ctx, march)
	require.NoError(t, err)
	assert.False(t, again.Drifted())
	assert.Len(t, notifier.messages, 1)
}

func TestReconcileSkipsMonthWithPendingOutbox(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc, ledger := newReconciler(t, store, nil)
	seedMarch(store)

	err := store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return aggregates.Enqueue(ctx, tx, aggregates.NewEntry(march, models.IncomeProduct, 2, aggregates.SourceSale, "s2", time.Now()))
	})
	require.NoError(t, err)

	result, err := svc.ReconcileMonth(ctx, march)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, 1, result.PendingEntries)

	_, err = ledger.Get(ctx, march)
	assert.ErrorIs(t, err, aggregates.ErrAggregateNotFound)
}

func TestRunCoversCurrentAndPreviousMonth(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc, ledger := newReconciler(t, store, nil)
	seedMarch(store)

	results, err := svc.Run(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "2024-02", results[0].Month)
	assert.Equal(t, "2024-03", results[1].Month)

	feb, err := ledger.Get(ctx, march.Prev())
	require.NoError(t, err)
	assert.Equal(t, models.CategoryTotal{Total: 2, Transactions: 1}, feb.Category(models.IncomeProduct))
}

func TestReconcileKeepsEpochAndStringTimestamps(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc, ledger := newReconciler(t, store, nil)

	day := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	store.Put(docstore.CollectionPayments, "p-unix", docstore.Document{
		"amount": 40.0, "category": "class", "timestamp": day.Unix(),
	})
	store.Put(docstore.CollectionPayments, "p-millis", docstore.Document{
		"amount": 10.0, "category": "class", "timestamp": float64(day.UnixMilli()),
	})
	store.Put(docstore.CollectionSales, "s-string", docstore.Document{
		"product_name": "Bar", "quantity": 1, "total_amount": 2.0, "timestamp": "2024-03-05",
	})
	require.NoError(t, ledger.CreditCategory(ctx, march, models.IncomeClass, 40))
	require.NoError(t, ledger.CreditCategory(ctx, march, models.IncomeClass, 10))
	require.NoError(t, ledger.CreditCategory(ctx, march, models.IncomeProduct, 2))

	result, err := svc.ReconcileMonth(ctx, march)
	require.NoError(t, err)
	assert.False(t, result.Drifted())
	assert.Empty(t, result.Adjustments)

	agg, err := ledger.Get(ctx, march)
	require.NoError(t, err)
	assert.Equal(t, models.CategoryTotal{Total: 50, Transactions: 2}, agg.Category(models.IncomeClass))
	assert.Equal(t, models.CategoryTotal{Total: 2, Transactions: 1}, agg.Category(models.IncomeProduct))
	assert.Equal(t, 52.0, agg.TotalAmount)
}
