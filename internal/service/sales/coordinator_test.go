package sales

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mamadbah2/gymledger/internal/coerce"
	"github.com/mamadbah2/gymledger/internal/domain/models"
	"github.com/mamadbah2/gymledger/internal/identity"
	"github.com/mamadbah2/gymledger/internal/repository/docstore"
	"github.com/mamadbah2/gymledger/internal/repository/memory"
	"github.com/mamadbah2/gymledger/internal/service/aggregates"
)

var saleTime = time.Date(2024, 3, 15, 18, 30, 0, 0, time.UTC)

type fixture struct {
	store  *memory.Store
	ledger *aggregates.Ledger
	coord  *Coordinator
}

func newFixture(t *testing.T, store docstore.Store, mem *memory.Store) fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	ledger := aggregates.NewLedger(store, logger)
	coord := NewCoordinator(store, ledger, time.UTC, logger)
	coord.now = func() time.Time { return saleTime }

	mem.Put(docstore.CollectionProducts, "whey", models.Product{
		Name: "Whey", Price: 25, Stock: 10, PointValue: 5, Status: models.ProductActive,
	}.Document())
	mem.Put(docstore.CollectionMembers, "m-1", docstore.Document{
		models.FieldMemberName: "Ana", models.FieldMemberPoints: 0.0,
	})
	return fixture{store: mem, ledger: ledger, coord: coord}
}

func newMemoryFixture(t *testing.T) fixture {
	mem := memory.NewStore(memory.WithMaxAttempts(500))
	return newFixture(t, mem, mem)
}

func (f fixture) product(t *testing.T) models.Product {
	t.Helper()
	doc, err := f.store.Get(context.Background(), docstore.CollectionProducts, "whey")
	require.NoError(t, err)
	return models.ProductFromDocument(doc)
}

func (f fixture) memberPoints(t *testing.T) float64 {
	t.Helper()
	doc, err := f.store.Get(context.Background(), docstore.CollectionMembers, "m-1")
	require.NoError(t, err)
	return coerce.Float(doc[models.FieldMemberPoints])
}

func (f fixture) sales(t *testing.T) []docstore.Document {
	t.Helper()
	docs, err := f.store.Query(context.Background(), docstore.CollectionSales, nil)
	require.NoError(t, err)
	return docs
}

func TestRecordSaleToMember(t *testing.T) {
	f := newMemoryFixture(t)
	ctx := identity.WithCaller(context.Background(), "staff-3")

	receipt, err := f.coord.RecordSale(ctx, SaleRequest{
		ProductID:     "whey",
		Quantity:      2,
		Buyer:         &Buyer{ID: "m-1", IsMember: true},
		PaymentMethod: "card",
	})
	require.NoError(t, err)
	assert.Empty(t, receipt.Warnings)
	assert.False(t, receipt.Stale())

	sale := receipt.Sale
	assert.Equal(t, 50.0, sale.TotalAmount)
	assert.Equal(t, 25.0, sale.UnitPrice)
	assert.Equal(t, 10.0, sale.PointsAwarded)
	assert.Equal(t, "m-1", sale.BuyerID)
	assert.Equal(t, models.SaleCompleted, sale.Status)
	assert.Equal(t, "staff-3", sale.RecordedBy)

	assert.Equal(t, 8, f.product(t).Stock)
	assert.Equal(t, 10.0, f.memberPoints(t))

	docs := f.sales(t)
	require.Len(t, docs, 1)
	stored := models.SaleFromDocument(docs[0], nil)
	assert.Equal(t, sale.ID, stored.ID)
	assert.Equal(t, models.SaleCompleted, stored.Status)

	agg, err := f.ledger.Get(context.Background(), models.YearMonth{Year: 2024, Month: time.March})
	require.NoError(t, err)
	assert.Equal(t, models.CategoryTotal{Total: 50, Transactions: 1}, agg.Category(models.IncomeProduct))
}

func TestRecordSaleInsufficientStock(t *testing.T) {
	f := newMemoryFixture(t)

	receipt, err := f.coord.RecordSale(context.Background(), SaleRequest{
		ProductID: "whey", Quantity: 15, Buyer: &Buyer{ID: "m-1", IsMember: true},
	})
	require.Error(t, err)
	assert.Nil(t, receipt)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 10, stockErr.Available)
	assert.Equal(t, 15, stockErr.Requested)

	assert.Equal(t, 10, f.product(t).Stock)
	assert.Empty(t, f.sales(t))
	assert.Equal(t, 0.0, f.memberPoints(t))

	_, err = f.ledger.Get(context.Background(), models.YearMonth{Year: 2024, Month: time.March})
	assert.ErrorIs(t, err, aggregates.ErrAggregateNotFound)
}

func TestRecordSaleStockNeverNegative(t *testing.T) {
	for q := 1; q <= 12; q++ {
		t.Run(fmt.Sprintf("quantity %d", q), func(t *testing.T) {
			f := newMemoryFixture(t)
			_, err := f.coord.RecordSale(context.Background(), SaleRequest{ProductID: "whey", Quantity: q})

			stock := f.product(t).Stock
			if q <= 10 {
				require.NoError(t, err)
				assert.Equal(t, 10-q, stock)
				return
			}
			assert.ErrorIs(t, err, ErrInsufficientStock)
			assert.Equal(t, 10, stock)
		})
	}
}

func TestRecordSaleWithoutMemberAwardsNoPoints(t *testing.T) {
	f := newMemoryFixture(t)

	for _, buyer := range []*Buyer{nil, {ID: "walk-in", IsMember: false}} {
		receipt, err := f.coord.RecordSale(context.Background(), SaleRequest{ProductID: "whey", Quantity: 1, Buyer: buyer})
		require.NoError(t, err)
		assert.Equal(t, 0.0, receipt.Sale.PointsAwarded)
		assert.False(t, receipt.Sale.IsMember)
		assert.Empty(t, receipt.Sale.BuyerID)
	}
	assert.Equal(t, 0.0, f.memberPoints(t))
}

func TestRecordSaleUnknownMemberIsAWarning(t *testing.T) {
	f := newMemoryFixture(t)

	receipt, err := f.coord.RecordSale(context.Background(), SaleRequest{
		ProductID: "whey", Quantity: 1, Buyer: &Buyer{ID: "m-404", IsMember: true},
	})
	require.NoError(t, err)
	require.Len(t, receipt.Warnings, 1)
	assert.ErrorIs(t, receipt.Warnings[0], ErrBuyerNotFound)
	assert.Equal(t, 0.0, receipt.Sale.PointsAwarded)
	assert.Equal(t, 9, f.product(t).Stock)
}

func TestRecordSaleProductNotFound(t *testing.T) {
	f := newMemoryFixture(t)

	_, err := f.coord.RecordSale(context.Background(), SaleRequest{ProductID: "ghost", Quantity: 1})
	assert.ErrorIs(t, err, ErrProductNotFound)
	assert.Empty(t, f.sales(t))
}

func TestRecordSaleValidation(t *testing.T) {
	f := newMemoryFixture(t)

	for _, req := range []SaleRequest{
		{ProductID: "whey", Quantity: 0},
		{ProductID: "whey", Quantity: -2},
		{ProductID: "", Quantity: 1},
		{ProductID: "whey", Quantity: 1, Buyer: &Buyer{IsMember: true}},
	} {
		_, err := f.coord.RecordSale(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidSale)
	}
	assert.Equal(t, 10, f.product(t).Stock)
}

func TestRecordSaleMarksOutOfStock(t *testing.T) {
	f := newMemoryFixture(t)

	_, err := f.coord.RecordSale(context.Background(), SaleRequest{ProductID: "whey", Quantity: 10})
	require.NoError(t, err)

	p := f.product(t)
	assert.Equal(t, 0, p.Stock)
	assert.Equal(t, models.ProductOutOfStock, p.Status)
}

func TestConcurrentSalesWithinStock(t *testing.T) {
	f := newMemoryFixture(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, q := range []int{4, 5} {
		wg.Add(1)
		go func(i, q int) {
			defer wg.Done()
			_, errs[i] = f.coord.RecordSale(context.Background(), SaleRequest{
				ProductID: "whey", Quantity: q, Buyer: &Buyer{ID: "m-1", IsMember: true},
			})
		}(i, q)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, f.product(t).Stock)
	assert.Equal(t, 45.0, f.memberPoints(t))
	assert.Len(t, f.sales(t), 2)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	f := newMemoryFixture(t)

	const buyers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		sold    int
		refused int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.RecordSale(context.Background(), SaleRequest{ProductID: "whey", Quantity: 1})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				sold++
			case errors.Is(err, ErrInsufficientStock):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, sold)
	assert.Equal(t, buyers-10, refused)
	assert.Equal(t, 0, f.product(t).Stock)
	assert.Len(t, f.sales(t), 10)

	agg, err := f.ledger.Get(context.Background(), models.YearMonth{Year: 2024, Month: time.March})
	require.NoError(t, err)
	assert.Equal(t, models.CategoryTotal{Total: 250, Transactions: 10}, agg.Category(models.IncomeProduct))
}

func TestAggregateFailureKeepsSale(t *testing.T) {
	mem := memory.NewStore()
	flaky := &flakyStore{Store: mem, failOn: 2, err: errors.New("aggregate write timeout")}
	f := newFixture(t, flaky, mem)

	receipt, err := f.coord.RecordSale(context.Background(), SaleRequest{ProductID: "whey", Quantity: 2})
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.True(t, receipt.Stale())

	var updateErr *aggregates.AggregateUpdateError
	require.True(t, errors.As(receipt.Warnings[0], &updateErr))
	assert.Equal(t, 50.0, updateErr.Amount)

	assert.Equal(t, 8, f.product(t).Stock)
	assert.Len(t, f.sales(t), 1)

	march := models.YearMonth{Year: 2024, Month: time.March}
	_, err = f.ledger.Get(context.Background(), march)
	assert.ErrorIs(t, err, aggregates.ErrAggregateNotFound)

	result, err := f.ledger.ReplayPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)

	agg, err := f.ledger.Get(context.Background(), march)
	require.NoError(t, err)
	assert.Equal(t, 50.0, agg.Category(models.IncomeProduct).Total)
}

func TestTransactionAborted(t *testing.T) {
	mem := memory.NewStore()
	aborting := &flakyStore{Store: mem, failOn: 1, err: fmt.Errorf("%w after 25 attempts", docstore.ErrAborted)}
	f := newFixture(t, aborting, mem)

	_, err := f.coord.RecordSale(context.Background(), SaleRequest{ProductID: "whey", Quantity: 1})
	assert.ErrorIs(t, err, ErrTransactionAborted)
	assert.Equal(t, 10, f.product(t).Stock)
	assert.Empty(t, f.sales(t))
}

// flakyStore fails the failOn-th transaction with err.
type flakyStore struct {
	docstore.Store
	mu     sync.Mutex
	calls  int
	failOn int
	err    error
}

func (s *flakyStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls == s.failOn
	s.mu.Unlock()
	if fail {
		return s.err
	}
	return s.Store.RunTransaction(ctx, fn)
}
