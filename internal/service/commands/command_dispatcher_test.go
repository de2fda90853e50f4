package commands

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
	"github.com/mamadbah2/gymledger/internal/service/inventory"
	"github.com/mamadbah2/gymledger/internal/service/reporting"
	"github.com/mamadbah2/gymledger/internal/service/sales"
)

const sender = "224600000000"

func newDispatcher(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := memory.NewStore()
	ledger := aggregates.NewLedger(store, logger)

	store.Put(docstore.CollectionProducts, "whey", models.Product{
		Name: "Whey", Price: 25, Stock: 10, PointValue: 5, Status: models.ProductActive,
	}.Document())
	store.Put(docstore.CollectionMembers, "m-1", docstore.Document{models.FieldMemberName: "Ana"})

	svc := NewService(
		sales.NewCoordinator(store, ledger, time.UTC, logger),
		inventory.NewService(store, logger),
		reporting.NewService(store, ledger, nil, time.UTC, logger),
		ledger,
		time.UTC,
		logger,
	)
	return svc, store
}

func run(t *testing.T, svc *Service, text string) (string, error) {
	t.Helper()
	return svc.HandleCommand(context.Background(), models.ParseCommand(text), sender)
}

func TestSaleCommand(t *testing.T) {
	svc, store := newDispatcher(t)

	reply, err := run(t, svc, "/sale whey 2 Card m-1")
	require.NoError(t, err)
	assert.Contains(t, reply, "2 x Whey @ 25.00 = 50.00 (card)")
	assert.Contains(t, reply, "10 points to m-1")

	docs, err := store.Query(context.Background(), docstore.CollectionSales, nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "whatsapp:"+sender, models.SaleFromDocument(docs[0], nil).RecordedBy)

	reply, err = run(t, svc, "/stock whey")
	require.NoError(t, err)
	assert.Contains(t, reply, "Whey: 8 in stock (active)")
}

func TestSaleCommandErrors(t *testing.T) {
	svc, _ := newDispatcher(t)

	_, err := run(t, svc, "/sale whey two")
	assert.ErrorIs(t, err, ErrInvalidArguments)

	_, err = run(t, svc, "/sale whey")
	assert.ErrorIs(t, err, ErrInvalidArguments)

	_, err = run(t, svc, "/sale whey 20")
	assert.ErrorIs(t, err, sales.ErrInsufficientStock)

	_, err = run(t, svc, "/stock bars")
	assert.ErrorIs(t, err, inventory.ErrProductNotFound)
}

func TestSaleCommandWarnsOnUnknownMember(t *testing.T) {
	svc, _ := newDispatcher(t)

	reply, err := run(t, svc, "/sale whey 1 cash ghost")
	require.NoError(t, err)
	assert.Contains(t, reply, "Warning: ")
	assert.NotContains(t, reply, "points")
}

func TestReportCommand(t *testing.T) {
	svc, _ := newDispatcher(t)

	_, err := run(t, svc, "/venta whey 2")
	require.NoError(t, err)

	reply, err := run(t, svc, "/report")
	require.NoError(t, err)
	assert.Contains(t, reply, "Weekly report")
	assert.Contains(t, reply, "Revenue: 50.00")

	reply, err = run(t, svc, "/reporte mes")
	require.NoError(t, err)
	assert.Contains(t, reply, "Month to date")

	_, err = run(t, svc, "/report year")
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

func TestPendingCommand(t *testing.T) {
	svc, store := newDispatcher(t)
	ctx := context.Background()

	reply, err := run(t, svc, "/pending")
	require.NoError(t, err)
	assert.Equal(t, "All aggregate credits are applied.", reply)

	created := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	entry := aggregates.NewEntry(models.YearMonthOf(created), models.IncomeClass, 30, aggregates.SourcePayment, "p-1", created)
	require.NoError(t, store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return aggregates.Enqueue(ctx, tx, entry)
	}))

	reply, err = run(t, svc, "/pending")
	require.NoError(t, err)
	assert.Equal(t, "1 aggregate credits pending (30.00), oldest from 2024-03-05.", reply)
}

func TestHelpAndUnknown(t *testing.T) {
	svc, _ := newDispatcher(t)

	reply, err := run(t, svc, "ayuda")
	require.NoError(t, err)
	assert.Equal(t, helpText, reply)

	_, err = run(t, svc, "hello there")
	assert.ErrorIs(t, err, ErrUnsupportedCommand)
}
