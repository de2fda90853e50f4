package reporting

import (
	"context"
	"math"
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

var (
	feb   = models.YearMonth{Year: 2024, Month: time.February}
	march = models.YearMonth{Year: 2024, Month: time.March}
)

func day(m time.Month, d int) time.Time {
	return time.Date(2024, m, d, 10, 0, 0, 0, time.UTC)
}

func newReporting(t *testing.T, store docstore.Store, exporter Exporter) (*Service, *aggregates.Ledger) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	ledger := aggregates.NewLedger(store, logger)
	svc := NewService(store, ledger, exporter, time.UTC, logger)
	svc.now = func() time.Time { return day(time.April, 1) }
	return svc, ledger
}

func seed(t *testing.T, store *memory.Store, ledger *aggregates.Ledger) {
	t.Helper()
	ctx := context.Background()

	store.Put(docstore.CollectionPayments, "p-class", docstore.Document{
		"amount": 100.0, "category": "class", "method": "Cash", "timestamp": day(time.March, 2), "notes": "spinning",
	})
	store.Put(docstore.CollectionPayments, "p-member", docstore.Document{
		"amount": 50, "transaction_type": "membership", "method": "card", "timestamp": day(time.March, 3),
	})
	store.Put(docstore.CollectionPayments, "p-salary", docstore.Document{
		"amount": 300.0, "notes": "Salario marzo", "is_expense": true, "payee": "Coach A", "timestamp": day(time.March, 28),
	})
	store.Put(docstore.CollectionPayments, "p-supplies", docstore.Document{
		"amount": "80", "notes": "mancuernas", "is_expense": true, "payee": "Supplier", "timestamp": day(time.February, 20),
	})
	store.Put(docstore.CollectionPayments, "p-poison", docstore.Document{
		"amount": "abc", "category": "class", "method": "cash", "timestamp": day(time.March, 4),
	})
	store.Put(docstore.CollectionPayments, "p-nodate", docstore.Document{
		"amount": 10.0, "category": "other", "timestamp": "not a date",
	})

	store.Put(docstore.CollectionSales, "s-whey", models.Sale{
		ProductID: "whey", ProductName: "Whey", Quantity: 2, UnitPrice: 25, TotalAmount: 50,
		PaymentMethod: "card", Timestamp: day(time.March, 5), Status: models.SaleCompleted,
	}.Document())
	store.Put(docstore.CollectionSales, "s-bar", models.Sale{
		ProductID: "bar", ProductName: "Bar", Quantity: 3, UnitPrice: 2, TotalAmount: 6,
		PaymentMethod: "cash", Timestamp: day(time.March, 6), Status: models.SaleCompleted,
	}.Document())
	store.Put(docstore.CollectionSales, "s-cancelled", models.Sale{
		ProductID: "whey", ProductName: "Whey", Quantity: 4, UnitPrice: 25, TotalAmount: 100,
		PaymentMethod: "card", Timestamp: day(time.March, 7), Status: models.SaleCancelled,
	}.Document())

	require.NoError(t, ledger.CreditCategory(ctx, march, models.IncomeClass, 100))
	require.NoError(t, ledger.CreditCategory(ctx, march, models.IncomeProduct, 56))
}

func TestBuildReportEmpty(t *testing.T) {
	svc, _ := newReporting(t, memory.NewStore(), nil)

	report, err := svc.BuildReport(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, models.ReportSummary{}, report.Summary)
	assert.Empty(t, report.Monthly)
	assert.Empty(t, report.PaymentMethods)
	assert.Empty(t, report.TopProducts)
	assert.Empty(t, report.Recent)
	assertFinite(t, report)
}

func TestBuildReportAllTime(t *testing.T) {
	store := memory.NewStore()
	svc, ledger := newReporting(t, store, nil)
	seed(t, store, ledger)

	report, err := svc.BuildReport(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assertFinite(t, report)

	sum := report.Summary
	assert.Equal(t, 100.0, sum.ClassIncome)
	assert.Equal(t, 50.0, sum.MembershipIncome)
	assert.Equal(t, 56.0, sum.ProductSales)
	assert.Equal(t, 10.0, sum.OtherIncome)
	assert.Equal(t, 216.0, sum.TotalRevenue)
	assert.Equal(t, 300.0, sum.StaffExpenses)
	assert.Equal(t, 80.0, sum.ProductExpenses)
	assert.Equal(t, -164.0, sum.NetRevenue)
	assert.Equal(t, 6, sum.TotalTransactions)
	assert.Equal(t, 36.0, sum.AverageTransactionValue)

	assert.Equal(t, models.Diagnostics{MalformedNumbers: 1, MalformedDates: 1}, report.Diagnostics)

	require.Len(t, report.Monthly, 2)
	assert.Equal(t, "2024-02", report.Monthly[0].Month)
	assert.Equal(t, 0.0, report.Monthly[0].Revenue)
	assert.Equal(t, 80.0, report.Monthly[0].ProductExpenses)
	assert.Equal(t, -80.0, report.Monthly[0].Net)
	assert.Equal(t, "2024-03", report.Monthly[1].Month)
	assert.Equal(t, 156.0, report.Monthly[1].Revenue)
	assert.Equal(t, 2, report.Monthly[1].Transactions)
	assert.Equal(t, 300.0, report.Monthly[1].StaffExpenses)
	assert.Equal(t, -144.0, report.Monthly[1].Net)

	require.Len(t, report.PaymentMethods, 3)
	assert.Equal(t, models.MethodShare{Method: "cash", Amount: 106, Count: 3, Percentage: 106 * 100 / 216.0}, report.PaymentMethods[0])
	assert.Equal(t, "card", report.PaymentMethods[1].Method)
	assert.Equal(t, 100.0, report.PaymentMethods[1].Amount)
	assert.Equal(t, "unspecified", report.PaymentMethods[2].Method)

	require.Len(t, report.TopProducts, 2)
	assert.Equal(t, models.ProductRank{Name: "Whey", Units: 2, Revenue: 50, Sales: 1}, report.TopProducts[0])
	assert.Equal(t, "Bar", report.TopProducts[1].Name)

	assert.Equal(t, []models.ExpenseLine{{Payee: "Coach A", Amount: 300, Count: 1}}, report.StaffExpenses)
	assert.Equal(t, []models.ExpenseLine{{Payee: "Supplier", Amount: 80, Count: 1}}, report.ProductExpenses)

	require.Len(t, report.Recent, 7)
	assert.Equal(t, "p-salary", report.Recent[0].ID)
	assert.True(t, report.Recent[0].IsExpense)
	assert.Equal(t, "p-supplies", report.Recent[6].ID)
	for i := 1; i < len(report.Recent); i++ {
		assert.False(t, report.Recent[i].Timestamp.After(report.Recent[i-1].Timestamp))
	}
}

func TestBuildReportRange(t *testing.T) {
	store := memory.NewStore()
	svc, ledger := newReporting(t, store, nil)
	seed(t, store, ledger)

	report, err := svc.BuildReport(context.Background(), march.Start(time.UTC), march.End(time.UTC).Add(-time.Nanosecond))
	require.NoError(t, err)

	sum := report.Summary
	assert.Equal(t, 0.0, sum.OtherIncome)
	assert.Equal(t, 0.0, sum.ProductExpenses)
	assert.Equal(t, 206.0, sum.TotalRevenue)
	assert.Equal(t, 5, sum.TotalTransactions)
	// the undated record is left out of the range but still counted
	assert.Equal(t, models.Diagnostics{MalformedNumbers: 1, MalformedDates: 1}, report.Diagnostics)

	require.Len(t, report.Monthly, 1)
	assert.Equal(t, "2024-03", report.Monthly[0].Month)
}

func TestBuildReportRangeCoercesTimestamps(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newReporting(t, store, nil)

	store.Put(docstore.CollectionPayments, "p-unix", docstore.Document{
		"amount": 40.0, "category": "class", "method": "cash", "timestamp": day(time.March, 5).Unix(),
	})
	store.Put(docstore.CollectionPayments, "p-millis", docstore.Document{
		"amount": 60.0, "category": "class", "method": "cash", "timestamp": day(time.March, 5).UnixMilli(),
	})
	store.Put(docstore.CollectionPayments, "p-string", docstore.Document{
		"amount": 25.0, "category": "membership", "method": "card", "timestamp": "2024-03-05T09:00:00Z",
	})
	store.Put(docstore.CollectionPayments, "p-april", docstore.Document{
		"amount": 70.0, "category": "class", "timestamp": day(time.April, 2).Unix(),
	})
	store.Put(docstore.CollectionSales, "s-string", docstore.Document{
		"product_name": "Bar", "quantity": 1, "unit_price": 2.0, "total_amount": 2.0, "timestamp": "2024-03-06",
	})

	all, err := svc.BuildReport(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 170.0, all.Summary.ClassIncome)

	report, err := svc.BuildReport(context.Background(), march.Start(time.UTC), march.End(time.UTC).Add(-time.Nanosecond))
	require.NoError(t, err)

	sum := report.Summary
	assert.Equal(t, 100.0, sum.ClassIncome)
	assert.Equal(t, 25.0, sum.MembershipIncome)
	assert.Equal(t, 2.0, sum.ProductSales)
	assert.Equal(t, 127.0, sum.TotalRevenue)
	assert.Equal(t, 4, sum.TotalTransactions)
	assert.Equal(t, models.Diagnostics{}, report.Diagnostics)
}

func TestBuildReportIsIdempotent(t *testing.T) {
	store := memory.NewStore()
	svc, ledger := newReporting(t, store, nil)
	seed(t, store, ledger)

	first, err := svc.BuildReport(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	second, err := svc.BuildReport(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestTotalRevenueIsTheSumOfIncome(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newReporting(t, store, nil)

	amounts := []any{12.5, "7", math.NaN(), math.Inf(1), -3.0, int64(40), nil, "1e400"}
	categories := []string{"class", "membership", "other", "staff_payment", ""}
	for i, amount := range amounts {
		store.Put(docstore.CollectionPayments, "p"+string(rune('a'+i)), docstore.Document{
			"amount": amount, "category": categories[i%len(categories)], "timestamp": day(time.March, i+1),
		})
		store.Put(docstore.CollectionSales, "s"+string(rune('a'+i)), docstore.Document{
			"total_amount": amount, "quantity": 1, "product_name": "x", "timestamp": day(time.March, i+1),
		})

		report, err := svc.BuildReport(context.Background(), time.Time{}, time.Time{})
		require.NoError(t, err)
		assertFinite(t, report)
		s := report.Summary
		assert.Equal(t, s.ClassIncome+s.ProductSales+s.MembershipIncome+s.OtherIncome, s.TotalRevenue)
	}
}

func assertFinite(t *testing.T, report *models.FinancialReport) {
	t.Helper()
	check := func(name string, v float64) {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s is %v", name, v)
	}
	s := report.Summary
	for name, v := range map[string]float64{
		"class": s.ClassIncome, "membership": s.MembershipIncome, "products": s.ProductSales,
		"other": s.OtherIncome, "revenue": s.TotalRevenue, "staff": s.StaffExpenses,
		"supplies": s.ProductExpenses, "net": s.NetRevenue, "average": s.AverageTransactionValue,
	} {
		check(name, v)
	}
	for _, p := range report.Monthly {
		check(p.Month+" revenue", p.Revenue)
		check(p.Month+" net", p.Net)
	}
	for _, m := range report.PaymentMethods {
		check(m.Method+" amount", m.Amount)
		check(m.Method+" percentage", m.Percentage)
	}
	for _, r := range report.TopProducts {
		check(r.Name, r.Revenue)
	}
	for _, f := range report.Recent {
		check(f.ID, f.Amount)
	}
}
