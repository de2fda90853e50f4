// Package reporting derives financial reports from payments, sales and the
// monthly aggregates. It never writes to the document store.
package reporting

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/gymledger/internal/coerce"
	"github.com/mamadbah2/gymledger/internal/domain/models"
	"github.com/mamadbah2/gymledger/internal/repository/docstore"
	"github.com/mamadbah2/gymledger/internal/service/aggregates"
	"github.com/mamadbah2/gymledger/internal/service/payments"
)

const (
	topProductsLimit = 10
	recentFeedLimit  = 20
	unspecified      = "unspecified"
)

// Service builds financial reports.
type Service struct {
	store    docstore.Store
	ledger   *aggregates.Ledger
	exporter Exporter
	loc      *time.Location
	logger   *zap.Logger
	now      func() time.Time
}

// NewService wires a reporting service. exporter may be nil when no
// spreadsheet is configured.
func NewService(store docstore.Store, ledger *aggregates.Ledger, exporter Exporter, loc *time.Location, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, ledger: ledger, exporter: exporter, loc: loc, logger: logger, now: time.Now}
}

// BuildReport derives the report for records stamped within [start, end].
// A zero bound is open. Malformed values are zeroed and counted in
// Diagnostics; only store failures are returned as errors.
func (s *Service) BuildReport(ctx context.Context, start, end time.Time) (*models.FinancialReport, error) {
	var tally coerce.Tally
	ranged := !start.IsZero() || !end.IsZero()

	// The range is applied after coercion: stored timestamps mix dates, epoch
	// numbers and strings, which no store-side filter compares reliably.
	paymentDocs, err := s.store.Query(ctx, docstore.CollectionPayments, nil)
	if err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	saleDocs, err := s.store.Query(ctx, docstore.CollectionSales, nil)
	if err != nil {
		return nil, fmt.Errorf("load sales: %w", err)
	}

	var from, to models.YearMonth
	if !start.IsZero() {
		from = models.YearMonthOf(start.In(s.loc))
	}
	if !end.IsZero() {
		to = models.YearMonthOf(end.In(s.loc))
	}
	monthly, err := s.ledger.List(ctx, from, to, &tally)
	if err != nil {
		return nil, fmt.Errorf("load aggregates: %w", err)
	}

	inRange := func(ts time.Time, valid bool) bool {
		if !valid {
			return !ranged
		}
		return (start.IsZero() || !ts.Before(start)) && (end.IsZero() || !ts.After(end))
	}

	b := newBuilder(s.loc)
	for _, doc := range paymentDocs {
		p := models.PaymentFromDocument(doc, &tally)
		if inRange(p.Timestamp, p.TimestampValid) {
			b.addPayment(p)
		}
	}
	for _, doc := range saleDocs {
		sale := models.SaleFromDocument(doc, &tally)
		if sale.Status != models.SaleCompleted {
			continue
		}
		if inRange(sale.Timestamp, sale.TimestampValid) {
			b.addSale(sale)
		}
	}

	report := b.build(monthly)
	report.Start, report.End = start, end
	report.Diagnostics = models.Diagnostics{MalformedNumbers: tally.Numbers, MalformedDates: tally.Dates}

	if tally.Numbers > 0 || tally.Dates > 0 {
		s.logger.Debug("malformed values zeroed while building report",
			zap.Int("numbers", tally.Numbers),
			zap.Int("dates", tally.Dates))
	}
	return report, nil
}

type methodAcc struct {
	amount float64
	count  int
}

type expenseAcc map[string]*models.ExpenseLine

func (e expenseAcc) add(payee string, amount float64) {
	if strings.TrimSpace(payee) == "" {
		payee = unspecified
	}
	line, ok := e[payee]
	if !ok {
		line = &models.ExpenseLine{Payee: payee}
		e[payee] = line
	}
	line.Amount += amount
	line.Count++
}

func (e expenseAcc) lines() []models.ExpenseLine {
	out := make([]models.ExpenseLine, 0, len(e))
	for _, line := range e {
		out = append(out, models.ExpenseLine{Payee: line.Payee, Amount: finite(line.Amount), Count: line.Count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].Payee < out[j].Payee
	})
	return out
}

type monthExpenses struct {
	staff   float64
	product float64
}

// builder accumulates one report. It is not safe for concurrent use.
type builder struct {
	loc      *time.Location
	summary  models.ReportSummary
	methods  map[string]*methodAcc
	products map[string]*models.ProductRank
	staff    expenseAcc
	supplies expenseAcc
	expenses map[models.YearMonth]*monthExpenses
	feed     []models.FeedItem
}

func newBuilder(loc *time.Location) *builder {
	return &builder{
		loc:      loc,
		methods:  make(map[string]*methodAcc),
		products: make(map[string]*models.ProductRank),
		staff:    make(expenseAcc),
		supplies: make(expenseAcc),
		expenses: make(map[models.YearMonth]*monthExpenses),
	}
}

func (b *builder) addPayment(p models.Payment) {
	category := payments.Classify(p)
	amount := p.Amount

	switch category {
	case models.PaymentClass:
		b.summary.ClassIncome += amount
	case models.PaymentMembership:
		b.summary.MembershipIncome += amount
	case models.PaymentOther:
		b.summary.OtherIncome += amount
	case models.PaymentStaff:
		b.summary.StaffExpenses += amount
		b.staff.add(p.Payee, amount)
		b.monthExpense(p.Timestamp, p.TimestampValid).staff += amount
	case models.PaymentProductPurchase:
		b.summary.ProductExpenses += amount
		b.supplies.add(p.Payee, amount)
		b.monthExpense(p.Timestamp, p.TimestampValid).product += amount
	}

	if !category.IsExpense() {
		b.summary.TotalTransactions++
		b.addMethod(p.Method, amount)
	}

	if p.TimestampValid {
		description := strings.TrimSpace(p.Notes)
		if description == "" {
			description = strings.TrimSpace(p.Payee)
		}
		if description == "" {
			description = string(category)
		}
		b.feed = append(b.feed, models.FeedItem{
			ID:          p.ID,
			Kind:        models.FeedPayment,
			Category:    string(category),
			Description: description,
			Amount:      amount,
			Method:      p.Method,
			IsExpense:   category.IsExpense(),
			Timestamp:   p.Timestamp,
		})
	}
}

func (b *builder) addSale(sale models.Sale) {
	b.summary.ProductSales += sale.TotalAmount
	b.summary.TotalTransactions++
	b.addMethod(sale.PaymentMethod, sale.TotalAmount)

	name := strings.TrimSpace(sale.ProductName)
	if name == "" {
		name = sale.ProductID
	}
	if name == "" {
		name = "unknown"
	}
	rank, ok := b.products[name]
	if !ok {
		rank = &models.ProductRank{Name: name}
		b.products[name] = rank
	}
	rank.Units += sale.Quantity
	rank.Revenue += sale.TotalAmount
	rank.Sales++

	if sale.TimestampValid {
		b.feed = append(b.feed, models.FeedItem{
			ID:          sale.ID,
			Kind:        models.FeedSale,
			Category:    string(models.IncomeProduct),
			Description: fmt.Sprintf("%d x %s", sale.Quantity, name),
			Amount:      sale.TotalAmount,
			Method:      sale.PaymentMethod,
			Timestamp:   sale.Timestamp,
		})
	}
}

func (b *builder) addMethod(method string, amount float64) {
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		method = unspecified
	}
	acc, ok := b.methods[method]
	if !ok {
		acc = &methodAcc{}
		b.methods[method] = acc
	}
	acc.amount += amount
	acc.count++
}

// monthExpense returns the bucket of the month ts falls in. Expenses with an
// unusable date still count in the summary, through a throwaway bucket.
func (b *builder) monthExpense(ts time.Time, valid bool) *monthExpenses {
	if !valid {
		return &monthExpenses{}
	}
	ym := models.YearMonthOf(ts.In(b.loc))
	acc, ok := b.expenses[ym]
	if !ok {
		acc = &monthExpenses{}
		b.expenses[ym] = acc
	}
	return acc
}

func (b *builder) build(monthly []models.MonthlyAggregate) *models.FinancialReport {
	sum := b.summary
	sum.ClassIncome = finite(sum.ClassIncome)
	sum.MembershipIncome = finite(sum.MembershipIncome)
	sum.ProductSales = finite(sum.ProductSales)
	sum.OtherIncome = finite(sum.OtherIncome)
	sum.StaffExpenses = finite(sum.StaffExpenses)
	sum.ProductExpenses = finite(sum.ProductExpenses)
	sum.TotalRevenue = finite(sum.ClassIncome + sum.ProductSales + sum.MembershipIncome + sum.OtherIncome)
	sum.NetRevenue = finite(sum.TotalRevenue - sum.StaffExpenses - sum.ProductExpenses)
	sum.AverageTransactionValue = ratio(sum.TotalRevenue, float64(sum.TotalTransactions))

	return &models.FinancialReport{
		Summary:         sum,
		Monthly:         b.series(monthly),
		PaymentMethods:  b.methodShares(),
		TopProducts:     b.topProducts(),
		StaffExpenses:   b.staff.lines(),
		ProductExpenses: b.supplies.lines(),
		Recent:          b.recent(),
	}
}

func (b *builder) series(monthly []models.MonthlyAggregate) []models.MonthlyPoint {
	points := make(map[models.YearMonth]*models.MonthlyPoint, len(monthly))
	point := func(ym models.YearMonth) *models.MonthlyPoint {
		p, ok := points[ym]
		if !ok {
			p = &models.MonthlyPoint{Month: ym.String()}
			points[ym] = p
		}
		return p
	}

	for _, agg := range monthly {
		p := point(agg.YearMonth)
		p.ClassIncome += agg.Category(models.IncomeClass).Total
		p.MembershipIncome += agg.Category(models.IncomeMembership).Total
		p.ProductSales += agg.Category(models.IncomeProduct).Total
		p.OtherIncome += agg.Category(models.IncomeOther).Total
		p.Transactions += agg.TotalTransactions
	}
	for ym, e := range b.expenses {
		p := point(ym)
		p.StaffExpenses += e.staff
		p.ProductExpenses += e.product
	}

	months := make([]models.YearMonth, 0, len(points))
	for ym := range points {
		months = append(months, ym)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })

	out := make([]models.MonthlyPoint, 0, len(months))
	for _, ym := range months {
		p := *points[ym]
		p.ClassIncome = finite(p.ClassIncome)
		p.MembershipIncome = finite(p.MembershipIncome)
		p.ProductSales = finite(p.ProductSales)
		p.OtherIncome = finite(p.OtherIncome)
		p.StaffExpenses = finite(p.StaffExpenses)
		p.ProductExpenses = finite(p.ProductExpenses)
		p.Revenue = finite(p.ClassIncome + p.MembershipIncome + p.ProductSales + p.OtherIncome)
		p.Net = finite(p.Revenue - p.StaffExpenses - p.ProductExpenses)
		out = append(out, p)
	}
	return out
}

func (b *builder) methodShares() []models.MethodShare {
	var total float64
	for _, acc := range b.methods {
		total += acc.amount
	}
	total = finite(total)

	out := make([]models.MethodShare, 0, len(b.methods))
	for method, acc := range b.methods {
		amount := finite(acc.amount)
		out = append(out, models.MethodShare{
			Method:     method,
			Amount:     amount,
			Count:      acc.count,
			Percentage: ratio(amount*100, total),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].Method < out[j].Method
	})
	return out
}

func (b *builder) topProducts() []models.ProductRank {
	out := make([]models.ProductRank, 0, len(b.products))
	for _, rank := range b.products {
		r := *rank
		r.Revenue = finite(r.Revenue)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Revenue != out[j].Revenue {
			return out[i].Revenue > out[j].Revenue
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > topProductsLimit {
		out = out[:topProductsLimit]
	}
	return out
}

func (b *builder) recent() []models.FeedItem {
	out := append([]models.FeedItem(nil), b.feed...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > recentFeedLimit {
		out = out[:recentFeedLimit]
	}
	if out == nil {
		out = []models.FeedItem{}
	}
	return out
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return finite(num / den)
}
