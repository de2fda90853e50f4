// Package handlers adapts the ledger services to HTTP.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/gymledger/internal/domain/models"
	"github.com/mamadbah2/gymledger/internal/repository/docstore"
	"github.com/mamadbah2/gymledger/internal/service/aggregates"
	"github.com/mamadbah2/gymledger/internal/service/inventory"
	"github.com/mamadbah2/gymledger/internal/service/payments"
	"github.com/mamadbah2/gymledger/internal/service/reconcile"
	"github.com/mamadbah2/gymledger/internal/service/sales"
)

// SaleRecorder records sales.
type SaleRecorder interface {
	RecordSale(ctx context.Context, req sales.SaleRequest) (*sales.Receipt, error)
}

// PaymentRecorder records payments.
type PaymentRecorder interface {
	RecordPayment(ctx context.Context, req payments.PaymentRequest) (*payments.Receipt, error)
}

// Catalog reads and writes products.
type Catalog interface {
	Get(ctx context.Context, id string) (*models.Product, error)
	Upsert(ctx context.Context, p models.Product) (*models.Product, error)
}

// AggregateReader exposes the monthly aggregates and their outbox.
type AggregateReader interface {
	Get(ctx context.Context, ym models.YearMonth) (*models.MonthlyAggregate, error)
	ReplayPending(ctx context.Context) (aggregates.ReplayResult, error)
}

// Reconciler repairs one month.
type Reconciler interface {
	ReconcileMonth(ctx context.Context, ym models.YearMonth) (reconcile.Result, error)
}

// ReportBuilder builds financial reports.
type ReportBuilder interface {
	BuildReport(ctx context.Context, start, end time.Time) (*models.FinancialReport, error)
}

// Handler serves the ledger API.
type Handler struct {
	sales      SaleRecorder
	payments   PaymentRecorder
	catalog    Catalog
	aggregates AggregateReader
	reconciler Reconciler
	reports    ReportBuilder
	loc        *time.Location
	logger     *zap.Logger
}

// Services groups the collaborators of Handler.
type Services struct {
	Sales      SaleRecorder
	Payments   PaymentRecorder
	Catalog    Catalog
	Aggregates AggregateReader
	Reconciler Reconciler
	Reports    ReportBuilder
}

// NewHandler constructs the HTTP handler adapter. Report dates are read in loc.
func NewHandler(svc Services, loc *time.Location, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		sales:      svc.Sales,
		payments:   svc.Payments,
		catalog:    svc.Catalog,
		aggregates: svc.Aggregates,
		reconciler: svc.Reconciler,
		reports:    svc.Reports,
		loc:        loc,
		logger:     logger,
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, sales.ErrInvalidSale),
		errors.Is(err, payments.ErrInvalidPayment),
		errors.Is(err, inventory.ErrInvalidProduct),
		errors.Is(err, aggregates.ErrInvalidCredit):
		return http.StatusBadRequest
	case errors.Is(err, inventory.ErrProductNotFound),
		errors.Is(err, aggregates.ErrAggregateNotFound),
		errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sales.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, sales.ErrTransactionAborted),
		errors.Is(err, docstore.ErrAborted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
	} else {
		h.logger.Warn(msg, zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func warningMessages(warnings []error) []string {
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, w.Error())
	}
	return out
}
