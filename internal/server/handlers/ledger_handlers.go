package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/gymledger/internal/domain/models"
	"github.com/mamadbah2/gymledger/internal/identity"
	"github.com/mamadbah2/gymledger/internal/service/inventory"
	"github.com/mamadbah2/gymledger/internal/service/payments"
	"github.com/mamadbah2/gymledger/internal/service/sales"
)

const dateLayout = "2006-01-02"

// RecordSale executes a sale transaction.
func (h *Handler) RecordSale(c *gin.Context) {
	var req sales.SaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid sale payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	req.RecordedBy = identity.CallerOr(ctx, identity.Anonymous)

	receipt, err := h.sales.RecordSale(ctx, req)
	if err != nil {
		h.fail(c, "sale rejected", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"sale":     receipt.Sale,
		"stale":    receipt.Stale(),
		"warnings": receipt.WarningMessages(),
	})
}

// RecordPayment stores a payment and credits income to its month.
func (h *Handler) RecordPayment(c *gin.Context) {
	var req payments.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid payment payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	req.RecordedBy = identity.CallerOr(ctx, identity.Anonymous)

	receipt, err := h.payments.RecordPayment(ctx, req)
	if err != nil {
		h.fail(c, "payment rejected", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"payment":  receipt.Payment,
		"warnings": warningMessages(receipt.Warnings),
	})
}

// GetProduct returns one catalog entry.
func (h *Handler) GetProduct(c *gin.Context) {
	product, err := h.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "product lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// PutProduct creates or replaces a catalog entry.
func (h *Handler) PutProduct(c *gin.Context) {
	var p models.Product
	if err := c.ShouldBindJSON(&p); err != nil {
		h.logger.Warn("invalid product payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	p.ID = c.Param("id")

	product, err := h.catalog.Upsert(c.Request.Context(), p)
	if err != nil {
		h.fail(c, "product upsert failed", err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// GetAggregate returns the income totals of one month (YYYY-MM).
func (h *Handler) GetAggregate(c *gin.Context) {
	ym, ok := h.month(c)
	if !ok {
		return
	}
	agg, err := h.aggregates.Get(c.Request.Context(), ym)
	if err != nil {
		h.fail(c, "aggregate lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, agg)
}

// ReplayOutbox re-applies every pending aggregate credit.
func (h *Handler) ReplayOutbox(c *gin.Context) {
	result, err := h.aggregates.ReplayPending(c.Request.Context())
	if err != nil {
		h.fail(c, "outbox replay failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": result.Applied, "failed": result.Failed})
}

// ReconcileMonth recomputes one month from its source records.
func (h *Handler) ReconcileMonth(c *gin.Context) {
	ym, ok := h.month(c)
	if !ok {
		return
	}
	result, err := h.reconciler.ReconcileMonth(c.Request.Context(), ym)
	if err != nil {
		h.fail(c, "reconciliation failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// FinancialReport builds the report for ?start=YYYY-MM-DD&end=YYYY-MM-DD.
// Both bounds are optional and end covers its whole day.
func (h *Handler) FinancialReport(c *gin.Context) {
	start, end, err := h.reportRange(c.Query("start"), c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := h.reports.BuildReport(c.Request.Context(), start, end)
	if err != nil {
		h.fail(c, "report failed", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) month(c *gin.Context) (models.YearMonth, bool) {
	ym, err := models.ParseYearMonth(c.Param("month"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return models.YearMonth{}, false
	}
	return ym, true
}

func (h *Handler) reportRange(rawStart, rawEnd string) (time.Time, time.Time, error) {
	var start, end time.Time
	if rawStart != "" {
		t, err := time.ParseInLocation(dateLayout, rawStart, h.loc)
		if err != nil {
			return start, end, fmt.Errorf("start: %w", err)
		}
		start = t
	}
	if rawEnd != "" {
		t, err := time.ParseInLocation(dateLayout, rawEnd, h.loc)
		if err != nil {
			return start, end, fmt.Errorf("end: %w", err)
		}
		end = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return start, end, errors.New("end is before start")
	}
	return start, end, nil
}

var _ Catalog = (*inventory.Service)(nil)
