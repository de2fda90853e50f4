package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/gymledger/internal/repository/docstore"
	"github.com/mamadbah2/gymledger/internal/service/aggregates"
	"github.com/mamadbah2/gymledger/internal/service/payments"
	"github.com/mamadbah2/gymledger/internal/service/sales"
)

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("%w: quantity", sales.ErrInvalidSale):                             http.StatusBadRequest,
		payments.ErrInvalidPayment:                                                   http.StatusBadRequest,
		fmt.Errorf("x: %w", sales.ErrProductNotFound):                                http.StatusNotFound,
		aggregates.ErrAggregateNotFound:                                              http.StatusNotFound,
		&sales.InsufficientStockError{ProductID: "whey", Requested: 3, Available: 1}: http.StatusConflict,
		fmt.Errorf("%w: retries", sales.ErrTransactionAborted):                       http.StatusServiceUnavailable,
		fmt.Errorf("record payment: %w", docstore.ErrAborted):                        http.StatusServiceUnavailable,
		errors.New("disk full"):                                                      http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}

func TestReportRange(t *testing.T) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	h := NewHandler(Services{}, madrid, nil)

	start, end, err := h.reportRange("2024-03-01", "2024-03-31")
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 3, 1, 0, 0, 0, 0, madrid).Equal(start), start)
	assert.True(t, time.Date(2024, 3, 31, 23, 59, 59, 999999999, madrid).Equal(end), end)

	start, end, err = h.reportRange("", "")
	require.NoError(t, err)
	assert.True(t, start.IsZero())
	assert.True(t, end.IsZero())

	_, _, err = h.reportRange("2024-13-01", "")
	assert.Error(t, err)
	_, _, err = h.reportRange("2024-03-02", "2024-03-01")
	assert.Error(t, err)
}
