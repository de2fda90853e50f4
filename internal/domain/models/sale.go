package models

import (
	"time"

	"github.com/mamadbah2/gymledger/internal/coerce"
)

// SaleStatus is the lifecycle state of a sale record.
type SaleStatus string

const (
	SaleCompleted SaleStatus = "completed"
	SalePending   SaleStatus = "pending"
	SaleCancelled SaleStatus = "cancelled"
)

// Sale document fields.
const (
	FieldSaleProductID     = "product_id"
	FieldSaleProductName   = "product_name"
	FieldSaleQuantity      = "quantity"
	FieldSaleUnitPrice     = "unit_price"
	FieldSaleTotalAmount   = "total_amount"
	FieldSaleBuyerID       = "buyer_id"
	FieldSaleIsMember      = "is_member"
	FieldSalePoints        = "points_awarded"
	FieldSalePaymentMethod = "payment_method"
	FieldSaleTimestamp     = "timestamp"
	FieldSaleRecordedBy    = "recorded_by"
	FieldSaleStatus        = "status"
)

// Sale is an immutable product sale. UnitPrice is the price at sale time.
type Sale struct {
	ID            string     `json:"id"`
	ProductID     string     `json:"product_id"`
	ProductName   string     `json:"product_name"`
	Quantity      int        `json:"quantity"`
	UnitPrice     float64    `json:"unit_price"`
	TotalAmount   float64    `json:"total_amount"`
	BuyerID       string     `json:"buyer_id,omitempty"`
	IsMember      bool       `json:"is_member"`
	PointsAwarded float64    `json:"points_awarded"`
	PaymentMethod string     `json:"payment_method"`
	Timestamp     time.Time  `json:"timestamp"`
	RecordedBy    string     `json:"recorded_by"`
	Status        SaleStatus `json:"status"`

	// TimestampValid is false when the stored timestamp could not be parsed.
	TimestampValid bool `json:"-"`
}

// SaleFromDocument decodes a sale, counting malformed values in tally.
func SaleFromDocument(doc map[string]any, tally *coerce.Tally) Sale {
	ts, ok := tally.Time(doc[FieldSaleTimestamp])
	status := SaleStatus(coerce.String(doc[FieldSaleStatus]))
	if status == "" {
		status = SaleCompleted
	}
	return Sale{
		ID:             coerce.String(doc["_id"]),
		ProductID:      coerce.String(doc[FieldSaleProductID]),
		ProductName:    coerce.String(doc[FieldSaleProductName]),
		Quantity:       tally.Int(doc[FieldSaleQuantity]),
		UnitPrice:      tally.Float(doc[FieldSaleUnitPrice]),
		TotalAmount:    tally.Float(doc[FieldSaleTotalAmount]),
		BuyerID:        coerce.String(doc[FieldSaleBuyerID]),
		IsMember:       coerce.Bool(doc[FieldSaleIsMember]),
		PointsAwarded:  tally.Float(doc[FieldSalePoints]),
		PaymentMethod:  coerce.String(doc[FieldSalePaymentMethod]),
		Timestamp:      ts,
		RecordedBy:     coerce.String(doc[FieldSaleRecordedBy]),
		Status:         status,
		TimestampValid: ok,
	}
}

// Document encodes the sale for storage.
func (s Sale) Document() map[string]any {
	doc := map[string]any{
		FieldSaleProductID:     s.ProductID,
		FieldSaleProductName:   s.ProductName,
		FieldSaleQuantity:      int64(s.Quantity),
		FieldSaleUnitPrice:     s.UnitPrice,
		FieldSaleTotalAmount:   s.TotalAmount,
		FieldSaleIsMember:      s.IsMember,
		FieldSalePoints:        s.PointsAwarded,
		FieldSalePaymentMethod: s.PaymentMethod,
		FieldSaleTimestamp:     s.Timestamp,
		FieldSaleRecordedBy:    s.RecordedBy,
		FieldSaleStatus:        string(s.Status),
	}
	if s.BuyerID != "" {
		doc[FieldSaleBuyerID] = s.BuyerID
	}
	return doc
}
