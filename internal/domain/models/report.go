package models

import "time"

// FinancialReport is derived on every request and never stored.
type FinancialReport struct {
	Start           time.Time      `json:"start,omitempty"`
	End             time.Time      `json:"end,omitempty"`
	Summary         ReportSummary  `json:"summary"`
	Monthly         []MonthlyPoint `json:"monthly"`
	PaymentMethods  []MethodShare  `json:"payment_methods"`
	TopProducts     []ProductRank  `json:"top_products"`
	StaffExpenses   []ExpenseLine  `json:"staff_expenses"`
	ProductExpenses []ExpenseLine  `json:"product_expenses"`
	Recent          []FeedItem     `json:"recent"`
	Diagnostics     Diagnostics    `json:"diagnostics"`
}

// ReportSummary holds the headline figures. Expenses never count as revenue.
type ReportSummary struct {
	ClassIncome             float64 `json:"class_income"`
	MembershipIncome        float64 `json:"membership_income"`
	ProductSales            float64 `json:"product_sales"`
	OtherIncome             float64 `json:"other_income"`
	TotalRevenue            float64 `json:"total_revenue"`
	StaffExpenses           float64 `json:"staff_expenses"`
	ProductExpenses         float64 `json:"product_expenses"`
	NetRevenue              float64 `json:"net_revenue"`
	TotalTransactions       int     `json:"total_transactions"`
	AverageTransactionValue float64 `json:"average_transaction_value"`
}

// MonthlyPoint is one entry of the chronological series.
type MonthlyPoint struct {
	Month            string  `json:"month"`
	ClassIncome      float64 `json:"class_income"`
	MembershipIncome float64 `json:"membership_income"`
	ProductSales     float64 `json:"product_sales"`
	OtherIncome      float64 `json:"other_income"`
	Revenue          float64 `json:"revenue"`
	Transactions     int     `json:"transactions"`
	StaffExpenses    float64 `json:"staff_expenses"`
	ProductExpenses  float64 `json:"product_expenses"`
	Net              float64 `json:"net"`
}

// MethodShare is the weight of one payment method.
type MethodShare struct {
	Method     string  `json:"method"`
	Amount     float64 `json:"amount"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// ProductRank is one line of the best sellers list.
type ProductRank struct {
	Name    string  `json:"name"`
	Units   int     `json:"units"`
	Revenue float64 `json:"revenue"`
	Sales   int     `json:"sales"`
}

// ExpenseLine groups expenses by payee.
type ExpenseLine struct {
	Payee  string  `json:"payee"`
	Amount float64 `json:"amount"`
	Count  int     `json:"count"`
}

// FeedKind tells sales and payments apart in the activity feed.
type FeedKind string

const (
	FeedSale    FeedKind = "sale"
	FeedPayment FeedKind = "payment"
)

// FeedItem is one row of the recent activity feed.
type FeedItem struct {
	ID          string    `json:"id"`
	Kind        FeedKind  `json:"kind"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Amount      float64   `json:"amount"`
	Method      string    `json:"method,omitempty"`
	IsExpense   bool      `json:"is_expense"`
	Timestamp   time.Time `json:"timestamp"`
}

// Diagnostics counts input values that were coerced away while building.
type Diagnostics struct {
	MalformedNumbers int `json:"malformed_numbers"`
	MalformedDates   int `json:"malformed_dates"`
}
