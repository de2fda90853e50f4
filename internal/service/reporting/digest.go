package reporting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/gymledger/internal/domain/models"
)

const (
	dateLayout        = "2006-01-02"
	reportsRange      = "Reports!A:L"
	reportMonthsRange = "Reports!A:A"
)

// Exporter reads and appends spreadsheet rows. The sheets repository
// satisfies it.
type Exporter interface {
	WriteRow(ctx context.Context, sheetRange string, values []interface{}) error
	ReadRange(ctx context.Context, sheetRange string) ([][]interface{}, error)
}

// WeeklyDigest builds the report of the seven days ending at now and renders
// it as a chat message.
func (s *Service) WeeklyDigest(ctx context.Context, now time.Time) (string, error) {
	end := now.In(s.loc)
	start := end.AddDate(0, 0, -7)

	report, err := s.BuildReport(ctx, start, end)
	if err != nil {
		return "", fmt.Errorf("build weekly report: %w", err)
	}
	return FormatDigest("Weekly report", report, start, end), nil
}

// FormatDigest renders a short plain-text summary of report under title.
func FormatDigest(title string, report *models.FinancialReport, start, end time.Time) string {
	sum := report.Summary
	var b strings.Builder

	fmt.Fprintf(&b, "%s (%s - %s)\n", title, start.Format(dateLayout), end.Format(dateLayout))
	if sum.TotalTransactions == 0 && sum.StaffExpenses == 0 && sum.ProductExpenses == 0 {
		b.WriteString("No transactions recorded.")
		return b.String()
	}

	fmt.Fprintf(&b, "Revenue: %.2f (%d transactions, avg %.2f)\n", sum.TotalRevenue, sum.TotalTransactions, sum.AverageTransactionValue)
	fmt.Fprintf(&b, "  Classes %.2f | Memberships %.2f | Products %.2f | Other %.2f\n",
		sum.ClassIncome, sum.MembershipIncome, sum.ProductSales, sum.OtherIncome)
	fmt.Fprintf(&b, "Expenses: staff %.2f, products %.2f\n", sum.StaffExpenses, sum.ProductExpenses)
	fmt.Fprintf(&b, "Net: %.2f", sum.NetRevenue)

	if len(report.TopProducts) > 0 {
		top := report.TopProducts[0]
		fmt.Fprintf(&b, "\nBest seller: %s (%d units, %.2f)", top.Name, top.Units, top.Revenue)
	}
	if report.Diagnostics.MalformedNumbers > 0 || report.Diagnostics.MalformedDates > 0 {
		fmt.Fprintf(&b, "\n%d malformed values ignored.", report.Diagnostics.MalformedNumbers+report.Diagnostics.MalformedDates)
	}
	return b.String()
}

// ExportMonth appends the summary of ym to the reports sheet unless a row
// for that month is already there.
func (s *Service) ExportMonth(ctx context.Context, ym models.YearMonth) error {
	if s.exporter == nil {
		return fmt.Errorf("export %s: no spreadsheet configured", ym)
	}

	rows, err := s.exporter.ReadRange(ctx, reportMonthsRange)
	if err != nil {
		return fmt.Errorf("export %s: %w", ym, err)
	}
	for _, row := range rows {
		if len(row) > 0 && fmt.Sprint(row[0]) == ym.String() {
			s.logger.Info("monthly summary already exported", zap.String("month", ym.String()))
			return nil
		}
	}

	start := ym.Start(s.loc)
	end := ym.End(s.loc).Add(-time.Nanosecond)
	report, err := s.BuildReport(ctx, start, end)
	if err != nil {
		return fmt.Errorf("build report for %s: %w", ym, err)
	}

	if err := s.exporter.WriteRow(ctx, reportsRange, SummaryRow(ym, report, s.now())); err != nil {
		return fmt.Errorf("export %s: %w", ym, err)
	}
	s.logger.Info("monthly summary exported", zap.String("month", ym.String()))
	return nil
}

// SummaryRow is the spreadsheet row of one month.
func SummaryRow(ym models.YearMonth, report *models.FinancialReport, generatedAt time.Time) []interface{} {
	sum := report.Summary
	return []interface{}{
		ym.String(),
		sum.ClassIncome,
		sum.MembershipIncome,
		sum.ProductSales,
		sum.OtherIncome,
		sum.TotalRevenue,
		sum.StaffExpenses,
		sum.ProductExpenses,
		sum.NetRevenue,
		sum.TotalTransactions,
		sum.AverageTransactionValue,
		generatedAt.UTC().Format(time.RFC3339),
	}
}
