// Package commands executes the staff chat commands received over WhatsApp.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/gymledger/internal/domain/models"
	"github.com/mamadbah2/gymledger/internal/identity"
	"github.com/mamadbah2/gymledger/internal/service/reporting"
	"github.com/mamadbah2/gymledger/internal/service/sales"
)

// ErrInvalidArguments indicates the command payload could not be parsed.
var ErrInvalidArguments = errors.New("invalid command arguments")

// ErrUnsupportedCommand indicates we do not yet support the requested command.
var ErrUnsupportedCommand = errors.New("unsupported command")

const (
	dateFormat = "2006-01-02"
	helpText   = "Commands:\n" +
		"/report [week|month] - income and expenses\n" +
		"/stock <product> - stock and price\n" +
		"/sale <product> <qty> [method] [member] - record a sale\n" +
		"/pending - aggregate credits waiting to be applied"
)

// SaleRecorder records sales.
type SaleRecorder interface {
	RecordSale(ctx context.Context, req sales.SaleRequest) (*sales.Receipt, error)
}

// ProductReader looks products up.
type ProductReader interface {
	Get(ctx context.Context, id string) (*models.Product, error)
}

// ReportBuilder builds financial reports.
type ReportBuilder interface {
	BuildReport(ctx context.Context, start, end time.Time) (*models.FinancialReport, error)
}

// PendingLister lists outbox entries not yet applied.
type PendingLister interface {
	Pending(ctx context.Context, ym models.YearMonth) ([]models.OutboxEntry, error)
}

// Dispatcher executes parsed commands and renders the reply text.
type Dispatcher interface {
	HandleCommand(ctx context.Context, cmd models.Command, sender string) (string, error)
}

// Service implements the Dispatcher interface.
type Service struct {
	sales    SaleRecorder
	products ProductReader
	reports  ReportBuilder
	outbox   PendingLister
	loc      *time.Location
	logger   *zap.Logger
	now      func() time.Time
}

// NewService constructs a command dispatcher.
func NewService(salesSvc SaleRecorder, products ProductReader, reports ReportBuilder, outbox PendingLister, loc *time.Location, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		sales:    salesSvc,
		products: products,
		reports:  reports,
		outbox:   outbox,
		loc:      loc,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleCommand runs cmd on behalf of sender and returns the reply.
func (s *Service) HandleCommand(ctx context.Context, cmd models.Command, sender string) (string, error) {
	ctx = identity.WithCaller(ctx, "whatsapp:"+sender)
	now := s.now().In(s.loc)

	s.logger.Debug("dispatching command", zap.String("command", string(cmd.Type)), zap.String("sender", sender), zap.Strings("args", cmd.Args))

	switch cmd.Type {
	case models.CommandReport:
		return s.report(ctx, cmd.Args, now)
	case models.CommandStock:
		return s.stock(ctx, cmd.Args)
	case models.CommandSale:
		return s.sale(ctx, cmd.Args)
	case models.CommandPending:
		return s.pending(ctx)
	case models.CommandHelp:
		return helpText, nil
	default:
		return "", ErrUnsupportedCommand
	}
}

func (s *Service) report(ctx context.Context, args []string, now time.Time) (string, error) {
	title, start := "Weekly report", now.AddDate(0, 0, -7)
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "week", "semana":
		case "month", "mes":
			title, start = "Month to date", models.YearMonthOf(now).Start(s.loc)
		default:
			return "", fmt.Errorf("%w: period must be week or month", ErrInvalidArguments)
		}
	}

	report, err := s.reports.BuildReport(ctx, start, now)
	if err != nil {
		return "", err
	}
	return reporting.FormatDigest(title, report, start, now), nil
}

func (s *Service) stock(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%w: usage /stock <product>", ErrInvalidArguments)
	}
	p, err := s.products.Get(ctx, args[0])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s: %d in stock (%s), price %.2f, %.0f points per unit.", p.Name, p.Stock, p.Status, p.Price, p.PointValue), nil
}

func (s *Service) sale(ctx context.Context, args []string) (string, error) {
	if len(args) < 2 || len(args) > 4 {
		return "", fmt.Errorf("%w: usage /sale <product> <qty> [method] [member]", ErrInvalidArguments)
	}
	qty, err := strconv.Atoi(args[1])
	if err != nil {
		return "", fmt.Errorf("%w: quantity %q is not a number", ErrInvalidArguments, args[1])
	}

	req := sales.SaleRequest{ProductID: args[0], Quantity: qty, PaymentMethod: "cash"}
	if len(args) > 2 {
		req.PaymentMethod = strings.ToLower(args[2])
	}
	if len(args) > 3 {
		req.Buyer = &sales.Buyer{ID: args[3], IsMember: true}
	}

	receipt, err := s.sales.RecordSale(ctx, req)
	if err != nil {
		return "", err
	}

	sale := receipt.Sale
	message := fmt.Sprintf("Sale recorded on %s: %d x %s @ %.2f = %.2f (%s).",
		sale.Timestamp.In(s.loc).Format(dateFormat), sale.Quantity, sale.ProductName, sale.UnitPrice, sale.TotalAmount, sale.PaymentMethod)
	if sale.PointsAwarded > 0 {
		message += fmt.Sprintf(" %.0f points to %s.", sale.PointsAwarded, sale.BuyerID)
	}
	for _, w := range receipt.WarningMessages() {
		message += "\nWarning: " + w
	}
	return message, nil
}

func (s *Service) pending(ctx context.Context) (string, error) {
	entries, err := s.outbox.Pending(ctx, models.YearMonth{})
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "All aggregate credits are applied.", nil
	}

	var total float64
	for _, e := range entries {
		total += e.Amount
	}
	return fmt.Sprintf("%d aggregate credits pending (%.2f), oldest from %s.",
		len(entries), total, entries[0].CreatedAt.In(s.loc).Format(dateFormat)), nil
}
