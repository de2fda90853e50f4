package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mamadbah2/gymledger/internal/config"
	"github.com/mamadbah2/gymledger/internal/domain/models"
	"github.com/mamadbah2/gymledger/internal/service/aggregates"
	"github.com/mamadbah2/gymledger/internal/service/reconcile"
)

const (
	jobTimeout = 2 * time.Minute
	jobOutbox  = "outbox replay"
)

// OutboxReplayer re-applies pending aggregate credits.
type OutboxReplayer interface {
	ReplayPending(ctx context.Context) (aggregates.ReplayResult, error)
}

// Reconciler repairs aggregate drift.
type Reconciler interface {
	Run(ctx context.Context) ([]reconcile.Result, error)
}

// Reporter renders digests and exports monthly summaries.
type Reporter interface {
	WeeklyDigest(ctx context.Context, now time.Time) (string, error)
	ExportMonth(ctx context.Context, ym models.YearMonth) error
}

// Notifier delivers digests.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Scheduler manages scheduled tasks.
type Scheduler struct {
	cron       *cron.Cron
	entries    map[string]cron.EntryID
	cfg        config.ScheduleConfig
	outbox     OutboxReplayer
	reconciler Reconciler
	reporter   Reporter
	notifier   Notifier
	exportOn   bool
	loc        *time.Location
	logger     *zap.Logger
	now        func() time.Time
}

// Options carries the optional collaborators. A nil Notifier disables the
// digest; Export false disables the sheet export.
type Options struct {
	Notifier Notifier
	Export   bool
}

// NewScheduler creates a new scheduler instance. Cron expressions are read in loc.
func NewScheduler(cfg config.ScheduleConfig, loc *time.Location, outbox OutboxReplayer, reconciler Reconciler, reporter Reporter, opts Options, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}

	// robfig/cron/v3 default parser is standard cron (5 fields: min, hour, dom, month, dow)
	// plus descriptors such as "@every 1m". A job still running when its next
	// tick fires is skipped for that tick.
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger.Sugar()})),
	)

	return &Scheduler{
		cron:       c,
		entries:    make(map[string]cron.EntryID),
		cfg:        cfg,
		outbox:     outbox,
		reconciler: reconciler,
		reporter:   reporter,
		notifier:   opts.Notifier,
		exportOn:   opts.Export,
		loc:        loc,
		logger:     logger,
		now:        time.Now,
	}
}

// Start registers the jobs and starts the scheduler.
func (s *Scheduler) Start() error {
	s.logger.Info("starting scheduler")

	jobs := []struct {
		name    string
		expr    string
		enabled bool
		run     func()
	}{
		{jobOutbox, s.cfg.Outbox, true, s.replayOutbox},
		{"reconciliation", s.cfg.Reconcile, true, s.reconcile},
		{"weekly digest", s.cfg.Digest, s.notifier != nil, s.sendWeeklyDigest},
		{"monthly export", s.cfg.Export, s.exportOn, s.exportPreviousMonth},
	}

	for _, job := range jobs {
		if !job.enabled {
			s.logger.Info("job disabled", zap.String("job", job.name))
			continue
		}
		id, err := s.cron.AddFunc(job.expr, job.run)
		if err != nil {
			return fmt.Errorf("schedule %s (%q): %w", job.name, job.expr, err)
		}
		s.entries[job.name] = id
		s.logger.Info("job scheduled", zap.String("job", job.name), zap.String("expr", job.expr))
	}

	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) replayOutbox() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	result, err := s.outbox.ReplayPending(ctx)
	if err != nil {
		s.logger.Error("outbox replay failed", zap.Error(err))
		return
	}
	if result.Failed > 0 {
		s.logger.Warn("outbox entries still pending", zap.Int("failed", result.Failed))
	}
}

func (s *Scheduler) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	results, err := s.reconciler.Run(ctx)
	if err != nil {
		s.logger.Error("reconciliation failed", zap.Error(err))
		return
	}
	for _, r := range results {
		s.logger.Info("month reconciled",
			zap.String("month", r.Month),
			zap.Bool("skipped", r.Skipped),
			zap.Bool("drifted", r.Drifted()))
	}
}

func (s *Scheduler) sendWeeklyDigest() {
	s.logger.Info("generating weekly digest")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	digest, err := s.reporter.WeeklyDigest(ctx, s.now())
	if err != nil {
		s.logger.Error("failed to generate weekly digest", zap.Error(err))
		return
	}

	if err := s.notifier.Notify(ctx, digest); err != nil {
		s.logger.Error("failed to send weekly digest", zap.Error(err))
	} else {
		s.logger.Info("weekly digest sent successfully")
	}
}

func (s *Scheduler) exportPreviousMonth() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	month := models.YearMonthOf(s.now().In(s.loc)).Prev()
	if err := s.reporter.ExportMonth(ctx, month); err != nil {
		s.logger.Error("monthly export failed", zap.String("month", month.String()), zap.Error(err))
	}
}

// cronLogger routes robfig/cron's own messages, such as skipped runs, to zap.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Infow("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
