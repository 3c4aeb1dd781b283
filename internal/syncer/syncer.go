// Package syncer runs one source for one day and upserts what it collects.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/healthsync/internal/metrics"
	"github.com/JakeFAU/healthsync/internal/notify"
	"github.com/JakeFAU/healthsync/internal/retry"
	"github.com/JakeFAU/healthsync/internal/sheet"
	sheetmemory "github.com/JakeFAU/healthsync/internal/sheet/memory"
	"github.com/JakeFAU/healthsync/internal/source"
)

// Status is the lifecycle state of a run.
type Status string

// Run statuses.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusNoData    Status = "no_data"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusNoData:
		return true
	default:
		return false
	}
}

// Request asks for one source to be synced for one day.
type Request struct {
	RunID  string    `json:"run_id,omitempty"`
	Source string    `json:"source"`
	Day    time.Time `json:"day"`
	DryRun bool      `json:"dry_run"`
}

// Report summarizes a finished run. It doubles as the notification payload.
type Report struct {
	RunID      string    `json:"run_id"`
	Source     string    `json:"source"`
	Day        string    `json:"day"`
	Status     Status    `json:"status"`
	DryRun     bool      `json:"dry_run"`
	Inserted   int       `json:"inserted"`
	Updated    int       `json:"updated"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Preview    string    `json:"-"`
}

// Builder constructs sources by name.
type Builder interface {
	Build(ctx context.Context, name string) (source.Source, error)
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Config controls post-run reporting.
type Config struct {
	PushgatewayURL string
	PushJob        string
	Retry          retry.Policy
	// Output receives dry-run previews when set.
	Output io.Writer
}

// Runner executes sync requests.
type Runner struct {
	sources   Builder
	store     sheet.Store
	publisher notify.Publisher
	ids       IDGenerator
	clock     Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Runner. A nil publisher disables notifications.
func New(
	sources Builder,
	store sheet.Store,
	publisher notify.Publisher,
	ids IDGenerator,
	clock Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if publisher == nil {
		publisher = notify.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if cfg.PushJob == "" {
		cfg.PushJob = "healthsync"
	}
	metrics.Init()
	return &Runner{
		sources:   sources,
		store:     store,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("syncer"),
	}
}

// Run collects and upserts one day for one source. A failed run returns its
// report together with the error; no_data is not an error.
func (r *Runner) Run(ctx context.Context, req Request) (Report, error) {
	runID := req.RunID
	if runID == "" {
		id, err := r.ids.NewID()
		if err != nil {
			return Report{}, fmt.Errorf("generate run id: %w", err)
		}
		runID = id
	}
	if req.Day.IsZero() {
		req.Day = Yesterday(r.clock.Now())
	}
	report := Report{
		RunID:     runID,
		Source:    req.Source,
		Day:       req.Day.Format(source.DateLayout),
		Status:    StatusRunning,
		DryRun:    req.DryRun,
		StartedAt: r.clock.Now(),
	}
	logger := r.logger.With(
		zap.String("run_id", runID),
		zap.String("source", req.Source),
		zap.String("day", report.Day),
		zap.Bool("dry_run", req.DryRun),
	)
	ctx = source.WithRunID(ctx, runID)
	logger.Info("sync started")

	err := r.execute(ctx, req, &report, logger)
	switch {
	case errors.Is(err, source.ErrNoData):
		report.Status = StatusNoData
		err = nil
		logger.Info("no data for day")
	case err != nil:
		report.Status = StatusFailed
		report.Error = err.Error()
		logger.Error("sync failed", zap.Error(err))
	default:
		report.Status = StatusSucceeded
		logger.Info("sync finished",
			zap.Int("inserted", report.Inserted),
			zap.Int("updated", report.Updated),
		)
	}
	report.FinishedAt = r.clock.Now()
	r.finish(ctx, report, logger)
	return report, err
}

func (r *Runner) execute(ctx context.Context, req Request, report *Report, logger *zap.Logger) error {
	src, err := r.sources.Build(ctx, req.Source)
	if err != nil {
		return err
	}
	rows, err := src.Collect(ctx, req.Day)
	if err != nil {
		return fmt.Errorf("collect %s: %w", req.Source, err)
	}
	if len(rows) == 0 {
		return source.ErrNoData
	}

	table := src.Table()
	store := r.store
	var book *sheetmemory.Book
	if req.DryRun {
		store, book = sheetmemory.NewStore()
	}
	for _, row := range rows {
		outcome, err := r.upsert(ctx, store, table, row, logger)
		if err != nil {
			return fmt.Errorf("write %s row: %w", table.Name, err)
		}
		switch outcome {
		case sheet.OutcomeInserted:
			report.Inserted++
		case sheet.OutcomeUpdated:
			report.Updated++
		}
		if !req.DryRun {
			metrics.ObserveRow(req.Source, string(outcome))
		}
	}
	if book != nil {
		report.Preview = RenderGrid(table.Name, book.Rows(table.Name))
		if r.cfg.Output != nil {
			if _, err := fmt.Fprintln(r.cfg.Output, report.Preview); err != nil {
				logger.Warn("write dry-run preview failed", zap.Error(err))
			}
		}
	}
	return nil
}

func (r *Runner) upsert(
	ctx context.Context,
	store sheet.Store,
	table sheet.Table,
	row sheet.Row,
	logger *zap.Logger,
) (sheet.Outcome, error) {
	var outcome sheet.Outcome
	err := retry.Do(ctx, r.cfg.Retry, func(ctx context.Context) error {
		out, err := store.Upsert(ctx, table, row)
		if err != nil {
			if errors.Is(err, sheet.ErrMissingColumn) || errors.Is(err, sheet.ErrEmptyKey) {
				return retry.Permanent(err)
			}
			return err
		}
		outcome = out
		return nil
	}, func(attempt int, err error) {
		logger.Warn("upsert failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func (r *Runner) finish(ctx context.Context, report Report, logger *zap.Logger) {
	// Reporting must survive a canceled run.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	if !report.DryRun {
		metrics.ObserveRun(report.Source, string(report.Status), report.FinishedAt.Sub(report.StartedAt))
		if report.Status == StatusSucceeded {
			metrics.MarkSuccess(report.Source, report.FinishedAt)
		}
	}
	if id, err := r.publisher.Publish(ctx, report); err != nil {
		logger.Warn("publish notification failed", zap.Error(err))
	} else if id != "" {
		logger.Debug("notification published", zap.String("message_id", id))
	}
	if r.cfg.PushgatewayURL != "" && !report.DryRun {
		if err := metrics.Push(ctx, r.cfg.PushgatewayURL, r.cfg.PushJob, report.Source); err != nil {
			logger.Warn("push metrics failed", zap.Error(err))
		}
	}
}
