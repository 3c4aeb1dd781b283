// Package worker drains queued sync requests one at a time.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/healthsync/internal/syncer"
)

// Queue yields the next request to run.
type Queue interface {
	Dequeue(ctx context.Context) (syncer.Request, error)
}

// Runner executes a request.
type Runner interface {
	Run(ctx context.Context, req syncer.Request) (syncer.Report, error)
}

// RunStore tracks run records.
type RunStore interface {
	Get(ctx context.Context, runID string) (syncer.Report, error)
	Update(ctx context.Context, run syncer.Report) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Worker consumes queue items and runs them sequentially.
type Worker struct {
	queue  Queue
	runner Runner
	runs   RunStore
	clock  Clock
	logger *zap.Logger
}

// New constructs a Worker.
func New(queue Queue, runner Runner, runs RunStore, clock Clock, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:  queue,
		runner: runner,
		runs:   runs,
		clock:  clock,
		logger: logger.Named("worker"),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Info("worker stopping", zap.Error(err))
			}
			return
		}
		w.logger.Debug("dequeued run", zap.String("run_id", req.RunID), zap.String("source", req.Source))
		w.process(ctx, req)
	}
}

func (w *Worker) process(ctx context.Context, req syncer.Request) {
	w.markRunning(ctx, req.RunID)

	report, err := w.runner.Run(ctx, req)
	if err != nil && report.RunID == "" {
		report = syncer.Report{
			RunID:  req.RunID,
			Source: req.Source,
			Status: syncer.StatusFailed,
			Error:  err.Error(),
		}
	}
	if err := w.runs.Update(ctx, report); err != nil {
		w.logger.Error("final run update failed", zap.String("run_id", req.RunID), zap.Error(err))
	}
}

func (w *Worker) markRunning(ctx context.Context, runID string) {
	run, err := w.runs.Get(ctx, runID)
	if err != nil {
		w.logger.Warn("run record missing", zap.String("run_id", runID), zap.Error(err))
		return
	}
	run.Status = syncer.StatusRunning
	run.StartedAt = w.clock.Now()
	if err := w.runs.Update(ctx, run); err != nil {
		w.logger.Error("update run status failed", zap.String("run_id", runID), zap.Error(err))
	}
}
