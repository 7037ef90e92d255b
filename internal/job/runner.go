// Package job runs crawl updates one at a time and tracks their status.
//
// The status value lives inside a single goroutine; Start and Status talk to
// it through channels, and the update itself reports back the same way.
package job

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/hkjc-results-crawler/internal/crawler"
	"github.com/JakeFAU/hkjc-results-crawler/internal/metrics"
)

// ErrAlreadyRunning is returned by Start while a crawl is in flight.
var ErrAlreadyRunning = errors.New("crawl already running")

// ErrClosed is returned once the runner has shut down.
var ErrClosed = errors.New("job runner closed")

// UpdateFunc performs one crawl-and-store pass.
type UpdateFunc func(ctx context.Context) (crawler.Summary, error)

type startReply struct {
	status crawler.JobStatus
	err    error
}

type runResult struct {
	runID   string
	summary crawler.Summary
	err     error
}

// Runner serializes crawl runs.
type Runner struct {
	update UpdateFunc
	clock  crawler.Clock
	ids    crawler.IDGenerator
	logger *zap.Logger

	startCh  chan chan startReply
	statusCh chan chan crawler.JobStatus
	results  chan runResult
	stopCh   chan struct{}
	doneCh   chan struct{}

	runCtx    context.Context
	cancelRun context.CancelFunc
	closeOnce sync.Once
}

// NewRunner starts the runner loop. Runs execute under a context derived from
// base, which Close cancels.
func NewRunner(
	base context.Context,
	update UpdateFunc,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	logger *zap.Logger,
) *Runner {
	if base == nil {
		base = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	runCtx, cancel := context.WithCancel(base)
	r := &Runner{
		update:    update,
		clock:     clock,
		ids:       ids,
		logger:    logger,
		startCh:   make(chan chan startReply),
		statusCh:  make(chan chan crawler.JobStatus),
		results:   make(chan runResult, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		runCtx:    runCtx,
		cancelRun: cancel,
	}
	go r.loop()
	return r
}

// Start begins a crawl in the background and returns its running status.
func (r *Runner) Start(ctx context.Context) (crawler.JobStatus, error) {
	reply := make(chan startReply, 1)
	select {
	case r.startCh <- reply:
	case <-r.doneCh:
		return crawler.JobStatus{}, ErrClosed
	case <-ctx.Done():
		return crawler.JobStatus{}, fmt.Errorf("start crawl: %w", ctx.Err())
	}
	res := <-reply
	return res.status, res.err
}

// Status returns a snapshot of the current or most recent run.
func (r *Runner) Status(ctx context.Context) (crawler.JobStatus, error) {
	reply := make(chan crawler.JobStatus, 1)
	select {
	case r.statusCh <- reply:
	case <-r.doneCh:
		return crawler.JobStatus{}, ErrClosed
	case <-ctx.Done():
		return crawler.JobStatus{}, fmt.Errorf("crawl status: %w", ctx.Err())
	}
	return <-reply, nil
}

// Close cancels any in-flight run and waits for it to report back.
func (r *Runner) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.cancelRun()
		close(r.stopCh)
	})
	select {
	case <-r.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job runner close wait: %w", ctx.Err())
	}
}

func (r *Runner) loop() {
	defer close(r.doneCh)
	status := crawler.JobStatus{State: crawler.JobStateIdle}

	for {
		select {
		case reply := <-r.startCh:
			status = r.handleStart(status, reply)
		case res := <-r.results:
			status = r.handleResult(status, res)
		case reply := <-r.statusCh:
			reply <- status
		case <-r.stopCh:
			if status.State == crawler.JobStateRunning {
				r.handleResult(status, <-r.results)
			}
			return
		}
	}
}

func (r *Runner) handleStart(status crawler.JobStatus, reply chan startReply) crawler.JobStatus {
	if status.State == crawler.JobStateRunning {
		reply <- startReply{status: status, err: ErrAlreadyRunning}
		return status
	}
	runID, err := r.ids.NewID()
	if err != nil {
		reply <- startReply{status: status, err: fmt.Errorf("generate run id: %w", err)}
		return status
	}
	started := r.clock.Now()
	next := crawler.JobStatus{RunID: runID, State: crawler.JobStateRunning, StartedAt: &started}

	r.logger.Info("crawl started", zap.String("run_id", runID))
	go r.execute(runID)

	reply <- startReply{status: next}
	return next
}

func (r *Runner) execute(runID string) {
	summary, err := r.update(r.runCtx)
	r.results <- runResult{runID: runID, summary: summary, err: err}
}

func (r *Runner) handleResult(status crawler.JobStatus, res runResult) crawler.JobStatus {
	if res.runID != status.RunID {
		return status
	}
	finished := r.clock.Now()
	status.FinishedAt = &finished
	status.Summary = res.summary
	if res.err != nil {
		status.State = crawler.JobStateFailed
		status.ErrorText = res.err.Error()
		r.logger.Error("crawl failed", zap.String("run_id", res.runID), zap.Error(res.err))
	} else {
		status.State = crawler.JobStateFinished
		r.logger.Info("crawl finished",
			zap.String("run_id", res.runID),
			zap.Int("records_inserted", res.summary.RecordsInserted),
		)
	}
	metrics.ObserveCrawl(string(status.State), finished.Sub(*status.StartedAt))
	return status
}
