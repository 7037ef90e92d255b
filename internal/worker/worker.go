// Package worker runs the fetch-and-parse step for a single race.
package worker

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"

	"github.com/JakeFAU/hkjc-results-crawler/internal/crawler"
	"github.com/JakeFAU/hkjc-results-crawler/internal/metrics"
	"github.com/JakeFAU/hkjc-results-crawler/internal/parser"
)

// ParseFunc turns a race page into records.
type ParseFunc func(markup []byte, date civil.Date, raceNo int) ([]crawler.RaceRecord, error)

// Task identifies one race to crawl.
type Task struct {
	Date   civil.Date
	RaceNo int
}

// Result is what a Task produced. Err is set when the race was dropped; the
// records are then always empty.
type Result struct {
	Task    Task
	Records []crawler.RaceRecord
	Err     error
	// Outcome is one of the metrics.Outcome* labels.
	Outcome  string
	Duration time.Duration
}

// Worker fetches and parses races.
type Worker struct {
	source crawler.Source
	parse  ParseFunc
	logger *zap.Logger
}

// New constructs a Worker using the results page parser.
func New(source crawler.Source, logger *zap.Logger) *Worker {
	return NewWithParser(source, parser.ParseResults, logger)
}

// NewWithParser constructs a Worker with a custom parse step.
func NewWithParser(source crawler.Source, parse ParseFunc, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{source: source, parse: parse, logger: logger}
}

// Process fetches and parses one race. A failed race is logged and yields no
// records; the error is kept on the Result for bookkeeping only.
func (w *Worker) Process(ctx context.Context, task Task) Result {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := time.Now()
	done := func(outcome string, records []crawler.RaceRecord, err error) Result {
		metrics.ObserveRace(outcome)
		return Result{
			Task:     task,
			Records:  records,
			Err:      err,
			Outcome:  outcome,
			Duration: time.Since(start),
		}
	}

	fields := []zap.Field{
		zap.String("date", task.Date.String()),
		zap.Int("race_no", task.RaceNo),
	}

	markup, err := w.source.FetchRace(ctx, task.Date, task.RaceNo)
	if err != nil {
		w.logger.Warn("race fetch failed", append(fields, zap.Error(err))...)
		return done(metrics.OutcomeFetchError, nil, err)
	}

	records, err := w.parse(markup, task.Date, task.RaceNo)
	if err != nil {
		err = fmt.Errorf("parse race: %w", err)
		w.logger.Warn("race parse failed", append(fields, zap.Error(err))...)
		return done(metrics.OutcomeParseError, nil, err)
	}

	if len(records) == 0 {
		w.logger.Debug("no results for race", fields...)
		return done(metrics.OutcomeEmpty, nil, nil)
	}

	w.logger.Debug("race parsed", append(fields, zap.Int("records", len(records)))...)
	return done(metrics.OutcomeRecorded, records, nil)
}
