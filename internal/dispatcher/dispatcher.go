// Package dispatcher orchestrates a crawl: it walks the available dates,
// skips races the store already holds, and fans the rest out to workers.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/hkjc-results-crawler/internal/crawler"
	"github.com/JakeFAU/hkjc-results-crawler/internal/metrics"
	"github.com/JakeFAU/hkjc-results-crawler/internal/progress"
	"github.com/JakeFAU/hkjc-results-crawler/internal/worker"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultRaceCeiling    = 15
	DefaultWorkersPerDate = 10
)

// MaxRaceCeiling is the highest race number ever scheduled.
const MaxRaceCeiling = 15

// Config controls the crawl fan-out.
type Config struct {
	RaceCeiling    int
	WorkersPerDate int
}

// Dispatcher runs crawl passes.
type Dispatcher struct {
	source    crawler.Source
	store     crawler.RaceStore
	worker    *worker.Worker
	clock     crawler.Clock
	exporter  crawler.Exporter
	publisher crawler.Publisher
	progress  progress.Emitter
	cfg       Config
	logger    *zap.Logger
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithExporter writes every newly stored batch to exporter.
func WithExporter(exporter crawler.Exporter) Option {
	return func(d *Dispatcher) { d.exporter = exporter }
}

// WithPublisher announces every newly stored batch through publisher.
func WithPublisher(publisher crawler.Publisher) Option {
	return func(d *Dispatcher) { d.publisher = publisher }
}

// WithProgress reports per-date and per-race progress to emitter.
func WithProgress(emitter progress.Emitter) Option {
	return func(d *Dispatcher) { d.progress = emitter }
}

// New creates a Dispatcher.
func New(
	source crawler.Source,
	store crawler.RaceStore,
	w *worker.Worker,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Dispatcher {
	if cfg.RaceCeiling <= 0 {
		cfg.RaceCeiling = DefaultRaceCeiling
	}
	if cfg.RaceCeiling > MaxRaceCeiling {
		cfg.RaceCeiling = MaxRaceCeiling
	}
	if cfg.WorkersPerDate <= 0 {
		cfg.WorkersPerDate = DefaultWorkersPerDate
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		source: source,
		store:  store,
		worker: w,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CrawlNewRaces fetches every race not yet recorded for every date that is not
// in the future, and returns the records found. Nothing is written.
func (d *Dispatcher) CrawlNewRaces(ctx context.Context) ([]crawler.RaceRecord, error) {
	records, _, err := d.crawl(ctx)
	return records, err
}

// Update crawls new races, stores them in one batch, then hands the batch to
// the optional exporter and publisher. Only store failures are returned.
func (d *Dispatcher) Update(ctx context.Context) (crawler.Summary, error) {
	start := time.Now()
	records, summary, err := d.crawl(ctx)
	if err != nil {
		return summary, err
	}
	if len(records) == 0 {
		d.logger.Info("no new race results", zap.Int("dates", summary.Dates))
		return summary, nil
	}

	if err := d.store.BulkInsert(ctx, records); err != nil {
		return summary, fmt.Errorf("store race results: %w", err)
	}
	summary.RecordsInserted = len(records)
	metrics.AddRecordsInserted(len(records))

	d.export(ctx, records)
	d.publish(ctx, records)

	d.logger.Info("race results updated",
		zap.Int("dates", summary.Dates),
		zap.Int("races_scheduled", summary.RacesScheduled),
		zap.Int("races_failed", summary.RacesFailed),
		zap.Int("records_inserted", summary.RecordsInserted),
		zap.Duration("elapsed", time.Since(start)),
	)
	return summary, nil
}

func (d *Dispatcher) crawl(ctx context.Context) ([]crawler.RaceRecord, crawler.Summary, error) {
	var summary crawler.Summary

	dates, err := d.source.ListAvailableDates(ctx)
	if err != nil {
		return nil, summary, fmt.Errorf("list available dates: %w", err)
	}

	today := civil.DateOf(d.clock.Now())
	seen := make(map[civil.Date]struct{}, len(dates))
	var all []crawler.RaceRecord
	for _, date := range dates {
		if date.After(today) {
			d.logger.Debug("skipping future date", zap.String("date", date.String()))
			continue
		}
		if _, dup := seen[date]; dup {
			continue
		}
		seen[date] = struct{}{}
		if err := ctx.Err(); err != nil {
			return nil, summary, fmt.Errorf("crawl interrupted: %w", err)
		}

		summary.Dates++
		all = append(all, d.crawlDate(ctx, date, &summary)...)
	}
	summary.RecordsFound = len(all)
	return all, summary, nil
}

// crawlDate checks every race of date against the store, then fetches the
// unrecorded ones on a pool bounded to WorkersPerDate and waits for all.
func (d *Dispatcher) crawlDate(ctx context.Context, date civil.Date, summary *crawler.Summary) []crawler.RaceRecord {
	var tasks []worker.Task
	for raceNo := 1; raceNo <= d.cfg.RaceCeiling; raceNo++ {
		recorded, err := d.store.IsRecorded(ctx, date, raceNo)
		if err != nil {
			metrics.ObserveRace(metrics.OutcomeCheckError)
			d.logger.Warn("race existence check failed",
				zap.String("date", date.String()),
				zap.Int("race_no", raceNo),
				zap.Error(err),
			)
			d.emit(progress.Event{
				Stage:   progress.StageRaceDone,
				Date:    date,
				RaceNo:  raceNo,
				Outcome: metrics.OutcomeCheckError,
				Note:    err.Error(),
			})
			summary.RacesFailed++
			continue
		}
		if recorded {
			summary.RacesSkipped++
			continue
		}
		tasks = append(tasks, worker.Task{Date: date, RaceNo: raceNo})
	}
	if len(tasks) == 0 {
		return nil
	}
	summary.RacesScheduled += len(tasks)

	start := time.Now()
	d.emit(progress.Event{Stage: progress.StageDateStart, Date: date, Races: len(tasks)})

	results := make([]worker.Result, len(tasks))
	var g errgroup.Group
	g.SetLimit(d.cfg.WorkersPerDate)
	for i, task := range tasks {
		g.Go(func() error {
			res := d.worker.Process(ctx, task)
			results[i] = res
			d.emit(raceDoneEvent(res))
			return nil
		})
	}
	_ = g.Wait()

	var records []crawler.RaceRecord
	for _, res := range results {
		if res.Err != nil {
			summary.RacesFailed++
			continue
		}
		records = append(records, res.Records...)
	}
	d.logger.Info("date crawled",
		zap.String("date", date.String()),
		zap.Int("races", len(tasks)),
		zap.Int("records", len(records)),
	)
	d.emit(progress.Event{
		Stage:   progress.StageDateDone,
		Date:    date,
		Races:   len(tasks),
		Records: len(records),
		Dur:     time.Since(start),
	})
	return records
}

func (d *Dispatcher) emit(evt progress.Event) {
	if d.progress == nil {
		return
	}
	evt.TS = d.clock.Now()
	d.progress.Emit(evt)
}

func raceDoneEvent(res worker.Result) progress.Event {
	evt := progress.Event{
		Stage:   progress.StageRaceDone,
		Date:    res.Task.Date,
		RaceNo:  res.Task.RaceNo,
		Records: len(res.Records),
		Outcome: res.Outcome,
		Dur:     res.Duration,
	}
	if res.Err != nil {
		evt.Note = res.Err.Error()
	}
	return evt
}

func (d *Dispatcher) export(ctx context.Context, records []crawler.RaceRecord) {
	if d.exporter == nil {
		return
	}
	uri, err := d.exporter.Export(ctx, records)
	if err != nil {
		d.logger.Error("export race results failed", zap.Error(err))
		return
	}
	d.logger.Info("race results exported", zap.String("uri", uri), zap.Int("records", len(records)))
}

func (d *Dispatcher) publish(ctx context.Context, records []crawler.RaceRecord) {
	if d.publisher == nil {
		return
	}
	n, err := d.publisher.Publish(ctx, records)
	if err != nil {
		d.logger.Error("publish race results failed", zap.Int("published", n), zap.Error(err))
		return
	}
	d.logger.Info("race results published", zap.Int("messages", n))
}
