package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/hkjc-results-crawler/internal/metrics"
	"github.com/JakeFAU/hkjc-results-crawler/internal/progress"
)

// LogSink writes each progress event as a structured log line. Failed races
// log at warn level, everything else at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs every event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("stage", string(evt.Stage)),
			zap.String("date", evt.Date.String()),
			zap.Time("event_ts", evt.TS),
		}
		switch evt.Stage {
		case progress.StageRaceDone:
			fields = append(fields,
				zap.Int("race_no", evt.RaceNo),
				zap.String("outcome", evt.Outcome),
				zap.Int("records", evt.Records),
				zap.Duration("dur", evt.Dur),
			)
		case progress.StageDateStart:
			fields = append(fields, zap.Int("races", evt.Races))
		case progress.StageDateDone:
			fields = append(fields,
				zap.Int("races", evt.Races),
				zap.Int("records", evt.Records),
				zap.Duration("dur", evt.Dur),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Log(level(evt), "progress event", fields...)
	}
	return nil
}

// Close implements progress.Sink; there is nothing to release.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func level(evt progress.Event) zapcore.Level {
	switch evt.Outcome {
	case metrics.OutcomeFetchError, metrics.OutcomeParseError, metrics.OutcomeCheckError:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
