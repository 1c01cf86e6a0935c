package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/cep-candidate-scraper/internal/progress"
)

// LogSink emits structured logs for progress streams. Worker logs are the
// durable record of a run, so page and candidate milestones land here.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("job_id", evt.JobUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.String("postal_code", evt.PostalCode),
		}
		if evt.AgeRange != "" {
			fields = append(fields, zap.String("age_range", evt.AgeRange))
		}
		switch evt.Stage {
		case progress.StagePageDone:
			fields = append(fields, zap.Int("page", evt.Page), zap.Int("candidates", evt.Candidates))
		case progress.StageCandidateSaved, progress.StageCandidateFailed:
			fields = append(fields,
				zap.Int("page", evt.Page),
				zap.String("candidate_id", evt.CandidateID),
				zap.Int("batch", evt.Batch),
			)
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Log(levelFor(evt.Stage), "progress event", fields...)
	}
	return nil
}

func levelFor(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StageCandidateFailed, progress.StageWorkerError:
		return zapcore.WarnLevel
	case progress.StageCandidateSaved:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
