package events

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes events to a zap logger. Player submissions are debug level.
type LogSink struct {
	Logger *zap.Logger
}

func NewLogSink(l *zap.Logger) *LogSink {
	return &LogSink{Logger: l.Named("booking")}
}

func (s *LogSink) Emit(_ context.Context, e Event) {
	fields := []zap.Field{
		zap.String("run_id", e.RunID),
		zap.Stringer("stage", e.Stage),
	}
	if e.Slot != nil {
		fields = append(fields, zap.String("court", e.Slot.Court), zap.String("start", e.Slot.Start))
	}
	if e.Detail != "" {
		fields = append(fields, zap.String("detail", e.Detail))
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}

	switch e.Kind {
	case RunStarted:
		s.Logger.Info("run started", fields...)
	case StageCompleted:
		s.Logger.Info("stage completed", fields...)
	case StageFailed:
		s.Logger.Warn("stage failed", fields...)
	case ConsentSkipped:
		s.Logger.Debug("consent banner not handled", fields...)
	case SlotsFound:
		courts := make([]string, len(e.Slots))
		for i, sl := range e.Slots {
			courts[i] = sl.Court
		}
		s.Logger.Info("slots found", append(fields, zap.Strings("courts", courts))...)
	case SlotAttempt:
		s.Logger.Info("trying slot", fields...)
	case SlotAbandoned:
		s.Logger.Warn("slot abandoned", fields...)
	case PlayerSubmitted:
		s.Logger.Debug("player submitted", append(fields,
			zap.String("field", e.Field),
			zap.String("player", e.Player),
			zap.Bool("accepted", e.Accepted),
		)...)
	case RunFinished:
		if e.Outcome != nil && e.Outcome.Confirmed {
			s.Logger.Info("booking confirmed", fields...)
		} else {
			s.Logger.Error("booking failed", fields...)
		}
	default:
		s.Logger.Debug(string(e.Kind), fields...)
	}
}
