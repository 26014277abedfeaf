package events

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/court-scheduler/internal/domain/booking"
)

func confirmed() *booking.Outcome {
	return &booking.Outcome{
		Confirmed: true,
		Slot:      &booking.Slot{Court: "Padel 2", Start: "21:00", End: "22:00"},
		Players:   []booking.Binding{{Field: "medspiller", Player: "Ann"}},
		Rejected:  []string{"Bob"},
	}
}

func failed() *booking.Outcome {
	return &booking.Outcome{Failure: booking.Fail(booking.StageSlotFound, booking.ErrNoBookableSlot)}
}

func TestMultiAndRecorder(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	m := Multi{a, nil, b}
	m.Emit(context.Background(), Event{Kind: RunStarted})
	m.Emit(context.Background(), Event{Kind: RunFinished})

	assert.Equal(t, []Kind{RunStarted, RunFinished}, a.Kinds())
	assert.Equal(t, a.Kinds(), b.Kinds())
	assert.Len(t, a.Of(RunFinished), 1)
}

func TestSummary(t *testing.T) {
	s := Summary(Event{RunID: "r1", Outcome: confirmed()})
	assert.Contains(t, s, "Court booked: Padel 2 21:00-22:00")
	assert.Contains(t, s, "• Ann")
	assert.Contains(t, s, "Refused: Bob")
	assert.Contains(t, s, "Run r1")

	s = Summary(Event{RunID: "r2", Outcome: failed()})
	assert.Contains(t, s, "Booking failed: slot_found: no bookable slot")
}

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.sent = append(b.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, b.err
}

func TestTelegramSink(t *testing.T) {
	bot := &fakeBot{}
	s := &TelegramSink{Bot: bot, ChatID: 42}

	s.Emit(context.Background(), Event{Kind: StageCompleted})
	s.Emit(context.Background(), Event{Kind: RunFinished, RunID: "r1", Outcome: confirmed()})

	require.Len(t, bot.sent, 1)
	assert.Equal(t, int64(42), bot.sent[0].ChatID)
	assert.Contains(t, bot.sent[0].Text, "Padel 2")
}

func TestTelegramSink_LogsSendFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := &TelegramSink{Bot: &fakeBot{err: errors.New("blocked")}, ChatID: 1, Logger: zap.New(core)}

	s.Emit(context.Background(), Event{Kind: RunFinished, Outcome: failed()})
	assert.Equal(t, 1, logs.FilterMessage("telegram notification failed").Len())
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := NewLogSink(zap.New(core))
	ctx := context.Background()

	s.Emit(ctx, Event{Kind: RunStarted, RunID: "r1"})
	s.Emit(ctx, Event{Kind: PlayerSubmitted, RunID: "r1", Stage: booking.StageSlotFound, Field: "medspiller", Player: "Ann"})
	s.Emit(ctx, Event{Kind: StageFailed, RunID: "r1", Err: booking.ErrTimeout})
	s.Emit(ctx, Event{Kind: RunFinished, RunID: "r1", Outcome: failed()})

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, "booking", entries[0].LoggerName)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, "Ann", entries[1].ContextMap()["player"])
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "booking failed", entries[3].Message)
}

func TestTraceSink(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	s := NewTraceSink()
	s.Tracer = tp.Tracer("test")
	ctx := context.Background()

	s.Emit(ctx, Event{Kind: StageCompleted, RunID: "unknown"})
	s.Emit(ctx, Event{Kind: RunStarted, RunID: "r1"})
	s.Emit(ctx, Event{Kind: StageCompleted, RunID: "r1", Stage: booking.StageLoggingIn})
	s.Emit(ctx, Event{Kind: StageFailed, RunID: "r1", Stage: booking.StageSlotFound, Err: booking.ErrNoBookableSlot})
	s.Emit(ctx, Event{Kind: RunFinished, RunID: "r1", Outcome: failed()})

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "booking.run", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	var names []string
	for _, ev := range spans[0].Events() {
		names = append(names, ev.Name)
	}
	assert.Contains(t, names, string(StageCompleted))
	assert.Contains(t, names, string(RunFinished))
	assert.Empty(t, s.spans)
}
