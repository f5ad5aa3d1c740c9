package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/authbot/internal/authbot/domain"
	"github.com/aussiebroadwan/authbot/pkg/idx"
	"github.com/aussiebroadwan/authbot/pkg/slogx"
	"github.com/stretchr/testify/require"
)

type handlerFunc func(ctx context.Context, ev domain.Event) error

func (f handlerFunc) Handle(ctx context.Context, ev domain.Event) error { return f(ctx, ev) }

func TestDispatcherHandlesEveryEvent(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	d := NewDispatcher(handlerFunc(func(_ context.Context, ev domain.Event) error {
		mu.Lock()
		seen[ev.ID.String()] = true
		mu.Unlock()
		return nil
	}), slogx.Discard(), 4, 8)
	d.Start(context.Background())

	for range 50 {
		require.NoError(t, d.Submit(context.Background(), start("1")))
	}
	d.Stop()

	require.Len(t, seen, 50, "each event got its own id and was handled")
}

func TestDispatcherRecoversFromPanics(t *testing.T) {
	var handled atomic.Int32
	d := NewDispatcher(handlerFunc(func(_ context.Context, ev domain.Event) error {
		if ev.UserID == "bad" {
			panic("boom")
		}
		handled.Add(1)
		return nil
	}), slogx.Discard(), 1, 4)
	d.Start(context.Background())

	require.NoError(t, d.Submit(context.Background(), start("bad")))
	require.NoError(t, d.Submit(context.Background(), start("good")))
	d.Stop()

	require.EqualValues(t, 1, handled.Load())
}

func TestDispatcherSubmitAfterStop(t *testing.T) {
	d := NewDispatcher(handlerFunc(func(context.Context, domain.Event) error { return nil }), slogx.Discard(), 1, 1)
	d.Start(context.Background())
	d.Stop()
	d.Stop()

	require.ErrorIs(t, d.Submit(context.Background(), start("1")), ErrDispatcherClosed)
}

func TestDispatcherSubmitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	d := NewDispatcher(handlerFunc(func(context.Context, domain.Event) error {
		<-release
		return nil
	}), slogx.Discard(), 1, 1)
	d.Start(context.Background())
	t.Cleanup(func() {
		close(release)
		d.Stop()
	})

	// One event in the worker, one in the queue, the third has nowhere to go.
	require.NoError(t, d.Submit(context.Background(), start("1")))
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, d.Submit(context.Background(), start("2")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Submit(ctx, start("3")), context.DeadlineExceeded)
}

func TestDispatcherAttachesEventLogger(t *testing.T) {
	got := make(chan bool, 1)
	d := NewDispatcher(handlerFunc(func(ctx context.Context, ev domain.Event) error {
		got <- slogx.FromContext(ctx) != nil && !ev.ID.IsZero()
		return nil
	}), slogx.Discard(), 1, 1)
	d.Start(context.Background())

	require.NoError(t, d.Submit(context.Background(), start("1")))
	d.Stop()
	require.True(t, <-got)
}

func TestDispatcherLogsQueueTime(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	d := NewDispatcher(handlerFunc(func(context.Context, domain.Event) error { return nil }), logger, 1, 1)
	d.Start(context.Background())

	ev := start("1")
	ev.ID = idx.NewAt(time.Now().Add(-time.Minute))
	require.NoError(t, d.Submit(context.Background(), ev))
	d.Stop()

	type logLine struct {
		Msg       string  `json:"msg"`
		EventID   string  `json:"event_id"`
		QueuedFor float64 `json:"queued_for"`
	}
	var dequeued []logLine
	for _, raw := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var line logLine
		require.NoError(t, json.Unmarshal(raw, &line))
		if line.Msg == "event dequeued" {
			dequeued = append(dequeued, line)
		}
	}
	require.Len(t, dequeued, 1)
	require.Equal(t, ev.ID.String(), dequeued[0].EventID)
	require.GreaterOrEqual(t, time.Duration(dequeued[0].QueuedFor), time.Minute)
}
