package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/authbot/internal/authbot/store/drivers/sqlite"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSender records delivered codes.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, phone, code string) error {
	args := m.Called(ctx, phone, code)
	return args.Error(0)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRecords(t *testing.T) (*Records, *testClock) {
	t.Helper()

	clk := newTestClock()
	s, err := sqlite.NewStore(":memory:", sqlite.WithClock(clk.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations())

	return &Records{Store: s, Now: clk.Now}, clk
}
