package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/authbot/internal/authbot/domain"
	"github.com/aussiebroadwan/authbot/internal/authbot/service"
	"github.com/aussiebroadwan/authbot/internal/authbot/store/drivers/sqlite"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
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

// fakeSender remembers the last code per phone.
type fakeSender struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (s *fakeSender) Send(_ context.Context, phone, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.codes == nil {
		s.codes = make(map[string]string)
	}
	s.codes[phone] = code
	return nil
}

func (s *fakeSender) code(phone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[phone]
}

func (s *fakeSender) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// recordingSink collects replies in order.
type recordingSink struct {
	mu      sync.Mutex
	replies []domain.Reply
}

func (s *recordingSink) Reply(_ context.Context, r domain.Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, r)
	return nil
}

func (s *recordingSink) all() []domain.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Reply(nil), s.replies...)
}

func (s *recordingSink) last(t *testing.T) domain.Reply {
	t.Helper()
	all := s.all()
	require.NotEmpty(t, all, "no reply sent")
	return all[len(all)-1]
}

type fixture struct {
	machine *Machine
	store   *sqlite.Store
	convs   *MemoryStore
	sender  *fakeSender
	sink    *recordingSink
	clock   *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clk := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, err := sqlite.NewStore(":memory:", sqlite.WithClock(clk.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations())

	records := &service.Records{Store: s, Now: clk.Now}
	sender := &fakeSender{}
	convs := NewMemoryStore(time.Hour)
	convs.Now = clk.Now
	sink := &recordingSink{}

	m := &Machine{
		Records: records,
		Issuer: &service.Issuer{
			Records:       records,
			Sender:        sender,
			CodeLength:    6,
			TTL:           5 * time.Minute,
			MaxRequests:   3,
			RequestWindow: time.Hour,
		},
		Verifier: &service.Verifier{
			Records:     records,
			CodeLength:  6,
			MaxAttempts: 2,
			BanDuration: 24 * time.Hour,
		},
		Conversations: convs,
		Replies:       sink,
		CountryCode:   "98",
	}

	return &fixture{machine: m, store: s, convs: convs, sender: sender, sink: sink, clock: clk}
}

func (f *fixture) send(t *testing.T, ev domain.Event) domain.Reply {
	t.Helper()
	before := len(f.sink.all())
	require.NoError(t, f.machine.Handle(context.Background(), ev))
	all := f.sink.all()
	require.Len(t, all, before+1, "expected exactly one reply")
	return all[len(all)-1]
}

func (f *fixture) stage(t *testing.T, userID string) domain.Stage {
	t.Helper()
	c, err := f.convs.Get(context.Background(), userID)
	require.NoError(t, err)
	return c.Stage
}

func start(userID string) domain.Event {
	return domain.Event{Kind: domain.EventStart, UserID: userID}
}

func phoneShared(userID, phone string) domain.Event {
	return domain.Event{
		Kind:    domain.EventPhoneShared,
		UserID:  userID,
		Phone:   phone,
		Profile: domain.Profile{FirstName: "Sara"},
	}
}

func text(userID, s string) domain.Event {
	return domain.Event{Kind: domain.EventText, UserID: userID, Text: s}
}

// wrongCode returns a well-formed code different from code.
func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}
