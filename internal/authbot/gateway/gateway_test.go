package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSafir struct {
	tokenCalls atomic.Int32
	sendCalls  atomic.Int32

	mu       sync.Mutex
	lastSend safirSendRequest
	lastAuth string

	// rejectFirstSend answers the first send with 401.
	rejectFirstSend bool
	sendStatus      int
	expiresIn       int
}

func (f *fakeSafir) sent() (safirSendRequest, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSend, f.lastAuth
}

func (f *fakeSafir) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+safirTokenPath, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("client_id") != "bot" || r.PostForm.Get("client_secret") != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := f.tokenCalls.Add(1)
		_ = json.NewEncoder(w).Encode(safirTokenResponse{
			AccessToken: fmt.Sprintf("token-%d", n),
			TokenType:   "Bearer",
			ExpiresIn:   f.expiresIn,
		})
	})
	mux.HandleFunc("POST "+safirSendPath, func(w http.ResponseWriter, r *http.Request) {
		n := f.sendCalls.Add(1)
		if f.rejectFirstSend && n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req safirSendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.lastSend = req
		f.lastAuth = r.Header.Get("Authorization")
		f.mu.Unlock()
		if f.sendStatus != 0 {
			w.WriteHeader(f.sendStatus)
			_, _ = w.Write([]byte(`{"message":"invalid phone"}`))
			return
		}
		_, _ = w.Write([]byte(`{"balance":100}`))
	})
	return mux
}

func newTestSender(t *testing.T, f *fakeSafir, secret string) *SafirSender {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewSafirSender(SafirConfig{
		BaseURL:      srv.URL + "/",
		ClientID:     "bot",
		ClientSecret: secret,
		Timeout:      2 * time.Second,
	})
}

func TestSafirSenderSendsCodeAndCachesToken(t *testing.T) {
	f := &fakeSafir{expiresIn: 3600}
	s := newTestSender(t, f, "s3cret")
	ctx := context.Background()

	require.NoError(t, s.Send(ctx, "989123456789", "012345"))
	require.NoError(t, s.Send(ctx, "989123456789", "999999"))

	require.EqualValues(t, 1, f.tokenCalls.Load())
	require.EqualValues(t, 2, f.sendCalls.Load())

	last, auth := f.sent()
	require.Equal(t, "989123456789", last.Phone)
	require.Equal(t, "999999", last.OTP)
	require.Equal(t, "Bearer token-1", auth)
}

func TestSafirSenderKeepsLeadingZeros(t *testing.T) {
	f := &fakeSafir{expiresIn: 3600}
	s := newTestSender(t, f, "s3cret")

	require.NoError(t, s.Send(context.Background(), "989123456789", "000042"))
	last, _ := f.sent()
	require.Equal(t, "000042", last.OTP)
}

func TestSafirSenderRefreshesExpiredToken(t *testing.T) {
	f := &fakeSafir{expiresIn: 3600}
	s := newTestSender(t, f, "s3cret")

	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Send(context.Background(), "989123456789", "123456"))
	now = now.Add(2 * time.Hour)
	require.NoError(t, s.Send(context.Background(), "989123456789", "123456"))

	require.EqualValues(t, 2, f.tokenCalls.Load())
}

func TestSafirSenderRetriesOnceAfterUnauthorized(t *testing.T) {
	f := &fakeSafir{expiresIn: 3600, rejectFirstSend: true}
	s := newTestSender(t, f, "s3cret")

	require.NoError(t, s.Send(context.Background(), "989123456789", "123456"))
	require.EqualValues(t, 2, f.tokenCalls.Load())
	require.EqualValues(t, 2, f.sendCalls.Load())

	_, auth := f.sent()
	require.True(t, strings.HasSuffix(auth, "token-2"))
}

func TestSafirSenderBadCredentials(t *testing.T) {
	f := &fakeSafir{expiresIn: 3600}
	s := newTestSender(t, f, "wrong")

	err := s.Send(context.Background(), "989123456789", "123456")
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Zero(t, f.sendCalls.Load())
}

func TestSafirSenderNonSuccessStatus(t *testing.T) {
	f := &fakeSafir{expiresIn: 3600, sendStatus: http.StatusBadRequest}
	s := newTestSender(t, f, "s3cret")

	err := s.Send(context.Background(), "989123456789", "123456")
	require.ErrorIs(t, err, ErrRejected)
	require.Contains(t, err.Error(), "400")
	require.Contains(t, err.Error(), "invalid phone")
}

func TestSafirSenderHonoursContext(t *testing.T) {
	f := &fakeSafir{expiresIn: 3600}
	s := newTestSender(t, f, "s3cret")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, s.Send(ctx, "989123456789", "123456"))
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	s := &LogSender{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	require.NoError(t, s.Send(context.Background(), "989123456789", "123456"))
	require.Contains(t, buf.String(), `"phone":"989123456789"`)
	require.Contains(t, buf.String(), `"code":"123456"`)
}
