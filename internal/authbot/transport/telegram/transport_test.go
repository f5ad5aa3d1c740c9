package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/authbot/internal/authbot/domain"
	"github.com/aussiebroadwan/authbot/pkg/slogx"
	"github.com/stretchr/testify/require"
)

const testToken = "123:abc"

// fakeBotAPI answers getMe, sendMessage and getUpdates the way the Bot API does.
type fakeBotAPI struct {
	mu      sync.Mutex
	sends   []url.Values
	updates []string // raw update JSON, served once
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/bot"+testToken+"/") {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
		return
	}
	_ = r.ParseForm()
	method := strings.TrimPrefix(r.URL.Path, "/bot"+testToken+"/")

	var result string
	switch method {
	case "getMe":
		result = `{"id":1,"is_bot":true,"first_name":"Auth","username":"authbot"}`
	case "sendMessage":
		f.mu.Lock()
		f.sends = append(f.sends, r.PostForm)
		f.mu.Unlock()
		result = fmt.Sprintf(`{"message_id":10,"date":0,"chat":{"id":%s,"type":"private"},"text":"ok"}`, r.PostForm.Get("chat_id"))
	case "getUpdates":
		f.mu.Lock()
		batch := f.updates
		f.updates = nil
		f.mu.Unlock()
		if len(batch) == 0 {
			time.Sleep(20 * time.Millisecond)
		}
		result = "[" + strings.Join(batch, ",") + "]"
	default:
		result = "true"
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true,"result":` + result + `}`))
}

func (f *fakeBotAPI) sent() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.sends...)
}

func newTestTransport(t *testing.T, api *fakeBotAPI) *Transport {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	tr, err := NewWithClient(Config{Token: testToken, APIEndpoint: srv.URL + "/bot%s/%s"}, slogx.Discard(), srv.Client())
	require.NoError(t, err)
	return tr
}

type collector struct {
	mu     sync.Mutex
	events []domain.Event
}

func (c *collector) Submit(_ context.Context, ev domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) all() []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Event(nil), c.events...)
}

func TestNew_ChecksToken(t *testing.T) {
	tr := newTestTransport(t, &fakeBotAPI{})
	require.Equal(t, "authbot", tr.Username())

	srv := httptest.NewServer(&fakeBotAPI{})
	defer srv.Close()
	_, err := NewWithClient(Config{Token: "wrong", APIEndpoint: srv.URL + "/bot%s/%s"}, slogx.Discard(), srv.Client())
	require.Error(t, err)
}

func TestReply_SendsTextAndKeyboard(t *testing.T) {
	api := &fakeBotAPI{}
	tr := newTestTransport(t, api)

	err := tr.Reply(context.Background(), domain.Reply{
		UserID: "42",
		Kind:   domain.ReplyRequestPhone,
		Hint:   domain.HintRequestContact,
	})
	require.NoError(t, err)

	sends := api.sent()
	require.Len(t, sends, 1)
	require.Equal(t, "42", sends[0].Get("chat_id"))
	require.Contains(t, sends[0].Get("text"), "share your mobile number")

	var markup map[string]any
	require.NoError(t, json.Unmarshal([]byte(sends[0].Get("reply_markup")), &markup))
	require.Contains(t, sends[0].Get("reply_markup"), `"request_contact":true`)
}

func TestReply_InvalidUserID(t *testing.T) {
	tr := newTestTransport(t, &fakeBotAPI{})
	err := tr.Reply(context.Background(), domain.Reply{UserID: "not-a-number", Kind: domain.ReplyUseMenu})
	require.Error(t, err)
}

func TestRun_SubmitsEvents(t *testing.T) {
	api := &fakeBotAPI{updates: []string{
		`{"update_id":5,"message":{"message_id":1,"date":0,"from":{"id":42,"is_bot":false,"first_name":"Sara"},"chat":{"id":42,"type":"private"},"text":"/start","entities":[{"type":"bot_command","offset":0,"length":6}]}}`,
		`{"update_id":6,"message":{"message_id":2,"date":0,"from":{"id":42,"is_bot":false,"first_name":"Sara"},"chat":{"id":42,"type":"private"},"contact":{"phone_number":"+989121234567","first_name":"Sara","user_id":42}}}`,
		`{"update_id":7,"message":{"message_id":3,"date":0,"from":{"id":9,"is_bot":false,"first_name":"G"},"chat":{"id":-100,"type":"group"},"text":"hello"}}`,
	}}
	tr := newTestTransport(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	sub := &collector{}
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx, sub) }()

	require.Eventually(t, func() bool { return len(sub.all()) == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	events := sub.all()
	require.Equal(t, domain.EventStart, events[0].Kind)
	require.Equal(t, domain.EventPhoneShared, events[1].Kind)
	require.Equal(t, "+989121234567", events[1].Phone)
}
