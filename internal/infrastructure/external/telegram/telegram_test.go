package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/beacon-presence/internal/domain/reminder"
	"github.com/alem-hub/beacon-presence/internal/domain/shared"
)

type botServer struct {
	mu       sync.Mutex
	requests []map[string]any
	paths    []string
	reply    string
	status   int
}

func (b *botServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	b.mu.Lock()
	b.requests = append(b.requests, body)
	b.paths = append(b.paths, r.URL.Path)
	reply, status := b.reply, b.status
	b.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(reply))
}

func newTestClient(t *testing.T, srv *botServer) *Client {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	cfg := DefaultClientConfig("TOKEN")
	cfg.BaseURL = ts.URL
	cfg.MessagesPerSecond = 1000
	cfg.Burst = 10
	return NewClient(cfg)
}

func TestReminderSink_Deliver(t *testing.T) {
	srv := &botServer{reply: `{"ok":true,"result":{"message_id":7,"chat":{"id":42,"type":"private"},"date":0}}`}
	sink, err := NewReminderSink(newTestClient(t, srv), 42)
	require.NoError(t, err)

	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	require.NoError(t, sink.Deliver(context.Background(), reminder.Break(30, at)))
	require.NoError(t, sink.Deliver(context.Background(), reminder.Welcome(at)))

	require.Len(t, srv.requests, 2)
	assert.Equal(t, "/botTOKEN/sendMessage", srv.paths[0])

	brk := srv.requests[0]
	assert.Equal(t, float64(42), brk["chat_id"])
	assert.Equal(t, "HTML", brk["parse_mode"])
	assert.Contains(t, brk["text"], "<b>You have been studying for 30 minutes.")
	assert.NotContains(t, brk, "disable_notification")

	welcome := srv.requests[1]
	assert.Equal(t, true, welcome["disable_notification"])
}

func TestReminderSink_RequiresChat(t *testing.T) {
	_, err := NewReminderSink(NewClient(DefaultClientConfig("x")), 0)
	assert.Error(t, err)
}

func TestClient_APIErrorClassification(t *testing.T) {
	srv := &botServer{
		status: http.StatusBadRequest,
		reply:  `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`,
	}
	client := newTestClient(t, srv)

	_, err := client.SendMessage(context.Background(), SendMessageParams{ChatID: 1, Text: "hi"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 400, apiErr.Code)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	srv.status = http.StatusTooManyRequests
	srv.reply = `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":1}}`
	_, err = client.SendMessage(context.Background(), SendMessageParams{ChatID: 1, Text: "hi"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, shared.ErrInvalidInput)
}

func TestClient_GetMe(t *testing.T) {
	srv := &botServer{reply: `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"desk"}}`}
	user, err := newTestClient(t, srv).GetMe(context.Background())
	require.NoError(t, err)
	assert.True(t, user.IsBot)
	assert.Equal(t, "desk", user.FirstName)
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rl := newRateLimiter(1, 2)
	rl.now = func() time.Time { return now }
	rl.lastRefill = now

	_, ok := rl.tryAcquire()
	assert.True(t, ok)
	_, ok = rl.tryAcquire()
	assert.True(t, ok)

	wait, ok := rl.tryAcquire()
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	now = now.Add(time.Second)
	_, ok = rl.tryAcquire()
	assert.True(t, ok)

	rl.Pause(5 * time.Second)
	wait, ok = rl.tryAcquire()
	assert.False(t, ok)
	assert.Equal(t, 5*time.Second, wait)

	now = now.Add(6 * time.Second)
	_, ok = rl.tryAcquire()
	assert.True(t, ok)
}

func TestRateLimiter_WaitHonorsContext(t *testing.T) {
	rl := newRateLimiter(0.001, 1)
	_, ok := rl.tryAcquire()
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rl.Wait(ctx), context.DeadlineExceeded)
}
