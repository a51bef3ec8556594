package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"OIWatch/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookPostsPayloadKey(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		got = nil
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhookNotifier(srv.URL).Send(context.Background(), "BTCUSDT @ 0.9700 cosine (threshold 0.95)"))
	assert.Equal(t, map[string]string{"text": "BTCUSDT @ 0.9700 cosine (threshold 0.95)"}, got)

	require.NoError(t, NewWebhookNotifier(srv.URL, WithPayloadKey("content")).Send(context.Background(), "hi"))
	assert.Equal(t, map[string]string{"content": "hi"}, got)
}

func TestWebhookNon2xxIsDeliveryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), "x")
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusForbidden, de.StatusCode)
	assert.ErrorIs(t, err, models.ErrDelivery)
	assert.Equal(t, models.CategoryNotify, models.Categorize(err))
}

func TestWebhookUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	err := NewWebhookNotifier(srv.URL).Send(context.Background(), "x")
	assert.ErrorIs(t, err, models.ErrDelivery)
}

// fakeBotAPI answers getMe and sendMessage like the Telegram Bot API.
func fakeBotAPI(t *testing.T, status int) (*httptest.Server, *[]url.Values) {
	t.Helper()
	var mu sync.Mutex
	sent := &[]url.Values{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"oiwatch","username":"oiwatch_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			_ = r.ParseForm()
			mu.Lock()
			*sent = append(*sent, r.PostForm)
			mu.Unlock()
			if status != http.StatusOK {
				w.WriteHeader(status)
				_, _ = io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
				return
			}
			_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return srv, sent
}

func TestTelegramSendsToChat(t *testing.T) {
	srv, sent := fakeBotAPI(t, http.StatusOK)
	defer srv.Close()

	n, err := NewTelegramNotifier("123:abc", 42, WithTelegramEndpoint(srv.URL+"/bot%s/%s"))
	require.NoError(t, err)
	require.NoError(t, n.Send(context.Background(), "ETHUSDT @ 0.9900 cosine (threshold 0.95)"))

	require.Len(t, *sent, 1)
	assert.Equal(t, "42", (*sent)[0].Get("chat_id"))
	assert.Equal(t, "ETHUSDT @ 0.9900 cosine (threshold 0.95)", (*sent)[0].Get("text"))
}

func TestTelegramRejectedIsDeliveryError(t *testing.T) {
	srv, _ := fakeBotAPI(t, http.StatusBadRequest)
	defer srv.Close()

	n, err := NewTelegramNotifier("123:abc", 42, WithTelegramEndpoint(srv.URL+"/bot%s/%s"))
	require.NoError(t, err)
	assert.ErrorIs(t, n.Send(context.Background(), "x"), models.ErrDelivery)
}

type stubNotifier struct {
	calls int
	err   error
}

func (s *stubNotifier) Send(context.Context, string) error {
	s.calls++
	return s.err
}

func TestMultiNotifierFansOutAndJoins(t *testing.T) {
	a := &stubNotifier{}
	b := &stubNotifier{err: errors.New("b down")}
	c := &stubNotifier{err: &DeliveryError{StatusCode: 500}}
	m := NewMultiNotifier(a, nil, b, c)
	assert.Equal(t, 3, m.Len())

	err := m.Send(context.Background(), "msg")
	require.Error(t, err)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, 1, c.calls)
	assert.Contains(t, err.Error(), "b down")
	assert.ErrorIs(t, err, models.ErrDelivery)

	assert.NoError(t, NewMultiNotifier(a).Send(context.Background(), "msg"))
}
