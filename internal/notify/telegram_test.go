package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

type botServer struct {
	mu   sync.Mutex
	sent []string
}

func (b *botServer) handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"cep","username":"cep_bot"}}`))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		_ = r.ParseForm()
		b.mu.Lock()
		b.sent = append(b.sent, r.Form.Get("chat_id")+":"+r.Form.Get("text"))
		b.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":5,"date":0,"chat":{"id":42,"type":"private"}}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
	}
}

func TestTelegramSend(t *testing.T) {
	t.Parallel()

	bs := &botServer{}
	srv := httptest.NewServer(http.HandlerFunc(bs.handler))
	defer srv.Close()

	tg, err := NewTelegramWithEndpoint("token", srv.URL+"/bot%s/%s", 42, srv.Client())
	require.NoError(t, err)
	require.NoError(t, tg.Send(context.Background(), "Run run-a: 2 succeeded, 0 failed, 0 skipped"))

	bs.mu.Lock()
	defer bs.mu.Unlock()
	require.Equal(t, []string{"42:Run run-a: 2 succeeded, 0 failed, 0 skipped"}, bs.sent)
}

func TestTelegramSendHonorsContext(t *testing.T) {
	t.Parallel()

	bs := &botServer{}
	srv := httptest.NewServer(http.HandlerFunc(bs.handler))
	defer srv.Close()

	tg, err := NewTelegramWithEndpoint("token", srv.URL+"/bot%s/%s", 42, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, tg.Send(ctx, "x"), context.Canceled)
	require.Empty(t, bs.sent)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	require.Equal(t, "abc", truncate("abc", 5))
	long := strings.Repeat("ã", 5000)
	out := truncate(long, maxMessageLen)
	require.Equal(t, maxMessageLen, utf8.RuneCountInString(out))
	require.True(t, strings.HasSuffix(out, "…"))
}
