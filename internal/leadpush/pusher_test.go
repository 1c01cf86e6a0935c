package leadpush

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	rows  []json.RawMessage
	calls []string
	err   error
}

func (s *sliceSource) FetchRows(_ context.Context, offset, limit int) ([]json.RawMessage, error) {
	s.calls = append(s.calls, fmt.Sprintf("%d+%d", offset, limit))
	if s.err != nil {
		return nil, s.err
	}
	if offset >= len(s.rows) {
		return nil, nil
	}
	end := min(offset+limit, len(s.rows))
	return s.rows[offset:end], nil
}

func makeRows(n int) []json.RawMessage {
	rows := make([]json.RawMessage, n)
	for i := range rows {
		rows[i] = json.RawMessage(fmt.Sprintf(`{"id":"%d","name":"n%d","phone":"p%d"}`, i, i, i))
	}
	return rows
}

type webhook struct {
	mu       sync.Mutex
	payloads []Payload
	failures atomic.Int32
}

func (w *webhook) handler(rw http.ResponseWriter, r *http.Request) {
	if w.failures.Load() > 0 {
		w.failures.Add(-1)
		rw.WriteHeader(http.StatusBadGateway)
		return
	}
	body, _ := io.ReadAll(r.Body)
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil || r.Header.Get("Content-Type") != "application/json" {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	w.mu.Lock()
	w.payloads = append(w.payloads, p)
	w.mu.Unlock()
	rw.WriteHeader(http.StatusOK)
}

func newPusher(url string, src RowSource, batch int) *Pusher {
	return New(Config{
		WebhookURL: url,
		BatchSize:  batch,
		Backoff:    time.Millisecond,
		Delay:      time.Millisecond,
	}, src, nil, nil)
}

func TestRunPushesAllBatches(t *testing.T) {
	t.Parallel()

	hook := &webhook{}
	srv := httptest.NewServer(http.HandlerFunc(hook.handler))
	defer srv.Close()

	src := &sliceSource{rows: makeRows(5)}
	stats, err := newPusher(srv.URL, src, 2).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Stats{Batches: 3, Rows: 5, NextOffset: 5}, stats)
	require.Equal(t, []string{"0+2", "2+2", "4+2"}, src.calls)

	require.Len(t, hook.payloads, 3)
	require.Equal(t, 0, hook.payloads[0].Offset)
	require.Equal(t, 4, hook.payloads[2].Offset)
	require.Equal(t, 2, hook.payloads[2].BatchSize)
	require.Len(t, hook.payloads[2].Rows, 1)
}

func TestRunStopsOnEmptyBatch(t *testing.T) {
	t.Parallel()

	hook := &webhook{}
	srv := httptest.NewServer(http.HandlerFunc(hook.handler))
	defer srv.Close()

	src := &sliceSource{rows: makeRows(4)}
	stats, err := newPusher(srv.URL, src, 2).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.Batches)
	require.Equal(t, []string{"0+2", "2+2", "4+2"}, src.calls)
}

func TestRunRetriesWebhook(t *testing.T) {
	t.Parallel()

	hook := &webhook{}
	hook.failures.Store(2)
	srv := httptest.NewServer(http.HandlerFunc(hook.handler))
	defer srv.Close()

	stats, err := newPusher(srv.URL, &sliceSource{rows: makeRows(1)}, 10).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Batches)
	require.Len(t, hook.payloads, 1)
}

func TestRunFailsAfterExhaustingAttempts(t *testing.T) {
	t.Parallel()

	hook := &webhook{}
	hook.failures.Store(100)
	srv := httptest.NewServer(http.HandlerFunc(hook.handler))
	defer srv.Close()

	src := &sliceSource{rows: makeRows(3)}
	stats, err := newPusher(srv.URL, src, 2).Run(context.Background())
	require.ErrorContains(t, err, "status 502")
	require.Equal(t, 0, stats.NextOffset)
	require.Equal(t, int32(97), hook.failures.Load())
}

func TestRunFailsOnSourceError(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")
	_, err := newPusher("http://127.0.0.1:1", &sliceSource{err: boom}, 2).Run(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestClampBatchSize(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, ClampBatchSize(0))
	require.Equal(t, 1, ClampBatchSize(-5))
	require.Equal(t, 100, ClampBatchSize(100))
	require.Equal(t, 5000, ClampBatchSize(9000))
}
