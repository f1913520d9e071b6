package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/storeops/bulkops/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWebhookNotifier_NilConfig(t *testing.T) {
	wn := NewWebhookNotifier(nil, slog.Default())
	assert.Nil(t, wn)
}

func TestNewWebhookNotifier_EmptyURLs(t *testing.T) {
	wn := NewWebhookNotifier(&WebhookConfig{URLs: nil}, slog.Default())
	assert.Nil(t, wn)
}

func TestWebhookNotifier_NotifyAppended_NilReceiver(t *testing.T) {
	// Should not panic
	var wn *WebhookNotifier
	wn.NotifyAppended([]*models.HistoryEntry{{ID: "e1"}})
}

type eventSink struct {
	mu       sync.Mutex
	received []WebhookEvent
}

func (s *eventSink) handler(w http.ResponseWriter, r *http.Request) {
	var event WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.received = append(s.received, event)
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *eventSink) events() []WebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WebhookEvent(nil), s.received...)
}

func TestWebhookNotifier_NotifyAppended(t *testing.T) {
	sink := &eventSink{}
	ts := httptest.NewServer(http.HandlerFunc(sink.handler))
	defer ts.Close()

	wn := NewWebhookNotifier(&WebhookConfig{URLs: []string{ts.URL}}, slog.Default())
	require.NotNil(t, wn)

	agg := &models.HistoryEntry{
		ID:            "agg1",
		OperationType: models.OpBulkPriceUpdate,
		Status:        models.StatusWarning,
		Description:   "Raise prices",
		OperationData: models.OperationData{Action: models.ActionBulkOperation, BatchID: "b1"},
		BulkSummary:   &models.BulkSummary{TotalItems: 2},
	}
	child := func(id string) *models.HistoryEntry {
		return &models.HistoryEntry{
			ID:            id,
			OperationType: models.OpBulkPriceUpdate,
			OperationData: models.OperationData{Action: models.ActionItemInBulk, BatchID: "b1", ParentBatchID: "agg1"},
		}
	}
	wn.NotifyAppended([]*models.HistoryEntry{agg, child("c1"), child("c2")})

	require.Eventually(t, func() bool { return len(sink.events()) == 1 }, 2*time.Second, 10*time.Millisecond)

	ev := sink.events()[0]
	assert.Equal(t, EventHistoryAppended, ev.Event)
	assert.Equal(t, 3, ev.Count)
	require.Len(t, ev.Entries, 1)
	assert.Equal(t, "agg1", ev.Entries[0].ID)
	assert.Equal(t, "b1", ev.Entries[0].BatchID)
	assert.Equal(t, models.StatusWarning, ev.Entries[0].Status)
	assert.NotEmpty(t, ev.Timestamp)
}

func TestWebhookNotifier_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	wn := NewWebhookNotifier(&WebhookConfig{URLs: []string{ts.URL}}, slog.Default())
	wn.backoff = time.Millisecond

	require.NoError(t, wn.post(ts.URL, []byte(`{}`)))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookNotifier_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	wn := NewWebhookNotifier(&WebhookConfig{URLs: []string{ts.URL}}, slog.Default())
	wn.backoff = time.Millisecond

	err := wn.post(ts.URL, []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHandler_WebhookOnHistoryAppend(t *testing.T) {
	sink := &eventSink{}
	hook := httptest.NewServer(http.HandlerFunc(sink.handler))
	defer hook.Close()

	cfg := DefaultConfig()
	cfg.APIToken = testToken
	cfg.Webhooks = NewWebhookNotifier(&WebhookConfig{URLs: []string{hook.URL}}, slog.Default())
	ts := newTestServer(t, cfg)

	resp := ts.do(t, "POST", "/api/v1/price-rules/apply", priceBody())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return len(sink.events()) == 1 }, 2*time.Second, 10*time.Millisecond)
	ev := sink.events()[0]
	assert.Equal(t, 4, ev.Count)
	require.Len(t, ev.Entries, 1)
	assert.Equal(t, models.OpBulkPriceUpdate, ev.Entries[0].OperationType)
}
