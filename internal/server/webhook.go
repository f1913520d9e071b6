package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/storeops/bulkops/internal/models"
)

// EventHistoryAppended is sent after entries are written to the history.
const EventHistoryAppended = "history.appended"

// WebhookEvent represents the payload sent to webhook URLs.
type WebhookEvent struct {
	Event string `json:"event"`
	// Count is the number of entries written, children included.
	Count int `json:"count"`
	// Entries lists the top-level entries: aggregates and single operations.
	Entries   []WebhookEntry `json:"entries"`
	Timestamp string         `json:"timestamp"`
}

// WebhookEntry is the summary of one history entry in a webhook event.
type WebhookEntry struct {
	ID            string               `json:"id"`
	OperationType models.OperationType `json:"operation_type"`
	Status        models.Status        `json:"status"`
	Description   string               `json:"description"`
	BatchID       string               `json:"batch_id,omitempty"`
	RollbackOf    string               `json:"rollback_of,omitempty"`
}

// WebhookConfig holds the list of configured webhook URLs.
type WebhookConfig struct {
	URLs []string
}

// WebhookNotifier sends HTTP POST notifications to configured webhook URLs.
type WebhookNotifier struct {
	config  *WebhookConfig
	client  *http.Client
	logger  *slog.Logger
	backoff time.Duration
}

// NewWebhookNotifier creates a webhook notifier. Returns nil if no URLs are configured.
func NewWebhookNotifier(cfg *WebhookConfig, logger *slog.Logger) *WebhookNotifier {
	if cfg == nil || len(cfg.URLs) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		config:  cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
		backoff: time.Second,
	}
}

// NotifyAppended sends a history.appended event to all configured URLs.
// It has the history.Listener signature and runs asynchronously.
func (wn *WebhookNotifier) NotifyAppended(entries []*models.HistoryEntry) {
	if wn == nil || len(entries) == 0 {
		return
	}

	event := &WebhookEvent{
		Event:     EventHistoryAppended,
		Count:     len(entries),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	for _, e := range entries {
		if e.IsChild() {
			continue
		}
		event.Entries = append(event.Entries, WebhookEntry{
			ID:            e.ID,
			OperationType: e.OperationType,
			Status:        e.Status,
			Description:   e.Description,
			BatchID:       e.OperationData.BatchID,
			RollbackOf:    e.OperationData.RollbackOf,
		})
	}

	go wn.send(event)
}

// send delivers the webhook event to all configured URLs.
func (wn *WebhookNotifier) send(event *WebhookEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		wn.logger.Error("webhook: marshal event", "error", err)
		return
	}

	for _, url := range wn.config.URLs {
		if err := wn.post(url, data); err != nil {
			wn.logger.Warn("webhook: delivery failed", "url", url, "error", err)
		} else {
			wn.logger.Debug("webhook: delivered", "url", url, "event", event.Event)
		}
	}
}

// post sends a single webhook POST with retry (up to 2 retries).
func (wn *WebhookNotifier) post(url string, data []byte) error {
	const maxRetries = 2

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequest("POST", url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "bulkops/1.0")

		resp, err := wn.client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(attempt+1) * wn.backoff)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			return lastErr // don't retry 4xx
		}
		time.Sleep(time.Duration(attempt+1) * wn.backoff)
	}

	return lastErr
}
