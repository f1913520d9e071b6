// Package core combines the price rule evaluator, the batch orchestrator,
// the history log and the remote store client into the operations exposed
// to the CLI and the HTTP API.
package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/storeops/bulkops/internal/batch"
	"github.com/storeops/bulkops/internal/history"
	"github.com/storeops/bulkops/internal/models"
	"github.com/storeops/bulkops/internal/remote"
)

// Service runs bulk operations and rollbacks. It holds no per-call state.
type Service struct {
	history *history.Store
	client  remote.StoreClient
	orch    *batch.Orchestrator
	logger  *slog.Logger
	now     func() time.Time

	// rollbackMu serializes rollbacks from the eligibility check through
	// the append of the rollback entry.
	rollbackMu sync.Mutex
}

// NewService creates a Service.
func NewService(hist *history.Store, client remote.StoreClient, orch *batch.Orchestrator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if orch == nil {
		orch = batch.New(batch.DefaultOptions(), logger)
	}
	return &Service{
		history: hist,
		client:  client,
		orch:    orch,
		logger:  logger,
		now:     time.Now,
	}
}

// History returns the history log the service records into.
func (s *Service) History() *history.Store {
	return s.history
}

// BatchOutcome is the result of a bulk operation.
type BatchOutcome struct {
	BatchID   string               `json:"batch_id"`
	Result    *models.BatchResult  `json:"result"`
	Aggregate *models.HistoryEntry `json:"aggregate,omitempty"`
	// StorageError is set when the batch ran but its history could not be
	// written.
	StorageError string `json:"storage_error,omitempty"`
}

// run drives fn through the orchestrator and records the batch.
func (s *Service) run(ctx context.Context, items []*models.Item, fn batch.ItemFunc, req history.BulkRequest, obs *batch.Observer) (*BatchOutcome, error) {
	if req.BatchID == "" {
		req.BatchID = uuid.NewString()
	}
	s.logger.Info("batch started",
		"batch_id", req.BatchID,
		"operation", req.OperationType,
		"items", len(items),
		"group_size", s.orch.Options().GroupSize)

	res, err := s.orch.Run(ctx, items, fn, obs)
	if err != nil {
		return nil, err
	}

	s.logger.Info("batch finished",
		"operation", req.OperationType,
		"successful", res.Successful,
		"failed", res.Failed,
		"cancelled", res.Cancelled,
		"duration", res.FinishedAt.Sub(res.StartedAt))

	req.Result = res
	out := &BatchOutcome{BatchID: req.BatchID, Result: res}
	rec, err := s.history.CreateBulkOperation(req)
	if err != nil {
		s.logger.Error("record batch history", "operation", req.OperationType, "error", err)
		out.StorageError = err.Error()
		return out, nil
	}
	out.BatchID = rec.BatchID
	out.Aggregate = rec.Aggregate
	return out, nil
}

// record appends a single entry, logging storage failures. It returns the
// storage error text, if any.
func (s *Service) record(e *models.HistoryEntry) string {
	if _, err := s.history.Append(e); err != nil {
		s.logger.Error("record history entry", "operation", e.OperationType, "error", err)
		return err.Error()
	}
	return ""
}

// validateItems rejects empty selections and duplicate or blank item IDs.
func validateItems(items []*models.Item) error {
	if len(items) == 0 {
		return invalid("items", "no items selected")
	}
	seen := make(map[string]bool, len(items))
	for i, it := range items {
		if it == nil || it.ID == "" {
			return invalid("items", "item %d has no id", i)
		}
		if seen[it.ID] {
			return invalid("items", "duplicate item %s", it.ID)
		}
		seen[it.ID] = true
	}
	return nil
}

// hasFields reports whether v holds a value for every key.
func hasFields(v models.Values, keys ...string) bool {
	for _, k := range keys {
		if _, ok := v[k]; !ok {
			return false
		}
	}
	return true
}

// loadVariant refreshes item.Current with the variant's live price fields
// unless the caller already supplied every field in keys.
func (s *Service) loadVariant(ctx context.Context, item *models.Item, keys ...string) error {
	if hasFields(item.Current, keys...) && item.Current[models.FieldPrice] != "" {
		return nil
	}
	v, err := s.client.GetVariant(ctx, item.ID)
	if err != nil {
		return err
	}
	item.Current = v.Values()
	if item.ParentID == "" {
		item.ParentID = v.ProductID
	}
	if item.SKU == "" {
		item.SKU = v.SKU
	}
	if item.Title == "" {
		item.Title = v.Title
	}
	return nil
}

// pick returns the subset of v named by keys.
func pick(v models.Values, keys []string) models.Values {
	out := make(models.Values, len(keys))
	for _, k := range keys {
		out[k] = v[k]
	}
	return out
}
