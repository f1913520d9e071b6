package history

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/storeops/bulkops/internal/models"
)

// BulkRequest describes a completed batch to be recorded.
type BulkRequest struct {
	OperationType models.OperationType
	// Category defaults to the operation type's category.
	Category    models.Category
	Description string
	// BatchID defaults to a new random ID.
	BatchID string
	Result  *models.BatchResult

	// RollbackType is recorded on successful children. The aggregate gets
	// batch_operation, or file_restore when the children do.
	RollbackType models.RollbackType
	// Payload builds the rollback payload of one successful item. A nil
	// Payload records the whole batch as not rollbackable.
	Payload func(r *models.ItemResult) models.RollbackPayload

	// Data supplies extra aggregate fields (rule, direction, discount,
	// expiry, retry lineage). Action, item and batch fields are ignored.
	Data models.OperationData

	// Rollback records a batch that reversed another batch. Every entry is
	// written with action rollback and is not itself rollbackable. Each
	// child's RollbackOf is its item's Ref; the aggregate's is Data.RollbackOf.
	Rollback bool
}

// BulkRecord is the result of CreateBulkOperation.
type BulkRecord struct {
	BatchID   string                 `json:"batch_id"`
	Aggregate *models.HistoryEntry   `json:"aggregate"`
	Entries   []*models.HistoryEntry `json:"entries"`
}

// CreateBulkOperation writes one aggregate entry plus one child entry per
// item result in a single backend transaction.
func (s *Store) CreateBulkOperation(req BulkRequest) (*BulkRecord, error) {
	if req.Result == nil {
		return nil, fmt.Errorf("create bulk operation: nil batch result")
	}
	if req.BatchID == "" {
		req.BatchID = uuid.NewString()
	}
	if req.Category == "" {
		req.Category = models.CategoryFor(req.OperationType)
	}

	now := s.now().UTC()
	res := req.Result

	itemAction := models.ActionItemInBulk
	aggAction := models.ActionBulkOperation
	if req.Rollback {
		itemAction = models.ActionRollback
		aggAction = models.ActionRollback
	}

	summary := &models.BulkSummary{
		TotalItems:      res.Total,
		SuccessfulItems: res.Successful,
		FailedItems:     res.Failed,
		Cancelled:       res.Cancelled,
		DurationMS:      res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
	}
	var affected []string
	seen := make(map[string]bool)
	for _, r := range res.Items {
		if !r.Succeeded() {
			summary.FailedItemIDs = append(summary.FailedItemIDs, r.Item.ID)
		}
		if p := r.Item.ParentID; p != "" && !seen[p] {
			seen[p] = true
			affected = append(affected, p)
		}
	}

	aggData := req.Data
	aggData.Action = aggAction
	aggData.BatchID = req.BatchID
	aggData.ParentBatchID = ""
	aggData.ItemID = ""
	aggData.OldValues = nil
	aggData.NewValues = nil
	if !req.Rollback {
		aggData.RollbackOf = ""
	}

	agg := &models.HistoryEntry{
		ID:                 newEntryID(),
		Timestamp:          now,
		OperationType:      req.OperationType,
		Category:           req.Category,
		Status:             batchStatus(res),
		Description:        req.Description,
		AffectedProductIDs: affected,
		OperationData:      aggData,
		RollbackData:       models.NotRollbackable(),
		BulkSummary:        summary,
	}
	if len(affected) == 1 {
		agg.ProductID = affected[0]
	}
	if !req.Rollback && req.Payload != nil && res.Successful > 0 {
		rt := models.RollbackBatch
		if req.RollbackType == models.RollbackFileRestore {
			rt = models.RollbackFileRestore
		}
		agg.RollbackData = models.RollbackData{
			CanRollback: true,
			Type:        rt,
			Payload:     models.BatchPayload{BatchID: req.BatchID},
		}
	}

	entries := make([]*models.HistoryEntry, 0, len(res.Items)+1)
	entries = append(entries, agg)
	for _, r := range res.Items {
		entries = append(entries, s.childEntry(req, agg, r, itemAction, now))
	}

	if err := s.prepend(entries); err != nil {
		return nil, err
	}

	s.logger.Debug("bulk operation recorded",
		"batch_id", req.BatchID,
		"operation", req.OperationType,
		"entries", len(entries))

	return &BulkRecord{BatchID: req.BatchID, Aggregate: agg, Entries: entries}, nil
}

func (s *Store) childEntry(req BulkRequest, agg *models.HistoryEntry, r *models.ItemResult, action models.Action, now time.Time) *models.HistoryEntry {
	item := r.Item
	e := &models.HistoryEntry{
		ID:            newEntryID(),
		Timestamp:     now,
		OperationType: req.OperationType,
		Category:      req.Category,
		Status:        models.StatusSuccess,
		Description:   fmt.Sprintf("%s: %s", req.Description, item.Label()),
		Title:         item.Title,
		SKU:           item.SKU,
		ProductID:     item.ParentID,
		OperationData: models.OperationData{
			Action:        action,
			ItemID:        item.ID,
			OldValues:     r.OldValues.Clone(),
			NewValues:     r.NewValues.Clone(),
			BatchID:       req.BatchID,
			ParentBatchID: agg.ID,
		},
		RollbackData: models.NotRollbackable(),
	}
	if req.Rollback {
		e.OperationData.RollbackOf = item.Ref
	}
	if !r.Succeeded() {
		e.Status = models.StatusError
		e.Error = r.Error
		return e
	}
	if !req.Rollback && req.Payload != nil {
		if payload := req.Payload(r); payload != nil {
			e.RollbackData = models.RollbackData{
				CanRollback: true,
				Type:        req.RollbackType,
				Payload:     payload,
			}
		}
	}
	return e
}

// batchStatus derives the aggregate status from item outcomes.
func batchStatus(res *models.BatchResult) models.Status {
	switch {
	case res.Failed == 0:
		return models.StatusSuccess
	case res.Successful == 0:
		return models.StatusError
	}
	return models.StatusWarning
}
