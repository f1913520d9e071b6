package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/storeops/bulkops/internal/batch"
	"github.com/storeops/bulkops/internal/history"
	"github.com/storeops/bulkops/internal/models"
	"github.com/storeops/bulkops/internal/remote"
	"github.com/storeops/bulkops/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

// newTestService creates a service over an in-memory history and a mock
// store with no delay between groups.
func newTestService(t *testing.T) (*Service, *remote.MockClient, *history.Store) {
	t.Helper()
	hist := history.New(store.NewMemory(), history.Options{Now: func() time.Time { return testNow }})
	t.Cleanup(func() { hist.Close() })
	mock := remote.NewMockClient()
	orch := batch.New(batch.Options{GroupSize: 2, WindowDelay: 0}, nil)
	svc := NewService(hist, mock, orch, nil)
	svc.now = func() time.Time { return testNow }
	return svc, mock, hist
}

// seedVariants adds n variants v1..vn priced 10.00 across two products.
func seedVariants(mock *remote.MockClient, n int) []*models.Item {
	items := make([]*models.Item, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("v%d", i)
		pid := fmt.Sprintf("p%d", (i-1)%2+1)
		mock.AddVariant(&remote.Variant{
			ID:        id,
			ProductID: pid,
			Title:     fmt.Sprintf("Shirt %d", i),
			SKU:       fmt.Sprintf("SKU-%d", i),
			Price:     "10.00",
		})
		items = append(items, &models.Item{ID: id, ParentID: pid})
	}
	return items
}

func raise20() ApplyRuleRequest {
	return ApplyRuleRequest{
		Rule:      models.PriceRule{Type: models.RulePercentage, Value: "20", ApplyTo: models.ApplyToPrice, Rounding: models.RoundNone},
		Direction: models.Increase,
	}
}

func unprocessable() error {
	return &remote.RemoteError{Status: 422, Code: "unprocessable", Message: "price: is invalid"}
}

func childByItem(t *testing.T, hist *history.Store, batchID, itemID string) *models.HistoryEntry {
	t.Helper()
	children, err := hist.GetBulkOperationItems(batchID)
	require.NoError(t, err)
	for _, c := range children {
		if c.OperationData.ItemID == itemID {
			return c
		}
	}
	t.Fatalf("no child for item %s in batch %s", itemID, batchID)
	return nil
}

func TestApplyRule_UpdatesPricesAndRecordsBatch(t *testing.T) {
	svc, mock, hist := newTestService(t)
	req := raise20()
	req.Items = seedVariants(mock, 3)

	out, err := svc.ApplyRule(context.Background(), req, nil)
	require.NoError(t, err)
	require.Empty(t, out.StorageError)

	assert.Equal(t, 3, out.Result.Successful)
	for _, id := range []string{"v1", "v2", "v3"} {
		assert.Equal(t, "12.00", mock.Variant(id).Price)
	}

	agg := out.Aggregate
	require.NotNil(t, agg)
	assert.Equal(t, models.OpBulkPriceUpdate, agg.OperationType)
	assert.Equal(t, models.CategoryPricing, agg.Category)
	assert.Equal(t, models.StatusSuccess, agg.Status)
	assert.Equal(t, models.RollbackBatch, agg.RollbackData.Type)
	require.NotNil(t, agg.OperationData.Rule)
	assert.Equal(t, "20", agg.OperationData.Rule.Value)
	assert.ElementsMatch(t, []string{"p1", "p2"}, agg.AffectedProductIDs)

	c := childByItem(t, hist, out.BatchID, "v2")
	assert.Equal(t, models.Values{models.FieldPrice: "10.00"}, c.OperationData.OldValues)
	assert.Equal(t, models.Values{models.FieldPrice: "12.00"}, c.OperationData.NewValues)
	assert.Equal(t, "SKU-2", c.SKU)
	assert.Equal(t, models.VariantPricePayload{
		VariantID: "v2",
		ProductID: "p2",
		Values:    models.Values{models.FieldPrice: "10.00"},
	}, c.RollbackData.Payload)
}

func TestApplyRule_PartialFailureIsolated(t *testing.T) {
	svc, mock, hist := newTestService(t)
	req := raise20()
	req.Items = seedVariants(mock, 5)
	mock.SetFail("v3", unprocessable())

	out, err := svc.ApplyRule(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, out.Result.Successful)
	assert.Equal(t, 1, out.Result.Failed)
	assert.Equal(t, models.StatusWarning, out.Aggregate.Status)
	assert.Equal(t, []string{"v3"}, out.Aggregate.BulkSummary.FailedItemIDs)

	children, err := hist.GetBulkOperationItems(out.BatchID)
	require.NoError(t, err)
	assert.Len(t, children, 5)

	failed := childByItem(t, hist, out.BatchID, "v3")
	assert.Equal(t, models.StatusError, failed.Status)
	assert.Contains(t, failed.Error, "price: is invalid")
	assert.False(t, failed.RollbackData.CanRollback)
	assert.Equal(t, "10.00", mock.Variant("v3").Price)
}

func TestApplyRule_BatchLinkage(t *testing.T) {
	svc, mock, hist := newTestService(t)
	req := raise20()
	req.Items = seedVariants(mock, 4)

	out, err := svc.ApplyRule(context.Background(), req, nil)
	require.NoError(t, err)

	entries, err := hist.Query(history.Filter{BatchID: out.BatchID})
	require.NoError(t, err)

	var aggs, children int
	for _, e := range entries {
		switch e.OperationData.Action {
		case models.ActionBulkOperation:
			aggs++
		case models.ActionItemInBulk:
			children++
			assert.Equal(t, out.Aggregate.ID, e.OperationData.ParentBatchID)
		}
	}
	assert.Equal(t, 1, aggs)
	assert.Equal(t, 4, children)
}

func TestApplyRule_UsesSuppliedCurrentValues(t *testing.T) {
	svc, mock, _ := newTestService(t)
	seedVariants(mock, 1)
	req := raise20()
	req.Items = []*models.Item{{
		ID:       "v1",
		ParentID: "p1",
		Current:  models.Values{models.FieldPrice: "50.00"},
	}}

	_, err := svc.ApplyRule(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, mock.CallCount("GetVariant"))
	assert.Equal(t, "60.00", mock.Variant("v1").Price)
}

func TestApplyRule_CompareAtPrice(t *testing.T) {
	svc, mock, hist := newTestService(t)
	mock.AddVariant(&remote.Variant{ID: "v1", ProductID: "p1", Price: "10.00", CompareAtPrice: "20.00"})
	mock.AddVariant(&remote.Variant{ID: "v2", ProductID: "p1", Price: "10.00"})

	req := ApplyRuleRequest{
		Items:     []*models.Item{{ID: "v1"}, {ID: "v2"}},
		Rule:      models.PriceRule{Type: models.RuleFixed, Value: "5", ApplyTo: models.ApplyToBoth, Rounding: models.RoundNone},
		Direction: models.Decrease,
	}
	out, err := svc.ApplyRule(context.Background(), req, nil)
	require.NoError(t, err)
	require.Equal(t, 2, out.Result.Successful)

	assert.Equal(t, "5.00", mock.Variant("v1").Price)
	assert.Equal(t, "15.00", mock.Variant("v1").CompareAtPrice)
	// No compare-at price to adjust on v2.
	assert.Equal(t, "5.00", mock.Variant("v2").Price)
	assert.Empty(t, mock.Variant("v2").CompareAtPrice)

	c := childByItem(t, hist, out.BatchID, "v2")
	assert.Equal(t, models.Values{models.FieldPrice: "10.00"}, c.OperationData.OldValues)
}

func TestApplyRule_Validation(t *testing.T) {
	svc, mock, hist := newTestService(t)
	items := seedVariants(mock, 2)

	tests := []struct {
		name  string
		req   ApplyRuleRequest
		field string
	}{
		{"no items", ApplyRuleRequest{Rule: raise20().Rule, Direction: models.Increase}, "items"},
		{"duplicate items", ApplyRuleRequest{Items: []*models.Item{items[0], items[0]}, Rule: raise20().Rule, Direction: models.Increase}, "items"},
		{"missing direction", ApplyRuleRequest{Items: items, Rule: raise20().Rule}, "direction"},
		{"unknown direction", ApplyRuleRequest{Items: items, Rule: raise20().Rule, Direction: "sideways"}, "direction"},
		{"bad value", ApplyRuleRequest{Items: items, Rule: models.PriceRule{Type: models.RulePercentage, Value: "abc"}, Direction: models.Increase}, "rule"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ApplyRule(context.Background(), tt.req, nil)
			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	assert.Equal(t, 0, mock.CallCount("UpdateVariant"))
	n, err := hist.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApplyRule_AbsoluteWithoutDirection(t *testing.T) {
	svc, mock, _ := newTestService(t)
	req := ApplyRuleRequest{
		Items: seedVariants(mock, 1),
		Rule:  models.PriceRule{Type: models.RuleAbsolute, Value: "24.5", ApplyTo: models.ApplyToPrice},
	}
	_, err := svc.ApplyRule(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, "24.50", mock.Variant("v1").Price)
}

func TestApplyRule_ReportsProgress(t *testing.T) {
	svc, mock, _ := newTestService(t)
	req := raise20()
	req.Items = seedVariants(mock, 3)

	var progress []batch.Progress
	var groups int
	obs := &batch.Observer{
		OnProgress: func(p batch.Progress) { progress = append(progress, p) },
		OnGroup:    func(int, int, string) { groups++ },
	}
	_, err := svc.ApplyRule(context.Background(), req, obs)
	require.NoError(t, err)

	require.Len(t, progress, 3)
	assert.Equal(t, 3, progress[2].Completed)
	assert.Equal(t, 2, groups)
}

func TestPreviewRule_NoWrites(t *testing.T) {
	svc, mock, hist := newTestService(t)
	req := raise20()
	req.Items = seedVariants(mock, 2)
	req.Items = append(req.Items, &models.Item{ID: "missing"})
	req.Rule.Rounding = models.RoundNearest99

	rows, err := svc.PreviewRule(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, models.Values{models.FieldPrice: "10.00"}, rows[0].OldValues)
	assert.Equal(t, models.Values{models.FieldPrice: "12.99"}, rows[0].NewValues)
	assert.Equal(t, "Shirt 1 (SKU-1)", rows[0].Label)
	assert.NotEmpty(t, rows[2].Error)

	assert.Equal(t, 0, mock.CallCount("UpdateVariant"))
	assert.Equal(t, "10.00", mock.Variant("v1").Price)
	// Caller's items are not modified.
	assert.Nil(t, req.Items[0].Current)
	n, err := hist.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRetry_CreatesNewBatch(t *testing.T) {
	svc, mock, hist := newTestService(t)
	req := raise20()
	req.Items = seedVariants(mock, 5)
	mock.SetFail("v3", unprocessable())

	first, err := svc.ApplyRule(context.Background(), req, nil)
	require.NoError(t, err)
	before, err := hist.Query(history.Filter{BatchID: first.BatchID})
	require.NoError(t, err)

	mock.SetFail("v3", nil)
	out, err := svc.Retry(context.Background(), first.BatchID, nil)
	require.NoError(t, err)
	require.NotNil(t, out.Batch)
	assert.Nil(t, out.Rollback)

	second := out.Batch
	assert.NotEqual(t, first.BatchID, second.BatchID)
	assert.Equal(t, 1, second.Result.Total)
	assert.Equal(t, 1, second.Result.Successful)
	assert.Equal(t, first.BatchID, second.Aggregate.OperationData.RetryOf)
	assert.Equal(t, "12.00", mock.Variant("v3").Price)
	// Items that already succeeded are not touched again.
	assert.Equal(t, "12.00", mock.Variant("v1").Price)

	after, err := hist.Query(history.Filter{BatchID: first.BatchID})
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRetry_NothingToRetry(t *testing.T) {
	svc, mock, _ := newTestService(t)
	req := raise20()
	req.Items = seedVariants(mock, 2)

	out, err := svc.ApplyRule(context.Background(), req, nil)
	require.NoError(t, err)

	_, err = svc.Retry(context.Background(), out.BatchID, nil)
	require.ErrorIs(t, err, ErrNothingToRetry)
}

func TestRetry_UnknownBatch(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Retry(context.Background(), "nope", nil)
	require.ErrorIs(t, err, history.ErrNotFound)
}

func TestRun_StorageFailureStillReturnsResult(t *testing.T) {
	hist := history.New(failingBackend{}, history.Options{})
	mock := remote.NewMockClient()
	svc := NewService(hist, mock, batch.New(batch.Options{GroupSize: 5}, nil), nil)
	req := raise20()
	req.Items = seedVariants(mock, 2)

	out, err := svc.ApplyRule(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Result.Successful)
	assert.NotEmpty(t, out.BatchID)
	assert.Nil(t, out.Aggregate)
	assert.Contains(t, out.StorageError, "disk full")
	assert.Equal(t, "12.00", mock.Variant("v1").Price)
}

type failingBackend struct{}

func (failingBackend) View(fn func([]*models.HistoryEntry) error) error { return fn(nil) }

func (failingBackend) Update(func([]*models.HistoryEntry) ([]*models.HistoryEntry, error)) error {
	return fmt.Errorf("disk full")
}

func (failingBackend) Close() error { return nil }
