package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollbackData_PayloadKindSurvivesJSON(t *testing.T) {
	entry := &HistoryEntry{
		ID:            "e1",
		OperationType: OpBulkDiscount,
		RollbackData: RollbackData{
			CanRollback: true,
			Type:        RollbackAPICall,
			Payload: DiscountPayload{
				VariantID:     "v1",
				OriginalPrice: "20.00",
			},
		},
	}

	data, err := json.Marshal(entry)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"payload_kind":"discount"`)

	var decoded HistoryEntry
	require.NoError(t, json.Unmarshal(data, &decoded))

	payload, ok := decoded.RollbackData.Payload.(DiscountPayload)
	require.True(t, ok, "payload should decode to DiscountPayload, got %T", decoded.RollbackData.Payload)
	assert.Equal(t, "v1", payload.VariantID)
	assert.Equal(t, "20.00", payload.OriginalPrice)
	assert.True(t, decoded.RollbackData.CanRollback)
	assert.Equal(t, RollbackAPICall, decoded.RollbackData.Type)
}

func TestRollbackData_NoPayload(t *testing.T) {
	data, err := json.Marshal(NotRollbackable())
	require.NoError(t, err)
	assert.JSONEq(t, `{"can_rollback":false}`, string(data))

	var decoded RollbackData
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.False(t, decoded.CanRollback)
	assert.Nil(t, decoded.Payload)
}

func TestRollbackData_UnknownKind(t *testing.T) {
	var decoded RollbackData
	err := json.Unmarshal([]byte(`{"can_rollback":true,"payload_kind":"teleport","rollback_payload":{}}`), &decoded)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "teleport")
}

func TestHistoryEntry_AggregateAndChild(t *testing.T) {
	aggregate := &HistoryEntry{
		BulkSummary:   &BulkSummary{TotalItems: 2},
		OperationData: OperationData{Action: ActionBulkOperation, BatchID: "b1"},
	}
	child := &HistoryEntry{
		OperationData: OperationData{Action: ActionItemInBulk, BatchID: "b1", ParentBatchID: "agg"},
	}

	assert.True(t, aggregate.IsAggregate())
	assert.False(t, aggregate.IsChild())
	assert.True(t, child.IsChild())
	assert.False(t, child.IsAggregate())
}

func TestItem_Label(t *testing.T) {
	assert.Equal(t, "Shirt (SKU-1)", (&Item{ID: "1", Title: "Shirt", SKU: "SKU-1"}).Label())
	assert.Equal(t, "SKU-1", (&Item{ID: "1", SKU: "SKU-1"}).Label())
	assert.Equal(t, "1", (&Item{ID: "1"}).Label())
}

func TestBatchResult_FailedItems(t *testing.T) {
	a, b, c := &Item{ID: "a"}, &Item{ID: "b"}, &Item{ID: "c"}
	res := &BatchResult{Items: []*ItemResult{
		{Item: a, Status: ItemSucceeded},
		{Item: b, Status: ItemFailed},
		{Item: c, Status: ItemFailed},
	}}
	assert.Equal(t, []*Item{b, c}, res.FailedItems())
}
