package models

import (
	"encoding/json"
	"fmt"
)

// RollbackType selects how an entry is reversed.
type RollbackType string

const (
	RollbackAPICall     RollbackType = "api_call"
	RollbackBatch       RollbackType = "batch_operation"
	RollbackFileRestore RollbackType = "file_restore"
)

// PayloadKind tags the concrete RollbackPayload variant on the wire.
type PayloadKind string

const (
	PayloadVariantPrice  PayloadKind = "variant_price"
	PayloadDiscount      PayloadKind = "discount"
	PayloadProductFields PayloadKind = "product_fields"
	PayloadBatch         PayloadKind = "batch"
	PayloadMedia         PayloadKind = "media"
)

// RollbackPayload is the data needed to reverse one entry. The set of
// implementations is closed: VariantPricePayload, DiscountPayload,
// ProductFieldsPayload, BatchPayload and MediaPayload.
type RollbackPayload interface {
	Kind() PayloadKind
	rollbackPayload()
}

// VariantPricePayload restores recorded price fields on a variant.
type VariantPricePayload struct {
	VariantID string `json:"variant_id"`
	ProductID string `json:"product_id,omitempty"`
	Values    Values `json:"values"`
}

// DiscountPayload restores a variant's pre-discount prices.
// An empty OriginalPrice means it was not recorded.
type DiscountPayload struct {
	VariantID              string `json:"variant_id"`
	ProductID              string `json:"product_id,omitempty"`
	OriginalPrice          string `json:"original_price,omitempty"`
	OriginalCompareAtPrice string `json:"original_compare_at_price,omitempty"`
}

// ProductFieldsPayload restores product-level fields.
type ProductFieldsPayload struct {
	ProductID string `json:"product_id"`
	Fields    Values `json:"fields"`
}

// BatchPayload points at the batch whose children are reversed together.
type BatchPayload struct {
	BatchID string `json:"batch_id"`
}

// MediaPayload lists media created by an upload.
type MediaPayload struct {
	ProductID string   `json:"product_id"`
	ImageIDs  []string `json:"image_ids,omitempty"`
}

func (VariantPricePayload) Kind() PayloadKind  { return PayloadVariantPrice }
func (DiscountPayload) Kind() PayloadKind      { return PayloadDiscount }
func (ProductFieldsPayload) Kind() PayloadKind { return PayloadProductFields }
func (BatchPayload) Kind() PayloadKind         { return PayloadBatch }
func (MediaPayload) Kind() PayloadKind         { return PayloadMedia }

func (VariantPricePayload) rollbackPayload()  {}
func (DiscountPayload) rollbackPayload()      {}
func (ProductFieldsPayload) rollbackPayload() {}
func (BatchPayload) rollbackPayload()         {}
func (MediaPayload) rollbackPayload()         {}

// RollbackData states whether and how an entry can be reversed.
type RollbackData struct {
	CanRollback bool
	Type        RollbackType
	Payload     RollbackPayload
}

// NotRollbackable is the RollbackData of entries that must never be reversed.
func NotRollbackable() RollbackData {
	return RollbackData{}
}

type rollbackDataJSON struct {
	CanRollback bool            `json:"can_rollback"`
	Type        RollbackType    `json:"rollback_type,omitempty"`
	Kind        PayloadKind     `json:"payload_kind,omitempty"`
	Payload     json.RawMessage `json:"rollback_payload,omitempty"`
}

// MarshalJSON writes the payload together with its kind tag.
func (d RollbackData) MarshalJSON() ([]byte, error) {
	out := rollbackDataJSON{CanRollback: d.CanRollback, Type: d.Type}
	if d.Payload != nil {
		raw, err := json.Marshal(d.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal rollback payload: %w", err)
		}
		out.Kind = d.Payload.Kind()
		out.Payload = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the payload variant selected by its kind tag.
func (d *RollbackData) UnmarshalJSON(data []byte) error {
	var in rollbackDataJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	d.CanRollback = in.CanRollback
	d.Type = in.Type
	d.Payload = nil

	if in.Kind == "" || len(in.Payload) == 0 || string(in.Payload) == "null" {
		return nil
	}

	var (
		payload RollbackPayload
		err     error
	)
	switch in.Kind {
	case PayloadVariantPrice:
		var p VariantPricePayload
		err = json.Unmarshal(in.Payload, &p)
		payload = p
	case PayloadDiscount:
		var p DiscountPayload
		err = json.Unmarshal(in.Payload, &p)
		payload = p
	case PayloadProductFields:
		var p ProductFieldsPayload
		err = json.Unmarshal(in.Payload, &p)
		payload = p
	case PayloadBatch:
		var p BatchPayload
		err = json.Unmarshal(in.Payload, &p)
		payload = p
	case PayloadMedia:
		var p MediaPayload
		err = json.Unmarshal(in.Payload, &p)
		payload = p
	default:
		return fmt.Errorf("unknown rollback payload kind %q", in.Kind)
	}
	if err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", in.Kind, err)
	}
	d.Payload = payload
	return nil
}
