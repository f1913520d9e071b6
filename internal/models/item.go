// Package models defines the data types shared by the batch orchestrator,
// the history log and the rollback engine.
package models

import "sort"

// Well-known value keys recorded in Values.
const (
	FieldPrice          = "price"
	FieldCompareAtPrice = "compare_at_price"
	FieldTitle          = "title"
	FieldImageSrc       = "image_src"
	FieldImageID        = "image_id"
)

// Values is a flat set of field values for an item, e.g. {"price": "19.99"}.
// An empty string means the field is unset on the remote store.
type Values map[string]string

// Clone returns a copy of v. Cloning a nil map returns nil.
func (v Values) Clone() Values {
	if v == nil {
		return nil
	}
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Keys returns the field names in sorted order.
func (v Values) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Item is one addressable unit targeted by a bulk operation, typically a
// product variant.
type Item struct {
	ID       string `json:"item_id"`
	ParentID string `json:"parent_id,omitempty"`
	SKU      string `json:"sku,omitempty"`
	Title    string `json:"title,omitempty"`
	Current  Values `json:"current_values,omitempty"`
	Target   Values `json:"target_values,omitempty"`
	// Ref is an opaque caller reference carried through to the item result,
	// e.g. the history entry an item was rebuilt from.
	Ref string `json:"ref,omitempty"`
}

// Label returns a human readable name for progress reporting.
func (i *Item) Label() string {
	switch {
	case i.Title != "" && i.SKU != "":
		return i.Title + " (" + i.SKU + ")"
	case i.Title != "":
		return i.Title
	case i.SKU != "":
		return i.SKU
	}
	return i.ID
}
