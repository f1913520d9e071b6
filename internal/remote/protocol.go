// Package remote defines the resource types and client for the Shopify REST
// Admin API, the remote product/variant store every bulk operation mutates.
package remote

import (
	"github.com/storeops/bulkops/internal/models"
)

// Variant is a product variant as read from the store.
// An empty CompareAtPrice means the field is unset.
type Variant struct {
	ID             string `json:"id"`
	ProductID      string `json:"product_id"`
	Title          string `json:"title,omitempty"`
	SKU            string `json:"sku,omitempty"`
	Price          string `json:"price"`
	CompareAtPrice string `json:"compare_at_price,omitempty"`
}

// Values returns the variant's price fields.
func (v *Variant) Values() models.Values {
	return models.Values{
		models.FieldPrice:          v.Price,
		models.FieldCompareAtPrice: v.CompareAtPrice,
	}
}

// Product is a product as read from the store.
type Product struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	BodyHTML    string     `json:"body_html,omitempty"`
	Vendor      string     `json:"vendor,omitempty"`
	ProductType string     `json:"product_type,omitempty"`
	Tags        string     `json:"tags,omitempty"`
	Status      string     `json:"status,omitempty"`
	Variants    []*Variant `json:"variants,omitempty"`
	Images      []*Image   `json:"images,omitempty"`
}

// ProductFields lists the product fields UpdateProduct may change.
var ProductFields = []string{"title", "body_html", "vendor", "product_type", "tags", "status"}

// Fields returns the named product fields. Unknown names are skipped.
func (p *Product) Fields(names ...string) models.Values {
	all := models.Values{
		"title":        p.Title,
		"body_html":    p.BodyHTML,
		"vendor":       p.Vendor,
		"product_type": p.ProductType,
		"tags":         p.Tags,
		"status":       p.Status,
	}
	out := make(models.Values, len(names))
	for _, n := range names {
		if v, ok := all[n]; ok {
			out[n] = v
		}
	}
	return out
}

// Image is product media created on the store.
type Image struct {
	ID         string   `json:"id"`
	ProductID  string   `json:"product_id"`
	Src        string   `json:"src"`
	Alt        string   `json:"alt,omitempty"`
	Position   int      `json:"position,omitempty"`
	VariantIDs []string `json:"variant_ids,omitempty"`
}

// ImageSource describes media to create. Exactly one of Src (a public URL)
// or Attachment (raw file bytes) is set.
type ImageSource struct {
	Src        string   `json:"src,omitempty"`
	Attachment []byte   `json:"attachment,omitempty"`
	Filename   string   `json:"filename,omitempty"`
	Alt        string   `json:"alt,omitempty"`
	VariantIDs []string `json:"variant_ids,omitempty"`
}

// Ref returns a short human readable reference to the source.
func (s *ImageSource) Ref() string {
	if s.Src != "" {
		return s.Src
	}
	return s.Filename
}

// Wire representations of REST Admin resources. IDs are numeric on the wire.

type variantResource struct {
	ID             int64   `json:"id"`
	ProductID      int64   `json:"product_id"`
	Title          string  `json:"title"`
	SKU            string  `json:"sku"`
	Price          string  `json:"price"`
	CompareAtPrice *string `json:"compare_at_price"`
}

type imageResource struct {
	ID         int64   `json:"id"`
	ProductID  int64   `json:"product_id"`
	Src        string  `json:"src"`
	Alt        *string `json:"alt"`
	Position   int     `json:"position"`
	VariantIDs []int64 `json:"variant_ids"`
}

type productResource struct {
	ID          int64              `json:"id"`
	Title       string             `json:"title"`
	BodyHTML    *string            `json:"body_html"`
	Vendor      string             `json:"vendor"`
	ProductType string             `json:"product_type"`
	Tags        string             `json:"tags"`
	Status      string             `json:"status"`
	Variants    []*variantResource `json:"variants"`
	Images      []*imageResource   `json:"images"`
}

type variantEnvelope struct {
	Variant *variantResource `json:"variant"`
}

type productEnvelope struct {
	Product *productResource `json:"product"`
}

type imageEnvelope struct {
	Image *imageResource `json:"image"`
}

// ErrorResponse is the error body returned by the REST Admin API. Errors is
// either a string or an object of field name to messages.
type ErrorResponse struct {
	Errors any `json:"errors"`
}
