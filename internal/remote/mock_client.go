package remote

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/storeops/bulkops/internal/models"
)

// MockClient is an in-memory StoreClient for testing. It is safe for
// concurrent use.
type MockClient struct {
	mu sync.Mutex

	// Variants stores variants by ID.
	Variants map[string]*Variant
	// Products stores products by ID.
	Products map[string]*Product
	// Images records created media in creation order.
	Images []*Image

	// Err can be set to make every method return an error.
	Err error
	// Fail maps a variant or product ID to the error its calls return.
	Fail map[string]error
	// Delay is added to every call, honoring context cancellation.
	Delay time.Duration

	// Calls counts calls per method name.
	Calls map[string]int

	nextImageID int
}

// NewMockClient creates a new MockClient for testing.
func NewMockClient() *MockClient {
	return &MockClient{
		Variants: make(map[string]*Variant),
		Products: make(map[string]*Product),
		Fail:     make(map[string]error),
		Calls:    make(map[string]int),
	}
}

// AddVariant adds a variant to the mock store.
func (m *MockClient) AddVariant(v *Variant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.Variants[v.ID] = &cp
}

// AddProduct adds a product to the mock store.
func (m *MockClient) AddProduct(p *Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.Products[p.ID] = &cp
}

// SetFail makes calls for id fail with err; a nil err clears it.
func (m *MockClient) SetFail(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.Fail, id)
		return
	}
	m.Fail[id] = err
}

// Variant returns a copy of the stored variant.
func (m *MockClient) Variant(id string) *Variant {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.Variants[id]
	if !ok {
		return nil
	}
	cp := *v
	return &cp
}

// CallCount returns how many times method was called.
func (m *MockClient) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[method]
}

func (m *MockClient) begin(ctx context.Context, method, id string) error {
	m.mu.Lock()
	m.Calls[method]++
	delay := m.Delay
	err := m.Err
	if err == nil {
		err = m.Fail[id]
	}
	m.mu.Unlock()

	if delay > 0 {
		if e := sleep(ctx, delay); e != nil {
			return e
		}
	}
	return err
}

func notFound(kind, id string) error {
	return &RemoteError{Status: 404, Code: "not_found", Message: fmt.Sprintf("%s %s not found", kind, id)}
}

// GetVariant returns the stored variant.
func (m *MockClient) GetVariant(ctx context.Context, variantID string) (*Variant, error) {
	if err := m.begin(ctx, "GetVariant", variantID); err != nil {
		return nil, err
	}
	if v := m.Variant(variantID); v != nil {
		return v, nil
	}
	return nil, notFound("variant", variantID)
}

// UpdateVariant applies the price fields to the stored variant.
func (m *MockClient) UpdateVariant(ctx context.Context, variantID string, fields models.Values) (*Variant, error) {
	if err := m.begin(ctx, "UpdateVariant", variantID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.Variants[variantID]
	if !ok {
		return nil, notFound("variant", variantID)
	}
	for k, val := range fields {
		switch k {
		case models.FieldPrice:
			v.Price = val
		case models.FieldCompareAtPrice:
			v.CompareAtPrice = val
		case models.FieldTitle:
			v.Title = val
		default:
			return nil, &RemoteError{Status: 422, Code: "unprocessable", Message: k + ": unknown field"}
		}
	}
	cp := *v
	return &cp, nil
}

// GetProduct returns the stored product.
func (m *MockClient) GetProduct(ctx context.Context, productID string) (*Product, error) {
	if err := m.begin(ctx, "GetProduct", productID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Products[productID]
	if !ok {
		return nil, notFound("product", productID)
	}
	cp := *p
	return &cp, nil
}

// UpdateProduct applies fields to the stored product.
func (m *MockClient) UpdateProduct(ctx context.Context, productID string, fields models.Values) (*Product, error) {
	if err := m.begin(ctx, "UpdateProduct", productID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Products[productID]
	if !ok {
		return nil, notFound("product", productID)
	}
	for k, val := range fields {
		switch k {
		case "title":
			p.Title = val
		case "body_html":
			p.BodyHTML = val
		case "vendor":
			p.Vendor = val
		case "product_type":
			p.ProductType = val
		case "tags":
			p.Tags = val
		case "status":
			p.Status = val
		default:
			return nil, &RemoteError{Status: 422, Code: "unprocessable", Message: k + ": unknown field"}
		}
	}
	cp := *p
	return &cp, nil
}

// CreateProductImage records new media for the product.
func (m *MockClient) CreateProductImage(ctx context.Context, productID string, src *ImageSource) (*Image, error) {
	if err := m.begin(ctx, "CreateProductImage", productID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Products[productID]
	if !ok {
		return nil, notFound("product", productID)
	}
	m.nextImageID++
	img := &Image{
		ID:         strconv.Itoa(9000 + m.nextImageID),
		ProductID:  productID,
		Src:        src.Ref(),
		Alt:        src.Alt,
		Position:   len(p.Images) + 1,
		VariantIDs: src.VariantIDs,
	}
	p.Images = append(p.Images, img)
	m.Images = append(m.Images, img)
	cp := *img
	return &cp, nil
}
