package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/storeops/bulkops/internal/models"
)

// DefaultAPIVersion is the REST Admin API version used when none is configured.
const DefaultAPIVersion = "2024-10"

// ErrInvalidID is returned for IDs that are not numeric or a gid ending in one.
var ErrInvalidID = errors.New("invalid resource id")

// StoreClient defines the contract for mutating the remote catalog. Every
// update is idempotent per call: re-sending the same update is safe.
type StoreClient interface {
	GetVariant(ctx context.Context, variantID string) (*Variant, error)
	UpdateVariant(ctx context.Context, variantID string, fields models.Values) (*Variant, error)

	GetProduct(ctx context.Context, productID string) (*Product, error)
	UpdateProduct(ctx context.Context, productID string, fields models.Values) (*Product, error)

	CreateProductImage(ctx context.Context, productID string, src *ImageSource) (*Image, error)
}

// HTTPClient implements StoreClient over the REST Admin API.
type HTTPClient struct {
	baseURL    string
	apiVersion string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a REST Admin client. baseURL is the shop origin,
// e.g. https://example.myshopify.com.
func NewHTTPClient(baseURL, apiVersion, token string) *HTTPClient {
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiVersion: apiVersion,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ShopURL turns a shop domain into the origin used by NewHTTPClient.
func ShopURL(domain string) string {
	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return domain
	}
	return "https://" + domain
}

func (c *HTTPClient) adminURL(path string) string {
	return fmt.Sprintf("%s/admin/api/%s%s", c.baseURL, c.apiVersion, path)
}

func (c *HTTPClient) do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("X-Shopify-Access-Token", c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	return resp, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, url string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.do(ctx, method, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// GetVariant reads a single variant.
func (c *HTTPClient) GetVariant(ctx context.Context, variantID string) (*Variant, error) {
	id, err := numericID(variantID)
	if err != nil {
		return nil, err
	}
	var env variantEnvelope
	if err := c.doJSON(ctx, http.MethodGet, c.adminURL(fmt.Sprintf("/variants/%d.json", id)), nil, &env); err != nil {
		return nil, fmt.Errorf("get variant %s: %w", variantID, err)
	}
	if env.Variant == nil {
		return nil, fmt.Errorf("get variant %s: empty response", variantID)
	}
	return env.Variant.toVariant(), nil
}

// UpdateVariant writes the given fields. An empty value clears the field.
func (c *HTTPClient) UpdateVariant(ctx context.Context, variantID string, fields models.Values) (*Variant, error) {
	id, err := numericID(variantID)
	if err != nil {
		return nil, err
	}
	body := map[string]any{"variant": updateBody(id, fields)}
	var env variantEnvelope
	if err := c.doJSON(ctx, http.MethodPut, c.adminURL(fmt.Sprintf("/variants/%d.json", id)), body, &env); err != nil {
		return nil, fmt.Errorf("update variant %s: %w", variantID, err)
	}
	if env.Variant == nil {
		return nil, fmt.Errorf("update variant %s: empty response", variantID)
	}
	return env.Variant.toVariant(), nil
}

// GetProduct reads a product with its variants and images.
func (c *HTTPClient) GetProduct(ctx context.Context, productID string) (*Product, error) {
	id, err := numericID(productID)
	if err != nil {
		return nil, err
	}
	var env productEnvelope
	if err := c.doJSON(ctx, http.MethodGet, c.adminURL(fmt.Sprintf("/products/%d.json", id)), nil, &env); err != nil {
		return nil, fmt.Errorf("get product %s: %w", productID, err)
	}
	if env.Product == nil {
		return nil, fmt.Errorf("get product %s: empty response", productID)
	}
	return env.Product.toProduct(), nil
}

// UpdateProduct writes product-level fields.
func (c *HTTPClient) UpdateProduct(ctx context.Context, productID string, fields models.Values) (*Product, error) {
	id, err := numericID(productID)
	if err != nil {
		return nil, err
	}
	body := map[string]any{"product": updateBody(id, fields)}
	var env productEnvelope
	if err := c.doJSON(ctx, http.MethodPut, c.adminURL(fmt.Sprintf("/products/%d.json", id)), body, &env); err != nil {
		return nil, fmt.Errorf("update product %s: %w", productID, err)
	}
	if env.Product == nil {
		return nil, fmt.Errorf("update product %s: empty response", productID)
	}
	return env.Product.toProduct(), nil
}

// CreateProductImage attaches new media to a product.
func (c *HTTPClient) CreateProductImage(ctx context.Context, productID string, src *ImageSource) (*Image, error) {
	id, err := numericID(productID)
	if err != nil {
		return nil, err
	}

	img := map[string]any{}
	switch {
	case src.Src != "":
		img["src"] = src.Src
	case len(src.Attachment) > 0:
		img["attachment"] = base64.StdEncoding.EncodeToString(src.Attachment)
	default:
		return nil, fmt.Errorf("create image for product %s: no source", productID)
	}
	if src.Filename != "" {
		img["filename"] = src.Filename
	}
	if src.Alt != "" {
		img["alt"] = src.Alt
	}
	if len(src.VariantIDs) > 0 {
		ids := make([]int64, 0, len(src.VariantIDs))
		for _, v := range src.VariantIDs {
			n, err := numericID(v)
			if err != nil {
				return nil, err
			}
			ids = append(ids, n)
		}
		img["variant_ids"] = ids
	}

	var env imageEnvelope
	url := c.adminURL(fmt.Sprintf("/products/%d/images.json", id))
	if err := c.doJSON(ctx, http.MethodPost, url, map[string]any{"image": img}, &env); err != nil {
		return nil, fmt.Errorf("create image for product %s: %w", productID, err)
	}
	if env.Image == nil {
		return nil, fmt.Errorf("create image for product %s: empty response", productID)
	}
	return env.Image.toImage(), nil
}

// updateBody builds a partial resource update. Empty values are sent as
// JSON null so the store clears them.
func updateBody(id int64, fields models.Values) map[string]any {
	body := map[string]any{"id": id}
	for k, v := range fields {
		if v == "" {
			body[k] = nil
		} else {
			body[k] = v
		}
	}
	return body
}

// numericID accepts "123" or "gid://shopify/ProductVariant/123".
func numericID(id string) (int64, error) {
	raw := id
	if i := strings.LastIndex(raw, "/"); i >= 0 {
		raw = raw[i+1:]
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return n, nil
}

func formatID(n int64) string {
	if n == 0 {
		return ""
	}
	return strconv.FormatInt(n, 10)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *variantResource) toVariant() *Variant {
	return &Variant{
		ID:             formatID(r.ID),
		ProductID:      formatID(r.ProductID),
		Title:          r.Title,
		SKU:            r.SKU,
		Price:          r.Price,
		CompareAtPrice: deref(r.CompareAtPrice),
	}
}

func (r *imageResource) toImage() *Image {
	img := &Image{
		ID:        formatID(r.ID),
		ProductID: formatID(r.ProductID),
		Src:       r.Src,
		Alt:       deref(r.Alt),
		Position:  r.Position,
	}
	for _, v := range r.VariantIDs {
		img.VariantIDs = append(img.VariantIDs, formatID(v))
	}
	return img
}

func (r *productResource) toProduct() *Product {
	p := &Product{
		ID:          formatID(r.ID),
		Title:       r.Title,
		BodyHTML:    deref(r.BodyHTML),
		Vendor:      r.Vendor,
		ProductType: r.ProductType,
		Tags:        r.Tags,
		Status:      r.Status,
	}
	for _, v := range r.Variants {
		p.Variants = append(p.Variants, v.toVariant())
	}
	for _, img := range r.Images {
		p.Images = append(p.Images, img.toImage())
	}
	return p
}

// RemoteError represents a failed call to the store.
type RemoteError struct {
	Code    string
	Message string
	Status  int
	// RetryAfter is the server-requested wait before retrying, if any.
	RetryAfter time.Duration
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%d): %s: %s", e.Status, e.Code, e.Message)
}

func statusCode(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "unauthorized"
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusUnprocessableEntity:
		return "unprocessable"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status >= 500:
		return "server_error"
	}
	return "http_error"
}

func decodeError(resp *http.Response) error {
	re := &RemoteError{
		Code:    statusCode(resp.StatusCode),
		Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
		Status:  resp.StatusCode,
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.ParseFloat(ra, 64); err == nil && secs > 0 {
			re.RetryAfter = time.Duration(secs * float64(time.Second))
		}
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return re
	}
	if msg := flattenErrors(errResp.Errors); msg != "" {
		re.Message = msg
	}
	return re
}

// flattenErrors renders {"errors": "..."} and {"errors": {"price": ["..."]}}
// as one line, fields sorted.
func flattenErrors(v any) string {
	switch e := v.(type) {
	case string:
		return e
	case []any:
		parts := make([]string, 0, len(e))
		for _, p := range e {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, "; ")
	case map[string]any:
		keys := make([]string, 0, len(e))
		for k := range e {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+flattenErrors(e[k]))
		}
		return strings.Join(parts, "; ")
	}
	return ""
}
