package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/storeops/bulkops/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL, "2024-10", "shpat_test")
}

func TestGetVariant(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/admin/api/2024-10/variants/42.json", r.URL.Path)
		assert.Equal(t, "shpat_test", r.Header.Get("X-Shopify-Access-Token"))
		w.Write([]byte(`{"variant":{"id":42,"product_id":7,"title":"Large","sku":"TEE-L","price":"19.99","compare_at_price":null}}`))
	})

	v, err := c.GetVariant(context.Background(), "gid://shopify/ProductVariant/42")
	require.NoError(t, err)
	assert.Equal(t, &Variant{ID: "42", ProductID: "7", Title: "Large", SKU: "TEE-L", Price: "19.99"}, v)
	assert.Equal(t, models.Values{"price": "19.99", "compare_at_price": ""}, v.Values())
}

func TestUpdateVariant_SendsNullForEmpty(t *testing.T) {
	var body map[string]map[string]any
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"variant":{"id":42,"product_id":7,"price":"15.00","compare_at_price":null}}`))
	})

	v, err := c.UpdateVariant(context.Background(), "42", models.Values{
		models.FieldPrice:          "15.00",
		models.FieldCompareAtPrice: "",
	})
	require.NoError(t, err)
	assert.Equal(t, "15.00", v.Price)

	variant := body["variant"]
	assert.Equal(t, float64(42), variant["id"])
	assert.Equal(t, "15.00", variant["price"])
	val, present := variant["compare_at_price"]
	assert.True(t, present)
	assert.Nil(t, val)
}

func TestUpdateProduct(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/api/2024-10/products/7.json", r.URL.Path)
		w.Write([]byte(`{"product":{"id":7,"title":"New","body_html":null,"variants":[{"id":1,"product_id":7,"price":"1.00"}]}}`))
	})

	p, err := c.UpdateProduct(context.Background(), "7", models.Values{"title": "New"})
	require.NoError(t, err)
	assert.Equal(t, "New", p.Title)
	require.Len(t, p.Variants, 1)
	assert.Equal(t, "1", p.Variants[0].ID)
	assert.Equal(t, models.Values{"title": "New", "vendor": ""}, p.Fields("title", "vendor", "bogus"))
}

func TestCreateProductImage_Attachment(t *testing.T) {
	var body map[string]map[string]any
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/admin/api/2024-10/products/7/images.json", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"image":{"id":99,"product_id":7,"src":"https://cdn/x.jpg","position":2,"variant_ids":[1,2]}}`))
	})

	img, err := c.CreateProductImage(context.Background(), "7", &ImageSource{
		Attachment: []byte("jpegdata"),
		Filename:   "x.jpg",
		VariantIDs: []string{"1", "2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "99", img.ID)
	assert.Equal(t, []string{"1", "2"}, img.VariantIDs)

	sent := body["image"]
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("jpegdata")), sent["attachment"])
	assert.Equal(t, "x.jpg", sent["filename"])
	assert.Equal(t, []any{float64(1), float64(2)}, sent["variant_ids"])
}

func TestCreateProductImage_NoSource(t *testing.T) {
	c := NewHTTPClient("http://unused", "", "")
	_, err := c.CreateProductImage(context.Background(), "7", &ImageSource{})
	assert.Error(t, err)
}

func TestDecodeError_FieldErrors(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":{"price":["must be greater than 0"],"base":["invalid"]}}`))
	})

	_, err := c.UpdateVariant(context.Background(), "1", models.Values{"price": "-1"})
	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 422, re.Status)
	assert.Equal(t, "unprocessable", re.Code)
	assert.Equal(t, "base: invalid; price: must be greater than 0", re.Message)
	assert.False(t, isTransient(err))
}

func TestDecodeError_RetryAfter(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2.0")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"errors":"Exceeded 2 calls per second for api client."}`))
	})

	_, err := c.GetVariant(context.Background(), "1")
	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "rate_limited", re.Code)
	assert.Equal(t, 2*time.Second, re.RetryAfter)
	assert.Equal(t, "Exceeded 2 calls per second for api client.", re.Message)
	assert.True(t, isTransient(err))
}

func TestDecodeError_NonJSONBody(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>bad gateway</html>"))
	})

	_, err := c.GetProduct(context.Background(), "1")
	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "server_error", re.Code)
	assert.Equal(t, "HTTP 502", re.Message)
}

func TestNumericID(t *testing.T) {
	n, err := numericID("123")
	require.NoError(t, err)
	assert.Equal(t, int64(123), n)

	n, err = numericID("gid://shopify/Product/456")
	require.NoError(t, err)
	assert.Equal(t, int64(456), n)

	for _, bad := range []string{"", "abc", "-5", "gid://shopify/Product/"} {
		_, err := numericID(bad)
		assert.ErrorIs(t, err, ErrInvalidID, bad)
	}
}

func TestShopURL(t *testing.T) {
	assert.Equal(t, "https://demo.myshopify.com", ShopURL("demo.myshopify.com"))
	assert.Equal(t, "http://localhost:9000", ShopURL("http://localhost:9000"))
}

func TestMockClient_FailInjection(t *testing.T) {
	m := NewMockClient()
	m.AddVariant(&Variant{ID: "1", Price: "5.00"})
	m.SetFail("1", errors.New("boom"))

	_, err := m.UpdateVariant(context.Background(), "1", models.Values{"price": "6.00"})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, "5.00", m.Variant("1").Price)

	m.SetFail("1", nil)
	v, err := m.UpdateVariant(context.Background(), "1", models.Values{"price": "6.00"})
	require.NoError(t, err)
	assert.Equal(t, "6.00", v.Price)
}
