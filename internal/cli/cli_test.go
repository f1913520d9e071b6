package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/storeops/bulkops/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadItems_FromIDs(t *testing.T) {
	items, err := loadItems([]string{"4011", " 4012 ", ""}, "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "4011", items[0].ID)
	assert.Equal(t, "4012", items[1].ID)
}

func TestLoadItems_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"item_id": "4011", "sku": "TEE-M", "title": "Tee", "current_values": {"price": "10.00"}}
	]`), 0644))

	items, err := loadItems(nil, path)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Tee (TEE-M)", items[0].Label())
	assert.Equal(t, "10.00", items[0].Current[models.FieldPrice])
}

func TestLoadItems_Errors(t *testing.T) {
	_, err := loadItems(nil, "")
	require.Error(t, err)

	_, err = loadItems([]string{"1"}, "items.json")
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "items.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": "4011"}]`), 0644))
	_, err = loadItems(nil, path)
	require.Error(t, err, "unknown fields are rejected")
}

func TestParseFields(t *testing.T) {
	fields, err := parseFields([]string{"title=Classic Tee", "tags=a, b", "body_html="})
	require.NoError(t, err)
	assert.Equal(t, models.Values{"title": "Classic Tee", "tags": "a, b", "body_html": ""}, fields)

	_, err = parseFields([]string{"title"})
	require.Error(t, err)
	_, err = parseFields([]string{"=x"})
	require.Error(t, err)
}

func TestParseTime(t *testing.T) {
	ts, err := parseTime("2026-12-01T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 12, 1, 10, 0, 0, 0, time.UTC), ts)

	ts, err = parseTime("2026-12-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC), ts)

	_, err = parseTime("tomorrow")
	require.Error(t, err)
}

func TestVisibleEntries(t *testing.T) {
	agg := &models.HistoryEntry{ID: "a", BulkSummary: &models.BulkSummary{}}
	child := func(id string) *models.HistoryEntry {
		return &models.HistoryEntry{ID: id, OperationData: models.OperationData{ParentBatchID: "a"}}
	}
	single := &models.HistoryEntry{ID: "s"}
	entries := []*models.HistoryEntry{single, agg, child("c1"), child("c2")}

	got := visibleEntries(entries, false, 0)
	assert.Equal(t, []*models.HistoryEntry{single, agg}, got)

	got = visibleEntries(entries, true, 3)
	require.Len(t, got, 3)
	assert.Equal(t, "c1", got[2].ID)
}

func TestLoadUploads(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "img"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "img", "red.jpg"), []byte("jpeg"), 0644))

	path := filepath.Join(dir, "uploads.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{
			"sku": "TEE-RED",
			"product_id": "7001",
			"variant_ids": ["4011"],
			"sources": [
				{"src": "https://cdn.example.com/red.jpg", "alt": "Red"},
				{"file": "img/red.jpg"}
			]
		}
	]`), 0644))

	uploads, err := loadUploads(path)
	require.NoError(t, err)
	require.Len(t, uploads, 1)

	u := uploads[0]
	assert.Equal(t, "TEE-RED", u.SKU)
	assert.Equal(t, []string{"4011"}, u.VariantIDs)
	require.Len(t, u.Sources, 2)
	assert.Equal(t, "https://cdn.example.com/red.jpg", u.Sources[0].Src)
	assert.Equal(t, "Red", u.Sources[0].Alt)
	assert.Equal(t, []byte("jpeg"), u.Sources[1].Attachment)
	assert.Equal(t, "red.jpg", u.Sources[1].Filename)
}

func TestLoadUploads_BothSrcAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploads.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"sku": "A", "product_id": "1", "sources": [{"src": "https://x/a.jpg", "file": "a.jpg"}]}
	]`), 0644))

	_, err := loadUploads(path)
	require.Error(t, err)
}

func TestSplitURLs(t *testing.T) {
	assert.Equal(t, []string{"https://a", "https://b"}, splitURLs(" https://a, ,https://b "))
	assert.Nil(t, splitURLs(""))
}

func TestConfirm(t *testing.T) {
	assert.True(t, confirm(strings.NewReader("y\n"), ""))
	assert.True(t, confirm(strings.NewReader("Yes\n"), ""))
	assert.False(t, confirm(strings.NewReader("\n"), ""))
	assert.False(t, confirm(strings.NewReader(""), ""))
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"init"},
		{"price", "apply"},
		{"discount", "apply"},
		{"discount", "expire"},
		{"images", "upload"},
		{"product", "update"},
		{"retry"},
		{"rollback"},
		{"history", "show"},
		{"history", "stats"},
		{"history", "export"},
		{"history", "import"},
		{"history", "clear"},
		{"serve"},
		{"completion"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, strings.Join(path, " "))
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}
