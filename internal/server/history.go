package server

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/storeops/bulkops/internal/core"
	"github.com/storeops/bulkops/internal/history"
	"github.com/storeops/bulkops/internal/models"
)

// --- History Handlers ---

// parseFilter reads a history filter from query parameters. Times are
// RFC 3339; a bare date (2006-01-02) is also accepted.
func parseFilter(q url.Values) (history.Filter, error) {
	f := history.Filter{
		Category:      models.Category(q.Get("category")),
		OperationType: models.OperationType(q.Get("operation_type")),
		Status:        models.Status(q.Get("status")),
		ProductID:     q.Get("product_id"),
		BatchID:       q.Get("batch_id"),
		Search:        q.Get("search"),
	}
	var err error
	if f.From, err = parseTime(q.Get("from")); err != nil {
		return f, fmt.Errorf("from: %w", err)
	}
	if f.To, err = parseTime(q.Get("to")); err != nil {
		return f, fmt.Errorf("to: %w", err)
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("limit: invalid value %q", v)
		}
		f.Limit = n
	}
	return f, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}

func handleListHistory(w http.ResponseWriter, r *http.Request, svc *core.Service, _ *Config) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	entries, err := svc.History().Query(f)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*models.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

func handleGetEntry(w http.ResponseWriter, r *http.Request, svc *core.Service, _ *Config) {
	e, err := svc.History().Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func handleHistoryStats(w http.ResponseWriter, _ *http.Request, svc *core.Service, _ *Config) {
	st, err := svc.History().Statistics()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func handleExportHistory(w http.ResponseWriter, _ *http.Request, svc *core.Service, _ *Config) {
	data, err := svc.History().Export()
	if err != nil {
		writeError(w, err)
		return
	}
	name := fmt.Sprintf("bulkops-history-%s.json", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func handleImportHistory(w http.ResponseWriter, r *http.Request, svc *core.Service, cfg *Config) {
	data, err := io.ReadAll(io.LimitReader(r.Body, cfg.MaxImportBody+1))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if int64(len(data)) > cfg.MaxImportBody {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error":   "too_large",
			"message": fmt.Sprintf("snapshot exceeds %d bytes", cfg.MaxImportBody),
		})
		return
	}
	n, err := svc.History().Import(data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}

func handleClearHistory(w http.ResponseWriter, _ *http.Request, svc *core.Service, _ *Config) {
	if err := svc.History().Clear(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Batch Handlers ---

func handleGetBatch(w http.ResponseWriter, r *http.Request, svc *core.Service, _ *Config) {
	hist := svc.History()
	agg, err := hist.Aggregate(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	children, err := hist.GetBulkOperationItems(agg.OperationData.BatchID)
	if err != nil {
		writeError(w, err)
		return
	}
	if children == nil {
		children = []*models.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"aggregate": agg,
		"items":     children,
	})
}
