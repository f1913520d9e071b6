package server

import (
	"net/http"
	"time"

	"github.com/storeops/bulkops/internal/core"
	"github.com/storeops/bulkops/internal/models"
)

// --- Operation Handlers ---

func handleRetryBatch(w http.ResponseWriter, r *http.Request, svc *core.Service, _ *Config) {
	out, err := svc.Retry(r.Context(), r.PathValue("id"), nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func handleRollback(w http.ResponseWriter, r *http.Request, svc *core.Service, _ *Config) {
	res, err := svc.Rollback(r.Context(), r.PathValue("id"), nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func handleApplyRule(w http.ResponseWriter, r *http.Request, svc *core.Service, cfg *Config) {
	var req core.ApplyRuleRequest
	if err := readJSON(r, cfg.MaxRequestBody, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	out, err := svc.ApplyRule(r.Context(), req, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func handlePreviewRule(w http.ResponseWriter, r *http.Request, svc *core.Service, cfg *Config) {
	var req core.ApplyRuleRequest
	if err := readJSON(r, cfg.MaxRequestBody, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	rows, err := svc.PreviewRule(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": rows})
}

func handleApplyDiscount(w http.ResponseWriter, r *http.Request, svc *core.Service, cfg *Config) {
	var req core.DiscountRequest
	if err := readJSON(r, cfg.MaxRequestBody, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	out, err := svc.ApplyDiscount(r.Context(), req, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func handleExpireDiscounts(w http.ResponseWriter, r *http.Request, svc *core.Service, _ *Config) {
	res, err := svc.ExpireDiscounts(r.Context(), time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type uploadImagesRequest struct {
	Uploads []*core.ImageUpload `json:"uploads"`
}

func handleUploadImages(w http.ResponseWriter, r *http.Request, svc *core.Service, cfg *Config) {
	var req uploadImagesRequest
	if err := readJSON(r, cfg.MaxRequestBody, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	out, err := svc.UploadImages(r.Context(), req.Uploads, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type updateProductRequest struct {
	Fields models.Values `json:"fields"`
}

func handleUpdateProduct(w http.ResponseWriter, r *http.Request, svc *core.Service, cfg *Config) {
	var req updateProductRequest
	if err := readJSON(r, cfg.MaxRequestBody, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	out, err := svc.UpdateProduct(r.Context(), r.PathValue("id"), req.Fields)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
