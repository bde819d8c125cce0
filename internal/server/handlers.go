package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/invoicator-app/invoicator/constants"
	"github.com/invoicator-app/invoicator/internal/common"
	"github.com/invoicator-app/invoicator/internal/pipeline"
)

// maxUploadBytes caps multipart uploads; scanned invoices are small.
const maxUploadBytes = 50 << 20

type handlers struct {
	deps   Deps
	logger *slog.Logger
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// analyzeDocument accepts a multipart upload under the "document" field and
// returns the graded job with its routing suggestion.
func (h *handlers) analyzeDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, common.NewAppError("BAD_UPLOAD", "reading multipart body", common.ErrInvalidInput))
		return
	}
	file, header, err := r.FormFile("document")
	if err != nil {
		writeError(w, common.NewAppError("BAD_UPLOAD", `missing "document" file field`, common.ErrInvalidInput))
		return
	}
	defer file.Close()

	job, err := h.deps.Processor.Analyze(r.Context(), header.Filename, file)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := h.deps.Processor.Status(r.Context(), job.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

type processRequest struct {
	Pipeline  string `json:"pipeline,omitempty"`
	Confirmed bool   `json:"confirmed,omitempty"`
	Async     bool   `json:"async,omitempty"`
}

func (h *handlers) processJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	var req processRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, common.NewAppError("BAD_REQUEST", "decoding request body", common.ErrInvalidInput))
			return
		}
	}
	opts := pipeline.ProcessOptions{Confirmed: req.Confirmed}
	switch req.Pipeline {
	case "":
	case string(constants.PipelineLocal):
		opts.Pipeline = constants.PipelineLocal
	case string(constants.PipelineCloud):
		opts.Pipeline = constants.PipelineCloud
	default:
		writeError(w, common.NewAppError("BAD_REQUEST",
			fmt.Sprintf("unknown pipeline %q", req.Pipeline), common.ErrInvalidInput))
		return
	}

	if req.Async && h.deps.Queue != nil {
		if err := h.deps.Queue.Enqueue(jobID, opts); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "queued"})
		return
	}

	res, err := h.deps.Processor.Process(r.Context(), jobID, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	if res.RequiresConfirmation {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) jobStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.deps.Processor.Status(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handlers) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := h.deps.Store.DeleteJob(r.Context(), jobID); err != nil {
		writeError(w, err)
		return
	}
	if h.deps.Files != nil {
		h.deps.Files.DeleteJobFiles(jobID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listInvoices(w http.ResponseWriter, r *http.Request) {
	invs, err := h.deps.Store.ListInvoices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": invs, "count": len(invs)})
}

func (h *handlers) getInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.deps.Store.GetInvoice(r.Context(), chi.URLParam(r, "invoiceID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *handlers) exportInvoices(w http.ResponseWriter, r *http.Request) {
	data, err := h.deps.Export.ExportInvoicesXLSX(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="invoices_%s.xlsx"`, time.Now().UTC().Format("20060102")))
	_, _ = w.Write(data)
}

// cleanup sweeps expired jobs and orphaned scratch files. With ?force=true it
// deletes every job regardless of TTL.
func (h *handlers) cleanup(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("force") == "true" {
		res, err := h.deps.Sweeper.ForceCleanup(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	res, err := h.deps.Sweeper.SweepExpired(r.Context(), time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	orphans, err := h.deps.Sweeper.SweepOrphans(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	res.OrphanedJobs += orphans.OrphanedJobs
	res.Errors = append(res.Errors, orphans.Errors...)
	writeJSON(w, http.StatusOK, res)
}

type storeCredentialRequest struct {
	APIKey string `json:"api_key"`
}

func (h *handlers) storeCredential(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	var req storeCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.APIKey == "" {
		writeError(w, common.NewAppError("BAD_REQUEST", `"api_key" is required`, common.ErrInvalidInput))
		return
	}
	if err := h.deps.Vault.Store(r.Context(), provider, req.APIKey); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"provider": provider, "status": "stored"})
}

func (h *handlers) validateCredential(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	valid, err := h.deps.Vault.Validate(r.Context(), provider)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"provider": provider, "valid": valid})
}

func (h *handlers) deleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Vault.Delete(r.Context(), chi.URLParam(r, "provider")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) credentialStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.deps.Vault.StatusList(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": statuses, "key_version": h.deps.Vault.KeyVersion()})
}
