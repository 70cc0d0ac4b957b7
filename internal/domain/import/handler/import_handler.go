// Package handler exposes the ingestion pipeline over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/parser"
	importservice "github.com/FACorreiaa/ledger-ingest/internal/domain/import/service"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/sniffer"
)

// TenantHeader carries the tenant ID. Authentication happens upstream.
const TenantHeader = "X-Tenant-ID"

const (
	defaultMaxUpload = 20 << 20
	defaultLogLimit  = 50
)

// ImportHandler serves the import endpoints.
type ImportHandler struct {
	importSvc *importservice.ImportService
	maxUpload int64
	logger    *slog.Logger
}

// NewImportHandler creates a new import handler
func NewImportHandler(importSvc *importservice.ImportService, logger *slog.Logger) *ImportHandler {
	return &ImportHandler{
		importSvc: importSvc,
		maxUpload: defaultMaxUpload,
		logger:    logger,
	}
}

// WithMaxUpload caps the accepted upload size in bytes
func (h *ImportHandler) WithMaxUpload(n int64) *ImportHandler {
	if n > 0 {
		h.maxUpload = n
	}
	return h
}

// Register mounts the routes on mux.
func (h *ImportHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/imports", h.Upload)
	mux.HandleFunc("POST /v1/imports/preview", h.Preview)
	mux.HandleFunc("POST /v1/imports/{id}/confirm", h.Confirm)
	mux.HandleFunc("DELETE /v1/imports/{id}", h.Undo)
	mux.HandleFunc("GET /v1/imports/{id}/raw", h.Raw)
	mux.HandleFunc("GET /v1/imports", h.ListImports)
}

// Upload runs the full pipeline on a multipart "file" field.
func (h *ImportHandler) Upload(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	data, filename, err := h.readFile(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := uploadOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.importSvc.Upload(r.Context(), tenantID, data, filename, opts)
	if err != nil {
		h.logger.Info("upload rejected", "tenant", tenantID, "filename", filename, slog.Any("error", err))
		writeJSON(w, statusFor(err), newUploadResponse(res, err))
		return
	}
	writeJSON(w, http.StatusCreated, newUploadResponse(res, nil))
}

// Preview returns detection diagnostics and a sample without storing anything.
func (h *ImportHandler) Preview(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	data, filename, err := h.readFile(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := uploadOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.importSvc.Preview(r.Context(), tenantID, data, filename, opts)
	if err != nil {
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error(), Stage: string(importservice.StageOf(err))})
		return
	}

	sample := make([]transactionView, len(res.Sample))
	for i, tx := range res.Sample {
		sample[i] = newTransactionView(model.AllocatedTransaction{Transaction: tx})
	}
	writeJSON(w, http.StatusOK, previewResponse{
		Diagnostics: res.Diagnostics,
		Total:       res.Total,
		Sample:      sample,
		RowErrors:   rowErrors(res.RowErrors),
		Warnings:    res.Warnings,
		Balance:     res.Balance,
	})
}

type confirmRequest struct {
	Confirmations []struct {
		TransactionID string `json:"transactionId"`
		Category      string `json:"category"`
	} `json:"confirmations"`
	CreateJournals bool  `json:"createJournals"`
	ExtractTax     *bool `json:"extractTax"`
}

// Confirm applies user decisions to transactions of an import.
func (h *ImportHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	importID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid import id")
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, h.maxUpload)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	confirmations := make([]importservice.Confirmation, 0, len(req.Confirmations))
	for _, c := range req.Confirmations {
		id, err := uuid.Parse(c.TransactionID)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid transaction id %q", c.TransactionID))
			return
		}
		confirmations = append(confirmations, importservice.Confirmation{TransactionID: id, ConfirmedCategory: c.Category})
	}
	opts := importservice.ConfirmOptions{ImportID: importID, CreateJournals: req.CreateJournals, ExtractTax: true}
	if req.ExtractTax != nil {
		opts.ExtractTax = *req.ExtractTax
	}

	res, err := h.importSvc.Confirm(r.Context(), tenantID, confirmations, opts)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, confirmResponse{
		Confirmed: res.Confirmed,
		Correct:   res.Correct,
		Journals:  journalViews(res.Journals),
		Errors:    res.Errors,
		Warnings:  res.Warnings,
	})
}

// Undo reverses every transaction of an import.
func (h *ImportHandler) Undo(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	importID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid import id")
		return
	}
	n, err := h.importSvc.UndoImport(r.Context(), tenantID, importID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"importId": importID, "reversed": n})
}

// Raw streams the archived upload of an import.
func (h *ImportHandler) Raw(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	importID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid import id")
		return
	}
	rc, info, err := h.importSvc.RawUpload(r.Context(), tenantID, importID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	defer rc.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": info.Name}))
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("failed to stream archived upload", "importID", importID, slog.Any("error", err))
	}
}

// ListImports returns the tenant's import log.
func (h *ImportHandler) ListImports(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}
	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	logs, err := h.importSvc.ImportLogs(r.Context(), tenantID, limit)
	if err != nil {
		h.logger.Error("failed to list imports", "tenant", tenantID, slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list imports")
		return
	}
	views := make([]importLogView, len(logs))
	for i, l := range logs {
		views[i] = newImportLogView(l)
	}
	writeJSON(w, http.StatusOK, map[string]any{"imports": views})
}

func (h *ImportHandler) tenant(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := strings.TrimSpace(r.Header.Get(TenantHeader))
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "missing "+TenantHeader+" header")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+TenantHeader+" header")
		return uuid.Nil, false
	}
	return id, true
}

func (h *ImportHandler) readFile(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", fmt.Errorf("failed to read multipart field \"file\": %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read upload: %w", err)
	}
	return data, header.Filename, nil
}

func uploadOptions(r *http.Request) (importservice.Options, error) {
	opts := importservice.DefaultOptions()
	opts.Sheet = r.FormValue("sheet")

	if v := r.FormValue("threshold"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 100 {
			return opts, fmt.Errorf("invalid threshold %q", v)
		}
		opts.AutoConfirmThreshold = n
	}
	if v := r.FormValue("delimiter"); v != "" {
		runes := []rune(v)
		if len(runes) != 1 {
			return opts, fmt.Errorf("invalid delimiter %q", v)
		}
		opts.Delimiter = runes[0]
	}
	for name, dst := range map[string]*bool{
		"extractTax":      &opts.ExtractTax,
		"createJournals":  &opts.CreateJournals,
		"checkDuplicates": &opts.CheckDuplicates,
	} {
		v := r.FormValue(name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("invalid %s %q", name, v)
		}
		*dst = b
	}
	return opts, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, sniffer.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, sniffer.ErrEmptyFile),
		errors.Is(err, parser.ErrEmptyGrid),
		errors.Is(err, parser.ErrSheetNotFound),
		errors.Is(err, importservice.ErrNoTransactions):
		return http.StatusUnprocessableEntity
	case errors.Is(err, importservice.ErrNoConfirmations),
		errors.Is(err, importservice.ErrInvalidThreshold):
		return http.StatusBadRequest
	case errors.Is(err, importservice.ErrImportNotFound),
		errors.Is(err, importservice.ErrArchiveDisabled):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case importservice.StageOf(err) != "":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
