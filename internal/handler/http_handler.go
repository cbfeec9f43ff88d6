package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pesio-ai/be-re-case-workflow/internal/authz"
	"github.com/pesio-ai/be-re-case-workflow/internal/checklist"
	"github.com/pesio-ai/be-re-case-workflow/internal/claimfinance"
	"github.com/pesio-ai/be-re-case-workflow/internal/errors"
	"github.com/pesio-ai/be-re-case-workflow/internal/logger"
	"github.com/pesio-ai/be-re-case-workflow/internal/repository"
	"github.com/pesio-ai/be-re-case-workflow/internal/service"
)

// multipartOverhead bounds part headers and boundaries on top of the file payload.
const multipartOverhead = 1 << 20

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	cases        *service.CaseService
	claims       *service.ClaimFinanceService
	log          *logger.Logger
	trustHeaders bool
	maxFileSize  int64
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(cases *service.CaseService, claims *service.ClaimFinanceService, log *logger.Logger, trustHeaders bool) *HTTPHandler {
	return &HTTPHandler{
		cases:        cases,
		claims:       claims,
		log:          log.WithField("handler", "http"),
		trustHeaders: trustHeaders,
		maxFileSize:  service.MaxFileSize,
	}
}

// Routes builds the router with middleware applied.
func (h *HTTPHandler) Routes(requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.log))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		if requestTimeout > 0 {
			r.Use(middleware.Timeout(requestTimeout))
		}

		r.Route("/cases", func(r chi.Router) {
			r.Get("/", h.ListCases)
			r.Post("/", h.CreateCase)
			r.Route("/{caseID}", func(r chi.Router) {
				r.Get("/", h.GetCase)
				r.Put("/", h.UpdateCase)
				r.Delete("/", h.DeleteCase)
				r.Post("/items/{itemID}/files", h.UploadFiles)
				r.Delete("/files/{fileID}", h.DeleteFile)
				r.Get("/files/{fileID}/download", h.DownloadFile)
				r.Post("/approve", h.ApproveOperations)
				r.Post("/revoke-approval", h.RevokeApproval)
				r.Post("/reject", h.RejectOperations)
			})
		})

		r.Route("/claim-documents", func(r chi.Router) {
			r.Post("/", h.CreateClaimDocument)
			r.Route("/{documentID}", func(r chi.Router) {
				r.Get("/", h.GetClaimDocument)
				r.Delete("/", h.DeleteClaimDocument)
				r.Get("/history", h.ClaimDocumentHistory)
				r.Post("/finance-status", h.ChangeFinanceStatus)
				r.Post("/proof-of-payment", h.AttachProofOfPayment)
				r.Get("/attachments/{attachmentID}/download", h.DownloadAttachment)
			})
		})

		r.Get("/finance-statuses", h.ListFinanceStatuses)
	})

	return r
}

// RequestLogger logs one line per request with its outcome.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				evt := log.Info()
				if status >= http.StatusInternalServerError {
					evt = log.Error()
				}
				evt.
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("HTTP request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// ── cases ────────────────────────────────────────────────────────────────────

type caseRequest struct {
	checklist.Attributes
	TemplateName    string `json:"templateName"`
	ExpectedVersion *int   `json:"expectedVersion,omitempty"`
}

type approvalRequest struct {
	Comment string `json:"comment"`
}

// ListCases handles GET /cases
func (h *HTTPHandler) ListCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))
	if pageSize < 1 || pageSize > repository.MaxLimit {
		pageSize = repository.DefaultLimit
	}

	cases, total, err := h.cases.ListCases(r.Context(), repository.CaseFilter{
		Status:         q.Get("status"),
		Cedant:         q.Get("cedant"),
		LineOfBusiness: q.Get("lineOfBusiness"),
		Limit:          pageSize,
		Offset:         (page - 1) * pageSize,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cases":    cases,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

// CreateCase handles POST /cases
func (h *HTTPHandler) CreateCase(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req caseRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.cases.CreateCase(r.Context(), &service.CreateCaseRequest{
		Attributes:   req.Attributes,
		TemplateName: req.TemplateName,
		Actor:        actor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// GetCase handles GET /cases/{caseID}
func (h *HTTPHandler) GetCase(w http.ResponseWriter, r *http.Request) {
	c, err := h.cases.GetCase(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// UpdateCase handles PUT /cases/{caseID}
func (h *HTTPHandler) UpdateCase(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req caseRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.cases.UpdateCase(r.Context(), &service.UpdateCaseRequest{
		ID:              chi.URLParam(r, "caseID"),
		Attributes:      req.Attributes,
		ExpectedVersion: req.ExpectedVersion,
		Actor:           actor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DeleteCase handles DELETE /cases/{caseID}
func (h *HTTPHandler) DeleteCase(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.cases.DeleteCase(r.Context(), chi.URLParam(r, "caseID"), actor); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadFiles handles multipart POST /cases/{caseID}/items/{itemID}/files.
// Every part named "files" is one upload.
func (h *HTTPHandler) UploadFiles(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	uploads, cleanup, err := h.readUploads(w, r, "files", service.MaxFilesPerUpload)
	defer cleanup()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	c, added, err := h.cases.UploadFiles(r.Context(), &service.UploadFilesRequest{
		CaseID: chi.URLParam(r, "caseID"),
		ItemID: chi.URLParam(r, "itemID"),
		Files:  uploads,
		Actor:  actor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"case":  c,
		"files": added,
	})
}

// DeleteFile handles DELETE /cases/{caseID}/files/{fileID}. An itemId query parameter is optional.
func (h *HTTPHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	c, err := h.cases.DeleteFile(r.Context(), &service.DeleteFileRequest{
		CaseID: chi.URLParam(r, "caseID"),
		ItemID: r.URL.Query().Get("itemId"),
		FileID: chi.URLParam(r, "fileID"),
		Actor:  actor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DownloadFile handles GET /cases/{caseID}/files/{fileID}/download
func (h *HTTPHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	file, rc, err := h.cases.DownloadFile(r.Context(), chi.URLParam(r, "caseID"), chi.URLParam(r, "fileID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer rc.Close()
	h.stream(w, r, rc, file.FileName, file.ContentType, file.FileSize)
}

// ApproveOperations handles POST /cases/{caseID}/approve
func (h *HTTPHandler) ApproveOperations(w http.ResponseWriter, r *http.Request) {
	h.approval(w, r, h.cases.ApproveOperations)
}

// RevokeApproval handles POST /cases/{caseID}/revoke-approval
func (h *HTTPHandler) RevokeApproval(w http.ResponseWriter, r *http.Request) {
	h.approval(w, r, h.cases.RevokeApproval)
}

// RejectOperations handles POST /cases/{caseID}/reject
func (h *HTTPHandler) RejectOperations(w http.ResponseWriter, r *http.Request) {
	h.approval(w, r, h.cases.RejectOperations)
}

func (h *HTTPHandler) approval(
	w http.ResponseWriter,
	r *http.Request,
	call func(ctx context.Context, req *service.ApprovalRequest) (*checklist.Case, error),
) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !stderrors.Is(err, io.EOF) {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}
	c, err := call(r.Context(), &service.ApprovalRequest{
		CaseID:  chi.URLParam(r, "caseID"),
		Comment: req.Comment,
		Actor:   actor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ── claim documents ──────────────────────────────────────────────────────────

type createClaimDocumentRequest struct {
	claimfinance.Attributes
	FinanceStatusID string `json:"financeStatusId"`
	Comment         string `json:"comment"`
}

type changeFinanceStatusRequest struct {
	FinanceStatusID string `json:"financeStatusId"`
	MainStatus      string `json:"mainStatus"`
	Comment         string `json:"comment"`
}

// CreateClaimDocument handles POST /claim-documents
func (h *HTTPHandler) CreateClaimDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req createClaimDocumentRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc, err := h.claims.CreateClaimDocument(r.Context(), &service.CreateClaimDocumentRequest{
		Attributes:      req.Attributes,
		FinanceStatusID: req.FinanceStatusID,
		Comment:         req.Comment,
		Actor:           actor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// GetClaimDocument handles GET /claim-documents/{documentID}
func (h *HTTPHandler) GetClaimDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.claims.GetClaimDocument(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DeleteClaimDocument handles DELETE /claim-documents/{documentID}
func (h *HTTPHandler) DeleteClaimDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.claims.DeleteClaimDocument(r.Context(), chi.URLParam(r, "documentID"), actor); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClaimDocumentHistory handles GET /claim-documents/{documentID}/history
func (h *HTTPHandler) ClaimDocumentHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := h.claims.History(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": hist})
}

// ChangeFinanceStatus handles POST /claim-documents/{documentID}/finance-status
func (h *HTTPHandler) ChangeFinanceStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req changeFinanceStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc, err := h.claims.ChangeFinanceStatus(r.Context(), &service.ChangeFinanceStatusRequest{
		DocumentID:      chi.URLParam(r, "documentID"),
		FinanceStatusID: req.FinanceStatusID,
		MainStatus:      req.MainStatus,
		Comment:         req.Comment,
		Actor:           actor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// AttachProofOfPayment handles multipart POST /claim-documents/{documentID}/proof-of-payment
// with a single part named "file".
func (h *HTTPHandler) AttachProofOfPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	uploads, cleanup, err := h.readUploads(w, r, "file", 1)
	defer cleanup()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(uploads) != 1 {
		h.writeError(w, r, errors.InvalidInput("file", "exactly one file is required"))
		return
	}

	doc, err := h.claims.AttachProofOfPayment(r.Context(), &service.AttachProofOfPaymentRequest{
		DocumentID: chi.URLParam(r, "documentID"),
		File:       uploads[0],
		Actor:      actor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DownloadAttachment handles GET /claim-documents/{documentID}/attachments/{attachmentID}/download
func (h *HTTPHandler) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	a, rc, err := h.claims.DownloadAttachment(r.Context(), chi.URLParam(r, "documentID"), chi.URLParam(r, "attachmentID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer rc.Close()
	h.stream(w, r, rc, a.FileName, a.ContentType, a.FileSize)
}

// ListFinanceStatuses handles GET /finance-statuses
func (h *HTTPHandler) ListFinanceStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.claims.ListFinanceStatuses(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"financeStatuses": statuses})
}

// ── helpers ──────────────────────────────────────────────────────────────────

type errorBody struct {
	Code    errors.Code `json:"code"`
	Message string      `json:"message"`
	Field   string      `json:"field,omitempty"`
}

func (h *HTTPHandler) actor(w http.ResponseWriter, r *http.Request) (authz.Actor, bool) {
	a, err := authz.FromHTTPRequest(r, h.trustHeaders)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]errorBody{
			"error": {Code: errors.ErrCodeUnauthorized, Message: "authentication required"},
		})
		return authz.Actor{}, false
	}
	return a, true
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return false
	}
	return true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	body := errorBody{Code: errors.CodeOf(err), Message: err.Error()}

	var e *errors.Error
	if errors.As(err, &e) {
		body.Message = e.Message
		body.Field = e.Field
	}
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg("Request failed")
		body.Message = "internal error"
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

func (h *HTTPHandler) stream(w http.ResponseWriter, r *http.Request, rc io.Reader, name, contentType string, size int64) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.log.Warn().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg("Download interrupted")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// readUploads streams the file parts named field into temp files. The body is capped at
// maxFiles payloads, and reading stops at the first part larger than the per-file limit.
func (h *HTTPHandler) readUploads(w http.ResponseWriter, r *http.Request, field string, maxFiles int) ([]service.UploadFile, func(), error) {
	var temps []*os.File
	cleanup := func() {
		for _, f := range temps {
			f.Close()
			os.Remove(f.Name())
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(maxFiles)*h.maxFileSize+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, cleanup, errors.InvalidInput(field, "request must be multipart/form-data")
	}

	var uploads []service.UploadFile
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, cleanup, bodyError(field, err)
		}
		if part.FormName() != field || part.FileName() == "" {
			continue
		}
		name := part.FileName()
		if len(uploads) == maxFiles {
			return nil, cleanup, errors.InvalidInput(field, fmt.Sprintf("at most %d files per request", maxFiles))
		}

		tmp, err := os.CreateTemp("", "upload-*")
		if err != nil {
			return nil, cleanup, errors.Wrap(err, errors.ErrCodeInternal, "failed to buffer upload")
		}
		temps = append(temps, tmp)
		n, err := io.Copy(tmp, io.LimitReader(part, h.maxFileSize+1))
		if err != nil {
			return nil, cleanup, bodyError(field, err)
		}
		if n > h.maxFileSize {
			return nil, cleanup, errors.InvalidInput(field, fmt.Sprintf("file '%s' exceeds the %d MiB limit", name, h.maxFileSize>>20))
		}
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return nil, cleanup, errors.Wrap(err, errors.ErrCodeInternal, "failed to buffer upload")
		}
		uploads = append(uploads, service.UploadFile{
			FileName:    name,
			ContentType: part.Header.Get("Content-Type"),
			Size:        n,
			Content:     tmp,
		})
	}
	return uploads, cleanup, nil
}

func bodyError(field string, err error) error {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return errors.InvalidInput(field, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	}
	return errors.InvalidInput(field, "malformed multipart body")
}
