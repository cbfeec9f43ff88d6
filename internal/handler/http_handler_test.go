package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pesio-ai/be-re-case-workflow/internal/approval"
	"github.com/pesio-ai/be-re-case-workflow/internal/authz"
	"github.com/pesio-ai/be-re-case-workflow/internal/blob"
	"github.com/pesio-ai/be-re-case-workflow/internal/checklist"
	"github.com/pesio-ai/be-re-case-workflow/internal/claimfinance"
	"github.com/pesio-ai/be-re-case-workflow/internal/errors"
	"github.com/pesio-ai/be-re-case-workflow/internal/logger"
	"github.com/pesio-ai/be-re-case-workflow/internal/repository"
	"github.com/pesio-ai/be-re-case-workflow/internal/service"
)

type testServer struct {
	handler *HTTPHandler
	cases   *service.CaseService
	claims  *service.ClaimFinanceService
	router  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.Nop()
	blobs := blob.NewMemoryStore()
	cases := service.NewCaseService(repository.NewMemoryCaseRepository(), blobs, checklist.DefaultTemplates(), approval.NewGate(), nil, log)
	claims := service.NewClaimFinanceService(
		repository.NewMemoryClaimDocumentRepository(),
		repository.NewMemoryFinanceStatusRepository(),
		blobs, nil, log,
	)
	h := NewHTTPHandler(cases, claims, log, true)
	return &testServer{
		handler: h,
		cases:   cases,
		claims:  claims,
		router:  h.Routes(0),
	}
}

func (s *testServer) do(t *testing.T, method, path string, actor *authz.Actor, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if actor != nil {
		req.Header.Set(authz.HeaderUserID, actor.ID)
		req.Header.Set(authz.HeaderUserRoles, strings.Join(actor.Roles, ","))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) doJSON(t *testing.T, method, path string, actor *authz.Actor, v any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewReader(data)
	}
	return s.do(t, method, path, actor, body, "application/json")
}

func multipartBody(t *testing.T, field string, files map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatal(err)
		}
		part.Write([]byte(content))
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

var (
	uw      = &authz.Actor{ID: "uw-1", Roles: []string{authz.RoleUnderwriter}}
	senior  = &authz.Actor{ID: "senior-1", Roles: []string{authz.RoleSeniorUnderwriter}}
	finance = &authz.Actor{ID: "fin-1", Roles: []string{authz.RoleFinance}}
)

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", nil, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMutationsRequireActor(t *testing.T) {
	s := newTestServer(t)
	rec := s.doJSON(t, http.MethodPost, "/api/v1/cases", nil, map[string]string{"caseName": "x", "cedant": "y"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if env := decodeBody[errorEnvelope](t, rec); env.Error.Code != "UNAUTHORIZED" {
		t.Errorf("unexpected error body %+v", env)
	}
}

func TestCaseWorkflowOverHTTP(t *testing.T) {
	s := newTestServer(t)

	rec := s.doJSON(t, http.MethodPost, "/api/v1/cases", uw, map[string]string{
		"caseName": "Marine 2026", "cedant": "Acme Re", "lineOfBusiness": "marine",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	c := decodeBody[checklist.Case](t, rec)
	if c.TemplateName != "marine" || c.Status != checklist.CaseStatusPending {
		t.Fatalf("unexpected case %+v", c)
	}

	var finItem string
	for _, it := range c.Items {
		if it.Section == checklist.SectionFinance {
			finItem = it.ID
			continue
		}
		if !it.IsRequired {
			continue
		}
		body, ct := multipartBody(t, "files", map[string]string{"doc.pdf": "pdf bytes"})
		rec = s.do(t, http.MethodPost, "/api/v1/cases/"+c.ID+"/items/"+it.ID+"/files", uw, body, ct)
		if rec.Code != http.StatusCreated {
			t.Fatalf("upload operations file: %d %s", rec.Code, rec.Body.String())
		}
	}

	body, ct := multipartBody(t, "files", map[string]string{"debit.pdf": "x"})
	rec = s.do(t, http.MethodPost, "/api/v1/cases/"+c.ID+"/items/"+finItem+"/files", finance, body, ct)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("finance upload before approval: %d %s", rec.Code, rec.Body.String())
	}
	if env := decodeBody[errorEnvelope](t, rec); env.Error.Code != "UNAUTHORIZED" {
		t.Errorf("unexpected error body %+v", env)
	}

	rec = s.doJSON(t, http.MethodPost, "/api/v1/cases/"+c.ID+"/approve", uw, map[string]string{})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("approve by underwriter: %d", rec.Code)
	}
	rec = s.do(t, http.MethodPost, "/api/v1/cases/"+c.ID+"/approve", senior, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", rec.Code, rec.Body.String())
	}

	body, ct = multipartBody(t, "files", map[string]string{"debit.pdf": "debit"})
	rec = s.do(t, http.MethodPost, "/api/v1/cases/"+c.ID+"/items/"+finItem+"/files", finance, body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("finance upload after approval: %d %s", rec.Code, rec.Body.String())
	}
	uploaded := decodeBody[struct {
		Case  checklist.Case            `json:"case"`
		Files []checklist.ChecklistFile `json:"files"`
	}](t, rec)
	if uploaded.Case.Status != checklist.CaseStatusReady || len(uploaded.Files) != 1 {
		t.Fatalf("unexpected upload response %+v", uploaded)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/cases/"+c.ID+"/files/"+uploaded.Files[0].ID+"/download", nil, nil, "")
	if rec.Code != http.StatusOK || rec.Body.String() != "debit" {
		t.Fatalf("download: %d %q", rec.Code, rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "debit.pdf") {
		t.Errorf("unexpected content disposition %q", cd)
	}

	rec = s.do(t, http.MethodDelete, "/api/v1/cases/"+c.ID+"/files/"+uploaded.Files[0].ID, uw, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete finance file after approval: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/v1/cases?status=pending", nil, nil, "")
	list := decodeBody[struct {
		Total int64 `json:"total"`
	}](t, rec)
	if rec.Code != http.StatusOK || list.Total != 1 {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/cases/missing", nil, nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown case: %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/cases", uw, strings.NewReader("{"), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body: %d", rec.Code)
	}

	rec = s.doJSON(t, http.MethodPost, "/api/v1/cases", uw, map[string]string{"cedant": "Acme"})
	env := decodeBody[errorEnvelope](t, rec)
	if rec.Code != http.StatusBadRequest || env.Error.Code != "VALIDATION_ERROR" || env.Error.Field != "caseName" {
		t.Errorf("missing case name: %d %+v", rec.Code, env)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/cases/any/items/any/files", uw, strings.NewReader("{}"), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-multipart upload: %d", rec.Code)
	}
}

func TestClaimDocumentOverHTTP(t *testing.T) {
	s := newTestServer(t)

	rec := s.doJSON(t, http.MethodPost, "/api/v1/claim-documents", finance, map[string]any{
		"claimNumber": "CLM-9", "contractNumber": "TTY-9", "underwritingYear": 2025,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	doc := decodeBody[claimfinance.ClaimDocument](t, rec)
	base := "/api/v1/claim-documents/" + doc.ID

	rec = s.doJSON(t, http.MethodPost, base+"/finance-status", finance, map[string]string{
		"financeStatusId": "fs-allocated", "mainStatus": "COMPLETED",
	})
	if env := decodeBody[errorEnvelope](t, rec); rec.Code != http.StatusConflict || env.Error.Code != "ILLEGAL_TRANSITION" {
		t.Fatalf("skip: %d %+v", rec.Code, env)
	}

	rec = s.doJSON(t, http.MethodPost, base+"/finance-status", finance, map[string]string{"financeStatusId": "fs-other"})
	if env := decodeBody[errorEnvelope](t, rec); rec.Code != http.StatusBadRequest || env.Error.Field != "comment" {
		t.Fatalf("other without comment: %d %+v", rec.Code, env)
	}

	rec = s.doJSON(t, http.MethodPost, base+"/finance-status", finance, map[string]string{"financeStatusId": "fs-unknown"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown finance status: %d", rec.Code)
	}

	rec = s.doJSON(t, http.MethodPost, base+"/finance-status", finance, map[string]string{
		"financeStatusId": "fs-payment-initiated", "mainStatus": "PROCESSING_PAYMENT",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("advance: %d %s", rec.Code, rec.Body.String())
	}

	body, ct := multipartBody(t, "file", map[string]string{"swift.pdf": "MT103"})
	rec = s.do(t, http.MethodPost, base+"/proof-of-payment", finance, body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("proof of payment: %d %s", rec.Code, rec.Body.String())
	}
	doc = decodeBody[claimfinance.ClaimDocument](t, rec)
	if doc.MainStatus != claimfinance.MainStatusPendingAllocation || len(doc.Attachments) != 1 {
		t.Fatalf("unexpected document %+v", doc)
	}

	rec = s.do(t, http.MethodGet, base+"/attachments/"+doc.Attachments[0].ID+"/download", nil, nil, "")
	if rec.Code != http.StatusOK || rec.Body.String() != "MT103" {
		t.Fatalf("attachment download: %d %q", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, base+"/history", nil, nil, "")
	hist := decodeBody[struct {
		History []claimfinance.StatusTransition `json:"history"`
	}](t, rec)
	if len(hist.History) != 3 {
		t.Fatalf("history has %d entries, want 3", len(hist.History))
	}

	rec = s.do(t, http.MethodGet, "/api/v1/finance-statuses", nil, nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), claimfinance.EvidenceAttachedStatusName) {
		t.Fatalf("finance statuses: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodDelete, base, finance, nil, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, base, nil, nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", rec.Code)
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func TestUploadStopsReadingOversizedPart(t *testing.T) {
	s := newTestServer(t)
	s.handler.maxFileSize = 1 << 20

	c, err := s.cases.CreateCase(context.Background(), &service.CreateCaseRequest{
		Attributes:   checklist.Attributes{CaseName: "Cargo", Cedant: "Acme"},
		TemplateName: "marine",
		Actor:        *uw,
	})
	if err != nil {
		t.Fatal(err)
	}
	var itemID string
	for _, it := range c.Items {
		if it.Section == checklist.SectionOperations {
			itemID = it.ID
			break
		}
	}

	const total = 16 << 20
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	contentType := mw.FormDataContentType()
	go func() {
		part, err := mw.CreateFormFile("files", "huge.bin")
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		chunk := make([]byte, 32<<10)
		for i := 0; i < total/len(chunk); i++ {
			if _, err := part.Write(chunk); err != nil {
				return
			}
		}
		pw.CloseWithError(mw.Close())
	}()

	body := &countingReader{r: pr}
	rec := s.do(t, http.MethodPost, "/api/v1/cases/"+c.ID+"/items/"+itemID+"/files", uw, body, contentType)
	pr.Close()

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
	if env := decodeBody[errorEnvelope](t, rec); env.Error.Code != "VALIDATION_ERROR" || env.Error.Field != "files" {
		t.Errorf("unexpected error body %+v", env)
	}
	if body.n >= 4<<20 {
		t.Errorf("read %d bytes of a %d byte body", body.n, total)
	}

	got, err := s.cases.GetCase(context.Background(), c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if files := got.Item(itemID).Files; len(files) != 0 {
		t.Errorf("item has %d files after rejected upload", len(files))
	}
}

func TestProofOfPaymentRejectsSecondFile(t *testing.T) {
	s := newTestServer(t)
	doc, err := s.claims.CreateClaimDocument(context.Background(), &service.CreateClaimDocumentRequest{
		Attributes: claimfinance.Attributes{ClaimNumber: "CLM-9", ContractNumber: "TTY-9", UnderwritingYear: 2025},
		Actor:      *finance,
	})
	if err != nil {
		t.Fatal(err)
	}
	body, ct := multipartBody(t, "file", map[string]string{"a.pdf": "a", "b.pdf": "b"})
	rec := s.do(t, http.MethodPost, "/api/v1/claim-documents/"+doc.ID+"/proof-of-payment", finance, body, ct)
	if env := decodeBody[errorEnvelope](t, rec); rec.Code != http.StatusBadRequest || env.Error.Field != "file" {
		t.Fatalf("two proof files: %d %+v", rec.Code, env)
	}
}

func TestBodyErrorMapsSizeLimit(t *testing.T) {
	err := bodyError("files", &http.MaxBytesError{Limit: 2048})
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Fatalf("code = %s", errors.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "2048") {
		t.Errorf("message %q does not name the limit", err.Error())
	}
}

func TestRequestLogTagsHandler(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Config{Level: "info", Output: &buf})
	s := newTestServer(t)
	router := NewHTTPHandler(s.cases, s.claims, log, true).Routes(0)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if line["handler"] != "http" || line["path"] != "/health" {
		t.Errorf("unexpected request log %v", line)
	}
}
