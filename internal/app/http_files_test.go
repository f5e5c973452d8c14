package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"buildtrack/api/internal/analysis"
	"buildtrack/api/internal/store"
)

func uploadRequest(t *testing.T, path, token, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func decodeRecorder(t *testing.T, rr *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response: %v body=%s", err, rr.Body.String())
	}
}

func serve(server *HTTPServer, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func TestStorageUploadAndDownload(t *testing.T) {
	fs := newFakeStore()
	fx := seedCompany(fs, "acme")
	other := seedCompany(fs, "globex")
	objects := newFakeObjects()
	svc := newTestService(fs, Deps{Objects: objects})
	server := NewHTTPServer(svc, "*", nil)
	member := tokenFor(t, svc, fx.member)

	rr := serve(server, uploadRequest(t, "/api/storage/documents?projectId="+fx.projectID, member, "site plan.pdf", "plan-bytes", nil))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var created struct {
		Bucket string `json:"bucket"`
		Key    string `json:"key"`
		Size   int64  `json:"size"`
		URL    string `json:"url"`
	}
	decodeRecorder(t, rr, &created)
	if !strings.HasPrefix(created.Key, fx.projectID+"/") || !strings.HasSuffix(created.Key, "-site-plan.pdf") {
		t.Fatalf("expected key under project prefix, got %s", created.Key)
	}
	if created.Size != int64(len("plan-bytes")) || !strings.HasPrefix(created.URL, "http://files.test/documents/") {
		t.Fatalf("unexpected object %+v", created)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/storage/documents/"+created.Key, nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, svc, fx.viewer))
	rr = serve(server, req)
	if rr.Code != http.StatusOK || rr.Body.String() != "plan-bytes" {
		t.Fatalf("expected object bytes, got %d body=%s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/storage/documents/"+created.Key, nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, svc, other.admin))
	rr = serve(server, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected other company 404, got %d", rr.Code)
	}

	rr = serve(server, uploadRequest(t, "/api/storage/contracts", member, "sub.pdf", "x", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected member contracts upload 403, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = serve(server, uploadRequest(t, "/api/storage/contracts", tokenFor(t, svc, fx.manager), "sub.pdf", "x", nil))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected manager contracts upload 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	decodeRecorder(t, rr, &created)
	if !strings.HasPrefix(created.Key, fx.companyID+"/") {
		t.Fatalf("expected company prefix without projectId, got %s", created.Key)
	}

	rr = serve(server, uploadRequest(t, "/api/storage/photos", member, "a.jpg", "x", nil))
	if rr.Code != http.StatusNotFound || !strings.Contains(rr.Body.String(), "UNKNOWN_BUCKET") {
		t.Fatalf("expected unknown bucket 404, got %d body=%s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/storage/documents", strings.NewReader("not multipart"))
	req.Header.Set("Authorization", "Bearer "+member)
	req.Header.Set("Content-Type", "text/plain")
	rr = serve(server, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected non-multipart 400, got %d", rr.Code)
	}
}

func TestStorageUnavailable(t *testing.T) {
	fs := newFakeStore()
	fx := seedCompany(fs, "acme")
	svc := newTestService(fs, Deps{})
	server := NewHTTPServer(svc, "*", nil)

	rr := serve(server, uploadRequest(t, "/api/storage/documents", tokenFor(t, svc, fx.member), "a.txt", "x", nil))
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), "STORAGE_UNAVAILABLE") {
		t.Fatalf("expected 503 STORAGE_UNAVAILABLE, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestProjectDocuments(t *testing.T) {
	fs := newFakeStore()
	fx := seedCompany(fs, "acme")
	objects := newFakeObjects()
	events := &recordedEvents{}
	svc := newTestService(fs, Deps{Objects: objects, Events: events})
	server := NewHTTPServer(svc, "*", nil)
	member := tokenFor(t, svc, fx.member)
	path := "/api/projects/" + fx.projectID + "/documents"

	rr := serve(server, uploadRequest(t, path, tokenFor(t, svc, fx.viewer), "boq.pdf", "x", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected viewer 403, got %d", rr.Code)
	}

	rr = serve(server, uploadRequest(t, path, member, "boq.pdf", "%PDF-1.4", map[string]string{"name": "Bill of quantities", "category": "BOQ"}))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var doc store.ProjectDocument
	decodeRecorder(t, rr, &doc)
	if doc.ProcessingStatus != store.ProcessingPending || doc.Category != "boq" || doc.Name != "Bill of quantities" || doc.CompanyID != fx.companyID {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.Bucket != "documents" || !strings.HasPrefix(doc.ObjectKey, fx.projectID+"/") {
		t.Fatalf("unexpected object location %s/%s", doc.Bucket, doc.ObjectKey)
	}
	if _, ok := objects.objects[doc.Bucket+"/"+doc.ObjectKey]; !ok {
		t.Fatalf("expected object stored")
	}

	rr, payload := doJSON(t, server, http.MethodGet, path, member, nil)
	if rr.Code != http.StatusOK || len(payload["documents"].([]any)) != 1 {
		t.Fatalf("expected one document, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr, payload = doJSON(t, server, http.MethodGet, path+"/"+doc.ID, member, nil)
	if rr.Code != http.StatusOK || payload["id"] != doc.ID {
		t.Fatalf("expected document detail, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr, _ = doJSON(t, server, http.MethodDelete, path+"/"+doc.ID, member, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected delete 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(objects.removed) != 1 || objects.removed[0] != doc.Bucket+"/"+doc.ObjectKey {
		t.Fatalf("expected object removed, got %v", objects.removed)
	}
	rr, _ = doJSON(t, server, http.MethodGet, path+"/"+doc.ID, member, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected deleted document 404, got %d", rr.Code)
	}
	if got := strings.Join(events.tables(), ","); got != "project_documents:INSERT,project_documents:DELETE" {
		t.Fatalf("unexpected events %s", got)
	}
}

type fakeAnalyzer struct {
	resp analysis.Response
	err  error
	got  analysis.Request
}

func (a *fakeAnalyzer) Run(_ context.Context, req analysis.Request) (analysis.Response, error) {
	a.got = req
	return a.resp, a.err
}

func TestSyncProjectKnowledgeFunction(t *testing.T) {
	fs := newFakeStore()
	fx := seedCompany(fs, "acme")
	path := "/api/functions/sync-project-knowledge"
	body := map[string]any{"projectId": fx.projectID, "companyId": fx.companyID, "documentId": "doc-1"}

	svc := newTestService(fs, Deps{})
	server := NewHTTPServer(svc, "*", nil)
	rr, payload := doJSON(t, server, http.MethodPost, path, tokenFor(t, svc, fx.member), body)
	if rr.Code != http.StatusServiceUnavailable || payload["error"] != "document analysis is not configured" {
		t.Fatalf("expected 503 without analyzer, got %d body=%s", rr.Code, rr.Body.String())
	}

	analyzer := &fakeAnalyzer{resp: analysis.Response{Success: true, DocumentID: "doc-1", Summary: "42 line items", HasExtractedText: true}}
	svc = newTestService(fs, Deps{Analysis: analyzer})
	server = NewHTTPServer(svc, "*", nil)
	member := tokenFor(t, svc, fx.member)

	rr, payload = doJSON(t, server, http.MethodPost, path, tokenFor(t, svc, fx.viewer), body)
	if rr.Code != http.StatusForbidden || payload["error"] != "forbidden" {
		t.Fatalf("expected viewer 403, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr, payload = doJSON(t, server, http.MethodPost, path, member, map[string]any{"companyId": "globex", "documentId": "doc-1"})
	if rr.Code != http.StatusNotFound || payload["error"] != "document not found" {
		t.Fatalf("expected company mismatch 404, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr, payload = doJSON(t, server, http.MethodPost, path, member, body)
	if rr.Code != http.StatusOK || payload["success"] != true || payload["summary"] != "42 line items" {
		t.Fatalf("expected success, got %d body=%s", rr.Code, rr.Body.String())
	}
	if analyzer.got.DocumentID != "doc-1" || analyzer.got.ProjectID != fx.projectID {
		t.Fatalf("unexpected request forwarded %+v", analyzer.got)
	}

	analyzer.err = &analysis.Error{Status: http.StatusConflict, Message: "document is already being processed"}
	rr, payload = doJSON(t, server, http.MethodPost, path, member, body)
	if rr.Code != http.StatusConflict || payload["error"] != "document is already being processed" {
		t.Fatalf("expected analyzer status passed through, got %d body=%s", rr.Code, rr.Body.String())
	}
	if _, hasCode := payload["code"]; hasCode {
		t.Fatalf("expected bare error body, got %v", payload)
	}

	analyzer.err = errors.New("boom")
	rr, payload = doJSON(t, server, http.MethodPost, path, member, body)
	if rr.Code != http.StatusInternalServerError || payload["error"] != "internal error" {
		t.Fatalf("expected 500 internal error, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr, _ = doJSON(t, server, http.MethodPost, "/api/functions/other", member, body)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected unknown function 404, got %d", rr.Code)
	}
}
