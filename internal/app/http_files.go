package app

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"buildtrack/api/internal/analysis"
	"buildtrack/api/internal/logging"

	"go.uber.org/zap"
)

const (
	maxUploadBytes   = 50 << 20
	multipartMemory  = 8 << 20
	uploadFormField  = "file"
	analysisFunction = "sync-project-knowledge"
)

// readUpload pulls the file part out of a multipart request.
func readUpload(w http.ResponseWriter, r *http.Request) (Upload, multipart.File, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds the upload limit", nil)
			return Upload{}, nil, false
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart form upload", nil)
		return Upload{}, nil, false
	}
	file, header, err := r.FormFile(uploadFormField)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file is required", nil)
		return Upload{}, nil, false
	}
	return Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}, file, true
}

func (s *HTTPServer) handleStorage(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		notFoundRoute(w)
		return
	}
	bucket := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		upload, file, ok := readUpload(w, r)
		if !ok {
			return
		}
		defer file.Close()
		obj, err := s.service.UploadObject(r.Context(), session, bucket, r.URL.Query().Get("projectId"), upload)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, obj)
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w)
		return
	}
	key := strings.Join(parts[1:], "/")
	body, obj, err := s.service.DownloadObject(r.Context(), session, bucket, key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		logging.FromContext(r.Context(), s.logger).Warn("stream object", zap.String("key", key), zap.Error(err))
	}
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, session Session, projectID string, parts []string) {
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			doc, err := s.service.GetDocument(r.Context(), session, projectID, parts[0])
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, doc)
		case http.MethodDelete:
			if err := s.service.DeleteDocument(r.Context(), session, projectID, parts[0]); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			methodNotAllowed(w)
		}
		return
	}
	if len(parts) > 1 {
		notFoundRoute(w)
		return
	}

	switch r.Method {
	case http.MethodGet:
		items, err := s.service.ListDocuments(r.Context(), session, projectID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": items})
	case http.MethodPost:
		upload, file, ok := readUpload(w, r)
		if !ok {
			return
		}
		defer file.Close()
		created, err := s.service.UploadDocument(r.Context(), session, projectID, DocumentInput{
			Name:     r.FormValue("name"),
			Category: r.FormValue("category"),
			File:     upload,
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w)
	}
}

// handleFunctions serves sync-project-knowledge. Its error body is
// {"error": message} rather than the usual code envelope.
func (s *HTTPServer) handleFunctions(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) != 1 || parts[0] != analysisFunction {
		notFoundRoute(w)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var body analysis.Request
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	resp, err := s.service.RunAnalysis(r.Context(), session, body)
	if err != nil {
		status := http.StatusInternalServerError
		message := "internal error"
		var fnErr *analysis.Error
		if errors.As(err, &fnErr) {
			status = fnErr.Status
			message = fnErr.Message
		}
		if status >= http.StatusInternalServerError {
			logging.FromContext(r.Context(), s.logger).Error("sync-project-knowledge",
				zap.String("document_id", body.DocumentID),
				zap.Error(err),
			)
		}
		writeJSON(w, status, map[string]any{"error": message})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
