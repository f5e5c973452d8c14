package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"buildtrack/api/internal/auth"
	"buildtrack/api/internal/logging"
	"buildtrack/api/internal/metrics"

	"go.uber.org/zap"
)

// resourceHandler serves everything under /api/<resource>/ for a signed-in
// caller. rest is the path after the resource segment.
type resourceHandler func(w http.ResponseWriter, r *http.Request, session Session, rest []string)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger

	public    map[string]http.HandlerFunc
	resources map[string]resourceHandler
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
	s.public = map[string]http.HandlerFunc{
		"GET /api/health":                       s.handleHealth,
		"GET /api/ready":                        s.handleReady,
		"GET /metrics":                          metrics.Handler().ServeHTTP,
		"POST /api/auth/signup":                 s.withAccounts(s.handleSignUp),
		"POST /api/auth/signin":                 s.withAccounts(s.handleSignIn),
		"POST /api/auth/verify-email":           s.withAccounts(s.handleVerifyEmail),
		"POST /api/auth/reset-password/request": s.withAccounts(s.handleRequestReset),
		"POST /api/auth/reset-password":         s.withAccounts(s.handleResetPassword),
		"GET /api/session":                      s.handleSessionState,
		"POST /api/session/refresh":             s.handleRefresh,
		"POST /api/session/logout":              s.handleLogout,
	}
	s.resources = map[string]resourceHandler{
		"projects":     s.handleProjects,
		"vendors":      s.handleVendors,
		"search":       s.handleSearch,
		"rfqs":         s.handleRFQs,
		"quotes":       s.handleQuotes,
		"commitments":  s.handleCommitments,
		"approvals":    s.handleApprovals,
		"time-entries": s.handleTimeEntries,
		"roles":        s.handleRoles,
		"permissions":  s.handlePermissionCatalog,
		"users":        s.handleUsers,
		"rpc":          s.handleRPC,
		"storage":      s.handleStorage,
		"functions":    s.handleFunctions,
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.route))
}

func (s *HTTPServer) route(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	method := r.Method
	if method == http.MethodHead {
		method = http.MethodGet
	}
	if h, ok := s.public[method+" "+r.URL.Path]; ok {
		h(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		notFoundRoute(w)
		return
	}
	h, ok := s.resources[parts[1]]
	if !ok {
		// Unknown resources answer 401 before 404.
		if _, ok := s.requireSession(w, r); ok {
			notFoundRoute(w)
		}
		return
	}
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	h(w, r, session, parts[2:])
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleReady reports 503 while the database is unreachable.
func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	database := map[string]any{"status": "ok"}
	status, code := "ready", http.StatusOK
	if err := s.service.Ping(ctx); err != nil {
		database = map[string]any{"status": "error", "error": err.Error()}
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"ok":     code == http.StatusOK,
		"status": status,
		"checks": map[string]any{"database": database},
	})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	switch {
	case err == nil:
		return session, true
	case errors.Is(err, auth.ErrExpiredToken), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	default:
		logging.FromContext(r.Context(), s.logger).Error("session lookup", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
	}
	return Session{}, false
}

// fail maps err onto the response. Unmapped errors are logged since the
// client only sees SERVER_ERROR.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context(), s.logger).Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func notFoundRoute(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// withMiddleware tags the request with an id, sets CORS headers, then
// records the outcome in the access log and the duration histogram.
func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = newRequestID()
		}
		r = r.WithContext(logging.WithRequestID(r.Context(), requestID))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h := rec.Header()
		h.Set("Access-Control-Allow-Origin", s.corsOrigin)
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		h.Set("Cache-Control", "no-store")
		h.Set("Content-Type", "application/json")
		h.Set("X-Request-ID", requestID)

		started := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(started)

		metrics.RecordHTTPRequestDuration(r.Method, routeLabel(r.URL.Path), strconv.Itoa(rec.status), elapsed)
		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush lets the change feed stream through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func newRequestID() string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}

// routeLabel collapses ids and storage keys so the metrics label set stays
// bounded.
func routeLabel(path string) string {
	parts := splitPath(path)
	if len(parts) > 2 && parts[1] == "storage" {
		return "/" + parts[0] + "/storage/*"
	}
	for i, part := range parts {
		if looksLikeID(part) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

// looksLikeID matches prefixed ids (prj_<32 hex>), long tokens and hex
// digests.
func looksLikeID(segment string) bool {
	if _, after, ok := strings.Cut(segment, "_"); ok && len(after) == 32 {
		return true
	}
	if len(segment) >= 32 {
		return true
	}
	return len(segment) >= 7 && strings.Trim(segment, "0123456789abcdef") == ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	body := map[string]any{"code": code, "error": message}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, status, body)
}

// decodeBody treats a missing body as empty.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil && !errors.Is(err, http.ErrBodyReadAfterClose) {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || scheme != "Bearer" {
		return ""
	}
	return strings.TrimSpace(token)
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, name string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(name)))
	if err != nil {
		return fallback
	}
	return n
}

func queryFloat(r *http.Request, name string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(r.URL.Query().Get(name)), 64)
	if err != nil {
		return fallback
	}
	return f
}
