package app

import (
	"bytes"
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"buildtrack/api/internal/auth"
	"buildtrack/api/internal/authpw"
	"buildtrack/api/internal/store"
)

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return store.ErrConflict
		}
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.VerificationToken = token
	u.VerificationExpiresAt = &expiresAt
	f.users[userID] = u
	return nil
}

func (f *fakeStore) VerifyUserEmail(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, u := range f.users {
		if u.VerificationToken == token {
			u.IsEmailVerified = true
			u.VerificationToken = ""
			f.users[id] = u
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = hash
	f.users[userID] = u
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = userID
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return id, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resets, token)
	return nil
}

func newAuthServer(fs *fakeStore) *HTTPServer {
	svc := newTestService(fs, Deps{})
	svc.authpw = authpw.NewService(fs)
	return NewHTTPServer(svc, "*", nil)
}

func TestSignUpWithCompanyNameCreatesAdmin(t *testing.T) {
	fs := newFakeStore()
	server := newAuthServer(fs)

	rr, payload := doJSON(t, server, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":       "Owner@Example.com",
		"password":    "correct-horse",
		"displayName": "Dana Owner",
		"companyName": "Northwind Builders",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}

	userID, _ := payload["userId"].(string)
	companyID, _ := payload["companyId"].(string)
	if userID == "" || companyID == "" {
		t.Fatalf("expected userId and companyId, got %v", payload)
	}
	if _, ok := fs.companies[companyID]; !ok {
		t.Fatalf("expected company %s to exist", companyID)
	}
	if role := fs.users[userID].Role; role != "admin" {
		t.Fatalf("expected first user to be admin, got %q", role)
	}
	if fs.users[userID].Email != "owner@example.com" {
		t.Fatalf("expected normalized email, got %q", fs.users[userID].Email)
	}
	if _, ok := payload["devVerificationToken"].(string); !ok {
		t.Fatalf("expected devVerificationToken without SMTP, got %v", payload)
	}
}

func TestSignUpRejectsCompanyNameAndID(t *testing.T) {
	server := newAuthServer(newFakeStore())

	rr, payload := doJSON(t, server, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":       "a@example.com",
		"password":    "correct-horse",
		"displayName": "A",
		"companyName": "X",
		"companyId":   "cmp_1",
	})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", payload["code"])
	}
}

func TestSignUpJoinsExistingCompanyAsMember(t *testing.T) {
	fs := newFakeStore()
	seedCompany(fs, "acme")
	server := newAuthServer(fs)

	rr, payload := doJSON(t, server, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":       "new@acme.test",
		"password":    "correct-horse",
		"displayName": "New Hire",
		"companyId":   "acme",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	userID, _ := payload["userId"].(string)
	if got := fs.users[userID]; got.Role != "member" || got.CompanyID != "acme" {
		t.Fatalf("expected member of acme, got role=%q company=%q", got.Role, got.CompanyID)
	}

	rr, payload = doJSON(t, server, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":       "other@acme.test",
		"password":    "correct-horse",
		"displayName": "Other",
		"companyId":   "missing",
	})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422 for unknown company, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	fs := newFakeStore()
	fx := seedCompany(fs, "acme")
	server := newAuthServer(fs)

	rr, payload := doJSON(t, server, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":       fx.member.Email,
		"password":    "correct-horse",
		"displayName": "Dup",
		"companyId":   "acme",
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["code"] != "EMAIL_EXISTS" {
		t.Fatalf("expected EMAIL_EXISTS, got %v", payload["code"])
	}
}

func TestSignInRequiresVerifiedEmail(t *testing.T) {
	fs := newFakeStore()
	server := newAuthServer(fs)

	_, signup := doJSON(t, server, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":       "pat@example.com",
		"password":    "correct-horse",
		"displayName": "Pat",
		"companyName": "Pat Co",
	})
	credentials := map[string]any{"email": "pat@example.com", "password": "correct-horse"}

	rr, payload := doJSON(t, server, http.MethodPost, "/api/auth/signin", "", credentials)
	if rr.Code != http.StatusForbidden || payload["code"] != "EMAIL_NOT_VERIFIED" {
		t.Fatalf("expected 403 EMAIL_NOT_VERIFIED, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr, _ = doJSON(t, server, http.MethodPost, "/api/auth/verify-email", "", map[string]any{"token": signup["devVerificationToken"]})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected verify 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr, payload = doJSON(t, server, http.MethodPost, "/api/auth/signin", "", credentials)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["accessToken"] == "" || payload["refreshToken"] == "" {
		t.Fatalf("expected tokens, got %v", payload)
	}
	if payload["role"] != "admin" || payload["companyId"] != signup["companyId"] {
		t.Fatalf("expected admin session for new company, got %v", payload)
	}

	rr, payload = doJSON(t, server, http.MethodPost, "/api/auth/signin", "", map[string]any{"email": "pat@example.com", "password": "wrong-password"})
	if rr.Code != http.StatusUnauthorized || payload["code"] != "INVALID_CREDENTIALS" {
		t.Fatalf("expected 401 INVALID_CREDENTIALS, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestPasswordResetFlow(t *testing.T) {
	fs := newFakeStore()
	fx := seedCompany(fs, "acme")
	server := newAuthServer(fs)
	if err := fs.SaveRefreshSession(context.Background(), "old-device", fx.member.ID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("seed refresh session: %v", err)
	}

	rr, payload := doJSON(t, server, http.MethodPost, "/api/auth/reset-password/request", "", map[string]any{"email": fx.member.Email})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	token, _ := payload["devResetToken"].(string)
	if token == "" {
		t.Fatalf("expected devResetToken, got %v", payload)
	}

	rr, _ = doJSON(t, server, http.MethodPost, "/api/auth/reset-password", "", map[string]any{"token": token, "newPassword": "short"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected weak password rejected, got %d", rr.Code)
	}

	rr, _ = doJSON(t, server, http.MethodPost, "/api/auth/reset-password", "", map[string]any{"token": token, "newPassword": "brand-new-pass"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if _, err := fs.ConsumeRefreshSession(context.Background(), "old-device"); err == nil {
		t.Fatal("expected refresh sessions revoked by the reset")
	}
	rr, _ = doJSON(t, server, http.MethodPost, "/api/auth/signin", "", map[string]any{"email": fx.member.Email, "password": "brand-new-pass"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected sign in with new password, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr, payload = doJSON(t, server, http.MethodPost, "/api/auth/reset-password/request", "", map[string]any{"email": "nobody@example.com"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for unknown email, got %d", rr.Code)
	}
	if _, ok := payload["devResetToken"]; ok {
		t.Fatalf("expected no token for unknown email, got %v", payload)
	}
}

func TestAuthRoutesUnavailableWithoutPasswordService(t *testing.T) {
	server := NewHTTPServer(newTestService(newFakeStore(), Deps{}), "*", nil)

	rr, payload := doJSON(t, server, http.MethodPost, "/api/auth/signin", "", map[string]any{"email": "a@b.c", "password": "x"})
	if rr.Code != http.StatusServiceUnavailable || payload["code"] != "AUTH_UNAVAILABLE" {
		t.Fatalf("expected 503 AUTH_UNAVAILABLE, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestSessionEndpointReportsAuthState(t *testing.T) {
	fs := newFakeStore()
	fx := seedCompany(fs, "acme")
	svc := newTestService(fs, Deps{})
	server := NewHTTPServer(svc, "*", nil)

	rr, payload := doJSON(t, server, http.MethodGet, "/api/session", "", nil)
	if rr.Code != http.StatusOK || payload["authenticated"] != false {
		t.Fatalf("expected unauthenticated session, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr, payload = doJSON(t, server, http.MethodGet, "/api/session", tokenFor(t, svc, fx.manager), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if payload["authenticated"] != true || payload["role"] != "manager" || payload["companyId"] != "acme" {
		t.Fatalf("unexpected session payload %v", payload)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	svc := newTestService(newFakeStore(), Deps{})
	server := NewHTTPServer(svc, "*", nil)

	rr, payload := doJSON(t, server, http.MethodGet, "/api/projects", "", nil)
	if rr.Code != http.StatusUnauthorized || payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected 401 without token, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr, _ = doJSON(t, server, http.MethodGet, "/api/projects", "not-a-jwt", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rr.Code)
	}

	expired, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub: "acme-member", Name: "M", Role: "member", JTI: "jti-old",
		Exp: time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	rr, _ = doJSON(t, server, http.MethodGet, "/api/projects", expired, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", rr.Code)
	}
}

func TestRefreshAndLogout(t *testing.T) {
	fs := newFakeStore()
	fx := seedCompany(fs, "acme")
	svc := newTestService(fs, Deps{})
	server := NewHTTPServer(svc, "*", nil)

	session, err := svc.CreateSession(context.Background(), fx.member.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	rr, payload := doJSON(t, server, http.MethodPost, "/api/session/refresh", "", map[string]any{"refreshToken": session.RefreshToken})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	access, _ := payload["accessToken"].(string)
	refresh, _ := payload["refreshToken"].(string)
	if access == "" || refresh == "" || refresh == session.RefreshToken {
		t.Fatalf("expected rotated tokens, got %v", payload)
	}

	rr, _ = doJSON(t, server, http.MethodPost, "/api/session/refresh", "", map[string]any{"refreshToken": session.RefreshToken})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected replayed refresh token rejected, got %d", rr.Code)
	}

	rr, _ = doJSON(t, server, http.MethodPost, "/api/session/logout", access, map[string]any{"refreshToken": refresh})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected logout 200, got %d", rr.Code)
	}

	rr, _ = doJSON(t, server, http.MethodGet, "/api/projects", access, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked access token rejected, got %d", rr.Code)
	}
	rr, _ = doJSON(t, server, http.MethodPost, "/api/session/refresh", "", map[string]any{"refreshToken": refresh})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked refresh token rejected, got %d", rr.Code)
	}
}

func TestInvalidJSONBody(t *testing.T) {
	fs := newFakeStore()
	fx := seedCompany(fs, "acme")
	svc := newTestService(fs, Deps{})
	server := NewHTTPServer(svc, "*", nil)

	req := httptest.NewRequest(http.MethodPost, "/api/projects", bytes.NewBufferString(`{"name":`))
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, svc, fx.manager))
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}
