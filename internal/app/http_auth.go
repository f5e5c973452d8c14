package app

import (
	"errors"
	"net/http"
	"strings"

	"buildtrack/api/internal/authpw"
	"buildtrack/api/internal/logging"
	"buildtrack/api/internal/rbac"

	"go.uber.org/zap"
)

type accountHandler func(w http.ResponseWriter, r *http.Request, accounts *authpw.Service)

// withAccounts answers 503 when password accounts are not wired.
func (s *HTTPServer) withAccounts(next accountHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts := s.service.AuthPasswordService()
		if accounts == nil {
			writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
			return
		}
		next(w, r, accounts)
	}
}

// decodeOrReject writes 400 INVALID_BODY and reports false when the body is
// not JSON.
func decodeOrReject(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request, accounts *authpw.Service) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
		CompanyName string `json:"companyName"`
		CompanyID   string `json:"companyId"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}

	companyID := strings.TrimSpace(body.CompanyID)
	companyName := strings.TrimSpace(body.CompanyName)
	role := rbac.RoleMember
	switch {
	case companyID != "" && companyName != "":
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Provide companyName or companyId, not both", nil)
		return
	case companyID != "":
		if err := s.service.CompanyExists(r.Context(), companyID); err != nil {
			s.fail(w, r, err)
			return
		}
	case companyName != "":
		company, err := s.service.RegisterCompany(r.Context(), companyName)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		companyID = company.ID
		role = rbac.RoleAdmin
	}

	resp, err := accounts.SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
		CompanyID:   companyID,
		Role:        role,
	})
	switch {
	case errors.Is(err, authpw.ErrEmailTaken):
		writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
		return
	case errors.Is(err, authpw.ErrMissingFields), errors.Is(err, authpw.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
		return
	case err != nil:
		s.fail(w, r, err)
		return
	}

	s.service.sendVerification(strings.TrimSpace(body.DisplayName), strings.TrimSpace(body.Email), resp.VerificationToken)
	out := map[string]any{
		"userId":    resp.UserID,
		"companyId": companyID,
		"message":   "Please check your email to verify your account",
	}
	// Without SMTP the token is returned so local setups can verify.
	if !s.service.SMTPConfigured() {
		out["devVerificationToken"] = resp.VerificationToken
		out["message"] = "Account created. Verify your email to continue."
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request, accounts *authpw.Service) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	resp, err := accounts.SignIn(r.Context(), authpw.SignInRequest{Email: body.Email, Password: body.Password})
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		return
	}
	if resp.RequiresVerify {
		writeError(w, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
		return
	}
	session, err := s.service.CreateSession(r.Context(), resp.User.ID)
	if err != nil {
		logging.FromContext(r.Context(), s.logger).Error("create session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SESSION_FAILED", "Failed to create session", nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleVerifyEmail(w http.ResponseWriter, r *http.Request, accounts *authpw.Service) {
	var body struct {
		Token string `json:"token"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	if err := accounts.VerifyEmail(r.Context(), body.Token); err != nil {
		writeError(w, http.StatusBadRequest, "VERIFICATION_FAILED", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Email verified successfully"})
}

func (s *HTTPServer) handleRequestReset(w http.ResponseWriter, r *http.Request, accounts *authpw.Service) {
	var body struct {
		Email string `json:"email"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	token, err := accounts.RequestPasswordReset(r.Context(), body.Email)
	if err != nil {
		logging.FromContext(r.Context(), s.logger).Warn("request password reset", zap.Error(err))
	}
	s.service.sendPasswordReset(r.Context(), body.Email, token)

	out := map[string]any{"message": "If an account exists, a reset email has been sent"}
	if token != "" && !s.service.SMTPConfigured() {
		out["devResetToken"] = token
	}
	writeJSON(w, http.StatusOK, out)
}

// handleResetPassword also ends the user's refresh sessions.
func (s *HTTPServer) handleResetPassword(w http.ResponseWriter, r *http.Request, accounts *authpw.Service) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	userID, err := accounts.ResetPassword(r.Context(), authpw.ResetPasswordRequest{
		Token:       body.Token,
		NewPassword: body.NewPassword,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "RESET_FAILED", err.Error(), nil)
		return
	}
	s.service.EndRefreshSessions(r.Context(), userID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password reset successfully"})
}

// handleSessionState never fails; a bad token reads as signed out.
func (s *HTTPServer) handleSessionState(w http.ResponseWriter, r *http.Request) {
	signedOut := map[string]any{"authenticated": false, "userName": nil}
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, signedOut)
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, signedOut)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"userName":      session.UserName,
		"userId":        session.UserID,
		"role":          session.Role,
		"companyId":     session.CompanyID,
	})
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

// handleLogout revokes whatever it is given and always answers ok.
func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var session Session
	if token := bearerToken(r); token != "" {
		if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			session = parsed
		}
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = decodeBody(r, &body)
	_ = s.service.Logout(r.Context(), session, body.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"companyId":    session.CompanyID,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}
