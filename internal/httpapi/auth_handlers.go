package httpapi

import (
	"net/http"
	"strings"
	"time"

	"authcore.org/internal/audit"
	"authcore.org/internal/auth"
	"authcore.org/internal/obs"
)

type registerRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type sessionResponse struct {
	UserID           string    `json:"user_id"`
	Role             auth.Role `json:"role"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

const refreshCookieName = "refresh_token"

func sessionPayload(s *auth.Session) sessionResponse {
	return sessionResponse{
		UserID:           s.UserID,
		Role:             s.Role,
		AccessToken:      s.AccessToken,
		AccessExpiresAt:  s.AccessExpiresAt,
		RefreshToken:     s.RefreshToken,
		RefreshExpiresAt: s.RefreshExpiresAt,
	}
}

// setRefreshCookie mirrors the refresh credential into an HttpOnly cookie for
// browser clients. The token also travels in the JSON body; the transport
// choice belongs to the caller.
func setRefreshCookie(w http.ResponseWriter, s *auth.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    s.RefreshToken,
		Path:     "/v1/auth",
		Expires:  s.RefreshExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/v1/auth",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// refreshTokenFrom pulls the refresh credential from the JSON body, falling
// back to the cookie.
func refreshTokenFrom(w http.ResponseWriter, r *http.Request) string {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err == nil {
		if token := strings.TrimSpace(req.RefreshToken); token != "" {
			return token
		}
	}
	if c, err := r.Cookie(refreshCookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	// Self-service sign-up always lands on the customer role; privileged
	// accounts are provisioned through /v1/users by an admin.
	user, session, err := a.flow.Register(r.Context(), auth.Registration{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
		Role:      auth.RoleCustomer,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	obs.ObserveTokenIssued("access")
	obs.ObserveTokenIssued("refresh")
	_ = audit.LogEvent(r.Context(), "auth.register", map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
	})

	setRefreshCookie(w, session)
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	session, err := a.flow.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		obs.ObserveLogin("denied")
		_ = audit.LogEvent(r.Context(), "auth.login.denied", map[string]any{
			"email": strings.ToLower(strings.TrimSpace(req.Email)),
		})
		handleAuthError(w, r, err)
		return
	}

	obs.ObserveLogin("ok")
	obs.ObserveTokenIssued("access")
	obs.ObserveTokenIssued("refresh")
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id": session.UserID,
	})

	setRefreshCookie(w, session)
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	token := refreshTokenFrom(w, r)
	if token == "" {
		writeError(w, r, http.StatusUnauthorized, "refresh token is required")
		return
	}

	// Cryptographic verification happens here; the store-backed half of
	// validity is the flow's job.
	claims, err := a.flow.Issuer().VerifyRefreshToken(token)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	session, err := a.flow.Refresh(r.Context(), claims)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	obs.ObserveRotation()
	obs.ObserveTokenIssued("access")
	obs.ObserveTokenIssued("refresh")
	_ = audit.LogEvent(r.Context(), "auth.refresh", map[string]any{
		"user_id": session.UserID,
	})

	setRefreshCookie(w, session)
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	token := refreshTokenFrom(w, r)
	if token == "" {
		writeError(w, r, http.StatusUnauthorized, "refresh token is required")
		return
	}

	claims, err := a.flow.Issuer().VerifyRefreshToken(token)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if err := a.flow.Logout(r.Context(), claims); err != nil {
		handleAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{
		"user_id": claims.Subject,
	})

	clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (a *API) handleSelf(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	user, err := a.store.Users(r.Context()).Find(r.Context(), principal.UserID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
