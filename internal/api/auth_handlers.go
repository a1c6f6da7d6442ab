package api

import (
	"errors"
	"net/http"
	"strings"

	"loopcast/internal/storage"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges operator credentials for a session token. The token is
// returned in the body and also set as a cookie for browser clients.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if !h.AuthEnabled() {
		writeError(w, http.StatusConflict, "authentication is not configured")
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	operator, err := h.Store.AuthenticateOperator(username, req.Password)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCredentials) || errors.Is(err, storage.ErrOperatorNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
		h.logger().Error("operator authentication failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to authenticate")
		return
	}

	token, expiresAt, err := h.sessionManager().Create(operator.Username)
	if err != nil {
		h.logger().Error("session creation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.setSessionCookie(w, r, token, expiresAt)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":     token,
		"username":  operator.Username,
		"expiresAt": expiresAt,
	})
}

// Session reports whether the request carries a valid session.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	if !h.AuthEnabled() {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"authenticated": false,
			"authRequired":  false,
		})
		return
	}
	operator, ok := h.AuthenticateRequest(r)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"authenticated": false,
			"authRequired":  true,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"authRequired":  true,
		"username":      operator.Username,
	})
}

// Logout revokes the request's session token and clears the cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if token := ExtractToken(r); token != "" {
		if err := h.sessionManager().Revoke(token); err != nil {
			h.logger().Warn("session revocation failed", "error", err)
		}
	}
	h.ClearSessionCookie(w, r)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
