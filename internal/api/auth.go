package api

import (
	"context"
	"net/http"

	"loopcast/internal/models"
)

type contextKey string

const operatorContextKey contextKey = "loopcast.operator"

// ContextWithOperator attaches the authenticated operator to the context.
func ContextWithOperator(ctx context.Context, operator models.Operator) context.Context {
	return context.WithValue(ctx, operatorContextKey, operator)
}

// OperatorFromContext returns the operator attached by the auth middleware.
func OperatorFromContext(ctx context.Context) (models.Operator, bool) {
	operator, ok := ctx.Value(operatorContextKey).(models.Operator)
	return operator, ok
}

// AuthEnabled reports whether the configured operator account exists. Until a
// password is set the control surface runs open, matching a fresh install.
func (h *Handler) AuthEnabled() bool {
	if h.Sessions == nil || h.Store == nil {
		return false
	}
	_, ok := h.Store.GetOperator(h.operatorUsername())
	return ok
}

// AuthenticateRequest validates the request's session token and returns the
// operator it belongs to.
func (h *Handler) AuthenticateRequest(r *http.Request) (models.Operator, bool) {
	token := ExtractToken(r)
	if token == "" {
		return models.Operator{}, false
	}
	username, _, ok, err := h.sessionManager().Validate(token)
	if err != nil || !ok {
		return models.Operator{}, false
	}
	operator, ok := h.Store.GetOperator(username)
	if !ok {
		return models.Operator{}, false
	}
	return operator, true
}

// requireOperator authenticates the request when auth is enabled. It writes
// the 401 response itself and reports whether the caller may proceed.
func (h *Handler) requireOperator(w http.ResponseWriter, r *http.Request) bool {
	if !h.AuthEnabled() {
		return true
	}
	operator, ok := h.AuthenticateRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return false
	}
	*r = *r.WithContext(ContextWithOperator(r.Context(), operator))
	return true
}
