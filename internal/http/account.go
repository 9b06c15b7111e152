package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/kjstillabower/daily-brief/internal/backend"
	"github.com/kjstillabower/daily-brief/internal/models"
)

// GetBrief handles GET /brief.
func (h *Handler) GetBrief(w http.ResponseWriter, r *http.Request) {
	b, err := h.brief.Build(r.Context(), h.now())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authStatus struct {
	Configured    bool         `json:"configured"`
	Authenticated bool         `json:"authenticated"`
	User          *models.User `json:"user,omitempty"`
}

// Login handles POST /auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if h.account == nil {
		writeServiceError(w, r, backend.ErrNotConfigured)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_CREDENTIALS", "email and password are required")
		return
	}
	user, err := h.account.Login(r.Context(), strings.TrimSpace(req.Email), req.Password)
	var rejected *backend.ServerError
	switch {
	case errors.As(err, &rejected), errors.Is(err, backend.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "LOGIN_FAILED", "Invalid email or password.")
		return
	case err != nil:
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authStatus{Configured: true, Authenticated: true, User: &user})
}

// Logout handles POST /auth/logout. Logging out twice is not an error.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.account == nil {
		writeServiceError(w, r, backend.ErrNotConfigured)
		return
	}
	if err := h.account.Logout(r.Context()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AuthStatus handles GET /auth/status.
func (h *Handler) AuthStatus(w http.ResponseWriter, r *http.Request) {
	if h.account == nil {
		writeJSON(w, http.StatusOK, authStatus{})
		return
	}
	status := authStatus{Configured: true, Authenticated: h.account.IsAuthenticated()}
	if status.Authenticated {
		status.User = h.account.CurrentUser()
	}
	writeJSON(w, http.StatusOK, status)
}
