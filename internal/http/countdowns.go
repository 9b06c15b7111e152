package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kjstillabower/daily-brief/internal/backend"
	"github.com/kjstillabower/daily-brief/internal/countdown"
	"github.com/kjstillabower/daily-brief/internal/models"
)

type countdownList struct {
	Countdowns     []models.Countdown `json:"countdowns"`
	Source         string             `json:"source"`
	Limit          int                `json:"limit,omitempty"`
	RemainingSlots int                `json:"remaining_slots"`
	CanAddMore     bool               `json:"can_add_more"`
}

// ListCountdowns handles GET /countdowns. source=account reads the signed-in
// user's countdowns from the backend instead of the local store.
func (h *Handler) ListCountdowns(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("source") {
	case "", "local":
		writeJSON(w, http.StatusOK, countdownList{
			Countdowns:     h.countdowns.List(h.now()),
			Source:         "local",
			Limit:          h.countdowns.Limit(),
			RemainingSlots: h.countdowns.RemainingSlots(),
			CanAddMore:     h.countdowns.CanAddMore(),
		})
	case "account":
		if h.account == nil {
			writeServiceError(w, r, backend.ErrNotConfigured)
			return
		}
		list, err := h.account.Countdowns(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, countdownList{Countdowns: list, Source: "account"})
	default:
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "source must be local or account")
	}
}

type countdownRequest struct {
	Name   string `json:"name"`
	Date   string `json:"date"`
	Yearly bool   `json:"yearly"`
}

// AddCountdown handles POST /countdowns.
func (h *Handler) AddCountdown(w http.ResponseWriter, r *http.Request) {
	var req countdownRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	c, err := h.countdowns.Add(r.Context(), req.Name, req.Date, req.Yearly)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, countdown.Evaluate(c, h.now()))
}

// GetCountdown handles GET /countdowns/{id}.
func (h *Handler) GetCountdown(w http.ResponseWriter, r *http.Request) {
	c, err := h.countdowns.Get(mux.Vars(r)["id"], h.now())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// UpdateCountdown handles PUT /countdowns/{id}.
func (h *Handler) UpdateCountdown(w http.ResponseWriter, r *http.Request) {
	var req countdownRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	c, err := h.countdowns.Update(r.Context(), models.Countdown{
		ID:     mux.Vars(r)["id"],
		Name:   req.Name,
		Date:   req.Date,
		Yearly: req.Yearly,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countdown.Evaluate(c, h.now()))
}

// DeleteCountdown handles DELETE /countdowns/{id}.
func (h *Handler) DeleteCountdown(w http.ResponseWriter, r *http.Request) {
	if err := h.countdowns.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearCountdowns handles DELETE /countdowns.
func (h *Handler) ClearCountdowns(w http.ResponseWriter, r *http.Request) {
	if err := h.countdowns.ClearAll(r.Context()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
