package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/concert-rsvp/internal/model"
	"github.com/Shivanand-hulikatti/concert-rsvp/internal/service"
)

// CreateConcert handles POST /concerts
func (h *Handler) CreateConcert(w http.ResponseWriter, r *http.Request) {
	var req model.CreateConcertRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body: "+err.Error())
		return
	}
	if err := h.validateRequest(req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := authorizeHost(r.Context(), req.HostID); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	date, err := time.Parse(time.DateOnly, req.Date)
	if err != nil {
		h.writeDomainError(w, r, &model.ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"})
		return
	}

	concert, err := h.concerts.CreateConcert(r.Context(), service.CreateConcertInput{
		HostID:      req.HostID,
		ArtistID:    req.ArtistID,
		Date:        date,
		StartTime:   req.StartTime,
		MaxCapacity: req.MaxCapacity,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, concert)
}

// GetConcert handles GET /concerts/{id}
func (h *Handler) GetConcert(w http.ResponseWriter, r *http.Request) {
	concert, err := h.concerts.GetConcert(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, concert)
}

// RequestSeats handles POST /concerts/{id}/rsvps
func (h *Handler) RequestSeats(w http.ResponseWriter, r *http.Request) {
	var req model.RequestSeatsRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body: "+err.Error())
		return
	}
	if err := h.validateRequest(req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	rsvp, err := h.concerts.RequestSeats(r.Context(), service.RequestSeatsInput{
		ConcertID:       chi.URLParam(r, "id"),
		FanID:           req.FanID,
		GuestsCount:     req.GuestsCount,
		SpecialRequests: req.SpecialRequests,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rsvp)
}

// ConcertStats handles GET /concerts/{id}/stats
func (h *Handler) ConcertStats(w http.ResponseWriter, r *http.Request) {
	concert, err := h.concerts.GetConcert(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := authorizeHost(r.Context(), concert.HostID); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	snap, err := h.stats.ForConcert(r.Context(), concert.ID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HostConcerts handles GET /hosts/{id}/concerts
func (h *Handler) HostConcerts(w http.ResponseWriter, r *http.Request) {
	hostID := chi.URLParam(r, "id")
	if err := authorizeHost(r.Context(), hostID); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	concerts, err := h.concerts.ListConcertsByHost(r.Context(), hostID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if concerts == nil {
		concerts = []model.Concert{}
	}
	writeJSON(w, http.StatusOK, concerts)
}

// HostStats handles GET /hosts/{id}/stats
func (h *Handler) HostStats(w http.ResponseWriter, r *http.Request) {
	hostID := chi.URLParam(r, "id")
	if err := authorizeHost(r.Context(), hostID); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	snap, err := h.stats.ForHost(r.Context(), hostID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
