package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/concert-rsvp/internal/model"
)

// ListRSVPs handles GET /rsvps?concert_id=&host_id=&status=
//
// An authenticated host only ever sees their own concerts' requests.
func (h *Handler) ListRSVPs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.RSVPFilter{
		ConcertID: q.Get("concert_id"),
		HostID:    q.Get("host_id"),
	}
	if raw := q.Get("status"); raw != "" {
		status, err := model.ParseStatus(raw)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		filter.Status = status
	}

	if caller, ok := hostFromContext(r.Context()); ok {
		if filter.HostID != "" && filter.HostID != caller {
			h.writeDomainError(w, r, errForbidden)
			return
		}
		filter.HostID = caller
	}

	rsvps, err := h.admission.ListRSVPs(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if rsvps == nil {
		rsvps = []model.RSVP{}
	}
	writeJSON(w, http.StatusOK, rsvps)
}

// GetRSVP handles GET /rsvps/{id}
func (h *Handler) GetRSVP(w http.ResponseWriter, r *http.Request) {
	rsvp, err := h.ownedRSVP(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rsvp)
}

// Transitions handles GET /rsvps/{id}/transitions
func (h *Handler) Transitions(w http.ResponseWriter, r *http.Request) {
	rsvp, err := h.ownedRSVP(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	history, err := h.admission.History(r.Context(), rsvp.ID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if history == nil {
		history = []model.Transition{}
	}
	writeJSON(w, http.StatusOK, history)
}

// Approve handles POST /rsvps/{id}/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(ctx context.Context, id string) (model.RSVP, error) {
		return h.admission.Approve(ctx, id)
	})
}

// Waitlist handles POST /rsvps/{id}/waitlist
func (h *Handler) Waitlist(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(ctx context.Context, id string) (model.RSVP, error) {
		return h.admission.Waitlist(ctx, id)
	})
}

// Decline handles POST /rsvps/{id}/decline with an optional
// {"host_response": "..."} body.
func (h *Handler) Decline(w http.ResponseWriter, r *http.Request) {
	var req model.DeclineRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body: "+err.Error())
		return
	}
	// Length is checked by the service so that an invalid transition is
	// reported ahead of an overlong note.
	h.decide(w, r, func(ctx context.Context, id string) (model.RSVP, error) {
		return h.admission.Decline(ctx, id, req.HostResponse)
	})
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, act func(context.Context, string) (model.RSVP, error)) {
	ctx := r.Context()
	rsvp, err := h.ownedRSVP(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	updated, err := retryBusy(ctx, h.retry, func() (model.RSVP, error) {
		return act(ctx, rsvp.ID)
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// ownedRSVP loads an RSVP and checks that the caller hosts its concert.
func (h *Handler) ownedRSVP(ctx context.Context, id string) (model.RSVP, error) {
	rsvp, err := h.admission.GetRSVP(ctx, id)
	if err != nil {
		return model.RSVP{}, err
	}
	if _, ok := hostFromContext(ctx); !ok {
		return rsvp, nil
	}
	concert, err := h.concerts.GetConcert(ctx, rsvp.ConcertID)
	if err != nil {
		return model.RSVP{}, err
	}
	if err := authorizeHost(ctx, concert.HostID); err != nil {
		return model.RSVP{}, err
	}
	return rsvp, nil
}
