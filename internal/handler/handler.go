// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Shivanand-hulikatti/concert-rsvp/internal/model"
	"github.com/Shivanand-hulikatti/concert-rsvp/internal/service"
)

const (
	codeInvalidRequestBody = "invalid_request_body"
	codeValidation         = "validation_failed"
	codeNotFound           = "not_found"
	codeInvalidTransition  = "invalid_transition"
	codeCapacityExceeded   = "capacity_exceeded"
	codeAlreadyRequested   = "already_requested"
	codeBusy               = "busy"
	codeUnauthorized       = "unauthorized"
	codeForbidden          = "forbidden"
	codeInternalError      = "internal_error"
)

// ConcertManager registers concerts and takes seat requests.
type ConcertManager interface {
	CreateConcert(ctx context.Context, in service.CreateConcertInput) (model.Concert, error)
	GetConcert(ctx context.Context, id string) (model.Concert, error)
	ListConcertsByHost(ctx context.Context, hostID string) ([]model.Concert, error)
	RequestSeats(ctx context.Context, in service.RequestSeatsInput) (model.RSVP, error)
}

// Admission is the host-facing RSVP surface.
type Admission interface {
	GetRSVP(ctx context.Context, id string) (model.RSVP, error)
	ListRSVPs(ctx context.Context, filter model.RSVPFilter) ([]model.RSVP, error)
	History(ctx context.Context, rsvpID string) ([]model.Transition, error)
	Approve(ctx context.Context, rsvpID string) (model.RSVP, error)
	Decline(ctx context.Context, rsvpID, hostResponse string) (model.RSVP, error)
	Waitlist(ctx context.Context, rsvpID string) (model.RSVP, error)
}

// StatsReader serves dashboard snapshots.
type StatsReader interface {
	ForConcert(ctx context.Context, concertID string) (model.Snapshot, error)
	ForHost(ctx context.Context, hostID string) (model.Snapshot, error)
}

// Handler holds all HTTP handlers for the RSVP API.
type Handler struct {
	concerts  ConcertManager
	admission Admission
	stats     StatsReader
	logger    *slog.Logger
	validate  *validator.Validate
	retry     RetryPolicy
}

// NewHandler constructs a Handler.
func NewHandler(concerts ConcertManager, admission Admission, stats StatsReader, logger *slog.Logger, retry RetryPolicy) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		concerts:  concerts,
		admission: admission,
		stats:     stats,
		logger:    logger,
		validate:  newValidator(),
		retry:     retry,
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg, Code: code})
}

// decodeJSON reads a JSON body of at most 1 MB. An empty body leaves dst
// untouched when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// validateRequest runs struct tags and converts the first failure into a
// model.ValidationError.
func (h *Handler) validateRequest(req any) error {
	err := h.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &model.ValidationError{Field: fe.Field(), Reason: describeTag(fe)}
	}
	return &model.ValidationError{Field: "body", Reason: err.Error()}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gt":
		return "must be greater than " + fe.Param()
	case "datetime":
		return "must match " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

// writeDomainError maps service errors onto status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		capErr   *model.CapacityError
		valErr   *model.ValidationError
		transErr *model.TransitionError
	)
	switch {
	case errors.As(err, &capErr):
		available := capErr.Available
		writeJSON(w, http.StatusConflict, model.ErrorResponse{
			Error:           capErr.Error(),
			Code:            codeCapacityExceeded,
			RequestedGuests: capErr.Requested,
			AvailableSpaces: &available,
			Shortfall:       capErr.Shortfall(),
		})
	case errors.As(err, &valErr):
		writeJSON(w, http.StatusBadRequest, model.ErrorResponse{
			Error: valErr.Error(),
			Code:  codeValidation,
			Field: valErr.Field,
		})
	case errors.As(err, &transErr):
		writeError(w, http.StatusConflict, codeInvalidTransition, transErr.Error())
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, model.ErrAlreadyRequested):
		writeError(w, http.StatusConflict, codeAlreadyRequested, err.Error())
	case errors.Is(err, model.ErrBusy), errors.Is(err, context.DeadlineExceeded):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, codeBusy, "concert is busy, retry shortly")
	case errors.Is(err, errForbidden):
		writeError(w, http.StatusForbidden, codeForbidden, "not the host of this concert")
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
