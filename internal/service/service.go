// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the repository layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/concert-rsvp/internal/clock"
	"github.com/Shivanand-hulikatti/concert-rsvp/internal/model"
)

// ConcertRepository is the storage surface for concerts and new requests.
type ConcertRepository interface {
	CreateConcert(ctx context.Context, c model.Concert) error
	GetConcert(ctx context.Context, id string) (model.Concert, error)
	ListConcertsByHost(ctx context.Context, hostID string) ([]model.Concert, error)
	CreateRSVP(ctx context.Context, r model.RSVP) error
}

// ConcertService registers concerts and takes fans' seat requests. Concert
// creation stands in for the external booking flow.
type ConcertService struct {
	repo  ConcertRepository
	clock clock.Clock
}

// NewConcertService constructs a ConcertService with its dependencies.
func NewConcertService(repo ConcertRepository, clk clock.Clock) *ConcertService {
	return &ConcertService{repo: repo, clock: clk}
}

// CreateConcertInput describes a concert to register.
type CreateConcertInput struct {
	HostID      string
	ArtistID    string
	Date        time.Time
	StartTime   string
	MaxCapacity int
}

// CreateConcert validates the input and stores a new concert.
func (s *ConcertService) CreateConcert(ctx context.Context, in CreateConcertInput) (model.Concert, error) {
	in.HostID = strings.TrimSpace(in.HostID)
	in.ArtistID = strings.TrimSpace(in.ArtistID)
	if in.HostID == "" {
		return model.Concert{}, &model.ValidationError{Field: "host_id", Reason: "is required"}
	}
	if in.ArtistID == "" {
		return model.Concert{}, &model.ValidationError{Field: "artist_id", Reason: "is required"}
	}
	if in.MaxCapacity <= 0 {
		return model.Concert{}, &model.ValidationError{Field: "max_capacity", Reason: "must be a positive integer"}
	}
	if in.MaxCapacity > 100_000 {
		return model.Concert{}, &model.ValidationError{Field: "max_capacity", Reason: "cannot exceed 100,000"}
	}

	concert := model.Concert{
		ID:          uuid.NewString(),
		HostID:      in.HostID,
		ArtistID:    in.ArtistID,
		Date:        in.Date,
		StartTime:   in.StartTime,
		MaxCapacity: in.MaxCapacity,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.repo.CreateConcert(ctx, concert); err != nil {
		return model.Concert{}, fmt.Errorf("create concert: %w", err)
	}
	return concert, nil
}

// GetConcert returns a single concert by ID.
func (s *ConcertService) GetConcert(ctx context.Context, id string) (model.Concert, error) {
	if id == "" {
		return model.Concert{}, &model.ValidationError{Field: "concert_id", Reason: "is required"}
	}
	return s.repo.GetConcert(ctx, id)
}

// ListConcertsByHost returns the concerts a host owns, earliest date first.
func (s *ConcertService) ListConcertsByHost(ctx context.Context, hostID string) ([]model.Concert, error) {
	return s.repo.ListConcertsByHost(ctx, hostID)
}

// RequestSeatsInput is a fan's ask for seats at one concert.
type RequestSeatsInput struct {
	ConcertID       string
	FanID           string
	GuestsCount     int
	SpecialRequests string
}

// RequestSeats records a PENDING RSVP. Capacity is not checked here; that
// is the host's decision through AdmissionService.
func (s *ConcertService) RequestSeats(ctx context.Context, in RequestSeatsInput) (model.RSVP, error) {
	in.FanID = strings.TrimSpace(in.FanID)
	if in.FanID == "" {
		return model.RSVP{}, &model.ValidationError{Field: "fan_id", Reason: "is required"}
	}
	if err := model.ValidateGuestsCount(in.GuestsCount); err != nil {
		return model.RSVP{}, err
	}
	if err := model.ValidateSpecialRequests(in.SpecialRequests); err != nil {
		return model.RSVP{}, err
	}
	if _, err := s.repo.GetConcert(ctx, in.ConcertID); err != nil {
		return model.RSVP{}, err
	}

	now := s.clock.Now()
	rsvp := model.RSVP{
		ID:              uuid.NewString(),
		ConcertID:       in.ConcertID,
		FanID:           in.FanID,
		GuestsCount:     in.GuestsCount,
		SpecialRequests: strings.TrimSpace(in.SpecialRequests),
		Status:          model.StatusPending,
		RSVPDate:        now,
		StatusUpdatedAt: now,
	}
	if err := s.repo.CreateRSVP(ctx, rsvp); err != nil {
		if errors.Is(err, model.ErrAlreadyRequested) {
			return model.RSVP{}, err
		}
		return model.RSVP{}, fmt.Errorf("request seats: %w", err)
	}
	return rsvp, nil
}
