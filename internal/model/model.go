// Package model defines the core domain types for the house-concert RSVP system.
package model

import (
	"time"
	"unicode/utf8"
)

const (
	// MaxHostResponseLength caps the note a host attaches to a decision, in characters.
	MaxHostResponseLength = 500
	// MaxSpecialRequestsLength caps the free text a fan attaches to a request, in characters.
	MaxSpecialRequestsLength = 1000
)

// Concert is a capacity-bounded house show. MaxCapacity never changes once
// the concert exists.
type Concert struct {
	ID          string    `json:"id"`
	HostID      string    `json:"host_id"`
	ArtistID    string    `json:"artist_id"`
	Date        time.Time `json:"date"`
	StartTime   string    `json:"start_time"`
	MaxCapacity int       `json:"max_capacity"`
	CreatedAt   time.Time `json:"created_at"`
}

// RSVP is a fan's request for guest seating at one concert.
type RSVP struct {
	ID              string     `json:"id"`
	ConcertID       string     `json:"concert_id"`
	FanID           string     `json:"fan_id"`
	GuestsCount     int        `json:"guests_count"`
	SpecialRequests string     `json:"special_requests,omitempty"`
	Status          RSVPStatus `json:"status"`
	RSVPDate        time.Time  `json:"rsvp_date"`
	StatusUpdatedAt time.Time  `json:"status_updated_at"`
	HostResponse    string     `json:"host_response,omitempty"`
}

// RSVPFilter narrows a listing. Empty fields do not filter.
type RSVPFilter struct {
	ConcertID string
	HostID    string
	Status    RSVPStatus
}

// Matches reports whether r passes the filter. hostID is the owner of r's concert.
func (f RSVPFilter) Matches(r RSVP, hostID string) bool {
	if f.ConcertID != "" && r.ConcertID != f.ConcertID {
		return false
	}
	if f.HostID != "" && hostID != f.HostID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// Transition records one applied status change. It is persisted together
// with the change and handed to the notification emitter after commit.
type Transition struct {
	ID           string     `json:"id"`
	RSVPID       string     `json:"rsvp_id"`
	ConcertID    string     `json:"concert_id"`
	FanID        string     `json:"fan_id"`
	From         RSVPStatus `json:"from"`
	To           RSVPStatus `json:"to"`
	HostResponse string     `json:"host_response,omitempty"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

// Snapshot summarises capacity and request counts. It is always derived
// from the current RSVP set and never stored.
type Snapshot struct {
	MaxCapacity         int `json:"max_capacity"`
	ApprovedGuestsTotal int `json:"approved_guests_total"`
	AvailableSpaces     int `json:"available_spaces"`
	PendingCount        int `json:"pending_count"`
	ApprovedCount       int `json:"approved_count"`
	DeclinedCount       int `json:"declined_count"`
	WaitlistedCount     int `json:"waitlisted_count"`
	Total               int `json:"total"`
	TotalGuests         int `json:"total_guests"`
}

// IsFull returns true when no seats remain.
func (s Snapshot) IsFull() bool {
	return s.AvailableSpaces <= 0
}

// ValidateGuestsCount rejects party sizes below one.
func ValidateGuestsCount(n int) error {
	if n < 1 {
		return &ValidationError{Field: "guests_count", Reason: "must be at least 1"}
	}
	return nil
}

// ValidateHostResponse rejects host notes longer than MaxHostResponseLength characters.
func ValidateHostResponse(s string) error {
	if utf8.RuneCountInString(s) > MaxHostResponseLength {
		return &ValidationError{Field: "host_response", Reason: "must be at most 500 characters"}
	}
	return nil
}

// ValidateSpecialRequests rejects fan notes longer than MaxSpecialRequestsLength characters.
func ValidateSpecialRequests(s string) error {
	if utf8.RuneCountInString(s) > MaxSpecialRequestsLength {
		return &ValidationError{Field: "special_requests", Reason: "must be at most 1000 characters"}
	}
	return nil
}

// CreateConcertRequest is the payload for registering a concert.
type CreateConcertRequest struct {
	HostID      string `json:"host_id" validate:"required"`
	ArtistID    string `json:"artist_id" validate:"required"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime   string `json:"start_time" validate:"required,datetime=15:04"`
	MaxCapacity int    `json:"max_capacity" validate:"gt=0"`
}

// RequestSeatsRequest is the payload a fan sends to ask for seats.
type RequestSeatsRequest struct {
	FanID           string `json:"fan_id" validate:"required"`
	GuestsCount     int    `json:"guests_count" validate:"min=1"`
	SpecialRequests string `json:"special_requests" validate:"max=1000"`
}

// DeclineRequest is the optional payload for declining an RSVP. The note's
// length is checked by the admission service, after the transition itself.
type DeclineRequest struct {
	HostResponse string `json:"host_response"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`

	Field           string `json:"field,omitempty"`
	RequestedGuests int    `json:"requested_guests,omitempty"`
	AvailableSpaces *int   `json:"available_spaces,omitempty"`
	Shortfall       int    `json:"shortfall,omitempty"`
}
