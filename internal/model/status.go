package model

import "strings"

// RSVPStatus is the admission state of an RSVP.
type RSVPStatus string

// Admission states. Every RSVP starts PENDING.
const (
	StatusPending    RSVPStatus = "PENDING"
	StatusApproved   RSVPStatus = "APPROVED"
	StatusDeclined   RSVPStatus = "DECLINED"
	StatusWaitlisted RSVPStatus = "WAITLISTED"
)

// transitions lists every allowed move. Anything absent, including a move
// to the current status, is invalid.
var transitions = map[RSVPStatus][]RSVPStatus{
	StatusPending:    {StatusApproved, StatusDeclined, StatusWaitlisted},
	StatusWaitlisted: {StatusApproved, StatusDeclined},
}

// CanTransition reports whether an RSVP may move from one status to another.
func CanTransition(from, to RSVPStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s RSVPStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusDeclined, StatusWaitlisted:
		return true
	}
	return false
}

// ParseStatus accepts a status in any letter case.
func ParseStatus(raw string) (RSVPStatus, error) {
	s := RSVPStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", &ValidationError{Field: "status", Reason: "unknown status " + raw}
	}
	return s, nil
}
