// Package capacity computes approved-guest totals and free seats for a
// concert from its RSVP set. Everything here is pure and safe to call
// concurrently.
package capacity

import "github.com/Shivanand-hulikatti/concert-rsvp/internal/model"

// Compute summarises rsvps against maxCapacity. AvailableSpaces goes
// negative only when the stored data already breaks the capacity invariant.
func Compute(maxCapacity int, rsvps []model.RSVP) model.Snapshot {
	s := model.Snapshot{MaxCapacity: maxCapacity}
	for _, r := range rsvps {
		s.Total++
		s.TotalGuests += r.GuestsCount
		switch r.Status {
		case model.StatusPending:
			s.PendingCount++
		case model.StatusApproved:
			s.ApprovedCount++
			s.ApprovedGuestsTotal += r.GuestsCount
		case model.StatusDeclined:
			s.DeclinedCount++
		case model.StatusWaitlisted:
			s.WaitlistedCount++
		}
	}
	s.AvailableSpaces = maxCapacity - s.ApprovedGuestsTotal
	return s
}

// ApprovedGuestsExcluding sums approved guests, skipping the RSVP with the given id.
func ApprovedGuestsExcluding(rsvps []model.RSVP, rsvpID string) int {
	total := 0
	for _, r := range rsvps {
		if r.ID == rsvpID || r.Status != model.StatusApproved {
			continue
		}
		total += r.GuestsCount
	}
	return total
}

// CanAdmit reports whether guests more fit on top of approved, and how many
// spaces are left before admitting them.
func CanAdmit(maxCapacity, approved, guests int) (available int, ok bool) {
	available = maxCapacity - approved
	return available, approved+guests <= maxCapacity
}

// Merge adds b's counts into a. MaxCapacity and AvailableSpaces are summed
// too, which is what a multi-concert host view wants.
func Merge(a, b model.Snapshot) model.Snapshot {
	return model.Snapshot{
		MaxCapacity:         a.MaxCapacity + b.MaxCapacity,
		ApprovedGuestsTotal: a.ApprovedGuestsTotal + b.ApprovedGuestsTotal,
		AvailableSpaces:     a.AvailableSpaces + b.AvailableSpaces,
		PendingCount:        a.PendingCount + b.PendingCount,
		ApprovedCount:       a.ApprovedCount + b.ApprovedCount,
		DeclinedCount:       a.DeclinedCount + b.DeclinedCount,
		WaitlistedCount:     a.WaitlistedCount + b.WaitlistedCount,
		Total:               a.Total + b.Total,
		TotalGuests:         a.TotalGuests + b.TotalGuests,
	}
}
