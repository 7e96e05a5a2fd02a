package election

import (
	"time"

	"github.com/jwalitptl/election-api/internal/model"
)

// Resolve derives the temporal status of a published election. Cancelled and
// Draft are manual states; callers check them before consulting Resolve.
func Resolve(start, end, now time.Time) model.ElectionStatus {
	switch {
	case now.Before(start):
		return model.ElectionStatusUpcoming
	case now.After(end):
		return model.ElectionStatusCompleted
	default:
		return model.ElectionStatusActive
	}
}

// EffectiveStatus is the status an election has at now.
func EffectiveStatus(e *model.Election, now time.Time) model.ElectionStatus {
	switch e.Status {
	case model.ElectionStatusCancelled, model.ElectionStatusDraft:
		return e.Status
	}
	return Resolve(e.StartDate, e.EndDate, now)
}
