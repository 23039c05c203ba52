// Package session implements the session lifecycle state machine with
// write-through persistence and atomic progress emission.
package session

import (
	"github.com/luissimon96/migration-validator/pkg/models"
)

// legalTransitions encodes the session lifecycle:
// pending -> queued -> processing -> {completed, failed, cancelled, timed_out}.
// Cancellation is also legal from queued. Terminal states have no exits.
var legalTransitions = map[models.Status][]models.Status{
	models.StatusPending: {
		models.StatusQueued,
	},
	models.StatusQueued: {
		models.StatusProcessing,
		models.StatusCancelled,
	},
	models.StatusProcessing: {
		models.StatusCompleted,
		models.StatusFailed,
		models.StatusCancelled,
		models.StatusTimedOut,
	},
}

// CanTransition reports whether from → to is a legal transition.
func CanTransition(from, to models.Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
