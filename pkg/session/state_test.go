package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/luissimon96/migration-validator/pkg/models"
)

func TestLegalTransitions(t *testing.T) {
	tests := []struct {
		from models.Status
		to   models.Status
		ok   bool
	}{
		{models.StatusPending, models.StatusQueued, true},
		{models.StatusQueued, models.StatusProcessing, true},
		{models.StatusQueued, models.StatusCancelled, true},
		{models.StatusProcessing, models.StatusCompleted, true},
		{models.StatusProcessing, models.StatusFailed, true},
		{models.StatusProcessing, models.StatusCancelled, true},
		{models.StatusProcessing, models.StatusTimedOut, true},

		{models.StatusPending, models.StatusProcessing, false},
		{models.StatusPending, models.StatusCancelled, false},
		{models.StatusQueued, models.StatusCompleted, false},
		{models.StatusCompleted, models.StatusProcessing, false},
		{models.StatusFailed, models.StatusQueued, false},
		{models.StatusCancelled, models.StatusProcessing, false},
		{models.StatusTimedOut, models.StatusCompleted, false},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminal := []models.Status{
		models.StatusCompleted, models.StatusFailed,
		models.StatusCancelled, models.StatusTimedOut,
	}
	for _, s := range terminal {
		assert.Truef(t, s.IsTerminal(), "%s should be terminal", s)
		assert.Emptyf(t, legalTransitions[s], "%s must have no exits", s)
	}
	for _, s := range []models.Status{models.StatusPending, models.StatusQueued, models.StatusProcessing} {
		assert.Falsef(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}
