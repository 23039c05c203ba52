// Package events implements the progress broker: per-session in-memory
// topics that multiplex ordered progress events from workers to
// subscribers, with late-join replay and WebSocket delivery.
package events

import (
	"time"

	"github.com/luissimon96/migration-validator/pkg/models"
)

// EventType distinguishes broker events.
type EventType string

// Event types.
const (
	EventStatus EventType = "session.status"
	EventLog    EventType = "session.log"
)

// Event is one append-only progress record. Seq is assigned by the topic
// and is strictly increasing per session.
type Event struct {
	Seq       int64            `json:"seq"`
	Type      EventType        `json:"type"`
	SessionID string           `json:"session_id"`
	Timestamp time.Time        `json:"timestamp"`
	Status    models.Status    `json:"status,omitempty"`
	Log       *models.LogEntry `json:"log,omitempty"`
}
