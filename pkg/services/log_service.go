package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/luissimon96/migration-validator/pkg/models"
)

// LogService appends and reads session log entries. Entries are append-only
// and never edited.
type LogService struct {
	db *sqlx.DB
}

// NewLogService creates a new LogService.
func NewLogService(db *sqlx.DB) *LogService {
	return &LogService{db: db}
}

// Append stores one log entry and returns its assigned ID.
func (s *LogService) Append(ctx context.Context, entry *models.LogEntry) (int64, error) {
	var payload []byte
	if entry.Payload != nil {
		var err error
		if payload, err = json.Marshal(entry.Payload); err != nil {
			return 0, fmt.Errorf("marshaling log payload: %w", err)
		}
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	var id int64
	err := s.db.GetContext(ctx, &id, `
		INSERT INTO session_logs (session_id, ts, level, message, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		entry.SessionID, ts, string(entry.Level), entry.Message, payload)
	if err != nil {
		return 0, fmt.Errorf("failed to append log entry: %w", err)
	}
	return id, nil
}

// logRow mirrors the session_logs table.
type logRow struct {
	ID        int64     `db:"id"`
	SessionID string    `db:"session_id"`
	TS        time.Time `db:"ts"`
	Level     string    `db:"level"`
	Message   string    `db:"message"`
	Payload   []byte    `db:"payload"`
}

// ListSince returns log entries with IDs greater than sinceID, in append
// order. Used for late-subscriber catch-up.
func (s *LogService) ListSince(ctx context.Context, sessionID string, sinceID int64, limit int) ([]models.LogEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []logRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM session_logs
		WHERE session_id = $1 AND id > $2
		ORDER BY id
		LIMIT $3`, sessionID, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	entries := make([]models.LogEntry, 0, len(rows))
	for _, r := range rows {
		entry := models.LogEntry{
			ID:        r.ID,
			SessionID: r.SessionID,
			Timestamp: r.TS,
			Level:     models.LogLevel(r.Level),
			Message:   r.Message,
		}
		if len(r.Payload) > 0 {
			if err := json.Unmarshal(r.Payload, &entry.Payload); err != nil {
				return nil, fmt.Errorf("unmarshaling log payload: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
