package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/luissimon96/migration-validator/pkg/models"
)

// writeTimeout bounds a single WebSocket send so one stalled client cannot
// wedge the delivery goroutine.
const writeTimeout = 10 * time.Second

// SnapshotQuerier reads persisted log entries for sessions whose topic has
// been evicted. Implemented by the log service.
type SnapshotQuerier interface {
	ListSince(ctx context.Context, sessionID string, sinceID int64, limit int) ([]models.LogEntry, error)
}

// StreamSession delivers a session's progress events over an accepted
// WebSocket connection. Live topics replay from the start and then stream;
// evicted topics serve the stored snapshot and close. Blocks until the
// client disconnects or the topic ends.
func StreamSession(ctx context.Context, conn *websocket.Conn, broker *Broker, snapshots SnapshotQuerier, sessionID string) {
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	ch, cancel, ok := broker.Subscribe(sessionID, true)
	if !ok {
		streamSnapshot(ctx, conn, snapshots, sessionID)
		return
	}
	defer cancel()

	// Drain client frames so pings and closes are processed.
	readCtx, stopRead := context.WithCancel(ctx)
	defer stopRead()
	go func() {
		for {
			if _, _, err := conn.Read(readCtx); err != nil {
				stopRead()
				return
			}
		}
	}()

	for {
		select {
		case <-readCtx.Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			if err := sendJSON(ctx, conn, evt); err != nil {
				slog.Warn("Failed to send progress event",
					"session_id", sessionID, "error", err)
				return
			}
		}
	}
}

// streamSnapshot replays persisted log entries for a terminal session.
func streamSnapshot(ctx context.Context, conn *websocket.Conn, snapshots SnapshotQuerier, sessionID string) {
	if snapshots == nil {
		return
	}
	entries, err := snapshots.ListSince(ctx, sessionID, 0, 1000)
	if err != nil {
		slog.Warn("Snapshot query failed", "session_id", sessionID, "error", err)
		return
	}
	for i := range entries {
		evt := Event{
			Seq:       entries[i].ID,
			Type:      EventLog,
			SessionID: sessionID,
			Timestamp: entries[i].Timestamp,
			Log:       &entries[i],
		}
		if err := sendJSON(ctx, conn, evt); err != nil {
			return
		}
	}
}

func sendJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
