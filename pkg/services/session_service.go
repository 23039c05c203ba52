package services

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/luissimon96/migration-validator/pkg/models"
)

// SessionService manages validation session rows.
type SessionService struct {
	db *sqlx.DB
}

// NewSessionService creates a new SessionService.
func NewSessionService(db *sqlx.DB) *SessionService {
	return &SessionService{db: db}
}

// sessionRow mirrors the validation_sessions table.
type sessionRow struct {
	ID          string     `db:"id"`
	RequestID   string     `db:"request_id"`
	Tenant      string     `db:"tenant"`
	Status      string     `db:"status"`
	Band        string     `db:"priority_band"`
	SourceTech  string     `db:"source_tech"`
	TargetTech  string     `db:"target_tech"`
	Scope       string     `db:"scope"`
	InputBundle []byte     `db:"input_bundle"`
	Error       *string    `db:"error_message"`
	WorkerID    *string    `db:"worker_id"`
	Version     int        `db:"version"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
	StartedAt   *time.Time `db:"started_at"`
	CompletedAt *time.Time `db:"completed_at"`
	HeartbeatAt *time.Time `db:"last_heartbeat_at"`
	DeletedAt   *time.Time `db:"deleted_at"`
	DeletedBy   *string    `db:"deleted_by"`
}

// sessionDoc is the JSON document stored in input_bundle. Behavioral
// credentials are stripped before persistence.
type sessionDoc struct {
	SourceTech models.TechnologyContext `json:"source_tech"`
	TargetTech models.TechnologyContext `json:"target_tech"`
	Source     *models.InputBundle      `json:"source,omitempty"`
	Target     *models.InputBundle      `json:"target,omitempty"`
	Behavioral *models.BehavioralConfig `json:"behavioral,omitempty"`
}

func toRow(s *models.Session) (*sessionRow, error) {
	doc := sessionDoc{
		SourceTech: s.SourceTech,
		TargetTech: s.TargetTech,
		Source:     s.Source,
		Target:     s.Target,
		Behavioral: s.Behavioral,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling input bundle: %w", err)
	}
	return &sessionRow{
		ID:          s.ID,
		RequestID:   s.RequestID,
		Tenant:      s.Tenant,
		Status:      string(s.Status),
		Band:        string(s.Band),
		SourceTech:  s.SourceTech.Name,
		TargetTech:  s.TargetTech.Name,
		Scope:       string(s.Scope),
		InputBundle: data,
		Version:     s.Version,
	}, nil
}

func fromRow(r *sessionRow) (*models.Session, error) {
	s := &models.Session{
		ID:          r.ID,
		RequestID:   r.RequestID,
		Tenant:      r.Tenant,
		Status:      models.Status(r.Status),
		Band:        models.PriorityBand(r.Band),
		Scope:       models.Scope(r.Scope),
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		HeartbeatAt: r.HeartbeatAt,
		DeletedAt:   r.DeletedAt,
	}
	if r.Error != nil {
		s.Error = *r.Error
	}
	if r.WorkerID != nil {
		s.WorkerID = *r.WorkerID
	}
	if r.DeletedBy != nil {
		s.DeletedBy = *r.DeletedBy
	}
	if len(r.InputBundle) > 0 {
		var doc sessionDoc
		if err := json.Unmarshal(r.InputBundle, &doc); err != nil {
			return nil, fmt.Errorf("unmarshaling input bundle: %w", err)
		}
		s.SourceTech = doc.SourceTech
		s.TargetTech = doc.TargetTech
		s.Source = doc.Source
		s.Target = doc.Target
		s.Behavioral = doc.Behavioral
	}
	return s, nil
}

// CreateSession inserts a new session in its initial status. The caller
// supplies the request_id; IDs are assigned here.
func (s *SessionService) CreateSession(ctx context.Context, session *models.Session) error {
	if session.RequestID == "" {
		return NewValidationError("request_id", "required")
	}
	if !session.Scope.Valid() {
		return NewValidationError("scope", "unknown value")
	}
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.Status == "" {
		session.Status = models.StatusPending
	}
	if session.Band == "" {
		session.Band = models.BandInteractive
	}
	session.Version = 1

	row, err := toRow(session)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err = s.db.NamedExecContext(writeCtx, `
		INSERT INTO validation_sessions
			(id, request_id, tenant, status, priority_band, source_tech, target_tech, scope, input_bundle, version)
		VALUES
			(:id, :request_id, :tenant, :status, :priority_band, :source_tech, :target_tech, :scope, :input_bundle, :version)`,
		row)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetByRequestID retrieves a non-deleted session by its request_id.
func (s *SessionService) GetByRequestID(ctx context.Context, requestID string) (*models.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM validation_sessions
		WHERE request_id = $1 AND deleted_at IS NULL`, requestID)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return fromRow(&row)
}

// SessionFilters narrows ListSessions.
type SessionFilters struct {
	Status         string
	Scope          string
	SourceTech     string
	TargetTech     string
	Tenant         string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// SessionList is a page of sessions.
type SessionList struct {
	Sessions   []*models.Session `json:"sessions"`
	TotalCount int               `json:"total_count"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
}

// ListSessions lists sessions with filtering and pagination, newest first.
func (s *SessionService) ListSessions(ctx context.Context, f SessionFilters) (*SessionList, error) {
	where := []string{"1=1"}
	args := map[string]any{}
	if f.Status != "" {
		where = append(where, "status = :status")
		args["status"] = f.Status
	}
	if f.Scope != "" {
		where = append(where, "scope = :scope")
		args["scope"] = f.Scope
	}
	if f.SourceTech != "" {
		where = append(where, "source_tech = :source_tech")
		args["source_tech"] = f.SourceTech
	}
	if f.TargetTech != "" {
		where = append(where, "target_tech = :target_tech")
		args["target_tech"] = f.TargetTech
	}
	if f.Tenant != "" {
		where = append(where, "tenant = :tenant")
		args["tenant"] = f.Tenant
	}
	if !f.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	clause := strings.Join(where, " AND ")

	countQuery, countArgs, err := sqlx.Named(
		"SELECT COUNT(*) FROM validation_sessions WHERE "+clause, args)
	if err != nil {
		return nil, fmt.Errorf("building count query: %w", err)
	}
	var total int
	if err := s.db.GetContext(ctx, &total, s.db.Rebind(countQuery), countArgs...); err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	args["limit"] = limit
	args["offset"] = offset

	listQuery, listArgs, err := sqlx.Named(`
		SELECT * FROM validation_sessions WHERE `+clause+`
		ORDER BY created_at DESC LIMIT :limit OFFSET :offset`, args)
	if err != nil {
		return nil, fmt.Errorf("building list query: %w", err)
	}
	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(listQuery), listArgs...); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]*models.Session, 0, len(rows))
	for i := range rows {
		sess, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return &SessionList{Sessions: sessions, TotalCount: total, Limit: limit, Offset: offset}, nil
}

// UpdateStatusCAS transitions a session's status with an optimistic version
// check. Returns ErrStaleVersion when the row moved underneath the caller.
// Re-applying a transition the row already has is a no-op success.
func (s *SessionService) UpdateStatusCAS(ctx context.Context, sessionID string, expectVersion int, status models.Status, errorMessage string) error {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	completed := "completed_at"
	if status.IsTerminal() {
		completed = "now()"
	}

	res, err := s.db.ExecContext(writeCtx, `
		UPDATE validation_sessions
		SET status = $1,
		    error_message = NULLIF($2, ''),
		    updated_at = now(),
		    completed_at = `+completed+`,
		    version = version + 1
		WHERE id = $3 AND version = $4`,
		string(status), errorMessage, sessionID, expectVersion)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		current, getErr := s.getStatusVersion(writeCtx, sessionID)
		if getErr != nil {
			return getErr
		}
		// Idempotent receive: same transition applied twice is a no-op.
		if current.status == status {
			return nil
		}
		return ErrStaleVersion
	}
	return nil
}

type statusVersion struct {
	status  models.Status
	version int
}

func (s *SessionService) getStatusVersion(ctx context.Context, sessionID string) (statusVersion, error) {
	var row struct {
		Status  string `db:"status"`
		Version int    `db:"version"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT status, version FROM validation_sessions WHERE id = $1`, sessionID)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return statusVersion{}, ErrNotFound
		}
		return statusVersion{}, fmt.Errorf("failed to read session status: %w", err)
	}
	return statusVersion{status: models.Status(row.Status), version: row.Version}, nil
}

// ClaimNextQueued atomically claims the next queued session using
// FOR UPDATE SKIP LOCKED. Interactive sessions drain strictly before batch;
// within a band, FIFO by created_at. Returns nil when the queue is empty.
func (s *SessionService) ClaimNextQueued(ctx context.Context, workerID string) (*models.Session, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTxx(claimCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var row sessionRow
	err = tx.GetContext(claimCtx, &row, `
		SELECT * FROM validation_sessions
		WHERE status = $1 AND deleted_at IS NULL
		ORDER BY CASE priority_band WHEN 'interactive' THEN 0 ELSE 1 END, created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		string(models.StatusQueued))
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query queued session: %w", err)
	}

	now := time.Now()
	_, err = tx.ExecContext(claimCtx, `
		UPDATE validation_sessions
		SET status = $1, worker_id = $2, started_at = $3, last_heartbeat_at = $3,
		    updated_at = $3, version = version + 1
		WHERE id = $4`,
		string(models.StatusProcessing), workerID, now, row.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	row.Status = string(models.StatusProcessing)
	row.WorkerID = &workerID
	row.StartedAt = &now
	row.Version++
	return fromRow(&row)
}

// Heartbeat refreshes last_heartbeat_at while a worker processes a session.
func (s *SessionService) Heartbeat(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE validation_sessions SET last_heartbeat_at = now() WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("heartbeat update failed: %w", err)
	}
	return nil
}

// CountByStatus returns how many non-deleted sessions are in the status.
func (s *SessionService) CountByStatus(ctx context.Context, status models.Status) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM validation_sessions
		WHERE status = $1 AND deleted_at IS NULL`, string(status))
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

// CountActiveForTenant counts a tenant's non-terminal, non-deleted sessions.
func (s *SessionService) CountActiveForTenant(ctx context.Context, tenant string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM validation_sessions
		WHERE tenant = $1 AND deleted_at IS NULL
		  AND status IN ($2, $3, $4)`,
		tenant,
		string(models.StatusPending), string(models.StatusQueued), string(models.StatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("failed to count tenant sessions: %w", err)
	}
	return n, nil
}

// SoftDelete marks a terminal session deleted. Non-terminal sessions are
// not deletable; cancel them first.
func (s *SessionService) SoftDelete(ctx context.Context, sessionID, actor string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE validation_sessions
		SET deleted_at = now(), deleted_by = $1, updated_at = now()
		WHERE id = $2 AND deleted_at IS NULL
		  AND status IN ($3, $4, $5, $6)`,
		actor, sessionID,
		string(models.StatusCompleted), string(models.StatusFailed),
		string(models.StatusCancelled), string(models.StatusTimedOut))
	if err != nil {
		return fmt.Errorf("failed to soft delete session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindOrphaned returns processing sessions whose heartbeat is older than
// the threshold.
func (s *SessionService) FindOrphaned(ctx context.Context, threshold time.Duration) ([]*models.Session, error) {
	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM validation_sessions
		WHERE status = $1 AND last_heartbeat_at IS NOT NULL AND last_heartbeat_at < $2`,
		string(models.StatusProcessing), time.Now().Add(-threshold))
	if err != nil {
		return nil, fmt.Errorf("failed to find orphaned sessions: %w", err)
	}
	sessions := make([]*models.Session, 0, len(rows))
	for i := range rows {
		sess, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// RecoverInterrupted handles crash recovery at startup: sessions left in
// processing are failed with reason "interrupted"; queued sessions stay
// queued and are re-admitted by the pool. Returns the number failed.
func (s *SessionService) RecoverInterrupted(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE validation_sessions
		SET status = $1, error_message = 'interrupted', completed_at = now(),
		    updated_at = now(), version = version + 1
		WHERE status = $2`,
		string(models.StatusFailed), string(models.StatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("failed to recover interrupted sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return int(n), nil
}

// SoftDeleteOlderThan soft deletes terminal sessions completed before the
// retention cutoff. Returns the number affected.
func (s *SessionService) SoftDeleteOlderThan(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention_days must be positive, got %d", retentionDays)
	}
	cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	deleteCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(deleteCtx, `
		UPDATE validation_sessions
		SET deleted_at = now(), deleted_by = 'retention', updated_at = now()
		WHERE completed_at < $1 AND deleted_at IS NULL`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to soft delete sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return int(n), nil
}

// isUniqueViolation detects a unique-constraint error across drivers.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key") ||
		err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
