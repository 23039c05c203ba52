package services

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/luissimon96/migration-validator/pkg/models"
)

// ResultService persists unified results and their discrepancies.
type ResultService struct {
	db *sqlx.DB
}

// NewResultService creates a new ResultService.
func NewResultService(db *sqlx.DB) *ResultService {
	return &ResultService{db: db}
}

// SaveUnifiedResult stores the result and its discrepancy list in one
// transaction. Discrepancies reference the result with a nullable FK so
// result deletion never orphans them.
func (s *ResultService) SaveUnifiedResult(ctx context.Context, sessionID string, result *models.UnifiedResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling result payload: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTxx(writeCtx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	resultID := uuid.New().String()
	_, err = tx.ExecContext(writeCtx, `
		INSERT INTO validation_results
			(id, session_id, kind, overall_status, fidelity_score, summary, execution_time, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		resultID, sessionID, string(result.Kind), string(result.Status),
		result.FidelityScore, result.Summary, result.ExecutionSecs, payload)
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}

	for i := range result.Discrepancies {
		d := &result.Discrepancies[i]
		var contextJSON []byte
		if d.Context != nil {
			if contextJSON, err = json.Marshal(d.Context); err != nil {
				return fmt.Errorf("marshaling discrepancy context: %w", err)
			}
		}
		_, err = tx.ExecContext(writeCtx, `
			INSERT INTO validation_discrepancies
				(session_id, result_id, kind, severity, description, source_element,
				 target_element, recommendation, confidence, component, context)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, NULLIF($10, ''), $11)`,
			sessionID, resultID, string(d.Kind), string(d.Severity), d.Description,
			d.SourceElement, d.TargetElement, d.Recommendation, d.Confidence,
			string(d.Component), contextJSON)
		if err != nil {
			return fmt.Errorf("failed to insert discrepancy: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit result: %w", err)
	}
	return nil
}

// GetUnifiedResult loads the most recent unified result for a session.
func (s *ResultService) GetUnifiedResult(ctx context.Context, sessionID string) (*models.UnifiedResult, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload, `
		SELECT payload FROM validation_results
		WHERE session_id = $1
		ORDER BY created_at DESC LIMIT 1`, sessionID)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	var result models.UnifiedResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("unmarshaling result payload: %w", err)
	}
	return &result, nil
}

// BehavioralResultService persists per-scenario behavioral outcomes.
type BehavioralResultService struct {
	db *sqlx.DB
}

// NewBehavioralResultService creates a new BehavioralResultService.
func NewBehavioralResultService(db *sqlx.DB) *BehavioralResultService {
	return &BehavioralResultService{db: db}
}

// ScenarioOutcome is one scenario's persisted record. Credentials never
// appear in traces; the prober redacts typed secrets before returning.
type ScenarioOutcome struct {
	ScenarioName    string
	ExecutionStatus string
	SourceTrace     *models.Trace
	TargetTrace     *models.Trace
	Comparison      *models.ScenarioScore
	Duration        time.Duration
	Error           string
}

// SaveOutcomes stores the behavioral outcomes for a session.
func (s *BehavioralResultService) SaveOutcomes(ctx context.Context, sessionID string, outcomes []ScenarioOutcome) error {
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTxx(writeCtx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, o := range outcomes {
		sourceJSON, err := marshalOrNil(o.SourceTrace)
		if err != nil {
			return err
		}
		targetJSON, err := marshalOrNil(o.TargetTrace)
		if err != nil {
			return err
		}
		comparisonJSON, err := marshalOrNil(o.Comparison)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(writeCtx, `
			INSERT INTO behavioral_test_results
				(session_id, scenario_name, execution_status, source_trace, target_trace,
				 comparison, execution_duration, error)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))`,
			sessionID, o.ScenarioName, o.ExecutionStatus, sourceJSON, targetJSON,
			comparisonJSON, o.Duration.Seconds(), o.Error)
		if err != nil {
			return fmt.Errorf("failed to insert behavioral result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit behavioral results: %w", err)
	}
	return nil
}

func marshalOrNil[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling behavioral payload: %w", err)
	}
	return data, nil
}
