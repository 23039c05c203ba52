package services

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luissimon96/migration-validator/pkg/models"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	return sqlx.NewDb(raw, "pgx"), mock
}

func sampleResult() *models.UnifiedResult {
	return &models.UnifiedResult{
		Kind:          models.ResultStaticOnly,
		Status:        models.ResultWithWarnings,
		FidelityScore: 0.5,
		Summary:       "two warnings",
		Discrepancies: []models.Discrepancy{
			{Kind: models.DiscUIElementRenamed, Severity: models.SeverityWarning, Description: "input renamed", SourceElement: "user_name", TargetElement: "userName", Confidence: 1},
			{Kind: models.DiscUITextChanged, Severity: models.SeverityWarning, Description: "button text changed", SourceElement: "submit_btn", TargetElement: "submit_btn", Confidence: 1},
		},
		Timestamp: time.Now(),
	}
}

func TestSaveUnifiedResultWritesResultAndDiscrepancies(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewResultService(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO validation_results")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO validation_discrepancies")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO validation_discrepancies")).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := svc.SaveUnifiedResult(context.Background(), "sess-1", sampleResult())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveUnifiedResultRollsBackOnFailure(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewResultService(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO validation_results")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := svc.SaveUnifiedResult(context.Background(), "sess-1", sampleResult())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUnifiedResultRoundTrip(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewResultService(db)

	want := sampleResult()
	payload, err := json.Marshal(want)
	require.NoError(t, err)
	mock.ExpectQuery("SELECT payload FROM validation_results").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))

	got, err := svc.GetUnifiedResult(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.FidelityScore, got.FidelityScore)
	assert.Len(t, got.Discrepancies, 2)
}

func TestGetUnifiedResultNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewResultService(db)

	mock.ExpectQuery("SELECT payload FROM validation_results").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	_, err := svc.GetUnifiedResult(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveOutcomesPersistsEachScenario(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewBehavioralResultService(db)

	outcomes := []ScenarioOutcome{
		{
			ScenarioName:    "login",
			ExecutionStatus: "completed",
			SourceTrace:     &models.Trace{Scenario: "login", Steps: []models.InteractionStep{{Kind: "navigate", Outcome: "loaded"}}},
			TargetTrace:     &models.Trace{Scenario: "login", Steps: []models.InteractionStep{{Kind: "navigate", Outcome: "loaded"}}},
			Comparison:      &models.ScenarioScore{Name: "login", Score: 1, MatchedSteps: 1, TotalSteps: 1},
			Duration:        3 * time.Second,
		},
		{
			ScenarioName:    "checkout",
			ExecutionStatus: "error",
			Error:           "browser crashed",
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO behavioral_test_results")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO behavioral_test_results")).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := svc.SaveOutcomes(context.Background(), "sess-1", outcomes)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogAppendReturnsAssignedID(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewLogService(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO session_logs")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	id, err := svc.Append(context.Background(), &models.LogEntry{
		SessionID: "sess-1",
		Level:     models.LogInfo,
		Message:   "static stage started",
		Payload:   map[string]any{"files": 3},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestLogListSinceDecodesPayload(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewLogService(db)

	rows := sqlmock.NewRows([]string{"id", "session_id", "ts", "level", "message", "payload"}).
		AddRow(int64(7), "sess-1", time.Now(), "info", "processing started", []byte(`{"worker_id":"w1"}`)).
		AddRow(int64(8), "sess-1", time.Now(), "warn", "partial representation", nil)
	mock.ExpectQuery("SELECT \\* FROM session_logs").WillReturnRows(rows)

	entries, err := svc.ListSince(context.Background(), "sess-1", 6, 100)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "w1", entries[0].Payload["worker_id"])
	assert.Nil(t, entries[1].Payload)
}
