package pipeline

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luissimon96/migration-validator/pkg/behavioral"
	"github.com/luissimon96/migration-validator/pkg/models"
	"github.com/luissimon96/migration-validator/pkg/services"
	"github.com/luissimon96/migration-validator/pkg/session"
)

// fakeProber returns canned traces, optionally after invoking a hook.
type fakeProber struct {
	hook  func(ctx context.Context)
	trace func(url string) *models.Trace
	err   error
}

func (p *fakeProber) RunScenario(ctx context.Context, url string, scenario models.Scenario, _ *models.Credentials) (*models.Trace, error) {
	if p.hook != nil {
		p.hook(ctx)
	}
	if p.err != nil {
		return nil, p.err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if p.trace == nil {
		return &models.Trace{URL: url}, nil
	}
	return p.trace(url), nil
}

func steadyTrace(url string) *models.Trace {
	return &models.Trace{
		URL: url,
		Steps: []models.InteractionStep{
			{Kind: "navigate", Outcome: "loaded", StateFingerprint: "fp-1"},
			{Kind: "click", Selector: "#go", Outcome: "clicked", StateFingerprint: "fp-2"},
		},
	}
}

func newExecutorHarness(t *testing.T, prober behavioral.Prober) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	db := sqlx.NewDb(raw, "pgx")

	manager := session.NewManager(services.NewSessionService(db), services.NewLogService(db), nil)
	exec := NewExecutor(nil, nil, prober, manager,
		services.NewResultService(db), services.NewBehavioralResultService(db),
		nil, nil, nil)
	return exec, mock
}

func behavioralSession() *models.Session {
	return &models.Session{
		ID:        "sess-1",
		RequestID: "req-1",
		Status:    models.StatusProcessing,
		Scope:     models.ScopeBehavioral,
		Behavioral: &models.BehavioralConfig{
			SourceURL: "https://old.example.com",
			TargetURL: "https://new.example.com",
			Scenarios: []models.Scenario{{Name: "checkout", Timeout: time.Second}},
		},
	}
}

func TestExecuteBehavioralOnlyCompletes(t *testing.T) {
	prober := &fakeProber{trace: steadyTrace}
	exec, mock := newExecutorHarness(t, prober)

	// Scenario outcomes and the unified result are each committed in their
	// own transaction; log appends are tolerated as failed writes.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO behavioral_test_results")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO validation_results")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result := exec.Execute(ctx, behavioralSession())

	require.NotNil(t, result)
	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.NoError(t, result.Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteCancelDiscardsPartialResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancellation lands mid-probe; the behavioral outcome is still
	// persisted (write-through on a detached context) but synthesis and the
	// unified result are discarded.
	prober := &fakeProber{hook: func(context.Context) { cancel() }}
	exec, mock := newExecutorHarness(t, prober)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO behavioral_test_results")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result := exec.Execute(ctx, behavioralSession())

	require.NotNil(t, result)
	assert.Equal(t, models.StatusCancelled, result.Status)
	assert.NoError(t, mock.ExpectationsWereMet(), "no unified result may be written")
}

func TestExecuteDeadlineExceededTimesOut(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	exec, mock := newExecutorHarness(t, &fakeProber{trace: steadyTrace})

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO behavioral_test_results")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result := exec.Execute(ctx, behavioralSession())

	require.NotNil(t, result)
	assert.Equal(t, models.StatusTimedOut, result.Status)
	assert.NoError(t, mock.ExpectationsWereMet(), "partial results are discarded")
}

func TestExecuteMissingProberYieldsErrorStage(t *testing.T) {
	exec, mock := newExecutorHarness(t, nil)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO validation_results")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result := exec.Execute(ctx, behavioralSession())

	// The stage failure is recoverable: the session still completes with a
	// structurally full verdict carrying the error annotation.
	require.NotNil(t, result)
	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteProberErrorScoresScenarioZero(t *testing.T) {
	prober := &fakeProber{err: errors.New("browser crashed")}
	exec, mock := newExecutorHarness(t, prober)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO behavioral_test_results")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO validation_results")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	// One critical scenario_error discrepancy rides along with the result.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO validation_discrepancies")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result := exec.Execute(ctx, behavioralSession())

	require.NotNil(t, result)
	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
