package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/luissimon96/migration-validator/pkg/cache"
	"github.com/luissimon96/migration-validator/pkg/fingerprint"
	"github.com/luissimon96/migration-validator/pkg/models"
)

// Side labels which half of the migration a bundle belongs to.
type Side string

// Sides.
const (
	SideSource Side = "source"
	SideTarget Side = "target"
)

// SessionLogger records per-file events on the owning session's log.
// Implemented by the session manager; nil disables logging.
type SessionLogger interface {
	Log(ctx context.Context, sessionID string, level models.LogLevel, message string, payload map[string]any)
}

// Runner executes the analysis stage for one session.
type Runner struct {
	registry    *Registry
	visual      VisualAnalyzer
	store       *cache.Store
	parallelism int
	logger      SessionLogger
	sessionID   string
}

// NewRunner builds a stage runner. store and logger may be nil.
func NewRunner(registry *Registry, visual VisualAnalyzer, store *cache.Store, parallelism int, logger SessionLogger, sessionID string) *Runner {
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Runner{
		registry:    registry,
		visual:      visual,
		store:       store,
		parallelism: parallelism,
		logger:      logger,
		sessionID:   sessionID,
	}
}

// AnalyzeBoth analyzes source and target bundles in parallel.
func (r *Runner) AnalyzeBoth(ctx context.Context, source, target *models.InputBundle, scope models.Scope) (sourceRep, targetRep *models.Representation, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sourceRep, err = r.Analyze(gctx, SideSource, source, scope)
		return err
	})
	g.Go(func() error {
		var err error
		targetRep, err = r.Analyze(gctx, SideTarget, target, scope)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return sourceRep, targetRep, nil
}

// Analyze extracts one side's representation. Per-file failures are logged
// and skipped; the stage only fails when every artifact fails. Partial
// results are flagged on the representation.
func (r *Runner) Analyze(ctx context.Context, side Side, bundle *models.InputBundle, scope models.Scope) (*models.Representation, error) {
	if bundle == nil || len(bundle.Artifacts) == 0 {
		return &models.Representation{}, nil
	}

	partials := make([]*models.Representation, len(bundle.Artifacts))
	var (
		mu       sync.Mutex
		failures int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for i := range bundle.Artifacts {
		g.Go(func() error {
			artifact := bundle.Artifacts[i]
			rep, err := r.analyzeArtifact(gctx, artifact, scope)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				mu.Lock()
				failures++
				mu.Unlock()
				r.log(gctx, models.LogWarn, "artifact analysis failed", map[string]any{
					"side": string(side), "path": artifact.Path, "error": err.Error(),
				})
				return nil
			}
			partials[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if failures == len(bundle.Artifacts) {
		return nil, fmt.Errorf("analysis failed for every artifact on %s side", side)
	}

	// Merge in input order; dedup is the comparator's job.
	merged := &models.Representation{}
	for _, p := range partials {
		merged.Merge(p)
	}
	if failures > 0 {
		merged.Partial = true
	}
	return merged, nil
}

// analyzeArtifact runs one artifact through the cache and the matching
// analyzer.
func (r *Runner) analyzeArtifact(ctx context.Context, artifact models.Artifact, scope models.Scope) (*models.Representation, error) {
	fp := fingerprint.Analysis(artifact.Path, artifact.Language, string(scope), artifact.Content)

	compute := func(ctx context.Context) ([]byte, error) {
		var (
			rep *models.Representation
			err error
		)
		switch artifact.Kind {
		case models.ArtifactScreenshot:
			if r.visual == nil {
				return nil, fmt.Errorf("no visual analyzer configured")
			}
			rep, err = r.visual.AnalyzeImage(ctx, artifact, scope)
		default:
			analyzer, lookupErr := r.registry.ForLanguage(artifact.Language)
			if lookupErr != nil {
				return nil, lookupErr
			}
			rep, err = analyzer.Analyze(ctx, artifact, scope)
		}
		if err != nil {
			return nil, err
		}
		return json.Marshal(rep)
	}

	if r.store == nil {
		data, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return decodeRepresentation(data)
	}

	data, hit, err := r.store.GetOrCompute(ctx, cache.NamespaceAnalysis, fp, compute)
	if err != nil {
		return nil, err
	}
	if hit {
		slog.Debug("Analysis cache hit", "path", artifact.Path)
	}
	return decodeRepresentation(data)
}

func decodeRepresentation(data []byte) (*models.Representation, error) {
	var rep models.Representation
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("decoding cached representation: %w", err)
	}
	return &rep, nil
}

func (r *Runner) log(ctx context.Context, level models.LogLevel, message string, payload map[string]any) {
	if r.logger == nil {
		return
	}
	r.logger.Log(ctx, r.sessionID, level, message, payload)
}
