// Package cache provides the fingerprint-addressed store for LLM answers
// and analyzer outputs. Backend failures downgrade to cache misses and
// never block the pipeline.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/luissimon96/migration-validator/pkg/fingerprint"
)

// Namespaces split the store so invalidations can be targeted.
const (
	NamespaceLLM      = "llm"
	NamespaceAnalysis = "analysis"
)

// Default TTLs per namespace.
const (
	DefaultLLMTTL      = 30 * 24 * time.Hour
	DefaultAnalysisTTL = 7 * 24 * time.Hour
)

// ErrMiss is returned when a key is absent or the backend failed.
var ErrMiss = errors.New("cache: miss")

// Backend is a raw key-value store. Implementations: memoryBackend,
// redisBackend.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Store is the namespaced, single-flight cache used by the dispatcher and
// the analysis stage.
type Store struct {
	backend     Backend
	llmTTL      time.Duration
	analysisTTL time.Duration
	flight      singleflight.Group
}

// Options tune a Store. Zero values use the defaults above.
type Options struct {
	LLMTTL      time.Duration
	AnalysisTTL time.Duration
}

// NewStore wraps a backend with namespacing and single-flight.
func NewStore(backend Backend, opts Options) *Store {
	if opts.LLMTTL <= 0 {
		opts.LLMTTL = DefaultLLMTTL
	}
	if opts.AnalysisTTL <= 0 {
		opts.AnalysisTTL = DefaultAnalysisTTL
	}
	return &Store{
		backend:     backend,
		llmTTL:      opts.LLMTTL,
		analysisTTL: opts.AnalysisTTL,
	}
}

// key builds the namespaced backend key.
func key(namespace string, fp fingerprint.Fingerprint) string {
	return namespace + ":" + fp.String()
}

func (s *Store) ttl(namespace string) time.Duration {
	if namespace == NamespaceAnalysis {
		return s.analysisTTL
	}
	return s.llmTTL
}

// Get returns the cached value for the fingerprint, or ErrMiss. A backend
// error is logged at warn and reported as a miss.
func (s *Store) Get(ctx context.Context, namespace string, fp fingerprint.Fingerprint) ([]byte, error) {
	value, err := s.backend.Get(ctx, key(namespace, fp))
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			slog.Warn("Cache backend read failed, treating as miss",
				"namespace", namespace, "error", err)
		}
		return nil, ErrMiss
	}
	return value, nil
}

// Put stores a value under the namespace's TTL. Write failures are logged
// and swallowed: at-most-once-wins on the same key within a short window is
// tolerable.
func (s *Store) Put(ctx context.Context, namespace string, fp fingerprint.Fingerprint, value []byte) {
	if err := s.backend.Put(ctx, key(namespace, fp), value, s.ttl(namespace)); err != nil {
		slog.Warn("Cache backend write failed",
			"namespace", namespace, "error", err)
	}
}

// GetOrCompute returns the cached value or runs compute exactly once per
// in-flight key; concurrent callers that miss on the same fingerprint block
// on the first computation and share its result. Successful results are
// written back to the backend.
func (s *Store) GetOrCompute(ctx context.Context, namespace string, fp fingerprint.Fingerprint, compute func(ctx context.Context) ([]byte, error)) ([]byte, bool, error) {
	k := key(namespace, fp)
	if value, err := s.Get(ctx, namespace, fp); err == nil {
		return value, true, nil
	}

	value, err, shared := s.flight.Do(k, func() (any, error) {
		// Re-check under the flight: another process may have filled the
		// key while this call waited for the flight slot.
		if v, err := s.Get(ctx, namespace, fp); err == nil {
			return v, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		s.Put(ctx, namespace, fp, v)
		return v, nil
	})
	if err != nil {
		return nil, false, err
	}
	return value.([]byte), shared, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
