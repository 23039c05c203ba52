// Package cleanup soft-deletes terminal sessions past the retention
// window on a fixed interval.
package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/luissimon96/migration-validator/pkg/config"
	"github.com/luissimon96/migration-validator/pkg/services"
)

// Service runs the retention sweep in the background.
type Service struct {
	cfg      *config.RetentionConfig
	sessions *services.SessionService
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewService creates a cleanup service.
func NewService(cfg *config.RetentionConfig, sessions *services.SessionService) *Service {
	return &Service{cfg: cfg, sessions: sessions, stopCh: make(chan struct{})}
}

// Start launches the sweep loop. No-op when retention is disabled.
func (s *Service) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		slog.Info("Retention cleanup disabled")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.ScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
	slog.Info("Retention cleanup started",
		"retention_days", s.cfg.RetentionDays, "interval", s.cfg.ScanInterval)
}

// Stop halts the loop. Safe to call multiple times.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Service) sweep(ctx context.Context) {
	count, err := s.sessions.SoftDeleteOlderThan(ctx, s.cfg.RetentionDays)
	if err != nil {
		slog.Error("Retention sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention sweep soft-deleted sessions", "count", count)
	}
}
