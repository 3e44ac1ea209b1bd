package manager

import (
	"context"
	"time"

	"exec-pipeline/pkg/cache"

	"go.uber.org/zap"
)

// maybeCleanup samples the cleanup probability and, at most once per
// CleanupInterval, starts a background pass on persistent backends.
func (m *Manager) maybeCleanup() {
	if !m.backend.IsPersistent() || m.config.CleanupProbability <= 0 {
		return
	}
	if m.random() >= m.config.CleanupProbability {
		return
	}

	now := time.Now()
	last := m.lastCleanup.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < m.config.CleanupInterval {
		return
	}

	if !m.cleaning.CompareAndSwap(false, true) {
		return
	}
	m.lastCleanup.Store(now.UnixNano())

	m.cleanupWG.Add(1)
	go func() {
		defer m.cleanupWG.Done()
		defer m.cleaning.Store(false)
		m.runCleanup()
	}()
}

func (m *Manager) runCleanup() {
	cleaner, ok := m.backend.(cache.Cleaner)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.config.CleanupInterval)
	defer cancel()

	start := time.Now()
	removed, err := cleaner.RemoveExpired(ctx)
	m.metrics.RecordCleanup(m.name, removed, err == nil)

	if err != nil {
		m.logger.Warn("cache cleanup failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return
	}
	m.logger.Debug("cache cleanup finished",
		zap.Int("removed", removed),
		zap.Duration("duration", time.Since(start)),
	)
}
