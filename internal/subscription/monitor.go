package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// newScheduler registers the monitor and report jobs. The monitor runs
// immediately and then every RetryPeriod; jobs never overlap.
func (m *Manager) newScheduler() (*gocron.Scheduler, error) {
	s := gocron.NewScheduler(time.UTC)
	s.SetMaxConcurrentJobs(1, gocron.WaitMode)

	if _, err := s.Every(m.cfg.RetryPeriod).Do(m.checkPending); err != nil {
		return nil, fmt.Errorf("schedule subscription monitor: %w", err)
	}
	if _, err := s.Every(m.cfg.LogInterval).Do(m.reportPending); err != nil {
		return nil, fmt.Errorf("schedule pending report: %w", err)
	}
	return s, nil
}

// checkPending abandons pending subscriptions older than AbandonDuration and
// re-issues those older than RetryPeriod. Retried keys keep their timestamp.
// With no provider bound nothing is re-issued; the keys are flushed on bind.
func (m *Manager) checkPending() {
	m.mu.Lock()
	now := m.clock.Now()
	toAbandon, toRetry := m.reg.agedPending(now.Add(-m.cfg.AbandonDuration), now.Add(-m.cfg.RetryPeriod))
	m.reg.abandon(toAbandon, now)
	p := m.bind.provider
	transitions := m.reg.drain()
	m.mu.Unlock()

	m.observe(transitions)

	if len(toAbandon) > 0 {
		m.abandons.Add(int64(len(toAbandon)))
		m.logger.Warn("giving up on market data subscriptions with no response",
			"count", len(toAbandon),
			"abandon_duration", m.cfg.AbandonDuration,
		)
	}
	if len(toRetry) > 0 && p != nil {
		m.retries.Add(int64(len(toRetry)))
		m.logger.Info("retrying market data subscriptions with no response",
			"count", len(toRetry),
			"retry_period", m.cfg.RetryPeriod,
		)
		m.issue(p, opSubscribe, toRetry)
	}
}

// reportPending logs the oldest pending subscriptions.
func (m *Manager) reportPending() {
	if !m.logger.Enabled(context.Background(), slog.LevelInfo) {
		return
	}

	m.mu.Lock()
	total := len(m.reg.pending)
	entries := m.reg.oldestPending(m.cfg.LogLimit)
	m.mu.Unlock()

	if total == 0 {
		return
	}

	now := m.clock.Now()
	m.logger.Info("waiting on market data subscriptions", "pending", total, "shown", len(entries))
	for _, e := range entries {
		m.logger.Info("pending market data subscription",
			"key", e.Key.String(),
			"since", e.Since,
			"age", now.Sub(e.Since),
		)
	}
}
