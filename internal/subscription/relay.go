package subscription

import (
	"github.com/sourcegraph/conc/panics"

	"github.com/rickgao/livedata/internal/model"
)

// relay is the Manager's Listener on the bound provider.
type relay struct {
	m *Manager
}

func (r *relay) SubscriptionsSucceeded(keys []model.Key) {
	m := r.m
	m.mu.Lock()
	n := m.reg.recordSuccess(keys, m.clock.Now())
	remaining := len(m.reg.pending)
	transitions := m.reg.drain()
	m.mu.Unlock()

	m.observe(transitions)
	m.logger.Info("market data subscriptions succeeded",
		"count", len(keys),
		"activated", n,
		"pending", remaining,
	)
}

func (r *relay) SubscriptionFailed(key model.Key, reason string) {
	m := r.m
	m.mu.Lock()
	moved := m.reg.recordFailure(key, reason, m.clock.Now())
	remaining := len(m.reg.pending)
	transitions := m.reg.drain()
	m.mu.Unlock()

	m.observe(transitions)
	if moved {
		m.logger.Info("market data subscription failed",
			"key", key.String(),
			"reason", reason,
			"pending", remaining,
		)
	}
}

func (r *relay) SubscriptionStopped(model.Key) {}

func (r *relay) ValuesChanged(keys []model.Key) {
	m := r.m
	if m.changes == nil {
		return
	}

	var pc panics.Catcher
	pc.Try(func() { m.changes.OnMarketDataValuesChanged(keys) })
	if rec := pc.Recovered(); rec != nil {
		m.logger.Error("market data change listener panicked",
			"keys", len(keys),
			"panic", rec.Value,
		)
	}
}
