package subscription

import (
	"fmt"
	"io"
	"slices"

	"github.com/rickgao/livedata/internal/model"
)

// binding is the currently bound provider and the specs it was built from.
// Guarded by Manager.mu.
type binding struct {
	provider Provider
	specs    []model.Spec
	dirty    bool
}

// CreateCycleBinding makes sure a provider built from specs is bound and
// returns a snapshot from it. A provider built from different specs is
// replaced first.
func (m *Manager) CreateCycleBinding(user model.UserPrincipal, specs []model.Spec) (Snapshot, error) {
	user = m.ensureUserName(user)

	m.swapMu.Lock()
	defer m.swapMu.Unlock()

	m.mu.Lock()
	p := m.bind.provider
	same := p != nil && slices.Equal(m.bind.specs, specs)
	m.mu.Unlock()

	if !same {
		np, err := m.swap(user, specs)
		if err != nil {
			return nil, err
		}
		p = np
	}
	return p.Snapshot(), nil
}

// RebindIfUserChanged replaces the bound provider when it was built for a
// different user. The bound specs are kept. It is a no-op when unbound.
func (m *Manager) RebindIfUserChanged(user model.UserPrincipal) error {
	user = m.ensureUserName(user)

	m.swapMu.Lock()
	defer m.swapMu.Unlock()

	m.mu.Lock()
	p := m.bind.provider
	specs := slices.Clone(m.bind.specs)
	m.mu.Unlock()

	if p == nil || p.User() == user {
		return nil
	}
	m.logger.Info("market data user changed, rebinding provider",
		"old_user", p.User().String(),
		"new_user", user.String(),
	)
	_, err := m.swap(user, specs)
	return err
}

// IsDirty reports whether the provider changed since the last MarkClean.
func (m *Manager) IsDirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bind.dirty
}

// MarkClean clears the dirty flag.
func (m *Manager) MarkClean() {
	m.mu.Lock()
	m.bind.dirty = false
	m.mu.Unlock()
}

// Provider returns the bound provider, or nil.
func (m *Manager) Provider() Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bind.provider
}

// AvailabilityProvider returns the bound provider's availability, or nil.
func (m *Manager) AvailabilityProvider() AvailabilityProvider {
	p := m.Provider()
	if p == nil {
		return nil
	}
	return p.AvailabilityProvider()
}

// swap detaches the bound provider, builds a new one and binds it.
// Must be called with swapMu held and mu released.
func (m *Manager) swap(user model.UserPrincipal, specs []model.Spec) (Provider, error) {
	old, keys := m.detach("provider replaced")
	if old != nil {
		m.logger.Info("replacing market data provider",
			"old_specs", old.Specifications(),
			"new_specs", specs,
			"unsubscribing", len(keys),
		)
		m.release(old, keys)
	}

	p, err := m.resolver.NewProvider(user, specs)
	if err == nil && p == nil {
		err = fmt.Errorf("resolver returned no provider")
	}
	if err != nil {
		m.logger.Error("failed to create market data provider", "specs", specs, "user", user.String(), "error", err)
		return nil, fmt.Errorf("%w: specs %v: %w", ErrProviderUnavailable, specs, err)
	}
	p.AddListener(m.relay)

	m.mu.Lock()
	m.bind = binding{provider: p, specs: slices.Clone(specs), dirty: true}
	pending := m.reg.keys(StatePending)
	m.mu.Unlock()

	m.logger.Info("bound market data provider", "specs", specs, "user", user.String(), "pending", len(pending))
	m.issue(p, opSubscribe, pending)
	return p, nil
}

// detach unbinds the provider and moves its active and pending keys to
// removed. It returns the old provider and those keys.
func (m *Manager) detach(reason string) (Provider, []model.Key) {
	m.mu.Lock()
	old := m.bind.provider
	var keys []model.Key
	if old != nil {
		keys = m.reg.keys(StateActive, StatePending)
		m.reg.remove(keys, m.clock.Now(), reason)
	}
	m.bind.provider = nil
	m.bind.dirty = true
	transitions := m.reg.drain()
	m.mu.Unlock()

	m.observe(transitions)
	return old, keys
}

// release unsubscribes keys on a detached provider, stops listening to it
// and closes it when it is an io.Closer.
func (m *Manager) release(old Provider, keys []model.Key) {
	m.issue(old, opUnsubscribe, keys)
	old.RemoveListener(m.relay)
	if c, ok := old.(io.Closer); ok {
		if err := c.Close(); err != nil {
			m.logger.Warn("error closing market data provider", "error", err)
		}
	}
}

// teardown unbinds the provider on shutdown.
func (m *Manager) teardown() {
	m.swapMu.Lock()
	defer m.swapMu.Unlock()

	old, keys := m.detach("shutdown")
	if old == nil {
		return
	}
	m.logger.Info("removing market data provider", "unsubscribing", len(keys))
	m.release(old, keys)
}
