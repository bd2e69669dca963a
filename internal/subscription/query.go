package subscription

// PendingCount returns the number of pending subscriptions.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reg.pending)
}

// ActiveCount returns the number of active subscriptions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reg.active)
}

// FailedCount returns the number of failed subscriptions.
func (m *Manager) FailedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reg.failed)
}

// RemovedCount returns the number of removed subscriptions.
func (m *Manager) RemovedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reg.removed)
}

func (m *Manager) QueryPending() map[string]Status { return m.query(StatePending) }
func (m *Manager) QueryActive() map[string]Status { return m.query(StateActive) }
func (m *Manager) QueryFailed() map[string]Status { return m.query(StateFailed) }
func (m *Manager) QueryRemoved() map[string]Status { return m.query(StateRemoved) }

// Query returns a copy of the subscriptions in one state.
func (m *Manager) Query(s State) map[string]Status {
	return m.query(s)
}

func (m *Manager) query(s State) map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reg.mapFor(s) == nil {
		return map[string]Status{}
	}
	return m.reg.statuses(s)
}

// QuerySubscriptionState returns every subscription, in any state, whose key
// string contains substr. An empty substr matches everything.
func (m *Manager) QuerySubscriptionState(substr string) map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg.search(substr)
}

// Stats returns counts and counters for metrics export.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	st := Stats{
		Pending: len(m.reg.pending),
		Active:  len(m.reg.active),
		Failed:  len(m.reg.failed),
		Removed: len(m.reg.removed),
		Bound:   m.bind.provider != nil,
		Dirty:   m.bind.dirty,
	}
	m.mu.Unlock()

	st.Retries = m.retries.Load()
	st.Abandons = m.abandons.Load()
	st.Batches = m.batches.Load()
	st.BatchErrors = m.batchErrors.Load()
	return st
}
