package subscription

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/go-co-op/gocron"

	"github.com/rickgao/livedata/internal/model"
)

// Manager coordinates market data subscriptions between a computation cycle
// and a Provider.
type Manager struct {
	cfg      Config
	resolver Resolver
	changes  ChangeListener
	observer TransitionObserver
	clock    clock.Clock
	logger   *slog.Logger
	relay    *relay

	// mu guards reg and bind.
	mu   sync.Mutex
	reg  *registry
	bind binding

	// swapMu serialises provider swaps and teardown.
	swapMu sync.Mutex

	// lifeMu guards scheduler and done.
	lifeMu    sync.Mutex
	scheduler *gocron.Scheduler
	done      chan struct{}

	retries     atomic.Int64
	abandons    atomic.Int64
	batches     atomic.Int64
	batchErrors atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for timestamps and ages.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithObserver sets an observer for registry transitions.
func WithObserver(o TransitionObserver) Option {
	return func(m *Manager) { m.observer = o }
}

// NewManager creates a Manager. changes may be nil.
func NewManager(cfg Config, resolver Resolver, changes ChangeListener, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:      cfg.withDefaults(),
		resolver: resolver,
		changes:  changes,
		clock:    clock.New(),
		logger:   logger.With("component", "subscription_manager"),
		reg:      newRegistry(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.relay = &relay{m: m}
	m.reg.recording = m.observer != nil
	return m
}

// RequestSubscriptions declares the full set of keys the caller needs.
// Keys no longer required are unsubscribed and newly required keys are
// subscribed. With no provider bound new keys stay pending until one is.
func (m *Manager) RequestSubscriptions(required []model.Key) {
	m.mu.Lock()
	toAdd, toRemove := m.reg.reconcile(required, m.clock.Now())
	p := m.bind.provider
	transitions := m.reg.drain()
	m.mu.Unlock()

	m.observe(transitions)

	if len(toRemove) > 0 {
		m.logger.Info("removing unused market data subscriptions", "count", len(toRemove))
		m.issue(p, opUnsubscribe, toRemove)
	}
	if len(toAdd) > 0 {
		m.logger.Info("subscribing to new market data requirements", "count", len(toAdd))
		if p == nil {
			m.logger.Warn("no market data provider bound, subscriptions left pending", "count", len(toAdd))
		}
		m.issue(p, opSubscribe, toAdd)
	}
}

// RetryAllFailed moves every failed subscription back to pending and
// re-issues it. It returns the number of subscriptions retried.
func (m *Manager) RetryAllFailed() int {
	m.mu.Lock()
	keys := m.reg.retryAllFailed(m.clock.Now())
	p := m.bind.provider
	transitions := m.reg.drain()
	m.mu.Unlock()

	m.observe(transitions)
	if len(keys) == 0 {
		return 0
	}

	m.logger.Info("retrying failed market data subscriptions", "count", len(keys))
	m.issue(p, opUnsubscribe, keys)
	m.issue(p, opSubscribe, keys)
	return len(keys)
}

// Start starts the retry/abandon monitor and the pending report.
func (m *Manager) Start() error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if m.scheduler != nil {
		return ErrAlreadyStarted
	}

	s, err := m.newScheduler()
	if err != nil {
		return err
	}
	s.StartAsync()
	m.scheduler = s
	// A teardown from an earlier Stop may still be running; it owns the old channel.
	m.done = make(chan struct{})

	m.logger.Info("subscription manager started",
		"retry_period", m.cfg.RetryPeriod,
		"abandon_duration", m.cfg.AbandonDuration,
		"max_batch_size", m.cfg.MaxBatchSize,
	)
	return nil
}

// Stop stops the scheduled jobs and tears down the bound provider in the
// background. It returns immediately; Done is closed once teardown finishes.
func (m *Manager) Stop() error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if m.scheduler == nil {
		return ErrNotStarted
	}
	m.scheduler.Stop()
	m.scheduler = nil

	done := m.done
	go func() {
		defer close(done)
		m.teardown()
		m.logger.Info("subscription manager stopped")
	}()
	return nil
}

// IsRunning reports whether the scheduled jobs are running.
func (m *Manager) IsRunning() bool {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	return m.scheduler != nil
}

// Done returns a channel closed when the teardown started by the most recent
// Stop has finished.
func (m *Manager) Done() <-chan struct{} {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	return m.done
}

// observe forwards transitions to the observer, if any.
func (m *Manager) observe(transitions []Transition) {
	if m.observer == nil || len(transitions) == 0 {
		return
	}
	m.observer.ObserveTransitions(transitions)
}

// ensureUserName substitutes the test user for a principal with no name.
func (m *Manager) ensureUserName(user model.UserPrincipal) model.UserPrincipal {
	if user.UserName != "" {
		return user
	}
	test := model.TestUser()
	m.logger.Info("user name undefined, using test user", "user", user.String(), "test_user", test.String())
	return test
}
