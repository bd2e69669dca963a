package subscription

import (
	"errors"
	"time"

	"github.com/rickgao/livedata/internal/model"
)

// Errors
var (
	ErrProviderUnavailable = errors.New("market data provider unavailable")
	ErrAlreadyStarted      = errors.New("subscription manager already started")
	ErrNotStarted          = errors.New("subscription manager not started")
)

// State is the lifecycle state of a subscription.
type State string

const (
	StatePending State = "PENDING"
	StateActive  State = "ACTIVE"
	StateFailed  State = "FAILED"
	StateRemoved State = "REMOVED"

	// stateUnseen marks a key that has never been requested (or was cleared).
	stateUnseen State = ""
)

// Status is the state of one subscription and when it entered that state.
type Status struct {
	State State     `json:"state"`
	Since time.Time `json:"since"`
}

// Transition records one registry state change.
type Transition struct {
	Key    model.Key
	From   State // Empty for a previously unseen key
	To     State
	At     time.Time
	Reason string
}

// Stats is a point-in-time view of the coordinator for metrics export.
type Stats struct {
	Pending int
	Active  int
	Failed  int
	Removed int

	Bound bool // A provider is currently bound
	Dirty bool // The bound provider changed since the last MarkClean

	Retries     int64 // Pending subscriptions re-issued by the monitor
	Abandons    int64 // Pending subscriptions given up on by the monitor
	Batches     int64 // Provider batch calls that returned without error
	BatchErrors int64 // Provider batch calls that failed or panicked
}

// Config holds Manager configuration.
type Config struct {
	MaxBatchSize    int           // Max keys per provider call
	RetryPeriod     time.Duration // Monitor period and retry threshold
	AbandonDuration time.Duration // Age after which a pending subscription is abandoned
	LogInterval     time.Duration // Period of the pending-subscription report
	LogLimit        int           // Pending entries listed per report
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:    10000,
		RetryPeriod:     5 * time.Minute,
		AbandonDuration: 15 * time.Minute,
		LogInterval:     15 * time.Second,
		LogLimit:        20,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = d.MaxBatchSize
	}
	if c.RetryPeriod <= 0 {
		c.RetryPeriod = d.RetryPeriod
	}
	if c.AbandonDuration <= 0 {
		c.AbandonDuration = d.AbandonDuration
	}
	if c.LogInterval <= 0 {
		c.LogInterval = d.LogInterval
	}
	if c.LogLimit <= 0 {
		c.LogLimit = d.LogLimit
	}
	return c
}

// -----------------------------------------------------------------------------
// Collaborators
// -----------------------------------------------------------------------------

// Provider is a connection to a market-data feed.
//
// Subscribe and Unsubscribe are fire-and-forget: results arrive later through
// the Listener callbacks. They may block on I/O.
type Provider interface {
	Subscribe(keys []model.Key) error
	Unsubscribe(keys []model.Key) error

	AddListener(l Listener)
	RemoveListener(l Listener)

	// Snapshot returns a handle on the provider's values for one cycle.
	Snapshot() Snapshot

	// Specifications returns the specs the provider was built from.
	Specifications() []model.Spec

	// User returns the principal the provider was built for.
	User() model.UserPrincipal

	// AvailabilityProvider reports which keys the provider can serve.
	AvailabilityProvider() AvailabilityProvider
}

// Resolver builds providers. NewProvider may block on I/O.
type Resolver interface {
	NewProvider(user model.UserPrincipal, specs []model.Spec) (Provider, error)
}

// ResolverFunc is a function adapter for Resolver.
type ResolverFunc func(model.UserPrincipal, []model.Spec) (Provider, error)

func (f ResolverFunc) NewProvider(user model.UserPrincipal, specs []model.Spec) (Provider, error) {
	return f(user, specs)
}

// Listener receives subscription results and value changes from a Provider.
// Implementations must return quickly.
type Listener interface {
	SubscriptionsSucceeded(keys []model.Key)
	SubscriptionFailed(key model.Key, reason string)
	SubscriptionStopped(key model.Key)
	ValuesChanged(keys []model.Key)
}

// ChangeListener is notified when subscribed values change.
type ChangeListener interface {
	OnMarketDataValuesChanged(keys []model.Key)
}

// ChangeListenerFunc is a function adapter for ChangeListener.
type ChangeListenerFunc func([]model.Key)

func (f ChangeListenerFunc) OnMarketDataValuesChanged(keys []model.Key) {
	f(keys)
}

// Snapshot is a point-in-time view of provider values.
type Snapshot interface {
	// Init captures the values. Value calls Init implicitly.
	Init()

	// SnapshotTime returns when the values were captured (zero before Init).
	SnapshotTime() time.Time

	// Value returns the captured value for a key.
	Value(key model.Key) (model.Value, bool)
}

// AvailabilityProvider reports whether a provider can serve a key.
type AvailabilityProvider interface {
	IsAvailable(key model.Key) bool
}

// TransitionObserver receives registry transitions after the lock is released.
// Implementations must not block.
type TransitionObserver interface {
	ObserveTransitions(transitions []Transition)
}
