package cycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/livedata/internal/model"
	"github.com/rickgao/livedata/internal/subscription"
)

var ErrAlreadyRunning = errors.New("cycle runner already running")

// Coordinator is the part of the subscription manager a cycle uses.
type Coordinator interface {
	CreateCycleBinding(user model.UserPrincipal, specs []model.Spec) (subscription.Snapshot, error)
	IsDirty() bool
	MarkClean()
	RequestSubscriptions(required []model.Key)
}

// RequirementSource supplies the keys a cycle needs.
type RequirementSource interface {
	Required() []model.Key
}

// StaticRequirements is a fixed requirement set.
type StaticRequirements []model.Key

// NewStaticRequirements builds the cross product of channels and tickers.
func NewStaticRequirements(channels, tickers []string) StaticRequirements {
	keys := make(StaticRequirements, 0, len(channels)*len(tickers))
	for _, ch := range channels {
		for _, t := range tickers {
			keys = append(keys, model.NewKey(ch, t))
		}
	}
	return keys
}

func (s StaticRequirements) Required() []model.Key {
	return append([]model.Key(nil), s...)
}

// Config configures a Runner.
type Config struct {
	Interval time.Duration
	User     model.UserPrincipal
	Specs    []model.Spec
}

// Result describes one completed cycle.
type Result struct {
	Required     int
	Available    int
	Rebound      bool
	SnapshotTime time.Time
}

// Runner executes cycles until stopped.
type Runner struct {
	cfg    Config
	coord  Coordinator
	reqs   RequirementSource
	logger *slog.Logger

	trigger chan struct{}

	mu       sync.Mutex
	running  bool
	cycles   int64
	failures int64
	last     Result

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a Runner.
func NewRunner(cfg Config, coord Coordinator, reqs RequirementSource, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &Runner{
		cfg:     cfg,
		coord:   coord,
		reqs:    reqs,
		logger:  logger.With("component", "cycle"),
		trigger: make(chan struct{}, 1),
	}
}

// OnMarketDataValuesChanged schedules an early cycle. Triggers that arrive
// while one is already queued are merged.
func (r *Runner) OnMarketDataValuesChanged(keys []model.Key) {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Start runs a first cycle and then loops in the background.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.logger.Info("starting cycle runner",
		"interval", r.cfg.Interval,
		"user", r.cfg.User.String(),
		"specs", len(r.cfg.Specs),
	)

	r.wg.Add(1)
	go r.loop()
	return nil
}

// Stop halts the loop and waits for the current cycle.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("cycle runner stopped", "cycles", r.Cycles())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cycles returns the number of completed cycles.
func (r *Runner) Cycles() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycles
}

// Failures returns the number of cycles that could not bind a provider.
func (r *Runner) Failures() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

// Last returns the most recent successful cycle result.
func (r *Runner) Last() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Runner) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.runLogged()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		case <-r.trigger:
		}
		r.runLogged()
	}
}

func (r *Runner) runLogged() {
	if _, err := r.RunCycle(); err != nil {
		r.logger.Warn("cycle failed", "error", err)
	}
}

// RunCycle executes one cycle.
func (r *Runner) RunCycle() (Result, error) {
	start := time.Now()

	snap, err := r.coord.CreateCycleBinding(r.cfg.User, r.cfg.Specs)
	if err != nil {
		r.mu.Lock()
		r.failures++
		r.mu.Unlock()
		return Result{}, err
	}

	var res Result
	if r.coord.IsDirty() {
		r.logger.Info("provider rebound, re-resolving cycle inputs")
		r.coord.MarkClean()
		res.Rebound = true
	}

	required := r.reqs.Required()
	r.coord.RequestSubscriptions(required)
	res.Required = len(required)

	snap.Init()
	res.SnapshotTime = snap.SnapshotTime()
	for _, k := range required {
		if _, ok := snap.Value(k); ok {
			res.Available++
		}
	}

	r.mu.Lock()
	r.cycles++
	r.last = res
	r.mu.Unlock()

	r.logger.Debug("cycle complete",
		"required", res.Required,
		"available", res.Available,
		"rebound", res.Rebound,
		"duration", time.Since(start),
	)
	return res, nil
}
