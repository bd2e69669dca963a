package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/rickgao/livedata/internal/model"
)

// MarketLister lists the open markets of a series.
type MarketLister interface {
	OpenMarkets(ctx context.Context, series string) ([]Market, error)
}

// RequirementsConfig configures Requirements.
type RequirementsConfig struct {
	Channels        []string
	Tickers         []string // Always required
	Series          []string // Expanded to their open markets on refresh
	RefreshInterval time.Duration
}

// Requirements is the key set for a cycle: every channel crossed with the
// configured tickers plus the open markets of the configured series.
type Requirements struct {
	cfg    RequirementsConfig
	lister MarketLister
	logger *slog.Logger

	mu       sync.RWMutex
	resolved map[string][]string // series -> open tickers

	scheduler *gocron.Scheduler
}

// NewRequirements creates Requirements. lister may be nil when no series are configured.
func NewRequirements(cfg RequirementsConfig, lister MarketLister, logger *slog.Logger) *Requirements {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	return &Requirements{
		cfg:      cfg,
		lister:   lister,
		logger:   logger.With("component", "requirements"),
		resolved: make(map[string][]string),
	}
}

// Required returns the current key set.
func (r *Requirements) Required() []model.Key {
	r.mu.RLock()
	tickers := slices.Clone(r.cfg.Tickers)
	for _, ts := range r.resolved {
		tickers = append(tickers, ts...)
	}
	r.mu.RUnlock()

	slices.Sort(tickers)
	tickers = slices.Compact(tickers)

	keys := make([]model.Key, 0, len(r.cfg.Channels)*len(tickers))
	for _, ch := range r.cfg.Channels {
		for _, t := range tickers {
			keys = append(keys, model.NewKey(ch, t))
		}
	}
	return keys
}

// Refresh re-lists every series. A series that fails keeps its previous markets.
func (r *Requirements) Refresh(ctx context.Context) error {
	if len(r.cfg.Series) == 0 {
		return nil
	}
	if r.lister == nil {
		return errors.New("series configured without a market lister")
	}

	var errs []error
	total := 0
	for _, series := range r.cfg.Series {
		markets, err := r.lister.OpenMarkets(ctx, series)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		tickers := make([]string, len(markets))
		for i, m := range markets {
			tickers[i] = m.Ticker
		}
		total += len(tickers)

		r.mu.Lock()
		r.resolved[series] = tickers
		r.mu.Unlock()
	}

	r.logger.Info("refreshed market requirements",
		"series", len(r.cfg.Series),
		"markets", total,
		"errors", len(errs),
	)
	if len(errs) > 0 {
		return fmt.Errorf("refresh requirements: %w", errors.Join(errs...))
	}
	return nil
}

// Start refreshes immediately and then on every RefreshInterval.
func (r *Requirements) Start() error {
	if len(r.cfg.Series) == 0 {
		return nil
	}

	s := gocron.NewScheduler(time.UTC)
	s.SetMaxConcurrentJobs(1, gocron.WaitMode)

	_, err := s.Every(r.cfg.RefreshInterval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.RefreshInterval)
		defer cancel()
		if err := r.Refresh(ctx); err != nil {
			r.logger.Warn("market refresh failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}

	s.StartAsync()
	r.scheduler = s
	return nil
}

// Stop cancels scheduled refreshes.
func (r *Requirements) Stop() {
	if r.scheduler != nil {
		r.scheduler.Stop()
		r.scheduler = nil
	}
}
