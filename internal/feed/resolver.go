package feed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rickgao/livedata/internal/auth"
	"github.com/rickgao/livedata/internal/model"
	"github.com/rickgao/livedata/internal/subscription"
)

var (
	_ subscription.Resolver = (*Resolver)(nil)
	_ subscription.Provider = (*Provider)(nil)
)

// Resolver builds feed providers for the coordinator.
type Resolver struct {
	cfg    Config
	creds  *auth.Credentials
	logger *slog.Logger
}

// NewResolver creates a Resolver. creds may be nil for an unauthenticated feed.
func NewResolver(cfg Config, creds *auth.Credentials, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cfg: cfg.withDefaults(), creds: creds, logger: logger}
}

// NewProvider validates specs and dials the feed.
func (r *Resolver) NewProvider(user model.UserPrincipal, specs []model.Spec) (subscription.Provider, error) {
	if err := ValidateSpecs(specs); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DialTimeout)
	defer cancel()

	p, err := Dial(ctx, r.cfg, r.creds, user, specs, r.logger)
	if err != nil {
		return nil, fmt.Errorf("dial feed: %w", err)
	}
	r.logger.Info("feed provider connected", "url", r.cfg.URL, "specs", specs, "user", user.String())
	return p, nil
}

// ValidateSpecs checks that every spec is served by this package.
func ValidateSpecs(specs []model.Spec) error {
	if len(specs) == 0 {
		return fmt.Errorf("%w: no specs", ErrUnsupportedSpec)
	}
	for _, s := range specs {
		if s.Kind != SpecKind || s.Source != SpecSource {
			return fmt.Errorf("%w: %s", ErrUnsupportedSpec, s)
		}
	}
	return nil
}
