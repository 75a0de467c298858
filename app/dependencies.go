package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/upb/api-auth/config"
	"github.com/upb/api-auth/internal/observability"
	"github.com/upb/api-auth/middleware"
	"github.com/upb/api-auth/verifier"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics // nil when metrics are disabled

	// Token verification
	KeySets        *verifier.KeySetCache
	Verifier       middleware.TokenVerifier
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies.
// The key set is fetched once up front; a failure is logged and retried on
// the first request instead of aborting startup.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if cfg.Observability.MetricsEnabled {
		deps.Metrics = observability.NewMetrics()
	}

	if err := deps.initVerifier(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize token verifier: %w", err)
	}

	deps.warmKeySet(ctx)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initVerifier builds the key set cache and the engine on top of it
func (d *Dependencies) initVerifier(cfg *config.Config) error {
	d.KeySets = verifier.NewKeySetCache(verifier.KeySetCacheConfig{
		URL:                cfg.OIDC.JWKSURL,
		TTL:                cfg.OIDC.CacheTTL,
		FetchTimeout:       cfg.OIDC.FetchTimeout,
		RefreshMinInterval: cfg.OIDC.RefreshMinInterval,
	}, d.Logger.Named("jwks"), verifier.WithCacheMetrics(d.Metrics))

	engine, err := verifier.NewEngine(verifier.Config{
		Issuer:            cfg.OIDC.IssuerURL,
		Audience:          cfg.OIDC.Audience,
		AllowedAlgorithms: cfg.OIDC.AllowedAlgorithms,
		Leeway:            cfg.OIDC.Leeway,
		TokenUse:          cfg.OIDC.TokenUse,
		AcceptClientID:    cfg.OIDC.AcceptClientID,
	}, d.KeySets, d.Logger.Named("verifier"), verifier.WithMetrics(d.Metrics))
	if err != nil {
		return err
	}

	d.Verifier = engine
	d.AuthMiddleware = middleware.NewAuthMiddleware(engine, d.Logger)

	d.Logger.Info("token verifier initialized",
		zap.String("issuer", cfg.OIDC.IssuerURL),
		zap.String("jwks_url", cfg.OIDC.JWKSURL),
		zap.Strings("algorithms", cfg.OIDC.AllowedAlgorithms))
	return nil
}

func (d *Dependencies) warmKeySet(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, d.Config.OIDC.FetchTimeout)
	defer cancel()

	if err := d.KeySets.Warm(ctx); err != nil {
		d.Logger.Warn("initial key set fetch failed, will retry on demand", zap.Error(err))
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return nil
}
