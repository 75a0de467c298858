package verifier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/upb/api-auth/internal/observability"
)

// DefaultAlgorithms is the allow-list used when none is configured
var DefaultAlgorithms = []string{"RS256"}

// KeyResolver resolves a kid to a verification key
type KeyResolver interface {
	Resolve(ctx context.Context, kid string) (*KeyEntry, error)
}

// Config holds the claim policy and algorithm allow-list for Engine
type Config struct {
	Issuer            string
	Audience          string
	AllowedAlgorithms []string
	Leeway            time.Duration
	TokenUse          []string

	// AcceptClientID accepts client_id as the audience when aud is absent
	AcceptClientID bool
}

// Engine verifies bearer tokens: header, key lookup, signature, then claims,
// failing on the first step that does not pass. It holds no per-call state
// and is safe for concurrent use.
type Engine struct {
	keys    KeyResolver
	claims  *ClaimsValidator
	allowed map[string]struct{}
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Option customizes an Engine
type Option func(*Engine)

// WithClock replaces time.Now for claim validation
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithMetrics records every verification outcome in m
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates a verification engine backed by keys
func NewEngine(cfg Config, keys KeyResolver, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if keys == nil {
		return nil, errors.New("key resolver is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("expected issuer is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("expected audience is required")
	}
	if cfg.Leeway < 0 {
		return nil, errors.New("leeway must not be negative")
	}

	algs := cfg.AllowedAlgorithms
	if len(algs) == 0 {
		algs = DefaultAlgorithms
	}
	allowed := make(map[string]struct{}, len(algs))
	for _, alg := range algs {
		if !IsSupportedAlgorithm(alg) {
			return nil, fmt.Errorf("algorithm %q cannot be allow-listed; supported: %s",
				alg, strings.Join(SupportedAlgorithms(), ", "))
		}
		allowed[alg] = struct{}{}
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		keys: keys,
		claims: NewClaimsValidator(ClaimsPolicy{
			Audience:       cfg.Audience,
			Issuer:         cfg.Issuer,
			Leeway:         cfg.Leeway,
			TokenUse:       cfg.TokenUse,
			AcceptClientID: cfg.AcceptClientID,
		}),
		allowed: allowed,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type tokenHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	Typ string `json:"typ,omitempty"`

	// Crit lists header extensions the verifier must understand. None are
	// supported, so any crit parameter rejects the token.
	Crit []string `json:"crit,omitempty"`
}

// Verify validates token and returns its claims. Every failure is a
// *VerificationError.
func (e *Engine) Verify(ctx context.Context, token string) (claims *Claims, err error) {
	start := time.Now()
	defer func() {
		result := observability.ResultOK
		if err != nil {
			result = string(KindOf(err))
			e.logger.Debug("token rejected", zap.String("reason", result))
		}
		e.metrics.RecordVerification(result, time.Since(start))
	}()

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, newError(KindMalformedToken, fmt.Sprintf("expected 3 segments, got %d", len(parts)), nil)
	}

	header, err := decodeHeader(parts[0])
	if err != nil {
		return nil, err
	}
	if _, ok := e.allowed[header.Alg]; !ok {
		return nil, newError(KindUnsupportedAlgorithm, fmt.Sprintf("alg %q", header.Alg), nil)
	}
	if header.Kid == "" {
		return nil, newError(KindMalformedToken, "missing kid header", nil)
	}

	key, err := e.keys.Resolve(ctx, header.Kid)
	if err != nil {
		return nil, err
	}

	if err := VerifySignature(parts[0]+"."+parts[1], parts[2], header.Alg, key); err != nil {
		return nil, err
	}

	claims, err = decodeClaims(parts[1])
	if err != nil {
		return nil, err
	}

	if err := e.claims.Validate(claims, e.now()); err != nil {
		return nil, err
	}

	return claims, nil
}

func decodeHeader(segment string) (*tokenHeader, error) {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return nil, newError(KindMalformedToken, "header is not base64url", err)
	}
	var header tokenHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, newError(KindMalformedToken, "header is not a JSON object", err)
	}
	if header.Crit != nil {
		return nil, newError(KindMalformedToken, fmt.Sprintf("unsupported critical header parameters %q", header.Crit), nil)
	}
	return &header, nil
}
