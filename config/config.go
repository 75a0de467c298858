package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/upb/api-auth/utils"
	"github.com/upb/api-auth/verifier"
)

// Config represents the complete application configuration
type Config struct {
	AppName       string `validate:"required"`
	Environment   string `validate:"required"`
	Server        ServerConfig
	OIDC          OIDCConfig
	Observability ObservabilityConfig
	CORS          CORSConfig

	// loadErrors holds environment values that were set but did not parse
	loadErrors []error
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int `validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// CognitoConfig identifies the Cognito user pool that issues tokens
type CognitoConfig struct {
	Region      string
	UserPoolID  string
	AppClientID string
}

// OIDCConfig holds the token verification settings. IssuerURL and JWKSURL are
// derived from the Cognito pool unless set explicitly.
type OIDCConfig struct {
	Cognito            CognitoConfig
	IssuerURL          string   `validate:"required,url"`
	JWKSURL            string   `validate:"required,url"`
	Audience           string   `validate:"required"`
	AllowedAlgorithms  []string `validate:"min=1"`
	TokenUse           []string `validate:"dive,oneof=id access"`
	CacheTTL           time.Duration
	FetchTimeout       time.Duration
	RefreshMinInterval time.Duration
	Leeway             time.Duration

	// AcceptClientID lets client_id stand in for a missing aud (Cognito access tokens)
	AcceptClientID bool

	// RequiredGroup, when set, restricts /auth/me to members of this group
	RequiredGroup string
}

// ObservabilityConfig holds logging and metrics configuration
type ObservabilityConfig struct {
	LogLevel       string `validate:"oneof=debug info warn error"`
	LogFormat      string `validate:"oneof=json text"` // json or text
	MetricsEnabled bool
}

// CORSConfig holds the allowed browser origins
type CORSConfig struct {
	AllowedOrigins []string
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	env := &envReader{}

	cognito := CognitoConfig{
		Region:      getEnv("COGNITO_REGION", getEnv("AWS_REGION", "us-east-1")),
		UserPoolID:  getEnv("COGNITO_USER_POOL_ID", ""),
		AppClientID: getEnv("COGNITO_APP_CLIENT_ID", getEnv("COGNITO_CLIENT_ID", "")),
	}

	issuer := getEnv("OIDC_ISSUER_URL", cognito.IssuerURL())

	cfg := &Config{
		AppName:     getEnv("APP_NAME", "api-auth"),
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            env.port(),
			ReadTimeout:     env.duration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    env.duration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: env.duration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		OIDC: OIDCConfig{
			Cognito:            cognito,
			IssuerURL:          issuer,
			JWKSURL:            getEnv("OIDC_JWKS_URL", JWKSURLForIssuer(issuer)),
			Audience:           getEnv("OIDC_AUDIENCE", cognito.AppClientID),
			AllowedAlgorithms:  getEnvAsList("OIDC_ALLOWED_ALGORITHMS", verifier.DefaultAlgorithms),
			TokenUse:           getEnvAsList("OIDC_TOKEN_USE", nil),
			CacheTTL:           env.duration("JWKS_CACHE_TTL", verifier.DefaultCacheTTL),
			FetchTimeout:       env.duration("JWKS_FETCH_TIMEOUT", verifier.DefaultFetchTimeout),
			RefreshMinInterval: env.duration("JWKS_REFRESH_MIN_INTERVAL", 0),
			Leeway:             env.duration("TOKEN_LEEWAY", 0),
			AcceptClientID:     env.bool("OIDC_ACCEPT_CLIENT_ID", false),
			RequiredGroup:      getEnv("AUTH_REQUIRED_GROUP", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
			LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "json")),
			MetricsEnabled: env.bool("METRICS_ENABLED", true),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		},
		loadErrors: env.errs,
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks struct tags first, then the rules that span fields
func (c *Config) Validate() error {
	if err := errors.Join(c.loadErrors...); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}

	if err := utils.ValidateStruct(c); err != nil {
		return err
	}

	for _, alg := range c.OIDC.AllowedAlgorithms {
		if !verifier.IsSupportedAlgorithm(alg) {
			return fmt.Errorf("algorithm %q is not supported; use one of %s",
				alg, strings.Join(verifier.SupportedAlgorithms(), ", "))
		}
	}

	if c.OIDC.CacheTTL <= 0 {
		return fmt.Errorf("JWKS cache TTL must be positive")
	}
	if c.OIDC.FetchTimeout <= 0 {
		return fmt.Errorf("JWKS fetch timeout must be positive")
	}
	if c.OIDC.RefreshMinInterval < 0 {
		return fmt.Errorf("JWKS refresh interval must not be negative")
	}
	if c.OIDC.Leeway < 0 {
		return fmt.Errorf("token leeway must not be negative")
	}

	if c.IsProduction() && !strings.HasPrefix(c.OIDC.JWKSURL, "https://") {
		return fmt.Errorf("JWKS URL must use https in production")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// IssuerURL returns the Cognito issuer for the pool, or "" when no pool is set
func (c CognitoConfig) IssuerURL() string {
	if c.UserPoolID == "" {
		return ""
	}
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", c.Region, c.UserPoolID)
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// JWKSURLForIssuer returns the conventional key set location for issuer
func JWKSURLForIssuer(issuer string) string {
	if issuer == "" {
		return ""
	}
	return strings.TrimSuffix(issuer, "/") + "/.well-known/jwks.json"
}

// Helper functions

// envReader parses typed environment values. A value that is set but does
// not parse is recorded and the default is used, so Validate can report it.
type envReader struct {
	errs []error
}

// port returns the server port from PORT or SERVER_PORT env vars (default: 8000)
func (r *envReader) port() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		value := os.Getenv(key)
		if value == "" {
			continue
		}
		p, err := strconv.Atoi(value)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: invalid port %q", key, value))
			return 0
		}
		return p
	}
	return 8000
}

func (r *envReader) bool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid boolean %q", key, valueStr))
		return defaultValue
	}
	return value
}

func (r *envReader) duration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid duration %q", key, valueStr))
		return defaultValue
	}
	return value
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			values = append(values, item)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
