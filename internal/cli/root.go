// Package cli implements the tokenverify command line tool.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upb/api-auth/config"
	"github.com/upb/api-auth/internal/observability"
	"github.com/upb/api-auth/verifier"
)

// Options holds the persistent flags shared by every subcommand
type Options struct {
	Issuer            string
	JWKSURL           string
	Audience          string
	AllowedAlgorithms []string
	TokenUse          []string
	AcceptClientID    bool
	Leeway            time.Duration
	Timeout           time.Duration
	LogLevel          string
	Output            string
}

// NewRootCommand builds the tokenverify command tree
func NewRootCommand() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:   "tokenverify",
		Short: "Verify bearer tokens against an issuer's published keys",
		Long: `tokenverify checks a compact signed token the same way the api-auth
service does: header, key lookup in the issuer's JWKS, signature, then claims.

Settings not given as flags are read from the environment (and .env), using
the same variables as the api-auth server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.Issuer, "issuer", "", "expected issuer (iss)")
	flags.StringVar(&opts.JWKSURL, "jwks-url", "", "key set URL (default <issuer>/.well-known/jwks.json)")
	flags.StringVar(&opts.Audience, "audience", "", "expected audience (aud)")
	flags.BoolVar(&opts.AcceptClientID, "accept-client-id", false, "accept client_id as the audience when aud is absent")
	flags.StringSliceVar(&opts.AllowedAlgorithms, "alg", nil, "allowed signing algorithms (default RS256)")
	flags.StringSliceVar(&opts.TokenUse, "token-use", nil, "accepted token_use values (id, access)")
	flags.DurationVar(&opts.Leeway, "leeway", 0, "clock skew tolerance for exp and nbf")
	flags.DurationVar(&opts.Timeout, "timeout", verifier.DefaultFetchTimeout, "key set fetch timeout")
	flags.StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.StringVarP(&opts.Output, "output", "o", "json", "output format (json, text)")

	cmd.AddCommand(newVerifyCommand(opts))
	cmd.AddCommand(newKeysCommand(opts))

	return cmd
}

// complete fills unset options from the environment configuration. The
// environment is only consulted when a required flag is missing.
func (o *Options) complete(ctx context.Context) error {
	if o.Issuer == "" || o.Audience == "" {
		cfg, err := config.New(ctx)
		if err != nil {
			return fmt.Errorf("--issuer and --audience are required when no environment configuration is present: %w", err)
		}
		if o.Issuer == "" {
			o.Issuer = cfg.OIDC.IssuerURL
			if o.JWKSURL == "" {
				o.JWKSURL = cfg.OIDC.JWKSURL
			}
		}
		if o.Audience == "" {
			o.Audience = cfg.OIDC.Audience
		}
		if len(o.AllowedAlgorithms) == 0 {
			o.AllowedAlgorithms = cfg.OIDC.AllowedAlgorithms
		}
		if len(o.TokenUse) == 0 {
			o.TokenUse = cfg.OIDC.TokenUse
		}
		if !o.AcceptClientID {
			o.AcceptClientID = cfg.OIDC.AcceptClientID
		}
	}

	if o.JWKSURL == "" {
		o.JWKSURL = config.JWKSURLForIssuer(o.Issuer)
	}
	if len(o.AllowedAlgorithms) == 0 {
		o.AllowedAlgorithms = verifier.DefaultAlgorithms
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("--timeout must be positive")
	}
	if o.Output != "json" && o.Output != "text" {
		return fmt.Errorf("unknown output format %q", o.Output)
	}
	return nil
}

// build returns a key set cache and an engine for the completed options
func (o *Options) build(logger *zap.Logger) (*verifier.KeySetCache, *verifier.Engine, error) {
	keys := verifier.NewKeySetCache(verifier.KeySetCacheConfig{
		URL:          o.JWKSURL,
		TTL:          verifier.DefaultCacheTTL,
		FetchTimeout: o.Timeout,
	}, logger.Named("jwks"))

	engine, err := verifier.NewEngine(verifier.Config{
		Issuer:            o.Issuer,
		Audience:          o.Audience,
		AllowedAlgorithms: o.AllowedAlgorithms,
		Leeway:            o.Leeway,
		TokenUse:          o.TokenUse,
		AcceptClientID:    o.AcceptClientID,
	}, keys, logger.Named("verifier"))
	if err != nil {
		return nil, nil, err
	}
	return keys, engine, nil
}

func (o *Options) logger() (*zap.Logger, error) {
	return observability.NewLogger(o.LogLevel, "text")
}
