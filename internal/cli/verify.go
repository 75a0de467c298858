package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/upb/api-auth/verifier"
)

func newVerifyCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [token|-]",
		Short: "Verify a token and print its claims",
		Long: `Verify a compact token and print its claims. With no argument, or "-",
the token is read from standard input. A leading "Bearer " is ignored.

A rejected token exits non-zero and reports the rejection kind.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := readToken(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			if err := opts.complete(cmd.Context()); err != nil {
				return err
			}
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			_, engine, err := opts.build(logger)
			if err != nil {
				return err
			}

			claims, err := engine.Verify(cmd.Context(), token)
			if err != nil {
				var verr *verifier.VerificationError
				if errors.As(err, &verr) && verr.Retryable() {
					return fmt.Errorf("token could not be checked (%s, retry later): %w", verr.Kind, err)
				}
				return fmt.Errorf("token rejected (%s): %w", verifier.KindOf(err), err)
			}

			if opts.Output == "text" {
				return printClaimsText(cmd.OutOrStdout(), claims)
			}
			return printJSON(cmd.OutOrStdout(), claims.Raw)
		},
	}
}

func readToken(in io.Reader, args []string) (string, error) {
	var token string
	if len(args) == 1 && args[0] != "-" {
		token = args[0]
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		token = line
	}

	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" {
		return "", errors.New("no token given")
	}
	return token, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printClaimsText(w io.Writer, c *verifier.Claims) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "subject:\t%s\n", c.Subject)
	fmt.Fprintf(tw, "user:\t%s\n", c.PreferredUsername())
	fmt.Fprintf(tw, "issuer:\t%s\n", c.Issuer)
	fmt.Fprintf(tw, "audience:\t%s\n", strings.Join(c.Audience, ", "))
	if c.TokenUse != "" {
		fmt.Fprintf(tw, "token_use:\t%s\n", c.TokenUse)
	}
	if len(c.Groups) > 0 {
		fmt.Fprintf(tw, "groups:\t%s\n", strings.Join(c.Groups, ", "))
	}
	if c.ExpiresAt != nil {
		fmt.Fprintf(tw, "expires:\t%s\n", c.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}
