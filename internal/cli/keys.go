package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/upb/api-auth/verifier"
)

type keyInfo struct {
	KeyID     string `json:"kid"`
	KeyType   string `json:"kty"`
	Algorithm string `json:"alg,omitempty"`
	Use       string `json:"use,omitempty"`
}

type keySetInfo struct {
	URL       string    `json:"url"`
	FetchedAt time.Time `json:"fetched_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Keys      []keyInfo `json:"keys"`
}

func newKeysCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Fetch the issuer's key set and list the usable keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.complete(cmd.Context()); err != nil {
				return err
			}
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			keys, _, err := opts.build(logger)
			if err != nil {
				return err
			}

			set, err := keys.ForceRefresh(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to fetch key set from %s: %w", opts.JWKSURL, err)
			}

			info := describeKeySet(opts.JWKSURL, set)
			if opts.Output == "text" {
				return printKeysText(cmd.OutOrStdout(), info)
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
}

func describeKeySet(url string, set *verifier.KeySet) keySetInfo {
	info := keySetInfo{
		URL:       url,
		FetchedAt: set.FetchedAt.UTC(),
		ExpiresAt: set.ExpiresAt().UTC(),
		Keys:      make([]keyInfo, 0, set.Len()),
	}
	for _, k := range set.Keys {
		info.Keys = append(info.Keys, keyInfo{
			KeyID:     k.KeyID,
			KeyType:   k.KeyType,
			Algorithm: k.Algorithm,
			Use:       k.Use,
		})
	}
	return info
}

func printKeysText(w io.Writer, info keySetInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KID\tKTY\tALG\tUSE")
	for _, k := range info.Keys {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", k.KeyID, k.KeyType, dash(k.Algorithm), dash(k.Use))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nfetched %s, expires %s\n",
		info.FetchedAt.Format(time.RFC3339), info.ExpiresAt.Format(time.RFC3339))
	return err
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
