package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/chromepuppet/internal/config"
	"github.com/xkilldash9x/chromepuppet/internal/observability"
	"github.com/xkilldash9x/chromepuppet/internal/resolver"
)

// newResolveCmd creates the `resolve` command: run binary discovery and
// driver resolution without starting a browser. Useful for warming the
// driver cache and for debugging version mismatches.
func newResolveCmd() *cobra.Command {
	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolves a compatible browser/driver pair without starting a session",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("browser.binary_path", cmd.Flags().Lookup("binary")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			cache, err := resolver.NewDriverCache(cfg.Resolver.CacheDir, logger)
			if err != nil {
				return err
			}
			fetcher := resolver.NewHTTPFetcher(cfg.Resolver.FetchTimeout, logger)
			res := resolver.New(cache, fetcher, cfg.Resolver, logger)

			pair, err := res.Resolve(ctx, cfg.Browser)
			if err != nil {
				return err
			}

			fmt.Printf("Browser: %s (%s)\n", pair.BrowserPath, pair.BrowserVersion)
			fmt.Printf("Driver:  %s (%s)\n", pair.DriverPath, pair.DriverVersion)
			return nil
		},
	}

	resolveCmd.Flags().String("binary", "", "Path to the browser binary. (Overrides discovery)")

	return resolveCmd
}
