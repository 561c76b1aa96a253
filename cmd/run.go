package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chromepuppet/internal/config"
	"github.com/xkilldash9x/chromepuppet/internal/observability"
	"github.com/xkilldash9x/chromepuppet/internal/puppet"
)

// newRunCmd creates and configures the `run` command: open a managed browser
// session, load the target page, and optionally capture artifacts from it.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [url]",
		Short: "Opens a managed browser session and loads the given URL",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their corresponding Viper keys so command-line
			// flags override values from the config file and environment.
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.binary_path", cmd.Flags().Lookup("binary")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.window_size.width", cmd.Flags().Lookup("width")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.window_size.height", cmd.Flags().Lookup("height")); err != nil {
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

			url := args[0]
			if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
				url = "https://" + url
			}

			started := time.Now()
			sess, err := puppet.Acquire(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to acquire browser session: %w", err)
			}
			defer sess.Release(ctx)

			logger.Info("Session acquired",
				zap.Duration("startup", time.Since(started)),
				zap.String("url", url))

			if err := sess.Navigate(ctx, url); err != nil {
				return fmt.Errorf("navigation failed: %w", err)
			}

			title, err := sess.Title(ctx)
			if err != nil {
				return fmt.Errorf("failed to read page title: %w", err)
			}
			current, err := sess.CurrentURL(ctx)
			if err != nil {
				return fmt.Errorf("failed to read current URL: %w", err)
			}

			if script := viper.GetString("script"); script != "" {
				result, err := sess.EvaluateScript(ctx, script)
				if err != nil {
					return fmt.Errorf("script evaluation failed: %w", err)
				}
				fmt.Printf("%s\n", result)
			}

			if shotPath := viper.GetString("screenshot"); shotPath != "" {
				png, err := sess.CaptureScreenshot(ctx)
				if err != nil {
					return fmt.Errorf("screenshot capture failed: %w", err)
				}
				if err := os.WriteFile(shotPath, png, 0o644); err != nil {
					return fmt.Errorf("failed to write screenshot: %w", err)
				}
				logger.Info("Screenshot written", zap.String("path", shotPath))
			}

			fmt.Printf("Loaded %s (%q)\n", current, title)
			return nil
		},
	}

	// Artifact flags.
	runCmd.Flags().StringP("screenshot", "s", "", "Write a PNG screenshot of the loaded page to this path.")
	runCmd.Flags().String("script", "", "JavaScript to evaluate in the page after load; the result is printed.")

	// Browser override flags.
	runCmd.Flags().Bool("headless", true, "Run the browser headless. (Overrides config/env)")
	runCmd.Flags().String("binary", "", "Path to the browser binary. (Overrides discovery)")
	runCmd.Flags().Int("width", 1920, "Browser window width. (Overrides config/env)")
	runCmd.Flags().Int("height", 1080, "Browser window height. (Overrides config/env)")

	return runCmd
}
