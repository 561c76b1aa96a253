// File: internal/session/args.go
package session

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/chromepuppet/internal/config"
)

// buildChromeArgs translates the browser configuration into Chrome command
// line switches and merges in ExtraArgs. When an extra argument names the
// same switch as a configuration-derived one, the configuration wins.
func buildChromeArgs(cfg config.BrowserConfig) []string {
	derived := []string{
		fmt.Sprintf("--window-size=%d,%d", cfg.Window.Width, cfg.Window.Height),
	}
	if cfg.Headless {
		derived = append(derived, "--headless=new")
	}
	if cfg.DisableGPU {
		derived = append(derived, "--disable-gpu")
	}
	if cfg.NoSandbox {
		derived = append(derived, "--no-sandbox")
	}
	if cfg.DisableDevShm {
		derived = append(derived, "--disable-dev-shm-usage")
	}
	if cfg.UserAgent != "" {
		derived = append(derived, "--user-agent="+cfg.UserAgent)
	}

	seen := make(map[string]bool, len(derived))
	for _, arg := range derived {
		seen[switchName(arg)] = true
	}

	merged := derived
	for _, arg := range cfg.ExtraArgs {
		if seen[switchName(arg)] {
			continue
		}
		merged = append(merged, arg)
	}
	return merged
}

// switchName strips a switch down to its name for conflict detection:
// "--window-size=800,600" -> "--window-size".
func switchName(arg string) string {
	name, _, _ := strings.Cut(arg, "=")
	return name
}

// chromePrefs builds the Chrome preference map. Download behavior follows
// the configured directory when one is set.
func chromePrefs(cfg config.BrowserConfig) map[string]interface{} {
	if cfg.DownloadDir == "" {
		return nil
	}
	return map[string]interface{}{
		"download.default_directory":   cfg.DownloadDir,
		"download.prompt_for_download": false,
		"download.directory_upgrade":   true,
		"safebrowsing.enabled":         true,
	}
}

// newSessionPayload assembles the capabilities body for session creation.
func newSessionPayload(cfg config.BrowserConfig, binaryPath, profileDir string) map[string]interface{} {
	args := buildChromeArgs(cfg)
	args = append(args, "--user-data-dir="+profileDir)

	chromeOptions := map[string]interface{}{
		"binary": binaryPath,
		"args":   args,
	}
	if prefs := chromePrefs(cfg); prefs != nil {
		chromeOptions["prefs"] = prefs
	}

	return map[string]interface{}{
		"capabilities": map[string]interface{}{
			"alwaysMatch": map[string]interface{}{
				"browserName":             "chrome",
				"goog:chromeOptions":      chromeOptions,
				"unhandledPromptBehavior": "dismiss",
			},
		},
	}
}
