// File: internal/resolver/locate.go
package resolver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/xkilldash9x/chromepuppet/api/schemas"
)

// wellKnownBrowserPaths lists the install locations probed when no explicit
// binary path is configured. PATH lookups come first so a managed install
// wins over a stale system copy.
func wellKnownBrowserPaths() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "windows":
		return []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		}
	default:
		return []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/opt/google/chrome/chrome",
			"/snap/bin/chromium",
		}
	}
}

// pathCandidates are names resolved through $PATH before falling back to the
// absolute locations above.
var pathCandidates = []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"}

// locateBrowser finds the browser executable. An explicit path is trusted but
// must exist; otherwise the platform's usual suspects are probed in order.
func locateBrowser(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", &schemas.BinaryResolutionError{
				Reason: fmt.Sprintf("configured browser binary %q is not accessible", explicit),
				Err:    err,
			}
		}
		return explicit, nil
	}

	for _, name := range pathCandidates {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	for _, p := range wellKnownBrowserPaths() {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}

	return "", &schemas.BinaryResolutionError{
		Reason: "no Chrome or Chromium installation found in well-known locations",
	}
}

// binaryVersion runs "<binary> --version" and extracts the dotted version.
// Both Chrome and chromedriver answer this without touching the network or a
// display, so a short deadline is enough.
func binaryVersion(ctx context.Context, binary string) (string, error) {
	verCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(verCtx, binary, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to run %q --version: %w", binary, err)
	}

	version := schemas.ExtractVersion(string(out))
	if version == "" {
		return "", fmt.Errorf("no version string in output of %q --version: %q", binary, string(out))
	}
	return version, nil
}
