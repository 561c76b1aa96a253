// File: internal/resolver/fetch.go
package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/chromepuppet/api/schemas"
)

// Fetcher retrieves a driver archive for an exact browser version.
// Implementations must distinguish "no such version" (fatal, wrapped as
// schemas.ErrNoSuchVersion) from transient network or server trouble.
type Fetcher interface {
	Fetch(ctx context.Context, version string) ([]byte, error)
}

// Chrome-for-Testing endpoints took over driver distribution at milestone
// 115; older milestones still live on the legacy storage bucket.
const (
	cftDownloadBase    = "https://edgedl.me.gvt1.com/edgedl/chrome/chrome-for-testing"
	legacyDownloadBase = "https://chromedriver.storage.googleapis.com"
	cftEraMajor        = 115
)

// fetchPlatform maps GOOS/GOARCH onto the distribution's platform labels.
func fetchPlatform() string {
	switch runtime.GOOS {
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return "mac-arm64"
		}
		return "mac-x64"
	case "windows":
		return "win64"
	default:
		return "linux64"
	}
}

// legacyPlatform converts a platform label to the legacy bucket's underscore
// naming, which has no arch split on mac and only ships win32.
func legacyPlatform(platform string) string {
	switch platform {
	case "mac-x64", "mac-arm64":
		return "mac64"
	case "win64":
		return "win32"
	}
	return platform
}

// HTTPFetcher downloads driver archives from the official distribution
// endpoints. A small rate limiter keeps retry storms polite. The base URLs
// are overridable so tests can point at a local server.
type HTTPFetcher struct {
	client     *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	cftBase    string
	legacyBase string
}

// NewHTTPFetcher builds a fetcher with the given per-request timeout.
func NewHTTPFetcher(timeout time.Duration, logger *zap.Logger) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPFetcher{
		client:     &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 2),
		logger:     logger.Named("fetcher"),
		cftBase:    cftDownloadBase,
		legacyBase: legacyDownloadBase,
	}
}

func (f *HTTPFetcher) cftArchiveURL(version string) string {
	platform := fetchPlatform()
	return fmt.Sprintf("%s/%s/%s/chromedriver-%s.zip", f.cftBase, version, platform, platform)
}

func (f *HTTPFetcher) legacyArchiveURL(driverVersion string) string {
	return fmt.Sprintf("%s/%s/chromedriver_%s.zip", f.legacyBase, driverVersion, legacyPlatform(fetchPlatform()))
}

// legacyDriverVersion resolves a pre-115 browser version to the matching
// driver release. The legacy bucket keys archives by driver version, which
// rarely equals the full browser version, so the LATEST_RELEASE_{major}
// marker has to be consulted first.
func (f *HTTPFetcher) legacyDriverVersion(ctx context.Context, browserVersion string) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/LATEST_RELEASE_%d", f.legacyBase, schemas.MajorVersion(browserVersion))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build release lookup request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("driver release lookup failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("version %s: %w", browserVersion, schemas.ErrNoSuchVersion)
	default:
		return "", fmt.Errorf("driver release lookup returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read release marker: %w", err)
	}
	driverVersion := strings.TrimSpace(string(body))
	if driverVersion == "" {
		return "", fmt.Errorf("empty release marker for version %s", browserVersion)
	}

	f.logger.Debug("Resolved legacy driver release",
		zap.String("browser_version", browserVersion),
		zap.String("driver_version", driverVersion))
	return driverVersion, nil
}

// Fetch downloads the archive matching an exact browser version. Milestones
// at or past 115 download straight from Chrome for Testing; older ones go
// through the legacy bucket's release marker first. A 404 means the
// distribution has no such artifact and is surfaced as ErrNoSuchVersion;
// 5xx and transport errors are returned as-is for the caller's retry policy.
func (f *HTTPFetcher) Fetch(ctx context.Context, version string) ([]byte, error) {
	url := f.cftArchiveURL(version)
	if schemas.MajorVersion(version) < cftEraMajor {
		driverVersion, err := f.legacyDriverVersion(ctx, version)
		if err != nil {
			return nil, err
		}
		url = f.legacyArchiveURL(driverVersion)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	f.logger.Info("Downloading driver archive", zap.String("version", version), zap.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("driver download failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// Fall through to read the body.
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("version %s: %w", version, schemas.ErrNoSuchVersion)
	default:
		return nil, fmt.Errorf("driver download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read driver archive: %w", err)
	}

	f.logger.Debug("Driver archive downloaded", zap.Int("bytes", len(data)))
	return data, nil
}
