// File: internal/resolver/resolver.go
//
// Package resolver produces a compatible browser/driver binary pair. It
// discovers the installed Chrome or Chromium, reads its version, and locates
// or downloads a chromedriver matching it, caching the result on disk and in
// memory for the life of the process.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/chromepuppet/api/schemas"
	"github.com/xkilldash9x/chromepuppet/internal/config"
)

// driverCompatible is the compatibility predicate: a driver serves a browser
// when their major versions are equal. Chrome has shipped chromedriver in
// lockstep since milestone 115, and within one milestone any build drives
// any build, so major equality is both necessary and sufficient.
func driverCompatible(browserVersion, driverVersion string) bool {
	major := schemas.MajorVersion(browserVersion)
	return major != 0 && major == schemas.MajorVersion(driverVersion)
}

// Resolver turns a browser configuration into a validated BinaryPair.
// Safe for concurrent use; concurrent resolutions of the same browser
// version coordinate through singleflight so only one download happens.
type Resolver struct {
	cache       *DriverCache
	fetcher     Fetcher
	maxAttempts int
	logger      *zap.Logger

	// versionFn reads a binary's version; replaced in tests.
	versionFn func(ctx context.Context, binary string) (string, error)

	group singleflight.Group
	mu    sync.RWMutex
	memo  map[string]schemas.BinaryPair
}

// New builds a Resolver around an injected cache and fetch service.
func New(cache *DriverCache, fetcher Fetcher, cfg config.ResolverConfig, logger *zap.Logger) *Resolver {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 3
	}
	return &Resolver{
		cache:       cache,
		fetcher:     fetcher,
		maxAttempts: attempts,
		logger:      logger.Named("resolver"),
		versionFn:   binaryVersion,
		memo:        make(map[string]schemas.BinaryPair),
	}
}

// Resolve locates the browser binary, determines its version, and returns a
// BinaryPair whose driver satisfies the compatibility predicate. Results are
// memoized per browser version; a failed resolution leaves no memo entry so
// the next call starts clean.
func (r *Resolver) Resolve(ctx context.Context, browser config.BrowserConfig) (schemas.BinaryPair, error) {
	browserPath, err := locateBrowser(browser.BinaryPath)
	if err != nil {
		return schemas.BinaryPair{}, err
	}

	browserVersion, err := r.versionFn(ctx, browserPath)
	if err != nil {
		return schemas.BinaryPair{}, &schemas.BinaryResolutionError{
			Reason: "could not read browser version",
			Err:    err,
		}
	}

	r.mu.RLock()
	pair, hit := r.memo[browserVersion]
	r.mu.RUnlock()
	if hit {
		return pair, nil
	}

	// Concurrent misses for the same version share one resolution.
	result, err, _ := r.group.Do(browserVersion, func() (interface{}, error) {
		driverPath, driverVersion, err := r.resolveDriver(ctx, browserVersion)
		if err != nil {
			return nil, err
		}
		p := schemas.BinaryPair{
			BrowserPath:    browserPath,
			DriverPath:     driverPath,
			BrowserVersion: browserVersion,
			DriverVersion:  driverVersion,
		}
		r.mu.Lock()
		r.memo[browserVersion] = p
		r.mu.Unlock()
		return p, nil
	})
	if err != nil {
		var resolutionErr *schemas.BinaryResolutionError
		if !errors.As(err, &resolutionErr) {
			err = &schemas.BinaryResolutionError{Reason: "driver resolution failed", Err: err}
		}
		return schemas.BinaryPair{}, err
	}

	return result.(schemas.BinaryPair), nil
}

// resolveDriver finds or fetches a driver for the given browser version.
func (r *Resolver) resolveDriver(ctx context.Context, browserVersion string) (string, string, error) {
	if path, version, ok := r.cache.Lookup(browserVersion); ok {
		r.logger.Debug("Driver cache hit",
			zap.String("browser_version", browserVersion),
			zap.String("driver_version", version))
		return path, version, nil
	}

	archive, err := r.fetchWithRetry(ctx, browserVersion)
	if err != nil {
		return "", "", &schemas.BinaryResolutionError{
			Reason: fmt.Sprintf("could not fetch driver for browser %s", browserVersion),
			Err:    err,
		}
	}

	path, err := r.cache.Store(browserVersion, archive)
	if err != nil {
		return "", "", &schemas.BinaryResolutionError{Reason: "could not cache driver", Err: err}
	}

	// Verify the extracted artifact actually is the version we asked for.
	driverVersion, err := r.versionFn(ctx, path)
	if err != nil {
		r.cache.Evict(browserVersion)
		return "", "", &schemas.BinaryResolutionError{
			Reason: "downloaded driver failed version check",
			Err:    err,
		}
	}
	if !driverCompatible(browserVersion, driverVersion) {
		r.cache.Evict(browserVersion)
		return "", "", &schemas.BinaryResolutionError{
			Reason: fmt.Sprintf("downloaded driver %s is incompatible with browser %s",
				driverVersion, browserVersion),
		}
	}

	return path, driverVersion, nil
}

// fetchWithRetry retries transient download failures with exponential
// backoff, up to the configured attempt bound. A missing version is
// permanent: the distribution will not grow the artifact by retrying.
func (r *Resolver) fetchWithRetry(ctx context.Context, version string) ([]byte, error) {
	var archive []byte

	operation := func() error {
		data, err := r.fetcher.Fetch(ctx, version)
		if err != nil {
			if errors.Is(err, schemas.ErrNoSuchVersion) {
				return backoff.Permanent(err)
			}
			r.logger.Warn("Transient driver fetch failure, retrying...",
				zap.String("version", version), zap.Error(err))
			return err
		}
		archive = data
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second

	policy := backoff.WithMaxRetries(backoff.WithContext(b, ctx), uint64(r.maxAttempts-1))
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return archive, nil
}
