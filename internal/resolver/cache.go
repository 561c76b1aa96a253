// File: internal/resolver/cache.go
package resolver

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chromepuppet/api/schemas"
)

// driverBinaryName is the executable name inside a driver archive.
func driverBinaryName() string {
	if runtime.GOOS == "windows" {
		return "chromedriver.exe"
	}
	return "chromedriver"
}

// DriverCache persists extracted driver binaries, one subdirectory per
// version. It is an injected service with an explicit root so tests can use
// an isolated directory; there is no package-level cache state.
type DriverCache struct {
	root   string
	logger *zap.Logger
}

// NewDriverCache opens (creating if needed) a cache rooted at dir. An empty
// dir selects ~/.cache/chromepuppet/drivers.
func NewDriverCache(dir string, logger *zap.Logger) (*DriverCache, error) {
	if dir == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory for driver cache: %w", err)
		}
		dir = filepath.Join(home, ".cache", "chromepuppet", "drivers")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create driver cache directory %q: %w", dir, err)
	}
	return &DriverCache{root: dir, logger: logger.Named("cache")}, nil
}

// Root returns the cache directory.
func (c *DriverCache) Root() string { return c.root }

// driverPath is the location a given version's binary would occupy.
func (c *DriverCache) driverPath(version string) string {
	return filepath.Join(c.root, version, driverBinaryName())
}

// Lookup returns the best cached driver for a browser version: an exact
// match if present, otherwise the highest cached version sharing the browser
// major that does not exceed the browser version.
func (c *DriverCache) Lookup(browserVersion string) (path, version string, ok bool) {
	if p := c.driverPath(browserVersion); fileExists(p) {
		return p, browserVersion, true
	}

	entries, err := os.ReadDir(c.root)
	if err != nil {
		return "", "", false
	}

	major := schemas.MajorVersion(browserVersion)
	var best string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v := e.Name()
		if schemas.MajorVersion(v) != major || compareVersions(v, browserVersion) > 0 {
			continue
		}
		if !fileExists(c.driverPath(v)) {
			continue
		}
		if best == "" || compareVersions(v, best) > 0 {
			best = v
		}
	}
	if best == "" {
		return "", "", false
	}
	return c.driverPath(best), best, true
}

// Store extracts a downloaded archive into the cache. The archive is
// unpacked into a temporary sibling directory and promoted with a single
// rename, so a concurrent Lookup never observes a partially written entry.
func (c *DriverCache) Store(version string, archive []byte) (string, error) {
	tmpDir, err := os.MkdirTemp(c.root, version+".partial-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := extractDriver(archive, filepath.Join(tmpDir, driverBinaryName())); err != nil {
		return "", err
	}

	finalDir := filepath.Join(c.root, version)
	if err := os.Rename(tmpDir, finalDir); err != nil {
		// A concurrent resolver may have promoted the same version already.
		if fileExists(c.driverPath(version)) {
			c.logger.Debug("Driver version already cached by a concurrent resolver",
				zap.String("version", version))
			return c.driverPath(version), nil
		}
		return "", fmt.Errorf("failed to promote driver into cache: %w", err)
	}

	path := c.driverPath(version)
	c.logger.Info("Driver cached", zap.String("version", version), zap.String("path", path))
	return path, nil
}

// Evict removes a cached version, used when post-extraction verification
// finds a mismatched binary.
func (c *DriverCache) Evict(version string) {
	if err := os.RemoveAll(filepath.Join(c.root, version)); err != nil {
		c.logger.Warn("Failed to evict cached driver", zap.String("version", version), zap.Error(err))
	}
}

// extractDriver pulls the driver executable out of a zip archive. Archives
// from the Chrome-for-Testing era nest the binary one directory deep, so the
// search matches on base name.
func extractDriver(archive []byte, dest string) error {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return fmt.Errorf("driver archive is not a valid zip: %w", err)
	}

	for _, f := range reader.File {
		if filepath.Base(f.Name) != driverBinaryName() || f.FileInfo().IsDir() {
			continue
		}
		src, err := f.Open()
		if err != nil {
			return fmt.Errorf("failed to open %q inside archive: %w", f.Name, err)
		}
		defer src.Close()

		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
		if err != nil {
			return fmt.Errorf("failed to create driver binary: %w", err)
		}
		defer out.Close()

		if _, err := io.Copy(out, src); err != nil {
			return fmt.Errorf("failed to extract driver binary: %w", err)
		}
		return nil
	}
	return fmt.Errorf("archive contains no %s entry", driverBinaryName())
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// compareVersions orders two dotted version strings numerically, component
// by component. Returns -1, 0, or 1.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	}
	return 0
}
