// File: internal/puppet/puppet.go
//
// Package puppet is the high level entry point: acquire a browser session,
// drive it through resilient page operations, and release it. Everything
// underneath (binary resolution, process lifecycle, retry policy) is wired
// here and hidden from callers.
package puppet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chromepuppet/api/schemas"
	"github.com/xkilldash9x/chromepuppet/internal/config"
	"github.com/xkilldash9x/chromepuppet/internal/diagnostics"
	"github.com/xkilldash9x/chromepuppet/internal/executor"
	"github.com/xkilldash9x/chromepuppet/internal/resolver"
	"github.com/xkilldash9x/chromepuppet/internal/session"
)

// binaryResolver produces a compatible browser/driver pair.
type binaryResolver interface {
	Resolve(ctx context.Context, browser config.BrowserConfig) (schemas.BinaryPair, error)
}

// driver is the session handle surface the facade drives. *session.Handle
// implements it; tests substitute fakes.
type driver interface {
	ID() string
	State() session.State
	Start(ctx context.Context, pair schemas.BinaryPair) error
	Stop(ctx context.Context)
	Execute(ctx context.Context, cmd schemas.Command) (*schemas.Response, error)
	Screenshot(ctx context.Context) ([]byte, error)
	CurrentURL(ctx context.Context) (string, error)
	PageSource(ctx context.Context) (string, error)
}

// Session is a live browser session. All methods are safe for concurrent
// use: commands serialize on the underlying handle, and Restart swaps the
// handle under the session mutex so in-flight operations observe either the
// old handle or the new one, never a torn pair.
type Session struct {
	cfg    *config.Config
	logger *zap.Logger

	resolve   binaryResolver
	newDriver func() driver
	sink      diagnostics.Sink

	mu     sync.RWMutex
	pair   schemas.BinaryPair
	handle driver
	exec   *executor.Executor
}

// Acquire resolves compatible binaries and starts a browser session. A
// resolution failure returns before any process is spawned. The caller owns
// the returned session and must Release it; the configuration is copied, so
// later mutation by the caller does not reach the session.
func Acquire(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = cfg.Clone()

	cache, err := resolver.NewDriverCache(cfg.Resolver.CacheDir, logger)
	if err != nil {
		return nil, err
	}
	res := resolver.New(cache, resolver.NewHTTPFetcher(cfg.Resolver.FetchTimeout, logger), cfg.Resolver, logger)

	var sink diagnostics.Sink = diagnostics.NopSink{}
	if cfg.Diagnostics.Dir != "" && (cfg.Diagnostics.CaptureScreenshot || cfg.Diagnostics.CapturePageSource) {
		fileSink, err := diagnostics.NewFileSink(cfg.Diagnostics.Dir, logger)
		if err != nil {
			return nil, err
		}
		sink = fileSink
	}

	s := &Session{
		cfg:       cfg,
		logger:    logger.Named("puppet"),
		resolve:   res,
		newDriver: func() driver { return session.NewHandle(cfg, logger) },
		sink:      sink,
	}
	if err := s.start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// start resolves binaries and brings up a fresh handle. Resolution must
// succeed before any session process is spawned.
func (s *Session) start(ctx context.Context) error {
	pair, err := s.resolve.Resolve(ctx, s.cfg.Browser)
	if err != nil {
		return err
	}

	handle := s.newDriver()
	if err := handle.Start(ctx, pair); err != nil {
		return err
	}

	s.mu.Lock()
	s.pair = pair
	s.handle = handle
	s.exec = executor.New(handle, s.sink, s.cfg.Diagnostics, s.logger)
	s.mu.Unlock()
	return nil
}

// current returns the handle and its paired executor as one consistent view.
func (s *Session) current() (driver, *executor.Executor) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle, s.exec
}

// Release tears the session down. Safe to call more than once and from
// error paths; it never fails.
func (s *Session) Release(ctx context.Context) {
	handle, _ := s.current()
	if handle != nil {
		handle.Stop(ctx)
	}
}

// Restart discards the current browser session and starts a new one with
// the same resolved binaries. Use it to recover from a crashed or degraded
// session without re-running discovery. Concurrent operations block until
// the swap completes and then run against the new session.
func (s *Session) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Restarting session", zap.String("old_session", s.handle.ID()))
	s.handle.Stop(ctx)

	handle := s.newDriver()
	if err := handle.Start(ctx, s.pair); err != nil {
		return err
	}
	s.handle = handle
	s.exec = executor.New(handle, s.sink, s.cfg.Diagnostics, s.logger)
	return nil
}

// State reports the underlying session lifecycle state.
func (s *Session) State() session.State {
	handle, _ := s.current()
	return handle.State()
}

// Navigate loads the given URL and blocks until the page load strategy is
// satisfied or the policy gives up.
func (s *Session) Navigate(ctx context.Context, url string) error {
	handle, exec := s.current()
	return exec.Run(ctx, "navigate", executor.NavigationPolicy(), func(ctx context.Context) error {
		_, err := handle.Execute(ctx, schemas.Command{
			Method:  http.MethodPost,
			Path:    "/url",
			Payload: map[string]string{"url": url},
		})
		return err
	})
}

// Find locates an element by CSS selector and returns its reference.
func (s *Session) Find(ctx context.Context, selector string) (schemas.ElementRef, error) {
	handle, exec := s.current()
	var ref schemas.ElementRef
	err := exec.Run(ctx, "find", executor.ActionPolicy(), func(ctx context.Context) error {
		found, err := s.findElement(ctx, handle, selector)
		if err != nil {
			return err
		}
		ref = found
		return nil
	})
	return ref, err
}

// Click locates the element by CSS selector and clicks it. The locate is
// repeated inside each attempt, so a reference gone stale between attempts
// is re-resolved rather than reused.
func (s *Session) Click(ctx context.Context, selector string) error {
	handle, exec := s.current()
	return exec.Run(ctx, "click", executor.ActionPolicy(), func(ctx context.Context) error {
		ref, err := s.findElement(ctx, handle, selector)
		if err != nil {
			return err
		}
		_, err = handle.Execute(ctx, schemas.Command{
			Method:  http.MethodPost,
			Path:    "/element/" + ref.ID + "/click",
			Payload: map[string]interface{}{},
		})
		return s.classifyElementErr(err, selector)
	})
}

// Type clears the element matched by the CSS selector and sends the text.
func (s *Session) Type(ctx context.Context, selector, text string) error {
	handle, exec := s.current()
	return exec.Run(ctx, "type", executor.ActionPolicy(), func(ctx context.Context) error {
		ref, err := s.findElement(ctx, handle, selector)
		if err != nil {
			return err
		}
		if _, err := handle.Execute(ctx, schemas.Command{
			Method:  http.MethodPost,
			Path:    "/element/" + ref.ID + "/clear",
			Payload: map[string]interface{}{},
		}); err != nil {
			return s.classifyElementErr(err, selector)
		}
		_, err = handle.Execute(ctx, schemas.Command{
			Method:  http.MethodPost,
			Path:    "/element/" + ref.ID + "/value",
			Payload: map[string]string{"text": text},
		})
		return s.classifyElementErr(err, selector)
	})
}

// EvaluateScript runs JavaScript synchronously in the page and returns the
// raw result for the caller to decode.
func (s *Session) EvaluateScript(ctx context.Context, script string, args ...interface{}) (json.RawMessage, error) {
	if args == nil {
		args = []interface{}{}
	}
	handle, exec := s.current()
	var result json.RawMessage
	err := exec.Run(ctx, "evaluate_script", executor.ActionPolicy(), func(ctx context.Context) error {
		resp, err := handle.Execute(ctx, schemas.Command{
			Method:  http.MethodPost,
			Path:    "/execute/sync",
			Payload: map[string]interface{}{"script": script, "args": args},
		})
		if err != nil {
			return err
		}
		result = resp.Value
		return nil
	})
	return result, err
}

// Title returns the current page title.
func (s *Session) Title(ctx context.Context) (string, error) {
	handle, exec := s.current()
	var title string
	err := exec.Run(ctx, "title", executor.ActionPolicy(), func(ctx context.Context) error {
		resp, err := handle.Execute(ctx, schemas.Command{Method: http.MethodGet, Path: "/title"})
		if err != nil {
			return err
		}
		return json.Unmarshal(resp.Value, &title)
	})
	return title, err
}

// CurrentURL returns the browser's current location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	handle, _ := s.current()
	return handle.CurrentURL(ctx)
}

// PageSource returns the serialized DOM of the current page.
func (s *Session) PageSource(ctx context.Context) (string, error) {
	handle, _ := s.current()
	return handle.PageSource(ctx)
}

// CaptureScreenshot returns the current viewport as PNG bytes.
func (s *Session) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	handle, exec := s.current()
	var shot []byte
	err := exec.Run(ctx, "screenshot", executor.ActionPolicy(), func(ctx context.Context) error {
		data, err := handle.Screenshot(ctx)
		if err != nil {
			return err
		}
		shot = data
		return nil
	})
	return shot, err
}

// findElement issues one locate command and decodes the element reference.
func (s *Session) findElement(ctx context.Context, handle driver, selector string) (schemas.ElementRef, error) {
	resp, err := handle.Execute(ctx, schemas.Command{
		Method:  http.MethodPost,
		Path:    "/element",
		Payload: map[string]string{"using": "css selector", "value": selector},
	})
	if err != nil {
		return schemas.ElementRef{}, s.classifyElementErr(err, selector)
	}
	var ref schemas.ElementRef
	if err := json.Unmarshal(resp.Value, &ref); err != nil || ref.ID == "" {
		return schemas.ElementRef{}, &schemas.ElementNotFoundError{Selector: selector}
	}
	return ref, nil
}

// classifyElementErr attaches the selector to element-scoped wire errors so
// failure records say which locator was involved.
func (s *Session) classifyElementErr(err error, selector string) error {
	if err == nil {
		return nil
	}
	var notFound *schemas.ElementNotFoundError
	if errors.As(err, &notFound) && notFound.Selector == "" {
		return &schemas.ElementNotFoundError{Selector: selector}
	}
	var stale *schemas.StaleReferenceError
	if errors.As(err, &stale) && stale.Selector == "" {
		return &schemas.StaleReferenceError{Selector: selector}
	}
	return err
}
