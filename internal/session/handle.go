// File: internal/session/handle.go
//
// Package session owns exactly one driver process and its attached browser
// session: spawn, health check, serialized command execution, crash
// detection, and unconditional teardown.
package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chromepuppet/api/schemas"
	"github.com/xkilldash9x/chromepuppet/internal/config"
)

// Handle drives one browser session through one driver process. All command
// execution is serialized: the peer is strictly request/response and cannot
// service overlapping requests.
type Handle struct {
	id     string
	cfg    *config.Config
	logger *zap.Logger

	// spawn and dial are replaced by tests with fakes.
	spawn func(binary string, args []string) (driverProcess, error)
	dial  func(endpoint string) WireClient

	mu         sync.Mutex
	state      State
	wire       WireClient
	proc       driverProcess
	sessionID  string
	profileDir string
	port       int
}

// NewHandle creates an unstarted handle for the given configuration.
func NewHandle(cfg *config.Config, logger *zap.Logger) *Handle {
	id := uuid.New().String()
	return &Handle{
		id:     id,
		cfg:    cfg,
		logger: logger.Named("session").With(zap.String("session_id", id)),
		spawn:  spawnDriver,
		dial:   newHTTPWire,
		state:  Unstarted,
	}
}

// ID returns the handle's identifier.
func (h *Handle) ID() string { return h.id }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Start spawns the driver for the resolved binary pair, waits for it to
// accept commands, and creates the browser session. On any failure the
// handle transitions to Failed and every partially acquired resource is
// released; no partial session ever escapes.
func (h *Handle) Start(ctx context.Context, pair schemas.BinaryPair) error {
	h.mu.Lock()
	if h.state != Unstarted {
		state := h.state
		h.mu.Unlock()
		return &schemas.SessionStartError{
			Stage: "precondition",
			Err:   fmt.Errorf("start called on a %s handle", state),
		}
	}
	h.state = Starting
	h.mu.Unlock()

	if err := h.bootstrap(ctx, pair); err != nil {
		h.mu.Lock()
		if h.state == Starting {
			h.state = Failed
		}
		h.mu.Unlock()
		h.releaseResources()
		return err
	}

	h.mu.Lock()
	if h.state != Starting {
		// Stop ran concurrently and already owns teardown; do not revive
		// the session behind its back.
		state := h.state
		h.mu.Unlock()
		h.releaseResources()
		return &schemas.SessionStartError{
			Stage: "aborted",
			Err:   fmt.Errorf("session stopped during startup (handle is %s)", state),
		}
	}
	h.state = Ready
	port := h.port
	h.mu.Unlock()

	h.logger.Info("Session ready",
		zap.String("browser_version", pair.BrowserVersion),
		zap.String("driver_version", pair.DriverVersion),
		zap.Int("port", port))
	return nil
}

// bootstrap performs the spawn/health-check/create sequence. Each acquired
// resource is published onto the handle under the mutex as soon as it
// exists, so a concurrent Stop can always see and release it.
func (h *Handle) bootstrap(ctx context.Context, pair schemas.BinaryPair) error {
	startCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeouts.Start)
	defer cancel()

	profileDir, err := os.MkdirTemp("", "chromepuppet-profile-")
	if err != nil {
		return &schemas.SessionStartError{Stage: "profile", Err: err}
	}
	h.mu.Lock()
	h.profileDir = profileDir
	h.mu.Unlock()

	port, err := freePort()
	if err != nil {
		return &schemas.SessionStartError{Stage: "port", Err: err}
	}

	proc, err := h.spawn(pair.DriverPath, []string{"--port=" + strconv.Itoa(port)})
	if err != nil {
		return &schemas.SessionStartError{Stage: "spawn", Err: err}
	}
	wire := h.dial(fmt.Sprintf("http://127.0.0.1:%d", port))
	h.mu.Lock()
	h.port = port
	h.proc = proc
	h.wire = wire
	h.mu.Unlock()
	h.logger.Debug("Driver process spawned", zap.Int("pid", proc.Pid()))

	// Health check: poll the status endpoint until the driver answers or
	// the start budget runs out. A process that exits immediately fails
	// here rather than hanging until the deadline.
	if err := awaitReachable(startCtx, proc, wire); err != nil {
		return &schemas.SessionStartError{Stage: "health check", Err: err}
	}

	resp, err := wire.Send(startCtx, schemas.Command{
		Method:  http.MethodPost,
		Path:    "/session",
		Payload: newSessionPayload(h.cfg.Browser, pair.BrowserPath, profileDir),
	})
	if err != nil {
		return &schemas.SessionStartError{Stage: "session create", Err: err}
	}

	sessionID, err := extractSessionID(resp)
	if err != nil {
		return &schemas.SessionStartError{Stage: "session create", Err: err}
	}
	h.mu.Lock()
	h.sessionID = sessionID
	h.mu.Unlock()

	// Forward configured timeouts into the driver.
	_, err = wire.Send(startCtx, schemas.Command{
		Method: http.MethodPost,
		Path:   "/session/" + sessionID + "/timeouts",
		Payload: map[string]interface{}{
			"implicit": h.cfg.Timeouts.ImplicitWait.Milliseconds(),
			"pageLoad": h.cfg.Timeouts.PageLoad.Milliseconds(),
		},
	})
	if err != nil {
		return &schemas.SessionStartError{Stage: "timeouts", Err: err}
	}
	return nil
}

// awaitReachable polls the driver's status endpoint until it responds.
func awaitReachable(ctx context.Context, proc driverProcess, wire WireClient) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !proc.Alive() {
			return fmt.Errorf("driver process exited before accepting connections")
		}
		if wire.IsAlive(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("driver did not become reachable: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Execute forwards one command to the live driver connection. Calls are
// serialized; concurrent callers queue. A session that is neither Ready nor
// Degraded is rejected immediately, never silently queued. A dead peer is
// detected before the wire call and surfaces as a crash, not a hang.
func (h *Handle) Execute(ctx context.Context, cmd schemas.Command) (*schemas.Response, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.state.acceptsCommands() {
		return nil, &schemas.SessionNotReadyError{State: h.state.String()}
	}

	if !h.proc.Alive() {
		if h.state != Degraded {
			h.state = Degraded
			h.logger.Warn("Driver process death detected; session degraded")
		}
		return nil, &schemas.SessionCrashedError{
			Err: fmt.Errorf("driver process is no longer running"),
		}
	}

	cmd.Path = "/session/" + h.sessionID + cmd.Path
	return h.wire.Send(ctx, cmd)
}

// Stop tears the session down. It is idempotent, callable from any state
// including error-handling paths, and never returns an error: a failed
// graceful quit is logged and followed by a force kill. Every resource the
// handle acquired is released before it reports Closed.
func (h *Handle) Stop(ctx context.Context) {
	h.mu.Lock()
	switch h.state {
	case Closing, Closed:
		h.mu.Unlock()
		return
	case Unstarted:
		h.state = Closed
		h.mu.Unlock()
		return
	}
	prev := h.state
	h.state = Closing
	sessionID := h.sessionID
	wire := h.wire
	proc := h.proc
	h.mu.Unlock()

	// Graceful half: ask the driver to end the browser session. Bounded by
	// the quit timeout; failure here only means we fall through to the kill.
	if wire != nil && sessionID != "" && prev != Failed && proc != nil && proc.Alive() {
		quitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.Timeouts.Quit)
		if _, err := wire.Send(quitCtx, schemas.Command{
			Method: http.MethodDelete,
			Path:   "/session/" + sessionID,
		}); err != nil {
			h.logger.Debug("Graceful quit failed; forcing termination", zap.Error(err))
		}
		cancel()
	}

	h.releaseResources()

	h.mu.Lock()
	h.state = Closed
	h.mu.Unlock()
	h.logger.Info("Session closed")
}

// releaseResources force-kills the process and removes the temporary
// profile directory. Safe when either was never acquired.
func (h *Handle) releaseResources() {
	h.mu.Lock()
	proc := h.proc
	profileDir := h.profileDir
	h.mu.Unlock()

	if proc != nil {
		if err := proc.Kill(); err != nil {
			h.logger.Warn("Failed to kill driver process", zap.Error(err))
		}
	}
	if profileDir != "" {
		if err := os.RemoveAll(profileDir); err != nil {
			h.logger.Warn("Failed to remove profile directory",
				zap.String("dir", profileDir), zap.Error(err))
		}
	}
}

// -- Capture primitives used by the diagnostics path --

// Screenshot returns the current viewport as PNG bytes.
func (h *Handle) Screenshot(ctx context.Context) ([]byte, error) {
	resp, err := h.Execute(ctx, schemas.Command{Method: http.MethodGet, Path: "/screenshot"})
	if err != nil {
		return nil, err
	}
	var encoded string
	if err := wireJSON.Unmarshal(resp.Value, &encoded); err != nil {
		return nil, fmt.Errorf("malformed screenshot payload: %w", err)
	}
	return base64.StdEncoding.DecodeString(encoded)
}

// CurrentURL returns the browser's current location.
func (h *Handle) CurrentURL(ctx context.Context) (string, error) {
	resp, err := h.Execute(ctx, schemas.Command{Method: http.MethodGet, Path: "/url"})
	if err != nil {
		return "", err
	}
	var url string
	if err := wireJSON.Unmarshal(resp.Value, &url); err != nil {
		return "", fmt.Errorf("malformed url payload: %w", err)
	}
	return url, nil
}

// PageSource returns the serialized DOM of the current page.
func (h *Handle) PageSource(ctx context.Context) (string, error) {
	resp, err := h.Execute(ctx, schemas.Command{Method: http.MethodGet, Path: "/source"})
	if err != nil {
		return "", err
	}
	var source string
	if err := wireJSON.Unmarshal(resp.Value, &source); err != nil {
		return "", fmt.Errorf("malformed page source payload: %w", err)
	}
	return source, nil
}

// extractSessionID pulls the new session's ID out of the create response.
// Drivers have answered with both shapes over the protocol's history.
func extractSessionID(resp *schemas.Response) (string, error) {
	if resp.SessionID != "" {
		return resp.SessionID, nil
	}
	var value struct {
		SessionID string `json:"sessionId"`
	}
	if err := wireJSON.Unmarshal(resp.Value, &value); err != nil || value.SessionID == "" {
		return "", fmt.Errorf("driver returned no session id (malformed health check response)")
	}
	return value.SessionID, nil
}

// freePort asks the kernel for an unused loopback port.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to allocate driver port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
