// File: internal/session/helpers_test.go
package session

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/chromepuppet/api/schemas"
	"github.com/xkilldash9x/chromepuppet/internal/config"
)

// fakeProcess is a scriptable driverProcess.
type fakeProcess struct {
	mu    sync.Mutex
	alive bool
	kills int
}

func (p *fakeProcess) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive = false
	p.kills++
	return nil
}

func (p *fakeProcess) Pid() int { return 4242 }

func (p *fakeProcess) die() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive = false
}

func (p *fakeProcess) killCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills
}

// fakeWire records commands and answers them from a script.
type fakeWire struct {
	mu       sync.Mutex
	commands []schemas.Command
	sendFn   func(cmd schemas.Command) (*schemas.Response, error)
	aliveFn  func() bool
}

func (w *fakeWire) Send(ctx context.Context, cmd schemas.Command) (*schemas.Response, error) {
	w.mu.Lock()
	w.commands = append(w.commands, cmd)
	w.mu.Unlock()
	if w.sendFn != nil {
		return w.sendFn(cmd)
	}
	return okResponse(`null`), nil
}

func (w *fakeWire) IsAlive(ctx context.Context) bool {
	if w.aliveFn != nil {
		return w.aliveFn()
	}
	return true
}

func (w *fakeWire) sent() []schemas.Command {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]schemas.Command(nil), w.commands...)
}

// okResponse wraps a raw JSON value the way the driver would.
func okResponse(rawValue string) *schemas.Response {
	return &schemas.Response{Value: json.RawMessage(rawValue)}
}

// sessionCreateResponse mimics a successful POST /session reply.
func sessionCreateResponse(id string) *schemas.Response {
	return &schemas.Response{
		Value: json.RawMessage(`{"sessionId":"` + id + `","capabilities":{}}`),
	}
}

// defaultSendScript answers the start sequence: session create, then OK for
// everything else.
func defaultSendScript(cmd schemas.Command) (*schemas.Response, error) {
	if cmd.Method == http.MethodPost && cmd.Path == "/session" {
		return sessionCreateResponse("fake-session-id"), nil
	}
	return okResponse(`null`), nil
}

// newTestHandle builds a handle whose spawn and dial are wired to fakes.
func newTestHandle(t *testing.T, proc *fakeProcess, wire *fakeWire) *Handle {
	t.Helper()
	cfg := config.NewDefaultConfig()
	h := NewHandle(cfg, zaptest.NewLogger(t))
	h.spawn = func(binary string, args []string) (driverProcess, error) {
		return proc, nil
	}
	h.dial = func(endpoint string) WireClient {
		return wire
	}
	return h
}

func testPair() schemas.BinaryPair {
	return schemas.BinaryPair{
		BrowserPath:    "/usr/bin/google-chrome",
		DriverPath:     "/tmp/chromedriver",
		BrowserVersion: "139.0.7258.66",
		DriverVersion:  "139.0.7258.66",
	}
}
