// File: internal/session/handle_test.go
package session

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xkilldash9x/chromepuppet/api/schemas"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestHandleStart(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path reaches Ready", func(t *testing.T) {
		proc := &fakeProcess{alive: true}
		wire := &fakeWire{sendFn: defaultSendScript}
		h := newTestHandle(t, proc, wire)
		defer h.Stop(ctx)

		require.NoError(t, h.Start(ctx, testPair()))
		assert.Equal(t, Ready, h.State())
		assert.Equal(t, "fake-session-id", h.sessionID)
		assert.DirExists(t, h.profileDir)

		// The start sequence must create the session, then set timeouts.
		sent := wire.sent()
		require.Len(t, sent, 2)
		assert.Equal(t, "/session", sent[0].Path)
		assert.Equal(t, "/session/fake-session-id/timeouts", sent[1].Path)
	})

	t.Run("spawn failure reaches Failed and cleans up", func(t *testing.T) {
		wire := &fakeWire{sendFn: defaultSendScript}
		h := newTestHandle(t, &fakeProcess{alive: true}, wire)
		h.spawn = func(binary string, args []string) (driverProcess, error) {
			return nil, errors.New("exec format error")
		}

		err := h.Start(ctx, testPair())
		require.Error(t, err)

		var startErr *schemas.SessionStartError
		require.ErrorAs(t, err, &startErr)
		assert.Equal(t, "spawn", startErr.Stage)
		assert.Equal(t, Failed, h.State())
		assert.NoDirExists(t, h.profileDir, "profile dir must not leak on failed start")
	})

	t.Run("process exiting immediately fails the health check", func(t *testing.T) {
		proc := &fakeProcess{alive: false}
		wire := &fakeWire{aliveFn: func() bool { return false }}
		h := newTestHandle(t, proc, wire)

		err := h.Start(ctx, testPair())
		require.Error(t, err)

		var startErr *schemas.SessionStartError
		require.ErrorAs(t, err, &startErr)
		assert.Equal(t, "health check", startErr.Stage)
		assert.Equal(t, Failed, h.State())
	})

	t.Run("malformed session create response fails start", func(t *testing.T) {
		proc := &fakeProcess{alive: true}
		wire := &fakeWire{sendFn: func(cmd schemas.Command) (*schemas.Response, error) {
			return okResponse(`{"no":"session id here"}`), nil
		}}
		h := newTestHandle(t, proc, wire)

		err := h.Start(ctx, testPair())
		require.Error(t, err)
		assert.Equal(t, Failed, h.State())
		assert.Equal(t, 1, proc.killCount(), "spawned process must be reclaimed")
	})

	t.Run("second start is rejected", func(t *testing.T) {
		proc := &fakeProcess{alive: true}
		wire := &fakeWire{sendFn: defaultSendScript}
		h := newTestHandle(t, proc, wire)
		defer h.Stop(ctx)

		require.NoError(t, h.Start(ctx, testPair()))
		err := h.Start(ctx, testPair())
		require.Error(t, err)

		var startErr *schemas.SessionStartError
		assert.ErrorAs(t, err, &startErr)
	})
}

func TestHandleExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects commands before start", func(t *testing.T) {
		h := newTestHandle(t, &fakeProcess{alive: true}, &fakeWire{})

		_, err := h.Execute(ctx, schemas.Command{Method: http.MethodGet, Path: "/url"})
		require.Error(t, err)

		var notReady *schemas.SessionNotReadyError
		require.ErrorAs(t, err, &notReady)
		assert.Equal(t, "unstarted", notReady.State)
	})

	t.Run("prefixes the session path", func(t *testing.T) {
		proc := &fakeProcess{alive: true}
		wire := &fakeWire{sendFn: defaultSendScript}
		h := newTestHandle(t, proc, wire)
		defer h.Stop(ctx)
		require.NoError(t, h.Start(ctx, testPair()))

		_, err := h.Execute(ctx, schemas.Command{Method: http.MethodGet, Path: "/url"})
		require.NoError(t, err)

		sent := wire.sent()
		assert.Equal(t, "/session/fake-session-id/url", sent[len(sent)-1].Path)
	})

	t.Run("dead process degrades the session", func(t *testing.T) {
		proc := &fakeProcess{alive: true}
		wire := &fakeWire{sendFn: defaultSendScript}
		h := newTestHandle(t, proc, wire)
		defer h.Stop(ctx)
		require.NoError(t, h.Start(ctx, testPair()))

		proc.die()

		_, err := h.Execute(ctx, schemas.Command{Method: http.MethodGet, Path: "/url"})
		require.Error(t, err)
		assert.True(t, schemas.IsCrash(err))
		assert.Equal(t, Degraded, h.State())

		// A degraded session keeps failing with the crash error, not a
		// state error: the caller learns what actually happened.
		_, err = h.Execute(ctx, schemas.Command{Method: http.MethodGet, Path: "/url"})
		assert.True(t, schemas.IsCrash(err))
	})
}

func TestHandleStop(t *testing.T) {
	ctx := context.Background()

	t.Run("releases process and profile dir", func(t *testing.T) {
		proc := &fakeProcess{alive: true}
		wire := &fakeWire{sendFn: defaultSendScript}
		h := newTestHandle(t, proc, wire)
		require.NoError(t, h.Start(ctx, testPair()))

		profileDir := h.profileDir
		require.DirExists(t, profileDir)

		h.Stop(ctx)

		assert.Equal(t, Closed, h.State())
		assert.False(t, proc.Alive())
		assert.NoDirExists(t, profileDir)

		// Graceful quit was attempted before the kill.
		sent := wire.sent()
		last := sent[len(sent)-1]
		assert.Equal(t, http.MethodDelete, last.Method)
		assert.Equal(t, "/session/fake-session-id", last.Path)
	})

	t.Run("idempotent from every state", func(t *testing.T) {
		proc := &fakeProcess{alive: true}
		wire := &fakeWire{sendFn: defaultSendScript}
		h := newTestHandle(t, proc, wire)
		require.NoError(t, h.Start(ctx, testPair()))

		h.Stop(ctx)
		kills := proc.killCount()
		h.Stop(ctx)
		h.Stop(ctx)

		assert.Equal(t, Closed, h.State())
		assert.Equal(t, kills, proc.killCount(), "second stop must be a no-op")
	})

	t.Run("safe on an unstarted handle", func(t *testing.T) {
		h := newTestHandle(t, &fakeProcess{alive: true}, &fakeWire{})
		h.Stop(ctx)
		assert.Equal(t, Closed, h.State())
	})

	t.Run("safe after failed start", func(t *testing.T) {
		h := newTestHandle(t, &fakeProcess{alive: true}, &fakeWire{})
		h.spawn = func(binary string, args []string) (driverProcess, error) {
			return nil, errors.New("no such file")
		}
		require.Error(t, h.Start(ctx, testPair()))

		h.Stop(ctx)
		assert.Equal(t, Closed, h.State())
	})

	t.Run("stop during start wins", func(t *testing.T) {
		proc := &fakeProcess{alive: true}
		wire := &fakeWire{sendFn: defaultSendScript}
		h := newTestHandle(t, proc, wire)

		spawned := make(chan struct{})
		release := make(chan struct{})
		h.spawn = func(binary string, args []string) (driverProcess, error) {
			close(spawned)
			<-release
			return proc, nil
		}

		errCh := make(chan error, 1)
		go func() { errCh <- h.Start(ctx, testPair()) }()

		<-spawned
		h.Stop(ctx)
		close(release)

		err := <-errCh
		require.Error(t, err)
		var startErr *schemas.SessionStartError
		require.ErrorAs(t, err, &startErr)
		assert.Equal(t, "aborted", startErr.Stage)

		// The session must stay closed, not flip back to ready, and the
		// late-arriving process must still be reclaimed.
		assert.Equal(t, Closed, h.State())
		assert.False(t, proc.Alive())
	})

	t.Run("repeated start stop cycles leak nothing", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			proc := &fakeProcess{alive: true}
			wire := &fakeWire{sendFn: defaultSendScript}
			h := newTestHandle(t, proc, wire)
			require.NoError(t, h.Start(ctx, testPair()))
			profileDir := h.profileDir

			h.Stop(ctx)
			assert.False(t, proc.Alive())
			_, err := os.Stat(profileDir)
			assert.True(t, os.IsNotExist(err))
		}
	})
}

func TestHandleCapture(t *testing.T) {
	ctx := context.Background()

	proc := &fakeProcess{alive: true}
	wire := &fakeWire{sendFn: func(cmd schemas.Command) (*schemas.Response, error) {
		switch {
		case cmd.Path == "/session":
			return sessionCreateResponse("fake-session-id"), nil
		case cmd.Path == "/session/fake-session-id/screenshot":
			// "iVBORw0KGgo=" is the base64 PNG magic prefix.
			return okResponse(`"iVBORw0KGgo="`), nil
		case cmd.Path == "/session/fake-session-id/url":
			return okResponse(`"https://example.com/"`), nil
		case cmd.Path == "/session/fake-session-id/source":
			return okResponse(`"<html></html>"`), nil
		}
		return okResponse(`null`), nil
	}}
	h := newTestHandle(t, proc, wire)
	defer h.Stop(ctx)
	require.NoError(t, h.Start(ctx, testPair()))

	png, err := h.Screenshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])

	url, err := h.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", url)

	source, err := h.PageSource(ctx)
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", source)
}
