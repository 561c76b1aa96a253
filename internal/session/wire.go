// File: internal/session/wire.go
package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/chromepuppet/api/schemas"
)

// WireClient is the driver protocol collaborator. The session layer only
// depends on this usage contract; the protocol itself is not re-specified
// here.
type WireClient interface {
	// Send issues one command and decodes the reply. Wire-level failure
	// codes are translated into the session error taxonomy.
	Send(ctx context.Context, cmd schemas.Command) (*schemas.Response, error)
	// IsAlive performs the trivial status round-trip used for health checks
	// and liveness probes.
	IsAlive(ctx context.Context) bool
}

// wireJSON is the codec for the hot request/response path.
var wireJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// httpWire talks to a local chromedriver over its HTTP endpoint.
type httpWire struct {
	endpoint string
	client   *http.Client
}

// newHTTPWire connects a client to a driver endpoint such as
// "http://127.0.0.1:9515". The zero timeout on the inner client is
// deliberate: deadlines are enforced per command via context.
func newHTTPWire(endpoint string) WireClient {
	return &httpWire{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{},
	}
}

func (w *httpWire) Send(ctx context.Context, cmd schemas.Command) (*schemas.Response, error) {
	var body io.Reader
	if cmd.Payload != nil {
		data, err := wireJSON.Marshal(cmd.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode command payload: %w", err)
		}
		body = bytes.NewReader(data)
	} else if cmd.Method == http.MethodPost {
		// The protocol requires a JSON object body on every POST.
		body = strings.NewReader("{}")
	}

	req, err := http.NewRequestWithContext(ctx, cmd.Method, w.endpoint+cmd.Path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build command request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wire send failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read wire response: %w", err)
	}

	var decoded schemas.Response
	if err := wireJSON.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("malformed wire response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, wireErrorToTaxonomy(decoded.Value)
	}
	return &decoded, nil
}

func (w *httpWire) IsAlive(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, w.endpoint+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// wireErrorToTaxonomy maps a driver error payload onto the typed errors the
// retry policy classifies. Unknown codes come back as plain errors, which
// the executor treats as fatal.
func wireErrorToTaxonomy(raw []byte) error {
	var wireErr schemas.WireError
	if err := wireJSON.Unmarshal(raw, &wireErr); err != nil {
		return fmt.Errorf("driver returned undecodable error payload: %s", string(raw))
	}

	switch wireErr.Code {
	case schemas.WireCodeNoSuchElement:
		return &schemas.ElementNotFoundError{Selector: wireErr.Message}
	case schemas.WireCodeStaleElement:
		return &schemas.StaleReferenceError{Selector: wireErr.Message}
	case schemas.WireCodeTimeout, schemas.WireCodeScriptTimeout:
		return &schemas.OperationTimeoutError{
			Operation: wireErr.Code,
			Err:       fmt.Errorf("%s", wireErr.Message),
		}
	case schemas.WireCodeInvalidSession, schemas.WireCodeChromeUnreachable:
		return &schemas.SessionCrashedError{
			Err: fmt.Errorf("%s: %s", wireErr.Code, wireErr.Message),
		}
	default:
		return fmt.Errorf("driver error %q: %s", wireErr.Code, wireErr.Message)
	}
}
