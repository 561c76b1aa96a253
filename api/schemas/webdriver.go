package schemas

import (
	"encoding/json"
)

// -- WebDriver Wire Schemas --

// Command is a single request to the driver process. Path is relative to the
// driver's session root (e.g. "/url", "/element"); Method is the HTTP verb
// the classic protocol maps the command to.
type Command struct {
	Method  string      `json:"method"`
	Path    string      `json:"path"`
	Payload interface{} `json:"payload,omitempty"`
}

// Response is the decoded driver reply. Value is left raw so callers can
// unmarshal into the type they expect for the specific command.
type Response struct {
	SessionID string          `json:"sessionId,omitempty"`
	Value     json.RawMessage `json:"value"`
}

// WireError is the error payload the driver returns inside Response.Value
// when a command fails.
type WireError struct {
	Code       string `json:"error"`
	Message    string `json:"message"`
	Stacktrace string `json:"stacktrace,omitempty"`
}

// W3CElementKey is the magic property name the protocol uses to tag element
// references inside JSON values.
const W3CElementKey = "element-6066-11e4-a52e-4f735466cecf"

// ElementRef identifies a DOM element previously located by the driver.
type ElementRef struct {
	ID string `json:"element-6066-11e4-a52e-4f735466cecf"`
}

// Driver-side error codes the resilience layer needs to recognize. These are
// the wire-level strings defined by the protocol, not invented here.
const (
	WireCodeNoSuchElement     = "no such element"
	WireCodeStaleElement      = "stale element reference"
	WireCodeTimeout           = "timeout"
	WireCodeScriptTimeout     = "script timeout"
	WireCodeInvalidSession    = "invalid session id"
	WireCodeChromeUnreachable = "chrome not reachable"
)

// -- Resolved Binary Schemas --

// BinaryPair is a browser executable and a driver executable confirmed
// mutually compatible by the resolver.
type BinaryPair struct {
	BrowserPath    string `json:"browser_path"`
	DriverPath     string `json:"driver_path"`
	BrowserVersion string `json:"browser_version"`
	DriverVersion  string `json:"driver_version"`
}

// BrowserMajor returns the major component of the browser version, or 0 if
// the version string is malformed.
func (p BinaryPair) BrowserMajor() int {
	return MajorVersion(p.BrowserVersion)
}

// DriverMajor returns the major component of the driver version, or 0 if the
// version string is malformed.
func (p BinaryPair) DriverMajor() int {
	return MajorVersion(p.DriverVersion)
}
