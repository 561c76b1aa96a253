// File: internal/session/state.go
package session

// State tracks a handle through its lifecycle. Transitions:
//
//	Unstarted -> Starting -> Ready
//	Starting  -> Failed           (spawn or health check failed)
//	Ready     -> Degraded         (peer crash detected)
//	Ready|Degraded -> Closing -> Closed
//	Failed|Unstarted -> Closed    (stop is safe from any state)
type State int32

const (
	Unstarted State = iota
	Starting
	Ready
	Degraded
	Closing
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Degraded:
		return "degraded"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// acceptsCommands reports whether Execute may forward to the driver. A
// degraded session still accepts commands so that teardown-adjacent calls
// fail with a crash error rather than a state error.
func (s State) acceptsCommands() bool {
	return s == Ready || s == Degraded
}
