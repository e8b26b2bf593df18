package reconcile

// State is the engine's connection state.
//
//	disconnected -> resyncing -> connected -> disconnected ...
//
// Events that arrive while resyncing are buffered and applied once the
// baseline has been installed.
type State int

// Engine states.
const (
	StateDisconnected State = iota
	StateResyncing
	StateConnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateResyncing:
		return "resyncing"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}
