package rpcclient

// State is the connection state. Each connect attempt moves strictly
// Disconnected -> Connecting -> Connected, or back to Disconnected on
// failure; there is no separate reconnecting state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// validTransition lists the edges of the state machine.
func validTransition(from, to State) bool {
	switch from {
	case StateDisconnected:
		return to == StateConnecting
	case StateConnecting:
		return to == StateConnected || to == StateDisconnected
	case StateConnected:
		return to == StateDisconnected
	}
	return false
}
