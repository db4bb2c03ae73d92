package link

// State is the connection state of a [Manager].
//
// Transitions: Disconnected → Connecting → Connected → Disconnected, plus
// Connecting → Disconnected when a dial fails.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}
