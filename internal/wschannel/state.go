package wschannel

// State is the lifecycle position of a Channel. Closed is terminal.
type State int32

const (
	Unopened State = iota
	Connecting
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Unopened:
		return "unopened"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}
