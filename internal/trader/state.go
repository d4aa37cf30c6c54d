package trader

// State is the trading loop lifecycle state.
type State int32

const (
	StateStarting State = iota
	StateReady
	StateTick
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateReady:
		return "READY"
	case StateTick:
		return "TICK"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}
