package session

// Throttle decides which frames are sent for inference.
type Throttle struct {
	Interval int
}

// Due reports whether frame number counter (1-based) should be analyzed.
func (t Throttle) Due(counter int) bool {
	n := t.Interval
	if n < 1 {
		n = 1
	}
	return counter%n == 0
}

// State is the controller lifecycle state.
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// MarshalText lets State render as "idle"/"running" in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
