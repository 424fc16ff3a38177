package loop

// State is a loop's coarse playback/recording mode.
type State int

const (
	StateIdle State = iota
	StateRecording
	StatePlayback
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StatePlayback:
		return "playback"
	default:
		return "unknown"
	}
}

// stateSchedule pairs a target state with the cycle-relative frame time it
// takes effect at. Produced by TogglePlayback/ToggleRecording, consumed by
// Process.
type stateSchedule struct {
	state State
	time  uint32
}
