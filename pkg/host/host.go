// Package host is the audio/MIDI server abstraction this module binds
// to — the one hard external dependency this module carries, and the
// one piece meant to be rebound against a concrete server. It models a
// JACK-style process-callback server: named MIDI ports, a block-based
// buffer handed out once per cycle, and a monotonic absolute frame
// clock.
//
// The Host, Port and Buffer types in this file are interfaces; Null (in null.go) is the
// in-memory reference implementation used by tests and by
// cmd/sooperlooperd when no real server binding is wired in.
package host

import "fmt"

// PortDirection selects whether a registered port receives or emits MIDI.
type PortDirection int

const (
	PortIn PortDirection = iota
	PortOut
)

func (d PortDirection) String() string {
	if d == PortIn {
		return "in"
	}
	return "out"
}

// RawEvent is the host's wire shape for one MIDI event: a cycle-relative
// frame time and up to a few raw bytes. Buffer.Event returns these.
type RawEvent struct {
	Time uint32
	Data []byte
}

// Host registers ports and exposes the frame clock all RT processing is
// anchored to.
type Host interface {
	// RegisterPort creates a named MIDI port. Not RT-safe.
	RegisterPort(name string, dir PortDirection) (Port, error)

	// UnregisterPort releases a previously registered port. Not RT-safe.
	UnregisterPort(p Port) error

	// LastFrameTime returns the absolute host frame at the start of the
	// cycle currently being processed. RT-safe.
	LastFrameTime() uint32

	// SampleRate returns the host's current sample rate.
	SampleRate() int

	// SampleRateChanges delivers one notification per sample-rate change;
	// a change is terminal for the engine using this host.
	SampleRateChanges() <-chan int
}

// Port is a single registered MIDI port; Buffer is called once per cycle
// to obtain that cycle's event/reservation surface.
type Port interface {
	Name() string
	Direction() PortDirection

	// Buffer returns this cycle's buffer for nframes frames. RT-safe.
	Buffer(nframes uint32) (Buffer, error)
}

// Buffer is a port's per-cycle MIDI buffer: for an input port, a read-only
// sequence of timestamped events; for an output port, a write-only
// reservation surface that must be cleared once per cycle before use.
type Buffer interface {
	// EventCount returns the number of events queued on an input buffer.
	EventCount() int

	// Event returns the event at index, in arrival order.
	Event(index int) (RawEvent, error)

	// ClearOutput discards anything queued for an output buffer in a
	// previous cycle. Must be called exactly once per cycle before the
	// first ReserveOutput.
	ClearOutput()

	// ReserveOutput allocates length bytes of output space at cycle-relative
	// time and returns it for the caller to fill. Returns an error if the
	// reservation cannot be satisfied (e.g. the host's buffer is exhausted).
	ReserveOutput(time uint32, length int) ([]byte, error)
}

// ErrPortExists is returned by RegisterPort for a name already in use.
var ErrPortExists = fmt.Errorf("host: port already registered")
