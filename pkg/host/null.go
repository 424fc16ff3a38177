package host

import (
	"fmt"
	"sync"

	"github.com/jtotto/sooper-jack-midi-looper/pkg/midimsg"
)

// Null is a non-RT-bound, allocation-light reference Host. It stands in
// for the real server binding this module leaves to an external
// collaborator, so the rest of this module is runnable and testable
// without one: its per-cycle shape (AdvanceCycle handing every port a
// frozen event snapshot, then EndCycle advancing the frame clock) mirrors
// the callback invocation this corpus uses for real-time audio
// (pkg/audioplayer's OpenCallback/audioCallback in the play_callback
// example), adapted from audio sample buffers to MIDI event buffers.
type Null struct {
	mu            sync.Mutex
	sampleRate    int
	lastFrameTime uint32
	ports         map[string]*NullPort
	rateChanges   chan int
}

// NewNull constructs a Null host running at sampleRate Hz, frame clock
// starting at zero.
func NewNull(sampleRate int) *Null {
	return &Null{
		sampleRate:  sampleRate,
		ports:       make(map[string]*NullPort),
		rateChanges: make(chan int, 1),
	}
}

func (h *Null) RegisterPort(name string, dir PortDirection) (Port, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.ports[name]; exists {
		return nil, fmt.Errorf("%w: %q", ErrPortExists, name)
	}

	p := &NullPort{name: name, dir: dir}
	h.ports[name] = p
	return p, nil
}

func (h *Null) UnregisterPort(p Port) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.ports, p.Name())
	return nil
}

// Port looks up a previously registered port by name, for tests that
// need to enqueue input or inspect output on a port a constructor
// registered internally (loop.NewLoop and similar). Returns nil if no
// such port exists.
func (h *Null) Port(name string) *NullPort {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ports[name]
}

func (h *Null) LastFrameTime() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastFrameTime
}

func (h *Null) SampleRate() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sampleRate
}

func (h *Null) SampleRateChanges() <-chan int {
	return h.rateChanges
}

// SetSampleRate changes the reported sample rate and notifies any reader
// of SampleRateChanges; a rate change is meant to terminate whatever
// engine is bound to this host.
func (h *Null) SetSampleRate(rate int) {
	h.mu.Lock()
	h.sampleRate = rate
	h.mu.Unlock()

	select {
	case h.rateChanges <- rate:
	default:
	}
}

// AdvanceCycle freezes each port's queued input as this cycle's event
// buffer and clears prior output. Call once per simulated process cycle,
// before any Port.Buffer call for that cycle.
func (h *Null) AdvanceCycle(nframes uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, p := range h.ports {
		p.beginCycle(nframes)
	}
}

// EndCycle advances the host's absolute frame clock by nframes, the size
// of the cycle that was just processed.
func (h *Null) EndCycle(nframes uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastFrameTime += nframes
}

// NullPort is a Port backed by in-memory queues: input events a test
// enqueues ahead of a cycle, and output events captured via ReserveOutput
// for assertions afterward.
type NullPort struct {
	name string
	dir  PortDirection

	mu          sync.Mutex
	nframes     uint32
	pending     []RawEvent
	cycleEvents []RawEvent
	output      []RawEvent
}

func (p *NullPort) Name() string             { return p.name }
func (p *NullPort) Direction() PortDirection { return p.dir }

// EnqueueInput queues ev to appear as an input event starting with the
// next cycle. Not RT-safe; intended for test setup.
func (p *NullPort) EnqueueInput(ev RawEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, ev)
}

func (p *NullPort) beginCycle(nframes uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nframes = nframes
	p.cycleEvents = p.pending
	p.pending = nil
	p.output = nil
}

func (p *NullPort) Buffer(nframes uint32) (Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if nframes != p.nframes {
		return nil, fmt.Errorf("host: port %q buffer requested for %d frames, cycle is %d", p.name, nframes, p.nframes)
	}
	return &nullBuffer{port: p}, nil
}

// OutputEvents returns a snapshot of events reserved on this port during
// the most recently completed cycle, in reservation order.
func (p *NullPort) OutputEvents() []RawEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]RawEvent, len(p.output))
	copy(out, p.output)
	return out
}

type nullBuffer struct {
	port *NullPort
}

func (b *nullBuffer) EventCount() int {
	b.port.mu.Lock()
	defer b.port.mu.Unlock()
	return len(b.port.cycleEvents)
}

func (b *nullBuffer) Event(index int) (RawEvent, error) {
	b.port.mu.Lock()
	defer b.port.mu.Unlock()
	if index < 0 || index >= len(b.port.cycleEvents) {
		return RawEvent{}, fmt.Errorf("host: event index %d out of range", index)
	}
	return b.port.cycleEvents[index], nil
}

func (b *nullBuffer) ClearOutput() {
	b.port.mu.Lock()
	defer b.port.mu.Unlock()
	b.port.output = b.port.output[:0]
}

func (b *nullBuffer) ReserveOutput(time uint32, length int) ([]byte, error) {
	b.port.mu.Lock()
	defer b.port.mu.Unlock()

	if length < 0 || length > midimsg.MaxLen {
		return nil, fmt.Errorf("host: cannot reserve %d bytes of output", length)
	}

	b.port.output = append(b.port.output, RawEvent{Time: time, Data: make([]byte, length)})
	return b.port.output[len(b.port.output)-1].Data, nil
}
