package engine

import (
	"testing"

	"github.com/jtotto/sooper-jack-midi-looper/pkg/control"
	"github.com/jtotto/sooper-jack-midi-looper/pkg/host"
	"github.com/jtotto/sooper-jack-midi-looper/pkg/loop"
)

func newTestEngine(t *testing.T, h *host.Null, table *control.ActionTable) *Engine {
	t.Helper()
	e, err := New(h, table)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e
}

func runEngineCycle(t *testing.T, h *host.Null, e *Engine, nframes uint32) {
	t.Helper()
	h.AdvanceCycle(nframes)
	if err := e.Process(nframes); err != nil {
		t.Fatalf("Process(%d) error = %v", nframes, err)
	}
	h.EndCycle(nframes)
}

// TestProcessDispatchesNoteOnToBoundAction checks that a control-port
// note-on event bound to toggle_recording advances the target loop from
// Idle to Recording within the same cycle it arrives.
func TestProcessDispatchesNoteOnToBoundAction(t *testing.T) {
	h := host.NewNull(48000)
	table := control.NewActionTable(nil)
	e := newTestEngine(t, h, table)

	l, err := loop.NewLoop(h, "a", false, false, loop.DefaultConfig())
	if err != nil {
		t.Fatalf("NewLoop() error = %v", err)
	}
	e.LoopsMu.Lock()
	e.AddLoop("a", l)
	e.LoopsMu.Unlock()

	if err := table.Insert(0, control.KindNoteOn, 60, l, control.ActionToggleRecording); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	controlPort := h.Port("control_input")
	if controlPort == nil {
		t.Fatal("control_input port was not registered")
	}
	controlPort.EnqueueInput(host.RawEvent{Time: 10, Data: []byte{0x90, 60, 127}})

	runEngineCycle(t, h, e, 64)

	if l.CurrentState() != loop.StateRecording {
		t.Fatalf("CurrentState() immediately after dispatch = %v, want Recording (applied in the dispatching cycle)", l.CurrentState())
	}

	runEngineCycle(t, h, e, 64)
	if l.CurrentState() != loop.StateRecording {
		t.Fatalf("CurrentState() after second cycle = %v, want Recording", l.CurrentState())
	}
}

// TestProcessSplitsControlChangeOnHighLowByte checks the CC-on/CC-off
// split: data byte 2 > 63 maps to KindCCOn, otherwise KindCCOff.
func TestProcessSplitsControlChangeOnHighLowByte(t *testing.T) {
	h := host.NewNull(48000)
	table := control.NewActionTable(nil)
	e := newTestEngine(t, h, table)

	l, err := loop.NewLoop(h, "a", false, true, loop.DefaultConfig())
	if err != nil {
		t.Fatalf("NewLoop() error = %v", err)
	}
	e.LoopsMu.Lock()
	e.AddLoop("a", l)
	e.LoopsMu.Unlock()

	// Bind the two CC halves to different actions so a misclassified
	// byte produces an observably wrong transition rather than the same
	// one either way.
	if err := table.Insert(0, control.KindCCOn, 7, l, control.ActionTogglePlayback); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := table.Insert(0, control.KindCCOff, 7, l, control.ActionToggleRecording); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	controlPort := h.Port("control_input")
	controlPort.EnqueueInput(host.RawEvent{Time: 0, Data: []byte{0xb0, 7, 127}})
	runEngineCycle(t, h, e, 64)
	runEngineCycle(t, h, e, 64)
	if l.CurrentState() != loop.StatePlayback {
		t.Fatalf("CurrentState() after data2=127 (CC-on) dispatch = %v, want Playback", l.CurrentState())
	}

	controlPort.EnqueueInput(host.RawEvent{Time: 0, Data: []byte{0xb0, 7, 0}})
	runEngineCycle(t, h, e, 64)
	runEngineCycle(t, h, e, 64)
	if l.CurrentState() != loop.StateRecording {
		t.Fatalf("CurrentState() after data2=0 (CC-off) dispatch = %v, want Recording", l.CurrentState())
	}
}

// TestProcessSkipsCycleWhenTableLocked checks the non-blocking RT/non-RT
// handshake: if TableMu is already held (simulating a concurrent
// controller mutation), Process must return nil without touching any
// loop or the control port.
func TestProcessSkipsCycleWhenTableLocked(t *testing.T) {
	h := host.NewNull(48000)
	table := control.NewActionTable(nil)
	e := newTestEngine(t, h, table)

	l, err := loop.NewLoop(h, "a", true, false, loop.DefaultConfig())
	if err != nil {
		t.Fatalf("NewLoop() error = %v", err)
	}
	e.LoopsMu.Lock()
	e.AddLoop("a", l)
	e.LoopsMu.Unlock()

	in := h.Port("loop_a_input")
	in.EnqueueInput(host.RawEvent{Time: 0, Data: []byte{0x90, 40, 127}})

	e.TableMu.Lock()
	h.AdvanceCycle(64)
	if err := e.Process(64); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	e.TableMu.Unlock()

	out := h.Port("loop_a_output")
	if events := out.OutputEvents(); len(events) != 0 {
		t.Fatalf("OutputEvents() after locked cycle = %v, want none (loop must not have been processed)", events)
	}
}

// TestProcessSkipsCycleWhenLoopsLocked mirrors
// TestProcessSkipsCycleWhenTableLocked for the loop-set lock.
func TestProcessSkipsCycleWhenLoopsLocked(t *testing.T) {
	h := host.NewNull(48000)
	table := control.NewActionTable(nil)
	e := newTestEngine(t, h, table)

	l, err := loop.NewLoop(h, "a", true, false, loop.DefaultConfig())
	if err != nil {
		t.Fatalf("NewLoop() error = %v", err)
	}
	e.LoopsMu.Lock()
	e.AddLoop("a", l)
	e.LoopsMu.Unlock()

	in := h.Port("loop_a_input")
	in.EnqueueInput(host.RawEvent{Time: 0, Data: []byte{0x90, 40, 127}})

	e.LoopsMu.Lock()
	h.AdvanceCycle(64)
	if err := e.Process(64); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	e.LoopsMu.Unlock()

	out := h.Port("loop_a_output")
	if events := out.OutputEvents(); len(events) != 0 {
		t.Fatalf("OutputEvents() after locked cycle = %v, want none (loop must not have been processed)", events)
	}
}

// TestProcessAdvancesEveryRegisteredLoop checks that a single Process
// call drives every registered loop, not just the first or last added.
func TestProcessAdvancesEveryRegisteredLoop(t *testing.T) {
	h := host.NewNull(48000)
	table := control.NewActionTable(nil)
	e := newTestEngine(t, h, table)

	names := []string{"a", "b", "c"}
	loops := make(map[string]*loop.Loop)
	e.LoopsMu.Lock()
	for _, name := range names {
		l, err := loop.NewLoop(h, name, true, false, loop.DefaultConfig())
		if err != nil {
			t.Fatalf("NewLoop(%q) error = %v", name, err)
		}
		e.AddLoop(name, l)
		loops[name] = l
	}
	e.LoopsMu.Unlock()

	for _, name := range names {
		in := h.Port("loop_" + name + "_input")
		in.EnqueueInput(host.RawEvent{Time: 0, Data: []byte{0x90, 1, 100}})
	}

	runEngineCycle(t, h, e, 64)

	for _, name := range names {
		out := h.Port("loop_" + name + "_output")
		if events := out.OutputEvents(); len(events) != 1 {
			t.Errorf("loop %q OutputEvents() = %v, want 1 through-mode event", name, events)
		}
	}
}
