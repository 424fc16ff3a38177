package controller

import (
	"errors"
	"testing"

	"github.com/jtotto/sooper-jack-midi-looper/pkg/control"
	"github.com/jtotto/sooper-jack-midi-looper/pkg/engine"
	"github.com/jtotto/sooper-jack-midi-looper/pkg/host"
	"github.com/jtotto/sooper-jack-midi-looper/pkg/loop"
)

func newTestController(t *testing.T) (*Controller, *host.Null, *engine.Engine) {
	t.Helper()
	h := host.NewNull(48000)
	table := control.NewActionTable(nil)
	e, err := engine.New(h, table)
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}
	return New(e, h, loop.DefaultConfig()), h, e
}

func TestAddLoopRegistersWithEngine(t *testing.T) {
	c, _, e := newTestController(t)

	l, err := c.AddLoop("a", true, false)
	if err != nil {
		t.Fatalf("AddLoop() error = %v", err)
	}

	e.LoopsMu.Lock()
	got := e.Loop("a")
	e.LoopsMu.Unlock()

	if got != l {
		t.Fatalf("engine.Loop(%q) = %v, want the loop AddLoop returned", "a", got)
	}
	if !l.MidiThrough() {
		t.Errorf("MidiThrough() = false, want true")
	}
}

func TestAddLoopRejectsDuplicateName(t *testing.T) {
	c, _, _ := newTestController(t)

	if _, err := c.AddLoop("a", false, false); err != nil {
		t.Fatalf("AddLoop() error = %v", err)
	}
	if _, err := c.AddLoop("a", false, false); !errors.Is(err, ErrLoopExists) {
		t.Fatalf("second AddLoop(%q) error = %v, want ErrLoopExists", "a", err)
	}
}

func TestRemoveLoopUnknownNameErrors(t *testing.T) {
	c, _, _ := newTestController(t)
	if err := c.RemoveLoop("nope"); !errors.Is(err, ErrUnknownLoop) {
		t.Fatalf("RemoveLoop() error = %v, want ErrUnknownLoop", err)
	}
}

// TestRemoveLoopStripsTableMappings checks the weak-reference cleanup
// invariant: after RemoveLoop, no binding in the dispatch table still
// points at the removed loop.
func TestRemoveLoopStripsTableMappings(t *testing.T) {
	c, _, e := newTestController(t)

	if _, err := c.AddLoop("a", false, false); err != nil {
		t.Fatalf("AddLoop() error = %v", err)
	}
	if err := c.Bind("0 on 60 toggle_recording a"); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	if err := c.RemoveLoop("a"); err != nil {
		t.Fatalf("RemoveLoop() error = %v", err)
	}

	var remaining int
	e.TableMu.Lock()
	e.Table().ForEachMapping(func(uint8, control.Kind, uint8, *loop.Loop, control.ActionKind) {
		remaining++
	})
	e.TableMu.Unlock()

	if remaining != 0 {
		t.Fatalf("mappings remaining after RemoveLoop() = %d, want 0", remaining)
	}
}

func TestSetLoopControlsParsesSameToken(t *testing.T) {
	c, _, _ := newTestController(t)

	l, err := c.AddLoop("a", true, false)
	if err != nil {
		t.Fatalf("AddLoop() error = %v", err)
	}

	if err := c.SetLoopControls("a", "same true"); err != nil {
		t.Fatalf("SetLoopControls() error = %v", err)
	}
	if !l.MidiThrough() {
		t.Errorf("MidiThrough() = false, want true (left unchanged by \"same\")")
	}
	if !l.PlaybackAfterRecording() {
		t.Errorf("PlaybackAfterRecording() = false, want true")
	}

	if err := c.SetLoopControls("a", "false same"); err != nil {
		t.Fatalf("SetLoopControls() error = %v", err)
	}
	if l.MidiThrough() {
		t.Errorf("MidiThrough() = true, want false")
	}
	if !l.PlaybackAfterRecording() {
		t.Errorf("PlaybackAfterRecording() = false, want true (left unchanged by \"same\")")
	}
}

func TestSetLoopControlsRejectsMalformedCommand(t *testing.T) {
	c, _, _ := newTestController(t)
	if _, err := c.AddLoop("a", false, false); err != nil {
		t.Fatalf("AddLoop() error = %v", err)
	}

	cases := []string{"true", "true false extra", "notabool false"}
	for _, cmd := range cases {
		if err := c.SetLoopControls("a", cmd); err == nil {
			t.Errorf("SetLoopControls(%q) error = nil, want error", cmd)
		}
	}
}

func TestBindAndUnbindRoundTrip(t *testing.T) {
	c, _, _ := newTestController(t)
	if _, err := c.AddLoop("a", false, false); err != nil {
		t.Fatalf("AddLoop() error = %v", err)
	}

	if err := c.Bind("1 cc_on 10 toggle_playback a"); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	snap := c.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot() = %v, want 1 mapping", snap)
	}
	want := Mapping{Channel: 1, Kind: control.KindCCOn, Value: 10, Loop: "a", Action: control.ActionTogglePlayback}
	if snap[0] != want {
		t.Errorf("Snapshot()[0] = %+v, want %+v", snap[0], want)
	}

	if err := c.Unbind("1 cc_on 10 toggle_playback a"); err != nil {
		t.Fatalf("Unbind() error = %v", err)
	}
	if snap := c.Snapshot(); len(snap) != 0 {
		t.Fatalf("Snapshot() after Unbind() = %v, want empty", snap)
	}
}

func TestBindRejectsUnknownLoop(t *testing.T) {
	c, _, _ := newTestController(t)
	if err := c.Bind("0 on 60 toggle_recording nope"); !errors.Is(err, ErrUnknownLoop) {
		t.Fatalf("Bind() with unknown loop error = %v, want ErrUnknownLoop", err)
	}
}

func TestBindRejectsMalformedWireFormat(t *testing.T) {
	c, _, _ := newTestController(t)
	if _, err := c.AddLoop("a", false, false); err != nil {
		t.Fatalf("AddLoop() error = %v", err)
	}

	cases := []string{
		"0 on 60 toggle_recording",        // too few fields
		"0 on 60 toggle_recording a extra", // too many fields
		"999 on 60 toggle_recording a",    // channel out of uint8 range
		"0 nonsense 60 toggle_recording a", // unrecognized type
		"0 on 60 nonsense a",              // unrecognized action
		"0 on 999 toggle_recording a",     // value out of uint8 range
	}
	for _, cmd := range cases {
		if err := c.Bind(cmd); err == nil {
			t.Errorf("Bind(%q) error = nil, want error", cmd)
		}
	}
}

func TestSnapshotReflectsMultipleBindings(t *testing.T) {
	c, _, _ := newTestController(t)
	if _, err := c.AddLoop("a", false, false); err != nil {
		t.Fatalf("AddLoop() error = %v", err)
	}
	if _, err := c.AddLoop("b", false, false); err != nil {
		t.Fatalf("AddLoop() error = %v", err)
	}

	bindings := []string{
		"0 on 60 toggle_recording a",
		"0 off 60 toggle_recording a",
		"1 cc_off 20 toggle_playback b",
	}
	for _, cmd := range bindings {
		if err := c.Bind(cmd); err != nil {
			t.Fatalf("Bind(%q) error = %v", cmd, err)
		}
	}

	if snap := c.Snapshot(); len(snap) != len(bindings) {
		t.Fatalf("Snapshot() = %v, want %d mappings", snap, len(bindings))
	}
}
