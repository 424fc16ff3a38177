// Package loop implements the per-loop real-time state machine: the
// Idle/Recording/Playback machine that owns one recording buffer and two
// lock-free SPSC rings, and the RT-safe Process routine that drives it one
// host cycle at a time.
package loop

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jtotto/sooper-jack-midi-looper/pkg/host"
	"github.com/jtotto/sooper-jack-midi-looper/pkg/loopbuffer"
	"github.com/jtotto/sooper-jack-midi-looper/pkg/midimsg"
	"github.com/jtotto/sooper-jack-midi-looper/pkg/spscring"
)

// Loop is a single named loop: an RT state machine, a recording buffer,
// and the two SPSC rings that connect it to the non-RT control thread and
// to the host's output port.
//
// Everything below the "RT-thread-only state" comment is touched only by
// the single goroutine that calls Process, TogglePlayback and
// ToggleRecording (the engine's RT path) — never by the non-RT controller
// — so it needs no synchronization of its own. midiThrough and
// playbackAfterRecording are the exception: they're set from the non-RT
// side and read from the RT side, hence atomic.Bool.
type Loop struct {
	name string

	midiThrough            atomic.Bool
	playbackAfterRecording atomic.Bool

	host   host.Host
	input  host.Port
	output host.Port

	stateRing  *spscring.Ring[stateSchedule]
	outputRing *spscring.Ring[midimsg.Message]
	buffer     *loopbuffer.Buffer

	logger *slog.Logger

	// RT-thread-only state.
	currentState      stateSchedule
	lastPlaybackStart uint32
	recordingStart    uint32
	recordingEnd      uint32
	recordingLength   uint32
}

// NewLoop registers name's input and output MIDI ports on h and allocates
// its recording buffer and both SPSC rings. Any failure tears down
// whatever was already registered/allocated before returning; the loop is
// never left observable to RT in a partially-constructed state. Not
// RT-safe.
func NewLoop(h host.Host, name string, midiThrough, playbackAfterRecording bool, cfg Config) (*Loop, error) {
	cfg = cfg.withDefaults()

	l := &Loop{
		name:       name,
		host:       h,
		buffer:     loopbuffer.New(cfg.LoopBufferCapacity),
		stateRing:  spscring.New[stateSchedule](cfg.StateRingCapacity),
		outputRing: spscring.New[midimsg.Message](cfg.OutputRingCapacity),
		logger:     slog.Default(),
	}
	l.midiThrough.Store(midiThrough)
	l.playbackAfterRecording.Store(playbackAfterRecording)

	var err error
	l.output, err = h.RegisterPort(fmt.Sprintf("loop_%s_output", name), host.PortOut)
	if err != nil {
		return nil, fmt.Errorf("loop %q: register output port: %w", name, err)
	}

	l.input, err = h.RegisterPort(fmt.Sprintf("loop_%s_input", name), host.PortIn)
	if err != nil {
		h.UnregisterPort(l.output)
		return nil, fmt.Errorf("loop %q: register input port: %w", name, err)
	}

	l.currentState = stateSchedule{state: StateIdle, time: h.LastFrameTime()}

	return l, nil
}

// Close unregisters the loop's ports. Not RT-safe; the caller (normally
// internal/controller) must already have removed this loop's bindings
// from the control table before calling Close.
func (l *Loop) Close() error {
	errIn := l.host.UnregisterPort(l.input)
	errOut := l.host.UnregisterPort(l.output)
	if errIn != nil {
		return errIn
	}
	return errOut
}

// SetLogger overrides the default logger. Not RT-safe; call before the
// loop is handed to an Engine.
func (l *Loop) SetLogger(logger *slog.Logger) {
	l.logger = logger
}

func (l *Loop) Name() string { return l.name }

// SetMidiThrough and MidiThrough are safe to call from any goroutine.
func (l *Loop) SetMidiThrough(v bool) { l.midiThrough.Store(v) }
func (l *Loop) MidiThrough() bool     { return l.midiThrough.Load() }

// SetPlaybackAfterRecording and PlaybackAfterRecording are safe to call
// from any goroutine.
func (l *Loop) SetPlaybackAfterRecording(v bool) { l.playbackAfterRecording.Store(v) }
func (l *Loop) PlaybackAfterRecording() bool      { return l.playbackAfterRecording.Load() }

// CurrentState, LastPlaybackStart and RecordingLength expose RT-thread
// state for inspection by the thread that also drives Process (tests, or
// the engine's own diagnostics) — not safe to call concurrently with
// Process from another goroutine.
func (l *Loop) CurrentState() State       { return l.currentState.state }
func (l *Loop) LastPlaybackStart() uint32 { return l.lastPlaybackStart }
func (l *Loop) RecordingLength() uint32   { return l.recordingLength }

// TogglePlayback and ToggleRecording are RT-safe: they enqueue a single
// StateSchedule on the loop's state ring for Process to apply at the
// frame time given by now. They're meant to be invoked from the same RT
// thread as Process, just like ControlActionTable.Invoke — reading
// currentState here races with nothing because nothing else touches it.

// TogglePlayback schedules the transition implied by the toggle
// table: Playback -> Idle, anything else -> Playback.
func (l *Loop) TogglePlayback(now uint32) {
	target := StatePlayback
	if l.currentState.state == StatePlayback {
		target = StateIdle
	}
	l.scheduleStateChange(target, now)
}

// ToggleRecording schedules Recording from any non-Recording state. From
// Recording, it resolves the playback_after_recording open question
// with the flag set, Recording -> Playback; otherwise
// Recording -> Idle.
func (l *Loop) ToggleRecording(now uint32) {
	target := StateRecording
	if l.currentState.state == StateRecording {
		if l.playbackAfterRecording.Load() {
			target = StatePlayback
		} else {
			target = StateIdle
		}
	}
	l.scheduleStateChange(target, now)
}

func (l *Loop) scheduleStateChange(state State, time uint32) {
	if err := l.stateRing.Write(stateSchedule{state: state, time: time}); err != nil {
		l.logger.Warn("state change dropped, ring full",
			"loop", l.name, "target_state", state, "time", time)
	}
}

// ProcessError reports a fatal per-cycle fault from Process: a missing
// port buffer, a full loop buffer during recording, or similar. The
// engine logs it and moves on to the next cycle; no partial state from
// the failing cycle is rolled back (best-effort RT).
type ProcessError struct {
	Loop  string
	Stage string
	Err   error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("loop %q: %s: %v", e.Loop, e.Stage, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// Process is the RT entry point, invoked once per host cycle. It drains
// the state ring, running the input pass, the state-dependent
// record/playback action and any transition action once per distinct
// state the loop occupies this cycle, then flushes whatever was queued
// for output.
func (l *Loop) Process(nframes uint32) error {
	previousState := l.currentState

	inputBuf, err := l.input.Buffer(nframes)
	if err != nil {
		return &ProcessError{l.name, "input buffer", err}
	}

	lastFrameTime := l.host.LastFrameTime()
	eventCount := inputBuf.EventCount()
	eventIndex := 0

	for {
		next, synthesized := l.nextSchedule(nframes)

		if err := l.processInput(inputBuf, eventCount, &eventIndex, next.time, lastFrameTime); err != nil {
			return &ProcessError{l.name, "input pass", err}
		}

		switch l.currentState.state {
		case StatePlayback:
			if previousState.state != StatePlayback {
				l.lastPlaybackStart = l.currentState.time + lastFrameTime
			}
			l.processPlayback(next.time, lastFrameTime)

		case StateRecording:
			if previousState.state != StateRecording {
				l.recordingStart = l.currentState.time + lastFrameTime
				l.buffer.ResetWrite()
			}

		case StateIdle:
			// No action.
		}

		if l.currentState.state == StateRecording && next.state != StateRecording {
			l.recordingEnd = next.time + lastFrameTime
			l.recordingLength = l.recordingEnd - l.recordingStart

			if l.recordingLength == 0 && next.state == StatePlayback {
				// Nothing was recorded this pass: there's no buffer content
				// to schedule a playback pass over, so stay Idle rather
				// than enter Playback against an empty loop.
				next.state = StateIdle
			}
		}

		if next.state == StatePlayback && l.currentState.state != StatePlayback {
			l.buffer.ResetRead()
		}

		previousState = l.currentState
		l.currentState = next

		if synthesized {
			break
		}
	}

	return l.flushOutput(nframes)
}

// nextSchedule draws the next pending transition off the state ring. An
// empty ring synthesizes a transition to the current state at the end of
// the cycle and reports synthesized=true, telling Process this is the
// last iteration.
func (l *Loop) nextSchedule(nframes uint32) (next stateSchedule, synthesized bool) {
	sched, err := l.stateRing.Read()
	if err != nil {
		return stateSchedule{state: l.currentState.state, time: nframes}, true
	}
	return sched, false
}

// processInput walks input events with cycle-relative time < endOfState,
// passing them through to the output ring if midiThrough is set and
// recording them (re-anchored to recording-relative time) if the loop is
// currently Recording.
func (l *Loop) processInput(buf host.Buffer, eventCount int, eventIndex *int, endOfState, lastFrameTime uint32) error {
	for ; *eventIndex < eventCount; *eventIndex++ {
		raw, err := buf.Event(*eventIndex)
		if err != nil {
			l.logger.Warn("dropping unreadable input event", "loop", l.name, "error", err)
			continue
		}

		msg, err := midimsg.FromRaw(raw.Time, raw.Data)
		if err != nil {
			if !errors.Is(err, midimsg.ErrTooLong) {
				l.logger.Warn("dropping malformed input event", "loop", l.name, "error", err)
			} else {
				l.logger.Debug("ignoring oversized MIDI message, probably SysEx", "loop", l.name)
			}
			continue
		}

		if msg.Time >= endOfState {
			break
		}

		if l.midiThrough.Load() {
			if err := l.outputRing.Write(msg); err != nil {
				l.logger.Warn("output ring full, through event dropped", "loop", l.name)
			}
		}

		if l.currentState.state == StateRecording {
			recorded := msg.WithTime((lastFrameTime + msg.Time) - l.recordingStart)
			if err := l.buffer.Push(recorded); err != nil {
				return fmt.Errorf("loop buffer full while recording: %w", err)
			}
		}
	}

	return nil
}

// processPlayback queues every recorded event whose absolute playback
// time falls before the end of the state interval just processed,
// re-anchoring last_playback_start by recordingLength on every wrap so a
// wrapped loop never needs to rescan from the start of its recording.
func (l *Loop) processPlayback(endOfState, lastFrameTime uint32) {
	for {
		recorded, ok := l.buffer.Peek()
		if !ok {
			return
		}

		playbackTime := recorded.Time + l.lastPlaybackStart
		if playbackTime >= endOfState+lastFrameTime {
			return
		}

		adjusted := recorded.WithTime(playbackTime - lastFrameTime)
		if err := l.outputRing.Write(adjusted); err != nil {
			l.logger.Warn("output ring full, playback event dropped", "loop", l.name)
		}

		if wrapped := l.buffer.AdvanceRead(); wrapped {
			l.lastPlaybackStart += l.recordingLength
		}
	}
}

// flushOutput hands the host's output port buffer for this cycle
// everything queued on the output ring whose time has come: events still
// in the future (time >= nframes) are left on the ring for a later cycle;
// events arriving "late" due to a host xrun (time < 0 once reinterpreted
// as signed) are clamped to frame zero.
func (l *Loop) flushOutput(nframes uint32) error {
	outBuf, err := l.output.Buffer(nframes)
	if err != nil {
		return &ProcessError{l.name, "output buffer", err}
	}

	outBuf.ClearOutput()

	for {
		msg, err := l.outputRing.Peek()
		if err != nil {
			break
		}

		signedTime := int32(msg.Time)
		if signedTime >= int32(nframes) {
			break
		}
		if signedTime < 0 {
			msg.Time = 0
		}

		if err := l.outputRing.Advance(); err != nil {
			l.logger.Error("output ring under-read", "loop", l.name, "error", err)
			break
		}

		data, err := outBuf.ReserveOutput(msg.Time, int(msg.Len))
		if err != nil {
			l.logger.Warn("could not reserve host output space, event dropped", "loop", l.name, "error", err)
			continue
		}
		copy(data, msg.Bytes())
	}

	return nil
}
