// Package engine drives the process-callback side of the looper: it owns
// the control MIDI port, decodes control messages into the dispatch
// table's key space, and invokes every loop's Process once per host
// cycle. It is the direct analogue of the original's process()/
// process_control_input() pair.
package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/jtotto/sooper-jack-midi-looper/pkg/control"
	"github.com/jtotto/sooper-jack-midi-looper/pkg/host"
	"github.com/jtotto/sooper-jack-midi-looper/pkg/loop"
)

const (
	noteOff       = 0x80
	noteOn        = 0x90
	controlChange = 0xb0
)

// Engine binds a control input port, a dispatch table, and a set of
// named loops to a host's process callback.
//
// LoopsMu and TableMu are the Go equivalent of the original's
// loop_table_lock/action_table_lock: the non-RT controller takes the one
// guarding whatever it is changing (via Lock, which may block it, never
// Process) before adding, removing or rebinding anything; Process takes
// both via TryLock and, on any
// cycle it can't acquire both immediately, skips control dispatch and
// loop processing entirely rather than block the RT thread - matching
// the original's "Tables locked, no output" fallback exactly.
type Engine struct {
	host    host.Host
	control host.Port
	table   *control.ActionTable

	LoopsMu sync.Mutex
	TableMu sync.Mutex
	loops   map[string]*loop.Loop

	logger *slog.Logger
}

// New registers the engine's control input port on h and returns an
// Engine with an empty loop set driving table. Not RT-safe.
func New(h host.Host, table *control.ActionTable) (*Engine, error) {
	port, err := h.RegisterPort("control_input", host.PortIn)
	if err != nil {
		return nil, fmt.Errorf("engine: register control port: %w", err)
	}

	return &Engine{
		host:    h,
		control: port,
		table:   table,
		loops:   make(map[string]*loop.Loop),
		logger:  slog.Default(),
	}, nil
}

// SetLogger overrides the default logger. Not RT-safe; call before the
// first Process.
func (e *Engine) SetLogger(logger *slog.Logger) {
	e.logger = logger
}

// AddLoop registers l under name. Callers must hold LoopsMu. Not
// RT-safe.
func (e *Engine) AddLoop(name string, l *loop.Loop) {
	e.loops[name] = l
}

// RemoveLoop drops name from the loop set and returns the loop that was
// removed, if any. Callers must hold LoopsMu. Not RT-safe. The caller is
// responsible for calling ActionTable.RemoveLoopMappings on the returned
// loop (under TableMu) before letting it go out of scope.
func (e *Engine) RemoveLoop(name string) *loop.Loop {
	l, ok := e.loops[name]
	if !ok {
		return nil
	}
	delete(e.loops, name)
	return l
}

// Loop returns the named loop, or nil if none is registered. Callers
// must hold LoopsMu for the duration of use.
func (e *Engine) Loop(name string) *loop.Loop {
	return e.loops[name]
}

// Table returns the engine's dispatch table, for controllers that need
// to call Insert/Remove/RemoveLoopMappings directly. Callers must hold
// TableMu around any mutating call.
func (e *Engine) Table() *control.ActionTable {
	return e.table
}

// Process is the RT entry point: call once per host cycle. It decodes
// the control port's events into dispatch-table keys, invokes whatever
// is bound at each key, then processes every loop currently registered -
// all only if both LoopsMu and TableMu can be acquired without blocking.
// A cycle that finds either table locked does no dispatch and advances
// no loop's state; it is never fatal.
func (e *Engine) Process(nframes uint32) error {
	if !e.TableMu.TryLock() {
		e.logger.Debug("action table locked, skipping cycle")
		return nil
	}
	defer e.TableMu.Unlock()

	if !e.LoopsMu.TryLock() {
		e.logger.Debug("loop table locked, skipping cycle")
		return nil
	}
	defer e.LoopsMu.Unlock()

	if err := e.processControlInput(nframes); err != nil {
		return err
	}

	for name, l := range e.loops {
		if err := l.Process(nframes); err != nil {
			e.logger.Error("loop process failed", "loop", name, "error", err)
		}
	}

	return nil
}

func (e *Engine) processControlInput(nframes uint32) error {
	buf, err := e.control.Buffer(nframes)
	if err != nil {
		return fmt.Errorf("engine: control port buffer: %w", err)
	}

	count := buf.EventCount()
	for i := 0; i < count; i++ {
		ev, err := buf.Event(i)
		if err != nil {
			e.logger.Warn("dropping unreadable control event", "error", err)
			continue
		}
		if len(ev.Data) < 2 {
			continue
		}

		status := ev.Data[0] & 0xf0
		channel := ev.Data[0] & 0x0f
		value := ev.Data[1]

		var kind control.Kind
		switch status {
		case noteOn:
			kind = control.KindNoteOn
		case noteOff:
			kind = control.KindNoteOff
		case controlChange:
			if len(ev.Data) < 3 {
				continue
			}
			if ev.Data[2] > 63 {
				kind = control.KindCCOn
			} else {
				kind = control.KindCCOff
			}
		default:
			continue
		}

		e.table.Invoke(channel, kind, value, ev.Time)
	}

	return nil
}
