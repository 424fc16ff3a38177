// Package control implements the MIDI control dispatch table: a
// fixed-size, hash-free array mapping (channel, control type, value)
// triples to the loop actions they trigger, invoked from the RT thread
// and mutated from the non-RT controller.
package control

import (
	"fmt"
	"log/slog"

	"github.com/jtotto/sooper-jack-midi-looper/pkg/loop"
	"github.com/jtotto/sooper-jack-midi-looper/pkg/rtmem"
)

// TableSize is the dispatch table's fixed slot count: 13 bits of key
// space (4 channel bits, 2 type bits, 7 value bits), matching the
// original's CONTROL_ACTION_TABLE_COUNT.
const TableSize = 8192

// Kind identifies a MIDI control message's class: note-on, note-off, or
// one of the two halves of a continuous-controller toggle (split on
// value > 63).
type Kind uint8

const (
	KindNoteOn Kind = iota
	KindNoteOff
	KindCCOn
	KindCCOff
)

func (k Kind) String() string {
	switch k {
	case KindNoteOn:
		return "note-on"
	case KindNoteOff:
		return "note-off"
	case KindCCOn:
		return "cc-on"
	case KindCCOff:
		return "cc-off"
	default:
		return "unknown"
	}
}

// ActionKind names one of the two loop operations a mapping can bind to.
// A closed enum rather than an arbitrary function value, so that
// ForEachMapping and serialization can identify which action a mapping
// performs without comparing function pointers.
type ActionKind uint8

const (
	ActionTogglePlayback ActionKind = iota
	ActionToggleRecording
)

func (a ActionKind) String() string {
	switch a {
	case ActionTogglePlayback:
		return "toggle_playback"
	case ActionToggleRecording:
		return "toggle_recording"
	default:
		return "unknown"
	}
}

func (a ActionKind) invoke(l *loop.Loop, time uint32) {
	switch a {
	case ActionTogglePlayback:
		l.TogglePlayback(time)
	case ActionToggleRecording:
		l.ToggleRecording(time)
	}
}

// Change describes one mapping insertion or removal, delivered to a
// ChangeHandler so a controller can keep a serializable mirror of the
// table (the Bind/Unbind wire grammars) without scanning it.
type Change struct {
	Added   bool
	Channel uint8
	Kind    Kind
	Value   uint8
	Loop    *loop.Loop
	Action  ActionKind
}

// ChangeHandler observes table mutations. Invoked synchronously from
// Insert/Remove/RemoveLoopMappings/ClearMappings, on whatever goroutine
// called them.
type ChangeHandler func(Change)

// mapping is one entry in a key's collision chain. Mappings at the same
// key with different (Loop, Action) pairs coexist; Insert is a no-op,
// not a duplicate append, when an identical (Loop, Action) mapping
// already exists at that key.
type mapping struct {
	loop   *loop.Loop
	action ActionKind
}

// ActionTable is the fixed-size MIDI-to-loop-action dispatch table.
// Mappings hold non-owning (*loop.Loop) references: a loop removed from
// the owning controller's loop set must have RemoveLoopMappings called on
// it before the controller drops its own reference, or this table is
// left holding a dangling pointer.
//
// Invoke is RT-safe: it's a direct array index followed by a short
// collision-chain walk, with no allocation and no locking. Insert,
// Remove, RemoveLoopMappings and ClearMappings are not RT-safe and must
// only be called from the single non-RT controller goroutine.
type ActionTable struct {
	table    [TableSize][]mapping
	onChange ChangeHandler
}

// NewActionTable constructs an empty table. onChange may be nil.
func NewActionTable(onChange ChangeHandler) *ActionTable {
	t := &ActionTable{onChange: onChange}
	if err := rtmem.LockValue(&t.table); err != nil {
		slog.Default().Warn("unable to mlock MIDI mapping table", "error", err)
	}
	return t
}

func key(channel uint8, kind Kind, value uint8) (uint16, error) {
	if channel > 0x0f {
		return 0, fmt.Errorf("control: channel %d out of range", channel)
	}
	if value > 0x7f {
		return 0, fmt.Errorf("control: value %d out of range", value)
	}
	return uint16(channel)<<9 | uint16(kind)<<7 | uint16(value), nil
}

// deriveKey is key's inverse, used by ForEachMapping to report the
// channel/kind/value a slot's index represents.
func deriveKey(k uint16) (channel uint8, kind Kind, value uint8) {
	channel = uint8(k >> 9)
	kind = Kind((k >> 7) & 0x3)
	value = uint8(k & 0x7f)
	return
}

// Insert binds (channel, kind, value) to action on l. Re-inserting an
// identical (channel, kind, value, l, action) mapping is a no-op: no
// duplicate chain entry is created and no Change is emitted. Not
// RT-safe.
func (t *ActionTable) Insert(channel uint8, kind Kind, value uint8, l *loop.Loop, action ActionKind) error {
	k, err := key(channel, kind, value)
	if err != nil {
		return err
	}

	for _, m := range t.table[k] {
		if m.loop == l && m.action == action {
			return nil
		}
	}

	t.table[k] = append(t.table[k], mapping{loop: l, action: action})
	t.notify(Change{Added: true, Channel: channel, Kind: kind, Value: value, Loop: l, Action: action})
	return nil
}

// Remove unbinds the (channel, kind, value, l, action) mapping if
// present. Removing a mapping that doesn't exist is a no-op. Not
// RT-safe.
func (t *ActionTable) Remove(channel uint8, kind Kind, value uint8, l *loop.Loop, action ActionKind) error {
	k, err := key(channel, kind, value)
	if err != nil {
		return err
	}

	chain := t.table[k]
	for i, m := range chain {
		if m.loop == l && m.action == action {
			t.table[k] = append(chain[:i], chain[i+1:]...)
			t.notify(Change{Added: false, Channel: channel, Kind: kind, Value: value, Loop: l, Action: action})
			return nil
		}
	}
	return nil
}

// RemoveLoopMappings deletes every mapping bound to l, regardless of key
// or action. The caller (the non-RT controller) must call this before
// dropping its own reference to l, so Invoke can never dereference a
// loop the controller no longer owns. O(TableSize); not RT-safe.
func (t *ActionTable) RemoveLoopMappings(l *loop.Loop) {
	for k := range t.table {
		chain := t.table[k]
		if len(chain) == 0 {
			continue
		}
		kept := chain[:0]
		for _, m := range chain {
			if m.loop == l {
				channel, kind, value := deriveKey(uint16(k))
				t.notify(Change{Added: false, Channel: channel, Kind: kind, Value: value, Loop: l, Action: m.action})
				continue
			}
			kept = append(kept, m)
		}
		t.table[k] = kept
	}
}

// ClearMappings removes every mapping in the table. Not RT-safe.
func (t *ActionTable) ClearMappings() {
	for k := range t.table {
		chain := t.table[k]
		if len(chain) == 0 {
			continue
		}
		channel, kind, value := deriveKey(uint16(k))
		for _, m := range chain {
			t.notify(Change{Added: false, Channel: channel, Kind: kind, Value: value, Loop: m.loop, Action: m.action})
		}
		t.table[k] = nil
	}
}

// Invoke runs every action bound to (channel, kind, value) at the given
// cycle-relative time, in insertion order. A key outside the valid range
// matches nothing. RT-safe: no allocation, no locking, bounded work
// proportional to the (short, in practice) collision chain at one slot.
func (t *ActionTable) Invoke(channel uint8, kind Kind, value uint8, time uint32) {
	k, err := key(channel, kind, value)
	if err != nil {
		return
	}
	for _, m := range t.table[k] {
		m.action.invoke(m.loop, time)
	}
}

// ForEachMapping visits every mapping currently in the table, in
// table-slot then chain order, for serialization (the
// Bind/Unbind wire formats need to enumerate existing bindings). Not
// RT-safe.
func (t *ActionTable) ForEachMapping(visit func(channel uint8, kind Kind, value uint8, l *loop.Loop, action ActionKind)) {
	for k, chain := range t.table {
		for _, m := range chain {
			channel, kind, value := deriveKey(uint16(k))
			visit(channel, kind, value, m.loop, m.action)
		}
	}
}

func (t *ActionTable) notify(c Change) {
	if t.onChange != nil {
		t.onChange(c)
	}
}
