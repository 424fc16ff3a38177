// Package loopbuffer implements the fixed-capacity recording buffer owned
// by each loop. Unlike an spscring.Ring, a Buffer is not a producer/consumer
// queue: playback is a repeated scan of a sealed recording, so a Buffer
// tracks an independent read cursor that can be rewound to the start of the
// current recording and re-walked indefinitely.
package loopbuffer

import (
	"log/slog"

	"github.com/jtotto/sooper-jack-midi-looper/pkg/midimsg"
	"github.com/jtotto/sooper-jack-midi-looper/pkg/rtmem"
	"github.com/jtotto/sooper-jack-midi-looper/pkg/types"
)

// ErrFull is returned by Push once the buffer has reached its capacity for
// the current recording pass. It is types.ErrInsufficientSpace under a
// buffer-local name, since a full loopbuffer and a full spscring.Ring are
// the same underlying condition.
var ErrFull = types.ErrInsufficientSpace

// Buffer is a fixed-capacity, single-writer/single-reader array of
// midimsg.Message. It never allocates after New.
type Buffer struct {
	data []midimsg.Message

	// writeCursor is the number of messages recorded so far in the current
	// pass; it equals Len() once recording has finished.
	writeCursor int

	// readCursor is the index of the next message AdvanceRead/Peek will
	// return. readValid is false iff nothing has ever been recorded -
	// Go has no pointer-free "undefined" sentinel for an int, so it stands
	// in for the original's NULL read pointer.
	readCursor int
	readValid  bool
}

// New allocates a Buffer able to hold exactly capacity messages.
func New(capacity int) *Buffer {
	b := &Buffer{
		data: make([]midimsg.Message, capacity),
	}
	if err := rtmem.LockSlice(b.data); err != nil {
		slog.Default().Warn("unable to mlock loop buffer", "error", err)
	}
	return b
}

// Len returns the effective length of the most recently completed (or
// in-progress) recording: the highest value writeCursor has reached since
// the last ResetWrite.
func (b *Buffer) Len() int {
	return b.writeCursor
}

// Cap returns the buffer's fixed capacity.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// ResetWrite begins a new recording pass: the write cursor returns to zero
// and the read cursor becomes undefined until the first Push. Called on
// entry to Recording.
func (b *Buffer) ResetWrite() {
	b.writeCursor = 0
	b.readValid = false
}

// ResetRead rewinds the read cursor to the start of the current recording.
// Called whenever a non-Playback state transitions into Playback. If the
// current pass recorded nothing, the read cursor stays undefined and Peek
// keeps reporting false.
func (b *Buffer) ResetRead() {
	b.readCursor = 0
	b.readValid = b.writeCursor > 0
}

// Push appends msg at the write cursor. The first successful push of a
// pass also makes the read cursor valid, pointed at element 0, matching the
// original's behavior of seeding the read pointer from the first write.
func (b *Buffer) Push(msg midimsg.Message) error {
	if b.writeCursor == len(b.data) {
		return ErrFull
	}

	if b.writeCursor == 0 {
		b.readCursor = 0
		b.readValid = true
	}

	b.data[b.writeCursor] = msg
	b.writeCursor++
	return nil
}

// Peek returns the message at the read cursor and true, or the zero value
// and false if nothing has ever been recorded.
func (b *Buffer) Peek() (midimsg.Message, bool) {
	if !b.readValid {
		return midimsg.Message{}, false
	}
	return b.data[b.readCursor], true
}

// AdvanceRead moves the read cursor forward by one. If it reaches the end
// of the current recording it wraps to zero and wrapped is true - exactly
// once per full traversal. Calling AdvanceRead when nothing has ever been
// recorded is a no-op that reports wrapped=true, matching the original's
// "NULL read pointer advances nowhere" behavior.
func (b *Buffer) AdvanceRead() (wrapped bool) {
	if !b.readValid {
		return true
	}

	b.readCursor++
	if b.readCursor >= b.writeCursor {
		b.readCursor = 0
		return true
	}
	return false
}
