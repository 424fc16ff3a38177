// Package spscring is this repository's rebinding of the host's lock-free
// single-producer/single-consumer ring buffer primitive (the "SPSC
// ring: create/read/write/..." row). It is grounded on this corpus's
// byte-oriented atomic ring (github.com/drgolem/ringbuffer, as adapted for
// typed elements in pkg/audioframeringbuffer) but carries arbitrary
// fixed-size values instead of bytes, so the same component serves both the
// state-change ring and the output-event ring.
//
// A Ring is single-producer/single-consumer by construction: Write must
// only ever be called from one goroutine, Read from (at most) one other.
// Nothing here is safe for multiple concurrent writers or multiple
// concurrent readers.
package spscring

import (
	"log/slog"
	"sync/atomic"

	"github.com/jtotto/sooper-jack-midi-looper/pkg/rtmem"
	"github.com/jtotto/sooper-jack-midi-looper/pkg/types"
)

// ErrInsufficientSpace is returned by Write when the ring is full.
var ErrInsufficientSpace = types.ErrInsufficientSpace

// ErrInsufficientData is returned by Read when the ring is empty.
var ErrInsufficientData = types.ErrInsufficientData

// Ring is a fixed-capacity lock-free SPSC ring of T. The zero value is not
// usable; construct with New.
type Ring[T any] struct {
	buf      []T
	mask     uint64
	writePos atomic.Uint64
	readPos  atomic.Uint64
}

// New allocates a ring able to hold at least capacity elements, rounding up
// to the next power of two so index masking replaces modulo division on the
// RT path. Allocation happens here, on the non-RT side, exactly once; Write
// and Read never allocate.
func New[T any](capacity uint64) *Ring[T] {
	size := nextPowerOf2(capacity)
	r := &Ring[T]{
		buf:  make([]T, size),
		mask: size - 1,
	}
	if err := rtmem.LockSlice(r.buf); err != nil {
		slog.Default().Warn("unable to mlock SPSC ring", "error", err)
	}
	return r
}

// Write appends v to the ring. It must only be called by the ring's single
// producer. On ErrInsufficientSpace the ring is left unchanged; callers on
// the RT path are expected to drop the value and log a DropNotice rather
// than retry or block.
func (r *Ring[T]) Write(v T) error {
	if r.AvailableWrite() == 0 {
		return ErrInsufficientSpace
	}

	pos := r.writePos.Load()
	r.buf[pos&r.mask] = v
	r.writePos.Store(pos + 1)
	return nil
}

// Read removes and returns the oldest queued value. It must only be called
// by the ring's single consumer.
func (r *Ring[T]) Read() (T, error) {
	if r.AvailableRead() == 0 {
		var zero T
		return zero, ErrInsufficientData
	}

	pos := r.readPos.Load()
	v := r.buf[pos&r.mask]
	r.readPos.Store(pos + 1)
	return v, nil
}

// AvailableRead reports how many values are queued for the consumer.
func (r *Ring[T]) AvailableRead() uint64 {
	return r.writePos.Load() - r.readPos.Load()
}

// AvailableWrite reports how much free space remains for the producer.
func (r *Ring[T]) AvailableWrite() uint64 {
	return uint64(len(r.buf)) - r.AvailableRead()
}

// Capacity returns the ring's element capacity (a power of two, possibly
// larger than requested at New).
func (r *Ring[T]) Capacity() uint64 {
	return uint64(len(r.buf))
}

// Peek returns the oldest queued value without removing it, so the
// consumer can decide whether to defer it to a later Read. Must only be
// called by the ring's single consumer.
func (r *Ring[T]) Peek() (T, error) {
	if r.AvailableRead() == 0 {
		var zero T
		return zero, ErrInsufficientData
	}
	return r.buf[r.readPos.Load()&r.mask], nil
}

// Advance discards the oldest queued value without returning it, the
// companion to Peek. Must only be called by the ring's single consumer.
func (r *Ring[T]) Advance() error {
	if r.AvailableRead() == 0 {
		return ErrInsufficientData
	}
	r.readPos.Store(r.readPos.Load() + 1)
	return nil
}

func nextPowerOf2(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	return n
}
