// Package rtmem locks RT-relevant buffers into physical memory so the
// RT thread can never take a page fault touching them. It is this
// repository's equivalent of the original's direct mlock/
// jack_ringbuffer_mlock calls (control_action_table.c, loop.c):
// called once, on the non-RT side, right after the backing memory is
// allocated, with failure reported rather than fatal — a process
// without CAP_IPC_LOCK or over RLIMIT_MEMLOCK still runs correctly,
// just without the page-fault guarantee.
package rtmem

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Lock mlocks the memory backing b. Safe to call with a zero-length
// slice (a no-op).
func Lock(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Mlock(b)
}

// LockSlice is Lock for a generic slice, taking a byte-view of s's
// backing array via unsafe.Slice since Mlock only operates on []byte.
func LockSlice[T any](s []T) error {
	if len(s) == 0 {
		return nil
	}
	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	return Lock(unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*elemSize))
}

// LockValue is Lock for an arbitrary fixed-size value addressed directly
// (rather than through a slice header), such as an embedded array field.
func LockValue[T any](v *T) error {
	return Lock(unsafe.Slice((*byte)(unsafe.Pointer(v)), int(unsafe.Sizeof(*v))))
}
