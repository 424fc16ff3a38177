// Package types holds error values shared across this repository's
// ring-buffer implementations (pkg/spscring, pkg/loopbuffer), so callers
// can errors.Is against one vocabulary regardless of which buffer raised
// it.
package types

import "errors"

// Common ringbuffer errors shared by every fixed-capacity ring in this
// repository. These enable consistent error handling and comparison
// using errors.Is().
var (
	// ErrInsufficientSpace indicates the ringbuffer doesn't have enough space for the write operation
	ErrInsufficientSpace = errors.New("insufficient space in ringbuffer")

	// ErrInsufficientData indicates the ringbuffer doesn't have enough data for the read operation
	ErrInsufficientData = errors.New("insufficient data in ringbuffer")
)
