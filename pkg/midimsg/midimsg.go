// Package midimsg defines the fixed-size MIDI event value passed between
// the host's MIDI ports and a loop's recording and output pipelines.
package midimsg

import "errors"

// MaxLen is the largest representable message length. Events the host
// reports as longer than this (SysEx and similar) are never turned into a
// Message; see FromRaw.
const MaxLen = 3

// Message is an immutable, stack-copied MIDI event. Time is interpreted
// according to the pipeline stage holding it: cycle-relative while sitting
// in a host port buffer or an output ring, recording-relative inside a
// loopbuffer.Buffer, and absolute only in a few loop-internal fields.
type Message struct {
	Time uint32
	Len  uint8
	Data [MaxLen]byte
}

// Bytes returns the message's raw MIDI bytes.
func (m Message) Bytes() []byte {
	return m.Data[:m.Len]
}

// Channel returns the MIDI channel nibble of a channel-voice message, or 0
// for a message whose status byte carries no channel.
func (m Message) Channel() uint8 {
	if m.Len == 0 || m.Data[0] >= 0xf0 {
		return 0
	}
	return m.Data[0] & 0x0f
}

// Status returns the message's status byte with the channel nibble masked
// off (e.g. 0x90 for any Note On).
func (m Message) Status() uint8 {
	if m.Len == 0 {
		return 0
	}
	return m.Data[0] & 0xf0
}

// Data2 returns the message's second data byte (velocity, CC value, ...),
// or 0 if the message is too short to carry one.
func (m Message) Data2() uint8 {
	if m.Len < 3 {
		return 0
	}
	return m.Data[2]
}

// ErrTooLong is returned by FromRaw when the host reports an event longer
// than MaxLen bytes. Per the data model, such events (SysEx and the like)
// are dropped at ingress rather than represented.
var ErrTooLong = errors.New("midimsg: event longer than 3 bytes, dropping")

// FromRaw builds a Message from a host-reported event time and raw byte
// slice. It copies at most MaxLen bytes; callers must check the returned
// error before using the Message.
func FromRaw(time uint32, raw []byte) (Message, error) {
	if len(raw) == 0 || len(raw) > MaxLen {
		return Message{}, ErrTooLong
	}

	var msg Message
	msg.Time = time
	msg.Len = uint8(len(raw))
	copy(msg.Data[:msg.Len], raw)
	return msg, nil
}

// WithTime returns a copy of m with Time replaced, used when a message is
// re-anchored crossing a pipeline stage (recording offset, playback replay,
// output-cycle clamping).
func (m Message) WithTime(t uint32) Message {
	m.Time = t
	return m
}
