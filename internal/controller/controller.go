// Package controller implements the non-RT owner of the loop set and the
// control dispatch table: loop creation/deletion, MIDI binding
// management, and the two wire-format grammars a remote-control
// front end would speak against it. It is the single goroutine expected
// to mutate engine.Engine's loop set and control.ActionTable; nothing
// here is RT-safe, and nothing here is safe for concurrent callers -
// the original's single OSC server thread plays the same role.
package controller

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jtotto/sooper-jack-midi-looper/pkg/control"
	"github.com/jtotto/sooper-jack-midi-looper/pkg/engine"
	"github.com/jtotto/sooper-jack-midi-looper/pkg/host"
	"github.com/jtotto/sooper-jack-midi-looper/pkg/loop"
)

// ErrUnknownLoop is returned by operations naming a loop that hasn't
// been added.
var ErrUnknownLoop = fmt.Errorf("controller: unknown loop")

// ErrLoopExists is returned by AddLoop for a name already in use.
var ErrLoopExists = fmt.Errorf("controller: loop already exists")

// Controller owns an Engine's loop set and dispatch table from the
// non-RT side. It is not safe for concurrent use by multiple goroutines;
// the single-threaded non-RT invariant means exactly one goroutine
// is expected to call into it, matching this corpus's single
// command-processing thread model.
type Controller struct {
	engine *engine.Engine
	host   host.Host
	cfg    loop.Config
	logger *slog.Logger
}

// New wraps e, creating loops with cfg (loop.DefaultConfig() if the
// zero value).
func New(e *engine.Engine, h host.Host, cfg loop.Config) *Controller {
	return &Controller{engine: e, host: h, cfg: cfg, logger: slog.Default()}
}

// SetLogger overrides the default logger.
func (c *Controller) SetLogger(logger *slog.Logger) {
	c.logger = logger
}

// AddLoop creates a new loop named name with the given initial flags and
// registers it with the engine. Not RT-safe.
func (c *Controller) AddLoop(name string, midiThrough, playbackAfterRecording bool) (*loop.Loop, error) {
	c.engine.LoopsMu.Lock()
	defer c.engine.LoopsMu.Unlock()

	if c.engine.Loop(name) != nil {
		return nil, fmt.Errorf("%w: %q", ErrLoopExists, name)
	}

	l, err := loop.NewLoop(c.host, name, midiThrough, playbackAfterRecording, c.cfg)
	if err != nil {
		return nil, fmt.Errorf("controller: add loop %q: %w", name, err)
	}

	c.engine.AddLoop(name, l)
	c.logger.Info("loop added", "name", name)
	return l, nil
}

// RemoveLoop removes name from the engine's loop set, strips every
// dispatch-table mapping bound to it (so the table never holds a
// dangling *loop.Loop), and closes its ports. Not RT-safe.
func (c *Controller) RemoveLoop(name string) error {
	c.engine.LoopsMu.Lock()
	l := c.engine.RemoveLoop(name)
	c.engine.LoopsMu.Unlock()

	if l == nil {
		return fmt.Errorf("%w: %q", ErrUnknownLoop, name)
	}

	c.engine.TableMu.Lock()
	c.engine.Table().RemoveLoopMappings(l)
	c.engine.TableMu.Unlock()

	if err := l.Close(); err != nil {
		return fmt.Errorf("controller: remove loop %q: %w", name, err)
	}

	c.logger.Info("loop removed", "name", name)
	return nil
}

// Loop returns the named loop, or ErrUnknownLoop if no loop by that name
// has been added. Not RT-safe: it takes LoopsMu.
func (c *Controller) Loop(name string) (*loop.Loop, error) {
	c.engine.LoopsMu.Lock()
	defer c.engine.LoopsMu.Unlock()

	l := c.engine.Loop(name)
	if l == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLoop, name)
	}
	return l, nil
}

// SetLoopControls parses and applies the loop-controls wire format
// documented in SPEC_FULL.md §6: "<midi_through> <playback_after_recording>",
// where either token may be "same" to leave that flag unchanged.
func (c *Controller) SetLoopControls(name, command string) error {
	l, err := c.Loop(name)
	if err != nil {
		return err
	}

	fields := strings.Fields(command)
	if len(fields) != 2 {
		return fmt.Errorf("controller: loop controls %q: expected 2 fields, got %d", command, len(fields))
	}

	midiThrough, err := parseFlag(fields[0], l.MidiThrough())
	if err != nil {
		return fmt.Errorf("controller: loop controls %q: midi_through: %w", command, err)
	}
	playbackAfterRecording, err := parseFlag(fields[1], l.PlaybackAfterRecording())
	if err != nil {
		return fmt.Errorf("controller: loop controls %q: playback_after_recording: %w", command, err)
	}

	l.SetMidiThrough(midiThrough)
	l.SetPlaybackAfterRecording(playbackAfterRecording)
	return nil
}

func parseFlag(token string, current bool) (bool, error) {
	if token == "same" {
		return current, nil
	}
	return strconv.ParseBool(token)
}

// Bind parses and applies the MIDI-binding wire format documented in
// SPEC_FULL.md §6: "<channel> <type> <value> <action> <loop_name>",
// type in {on, off, cc_on, cc_off}, action in
// {toggle_playback, toggle_recording}. Not RT-safe.
func (c *Controller) Bind(command string) error {
	channel, kind, value, action, loopName, err := parseBinding(command)
	if err != nil {
		return err
	}

	c.engine.LoopsMu.Lock()
	l := c.engine.Loop(loopName)
	c.engine.LoopsMu.Unlock()
	if l == nil {
		return fmt.Errorf("%w: %q", ErrUnknownLoop, loopName)
	}

	c.engine.TableMu.Lock()
	defer c.engine.TableMu.Unlock()
	return c.engine.Table().Insert(channel, kind, value, l, action)
}

// Unbind parses the same wire format as Bind and removes the named
// mapping, if present. Not RT-safe.
func (c *Controller) Unbind(command string) error {
	channel, kind, value, action, loopName, err := parseBinding(command)
	if err != nil {
		return err
	}

	c.engine.LoopsMu.Lock()
	l := c.engine.Loop(loopName)
	c.engine.LoopsMu.Unlock()
	if l == nil {
		return fmt.Errorf("%w: %q", ErrUnknownLoop, loopName)
	}

	c.engine.TableMu.Lock()
	defer c.engine.TableMu.Unlock()
	return c.engine.Table().Remove(channel, kind, value, l, action)
}

func parseBinding(command string) (channel uint8, kind control.Kind, value uint8, action control.ActionKind, loopName string, err error) {
	fields := strings.Fields(command)
	if len(fields) != 5 {
		return 0, 0, 0, 0, "", fmt.Errorf("controller: binding %q: expected 5 fields, got %d", command, len(fields))
	}

	ch, err := strconv.ParseUint(fields[0], 10, 8)
	if err != nil {
		return 0, 0, 0, 0, "", fmt.Errorf("controller: binding %q: channel: %w", command, err)
	}

	kind, err = parseKind(fields[1])
	if err != nil {
		return 0, 0, 0, 0, "", fmt.Errorf("controller: binding %q: %w", command, err)
	}

	val, err := strconv.ParseUint(fields[2], 10, 8)
	if err != nil {
		return 0, 0, 0, 0, "", fmt.Errorf("controller: binding %q: value: %w", command, err)
	}

	action, err = parseAction(fields[3])
	if err != nil {
		return 0, 0, 0, 0, "", fmt.Errorf("controller: binding %q: %w", command, err)
	}

	return uint8(ch), kind, uint8(val), action, fields[4], nil
}

func parseKind(token string) (control.Kind, error) {
	switch token {
	case "on":
		return control.KindNoteOn, nil
	case "off":
		return control.KindNoteOff, nil
	case "cc_on":
		return control.KindCCOn, nil
	case "cc_off":
		return control.KindCCOff, nil
	default:
		return 0, fmt.Errorf("unrecognized binding type %q", token)
	}
}

func parseAction(token string) (control.ActionKind, error) {
	switch token {
	case "toggle_playback":
		return control.ActionTogglePlayback, nil
	case "toggle_recording":
		return control.ActionToggleRecording, nil
	default:
		return 0, fmt.Errorf("unrecognized action %q", token)
	}
}

// Mapping is one (channel, kind, value) -> (loop, action) binding,
// returned by Snapshot for serialization to a remote front end.
type Mapping struct {
	Channel uint8
	Kind    control.Kind
	Value   uint8
	Loop    string
	Action  control.ActionKind
}

// Snapshot returns every current binding, for serialization. Not
// RT-safe.
func (c *Controller) Snapshot() []Mapping {
	c.engine.TableMu.Lock()
	defer c.engine.TableMu.Unlock()

	var mappings []Mapping
	c.engine.Table().ForEachMapping(func(channel uint8, kind control.Kind, value uint8, l *loop.Loop, action control.ActionKind) {
		mappings = append(mappings, Mapping{
			Channel: channel,
			Kind:    kind,
			Value:   value,
			Loop:    l.Name(),
			Action:  action,
		})
	})
	return mappings
}
