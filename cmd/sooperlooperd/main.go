// Command sooperlooperd wires a host.Null reference host through
// internal/controller and pkg/engine and runs it as a standalone
// process, driving simulated process cycles on a fixed interval. It is
// the stand-in for the original's JACK-bound binary: no real audio
// server binding ships in this module (pkg/host §6), so this is the
// one the module can actually run end to end.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jtotto/sooper-jack-midi-looper/internal/controller"
	"github.com/jtotto/sooper-jack-midi-looper/pkg/control"
	"github.com/jtotto/sooper-jack-midi-looper/pkg/engine"
	"github.com/jtotto/sooper-jack-midi-looper/pkg/host"
	"github.com/jtotto/sooper-jack-midi-looper/pkg/loop"
)

var (
	sampleRate  int
	cycleFrames uint32
	verbose     bool
	loopNames   []string
	bindings    []string
)

var rootCmd = &cobra.Command{
	Use:   "sooperlooperd",
	Short: "Real-time MIDI looper engine daemon",
	Long: `sooperlooperd drives a MIDI looper engine against a process-cycle
host: it records incoming MIDI on named loops and plays them back in
sync with the host's frame clock, arming and disarming recording and
playback via bound MIDI control messages.

This build runs against the in-memory reference host (pkg/host.Null),
simulating process cycles on a fixed timer; binding a real audio
server is a matter of supplying a different host.Host implementation
to the same engine/controller wiring.

Examples:
  # Run with two loops and a couple of MIDI bindings
  sooperlooperd --loop A --loop B \
    --bind "0 on 60 toggle_recording A" \
    --bind "0 on 62 toggle_playback A"`,
	RunE: run,
}

func init() {
	rootCmd.Flags().IntVar(&sampleRate, "sample-rate", 48000, "simulated host sample rate in Hz")
	rootCmd.Flags().Uint32Var(&cycleFrames, "cycle-frames", 256, "frames per simulated process cycle")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose (debug) logging")
	rootCmd.Flags().StringArrayVar(&loopNames, "loop", nil, "create a loop with this name (repeatable)")
	rootCmd.Flags().StringArrayVar(&bindings, "bind", nil, `bind a MIDI control: "<channel> <type> <value> <action> <loop_name>" (repeatable)`)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	h := host.NewNull(sampleRate)

	table := control.NewActionTable(func(c control.Change) {
		verb := "removed"
		if c.Added {
			verb = "added"
		}
		logger.Debug("mapping "+verb,
			"channel", c.Channel, "type", c.Kind, "value", c.Value,
			"loop", c.Loop.Name(), "action", c.Action)
	})

	eng, err := engine.New(h, table)
	if err != nil {
		return fmt.Errorf("sooperlooperd: %w", err)
	}
	eng.SetLogger(logger)

	ctrl := controller.New(eng, h, loop.DefaultConfig())
	ctrl.SetLogger(logger)

	for _, name := range loopNames {
		if _, err := ctrl.AddLoop(name, false, false); err != nil {
			return fmt.Errorf("sooperlooperd: %w", err)
		}
	}

	for _, b := range bindings {
		if err := ctrl.Bind(b); err != nil {
			return fmt.Errorf("sooperlooperd: bind %q: %w", b, err)
		}
	}

	logger.Info("engine started",
		"sample_rate", sampleRate, "cycle_frames", cycleFrames, "loops", loopNames)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	cycleDuration := time.Second * time.Duration(cycleFrames) / time.Duration(sampleRate)
	ticker := time.NewTicker(cycleDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.AdvanceCycle(cycleFrames)
			if err := eng.Process(cycleFrames); err != nil {
				logger.Error("process cycle failed", "error", err)
			}
			h.EndCycle(cycleFrames)

		case rate := <-h.SampleRateChanges():
			logger.Error("sample rate changed, exiting", "new_rate", rate)
			return fmt.Errorf("sooperlooperd: sample rate changed to %d", rate)

		case sig := <-sigChan:
			logger.Info("signal received, shutting down", "signal", sig)
			return nil
		}
	}
}

