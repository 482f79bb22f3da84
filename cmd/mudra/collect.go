package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/prompt"
	"github.com/ayusman/mudra/internal/sampling"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Record labeled sessions from the camera",
	Long: `Collect asks for a label, a sample count and a threshold, records frames
from the camera until enough of them carry a detected hand, and asks whether
to keep the batch. An empty label ends the run.`,
	Args: cobra.NoArgs,
	RunE: runCollect,
}

var (
	collectCameraID int
	collectQuiet    bool
)

func init() {
	rootCmd.AddCommand(collectCmd)

	collectCmd.Flags().IntVar(&collectCameraID, "camera", -1, "Camera device ID (default from config)")
	collectCmd.Flags().BoolVarP(&collectQuiet, "quiet", "q", false, "Do not print per-frame progress")
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if collectCameraID >= 0 {
		cfg.Capture.DeviceID = collectCameraID
	}

	src, closeSource, err := openCamera(cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	e, err := newEnv(cfg, src)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	out := cmd.OutOrStdout()
	if !collectQuiet {
		e.curator.RegisterProgressCallback(progressPrinter(out))
	}

	terminal := prompt.New(cmd.InOrStdin(), out, cfg.SessionDefaults(""))
	results, err := e.curator.Collect(ctx, terminal)

	kept := 0
	for _, r := range results {
		if r.Entry != nil {
			kept++
		}
	}
	fmt.Fprintf(out, "\n%d session(s), %d kept\n", len(results), kept)
	return err
}

// progressPrinter returns a callback that rewrites one status line per frame.
func progressPrinter(w io.Writer) func(sampling.Progress) {
	return func(p sampling.Progress) {
		mark := " "
		if p.Admitted {
			mark = "+"
		}
		fmt.Fprintf(w, "\r[%s] %s %d/%d  frame %d  hands %.0f%%   ",
			p.Label, mark, p.Accepted, p.Target, p.Frame, p.Ratio*100)
		if p.Accepted >= p.Target {
			fmt.Fprintln(w)
		}
	}
}

// openCamera opens the configured camera and the landmark detector.
func openCamera(cfg config.Config) (*captureSource, func(), error) {
	camera := capture.NewCamera(cfg.Capture)
	if err := camera.Open(); err != nil {
		return nil, nil, fmt.Errorf("open camera %d: %w", cfg.Capture.DeviceID, err)
	}

	det, err := detector.NewMediaPipeDetector(cfg.DetectorConfig())
	if err != nil {
		camera.Close()
		return nil, nil, fmt.Errorf("create detector: %w", err)
	}

	closeFn := func() {
		det.Close()
		camera.Close()
	}
	return &captureSource{source: camera, detector: det}, closeFn, nil
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
