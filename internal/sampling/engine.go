package sampling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/vector"
)

// FrameSource yields frames. The caller closes every returned Mat.
type FrameSource interface {
	ReadFrame() (*gocv.Mat, error)
}

// Config wires an Engine.
type Config struct {
	Source   FrameSource
	Detector detector.Detector
	Codec    *vector.Codec
	Logger   *slog.Logger

	// Observer, when set, is called synchronously after every frame.
	Observer func(Progress)

	// FrameHook, when set, sees every frame before detection. It must not
	// keep the Mat.
	FrameHook func(*gocv.Mat)
}

// Engine runs sessions one frame at a time on the calling goroutine.
type Engine struct {
	config Config
	logger *slog.Logger
}

// NewEngine checks the wiring and returns an Engine.
func NewEngine(config Config) (*Engine, error) {
	if config.Source == nil {
		return nil, errors.New("sampling: frame source is required")
	}
	if config.Detector == nil {
		return nil, errors.New("sampling: detector is required")
	}
	if config.Codec == nil {
		return nil, errors.New("sampling: codec is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		config: config,
		logger: logger.With("component", "sampling"),
	}, nil
}

// Layout returns the layout of the vectors the engine produces.
func (e *Engine) Layout() vector.Layout {
	return e.config.Codec.Layout()
}

// Run creates a session for params and runs it to a terminal state.
func (e *Engine) Run(ctx context.Context, params Params) (*Session, error) {
	s, err := NewSession(params, e.Layout())
	if err != nil {
		return nil, err
	}
	return s, e.RunSession(ctx, s)
}

// RunSession drives an Idle session until it completes, the context is
// cancelled or the source fails. Cancellation is checked once per frame.
// A cancelled context ends the session Cancelled without an error; a
// source failure ends it Cancelled and is returned wrapped in
// ErrSourceFailed. Detector failures never end a session.
func (e *Engine) RunSession(ctx context.Context, s *Session) error {
	if s.Layout() != e.Layout() {
		return fmt.Errorf("%w: session layout %s, engine layout %s", ErrInvalidParams, s.Layout(), e.Layout())
	}
	if err := s.begin(); err != nil {
		return err
	}

	params := s.Params()
	log := e.logger.With("session", s.ID(), "label", params.Label)
	log.Info("session started", "target", params.MaxSamples, "threshold", params.Threshold)

	for {
		select {
		case <-ctx.Done():
			s.finish(Cancelled, nil)
			log.Info("session cancelled", "accepted", s.accepted())
			return nil
		default:
		}

		frame, err := e.config.Source.ReadFrame()
		if err != nil {
			if errors.Is(err, capture.ErrExhausted) && params.AcceptPartial && s.accepted() > 0 {
				s.finish(Completed, nil)
				log.Info("source exhausted, keeping partial session", "accepted", s.accepted())
				return nil
			}
			err = fmt.Errorf("%w: %w", ErrSourceFailed, err)
			s.finish(Cancelled, err)
			log.Error("session aborted", "error", err)
			return err
		}

		vec, detectorFailed := e.process(log, frame)
		frame.Close()

		ratio := vector.NonZeroRatio(e.config.Codec.HandRegion(vec))
		admitted := ratio >= params.Threshold

		progress := s.record(vec, ratio, admitted, detectorFailed)
		if e.config.Observer != nil {
			e.config.Observer(progress)
		}

		if progress.Accepted >= params.MaxSamples {
			s.finish(Completed, nil)
			stats := s.Stats()
			log.Info("session completed",
				"accepted", stats.Accepted,
				"rejected", stats.Rejected,
				"detector_errors", stats.DetectorErrors)
			return nil
		}
	}
}

// process detects and encodes one frame. Detector and encoding failures
// degrade to the zero vector.
func (e *Engine) process(log *slog.Logger, frame *gocv.Mat) ([]float64, bool) {
	if e.config.FrameHook != nil {
		e.config.FrameHook(frame)
	}

	zero := func() []float64 { return make([]float64, e.config.Codec.Len()) }

	detection, err := e.config.Detector.Detect(frame)
	if err != nil {
		log.Debug("detector failed, using empty frame", "error", err)
		return zero(), true
	}

	vec, err := e.config.Codec.EncodeDetection(detection)
	if err != nil {
		log.Debug("unusable detection, using empty frame", "error", err)
		return zero(), true
	}
	return vec, false
}
