// Package app provides the curator that ties capture sessions, the dataset
// index, reports, the session journal and hooks together.
package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/hook"
	"github.com/ayusman/mudra/internal/report"
	"github.com/ayusman/mudra/internal/sampling"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/vector"
)

// Journal source names.
const (
	SourceCamera = "camera"
	SourceImages = "images"
)

var (
	// ErrSessionActive is returned when a session is started while another
	// one has not been finished.
	ErrSessionActive = errors.New("a capture session is already active")

	// ErrNoSource is returned when capture is requested without a frame source.
	ErrNoSource = errors.New("no frame source configured")
)

// ParamSource supplies the interactive decisions of a collection run.
type ParamSource interface {
	// Params returns the next session parameters, or false to stop.
	Params(ctx context.Context) (sampling.Params, bool, error)

	// Confirm decides whether a Completed session is kept.
	Confirm(ctx context.Context, s *sampling.Session) (bool, error)

	// Selection picks entries to delete. An empty result cancels.
	Selection(ctx context.Context, entries []dataset.Entry) ([]int, error)
}

// Config holds the collaborators of a Curator. Source, Store and Hooks are
// optional.
type Config struct {
	Index       *dataset.Index
	Compression dataset.Compression
	Layout      vector.Layout
	Detector    detector.Detector
	Source      sampling.FrameSource
	Store       *store.Store
	Hooks       *hook.Dispatcher
	Logger      *slog.Logger
}

// Curator owns the dataset lifecycle: capture, persist, delete and
// re-analysis. At most one session is active at a time.
type Curator struct {
	config  Config
	codec   *vector.Codec
	engine  *sampling.Engine
	writer  *dataset.Writer
	reports *report.Writer
	logger  *slog.Logger

	mu     sync.Mutex
	active *sampling.Session

	callbackMu        sync.RWMutex
	progressCallbacks []func(sampling.Progress)
	frameCallbacks    []func(*gocv.Mat)
}

// New creates a Curator. Without a Source or Detector, capture is
// unavailable but every dataset operation works.
func New(config Config) (*Curator, error) {
	if config.Index == nil {
		return nil, errors.New("app: dataset index is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	codec, err := vector.NewCodec(config.Layout)
	if err != nil {
		return nil, err
	}
	writer, err := dataset.NewWriter(config.Index, config.Compression, logger)
	if err != nil {
		return nil, err
	}

	c := &Curator{
		config:  config,
		codec:   codec,
		writer:  writer,
		reports: report.NewWriter(logger),
		logger:  logger.With("component", "curator"),
	}

	if config.Source != nil && config.Detector != nil {
		c.engine, err = c.newEngine(config.Source, codec)
		if err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Curator) newEngine(source sampling.FrameSource, codec *vector.Codec) (*sampling.Engine, error) {
	return sampling.NewEngine(sampling.Config{
		Source:    source,
		Detector:  c.config.Detector,
		Codec:     codec,
		Logger:    c.config.Logger,
		Observer:  c.emitProgress,
		FrameHook: c.emitFrame,
	})
}

// RegisterProgressCallback registers a function called after every
// processed frame of every session.
func (c *Curator) RegisterProgressCallback(callback func(sampling.Progress)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.progressCallbacks = append(c.progressCallbacks, callback)
}

// RegisterFrameCallback registers a function that sees every raw frame
// before detection. It must not keep the Mat.
func (c *Curator) RegisterFrameCallback(callback func(*gocv.Mat)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.frameCallbacks = append(c.frameCallbacks, callback)
}

func (c *Curator) emitProgress(p sampling.Progress) {
	c.callbackMu.RLock()
	defer c.callbackMu.RUnlock()
	for _, cb := range c.progressCallbacks {
		cb(p)
	}
}

func (c *Curator) emitFrame(frame *gocv.Mat) {
	c.callbackMu.RLock()
	defer c.callbackMu.RUnlock()
	for _, cb := range c.frameCallbacks {
		cb(frame)
	}
}

// Index returns the dataset index.
func (c *Curator) Index() *dataset.Index {
	return c.config.Index
}

// Store returns the session journal, or nil.
func (c *Curator) Store() *store.Store {
	return c.config.Store
}

// Layout returns the layout of camera sessions.
func (c *Curator) Layout() vector.Layout {
	return c.codec.Layout()
}

// CanCapture reports whether camera sessions can run.
func (c *Curator) CanCapture() bool {
	return c.engine != nil
}

// Active returns the session that has not been finished yet, or nil.
func (c *Curator) Active() *sampling.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Curator) claim(s *sampling.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return ErrSessionActive
	}
	c.active = s
	return nil
}

func (c *Curator) release(s *sampling.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == s {
		c.active = nil
	}
}

// notify delivers an event to the hooks. Failures are logged by the
// dispatcher and never reach the caller.
func (c *Curator) notify(ctx context.Context, event string, entry, payload any) {
	if c.config.Hooks == nil {
		return
	}
	req, err := hook.NewRequest(event, entry, payload)
	if err != nil {
		c.logger.Warn("hook request not built", "event", event, "error", err)
		return
	}
	c.config.Hooks.Notify(ctx, req)
}
