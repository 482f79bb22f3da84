// Package config holds the single configuration struct passed to every
// component, loaded from YAML and overridden by command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/hook"
	"github.com/ayusman/mudra/internal/logging"
	"github.com/ayusman/mudra/internal/sampling"
	"github.com/ayusman/mudra/internal/vector"
)

// FileName is the config file looked up in the project root.
const FileName = "mudra.yaml"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the complete runtime configuration.
type Config struct {
	// Root is the project root every relative path resolves against.
	Root string `yaml:"-"`

	Paths    PathsConfig     `yaml:"paths"`
	Layout   vector.Layout   `yaml:"layout"`
	Batch    BatchConfig     `yaml:"batch"`
	Session  SessionConfig   `yaml:"session"`
	Capture  capture.Config  `yaml:"capture"`
	Detector detector.Config `yaml:"detector"`
	Hooks    HooksConfig     `yaml:"hooks"`
	Server   ServerConfig    `yaml:"server"`
	Log      logging.Config  `yaml:"log"`
}

// PathsConfig locates the on-disk state. Relative paths resolve against Root.
type PathsConfig struct {
	Features string `yaml:"features"`
	Reports  string `yaml:"reports"`
	Index    string `yaml:"index"`
	Database string `yaml:"database"`
	Hooks    string `yaml:"hooks"`
}

// BatchConfig selects the batch file format.
type BatchConfig struct {
	Compression dataset.Compression `yaml:"compression"`
}

// SessionConfig holds the defaults offered when a session starts.
type SessionConfig struct {
	MaxSamples int     `yaml:"max_samples"`
	Threshold  float64 `yaml:"threshold"`
}

// HooksConfig bounds hook execution.
type HooksConfig struct {
	TimeoutMs int `yaml:"timeout_ms"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is present.
func Default(root string) Config {
	return Config{
		Root: root,
		Paths: PathsConfig{
			Features: filepath.Join("data", "features"),
			Reports:  filepath.Join("data", "reports"),
			Index:    filepath.Join("data", "features", "labels.json"),
			Database: filepath.Join("data", "mudra.db"),
			Hooks:    "hooks",
		},
		Layout:   vector.DefaultLayout(),
		Batch:    BatchConfig{Compression: dataset.CompressionNone},
		Session:  SessionConfig{MaxSamples: 50, Threshold: 0.2},
		Capture:  capture.DefaultConfig(),
		Detector: detector.DefaultConfig(),
		Hooks:    HooksConfig{TimeoutMs: int(hook.DefaultTimeout / time.Millisecond)},
		Server:   ServerConfig{Addr: ":8080"},
		Log:      logging.DefaultConfig(),
	}
}

// Load reads path over the defaults for root. An empty path tries
// <root>/mudra.yaml and silently keeps the defaults when it is absent.
func Load(path, root string) (Config, error) {
	cfg := Default(root)

	explicit := path != ""
	if !explicit {
		path = filepath.Join(root, FileName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Root = root

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Layout.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Batch.Compression.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := c.SessionDefaults("default").Validate(); err != nil {
		return fmt.Errorf("%w: session: %w", ErrInvalidConfig, err)
	}
	if c.Paths.Features == "" || c.Paths.Reports == "" || c.Paths.Index == "" {
		return fmt.Errorf("%w: paths.features, paths.reports and paths.index are required", ErrInvalidConfig)
	}
	if c.Capture.FPS < 0 {
		return fmt.Errorf("%w: capture.fps must not be negative", ErrInvalidConfig)
	}
	if c.Detector.MaxHands < 0 || c.Detector.MaxHands > 2 {
		return fmt.Errorf("%w: detector.max_hands must be between 0 and 2", ErrInvalidConfig)
	}
	if c.Hooks.TimeoutMs < 0 {
		return fmt.Errorf("%w: hooks.timeout_ms must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Resolve returns p made absolute against Root.
func (c Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || p == ":memory:" {
		return p
	}
	return filepath.Join(c.Root, p)
}

// DatasetPaths returns the dataset layout with every path resolved.
func (c Config) DatasetPaths() dataset.Paths {
	return dataset.Paths{
		Root:     c.Root,
		Features: c.Resolve(c.Paths.Features),
		Reports:  c.Resolve(c.Paths.Reports),
		Index:    c.Resolve(c.Paths.Index),
	}
}

// DatabasePath returns the resolved session journal path.
func (c Config) DatabasePath() string {
	return c.Resolve(c.Paths.Database)
}

// HookDir returns the resolved hook directory.
func (c Config) HookDir() string {
	return c.Resolve(c.Paths.Hooks)
}

// HookTimeout returns the hook timeout as a duration.
func (c Config) HookTimeout() time.Duration {
	return time.Duration(c.Hooks.TimeoutMs) * time.Millisecond
}

// DetectorConfig returns the detector settings with the face model
// enabled only when the layout carries the face block.
func (c Config) DetectorConfig() detector.Config {
	d := c.Detector
	if d.MaxHands == 0 {
		d.MaxHands = c.Layout.MaxHands
	}
	d.DetectFace = c.Layout.IncludeFace
	return d
}

// SessionDefaults returns session parameters for label filled from the
// session section.
func (c Config) SessionDefaults(label string) sampling.Params {
	return sampling.Params{
		Label:      label,
		MaxSamples: c.Session.MaxSamples,
		Threshold:  c.Session.Threshold,
	}
}
