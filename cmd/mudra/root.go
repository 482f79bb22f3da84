package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/hook"
	"github.com/ayusman/mudra/internal/logging"
	"github.com/ayusman/mudra/internal/sampling"
	"github.com/ayusman/mudra/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "mudra",
	Short: "Mudra - gesture dataset curation",
	Long: `Mudra records hand and face landmark sequences from a camera or an image
directory, keeps them as labeled dataset files with per-file reports, and
serves the dataset over HTTP.`,
	SilenceUsage: true,
}

var (
	rootDir    string
	configPath string
	logLevel   string
	logFormat  string
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", ".", "Project root every relative path resolves against")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default <root>/"+config.FileName+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json")
}

// =============================================================================
// Environment
// =============================================================================

// env holds the components every command builds from the config.
type env struct {
	cfg     config.Config
	logger  *slog.Logger
	index   *dataset.Index
	store   *store.Store
	hooks   *hook.Dispatcher
	curator *app.Curator
}

// captureSource is the frame source and detector a capturing command opens.
type captureSource struct {
	source   sampling.FrameSource
	detector detector.Detector
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (config.Config, error) {
	root, err := filepath.Abs(rootDir)
	if err != nil {
		return config.Config{}, fmt.Errorf("resolve root: %w", err)
	}

	cfg, err := config.Load(configPath, root)
	if err != nil {
		return config.Config{}, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if err := cfg.Log.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// newEnv builds the dataset components. src may be nil for commands that
// never capture.
func newEnv(cfg config.Config, src *captureSource) (*env, error) {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	index, err := dataset.Open(cfg.DatasetPaths(), logger)
	if err != nil {
		return nil, err
	}

	st, err := store.New(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open session journal: %w", err)
	}

	hooks := hook.NewManager(cfg.HookDir(), logger)
	if err := hooks.Discover(); err != nil {
		st.Close()
		return nil, fmt.Errorf("discover hooks: %w", err)
	}
	dispatcher := hook.NewDispatcher(hooks, hook.NewExecutor(cfg.HookTimeout()), logger)

	appConfig := app.Config{
		Index:       index,
		Compression: cfg.Batch.Compression,
		Layout:      cfg.Layout,
		Store:       st,
		Hooks:       dispatcher,
		Logger:      logger,
	}
	if src != nil {
		appConfig.Source = src.source
		appConfig.Detector = src.detector
	}

	curator, err := app.New(appConfig)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &env{
		cfg:     cfg,
		logger:  logger,
		index:   index,
		store:   st,
		hooks:   dispatcher,
		curator: curator,
	}, nil
}

// Close releases the session journal.
func (e *env) Close() error {
	return e.store.Close()
}

// setup loads the config and builds an env without a frame source.
func setup() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newEnv(cfg, nil)
}
