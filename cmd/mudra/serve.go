package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ayusman/mudra/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dataset and remote capture over HTTP",
	Long: `Serve exposes the dataset, its reports and the session journal over HTTP.
When the camera opens, capture sessions can be started remotely and followed
on the websocket progress feed and the MJPEG preview.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveAddr     string
	serveStatic   string
	serveNoCamera bool
	serveCache    int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "Listen address (default from config)")
	serveCmd.Flags().StringVar(&serveStatic, "static", "", "Directory of static files to serve")
	serveCmd.Flags().BoolVar(&serveNoCamera, "no-camera", false, "Serve the dataset without capture")
	serveCmd.Flags().IntVar(&serveCache, "cache", 0, "Decoded batches kept in memory")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	var src *captureSource
	if !serveNoCamera {
		opened, closeSource, err := openCamera(cfg)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Capture unavailable: %v\n", err)
		} else {
			defer closeSource()
			src = opened
		}
	}

	e, err := newEnv(cfg, src)
	if err != nil {
		return err
	}
	defer e.Close()

	staticDir := serveStatic
	if staticDir == "" {
		staticDir = findWebDir(cfg.Root)
	}
	if staticDir != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Serving static files from: %s\n", staticDir)
	}

	srv, err := server.New(server.Config{
		StaticDir:       staticDir,
		Curator:         e.curator,
		SessionDefaults: cfg.SessionDefaults(""),
		CacheSize:       serveCache,
		Logger:          e.logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Starting server on %s\n", cfg.Server.Addr)
	return srv.ListenAndServe(ctx, cfg.Server.Addr)
}

// findWebDir returns <root>/web, or ~/.mudra/web, when it exists.
func findWebDir(root string) string {
	candidates := []string{filepath.Join(root, "web")}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".mudra", "web"))
	}

	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p
		}
	}
	return ""
}
