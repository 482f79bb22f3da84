package capture

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// imageExtensions lists the still-image formats ImageDir picks up.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
}

// ImageDir serves the images of one directory as frames, in file name
// order. Unreadable images are skipped. After the last image ReadFrame
// returns ErrExhausted.
type ImageDir struct {
	dir     string
	files   []string
	index   int
	skipped []string
	logger  *slog.Logger
	mu      sync.Mutex
	running bool
}

// NewImageDir lists the images in dir. It fails if dir cannot be read or
// holds no images.
func NewImageDir(dir string, logger *slog.Logger) (*ImageDir, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read image directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	sort.Strings(files)

	return &ImageDir{
		dir:    dir,
		files:  files,
		logger: logger.With("component", "imagedir"),
	}, nil
}

// Len returns the number of images found.
func (d *ImageDir) Len() int {
	return len(d.files)
}

// Label returns the directory's base name, used as the default label.
func (d *ImageDir) Label() string {
	return filepath.Base(filepath.Clean(d.dir))
}

// Skipped returns the images that could not be decoded.
func (d *ImageDir) Skipped() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.skipped...)
}

func (d *ImageDir) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = true
	d.index = 0
	d.skipped = nil
	return nil
}

func (d *ImageDir) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = false
	return nil
}

func (d *ImageDir) ReadFrame() (*gocv.Mat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil, ErrCameraNotOpen
	}

	for d.index < len(d.files) {
		path := d.files[d.index]
		d.index++

		mat := gocv.IMRead(path, gocv.IMReadColor)
		if mat.Empty() {
			mat.Close()
			d.skipped = append(d.skipped, path)
			d.logger.Warn("skipping unreadable image", "path", path)
			continue
		}
		return &mat, nil
	}

	return nil, ErrExhausted
}

func (d *ImageDir) SetFPS(fps int) {}
func (d *ImageDir) FPS() int       { return 0 }
func (d *ImageDir) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}
