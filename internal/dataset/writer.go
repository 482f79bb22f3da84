package dataset

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ayusman/mudra/internal/fsutil"
	"github.com/ayusman/mudra/internal/npy"
)

// Compression selects the batch file format.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// Ext returns the batch file extension for c.
func (c Compression) Ext() string {
	if c == CompressionZstd {
		return batchExt + npy.ZstdExt
	}
	return batchExt
}

// Validate rejects unknown compression names.
func (c Compression) Validate() error {
	switch c {
	case CompressionNone, CompressionZstd, "":
		return nil
	}
	return fmt.Errorf("unknown batch compression %q", c)
}

// DerivedFunc writes the files derived from a freshly written batch, such
// as its summary and report.
type DerivedFunc func(e Entry, a Artifacts) error

// Writer persists batches and registers them in the index.
type Writer struct {
	index       *Index
	compression Compression
	now         func() time.Time
	logger      *slog.Logger
}

// NewWriter returns a Writer over index.
func NewWriter(index *Index, compression Compression, logger *slog.Logger) (*Writer, error) {
	if err := compression.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		index:       index,
		compression: compression,
		now:         time.Now,
		logger:      logger.With("component", "dataset"),
	}, nil
}

// Persist writes batch under <features>/<label>/<label>_<timestamp>, runs
// derived and appends the entry to the index. If any step fails, the files
// written so far are removed and nothing is indexed.
func (w *Writer) Persist(label string, batch *npy.Batch, derived DerivedFunc) (Entry, error) {
	if batch == nil || batch.Rows == 0 {
		return Entry{}, errors.New("persist: batch is empty")
	}

	paths := w.index.Paths()
	dir := filepath.Join(paths.Features, label)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Entry{}, fmt.Errorf("create label directory: %w", err)
	}

	path := w.uniquePath(dir, label)
	rel, err := paths.Rel(path)
	if err != nil {
		return Entry{}, fmt.Errorf("relative batch path: %w", err)
	}
	entry := Entry{Filename: rel, Label: label}
	artifacts := paths.Artifacts(entry)

	cleanup := func() {
		artifacts.Each(func(kind ArtifactKind, p string) {
			if _, err := fsutil.RemoveIfExists(p); err != nil {
				w.logger.Warn("cleanup failed", "kind", kind, "path", p, "error", err)
			}
		})
	}

	if err := npy.WriteFile(path, batch); err != nil {
		cleanup()
		return Entry{}, fmt.Errorf("write batch: %w", err)
	}

	if derived != nil {
		if err := derived(entry, artifacts); err != nil {
			cleanup()
			return Entry{}, fmt.Errorf("write derived files: %w", err)
		}
	}

	if err := w.index.Append(entry); err != nil {
		cleanup()
		return Entry{}, err
	}

	w.logger.Info("batch persisted", "filename", entry.Filename, "rows", batch.Rows, "cols", batch.Cols)
	return entry, nil
}

// uniquePath picks <label>_<YYYYMMDD_HHMMSS><ext>, adding _N when a file
// with that name already exists.
func (w *Writer) uniquePath(dir, label string) string {
	base := label + "_" + w.now().Format("20060102_150405")
	ext := w.compression.Ext()

	path := filepath.Join(dir, base+ext)
	for n := 1; fsutil.Exists(path); n++ {
		path = filepath.Join(dir, base+"_"+strconv.Itoa(n)+ext)
	}
	return path
}
