package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/fsutil"
	"github.com/ayusman/mudra/internal/npy"
	"github.com/ayusman/mudra/internal/vector"
)

// ErrBatchMissing is reported when an indexed batch file does not exist.
var ErrBatchMissing = errors.New("batch file missing")

// Writer persists summaries and reports.
type Writer struct {
	now    func() time.Time
	logger *slog.Logger
}

// NewWriter returns a Writer.
func NewWriter(logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		now:    time.Now,
		logger: logger.With("component", "report"),
	}
}

// Write stores both the summary and the report of an entry.
func (w *Writer) Write(e dataset.Entry, a dataset.Artifacts, r *Report) error {
	name := filepath.Base(filepath.FromSlash(e.Filename))
	if err := w.WriteSummary(a.Summary, r.Summary(name)); err != nil {
		return err
	}
	return w.WriteReport(a.Report, r.Record(name, w.now()))
}

// WriteSummary atomically writes s as indented JSON.
func (w *Writer) WriteSummary(path string, s Summary) error {
	if err := writeJSON(path, s); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// WriteReport atomically writes rec as indented JSON.
func (w *Writer) WriteReport(path string, rec Record) error {
	if err := writeJSON(path, rec); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	w.logger.Debug("report written", "path", path, "samples", rec.NumSamples)
	return nil
}

// ReadRecord loads a report record.
func ReadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse report %s: %w", path, err)
	}
	return &rec, nil
}

func writeJSON(path string, v any) error {
	return fsutil.WriteFileAtomic(path, 0644, func(out io.Writer) error {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// Outcome is the result of re-analyzing one entry.
type Outcome struct {
	Index  int           `json:"index"`
	Entry  dataset.Entry `json:"entry"`
	Report string        `json:"report,omitempty"`
	Err    error         `json:"-"`
}

// Analyze loads an entry's batch and computes its report. The layout is
// inferred from the batch width.
func Analyze(index *dataset.Index, e dataset.Entry) (*Report, error) {
	path := index.Paths().Resolve(e.Filename)
	batch, err := npy.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBatchMissing, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	layout, ok := vector.LayoutForLen(batch.Cols)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, &vector.LengthError{Expected: vector.DefaultLayout().Len(), Actual: batch.Cols})
	}
	return Summarize(batch, layout)
}

// Reanalyze regenerates the report of every indexed entry. Per-entry
// failures are returned in the outcomes; only an unreadable index fails
// the call.
func (w *Writer) Reanalyze(index *dataset.Index) ([]Outcome, error) {
	entries, err := index.List()
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(entries))
	for i, e := range entries {
		out := Outcome{Index: i, Entry: e}

		r, err := Analyze(index, e)
		if err == nil {
			path := index.Artifacts(e).Report
			name := filepath.Base(filepath.FromSlash(e.Filename))
			err = w.WriteReport(path, r.Record(name, w.now()))
			out.Report = path
		}
		if err != nil {
			out.Err = err
			out.Report = ""
			w.logger.Warn("re-analysis failed", "index", i, "filename", e.Filename, "error", err)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}
