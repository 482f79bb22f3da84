package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/ayusman/mudra/internal/fsutil"
)

// ErrCorruptIndex is returned when the index file cannot be parsed.
var ErrCorruptIndex = errors.New("corrupt dataset index")

// Entry maps one batch file to its label.
type Entry struct {
	Filename string `json:"filename"`
	Label    string `json:"label"`
}

// MissingFile is an entry whose batch file does not resolve.
type MissingFile struct {
	Index int    `json:"index"`
	Entry Entry  `json:"entry"`
	Path  string `json:"path"`
}

// ArtifactStatus is the outcome of removing one artifact.
type ArtifactStatus string

const (
	StatusRemoved ArtifactStatus = "removed"
	StatusMissing ArtifactStatus = "missing"
	StatusFailed  ArtifactStatus = "failed"
)

// ArtifactResult reports what happened to one artifact during Delete.
type ArtifactResult struct {
	Kind   ArtifactKind   `json:"kind"`
	Path   string         `json:"path"`
	Status ArtifactStatus `json:"status"`
	Err    error          `json:"-"`
}

// MarshalJSON renders Err as a string.
func (r ArtifactResult) MarshalJSON() ([]byte, error) {
	type plain ArtifactResult
	out := struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain: plain(r)}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// RemovedEntry is one entry taken out of the index.
type RemovedEntry struct {
	Index     int              `json:"index"`
	Entry     Entry            `json:"entry"`
	Artifacts []ArtifactResult `json:"artifacts"`
}

// DeleteReport lists per-index outcomes of Delete.
type DeleteReport struct {
	Removed    []RemovedEntry `json:"removed"`
	OutOfRange []int          `json:"out_of_range"`
}

// Index is the durable, ordered list of dataset entries. Rewrites are
// serialized by a mutex within the process and an advisory file lock
// across processes.
type Index struct {
	paths  Paths
	lock   *flock.Flock
	mu     sync.RWMutex
	logger *slog.Logger
}

// Open returns an Index over paths.Index. The file is created lazily on
// first Append.
func Open(paths Paths, logger *slog.Logger) (*Index, error) {
	paths, err := paths.Abs()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		paths:  paths,
		lock:   flock.New(paths.Index + ".lock"),
		logger: logger.With("component", "dataset", "index", paths.Index),
	}, nil
}

// Paths returns the resolved dataset paths.
func (x *Index) Paths() Paths {
	return x.paths
}

// Artifacts is a shorthand for x.Paths().Artifacts(e).
func (x *Index) Artifacts(e Entry) Artifacts {
	return x.paths.Artifacts(e)
}

// Append adds an entry at the end of the index. A malformed index file is
// backed up and replaced.
func (x *Index) Append(e Entry) error {
	if e.Filename == "" || e.Label == "" {
		return fmt.Errorf("append: entry needs a filename and a label")
	}
	if err := x.paths.Check(e); err != nil {
		return fmt.Errorf("append: %w", err)
	}

	unlock, err := x.lockExclusive()
	if err != nil {
		return err
	}
	defer unlock()

	entries, err := x.read()
	if errors.Is(err, ErrCorruptIndex) {
		backup := x.backupCorrupt()
		x.logger.Warn("index unreadable, starting a new one", "error", err, "backup", backup)
		entries = nil
	} else if err != nil {
		return err
	}

	entries = append(entries, e)
	if err := x.write(entries); err != nil {
		return err
	}

	x.logger.Info("entry appended", "filename", e.Filename, "label", e.Label, "entries", len(entries))
	return nil
}

// List returns the entries in insertion order. The position of an entry
// is its index for Delete.
func (x *Index) List() ([]Entry, error) {
	unlock, err := x.lockShared()
	if err != nil {
		return nil, err
	}
	defer unlock()

	return x.read()
}

// Verify returns the entries whose batch file does not resolve, including
// entries that point outside the root. It does not change the index.
func (x *Index) Verify() ([]MissingFile, error) {
	entries, err := x.List()
	if err != nil {
		return nil, err
	}

	var missing []MissingFile
	for i, e := range entries {
		path := x.paths.Resolve(e.Filename)
		if x.paths.Check(e) != nil || !fsutil.Exists(path) {
			missing = append(missing, MissingFile{Index: i, Entry: e, Path: path})
		}
	}
	return missing, nil
}

// Delete removes the entries at the given positions and their artifacts.
// Indices are deduplicated and processed from the highest down, so earlier
// positions stay valid. Out-of-range indices are reported and skipped. The
// index is rewritten once, before any file is removed, so it never points
// at a file this call deleted. An entry that points outside the root is
// dropped from the index but none of its files are touched.
func (x *Index) Delete(indices []int) (*DeleteReport, error) {
	unlock, err := x.lockExclusive()
	if err != nil {
		return nil, err
	}
	defer unlock()

	entries, err := x.read()
	if err != nil {
		return nil, err
	}

	report := &DeleteReport{}
	for _, i := range dedupeDescending(indices) {
		if i < 0 || i >= len(entries) {
			report.OutOfRange = append(report.OutOfRange, i)
			continue
		}
		report.Removed = append(report.Removed, RemovedEntry{Index: i, Entry: entries[i]})
		entries = append(entries[:i], entries[i+1:]...)
	}

	if len(report.Removed) == 0 {
		return report, nil
	}

	if err := x.write(entries); err != nil {
		return nil, err
	}

	for r := range report.Removed {
		removed := &report.Removed[r]
		unsafe := x.paths.Check(removed.Entry)
		x.paths.Artifacts(removed.Entry).Each(func(kind ArtifactKind, path string) {
			if unsafe != nil {
				removed.Artifacts = append(removed.Artifacts,
					ArtifactResult{Kind: kind, Path: path, Status: StatusFailed, Err: unsafe})
				return
			}
			removed.Artifacts = append(removed.Artifacts, removeArtifact(kind, path))
		})
		if unsafe != nil {
			x.logger.Warn("artifacts left in place", "index", removed.Index, "error", unsafe)
		}
		x.logger.Info("entry deleted", "index", removed.Index, "filename", removed.Entry.Filename)
	}

	return report, nil
}

func removeArtifact(kind ArtifactKind, path string) ArtifactResult {
	result := ArtifactResult{Kind: kind, Path: path}
	removed, err := fsutil.RemoveIfExists(path)
	switch {
	case err != nil:
		result.Status = StatusFailed
		result.Err = err
	case removed:
		result.Status = StatusRemoved
	default:
		result.Status = StatusMissing
	}
	return result
}

func dedupeDescending(indices []int) []int {
	seen := make(map[int]bool, len(indices))
	out := make([]int, 0, len(indices))
	for _, i := range indices {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

func (x *Index) lockExclusive() (func(), error) {
	x.mu.Lock()
	if err := os.MkdirAll(filepath.Dir(x.paths.Index), 0755); err != nil {
		x.mu.Unlock()
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	if err := x.lock.Lock(); err != nil {
		x.mu.Unlock()
		return nil, fmt.Errorf("lock index: %w", err)
	}
	return func() {
		x.lock.Unlock()
		x.mu.Unlock()
	}, nil
}

func (x *Index) lockShared() (func(), error) {
	x.mu.RLock()
	if _, err := os.Stat(filepath.Dir(x.paths.Index)); os.IsNotExist(err) {
		// Nothing to read and nothing to lock yet.
		return x.mu.RUnlock, nil
	}
	if err := x.lock.RLock(); err != nil {
		x.mu.RUnlock()
		return nil, fmt.Errorf("lock index: %w", err)
	}
	return func() {
		x.lock.Unlock()
		x.mu.RUnlock()
	}, nil
}

func (x *Index) read() ([]Entry, error) {
	data, err := os.ReadFile(x.paths.Index)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	for i, e := range entries {
		if e.Filename == "" || e.Label == "" {
			return nil, fmt.Errorf("%w: entry %d has no filename or label", ErrCorruptIndex, i)
		}
		if err := x.paths.Check(e); err != nil {
			x.logger.Warn("unsafe index entry", "position", i, "error", err)
		}
	}
	return entries, nil
}

func (x *Index) write(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	err := fsutil.WriteFileAtomic(x.paths.Index, 0644, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(entries)
	})
	if err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

func (x *Index) backupCorrupt() string {
	data, err := os.ReadFile(x.paths.Index)
	if err != nil {
		return ""
	}
	backup := fmt.Sprintf("%s.corrupt-%s", x.paths.Index, time.Now().Format("20060102_150405"))
	if err := os.WriteFile(backup, data, 0644); err != nil {
		x.logger.Warn("could not back up corrupt index", "error", err)
		return ""
	}
	return backup
}
