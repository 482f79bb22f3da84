// Package dataset keeps the label index of persisted batches consistent
// with the files on disk.
package dataset

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ayusman/mudra/internal/npy"
)

const (
	batchExt      = ".npy"
	summarySuffix = "_summary.json"
	reportSuffix  = "_report.json"
)

// Paths locates the dataset on disk. Entry filenames are stored relative
// to Root.
type Paths struct {
	Root     string
	Features string
	Reports  string
	Index    string
}

// DefaultPaths returns the standard layout under root.
func DefaultPaths(root string) Paths {
	return Paths{
		Root:     root,
		Features: filepath.Join(root, "data", "features"),
		Reports:  filepath.Join(root, "data", "reports"),
		Index:    filepath.Join(root, "data", "features", "labels.json"),
	}
}

// Abs returns p with every path made absolute.
func (p Paths) Abs() (Paths, error) {
	var err error
	for _, f := range []*string{&p.Root, &p.Features, &p.Reports, &p.Index} {
		if *f, err = filepath.Abs(*f); err != nil {
			return p, fmt.Errorf("resolve %s: %w", *f, err)
		}
	}
	return p, nil
}

// ErrUnsafeEntry is returned for an entry whose artifacts would resolve
// outside the dataset root.
var ErrUnsafeEntry = errors.New("entry escapes the dataset root")

// Resolve returns the absolute path of an entry filename.
func (p Paths) Resolve(filename string) string {
	return filepath.Join(p.Root, filepath.FromSlash(filename))
}

// Check rejects an entry with an absolute or escaping filename, or a label
// that is not a single directory name.
func (p Paths) Check(e Entry) error {
	name := filepath.FromSlash(e.Filename)
	if filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return fmt.Errorf("%w: absolute filename %q", ErrUnsafeEntry, e.Filename)
	}
	if !within(p.Root, filepath.Join(p.Root, name)) {
		return fmt.Errorf("%w: filename %q", ErrUnsafeEntry, e.Filename)
	}
	if strings.ContainsAny(e.Label, `/\`) || e.Label == "." || e.Label == ".." {
		return fmt.Errorf("%w: label %q", ErrUnsafeEntry, e.Label)
	}
	return nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Rel converts an absolute path to the slash-separated form stored in
// the index.
func (p Paths) Rel(path string) (string, error) {
	rel, err := filepath.Rel(p.Root, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// ArtifactKind names a file that belongs to an entry.
type ArtifactKind string

const (
	KindBatch   ArtifactKind = "batch"
	KindSummary ArtifactKind = "summary"
	KindReport  ArtifactKind = "report"
)

// Artifacts are the files that live and die with an entry.
type Artifacts struct {
	Batch   string `json:"batch"`
	Summary string `json:"summary"`
	Report  string `json:"report"`
}

// Each calls fn for every artifact in removal order.
func (a Artifacts) Each(fn func(kind ArtifactKind, path string)) {
	fn(KindBatch, a.Batch)
	fn(KindSummary, a.Summary)
	fn(KindReport, a.Report)
}

// BaseName strips the directory and batch extensions from a filename.
func BaseName(filename string) string {
	base := filepath.Base(filepath.FromSlash(filename))
	base = strings.TrimSuffix(base, npy.ZstdExt)
	return strings.TrimSuffix(base, batchExt)
}

// Artifacts returns the batch, summary and report paths for an entry.
// Persist and Delete both derive paths from here.
func (p Paths) Artifacts(e Entry) Artifacts {
	batch := p.Resolve(e.Filename)
	base := BaseName(e.Filename)
	return Artifacts{
		Batch:   batch,
		Summary: filepath.Join(filepath.Dir(batch), base+summarySuffix),
		Report:  filepath.Join(p.Reports, e.Label, base+reportSuffix),
	}
}
