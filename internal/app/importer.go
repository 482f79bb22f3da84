package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/sampling"
	"github.com/ayusman/mudra/internal/vector"
)

// ImportRequest describes a still-image import.
type ImportRequest struct {
	Dir string
	// Label defaults to the directory name.
	Label     string
	Threshold float64
}

// Import runs every image in a directory through the detector as one
// hands-only session and persists the admitted vectors. The session
// completes with whatever was admitted once the images run out.
func (c *Curator) Import(ctx context.Context, req ImportRequest) (*sampling.Session, *dataset.Entry, error) {
	s, entry, _, err := c.importDir(ctx, req)
	return s, entry, err
}

// importDir is Import that also returns the images that could not be read.
func (c *Curator) importDir(ctx context.Context, req ImportRequest) (s *sampling.Session, entry *dataset.Entry, skipped []string, err error) {
	if c.config.Detector == nil {
		return nil, nil, nil, errors.New("app: import needs a detector")
	}

	images, err := capture.NewImageDir(req.Dir, c.config.Logger)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := images.Open(); err != nil {
		return nil, nil, nil, err
	}
	defer images.Close()
	defer func() { skipped = images.Skipped() }()

	layout := vector.HandsOnlyLayout()
	layout.MaxHands = c.codec.Layout().MaxHands
	codec, err := vector.NewCodec(layout)
	if err != nil {
		return nil, nil, nil, err
	}
	engine, err := c.newEngine(images, codec)
	if err != nil {
		return nil, nil, nil, err
	}

	label := req.Label
	if label == "" {
		label = images.Label()
	}
	params := sampling.Params{
		Label:         label,
		MaxSamples:    images.Len(),
		Threshold:     req.Threshold,
		AcceptPartial: true,
	}

	s, err = c.start(params, layout, SourceImages)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := c.run(ctx, engine, s); err != nil {
		if errors.Is(err, capture.ErrExhausted) {
			c.logger.Warn("no image admitted", "dir", req.Dir, "threshold", req.Threshold)
			return s, nil, nil, nil
		}
		return s, nil, nil, err
	}
	if s.State() != sampling.Completed {
		return s, nil, nil, nil
	}

	entry, err = c.Finish(ctx, s, true)
	if n := len(images.Skipped()); n > 0 {
		c.logger.Warn("unreadable images skipped", "dir", req.Dir, "count", n)
	}
	return s, entry, nil, err
}

// TrainDir is the subdirectory a category tree keeps its classes under,
// when present.
const TrainDir = "Train"

// TreeImportRequest describes a category-tree import: one subdirectory of
// images per label.
type TreeImportRequest struct {
	Root      string
	Threshold float64
}

// CategoryOutcome is the result of importing one category directory.
type CategoryOutcome struct {
	Category string         `json:"category"`
	Label    string         `json:"label"`
	Images   int            `json:"images"`
	Admitted int            `json:"admitted"`
	Skipped  int            `json:"skipped"`
	Entry    *dataset.Entry `json:"entry,omitempty"`
	Err      error          `json:"-"`
}

// ImportTree imports every category directory under Root, or under
// Root/Train when that exists, as its own entry labelled with the
// lower-cased directory name. A failing category is recorded in its
// outcome and the rest still run. Only an unreadable root, or one without
// category directories, fails the call; cancellation stops after the
// current category.
func (c *Curator) ImportTree(ctx context.Context, req TreeImportRequest) ([]CategoryOutcome, error) {
	root := req.Root
	if info, err := os.Stat(filepath.Join(root, TrainDir)); err == nil && info.IsDir() {
		root = filepath.Join(root, TrainDir)
	}

	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read category tree: %w", err)
	}
	var categories []string
	for _, e := range dirEntries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			categories = append(categories, e.Name())
		}
	}
	if len(categories) == 0 {
		return nil, fmt.Errorf("no category directories in %s", root)
	}
	sort.Strings(categories)

	outcomes := make([]CategoryOutcome, 0, len(categories))
	for _, category := range categories {
		if ctx.Err() != nil {
			break
		}

		out := CategoryOutcome{Category: category, Label: sampling.NormalizeLabel(category)}
		s, entry, skipped, err := c.importDir(ctx, ImportRequest{
			Dir:       filepath.Join(root, category),
			Label:     out.Label,
			Threshold: req.Threshold,
		})
		if s != nil {
			stats := s.Stats()
			out.Images = stats.Frames
			out.Admitted = stats.Accepted
		}
		out.Skipped = len(skipped)
		out.Entry = entry
		out.Err = err
		if err != nil {
			c.logger.Warn("category import failed", "category", category, "error", err)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}
