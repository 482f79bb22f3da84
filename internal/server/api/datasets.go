package api

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/npy"
	"github.com/ayusman/mudra/internal/prompt"
	"github.com/ayusman/mudra/internal/report"
	"github.com/ayusman/mudra/internal/vector"
)

// DefaultCacheSize is the number of decoded batches kept in memory.
const DefaultCacheSize = 16

// DatasetHandler serves the dataset index, reports and decoded frames.
type DatasetHandler struct {
	curator *app.Curator
	batches *lru.Cache[string, cachedBatch]
	logger  *slog.Logger
}

// cachedBatch is a decoded batch and the file state it was decoded from.
type cachedBatch struct {
	batch   *npy.Batch
	modTime time.Time
	size    int64
}

// NewDatasetHandler creates a DatasetHandler with an LRU cache of
// cacheSize decoded batches.
func NewDatasetHandler(curator *app.Curator, cacheSize int, logger *slog.Logger) (*DatasetHandler, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, cachedBatch](cacheSize)
	if err != nil {
		return nil, err
	}
	return &DatasetHandler{
		curator: curator,
		batches: cache,
		logger:  logger.With("component", "api"),
	}, nil
}

type entryResponse struct {
	Index    int    `json:"index"`
	Filename string `json:"filename"`
	Label    string `json:"label"`
	Missing  bool   `json:"missing"`
}

type listEntriesResponse struct {
	Entries []entryResponse `json:"entries"`
}

type handResponse struct {
	Side      string         `json:"side"`
	Present   bool           `json:"present"`
	Landmarks [21][4]float64 `json:"landmarks"`
}

type frameResponse struct {
	Index  int              `json:"index"`
	Frame  int              `json:"frame"`
	Frames int              `json:"frames"`
	Layout vector.Layout    `json:"layout"`
	Hands  []handResponse   `json:"hands"`
	Face   *[468][3]float64 `json:"face,omitempty"`
}

// List handles GET /api/datasets.
func (h *DatasetHandler) List(w http.ResponseWriter, r *http.Request) {
	index := h.curator.Index()
	entries, err := index.List()
	if err != nil {
		h.logger.Error("list datasets", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to read dataset index")
		return
	}

	paths := index.Paths()
	response := listEntriesResponse{Entries: make([]entryResponse, 0, len(entries))}
	for i, e := range entries {
		_, statErr := os.Stat(paths.Resolve(e.Filename))
		response.Entries = append(response.Entries, entryResponse{
			Index:    i,
			Filename: e.Filename,
			Label:    e.Label,
			Missing:  statErr != nil,
		})
	}

	writeJSON(w, http.StatusOK, response)
}

// Delete handles DELETE /api/datasets?indices=0,2.
func (h *DatasetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	indices, err := prompt.ParseIndices(r.URL.Query().Get("indices"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rep, err := h.curator.Delete(r.Context(), indices)
	if err != nil {
		h.logger.Error("delete datasets", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete entries")
		return
	}

	for _, removed := range rep.Removed {
		h.batches.Remove(removed.Entry.Filename)
	}
	writeJSON(w, http.StatusOK, rep)
}

// entry resolves the {index} path value.
func (h *DatasetHandler) entry(w http.ResponseWriter, r *http.Request) (dataset.Entry, int, bool) {
	i, ok := pathInt(r, "index")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid index")
		return dataset.Entry{}, 0, false
	}

	entries, err := h.curator.Index().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read dataset index")
		return dataset.Entry{}, 0, false
	}
	if i >= len(entries) {
		writeError(w, http.StatusNotFound, "Entry not found")
		return dataset.Entry{}, 0, false
	}
	return entries[i], i, true
}

// Report handles GET /api/datasets/{index}/report.
func (h *DatasetHandler) Report(w http.ResponseWriter, r *http.Request) {
	e, _, ok := h.entry(w, r)
	if !ok {
		return
	}

	rec, err := report.ReadRecord(h.curator.Index().Artifacts(e).Report)
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, "Report not found, run analyze")
		return
	}
	if err != nil {
		h.logger.Error("read report", "filename", e.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to read report")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// Frame handles GET /api/datasets/{index}/frames/{frame}.
func (h *DatasetHandler) Frame(w http.ResponseWriter, r *http.Request) {
	e, i, ok := h.entry(w, r)
	if !ok {
		return
	}
	f, ok := pathInt(r, "frame")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid frame")
		return
	}

	batch, err := h.batch(e)
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, "Batch file missing")
		return
	}
	if err != nil {
		h.logger.Error("load batch", "filename", e.Filename, "error", err)
		writeError(w, http.StatusUnprocessableEntity, "Batch file is unreadable")
		return
	}
	if f >= batch.Rows {
		writeError(w, http.StatusNotFound, "Frame not found")
		return
	}

	layout, ok := vector.LayoutForLen(batch.Cols)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "Unknown vector layout")
		return
	}
	codec, err := vector.NewCodec(layout)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	frame, err := codec.Decode(batch.Row(f))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	response := frameResponse{
		Index:  i,
		Frame:  f,
		Frames: batch.Rows,
		Layout: layout,
		Face:   frame.Face,
	}
	for slot, hand := range frame.Hands {
		response.Hands = append(response.Hands, handResponse{
			Side:      layout.SlotSide(slot),
			Present:   frame.Present(slot),
			Landmarks: hand,
		})
	}

	writeJSON(w, http.StatusOK, response)
}

// batch returns the decoded batch of e. A cached batch is reused only
// while the file keeps the size and modification time it was read with.
func (h *DatasetHandler) batch(e dataset.Entry) (*npy.Batch, error) {
	path := h.curator.Index().Paths().Resolve(e.Filename)
	info, err := os.Stat(path)
	if err != nil {
		h.batches.Remove(e.Filename)
		return nil, err
	}
	if c, ok := h.batches.Get(e.Filename); ok {
		if c.size == info.Size() && c.modTime.Equal(info.ModTime()) {
			return c.batch, nil
		}
		h.logger.Debug("batch changed on disk, reloading", "filename", e.Filename)
	}

	b, err := npy.ReadFile(path)
	if err != nil {
		return nil, err
	}
	h.batches.Add(e.Filename, cachedBatch{batch: b, modTime: info.ModTime(), size: info.Size()})
	return b, nil
}
