package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/fsutil"
	"github.com/ayusman/mudra/internal/hook"
	"github.com/ayusman/mudra/internal/logging"
	"github.com/ayusman/mudra/internal/npy"
	"github.com/ayusman/mudra/internal/report"
	"github.com/ayusman/mudra/internal/sampling"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/vector"
)

// frameSource yields blank frames forever, or limit frames then ErrExhausted.
type frameSource struct {
	limit int
	reads int
}

func (f *frameSource) ReadFrame() (*gocv.Mat, error) {
	if f.limit >= 0 && f.reads >= f.limit {
		return nil, capture.ErrExhausted
	}
	f.reads++
	m := gocv.NewMat()
	return &m, nil
}

// scriptedSource answers prompts from fixed scripts.
type scriptedSource struct {
	params    []sampling.Params
	keep      []bool
	selection []int
	confirms  int
}

func (s *scriptedSource) Params(ctx context.Context) (sampling.Params, bool, error) {
	if len(s.params) == 0 {
		return sampling.Params{}, false, nil
	}
	p := s.params[0]
	s.params = s.params[1:]
	return p, true, nil
}

func (s *scriptedSource) Confirm(ctx context.Context, session *sampling.Session) (bool, error) {
	keep := true
	if s.confirms < len(s.keep) {
		keep = s.keep[s.confirms]
	}
	s.confirms++
	return keep, nil
}

func (s *scriptedSource) Selection(ctx context.Context, entries []dataset.Entry) ([]int, error) {
	return s.selection, nil
}

type fixture struct {
	curator  *Curator
	index    *dataset.Index
	store    *store.Store
	detector *detector.MockDetector
}

func newFixture(t *testing.T, hooks *hook.Dispatcher) *fixture {
	t.Helper()

	logger := logging.Discard()
	index, err := dataset.Open(dataset.DefaultPaths(t.TempDir()), logger)
	if err != nil {
		t.Fatalf("dataset.Open() error = %v", err)
	}

	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	det := detector.NewMockDetector()
	det.SetHands([]detector.HandLandmarks{detector.ThumbsUpLandmarks()})

	c, err := New(Config{
		Index:    index,
		Layout:   vector.DefaultLayout(),
		Detector: det,
		Source:   &frameSource{limit: -1},
		Store:    s,
		Hooks:    hooks,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &fixture{curator: c, index: index, store: s, detector: det}
}

func TestCurator_Collect(t *testing.T) {
	f := newFixture(t, nil)

	var progress []sampling.Progress
	f.curator.RegisterProgressCallback(func(p sampling.Progress) {
		progress = append(progress, p)
	})

	ps := &scriptedSource{
		params: []sampling.Params{
			{Label: " Hello ", MaxSamples: 3, Threshold: 0.2},
			{Label: "bye", MaxSamples: 2, Threshold: 0.2},
		},
		keep: []bool{true, false},
	}

	results, err := f.curator.Collect(context.Background(), ps)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if len(progress) != 5 {
		t.Errorf("expected 5 progress events, got %d", len(progress))
	}

	kept, discarded := results[0], results[1]
	if kept.Entry == nil || kept.Entry.Label != "hello" {
		t.Fatalf("expected a persisted hello entry, got %+v", kept.Entry)
	}
	if discarded.Entry != nil || discarded.Session.State() != sampling.Discarded {
		t.Errorf("expected discarded session, got state %s", discarded.Session.State())
	}

	entries, err := f.index.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 || entries[0] != *kept.Entry {
		t.Fatalf("unexpected index: %+v", entries)
	}

	artifacts := f.index.Artifacts(*kept.Entry)
	artifacts.Each(func(kind dataset.ArtifactKind, path string) {
		if !fsutil.Exists(path) {
			t.Errorf("%s artifact missing at %s", kind, path)
		}
	})

	batch, err := npy.ReadFile(artifacts.Batch)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if batch.Rows != 3 || batch.Cols != vector.DefaultLayout().Len() {
		t.Errorf("unexpected batch shape %dx%d", batch.Rows, batch.Cols)
	}

	rec, err := report.ReadRecord(artifacts.Report)
	if err != nil {
		t.Fatalf("ReadRecord() error = %v", err)
	}
	if rec.NumSamples != 3 || rec.FluiditySeriesLen != 2 {
		t.Errorf("unexpected report record: %+v", rec)
	}

	journaled, err := f.store.Sessions().GetByID(kept.Session.ID())
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if journaled.State != "completed" || journaled.Filename != kept.Entry.Filename || journaled.Accepted != 3 {
		t.Errorf("unexpected journal record: %+v", journaled)
	}

	journaled, err = f.store.Sessions().GetByID(discarded.Session.ID())
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if journaled.State != "discarded" || journaled.Filename != "" {
		t.Errorf("unexpected journal record: %+v", journaled)
	}

	if f.curator.Active() != nil {
		t.Error("no session should be active after Collect")
	}
}

func TestCurator_Collect_SkipsInvalidParams(t *testing.T) {
	f := newFixture(t, nil)

	ps := &scriptedSource{params: []sampling.Params{
		{Label: "a", MaxSamples: 0, Threshold: 0.2},
		{Label: "", MaxSamples: 1, Threshold: 0.2},
		{Label: "b", MaxSamples: 1, Threshold: 0.2},
	}}

	results, err := f.curator.Collect(context.Background(), ps)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(results) != 1 || results[0].Entry == nil || results[0].Entry.Label != "b" {
		t.Fatalf("expected only the valid session to run, got %+v", results)
	}
}

func TestCurator_Start_SessionActive(t *testing.T) {
	f := newFixture(t, nil)

	params := sampling.Params{Label: "a", MaxSamples: 1, Threshold: 0}
	s, err := f.curator.Start(params)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := f.curator.Start(params); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}

	if err := f.curator.Run(context.Background(), s); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if f.curator.Active() != s {
		t.Fatal("a completed session keeps the slot until it is finished")
	}

	if _, err := f.curator.Finish(context.Background(), s, false); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if _, err := f.curator.Start(params); err != nil {
		t.Errorf("Start() after Finish error = %v", err)
	}
}

func TestCurator_Capture_Cancelled(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := f.curator.Capture(ctx, sampling.Params{Label: "a", MaxSamples: 5, Threshold: 0})
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if s.State() != sampling.Cancelled {
		t.Fatalf("expected cancelled session, got %s", s.State())
	}
	if f.curator.Active() != nil {
		t.Error("a cancelled session must release the slot")
	}
	if _, err := f.curator.Finish(context.Background(), s, true); !errors.Is(err, sampling.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState keeping a cancelled session, got %v", err)
	}

	journaled, err := f.store.Sessions().GetByID(s.ID())
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if journaled.State != "cancelled" || journaled.FinishedAt == nil {
		t.Errorf("unexpected journal record: %+v", journaled)
	}
	if journaled.Error != "" || s.Err() != nil {
		t.Errorf("a cancel should journal no error, got %q", journaled.Error)
	}

	entries, _ := f.index.List()
	if len(entries) != 0 {
		t.Errorf("cancelled session must persist nothing, got %d entries", len(entries))
	}
}

func TestCurator_NoSource(t *testing.T) {
	index, err := dataset.Open(dataset.DefaultPaths(t.TempDir()), nil)
	if err != nil {
		t.Fatalf("dataset.Open() error = %v", err)
	}
	c, err := New(Config{Index: index, Layout: vector.DefaultLayout()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if c.CanCapture() {
		t.Error("expected capture to be unavailable")
	}
	if _, err := c.Start(sampling.Params{Label: "a", MaxSamples: 1}); !errors.Is(err, ErrNoSource) {
		t.Errorf("expected ErrNoSource, got %v", err)
	}
}

func TestCurator_DeleteAndManage(t *testing.T) {
	f := newFixture(t, nil)

	ps := &scriptedSource{params: []sampling.Params{
		{Label: "a", MaxSamples: 1, Threshold: 0.2},
		{Label: "b", MaxSamples: 1, Threshold: 0.2},
	}}
	if _, err := f.curator.Collect(context.Background(), ps); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	entries, _ := f.index.List()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := f.index.Artifacts(entries[0])

	rep, err := f.curator.Manage(context.Background(), &scriptedSource{selection: []int{0, 9}})
	if err != nil {
		t.Fatalf("Manage() error = %v", err)
	}
	if len(rep.Removed) != 1 || rep.Removed[0].Entry != entries[0] {
		t.Fatalf("unexpected removed entries: %+v", rep.Removed)
	}
	if len(rep.OutOfRange) != 1 || rep.OutOfRange[0] != 9 {
		t.Errorf("unexpected out of range: %v", rep.OutOfRange)
	}
	for _, a := range rep.Removed[0].Artifacts {
		if a.Status != dataset.StatusRemoved {
			t.Errorf("%s: expected removed, got %s", a.Kind, a.Status)
		}
	}
	if fsutil.Exists(first.Batch) || fsutil.Exists(first.Summary) || fsutil.Exists(first.Report) {
		t.Error("artifacts of the deleted entry still exist")
	}

	remaining, _ := f.index.List()
	if len(remaining) != 1 || remaining[0] != entries[1] {
		t.Errorf("unexpected remaining entries: %+v", remaining)
	}

	deletions, err := f.store.Deletions().List()
	if err != nil {
		t.Fatalf("Deletions().List() error = %v", err)
	}
	if len(deletions) != 1 || deletions[0].Filename != entries[0].Filename {
		t.Fatalf("unexpected deletion journal: %+v", deletions)
	}
	if !strings.Contains(string(deletions[0].Artifacts), `"status":"removed"`) {
		t.Errorf("expected artifact results in journal, got %s", deletions[0].Artifacts)
	}

	rep, err = f.curator.Manage(context.Background(), &scriptedSource{})
	if err != nil || rep != nil {
		t.Errorf("empty selection should do nothing, got %+v, %v", rep, err)
	}
}

func TestCurator_Reanalyze(t *testing.T) {
	f := newFixture(t, nil)

	ps := &scriptedSource{params: []sampling.Params{{Label: "a", MaxSamples: 2, Threshold: 0.2}}}
	results, err := f.curator.Collect(context.Background(), ps)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	reportPath := f.index.Artifacts(*results[0].Entry).Report
	if err := os.Remove(reportPath); err != nil {
		t.Fatalf("remove report: %v", err)
	}

	outcomes, err := f.curator.Reanalyze()
	if err != nil {
		t.Fatalf("Reanalyze() error = %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Err != nil {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}
	if !fsutil.Exists(reportPath) {
		t.Error("expected the report to be regenerated")
	}
}

func TestCurator_Hooks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}

	hookDir := t.TempDir()
	recorder := filepath.Join(hookDir, "recorder")
	if err := os.MkdirAll(recorder, 0755); err != nil {
		t.Fatal(err)
	}
	script := "#!/bin/sh\ncat >> events.jsonl\necho >> events.jsonl\necho '{\"success\":true}'\n"
	if err := os.WriteFile(filepath.Join(recorder, "run.sh"), []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	manifest := `{"name":"recorder","version":"1.0.0","executable":"run.sh","events":["batch.persisted","entry.deleted"]}`
	if err := os.WriteFile(filepath.Join(recorder, hook.ManifestFile), []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}

	manager := hook.NewManager(hookDir, logging.Discard())
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	f := newFixture(t, hook.NewDispatcher(manager, hook.NewExecutor(5*time.Second), logging.Discard()))

	ps := &scriptedSource{params: []sampling.Params{{Label: "hello", MaxSamples: 2, Threshold: 0.2}}}
	if _, err := f.curator.Collect(context.Background(), ps); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if _, err := f.curator.Delete(context.Background(), []int{0}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(recorder, "events.jsonl"))
	if err != nil {
		t.Fatalf("hook did not run: %v", err)
	}
	events := string(data)
	if !strings.Contains(events, `"event":"batch.persisted"`) || !strings.Contains(events, `"event":"entry.deleted"`) {
		t.Errorf("expected both events, got %s", events)
	}
	if !strings.Contains(events, `"num_samples":2`) {
		t.Errorf("expected the report in the persisted event, got %s", events)
	}
}

func TestCurator_HookFailureKeepsBatch(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}

	hookDir := t.TempDir()
	broken := filepath.Join(hookDir, "broken")
	if err := os.MkdirAll(broken, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(broken, "run.sh"), []byte("#!/bin/sh\nexit 1\n"), 0755); err != nil {
		t.Fatal(err)
	}
	manifest := `{"name":"broken","executable":"run.sh","events":["batch.persisted"]}`
	if err := os.WriteFile(filepath.Join(broken, hook.ManifestFile), []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}

	manager := hook.NewManager(hookDir, logging.Discard())
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	f := newFixture(t, hook.NewDispatcher(manager, hook.NewExecutor(time.Second), logging.Discard()))

	ps := &scriptedSource{params: []sampling.Params{{Label: "a", MaxSamples: 1, Threshold: 0.2}}}
	results, err := f.curator.Collect(context.Background(), ps)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if results[0].Entry == nil {
		t.Fatal("a failing hook must not undo the persisted batch")
	}
	entries, _ := f.index.List()
	if len(entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(entries))
	}
}

func TestCurator_Import(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping gocv image test in short mode")
	}

	dir := filepath.Join(t.TempDir(), "Namaste")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	img := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	defer img.Close()
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		if !gocv.IMWrite(filepath.Join(dir, name), img) {
			t.Fatalf("IMWrite(%s) failed", name)
		}
	}

	f := newFixture(t, nil)
	f.detector.SetSequence([]detector.MockStep{
		{Detection: &detector.Detection{Hands: []detector.HandLandmarks{detector.ThumbsUpLandmarks()}}},
		{Detection: nil},
		{Detection: &detector.Detection{Hands: []detector.HandLandmarks{detector.OpenPalmLandmarks()}}},
	})

	s, entry, err := f.curator.Import(context.Background(), ImportRequest{Dir: dir, Threshold: 0.2})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if s.State() != sampling.Completed || entry == nil {
		t.Fatalf("expected a persisted import, got state %s", s.State())
	}
	if entry.Label != "namaste" {
		t.Errorf("expected label from the directory name, got %q", entry.Label)
	}

	batch, err := npy.ReadFile(f.index.Paths().Resolve(entry.Filename))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if batch.Rows != 2 || batch.Cols != vector.HandsOnlyLayout().Len() {
		t.Errorf("expected 2 hands-only rows, got %dx%d", batch.Rows, batch.Cols)
	}

	journaled, err := f.store.Sessions().GetByID(s.ID())
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if journaled.Source != SourceImages || journaled.Frames != 3 {
		t.Errorf("unexpected journal record: %+v", journaled)
	}
}

func TestCurator_ImportTree(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping gocv image test in short mode")
	}

	root := t.TempDir()
	train := filepath.Join(root, TrainDir)
	img := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	defer img.Close()

	write := func(category string, names ...string) {
		dir := filepath.Join(train, category)
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		for _, name := range names {
			if !gocv.IMWrite(filepath.Join(dir, name), img) {
				t.Fatalf("IMWrite(%s) failed", name)
			}
		}
	}
	write("A", "1.png", "2.png")
	write("Empty")
	write("Z", "1.png")
	if err := os.WriteFile(filepath.Join(train, "Z", "0.png"), []byte("not an image"), 0644); err != nil {
		t.Fatal(err)
	}

	f := newFixture(t, nil)
	f.detector.SetHands([]detector.HandLandmarks{detector.ThumbsUpLandmarks()})

	outcomes, err := f.curator.ImportTree(context.Background(), TreeImportRequest{Root: root, Threshold: 0.2})
	if err != nil {
		t.Fatalf("ImportTree() error = %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}

	tests := []struct {
		category string
		label    string
		admitted int
		skipped  int
		wantErr  bool
	}{
		{"A", "a", 2, 0, false},
		{"Empty", "empty", 0, 0, true},
		{"Z", "z", 1, 1, false},
	}
	for i, tt := range tests {
		got := outcomes[i]
		if got.Category != tt.category || got.Label != tt.label {
			t.Errorf("outcome %d = %s/%s, want %s/%s", i, got.Category, got.Label, tt.category, tt.label)
		}
		if (got.Err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.category, got.Err, tt.wantErr)
		}
		if got.Admitted != tt.admitted || got.Skipped != tt.skipped {
			t.Errorf("%s: admitted %d skipped %d, want %d and %d", tt.category, got.Admitted, got.Skipped, tt.admitted, tt.skipped)
		}
		if (got.Entry != nil) == tt.wantErr {
			t.Errorf("%s: entry = %v", tt.category, got.Entry)
		}
	}

	entries, err := f.index.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Label != "a" || entries[1].Label != "z" {
		t.Errorf("unexpected index after tree import: %+v", entries)
	}
}

func TestCurator_ImportTreeWithoutCategories(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.curator.ImportTree(context.Background(), TreeImportRequest{Root: t.TempDir()}); err == nil {
		t.Error("expected an error for a tree without category directories")
	}
	if _, err := f.curator.ImportTree(context.Background(), TreeImportRequest{Root: filepath.Join(t.TempDir(), "nope")}); err == nil {
		t.Error("expected an error for a missing root")
	}
}
