package store

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestSessionRepository_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	repo := s.Sessions()

	session := &Session{
		ID:         "session-1",
		Label:      "hola",
		MaxSamples: 50,
		Threshold:  0.2,
		State:      "sampling",
	}
	if err := repo.Create(session); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	got, err := repo.GetByID("session-1")
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}

	if got.Label != "hola" || got.MaxSamples != 50 || got.Threshold != 0.2 {
		t.Errorf("unexpected session: %+v", got)
	}
	if got.Source != "camera" {
		t.Errorf("Source = %q, want camera", got.Source)
	}
	if got.FinishedAt != nil {
		t.Error("FinishedAt should be nil for a running session")
	}
}

func TestSessionRepository_Update(t *testing.T) {
	s := newTestStore(t)
	repo := s.Sessions()

	session := &Session{ID: "session-1", Label: "a", MaxSamples: 3, Threshold: 0.5, State: "sampling"}
	if err := repo.Create(session); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	finished := time.Now()
	session.Frames = 7
	session.Accepted = 3
	session.Rejected = 4
	session.DetectorErrors = 1
	session.State = "completed"
	session.Filename = "data/features/a/a_20250101_120000.npy"
	session.FinishedAt = &finished

	if err := repo.Update(session); err != nil {
		t.Fatalf("failed to update session: %v", err)
	}

	got, err := repo.GetByID("session-1")
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if got.State != "completed" || got.Accepted != 3 || got.Rejected != 4 || got.Frames != 7 || got.DetectorErrors != 1 {
		t.Errorf("unexpected counters: %+v", got)
	}
	if got.Filename != session.Filename {
		t.Errorf("Filename = %q, want %q", got.Filename, session.Filename)
	}
	if got.FinishedAt == nil {
		t.Fatal("FinishedAt should be set")
	}
}

func TestSessionRepository_NotFound(t *testing.T) {
	s := newTestStore(t)
	repo := s.Sessions()

	if _, err := repo.GetByID("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
	if err := repo.Update(&Session{ID: "missing", State: "cancelled"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestSessionRepository_RejectsUnknownState(t *testing.T) {
	s := newTestStore(t)

	err := s.Sessions().Create(&Session{ID: "x", Label: "a", MaxSamples: 1, State: "paused"})
	if err == nil {
		t.Error("expected the state check constraint to reject an unknown state")
	}
}

func TestSessionRepository_List(t *testing.T) {
	s := newTestStore(t)
	repo := s.Sessions()

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, label := range []string{"a", "b", "a"} {
		err := repo.Create(&Session{
			ID:         string(rune('1' + i)),
			Label:      label,
			MaxSamples: 1,
			State:      "completed",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("failed to create session %d: %v", i, err)
		}
	}

	all, err := repo.List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 || all[0].ID != "3" || all[2].ID != "1" {
		t.Errorf("List() should return newest first, got %v", ids(all))
	}

	limited, err := repo.List(2)
	if err != nil {
		t.Fatalf("List(2) error = %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("List(2) returned %d sessions", len(limited))
	}

	byLabel, err := repo.ListByLabel("a")
	if err != nil {
		t.Fatalf("ListByLabel() error = %v", err)
	}
	if len(byLabel) != 2 || byLabel[0].ID != "3" {
		t.Errorf("ListByLabel(a) = %v", ids(byLabel))
	}
}

func TestDeletionRepository(t *testing.T) {
	s := newTestStore(t)
	repo := s.Deletions()

	artifacts, _ := json.Marshal([]map[string]string{{"kind": "batch", "status": "removed"}})
	d := &Deletion{Filename: "data/features/a/a_1.npy", Label: "a", Artifacts: artifacts}
	if err := repo.Create(d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if d.ID == 0 {
		t.Error("Create() should set the ID")
	}
	if err := repo.Create(&Deletion{Filename: "data/features/b/b_1.npy", Label: "b"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	list, err := repo.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List() returned %d deletions, want 2", len(list))
	}
	if list[1].Filename != "data/features/a/a_1.npy" {
		t.Errorf("unexpected order: %s first", list[0].Filename)
	}
	if string(list[0].Artifacts) != "[]" {
		t.Errorf("default artifacts = %s, want []", list[0].Artifacts)
	}
}

func ids(sessions []*Session) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.ID
	}
	return out
}
