// Package hook notifies external executables about dataset changes, for
// example to start a training run after new samples are persisted.
package hook

import (
	"encoding/json"
	"slices"
)

// Event names delivered to hooks.
const (
	EventBatchPersisted = "batch.persisted"
	EventEntryDeleted   = "entry.deleted"
)

// ManifestFile is the manifest name looked up in every hook directory.
const ManifestFile = "hook.json"

// Manifest describes a hook's metadata and the events it handles.
type Manifest struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Executable  string   `json:"executable"`
	Events      []string `json:"events"`
}

// Request is written to the hook's stdin as JSON.
type Request struct {
	Event  string          `json:"event"`
	Entry  json.RawMessage `json:"entry"`
	Report json.RawMessage `json:"report,omitempty"`
}

// Response is read from the hook's stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Hook is a discovered hook with its manifest and location.
type Hook struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Handles reports whether the hook subscribed to event.
func (h *Hook) Handles(event string) bool {
	return slices.Contains(h.Manifest.Events, event)
}

// NewRequest builds a request, marshaling entry and report.
func NewRequest(event string, entry, report any) (*Request, error) {
	req := &Request{Event: event}

	var err error
	if req.Entry, err = json.Marshal(entry); err != nil {
		return nil, err
	}
	if report != nil {
		if req.Report, err = json.Marshal(report); err != nil {
			return nil, err
		}
	}
	return req, nil
}
