// Package sampling runs capture sessions: it reads frames, detects
// landmarks, encodes them and admits vectors whose hand region is dense
// enough into an in-memory batch.
package sampling

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrInvalidParams is returned for session parameters that cannot be run.
	ErrInvalidParams = errors.New("invalid session parameters")

	// ErrInvalidState is returned when a session operation does not apply to
	// its current state.
	ErrInvalidState = errors.New("invalid session state")

	// ErrSourceFailed wraps frame source errors. It ends the session.
	ErrSourceFailed = errors.New("frame source failed")
)

// Params configures one capture session.
type Params struct {
	Label      string  `json:"label"`
	MaxSamples int     `json:"max_samples"`
	Threshold  float64 `json:"threshold"`

	// AcceptPartial completes the session with what was admitted when a
	// finite source runs out before MaxSamples.
	AcceptPartial bool `json:"accept_partial,omitempty"`
}

// NormalizeLabel lower-cases and trims a label.
func NormalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// Validate normalizes the label and checks every field.
func (p Params) Validate() (Params, error) {
	p.Label = NormalizeLabel(p.Label)
	switch {
	case p.Label == "":
		return p, fmt.Errorf("%w: label is empty", ErrInvalidParams)
	case strings.ContainsAny(p.Label, `/\`) || p.Label == "." || p.Label == "..":
		return p, fmt.Errorf("%w: label %q is not a valid directory name", ErrInvalidParams, p.Label)
	case p.MaxSamples <= 0:
		return p, fmt.Errorf("%w: max samples must be positive, got %d", ErrInvalidParams, p.MaxSamples)
	case math.IsNaN(p.Threshold) || p.Threshold < 0 || p.Threshold > 1:
		return p, fmt.Errorf("%w: threshold must be in [0,1], got %v", ErrInvalidParams, p.Threshold)
	}
	return p, nil
}
