package sampling

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/mudra/internal/npy"
	"github.com/ayusman/mudra/internal/vector"
)

// State is the lifecycle state of a session.
type State int

const (
	Idle State = iota
	Sampling
	Completed
	Cancelled
	Discarded
)

var stateNames = map[State]string{
	Idle:      "idle",
	Sampling:  "sampling",
	Completed: "completed",
	Cancelled: "cancelled",
	Discarded: "discarded",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseState is the inverse of State.String.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return Idle, fmt.Errorf("unknown session state %q", name)
}

// Terminal reports whether no further transition is possible except
// Completed to Discarded.
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Discarded
}

// Stats counts what happened to the frames of a session.
type Stats struct {
	Frames         int `json:"frames"`
	Accepted       int `json:"accepted"`
	Rejected       int `json:"rejected"`
	DetectorErrors int `json:"detector_errors"`
}

// Progress is emitted once per processed frame.
type Progress struct {
	SessionID string  `json:"session_id"`
	Label     string  `json:"label"`
	Frame     int     `json:"frame"`
	Accepted  int     `json:"accepted"`
	Target    int     `json:"target"`
	Ratio     float64 `json:"ratio"`
	Admitted  bool    `json:"admitted"`
}

// Session owns the accumulator of one capture run. It is safe to inspect
// from other goroutines while the engine runs it.
type Session struct {
	id     string
	params Params
	layout vector.Layout

	mu         sync.Mutex
	state      State
	stats      Stats
	batch      *npy.Batch
	err        error
	startedAt  time.Time
	finishedAt time.Time
}

// NewSession validates params and returns an Idle session.
func NewSession(params Params, layout vector.Layout) (*Session, error) {
	params, err := params.Validate()
	if err != nil {
		return nil, err
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		id:     uuid.NewString(),
		params: params,
		layout: layout,
		state:  Idle,
	}, nil
}

func (s *Session) ID() string            { return s.id }
func (s *Session) Params() Params        { return s.params }
func (s *Session) Layout() vector.Layout { return s.layout }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

func (s *Session) FinishedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedAt
}

// Batch returns the admitted vectors. It is nil unless the session is
// Completed.
func (s *Session) Batch() *npy.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Completed {
		return nil
	}
	return s.batch
}

// Keep hands the batch over for persistence.
func (s *Session) Keep() (*npy.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Completed {
		return nil, fmt.Errorf("%w: keep from %s", ErrInvalidState, s.state)
	}
	return s.batch, nil
}

// Discard drops the batch of a Completed session.
func (s *Session) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Completed {
		return fmt.Errorf("%w: discard from %s", ErrInvalidState, s.state)
	}
	s.state = Discarded
	s.batch = nil
	return nil
}

func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return fmt.Errorf("%w: start from %s", ErrInvalidState, s.state)
	}
	s.state = Sampling
	s.startedAt = time.Now()
	s.batch = npy.NewBatch(s.layout.Len())
	return nil
}

// record accounts for one frame and returns the progress to emit.
func (s *Session) record(vec []float64, ratio float64, admitted, detectorErr bool) Progress {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Frames++
	if detectorErr {
		s.stats.DetectorErrors++
	}
	if admitted {
		// Length is fixed by the codec, so Append cannot fail here.
		_ = s.batch.Append(vec)
		s.stats.Accepted++
	} else {
		s.stats.Rejected++
	}

	return Progress{
		SessionID: s.id,
		Label:     s.params.Label,
		Frame:     s.stats.Frames,
		Accepted:  s.stats.Accepted,
		Target:    s.params.MaxSamples,
		Ratio:     ratio,
		Admitted:  admitted,
	}
}

func (s *Session) accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.Accepted
}

func (s *Session) finish(state State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.err = err
	s.finishedAt = time.Now()
	if state != Completed {
		s.batch = nil
	}
}
