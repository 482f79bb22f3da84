package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/hook"
	"github.com/ayusman/mudra/internal/report"
	"github.com/ayusman/mudra/internal/sampling"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/vector"
)

// Result is the outcome of one collection round.
type Result struct {
	Session *sampling.Session
	// Entry is set when the batch was persisted.
	Entry *dataset.Entry
}

// Start validates params, claims the single session slot and journals the
// new session. The session is Idle until Run.
func (c *Curator) Start(params sampling.Params) (*sampling.Session, error) {
	if c.engine == nil {
		return nil, ErrNoSource
	}
	return c.start(params, c.engine.Layout(), SourceCamera)
}

func (c *Curator) start(params sampling.Params, layout vector.Layout, source string) (*sampling.Session, error) {
	s, err := sampling.NewSession(params, layout)
	if err != nil {
		return nil, err
	}
	if err := c.claim(s); err != nil {
		return nil, err
	}
	c.journalCreate(s, source)
	return s, nil
}

// Run drives a started session with the camera engine. Unless the session
// completes, the slot is released and the journal records the outcome.
func (c *Curator) Run(ctx context.Context, s *sampling.Session) error {
	if c.engine == nil {
		return ErrNoSource
	}
	return c.run(ctx, c.engine, s)
}

func (c *Curator) run(ctx context.Context, engine *sampling.Engine, s *sampling.Session) error {
	err := engine.RunSession(ctx, s)
	c.journalUpdate(s, "")
	if s.State() != sampling.Completed {
		c.release(s)
	}
	return err
}

// Finish keeps or discards a Completed session and releases the slot. A
// kept batch is written with its summary and report, indexed, journaled
// and announced to hooks.
func (c *Curator) Finish(ctx context.Context, s *sampling.Session, keep bool) (*dataset.Entry, error) {
	if !keep {
		if err := s.Discard(); err != nil {
			return nil, err
		}
		c.release(s)
		c.journalUpdate(s, "")
		c.logger.Info("session discarded", "session", s.ID(), "label", s.Params().Label)
		return nil, nil
	}

	entry, err := c.persist(ctx, s)
	if errors.Is(err, sampling.ErrInvalidState) {
		return nil, err
	}
	c.release(s)
	return entry, err
}

func (c *Curator) persist(ctx context.Context, s *sampling.Session) (*dataset.Entry, error) {
	batch, err := s.Keep()
	if err != nil {
		return nil, err
	}

	var rep *report.Report
	entry, err := c.writer.Persist(s.Params().Label, batch, func(e dataset.Entry, a dataset.Artifacts) error {
		var err error
		rep, err = report.Summarize(batch, s.Layout())
		if err != nil {
			return err
		}
		return c.reports.Write(e, a, rep)
	})
	if err != nil {
		return nil, fmt.Errorf("persist session %s: %w", s.ID(), err)
	}

	c.journalUpdate(s, entry.Filename)
	c.notify(ctx, hook.EventBatchPersisted, entry, rep.Record(entry.Filename, time.Now()))
	return &entry, nil
}

// Capture starts and runs one camera session.
func (c *Curator) Capture(ctx context.Context, params sampling.Params) (*sampling.Session, error) {
	s, err := c.Start(params)
	if err != nil {
		return nil, err
	}
	return s, c.Run(ctx, s)
}

// Collect runs sessions until the parameter source stops or ctx is
// cancelled. Each Completed session is confirmed before it is persisted.
// Invalid parameters are logged and asked again.
func (c *Curator) Collect(ctx context.Context, ps ParamSource) ([]Result, error) {
	var results []Result

	for {
		if ctx.Err() != nil {
			return results, nil
		}

		params, ok, err := ps.Params(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return results, nil
			}
			return results, err
		}
		if !ok {
			return results, nil
		}

		s, err := c.Capture(ctx, params)
		if errors.Is(err, sampling.ErrInvalidParams) {
			c.logger.Warn("invalid session parameters", "error", err)
			continue
		}
		if s == nil {
			return results, err
		}
		result := Result{Session: s}
		if err != nil {
			return append(results, result), err
		}

		if s.State() == sampling.Completed {
			keep, err := ps.Confirm(ctx, s)
			if err != nil {
				c.release(s)
				return append(results, result), err
			}
			entry, err := c.Finish(ctx, s, keep)
			if err != nil {
				return append(results, result), err
			}
			result.Entry = entry
		}

		results = append(results, result)
	}
}

func journalRecord(s *sampling.Session, source, filename string) *store.Session {
	params := s.Params()
	stats := s.Stats()

	rec := &store.Session{
		ID:             s.ID(),
		Label:          params.Label,
		Source:         source,
		MaxSamples:     params.MaxSamples,
		Threshold:      params.Threshold,
		Frames:         stats.Frames,
		Accepted:       stats.Accepted,
		Rejected:       stats.Rejected,
		DetectorErrors: stats.DetectorErrors,
		State:          s.State().String(),
		Filename:       filename,
	}
	if err := s.Err(); err != nil {
		rec.Error = err.Error()
	}
	if t := s.FinishedAt(); !t.IsZero() {
		rec.FinishedAt = &t
	}
	return rec
}

func (c *Curator) journalCreate(s *sampling.Session, source string) {
	if c.config.Store == nil {
		return
	}
	if err := c.config.Store.Sessions().Create(journalRecord(s, source, "")); err != nil {
		c.logger.Warn("journal create failed", "session", s.ID(), "error", err)
	}
}

func (c *Curator) journalUpdate(s *sampling.Session, filename string) {
	if c.config.Store == nil {
		return
	}
	if err := c.config.Store.Sessions().Update(journalRecord(s, "", filename)); err != nil {
		c.logger.Warn("journal update failed", "session", s.ID(), "error", err)
	}
}
