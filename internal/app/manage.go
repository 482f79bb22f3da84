package app

import (
	"context"
	"encoding/json"

	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/hook"
	"github.com/ayusman/mudra/internal/report"
	"github.com/ayusman/mudra/internal/store"
)

// Delete removes the entries at indices with their artifacts, journals
// every removed entry and notifies hooks.
func (c *Curator) Delete(ctx context.Context, indices []int) (*dataset.DeleteReport, error) {
	rep, err := c.config.Index.Delete(indices)
	if err != nil {
		return nil, err
	}

	for _, removed := range rep.Removed {
		c.journalDeletion(removed)
		c.notify(ctx, hook.EventEntryDeleted, removed.Entry, removed)
	}
	if len(rep.OutOfRange) > 0 {
		c.logger.Warn("indices out of range", "indices", rep.OutOfRange)
	}
	return rep, nil
}

// Manage lists the index, lets ps pick entries and deletes them. A nil
// report means nothing was selected.
func (c *Curator) Manage(ctx context.Context, ps ParamSource) (*dataset.DeleteReport, error) {
	entries, err := c.config.Index.List()
	if err != nil {
		return nil, err
	}

	indices, err := ps.Selection(ctx, entries)
	if err != nil || len(indices) == 0 {
		return nil, err
	}
	return c.Delete(ctx, indices)
}

// Reanalyze regenerates the report of every indexed entry.
func (c *Curator) Reanalyze() ([]report.Outcome, error) {
	return c.reports.Reanalyze(c.config.Index)
}

func (c *Curator) journalDeletion(removed dataset.RemovedEntry) {
	if c.config.Store == nil {
		return
	}

	artifacts, err := json.Marshal(removed.Artifacts)
	if err != nil {
		c.logger.Warn("artifact results not encoded", "filename", removed.Entry.Filename, "error", err)
		artifacts = nil
	}

	d := &store.Deletion{
		Filename:  removed.Entry.Filename,
		Label:     removed.Entry.Label,
		Artifacts: artifacts,
	}
	if err := c.config.Store.Deletions().Create(d); err != nil {
		c.logger.Warn("journal deletion failed", "filename", removed.Entry.Filename, "error", err)
	}
}
