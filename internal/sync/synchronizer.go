package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/schaermu/posyncd/internal/catalog"
	"github.com/schaermu/posyncd/internal/git"
	"github.com/schaermu/posyncd/internal/layout"
	"github.com/schaermu/posyncd/internal/metrics"
	"github.com/schaermu/posyncd/internal/model"
	"github.com/schaermu/posyncd/internal/store"
)

// Synchronizer reconciles the entries of one translation with its catalog
type Synchronizer struct {
	store   *store.Store
	layout  *layout.Manager
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewSynchronizer creates a synchronizer
func NewSynchronizer(st *store.Store, lm *layout.Manager, m *metrics.Metrics, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{store: st, layout: lm, metrics: m, logger: logger}
}

// CatalogPath returns the working tree path of the catalog of tr. The
// component and its project must be loaded.
func (s *Synchronizer) CatalogPath(tr *model.Translation) string {
	c := tr.Component
	return filepath.Join(s.layout.ComponentPath(c.Project.Slug, c.Slug), filepath.FromSlash(tr.Filename))
}

// Synchronize brings the entries of tr in line with its catalog at blob.
// Unchanged revisions are skipped unless force is set. All row changes and
// the new counters are written in one transaction.
func (s *Synchronizer) Synchronize(ctx context.Context, tr *model.Translation, blob git.Blob, force bool) (Result, error) {
	if blob.Revision == tr.Revision && !force {
		s.metrics.TranslationSynced("unchanged")
		return Result{Skipped: true, Translation: tr}, nil
	}

	s.logger.Info("processing catalog, revision has changed",
		"file", tr.Filename,
		"old_revision", tr.Revision,
		"revision", blob.Revision)

	cat, err := catalog.Open(s.CatalogPath(tr))
	if err != nil {
		s.metrics.TranslationSynced("failed")
		return Result{}, fmt.Errorf("failed to load catalog %s: %w", tr.Filename, err)
	}

	var res Result
	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		res = Result{}

		stale, err := tx.EntryIDs(ctx, tr.ID)
		if err != nil {
			return err
		}

		for pos, unit := range cat.Units() {
			if !unit.IsTranslatable() {
				continue
			}
			entry, out, err := s.applyUnit(ctx, tx, tr, unit, pos, force)
			if err != nil {
				return err
			}
			switch out {
			case outcomeCreated:
				res.Created++
			case outcomeUpdated:
				res.Updated++
			default:
				res.Unchanged++
			}
			delete(stale, entry.ID)
		}

		ids := make([]uint, 0, len(stale))
		for id := range stale {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		deleted, err := tx.DeleteEntries(ctx, ids)
		if err != nil {
			return err
		}
		res.Deleted = int(deleted)

		updated, err := tx.UpdateStats(ctx, tr.ID, blob.Revision)
		if err != nil {
			return err
		}
		res.Translation = updated
		return nil
	})
	if err != nil {
		s.metrics.TranslationSynced("failed")
		return Result{}, fmt.Errorf("failed to synchronize %s: %w", tr.Filename, err)
	}

	s.metrics.TranslationSynced("synced")
	s.metrics.EntryWrites("created", res.Created)
	s.metrics.EntryWrites("updated", res.Updated)
	s.metrics.EntryWrites("deleted", res.Deleted)

	s.logger.Info("catalog synchronized",
		"file", tr.Filename,
		"created", res.Created,
		"updated", res.Updated,
		"unchanged", res.Unchanged,
		"deleted", res.Deleted)
	return res, nil
}

// applyUnit upserts the entry of one unit, writing only when a field differs
func (s *Synchronizer) applyUnit(ctx context.Context, tx *store.Store, tr *model.Translation, unit catalog.Unit, pos int, force bool) (*model.Entry, outcome, error) {
	checksum := catalog.Checksum(unit.Source(), unit.Context())

	out := outcomeUpdated
	entry, err := tx.EntryByChecksum(ctx, tr.ID, checksum)
	switch {
	case errors.Is(err, store.ErrNotFound):
		entry = &model.Entry{
			TranslationID: tr.ID,
			Checksum:      checksum,
			Source:        unit.Source(),
			Context:       unit.Context(),
		}
		out = outcomeCreated
	case err != nil:
		return nil, outcomeUnchanged, err
	}

	location := unit.Locations()
	flags := unit.Flags()
	target := unit.Target()
	fuzzy := unit.IsFuzzy()
	translated := unit.IsTranslated()
	comment := unit.Notes()

	if out != outcomeCreated && !force &&
		entry.Location == location &&
		entry.Flags == flags &&
		entry.Target == target &&
		entry.Fuzzy == fuzzy &&
		entry.Translated == translated &&
		entry.Comment == comment &&
		entry.Position == pos {
		return entry, outcomeUnchanged, nil
	}

	entry.Position = pos
	entry.Location = location
	entry.Flags = flags
	entry.Target = target
	entry.Fuzzy = fuzzy
	entry.Translated = translated
	entry.Comment = comment
	if err := tx.ApplyEntrySync(ctx, entry); err != nil {
		return nil, outcomeUnchanged, err
	}
	return entry, out, nil
}
