// Package edit writes translator changes back to the catalog files, commits
// them and keeps the entry rows in step.
package edit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/schaermu/posyncd/internal/catalog"
	"github.com/schaermu/posyncd/internal/config"
	"github.com/schaermu/posyncd/internal/metrics"
	"github.com/schaermu/posyncd/internal/model"
	"github.com/schaermu/posyncd/internal/store"
	"github.com/schaermu/posyncd/internal/sync"
)

// Change is the requested state of an entry. Plural targets are joined with
// catalog.PluralSeparator.
type Change struct {
	Target string
	Fuzzy  bool
}

// Editor applies changes to entries
type Editor struct {
	store   *store.Store
	repos   *sync.Repositories
	sync    *sync.Synchronizer
	commit  config.CommitConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewEditor creates an editor committing with the given settings
func NewEditor(st *store.Store, repos *sync.Repositories, synchronizer *sync.Synchronizer, commit config.CommitConfig, m *metrics.Metrics, logger *slog.Logger) *Editor {
	return &Editor{
		store:   st,
		repos:   repos,
		sync:    synchronizer,
		commit:  commit,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// ApplyEdit stores change for the entry, committing the catalog on behalf of
// author when its content changed. With propagate the change is applied
// once more to every entry sharing checksum, project and language; those
// applications do not propagate further. The result reports whether the
// entry's own catalog was rewritten.
func (e *Editor) ApplyEdit(ctx context.Context, entryID uint, change Change, author model.Author, propagate bool) (bool, error) {
	entry, err := e.store.Entry(ctx, entryID)
	if err != nil {
		return false, err
	}

	saved, err := e.apply(ctx, entry, change, author)
	if err != nil || !propagate {
		return saved, err
	}

	siblings, err := e.store.SiblingEntries(ctx, entry)
	if err != nil {
		return saved, err
	}
	for i := range siblings {
		if _, err := e.apply(ctx, &siblings[i], change, author); err != nil {
			e.logger.Error("failed to propagate edit",
				"entry", entry.ID,
				"sibling", siblings[i].ID,
				"error", err)
		}
	}
	return saved, nil
}

// AcceptSuggestion applies the suggestion to every entry it matches and
// removes it. It returns the number of catalogs rewritten.
func (e *Editor) AcceptSuggestion(ctx context.Context, suggestionID uint, author model.Author) (int, error) {
	sg, err := e.store.Suggestion(ctx, suggestionID)
	if err != nil {
		return 0, err
	}
	entries, err := e.store.MatchingEntries(ctx, sg.Checksum, sg.ProjectID, sg.LanguageID)
	if err != nil {
		return 0, err
	}

	saved := 0
	for i := range entries {
		ok, err := e.apply(ctx, &entries[i], Change{Target: sg.Target}, author)
		if err != nil {
			return saved, fmt.Errorf("failed to accept suggestion %d: %w", sg.ID, err)
		}
		if ok {
			saved++
		}
	}

	if err := e.store.DeleteSuggestion(ctx, sg.ID); err != nil {
		return saved, err
	}
	e.logger.Info("accepted suggestion", "suggestion", sg.ID, "entries", len(entries), "saved", saved)
	return saved, nil
}

// apply edits a single entry. The entry's translation, component, project
// and language must be loaded.
func (e *Editor) apply(ctx context.Context, entry *model.Entry, change Change, author model.Author) (bool, error) {
	tr := &entry.Translation
	logger := e.logger.With("entry", entry.ID, "file", tr.Filename)

	requested := model.Entry{Source: entry.Source, Target: change.Target}
	target := catalog.JoinPlural(requested.TargetPlurals(tr.Language.NPlurals))

	cat, err := catalog.Open(e.sync.CatalogPath(tr))
	if err != nil {
		return false, err
	}
	unit, err := cat.FindBySourceContext(entry.Source, entry.Context)
	if err != nil {
		return false, fmt.Errorf("failed to locate entry %d in %s: %w", entry.ID, tr.Filename, err)
	}

	saved := false
	if unit.Target() != target || unit.IsFuzzy() != change.Fuzzy {
		unit.MarkFuzzy(change.Fuzzy)
		unit.SetTarget(target)
		if cat.Features().Has(catalog.FeatureHeader) {
			cat.Header().Update(catalog.HeaderUpdate{
				LastTranslator: author.Identity(),
				RevisionDate:   e.now(),
				PluralForms:    tr.Language.PluralForm(),
				Language:       tr.Language.Code,
				Generator:      e.commit.Generator,
			})
		}
		if err := cat.Save(); err != nil {
			return false, err
		}
		saved = true
	}

	revision := tr.Revision
	if saved {
		gw, err := e.repos.Gateway(&tr.Component)
		if err != nil {
			return false, err
		}
		committed, err := gw.Commit(ctx, tr.Filename, author.Identity(), e.commit.Message)
		if err != nil {
			return false, err
		}
		if committed {
			e.metrics.Commit()
			logger.Info("committed edit", "author", author.Identity())
		}
		blob, err := gw.Blob(tr.Filename)
		if err != nil {
			return false, err
		}
		revision = blob.Revision
	}

	dirty := entry.Target != unit.Target() ||
		entry.Fuzzy != unit.IsFuzzy() ||
		entry.Translated != unit.IsTranslated() ||
		entry.Flags != unit.Flags()
	entry.Target = unit.Target()
	entry.Fuzzy = unit.IsFuzzy()
	entry.Translated = unit.IsTranslated()
	entry.Flags = unit.Flags()

	err = e.store.Transaction(ctx, func(tx *store.Store) error {
		if dirty {
			if err := tx.SaveEditedEntry(ctx, entry); err != nil {
				return err
			}
		}
		updated, err := tx.UpdateStats(ctx, tr.ID, revision)
		if err != nil {
			return err
		}
		tr.Revision = updated.Revision
		tr.Translated = updated.Translated
		tr.Fuzzy = updated.Fuzzy
		tr.Total = updated.Total
		return nil
	})
	if err != nil {
		return saved, err
	}
	if dirty {
		e.metrics.EntryWrites("edited", 1)
	}
	return saved, nil
}
