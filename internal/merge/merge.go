// Package merge imports translations from an uploaded catalog into the
// catalogs of a project.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/schaermu/posyncd/internal/catalog"
	"github.com/schaermu/posyncd/internal/config"
	"github.com/schaermu/posyncd/internal/metrics"
	"github.com/schaermu/posyncd/internal/model"
	"github.com/schaermu/posyncd/internal/store"
	"github.com/schaermu/posyncd/internal/sync"
)

// Options controls how incoming units are merged
type Options struct {
	// Overwrite replaces translated targets instead of only filling empty ones
	Overwrite bool
	// AcceptFuzzy takes over incoming units marked fuzzy
	AcceptFuzzy bool
}

// Importer merges incoming catalogs
type Importer struct {
	store   *store.Store
	repos   *sync.Repositories
	sync    *sync.Synchronizer
	commit  config.CommitConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewImporter creates an importer committing with the given settings
func NewImporter(st *store.Store, repos *sync.Repositories, synchronizer *sync.Synchronizer, commit config.CommitConfig, m *metrics.Metrics, logger *slog.Logger) *Importer {
	return &Importer{
		store:   st,
		repos:   repos,
		sync:    synchronizer,
		commit:  commit,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// MergeUpload merges incoming into every translation of the project sharing
// the language of tr. It reports whether any catalog was committed.
func (im *Importer) MergeUpload(ctx context.Context, tr *model.Translation, author model.Author, incoming catalog.Store, opts Options) (bool, error) {
	translations, err := im.store.TranslationsForLanguage(ctx, tr.Component.ProjectID, tr.LanguageID)
	if err != nil {
		return false, err
	}

	committed := false
	for i := range translations {
		ok, err := im.MergeStore(ctx, &translations[i], author, incoming, opts)
		if err != nil {
			return committed, err
		}
		committed = committed || ok
	}
	return committed, nil
}

// MergeStore merges the units of incoming into the catalog of tr, commits it
// and synchronizes the entries. Units without counterpart are logged and
// skipped. It reports whether a commit was created.
func (im *Importer) MergeStore(ctx context.Context, tr *model.Translation, author model.Author, incoming catalog.Store, opts Options) (bool, error) {
	logger := im.logger.With(
		"project", tr.Component.Project.Slug,
		"component", tr.Component.Slug,
		"file", tr.Filename)

	cat, err := catalog.Open(im.sync.CatalogPath(tr))
	if err != nil {
		return false, err
	}

	applied := 0
	for _, unit := range incoming.Units() {
		if unit.IsHeader() {
			if cat.Features().Has(catalog.FeatureHeader) && incoming.Features().Has(catalog.FeatureHeader) {
				cat.Header().Merge(incoming)
			}
			continue
		}

		existing, err := findUnit(cat, unit)
		if err != nil {
			logger.Error("merge source unit not found in target catalog", "source", unit.Source(), "error", err)
			im.metrics.ImportSkipped("not_found")
			continue
		}
		if isEmpty(unit.Target()) {
			im.metrics.ImportSkipped("empty")
			continue
		}
		if unit.IsFuzzy() && !opts.AcceptFuzzy {
			im.metrics.ImportSkipped("fuzzy")
			continue
		}
		existing.Merge(unit, opts.Overwrite)
		applied++
	}
	logger.Info("merged catalog", "applied", applied)

	gw, err := im.repos.Gateway(&tr.Component)
	if err != nil {
		return false, err
	}

	committed := false
	if applied > 0 {
		if cat.Features().Has(catalog.FeatureHeader) {
			cat.Header().Update(catalog.HeaderUpdate{
				LastTranslator: author.Identity(),
				RevisionDate:   im.now(),
				PluralForms:    tr.Language.PluralForm(),
				Language:       tr.Language.Code,
				Generator:      im.commit.Generator,
			})
		}
		if err := cat.Save(); err != nil {
			return false, err
		}
		committed, err = gw.Commit(ctx, tr.Filename, author.Identity(), im.commit.Message)
		if err != nil {
			return false, err
		}
		if committed {
			im.metrics.Commit()
		}
	}

	blob, err := gw.Blob(tr.Filename)
	if err != nil {
		return committed, err
	}
	if _, err := im.sync.Synchronize(ctx, tr, blob, false); err != nil {
		return committed, fmt.Errorf("failed to synchronize after merge: %w", err)
	}
	return committed, nil
}

// findUnit resolves by stable id first and falls back to the source text
func findUnit(cat catalog.Store, unit catalog.Unit) (catalog.Unit, error) {
	u, err := cat.FindByID(unit.ID())
	if errors.Is(err, catalog.ErrUnitNotFound) {
		return cat.FindBySource(unit.Source())
	}
	return u, err
}

func isEmpty(target string) bool {
	for _, form := range catalog.SplitPlural(target) {
		if strings.TrimSpace(form) != "" {
			return false
		}
	}
	return true
}
