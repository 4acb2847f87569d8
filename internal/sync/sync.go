package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/schaermu/posyncd/internal/config"
	"github.com/schaermu/posyncd/internal/git"
	"github.com/schaermu/posyncd/internal/language"
	"github.com/schaermu/posyncd/internal/layout"
	"github.com/schaermu/posyncd/internal/metrics"
	"github.com/schaermu/posyncd/internal/model"
	"github.com/schaermu/posyncd/internal/store"
)

// ErrNoMatch is returned when a filtered run selects no configured component
var ErrNoMatch = errors.New("no configured component matches")

// Options selects what a run synchronizes
type Options struct {
	// Force rescans catalogs whose revision did not change
	Force bool
	// Update merges the upstream branch before scanning
	Update bool
	// Project and Component restrict the run when set
	Project   string
	Component string
}

// Engine orchestrates the sync process
type Engine struct {
	cfg       *config.Config
	store     *store.Store
	repos     *Repositories
	sync      *Synchronizer
	languages *language.Registry
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, st *store.Store, repos *Repositories, synchronizer *Synchronizer, languages *language.Registry, m *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		store:     st,
		repos:     repos,
		sync:      synchronizer,
		languages: languages,
		metrics:   m,
		logger:    logger,
	}
}

// Run executes the complete sync process for the selected components.
// Components are processed in parallel; the failure of one does not stop
// the others and all failures are returned joined.
func (e *Engine) Run(ctx context.Context, opts Options) error {
	logger := e.logger.With("run_id", uuid.NewString())
	logger.Info("starting sync",
		"project", opts.Project,
		"component", opts.Component,
		"force", opts.Force,
		"update", opts.Update)

	components, err := e.upsertConfigured(ctx, opts)
	if err != nil {
		return err
	}
	if len(components) == 0 {
		if opts.Project != "" || opts.Component != "" {
			return fmt.Errorf("%w: %s/%s", ErrNoMatch, opts.Project, opts.Component)
		}
		logger.Info("no components configured")
		return nil
	}

	errs := make([]error, len(components))
	var g errgroup.Group
	g.SetLimit(e.cfg.Sync.Workers)
	for i, c := range components {
		g.Go(func() error {
			start := time.Now()
			err := e.syncComponent(ctx, logger, c, opts)
			result := "success"
			if err != nil {
				result = "failed"
				errs[i] = fmt.Errorf("component %s/%s: %w", c.Project.Slug, c.Slug, err)
			}
			e.metrics.ObserveSync(result, time.Since(start))
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		logger.Error("sync finished with errors", "error", err)
		return err
	}
	logger.Info("sync completed successfully", "components", len(components))
	return nil
}

// SyncComponent runs a sync restricted to one component
func (e *Engine) SyncComponent(ctx context.Context, project, component string, opts Options) error {
	opts.Project = project
	opts.Component = component
	return e.Run(ctx, opts)
}

// upsertConfigured stores the selected projects and components and creates
// the project directories
func (e *Engine) upsertConfigured(ctx context.Context, opts Options) ([]*model.Component, error) {
	var components []*model.Component
	for _, pc := range e.cfg.Projects {
		if opts.Project != "" && pc.Slug != opts.Project {
			continue
		}
		var selected []config.ComponentConfig
		for _, cc := range pc.Components {
			if opts.Component == "" || cc.Slug == opts.Component {
				selected = append(selected, cc)
			}
		}
		if len(selected) == 0 && opts.Component != "" {
			continue
		}

		project, err := e.store.UpsertProject(ctx, model.Project{
			Name:         pc.Name,
			Slug:         pc.Slug,
			Web:          pc.Web,
			Mail:         pc.Mail,
			Instructions: pc.Instructions,
		})
		if err != nil {
			return nil, err
		}
		if _, err := e.repos.Layout().EnsureProject(project.Slug); err != nil {
			return nil, err
		}

		for _, cc := range selected {
			c, err := e.store.UpsertComponent(ctx, project, model.Component{
				Name:     cc.Name,
				Slug:     cc.Slug,
				Repo:     cc.Repo,
				Branch:   cc.Branch,
				FileMask: cc.FileMask,
				RepoWeb:  cc.RepoWeb,
			})
			if err != nil {
				return nil, err
			}
			components = append(components, c)
		}
	}
	return components, nil
}

// syncComponent brings the working tree of c up to date and synchronizes
// every catalog it contains
func (e *Engine) syncComponent(ctx context.Context, logger *slog.Logger, c *model.Component, opts Options) error {
	logger = logger.With("project", c.Project.Slug, "component", c.Slug)

	gw, err := e.repos.Gateway(c)
	if err != nil {
		return err
	}
	remote, err := gw.Configure(ctx, c.Repo)
	if err != nil {
		return err
	}
	if _, err := gw.EnsureBranch(ctx, c.Branch); err != nil {
		return err
	}

	if opts.Update || remote != git.Found {
		if err := gw.UpdateBranch(ctx, c.Branch); err != nil {
			if !errors.Is(err, git.ErrMergeAborted) {
				return err
			}
			// the tree is back at its pre-merge state, keep scanning it
			e.metrics.MergeFailure()
			logger.Warn("continuing with local branch", "error", err)
		}
	}

	matches, err := layout.Discover(gw.Dir(), c.FileMask)
	if err != nil {
		return err
	}
	logger.Info("discovered catalogs", "count", len(matches))

	var errs []error
	for _, m := range matches {
		if err := e.syncTranslation(ctx, logger, gw, c, m, opts.Force); err != nil {
			logger.Error("failed to synchronize catalog", "file", m.Filename, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) syncTranslation(ctx context.Context, logger *slog.Logger, gw *git.Gateway, c *model.Component, m layout.Match, force bool) error {
	lang, err := e.store.EnsureLanguage(ctx, e.languages.Lookup(m.Language))
	if err != nil {
		return err
	}
	tr, created, err := e.store.EnsureTranslation(ctx, c, lang, m.Filename)
	if err != nil {
		return err
	}
	if created {
		logger.Info("created translation", "language", lang.Code, "file", m.Filename)
	}

	blob, err := gw.Blob(m.Filename)
	if errors.Is(err, git.ErrBlobNotFound) {
		logger.Warn("catalog is not committed, skipping", "file", m.Filename)
		return nil
	}
	if err != nil {
		return err
	}

	_, err = e.sync.Synchronize(ctx, tr, blob, force)
	return err
}
