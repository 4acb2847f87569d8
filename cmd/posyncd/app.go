package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/schaermu/posyncd/internal/config"
	"github.com/schaermu/posyncd/internal/edit"
	"github.com/schaermu/posyncd/internal/git"
	"github.com/schaermu/posyncd/internal/language"
	"github.com/schaermu/posyncd/internal/layout"
	"github.com/schaermu/posyncd/internal/merge"
	"github.com/schaermu/posyncd/internal/metrics"
	"github.com/schaermu/posyncd/internal/notify"
	"github.com/schaermu/posyncd/internal/store"
	"github.com/schaermu/posyncd/internal/sync"
)

// app holds the wired components shared by all commands
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	repos    *sync.Repositories
	sync     *sync.Synchronizer
	engine   *sync.Engine
	editor   *edit.Editor
	importer *merge.Importer
}

func newApp(logger *slog.Logger) (*app, error) {
	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return wire(cfg, logger)
}

// wire connects the database and builds every component from cfg
func wire(cfg *config.Config, logger *slog.Logger) (*app, error) {
	password, err := cfg.DatabasePassword()
	if err != nil {
		return nil, err
	}
	db, err := store.Connect(cfg.Database, password, logger)
	if err != nil {
		return nil, err
	}
	st, err := store.New(db, logger)
	if err != nil {
		return nil, err
	}

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	overrides := make([]language.Override, 0, len(cfg.Languages))
	for _, l := range cfg.Languages {
		overrides = append(overrides, language.Override{
			Code:     l.Code,
			Name:     l.Name,
			NPlurals: l.NPlurals,
			Plural:   l.Plural,
		})
	}

	lm := layout.NewManager(cfg.Paths.GitRoot)
	repos := sync.NewRepositories(lm, git.Options{
		SSHKeyFile:     cfg.Auth.SSHKeyFile,
		HTTPSTokenFile: cfg.Auth.HTTPSTokenFile,
		Notifier:       notifier,
		Logger:         logger,
	})
	synchronizer := sync.NewSynchronizer(st, lm, m, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		registry: registry,
		metrics:  m,
		repos:    repos,
		sync:     synchronizer,
		engine:   sync.NewEngine(cfg, st, repos, synchronizer, language.NewRegistry(overrides), m, logger),
		editor:   edit.NewEditor(st, repos, synchronizer, cfg.Commit, m, logger),
		importer: merge.NewImporter(st, repos, synchronizer, cfg.Commit, m, logger),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// newNotifier mails the admins when any are configured and logs otherwise
func newNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, error) {
	if len(cfg.Notify.Admins) == 0 {
		return notify.NewLogNotifier(logger), nil
	}
	password, err := cfg.SMTPPassword()
	if err != nil {
		return nil, err
	}
	return notify.NewMailNotifier(notify.MailOptions{
		Host:     cfg.Notify.SMTPHost,
		Port:     cfg.Notify.SMTPPort,
		From:     cfg.Notify.From,
		Admins:   cfg.Notify.Admins,
		Username: cfg.Notify.Username,
		Password: password,
	}), nil
}
