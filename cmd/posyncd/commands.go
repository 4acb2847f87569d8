package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/schaermu/posyncd/internal/catalog"
	"github.com/schaermu/posyncd/internal/edit"
	"github.com/schaermu/posyncd/internal/merge"
	"github.com/schaermu/posyncd/internal/model"
	"github.com/schaermu/posyncd/internal/store"
	"github.com/schaermu/posyncd/internal/sync"
	"github.com/schaermu/posyncd/internal/webhook"
)

var (
	syncOpts sync.Options

	trProject   string
	trComponent string
	trLanguage  string

	importOnlyComponent bool
	importOpts          merge.Options

	editEntry       uint
	editTargets     []string
	editFuzzy       bool
	editNoPropagate bool

	suggestEntry  uint
	suggestTarget string

	checkEntry    uint
	checkUnignore bool

	entriesFilter string

	author model.Author
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize configured components into the database",
	Long: `Sync prepares the working tree of every configured component, discovers
its catalogs and brings the entry rows in line with the committed files.

Catalogs whose blob did not change since the last run are skipped unless
--force is given. With --update the upstream branch is merged first.`,
	RunE: runSync,
}

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Merge an uploaded catalog into a translation",
	Long: `Import merges the units of FILE into the catalog of the given translation
and into every other component of the project translated into the same
language, commits the result and re-synchronizes the entries.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Change the translation of an entry and commit it",
	Long: `Edit writes a new target to the catalog of an entry and commits it under
the given author. Entries sharing the string in sibling components receive
the same change unless --no-propagate is set. Repeat --target for plural
forms.`,
	RunE: runEdit,
}

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Manage translation suggestions",
}

var suggestAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Propose a translation for an entry",
	RunE:  runSuggestAdd,
}

var suggestAcceptCmd = &cobra.Command{
	Use:   "accept ID",
	Short: "Apply a suggestion to every matching entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuggestAccept,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Ignore or restore the \"not translated\" check of an entry",
	RunE:  runCheck,
}

var entriesCmd = &cobra.Command{
	Use:   "entries",
	Short: "List the entries of a translation",
	Long: `Entries prints the entries of a translation in file order with their
state, the number of pending suggestions, the ignored checks and the source
locations. Locations are linked through the component's repoweb template.

--filter limits the list to untranslated (including fuzzy), fuzzy or
suggestions entries.`,
	RunE: runEntries,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print translation progress",
	RunE:  runStats,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Serve synchronizes every component once and then listens for GitHub push
events, re-synchronizing the components tracking the pushed branch. The
Prometheus metrics are served on serve.metrics_path.`,
	RunE: runServe,
}

func init() {
	syncCmd.Flags().BoolVar(&syncOpts.Force, "force", false, "rescan catalogs whose revision did not change")
	syncCmd.Flags().BoolVar(&syncOpts.Update, "update", false, "merge the upstream branch before scanning")
	syncCmd.Flags().StringVar(&syncOpts.Project, "project", "", "only synchronize this project")
	syncCmd.Flags().StringVar(&syncOpts.Component, "component", "", "only synchronize this component")

	importCmd.Flags().StringVar(&trProject, "project", "", "project slug")
	importCmd.Flags().StringVar(&trComponent, "component", "", "component slug")
	importCmd.Flags().StringVar(&trLanguage, "language", "", "language code")
	importCmd.Flags().BoolVar(&importOpts.Overwrite, "overwrite", false, "replace existing translations")
	importCmd.Flags().BoolVar(&importOpts.AcceptFuzzy, "accept-fuzzy", false, "import units marked fuzzy")
	importCmd.Flags().BoolVar(&importOnlyComponent, "only-component", false, "do not merge into sibling components")
	for _, name := range []string{"project", "component", "language"} {
		_ = importCmd.MarkFlagRequired(name)
	}
	addAuthorFlags(importCmd)

	editCmd.Flags().UintVar(&editEntry, "entry", 0, "entry id")
	editCmd.Flags().StringArrayVar(&editTargets, "target", nil, "new translation, once per plural form")
	editCmd.Flags().BoolVar(&editFuzzy, "fuzzy", false, "mark the translation as needing review")
	editCmd.Flags().BoolVar(&editNoPropagate, "no-propagate", false, "do not apply to sibling components")
	_ = editCmd.MarkFlagRequired("entry")
	addAuthorFlags(editCmd)

	suggestAddCmd.Flags().UintVar(&suggestEntry, "entry", 0, "entry id")
	suggestAddCmd.Flags().StringVar(&suggestTarget, "target", "", "proposed translation")
	_ = suggestAddCmd.MarkFlagRequired("entry")
	_ = suggestAddCmd.MarkFlagRequired("target")
	addAuthorFlags(suggestAddCmd)
	addAuthorFlags(suggestAcceptCmd)
	suggestCmd.AddCommand(suggestAddCmd)
	suggestCmd.AddCommand(suggestAcceptCmd)

	entriesCmd.Flags().StringVar(&trProject, "project", "", "project slug")
	entriesCmd.Flags().StringVar(&trComponent, "component", "", "component slug")
	entriesCmd.Flags().StringVar(&trLanguage, "language", "", "language code")
	entriesCmd.Flags().StringVar(&entriesFilter, "filter", filterAll, "show all, untranslated, fuzzy or suggestions entries")
	for _, name := range []string{"project", "component", "language"} {
		_ = entriesCmd.MarkFlagRequired(name)
	}

	checkCmd.Flags().UintVar(&checkEntry, "entry", 0, "entry id")
	checkCmd.Flags().BoolVar(&checkUnignore, "unignore", false, "restore the check instead of ignoring it")
	_ = checkCmd.MarkFlagRequired("entry")
}

func addAuthorFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&author.Name, "author-name", "", "display name of the translator")
	cmd.Flags().StringVar(&author.Email, "author-email", "", "email of the translator")
	cmd.Flags().StringVar(&author.Username, "author-username", "", "account name used when no display name is given")
}

func requireAuthor() (model.Author, error) {
	if author.Email == "" {
		return model.Author{}, errors.New("--author-email is required")
	}
	if author.Name == "" && author.Username == "" {
		return model.Author{}, errors.New("--author-name or --author-username is required")
	}
	return author, nil
}

// withApp runs fn with a wired app and a signal-aware context
func withApp(fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	a, err := newApp(setupLogger())
	if err != nil {
		return err
	}
	defer func() {
		_ = a.Close()
	}()
	return fn(ctx, a)
}

func runSync(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		opts := syncOpts
		opts.Force = opts.Force || a.cfg.Sync.Force
		return a.engine.Run(ctx, opts)
	})
}

func lookupTranslation(ctx context.Context, st *store.Store) (*model.Translation, error) {
	c, err := st.Component(ctx, trProject, trComponent)
	if err != nil {
		return nil, fmt.Errorf("%w (run sync first)", err)
	}
	return st.TranslationByCode(ctx, c.ID, trLanguage)
}

func runImport(cmd *cobra.Command, args []string) error {
	who, err := requireAuthor()
	if err != nil {
		return err
	}
	incoming, err := catalog.Open(args[0])
	if err != nil {
		return err
	}

	return withApp(func(ctx context.Context, a *app) error {
		tr, err := lookupTranslation(ctx, a.store)
		if err != nil {
			return err
		}

		var committed bool
		if importOnlyComponent {
			committed, err = a.importer.MergeStore(ctx, tr, who, incoming, importOpts)
		} else {
			committed, err = a.importer.MergeUpload(ctx, tr, who, incoming, importOpts)
		}
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "committed: %v\n", committed)
		return nil
	})
}

func runEdit(cmd *cobra.Command, args []string) error {
	who, err := requireAuthor()
	if err != nil {
		return err
	}
	change := edit.Change{Target: catalog.JoinPlural(editTargets), Fuzzy: editFuzzy}

	return withApp(func(ctx context.Context, a *app) error {
		saved, err := a.editor.ApplyEdit(ctx, editEntry, change, who, !editNoPropagate)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "saved: %v\n", saved)
		return nil
	})
}

func runSuggestAdd(cmd *cobra.Command, args []string) error {
	who, err := requireAuthor()
	if err != nil {
		return err
	}

	return withApp(func(ctx context.Context, a *app) error {
		e, err := a.store.Entry(ctx, suggestEntry)
		if err != nil {
			return err
		}
		sg := &model.Suggestion{
			Checksum:   e.Checksum,
			Target:     suggestTarget,
			UserName:   who.Identity(),
			UserEmail:  who.Email,
			ProjectID:  e.Translation.Component.ProjectID,
			LanguageID: e.Translation.LanguageID,
		}
		if err := a.store.AddSuggestion(ctx, sg); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "suggestion: %d\n", sg.ID)
		return nil
	})
}

func runSuggestAccept(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseUint(args[0], 10, 0)
	if err != nil {
		return fmt.Errorf("invalid suggestion id %q: %w", args[0], err)
	}
	who, err := requireAuthor()
	if err != nil {
		return err
	}

	return withApp(func(ctx context.Context, a *app) error {
		saved, err := a.editor.AcceptSuggestion(ctx, uint(id), who)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "catalogs saved: %d\n", saved)
		return nil
	})
}

func runCheck(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		e, err := a.store.Entry(ctx, checkEntry)
		if err != nil {
			return err
		}
		_, err = a.store.SetCheckIgnored(ctx, e.Checksum,
			e.Translation.Component.ProjectID, e.Translation.LanguageID,
			model.CheckSame, !checkUnignore)
		if err != nil {
			return err
		}
		state := "ignored"
		if checkUnignore {
			state = "active"
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", model.CheckSame.Label(), state)
		return nil
	})
}

func runEntries(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		tr, err := lookupTranslation(ctx, a.store)
		if err != nil {
			return err
		}
		rows, err := listEntries(ctx, a.store, tr, entriesFilter)
		if err != nil {
			return err
		}
		return printEntries(cmd.OutOrStdout(), rows, tr.Language.NPlurals)
	})
}

func runStats(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		return printStats(ctx, a.store, cmd)
	})
}

func printStats(ctx context.Context, st *store.Store, cmd *cobra.Command) error {
	projects, err := st.Stats(ctx)
	if err != nil {
		return err
	}
	translations, err := st.Translations(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PROJECT\tCOMPONENT\tLANGUAGE\tTRANSLATED\tFUZZY\tTOTAL")
	for _, p := range projects {
		_, _ = fmt.Fprintf(w, "%s\t\t\t%.1f%%\t\t%d\n", p.Project.Slug, p.TranslatedPercent(), p.Total)
		for _, tr := range translations {
			if tr.Component.ProjectID != p.Project.ID {
				continue
			}
			_, _ = fmt.Fprintf(w, "\t%s\t%s\t%.1f%%\t%.1f%%\t%d\n",
				tr.Component.Slug, tr.Language.Code,
				tr.TranslatedPercent(), tr.FuzzyPercent(), tr.Total)
		}
	}
	return w.Flush()
}

func runServe(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		if !a.cfg.Serve.Enabled {
			return errors.New("serve.enabled is false in the configuration")
		}
		server, err := webhook.NewServer(a.cfg, a.engine, a.metrics, a.registry, a.logger)
		if err != nil {
			return err
		}
		return server.Start(ctx)
	})
}
