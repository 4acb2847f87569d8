package sync

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/schaermu/posyncd/internal/catalog"
	"github.com/schaermu/posyncd/internal/config"
	"github.com/schaermu/posyncd/internal/git"
	"github.com/schaermu/posyncd/internal/language"
	"github.com/schaermu/posyncd/internal/layout"
	"github.com/schaermu/posyncd/internal/model"
	"github.com/schaermu/posyncd/internal/store"
	"github.com/schaermu/posyncd/internal/testutil"
)

const dePO = `msgid ""
msgstr ""
"Content-Type: text/plain; charset=UTF-8\n"
"Language: de\n"

#: main.go:10
msgid "Hello"
msgstr "Hallo"

#, fuzzy
msgid "World"
msgstr "Welt"

msgid "Untranslated"
msgstr ""
`

const dePOWithoutUntranslated = `msgid ""
msgstr ""
"Content-Type: text/plain; charset=UTF-8\n"
"Language: de\n"

#: main.go:12
msgid "Hello"
msgstr "Hallo"

#, fuzzy
msgid "World"
msgstr "Welt"
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type harness struct {
	remote string
	cfg    *config.Config
	store  *store.Store
	sync   *Synchronizer
	repos  *Repositories
	engine *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	remote := t.TempDir()
	testutil.InitRepo(t, remote, "main")
	testutil.CommitFile(t, remote, "po/de.po", dePO, "Add German")

	cfg := &config.Config{
		Paths: config.PathsConfig{GitRoot: t.TempDir()},
		Sync:  config.SyncConfig{Workers: 2},
		Projects: []config.ProjectConfig{{
			Name: "Demo",
			Slug: "demo",
			Components: []config.ComponentConfig{{
				Name:     "Core",
				Slug:     "core",
				Repo:     remote,
				Branch:   "main",
				FileMask: "po/*.po",
			}},
		}},
	}

	logger := testLogger()
	st, err := store.New(testutil.OpenDB(t), logger)
	if err != nil {
		t.Fatalf("store.New() failed: %v", err)
	}
	lm := layout.NewManager(cfg.Paths.GitRoot)
	repos := NewRepositories(lm, git.Options{Logger: logger})
	synchronizer := NewSynchronizer(st, lm, nil, logger)
	engine := NewEngine(cfg, st, repos, synchronizer, language.NewRegistry(nil), nil, logger)

	return &harness{remote: remote, cfg: cfg, store: st, sync: synchronizer, repos: repos, engine: engine}
}

func (h *harness) translation(t *testing.T) *model.Translation {
	t.Helper()
	ctx := context.Background()
	c, err := h.store.Component(ctx, "demo", "core")
	if err != nil {
		t.Fatalf("Component() failed: %v", err)
	}
	tr, err := h.store.TranslationByCode(ctx, c.ID, "de")
	if err != nil {
		t.Fatalf("TranslationByCode() failed: %v", err)
	}
	return tr
}

func TestRun_CreatesEntries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.engine.Run(ctx, Options{}); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	tr := h.translation(t)
	if tr.Total != 3 || tr.Translated != 1 || tr.Fuzzy != 1 {
		t.Errorf("unexpected stats: total=%d translated=%d fuzzy=%d", tr.Total, tr.Translated, tr.Fuzzy)
	}
	if tr.Revision == "" {
		t.Error("expected revision to be recorded")
	}
	if tr.Language.Name != "German" {
		t.Errorf("expected language German, got %q", tr.Language.Name)
	}

	entries, err := h.store.Entries(ctx, tr.ID)
	if err != nil {
		t.Fatal(err)
	}
	var sources []string
	for _, e := range entries {
		sources = append(sources, e.Source)
	}
	if got := strings.Join(sources, ","); got != "Hello,World,Untranslated" {
		t.Errorf("expected file order, got %s", got)
	}
	if entries[0].Location != "main.go:10" {
		t.Errorf("expected location main.go:10, got %q", entries[0].Location)
	}
	if entries[0].Checksum != catalog.Checksum("Hello", "") {
		t.Errorf("unexpected checksum %s", entries[0].Checksum)
	}
}

func TestSynchronize_SkipsUnchangedRevision(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.engine.Run(ctx, Options{}); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	tr := h.translation(t)

	res, err := h.sync.Synchronize(ctx, tr, git.Blob{Path: tr.Filename, Revision: tr.Revision}, false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped {
		t.Error("expected unchanged revision to be skipped")
	}

	res, err = h.sync.Synchronize(ctx, tr, git.Blob{Path: tr.Filename, Revision: tr.Revision}, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped || res.Created != 0 || res.Deleted != 0 || res.Updated != 3 {
		t.Errorf("unexpected forced result: %+v", res)
	}
}

func TestSynchronize_WritesOnlyChangedEntries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.engine.Run(ctx, Options{}); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	tr := h.translation(t)
	before, err := h.store.EntryByChecksum(ctx, tr.ID, catalog.Checksum("World", ""))
	if err != nil {
		t.Fatal(err)
	}

	// A different revision marker with identical content rewrites nothing.
	res, err := h.sync.Synchronize(ctx, tr, git.Blob{Path: tr.Filename, Revision: "other"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed() || res.Unchanged != 3 {
		t.Errorf("expected no writes, got %+v", res)
	}
	if res.Translation.Revision != "other" {
		t.Errorf("expected revision to advance, got %q", res.Translation.Revision)
	}

	after, err := h.store.EntryByChecksum(ctx, tr.ID, catalog.Checksum("World", ""))
	if err != nil {
		t.Fatal(err)
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Error("unchanged entry was rewritten")
	}
}

func TestRun_UpdateDeletesStaleEntries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.engine.Run(ctx, Options{}); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	first := h.translation(t)

	testutil.CommitFile(t, h.remote, "po/de.po", dePOWithoutUntranslated, "Drop string")
	if err := h.engine.Run(ctx, Options{Update: true}); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	tr := h.translation(t)
	if tr.Revision == first.Revision {
		t.Error("expected revision to change after update")
	}
	if tr.Total != 2 {
		t.Errorf("expected 2 entries, got %d", tr.Total)
	}
	if _, err := h.store.EntryByChecksum(ctx, tr.ID, catalog.Checksum("Untranslated", "")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected stale entry to be deleted, got %v", err)
	}
	hello, err := h.store.EntryByChecksum(ctx, tr.ID, catalog.Checksum("Hello", ""))
	if err != nil {
		t.Fatal(err)
	}
	if hello.Location != "main.go:12" {
		t.Errorf("expected updated location, got %q", hello.Location)
	}
}

func TestRun_WithoutUpdateKeepsLocalBranch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.engine.Run(ctx, Options{}); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	testutil.CommitFile(t, h.remote, "po/de.po", dePOWithoutUntranslated, "Drop string")
	if err := h.engine.Run(ctx, Options{}); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if tr := h.translation(t); tr.Total != 3 {
		t.Errorf("expected local branch to stay at 3 entries, got %d", tr.Total)
	}
}

func TestRun_MergeConflictIsNotFatal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.engine.Run(ctx, Options{}); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	tr := h.translation(t)
	gw, err := h.repos.Gateway(&tr.Component)
	if err != nil {
		t.Fatal(err)
	}
	local := strings.Replace(dePO, `msgstr "Hallo"`, `msgstr "Servus"`, 1)
	if err := os.WriteFile(filepath.Join(gw.Dir(), "po", "de.po"), []byte(local), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := gw.Commit(ctx, "po/de.po", "Jane <jane@example.com>", "Local edit"); err != nil {
		t.Fatal(err)
	}
	remote := strings.Replace(dePO, `msgstr "Hallo"`, `msgstr "Grüß Gott"`, 1)
	testutil.CommitFile(t, h.remote, "po/de.po", remote, "Remote edit")

	if err := h.engine.Run(ctx, Options{Update: true}); err != nil {
		t.Fatalf("Run() should survive a failed merge: %v", err)
	}

	hello, err := h.store.EntryByChecksum(ctx, tr.ID, catalog.Checksum("Hello", ""))
	if err != nil {
		t.Fatal(err)
	}
	if hello.Target != "Servus" {
		t.Errorf("expected local target after aborted merge, got %q", hello.Target)
	}
	if status := testutil.Git(t, gw.Dir(), "status", "--porcelain"); status != "" {
		t.Errorf("expected clean tree after aborted merge, got %q", status)
	}
}

func TestRun_ComponentErrorsAreAggregated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.cfg.Projects[0].Components = append(h.cfg.Projects[0].Components, config.ComponentConfig{
		Name:     "Broken",
		Slug:     "broken",
		Repo:     filepath.Join(t.TempDir(), "missing"),
		Branch:   "main",
		FileMask: "po/*.po",
	})

	err := h.engine.Run(ctx, Options{})
	if err == nil {
		t.Fatal("expected error from broken component")
	}
	if !strings.Contains(err.Error(), "component demo/broken") {
		t.Errorf("expected error to name the broken component, got %v", err)
	}
	if tr := h.translation(t); tr.Total != 3 {
		t.Errorf("healthy component should still sync, got %d entries", tr.Total)
	}
}

func TestRun_UnknownComponent(t *testing.T) {
	h := newHarness(t)
	err := h.engine.SyncComponent(context.Background(), "demo", "nope", Options{})
	if !errors.Is(err, ErrNoMatch) {
		t.Errorf("expected ErrNoMatch, got %v", err)
	}
}
