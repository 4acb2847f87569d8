package edit

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/posyncd/internal/catalog"
	"github.com/schaermu/posyncd/internal/config"
	"github.com/schaermu/posyncd/internal/git"
	"github.com/schaermu/posyncd/internal/language"
	"github.com/schaermu/posyncd/internal/layout"
	"github.com/schaermu/posyncd/internal/model"
	"github.com/schaermu/posyncd/internal/store"
	"github.com/schaermu/posyncd/internal/sync"
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

var jane = model.Author{Name: "Jane Doe", Email: "jane@example.com", Username: "jane"}

type harness struct {
	store  *store.Store
	repos  *sync.Repositories
	editor *Editor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, "core", "web")
}

// newHarnessWith syncs one component per slug, all sharing dePO
func newHarnessWith(t *testing.T, slugs ...string) *harness {
	t.Helper()
	ctx := context.Background()

	var components []config.ComponentConfig
	for _, slug := range slugs {
		remote := t.TempDir()
		testutil.InitRepo(t, remote, "main")
		testutil.CommitFile(t, remote, "po/de.po", dePO, "Add German")
		components = append(components, config.ComponentConfig{
			Name: slug, Slug: slug, Repo: remote, Branch: "main", FileMask: "po/*.po",
		})
	}
	cfg := &config.Config{
		Paths:    config.PathsConfig{GitRoot: t.TempDir()},
		Commit:   config.CommitConfig{Message: "Translated using posyncd", Generator: "posyncd"},
		Sync:     config.SyncConfig{Workers: 1},
		Projects: []config.ProjectConfig{{Name: "Demo", Slug: "demo", Components: components}},
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := store.New(testutil.OpenDB(t), logger)
	require.NoError(t, err)
	lm := layout.NewManager(cfg.Paths.GitRoot)
	repos := sync.NewRepositories(lm, git.Options{Logger: logger})
	synchronizer := sync.NewSynchronizer(st, lm, nil, logger)
	engine := sync.NewEngine(cfg, st, repos, synchronizer, language.NewRegistry(nil), nil, logger)
	require.NoError(t, engine.Run(ctx, sync.Options{}))

	editor := NewEditor(st, repos, synchronizer, cfg.Commit, nil, logger)
	editor.now = func() time.Time { return time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC) }
	return &harness{store: st, repos: repos, editor: editor}
}

func (h *harness) entry(t *testing.T, component, source string) *model.Entry {
	t.Helper()
	ctx := context.Background()
	c, err := h.store.Component(ctx, "demo", component)
	require.NoError(t, err)
	tr, err := h.store.TranslationByCode(ctx, c.ID, "de")
	require.NoError(t, err)
	e, err := h.store.EntryByChecksum(ctx, tr.ID, catalog.Checksum(source, ""))
	require.NoError(t, err)
	full, err := h.store.Entry(ctx, e.ID)
	require.NoError(t, err)
	return full
}

func (h *harness) dir(t *testing.T, component string) string {
	t.Helper()
	c, err := h.store.Component(context.Background(), "demo", component)
	require.NoError(t, err)
	gw, err := h.repos.Gateway(c)
	require.NoError(t, err)
	return gw.Dir()
}

func commitCount(t *testing.T, dir string) string {
	t.Helper()
	return testutil.Git(t, dir, "rev-list", "--count", "HEAD")
}

func TestApplyEdit_NoChangeIsNoop(t *testing.T) {
	h := newHarness(t)
	e := h.entry(t, "core", "Hello")
	before := commitCount(t, h.dir(t, "core"))

	saved, err := h.editor.ApplyEdit(context.Background(), e.ID, Change{Target: "Hallo"}, jane, false)
	require.NoError(t, err)
	assert.False(t, saved)
	assert.Equal(t, before, commitCount(t, h.dir(t, "core")))
	assert.Empty(t, testutil.Git(t, h.dir(t, "core"), "status", "--porcelain"))
}

func TestApplyEdit_CommitsChangedCatalog(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := h.entry(t, "core", "Hello")
	dir := h.dir(t, "core")

	saved, err := h.editor.ApplyEdit(ctx, e.ID, Change{Target: "Hallo Welt"}, jane, false)
	require.NoError(t, err)
	assert.True(t, saved)

	assert.Equal(t, "2", commitCount(t, dir))
	assert.Equal(t, "Jane Doe <jane@example.com>", testutil.Git(t, dir, "log", "-1", "--format=%an <%ae>"))
	assert.Equal(t, "Translated using posyncd", testutil.Git(t, dir, "log", "-1", "--format=%s"))
	assert.Equal(t, "po/de.po", testutil.Git(t, dir, "show", "--name-only", "--format=", "HEAD"))

	cat, err := catalog.Open(filepath.Join(dir, "po", "de.po"))
	require.NoError(t, err)
	unit, err := cat.FindBySource("Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hallo Welt", unit.Target())
	assert.Equal(t, "Jane Doe <jane@example.com>", cat.Header().Field("Last-Translator"))
	assert.Equal(t, "2024-05-01 12:30+0000", cat.Header().Field("PO-Revision-Date"))
	assert.Equal(t, "nplurals=2; plural=(n != 1);", cat.Header().Field("Plural-Forms"))
	assert.Equal(t, "posyncd", cat.Header().Field("X-Generator"))

	updated := h.entry(t, "core", "Hello")
	assert.Equal(t, "Hallo Welt", updated.Target)
	assert.True(t, updated.Translated)

	// the stored revision matches the committed blob, so a sync is a no-op
	gw, err := h.repos.Gateway(&updated.Translation.Component)
	require.NoError(t, err)
	blob, err := gw.Blob("po/de.po")
	require.NoError(t, err)
	assert.Equal(t, blob.Revision, updated.Translation.Revision)
}

func TestApplyEdit_ClearingFuzzyUpdatesStats(t *testing.T) {
	h := newHarness(t)
	e := h.entry(t, "core", "World")
	require.True(t, e.Fuzzy)

	saved, err := h.editor.ApplyEdit(context.Background(), e.ID, Change{Target: "Welt"}, jane, false)
	require.NoError(t, err)
	assert.True(t, saved)

	updated := h.entry(t, "core", "World")
	assert.False(t, updated.Fuzzy)
	assert.True(t, updated.Translated)
	assert.Equal(t, 2, updated.Translation.Translated)
	assert.Equal(t, 0, updated.Translation.Fuzzy)
}

func TestApplyEdit_PropagatesOneLevel(t *testing.T) {
	h := newHarness(t)
	e := h.entry(t, "core", "Untranslated")

	saved, err := h.editor.ApplyEdit(context.Background(), e.ID, Change{Target: "Unübersetzt"}, jane, true)
	require.NoError(t, err)
	assert.True(t, saved)

	sibling := h.entry(t, "web", "Untranslated")
	assert.Equal(t, "Unübersetzt", sibling.Target)
	assert.Equal(t, "2", commitCount(t, h.dir(t, "web")))
	assert.Equal(t, "2", commitCount(t, h.dir(t, "core")))
}

func TestApplyEdit_PropagatesOncePerSibling(t *testing.T) {
	h := newHarnessWith(t, "core", "web", "app", "docs")
	ctx := context.Background()
	e := h.entry(t, "web", "Untranslated")

	saved, err := h.editor.ApplyEdit(ctx, e.ID, Change{Target: "Unübersetzt"}, jane, true)
	require.NoError(t, err)
	assert.True(t, saved)

	for _, component := range []string{"core", "web", "app", "docs"} {
		dir := h.dir(t, component)
		assert.Equal(t, "Unübersetzt", h.entry(t, component, "Untranslated").Target, component)
		assert.Equal(t, "2", commitCount(t, dir), component)
		assert.Equal(t, "Jane Doe <jane@example.com>", testutil.Git(t, dir, "log", "-1", "--format=%an <%ae>"), component)
		assert.Empty(t, testutil.Git(t, dir, "status", "--porcelain"), component)
	}

	// a repeated propagating edit finds every sibling up to date
	saved, err = h.editor.ApplyEdit(ctx, e.ID, Change{Target: "Unübersetzt"}, jane, true)
	require.NoError(t, err)
	assert.False(t, saved)
	for _, component := range []string{"core", "web", "app", "docs"} {
		assert.Equal(t, "2", commitCount(t, h.dir(t, component)), component)
	}
}

func TestApplyEdit_WithoutPropagationLeavesSiblings(t *testing.T) {
	h := newHarness(t)
	e := h.entry(t, "core", "Untranslated")

	_, err := h.editor.ApplyEdit(context.Background(), e.ID, Change{Target: "Unübersetzt"}, jane, false)
	require.NoError(t, err)

	assert.Empty(t, h.entry(t, "web", "Untranslated").Target)
	assert.Equal(t, "1", commitCount(t, h.dir(t, "web")))
}

func TestApplyEdit_MissingUnit(t *testing.T) {
	h := newHarness(t)
	e := h.entry(t, "core", "Untranslated")
	dir := h.dir(t, "core")

	trimmed := dePO[:len(dePO)-len("\nmsgid \"Untranslated\"\nmsgstr \"\"\n")]
	require.NoError(t, os.WriteFile(filepath.Join(dir, "po", "de.po"), []byte(trimmed), 0644))

	saved, err := h.editor.ApplyEdit(context.Background(), e.ID, Change{Target: "x"}, jane, false)
	assert.False(t, saved)
	assert.True(t, errors.Is(err, catalog.ErrUnitNotFound))
}

func TestAcceptSuggestion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := h.entry(t, "core", "World")

	sg := &model.Suggestion{
		Checksum:   e.Checksum,
		Target:     "Welt!",
		UserName:   "bob",
		ProjectID:  e.Translation.Component.ProjectID,
		LanguageID: e.Translation.LanguageID,
	}
	require.NoError(t, h.store.AddSuggestion(ctx, sg))

	saved, err := h.editor.AcceptSuggestion(ctx, sg.ID, jane)
	require.NoError(t, err)
	assert.Equal(t, 2, saved)

	for _, component := range []string{"core", "web"} {
		got := h.entry(t, component, "World")
		assert.Equal(t, "Welt!", got.Target, component)
		assert.False(t, got.Fuzzy, component)
	}

	_, err = h.store.Suggestion(ctx, sg.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
