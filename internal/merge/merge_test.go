package merge

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

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

msgid "Hello"
msgstr "Hallo"

#, fuzzy
msgid "World"
msgstr "Welt"

msgid "Untranslated"
msgstr ""

msgid "Empty"
msgstr ""
`

const upload = `msgid ""
msgstr ""
"Content-Type: text/plain; charset=UTF-8\n"
"Language-Team: German <de@example.com>\n"

msgid "Hello"
msgstr "Hallo!"

msgid "World"
msgstr "Welt"

#, fuzzy
msgid "Untranslated"
msgstr "Unübersetzt"

msgid "Empty"
msgstr ""

msgid "Unknown"
msgstr "Unbekannt"
`

var jane = model.Author{Name: "Jane Doe", Email: "jane@example.com"}

type harness struct {
	store    *store.Store
	repos    *sync.Repositories
	importer *Importer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	var components []config.ComponentConfig
	for _, slug := range []string{"core", "web"} {
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
		Sync:     config.SyncConfig{Workers: 2},
		Projects: []config.ProjectConfig{{Name: "Demo", Slug: "demo", Components: components}},
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := store.New(testutil.OpenDB(t), logger)
	require.NoError(t, err)
	lm := layout.NewManager(cfg.Paths.GitRoot)
	repos := sync.NewRepositories(lm, git.Options{Logger: logger})
	synchronizer := sync.NewSynchronizer(st, lm, nil, logger)
	engine := sync.NewEngine(cfg, st, repos, synchronizer, language.NewRegistry(nil), nil, logger)
	require.NoError(t, engine.Run(context.Background(), sync.Options{}))

	return &harness{
		store:    st,
		repos:    repos,
		importer: NewImporter(st, repos, synchronizer, cfg.Commit, nil, logger),
	}
}

func (h *harness) translation(t *testing.T, component string) *model.Translation {
	t.Helper()
	ctx := context.Background()
	c, err := h.store.Component(ctx, "demo", component)
	require.NoError(t, err)
	tr, err := h.store.TranslationByCode(ctx, c.ID, "de")
	require.NoError(t, err)
	return tr
}

func (h *harness) entry(t *testing.T, component, source string) *model.Entry {
	t.Helper()
	tr := h.translation(t, component)
	e, err := h.store.EntryByChecksum(context.Background(), tr.ID, catalog.Checksum(source, ""))
	require.NoError(t, err)
	return e
}

func (h *harness) commits(t *testing.T, component string) string {
	t.Helper()
	tr := h.translation(t, component)
	gw, err := h.repos.Gateway(&tr.Component)
	require.NoError(t, err)
	return testutil.Git(t, gw.Dir(), "rev-list", "--count", "HEAD")
}

func parseUpload(t *testing.T, data string) catalog.Store {
	t.Helper()
	incoming, err := catalog.Parse("upload.po", []byte(data))
	require.NoError(t, err)
	return incoming
}

func TestMergeStore_SkipRules(t *testing.T) {
	h := newHarness(t)
	tr := h.translation(t, "core")

	committed, err := h.importer.MergeStore(context.Background(), tr, jane, parseUpload(t, upload), Options{})
	require.NoError(t, err)
	assert.True(t, committed)
	assert.Equal(t, "2", h.commits(t, "core"))

	// translated target is kept without overwrite, conflict marks it fuzzy
	hello := h.entry(t, "core", "Hello")
	assert.Equal(t, "Hallo", hello.Target)
	assert.True(t, hello.Fuzzy)

	// fuzzy target replaced by a confirmed incoming one
	world := h.entry(t, "core", "World")
	assert.Equal(t, "Welt", world.Target)
	assert.False(t, world.Fuzzy)
	assert.True(t, world.Translated)

	// fuzzy incoming unit is ignored without AcceptFuzzy
	assert.Empty(t, h.entry(t, "core", "Untranslated").Target)
	// empty incoming target leaves the unit alone
	assert.Empty(t, h.entry(t, "core", "Empty").Target)

	// unknown units are never invented
	_, err = h.store.EntryByChecksum(context.Background(), tr.ID, catalog.Checksum("Unknown", ""))
	assert.ErrorIs(t, err, store.ErrNotFound)

	// merge only touches the requested translation
	assert.Equal(t, "1", h.commits(t, "web"))
}

func TestMergeStore_OverwriteAndAcceptFuzzy(t *testing.T) {
	h := newHarness(t)
	tr := h.translation(t, "core")

	_, err := h.importer.MergeStore(context.Background(), tr, jane, parseUpload(t, upload), Options{Overwrite: true, AcceptFuzzy: true})
	require.NoError(t, err)

	hello := h.entry(t, "core", "Hello")
	assert.Equal(t, "Hallo!", hello.Target)
	assert.False(t, hello.Fuzzy)

	untranslated := h.entry(t, "core", "Untranslated")
	assert.Equal(t, "Unübersetzt", untranslated.Target)
	assert.True(t, untranslated.Fuzzy)

	updated := h.translation(t, "core")
	assert.Equal(t, 2, updated.Translated)
	assert.Equal(t, 1, updated.Fuzzy)
}

func TestMergeStore_HeaderIsMerged(t *testing.T) {
	h := newHarness(t)
	tr := h.translation(t, "core")

	_, err := h.importer.MergeStore(context.Background(), tr, jane, parseUpload(t, upload), Options{})
	require.NoError(t, err)

	gw, err := h.repos.Gateway(&tr.Component)
	require.NoError(t, err)
	cat, err := catalog.Open(filepath.Join(gw.Dir(), "po", "de.po"))
	require.NoError(t, err)
	assert.Equal(t, "German <de@example.com>", cat.Header().Field("Language-Team"))
	assert.Equal(t, "Jane Doe <jane@example.com>", cat.Header().Field("Last-Translator"))
}

func TestMergeStore_NothingApplicable(t *testing.T) {
	h := newHarness(t)
	tr := h.translation(t, "core")

	incoming := parseUpload(t, `msgid "Unknown"
msgstr "Unbekannt"

msgid "Empty"
msgstr ""
`)
	committed, err := h.importer.MergeStore(context.Background(), tr, jane, incoming, Options{})
	require.NoError(t, err)
	assert.False(t, committed)
	assert.Equal(t, "1", h.commits(t, "core"))
}

func TestMergeUpload_FansOutAcrossComponents(t *testing.T) {
	h := newHarness(t)
	tr := h.translation(t, "core")

	committed, err := h.importer.MergeUpload(context.Background(), tr, jane, parseUpload(t, upload), Options{Overwrite: true})
	require.NoError(t, err)
	assert.True(t, committed)

	for _, component := range []string{"core", "web"} {
		assert.Equal(t, "Hallo!", h.entry(t, component, "Hello").Target, component)
		assert.Equal(t, "2", h.commits(t, component), component)
	}
}
