package layout

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestValidateLinkTemplate(t *testing.T) {
	tests := []struct {
		name    string
		tmpl    string
		wantErr bool
	}{
		{name: "file and line", tmpl: "%(file)s#L%(line)s", wantErr: false},
		{name: "full url", tmpl: "https://github.com/org/repo/blob/main/%(file)s#L%(line)s", wantErr: false},
		{name: "no placeholders", tmpl: "https://example.com/", wantErr: false},
		{name: "escaped percent", tmpl: "%(file)s?q=100%%", wantErr: false},
		{name: "wrong key", tmpl: "%(filename)s", wantErr: true},
		{name: "unterminated key", tmpl: "%(file", wantErr: true},
		{name: "wrong conversion", tmpl: "%(file)d", wantErr: true},
		{name: "positional directive", tmpl: "%s", wantErr: true},
		{name: "trailing percent", tmpl: "abc%", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLinkTemplate(tt.tmpl)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateLinkTemplate(%q) error = %v, wantErr %v", tt.tmpl, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidLinkTemplate) {
				t.Errorf("expected ErrInvalidLinkTemplate, got %v", err)
			}
		})
	}
}

func TestRenderLink(t *testing.T) {
	got, err := RenderLink("https://git.example.com/%(file)s#L%(line)s", "po/de.po", "42")
	if err != nil {
		t.Fatal(err)
	}
	if want := "https://git.example.com/po/de.po#L42"; got != want {
		t.Errorf("RenderLink() = %q, want %q", got, want)
	}
}

func TestLocationLinks(t *testing.T) {
	links, err := LocationLinks("%(file)s#L%(line)s", "src/main.c:10, src/util.c:7, README")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 3 {
		t.Fatalf("expected 3 links, got %d", len(links))
	}
	if links[0].URL != "src/main.c#L10" {
		t.Errorf("unexpected first link %q", links[0].URL)
	}
	if links[2].URL != "" {
		t.Errorf("location without line must not be linked, got %q", links[2].URL)
	}

	none, err := LocationLinks("%(file)s", "  ")
	if err != nil || none != nil {
		t.Errorf("expected no links for empty location, got %v, %v", none, err)
	}
}

func TestLangCode(t *testing.T) {
	tests := []struct {
		mask     string
		filename string
		want     string
		wantErr  bool
	}{
		{mask: "po/*.po", filename: "po/de.po", want: "de"},
		{mask: "locale/*/LC_MESSAGES/app.po", filename: "locale/pt_BR/LC_MESSAGES/app.po", want: "pt_BR"},
		{mask: "po/*.po", filename: "other/de.po", wantErr: true},
		{mask: "po/*.po*", filename: "po/de.po", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, err := LangCode(tt.mask, tt.filename)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LangCode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("LangCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "po"), 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"po/de.po", "po/cs.po", "po/messages.pot", "README"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	matches, err := Discover(dir, "po/*.po")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d: %v", len(matches), matches)
	}
	if matches[0] != (Match{Language: "cs", Filename: "po/cs.po"}) {
		t.Errorf("unexpected first match %+v", matches[0])
	}
	if matches[1] != (Match{Language: "de", Filename: "po/de.po"}) {
		t.Errorf("unexpected second match %+v", matches[1])
	}

	if _, err := Discover(dir, "po/de.po"); !errors.Is(err, ErrInvalidMask) {
		t.Errorf("expected ErrInvalidMask, got %v", err)
	}
}

func TestManagerPaths(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	p, err := m.EnsureProject("weblate")
	if err != nil {
		t.Fatal(err)
	}
	if p != filepath.Join(root, "weblate") {
		t.Errorf("unexpected project path %s", p)
	}
	if info, err := os.Stat(p); err != nil || !info.IsDir() {
		t.Fatalf("project directory not created: %v", err)
	}
	if got := m.ComponentPath("weblate", "core"); got != filepath.Join(root, "weblate", "core") {
		t.Errorf("unexpected component path %s", got)
	}
}
