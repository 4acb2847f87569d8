// Package model holds the relational projection of projects, components and
// their catalogs.
package model

import (
	"fmt"
	"math"
	"time"

	"github.com/schaermu/posyncd/internal/catalog"
	"github.com/schaermu/posyncd/internal/layout"
)

// Project groups components sharing translators and propagation scope
type Project struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	Name         string `gorm:"size:100;not null"`
	Slug         string `gorm:"uniqueIndex;size:100;not null"`
	Web          string `gorm:"size:255"`
	Mail         string `gorm:"size:255"`
	Instructions string `gorm:"size:255"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Components   []Component
}

// Component is one repository with catalogs of a project
type Component struct {
	ID        uint    `gorm:"primaryKey;autoIncrement"`
	ProjectID uint    `gorm:"uniqueIndex:idx_component_project_slug;not null"`
	Project   Project `gorm:"constraint:OnDelete:CASCADE"`
	Name      string  `gorm:"size:100;not null"`
	Slug      string  `gorm:"uniqueIndex:idx_component_project_slug;size:100;not null"`
	Repo      string  `gorm:"size:255;not null"`
	Branch    string  `gorm:"size:50;not null"`
	FileMask  string  `gorm:"size:200;not null"`
	RepoWeb   string  `gorm:"size:200"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Language is created on demand from catalog file names
type Language struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	Code     string `gorm:"uniqueIndex;size:50;not null"`
	Name     string `gorm:"size:100;not null"`
	NPlurals int    `gorm:"not null;default:2"`
	Plural   string `gorm:"type:text;not null"`
}

// PluralForm renders the Plural-Forms header value
func (l Language) PluralForm() string {
	return fmt.Sprintf("nplurals=%d; plural=%s;", l.NPlurals, l.Plural)
}

// Translation is one catalog file of a component
type Translation struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	ComponentID uint      `gorm:"uniqueIndex:idx_translation_component_language;not null"`
	Component   Component `gorm:"constraint:OnDelete:CASCADE"`
	LanguageID  uint      `gorm:"uniqueIndex:idx_translation_component_language;not null"`
	Language    Language
	Revision    string `gorm:"size:40;not null;default:''"`
	Filename    string `gorm:"size:200;not null"`
	Translated  int    `gorm:"index;not null;default:0"`
	Fuzzy       int    `gorm:"index;not null;default:0"`
	Total       int    `gorm:"index;not null;default:0"`
}

// TranslatedPercent returns the share of translated entries
func (t Translation) TranslatedPercent() float64 {
	return Percent(t.Translated, t.Total)
}

// FuzzyPercent returns the share of fuzzy entries
func (t Translation) FuzzyPercent() float64 {
	return Percent(t.Fuzzy, t.Total)
}

// Entry is one catalog unit of a translation. Rows are written only by the
// synchronizer and the edit workflow through the store.
type Entry struct {
	ID            uint        `gorm:"primaryKey;autoIncrement"`
	TranslationID uint        `gorm:"index;not null"`
	Translation   Translation `gorm:"constraint:OnDelete:CASCADE"`
	Checksum      string      `gorm:"size:40;index;not null"`
	Location      string      `gorm:"type:text"`
	Context       string      `gorm:"type:text"`
	Comment       string      `gorm:"type:text"`
	Flags         string      `gorm:"type:text"`
	Source        string      `gorm:"type:text;not null"`
	Target        string      `gorm:"type:text"`
	Fuzzy         bool        `gorm:"index;not null;default:false"`
	Translated    bool        `gorm:"index;not null;default:false"`
	Position      int         `gorm:"index;not null"`
	UpdatedAt     time.Time
}

// IsPlural reports whether the source has plural forms
func (e Entry) IsPlural() bool {
	return catalog.IsPlural(e.Source)
}

// SourcePlurals returns the source forms
func (e Entry) SourcePlurals() []string {
	return catalog.SplitPlural(e.Source)
}

// TargetPlurals returns exactly nplurals target forms, padding with empty
// strings or dropping surplus forms
func (e Entry) TargetPlurals(nplurals int) []string {
	forms := catalog.SplitPlural(e.Target)
	if !e.IsPlural() {
		return forms[:1]
	}
	for len(forms) < nplurals {
		forms = append(forms, "")
	}
	if nplurals > 0 && len(forms) > nplurals {
		forms = forms[:nplurals]
	}
	return forms
}

// LocationLinks links the entry's locations through a repository browser
// template
func (e Entry) LocationLinks(repoweb string) ([]layout.Location, error) {
	return layout.LocationLinks(repoweb, e.Location)
}

// Suggestion is a proposed target for every entry with the checksum in the
// project and language
type Suggestion struct {
	ID         uint     `gorm:"primaryKey;autoIncrement"`
	Checksum   string   `gorm:"size:40;index;not null"`
	Target     string   `gorm:"type:text;not null"`
	UserName   string   `gorm:"size:100"`
	UserEmail  string   `gorm:"size:255"`
	ProjectID  uint     `gorm:"index;not null"`
	Project    Project  `gorm:"constraint:OnDelete:CASCADE"`
	LanguageID uint     `gorm:"index;not null"`
	Language   Language `gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time
}

// CheckKind names a quality check
type CheckKind string

// CheckSame flags entries whose translation equals the source
const CheckSame CheckKind = "same"

// Label returns the human readable name of the check
func (k CheckKind) Label() string {
	switch k {
	case CheckSame:
		return "Not translated"
	default:
		return string(k)
	}
}

// Check records whether a quality check is ignored for a checksum
type Check struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	Checksum   string    `gorm:"size:40;index;not null"`
	ProjectID  uint      `gorm:"index;not null"`
	Project    Project   `gorm:"constraint:OnDelete:CASCADE"`
	LanguageID uint      `gorm:"index;not null"`
	Language   Language  `gorm:"constraint:OnDelete:CASCADE"`
	Kind       CheckKind `gorm:"column:check_kind;size:20;not null"`
	Ignore     bool      `gorm:"column:is_ignored;index;not null;default:false"`
}

// Author is the identity recorded on commits
type Author struct {
	Name     string
	Email    string
	Username string
}

// Identity renders "Name <email>", falling back to the username when the
// full name is empty
func (a Author) Identity() string {
	name := a.Name
	if name == "" {
		name = a.Username
	}
	return name + " <" + a.Email + ">"
}

// Percent returns part of total in percent rounded to one decimal, 0 for an
// empty total
func Percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)*1000/float64(total)) / 10
}
