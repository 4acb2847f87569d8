// Package catalog reads and writes translation files. Every format exposes
// its messages as Units; format specific capabilities are advertised as
// Features.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrUnsupportedFormat is returned for files no backend can handle
	ErrUnsupportedFormat = errors.New("unsupported catalog format")
	// ErrUnitNotFound is returned by lookups without a match
	ErrUnitNotFound = errors.New("unit not found")
)

// Feature is a bitmask of optional store capabilities
type Feature uint

const (
	// FeatureHeader marks stores carrying a metadata header
	FeatureHeader Feature = 1 << iota
	// FeatureFuzzy marks stores that can persist the fuzzy flag
	FeatureFuzzy
	// FeatureContext marks stores that distinguish units by context
	FeatureContext
)

// Has reports whether all bits of f are set
func (f Feature) Has(flag Feature) bool {
	return f&flag == flag
}

// Unit is one message of a catalog. Source and target carry plural forms
// joined with PluralSeparator.
type Unit interface {
	ID() string
	Source() string
	Target() string
	Context() string
	Notes() string
	// Locations returns the comma separated file:line references
	Locations() string
	// Flags returns the comma separated format flags
	Flags() string
	IsFuzzy() bool
	MarkFuzzy(fuzzy bool)
	IsTranslated() bool
	IsTranslatable() bool
	IsHeader() bool
	IsPlural() bool
	SetTarget(target string)
	// Merge takes over the translation of other. Unless overwrite is set a
	// translated unit keeps its target and is only marked fuzzy on conflict.
	Merge(other Unit, overwrite bool)
}

// HeaderUpdate carries the metadata written on every edit
type HeaderUpdate struct {
	LastTranslator string
	RevisionDate   time.Time
	PluralForms    string
	Language       string
	Generator      string
}

// Header is the metadata capability of a store
type Header interface {
	Update(update HeaderUpdate)
	// Merge takes over the translator metadata of other when it has any
	Merge(other Store)
	Field(name string) string
}

// Store is a loaded catalog
type Store interface {
	// Units returns all units in file order
	Units() []Unit
	FindByID(id string) (Unit, error)
	FindBySource(source string) (Unit, error)
	// FindBySourceContext returns the unit with the given singular source
	// and context
	FindBySourceContext(source, context string) (Unit, error)
	Features() Feature
	// Header returns nil unless the store has FeatureHeader
	Header() Header
	Bytes() ([]byte, error)
	Save() error
	Path() string
}

// Open loads the catalog at path, picking the backend by extension
func Open(path string) (Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	s, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Parse loads a catalog from memory. name selects the backend and is used as
// save path.
func Parse(name string, data []byte) (Store, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".po", ".pot":
		return parsePO(name, data)
	case ".json":
		return parseJSON(name, data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
}

// writeFile replaces path atomically
func writeFile(path string, data []byte) error {
	if path == "" {
		return errors.New("catalog has no file path")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close catalog: %w", err)
	}
	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return fmt.Errorf("failed to set catalog permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace catalog: %w", err)
	}
	return nil
}

// mergeUnit implements the shared merge rule on top of the Unit accessors
func mergeUnit(u, other Unit, overwrite bool) {
	switch {
	case !u.IsTranslated() || overwrite:
		u.SetTarget(other.Target())
		if u.Source() != other.Source() || u.Context() != other.Context() {
			u.MarkFuzzy(true)
		} else {
			u.MarkFuzzy(other.IsFuzzy())
		}
	case !other.IsTranslated():
		if u.Source() != other.Source() {
			u.MarkFuzzy(true)
		}
	default:
		if u.Target() != other.Target() {
			u.MarkFuzzy(true)
		}
	}
}
