// Package language resolves language codes found in catalog file names to
// display names and gettext plural rules.
package language

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// DefaultPlural is used for languages without a known rule
var DefaultPlural = Plural{NPlurals: 2, Formula: "(n != 1)"}

// Plural is a gettext plural rule
type Plural struct {
	NPlurals int
	Formula  string
}

// Info describes one language
type Info struct {
	Code     string
	Name     string
	NPlurals int
	Plural   string
}

// PluralForm renders the Plural-Forms header value
func (i Info) PluralForm() string {
	return fmt.Sprintf("nplurals=%d; plural=%s;", i.NPlurals, i.Plural)
}

// Override replaces built-in values for one code. Zero fields keep the
// built-in value.
type Override struct {
	Code     string
	Name     string
	NPlurals int
	Plural   string
}

// Registry resolves language codes
type Registry struct {
	overrides map[string]Override
}

// NewRegistry creates a registry with the given overrides
func NewRegistry(overrides []Override) *Registry {
	r := &Registry{overrides: make(map[string]Override, len(overrides))}
	for _, o := range overrides {
		r.overrides[o.Code] = o
	}
	return r
}

// Lookup returns the language for code. Unknown codes get their code as name
// and the default plural rule.
func (r *Registry) Lookup(code string) Info {
	info := Info{Code: code, Name: code}

	tag, err := language.Parse(strings.ReplaceAll(code, "_", "-"))
	if err == nil {
		if name := display.English.Tags().Name(tag); name != "" {
			info.Name = name
		}
	}

	plural, ok := pluralRules[code]
	if !ok && err == nil {
		base, _ := tag.Base()
		plural, ok = pluralRules[base.String()]
	}
	if !ok {
		plural = DefaultPlural
	}
	info.NPlurals = plural.NPlurals
	info.Plural = plural.Formula

	if o, ok := r.overrides[code]; ok {
		if o.Name != "" {
			info.Name = o.Name
		}
		if o.NPlurals > 0 && o.Plural != "" {
			info.NPlurals = o.NPlurals
			info.Plural = o.Plural
		}
	}
	return info
}
