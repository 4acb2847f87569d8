package layout

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidLinkTemplate is returned for repository browser templates that
// cannot be rendered
var ErrInvalidLinkTemplate = errors.New("bad format string")

// ValidateLinkTemplate test-renders a repository browser template with
// file.po and line 9
func ValidateLinkTemplate(tmpl string) error {
	_, err := RenderLink(tmpl, "file.po", "9")
	return err
}

// RenderLink substitutes %(file)s and %(line)s placeholders. %% renders a
// literal percent sign; any other directive is an error.
func RenderLink(tmpl, file, line string) (string, error) {
	values := map[string]string{"file": file, "line": line}

	var b strings.Builder
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(tmpl) {
			return "", fmt.Errorf("%w: incomplete format at end of %q", ErrInvalidLinkTemplate, tmpl)
		}
		switch tmpl[i+1] {
		case '%':
			b.WriteByte('%')
			i++
		case '(':
			end := strings.IndexByte(tmpl[i+2:], ')')
			if end < 0 {
				return "", fmt.Errorf("%w: unterminated key in %q", ErrInvalidLinkTemplate, tmpl)
			}
			key := tmpl[i+2 : i+2+end]
			verb := i + 2 + end + 1
			if verb >= len(tmpl) || tmpl[verb] != 's' {
				return "", fmt.Errorf("%w: key %q must use the s conversion", ErrInvalidLinkTemplate, key)
			}
			v, ok := values[key]
			if !ok {
				return "", fmt.Errorf("%w: unknown key %q", ErrInvalidLinkTemplate, key)
			}
			b.WriteString(v)
			i = verb
		default:
			return "", fmt.Errorf("%w: unsupported directive %%%c", ErrInvalidLinkTemplate, tmpl[i+1])
		}
	}
	return b.String(), nil
}

// Location is one file:line reference of an entry
type Location struct {
	Text string
	File string
	Line string
	URL  string
}

// LocationLinks splits a comma separated location list and links each
// file:line pair through tmpl. Locations without a line are returned unlinked.
func LocationLinks(tmpl, locations string) ([]Location, error) {
	if strings.TrimSpace(locations) == "" {
		return nil, nil
	}
	var result []Location
	for _, loc := range strings.Split(locations, ",") {
		loc = strings.TrimSpace(loc)
		if loc == "" {
			continue
		}
		l := Location{Text: loc, File: loc}
		if i := strings.LastIndexByte(loc, ':'); i >= 0 {
			l.File, l.Line = loc[:i], loc[i+1:]
		}
		if tmpl != "" && l.Line != "" {
			url, err := RenderLink(tmpl, l.File, l.Line)
			if err != nil {
				return nil, err
			}
			l.URL = url
		}
		result = append(result, l)
	}
	return result, nil
}
