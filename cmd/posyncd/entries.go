package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/schaermu/posyncd/internal/catalog"
	"github.com/schaermu/posyncd/internal/layout"
	"github.com/schaermu/posyncd/internal/model"
	"github.com/schaermu/posyncd/internal/store"
)

// filters accepted by the entries command
const (
	filterAll          = "all"
	filterUntranslated = "untranslated"
	filterFuzzy        = "fuzzy"
	filterSuggestions  = "suggestions"
)

// entryRow is one line of the entries table
type entryRow struct {
	entry       model.Entry
	suggestions int
	ignored     []string
	locations   []layout.Location
}

// listEntries returns the entries of tr passing filter, in file order.
// Untranslated includes fuzzy entries.
func listEntries(ctx context.Context, st *store.Store, tr *model.Translation, filter string) ([]entryRow, error) {
	switch filter {
	case filterAll, filterUntranslated, filterFuzzy, filterSuggestions:
	default:
		return nil, fmt.Errorf("unknown filter %q (want %s, %s, %s or %s)",
			filter, filterAll, filterUntranslated, filterFuzzy, filterSuggestions)
	}

	entries, err := st.Entries(ctx, tr.ID)
	if err != nil {
		return nil, err
	}

	projectID := tr.Component.ProjectID
	var rows []entryRow
	for _, e := range entries {
		if filter == filterUntranslated && e.Translated {
			continue
		}
		if filter == filterFuzzy && !e.Fuzzy {
			continue
		}

		suggestions, err := st.Suggestions(ctx, e.Checksum, projectID, tr.LanguageID)
		if err != nil {
			return nil, err
		}
		if filter == filterSuggestions && len(suggestions) == 0 {
			continue
		}
		checks, err := st.IgnoredChecks(ctx, e.Checksum, projectID, tr.LanguageID)
		if err != nil {
			return nil, err
		}
		locations, err := e.LocationLinks(tr.Component.RepoWeb)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", e.ID, err)
		}

		row := entryRow{entry: e, suggestions: len(suggestions), locations: locations}
		for _, c := range checks {
			row.ignored = append(row.ignored, string(c.Kind))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (r entryRow) state() string {
	switch {
	case r.entry.Fuzzy:
		return "fuzzy"
	case r.entry.Translated:
		return "translated"
	}
	return "untranslated"
}

func printEntries(out io.Writer, rows []entryRow, nplurals int) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATE\tSUGGESTIONS\tIGNORED\tSOURCE\tTARGET\tLOCATION")
	for _, r := range rows {
		target := catalog.SplitPlural(r.entry.Target)
		if r.entry.IsPlural() {
			target = r.entry.TargetPlurals(nplurals)
		}
		ignored := "-"
		if len(r.ignored) > 0 {
			ignored = strings.Join(r.ignored, ",")
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\t%s\n",
			r.entry.ID, r.state(), r.suggestions, ignored,
			quoteForms(r.entry.SourcePlurals()), quoteForms(target), formatLocations(r.locations))
	}
	return w.Flush()
}

// quoteForms quotes each plural form and separates them with " | "
func quoteForms(forms []string) string {
	quoted := make([]string, len(forms))
	for i, f := range forms {
		quoted[i] = strconv.Quote(f)
	}
	return strings.Join(quoted, " | ")
}

// formatLocations prefers the repository browser link of each location
func formatLocations(locations []layout.Location) string {
	if len(locations) == 0 {
		return "-"
	}
	parts := make([]string, len(locations))
	for i, l := range locations {
		parts[i] = l.Text
		if l.URL != "" {
			parts[i] = l.URL
		}
	}
	return strings.Join(parts, " ")
}
