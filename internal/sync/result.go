package sync

import "github.com/schaermu/posyncd/internal/model"

// Result summarizes the synchronization of one catalog
type Result struct {
	// Skipped is set when the catalog revision matched the stored one
	Skipped   bool
	Created   int
	Updated   int
	Unchanged int
	Deleted   int
	// Translation is the translation with refreshed counters
	Translation *model.Translation
}

// Changed reports whether any entry row was written or removed
func (r Result) Changed() bool {
	return r.Created+r.Updated+r.Deleted > 0
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeCreated
	outcomeUpdated
)
