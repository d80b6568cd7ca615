// Package history defines the stored record of a completed query and the
// bounded newest-first list operations over it.
package history

import (
	"time"

	"github.com/xraph/getanswer/id"
)

// MaxItems is the number of entries retained by default.
const MaxItems = 50

// Entry is the durable record of one successful query.
type Entry struct {
	ID            id.HistoryID `json:"id"`
	ImageRef      *string      `json:"imageUri"`
	ExtractedText string       `json:"extractedText"`
	AnswerText    string       `json:"response"`
	Timestamp     time.Time    `json:"timestamp"`
}

// Prepend inserts e at the front of entries and drops the oldest entries
// beyond limit. The input slice is not modified.
func Prepend(entries []Entry, e Entry, limit int) []Entry {
	n := len(entries) + 1
	if limit > 0 && n > limit {
		n = limit
	}

	out := make([]Entry, 0, n)
	out = append(out, e)
	for _, existing := range entries {
		if len(out) == n {
			break
		}
		out = append(out, existing)
	}
	return out
}

// Remove returns entries without the one identified by entryID, and
// whether it was present.
func Remove(entries []Entry, entryID id.HistoryID) ([]Entry, bool) {
	out := make([]Entry, 0, len(entries))
	found := false
	for _, e := range entries {
		if e.ID.Equal(entryID) {
			found = true
			continue
		}
		out = append(out, e)
	}
	return out, found
}

// Find returns the entry with the given id.
func Find(entries []Entry, entryID id.HistoryID) (Entry, bool) {
	for _, e := range entries {
		if e.ID.Equal(entryID) {
			return e, true
		}
	}
	return Entry{}, false
}
