package replica

import (
	"sort"
	"sync"

	"setlist-sync/domain"
)

// Tracker projects the latest presence sync snapshot into "who is editing
// what" queries. It never mutates the document and keeps no history: each
// sync fully replaces the previous state.
type Tracker struct {
	localID string

	mu      sync.Mutex
	entries map[string]domain.PresenceEntry
}

// NewTracker creates a tracker that excludes localID from Others.
func NewTracker(localID string) *Tracker {
	return &Tracker{localID: localID, entries: map[string]domain.PresenceEntry{}}
}

// Apply replaces the snapshot. Entries are keyed by user id, so the latest
// entry for a user wins.
func (t *Tracker) Apply(snapshot []domain.PresenceEntry) {
	next := make(map[string]domain.PresenceEntry, len(snapshot))
	for _, e := range snapshot {
		if e.UserID == "" {
			continue
		}
		next[e.UserID] = e
	}
	t.mu.Lock()
	t.entries = next
	t.mu.Unlock()
}

// Others lists everyone except the local user, ordered by user id for stable
// display.
func (t *Tracker) Others() []domain.PresenceEntry {
	t.mu.Lock()
	out := make([]domain.PresenceEntry, 0, len(t.entries))
	for id, e := range t.entries {
		if id == t.localID {
			continue
		}
		out = append(out, e)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// WhoIsEditing reports the remote users focused on the given item, optionally
// narrowed to one field. An empty fieldName matches any field.
func (t *Tracker) WhoIsEditing(itemID, fieldName string) []domain.PresenceEntry {
	out := []domain.PresenceEntry{}
	for _, e := range t.Others() {
		if e.CurrentItemID != itemID {
			continue
		}
		if fieldName != "" && e.CurrentFieldName != fieldName {
			continue
		}
		out = append(out, e)
	}
	return out
}
