package domain

import "github.com/google/uuid"

// ItemKind classifies a setlist entry.
type ItemKind string

const (
	KindSong   ItemKind = "song"
	KindPause  ItemKind = "pause"
	KindEncore ItemKind = "encore"
	KindAct    ItemKind = "act"
)

// Item is one entry of a setlist. Position is derived from array order and is
// recomputed after every structural change; it is never an independent truth.
type Item struct {
	ID           string            `json:"id"`
	Position     int               `json:"position"`
	Kind         ItemKind          `json:"kind"`
	Title        string            `json:"title"`
	Duration     string            `json:"duration,omitempty"`
	Artist       string            `json:"artist,omitempty"`
	Key          string            `json:"key,omitempty"`
	Notes        string            `json:"notes,omitempty"`
	CustomFields map[string]string `json:"customFields,omitempty"`
}

// NewItem creates an item with a fresh client-generated id.
func NewItem(kind ItemKind, title string) Item {
	return Item{ID: uuid.NewString(), Kind: kind, Title: title}
}

// Document is the shared setlist: ordered items plus event metadata.
// UpdatedAt is server-assigned and monotonically increasing; it is the sole
// authority for detecting concurrent writes.
type Document struct {
	ID            string `json:"id"`
	SchemaVersion int    `json:"schemaVersion"`
	Title         string `json:"title"`
	EventDate     string `json:"eventDate,omitempty"`
	StartTime     string `json:"startTime,omitempty"`
	Venue         string `json:"venue,omitempty"`
	Items         []Item `json:"items"`
	UpdatedAt     int64  `json:"updatedAt"`
	LastEditedBy  string `json:"lastEditedBy,omitempty"`
}

// SaveResult is what a successful conditional save returns.
type SaveResult struct {
	UpdatedAt    int64  `json:"updatedAt"`
	LastEditedBy string `json:"lastEditedBy"`
}

// Clone returns a deep copy so callers can hand out snapshots without
// aliasing the live item slice.
func (d Document) Clone() Document {
	out := d
	out.Items = make([]Item, len(d.Items))
	for i, it := range d.Items {
		out.Items[i] = it
		if it.CustomFields != nil {
			cf := make(map[string]string, len(it.CustomFields))
			for k, v := range it.CustomFields {
				cf[k] = v
			}
			out.Items[i].CustomFields = cf
		}
	}
	return out
}

func (d *Document) indexOf(itemID string) int {
	for i := range d.Items {
		if d.Items[i].ID == itemID {
			return i
		}
	}
	return -1
}

// Renumber recomputes Position as the contiguous sequence 1..N in array
// order. Called after every structural change, locally and on remote apply.
func (d *Document) Renumber() {
	for i := range d.Items {
		d.Items[i].Position = i + 1
	}
}

// InsertItem inserts item at index, clamped to [0, len(items)].
func (d *Document) InsertItem(item Item, index int) {
	if index < 0 {
		index = 0
	}
	if index > len(d.Items) {
		index = len(d.Items)
	}
	d.Items = append(d.Items, Item{})
	copy(d.Items[index+1:], d.Items[index:])
	d.Items[index] = item
	d.Renumber()
}

// RemoveItem deletes the item with the given id. Deleting an id that does not
// exist is a silent no-op; it reports whether anything was removed.
func (d *Document) RemoveItem(itemID string) bool {
	i := d.indexOf(itemID)
	if i < 0 {
		return false
	}
	d.Items = append(d.Items[:i], d.Items[i+1:]...)
	d.Renumber()
	return true
}

// SetItemField writes one field of one item, last write wins. Unknown field
// names land in the item's custom field map. The id and position fields are
// protected and rejected.
func (d *Document) SetItemField(itemID, field, value string) error {
	if IsProtectedField(field) {
		return ProtectedFieldError{Field: field}
	}
	i := d.indexOf(itemID)
	if i < 0 {
		return nil
	}
	it := &d.Items[i]
	switch field {
	case "kind":
		it.Kind = ItemKind(value)
	case "title":
		it.Title = value
	case "duration":
		it.Duration = value
	case "artist":
		it.Artist = value
	case "key":
		it.Key = value
	case "notes":
		it.Notes = value
	default:
		if it.CustomFields == nil {
			it.CustomFields = map[string]string{}
		}
		it.CustomFields[field] = value
	}
	return nil
}

// Reorder rearranges items to match the given id order. Ids that are no
// longer present locally are dropped silently; local items missing from the
// permutation keep their relative order and are appended after it.
func (d *Document) Reorder(itemIDs []string) {
	byID := make(map[string]int, len(d.Items))
	for i, it := range d.Items {
		byID[it.ID] = i
	}
	next := make([]Item, 0, len(d.Items))
	taken := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		i, ok := byID[id]
		if !ok || taken[id] {
			continue
		}
		taken[id] = true
		next = append(next, d.Items[i])
	}
	for _, it := range d.Items {
		if !taken[it.ID] {
			next = append(next, it)
		}
	}
	d.Items = next
	d.Renumber()
}

// MetadataFields are the document-level fields mutable through
// UPDATE_METADATA. Changing them requires the full editor role.
var MetadataFields = map[string]bool{
	"title":     true,
	"eventDate": true,
	"startTime": true,
	"venue":     true,
}

// SetMetadata writes one document-level metadata field.
func (d *Document) SetMetadata(field, value string) error {
	switch field {
	case "title":
		d.Title = value
	case "eventDate":
		d.EventDate = value
	case "startTime":
		d.StartTime = value
	case "venue":
		d.Venue = value
	default:
		return UnknownMetadataError{Field: field}
	}
	return nil
}

// IsProtectedField reports whether field must never travel in an UPDATE_ITEM
// payload.
func IsProtectedField(field string) bool {
	return field == "id" || field == "position"
}
