package domain

import (
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// SchemaVersion is the current persisted document shape.
const SchemaVersion = 2

// Version 1 stored items grouped into named sets instead of one flat ordered
// list. The upgrade flattens each set into an act marker followed by its
// items.
type legacyDocument struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	EventDate    string      `json:"eventDate,omitempty"`
	StartTime    string      `json:"startTime,omitempty"`
	Venue        string      `json:"venue,omitempty"`
	Sets         []legacySet `json:"sets"`
	UpdatedAt    int64       `json:"updatedAt"`
	LastEditedBy string      `json:"lastEditedBy,omitempty"`
}

type legacySet struct {
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

// DecodeDocument decodes a stored snapshot and upgrades legacy shapes to the
// current schema. It is the single place schema differences are handled;
// mutation logic only ever sees the current shape.
func DecodeDocument(raw []byte) (Document, error) {
	var probe struct {
		SchemaVersion int `json:"schemaVersion"`
	}
	if err := sonic.Unmarshal(raw, &probe); err != nil {
		return Document{}, err
	}
	if probe.SchemaVersion >= SchemaVersion {
		var doc Document
		if err := sonic.Unmarshal(raw, &doc); err != nil {
			return Document{}, err
		}
		if doc.Items == nil {
			doc.Items = []Item{}
		}
		doc.Renumber()
		return doc, nil
	}

	var legacy legacyDocument
	if err := sonic.Unmarshal(raw, &legacy); err != nil {
		return Document{}, err
	}
	return upgradeLegacy(legacy), nil
}

func upgradeLegacy(legacy legacyDocument) Document {
	doc := Document{
		ID:            legacy.ID,
		SchemaVersion: SchemaVersion,
		Title:         legacy.Title,
		EventDate:     legacy.EventDate,
		StartTime:     legacy.StartTime,
		Venue:         legacy.Venue,
		Items:         []Item{},
		UpdatedAt:     legacy.UpdatedAt,
		LastEditedBy:  legacy.LastEditedBy,
	}
	for _, set := range legacy.Sets {
		if set.Name != "" {
			doc.Items = append(doc.Items, Item{ID: uuid.NewString(), Kind: KindAct, Title: set.Name})
		}
		doc.Items = append(doc.Items, set.Items...)
	}
	doc.Renumber()
	return doc
}
