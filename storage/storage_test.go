package storage

import (
	"encoding/json"
	"testing"

	"setlist-sync/domain"
)

func TestDecodeDocumentEntity(t *testing.T) {
	data := []byte(`{"PartitionKey":"d1","RowKey":"d1","Body":"{\"id\":\"d1\",\"schemaVersion\":2,\"title\":\"Tour\",\"items\":[{\"id\":\"a\",\"kind\":\"song\",\"title\":\"One\"}]}","SchemaVersion":2,"UpdatedAt":42,"LastEditedBy":"Alice"}`)
	doc, err := decodeDocumentEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.ID != "d1" || doc.Title != "Tour" || len(doc.Items) != 1 {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if doc.UpdatedAt != 42 || doc.LastEditedBy != "Alice" {
		t.Fatalf("table columns not authoritative: %+v", doc)
	}
	if doc.Items[0].Position != 1 {
		t.Fatalf("positions not recomputed on load: %+v", doc.Items)
	}
}

func TestEncodeDocumentEntityRoundTrip(t *testing.T) {
	doc := domain.Document{ID: "d1", Title: "Tour", Items: []domain.Item{{ID: "a", Kind: domain.KindSong, Title: "One"}}}
	data, err := encodeDocumentEntity(doc, 77, "Bob")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var ent documentEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		t.Fatalf("unmarshal entity: %v", err)
	}
	if ent.PartitionKey != "d1" || ent.RowKey != "d1" {
		t.Fatalf("unexpected keys: %+v", ent.Entity)
	}
	if ent.UpdatedAt != 77 || ent.LastEditedBy != "Bob" || ent.SchemaVersion != domain.SchemaVersion {
		t.Fatalf("unexpected columns: %+v", ent)
	}
	round, err := decodeDocumentEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if round.Title != "Tour" || round.UpdatedAt != 77 {
		t.Fatalf("round trip lost data: %+v", round)
	}
}

func TestNextTimestampStrictlyIncreases(t *testing.T) {
	prev := nextTimestamp()
	for i := 0; i < 1000; i++ {
		ts := nextTimestamp()
		if ts <= prev {
			t.Fatalf("timestamp regressed: %d after %d", ts, prev)
		}
		prev = ts
	}
}

func BenchmarkNextTimestamp(b *testing.B) {
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			nextTimestamp()
		}
	})
}
