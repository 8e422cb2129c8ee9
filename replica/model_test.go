package replica

import (
	"testing"

	"setlist-sync/domain"
)

type effects struct {
	published []domain.Operation
	scheduled int
}

func newTestModel(t *testing.T) (*Model, *effects) {
	t.Helper()
	eff := &effects{}
	m := NewModel(nil,
		func(op domain.Operation) { eff.published = append(eff.published, op) },
		func() { eff.scheduled++ },
	)
	m.Hydrate(domain.Document{ID: "doc-1", Items: []domain.Item{}})
	m.SetReady()
	return m, eff
}

func stamped(op domain.Operation, from string) domain.Operation {
	op.OriginatorID = from
	op.OriginatorName = from
	op.SentAt = 1
	return op
}

func TestLocalMutatePublishesAndSchedules(t *testing.T) {
	m, eff := newTestModel(t)
	item := domain.NewItem(domain.KindSong, "Opener")
	if err := m.LocalMutate(Change{Kind: domain.OpAddItem, Item: item, Index: 0}); err != nil {
		t.Fatalf("local mutate: %v", err)
	}
	if len(eff.published) != 1 || eff.published[0].Type != domain.OpAddItem {
		t.Fatalf("unexpected publishes: %+v", eff.published)
	}
	if eff.scheduled != 1 {
		t.Fatalf("expected 1 scheduled save, got %d", eff.scheduled)
	}
	doc := m.Document()
	if len(doc.Items) != 1 || doc.Items[0].Position != 1 {
		t.Fatalf("unexpected document: %+v", doc.Items)
	}
}

func TestRemoteApplyNeverPublishesOrSchedules(t *testing.T) {
	m, eff := newTestModel(t)
	ops := []domain.Operation{
		stamped(domain.NewAddItem(domain.Item{ID: "x", Kind: domain.KindSong, Title: "X"}, 0), "other"),
		stamped(domain.NewReorderItems([]string{"x"}), "other"),
		stamped(domain.NewDeleteItem("x"), "other"),
	}
	for _, op := range ops {
		m.RemoteApply(op)
	}
	if len(eff.published) != 0 {
		t.Fatalf("remote apply published: %+v", eff.published)
	}
	if eff.scheduled != 0 {
		t.Fatalf("remote apply scheduled %d saves", eff.scheduled)
	}
}

func TestLoadingPhaseSuppressesSideEffects(t *testing.T) {
	eff := &effects{}
	m := NewModel(nil,
		func(op domain.Operation) { eff.published = append(eff.published, op) },
		func() { eff.scheduled++ },
	)
	m.Hydrate(domain.Document{ID: "doc-1"})
	if err := m.LocalMutate(Change{Kind: domain.OpAddItem, Item: domain.NewItem(domain.KindSong, "Hydrated"), Index: 0}); err != nil {
		t.Fatalf("local mutate: %v", err)
	}
	if len(eff.published) != 0 || eff.scheduled != 0 {
		t.Fatalf("loading phase leaked side effects: %d published, %d scheduled", len(eff.published), eff.scheduled)
	}
	if len(m.Document().Items) != 1 {
		t.Fatal("mutation itself must still apply while loading")
	}
}

func TestAddBroadcastScenario(t *testing.T) {
	// Replica A (empty) adds X at index 0 and broadcasts; replica B (empty)
	// receives it. Both end with one item, position 1.
	a, effA := newTestModel(t)
	b, _ := newTestModel(t)

	x := domain.Item{ID: "x", Kind: domain.KindSong, Title: "X"}
	if err := a.LocalMutate(Change{Kind: domain.OpAddItem, Item: x, Index: 0}); err != nil {
		t.Fatalf("local mutate: %v", err)
	}
	b.RemoteApply(stamped(effA.published[0], "a"))

	for name, m := range map[string]*Model{"a": a, "b": b} {
		doc := m.Document()
		if len(doc.Items) != 1 || doc.Items[0].Title != "X" || doc.Items[0].Position != 1 {
			t.Fatalf("replica %s: unexpected state %+v", name, doc.Items)
		}
	}
}

func TestConcurrentDeleteScenario(t *testing.T) {
	// A holds [S1 S2 S3] and deletes S3; B additionally holds a local S4 not
	// yet seen by A. After remote apply B holds [S1 S2 S4], positions 1..3.
	a, effA := newTestModel(t)
	b, _ := newTestModel(t)
	for i, id := range []string{"s1", "s2", "s3"} {
		change := Change{Kind: domain.OpAddItem, Item: domain.Item{ID: id, Kind: domain.KindSong, Title: id}, Index: i}
		if err := a.LocalMutate(change); err != nil {
			t.Fatalf("seed a: %v", err)
		}
		if err := b.LocalMutate(change); err != nil {
			t.Fatalf("seed b: %v", err)
		}
	}
	if err := b.LocalMutate(Change{Kind: domain.OpAddItem, Item: domain.Item{ID: "s4", Kind: domain.KindSong, Title: "s4"}, Index: 3}); err != nil {
		t.Fatalf("seed s4: %v", err)
	}

	effA.published = nil
	if err := a.LocalMutate(Change{Kind: domain.OpDeleteItem, ItemID: "s3"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	aDoc := a.Document()
	if len(aDoc.Items) != 2 || aDoc.Items[0].Position != 1 || aDoc.Items[1].Position != 2 {
		t.Fatalf("unexpected a state: %+v", aDoc.Items)
	}

	b.RemoteApply(stamped(effA.published[0], "a"))
	bDoc := b.Document()
	want := []string{"s1", "s2", "s4"}
	if len(bDoc.Items) != 3 {
		t.Fatalf("unexpected b state: %+v", bDoc.Items)
	}
	for i, id := range want {
		if bDoc.Items[i].ID != id || bDoc.Items[i].Position != i+1 {
			t.Fatalf("unexpected b order: %+v", bDoc.Items)
		}
	}
}

func TestRemoteApplyIgnoresUnknownType(t *testing.T) {
	m, _ := newTestModel(t)
	if err := m.LocalMutate(Change{Kind: domain.OpAddItem, Item: domain.Item{ID: "a"}, Index: 0}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	m.RemoteApply(domain.Operation{Type: "SPLIT_SET", OriginatorID: "other"})
	if len(m.Document().Items) != 1 {
		t.Fatal("unknown operation must be a no-op")
	}
}

func TestRemoteApplyDropsProtectedFieldUpdate(t *testing.T) {
	m, _ := newTestModel(t)
	if err := m.LocalMutate(Change{Kind: domain.OpAddItem, Item: domain.Item{ID: "a"}, Index: 0}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	op := domain.Operation{Type: domain.OpUpdateItem, OriginatorID: "other", Payload: []byte(`{"itemId":"a","field":"position","value":"9"}`)}
	m.RemoteApply(op)
	if m.Document().Items[0].Position != 1 {
		t.Fatalf("protected field written remotely: %+v", m.Document().Items[0])
	}
}

func TestSaveAckAdoptsNewerUpdatedAt(t *testing.T) {
	m, eff := newTestModel(t)
	m.RemoteApply(stamped(domain.NewSaveAck(domain.SaveResult{UpdatedAt: 99, LastEditedBy: "Bob"}), "bob"))
	doc := m.Document()
	if doc.UpdatedAt != 99 || doc.LastEditedBy != "Bob" {
		t.Fatalf("save ack not adopted: %+v", doc)
	}
	// Stale ack must not move updatedAt backwards.
	m.RemoteApply(stamped(domain.NewSaveAck(domain.SaveResult{UpdatedAt: 40, LastEditedBy: "Carol"}), "carol"))
	if m.UpdatedAt() != 99 {
		t.Fatalf("stale ack regressed updatedAt to %d", m.UpdatedAt())
	}
	if eff.scheduled != 0 {
		t.Fatal("save ack must not schedule a save")
	}
}

func TestUpdateItemLastWriteWinsAcrossPaths(t *testing.T) {
	m, _ := newTestModel(t)
	if err := m.LocalMutate(Change{Kind: domain.OpAddItem, Item: domain.Item{ID: "a"}, Index: 0}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := m.LocalMutate(Change{Kind: domain.OpUpdateItem, ItemID: "a", Field: "title", Value: "local"}); err != nil {
		t.Fatalf("local update: %v", err)
	}
	remote, err := domain.NewUpdateItem("a", "title", "remote")
	if err != nil {
		t.Fatalf("build op: %v", err)
	}
	m.RemoteApply(stamped(remote, "other"))
	if got := m.Document().Items[0].Title; got != "remote" {
		t.Fatalf("expected last write to win, got %q", got)
	}
}
