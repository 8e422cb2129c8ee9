package replica

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"setlist-sync/channel"
	"setlist-sync/domain"
)

func newSessionPair(t *testing.T, store *fakeStore) (*Session, *Session) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	a, err := Open(ctx, Config{
		DocID:    store.stored().ID,
		Identity: channel.Identity{UserID: "alice", DisplayName: "Alice"},
		Channel:  channel.New(rdb, nil),
		Store:    store,
		Debounce: 40 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(ctx) })

	b, err := Open(ctx, Config{
		DocID:    store.stored().ID,
		Identity: channel.Identity{UserID: "bob", DisplayName: "Bob"},
		Channel:  channel.New(rdb, nil),
		Store:    store,
		Debounce: 40 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	t.Cleanup(func() { _ = b.Close(ctx) })
	return a, b
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSessionsConvergeAndOnlyEditorSaves(t *testing.T) {
	store := &fakeStore{doc: domain.Document{ID: "doc-1", SchemaVersion: domain.SchemaVersion, Title: "Tour", Items: []domain.Item{}, UpdatedAt: 10}}
	a, b := newSessionPair(t, store)

	id, err := a.AddItem(domain.KindSong, "Thunder Road", 0)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool {
		doc := b.Document()
		return len(doc.Items) == 1 && doc.Items[0].ID == id && doc.Items[0].Position == 1
	}, "replica b never converged")

	// The originating replica saves once; the remote-only replica, having
	// seen the same change exclusively via the channel, never saves.
	waitUntil(t, 2*time.Second, func() bool { return store.saveCount() == 1 }, "save never issued")
	time.Sleep(150 * time.Millisecond)
	if n := store.saveCount(); n != 1 {
		t.Fatalf("expected exactly one save across both replicas, got %d", n)
	}
	if got := store.stored(); len(got.Items) != 1 || got.LastEditedBy != "Alice" {
		t.Fatalf("unexpected stored document: %+v", got)
	}

	// The save-ack propagated the fresh updatedAt to the remote replica.
	waitUntil(t, 2*time.Second, func() bool { return b.Document().UpdatedAt == store.stored().UpdatedAt }, "save ack never adopted by b")
}

func TestSessionConflictRequiresReload(t *testing.T) {
	store := &fakeStore{doc: domain.Document{ID: "doc-1", SchemaVersion: domain.SchemaVersion, Items: []domain.Item{}, UpdatedAt: 10}}
	a, _ := newSessionPair(t, store)

	// Another writer lands a save this replica never hears about.
	store.mu.Lock()
	store.doc.UpdatedAt = 50
	store.doc.Title = "Renamed elsewhere"
	store.mu.Unlock()

	if _, err := a.AddItem(domain.KindSong, "New song", 0); err != nil {
		t.Fatalf("add item: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool {
		state, _ := a.Conflict()
		return state == Conflicted
	}, "conflict never surfaced")
	if _, serverAt := a.Conflict(); serverAt != 50 {
		t.Fatalf("unexpected server updatedAt %d", serverAt)
	}

	// Local edits no longer trigger saves for the doomed snapshot.
	saves := store.saveCount()
	if err := a.UpdateItemField(a.Document().Items[0].ID, "title", "still typing"); err != nil {
		t.Fatalf("update: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if store.saveCount() != saves {
		t.Fatal("auto-save retried a conflicted snapshot")
	}

	// The one recovery action: discard local state and refetch.
	if err := a.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	state, _ := a.Conflict()
	if state != NoConflict {
		t.Fatalf("conflict not cleared after reload, state %d", state)
	}
	doc := a.Document()
	if doc.Title != "Renamed elsewhere" || doc.UpdatedAt != 50 || len(doc.Items) != 0 {
		t.Fatalf("local state not replaced by server snapshot: %+v", doc)
	}

	// Saving works again from the fresh expectation.
	if _, err := a.AddItem(domain.KindSong, "After reload", 0); err != nil {
		t.Fatalf("add item after reload: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool { return store.stored().UpdatedAt > 50 }, "save after reload never landed")
}

func TestSessionPresenceFlow(t *testing.T) {
	store := &fakeStore{doc: domain.Document{ID: "doc-1", SchemaVersion: domain.SchemaVersion, Items: []domain.Item{{ID: "s1", Kind: domain.KindSong, Title: "One", Position: 1}}, UpdatedAt: 10}}
	a, b := newSessionPair(t, store)

	if err := a.SetFocus(context.Background(), "s1", "title"); err != nil {
		t.Fatalf("set focus: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool {
		editors := b.WhoIsEditing("s1", "title")
		return len(editors) == 1 && editors[0].UserID == "alice"
	}, "b never saw alice's focus")

	if got := b.WhoIsEditing("s1", "notes"); len(got) != 0 {
		t.Fatalf("field filter failed: %+v", got)
	}

	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("close a: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool { return len(b.Others()) == 0 }, "alice's presence survived her disconnect")
}
