package replica

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"setlist-sync/channel"
	"setlist-sync/domain"
)

// Store is the full persistence contract a session needs.
type Store interface {
	Saver
	Fetcher
}

// Config wires an editing session.
type Config struct {
	DocID    string
	Identity channel.Identity
	Channel  *channel.Client
	Store    Store
	Debounce time.Duration
	Logger   *log.Logger
}

// Session is one replica of a shared document: the local model, the broadcast
// channel, presence, the debounced writer and the conflict resolver, wired
// together. User input flows through the mutation methods; everything
// network-driven arrives through the channel handlers.
type Session struct {
	docID    string
	identity channel.Identity
	ch       *channel.Client
	store    Store
	logger   *log.Logger

	model    *Model
	writer   *Writer
	tracker  *Tracker
	resolver *Resolver
}

// Open fetches the document, hydrates the model, connects the channel and
// enables local-mutation side effects. Hydration happens in PhaseLoading so
// the initial load neither publishes nor schedules a save.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &Session{
		docID:    cfg.DocID,
		identity: cfg.Identity,
		ch:       cfg.Channel,
		store:    cfg.Store,
		logger:   logger,
	}
	s.tracker = NewTracker(cfg.Identity.UserID)
	s.resolver = NewResolver()
	s.model = NewModel(logger, s.publish, func() { s.writer.ScheduleSave() })
	s.writer = NewWriter(WriterConfig{
		Saver:     cfg.Store,
		Snapshot:  s.model.Document,
		Expected:  s.model.UpdatedAt,
		Editor:    cfg.Identity.DisplayName,
		Idle:      cfg.Debounce,
		Logger:    logger,
		OnSuccess: s.onSaveSuccess,
		OnError:   s.onSaveError,
	})

	doc, err := cfg.Store.FetchDocument(ctx, cfg.DocID)
	if err != nil {
		return nil, err
	}
	s.model.Hydrate(doc)

	s.ch.OnOperation(s.model.RemoteApply)
	s.ch.OnPresenceSync(s.tracker.Apply)
	s.ch.OnStateChange(func(st channel.State) {
		logger.WithFields(log.Fields{"doc": cfg.DocID, "state": st.String()}).Debug("channel state")
	})
	if err := s.ch.Connect(ctx, cfg.DocID, cfg.Identity); err != nil {
		return nil, err
	}

	s.model.SetReady()
	return s, nil
}

func (s *Session) publish(op domain.Operation) {
	if err := s.ch.Publish(context.Background(), op); err != nil {
		s.logger.WithFields(log.Fields{"doc": s.docID, "type": op.Type}).Errorf("publish: %v", err)
	}
}

func (s *Session) onSaveSuccess(res domain.SaveResult) {
	s.model.AdoptSaveResult(res)
	s.resolver.OnSaveSuccess()
	// Let the other replicas adopt the fresh updatedAt without refetching.
	s.publish(domain.NewSaveAck(res))
}

func (s *Session) onSaveError(err error) {
	s.resolver.OnSaveError(err)
}

// AddItem inserts a new item at index (clamped) and returns its id.
func (s *Session) AddItem(kind domain.ItemKind, title string, index int) (string, error) {
	item := domain.NewItem(kind, title)
	if err := s.model.LocalMutate(Change{Kind: domain.OpAddItem, Item: item, Index: index}); err != nil {
		return "", err
	}
	return item.ID, nil
}

// DeleteItem removes an item; deleting an unknown id is a no-op.
func (s *Session) DeleteItem(itemID string) error {
	return s.model.LocalMutate(Change{Kind: domain.OpDeleteItem, ItemID: itemID})
}

// UpdateItemField writes one field of one item, last write wins.
func (s *Session) UpdateItemField(itemID, field, value string) error {
	return s.model.LocalMutate(Change{Kind: domain.OpUpdateItem, ItemID: itemID, Field: field, Value: value})
}

// Reorder rearranges the items to the given id order.
func (s *Session) Reorder(itemIDs []string) error {
	return s.model.LocalMutate(Change{Kind: domain.OpReorderItems, ItemIDs: itemIDs})
}

// UpdateMetadata writes one document-level metadata field.
func (s *Session) UpdateMetadata(field, value string) error {
	return s.model.LocalMutate(Change{Kind: domain.OpUpdateMetadata, Field: field, Value: value})
}

// SetFocus announces which item and field the local user is editing.
func (s *Session) SetFocus(ctx context.Context, itemID, fieldName string) error {
	return s.ch.Track(ctx, itemID, fieldName)
}

// Document returns a snapshot of the local replica state.
func (s *Session) Document() domain.Document {
	return s.model.Document()
}

// Others lists the presence of every other connected user.
func (s *Session) Others() []domain.PresenceEntry {
	return s.tracker.Others()
}

// WhoIsEditing reports remote users focused on an item, optionally one field.
func (s *Session) WhoIsEditing(itemID, fieldName string) []domain.PresenceEntry {
	return s.tracker.WhoIsEditing(itemID, fieldName)
}

// Conflict exposes the resolver's current condition.
func (s *Session) Conflict() (ConflictState, int64) {
	return s.resolver.State()
}

// DismissNotice clears a transient save-failure notice.
func (s *Session) DismissNotice() {
	s.resolver.Dismiss()
}

// Reload is the single conflict recovery action: discard local state,
// refetch the document and resume saving from the fresh snapshot.
func (s *Session) Reload(ctx context.Context) error {
	doc, err := s.resolver.Resolve(ctx, s.store, s.docID)
	if err != nil {
		return err
	}
	s.model.Hydrate(doc)
	s.model.SetReady()
	s.writer.Resume()
	return nil
}

// Close ends the session: unsubscribes the channel and discards any pending
// debounced save.
func (s *Session) Close(ctx context.Context) error {
	err := s.ch.Disconnect(ctx)
	s.writer.Close()
	return err
}
