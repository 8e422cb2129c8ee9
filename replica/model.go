package replica

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"setlist-sync/domain"
)

// Phase gates side effects of local mutations. While the session is still
// hydrating from the store, local mutations apply in memory but neither
// publish nor schedule a save.
type Phase int32

const (
	PhaseLoading Phase = iota
	PhaseReady
)

// Change is the internal mutation shape shared by the local and remote apply
// paths. Kind reuses the operation type constants.
type Change struct {
	Kind      string
	Item      domain.Item
	Index     int
	ItemID    string
	Field     string
	Value     string
	ItemIDs   []string
	UpdatedAt int64
}

// Model holds this replica's in-memory copy of the document. It exposes two
// disjoint mutation surfaces over one internal apply routine: LocalMutate
// publishes and schedules persistence, RemoteApply does neither. The split
// into two call paths is what prevents rebroadcast loops and save storms;
// there is deliberately no shared is-remote flag.
type Model struct {
	mu     sync.Mutex
	doc    domain.Document
	phase  Phase
	logger *log.Logger

	publish  func(domain.Operation)
	schedule func()
}

// NewModel creates a model in PhaseLoading. publish and schedule are invoked
// after successful local mutations once the model is ready.
func NewModel(logger *log.Logger, publish func(domain.Operation), schedule func()) *Model {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Model{logger: logger, publish: publish, schedule: schedule}
}

// Hydrate replaces the document wholesale and is used at session start and
// after a conflict reload. It keeps the model in PhaseLoading; call SetReady
// once hydration is complete.
func (m *Model) Hydrate(doc domain.Document) {
	m.mu.Lock()
	m.doc = doc.Clone()
	m.doc.Renumber()
	m.phase = PhaseLoading
	m.mu.Unlock()
}

// SetReady enables LocalMutate side effects.
func (m *Model) SetReady() {
	m.mu.Lock()
	m.phase = PhaseReady
	m.mu.Unlock()
}

// Phase returns the current session phase.
func (m *Model) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Document returns a snapshot copy of the current state.
func (m *Model) Document() domain.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.Clone()
}

// UpdatedAt returns the last stored updatedAt this replica knows about.
func (m *Model) UpdatedAt() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.UpdatedAt
}

// AdoptSaveResult records the outcome of a successful save so later
// conditional writes carry the fresh expectation.
func (m *Model) AdoptSaveResult(res domain.SaveResult) {
	m.mu.Lock()
	m.doc.UpdatedAt = res.UpdatedAt
	m.doc.LastEditedBy = res.LastEditedBy
	m.mu.Unlock()
}

// LocalMutate applies a user-driven change, then publishes the matching
// operation and schedules a save. Both effects are suppressed while loading.
func (m *Model) LocalMutate(change Change) error {
	m.mu.Lock()
	if err := m.apply(change); err != nil {
		m.mu.Unlock()
		return err
	}
	ready := m.phase == PhaseReady
	m.mu.Unlock()

	if !ready {
		return nil
	}
	if m.publish != nil {
		op, err := operationFor(change)
		if err != nil {
			return err
		}
		if op.Type != "" {
			m.publish(op)
		}
	}
	if m.schedule != nil {
		m.schedule()
	}
	return nil
}

// RemoteApply applies a network-delivered operation. It never publishes and
// never schedules a save. Unknown operation types are dropped silently for
// forward compatibility; malformed payloads are dropped and logged.
func (m *Model) RemoteApply(op domain.Operation) {
	change, ok, err := changeFor(op)
	if err != nil {
		m.logger.WithFields(log.Fields{"type": op.Type, "from": op.OriginatorID}).Debugf("malformed operation dropped: %v", err)
		return
	}
	if !ok {
		m.logger.WithField("type", op.Type).Debug("unrecognized operation type ignored")
		return
	}
	m.mu.Lock()
	if err := m.apply(change); err != nil {
		m.logger.WithFields(log.Fields{"type": op.Type, "from": op.OriginatorID}).Debugf("remote operation rejected: %v", err)
	}
	m.mu.Unlock()
}

// apply is the single mutation routine behind both entry points. Callers
// hold m.mu.
func (m *Model) apply(change Change) error {
	switch change.Kind {
	case domain.OpAddItem:
		m.doc.InsertItem(change.Item, change.Index)
	case domain.OpDeleteItem:
		m.doc.RemoveItem(change.ItemID)
	case domain.OpUpdateItem:
		return m.doc.SetItemField(change.ItemID, change.Field, change.Value)
	case domain.OpReorderItems:
		m.doc.Reorder(change.ItemIDs)
	case domain.OpUpdateMetadata:
		return m.doc.SetMetadata(change.Field, change.Value)
	case domain.OpSaveAck:
		// Another replica persisted; adopt its updatedAt so our next save
		// carries the right expectation.
		if change.UpdatedAt > m.doc.UpdatedAt {
			m.doc.UpdatedAt = change.UpdatedAt
			m.doc.LastEditedBy = change.Value
		}
	}
	return nil
}

func operationFor(change Change) (domain.Operation, error) {
	switch change.Kind {
	case domain.OpAddItem:
		return domain.NewAddItem(change.Item, change.Index), nil
	case domain.OpDeleteItem:
		return domain.NewDeleteItem(change.ItemID), nil
	case domain.OpUpdateItem:
		return domain.NewUpdateItem(change.ItemID, change.Field, change.Value)
	case domain.OpReorderItems:
		return domain.NewReorderItems(change.ItemIDs), nil
	case domain.OpUpdateMetadata:
		return domain.NewUpdateMetadata(change.Field, change.Value), nil
	}
	return domain.Operation{}, nil
}

// changeFor converts a wire operation into the internal change shape. The
// second return reports whether the type was recognized.
func changeFor(op domain.Operation) (Change, bool, error) {
	switch op.Type {
	case domain.OpAddItem:
		var p domain.AddItemPayload
		if err := op.DecodePayload(&p); err != nil {
			return Change{}, true, err
		}
		return Change{Kind: op.Type, Item: p.Item, Index: p.Index}, true, nil
	case domain.OpDeleteItem:
		var p domain.DeleteItemPayload
		if err := op.DecodePayload(&p); err != nil {
			return Change{}, true, err
		}
		return Change{Kind: op.Type, ItemID: p.ItemID}, true, nil
	case domain.OpUpdateItem:
		var p domain.UpdateItemPayload
		if err := op.DecodePayload(&p); err != nil {
			return Change{}, true, err
		}
		if domain.IsProtectedField(p.Field) {
			return Change{}, true, domain.ProtectedFieldError{Field: p.Field}
		}
		return Change{Kind: op.Type, ItemID: p.ItemID, Field: p.Field, Value: p.Value}, true, nil
	case domain.OpReorderItems:
		var p domain.ReorderItemsPayload
		if err := op.DecodePayload(&p); err != nil {
			return Change{}, true, err
		}
		return Change{Kind: op.Type, ItemIDs: p.ItemIDs}, true, nil
	case domain.OpUpdateMetadata:
		var p domain.UpdateMetadataPayload
		if err := op.DecodePayload(&p); err != nil {
			return Change{}, true, err
		}
		return Change{Kind: op.Type, Field: p.Field, Value: p.Value}, true, nil
	case domain.OpSaveAck:
		var p domain.SaveAckPayload
		if err := op.DecodePayload(&p); err != nil {
			return Change{}, true, err
		}
		return Change{Kind: op.Type, UpdatedAt: p.UpdatedAt, Value: p.LastEditedBy}, true, nil
	}
	return Change{}, false, nil
}
