package replica

import (
	"context"
	"errors"
	"sync"

	"setlist-sync/domain"
)

// Fetcher is the read half of the persistence contract.
type Fetcher interface {
	FetchDocument(ctx context.Context, id string) (domain.Document, error)
}

// ConflictState is the resolver's user-visible condition.
type ConflictState int

const (
	// NoConflict: saves proceed normally.
	NoConflict ConflictState = iota
	// TransientFailure: last save failed recoverably; a dismissible notice
	// is shown and the next local edit retries.
	TransientFailure
	// Conflicted: the snapshot lost an optimistic-concurrency race. The
	// only recovery is discarding local state and reloading.
	Conflicted
)

// Resolver interprets save failures and drives the reload decision. On a
// conflict it offers exactly one recovery action: discard local state and
// refetch; there is no merge attempt.
type Resolver struct {
	mu              sync.Mutex
	state           ConflictState
	serverUpdatedAt int64
	lastErr         error
}

// NewResolver creates a resolver in NoConflict state.
func NewResolver() *Resolver {
	return &Resolver{}
}

// OnSaveError classifies a save failure.
func (r *Resolver) OnSaveError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var conflict domain.ConflictError
	if errors.As(err, &conflict) {
		r.state = Conflicted
		r.serverUpdatedAt = conflict.ServerUpdatedAt
		r.lastErr = err
		return
	}
	// Never downgrade a conflict to a transient notice.
	if r.state != Conflicted {
		r.state = TransientFailure
		r.lastErr = err
	}
}

// OnSaveSuccess clears a transient notice. A conflict is only cleared by
// Resolve.
func (r *Resolver) OnSaveSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == TransientFailure {
		r.state = NoConflict
		r.lastErr = nil
	}
}

// Dismiss removes a transient notice without any other effect.
func (r *Resolver) Dismiss() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == TransientFailure {
		r.state = NoConflict
		r.lastErr = nil
	}
}

// State returns the current condition and the server's updatedAt when
// conflicted.
func (r *Resolver) State() (ConflictState, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.serverUpdatedAt
}

// LastError returns the failure behind the current notice, if any.
func (r *Resolver) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Resolve performs the single recovery action: refetch the document so the
// caller can discard local state and rehydrate. It clears the conflict only
// when the fetch succeeds.
func (r *Resolver) Resolve(ctx context.Context, fetcher Fetcher, docID string) (domain.Document, error) {
	doc, err := fetcher.FetchDocument(ctx, docID)
	if err != nil {
		return domain.Document{}, err
	}
	r.mu.Lock()
	r.state = NoConflict
	r.serverUpdatedAt = 0
	r.lastErr = nil
	r.mu.Unlock()
	return doc, nil
}
