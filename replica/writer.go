package replica

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"setlist-sync/domain"
)

// DefaultDebounce is the idle window after the last local edit before a save
// is issued.
const DefaultDebounce = 2 * time.Second

// Saver is the conditional-write half of the persistence contract. The save
// succeeds only if the stored updatedAt still equals expectedUpdatedAt; on a
// mismatch it fails with domain.ConflictError and leaves stored data intact.
type Saver interface {
	SaveDocument(ctx context.Context, doc domain.Document, expectedUpdatedAt int64, editor string) (domain.SaveResult, error)
}

// Writer coalesces bursts of local edits into one conditional save per idle
// window. ScheduleSave is called only from the local mutation path; remote
// applies never reach it. The save payload is always the state current at
// expiry, not at schedule time.
type Writer struct {
	saver    Saver
	snapshot func() domain.Document
	expected func() int64
	editor   string
	idle     time.Duration
	logger   *log.Logger

	onSuccess func(domain.SaveResult)
	onError   func(error)

	mu        sync.Mutex
	timer     *time.Timer
	suspended bool
	closed    bool
	inflight  sync.WaitGroup
}

// WriterConfig wires a Writer to its session.
type WriterConfig struct {
	Saver    Saver
	Snapshot func() domain.Document
	Expected func() int64
	Editor   string
	Idle     time.Duration
	Logger   *log.Logger

	// OnSuccess runs after a save is accepted; OnError receives both
	// conflict and transient failures.
	OnSuccess func(domain.SaveResult)
	OnError   func(error)
}

// NewWriter creates a debounced persistence writer.
func NewWriter(cfg WriterConfig) *Writer {
	if cfg.Idle <= 0 {
		cfg.Idle = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	return &Writer{
		saver:     cfg.Saver,
		snapshot:  cfg.Snapshot,
		expected:  cfg.Expected,
		editor:    cfg.Editor,
		idle:      cfg.Idle,
		logger:    cfg.Logger,
		onSuccess: cfg.OnSuccess,
		onError:   cfg.OnError,
	}
}

// ScheduleSave resets the idle timer. Multiple calls within the window
// collapse into exactly one save reflecting the state at expiry.
func (w *Writer) ScheduleSave() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.suspended {
		return
	}
	if w.timer != nil {
		w.timer.Reset(w.idle)
		return
	}
	w.timer = time.AfterFunc(w.idle, w.flush)
}

func (w *Writer) flush() {
	w.mu.Lock()
	if w.closed || w.suspended {
		w.timer = nil
		w.mu.Unlock()
		return
	}
	w.timer = nil
	w.inflight.Add(1)
	w.mu.Unlock()
	defer w.inflight.Done()

	doc := w.snapshot()
	expected := w.expected()

	res, err := w.saver.SaveDocument(context.Background(), doc, expected, w.editor)
	if err != nil {
		var conflict domain.ConflictError
		if errors.As(err, &conflict) {
			// Fatal for this snapshot: retrying would conflict again.
			// The resolver owns recovery from here.
			w.mu.Lock()
			w.suspended = true
			if w.timer != nil {
				w.timer.Stop()
				w.timer = nil
			}
			w.mu.Unlock()
			w.logger.WithFields(log.Fields{"doc": doc.ID, "server_updated_at": conflict.ServerUpdatedAt}).Warn("save rejected, document changed concurrently")
		} else {
			// Transient: keep local state, retry on the next natural
			// edit-triggered debounce cycle only.
			w.logger.WithField("doc", doc.ID).Errorf("save failed: %v", err)
		}
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	w.logger.WithFields(log.Fields{"doc": doc.ID, "updated_at": res.UpdatedAt}).Debug("document saved")
	if w.onSuccess != nil {
		w.onSuccess(res)
	}
}

// Resume lifts the post-conflict suspension after the session reloaded a
// fresh snapshot.
func (w *Writer) Resume() {
	w.mu.Lock()
	w.suspended = false
	w.mu.Unlock()
}

// Suspended reports whether auto-saving is stopped pending a reload.
func (w *Writer) Suspended() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.suspended
}

// Close cancels any pending debounce; a scheduled but unfired save is
// discarded. It waits for an in-flight save to finish.
func (w *Writer) Close() {
	w.mu.Lock()
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	w.inflight.Wait()
}
