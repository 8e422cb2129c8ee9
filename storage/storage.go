package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"setlist-sync/domain"
)

// Storage is the durable document store. One table row per document; the
// conditional save is an atomic compare-and-swap on the row's UpdatedAt,
// backed by the table ETag so two racing writers cannot both win.
type Storage struct {
	docTable   *aztables.Client
	savedQueue queueClient
	notify     *notifier
	logger     *log.Logger
}

// queueClient is the slice of the azqueue client the saved-events path needs.
type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// New creates a Storage instance from the given connection string.
func New(connStr, documentsTable, savedQueueName string, logger *log.Logger) (*Storage, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	dt := svc.NewClient(documentsTable)

	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	sq, err := azqueue.NewQueueClientFromConnectionString(connStr, savedQueueName, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	s := &Storage{docTable: dt, savedQueue: sq, logger: logger}
	s.notify = newNotifier(sq, logger)
	s.notify.start()
	return s, nil
}

// Close drains the saved-events notifier. Safe to call once at shutdown.
func (s *Storage) Close() {
	if s.notify != nil {
		s.notify.close()
	}
}

type documentEntity struct {
	aztables.Entity
	Body          string `json:"Body"`
	SchemaVersion int    `json:"SchemaVersion"`
	UpdatedAt     int64  `json:"UpdatedAt"`
	LastEditedBy  string `json:"LastEditedBy"`
}

func decodeDocumentEntity(data []byte) (domain.Document, error) {
	var ent documentEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Document{}, err
	}
	doc, err := domain.DecodeDocument([]byte(ent.Body))
	if err != nil {
		return domain.Document{}, err
	}
	// The table columns are authoritative for concurrency metadata.
	doc.ID = ent.RowKey
	doc.UpdatedAt = ent.UpdatedAt
	doc.LastEditedBy = ent.LastEditedBy
	return doc, nil
}

func isStatus(err error, status int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == status
}

// FetchDocument retrieves the current snapshot including updatedAt. Legacy
// schema rows are upgraded on the way out.
func (s *Storage) FetchDocument(ctx context.Context, id string) (domain.Document, error) {
	resp, err := s.docTable.GetEntity(ctx, id, id, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return domain.Document{}, domain.ErrNotFound
		}
		return domain.Document{}, err
	}
	return decodeDocumentEntity(resp.Value)
}

// SaveDocument persists the snapshot if the stored updatedAt still equals
// expectedUpdatedAt. On a mismatch it returns domain.ConflictError carrying
// the store's current value and leaves stored data untouched. A document
// that does not exist yet is created when expectedUpdatedAt is zero.
func (s *Storage) SaveDocument(ctx context.Context, doc domain.Document, expectedUpdatedAt int64, editor string) (domain.SaveResult, error) {
	resp, err := s.docTable.GetEntity(ctx, doc.ID, doc.ID, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			if expectedUpdatedAt != 0 {
				return domain.SaveResult{}, domain.ErrNotFound
			}
			return s.createDocument(ctx, doc, editor)
		}
		return domain.SaveResult{}, err
	}

	var stored documentEntity
	if err := json.Unmarshal(resp.Value, &stored); err != nil {
		return domain.SaveResult{}, err
	}
	if stored.UpdatedAt != expectedUpdatedAt {
		return domain.SaveResult{}, domain.ConflictError{ServerUpdatedAt: stored.UpdatedAt}
	}

	newUpdatedAt := nextTimestamp()
	if newUpdatedAt <= stored.UpdatedAt {
		newUpdatedAt = stored.UpdatedAt + 1
	}
	data, err := encodeDocumentEntity(doc, newUpdatedAt, editor)
	if err != nil {
		return domain.SaveResult{}, err
	}

	etag := resp.ETag
	_, err = s.docTable.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{
		IfMatch:    &etag,
		UpdateMode: aztables.UpdateModeReplace,
	})
	if err != nil {
		if isStatus(err, http.StatusPreconditionFailed) {
			// Lost the ETag race to a concurrent writer; report their
			// updatedAt so the caller can reload.
			serverAt := stored.UpdatedAt
			if cur, ferr := s.FetchDocument(ctx, doc.ID); ferr == nil {
				serverAt = cur.UpdatedAt
			}
			return domain.SaveResult{}, domain.ConflictError{ServerUpdatedAt: serverAt}
		}
		return domain.SaveResult{}, err
	}

	res := domain.SaveResult{UpdatedAt: newUpdatedAt, LastEditedBy: editor}
	s.enqueueSaved(ctx, doc.ID, res)
	return res, nil
}

func (s *Storage) createDocument(ctx context.Context, doc domain.Document, editor string) (domain.SaveResult, error) {
	newUpdatedAt := nextTimestamp()
	data, err := encodeDocumentEntity(doc, newUpdatedAt, editor)
	if err != nil {
		return domain.SaveResult{}, err
	}
	if _, err := s.docTable.AddEntity(ctx, data, nil); err != nil {
		if isStatus(err, http.StatusConflict) {
			// Another replica created the row first.
			serverAt := int64(0)
			if cur, ferr := s.FetchDocument(ctx, doc.ID); ferr == nil {
				serverAt = cur.UpdatedAt
			}
			return domain.SaveResult{}, domain.ConflictError{ServerUpdatedAt: serverAt}
		}
		return domain.SaveResult{}, err
	}
	res := domain.SaveResult{UpdatedAt: newUpdatedAt, LastEditedBy: editor}
	s.enqueueSaved(ctx, doc.ID, res)
	return res, nil
}

func encodeDocumentEntity(doc domain.Document, updatedAt int64, editor string) ([]byte, error) {
	doc.SchemaVersion = domain.SchemaVersion
	doc.UpdatedAt = updatedAt
	doc.LastEditedBy = editor
	body, err := sonic.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(documentEntity{
		Entity:        aztables.Entity{PartitionKey: doc.ID, RowKey: doc.ID},
		Body:          string(body),
		SchemaVersion: domain.SchemaVersion,
		UpdatedAt:     updatedAt,
		LastEditedBy:  editor,
	})
}

type savedEvent struct {
	DocID        string `json:"docId"`
	UpdatedAt    int64  `json:"updatedAt"`
	LastEditedBy string `json:"lastEditedBy"`
}

// enqueueSaved notifies downstream consumers (setlist export rendering, read
// models) that a new snapshot landed. Best effort: a queue failure never
// fails the save.
func (s *Storage) enqueueSaved(ctx context.Context, docID string, res domain.SaveResult) {
	if s.savedQueue == nil {
		return
	}
	ev := savedEvent{DocID: docID, UpdatedAt: res.UpdatedAt, LastEditedBy: res.LastEditedBy}
	if s.notify != nil && s.notify.tryPublish(ev) {
		return
	}
	sendSavedEvent(ctx, s.savedQueue, s.logger, ev)
}

func sendSavedEvent(ctx context.Context, queue queueClient, logger *log.Logger, ev savedEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if _, err := queue.EnqueueMessage(ctx, string(data), nil); err != nil {
		logger.WithField("doc", ev.DocID).Errorf("enqueue saved event: %v", err)
	}
}

var lastTimestamp int64

// nextTimestamp returns a strictly increasing unix-nano clock shared by all
// saves in this process.
func nextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}
