package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"setlist-sync/domain"
	"setlist-sync/internal/consts"
)

// State is the connection state of a channel client.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Identity names the local replica on the wire.
type Identity struct {
	UserID      string
	DisplayName string
	Color       string
}

var errNotDisconnected = errors.New("channel: connect requires disconnected state")

const (
	envelopeBroadcast = "broadcast"
	eventOperation    = "operation"

	presenceTTL = 5 * time.Minute
)

type envelope struct {
	Type    string           `json:"type"`
	Event   string           `json:"event"`
	Payload domain.Operation `json:"payload"`
}

// Client wraps one pub/sub topic per document: operation publish/subscribe
// plus presence track/sync. There is no automatic reconnect; after a channel
// failure the owner must call Connect again. While not connected, Publish
// queues operations FIFO and the queue is flushed, stamped at flush time, on
// the next successful Connect.
type Client struct {
	rdb    *redis.Client
	logger *log.Logger

	mu       sync.Mutex
	state    State
	docID    string
	identity Identity
	pending  []domain.Operation
	sub      *redis.PubSub
	cancel   context.CancelFunc

	// last focus sent over the wire; Track only hits the network when the
	// (item, field) tuple changes.
	announced bool
	lastItem  string
	lastField string

	opHandler    func(domain.Operation)
	syncHandler  func([]domain.PresenceEntry)
	stateHandler func(State)
}

// New creates a channel client on the given Redis connection.
func New(rdb *redis.Client, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Client{rdb: rdb, logger: logger}
}

// OnOperation registers the handler for remote operations. Operations that
// originated from the local identity are suppressed before the handler runs.
func (c *Client) OnOperation(fn func(domain.Operation)) {
	c.mu.Lock()
	c.opHandler = fn
	c.mu.Unlock()
}

// OnPresenceSync registers the handler receiving full presence snapshots.
func (c *Client) OnPresenceSync(fn func([]domain.PresenceEntry)) {
	c.mu.Lock()
	c.syncHandler = fn
	c.mu.Unlock()
}

// OnStateChange registers the handler observing connection transitions.
func (c *Client) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.stateHandler = fn
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	fn := c.stateHandler
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func operationChannel(docID string) string {
	return consts.OperationChannelPrefix + docID
}

func presenceChannel(docID string) string {
	return consts.PresenceChannelPrefix + docID
}

func presenceKey(docID string) string {
	return consts.PresenceKeyPrefix + docID
}

// Connect subscribes to the document topic. On success the pending publish
// queue is flushed in original order and presence is announced once.
func (c *Client) Connect(ctx context.Context, docID string, identity Identity) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return errNotDisconnected
	}
	c.state = Connecting
	c.docID = docID
	c.identity = identity
	c.announced = false
	stateFn := c.stateHandler
	c.mu.Unlock()
	if stateFn != nil {
		stateFn(Connecting)
	}

	sub := c.rdb.Subscribe(ctx, operationChannel(docID), presenceChannel(docID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		c.setState(Disconnected)
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.sub = sub
	c.cancel = cancel
	c.state = Connected
	queued := c.pending
	c.pending = nil
	c.mu.Unlock()
	if stateFn != nil {
		stateFn(Connected)
	}

	// Flush in original order, stamping each entry now, not at enqueue time.
	for _, op := range queued {
		if err := c.send(ctx, op); err != nil {
			c.logger.WithFields(log.Fields{"doc": docID, "type": op.Type}).Errorf("flush queued operation: %v", err)
		}
	}

	if err := c.announce(ctx); err != nil {
		c.logger.WithField("doc", docID).Errorf("announce presence: %v", err)
	}
	c.deliverPresence(ctx)

	go c.receive(loopCtx, sub, identity.UserID)
	return nil
}

// Publish sends an operation to the topic, or queues it FIFO while not
// connected. Queued operations are never dropped and queuing is not an error.
func (c *Client) Publish(ctx context.Context, op domain.Operation) error {
	c.mu.Lock()
	if c.state != Connected {
		c.pending = append(c.pending, op)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.send(ctx, op)
}

func (c *Client) stamp(op domain.Operation) domain.Operation {
	op.OriginatorID = c.identity.UserID
	op.OriginatorName = c.identity.DisplayName
	op.SentAt = time.Now().UnixMilli()
	return op
}

func (c *Client) send(ctx context.Context, op domain.Operation) error {
	c.mu.Lock()
	env := envelope{Type: envelopeBroadcast, Event: eventOperation, Payload: c.stamp(op)}
	docID := c.docID
	c.mu.Unlock()
	data, err := sonic.Marshal(env)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, operationChannel(docID), data).Err()
}

// Track records the local user's editing focus. The first call per
// connection always announces; afterwards only a changed (itemID, fieldName)
// tuple hits the network.
func (c *Client) Track(ctx context.Context, itemID, fieldName string) error {
	c.mu.Lock()
	if c.state != Connected {
		c.lastItem = itemID
		c.lastField = fieldName
		c.mu.Unlock()
		return nil
	}
	if c.announced && c.lastItem == itemID && c.lastField == fieldName {
		c.mu.Unlock()
		return nil
	}
	c.lastItem = itemID
	c.lastField = fieldName
	c.mu.Unlock()
	return c.announce(ctx)
}

func (c *Client) announce(ctx context.Context) error {
	c.mu.Lock()
	entry := domain.PresenceEntry{
		UserID:           c.identity.UserID,
		DisplayName:      c.identity.DisplayName,
		Color:            c.identity.Color,
		CurrentItemID:    c.lastItem,
		CurrentFieldName: c.lastField,
		LastActivityAt:   time.Now().UnixMilli(),
	}
	docID := c.docID
	c.announced = true
	c.mu.Unlock()

	data, err := sonic.Marshal(entry)
	if err != nil {
		return err
	}
	key := presenceKey(docID)
	if err := c.rdb.HSet(ctx, key, entry.UserID, data).Err(); err != nil {
		return err
	}
	_ = c.rdb.Expire(ctx, key, presenceTTL).Err()
	return c.rdb.Publish(ctx, presenceChannel(docID), entry.UserID).Err()
}

// Disconnect removes the local presence entry, tears down the subscription
// and flips to Disconnected. Queued publishes survive for the next Connect.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Disconnected {
		c.mu.Unlock()
		return nil
	}
	sub := c.sub
	cancel := c.cancel
	docID := c.docID
	userID := c.identity.UserID
	c.sub = nil
	c.cancel = nil
	c.mu.Unlock()

	if err := c.rdb.HDel(ctx, presenceKey(docID), userID).Err(); err != nil {
		c.logger.WithField("doc", docID).Debugf("presence cleanup: %v", err)
	}
	_ = c.rdb.Publish(ctx, presenceChannel(docID), userID).Err()

	if cancel != nil {
		cancel()
	}
	var err error
	if sub != nil {
		err = sub.Close()
	}
	c.setState(Disconnected)
	return err
}

func (c *Client) receive(ctx context.Context, sub *redis.PubSub, localID string) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				// Broken subscription: drop to disconnected and clear
				// remote presence. The owner decides whether to reconnect.
				c.handleChannelError()
				return
			}
			c.dispatch(ctx, msg, localID)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, msg *redis.Message, localID string) {
	c.mu.Lock()
	docID := c.docID
	opFn := c.opHandler
	c.mu.Unlock()

	switch msg.Channel {
	case operationChannel(docID):
		var env envelope
		if err := sonic.Unmarshal([]byte(msg.Payload), &env); err != nil {
			c.logger.WithField("doc", docID).Debugf("malformed operation payload dropped: %v", err)
			return
		}
		if env.Event != eventOperation {
			return
		}
		if env.Payload.OriginatorID == localID {
			// Own echo.
			return
		}
		if opFn != nil {
			opFn(env.Payload)
		}
	case presenceChannel(docID):
		c.deliverPresence(ctx)
	}
}

func (c *Client) deliverPresence(ctx context.Context) {
	c.mu.Lock()
	docID := c.docID
	syncFn := c.syncHandler
	c.mu.Unlock()
	if syncFn == nil {
		return
	}
	raw, err := c.rdb.HGetAll(ctx, presenceKey(docID)).Result()
	if err != nil {
		c.logger.WithField("doc", docID).Debugf("presence read: %v", err)
		return
	}
	entries := make([]domain.PresenceEntry, 0, len(raw))
	for _, v := range raw {
		var e domain.PresenceEntry
		if err := sonic.Unmarshal([]byte(v), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	syncFn(entries)
}

func (c *Client) handleChannelError() {
	c.mu.Lock()
	docID := c.docID
	syncFn := c.syncHandler
	c.sub = nil
	c.cancel = nil
	c.mu.Unlock()

	c.logger.WithField("doc", docID).Warn("channel subscription lost")
	c.setState(Disconnected)
	if syncFn != nil {
		syncFn(nil)
	}
}
