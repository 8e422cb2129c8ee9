package consts

// Redis key and channel names shared between the channel client, the
// websocket gateway and the storage cache.
const (
	// OperationChannelPrefix is the pub/sub channel carrying document
	// operations, one channel per document id.
	OperationChannelPrefix = "doc:ops:"

	// PresenceChannelPrefix is the pub/sub channel notifying subscribers
	// that the presence hash for a document changed.
	PresenceChannelPrefix = "doc:presence:"

	// PresenceKeyPrefix is the Redis hash holding the latest presence
	// entry per user, keyed by user id.
	PresenceKeyPrefix = "presence:"

	// DocumentCacheKeyPrefix is the read cache key for document snapshots.
	DocumentCacheKeyPrefix = "document:"
)
