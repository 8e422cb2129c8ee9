package domain

// PresenceEntry is the ephemeral per-user editing focus. It is never
// persisted; each presence sync fully replaces the previous snapshot, keyed
// by UserID.
type PresenceEntry struct {
	UserID           string `json:"userId"`
	DisplayName      string `json:"displayName"`
	Color            string `json:"color"`
	CurrentItemID    string `json:"currentItemId,omitempty"`
	CurrentFieldName string `json:"currentFieldName,omitempty"`
	LastActivityAt   int64  `json:"lastActivityAt"`
}
