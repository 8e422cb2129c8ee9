package domain

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// Operation types exchanged between replicas over the broadcast channel.
const (
	OpAddItem        = "ADD_ITEM"
	OpDeleteItem     = "DELETE_ITEM"
	OpUpdateItem     = "UPDATE_ITEM"
	OpReorderItems   = "REORDER_ITEMS"
	OpUpdateMetadata = "UPDATE_METADATA"
	OpSaveAck        = "SAVE_ACK"
)

// Operation is one atomic typed mutation message. OriginatorID, OriginatorName
// and SentAt are stamped by the channel client at publish time, not by the
// producer of the payload.
type Operation struct {
	Type           string          `json:"type"`
	OriginatorID   string          `json:"originatorId"`
	OriginatorName string          `json:"originatorName"`
	SentAt         int64           `json:"sentAt"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

type AddItemPayload struct {
	Item  Item `json:"item"`
	Index int  `json:"index"`
}

type DeleteItemPayload struct {
	ItemID string `json:"itemId"`
}

type UpdateItemPayload struct {
	ItemID string `json:"itemId"`
	Field  string `json:"field"`
	Value  string `json:"value"`
}

// ReorderItemsPayload carries the full ordered id list for the new order.
type ReorderItemsPayload struct {
	ItemIDs []string `json:"itemIds"`
}

type UpdateMetadataPayload struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// SaveAckPayload announces a completed save so other replicas can adopt the
// new updatedAt without refetching.
type SaveAckPayload struct {
	UpdatedAt    int64  `json:"updatedAt"`
	LastEditedBy string `json:"lastEditedBy"`
}

func mustOperation(opType string, payload any) Operation {
	data, err := sonic.Marshal(payload)
	if err != nil {
		// All payload types are plain structs; marshal cannot fail.
		panic(err)
	}
	return Operation{Type: opType, Payload: data}
}

// NewAddItem builds an unstamped ADD_ITEM operation.
func NewAddItem(item Item, index int) Operation {
	return mustOperation(OpAddItem, AddItemPayload{Item: item, Index: index})
}

// NewDeleteItem builds an unstamped DELETE_ITEM operation.
func NewDeleteItem(itemID string) Operation {
	return mustOperation(OpDeleteItem, DeleteItemPayload{ItemID: itemID})
}

// NewUpdateItem builds an unstamped UPDATE_ITEM operation. It returns an
// error for protected fields so broken payloads never reach the wire.
func NewUpdateItem(itemID, field, value string) (Operation, error) {
	if IsProtectedField(field) {
		return Operation{}, ProtectedFieldError{Field: field}
	}
	return mustOperation(OpUpdateItem, UpdateItemPayload{ItemID: itemID, Field: field, Value: value}), nil
}

// NewReorderItems builds an unstamped REORDER_ITEMS operation.
func NewReorderItems(itemIDs []string) Operation {
	return mustOperation(OpReorderItems, ReorderItemsPayload{ItemIDs: itemIDs})
}

// NewUpdateMetadata builds an unstamped UPDATE_METADATA operation.
func NewUpdateMetadata(field, value string) Operation {
	return mustOperation(OpUpdateMetadata, UpdateMetadataPayload{Field: field, Value: value})
}

// NewSaveAck builds an unstamped SAVE_ACK operation.
func NewSaveAck(res SaveResult) Operation {
	return mustOperation(OpSaveAck, SaveAckPayload{UpdatedAt: res.UpdatedAt, LastEditedBy: res.LastEditedBy})
}

// DecodePayload unmarshals the type-specific payload into dst.
func (op Operation) DecodePayload(dst any) error {
	return sonic.Unmarshal(op.Payload, dst)
}
