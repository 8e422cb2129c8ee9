package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a document id has no stored row.
var ErrNotFound = errors.New("document not found")

// ConflictError is returned by a conditional save when the stored updatedAt
// no longer matches the caller's expectation. The stored data is left
// untouched; ServerUpdatedAt carries the store's current value so the caller
// can decide to reload.
type ConflictError struct {
	ServerUpdatedAt int64
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("document was modified concurrently, server updatedAt %d", e.ServerUpdatedAt)
}

// ProtectedFieldError marks an UPDATE_ITEM payload naming a field that must
// never be written directly.
type ProtectedFieldError struct {
	Field string
}

func (e ProtectedFieldError) Error() string {
	return fmt.Sprintf("field %q is protected", e.Field)
}

// UnknownMetadataError marks an UPDATE_METADATA payload naming a field the
// document does not carry.
type UnknownMetadataError struct {
	Field string
}

func (e UnknownMetadataError) Error() string {
	return fmt.Sprintf("unknown metadata field %q", e.Field)
}
