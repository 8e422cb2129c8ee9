package api

import (
	"context"

	"setlist-sync/domain"
)

// Store abstracts persistence for handlers.
type Store interface {
	FetchDocument(ctx context.Context, docID string) (domain.Document, error)
	SaveDocument(ctx context.Context, doc domain.Document, expectedUpdatedAt int64, editor string) (domain.SaveResult, error)
}

// Authenticator resolves editor identity and grants shared-access sessions.
type Authenticator interface {
	EditorFromAuthHeader(header string) (Editor, error)
	RoleForPassword(password string) (Role, error)
	IssueAccessToken(docID, displayName string, role Role) (string, error)
}

type saveRequest struct {
	Document          domain.Document `json:"document"`
	ExpectedUpdatedAt int64           `json:"expectedUpdatedAt"`
}

type saveResponse struct {
	UpdatedAt    int64  `json:"updatedAt"`
	LastEditedBy string `json:"lastEditedBy"`
}

type accessRequest struct {
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type accessResponse struct {
	Role  string `json:"role"`
	Token string `json:"token"`
}

type errorResponse struct {
	Error           string `json:"error"`
	Code            string `json:"code,omitempty"`
	ServerUpdatedAt int64  `json:"serverUpdatedAt,omitempty"`
}
