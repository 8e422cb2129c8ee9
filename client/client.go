package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"setlist-sync/domain"
)

const requestTimeout = 30 * time.Second

// Store talks to the document API over HTTP and satisfies the fetch and
// conditional-save contracts a session needs. A 409 from the server surfaces
// as domain.ConflictError so callers cannot tell a remote store from a local
// one.
type Store struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a Store for the API at baseURL authenticating with the given
// bearer token.
func New(baseURL, token string) *Store {
	return &Store{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

type saveRequest struct {
	Document          domain.Document `json:"document"`
	ExpectedUpdatedAt int64           `json:"expectedUpdatedAt"`
}

type saveResponse struct {
	UpdatedAt    int64  `json:"updatedAt"`
	LastEditedBy string `json:"lastEditedBy"`
}

type errorResponse struct {
	Error           string `json:"error"`
	Code            string `json:"code"`
	ServerUpdatedAt int64  `json:"serverUpdatedAt"`
}

// FetchDocument retrieves the current snapshot of the document.
func (s *Store) FetchDocument(ctx context.Context, docID string) (domain.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/documents/"+docID, nil)
	if err != nil {
		return domain.Document{}, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.http.Do(req)
	if err != nil {
		return domain.Document{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Document{}, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return domain.DecodeDocument(body)
	case http.StatusNotFound:
		return domain.Document{}, domain.ErrNotFound
	default:
		return domain.Document{}, apiError(resp.StatusCode, body)
	}
}

// SaveDocument performs a conditional save. The editor argument is unused on
// the wire; the server attributes the save to the authenticated identity.
func (s *Store) SaveDocument(ctx context.Context, doc domain.Document, expectedUpdatedAt int64, editor string) (domain.SaveResult, error) {
	payload, err := sonic.Marshal(saveRequest{Document: doc, ExpectedUpdatedAt: expectedUpdatedAt})
	if err != nil {
		return domain.SaveResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.baseURL+"/api/documents/"+doc.ID, bytes.NewReader(payload))
	if err != nil {
		return domain.SaveResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return domain.SaveResult{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.SaveResult{}, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		var sr saveResponse
		if err := sonic.Unmarshal(body, &sr); err != nil {
			return domain.SaveResult{}, err
		}
		return domain.SaveResult{UpdatedAt: sr.UpdatedAt, LastEditedBy: sr.LastEditedBy}, nil
	case http.StatusConflict:
		var er errorResponse
		if err := sonic.Unmarshal(body, &er); err != nil {
			return domain.SaveResult{}, err
		}
		return domain.SaveResult{}, domain.ConflictError{ServerUpdatedAt: er.ServerUpdatedAt}
	case http.StatusNotFound:
		return domain.SaveResult{}, domain.ErrNotFound
	default:
		return domain.SaveResult{}, apiError(resp.StatusCode, body)
	}
}

// RequestAccess exchanges a shared-access password for a bearer token and the
// role it grants, and switches the Store to that token.
func (s *Store) RequestAccess(ctx context.Context, docID, password, displayName string) (string, error) {
	payload, err := sonic.Marshal(map[string]string{
		"password":    password,
		"displayName": displayName,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/documents/"+docID+"/access", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp.StatusCode, body)
	}
	var ar struct {
		Role  string `json:"role"`
		Token string `json:"token"`
	}
	if err := sonic.Unmarshal(body, &ar); err != nil {
		return "", err
	}
	s.token = ar.Token
	return ar.Role, nil
}

func apiError(status int, body []byte) error {
	var er errorResponse
	if err := sonic.Unmarshal(body, &er); err == nil && er.Error != "" {
		return fmt.Errorf("api request failed with status %d: %s", status, er.Error)
	}
	return fmt.Errorf("api request failed with status %d", status)
}
