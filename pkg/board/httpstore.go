package board

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/corkboard-dev/corkboard/pkg/model"
)

// HTTPStore implements DurableStore against the store service's REST
// surface:
//
//	POST   /elements                       create
//	PATCH  /elements/{id}                  update
//	DELETE /elements/{id}                  delete
//	POST   /elements/{id}/votes            add caller's vote
//	DELETE /elements/{id}/votes            remove caller's vote
//	GET    /projects/{projectId}/elements  list
//
// Status codes map onto the error classes: 404 NotFound, 401/403
// Forbidden, 409 Conflict, anything else (and transport or timeout
// failures) Transient.
type HTTPStore struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPStore creates a store client for baseURL. token is sent as a
// bearer credential on every request.
func NewHTTPStore(baseURL, token string, client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// CreateElement implements DurableStore.
func (s *HTTPStore) CreateElement(ctx context.Context, draft ElementDraft) (*model.Element, error) {
	var el model.Element
	if err := s.do(ctx, "create_element", http.MethodPost, "/elements", draft, &el); err != nil {
		return nil, err
	}
	return &el, nil
}

// UpdateElement implements DurableStore.
func (s *HTTPStore) UpdateElement(ctx context.Context, id string, delta ElementDelta) (*model.Element, error) {
	var el model.Element
	path := "/elements/" + url.PathEscape(id)
	if err := s.do(ctx, "update_element", http.MethodPatch, path, delta, &el); err != nil {
		return nil, err
	}
	return &el, nil
}

// DeleteElement implements DurableStore.
func (s *HTTPStore) DeleteElement(ctx context.Context, id string) error {
	path := "/elements/" + url.PathEscape(id)
	return s.do(ctx, "delete_element", http.MethodDelete, path, nil, nil)
}

// AddVote implements DurableStore.
func (s *HTTPStore) AddVote(ctx context.Context, elementID string) (*model.Vote, error) {
	var v model.Vote
	path := "/elements/" + url.PathEscape(elementID) + "/votes"
	if err := s.do(ctx, "add_vote", http.MethodPost, path, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// RemoveVote implements DurableStore.
func (s *HTTPStore) RemoveVote(ctx context.Context, elementID string) error {
	path := "/elements/" + url.PathEscape(elementID) + "/votes"
	return s.do(ctx, "remove_vote", http.MethodDelete, path, nil, nil)
}

// ListElements implements DurableStore.
func (s *HTTPStore) ListElements(ctx context.Context, projectID string) ([]model.Element, error) {
	var els []model.Element
	path := "/projects/" + url.PathEscape(projectID) + "/elements"
	if err := s.do(ctx, "list_elements", http.MethodGet, path, nil, &els); err != nil {
		return nil, err
	}
	return els, nil
}

func (s *HTTPStore) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &StoreError{Class: ClassTransient, Op: op, Message: fmt.Sprintf("encode request: %v", err)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return &StoreError{Class: ClassTransient, Op: op, Message: err.Error()}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		// Timeouts and transport failures are retryable as far as the
		// store is concerned; the engine treats them as rollback-worthy.
		return &StoreError{Class: ClassTransient, Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StoreError{
			Class:   classify(resp.StatusCode),
			Op:      op,
			Status:  resp.StatusCode,
			Message: strings.TrimSpace(string(msg)),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &StoreError{Class: ClassTransient, Op: op, Message: fmt.Sprintf("decode response: %v", err)}
		}
	}
	return nil
}

func classify(status int) ErrorClass {
	switch status {
	case http.StatusNotFound:
		return ClassNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ClassForbidden
	case http.StatusConflict:
		return ClassConflict
	default:
		return ClassTransient
	}
}
