package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/npezzotti/eventchat/internal/types"
)

// API is a REST client for the event chat endpoints.
type API struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewAPI creates a client for baseURL, e.g. "http://localhost:8000".
func NewAPI(baseURL, token string) *API {
	return &API{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type postMessageRequest struct {
	Content  string          `json:"content"`
	Type     string          `json:"type,omitempty"`
	Metadata *types.Metadata `json:"metadata,omitempty"`
}

type reactRequest struct {
	Emoji string `json:"emoji"`
}

type ReactResponse struct {
	Success   bool           `json:"success"`
	Emoji     string         `json:"emoji"`
	MessageId int            `json:"messageId"`
	Reactions map[string]int `json:"reactions"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// FetchHistory returns up to limit recent messages of the event, oldest first.
func (a *API) FetchHistory(ctx context.Context, eventId, limit int) ([]types.Message, error) {
	path := fmt.Sprintf("/api/events/%d/messages", eventId)
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}

	var msgs []types.Message
	if err := a.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (a *API) PostMessage(ctx context.Context, eventId int, content, msgType string, metadata *types.Metadata) (types.Message, error) {
	var msg types.Message
	body := postMessageRequest{Content: content, Type: msgType, Metadata: metadata}
	err := a.do(ctx, http.MethodPost, fmt.Sprintf("/api/events/%d/messages", eventId), body, &msg)
	return msg, err
}

func (a *API) React(ctx context.Context, eventId, messageId int, emoji string) (ReactResponse, error) {
	var resp ReactResponse
	path := fmt.Sprintf("/api/events/%d/messages/%d/react", eventId, messageId)
	err := a.do(ctx, http.MethodPost, path, reactRequest{Emoji: emoji}, &resp)
	return resp, err
}

func (a *API) do(ctx context.Context, method, path string, body, dest any) error {
	var bodyReader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = string(raw)
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if dest != nil {
		if err := json.Unmarshal(raw, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
