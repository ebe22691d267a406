// ABOUTME: HTTP client for the quoting backend's JSON REST API.
// ABOUTME: One method per endpoint; 404 session lookups map to ErrSessionNotFound.

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrSessionNotFound is returned when the backend reports that a session id
// does not exist. Terminal for bootstrap: the caller must redirect to a
// session-creation entry point.
var ErrSessionNotFound = errors.New("session not found")

// StatusError is returned for any non-2xx response that is not a session
// lookup miss. Detail carries the backend's error message when it sent one.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("backend returned status %d", e.StatusCode)
}

// Client talks to the quoting backend. Safe for use by a single orchestrator;
// it holds no per-conversation state of its own.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for the backend at baseURL (scheme://host[:port],
// without the /api prefix). Pass nil httpClient for a default with a 30s
// timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  slog.Default().With("component", "backend"),
	}
}

// CreateSession creates a fresh session, passing the client identification
// string the backend records as user_agent.
func (c *Client) CreateSession(ctx context.Context, userAgent string) (*Session, error) {
	var session Session
	body := map[string]string{"user_agent": userAgent}
	if err := c.doJSON(ctx, http.MethodPost, "/api/sessions", body, &session); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return &session, nil
}

// GetSession fetches an existing session record by id.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	path := "/api/sessions/" + url.PathEscape(sessionID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &session); err != nil {
		return nil, fmt.Errorf("fetching session: %w", err)
	}
	return &session, nil
}

// ListMessages fetches the full ordered message history for a session.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	var messages []Message
	path := "/api/messages/" + url.PathEscape(sessionID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}
	return messages, nil
}

// WelcomeMessage asks the backend to synthesize and persist the opening
// assistant message for an empty session.
func (c *Client) WelcomeMessage(ctx context.Context, sessionID string) (*Message, error) {
	var msg Message
	path := "/api/welcome/" + url.PathEscape(sessionID)
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &msg); err != nil {
		return nil, fmt.Errorf("fetching welcome message: %w", err)
	}
	return &msg, nil
}

// SendChat submits one user turn and returns the assistant reply together
// with the authoritative session state and current agent.
func (c *Client) SendChat(ctx context.Context, sessionID, content, quickReplyValue string) (*ChatResponse, error) {
	body := map[string]string{
		"session_id": sessionID,
		"content":    content,
	}
	if quickReplyValue != "" {
		body["quick_reply_value"] = quickReplyValue
	}
	var resp ChatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/chat", body, &resp); err != nil {
		return nil, fmt.Errorf("sending chat turn: %w", err)
	}
	return &resp, nil
}

// PatchState applies a partial state patch (e.g. add-on toggle flags) to a
// session. Only success/failure is reported.
func (c *Client) PatchState(ctx context.Context, sessionID string, patch map[string]any) error {
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/state"
	if err := c.doJSON(ctx, http.MethodPatch, path, patch, nil); err != nil {
		return fmt.Errorf("patching session state: %w", err)
	}
	return nil
}

// ProcessPayment submits a payment request for the session's premium.
func (c *Client) ProcessPayment(ctx context.Context, sessionID, method string, amount float64) (*PaymentResult, error) {
	body := map[string]any{
		"session_id":     sessionID,
		"payment_method": method,
		"amount":         amount,
	}
	var result PaymentResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/payment/process", body, &result); err != nil {
		return nil, fmt.Errorf("processing payment: %w", err)
	}
	return &result, nil
}

// FetchDocument downloads the policy document PDF for a session.
func (c *Client) FetchDocument(ctx context.Context, sessionID string) ([]byte, error) {
	path := "/api/document/" + url.PathEscape(sessionID) + "/pdf"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrSessionNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	return data, nil
}

// doJSON performs a JSON request/response round trip. A nil out discards the
// response body after status checking.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Every endpoint keys off a session id; the only 404 the backend
	// produces is a missing session.
	if resp.StatusCode == http.StatusNotFound {
		return ErrSessionNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// statusError drains an error response and extracts the backend's detail
// field when the body is JSON.
func (c *Client) statusError(resp *http.Response) error {
	serr := &StatusError{StatusCode: resp.StatusCode}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var payload struct {
			Detail string `json:"detail"`
			Error  string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			if payload.Detail != "" {
				serr.Detail = payload.Detail
			} else {
				serr.Detail = payload.Error
			}
		}
	}
	c.logger.Debug("backend error response", "status", resp.StatusCode, "detail", serr.Detail)
	return serr
}
