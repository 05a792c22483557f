package devin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings needed to talk to the remote agent service.
type Config struct {
	APIKey  string
	BaseURL string
	// Timeout applies per HTTP request, not per operation. Zero means 60s.
	Timeout time.Duration
}

// Client talks to the remote agent session API. All operations route
// through the shared retry policy; non-2xx responses surface as *APIError.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	retry      *RetryPolicy
}

// NewClient creates a session client for the given config.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		retry:      DefaultRetryPolicy(),
	}
}

// CreateSessionRequest is the payload for creating a session. When
// Idempotent is set, the remote service decides whether to return an
// existing session matching the same request fingerprint; the client
// performs no local deduplication.
type CreateSessionRequest struct {
	Prompt      string   `json:"prompt"`
	Idempotent  bool     `json:"idempotent"`
	PlaybookID  string   `json:"playbook_id,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Title       string   `json:"title,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

// CreateSession creates (or, with Idempotent set, reuses) a remote session.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	var session Session
	err := c.retry.Do(ctx, "create_session", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, "/sessions", req, &session)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("session created", "session_id", session.SessionID, "title", session.Title)
	return &session, nil
}

// GetSession fetches current session status and (possibly nil) structured
// output.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	err := c.retry.Do(ctx, "get_session", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil, &session)
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// SendMessage sends a message to a session, used to nudge or resume it.
func (c *Client) SendMessage(ctx context.Context, sessionID, message string) error {
	payload := map[string]string{"message": message}
	err := c.retry.Do(ctx, "send_message", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/message", payload, nil)
	})
	if err != nil {
		return err
	}
	slog.Info("message sent", "session_id", sessionID)
	return nil
}

// UpdateTags replaces the tag set on a session.
func (c *Client) UpdateTags(ctx context.Context, sessionID string, tags []string) error {
	payload := map[string][]string{"tags": tags}
	return c.retry.Do(ctx, "update_tags", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPut, "/sessions/"+url.PathEscape(sessionID)+"/tags", payload, nil)
	})
}

// ListMessages returns the session transcript, most-recent-last. The
// service returns either a bare array or an object wrapping one.
func (c *Client) ListMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	path := "/sessions/" + url.PathEscape(sessionID) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var raw json.RawMessage
	err := c.retry.Do(ctx, "list_messages", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodGet, path, nil, &raw)
	})
	if err != nil {
		return nil, err
	}

	var messages []Message
	if err := json.Unmarshal(raw, &messages); err == nil {
		return messages, nil
	}
	var wrapped struct {
		Messages []Message `json:"messages"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("parse messages response: %w", err)
	}
	return wrapped.Messages, nil
}

// UploadAttachment uploads binary content and returns a URL usable in
// future prompts.
func (c *Client) UploadAttachment(ctx context.Context, content []byte, filename, contentType string) (string, error) {
	if contentType == "" {
		contentType = "text/plain"
	}

	var result struct {
		URL string `json:"url"`
	}
	err := c.retry.Do(ctx, "upload_attachment", func(ctx context.Context) error {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
		header.Set("Content-Type", contentType)
		part, err := mw.CreatePart(header)
		if err != nil {
			return fmt.Errorf("build multipart body: %w", err)
		}
		if _, err := part.Write(content); err != nil {
			return fmt.Errorf("build multipart body: %w", err)
		}
		if err := mw.Close(); err != nil {
			return fmt.Errorf("build multipart body: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/attachments", &buf)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", mw.FormDataContentType())

		return c.send(req, &result)
	})
	if err != nil {
		return "", err
	}
	slog.Info("attachment uploaded", "filename", filename, "url", result.URL)
	return result.URL, nil
}

// doJSON performs one JSON round trip against the session API.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(req, out)
}

// send executes the request and decodes a 2xx response into out.
// Any other status becomes an *APIError carrying status and body.
func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Body: fmt.Sprintf("invalid JSON response: %v", err)}
	}
	return nil
}
