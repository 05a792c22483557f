package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.github.com"

// APIError is the failure type for non-2xx GitHub responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api error %d: %s", e.StatusCode, e.Body)
}

// RateLimit is the rate-limit state reported by a single response. It is
// returned alongside call results and threaded through by the caller;
// the client holds no shared mutable rate-limit state.
type RateLimit struct {
	Remaining int
	Reset     time.Time
}

// Exhausted reports whether the remaining budget is zero. Remaining is -1
// when the response carried no rate-limit headers.
func (r RateLimit) Exhausted() bool {
	return r.Remaining == 0
}

// Label is a GitHub issue label.
type Label struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// User is a GitHub account reference.
type User struct {
	Login string `json:"login"`
}

// Issue is a GitHub issue as returned by the REST API.
type Issue struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     string     `json:"state"`
	HTMLURL   string     `json:"html_url"`
	User      User       `json:"user"`
	Assignee  *User      `json:"assignee"`
	Labels    []Label    `json:"labels"`
	CreatedAt *time.Time `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}

// LabelNames returns the issue's label names in order.
func (i *Issue) LabelNames() []string {
	names := make([]string, len(i.Labels))
	for j, l := range i.Labels {
		names[j] = l.Name
	}
	return names
}

// Comment is a GitHub issue comment.
type Comment struct {
	ID        int64      `json:"id"`
	Body      string     `json:"body"`
	User      User       `json:"user"`
	CreatedAt *time.Time `json:"created_at"`
}

// Client is an authenticated GitHub REST client. Transient failures
// (5xx, 429, rate-limit 403) retry with bounded exponential backoff,
// the same policy the remote session client uses.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client

	maxAttempts   int
	backoffFactor float64
	sleep         func(time.Duration)
}

// NewClient creates a client using the given personal access token.
func NewClient(token string) *Client {
	return &Client{
		token:         token,
		baseURL:       defaultBaseURL,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		maxAttempts:   3,
		backoffFactor: 2.0,
		sleep:         time.Sleep,
	}
}

// ListIssuesOptions filters an issue listing.
type ListIssuesOptions struct {
	Label    string
	State    string // open, closed, all; empty means open
	Assignee string
	Page     int
	PerPage  int
}

// ListIssues fetches one page of issues for a repo. Pull requests, which
// GitHub includes in the issues listing, are filtered out.
func (c *Client) ListIssues(ctx context.Context, owner, repo string, opts ListIssuesOptions) ([]Issue, RateLimit, error) {
	q := url.Values{}
	if opts.Label != "" {
		q.Set("labels", opts.Label)
	}
	state := opts.State
	if state == "" {
		state = "open"
	}
	q.Set("state", state)
	if opts.Assignee != "" {
		q.Set("assignee", opts.Assignee)
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(opts.PerPage))
	}

	var raw []struct {
		Issue
		PullRequest *struct{} `json:"pull_request"`
	}
	rl, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/issues?%s", owner, repo, q.Encode()), nil, &raw)
	if err != nil {
		return nil, rl, err
	}

	issues := make([]Issue, 0, len(raw))
	for _, item := range raw {
		if item.PullRequest != nil {
			continue
		}
		issues = append(issues, item.Issue)
	}
	return issues, rl, nil
}

// GetIssue fetches a single issue.
func (c *Client) GetIssue(ctx context.Context, owner, repo string, number int) (*Issue, RateLimit, error) {
	var issue Issue
	rl, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, number), nil, &issue)
	if err != nil {
		return nil, rl, err
	}
	return &issue, rl, nil
}

// ListComments fetches all comments on an issue, oldest first.
func (c *Client) ListComments(ctx context.Context, owner, repo string, number int) ([]Comment, RateLimit, error) {
	var comments []Comment
	rl, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/issues/%d/comments?per_page=100", owner, repo, number), nil, &comments)
	if err != nil {
		return nil, rl, err
	}
	return comments, rl, nil
}

// CreateComment posts a comment on an issue and returns it.
func (c *Client) CreateComment(ctx context.Context, owner, repo string, number int, body string) (*Comment, RateLimit, error) {
	var comment Comment
	rl, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, number),
		map[string]string{"body": body}, &comment)
	if err != nil {
		return nil, rl, err
	}
	return &comment, rl, nil
}

// UpdateComment replaces the body of an existing comment.
func (c *Client) UpdateComment(ctx context.Context, owner, repo string, commentID int64, body string) (RateLimit, error) {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/repos/%s/%s/issues/comments/%d", owner, repo, commentID),
		map[string]string{"body": body}, nil)
}

// AddLabels adds labels to an issue, creating none; unknown labels are
// created implicitly by GitHub with default colors.
func (c *Client) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) (RateLimit, error) {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/issues/%d/labels", owner, repo, number),
		map[string][]string{"labels": labels}, nil)
}

// RemoveLabel removes one label from an issue. A missing label is not an
// error.
func (c *Client) RemoveLabel(ctx context.Context, owner, repo string, number int, label string) (RateLimit, error) {
	rl, err := c.do(ctx, http.MethodDelete,
		fmt.Sprintf("/repos/%s/%s/issues/%d/labels/%s", owner, repo, number, url.PathEscape(label)), nil, nil)
	var apiErr *APIError
	if err != nil && errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return rl, nil
	}
	return rl, err
}

// retryable classifies a failed call: server faults, 429, and the
// rate-limit flavor of 403 are transient.
func retryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	// GitHub signals primary rate limiting as 403 with an explanatory body.
	return apiErr.StatusCode == http.StatusForbidden &&
		strings.Contains(strings.ToLower(apiErr.Body), "rate limit")
}

// do performs one authenticated round trip with bounded retries and
// exponential backoff, returning the rate-limit state of the last
// response.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (RateLimit, error) {
	var lastRL RateLimit
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		rl, err := c.roundTrip(ctx, method, path, body, out)
		lastRL = rl
		if err == nil {
			return rl, nil
		}
		lastErr = err

		if !retryable(err) || attempt == c.maxAttempts-1 {
			return rl, err
		}
		wait := time.Duration(math.Pow(c.backoffFactor, float64(attempt)) * float64(time.Second))
		slog.Warn("github rate limited or unavailable, retrying",
			"attempt", attempt+1, "max_attempts", c.maxAttempts, "wait", wait, "error", err)
		c.sleep(wait)
	}
	return lastRL, lastErr
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any) (RateLimit, error) {
	rl := RateLimit{Remaining: -1}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return rl, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return rl, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return rl, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if v := resp.Header.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rl.Remaining = n
		}
	}
	if v := resp.Header.Get("X-RateLimit-Reset"); v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			rl.Reset = time.Unix(ts, 0)
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return rl, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return rl, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return rl, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return rl, &APIError{StatusCode: resp.StatusCode, Body: fmt.Sprintf("invalid JSON response: %v", err)}
	}
	return rl, nil
}
