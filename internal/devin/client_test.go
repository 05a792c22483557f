package devin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL})
	c.retry.Sleep = func(time.Duration) {}
	return c
}

func TestCreateSession(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/sessions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"session_id": "devin-123",
			"status":     "working",
			"url":        "https://app.devin.ai/sessions/devin-123",
		})
	}))

	session, err := c.CreateSession(context.Background(), CreateSessionRequest{
		Prompt:     "analyze issue #42",
		Idempotent: true,
		Tags:       []string{"issue-42", "phase:scope"},
		Title:      "Scope Issue #42",
	})
	require.NoError(t, err)

	assert.Equal(t, "devin-123", session.SessionID)
	assert.Equal(t, "https://app.devin.ai/sessions/devin-123", session.URL)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "analyze issue #42", gotBody["prompt"])
	assert.Equal(t, true, gotBody["idempotent"])
	// Empty optionals are omitted from the payload.
	assert.NotContains(t, gotBody, "playbook_id")
	assert.NotContains(t, gotBody, "attachments")
}

func TestCreateSessionRetriesOnServerError(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"session_id": "devin-1"})
	}))

	session, err := c.CreateSession(context.Background(), CreateSessionRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "devin-1", session.SessionID)
	assert.Equal(t, 3, calls)
}

func TestCreateSessionFatalNotRetried(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad prompt", http.StatusBadRequest)
	}))

	_, err := c.CreateSession(context.Background(), CreateSessionRequest{Prompt: ""})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "bad prompt", apiErr.Body)
	assert.Equal(t, 1, calls)
}

func TestGetSessionParsesStructuredOutput(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sessions/devin-9", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"session_id":  "devin-9",
			"status_enum": "finished",
			"structured_output": map[string]any{
				"summary":    "done",
				"confidence": 0.9,
			},
		})
	}))

	session, err := c.GetSession(context.Background(), "devin-9")
	require.NoError(t, err)
	assert.Equal(t, "finished", session.StatusEnum)
	assert.Equal(t, "done", session.StructuredOutput["summary"])
}

func TestSendMessage(t *testing.T) {
	var gotBody map[string]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sessions/devin-9/message", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	}))

	err := c.SendMessage(context.Background(), "devin-9", "please continue")
	require.NoError(t, err)
	assert.Equal(t, "please continue", gotBody["message"])
}

func TestListMessagesBareArray(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[{"type":"user_message","message":"hi"},{"type":"devin_message","message":"hello"}]`))
	}))

	messages, err := c.ListMessages(context.Background(), "devin-9", 5)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.True(t, messages[1].FromAgent())
}

func TestListMessagesWrappedObject(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"messages":[{"type":"devin_message","message":"update"}]}`))
	}))

	messages, err := c.ListMessages(context.Background(), "devin-9", 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "update", messages[0].Message)
}

func TestUploadAttachment(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/attachments", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer func() { _ = file.Close() }()
		assert.Equal(t, "notes.txt", header.Filename)
		assert.Equal(t, "text/plain", header.Header.Get("Content-Type"))

		_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://files.devin.ai/notes.txt"})
	}))

	url, err := c.UploadAttachment(context.Background(), []byte("hello"), "notes.txt", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "https://files.devin.ai/notes.txt", url)
}

func TestUpdateTags(t *testing.T) {
	var gotBody map[string][]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/sessions/devin-9/tags", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte("{}"))
	}))

	err := c.UpdateTags(context.Background(), "devin-9", []string{"issue-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"issue-1"}, gotBody["tags"])
}
