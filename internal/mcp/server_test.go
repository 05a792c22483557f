package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsperry/triage/internal/models"
	"github.com/jsperry/triage/internal/sessions"
	"github.com/jsperry/triage/internal/store"
)

type fakeLifecycle struct {
	startResult *sessions.StartResult
	startErr    error
	lastPhase   models.SessionPhase
	lastRepo    string
	lastIssue   int

	session     *models.Session
	err         error
	pollTimeout time.Duration
}

func (f *fakeLifecycle) StartPhase(_ context.Context, repo string, issueNumber int, phase models.SessionPhase) (*sessions.StartResult, error) {
	f.lastRepo, f.lastIssue, f.lastPhase = repo, issueNumber, phase
	return f.startResult, f.startErr
}

func (f *fakeLifecycle) QueryStatus(_ context.Context, _ string) (*models.Session, error) {
	return f.session, f.err
}

func (f *fakeLifecycle) PollSession(_ context.Context, _ string, timeout time.Duration) (*models.Session, error) {
	f.pollTimeout = timeout
	return f.session, f.err
}

func newTestMCP(t *testing.T, lifecycle Lifecycle) (*Server, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "triage.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return NewServer(st, lifecycle), st
}

func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func TestScopeIssueTool(t *testing.T) {
	lifecycle := &fakeLifecycle{
		startResult: &sessions.StartResult{
			Session:    &models.Session{SessionID: "sess-1", Phase: models.PhaseScope, Status: models.SessionStatusCreated},
			SessionURL: "https://app.devin.ai/sessions/sess-1",
		},
	}
	srv, _ := newTestMCP(t, lifecycle)

	result, err := srv.handleStartPhase(models.PhaseScope)(context.Background(),
		callToolReq("triage_scope_issue", map[string]any{"repo": "acme/widgets", "issue_number": float64(42)}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Session    sessionOut `json:"session"`
		SessionURL string     `json:"session_url"`
		Reused     bool       `json:"reused"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &out))
	assert.Equal(t, "sess-1", out.Session.SessionID)
	assert.Equal(t, "https://app.devin.ai/sessions/sess-1", out.SessionURL)
	assert.Equal(t, models.PhaseScope, lifecycle.lastPhase)
	assert.Equal(t, 42, lifecycle.lastIssue)
}

func TestExecuteIssueTool(t *testing.T) {
	lifecycle := &fakeLifecycle{
		startResult: &sessions.StartResult{
			Session: &models.Session{SessionID: "sess-2", Phase: models.PhaseExec},
			Reused:  true,
		},
	}
	srv, _ := newTestMCP(t, lifecycle)

	result, err := srv.handleStartPhase(models.PhaseExec)(context.Background(),
		callToolReq("triage_execute_issue", map[string]any{"repo": "acme/widgets", "issue_number": float64(42)}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), `"reused":true`)
	assert.Equal(t, models.PhaseExec, lifecycle.lastPhase)
}

func TestScopeIssueToolMissingParams(t *testing.T) {
	srv, _ := newTestMCP(t, &fakeLifecycle{})

	result, err := srv.handleStartPhase(models.PhaseScope)(context.Background(),
		callToolReq("triage_scope_issue", map[string]any{"issue_number": float64(42)}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = srv.handleStartPhase(models.PhaseScope)(context.Background(),
		callToolReq("triage_scope_issue", map[string]any{"repo": "acme/widgets"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestScopeIssueToolError(t *testing.T) {
	srv, _ := newTestMCP(t, &fakeLifecycle{startErr: fmt.Errorf("github api error 404")})

	result, err := srv.handleStartPhase(models.PhaseScope)(context.Background(),
		callToolReq("triage_scope_issue", map[string]any{"repo": "acme/widgets", "issue_number": float64(1)}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "404")
}

func TestSessionStatusTool(t *testing.T) {
	lifecycle := &fakeLifecycle{
		session: &models.Session{
			SessionID:            "sess-1",
			Phase:                models.PhaseScope,
			Status:               models.SessionStatusFinished,
			LastStructuredOutput: `{"confidence": 0.9}`,
		},
	}
	srv, _ := newTestMCP(t, lifecycle)

	result, err := srv.handleSessionStatus(context.Background(),
		callToolReq("triage_session_status", map[string]any{"session_id": "sess-1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out sessionOut
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &out))
	assert.Equal(t, "finished", out.Status)
	assert.Contains(t, out.Output, "0.9")
}

func TestPollSessionToolTimeoutParam(t *testing.T) {
	lifecycle := &fakeLifecycle{
		session: &models.Session{SessionID: "sess-1", Status: models.SessionStatusFinished},
	}
	srv, _ := newTestMCP(t, lifecycle)

	result, err := srv.handlePollSession(context.Background(),
		callToolReq("triage_poll_session", map[string]any{"session_id": "sess-1", "timeout_seconds": float64(90)}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, 90*time.Second, lifecycle.pollTimeout)
}

func TestListIssuesTool(t *testing.T) {
	srv, st := newTestMCP(t, &fakeLifecycle{})
	ctx := context.Background()
	confidence := 0.8
	require.NoError(t, st.UpsertIssue(ctx, &models.Issue{Repo: "acme/widgets", Number: 1, Title: "first"}))
	require.NoError(t, st.UpsertIssue(ctx, &models.Issue{Repo: "acme/widgets", Number: 2, Title: "second", ConfidenceScore: &confidence}))
	require.NoError(t, st.SetIssueConfidence(ctx, "acme/widgets", 2, confidence))

	result, err := srv.handleListIssues(ctx, callToolReq("triage_list_issues", map[string]any{"repo": "acme/widgets"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "first")
	assert.Contains(t, text, "0.8")
}

func TestListSessionsTool(t *testing.T) {
	srv, st := newTestMCP(t, &fakeLifecycle{})
	ctx := context.Background()
	require.NoError(t, st.CreateSession(ctx, &models.Session{
		SessionID: "s1", Phase: models.PhaseScope, Repo: "acme/widgets", IssueNumber: 1,
	}))
	require.NoError(t, st.CreateSession(ctx, &models.Session{
		SessionID: "s2", Phase: models.PhaseExec, Repo: "acme/widgets", IssueNumber: 1,
	}))

	result, err := srv.handleListSessions(ctx, callToolReq("triage_list_sessions", map[string]any{"phase": "exec"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out []sessionOut
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "s2", out[0].SessionID)
}

func TestMCPServerRegistersTools(t *testing.T) {
	srv, _ := newTestMCP(t, &fakeLifecycle{})
	require.NotNil(t, srv.MCPServer())
}
