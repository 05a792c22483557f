package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsperry/triage/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "triage.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestUpsertAndGetIssue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	issue := &models.Issue{
		Repo:   "acme/widgets",
		Number: 42,
		Title:  "Fix login flow",
		State:  "open",
		Labels: []string{"bug", "triage"},
		Author: "alice",
		URL:    "https://github.com/acme/widgets/issues/42",
	}
	require.NoError(t, s.UpsertIssue(ctx, issue))

	got, err := s.GetIssue(ctx, "acme/widgets", 42)
	require.NoError(t, err)
	assert.Equal(t, "Fix login flow", got.Title)
	assert.Equal(t, []string{"bug", "triage"}, got.Labels)
	assert.Nil(t, got.ConfidenceScore)
	assert.False(t, got.TrackedAt.IsZero())

	// Upsert preserves tracking fields and updates metadata.
	issue.Title = "Fix login flow (session expiry)"
	issue.State = "closed"
	require.NoError(t, s.UpsertIssue(ctx, issue))

	got, err = s.GetIssue(ctx, "acme/widgets", 42)
	require.NoError(t, err)
	assert.Equal(t, "Fix login flow (session expiry)", got.Title)
	assert.Equal(t, "closed", got.State)
}

func TestGetIssueNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetIssue(context.Background(), "acme/widgets", 999)
	assert.ErrorContains(t, err, "not found")
}

func TestListIssuesByRepo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, n := range []int{3, 1, 2} {
		require.NoError(t, s.UpsertIssue(ctx, &models.Issue{Repo: "acme/widgets", Number: n}))
	}
	require.NoError(t, s.UpsertIssue(ctx, &models.Issue{Repo: "acme/gadgets", Number: 7}))

	issues, err := s.ListIssues(ctx, "acme/widgets")
	require.NoError(t, err)
	require.Len(t, issues, 3)
	assert.Equal(t, 1, issues[0].Number)
	assert.Equal(t, 3, issues[2].Number)

	all, err := s.ListIssues(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestSetIssueConfidence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertIssue(ctx, &models.Issue{Repo: "acme/widgets", Number: 1}))
	require.NoError(t, s.SetIssueConfidence(ctx, "acme/widgets", 1, 0.85))

	got, err := s.GetIssue(ctx, "acme/widgets", 1)
	require.NoError(t, err)
	require.NotNil(t, got.ConfidenceScore)
	assert.InDelta(t, 0.85, *got.ConfidenceScore, 1e-9)
	require.NotNil(t, got.LastScopedAt)

	err = s.SetIssueConfidence(ctx, "acme/widgets", 999, 0.5)
	assert.ErrorContains(t, err, "not found")
}

func TestTouchIssueExecuted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertIssue(ctx, &models.Issue{Repo: "acme/widgets", Number: 1}))
	require.NoError(t, s.TouchIssueExecuted(ctx, "acme/widgets", 1))

	got, err := s.GetIssue(ctx, "acme/widgets", 1)
	require.NoError(t, err)
	require.NotNil(t, got.LastExecutedAt)
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session := &models.Session{
		SessionID:   "devin-abc123",
		Phase:       models.PhaseScope,
		Repo:        "acme/widgets",
		IssueNumber: 42,
		Title:       "Scope: Fix login flow",
		Tags:        []string{"triage", "scope"},
		Prompt:      "Analyze this issue",
	}
	require.NoError(t, s.CreateSession(ctx, session))
	assert.Equal(t, models.SessionStatusCreated, session.Status)

	got, err := s.GetSession(ctx, "devin-abc123")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseScope, got.Phase)
	assert.Equal(t, []string{"triage", "scope"}, got.Tags)
	assert.Nil(t, got.FinishedAt)

	finished := time.Now().UTC().Truncate(time.Second)
	got.Status = models.SessionStatusFinished
	got.FinishedAt = &finished
	got.LastStructuredOutput = `{"confidence": 0.9}`
	require.NoError(t, s.UpdateSession(ctx, got))

	got, err = s.GetSession(ctx, "devin-abc123")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusFinished, got.Status)
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, `{"confidence": 0.9}`, got.LastStructuredOutput)
}

func TestUpdateSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateSession(context.Background(), &models.Session{SessionID: "nope"})
	assert.ErrorContains(t, err, "not found")
}

func TestLatestSessionForIssue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"sess-old", "sess-new"} {
		sess := &models.Session{
			SessionID:   id,
			Phase:       models.PhaseScope,
			Repo:        "acme/widgets",
			IssueNumber: 42,
		}
		require.NoError(t, s.CreateSession(ctx, sess))
		// created_at has second precision in SQLite; force distinct ordering
		createdAt := time.Now().UTC().Add(time.Duration(i) * time.Minute)
		_, err := s.db.ExecContext(ctx, "UPDATE sessions SET created_at=? WHERE session_id=?", createdAt, id)
		require.NoError(t, err)
	}

	got, err := s.LatestSessionForIssue(ctx, "acme/widgets", 42, models.PhaseScope)
	require.NoError(t, err)
	assert.Equal(t, "sess-new", got.SessionID)

	_, err = s.LatestSessionForIssue(ctx, "acme/widgets", 42, models.PhaseExec)
	assert.Error(t, err)
}

func TestListSessionsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed := []*models.Session{
		{SessionID: "s1", Phase: models.PhaseScope, Repo: "acme/widgets", IssueNumber: 1, Status: models.SessionStatusFinished},
		{SessionID: "s2", Phase: models.PhaseExec, Repo: "acme/widgets", IssueNumber: 1, Status: models.SessionStatusRunning},
		{SessionID: "s3", Phase: models.PhaseScope, Repo: "acme/gadgets", IssueNumber: 2, Status: models.SessionStatusRunning},
	}
	for _, sess := range seed {
		require.NoError(t, s.CreateSession(ctx, sess))
	}

	sessions, err := s.ListSessions(ctx, SessionListFilter{Repo: "acme/widgets"})
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	sessions, err = s.ListSessions(ctx, SessionListFilter{Phase: models.PhaseScope, Status: models.SessionStatusRunning})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s3", sessions[0].SessionID)

	sessions, err = s.ListSessions(ctx, SessionListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestAppendAndListEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, kind := range []string{"session.created", "session.polled", "session.finished"} {
		event := &models.Event{
			SessionID: "sess-1",
			Kind:      kind,
			Payload:   map[string]any{"seq": i},
			Timestamp: time.Now().UTC().Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.AppendEvent(ctx, event))
		assert.NotEmpty(t, event.ID)
	}
	require.NoError(t, s.AppendEvent(ctx, &models.Event{SessionID: "sess-2", Kind: "session.created"}))

	events, err := s.ListEvents(ctx, "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "session.finished", events[0].Kind)

	events, err = s.ListEvents(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}
