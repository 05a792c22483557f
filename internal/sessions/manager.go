package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jsperry/triage/internal/devin"
	"github.com/jsperry/triage/internal/github"
	"github.com/jsperry/triage/internal/models"
	"github.com/jsperry/triage/internal/store"
)

// ScopedLabel marks issues whose scoping session finished with a plan.
const ScopedLabel = "devin-scoped"

// AgentAPI is the slice of the remote session client the manager uses.
type AgentAPI interface {
	CreateSession(ctx context.Context, req devin.CreateSessionRequest) (*devin.Session, error)
	GetSession(ctx context.Context, sessionID string) (*devin.Session, error)
	ListMessages(ctx context.Context, sessionID string, limit int) ([]devin.Message, error)
}

// CodeHost is the slice of the GitHub client the manager uses.
type CodeHost interface {
	GetIssue(ctx context.Context, owner, repo string, number int) (*github.Issue, github.RateLimit, error)
	ListComments(ctx context.Context, owner, repo string, number int) ([]github.Comment, github.RateLimit, error)
	CreateComment(ctx context.Context, owner, repo string, number int, body string) (*github.Comment, github.RateLimit, error)
	AddLabels(ctx context.Context, owner, repo string, number int, labels []string) (github.RateLimit, error)
}

// Manager owns the session lifecycle: it turns tracked GitHub issues into
// remote agent sessions, keeps the local records in sync with the remote
// source of truth, and reports progress back to the issue thread.
type Manager struct {
	store store.Store
	agent AgentAPI
	gh    CodeHost

	PollInterval    time.Duration
	PollTimeout     time.Duration
	PollMaxInterval time.Duration
}

// NewManager wires a manager from its three dependencies. Poll settings
// default to the session client's values.
func NewManager(st store.Store, agent AgentAPI, gh CodeHost) *Manager {
	return &Manager{
		store:           st,
		agent:           agent,
		gh:              gh,
		PollInterval:    devin.DefaultPollInterval,
		PollTimeout:     devin.DefaultPollTimeout,
		PollMaxInterval: devin.DefaultPollMaxInterval,
	}
}

// StartResult reports the outcome of starting a phase.
type StartResult struct {
	Session    *models.Session
	SessionURL string
	// Reused is set when the remote service matched an existing session
	// for the same request instead of creating a new one.
	Reused bool
}

func splitRepo(repo string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("repo %q must be in owner/name form", repo)
	}
	return owner, name, nil
}

// StartPhase launches a scoping or execution session for an issue. The
// remote create is idempotent: starting the same phase twice for the same
// issue reuses the running session rather than spawning a duplicate.
func (m *Manager) StartPhase(ctx context.Context, repo string, issueNumber int, phase models.SessionPhase) (*StartResult, error) {
	result, err := m.startPhase(ctx, repo, issueNumber, phase)
	if err != nil {
		return nil, fmt.Errorf("%s %s#%d: %w", phase, repo, issueNumber, err)
	}
	return result, nil
}

func (m *Manager) startPhase(ctx context.Context, repo string, issueNumber int, phase models.SessionPhase) (*StartResult, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	// Issue and comments are independent reads; fetch them concurrently.
	var ghIssue *github.Issue
	var comments []github.Comment
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		issue, _, err := m.gh.GetIssue(gctx, owner, name, issueNumber)
		if err != nil {
			return err
		}
		ghIssue = issue
		return nil
	})
	if phase == models.PhaseScope {
		g.Go(func() error {
			list, _, err := m.gh.ListComments(gctx, owner, name, issueNumber)
			if err != nil {
				return err
			}
			comments = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := m.trackIssue(ctx, repo, ghIssue); err != nil {
		return nil, err
	}

	var prompt string
	switch phase {
	case models.PhaseScope:
		texts := make([]string, len(comments))
		for i, c := range comments {
			texts[i] = c.Body
		}
		prompt = ScopingPrompt(repo, issueNumber, ghIssue.Title, ghIssue.Body, texts)
	case models.PhaseExec:
		prompt = ExecutionPrompt(repo, issueNumber, ghIssue.Title, m.latestScopingPlan(ctx, repo, issueNumber))
	default:
		return nil, fmt.Errorf("unknown phase %q", phase)
	}

	phaseWord := "Scope"
	if phase == models.PhaseExec {
		phaseWord = "Execute"
	}

	remote, err := m.agent.CreateSession(ctx, devin.CreateSessionRequest{
		Prompt:     prompt,
		Idempotent: true,
		Tags:       SessionTags(repo, issueNumber, string(phase)),
		Title:      SessionTitle(phaseWord, ghIssue.Title, issueNumber),
	})
	if err != nil {
		return nil, err
	}

	session, reused, err := m.recordSession(ctx, remote, repo, issueNumber, phase, prompt)
	if err != nil {
		return nil, err
	}

	if phase == models.PhaseExec {
		if err := m.store.TouchIssueExecuted(ctx, repo, issueNumber); err != nil {
			slog.Warn("mark issue executed failed", "repo", repo, "issue", issueNumber, "error", err)
		}
	}

	m.logEvent(ctx, session.SessionID, "session_created", map[string]any{
		"phase":  string(phase),
		"repo":   repo,
		"issue":  issueNumber,
		"reused": reused,
	})

	// Progress reporting on the issue thread is best-effort; a comment
	// failure never rolls back the session.
	if comment, _, err := m.gh.CreateComment(ctx, owner, name, issueNumber, startComment(phase, remote)); err != nil {
		slog.Warn("post start comment failed", "repo", repo, "issue", issueNumber, "error", err)
	} else {
		session.GitHubCommentID = comment.ID
		if err := m.store.UpdateSession(ctx, session); err != nil {
			slog.Warn("record comment id failed", "session_id", session.SessionID, "error", err)
		}
	}

	return &StartResult{Session: session, SessionURL: remote.URL, Reused: reused}, nil
}

func (m *Manager) trackIssue(ctx context.Context, repo string, ghIssue *github.Issue) error {
	issue := &models.Issue{
		Repo:   repo,
		Number: ghIssue.Number,
		Title:  ghIssue.Title,
		State:  ghIssue.State,
		Labels: ghIssue.LabelNames(),
		Author: ghIssue.User.Login,
		URL:    ghIssue.HTMLURL,
	}
	if ghIssue.Assignee != nil {
		issue.Assignee = ghIssue.Assignee.Login
	}
	return m.store.UpsertIssue(ctx, issue)
}

// latestScopingPlan loads the newest scoping result for an issue, if any.
// Execution proceeds without a plan when scoping never ran or produced
// nothing usable.
func (m *Manager) latestScopingPlan(ctx context.Context, repo string, issueNumber int) *devin.AnalysisResult {
	scope, err := m.store.LatestSessionForIssue(ctx, repo, issueNumber, models.PhaseScope)
	if err != nil || scope.LastStructuredOutput == "" {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(scope.LastStructuredOutput), &payload); err != nil {
		slog.Warn("stored scoping output is not JSON", "session_id", scope.SessionID, "error", err)
		return nil
	}
	result, ok := devin.AnalysisFromPayload(payload)
	if !ok {
		return nil
	}
	return result
}

// recordSession upserts the local record keyed by remote session id. The
// idempotent create may hand back a session we already track; that resets
// its status rather than inserting a duplicate.
func (m *Manager) recordSession(ctx context.Context, remote *devin.Session, repo string, issueNumber int, phase models.SessionPhase, prompt string) (*models.Session, bool, error) {
	if existing, err := m.store.GetSession(ctx, remote.SessionID); err == nil {
		existing.Status = models.SessionStatusCreated
		existing.FinishedAt = nil
		if err := m.store.UpdateSession(ctx, existing); err != nil {
			return nil, false, err
		}
		slog.Info("reusing existing session", "session_id", remote.SessionID, "phase", phase)
		return existing, true, nil
	}

	session := &models.Session{
		SessionID:   remote.SessionID,
		Phase:       phase,
		Repo:        repo,
		IssueNumber: issueNumber,
		Status:      models.SessionStatusCreated,
		Title:       remote.Title,
		Tags:        SessionTags(repo, issueNumber, string(phase)),
		Prompt:      prompt,
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, false, err
	}
	return session, false, nil
}

// QueryStatus reconciles the local record with the remote session. When the
// remote structured_output channel is empty, the transcript extractor runs
// scoped to the recorded phase.
func (m *Manager) QueryStatus(ctx context.Context, sessionID string) (*models.Session, error) {
	local, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	remote, err := m.agent.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}

	if err := m.reconcile(ctx, local, remote, true); err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return local, nil
}

// PollSession drives the remote session to a terminal state, persisting
// status on every tick. A timeout surfaces as *devin.TimeoutError; the
// remote session keeps running.
func (m *Manager) PollSession(ctx context.Context, sessionID string, timeout time.Duration) (*models.Session, error) {
	local, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = m.PollTimeout
	}

	remote, err := devin.Poll(ctx, m.agent, sessionID, devin.PollOptions{
		Interval:    m.PollInterval,
		Timeout:     timeout,
		MaxInterval: m.PollMaxInterval,
		OnTick: func(s *devin.Session) error {
			return m.reconcile(ctx, local, s, false)
		},
	})
	if err != nil {
		return nil, err
	}

	if err := m.reconcile(ctx, local, remote, true); err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	m.reportCompletion(ctx, local)
	return local, nil
}

// reconcile folds one remote observation into the local record and
// persists it. With extract set, an empty structured_output falls back to
// transcript extraction.
func (m *Manager) reconcile(ctx context.Context, local *models.Session, remote *devin.Session, extract bool) error {
	payload := remote.StructuredOutput
	if len(payload) == 0 && extract {
		messages, err := m.agent.ListMessages(ctx, local.SessionID, 0)
		if err != nil {
			slog.Warn("transcript fetch failed, skipping extraction", "session_id", local.SessionID, "error", err)
		} else if local.Phase == models.PhaseScope {
			payload = devin.ParseAnalysis(messages)
		} else {
			payload = devin.ParseImplementation(messages)
		}
	}

	if len(payload) > 0 {
		if data, err := json.Marshal(payload); err == nil {
			local.LastStructuredOutput = string(data)
		}
		m.applyPayload(ctx, local, payload)
	}

	status := localStatus(remote.EffectiveStatus())
	if status != local.Status {
		m.logEvent(ctx, local.SessionID, "status_changed", map[string]any{
			"from": string(local.Status),
			"to":   string(status),
		})
		local.Status = status
	}
	if remote.Title != "" {
		local.Title = remote.Title
	}
	if terminal(status) && local.FinishedAt == nil {
		now := time.Now().UTC()
		local.FinishedAt = &now
	}

	return m.store.UpdateSession(ctx, local)
}

// applyPayload propagates validated payload fields onto the tracked issue
// and the session record. Invalid payloads are kept as raw output but
// propagate nothing.
func (m *Manager) applyPayload(ctx context.Context, local *models.Session, payload map[string]any) {
	switch local.Phase {
	case models.PhaseScope:
		if result, ok := devin.AnalysisFromPayload(payload); ok {
			if err := m.store.SetIssueConfidence(ctx, local.Repo, local.IssueNumber, result.Confidence); err != nil {
				slog.Warn("record confidence failed", "repo", local.Repo, "issue", local.IssueNumber, "error", err)
			}
		}
	case models.PhaseExec:
		if result, ok := devin.ImplementationFromPayload(payload); ok {
			if n := prNumberFromURL(result.PRURL); n > 0 {
				local.GitHubPRNumber = n
			}
		}
	}
}

// reportCompletion posts the final scoping assessment back to the issue
// thread and labels the issue. Best-effort, like all comment traffic.
func (m *Manager) reportCompletion(ctx context.Context, local *models.Session) {
	if local.Phase != models.PhaseScope || local.Status != models.SessionStatusFinished {
		return
	}
	var payload map[string]any
	if local.LastStructuredOutput == "" || json.Unmarshal([]byte(local.LastStructuredOutput), &payload) != nil {
		return
	}
	result, ok := devin.AnalysisFromPayload(payload)
	if !ok {
		return
	}

	owner, name, err := splitRepo(local.Repo)
	if err != nil {
		return
	}
	if _, _, err := m.gh.CreateComment(ctx, owner, name, local.IssueNumber, scopingComment(result)); err != nil {
		slog.Warn("post scoping result failed", "repo", local.Repo, "issue", local.IssueNumber, "error", err)
	}
	if _, err := m.gh.AddLabels(ctx, owner, name, local.IssueNumber, []string{ScopedLabel}); err != nil {
		slog.Warn("add scoped label failed", "repo", local.Repo, "issue", local.IssueNumber, "error", err)
	}
}

// localStatus maps a remote status code onto the local lifecycle. Unknown
// codes land on blocked so a human looks at them.
func localStatus(remote string) models.SessionStatus {
	switch remote {
	case devin.StatusWorking, devin.StatusResumed, devin.StatusResumeRequested:
		return models.SessionStatusRunning
	case devin.StatusFinished:
		return models.SessionStatusFinished
	case devin.StatusStopped:
		return models.SessionStatusFailed
	case "expired":
		return models.SessionStatusExpired
	default:
		return models.SessionStatusBlocked
	}
}

func terminal(status models.SessionStatus) bool {
	switch status {
	case models.SessionStatusFinished, models.SessionStatusBlocked,
		models.SessionStatusExpired, models.SessionStatusFailed:
		return true
	}
	return false
}

func prNumberFromURL(prURL string) int {
	if prURL == "" {
		return 0
	}
	idx := strings.LastIndex(prURL, "/")
	if idx < 0 || idx == len(prURL)-1 {
		return 0
	}
	n, err := strconv.Atoi(prURL[idx+1:])
	if err != nil {
		return 0
	}
	return n
}

func (m *Manager) logEvent(ctx context.Context, sessionID, kind string, payload map[string]any) {
	event := &models.Event{SessionID: sessionID, Kind: kind, Payload: payload}
	if err := m.store.AppendEvent(ctx, event); err != nil {
		slog.Warn("append event failed", "session_id", sessionID, "kind", kind, "error", err)
	}
}

func startComment(phase models.SessionPhase, remote *devin.Session) string {
	url := remote.URL
	if url == "" {
		url = "N/A"
	}
	if phase == models.PhaseScope {
		return fmt.Sprintf(`**Scoping Session Started**

I'm analyzing this issue to create an implementation plan.

- **Session ID**: `+"`%s`"+`
- **Session URL**: %s
- **Status**: Working...

I'll update this issue when scoping completes with a plan, confidence score, risk assessment, and effort estimate.`,
			remote.SessionID, url)
	}
	return fmt.Sprintf(`**Execution Session Started**

I'm implementing this issue now.

- **Session ID**: `+"`%s`"+`
- **Session URL**: %s
- **Status**: Working...

I'll create a feature branch, implement the changes, run tests, and open a pull request.`,
		remote.SessionID, url)
}

func scopingComment(result *devin.AnalysisResult) string {
	var b strings.Builder
	b.WriteString("**Scoping Complete**\n\n")
	if result.Summary != "" {
		fmt.Fprintf(&b, "**Summary**: %s\n\n", result.Summary)
	}
	if len(result.Plan) > 0 {
		b.WriteString("**Implementation Plan**:\n")
		for i, step := range result.Plan {
			fmt.Fprintf(&b, "%d. %s\n", i+1, step)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "**Confidence**: %.0f%%\n", result.Confidence*100)
	if result.RiskLevel != "" {
		fmt.Fprintf(&b, "**Risk**: %s\n", result.RiskLevel)
	}
	if result.EstEffortHours > 0 {
		fmt.Fprintf(&b, "**Estimated Effort**: %.1f hours\n", result.EstEffortHours)
	}
	return strings.TrimSpace(b.String())
}
