package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jsperry/triage/internal/models"
	"github.com/jsperry/triage/internal/sessions"
	"github.com/jsperry/triage/internal/store"
)

// Lifecycle is the slice of the session manager the MCP tools use.
type Lifecycle interface {
	StartPhase(ctx context.Context, repo string, issueNumber int, phase models.SessionPhase) (*sessions.StartResult, error)
	QueryStatus(ctx context.Context, sessionID string) (*models.Session, error)
	PollSession(ctx context.Context, sessionID string, timeout time.Duration) (*models.Session, error)
}

// Server wraps the triage data layer and exposes it as MCP tools.
type Server struct {
	store   store.Store
	manager Lifecycle
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store, manager Lifecycle) *Server {
	return &Server{store: s, manager: manager}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("triage", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.scopeIssueTool())
	srv.AddTool(s.executeIssueTool())
	srv.AddTool(s.sessionStatusTool())
	srv.AddTool(s.pollSessionTool())
	srv.AddTool(s.listIssuesTool())
	srv.AddTool(s.listSessionsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// sessionOut is the wire shape tools return for a session record.
type sessionOut struct {
	SessionID   string `json:"session_id"`
	Phase       string `json:"phase"`
	Repo        string `json:"repo"`
	IssueNumber int    `json:"issue_number"`
	Status      string `json:"status"`
	Title       string `json:"title,omitempty"`
	Output      string `json:"structured_output,omitempty"`
	PRNumber    int    `json:"pr_number,omitempty"`
}

func sessionToOut(session *models.Session) sessionOut {
	return sessionOut{
		SessionID:   session.SessionID,
		Phase:       string(session.Phase),
		Repo:        session.Repo,
		IssueNumber: session.IssueNumber,
		Status:      string(session.Status),
		Title:       session.Title,
		Output:      session.LastStructuredOutput,
		PRNumber:    session.GitHubPRNumber,
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// triage_scope_issue
func (s *Server) scopeIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("triage_scope_issue",
		mcp.WithDescription("Start a remote scoping session that analyzes a GitHub issue and produces an implementation plan with a confidence score. Analysis only, no code is written."),
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository in owner/name form")),
		mcp.WithNumber("issue_number", mcp.Required(), mcp.Description("GitHub issue number")),
	)
	return tool, s.handleStartPhase(models.PhaseScope)
}

// triage_execute_issue
func (s *Server) executeIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("triage_execute_issue",
		mcp.WithDescription("Start a remote execution session that implements a GitHub issue on a feature branch and opens a pull request. Reuses the latest scoping plan when one exists."),
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository in owner/name form")),
		mcp.WithNumber("issue_number", mcp.Required(), mcp.Description("GitHub issue number")),
	)
	return tool, s.handleStartPhase(models.PhaseExec)
}

func (s *Server) handleStartPhase(phase models.SessionPhase) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		repo, err := request.RequireString("repo")
		if err != nil {
			return mcp.NewToolResultError("missing required parameter: repo"), nil
		}
		issueNumber, err := request.RequireInt("issue_number")
		if err != nil {
			return mcp.NewToolResultError("missing required parameter: issue_number"), nil
		}

		result, err := s.manager.StartPhase(ctx, repo, issueNumber, phase)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to start %s session: %v", phase, err)), nil
		}

		out := sessionToOut(result.Session)
		return jsonResult(map[string]any{
			"session":     out,
			"session_url": result.SessionURL,
			"reused":      result.Reused,
		})
	}
}

// triage_session_status
func (s *Server) sessionStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("triage_session_status",
		mcp.WithDescription("Get the current status of a remote session, recovering structured output from the transcript when the service reports none."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Remote session id")),
	)
	return tool, s.handleSessionStatus
}

func (s *Server) handleSessionStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	session, err := s.manager.QueryStatus(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to query session: %v", err)), nil
	}
	return jsonResult(sessionToOut(session))
}

// triage_poll_session
func (s *Server) pollSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("triage_poll_session",
		mcp.WithDescription("Block until a remote session reaches a terminal state (finished, blocked, expired) or the timeout elapses. The remote session keeps running on timeout."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Remote session id")),
		mcp.WithNumber("timeout_seconds", mcp.Description("Polling budget in seconds; defaults to the configured poll timeout")),
	)
	return tool, s.handlePollSession
}

func (s *Server) handlePollSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	timeout := time.Duration(request.GetInt("timeout_seconds", 0)) * time.Second

	session, err := s.manager.PollSession(ctx, sessionID, timeout)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("polling failed: %v", err)), nil
	}
	return jsonResult(sessionToOut(session))
}

// triage_list_issues
func (s *Server) listIssuesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("triage_list_issues",
		mcp.WithDescription("List locally tracked issues with their scoping confidence and execution timestamps."),
		mcp.WithString("repo", mcp.Description("Filter by repository in owner/name form")),
	)
	return tool, s.handleListIssues
}

func (s *Server) handleListIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repo := request.GetString("repo", "")
	issues, err := s.store.ListIssues(ctx, repo)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list issues: %v", err)), nil
	}

	type issueOut struct {
		Repo       string   `json:"repo"`
		Number     int      `json:"number"`
		Title      string   `json:"title"`
		State      string   `json:"state"`
		Labels     []string `json:"labels,omitempty"`
		Confidence *float64 `json:"confidence,omitempty"`
		URL        string   `json:"url,omitempty"`
	}

	out := make([]issueOut, len(issues))
	for i, issue := range issues {
		out[i] = issueOut{
			Repo:       issue.Repo,
			Number:     issue.Number,
			Title:      issue.Title,
			State:      issue.State,
			Labels:     issue.Labels,
			Confidence: issue.ConfidenceScore,
			URL:        issue.URL,
		}
	}
	return jsonResult(out)
}

// triage_list_sessions
func (s *Server) listSessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("triage_list_sessions",
		mcp.WithDescription("List tracked remote sessions, newest first. Filterable by repo, phase (scope|exec), and status."),
		mcp.WithString("repo", mcp.Description("Filter by repository in owner/name form")),
		mcp.WithString("phase", mcp.Description("Filter by phase: scope or exec")),
		mcp.WithString("status", mcp.Description("Filter by status: created, running, blocked, finished, expired, failed")),
	)
	return tool, s.handleListSessions
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.SessionListFilter{
		Repo:   request.GetString("repo", ""),
		Phase:  models.SessionPhase(request.GetString("phase", "")),
		Status: models.SessionStatus(request.GetString("status", "")),
	}

	list, err := s.store.ListSessions(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
	}

	out := make([]sessionOut, len(list))
	for i, session := range list {
		out[i] = sessionToOut(session)
	}
	return jsonResult(out)
}
