package models

import "time"

// SessionPhase identifies what a remote session is for.
type SessionPhase string

const (
	PhaseScope SessionPhase = "scope"
	PhaseExec  SessionPhase = "exec"
)

// SessionStatus is the local lifecycle status of a tracked session.
type SessionStatus string

const (
	SessionStatusCreated  SessionStatus = "created"
	SessionStatusRunning  SessionStatus = "running"
	SessionStatusBlocked  SessionStatus = "blocked"
	SessionStatusFinished SessionStatus = "finished"
	SessionStatusExpired  SessionStatus = "expired"
	SessionStatusFailed   SessionStatus = "failed"
)

// Session is the local record of a remote agent session, keyed by the
// session id assigned by the remote service. The remote session is the
// source of truth; this record is a cache plus audit trail and is never
// deleted by normal operation.
type Session struct {
	SessionID   string
	Phase       SessionPhase
	Repo        string // owner/name
	IssueNumber int
	Status      SessionStatus
	Title       string
	Tags        []string
	// LastStructuredOutput holds the most recent structured result, either
	// reported directly by the remote service or recovered from the
	// transcript. Raw JSON so scope and exec payloads share a column.
	LastStructuredOutput string
	Prompt               string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	FinishedAt           *time.Time
	GitHubCommentID      int64
	GitHubPRNumber       int
}
