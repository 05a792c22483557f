package store

import (
	"context"

	"github.com/jsperry/triage/internal/models"
)

// SessionListFilter narrows a session listing. Zero values mean "any".
type SessionListFilter struct {
	Repo        string
	IssueNumber int
	Phase       models.SessionPhase
	Status      models.SessionStatus
	Limit       int
}

// Store is the persistence boundary for tracked issues, session records,
// and the audit event log.
type Store interface {
	Migrate(ctx context.Context) error
	Close() error

	// Issues
	UpsertIssue(ctx context.Context, issue *models.Issue) error
	GetIssue(ctx context.Context, repo string, number int) (*models.Issue, error)
	ListIssues(ctx context.Context, repo string) ([]*models.Issue, error)
	SetIssueConfidence(ctx context.Context, repo string, number int, confidence float64) error
	TouchIssueExecuted(ctx context.Context, repo string, number int) error

	// Sessions
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	UpdateSession(ctx context.Context, session *models.Session) error
	LatestSessionForIssue(ctx context.Context, repo string, number int, phase models.SessionPhase) (*models.Session, error)
	ListSessions(ctx context.Context, filter SessionListFilter) ([]*models.Session, error)

	// Events
	AppendEvent(ctx context.Context, event *models.Event) error
	ListEvents(ctx context.Context, sessionID string, limit int) ([]*models.Event, error)
}
