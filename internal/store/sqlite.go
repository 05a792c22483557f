package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jsperry/triage/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors from concurrent HTTP requests.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Issues ---

func (s *SQLiteStore) UpsertIssue(ctx context.Context, issue *models.Issue) error {
	now := time.Now().UTC()
	if issue.TrackedAt.IsZero() {
		issue.TrackedAt = now
	}
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = now
	}
	issue.UpdatedAt = now

	labelsJSON, err := json.Marshal(issue.Labels)
	if err != nil {
		labelsJSON = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO issues (repo, number, title, state, labels, assignee, author, url, confidence_score, last_scoped_at, last_executed_at, tracked_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo, number) DO UPDATE SET
			title=excluded.title, state=excluded.state, labels=excluded.labels,
			assignee=excluded.assignee, author=excluded.author, url=excluded.url,
			updated_at=excluded.updated_at`,
		issue.Repo, issue.Number, issue.Title, issue.State, string(labelsJSON),
		issue.Assignee, issue.Author, issue.URL,
		issue.ConfidenceScore, issue.LastScopedAt, issue.LastExecutedAt,
		issue.TrackedAt, issue.CreatedAt, issue.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert issue: %w", err)
	}
	return nil
}

const issueColumns = `repo, number, title, state, labels, assignee, author, url, confidence_score, last_scoped_at, last_executed_at, tracked_at, created_at, updated_at`

func scanIssue(row interface{ Scan(...any) error }) (*models.Issue, error) {
	issue := &models.Issue{}
	var labelsJSON string
	var confidence sql.NullFloat64
	var scopedAt, executedAt sql.NullTime

	err := row.Scan(&issue.Repo, &issue.Number, &issue.Title, &issue.State,
		&labelsJSON, &issue.Assignee, &issue.Author, &issue.URL,
		&confidence, &scopedAt, &executedAt,
		&issue.TrackedAt, &issue.CreatedAt, &issue.UpdatedAt)
	if err != nil {
		return nil, err
	}

	_ = json.Unmarshal([]byte(labelsJSON), &issue.Labels)
	if confidence.Valid {
		issue.ConfidenceScore = &confidence.Float64
	}
	if scopedAt.Valid {
		issue.LastScopedAt = &scopedAt.Time
	}
	if executedAt.Valid {
		issue.LastExecutedAt = &executedAt.Time
	}
	return issue, nil
}

func (s *SQLiteStore) GetIssue(ctx context.Context, repo string, number int) (*models.Issue, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE repo = ? AND number = ?`, repo, number)
	issue, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issue not found: %s#%d", repo, number)
	}
	if err != nil {
		return nil, fmt.Errorf("get issue: %w", err)
	}
	return issue, nil
}

func (s *SQLiteStore) ListIssues(ctx context.Context, repo string) ([]*models.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues`
	var args []any
	if repo != "" {
		query += " WHERE repo = ?"
		args = append(args, repo)
	}
	query += " ORDER BY repo, number"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []*models.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func (s *SQLiteStore) SetIssueConfidence(ctx context.Context, repo string, number int, confidence float64) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE issues SET confidence_score=?, last_scoped_at=?, updated_at=? WHERE repo=? AND number=?`,
		confidence, now, now, repo, number)
	if err != nil {
		return fmt.Errorf("set issue confidence: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("issue not found: %s#%d", repo, number)
	}
	return nil
}

func (s *SQLiteStore) TouchIssueExecuted(ctx context.Context, repo string, number int) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE issues SET last_executed_at=?, updated_at=? WHERE repo=? AND number=?`,
		now, now, repo, number)
	if err != nil {
		return fmt.Errorf("touch issue executed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("issue not found: %s#%d", repo, number)
	}
	return nil
}

// --- Sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, session *models.Session) error {
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	if session.Status == "" {
		session.Status = models.SessionStatusCreated
	}

	tagsJSON, err := json.Marshal(session.Tags)
	if err != nil {
		tagsJSON = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, phase, repo, issue_number, status, title, tags, last_structured_output, prompt, created_at, updated_at, finished_at, github_comment_id, github_pr_number)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.SessionID, string(session.Phase), session.Repo, session.IssueNumber,
		string(session.Status), session.Title, string(tagsJSON),
		session.LastStructuredOutput, session.Prompt,
		session.CreatedAt, session.UpdatedAt, session.FinishedAt,
		session.GitHubCommentID, session.GitHubPRNumber,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

const sessionColumns = `session_id, phase, repo, issue_number, status, title, tags, last_structured_output, prompt, created_at, updated_at, finished_at, github_comment_id, github_pr_number`

func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	session := &models.Session{}
	var phase, status, tagsJSON string
	var finishedAt sql.NullTime

	err := row.Scan(&session.SessionID, &phase, &session.Repo, &session.IssueNumber,
		&status, &session.Title, &tagsJSON,
		&session.LastStructuredOutput, &session.Prompt,
		&session.CreatedAt, &session.UpdatedAt, &finishedAt,
		&session.GitHubCommentID, &session.GitHubPRNumber)
	if err != nil {
		return nil, err
	}

	session.Phase = models.SessionPhase(phase)
	session.Status = models.SessionStatus(status)
	_ = json.Unmarshal([]byte(tagsJSON), &session.Tags)
	if finishedAt.Valid {
		session.FinishedAt = &finishedAt.Time
	}
	return session, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, session *models.Session) error {
	session.UpdatedAt = time.Now().UTC()

	tagsJSON, err := json.Marshal(session.Tags)
	if err != nil {
		tagsJSON = []byte("[]")
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET phase=?, repo=?, issue_number=?, status=?, title=?, tags=?, last_structured_output=?, prompt=?, updated_at=?, finished_at=?, github_comment_id=?, github_pr_number=?
		WHERE session_id=?`,
		string(session.Phase), session.Repo, session.IssueNumber,
		string(session.Status), session.Title, string(tagsJSON),
		session.LastStructuredOutput, session.Prompt,
		session.UpdatedAt, session.FinishedAt,
		session.GitHubCommentID, session.GitHubPRNumber,
		session.SessionID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session not found: %s", session.SessionID)
	}
	return nil
}

func (s *SQLiteStore) LatestSessionForIssue(ctx context.Context, repo string, number int, phase models.SessionPhase) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		WHERE repo = ? AND issue_number = ? AND phase = ?
		ORDER BY created_at DESC LIMIT 1`, repo, number, string(phase))
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no %s session for %s#%d", phase, repo, number)
	}
	if err != nil {
		return nil, fmt.Errorf("latest session for issue: %w", err)
	}
	return session, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionListFilter) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1=1`
	var args []any

	if filter.Repo != "" {
		query += " AND repo = ?"
		args = append(args, filter.Repo)
	}
	if filter.IssueNumber > 0 {
		query += " AND issue_number = ?"
		args = append(args, filter.IssueNumber)
	}
	if filter.Phase != "" {
		query += " AND phase = ?"
		args = append(args, string(filter.Phase))
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// --- Events ---

func (s *SQLiteStore) AppendEvent(ctx context.Context, event *models.Event) error {
	if event.ID == "" {
		event.ID = newULID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		payloadJSON = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, session_id, kind, payload, timestamp) VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.SessionID, event.Kind, string(payloadJSON), event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, sessionID string, limit int) ([]*models.Event, error) {
	query := `SELECT id, session_id, kind, payload, timestamp FROM events`
	var args []any
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY timestamp DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*models.Event
	for rows.Next() {
		event := &models.Event{}
		var payloadJSON string
		if err := rows.Scan(&event.ID, &event.SessionID, &event.Kind, &payloadJSON, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		_ = json.Unmarshal([]byte(payloadJSON), &event.Payload)
		events = append(events, event)
	}
	return events, rows.Err()
}
