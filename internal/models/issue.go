package models

import "time"

// Issue is a GitHub issue tracked by the orchestrator. Keyed by
// (repo, number); carries the metadata the phases care about plus the
// last confidence score reported by a scoping session.
type Issue struct {
	Repo            string // owner/name
	Number          int
	Title           string
	State           string // open, closed
	Labels          []string
	Assignee        string
	Author          string
	URL             string
	ConfidenceScore *float64
	LastScopedAt    *time.Time
	LastExecutedAt  *time.Time
	TrackedAt       time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
