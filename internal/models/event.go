package models

import "time"

// Event is one entry in the audit log.
type Event struct {
	ID        string
	SessionID string
	Kind      string // e.g. "session_created", "status_changed"
	Payload   map[string]any
	Timestamp time.Time
}
