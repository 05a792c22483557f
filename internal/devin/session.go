package devin

import (
	"strings"
	"time"
)

// Machine-readable session statuses reported by the remote service.
const (
	StatusWorking          = "working"
	StatusBlocked          = "blocked"
	StatusFinished         = "finished"
	StatusSuspendRequested = "suspend_requested"
	StatusResumeRequested  = "resume_requested"
	StatusResumed          = "resumed"
	StatusStopped          = "stopped"
)

// terminalStatuses are the states from which no further remote progress
// happens without external intervention.
var terminalStatuses = map[string]bool{
	StatusFinished: true,
	StatusBlocked:  true,
	StatusStopped:  true,
}

// IsTerminal reports whether status is a terminal session state.
func IsTerminal(status string) bool {
	return terminalStatuses[status]
}

// Session is the remote service's view of one unit of agent work.
type Session struct {
	SessionID string `json:"session_id"`

	// Status is human-readable; StatusEnum is the machine-readable code.
	// Once fetched, StatusEnum is authoritative for terminal-state
	// decisions.
	Status     string `json:"status,omitempty"`
	StatusEnum string `json:"status_enum,omitempty"`

	Title     string     `json:"title,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`

	StructuredOutput map[string]any `json:"structured_output,omitempty"`
	URL              string         `json:"url,omitempty"`
	IsNewSession     *bool          `json:"is_new_session,omitempty"`
	Messages         []Message      `json:"messages,omitempty"`
}

// EffectiveStatus prefers the machine-readable status code and falls back
// to the lower-cased human-readable status text. The fallback is
// best-effort: the full set of human-readable strings the service may
// return is not documented.
func (s *Session) EffectiveStatus() string {
	if s.StatusEnum != "" {
		return strings.ToLower(s.StatusEnum)
	}
	if s.Status != "" {
		return strings.ToLower(s.Status)
	}
	return "unknown"
}

// Message roles in a session transcript.
const (
	MessageTypeAgent = "devin_message"
	MessageTypeUser  = "user_message"
)

// Message is one role-tagged entry in a session transcript.
type Message struct {
	Type      string     `json:"type"`
	Message   string     `json:"message"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// FromAgent reports whether the entry was authored by the remote agent.
func (m Message) FromAgent() bool {
	return m.Type == MessageTypeAgent
}
