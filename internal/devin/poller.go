package devin

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Default polling configuration.
const (
	DefaultPollInterval    = 15 * time.Second
	DefaultPollTimeout     = 30 * time.Minute
	DefaultPollMaxInterval = 30 * time.Second

	// pollGrowth widens the interval between fetches each tick,
	// capped at MaxInterval.
	pollGrowth = 1.5
)

// TimeoutError signals that polling exceeded its budget. It says nothing
// about the session's own outcome: the session keeps running remotely and
// is not canceled by the poller.
type TimeoutError struct {
	SessionID string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("polling timed out after %s for session %s", e.Timeout, e.SessionID)
}

// SessionFetcher is the slice of Client the poller needs.
type SessionFetcher interface {
	GetSession(ctx context.Context, sessionID string) (*Session, error)
}

// PollOptions configures one polling run. Zero fields take the defaults
// above.
type PollOptions struct {
	Interval    time.Duration
	Timeout     time.Duration
	MaxInterval time.Duration

	// OnTick is invoked with every freshly fetched session, terminal or
	// not. A failure here is logged and swallowed; it never aborts
	// polling.
	OnTick func(*Session) error

	// sleep is replaceable in tests; nil means time.Sleep.
	sleep func(time.Duration)
}

// Poll drives a session through repeated fetches with adaptive backoff
// until a terminal state or timeout. The elapsed budget is checked before
// each fetch.
func Poll(ctx context.Context, f SessionFetcher, sessionID string, opts PollOptions) (*Session, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	maxInterval := opts.MaxInterval
	if maxInterval <= 0 {
		maxInterval = DefaultPollMaxInterval
	}
	sleep := opts.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	slog.Info("polling session", "session_id", sessionID, "interval", interval, "timeout", timeout)
	start := time.Now()

	for {
		if time.Since(start) > timeout {
			return nil, &TimeoutError{SessionID: sessionID, Timeout: timeout}
		}

		session, err := f.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		status := session.EffectiveStatus()
		slog.Debug("poll tick", "session_id", sessionID, "status", status)

		if opts.OnTick != nil {
			if err := opts.OnTick(session); err != nil {
				slog.Warn("poll observer failed", "session_id", sessionID, "error", err)
			}
		}

		if IsTerminal(status) {
			slog.Info("session reached terminal state", "session_id", sessionID, "status", status)
			return session, nil
		}

		sleep(interval)
		interval = min(time.Duration(float64(interval)*pollGrowth), maxInterval)
	}
}

// PollSession polls via this client until a terminal state or timeout.
func (c *Client) PollSession(ctx context.Context, sessionID string, opts PollOptions) (*Session, error) {
	return Poll(ctx, c, sessionID, opts)
}
