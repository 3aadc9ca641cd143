// Package queue defines the auth event payloads exchanged over the message
// broker, the publisher used by the HTTP layer and the audit consumer.
package queue

import "time"

// AuthEventsQueue is the durable queue every auth event is routed to.
const AuthEventsQueue = "auth.events"

// EventType names what happened to a session.
type EventType string

const (
	EventRegistered    EventType = "user.registered"
	EventLogin         EventType = "user.login"
	EventLoginFailed   EventType = "user.login_failed"
	EventRefreshed     EventType = "session.refreshed"
	EventRefreshDenied EventType = "session.refresh_denied"
	EventLogout        EventType = "session.logout"
)

// AuthEvent is published after a credential operation finishes.  It never
// carries a password, a token or a fingerprint; consumers get just enough to
// build an audit trail.
type AuthEvent struct {
	Type       EventType `json:"type"`
	UserID     string    `json:"user_id,omitempty"`
	Email      string    `json:"email,omitempty"`
	RemoteIP   string    `json:"remote_ip,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
