package model

import "time"

// SessionStatus represents the lifecycle status of a workspace session record.
type SessionStatus string

const (
	SessionStatusOpen   SessionStatus = "open"
	SessionStatusClosed SessionStatus = "closed"
)

// SessionRecord is the persisted view of a workspace session. The runtime
// bundle (channel, router, consumers) lives in the session registry; this
// record survives daemon restarts so the UI can list recent sessions.
type SessionRecord struct {
	ID        string        `json:"id"`
	TargetID  string        `json:"targetId"`
	Status    SessionStatus `json:"status"`
	Cwd       string        `json:"cwd,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Duration returns how long the session has existed.
func (s *SessionRecord) Duration() time.Duration {
	return time.Since(s.CreatedAt)
}

// OpenSessionRequest represents a request to open a session against a target.
type OpenSessionRequest struct {
	TargetID string `json:"targetId" binding:"required"`
	// NewSession forces an additional independent session even when the
	// target already has one open.
	NewSession bool `json:"newSession"`
}

// Validate validates the open session request.
func (r *OpenSessionRequest) Validate() error {
	if r.TargetID == "" {
		return ErrTargetRequired
	}
	return nil
}
