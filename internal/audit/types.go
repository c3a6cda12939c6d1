package audit

import (
	"context"
	"time"
)

type Outcome string

const (
	OutcomeOK     Outcome = "ok"
	OutcomeFailed Outcome = "failed"
)

// Event records one dispatched tool call. Credentials are never part of it.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	FlowID    string    `json:"flow_id"`
	Username  string    `json:"username"`
	Tool      string    `json:"tool"`
	Outcome   Outcome   `json:"outcome"`
	Kind      string    `json:"kind,omitempty"`
	Code      string    `json:"code,omitempty"`
	Status    int       `json:"status,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists and retrieves the tool-call audit trail.
type Store interface {
	Record(ctx context.Context, event Event) error
	RecentByUser(ctx context.Context, username string, limit int) ([]Event, error)
	Mode() string
	Close() error
}
