package session

import "time"

// CreateRequest carries the participant attributes the hosting runtime
// extracted from the connected rider.
type CreateRequest struct {
	Username string `json:"username"`
	AuthKey  string `json:"auth_key"`
}

// CreateResponse returns created session metadata plus what the model needs
// to start the conversation.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	Username        string    `json:"username"`
	Status          Status    `json:"status"`
	Instructions    string    `json:"instructions"`
	Greeting        string    `json:"greeting"`
	Tools           any       `json:"tools"`
	StartedAt       time.Time `json:"started_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}

// AuthUpdateRequest rotates the bearer token mid-session.
type AuthUpdateRequest struct {
	AuthKey string `json:"auth_key"`
}
