package agent

import (
	"strings"
	"sync"
)

// Identity is the rider the session acts for. The auth key is read on every
// wallet call so a rotation takes effect on the next request.
type Identity struct {
	username string

	mu      sync.RWMutex
	authKey string
}

func NewIdentity(username, authKey string) *Identity {
	return &Identity{username: strings.TrimSpace(username), authKey: strings.TrimSpace(authKey)}
}

func (i *Identity) Username() string { return i.username }

func (i *Identity) AuthKey() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.authKey
}

// Rotate replaces the bearer token for subsequent calls.
func (i *Identity) Rotate(authKey string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.authKey = strings.TrimSpace(authKey)
}

// Clear drops the token when the session ends.
func (i *Identity) Clear() {
	i.Rotate("")
}
