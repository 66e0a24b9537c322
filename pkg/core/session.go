// pkg/core/session.go
package core

import (
	"time"

	"github.com/google/uuid"
)

// Session is one run of the AR scene. Journal records are grouped by session.
type Session struct {
	ID        uuid.UUID
	StartedAt time.Time
	Provider  string
	Host      string
	Version   string
	Markers   int
}

// NewSession creates a session with a random id.
func NewSession(provider string, startedAt time.Time) *Session {
	return &Session{
		ID:        uuid.New(),
		StartedAt: startedAt,
		Provider:  provider,
	}
}
