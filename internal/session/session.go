package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/npezzotti/go-chatserver/internal/types"
)

const tokenBytes = 16

// Session is the server-side record of an authenticated user. It survives
// the connection that created it until its TTL expires, so a client that
// drops can present the token and resume where it left off. Expiry is
// absolute from creation; reads do not extend it.
type Session struct {
	Token     string
	User      types.User
	expiresAt time.Time

	mu   sync.Mutex
	room string
}

// Room returns the room the session last joined, or "" when the user is in
// the lobby.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *Session) SetRoom(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = name
}

func (s *Session) expired(now time.Time) bool {
	return now.After(s.expiresAt)
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
