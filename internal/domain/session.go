package domain

import (
	"sync"
	"time"
)

// ChannelSession is one authenticated live connection. It is created only
// after the credential validated, so it is never unauthenticated.
type ChannelSession struct {
	ID           string
	UserID       string
	Username     string
	Roles        []string
	ConnectedAt  time.Time
	ExpiresAt    time.Time
	LastActiveAt time.Time
	activeChat   string
	mu           sync.RWMutex
}

func NewChannelSession(id, userID, username string, roles []string, expiresAt time.Time) *ChannelSession {
	now := time.Now()
	return &ChannelSession{
		ID:           id,
		UserID:       userID,
		Username:     username,
		Roles:        roles,
		ConnectedAt:  now,
		ExpiresAt:    expiresAt,
		LastActiveAt: now,
	}
}

// Expired reports whether the credential behind the session has lapsed.
func (s *ChannelSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// JoinChat records the conversation the client has open. It is a hint for
// clients and logs; delivery never depends on it.
func (s *ChannelSession) JoinChat(otherUserID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeChat = otherUserID
	s.LastActiveAt = time.Now()
}

func (s *ChannelSession) LeaveChat(otherUserID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeChat == otherUserID {
		s.activeChat = ""
	}
	s.LastActiveAt = time.Now()
}

func (s *ChannelSession) ActiveChat() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeChat
}

func (s *ChannelSession) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActiveAt = time.Now()
}
