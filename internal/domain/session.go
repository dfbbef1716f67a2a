// Package domain contains core domain types for the signdesk application.
package domain

import (
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single transcript entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session holds the state of one conversation.
// Messages are append-only; Email and ContactID are set at most once.
type Session struct {
	Key        string     `json:"session_id"`
	Email      string     `json:"email,omitempty"`
	Messages   []Message  `json:"messages"`
	ContactID  string     `json:"hubspot_contact_id,omitempty"`
	LastSyncAt *time.Time `json:"hubspot_last_sync_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewSession returns an empty session stamped with now.
func NewSession(key, email string, now time.Time) *Session {
	return &Session{
		Key:       key,
		Email:     email,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MessageCount returns the number of messages in the transcript.
func (s *Session) MessageCount() int {
	return len(s.Messages)
}

// Append adds a message and advances UpdatedAt without ever moving it backwards.
func (s *Session) Append(role, content string, now time.Time) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content})
	s.Touch(now)
}

// Touch advances UpdatedAt to now if now is later.
func (s *Session) Touch(now time.Time) {
	if now.After(s.UpdatedAt) {
		s.UpdatedAt = now
	}
}

// HasContact reports whether the session is linked to a CRM contact.
func (s *Session) HasContact() bool {
	return s.ContactID != ""
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = make([]Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	if s.LastSyncAt != nil {
		ts := *s.LastSyncAt
		c.LastSyncAt = &ts
	}
	return &c
}
