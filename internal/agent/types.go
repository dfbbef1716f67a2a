// Package agent talks to the external response-generation service that
// writes the assistant side of the conversation.
package agent

import (
	"time"

	"github.com/ashureev/signdesk/internal/domain"
)

// QuoteFormTrigger is the marker a reply carries when the client should open
// the quote form. It is removed before the reply is stored or shown.
const QuoteFormTrigger = "[QUOTE_FORM_TRIGGER]"

// Request is one generation call.
type Request struct {
	SessionID string
	Message   string
	Email     string
	// History is the transcript before Message, oldest first.
	History []domain.Message
}

// Reply is a cleaned assistant reply.
type Reply struct {
	Text               string
	QuoteFormTriggered bool
}

// Config holds response-generation settings.
type Config struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	// HistoryLimit caps how many prior messages are sent with each request.
	HistoryLimit int
}

// DefaultConfig returns default generation settings.
func DefaultConfig() Config {
	return Config{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
		HistoryLimit:     20,
	}
}
