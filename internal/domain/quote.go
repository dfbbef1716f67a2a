package domain

import "time"

// Quote statuses.
const (
	QuoteStatusNew     = "new"
	QuoteStatusUpdated = "updated"
)

// Quote is the quote-form submission attached 1:1 to a session key.
// FormData is stored as submitted; it is never validated against a schema.
type Quote struct {
	SessionKey string         `json:"session_id"`
	ID         string         `json:"quote_id"`
	Email      string         `json:"email"`
	FormData   map[string]any `json:"form_data"`
	Status     string         `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
