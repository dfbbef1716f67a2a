package chat

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/signdesk/internal/domain"
	"github.com/containerd/errdefs"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// ValidEmail reports whether email is syntactically acceptable.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(strings.TrimSpace(email))
}

// Transcript is the read-only view of a session's history.
type Transcript struct {
	SessionKey string           `json:"session_id"`
	Messages   []domain.Message `json:"messages"`
	Email      string           `json:"email"`
	Found      bool             `json:"success"`
}

// MessageCount returns the number of messages in the transcript.
func (t Transcript) MessageCount() int {
	return len(t.Messages)
}

// GetSessionTranscript returns the session history. The in-process session
// wins when present; otherwise the durable copy is read and cached.
func (o *Orchestrator) GetSessionTranscript(ctx context.Context, key string) (Transcript, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Transcript{}, fmt.Errorf("session_id is required: %w", errdefs.ErrInvalidArgument)
	}
	if snap, ok := o.sessions.Snapshot(key); ok {
		return transcriptOf(snap), nil
	}

	sess, env := o.store.GetSession(ctx, key)
	if !env.OK() {
		return Transcript{SessionKey: key, Messages: []domain.Message{}}, env.Err
	}
	if sess == nil {
		return Transcript{SessionKey: key, Messages: []domain.Message{}}, nil
	}
	return transcriptOf(o.sessions.Seed(key, sess)), nil
}

func transcriptOf(s *domain.Session) Transcript {
	return Transcript{
		SessionKey: s.Key,
		Messages:   s.Messages,
		Email:      s.Email,
		Found:      true,
	}
}

// GetQuote returns the stored quote for key, or nil when none exists.
func (o *Orchestrator) GetQuote(ctx context.Context, key string) (*domain.Quote, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("session_id is required: %w", errdefs.ErrInvalidArgument)
	}
	q, env := o.store.GetQuote(ctx, key)
	if !env.OK() {
		return nil, env.Err
	}
	return q, nil
}

// SaveQuoteSubmission upserts the quote for key and returns its id. A second
// submission updates the same quote. When the session is live in this process
// its spreadsheet row is refreshed so the export shows the new quote.
func (o *Orchestrator) SaveQuoteSubmission(ctx context.Context, key, email string, formData map[string]any) (string, error) {
	key = strings.TrimSpace(key)
	email = strings.TrimSpace(email)
	if key == "" || email == "" || len(formData) == 0 {
		return "", fmt.Errorf("session_id, email and form_data are required: %w", errdefs.ErrInvalidArgument)
	}

	ctx = context.WithoutCancel(ctx)
	unlock := o.sessions.Lock(key)
	defer unlock()

	quoteID, env := o.store.SaveQuote(ctx, key, email, formData)
	if !env.OK() {
		return "", fmt.Errorf("save quote: %w", env.Err)
	}
	o.logger.Info("Quote saved",
		"session_id", key,
		"quote_id", quoteID,
		"status", env.Document.String("status"),
		"tier", env.Tier)

	if snap, ok := o.sessions.Snapshot(key); ok {
		o.sink.UpsertRow(ctx, key, email, snap.Messages, o.sink.Known(key))
	}
	return quoteID, nil
}

// EmailValidation is the outcome of ValidateEmail.
type EmailValidation struct {
	Valid     bool   `json:"valid"`
	Message   string `json:"message"`
	ContactID string `json:"contact_id,omitempty"`
	CRMError  string `json:"hubspot_error,omitempty"`
}

// ValidateEmail checks the address and, when it is valid, upserts the CRM
// contact right away. With a session key the email is recorded on the session
// (first write wins) and the contact is linked to it.
func (o *Orchestrator) ValidateEmail(ctx context.Context, key, email string) EmailValidation {
	email = strings.TrimSpace(email)
	if email == "" {
		return EmailValidation{Message: "Email is required"}
	}
	if !ValidEmail(email) {
		return EmailValidation{Message: "Invalid email format"}
	}
	result := EmailValidation{Valid: true, Message: "Valid email format"}
	if !o.crm.Enabled() {
		return result
	}

	ctx = context.WithoutCancel(ctx)
	key = strings.TrimSpace(key)

	var (
		id  string
		err error
	)
	if key == "" {
		id, err = o.crm.UpsertContact(ctx, email)
	} else {
		unlock := o.sessions.Lock(key)
		defer unlock()
		o.sessions.GetOrCreate(ctx, key, email)
		id, err = o.crm.EnsureContact(ctx, key)
		if snap, ok := o.sessions.Snapshot(key); ok {
			o.save(ctx, snap)
		}
	}
	if err != nil {
		o.logger.Warn("CRM contact upsert failed during email validation",
			"session_id", key,
			"error", err)
		result.Message = "Valid email format (CRM sync failed)"
		result.CRMError = err.Error()
		return result
	}
	result.ContactID = id
	return result
}
