package store

import (
	"context"
	"time"

	"github.com/ashureev/signdesk/internal/domain"
	"github.com/oklog/ulid/v2"
)

// GetSession reads a session document. The session is nil when the envelope
// failed or no tier holds the key.
func (c *Coordinator) GetSession(ctx context.Context, key string) (*domain.Session, Envelope) {
	env := c.Get(ctx, KindSession, key)
	if !env.Found() {
		return nil, env
	}
	var sess domain.Session
	if err := env.Document.Decode(&sess); err != nil {
		return nil, failed(err)
	}
	if sess.Messages == nil {
		sess.Messages = []domain.Message{}
	}
	return &sess, env
}

// SaveSession upserts the transcript. messages and message_count are always
// overwritten; email is only written when non-empty so it is never cleared.
func (c *Coordinator) SaveSession(ctx context.Context, key string, messages []domain.Message, email string) Envelope {
	if messages == nil {
		messages = []domain.Message{}
	}
	fields := map[string]any{
		FieldMessages:     messages,
		FieldMessageCount: len(messages),
		FieldType:         typeChatSession,
	}
	if email != "" {
		fields[FieldEmail] = email
	}
	return c.Save(ctx, KindSession, key, fields)
}

// SetContactID records the CRM contact linked to a session.
func (c *Coordinator) SetContactID(ctx context.Context, key, contactID string) Envelope {
	return c.UpdateField(ctx, KindSession, key, FieldContactID, contactID)
}

// SetLastSync records the time of the last successful CRM transcript push.
func (c *Coordinator) SetLastSync(ctx context.Context, key string, ts time.Time) Envelope {
	return c.UpdateField(ctx, KindSession, key, FieldLastSyncAt, formatTime(ts))
}

// GetQuote reads the quote document for a session key.
func (c *Coordinator) GetQuote(ctx context.Context, key string) (*domain.Quote, Envelope) {
	env := c.Get(ctx, KindQuote, key)
	if !env.Found() {
		return nil, env
	}
	var q domain.Quote
	if err := env.Document.Decode(&q); err != nil {
		return nil, failed(err)
	}
	return &q, env
}

// SaveQuote upserts the quote for a session key and returns its stable id.
// A second submission updates the same document and keeps the first id.
func (c *Coordinator) SaveQuote(ctx context.Context, key, email string, formData map[string]any) (string, Envelope) {
	if formData == nil {
		formData = map[string]any{}
	}
	env := c.Save(ctx, KindQuote, key, map[string]any{
		FieldEmail:    email,
		FieldFormData: formData,
		FieldQuoteID:  ulid.Make().String(),
		FieldType:     typeQuoteData,
	})
	if !env.OK() {
		return "", env
	}
	return env.Document.String(FieldQuoteID), env
}
