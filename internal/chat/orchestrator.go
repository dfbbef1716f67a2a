// Package chat drives one chat turn end to end: session state, reply
// generation, durable persistence and the spreadsheet and CRM side effects.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/signdesk/internal/agent"
	"github.com/ashureev/signdesk/internal/crm"
	"github.com/ashureev/signdesk/internal/domain"
	"github.com/ashureev/signdesk/internal/metrics"
	"github.com/ashureev/signdesk/internal/session"
	"github.com/ashureev/signdesk/internal/sheets"
	"github.com/ashureev/signdesk/internal/store"
	"github.com/containerd/errdefs"
)

// ApologyReply is returned to the user when no reply could be generated.
const ApologyReply = "Sorry, I encountered an error. Please try again."

// ErrGeneration marks a turn whose reply could not be generated.
var ErrGeneration = errors.New("response generation failed")

// TurnResult is what a turn returns to the caller.
type TurnResult struct {
	Reply              string `json:"message"`
	SessionKey         string `json:"session_id"`
	MessageCount       int    `json:"message_count"`
	QuoteFormTriggered bool   `json:"quote_form_triggered"`
}

// Options configures an Orchestrator.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Orchestrator is the single entry point for chat turns. It is the only
// component that mutates session state as the result of a turn.
type Orchestrator struct {
	sessions *session.Cache
	store    *store.Coordinator
	sink     *sheets.Sink
	crm      *crm.Policy
	agent    *agent.Service
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New returns an Orchestrator. sink and policy may be disabled instances.
func New(sessions *session.Cache, coord *store.Coordinator, sink *sheets.Sink, policy *crm.Policy, replies *agent.Service, opts Options) *Orchestrator {
	o := &Orchestrator{
		sessions: sessions,
		store:    coord,
		sink:     sink,
		crm:      policy,
		agent:    replies,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// HandleTurn records the user's message, generates a reply and runs every
// side effect for the turn. Turns for the same key run one at a time.
//
// Only invalid input and reply generation failure are returned as errors.
// On generation failure the result carries ApologyReply and the user's
// message has already been recorded.
func (o *Orchestrator) HandleTurn(ctx context.Context, key, text, email string) (TurnResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return TurnResult{}, fmt.Errorf("session_id is required: %w", errdefs.ErrInvalidArgument)
	}
	if strings.TrimSpace(text) == "" {
		return TurnResult{}, fmt.Errorf("message is required: %w", errdefs.ErrInvalidArgument)
	}

	// A started turn runs to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	start := o.now()

	unlock := o.sessions.Lock(key)
	defer unlock()

	// 1. Resolve session.
	sess := o.sessions.GetOrCreate(ctx, key, strings.TrimSpace(email))

	// 2. Link a CRM contact once the email is known.
	if sess.Email != "" && !sess.HasContact() {
		if _, err := o.crm.EnsureContact(ctx, key); err != nil {
			o.logger.Warn("CRM contact upsert failed, continuing without linkage",
				"session_id", key,
				"error", err)
		}
	}

	// 3. Record the user's message before anything can fail.
	history := sess.Messages
	if err := o.sessions.AppendMessage(key, domain.RoleUser, text); err != nil {
		o.logger.Error("Failed to append user message", "session_id", key, "error", err)
	}

	// 4. Generate the reply.
	reply, genErr := o.agent.Reply(ctx, agent.Request{
		SessionID: key,
		Message:   text,
		Email:     sess.Email,
		History:   history,
	})
	if genErr != nil {
		o.logger.Error("Reply generation failed",
			"session_id", key,
			"error", genErr)
		snap := o.persist(ctx, key)
		o.metrics.Turn("failed", o.now().Sub(start))
		return TurnResult{
			Reply:        ApologyReply,
			SessionKey:   key,
			MessageCount: snap.MessageCount(),
		}, fmt.Errorf("%w: %w", ErrGeneration, genErr)
	}

	// 5. Record the reply.
	if err := o.sessions.AppendMessage(key, domain.RoleAssistant, reply.Text); err != nil {
		o.logger.Error("Failed to append assistant message", "session_id", key, "error", err)
	}

	snap, ok := o.sessions.Snapshot(key)
	if !ok {
		snap = sess
	}

	// 6. Export the row once the session has an email.
	if snap.Email != "" {
		if !o.sink.UpsertRow(ctx, key, snap.Email, snap.Messages, o.sink.Known(key)) && o.sink.Enabled() {
			o.logger.Warn("Spreadsheet row not written", "session_id", key)
		}
	}

	// 7. Persist.
	o.save(ctx, snap)

	// 8. Push the transcript to the linked contact.
	if snap.HasContact() {
		o.crm.MaybeSyncTranscript(ctx, key)
	}

	o.metrics.Turn("ok", o.now().Sub(start))
	o.logger.Info("Chat turn handled",
		"session_id", key,
		"message_count", snap.MessageCount(),
		"quote_form_triggered", reply.QuoteFormTriggered)

	return TurnResult{
		Reply:              reply.Text,
		SessionKey:         key,
		MessageCount:       snap.MessageCount(),
		QuoteFormTriggered: reply.QuoteFormTriggered,
	}, nil
}

// persist saves the cached session and returns the snapshot it saved.
func (o *Orchestrator) persist(ctx context.Context, key string) *domain.Session {
	snap, ok := o.sessions.Snapshot(key)
	if !ok {
		return domain.NewSession(key, "", o.now().UTC())
	}
	o.save(ctx, snap)
	return snap
}

func (o *Orchestrator) save(ctx context.Context, snap *domain.Session) {
	env := o.store.SaveSession(ctx, snap.Key, snap.Messages, snap.Email)
	switch {
	case !env.OK():
		o.logger.Error("Session could not be recorded on any tier",
			"session_id", snap.Key,
			"message_count", snap.MessageCount(),
			"error", env.Err)
	case env.Fallback():
		o.logger.Debug("Session saved to fallback store", "session_id", snap.Key)
	}
}
