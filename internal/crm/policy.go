package crm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/signdesk/internal/domain"
	"github.com/ashureev/signdesk/internal/metrics"
	"github.com/ashureev/signdesk/internal/store"
	"github.com/ashureev/signdesk/internal/transcript"
	"golang.org/x/sync/singleflight"
)

// DefaultSyncInterval is the minimum time between transcript pushes for one session.
const DefaultSyncInterval = 30 * time.Second

// SessionState is the in-memory session view. session.Cache satisfies it.
type SessionState interface {
	Snapshot(key string) (*domain.Session, bool)
	SetContactID(key, contactID string) (bool, error)
	SetLastSync(key string, ts time.Time) error
}

// Persister writes CRM linkage durably. store.Coordinator satisfies it.
type Persister interface {
	SetContactID(ctx context.Context, key, contactID string) store.Envelope
	SetLastSync(ctx context.Context, key string, ts time.Time) store.Envelope
	GetQuote(ctx context.Context, key string) (*domain.Quote, store.Envelope)
}

// PolicyOptions configures a Policy.
type PolicyOptions struct {
	SyncInterval time.Duration
	// Timeout bounds each CRM call.
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Policy decides when a session gets a CRM contact and when its transcript
// is pushed. A Policy with a nil Client is disabled and does nothing.
type Policy struct {
	client   Client
	sessions SessionState
	store    Persister
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	upserts  singleflight.Group
}

// NewPolicy returns a Policy.
func NewPolicy(client Client, sessions SessionState, persister Persister, opts PolicyOptions) *Policy {
	p := &Policy{
		client:   client,
		sessions: sessions,
		store:    persister,
		interval: opts.SyncInterval,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
	if p.interval <= 0 {
		p.interval = DefaultSyncInterval
	}
	if p.timeout <= 0 {
		p.timeout = defaultTimeout
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Enabled reports whether a CRM client is configured.
func (p *Policy) Enabled() bool {
	return p != nil && p.client != nil
}

// EnsureContact links the session to a CRM contact when it has an email but
// no contact yet, and returns the contact id. It returns "" when the session
// has no email or the policy is disabled.
func (p *Policy) EnsureContact(ctx context.Context, key string) (string, error) {
	if !p.Enabled() {
		return "", nil
	}
	sess, ok := p.sessions.Snapshot(key)
	if !ok || sess.Email == "" {
		return "", nil
	}
	if sess.HasContact() {
		return sess.ContactID, nil
	}

	id, err := p.UpsertContact(ctx, sess.Email)
	if err != nil {
		return "", fmt.Errorf("ensure contact for session %s: %w", key, err)
	}

	set, err := p.sessions.SetContactID(key, id)
	if err != nil {
		return "", err
	}
	if !set {
		// Another turn linked the session first; keep its id.
		if cur, ok := p.sessions.Snapshot(key); ok && cur.HasContact() {
			return cur.ContactID, nil
		}
	}

	sctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if env := p.store.SetContactID(sctx, key, id); !env.OK() {
		p.logger.Warn("Failed to persist contact id",
			"session_id", key,
			"contact_id", id,
			"error", env.Err)
	}
	p.logger.Info("Session linked to CRM contact",
		"session_id", key,
		"contact_id", id)
	return id, nil
}

// UpsertContact finds the contact for email, updating it in place, or creates
// it. Concurrent calls for the same email share one CRM round trip, and a
// create conflict resolves to the existing contact.
func (p *Policy) UpsertContact(ctx context.Context, email string) (string, error) {
	if !p.Enabled() {
		return "", nil
	}
	email = strings.ToLower(strings.TrimSpace(email))
	v, err, _ := p.upserts.Do(email, func() (any, error) {
		return p.upsertContact(ctx, email)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *Policy) upsertContact(ctx context.Context, email string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	props := map[string]string{"email": email}

	id, found, err := p.client.SearchByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if found {
		if err := p.client.UpdateContact(ctx, id, props); err != nil {
			return "", err
		}
		return id, nil
	}

	id, err = p.client.CreateContact(ctx, props)
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return p.resolveConflict(ctx, email, conflict)
	}
	return id, err
}

func (p *Policy) resolveConflict(ctx context.Context, email string, conflict *ConflictError) (string, error) {
	if conflict.ExistingID != "" {
		p.logger.Info("Contact already exists, using existing id", "contact_id", conflict.ExistingID)
		return conflict.ExistingID, nil
	}
	id, found, err := p.client.SearchByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("resolve conflict: %w", err)
	}
	if !found {
		return "", fmt.Errorf("resolve conflict: %w", conflict)
	}
	p.logger.Info("Contact already exists, resolved by search", "contact_id", id)
	return id, nil
}

// MaybeSyncTranscript pushes the full transcript to the session's contact
// unless the last successful push was less than the sync interval ago. It
// reports whether a push succeeded. A failed push leaves the previous sync
// time in place so the next turn retries.
func (p *Policy) MaybeSyncTranscript(ctx context.Context, key string) bool {
	if !p.Enabled() {
		return false
	}
	sess, ok := p.sessions.Snapshot(key)
	if !ok || !sess.HasContact() {
		return false
	}

	now := p.now().UTC()
	if sess.LastSyncAt != nil && now.Sub(*sess.LastSyncAt) < p.interval {
		p.metrics.CRMSync("throttled")
		return false
	}

	qctx, qcancel := context.WithTimeout(ctx, p.timeout)
	quote, env := p.store.GetQuote(qctx, key)
	qcancel()
	if !env.OK() {
		p.logger.Warn("Quote lookup failed, syncing transcript without it",
			"session_id", key,
			"error", env.Err)
	}

	text := transcript.Build(sess.Messages, key, quote)

	uctx, ucancel := context.WithTimeout(ctx, p.timeout)
	err := p.client.UpdateContact(uctx, sess.ContactID, map[string]string{ConversationProperty: text})
	ucancel()
	if err != nil {
		p.metrics.CRMSync("failed")
		p.logger.Warn("Transcript push failed",
			"session_id", key,
			"contact_id", sess.ContactID,
			"error", err)
		return false
	}

	if err := p.sessions.SetLastSync(key, now); err != nil {
		p.logger.Warn("Failed to record sync time in cache", "session_id", key, "error", err)
	}
	sctx, scancel := context.WithTimeout(ctx, p.timeout)
	defer scancel()
	if env := p.store.SetLastSync(sctx, key, now); !env.OK() {
		p.logger.Warn("Failed to persist sync time",
			"session_id", key,
			"error", env.Err)
	}
	p.metrics.CRMSync("pushed")
	p.logger.Debug("Transcript pushed to CRM",
		"session_id", key,
		"contact_id", sess.ContactID,
		"message_count", sess.MessageCount())
	return true
}
