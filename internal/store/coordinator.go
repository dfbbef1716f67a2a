package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/signdesk/internal/metrics"
	"github.com/ashureev/signdesk/internal/shared"
	"github.com/containerd/errdefs"
)

const (
	defaultOperationTimeout = 5 * time.Second
	defaultProbeTimeout     = 5 * time.Second
)

// Document type tags, kept for parity with documents written by older deployments.
const (
	typeChatSession = "chat_session"
	typeQuoteData   = "quote_data"
)

// Fields that are written on insert and never overwritten by a later save.
var insertOnlyFields = map[string]bool{
	FieldSessionID: true,
	FieldCreatedAt: true,
	FieldQuoteID:   true,
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	// OperationTimeout bounds each tier attempt.
	OperationTimeout time.Duration
	// ProbeTimeout bounds the startup connectivity probe.
	ProbeTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	// Now overrides the clock for tests.
	Now func() time.Time
}

// Coordinator is the single writer of durable documents. Every operation
// runs against the primary first and, on any error, is retried against the
// fallback; the Envelope reports which tier served it.
type Coordinator struct {
	primary   Backend
	fallback  Backend
	primaryUp bool
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewCoordinator probes the primary once and returns a Coordinator.
// A nil primary, or one that fails the probe, is treated as unreachable for
// the lifetime of the Coordinator.
func NewCoordinator(ctx context.Context, primary, fallback Backend, opts CoordinatorOptions) *Coordinator {
	c := &Coordinator{
		primary:  primary,
		fallback: fallback,
		timeout:  opts.OperationTimeout,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
	if c.timeout <= 0 {
		c.timeout = defaultOperationTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}

	if primary == nil {
		c.logger.Warn("No primary store configured, using fallback only")
		return c
	}

	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := primary.Ping(probeCtx); err != nil {
		c.logger.Warn("Primary store unreachable, using fallback",
			"backend", primary.Name(),
			"error", err)
		return c
	}
	c.primaryUp = true
	c.logger.Info("Primary store connected", "backend", primary.Name())
	return c
}

// PrimaryReachable reports the result of the startup probe.
func (c *Coordinator) PrimaryReachable() bool {
	return c.primaryUp
}

// Close closes both tiers.
func (c *Coordinator) Close() error {
	var errs []error
	if c.primary != nil {
		errs = append(errs, c.primary.Close())
	}
	if c.fallback != nil {
		errs = append(errs, c.fallback.Close())
	}
	return errors.Join(errs...)
}

type tierFunc func(ctx context.Context, b Backend) (*Document, error)

func (c *Coordinator) run(ctx context.Context, kind Kind, key, op string, fn tierFunc) Envelope {
	var primaryErr error
	if c.primaryUp {
		doc, err := c.attempt(ctx, c.primary, fn)
		if err == nil {
			c.metrics.StoreOp(string(kind), op, string(TierPrimary))
			return Envelope{Tier: TierPrimary, Document: doc}
		}
		primaryErr = err
		c.logger.Warn("Primary store operation failed, retrying on fallback",
			"kind", kind,
			"op", op,
			"session_id", key,
			"class", shared.FailureClass(err),
			"error", err)
	}

	if c.fallback == nil {
		err := fmt.Errorf("%s %s: %w", op, kind, errdefs.ErrUnavailable)
		if primaryErr != nil {
			err = fmt.Errorf("%w: %w", err, primaryErr)
		}
		c.metrics.StoreOp(string(kind), op, string(TierNone))
		return failed(err)
	}

	doc, err := c.attempt(ctx, c.fallback, fn)
	if err != nil {
		c.logger.Error("Fallback store operation failed",
			"kind", kind,
			"op", op,
			"session_id", key,
			"error", err)
		c.metrics.StoreOp(string(kind), op, string(TierNone))
		return failed(fmt.Errorf("%s %s: %w: %w", op, kind, errdefs.ErrUnavailable, errors.Join(primaryErr, err)))
	}
	c.metrics.StoreOp(string(kind), op, string(TierFallback))
	return Envelope{Tier: TierFallback, Document: doc}
}

func (c *Coordinator) attempt(ctx context.Context, b Backend, fn tierFunc) (*Document, error) {
	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return fn(tctx, b)
}

func validateAddress(kind Kind, key string) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown document kind %q: %w", kind, errdefs.ErrInvalidArgument)
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("session key is required: %w", errdefs.ErrInvalidArgument)
	}
	return nil
}

// Get reads a document. Not found is a served envelope with a nil Document.
func (c *Coordinator) Get(ctx context.Context, kind Kind, key string) Envelope {
	if err := validateAddress(kind, key); err != nil {
		return failed(err)
	}
	return c.run(ctx, kind, key, "get", func(ctx context.Context, b Backend) (*Document, error) {
		return b.Get(ctx, kind, key)
	})
}

// Save upserts a document by key. An existing document gets fields merged
// over it, updated_at advanced and, for quotes, status "updated". A new one is
// inserted with created_at, updated_at and status "new".
func (c *Coordinator) Save(ctx context.Context, kind Kind, key string, fields map[string]any) Envelope {
	if err := validateAddress(kind, key); err != nil {
		return failed(err)
	}
	return c.run(ctx, kind, key, "save", func(ctx context.Context, b Backend) (*Document, error) {
		existing, err := b.Get(ctx, kind, key)
		if err != nil {
			return nil, err
		}
		doc := c.merge(existing, kind, key, fields)
		if err := b.Put(ctx, doc); err != nil {
			return nil, err
		}
		return doc, nil
	})
}

// UpdateField sets a single (dotted) field path, creating the document if needed.
func (c *Coordinator) UpdateField(ctx context.Context, kind Kind, key, fieldPath string, value any) Envelope {
	if err := validateAddress(kind, key); err != nil {
		return failed(err)
	}
	if insertOnlyFields[fieldPath] {
		return failed(fmt.Errorf("field %q is immutable: %w", fieldPath, errdefs.ErrInvalidArgument))
	}
	return c.run(ctx, kind, key, "update_field", func(ctx context.Context, b Backend) (*Document, error) {
		existing, err := b.Get(ctx, kind, key)
		if err != nil {
			return nil, err
		}
		doc := c.merge(existing, kind, key, nil)
		if status, ok := existing.fieldValue(FieldStatus); ok && kind == KindQuote {
			// A single-field update is not a resubmission.
			doc.Fields[FieldStatus] = status
		}
		if err := doc.SetPath(fieldPath, value); err != nil {
			return nil, err
		}
		if err := b.Put(ctx, doc); err != nil {
			return nil, err
		}
		return doc, nil
	})
}

func (c *Coordinator) merge(existing *Document, kind Kind, key string, fields map[string]any) *Document {
	now := c.now().UTC()

	if existing == nil {
		doc := NewDocument(kind, key)
		for k, v := range fields {
			doc.Fields[k] = v
		}
		doc.Fields[FieldSessionID] = key
		doc.Fields[FieldCreatedAt] = formatTime(now)
		doc.Fields[FieldUpdatedAt] = formatTime(now)
		doc.Fields[FieldStatus] = "new"
		doc.Fields[FieldType] = typeFor(kind)
		return doc
	}

	doc := existing.Clone()
	for k, v := range fields {
		if insertOnlyFields[k] {
			if _, ok := doc.Fields[k]; ok {
				continue
			}
		}
		doc.Fields[k] = v
	}
	doc.Fields[FieldSessionID] = key
	if prev := existing.Time(FieldUpdatedAt); prev.After(now) {
		now = prev
	}
	doc.Fields[FieldUpdatedAt] = formatTime(now)
	if kind == KindQuote {
		doc.Fields[FieldStatus] = "updated"
	}
	if _, ok := doc.Fields[FieldType]; !ok {
		doc.Fields[FieldType] = typeFor(kind)
	}
	return doc
}

func typeFor(kind Kind) string {
	if kind == KindQuote {
		return typeQuoteData
	}
	return typeChatSession
}
