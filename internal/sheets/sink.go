package sheets

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/signdesk/internal/domain"
	"github.com/ashureev/signdesk/internal/metrics"
	"github.com/ashureev/signdesk/internal/store"
	"github.com/ashureev/signdesk/internal/transcript"
)

const (
	defaultTimeout  = 8 * time.Second
	timestampLayout = "2006-01-02 15:04:05"
	rowStatusActive = "active"
)

// QuoteReader loads the quote rendered below the conversation.
// store.Coordinator satisfies it.
type QuoteReader interface {
	GetQuote(ctx context.Context, key string) (*domain.Quote, store.Envelope)
}

// SinkOptions configures a Sink.
type SinkOptions struct {
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Sink writes one row per session. A Sink built without a Sheet is disabled
// and every call is a silent no-op returning false.
type Sink struct {
	sheet   Sheet
	quotes  QuoteReader
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu    sync.Mutex
	known map[string]bool
}

// NewSink returns a Sink. sheet may be nil to disable the export.
func NewSink(sheet Sheet, quotes QuoteReader, opts SinkOptions) *Sink {
	s := &Sink{
		sheet:   sheet,
		quotes:  quotes,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
		known:   make(map[string]bool),
	}
	if s.timeout <= 0 {
		s.timeout = defaultTimeout
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Enabled reports whether rows are written.
func (s *Sink) Enabled() bool {
	return s != nil && s.sheet != nil
}

// Known reports whether this process already wrote a row for key.
func (s *Sink) Known(key string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known[key]
}

// MarkKnown records that a row for key already exists.
func (s *Sink) MarkKnown(key string) {
	s.mu.Lock()
	s.known[key] = true
	s.mu.Unlock()
}

// UpsertRow writes the session row. With isKnownExisting it locates the row
// by key in the first column and overwrites it with a fully rebuilt row,
// appending instead when no row matches. It reports whether a row was written.
func (s *Sink) UpsertRow(ctx context.Context, key, email string, messages []domain.Message, isKnownExisting bool) bool {
	if !s.Enabled() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row := s.buildRow(ctx, key, email, messages)

	if isKnownExisting {
		n, err := s.findRow(ctx, key)
		switch {
		case err != nil:
			s.logger.Warn("Failed to locate session row, appending",
				"session_id", key,
				"error", err)
		case n == 0:
			s.logger.Warn("Session row not found, appending", "session_id", key)
		default:
			if err := s.sheet.UpdateRow(ctx, n, row); err != nil {
				s.logger.Warn("Failed to update session row, appending",
					"session_id", key,
					"row", n,
					"error", err)
			} else {
				s.metrics.SheetWrite("updated")
				s.MarkKnown(key)
				return true
			}
		}
	}

	if err := s.sheet.AppendRow(ctx, row); err != nil {
		s.metrics.SheetWrite("failed")
		s.logger.Warn("Failed to append session row",
			"session_id", key,
			"error", err)
		return false
	}
	s.metrics.SheetWrite("appended")
	s.MarkKnown(key)
	return true
}

func (s *Sink) buildRow(ctx context.Context, key, email string, messages []domain.Message) []any {
	var quote *domain.Quote
	if s.quotes != nil {
		q, env := s.quotes.GetQuote(ctx, key)
		if !env.OK() {
			s.logger.Warn("Quote lookup failed, exporting conversation without it",
				"session_id", key,
				"error", env.Err)
		}
		quote = q
	}
	return []any{
		key,
		email,
		s.now().Format(timestampLayout),
		len(messages),
		transcript.Build(messages, key, quote),
		rowStatusActive,
	}
}

// findRow returns the 1-based number of the row whose first cell is key, or 0.
func (s *Sink) findRow(ctx context.Context, key string) (int, error) {
	rows, err := s.sheet.ReadAll(ctx)
	if err != nil {
		return 0, err
	}
	for i, r := range rows {
		if len(r) > 0 && r[0] == key {
			return i + 1, nil
		}
	}
	return 0, nil
}
