package agent

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no responder is wired.
var ErrNotConfigured = errors.New("responder not configured")

// Service bounds each generation call and cleans the reply.
type Service struct {
	responder Responder
	timeout   time.Duration
}

// NewService wraps responder. A zero timeout uses the default request timeout.
func NewService(responder Responder, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultConfig().RequestTimeout
	}
	return &Service{
		responder: responder,
		timeout:   timeout,
	}
}

// Reply generates the assistant reply for req and strips the quote-form marker.
func (s *Service) Reply(ctx context.Context, req Request) (Reply, error) {
	if s == nil || s.responder == nil {
		return Reply{}, ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.responder.Generate(ctx, req)
	if err != nil {
		return Reply{}, err
	}
	triggered := strings.Contains(raw, QuoteFormTrigger)
	if triggered {
		raw = strings.TrimSpace(strings.ReplaceAll(raw, QuoteFormTrigger, ""))
	}
	return Reply{Text: raw, QuoteFormTriggered: triggered}, nil
}

// Close releases resources.
func (s *Service) Close() {
	if s != nil && s.responder != nil {
		s.responder.Close()
	}
}
