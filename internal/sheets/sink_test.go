package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/signdesk/internal/domain"
	"github.com/ashureev/signdesk/internal/store"
)

type memSheet struct {
	mu        sync.Mutex
	rows      [][]any
	readErr   error
	appendErr error
	appends   int
	updates   int
}

func (m *memSheet) AppendRow(_ context.Context, row []any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.appends++
	m.rows = append(m.rows, row)
	return nil
}

func (m *memSheet) ReadAll(_ context.Context) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	out := make([][]string, len(m.rows))
	for i, r := range m.rows {
		for _, c := range r {
			out[i] = append(out[i], fmt.Sprint(c))
		}
	}
	return out, nil
}

func (m *memSheet) UpdateRow(_ context.Context, n int, row []any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	m.rows[n-1] = row
	return nil
}

type staticQuotes struct {
	quote *domain.Quote
	err   error
}

func (s staticQuotes) GetQuote(context.Context, string) (*domain.Quote, store.Envelope) {
	if s.err != nil {
		return nil, store.Envelope{Tier: store.TierNone, Err: s.err}
	}
	return s.quote, store.Envelope{Tier: store.TierPrimary}
}

var fixedNow = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) }

func msgs(texts ...string) []domain.Message {
	out := make([]domain.Message, len(texts))
	for i, t := range texts {
		out[i] = domain.Message{Role: domain.RoleUser, Content: t}
	}
	return out
}

func TestUpsertRowAppendsNewSession(t *testing.T) {
	sheet := &memSheet{}
	sink := NewSink(sheet, nil, SinkOptions{Now: fixedNow})

	if !sink.UpsertRow(context.Background(), "s1", "a@b.com", msgs("hi"), false) {
		t.Fatal("UpsertRow returned false")
	}

	if len(sheet.rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(sheet.rows))
	}
	row := sheet.rows[0]
	want := []any{"s1", "a@b.com", "2026-02-03 04:05:06", 1, "User: hi", "active"}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("cell %d = %v, want %v", i, row[i], want[i])
		}
	}
	if !sink.Known("s1") {
		t.Error("session should be known after a successful write")
	}
}

func TestUpsertRowReplacesKnownRow(t *testing.T) {
	sheet := &memSheet{rows: [][]any{
		{"session_id", "email", "timestamp", "message_count", "conversation", "status"},
		{"other", "x@y.com", "", 1, "User: x", "active"},
		{"s1", "a@b.com", "", 1, "User: hi", "active"},
	}}
	sink := NewSink(sheet, staticQuotes{quote: &domain.Quote{FormData: map[string]any{"budget": "500"}}}, SinkOptions{Now: fixedNow})

	ok := sink.UpsertRow(context.Background(), "s1", "a@b.com", msgs("hi", "more"), true)
	if !ok {
		t.Fatal("UpsertRow returned false")
	}
	if sheet.appends != 0 || sheet.updates != 1 {
		t.Fatalf("appends=%d updates=%d, want 0 and 1", sheet.appends, sheet.updates)
	}
	row := sheet.rows[2]
	if row[3] != 2 {
		t.Errorf("message_count = %v, want 2", row[3])
	}
	conv := row[4].(string)
	if !strings.HasPrefix(conv, "User: hi\nUser: more") || !strings.Contains(conv, "Budget: 500") {
		t.Errorf("conversation not fully rebuilt:\n%s", conv)
	}
}

func TestUpsertRowAppendsWhenKnownRowMissing(t *testing.T) {
	sheet := &memSheet{}
	sink := NewSink(sheet, nil, SinkOptions{})

	if !sink.UpsertRow(context.Background(), "s1", "a@b.com", msgs("hi"), true) {
		t.Fatal("UpsertRow returned false")
	}
	if sheet.appends != 1 {
		t.Fatalf("appends = %d, want 1", sheet.appends)
	}
}

func TestUpsertRowAppendsWhenReadFails(t *testing.T) {
	sheet := &memSheet{readErr: errors.New("quota exceeded")}
	sink := NewSink(sheet, nil, SinkOptions{})

	if !sink.UpsertRow(context.Background(), "s1", "a@b.com", msgs("hi"), true) {
		t.Fatal("UpsertRow returned false")
	}
	if sheet.appends != 1 {
		t.Fatalf("appends = %d, want 1", sheet.appends)
	}
}

func TestUpsertRowAppendFailure(t *testing.T) {
	sheet := &memSheet{appendErr: errors.New("503")}
	sink := NewSink(sheet, staticQuotes{err: errors.New("store down")}, SinkOptions{})

	if sink.UpsertRow(context.Background(), "s1", "a@b.com", msgs("hi"), false) {
		t.Fatal("UpsertRow should report failure")
	}
	if sink.Known("s1") {
		t.Error("failed write must not mark the session known")
	}
}

func TestDisabledSinkIsNoOp(t *testing.T) {
	sink := NewSink(nil, nil, SinkOptions{})

	if sink.Enabled() {
		t.Fatal("sink without a sheet should be disabled")
	}
	for _, known := range []bool{false, true} {
		if sink.UpsertRow(context.Background(), "s1", "a@b.com", msgs("hi"), known) {
			t.Errorf("disabled sink returned true (known=%v)", known)
		}
	}
}

func TestRowRange(t *testing.T) {
	tests := []struct {
		n, width int
		want     string
	}{
		{3, 6, "A3:F3"},
		{10, 1, "A10:A10"},
		{2, 27, "A2:AA2"},
	}
	for _, tt := range tests {
		if got := rowRange(tt.n, tt.width); got != tt.want {
			t.Errorf("rowRange(%d, %d) = %q, want %q", tt.n, tt.width, got, tt.want)
		}
	}
}
