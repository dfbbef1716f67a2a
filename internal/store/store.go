// Package store provides durable document persistence with a primary
// backend, a local file fallback and the Coordinator that chooses between them.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind names a document collection.
type Kind string

const (
	// KindSession documents hold chat transcripts and CRM linkage.
	KindSession Kind = "session"
	// KindQuote documents hold quote-form submissions.
	KindQuote Kind = "quote"
)

// Valid reports whether k is a known document kind.
func (k Kind) Valid() bool {
	return k == KindSession || k == KindQuote
}

// Well-known document field names shared by every backend.
const (
	FieldSessionID    = "session_id"
	FieldEmail        = "email"
	FieldMessages     = "messages"
	FieldMessageCount = "message_count"
	FieldContactID    = "hubspot_contact_id"
	FieldLastSyncAt   = "hubspot_last_sync_at"
	FieldFormData     = "form_data"
	FieldQuoteID      = "quote_id"
	FieldStatus       = "status"
	FieldType         = "type"
	FieldCreatedAt    = "created_at"
	FieldUpdatedAt    = "updated_at"
)

// Document is one JSON document addressed by (Kind, Key).
type Document struct {
	Kind   Kind
	Key    string
	Fields map[string]any
}

// NewDocument returns an empty document for kind and key.
func NewDocument(kind Kind, key string) *Document {
	return &Document{
		Kind:   kind,
		Key:    key,
		Fields: map[string]any{FieldSessionID: key},
	}
}

// Clone returns a copy with its own top-level field map.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	fields := make(map[string]any, len(d.Fields))
	for k, v := range d.Fields {
		fields[k] = v
	}
	return &Document{Kind: d.Kind, Key: d.Key, Fields: fields}
}

// String returns the named field as a string, or "" if absent or not a string.
func (d *Document) String(field string) string {
	if d == nil {
		return ""
	}
	s, _ := d.Fields[field].(string)
	return s
}

// Time parses the named RFC 3339 field. The zero time is returned when absent.
func (d *Document) Time(field string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, d.String(field))
	if err != nil {
		return time.Time{}
	}
	return ts
}

// Decode converts the document fields into v through JSON.
func (d *Document) Decode(v any) error {
	data, err := json.Marshal(d.Fields)
	if err != nil {
		return fmt.Errorf("marshal %s %q: %w", d.Kind, d.Key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s %q: %w", d.Kind, d.Key, err)
	}
	return nil
}

// SetPath assigns value at a dotted field path, creating intermediate maps.
func (d *Document) SetPath(path string, value any) error {
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return fmt.Errorf("invalid field path %q", path)
		}
	}
	current := d.Fields
	for _, p := range parts[:len(parts)-1] {
		next, ok := current[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[p] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
	return nil
}

// Backend is a durable document store tier.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Get returns the document or nil, nil when it does not exist.
	Get(ctx context.Context, kind Kind, key string) (*Document, error)

	// Put stores the whole document, replacing any existing one with the
	// same (kind, key). It never creates a second document for a key.
	Put(ctx context.Context, doc *Document) error

	// Close releases backend resources.
	Close() error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func encodeFields(doc *Document) ([]byte, error) {
	data, err := json.Marshal(doc.Fields)
	if err != nil {
		return nil, fmt.Errorf("marshal %s %q: %w", doc.Kind, doc.Key, err)
	}
	return data, nil
}

func decodeFields(kind Kind, key string, data []byte) (*Document, error) {
	fields := make(map[string]any)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal %s %q: %w", kind, key, err)
	}
	return &Document{Kind: kind, Key: key, Fields: fields}, nil
}

func encodeFieldsIndent(doc *Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc.Fields, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal %s %q: %w", doc.Kind, doc.Key, err)
	}
	return append(data, '\n'), nil
}

func (d *Document) fieldValue(field string) (any, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.Fields[field]
	return v, ok
}
