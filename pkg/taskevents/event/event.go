// Package event defines the payload envelope delivered to listeners and
// integrations.
//
// A Payload is immutable once validated - any modification creates a new
// payload via Clone. Correlation and causation IDs follow the envelope so
// chains of derived events stay traceable.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the current payload schema version.
const SchemaVersion = "1.0.0"

// Context carries producer-side context for an emission.
type Context struct {
	ProjectRoot   string `json:"projectRoot,omitempty"`
	Session       string `json:"session,omitempty"`
	Source        string `json:"source,omitempty"`
	RequestID     string `json:"requestId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	CausationID   string `json:"causationId,omitempty"`
}

// Payload is the standardized envelope for a single emission.
type Payload struct {
	Version   string         `json:"version"`
	EventID   string         `json:"eventId"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Context   Context        `json:"context"`
	Data      map[string]any `json:"data,omitempty"`
}

// Option configures payload creation.
type Option func(*payloadConfig)

type payloadConfig struct {
	id        string
	timestamp time.Time
	version   string
}

// WithEventID sets a specific event ID (default: auto-generated UUID).
func WithEventID(id string) Option {
	return func(cfg *payloadConfig) {
		cfg.id = id
	}
}

// WithTimestamp sets a specific timestamp (default: time.Now).
func WithTimestamp(t time.Time) Option {
	return func(cfg *payloadConfig) {
		cfg.timestamp = t
	}
}

// WithVersion sets the schema version (default: SchemaVersion).
func WithVersion(v string) Option {
	return func(cfg *payloadConfig) {
		cfg.version = v
	}
}

// New creates a payload for the given event type.
func New(eventType string, data map[string]any, evctx Context, opts ...Option) *Payload {
	cfg := &payloadConfig{
		id:        uuid.New().String(),
		timestamp: time.Now().UTC(),
		version:   SchemaVersion,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	// If no correlation ID, the event ID is the root of the chain.
	if evctx.CorrelationID == "" {
		evctx.CorrelationID = cfg.id
	}

	return &Payload{
		Version:   cfg.version,
		EventID:   cfg.id,
		Type:      eventType,
		Timestamp: cfg.timestamp,
		Context:   evctx,
		Data:      data,
	}
}

// NewFromParent creates a payload caused by a parent payload.
// It inherits the correlation ID and sets the causation ID.
func NewFromParent(parent *Payload, eventType string, data map[string]any, opts ...Option) *Payload {
	evctx := parent.Context
	evctx.CausationID = parent.EventID

	return New(eventType, data, evctx, opts...)
}

// Clone returns a deep copy of the payload. Middleware that transforms a
// payload must operate on a clone so the original emission stays untouched.
func (p *Payload) Clone() *Payload {
	cp := *p
	if p.Data != nil {
		cp.Data = cloneMap(p.Data)
	}
	return &cp
}

// Map renders the payload as a generic mapping, the shape consumed by
// schema validation and version migration.
func (p *Payload) Map() map[string]any {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// FromMap rebuilds a payload from its generic mapping shape.
func FromMap(m map[string]any) (*Payload, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			out[k] = cloneMap(val)
		case []any:
			cp := make([]any, len(val))
			copy(cp, val)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}
