// Package archive stores deliveries that exhausted their guaranteed-delivery
// retries. The archive is diagnostic: it lets an operator inspect what was
// lost, it does not change delivery guarantees or replay anything on its own.
package archive

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Errors returned by archive implementations.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("archive record not found")

	// ErrStoreClosed is returned when the archive has been closed.
	ErrStoreClosed = errors.New("archive is closed")
)

// Record captures a permanently failed guaranteed delivery.
type Record struct {
	// EmissionID identifies the original emission.
	EmissionID string `json:"emission_id"`

	// EventType is the emitted event type.
	EventType string `json:"event_type"`

	// Payload is the serialized emission data.
	Payload []byte `json:"payload"`

	// Failures lists the listener error messages from the final attempt.
	Failures []string `json:"failures"`

	// FirstFailedAt is when the delivery was first tracked.
	FirstFailedAt time.Time `json:"first_failed_at"`

	// Retries is the number of redelivery attempts made.
	Retries int `json:"retries"`
}

// Archive persists permanently failed deliveries.
type Archive interface {
	// Save stores a record, replacing any record with the same emission ID.
	Save(ctx context.Context, rec *Record) error

	// Get retrieves a record by emission ID.
	Get(ctx context.Context, emissionID string) (*Record, error)

	// List retrieves up to limit records, oldest first.
	List(ctx context.Context, limit int) ([]*Record, error)

	// Delete removes a record.
	Delete(ctx context.Context, emissionID string) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Close releases resources held by the archive.
	Close() error
}

// MemoryArchive is an in-memory Archive.
// Suitable for testing and for deployments that only need live inspection.
type MemoryArchive struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
	closed  bool
}

// NewMemoryArchive creates an empty in-memory archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{
		records: make(map[string]*Record),
	}
}

// Save implements Archive.
func (a *MemoryArchive) Save(_ context.Context, rec *Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrStoreClosed
	}

	if _, exists := a.records[rec.EmissionID]; !exists {
		a.order = append(a.order, rec.EmissionID)
	}
	cp := *rec
	a.records[rec.EmissionID] = &cp
	return nil
}

// Get implements Archive.
func (a *MemoryArchive) Get(_ context.Context, emissionID string) (*Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, ErrStoreClosed
	}

	rec, ok := a.records[emissionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// List implements Archive.
func (a *MemoryArchive) List(_ context.Context, limit int) ([]*Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, ErrStoreClosed
	}

	if limit <= 0 || limit > len(a.order) {
		limit = len(a.order)
	}

	result := make([]*Record, 0, limit)
	for _, id := range a.order[:limit] {
		cp := *a.records[id]
		result = append(result, &cp)
	}
	return result, nil
}

// Delete implements Archive.
func (a *MemoryArchive) Delete(_ context.Context, emissionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrStoreClosed
	}

	if _, ok := a.records[emissionID]; !ok {
		return ErrNotFound
	}

	delete(a.records, emissionID)
	for i, id := range a.order {
		if id == emissionID {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	return nil
}

// Count implements Archive.
func (a *MemoryArchive) Count(_ context.Context) (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return 0, ErrStoreClosed
	}
	return len(a.records), nil
}

// Close implements Archive.
func (a *MemoryArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	return nil
}
