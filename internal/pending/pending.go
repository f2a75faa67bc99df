// Package pending defines the pending-write queue: the ordered set of
// attendance entries captured on this device but not yet confirmed on the
// authoritative store.
package pending

import (
	"fmt"
	"sync"
	"time"

	"miqaatsync/internal/localstore"
	"miqaatsync/internal/model"
)

// Queue is the abstraction over different backends.
type Queue interface {
	// Enqueue appends a record at the tail.
	Enqueue(rec model.PendingRecord) error
	// Pending returns all records in FIFO insertion order.
	Pending() ([]model.PendingRecord, error)
	// Remove deletes a record by idempotency token; absent tokens are a no-op.
	Remove(token string) error
	// RecordFailure attaches the last sync error to a record.
	RecordFailure(token, detail string) error
}

// The sqlite-backed store is the durable production backend.
var _ Queue = (*localstore.Store)(nil)

// InMemory is a minimal ordered queue for dev/testing.
type InMemory struct {
	mu   sync.Mutex
	recs []model.PendingRecord
}

// NewInMemory creates an empty in-memory queue.
func NewInMemory() *InMemory {
	return &InMemory{}
}

// Enqueue appends a record.
func (q *InMemory) Enqueue(rec model.PendingRecord) error {
	if rec.Token == "" {
		return fmt.Errorf("enqueue: idempotency token required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range q.recs {
		if r.Token == rec.Token {
			return fmt.Errorf("enqueue: duplicate token %s", rec.Token)
		}
	}
	if rec.QueuedAt.IsZero() {
		rec.QueuedAt = time.Now().UTC()
	}
	q.recs = append(q.recs, rec)
	return nil
}

// Pending returns a copy of the queue in insertion order.
func (q *InMemory) Pending() ([]model.PendingRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.PendingRecord, len(q.recs))
	copy(out, q.recs)
	return out, nil
}

// Remove deletes by token.
func (q *InMemory) Remove(token string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, r := range q.recs {
		if r.Token == token {
			q.recs = append(q.recs[:i], q.recs[i+1:]...)
			return nil
		}
	}
	return nil
}

// RecordFailure stores the last error detail.
func (q *InMemory) RecordFailure(token, detail string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.recs {
		if q.recs[i].Token == token {
			q.recs[i].LastError = detail
			return nil
		}
	}
	return nil
}
