// Package syncer drains the pending write queue against the authoritative
// attendance store once connectivity returns.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"miqaatsync/internal/model"
	"miqaatsync/internal/pending"
)

// Writer is the idempotent remote attendance write, shared with the marking
// workflow's online commit path.
type Writer interface {
	WriteAttendanceIfAbsent(ctx context.Context, miqaatID, idemToken string, entry model.AttendanceEntry) error
}

var outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "miqaatsync_reconcile_outcomes_total",
	Help: "Pending-queue reconciliation outcomes by result.",
}, []string{"result"})

// Outcome classifies one reconciliation attempt.
type Outcome int

const (
	Synced Outcome = iota
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Synced:
		return "synced"
	case Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Reconciler drains a device's pending queue.
type Reconciler struct {
	queue  pending.Queue
	writer Writer
}

// New creates a reconciler.
func New(queue pending.Queue, writer Writer) *Reconciler {
	return &Reconciler{queue: queue, writer: writer}
}

// Reconcile processes every queued record in FIFO order. Success and
// conflict both remove the record (the remote state is already correct on
// conflict); any other error retains it with the detail attached. Each
// record is one queue mutation, so an interrupted pass resumes cleanly from
// whatever is still queued.
func (r *Reconciler) Reconcile(ctx context.Context) (model.SyncReport, error) {
	var report model.SyncReport

	recs, err := r.queue.Pending()
	if err != nil {
		return report, fmt.Errorf("read pending queue: %w", err)
	}

	for _, rec := range recs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		switch outcome, err := r.attempt(ctx, rec); outcome {
		case Synced:
			report.Synced++
		case Skipped:
			report.Skipped++
		case Failed:
			report.Failed++
			report.Errors = append(report.Errors, model.SyncFailure{Token: rec.Token, Detail: err.Error()})
		}
	}
	return report, nil
}

// Retry re-runs the reconciliation step for a single record, at the
// operator's request.
func (r *Reconciler) Retry(ctx context.Context, token string) (Outcome, error) {
	recs, err := r.queue.Pending()
	if err != nil {
		return Failed, err
	}
	for _, rec := range recs {
		if rec.Token == token {
			return r.attempt(ctx, rec)
		}
	}
	return Failed, fmt.Errorf("retry: no pending record with token %s", token)
}

// Discard removes a record without a remote write. Explicit operator
// decision only; the reconciler never discards on its own.
func (r *Reconciler) Discard(token string) error {
	return r.queue.Remove(token)
}

func (r *Reconciler) attempt(ctx context.Context, rec model.PendingRecord) (Outcome, error) {
	err := r.writer.WriteAttendanceIfAbsent(ctx, rec.MiqaatID, rec.Token, rec.Entry)
	switch {
	case err == nil:
		outcomes.WithLabelValues("synced").Inc()
		return Synced, r.queue.Remove(rec.Token)
	case errors.Is(err, model.ErrConflict):
		outcomes.WithLabelValues("skipped").Inc()
		return Skipped, r.queue.Remove(rec.Token)
	default:
		outcomes.WithLabelValues("failed").Inc()
		log.Printf("sync failed for %s (member %s, session %s): %v",
			rec.Token, rec.Entry.MemberITS, rec.Entry.SessionID, err)
		if ferr := r.queue.RecordFailure(rec.Token, err.Error()); ferr != nil {
			log.Printf("record failure detail for %s: %v", rec.Token, ferr)
		}
		return Failed, err
	}
}
