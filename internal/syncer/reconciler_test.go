package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"miqaatsync/internal/model"
	"miqaatsync/internal/pending"
)

// fakeStore behaves like the authoritative attendance store: insert-if-absent
// keyed by (member, session), shared across "devices".
type fakeStore struct {
	mu      sync.Mutex
	entries map[string]model.AttendanceEntry
	failOn  map[string]error // idempotency token -> error
	calls   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]model.AttendanceEntry), failOn: make(map[string]error)}
}

func (s *fakeStore) WriteAttendanceIfAbsent(_ context.Context, _, token string, e model.AttendanceEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, token)
	if err := s.failOn[token]; err != nil {
		return err
	}
	key := e.MemberITS + "|" + e.SessionID
	if _, ok := s.entries[key]; ok {
		return model.ErrConflict
	}
	s.entries[key] = e
	return nil
}

func queued(token, its, session string) model.PendingRecord {
	return model.PendingRecord{
		Token:    token,
		MiqaatID: "mq1",
		Entry: model.AttendanceEntry{
			MemberITS: its,
			SessionID: session,
			MarkedAt:  time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC),
			MarkedBy:  "op-1",
			Status:    model.StatusPresent,
		},
	}
}

func TestReconcileDrainsInOrder(t *testing.T) {
	store := newFakeStore()
	q := pending.NewInMemory()
	for i := 0; i < 4; i++ {
		tok := fmt.Sprintf("t%d", i)
		if err := q.Enqueue(queued(tok, fmt.Sprintf("3011000%d", i), "s1")); err != nil {
			t.Fatal(err)
		}
	}

	report, err := New(q, store).Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if report.Synced != 4 || report.Skipped != 0 || report.Failed != 0 {
		t.Fatalf("report = %+v, want 4 synced", report)
	}
	for i, tok := range store.calls {
		if want := fmt.Sprintf("t%d", i); tok != want {
			t.Errorf("call %d = %s, want %s (FIFO order)", i, tok, want)
		}
	}
	if recs, _ := q.Pending(); len(recs) != 0 {
		t.Errorf("queue not drained: %+v", recs)
	}
}

func TestReconcilePartialFailureIsolation(t *testing.T) {
	store := newFakeStore()
	store.failOn["t1"] = errors.New("write timeout")
	q := pending.NewInMemory()
	for i := 0; i < 3; i++ {
		if err := q.Enqueue(queued(fmt.Sprintf("t%d", i), fmt.Sprintf("3011000%d", i), "s1")); err != nil {
			t.Fatal(err)
		}
	}

	report, err := New(q, store).Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if report.Synced != 2 || report.Failed != 1 {
		t.Fatalf("report = %+v, want 2 synced 1 failed", report)
	}
	if len(report.Errors) != 1 || report.Errors[0].Token != "t1" {
		t.Fatalf("Errors = %+v", report.Errors)
	}

	recs, _ := q.Pending()
	if len(recs) != 1 || recs[0].Token != "t1" {
		t.Fatalf("queue = %+v, want only the failed record retained", recs)
	}
	if recs[0].LastError != "write timeout" {
		t.Errorf("LastError = %q, want the write error detail", recs[0].LastError)
	}
}

func TestReconcileConflictSkips(t *testing.T) {
	store := newFakeStore()
	store.entries["30110001|s1"] = model.AttendanceEntry{MemberITS: "30110001", SessionID: "s1"}
	q := pending.NewInMemory()
	if err := q.Enqueue(queued("t0", "30110001", "s1")); err != nil {
		t.Fatal(err)
	}

	report, err := New(q, store).Reconcile(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Skipped != 1 || report.Failed != 0 || report.Synced != 0 {
		t.Fatalf("report = %+v, want 1 skipped", report)
	}
	if recs, _ := q.Pending(); len(recs) != 0 {
		t.Error("conflicted record must be removed, the remote state is already correct")
	}
}

func TestTwoDevicesConverge(t *testing.T) {
	store := newFakeStore()

	devA := pending.NewInMemory()
	devB := pending.NewInMemory()
	if err := devA.Enqueue(queued("a-token", "30110001", "s1")); err != nil {
		t.Fatal(err)
	}
	if err := devB.Enqueue(queued("b-token", "30110001", "s1")); err != nil {
		t.Fatal(err)
	}

	reportA, err := New(devA, store).Reconcile(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	reportB, err := New(devB, store).Reconcile(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if reportA.Synced != 1 {
		t.Errorf("device A report = %+v, want synced", reportA)
	}
	if reportB.Skipped != 1 || reportB.Failed != 0 {
		t.Errorf("device B report = %+v, want skipped not failed", reportB)
	}
	if len(store.entries) != 1 {
		t.Errorf("store has %d entries for (member, session), want exactly 1", len(store.entries))
	}
}

func TestRetryAndDiscard(t *testing.T) {
	store := newFakeStore()
	store.failOn["t0"] = errors.New("backend down")
	q := pending.NewInMemory()
	if err := q.Enqueue(queued("t0", "30110001", "s1")); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(queued("t1", "30110002", "s1")); err != nil {
		t.Fatal(err)
	}
	r := New(q, store)

	if _, err := r.Reconcile(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Operator retries after the backend recovers.
	delete(store.failOn, "t0")
	outcome, err := r.Retry(context.Background(), "t0")
	if err != nil || outcome != Synced {
		t.Fatalf("Retry() = (%v, %v), want synced", outcome, err)
	}
	if recs, _ := q.Pending(); len(recs) != 0 {
		t.Errorf("queue = %+v, want empty after retry", recs)
	}

	if _, err := r.Retry(context.Background(), "missing"); err == nil {
		t.Error("Retry() of an unknown token expected error")
	}
}

func TestDiscardSkipsRemoteWrite(t *testing.T) {
	store := newFakeStore()
	q := pending.NewInMemory()
	if err := q.Enqueue(queued("t0", "30110001", "s1")); err != nil {
		t.Fatal(err)
	}
	r := New(q, store)

	if err := r.Discard("t0"); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if len(store.calls) != 0 {
		t.Error("Discard must not touch the remote store")
	}
	if recs, _ := q.Pending(); len(recs) != 0 {
		t.Error("discarded record still queued")
	}
}

func TestReconcileStopsOnCancel(t *testing.T) {
	store := newFakeStore()
	q := pending.NewInMemory()
	for i := 0; i < 3; i++ {
		if err := q.Enqueue(queued(fmt.Sprintf("t%d", i), fmt.Sprintf("3011000%d", i), "s1")); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := New(q, store).Reconcile(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Reconcile() error = %v, want context.Canceled", err)
	}
	if report.Synced != 0 {
		t.Errorf("report = %+v, want nothing attempted", report)
	}
	if recs, _ := q.Pending(); len(recs) != 3 {
		t.Errorf("queue len = %d, want untouched records to remain", len(recs))
	}
}
