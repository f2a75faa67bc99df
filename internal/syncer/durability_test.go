package syncer

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"miqaatsync/internal/localstore"
)

// End-to-end durability: records queued before a process restart are
// reconciled exactly once each from the reopened store.
func TestReconcileSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.db")

	s, err := localstore.New(path)
	if err != nil {
		t.Fatal(err)
	}
	const n = 5
	for i := 0; i < n; i++ {
		if err := s.Enqueue(queued(fmt.Sprintf("t%d", i), fmt.Sprintf("3011000%d", i), "s1")); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := localstore.New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	store := newFakeStore()
	report, err := New(reopened, store).Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if report.Synced != n {
		t.Fatalf("report = %+v, want %d synced", report, n)
	}
	if len(store.calls) != n {
		t.Fatalf("store saw %d writes, want exactly %d", len(store.calls), n)
	}
	seen := make(map[string]bool)
	for _, tok := range store.calls {
		if seen[tok] {
			t.Errorf("token %s written more than once", tok)
		}
		seen[tok] = true
	}
	if cnt, _ := reopened.PendingCount(); cnt != 0 {
		t.Errorf("pending count = %d after drain, want 0", cnt)
	}
}
