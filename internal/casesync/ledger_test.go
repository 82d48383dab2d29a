package casesync

import (
	"errors"
	"sync"
	"testing"
)

func snapshotPayload(label string) []map[string]any {
	return []map[string]any{{"label": label}}
}

func TestSnapshotAssignsDenseAscendingVersions(t *testing.T) {
	ledger := NewVersionLedger(NewMemoryStore())

	for i, label := range []string{"first", "second", "third"} {
		v, err := ledger.Snapshot("c1", "u1", snapshotPayload(label))
		if err != nil {
			t.Fatalf("snapshot %s: %v", label, err)
		}
		if v.Version != i+1 {
			t.Fatalf("expected version %d, got %d", i+1, v.Version)
		}
	}

	versions, err := ledger.List("c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(versions))
	}
	for i, v := range versions {
		if v.Version != 3-i {
			t.Fatalf("expected descending order, got version %d at index %d", v.Version, i)
		}
	}
}

func TestSnapshotSequencesAreScopedPerCase(t *testing.T) {
	ledger := NewVersionLedger(NewMemoryStore())

	v1, err := ledger.Snapshot("c1", "u1", nil)
	if err != nil {
		t.Fatalf("snapshot c1: %v", err)
	}
	v2, err := ledger.Snapshot("c2", "u1", nil)
	if err != nil {
		t.Fatalf("snapshot c2: %v", err)
	}
	if v1.Version != 1 || v2.Version != 1 {
		t.Fatalf("expected both cases to start at version 1, got %d and %d", v1.Version, v2.Version)
	}
}

func TestDeleteRenumbersLaterVersions(t *testing.T) {
	ledger := NewVersionLedger(NewMemoryStore())

	first, err := ledger.Snapshot("c1", "u1", snapshotPayload("first"))
	if err != nil {
		t.Fatalf("snapshot first: %v", err)
	}
	second, err := ledger.Snapshot("c1", "u1", snapshotPayload("second"))
	if err != nil {
		t.Fatalf("snapshot second: %v", err)
	}
	third, err := ledger.Snapshot("c1", "u1", snapshotPayload("third"))
	if err != nil {
		t.Fatalf("snapshot third: %v", err)
	}

	if _, err := ledger.Delete(second.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	versions, err := ledger.List("c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 surviving versions, got %d", len(versions))
	}
	byID := map[string]Version{}
	for _, v := range versions {
		byID[v.ID] = v
	}
	if got := byID[first.ID].Version; got != 1 {
		t.Fatalf("expected first snapshot to keep version 1, got %d", got)
	}
	if got := byID[third.ID].Version; got != 2 {
		t.Fatalf("expected former v3 to become v2, got %d", got)
	}
}

func TestDeleteUnknownVersionReturnsNotFound(t *testing.T) {
	ledger := NewVersionLedger(NewMemoryStore())
	if _, err := ledger.Delete("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentSnapshotsAssignDistinctContiguousVersions(t *testing.T) {
	ledger := NewVersionLedger(NewMemoryStore())
	const workers = 16

	results := make(chan int, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			v, err := ledger.Snapshot("c1", "u1", nil)
			if err != nil {
				t.Errorf("snapshot: %v", err)
				return
			}
			results <- v.Version
		}()
	}
	wg.Wait()
	close(results)

	seen := map[int]bool{}
	for version := range results {
		if seen[version] {
			t.Fatalf("version %d assigned twice", version)
		}
		seen[version] = true
	}
	if len(seen) != workers {
		t.Fatalf("expected %d versions, got %d", workers, len(seen))
	}
	for i := 1; i <= workers; i++ {
		if !seen[i] {
			t.Fatalf("version %d missing from contiguous sequence", i)
		}
	}
}

func TestRepeatedDeleteKeepsSequenceDense(t *testing.T) {
	ledger := NewVersionLedger(NewMemoryStore())

	ids := []string{}
	for i := 0; i < 5; i++ {
		v, err := ledger.Snapshot("c1", "u1", nil)
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		ids = append(ids, v.ID)
	}

	// Drop the head, the middle, and then the new head.
	for _, id := range []string{ids[0], ids[2], ids[1]} {
		if _, err := ledger.Delete(id); err != nil {
			t.Fatalf("delete %s: %v", id, err)
		}
	}

	versions, err := ledger.List("c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(versions))
	}
	seen := map[int]bool{}
	for _, v := range versions {
		seen[v.Version] = true
	}
	if !seen[1] || !seen[2] {
		t.Fatalf("expected versions {1,2}, got %v", seen)
	}
}
