package casesync

import (
	"strings"
	"sync"
	"time"
)

// VersionLedger maintains the numbered snapshot history of each case. For a
// given case the surviving version numbers are always a dense 1..N sequence
// ordered by creation time; assignment and renumbering run under a per-case
// mutex so concurrent snapshots never observe the same max version and a
// delete never interleaves with another ledger mutation on the same case.
type VersionLedger struct {
	store Store

	mu    sync.Mutex
	cases map[string]*sync.Mutex
}

func NewVersionLedger(store Store) *VersionLedger {
	return &VersionLedger{
		store: store,
		cases: map[string]*sync.Mutex{},
	}
}

func (l *VersionLedger) caseLock(caseID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.cases[caseID]
	if !ok {
		lock = &sync.Mutex{}
		l.cases[caseID] = lock
	}
	return lock
}

func (l *VersionLedger) Snapshot(caseID, userID string, annotations []map[string]any) (Version, error) {
	if l == nil {
		return Version{}, ErrInvalidInput
	}
	if strings.TrimSpace(caseID) == "" {
		return Version{}, ErrInvalidInput
	}
	lock := l.caseLock(caseID)
	lock.Lock()
	defer lock.Unlock()

	max, err := l.store.MaxVersion(caseID)
	if err != nil {
		return Version{}, err
	}
	return l.store.InsertVersion(Version{
		CaseID:      caseID,
		UserID:      userID,
		Version:     max + 1,
		Annotations: annotations,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (l *VersionLedger) List(caseID string) ([]Version, error) {
	if l == nil {
		return nil, ErrInvalidInput
	}
	return l.store.ListVersions(caseID)
}

// Delete removes one snapshot and closes the numbering gap by decrementing
// every later version of the same case, in ascending order so no two
// snapshots ever share a number even transiently.
func (l *VersionLedger) Delete(versionID string) (Version, error) {
	if l == nil {
		return Version{}, ErrInvalidInput
	}
	v, err := l.store.GetVersion(versionID)
	if err != nil {
		return Version{}, err
	}
	lock := l.caseLock(v.CaseID)
	lock.Lock()
	defer lock.Unlock()

	removed, err := l.store.DeleteVersion(versionID)
	if err != nil {
		return Version{}, err
	}
	later, err := l.store.VersionsAfter(removed.CaseID, removed.Version)
	if err != nil {
		return removed, err
	}
	for _, next := range later {
		if err := l.store.SetVersionNumber(next.ID, next.Version-1); err != nil {
			return removed, err
		}
	}
	return removed, nil
}
