package casesync

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

type Annotation struct {
	ID        string         `json:"id"`
	CaseID    string         `json:"caseId"`
	UserID    string         `json:"userId,omitempty"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt string         `json:"createdAt,omitempty"`
	UpdatedAt string         `json:"updatedAt,omitempty"`
}

type AnnotationPatch struct {
	Type *string        `json:"type,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

type Version struct {
	ID          string           `json:"id"`
	CaseID      string           `json:"caseId"`
	UserID      string           `json:"userId,omitempty"`
	Version     int              `json:"version"`
	Annotations []map[string]any `json:"annotations"`
	CreatedAt   string           `json:"createdAt,omitempty"`
}

// Store is the persistence adapter for annotation documents and version
// snapshots. Implementations must treat every call as independent: the
// gateway and ledger re-read through the store rather than caching
// documents in memory. Version-number uniqueness per case is enforced by
// the VersionLedger, not by the store.
type Store interface {
	InsertAnnotation(a Annotation) (Annotation, error)
	UpdateAnnotation(id string, patch AnnotationPatch) error
	DeleteAnnotation(id string) (Annotation, error)
	GetAnnotation(id string) (Annotation, error)
	ListAnnotations(caseID string) ([]Annotation, error)

	MaxVersion(caseID string) (int, error)
	InsertVersion(v Version) (Version, error)
	ListVersions(caseID string) ([]Version, error)
	GetVersion(id string) (Version, error)
	DeleteVersion(id string) (Version, error)
	VersionsAfter(caseID string, version int) ([]Version, error)
	SetVersionNumber(id string, version int) error

	Close() error
}

type MemoryStore struct {
	mu          sync.RWMutex
	annotations map[string]Annotation
	versions    map[string]Version
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		annotations: map[string]Annotation{},
		versions:    map[string]Version{},
	}
}

func (s *MemoryStore) InsertAnnotation(a Annotation) (Annotation, error) {
	if s == nil {
		return Annotation{}, ErrInvalidInput
	}
	if strings.TrimSpace(a.CaseID) == "" {
		return Annotation{}, ErrInvalidInput
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	a.ID = uuid.NewString()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.Data = cloneData(a.Data)

	s.mu.Lock()
	s.annotations[a.ID] = a
	s.mu.Unlock()
	return cloneAnnotation(a), nil
}

func (s *MemoryStore) UpdateAnnotation(id string, patch AnnotationPatch) error {
	if s == nil {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.annotations[id]
	if !ok {
		return ErrNotFound
	}
	if patch.Type != nil {
		a.Type = *patch.Type
	}
	if patch.Data != nil {
		a.Data = cloneData(patch.Data)
	}
	a.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	s.annotations[id] = a
	return nil
}

func (s *MemoryStore) DeleteAnnotation(id string) (Annotation, error) {
	if s == nil {
		return Annotation{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.annotations[id]
	if !ok {
		return Annotation{}, ErrNotFound
	}
	delete(s.annotations, id)
	return cloneAnnotation(a), nil
}

func (s *MemoryStore) GetAnnotation(id string) (Annotation, error) {
	if s == nil {
		return Annotation{}, ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.annotations[id]
	if !ok {
		return Annotation{}, ErrNotFound
	}
	return cloneAnnotation(a), nil
}

func (s *MemoryStore) ListAnnotations(caseID string) ([]Annotation, error) {
	if s == nil {
		return nil, ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := []Annotation{}
	for _, a := range s.annotations {
		if a.CaseID == caseID {
			result = append(result, cloneAnnotation(a))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *MemoryStore) MaxVersion(caseID string) (int, error) {
	if s == nil {
		return 0, ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := 0
	for _, v := range s.versions {
		if v.CaseID == caseID && v.Version > max {
			max = v.Version
		}
	}
	return max, nil
}

func (s *MemoryStore) InsertVersion(v Version) (Version, error) {
	if s == nil {
		return Version{}, ErrInvalidInput
	}
	if strings.TrimSpace(v.CaseID) == "" || v.Version < 1 {
		return Version{}, ErrInvalidInput
	}
	v.ID = uuid.NewString()
	if v.CreatedAt == "" {
		v.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	v.Annotations = cloneAnnotations(v.Annotations)

	s.mu.Lock()
	s.versions[v.ID] = v
	s.mu.Unlock()
	return cloneVersion(v), nil
}

func (s *MemoryStore) ListVersions(caseID string) ([]Version, error) {
	if s == nil {
		return nil, ErrInvalidInput
	}
	versions := s.versionsForCase(caseID)
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Version > versions[j].Version
	})
	return versions, nil
}

func (s *MemoryStore) GetVersion(id string) (Version, error) {
	if s == nil {
		return Version{}, ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[id]
	if !ok {
		return Version{}, ErrNotFound
	}
	return cloneVersion(v), nil
}

func (s *MemoryStore) DeleteVersion(id string) (Version, error) {
	if s == nil {
		return Version{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[id]
	if !ok {
		return Version{}, ErrNotFound
	}
	delete(s.versions, id)
	return cloneVersion(v), nil
}

func (s *MemoryStore) VersionsAfter(caseID string, version int) ([]Version, error) {
	if s == nil {
		return nil, ErrInvalidInput
	}
	all := s.versionsForCase(caseID)
	result := []Version{}
	for _, v := range all {
		if v.Version > version {
			result = append(result, v)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Version < result[j].Version
	})
	return result, nil
}

func (s *MemoryStore) SetVersionNumber(id string, version int) error {
	if s == nil {
		return ErrInvalidInput
	}
	if version < 1 {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[id]
	if !ok {
		return ErrNotFound
	}
	v.Version = version
	s.versions[id] = v
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) versionsForCase(caseID string) []Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := []Version{}
	for _, v := range s.versions {
		if v.CaseID == caseID {
			result = append(result, cloneVersion(v))
		}
	}
	return result
}

func cloneAnnotation(a Annotation) Annotation {
	a.Data = cloneData(a.Data)
	return a
}

func cloneVersion(v Version) Version {
	v.Annotations = cloneAnnotations(v.Annotations)
	return v
}

func cloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return map[string]any{}
	}
	var clone map[string]any
	if err := json.Unmarshal(raw, &clone); err != nil {
		return map[string]any{}
	}
	return clone
}

func cloneAnnotations(items []map[string]any) []map[string]any {
	if items == nil {
		return nil
	}
	result := make([]map[string]any, 0, len(items))
	for _, item := range items {
		result = append(result, cloneData(item))
	}
	return result
}
