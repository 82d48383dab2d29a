package casesync

import (
	"errors"
	"testing"
)

func TestMemoryStoreAnnotationLifecycle(t *testing.T) {
	store := NewMemoryStore()

	created, err := store.InsertAnnotation(Annotation{
		CaseID: "c1",
		UserID: "u1",
		Type:   "marker",
		Data:   map[string]any{"x": 1.0},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected assigned id")
	}
	if created.CreatedAt == "" || created.UpdatedAt == "" {
		t.Fatalf("expected stamped timestamps, got %+v", created)
	}

	fetched, err := store.GetAnnotation(created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetched.CaseID != "c1" || fetched.Type != "marker" || fetched.Data["x"] != 1.0 {
		t.Fatalf("unexpected document %+v", fetched)
	}

	kind := "polygon"
	if err := store.UpdateAnnotation(created.ID, AnnotationPatch{Type: &kind, Data: map[string]any{"x": 2.0}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	fetched, err = store.GetAnnotation(created.ID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if fetched.Type != "polygon" || fetched.Data["x"] != 2.0 {
		t.Fatalf("patch not applied: %+v", fetched)
	}
	if fetched.CreatedAt != created.CreatedAt {
		t.Fatalf("createdAt must be immutable")
	}

	removed, err := store.DeleteAnnotation(created.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed.ID != created.ID {
		t.Fatalf("expected removed document, got %+v", removed)
	}
	if _, err := store.GetAnnotation(created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreNotFoundCases(t *testing.T) {
	store := NewMemoryStore()

	if err := store.UpdateAnnotation("missing", AnnotationPatch{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update: expected ErrNotFound, got %v", err)
	}
	if _, err := store.DeleteAnnotation("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete: expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetVersion("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get version: expected ErrNotFound, got %v", err)
	}
	if _, err := store.DeleteVersion("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete version: expected ErrNotFound, got %v", err)
	}
	if err := store.SetVersionNumber("missing", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("set version: expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreRejectsInvalidInput(t *testing.T) {
	store := NewMemoryStore()

	if _, err := store.InsertAnnotation(Annotation{Type: "marker"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing case id, got %v", err)
	}
	if _, err := store.InsertVersion(Version{CaseID: "c1", Version: 0}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for version 0, got %v", err)
	}
}

func TestMemoryStoreListScopesByCase(t *testing.T) {
	store := NewMemoryStore()
	for _, caseID := range []string{"c1", "c1", "c2"} {
		if _, err := store.InsertAnnotation(Annotation{CaseID: caseID, Type: "marker"}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	annotations, err := store.ListAnnotations("c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(annotations) != 2 {
		t.Fatalf("expected 2 annotations for c1, got %d", len(annotations))
	}
	for _, a := range annotations {
		if a.CaseID != "c1" {
			t.Fatalf("foreign case leaked into listing: %+v", a)
		}
	}
}

func TestMemoryStoreClonesDocuments(t *testing.T) {
	store := NewMemoryStore()
	created, err := store.InsertAnnotation(Annotation{
		CaseID: "c1",
		Type:   "marker",
		Data:   map[string]any{"x": 1.0},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	created.Data["x"] = 777.0

	fetched, err := store.GetAnnotation(created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetched.Data["x"] != 1.0 {
		t.Fatalf("caller mutation leaked into store: %v", fetched.Data)
	}
}

func TestMemoryStoreVersionQueries(t *testing.T) {
	store := NewMemoryStore()

	max, err := store.MaxVersion("c1")
	if err != nil {
		t.Fatalf("max on empty case: %v", err)
	}
	if max != 0 {
		t.Fatalf("expected max 0 for empty case, got %d", max)
	}

	ids := []string{}
	for i := 1; i <= 4; i++ {
		v, err := store.InsertVersion(Version{CaseID: "c1", UserID: "u1", Version: i})
		if err != nil {
			t.Fatalf("insert version %d: %v", i, err)
		}
		ids = append(ids, v.ID)
	}
	if _, err := store.InsertVersion(Version{CaseID: "c2", Version: 1}); err != nil {
		t.Fatalf("insert other case: %v", err)
	}

	max, err = store.MaxVersion("c1")
	if err != nil {
		t.Fatalf("max: %v", err)
	}
	if max != 4 {
		t.Fatalf("expected max 4, got %d", max)
	}

	listed, err := store.ListVersions("c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 4 || listed[0].Version != 4 || listed[3].Version != 1 {
		t.Fatalf("expected descending versions, got %+v", listed)
	}

	after, err := store.VersionsAfter("c1", 2)
	if err != nil {
		t.Fatalf("after: %v", err)
	}
	if len(after) != 2 || after[0].Version != 3 || after[1].Version != 4 {
		t.Fatalf("expected ascending versions {3,4}, got %+v", after)
	}

	if err := store.SetVersionNumber(ids[3], 3); err != nil {
		t.Fatalf("set version: %v", err)
	}
	v, err := store.GetVersion(ids[3])
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if v.Version != 3 {
		t.Fatalf("expected renumbered version 3, got %d", v.Version)
	}
}

func TestBuildStoreFromDSN(t *testing.T) {
	store, err := BuildStoreFromDSN("")
	if err != nil {
		t.Fatalf("empty dsn: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected memory store for empty dsn, got %T", store)
	}

	store, err = BuildStoreFromDSN("memory://")
	if err != nil {
		t.Fatalf("memory dsn: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}

	store, err = BuildStoreFromDSN("postgres://localhost/casesync")
	if err != nil {
		t.Fatalf("postgres dsn: %v", err)
	}
	if _, ok := store.(*SQLStore); !ok {
		t.Fatalf("expected sql store, got %T", store)
	}

	store, err = BuildStoreFromDSN("sqlite://annotations.db")
	if err != nil {
		t.Fatalf("sqlite dsn: %v", err)
	}
	if _, ok := store.(*SQLStore); !ok {
		t.Fatalf("expected sql store, got %T", store)
	}

	if _, err := BuildStoreFromDSN("mysql://localhost/casesync"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented for mysql, got %v", err)
	}
	if _, err := BuildStoreFromDSN("ftp://nope"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}
