package casesync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	sqlAnnotationsTable = "case_annotations"
	sqlVersionsTable    = "case_annotation_versions"
	sqlOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// SQLStore implements Store on database/sql. The same statements run on
// Postgres (lib/pq) and SQLite (modernc.org/sqlite); both accept $N
// placeholders and store opaque payloads as serialized JSON text.
type SQLStore struct {
	driver string
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &SQLStore{driver: "postgres", dsn: dsn, openDB: sql.Open}, nil
}

func NewSQLiteStore(path string) (*SQLStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &SQLStore{driver: "sqlite", dsn: path, openDB: sql.Open}, nil
}

func (s *SQLStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB(s.driver, s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
		defer cancel()
		statements := []string{
			`CREATE TABLE IF NOT EXISTS ` + sqlAnnotationsTable + ` (
				id TEXT PRIMARY KEY,
				case_id TEXT NOT NULL,
				user_id TEXT NOT NULL DEFAULT '',
				kind TEXT NOT NULL DEFAULT '',
				payload TEXT NOT NULL DEFAULT '{}',
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS case_annotations_case_idx ON ` + sqlAnnotationsTable + ` (case_id)`,
			`CREATE TABLE IF NOT EXISTS ` + sqlVersionsTable + ` (
				id TEXT PRIMARY KEY,
				case_id TEXT NOT NULL,
				user_id TEXT NOT NULL DEFAULT '',
				version INTEGER NOT NULL,
				annotations TEXT NOT NULL DEFAULT '[]',
				created_at TEXT NOT NULL,
				UNIQUE (case_id, version)
			)`,
		}
		for _, statement := range statements {
			if _, err := db.ExecContext(ctx, statement); err != nil {
				s.initErr = err
				_ = db.Close()
				return
			}
		}
		s.db = db
	})
	return s.initErr
}

func (s *SQLStore) InsertAnnotation(a Annotation) (Annotation, error) {
	if s == nil {
		return Annotation{}, ErrInvalidInput
	}
	if strings.TrimSpace(a.CaseID) == "" {
		return Annotation{}, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return Annotation{}, err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	a.ID = uuid.NewString()
	a.CreatedAt = now
	a.UpdatedAt = now
	payload, err := marshalPayload(a.Data)
	if err != nil {
		return Annotation{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+sqlAnnotationsTable+` (id, case_id, user_id, kind, payload, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.CaseID, a.UserID, a.Type, payload, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return Annotation{}, err
	}
	return a, nil
}

func (s *SQLStore) UpdateAnnotation(id string, patch AnnotationPatch) error {
	if s == nil {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var kind, payload string
	err = tx.QueryRowContext(ctx,
		`SELECT kind, payload FROM `+sqlAnnotationsTable+` WHERE id = $1`, id).Scan(&kind, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if patch.Type != nil {
		kind = *patch.Type
	}
	if patch.Data != nil {
		payload, err = marshalPayload(patch.Data)
		if err != nil {
			return err
		}
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`UPDATE `+sqlAnnotationsTable+` SET kind = $1, payload = $2, updated_at = $3 WHERE id = $4`,
		kind, payload, now, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) DeleteAnnotation(id string) (Annotation, error) {
	if s == nil {
		return Annotation{}, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return Annotation{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Annotation{}, err
	}
	defer func() { _ = tx.Rollback() }()

	a, err := scanAnnotation(tx.QueryRowContext(ctx,
		`SELECT id, case_id, user_id, kind, payload, created_at, updated_at
		 FROM `+sqlAnnotationsTable+` WHERE id = $1`, id))
	if err != nil {
		return Annotation{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM `+sqlAnnotationsTable+` WHERE id = $1`, id); err != nil {
		return Annotation{}, err
	}
	if err := tx.Commit(); err != nil {
		return Annotation{}, err
	}
	return a, nil
}

func (s *SQLStore) GetAnnotation(id string) (Annotation, error) {
	if s == nil {
		return Annotation{}, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return Annotation{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()
	return scanAnnotation(s.db.QueryRowContext(ctx,
		`SELECT id, case_id, user_id, kind, payload, created_at, updated_at
		 FROM `+sqlAnnotationsTable+` WHERE id = $1`, id))
}

func (s *SQLStore) ListAnnotations(caseID string) ([]Annotation, error) {
	if s == nil {
		return nil, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, user_id, kind, payload, created_at, updated_at
		 FROM `+sqlAnnotationsTable+` WHERE case_id = $1 ORDER BY created_at ASC, id ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Annotation{}
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *SQLStore) MaxVersion(caseID string) (int, error) {
	if s == nil {
		return 0, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()
	var max int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM `+sqlVersionsTable+` WHERE case_id = $1`, caseID).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max, nil
}

func (s *SQLStore) InsertVersion(v Version) (Version, error) {
	if s == nil {
		return Version{}, ErrInvalidInput
	}
	if strings.TrimSpace(v.CaseID) == "" || v.Version < 1 {
		return Version{}, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return Version{}, err
	}
	v.ID = uuid.NewString()
	if v.CreatedAt == "" {
		v.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	annotations, err := marshalAnnotationList(v.Annotations)
	if err != nil {
		return Version{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+sqlVersionsTable+` (id, case_id, user_id, version, annotations, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.CaseID, v.UserID, v.Version, annotations, v.CreatedAt)
	if err != nil {
		return Version{}, err
	}
	return v, nil
}

func (s *SQLStore) ListVersions(caseID string) ([]Version, error) {
	return s.queryVersions(
		`SELECT id, case_id, user_id, version, annotations, created_at
		 FROM `+sqlVersionsTable+` WHERE case_id = $1 ORDER BY version DESC`, caseID)
}

func (s *SQLStore) GetVersion(id string) (Version, error) {
	if s == nil {
		return Version{}, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return Version{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()
	return scanVersion(s.db.QueryRowContext(ctx,
		`SELECT id, case_id, user_id, version, annotations, created_at
		 FROM `+sqlVersionsTable+` WHERE id = $1`, id))
}

func (s *SQLStore) DeleteVersion(id string) (Version, error) {
	if s == nil {
		return Version{}, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return Version{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Version{}, err
	}
	defer func() { _ = tx.Rollback() }()

	v, err := scanVersion(tx.QueryRowContext(ctx,
		`SELECT id, case_id, user_id, version, annotations, created_at
		 FROM `+sqlVersionsTable+` WHERE id = $1`, id))
	if err != nil {
		return Version{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM `+sqlVersionsTable+` WHERE id = $1`, id); err != nil {
		return Version{}, err
	}
	if err := tx.Commit(); err != nil {
		return Version{}, err
	}
	return v, nil
}

func (s *SQLStore) VersionsAfter(caseID string, version int) ([]Version, error) {
	return s.queryVersions(
		`SELECT id, case_id, user_id, version, annotations, created_at
		 FROM `+sqlVersionsTable+` WHERE case_id = $1 AND version > $2 ORDER BY version ASC`, caseID, version)
}

func (s *SQLStore) SetVersionNumber(id string, version int) error {
	if s == nil {
		return ErrInvalidInput
	}
	if version < 1 {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()
	result, err := s.db.ExecContext(ctx,
		`UPDATE `+sqlVersionsTable+` SET version = $1 WHERE id = $2`, version, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) queryVersions(query string, args ...any) ([]Version, error) {
	if s == nil {
		return nil, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnnotation(row rowScanner) (Annotation, error) {
	var a Annotation
	var payload string
	err := row.Scan(&a.ID, &a.CaseID, &a.UserID, &a.Type, &payload, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Annotation{}, ErrNotFound
	}
	if err != nil {
		return Annotation{}, err
	}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &a.Data); err != nil {
			return Annotation{}, err
		}
	}
	return a, nil
}

func scanVersion(row rowScanner) (Version, error) {
	var v Version
	var annotations string
	err := row.Scan(&v.ID, &v.CaseID, &v.UserID, &v.Version, &annotations, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, ErrNotFound
	}
	if err != nil {
		return Version{}, err
	}
	if annotations != "" {
		if err := json.Unmarshal([]byte(annotations), &v.Annotations); err != nil {
			return Version{}, err
		}
	}
	return v, nil
}

func marshalPayload(data map[string]any) (string, error) {
	if data == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func marshalAnnotationList(items []map[string]any) (string, error) {
	if items == nil {
		return "[]", nil
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
