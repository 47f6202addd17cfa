// ///////////////////////////////////////////////////////////////////////////
//
// # DVV - Data Vault Validator
//
// Copyright (C) 2024 - 2026, the Data Vault Validation Tool authors
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

// Package runstore persists validation run history in a local sqlite
// database so operators can see when an entity last validated clean.
package runstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS dvv_runs (
    run_id            TEXT PRIMARY KEY,
    run_status        TEXT NOT NULL,
    entity_count      INTEGER NOT NULL,
    entities_flagged  INTEGER,
    report_path       TEXT,
    run_context       TEXT,
    started_at        TEXT,
    finished_at       TEXT,
    time_taken        REAL
);`

var ErrNotFound = errors.New("run not found")

type Store struct {
	db *sql.DB
}

// Record is one validation run. EntitiesFlagged counts entities whose
// report row carried any discrepancy or failure.
type Record struct {
	RunID           string
	Status          string
	EntityCount     int
	EntitiesFlagged int
	ReportPath      string
	StartedAt       time.Time
	FinishedAt      time.Time
	TimeTaken       float64
	RunContext      map[string]any
	RawRunContext   string
}

// Recorder wraps a Store so callers can record unconditionally; with no
// store configured every call is a no-op.
type Recorder struct {
	store     *Store
	ownsStore bool
	created   bool
}

func NewRecorder(existing *Store, path string) (*Recorder, error) {
	if existing != nil {
		return &Recorder{store: existing}, nil
	}
	if strings.TrimSpace(path) == "" && strings.TrimSpace(os.Getenv("DVV_RUNS_DB")) == "" {
		return &Recorder{}, nil
	}
	store, err := New(path)
	if err != nil {
		return nil, err
	}
	return &Recorder{store: store, ownsStore: true}, nil
}

func (r *Recorder) HasStore() bool {
	return r != nil && r.store != nil
}

func (r *Recorder) Create(rec Record) error {
	if !r.HasStore() {
		return nil
	}
	if err := r.store.Create(rec); err != nil {
		return err
	}
	r.created = true
	return nil
}

func (r *Recorder) Update(rec Record) error {
	if !r.HasStore() || !r.created {
		return nil
	}
	return r.store.Update(rec)
}

func (r *Recorder) Close() error {
	if r == nil || !r.ownsStore || r.store == nil {
		return nil
	}
	err := r.store.Close()
	r.store = nil
	return err
}

func New(path string) (*Store, error) {
	sqlitePath := resolvePath(path)
	if err := ensureDir(sqlitePath); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite3", sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Get(runID string) (Record, error) {
	if strings.TrimSpace(runID) == "" {
		return Record{}, fmt.Errorf("run id is required")
	}
	row := s.db.QueryRow(
		`SELECT run_id, run_status, entity_count, entities_flagged, report_path,
                run_context, started_at, finished_at, time_taken
         FROM dvv_runs WHERE run_id = ?`, runID)
	rec, err := scanRecord(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("fetch run %s: %w", runID, err)
	}
	return rec, nil
}

// ListRecent returns up to limit runs, newest first.
func (s *Store) ListRecent(limit int) ([]Record, error) {
	if limit < 1 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT run_id, run_status, entity_count, entities_flagged, report_path,
                run_context, started_at, finished_at, time_taken
         FROM dvv_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanRecord(scan func(dest ...any) error) (Record, error) {
	var rec Record
	var (
		flagged    sql.NullInt64
		reportPath sql.NullString
		ctxVal     sql.NullString
		startedAt  sql.NullString
		finishedAt sql.NullString
		timeTaken  sql.NullFloat64
	)
	if err := scan(
		&rec.RunID,
		&rec.Status,
		&rec.EntityCount,
		&flagged,
		&reportPath,
		&ctxVal,
		&startedAt,
		&finishedAt,
		&timeTaken,
	); err != nil {
		return Record{}, err
	}

	if flagged.Valid {
		rec.EntitiesFlagged = int(flagged.Int64)
	}
	if reportPath.Valid {
		rec.ReportPath = reportPath.String
	}
	if timeTaken.Valid {
		rec.TimeTaken = timeTaken.Float64
	}
	if startedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, startedAt.String); err == nil {
			rec.StartedAt = t
		}
	}
	if finishedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAt.String); err == nil {
			rec.FinishedAt = t
		}
	}
	if ctxVal.Valid && strings.TrimSpace(ctxVal.String) != "" {
		rec.RawRunContext = ctxVal.String
		var runContext map[string]any
		if err := json.Unmarshal([]byte(ctxVal.String), &runContext); err == nil {
			rec.RunContext = runContext
		}
	}
	return rec, nil
}

func (s *Store) Create(rec Record) error {
	if err := rec.validateForCreate(); err != nil {
		return err
	}
	ctxVal, err := rec.contextValue()
	if err != nil {
		return fmt.Errorf("marshal run context: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO dvv_runs (
            run_id, run_status, entity_count, entities_flagged, report_path,
            run_context, started_at, finished_at, time_taken
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID,
		rec.Status,
		rec.EntityCount,
		rec.EntitiesFlagged,
		nullableString(rec.ReportPath),
		ctxVal,
		timeOrNil(rec.StartedAt),
		timeOrNil(rec.FinishedAt),
		rec.TimeTaken,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *Store) Update(rec Record) error {
	if strings.TrimSpace(rec.RunID) == "" {
		return errors.New("run id is required")
	}
	ctxVal, err := rec.contextValue()
	if err != nil {
		return fmt.Errorf("marshal run context: %w", err)
	}

	res, err := s.db.Exec(
		`UPDATE dvv_runs SET
            run_status = ?,
            entities_flagged = ?,
            report_path = ?,
            run_context = ?,
            finished_at = ?,
            time_taken = ?
        WHERE run_id = ?`,
		rec.Status,
		rec.EntitiesFlagged,
		nullableString(rec.ReportPath),
		ctxVal,
		timeOrNil(rec.FinishedAt),
		rec.TimeTaken,
		rec.RunID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ensureSchema() error {
	if _, err := s.db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("ensure dvv_runs schema: %w", err)
	}
	return nil
}

func (r Record) validateForCreate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.Status) == "" {
		return errors.New("run status is required")
	}
	return nil
}

func (r Record) contextValue() (any, error) {
	if len(r.RunContext) > 0 {
		blob, err := json.Marshal(r.RunContext)
		if err != nil {
			return nil, err
		}
		return string(blob), nil
	}
	if strings.TrimSpace(r.RawRunContext) != "" {
		return r.RawRunContext, nil
	}
	return nil, nil
}

func resolvePath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := os.Getenv("DVV_RUNS_DB"); strings.TrimSpace(env) != "" {
		return env
	}
	return filepath.Join(".", "dvv_runs.db")
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func nullableString(val string) any {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	return val
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
