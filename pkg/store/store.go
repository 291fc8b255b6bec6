// Package store persists study reports in SQLite so their metrics can be
// queried per study and studies listed per keyphrase.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"hipmetrics/pkg/report"
)

const schema = `
CREATE TABLE IF NOT EXISTS studies (
	study_id       TEXT PRIMARY KEY,
	modality       TEXT NOT NULL,
	keyphrase      TEXT NOT NULL,
	status         TEXT NOT NULL,
	recorded_error TEXT,
	report_json    TEXT NOT NULL,
	analysed_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS studies_keyphrase ON studies(keyphrase);

CREATE TABLE IF NOT EXISTS metrics (
	study_id  TEXT NOT NULL,
	position  INTEGER NOT NULL,
	name      TEXT NOT NULL,
	slot      TEXT NOT NULL,
	value     REAL,
	PRIMARY KEY (study_id, position),
	FOREIGN KEY (study_id) REFERENCES studies(study_id) ON DELETE CASCADE
);
`

// Study statuses
const (
	StatusComplete = "complete"
	StatusError    = "error"
)

// ErrNotFound is returned when a study has no stored report
var ErrNotFound = errors.New("study not found")

// StudyRef points at a stored study
type StudyRef struct {
	ID     string
	Status string
	URL    string
}

// Store keeps reports in a SQLite database
type Store struct {
	db      *sql.DB
	baseURL string
	now     func() time.Time
}

// NewStore opens a SQLite database and runs migrations. baseURL prefixes
// the display URLs handed out by StudiesByKeyphrase.
func NewStore(dbPath, baseURL string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one writer at a time; concurrent analyses share the handle
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveReport stores the report of a study. A study analysed again has its
// previous report and metrics replaced.
func (s *Store) SaveReport(studyID string, r *report.Report) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	status := StatusComplete
	var recorded sql.NullString
	if r.RecordedError != nil {
		status = StatusError
		recorded = sql.NullString{String: *r.RecordedError, Valid: true}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO studies (study_id, modality, keyphrase, status, recorded_error, report_json, analysed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(study_id) DO UPDATE SET
			modality = excluded.modality,
			keyphrase = excluded.keyphrase,
			status = excluded.status,
			recorded_error = excluded.recorded_error,
			report_json = excluded.report_json,
			analysed_at = excluded.analysed_at`,
		studyID, string(r.Modality), r.Keyphrase, status, recorded, string(raw),
		s.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert study: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM metrics WHERE study_id = ?`, studyID); err != nil {
		return fmt.Errorf("clear metrics: %w", err)
	}
	for i, row := range r.Rows() {
		var value sql.NullFloat64
		if !row.Value.NA {
			value = sql.NullFloat64{Float64: row.Value.Number, Valid: true}
		}
		_, err := tx.Exec(
			`INSERT INTO metrics (study_id, position, name, slot, value) VALUES (?, ?, ?, ?, ?)`,
			studyID, i, row.Name, row.Slot, value,
		)
		if err != nil {
			return fmt.Errorf("insert metric %s: %w", row.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Report loads the stored report of a study
func (s *Store) Report(studyID string) (*report.Report, error) {
	var raw string
	err := s.db.QueryRow(`SELECT report_json FROM studies WHERE study_id = ?`, studyID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", studyID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", studyID, err)
	}

	var r report.Report
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("unmarshal report %s: %w", studyID, err)
	}
	return &r, nil
}

// Metrics returns the flattened metrics of a study in report order
func (s *Store) Metrics(studyID string) ([]report.Row, error) {
	var exists int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM studies WHERE study_id = ?`, studyID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("lookup study %s: %w", studyID, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("metrics %s: %w", studyID, ErrNotFound)
	}

	rows, err := s.db.Query(
		`SELECT name, slot, value FROM metrics WHERE study_id = ? ORDER BY position`, studyID,
	)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	out := []report.Row{}
	for rows.Next() {
		var row report.Row
		var value sql.NullFloat64
		if err := rows.Scan(&row.Name, &row.Slot, &value); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		row.Value = report.NA
		if value.Valid {
			row.Value = report.Num(value.Float64)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// StudiesByKeyphrase lists the stored studies analysed with a keyphrase,
// newest first.
func (s *Store) StudiesByKeyphrase(keyphrase string) ([]StudyRef, error) {
	rows, err := s.db.Query(
		`SELECT study_id, status FROM studies WHERE keyphrase = ?
		 ORDER BY analysed_at DESC, study_id`, keyphrase,
	)
	if err != nil {
		return nil, fmt.Errorf("query studies: %w", err)
	}
	defer rows.Close()

	var refs []StudyRef
	for rows.Next() {
		var ref StudyRef
		if err := rows.Scan(&ref.ID, &ref.Status); err != nil {
			return nil, fmt.Errorf("scan study: %w", err)
		}
		ref.URL = s.studyURL(ref.ID)
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *Store) studyURL(id string) string {
	return fmt.Sprintf("%s/studies/%s/report", s.baseURL, id)
}
