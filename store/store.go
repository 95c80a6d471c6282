// Package store - SQLite persistence for incidents and the detection log.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/nvr-ai/go-crowdrisk/risk"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// DefaultHistoryLimit is how many rows Recent and RecentDetections return for a non-positive limit.
const DefaultHistoryLimit = 100

var (
	// ErrStoreUnavailable is returned by every operation on a store that is closed or was never opened.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrSinkWrite is returned when an export cannot be written to its destination.
	ErrSinkWrite = errors.New("sink write failed")
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is an append-only incident log and detection log backed by SQLite.
// It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the database at path and applies pending migrations.
//
// Arguments:
//   - ctx: Bounds the connection check.
//   - path: SQLite file path, or ":memory:".
//
// Returns:
//   - *Store: The opened store.
//   - error: An error if the database cannot be opened or migrated.
//
// @example
// s, err := store.Open(ctx, "crowd_monitoring.db")
// defer s.Close()
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", path)
	}
	// One connection keeps the async writer and readers from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "ping sqlite %s", path)
	}

	s := &Store{db: db, logger: log.Logger.With().Str("component", "store").Logger()}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Debug().Str("path", path).Msg("store opened")
	return s, nil
}

func (s *Store) migrateUp() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errors.Wrap(err, "load migrations")
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return errors.Wrap(err, "create sqlite migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return errors.Wrap(err, "create migrate instance")
	}
	m.Log = &migrateLogger{logger: s.logger}

	// m is not closed: that would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migrate up")
	}
	return nil
}

type migrateLogger struct {
	logger zerolog.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug().Msgf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// Close closes the database. Later operations return ErrStoreUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return errors.Wrap(err, "close sqlite")
}

// conn returns the open database or ErrStoreUnavailable. Callers hold s.mu.
func (s *Store) conn() (*sql.DB, error) {
	if s.db == nil {
		return nil, ErrStoreUnavailable
	}
	return s.db, nil
}

// Append writes one incident.
func (s *Store) Append(ctx context.Context, incident risk.Incident) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return err
	}
	factors, err := json.Marshal(incident.Factors)
	if err != nil {
		return errors.Wrap(err, "encode factors")
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO incidents (id, session_id, timestamp, risk_level, people_count, risk_score, factors)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		incident.ID,
		incident.SessionID,
		formatTime(incident.Timestamp),
		string(incident.Level),
		incident.PeopleCount,
		incident.Score,
		string(factors),
	)
	return errors.Wrapf(err, "insert incident %s", incident.ID)
}

// ReadAll returns every incident, oldest first.
func (s *Store) ReadAll(ctx context.Context) ([]risk.Incident, error) {
	return s.queryIncidents(ctx, `
		SELECT id, session_id, timestamp, risk_level, people_count, risk_score, factors
		FROM incidents ORDER BY seq ASC`)
}

// Recent returns up to limit incidents, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]risk.Incident, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.queryIncidents(ctx, `
		SELECT id, session_id, timestamp, risk_level, people_count, risk_score, factors
		FROM incidents ORDER BY seq DESC LIMIT ?`, limit)
}

func (s *Store) queryIncidents(ctx context.Context, query string, args ...interface{}) ([]risk.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query incidents")
	}
	defer rows.Close()

	var incidents []risk.Incident
	for rows.Next() {
		var (
			incident risk.Incident
			ts       string
			level    string
			factors  string
		)
		if err := rows.Scan(&incident.ID, &incident.SessionID, &ts, &level,
			&incident.PeopleCount, &incident.Score, &factors); err != nil {
			return nil, errors.Wrap(err, "scan incident")
		}
		if incident.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(factors), &incident.Factors); err != nil {
			return nil, errors.Wrapf(err, "decode factors of incident %s", incident.ID)
		}
		incident.Level = risk.Level(level)
		incidents = append(incidents, incident)
	}
	return incidents, errors.Wrap(rows.Err(), "iterate incidents")
}

// AppendDetections writes detection log rows in one transaction.
func (s *Store) AppendDetections(ctx context.Context, records []risk.DetectionRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin detections transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO object_detections (timestamp, object_label, confidence) VALUES (?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare detection insert")
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, formatTime(r.Timestamp), r.Label, r.Confidence); err != nil {
			return errors.Wrap(err, "insert detection")
		}
	}
	return errors.Wrap(tx.Commit(), "commit detections")
}

// Detections returns the whole detection log, oldest first.
func (s *Store) Detections(ctx context.Context) ([]risk.DetectionRecord, error) {
	return s.queryDetections(ctx, `
		SELECT timestamp, object_label, confidence FROM object_detections ORDER BY id ASC`)
}

// RecentDetections returns up to limit detection log rows, most recent first.
func (s *Store) RecentDetections(ctx context.Context, limit int) ([]risk.DetectionRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.queryDetections(ctx, `
		SELECT timestamp, object_label, confidence FROM object_detections ORDER BY id DESC LIMIT ?`, limit)
}

func (s *Store) queryDetections(ctx context.Context, query string, args ...interface{}) ([]risk.DetectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query detections")
	}
	defer rows.Close()

	var records []risk.DetectionRecord
	for rows.Next() {
		var (
			r  risk.DetectionRecord
			ts string
		)
		if err := rows.Scan(&ts, &r.Label, &r.Confidence); err != nil {
			return nil, errors.Wrap(err, "scan detection")
		}
		if r.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, errors.Wrap(rows.Err(), "iterate detections")
}

// Clear deletes every incident and detection log row.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin clear transaction")
	}
	defer tx.Rollback()

	for _, table := range []string{"incidents", "object_detections"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return errors.Wrapf(err, "clear %s", table)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit clear")
	}

	s.logger.Info().Msg("incident and detection history cleared")
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	return t, errors.Wrapf(err, "parse timestamp %q", s)
}
