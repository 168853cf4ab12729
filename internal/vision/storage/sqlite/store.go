// Package sqlite persists performance sessions: sampled fused snapshots
// and every match event, keyed by a session id. Recording is optional at
// runtime; the rest of the pipeline never depends on it.
package sqlite

import (
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/vlasvlasvlas/cupdance/internal/vision"
	"github.com/vlasvlasvlas/cupdance/internal/vision/fusion"
	"github.com/vlasvlasvlas/cupdance/internal/vision/match"
	"github.com/vlasvlasvlas/cupdance/internal/vision/memory"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the session database.
type Store struct {
	*sql.DB
}

// Open opens (or creates) the database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session db %s: %w", path, err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}
	s := &Store{db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrateUp applies all pending embedded migrations.
func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// Closing m would close the underlying DB connection, so leave it to
	// the garbage collector.
	m.Log = &migrateLogger{}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// migrateLogger implements migrate.Logger.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// Session is one recorded performance run.
type Session struct {
	ID        string
	StartedAt time.Time
	EndedAt   *time.Time
	Notes     string
}

// BeginSession creates a new session row and returns its id.
func (s *Store) BeginSession(notes string) (string, error) {
	id := uuid.NewString()
	_, err := s.Exec(`INSERT INTO sessions (id, started_at, notes) VALUES (?, ?, ?)`,
		id, time.Now().UTC(), notes)
	if err != nil {
		return "", fmt.Errorf("failed to begin session: %w", err)
	}
	return id, nil
}

// EndSession stamps the session's end time.
func (s *Store) EndSession(id string) error {
	res, err := s.Exec(`UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s not found or already ended", id)
	}
	return nil
}

// ListSessions returns sessions newest first.
func (s *Store) ListSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Query(`SELECT id, started_at, ended_at, notes FROM sessions
		ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.StartedAt, &sess.EndedAt, &sess.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// encodeCells packs a float32 cell array as little-endian bytes.
func encodeCells(cells []float32) []byte {
	out := make([]byte, 4*len(cells))
	for i, v := range cells {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

// DecodeCells unpacks bytes produced by encodeCells.
func DecodeCells(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("cell blob length %d not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}

// RecordSnapshot stores one sampled fused snapshot with its trail.
func (s *Store) RecordSnapshot(sessionID string, snap *fusion.Snapshot, trail memory.Trail) error {
	cups, err := json.Marshal(snap.Cups)
	if err != nil {
		return fmt.Errorf("failed to marshal cup states: %w", err)
	}
	_, err = s.Exec(`INSERT INTO snapshots (session_id, version, ts_nanos, grid, trail, cups)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, int64(snap.Version), snap.TimestampNanos,
		encodeCells(snap.Grid[:]), encodeCells(trail[:]), string(cups))
	if err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}
	return nil
}

// RecordMatchEvent stores one match edge.
func (s *Store) RecordMatchEvent(sessionID string, ev match.Event) error {
	cups, err := json.Marshal(ev.Cups)
	if err != nil {
		return fmt.Errorf("failed to marshal event cups: %w", err)
	}
	_, err = s.Exec(`INSERT INTO match_events (session_id, label, kind, edge, cups, ts_nanos)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, ev.Label, string(ev.Kind), string(ev.Edge), string(cups), ev.TimestampNanos)
	if err != nil {
		return fmt.Errorf("failed to record match event: %w", err)
	}
	return nil
}

// StoredEvent is a match event row.
type StoredEvent struct {
	Label          string
	Kind           string
	Edge           string
	Cups           []int
	TimestampNanos int64
}

// SessionEvents returns the match events of a session in time order.
func (s *Store) SessionEvents(sessionID string) ([]StoredEvent, error) {
	rows, err := s.Query(`SELECT label, kind, edge, cups, ts_nanos FROM match_events
		WHERE session_id = ? ORDER BY ts_nanos ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		var cups string
		if err := rows.Scan(&ev.Label, &ev.Kind, &ev.Edge, &cups, &ev.TimestampNanos); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		if err := json.Unmarshal([]byte(cups), &ev.Cups); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event cups: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// SnapshotCount returns how many snapshots a session holds.
func (s *Store) SnapshotCount(sessionID string) (int, error) {
	var n int
	err := s.QueryRow(`SELECT COUNT(*) FROM snapshots WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return n, nil
}

// LatestTrail returns the most recent stored trail of a session.
func (s *Store) LatestTrail(sessionID string) (memory.Trail, error) {
	var trail memory.Trail
	var blob []byte
	err := s.QueryRow(`SELECT trail FROM snapshots WHERE session_id = ?
		ORDER BY ts_nanos DESC LIMIT 1`, sessionID).Scan(&blob)
	if err != nil {
		return trail, fmt.Errorf("failed to load latest trail: %w", err)
	}
	cells, err := DecodeCells(blob)
	if err != nil {
		return trail, err
	}
	if len(cells) != vision.GridCells {
		return trail, fmt.Errorf("stored trail has %d cells, want %d", len(cells), vision.GridCells)
	}
	copy(trail[:], cells)
	return trail, nil
}
