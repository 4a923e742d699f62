// Package journal persists run events into a SQLite database so runs can be
// reviewed after the process exits.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rjboer/GoSSB/internal/logging"
	"github.com/rjboer/GoSSB/internal/telemetry"
)

const (
	createTableTmpl = `CREATE TABLE IF NOT EXISTS events (
		"ID"        INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"RunID"     TEXT NOT NULL,
		"Time"      INTEGER NOT NULL,
		"Kind"      TEXT NOT NULL,
		"State"     TEXT,
		"Message"   TEXT,
		"Detection" TEXT,
		"Transmit"  TEXT
	);`
	createIndexTmpl  = `CREATE INDEX IF NOT EXISTS events_run ON events(RunID);`
	insertEventTmpl  = `INSERT INTO events(RunID, Time, Kind, State, Message, Detection, Transmit) VALUES (?, ?, ?, ?, ?, ?, ?);`
	selectEventsTmpl = `SELECT RunID, Time, Kind, State, Message, Detection, Transmit FROM events WHERE RunID = ? ORDER BY ID;`
	selectRunsTmpl   = `SELECT e.RunID, MIN(e.Time), MAX(e.Time), COUNT(*),
		(SELECT l.State FROM events l WHERE l.RunID = e.RunID AND l.State != '' ORDER BY l.ID DESC LIMIT 1)
		FROM events e GROUP BY e.RunID ORDER BY MIN(e.ID);`
)

// Run summarises one journaled run.
type Run struct {
	ID        uuid.UUID
	Start     time.Time
	End       time.Time
	Events    int
	LastState string
}

// Journal is a telemetry.Reporter backed by SQLite.
type Journal struct {
	db     *sql.DB
	insert *sql.Stmt
	logger logging.Logger
	path   string
	errors int
}

// Open creates or opens the journal database at path.
func Open(path string, logger logging.Logger) (*Journal, error) {
	if logger == nil {
		logger = logging.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite DB %q: %w", path, err)
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{createTableTmpl, createIndexTmpl} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("unable to create table: %w", err)
		}
	}
	insert, err := db.Prepare(insertEventTmpl)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	return &Journal{
		db:     db,
		insert: insert,
		path:   path,
		logger: logger.With(logging.F("subsystem", "journal")),
	}, nil
}

// Report stores ev. Storage failures are logged and otherwise ignored so a
// full disk never stops an attack run.
func (j *Journal) Report(ev telemetry.Event) {
	if err := j.Append(context.Background(), ev); err != nil {
		j.errors++
		j.logger.Warn("error storing event in sqlite DB", logging.F("file", j.path), logging.F("err", err))
	}
}

// Append stores ev and reports any failure.
func (j *Journal) Append(ctx context.Context, ev telemetry.Event) error {
	if _, err := uuid.Parse(ev.RunID); err != nil {
		return fmt.Errorf("run id %q: %w", ev.RunID, err)
	}
	det, err := encodeJSON(ev.Detection)
	if err != nil {
		return err
	}
	tx, err := encodeJSON(ev.Transmit)
	if err != nil {
		return err
	}
	_, err = j.insert.ExecContext(ctx, ev.RunID, ev.Time.UnixMilli(), string(ev.Kind), ev.State, ev.Message, det, tx)
	return err
}

// Events returns the events of one run in insertion order.
func (j *Journal) Events(ctx context.Context, run uuid.UUID) ([]telemetry.Event, error) {
	rows, err := j.db.QueryContext(ctx, selectEventsTmpl, run.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []telemetry.Event
	for rows.Next() {
		var (
			ev            telemetry.Event
			ms            int64
			kind          string
			state, msg    sql.NullString
			det, transmit sql.NullString
		)
		if err := rows.Scan(&ev.RunID, &ms, &kind, &state, &msg, &det, &transmit); err != nil {
			return nil, err
		}
		ev.Time = time.UnixMilli(ms).UTC()
		ev.Kind = telemetry.Kind(kind)
		ev.State = state.String
		ev.Message = msg.String
		if det.Valid && det.String != "" {
			ev.Detection = new(telemetry.DetectionSummary)
			if err := json.Unmarshal([]byte(det.String), ev.Detection); err != nil {
				return nil, fmt.Errorf("decode detection: %w", err)
			}
		}
		if transmit.Valid && transmit.String != "" {
			ev.Transmit = new(telemetry.TransmitSummary)
			if err := json.Unmarshal([]byte(transmit.String), ev.Transmit); err != nil {
				return nil, fmt.Errorf("decode transmit: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Runs lists every journaled run, oldest first.
func (j *Journal) Runs(ctx context.Context) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx, selectRunsTmpl)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			id         string
			start, end int64
			r          Run
			last       sql.NullString
		)
		if err := rows.Scan(&id, &start, &end, &r.Events, &last); err != nil {
			return nil, err
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("stored run id %q: %w", id, err)
		}
		r.Start = time.UnixMilli(start).UTC()
		r.End = time.UnixMilli(end).UTC()
		r.LastState = last.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the database.
func (j *Journal) Close() error {
	if j.errors > 0 {
		j.logger.Warn("journal dropped events", logging.F("count", j.errors))
	}
	j.insert.Close()
	return j.db.Close()
}

func encodeJSON(v any) (sql.NullString, error) {
	switch x := v.(type) {
	case *telemetry.DetectionSummary:
		if x == nil {
			return sql.NullString{}, nil
		}
	case *telemetry.TransmitSummary:
		if x == nil {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
