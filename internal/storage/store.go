// Package storage keeps a durable log of tracking sessions and the activity
// transitions observed during each one.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/relabs-tech/activity_tracker/internal/activity"
)

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = errors.New("session not found")

// SessionRecord is one row of the sessions table.
type SessionRecord struct {
	ID         string
	StartTime  time.Time
	EndTime    *time.Time
	Source     string
	ModelPath  string
	ScalerPath string
}

// Transition is one persisted activity change.
type Transition struct {
	ID         int64
	SessionID  string
	Timestamp  time.Time
	Old        activity.Label
	New        activity.Label
	Confidence float64
}

// SqliteStore persists sessions and transitions in a SQLite file.
type SqliteStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", path, "_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on"))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// one writer, the recorder and the session owner share it
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(initSchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &SqliteStore{db: db}, nil
}

// Close releases the database.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

// CreateSession records the start of a session.
func (s *SqliteStore) CreateSession(ctx context.Context, rec SessionRecord) error {
	_, err := s.db.ExecContext(ctx, insertSessionSQL,
		rec.ID, rec.StartTime.UTC(), rec.Source, nullString(rec.ModelPath), nullString(rec.ScalerPath))
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// EndSession stamps the end time of a session.
func (s *SqliteStore) EndSession(ctx context.Context, id string, end time.Time) error {
	res, err := s.db.ExecContext(ctx, endSessionSQL, end.UTC(), id)
	if err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// Session loads one session row.
func (s *SqliteStore) Session(ctx context.Context, id string) (*SessionRecord, error) {
	var (
		rec                   SessionRecord
		end                   sql.NullTime
		modelPath, scalerPath sql.NullString
	)
	err := s.db.QueryRowContext(ctx, selectSessionSQL, id).
		Scan(&rec.ID, &rec.StartTime, &end, &rec.Source, &modelPath, &scalerPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	if end.Valid {
		rec.EndTime = &end.Time
	}
	rec.ModelPath, rec.ScalerPath = modelPath.String, scalerPath.String
	return &rec, nil
}

// InsertTransition appends one change event to a session.
func (s *SqliteStore) InsertTransition(ctx context.Context, sessionID string, ev activity.ChangeEvent) (id int64, err error) {
	stmt, err := s.db.PrepareContext(ctx, insertTransitionSQL)
	if err != nil {
		return 0, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	res, err := stmt.ExecContext(ctx, sessionID, ev.Time.UTC(), ev.Old.String(), ev.New.String(), ev.Confidence)
	if err != nil {
		return 0, fmt.Errorf("inserting transition: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting transition ID: %w", err)
	}
	return id, err
}

// Transitions returns the transitions of a session in time order.
func (s *SqliteStore) Transitions(ctx context.Context, sessionID string) (out []Transition, err error) {
	rows, err := s.db.QueryContext(ctx, selectTransitionsSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var (
			tr       Transition
			oldLabel, newLabel string
		)
		if err = rows.Scan(&tr.ID, &tr.SessionID, &tr.Timestamp, &oldLabel, &newLabel, &tr.Confidence); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		if tr.Old, err = activity.ParseLabel(oldLabel); err != nil {
			return nil, err
		}
		if tr.New, err = activity.ParseLabel(newLabel); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
