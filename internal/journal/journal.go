package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hexlite/hexlited/internal/model"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyFinished = errors.New("already finished")
)

// Entry is the record of one solve job.
type Entry struct {
	ID            int
	UUID          string
	Started       time.Time
	InProgress    bool
	Success       *bool
	Answers       *int
	FailureReason *string
}

func (e Entry) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("uuid: %q, in_progress: %t", e.UUID, e.InProgress))
	if e.Success != nil {
		sb.WriteString(fmt.Sprintf(", success: %t", *e.Success))
	} else {
		sb.WriteString(", success: nil")
	}
	if e.Answers != nil {
		sb.WriteString(fmt.Sprintf(", answers: %d", *e.Answers))
	} else {
		sb.WriteString(", answers: nil")
	}
	if e.FailureReason != nil {
		sb.WriteString(fmt.Sprintf(", failure_reason: %q", *e.FailureReason))
	} else {
		sb.WriteString(", failure_reason: nil")
	}
	return sb.String()
}

// Journal is a sqlite backed record of solve jobs.
type Journal struct {
	db *sql.DB
}

func Open(ctx context.Context, dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// one writer at a time, concurrent jobs would get SQLITE_BUSY otherwise
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS jobs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			started INTEGER NOT NULL,
			in_progress BOOLEAN NOT NULL,
			success BOOLEAN DEFAULT NULL,
			answers INTEGER DEFAULT NULL,
			failure_reason TEXT DEFAULT NULL
		)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func rollback(ctx context.Context, tx *sql.Tx, uuid string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", slog.String("uuid", uuid))
	}
}

// Start persists that a job identified by 'uuid' is in progress.
// If the job is still in progress, no error is returned,
// if it has already finished ErrAlreadyFinished is returned.
func (j *Journal) Start(ctx context.Context, uuid string) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, uuid)

	var inProgress bool
	row := tx.QueryRowContext(ctx,
		`SELECT in_progress FROM jobs WHERE uuid=?`, uuid,
	)
	err = row.Scan(&inProgress)
	switch {
	case err == nil && inProgress:
		return nil
	case err == nil && !inProgress:
		return ErrAlreadyFinished
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("executing sql query failed: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO jobs (uuid, started, in_progress) VALUES (?,?,?);`,
		uuid, time.Now().UnixMilli(), true,
	)
	if err != nil {
		return fmt.Errorf("executing sql insert failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// Finish stores the outcome of a job identified by 'uuid'. The failure reason
// is the last message of an unsuccessful result.
// Returns ErrNotFound for unknown and ErrAlreadyFinished for finished jobs.
func (j *Journal) Finish(ctx context.Context, uuid string, result model.SolveResult) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, uuid)

	var inProgress bool
	row := tx.QueryRowContext(ctx,
		`SELECT in_progress FROM jobs WHERE uuid=?`, uuid,
	)
	err = row.Scan(&inProgress)
	switch {
	case err == nil && !inProgress:
		return ErrAlreadyFinished
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("executing sql query failed: %w", err)
	}

	var reason *string
	if msgs := result.Description.Messages; !result.Description.Success && len(msgs) > 0 {
		reason = &msgs[len(msgs)-1]
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE jobs
		 SET
			in_progress = false,
			success = ?,
			answers = ?,
			failure_reason = ?
		WHERE uuid = ?;
		`, result.Description.Success, len(result.Answers), reason, uuid,
	)
	if err != nil {
		return fmt.Errorf("executing sql update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// Get returns the entry of a job identified by 'uuid' on success,
// ErrNotFound when it does not exist, error otherwise.
func (j *Journal) Get(ctx context.Context, uuid string) (Entry, error) {
	var entry Entry
	var started int64
	row := j.db.QueryRowContext(ctx,
		`SELECT id, uuid, started, in_progress, success, answers, failure_reason FROM jobs WHERE uuid=?`, uuid,
	)
	err := row.Scan(
		&entry.ID,
		&entry.UUID,
		&started,
		&entry.InProgress,
		&entry.Success,
		&entry.Answers,
		&entry.FailureReason,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Entry{}, ErrNotFound
	case err != nil:
		return Entry{}, fmt.Errorf("executing sql query failed: %w", err)
	}
	entry.Started = time.UnixMilli(started)
	return entry, nil
}
