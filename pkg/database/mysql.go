package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dev/bravebird/form-submitter/pkg/models"

	"github.com/go-sql-driver/mysql"
)

// errDuplicateEntry is MySQL's ER_DUP_ENTRY
const errDuplicateEntry = 1062

// DefaultLockName is the advisory lock held for the duration of a run
const DefaultLockName = "form_submitter_run"

const schema = `
	CREATE TABLE IF NOT EXISTS submission_records (
		target_key VARCHAR(768) NOT NULL PRIMARY KEY,
		status VARCHAR(32) NOT NULL,
		attempts INT NOT NULL DEFAULT 0,
		last_error TEXT NULL,
		updated_at DATETIME(6) NOT NULL,
		version BIGINT NOT NULL
	)
`

// DB represents the database connection
type DB struct {
	conn     *sql.DB
	lockName string
}

// New creates a new database connection and makes sure the records table exists.
// The DSN should set parseTime=true.
func New(dsn, lockName string) (*DB, error) {
	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := NewWithConn(conn, lockName)
	if err := db.Migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// NewWithConn wraps an already opened connection pool
func NewWithConn(conn *sql.DB, lockName string) *DB {
	if lockName == "" {
		lockName = DefaultLockName
	}
	return &DB{conn: conn, lockName: lockName}
}

// Migrate creates the records table if needed
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create submission_records: %w", err)
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// ==================== Submission Records ====================

// Load retrieves a submission record by target key
func (db *DB) Load(ctx context.Context, key string) (*models.SubmissionRecord, error) {
	query := `
		SELECT target_key, status, attempts, last_error, updated_at, version
		FROM submission_records
		WHERE target_key = ?
	`

	var rec models.SubmissionRecord
	var lastError sql.NullString

	err := db.conn.QueryRowContext(ctx, query, key).Scan(
		&rec.TargetKey,
		&rec.Status,
		&rec.Attempts,
		&lastError,
		&rec.UpdatedAt,
		&rec.Version,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.LastError = lastError.String
	return &rec, nil
}

// Create inserts a new submission record, reporting false if the key already exists
func (db *DB) Create(ctx context.Context, rec *models.SubmissionRecord) (bool, error) {
	query := `
		INSERT INTO submission_records (target_key, status, attempts, last_error, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := db.conn.ExecContext(ctx, query,
		rec.TargetKey,
		rec.Status,
		rec.Attempts,
		nullString(rec.LastError),
		rec.UpdatedAt,
		rec.Version,
	)

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == errDuplicateEntry {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Swap updates a submission record only if its stored version equals expected
func (db *DB) Swap(ctx context.Context, rec *models.SubmissionRecord, expected int64) (bool, error) {
	query := `
		UPDATE submission_records
		SET status = ?, attempts = ?, last_error = ?, updated_at = ?, version = ?
		WHERE target_key = ? AND version = ?
	`

	result, err := db.conn.ExecContext(ctx, query,
		rec.Status,
		rec.Attempts,
		nullString(rec.LastError),
		rec.UpdatedAt,
		rec.Version,
		rec.TargetKey,
		expected,
	)
	if err != nil {
		return false, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// List retrieves all submission records
func (db *DB) List(ctx context.Context) ([]models.SubmissionRecord, error) {
	query := `
		SELECT target_key, status, attempts, last_error, updated_at, version
		FROM submission_records
		ORDER BY target_key
	`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []models.SubmissionRecord
	for rows.Next() {
		var rec models.SubmissionRecord
		var lastError sql.NullString
		if err := rows.Scan(
			&rec.TargetKey,
			&rec.Status,
			&rec.Attempts,
			&lastError,
			&rec.UpdatedAt,
			&rec.Version,
		); err != nil {
			return nil, err
		}
		rec.LastError = lastError.String
		recs = append(recs, rec)
	}

	return recs, rows.Err()
}

// ==================== Run Lock ====================

// Acquire takes a MySQL advisory lock on a dedicated connection. The lock lives as long
// as that connection, so it is dropped automatically if the process dies.
func (db *DB) Acquire(ctx context.Context, owner string) (func(context.Context) error, error) {
	conn, err := db.conn.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve lock connection: %w", err)
	}

	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", db.lockName).Scan(&got); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to get lock %s: %w", db.lockName, err)
	}
	if !got.Valid || got.Int64 != 1 {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", models.ErrLocked, db.lockName)
	}

	release := func(ctx context.Context) error {
		defer conn.Close()
		if _, err := conn.ExecContext(ctx, "SELECT RELEASE_LOCK(?)", db.lockName); err != nil {
			return fmt.Errorf("failed to release lock %s held by %s: %w", db.lockName, owner, err)
		}
		return nil
	}
	return release, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
