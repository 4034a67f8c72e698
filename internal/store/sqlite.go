package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spigell/pitch-analyst/internal/session"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (and creates when missing) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS pitches (
		participant_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		transcript_json TEXT,
		evaluation TEXT,
		approved INTEGER,
		payment_confirmed INTEGER NOT NULL DEFAULT 0,
		wallet_address TEXT,
		payment_signature TEXT,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pitches_updated ON pitches(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertRecord creates or replaces the participant's record.
func (s *SQLiteStore) UpsertRecord(ctx context.Context, record *Record) error {
	if record == nil || record.ParticipantID == "" {
		return errors.New("record with participant id is required")
	}

	transcript, err := json.Marshal(record.Transcript)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	var approved any
	if record.Evaluated {
		approved = record.Approved
	}

	query := `
	INSERT INTO pitches (participant_id, display_name, transcript_json, evaluation, approved,
		payment_confirmed, wallet_address, payment_signature, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(participant_id) DO UPDATE SET
		display_name = excluded.display_name,
		transcript_json = excluded.transcript_json,
		evaluation = excluded.evaluation,
		approved = excluded.approved,
		payment_confirmed = excluded.payment_confirmed,
		wallet_address = excluded.wallet_address,
		payment_signature = excluded.payment_signature,
		updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		record.ParticipantID, record.DisplayName, string(transcript),
		nullString(record.Evaluation), approved,
		record.PaymentConfirmed, nullString(record.WalletAddress), nullString(record.PaymentSignature),
		record.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// RecordPayment marks the participant's payment as confirmed.
func (s *SQLiteStore) RecordPayment(ctx context.Context, payment Payment) error {
	if payment.ParticipantID == "" {
		return errors.New("participant id is required")
	}

	query := `
	INSERT INTO pitches (participant_id, display_name, payment_confirmed, wallet_address, payment_signature, updated_at)
	VALUES (?, ?, 1, ?, ?, ?)
	ON CONFLICT(participant_id) DO UPDATE SET
		display_name = excluded.display_name,
		payment_confirmed = 1,
		wallet_address = excluded.wallet_address,
		payment_signature = excluded.payment_signature,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		payment.ParticipantID, payment.DisplayName,
		nullString(payment.WalletAddress), nullString(payment.Signature),
		payment.ConfirmedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	return nil
}

const selectRecord = `
	SELECT participant_id, display_name, transcript_json, evaluation, approved,
	       payment_confirmed, wallet_address, payment_signature, updated_at
	FROM pitches`

// GetRecord retrieves a record by participant id.
func (s *SQLiteStore) GetRecord(ctx context.Context, participantID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, selectRecord+` WHERE participant_id = ?`, participantID)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Exists reports whether a record is stored for the participant.
func (s *SQLiteStore) Exists(ctx context.Context, participantID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM pitches WHERE participant_id = ?`, participantID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check record: %w", err)
	}
	return true, nil
}

// ListRecords returns every record, most recently updated first.
func (s *SQLiteStore) ListRecords(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRecord+` ORDER BY updated_at DESC, participant_id`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		record     Record
		transcript sql.NullString
		evaluation sql.NullString
		approved   sql.NullBool
		wallet     sql.NullString
		signature  sql.NullString
		updatedAt  int64
	)

	err := row.Scan(
		&record.ParticipantID, &record.DisplayName, &transcript, &evaluation, &approved,
		&record.PaymentConfirmed, &wallet, &signature, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan record row: %w", err)
	}

	if transcript.Valid && transcript.String != "" {
		var turns []session.Turn
		if err := json.Unmarshal([]byte(transcript.String), &turns); err != nil {
			return nil, fmt.Errorf("decode transcript of %s: %w", record.ParticipantID, err)
		}
		record.Transcript = turns
	}

	record.Evaluation = evaluation.String
	record.Evaluated = approved.Valid
	record.Approved = approved.Valid && approved.Bool
	record.WalletAddress = wallet.String
	record.PaymentSignature = signature.String
	record.UpdatedAt = time.Unix(updatedAt, 0)

	return &record, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
