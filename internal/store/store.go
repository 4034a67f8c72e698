// Package store persists one pitch record per participant.
package store

import (
	"context"
	"time"

	"github.com/spigell/pitch-analyst/internal/session"
)

// Record is the durable snapshot of a participant's latest interview.
type Record struct {
	ParticipantID    string         `json:"participant_id" yaml:"participant_id"`
	DisplayName      string         `json:"display_name" yaml:"display_name"`
	Transcript       []session.Turn `json:"transcript,omitempty" yaml:"transcript,omitempty"`
	Evaluated        bool           `json:"evaluated" yaml:"evaluated"`
	Approved         bool           `json:"approved" yaml:"approved"`
	Evaluation       string         `json:"evaluation,omitempty" yaml:"evaluation,omitempty"`
	PaymentConfirmed bool           `json:"payment_confirmed" yaml:"payment_confirmed"`
	WalletAddress    string         `json:"wallet_address,omitempty" yaml:"wallet_address,omitempty"`
	PaymentSignature string         `json:"payment_signature,omitempty" yaml:"payment_signature,omitempty"`
	UpdatedAt        time.Time      `json:"updated_at" yaml:"updated_at"`
}

// Payment is the subset of a record written when a payment is confirmed.
type Payment struct {
	ParticipantID string
	DisplayName   string
	WalletAddress string
	Signature     string
	ConfirmedAt   time.Time
}

// Repository defines the interface for persisting pitch records.
type Repository interface {
	// UpsertRecord replaces the participant's record. Last interview wins.
	UpsertRecord(ctx context.Context, record *Record) error

	// RecordPayment sets the payment columns only, leaving any previous evaluation intact.
	RecordPayment(ctx context.Context, payment Payment) error

	// GetRecord returns nil without an error when the participant has no record.
	GetRecord(ctx context.Context, participantID string) (*Record, error)

	// Exists reports whether the participant has a record.
	Exists(ctx context.Context, participantID string) (bool, error)

	// ListRecords returns all records, most recently updated first.
	ListRecords(ctx context.Context) ([]*Record, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// RecordFromSession builds the durable record of an evaluated session.
func RecordFromSession(s *session.Session, now time.Time) *Record {
	snap := s.Snapshot()

	record := &Record{
		ParticipantID:    snap.ParticipantID,
		DisplayName:      snap.DisplayName,
		Transcript:       snap.Transcript,
		PaymentConfirmed: snap.PaymentConfirmed,
		WalletAddress:    snap.WalletAddress,
		PaymentSignature: snap.PaymentSignature,
		UpdatedAt:        now,
	}
	if snap.Evaluation != nil {
		record.Evaluated = true
		record.Approved = snap.Evaluation.Approved
		record.Evaluation = snap.Evaluation.Rationale
	}
	return record
}
