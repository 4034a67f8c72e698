// Package chain defines the read-only view of a token ledger used for payment
// verification and the scanner that walks a token account's recent history.
package chain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by RPC.GetTransaction when the node does not know
// the transaction yet. Callers treat it as "skip", never as a failure.
var ErrNotFound = errors.New("transaction not found")

// SignatureInfo is one entry of an account's signature history.
type SignatureInfo struct {
	Signature string
	// BlockTime is nil while the node has no block time for the slot.
	BlockTime *time.Time
	// Failed is set when the transaction landed with an error.
	Failed bool
}

// Transfer is a token transfer instruction decoded from a transaction.
type Transfer struct {
	Source      string
	Destination string
	Authority   string
	Amount      uint64
}

// RPC is the narrow ledger surface the scanner needs.
type RPC interface {
	// ListSignatures returns at most limit signatures touching account, most recent first.
	ListSignatures(ctx context.Context, account string, limit int) ([]SignatureInfo, error)
	// GetTransaction returns every token transfer instruction of a transaction or ErrNotFound.
	GetTransaction(ctx context.Context, signature string) ([]Transfer, error)
}

// Candidate is a transfer into the scanned account, tagged with its transaction.
type Candidate struct {
	Signature   string
	BlockTime   time.Time
	Source      string
	Destination string
	Amount      uint64
}
