// Package chaintest provides an in-memory chain.RPC for tests.
package chaintest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spigell/pitch-analyst/internal/chain"
)

// Tx is a fake ledger transaction.
type Tx struct {
	Signature string
	// Account is the account whose history lists the transaction.
	Account   string
	BlockTime *time.Time
	Failed    bool
	// Missing makes GetTransaction return chain.ErrNotFound.
	Missing   bool
	Transfers []chain.Transfer
}

// RPC serves transactions from memory. Histories are returned newest first.
type RPC struct {
	mu  sync.Mutex
	txs []Tx

	ListErr error
	GetErr  error

	ListCalls   int
	GetCalls    int
	LastLimit   int
	FetchedSigs []string
}

func New(txs ...Tx) *RPC {
	r := &RPC{}
	for _, tx := range txs {
		r.Add(tx)
	}
	return r
}

// Add appends a transaction to the ledger.
func (r *RPC) Add(tx Tx) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs = append(r.txs, tx)
}

// At is a helper for building block times.
func At(unix int64) *time.Time {
	t := time.Unix(unix, 0)
	return &t
}

func (r *RPC) ListSignatures(_ context.Context, account string, limit int) ([]chain.SignatureInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ListCalls++
	r.LastLimit = limit
	if r.ListErr != nil {
		return nil, r.ListErr
	}

	matching := make([]Tx, 0, len(r.txs))
	for _, tx := range r.txs {
		if tx.Account == account {
			matching = append(matching, tx)
		}
	}

	// newest first, transactions without block time keep their insertion slot at the top
	sort.SliceStable(matching, func(i, j int) bool {
		a, b := matching[i].BlockTime, matching[j].BlockTime
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		default:
			return a.After(*b)
		}
	})

	if limit > 0 && len(matching) > limit {
		matching = matching[:limit]
	}

	out := make([]chain.SignatureInfo, 0, len(matching))
	for _, tx := range matching {
		out = append(out, chain.SignatureInfo{
			Signature: tx.Signature,
			BlockTime: tx.BlockTime,
			Failed:    tx.Failed,
		})
	}
	return out, nil
}

func (r *RPC) GetTransaction(_ context.Context, signature string) ([]chain.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.GetCalls++
	r.FetchedSigs = append(r.FetchedSigs, signature)
	if r.GetErr != nil {
		return nil, r.GetErr
	}

	for _, tx := range r.txs {
		if tx.Signature != signature {
			continue
		}
		if tx.Missing {
			return nil, chain.ErrNotFound
		}
		return append([]chain.Transfer(nil), tx.Transfers...), nil
	}
	return nil, chain.ErrNotFound
}
