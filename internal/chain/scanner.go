package chain

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"
)

// DefaultLookback is the number of most recent signatures inspected per scan.
const DefaultLookback = 100

// Scanner walks the bounded recent history of a token account.
type Scanner struct {
	rpc      RPC
	lookback int
	logger   *zap.Logger
}

func NewScanner(rpc RPC, lookback int, logger *zap.Logger) *Scanner {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scanner{rpc: rpc, lookback: lookback, logger: logger}
}

// Lookback returns the number of signatures fetched per scan.
func (s *Scanner) Lookback() int { return s.lookback }

// Scan lazily yields transfers addressed to account that landed at or after
// since, newest first. Transactions are fetched only as the caller consumes
// the sequence. The first RPC failure is yielded as an error and ends the sequence.
func (s *Scanner) Scan(ctx context.Context, account string, since time.Time) iter.Seq2[Candidate, error] {
	return func(yield func(Candidate, error) bool) {
		signatures, err := s.rpc.ListSignatures(ctx, account, s.lookback)
		if err != nil {
			yield(Candidate{}, fmt.Errorf("list signatures for %s: %w", account, err))
			return
		}

		s.logger.Debug("scanning signatures",
			zap.String("account", account),
			zap.Int("signatures", len(signatures)),
			zap.Time("since", since),
		)

		for _, sig := range signatures {
			if sig.Failed {
				continue
			}

			if sig.BlockTime == nil {
				s.logger.Debug("skipping signature without block time", zap.String("signature", sig.Signature))
				continue
			}

			// history is newest first, nothing older can qualify
			if sig.BlockTime.Before(since) {
				s.logger.Debug("reached signatures older than lower bound",
					zap.String("signature", sig.Signature),
					zap.Time("block_time", *sig.BlockTime),
				)
				return
			}

			if err := ctx.Err(); err != nil {
				yield(Candidate{}, err)
				return
			}

			transfers, err := s.rpc.GetTransaction(ctx, sig.Signature)
			if errors.Is(err, ErrNotFound) {
				s.logger.Debug("transaction not found yet", zap.String("signature", sig.Signature))
				continue
			}
			if err != nil {
				yield(Candidate{}, fmt.Errorf("get transaction %s: %w", sig.Signature, err))
				return
			}

			for _, tr := range transfers {
				if tr.Destination != account {
					continue
				}

				candidate := Candidate{
					Signature:   sig.Signature,
					BlockTime:   *sig.BlockTime,
					Source:      tr.Source,
					Destination: tr.Destination,
					Amount:      tr.Amount,
				}
				if !yield(candidate, nil) {
					return
				}
			}
		}
	}
}
