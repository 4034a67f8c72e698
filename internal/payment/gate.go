// Package payment decides whether a participant has paid for an interview.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/pitch-analyst/internal/chain"
	"github.com/spigell/pitch-analyst/internal/session"
	"github.com/spigell/pitch-analyst/internal/store"
)

// Outcome of a payment check.
type Outcome int

const (
	NotYetConfirmed Outcome = iota
	Confirmed
)

func (o Outcome) String() string {
	if o == Confirmed {
		return "confirmed"
	}
	return "not_yet_confirmed"
}

var (
	// ErrVerification wraps every failure to reach or read the ledger.
	ErrVerification = errors.New("payment verification failed")
	// ErrWalletMissing is returned when a session has no wallet address yet.
	ErrWalletMissing = errors.New("wallet address is not set")
	// ErrPersistence is returned alongside a Confirmed outcome when the flag could not be stored.
	ErrPersistence = errors.New("storing payment confirmation failed")
)

// Accounts derives token accounts for the configured mint.
type Accounts interface {
	Validate(address string) error
	TokenAccount(owner string) (string, error)
}

// Recorder persists payment confirmations.
type Recorder interface {
	RecordPayment(ctx context.Context, payment store.Payment) error
}

// Config holds the static payment terms.
type Config struct {
	Treasury string
	// RequiredAmount is expressed in the token's smallest unit.
	RequiredAmount uint64
}

// Result describes a finished check.
type Result struct {
	Outcome   Outcome
	Match     *chain.Candidate
	Inspected int
}

// Gate verifies payments against the treasury's token account history.
type Gate struct {
	scanner         *chain.Scanner
	accounts        Accounts
	recorder        Recorder
	treasuryAccount string
	required        uint64
	logger          *zap.Logger
	now             func() time.Time
}

func NewGate(cfg Config, scanner *chain.Scanner, accounts Accounts, recorder Recorder, logger *zap.Logger) (*Gate, error) {
	if scanner == nil {
		return nil, errors.New("transaction scanner is required")
	}
	if accounts == nil {
		return nil, errors.New("account deriver is required")
	}
	if cfg.RequiredAmount == 0 {
		return nil, errors.New("required amount must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	treasury := strings.TrimSpace(cfg.Treasury)
	if err := accounts.Validate(treasury); err != nil {
		return nil, fmt.Errorf("treasury address: %w", err)
	}

	treasuryAccount, err := accounts.TokenAccount(treasury)
	if err != nil {
		return nil, fmt.Errorf("derive treasury token account: %w", err)
	}

	logger.Debug("payment gate configured",
		zap.String("treasury", treasury),
		zap.String("treasury_token_account", treasuryAccount),
		zap.Uint64("required_amount", cfg.RequiredAmount),
	)

	return &Gate{
		scanner:         scanner,
		accounts:        accounts,
		recorder:        recorder,
		treasuryAccount: treasuryAccount,
		required:        cfg.RequiredAmount,
		logger:          logger,
		now:             time.Now,
	}, nil
}

// ValidateWallet checks the address format of a participant wallet.
func (g *Gate) ValidateWallet(address string) error {
	return g.accounts.Validate(address)
}

// TreasuryAccount returns the derived token account receiving payments.
func (g *Gate) TreasuryAccount() string { return g.treasuryAccount }

// RequiredAmount returns the threshold in the token's smallest unit.
func (g *Gate) RequiredAmount() uint64 { return g.required }

// Qualifies reports whether c is a single transfer large enough from the participant to the treasury.
func Qualifies(c chain.Candidate, participantAccount, treasuryAccount string, required uint64) bool {
	return c.Source == participantAccount &&
		c.Destination == treasuryAccount &&
		c.Amount >= required
}

// Verify checks the session's payment and confirms it on the first qualifying transfer.
// A session that is already confirmed stays confirmed without another scan.
func (g *Gate) Verify(ctx context.Context, s *session.Session) (Result, error) {
	if s.PaymentConfirmed() {
		return Result{Outcome: Confirmed}, nil
	}

	wallet := s.WalletAddress()
	if wallet == "" {
		return Result{}, ErrWalletMissing
	}

	res, err := g.Match(ctx, wallet, s.PitchStartTime, nil)
	if err != nil {
		return res, err
	}

	log := g.logger.With(
		zap.String("participant_id", s.ParticipantID),
		zap.String("session_id", s.ID),
		zap.Int("inspected", res.Inspected),
	)

	if res.Outcome != Confirmed {
		log.Info("payment not found yet")
		return res, nil
	}

	if !s.ConfirmPayment(res.Match.Signature) {
		return res, nil
	}

	log.Info("payment confirmed",
		zap.String("signature", res.Match.Signature),
		zap.Uint64("amount", res.Match.Amount),
		zap.Time("block_time", res.Match.BlockTime),
	)

	if g.recorder == nil {
		return res, nil
	}

	if err := g.recorder.RecordPayment(ctx, store.Payment{
		ParticipantID: s.ParticipantID,
		DisplayName:   s.DisplayName,
		WalletAddress: wallet,
		Signature:     res.Match.Signature,
		ConfirmedAt:   g.now(),
	}); err != nil {
		log.Error("storing payment confirmation", zap.Error(err))
		return res, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	return res, nil
}

// Match scans for a qualifying transfer from wallet made at or after since.
// visit, when set, sees every inspected candidate with its verdict.
func (g *Gate) Match(ctx context.Context, wallet string, since time.Time, visit func(chain.Candidate, bool)) (Result, error) {
	participantAccount, err := g.accounts.TokenAccount(wallet)
	if err != nil {
		return Result{}, fmt.Errorf("derive participant token account: %w", err)
	}

	var res Result
	for candidate, err := range g.scanner.Scan(ctx, g.treasuryAccount, since) {
		if err != nil {
			return res, fmt.Errorf("%w: %w", ErrVerification, err)
		}

		res.Inspected++
		ok := Qualifies(candidate, participantAccount, g.treasuryAccount, g.required)
		if visit != nil {
			visit(candidate, ok)
		}
		if ok {
			c := candidate
			res.Outcome = Confirmed
			res.Match = &c
			return res, nil
		}
	}

	return res, nil
}
