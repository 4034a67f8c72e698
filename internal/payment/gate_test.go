package payment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spigell/pitch-analyst/internal/chain"
	"github.com/spigell/pitch-analyst/internal/chain/chaintest"
	"github.com/spigell/pitch-analyst/internal/session"
	"github.com/spigell/pitch-analyst/internal/store"
)

const (
	treasuryWallet  = "treasury"
	treasuryAccount = "ata-treasury"
	aliceWallet     = "alice"
	aliceAccount    = "ata-alice"
	required        = 1_000_000
)

type fakeAccounts struct{}

func (fakeAccounts) Validate(address string) error {
	if address == "" || strings.Contains(address, " ") {
		return errors.New("invalid address")
	}
	return nil
}

func (fakeAccounts) TokenAccount(owner string) (string, error) {
	return "ata-" + owner, nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	payments []store.Payment
	err      error
}

func (f *fakeRecorder) RecordPayment(_ context.Context, p store.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.payments = append(f.payments, p)
	return nil
}

func newGate(t *testing.T, rpc chain.RPC, rec Recorder) *Gate {
	t.Helper()

	g, err := NewGate(Config{Treasury: treasuryWallet, RequiredAmount: required}, chain.NewScanner(rpc, 50, nil), fakeAccounts{}, rec, nil)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	g.now = func() time.Time { return time.Unix(5000, 0) }
	return g
}

func transferTx(sig string, at int64, source string, amount uint64) chaintest.Tx {
	return chaintest.Tx{
		Signature: sig,
		Account:   treasuryAccount,
		BlockTime: chaintest.At(at),
		Transfers: []chain.Transfer{{Source: source, Destination: treasuryAccount, Amount: amount}},
	}
}

func newSession(start int64) *session.Session {
	s := session.New("42", "alice", time.Unix(start, 0))
	_ = s.SetWallet(aliceWallet)
	return s
}

func TestVerifyAmountThreshold(t *testing.T) {
	tests := []struct {
		name   string
		amount uint64
		want   Outcome
	}{
		{name: "one below", amount: required - 1, want: NotYetConfirmed},
		{name: "exact", amount: required, want: Confirmed},
		{name: "above", amount: required + 5, want: Confirmed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := newGate(t, chaintest.New(transferTx("sig", 1500, aliceAccount, tt.amount)), nil)
			s := newSession(1000)

			res, err := gate.Verify(context.Background(), s)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Outcome != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, res.Outcome)
			}
			if s.PaymentConfirmed() != (tt.want == Confirmed) {
				t.Fatalf("unexpected session flag %v", s.PaymentConfirmed())
			}
		})
	}
}

func TestVerifyTimeBoundary(t *testing.T) {
	tests := []struct {
		name string
		at   int64
		want Outcome
	}{
		{name: "before start", at: 999, want: NotYetConfirmed},
		{name: "at start", at: 1000, want: Confirmed},
		{name: "after start", at: 1001, want: Confirmed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := newGate(t, chaintest.New(transferTx("sig", tt.at, aliceAccount, required)), nil)

			res, err := gate.Verify(context.Background(), newSession(1000))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Outcome != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, res.Outcome)
			}
		})
	}
}

func TestVerifyPicksLateTransferOverEarlyOne(t *testing.T) {
	rec := &fakeRecorder{}
	gate := newGate(t, chaintest.New(
		transferTx("early", 999, aliceAccount, required),
		transferTx("late", 1001, aliceAccount, required),
	), rec)
	s := newSession(1000)

	res, err := gate.Verify(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != Confirmed || res.Match.Signature != "late" {
		t.Fatalf("expected the late transfer to confirm, got %+v", res)
	}
	if s.PaymentSignature() != "late" || s.State() != session.StateQuestion {
		t.Fatalf("unexpected session state %s sig=%q", s.State(), s.PaymentSignature())
	}
	if len(rec.payments) != 1 || rec.payments[0].Signature != "late" || rec.payments[0].WalletAddress != aliceWallet {
		t.Fatalf("expected recorded payment, got %+v", rec.payments)
	}
}

func TestVerifyRequiresSingleQualifyingTransfer(t *testing.T) {
	gate := newGate(t, chaintest.New(
		transferTx("half-1", 1100, aliceAccount, required/2),
		transferTx("half-2", 1200, aliceAccount, required/2),
		transferTx("stranger", 1300, "ata-bob", required*2),
	), nil)

	res, err := gate.Verify(context.Background(), newSession(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != NotYetConfirmed || res.Inspected != 3 {
		t.Fatalf("expected no confirmation after 3 candidates, got %+v", res)
	}
}

func TestVerifyAlreadyConfirmedIsNoop(t *testing.T) {
	rpc := chaintest.New()
	rec := &fakeRecorder{}
	gate := newGate(t, rpc, rec)

	s := newSession(1000)
	s.ConfirmPayment("earlier")

	res, err := gate.Verify(context.Background(), s)
	if err != nil || res.Outcome != Confirmed {
		t.Fatalf("expected confirmed without error, got %+v %v", res, err)
	}
	if rpc.ListCalls != 0 || len(rec.payments) != 0 {
		t.Fatalf("re-confirmation must not touch the ledger or the store")
	}
}

func TestVerifyErrors(t *testing.T) {
	rpc := chaintest.New()
	rpc.ListErr = errors.New("503 service unavailable")
	gate := newGate(t, rpc, nil)

	s := newSession(1000)
	res, err := gate.Verify(context.Background(), s)
	if !errors.Is(err, ErrVerification) {
		t.Fatalf("expected ErrVerification, got %v", err)
	}
	if res.Outcome == Confirmed || s.PaymentConfirmed() {
		t.Fatalf("verification error must not confirm")
	}

	if _, err := gate.Verify(context.Background(), session.New("7", "bob", time.Unix(0, 0))); !errors.Is(err, ErrWalletMissing) {
		t.Fatalf("expected ErrWalletMissing, got %v", err)
	}
}

func TestVerifyPersistenceFailureKeepsConfirmation(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("disk full")}
	gate := newGate(t, chaintest.New(transferTx("sig", 1500, aliceAccount, required)), rec)
	s := newSession(1000)

	res, err := gate.Verify(context.Background(), s)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if res.Outcome != Confirmed || !s.PaymentConfirmed() {
		t.Fatalf("in-memory confirmation must not be rolled back")
	}
}

func TestNewGateValidatesConfig(t *testing.T) {
	scanner := chain.NewScanner(chaintest.New(), 10, nil)

	if _, err := NewGate(Config{Treasury: treasuryWallet}, scanner, fakeAccounts{}, nil, nil); err == nil {
		t.Fatalf("expected error for zero amount")
	}
	if _, err := NewGate(Config{Treasury: "bad address", RequiredAmount: 1}, scanner, fakeAccounts{}, nil, nil); err == nil {
		t.Fatalf("expected error for invalid treasury")
	}

	g, err := NewGate(Config{Treasury: treasuryWallet, RequiredAmount: 1}, scanner, fakeAccounts{}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.TreasuryAccount() != treasuryAccount {
		t.Fatalf("unexpected treasury account %q", g.TreasuryAccount())
	}
}
