package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spigell/pitch-analyst/internal/ai"
	"github.com/spigell/pitch-analyst/internal/catalog"
	"github.com/spigell/pitch-analyst/internal/chain"
	"github.com/spigell/pitch-analyst/internal/chain/chaintest"
	"github.com/spigell/pitch-analyst/internal/interview"
	"github.com/spigell/pitch-analyst/internal/payment"
	"github.com/spigell/pitch-analyst/internal/session"
	"github.com/spigell/pitch-analyst/internal/store"
)

const (
	participant     = "42"
	treasuryWallet  = "treasury"
	treasuryAccount = "ata-treasury"
	aliceWallet     = "alice"
	aliceAccount    = "ata-alice"
	required        = 1_000_000
)

type fakeAccounts struct{}

func (fakeAccounts) Validate(address string) error {
	if address == "" || strings.ContainsAny(address, " !") {
		return errors.New("invalid base58")
	}
	return nil
}

func (fakeAccounts) TokenAccount(owner string) (string, error) {
	return "ata-" + owner, nil
}

type recordingSender struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (r *recordingSender) Send(_ context.Context, _ string, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, text)
	return nil
}

func (r *recordingSender) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return ""
	}
	return r.messages[len(r.messages)-1]
}

func (r *recordingSender) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}

func (r *recordingSender) contains(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

type scriptedCompleter struct {
	mu    sync.Mutex
	calls int
	reply func(call int, messages []ai.Message) (string, error)
}

func (c *scriptedCompleter) Complete(_ context.Context, messages []ai.Message, _ float32) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.reply == nil {
		return "Interesting.", nil
	}
	return c.reply(c.calls, messages)
}

type memoryStore struct {
	mu       sync.Mutex
	records  map[string]store.Record
	payments []store.Payment
	upserts  int
}

func (s *memoryStore) UpsertRecord(_ context.Context, r *store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = make(map[string]store.Record)
	}
	s.upserts++
	s.records[r.ParticipantID] = *r
	return nil
}

func (s *memoryStore) RecordPayment(_ context.Context, p store.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments = append(s.payments, p)
	return nil
}

type harness struct {
	machine   *Machine
	rpc       *chaintest.RPC
	completer *scriptedCompleter
	store     *memoryStore
	sender    *recordingSender
	clock     time.Time
}

func newHarness(t *testing.T, questions ...string) *harness {
	t.Helper()

	if len(questions) == 0 {
		questions = []string{"What do you build?", "Who is the team?"}
	}
	qs, err := catalog.FromTexts(questions)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	h := &harness{
		rpc:       chaintest.New(),
		completer: &scriptedCompleter{},
		store:     &memoryStore{},
		sender:    &recordingSender{},
		clock:     time.Unix(1000, 0),
	}

	gate, err := payment.NewGate(
		payment.Config{Treasury: treasuryWallet, RequiredAmount: required},
		chain.NewScanner(h.rpc, 20, nil),
		fakeAccounts{}, h.store, nil,
	)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}

	orchestrator, err := interview.NewOrchestrator(h.completer, qs, 0, 0, nil)
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	evaluator, err := interview.NewEvaluator(h.completer, h.store, 0, 0, nil)
	if err != nil {
		t.Fatalf("evaluator: %v", err)
	}

	m, err := NewMachine(Config{
		Terms:      Terms{Treasury: treasuryWallet, Amount: "1", Token: "PITCH"},
		InviteLink: "https://t.me/+invite",
	}, session.NewRegistry(), gate, orchestrator, evaluator, h.sender, nil)
	if err != nil {
		t.Fatalf("machine: %v", err)
	}
	m.now = func() time.Time { return h.clock }
	h.machine = m

	return h
}

func (h *harness) send(t *testing.T, kind EventKind, text string) error {
	t.Helper()
	return h.machine.Handle(context.Background(), Event{
		Kind:          kind,
		ParticipantID: participant,
		DisplayName:   "alice",
		Text:          text,
	})
}

func (h *harness) pay(sig string, at int64, amount uint64) {
	h.rpc.Add(chaintest.Tx{
		Signature: sig,
		Account:   treasuryAccount,
		BlockTime: chaintest.At(at),
		Transfers: []chain.Transfer{{Source: aliceAccount, Destination: treasuryAccount, Amount: amount}},
	})
}

func (h *harness) session(t *testing.T) *session.Session {
	t.Helper()
	s, ok := h.machine.Sessions().Get(participant)
	if !ok {
		t.Fatal("expected a live session")
	}
	return s
}

func TestPaymentScenarioEarlyAndLateTransfer(t *testing.T) {
	h := newHarness(t)
	h.pay("early", 999, required)
	h.pay("late", 1001, required)

	if err := h.send(t, EventPitch, "/pitch"); err != nil {
		t.Fatalf("pitch: %v", err)
	}
	if s := h.session(t); s.State() != session.StateAwaitingPayment {
		t.Fatalf("state = %s, want awaiting_payment", s.State())
	}

	if err := h.send(t, EventText, " alice "); err != nil {
		t.Fatalf("wallet: %v", err)
	}

	s := h.session(t)
	if s.State() != session.StateQuestion || !s.PaymentConfirmed() {
		t.Fatalf("state = %s confirmed=%v, want question/true", s.State(), s.PaymentConfirmed())
	}
	if s.PaymentSignature() != "late" {
		t.Fatalf("signature = %q, want late", s.PaymentSignature())
	}
	if h.sender.last() != "What do you build?" {
		t.Fatalf("last message = %q, want first question", h.sender.last())
	}
	if len(h.store.payments) != 1 || h.store.payments[0].Signature != "late" {
		t.Fatalf("payments = %+v", h.store.payments)
	}
}

func TestFullInterviewCallsCompletionNPlusOneTimes(t *testing.T) {
	questions := []string{"Q1?", "Q2?", "Q3?"}
	h := newHarness(t, questions...)
	h.completer.reply = func(call int, _ []ai.Message) (string, error) {
		if call == len(questions)+1 {
			return "Approved. Great team.", nil
		}
		return "Noted.", nil
	}
	h.pay("sig", 1000, required)

	_ = h.send(t, EventPitch, "")
	_ = h.send(t, EventText, aliceWallet)

	for i := range questions {
		if err := h.send(t, EventText, "answer"); err != nil {
			t.Fatalf("answer %d: %v", i+1, err)
		}
	}

	s := h.session(t)
	if s.State() != session.StateEvaluated {
		t.Fatalf("state = %s, want evaluated", s.State())
	}
	if h.completer.calls != len(questions)+1 {
		t.Fatalf("completion calls = %d, want %d", h.completer.calls, len(questions)+1)
	}
	if len(s.Answers()) != len(questions) {
		t.Fatalf("answers = %d", len(s.Answers()))
	}
	if h.store.upserts != 1 {
		t.Fatalf("record upserts = %d, want 1", h.store.upserts)
	}
	if rec := h.store.records[participant]; !rec.Approved || !rec.PaymentConfirmed {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !h.sender.contains("https://t.me/+invite") || !h.sender.contains("process your responses") {
		t.Fatalf("missing processing or approval message: %v", h.sender.messages)
	}

	// further input is not another answer
	if err := h.send(t, EventText, "one more"); err != nil {
		t.Fatalf("text after evaluation: %v", err)
	}
	if h.completer.calls != len(questions)+1 || h.sender.last() != msgAlreadyEvaluated {
		t.Fatalf("evaluated session accepted more input")
	}
}

func TestRejectedPitchSendsFeedback(t *testing.T) {
	h := newHarness(t, "Q1?")
	h.completer.reply = func(call int, _ []ai.Message) (string, error) {
		if call == 2 {
			return "Not Approved - weak traction", nil
		}
		return "Hm.", nil
	}
	h.pay("sig", 1500, required)

	_ = h.send(t, EventPitch, "")
	_ = h.send(t, EventText, aliceWallet)
	_ = h.send(t, EventText, "we have no users")

	if !strings.Contains(h.sender.last(), "Feedback:\nNot Approved - weak traction") {
		t.Fatalf("last message = %q", h.sender.last())
	}
	if rec := h.store.records[participant]; rec.Approved || !rec.Evaluated {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestInvalidWalletStaysInPlace(t *testing.T) {
	h := newHarness(t)
	_ = h.send(t, EventPitch, "")

	err := h.send(t, EventText, "not a wallet")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	s := h.session(t)
	if s.State() != session.StateAwaitingWallet || s.WalletAddress() != "" {
		t.Fatalf("state = %s wallet = %q", s.State(), s.WalletAddress())
	}
	if h.rpc.ListCalls != 0 {
		t.Fatal("invalid wallet must not trigger a scan")
	}
	if !strings.Contains(h.sender.last(), "valid wallet address") {
		t.Fatalf("last message = %q", h.sender.last())
	}

	_ = h.send(t, EventText, aliceWallet)
	if s.WalletAddress() != aliceWallet || s.State() != session.StateAwaitingPayment {
		t.Fatalf("state = %s wallet = %q", s.State(), s.WalletAddress())
	}
}

func TestCheckPaymentRetriesUntilConfirmed(t *testing.T) {
	h := newHarness(t)
	_ = h.send(t, EventPitch, "")

	if err := h.send(t, EventCheckPayment, ""); err != nil {
		t.Fatalf("check without wallet: %v", err)
	}
	if h.sender.last() != msgAskWallet || h.session(t).State() != session.StateAwaitingWallet {
		t.Fatalf("expected wallet prompt, got %q", h.sender.last())
	}

	_ = h.send(t, EventText, aliceWallet)
	if !strings.Contains(h.sender.last(), "not yet received") {
		t.Fatalf("last message = %q", h.sender.last())
	}

	h.pay("sig", 1200, required-1)
	_ = h.send(t, EventCheckPayment, "")
	if h.session(t).PaymentConfirmed() {
		t.Fatal("underpayment confirmed")
	}

	h.pay("sig2", 1300, required)
	// text while a wallet is stored re-runs the check and is otherwise ignored
	_ = h.send(t, EventText, "did it arrive?")
	s := h.session(t)
	if !s.PaymentConfirmed() || s.WalletAddress() != aliceWallet {
		t.Fatalf("confirmed=%v wallet=%q", s.PaymentConfirmed(), s.WalletAddress())
	}

	scans := h.rpc.ListCalls
	_ = h.send(t, EventCheckPayment, "")
	if h.rpc.ListCalls != scans {
		t.Fatal("duplicate check should not scan again")
	}
	if len(h.store.payments) != 1 || len(s.Answers()) != 0 {
		t.Fatalf("duplicate check changed state: payments=%d answers=%d", len(h.store.payments), len(s.Answers()))
	}
}

func TestTransferInPitchSecondIsAccepted(t *testing.T) {
	h := newHarness(t)
	h.clock = time.Unix(1000, 500_000_000)
	h.pay("same-second", 1000, required)

	_ = h.send(t, EventPitch, "")
	if err := h.send(t, EventText, aliceWallet); err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if s := h.session(t); !s.PaymentConfirmed() || s.PaymentSignature() != "same-second" {
		t.Fatalf("confirmed=%v signature=%q", s.PaymentConfirmed(), s.PaymentSignature())
	}
}

func TestWalletCanBeReplacedBeforeConfirmation(t *testing.T) {
	h := newHarness(t)
	_ = h.send(t, EventPitch, "")

	if err := h.send(t, EventText, "bob"); err != nil {
		t.Fatalf("wrong wallet: %v", err)
	}
	if !strings.Contains(h.sender.last(), "not yet received") {
		t.Fatalf("last message = %q", h.sender.last())
	}

	h.pay("sig", 1001, required)
	// same address again only re-checks
	_ = h.send(t, EventText, "bob")
	s := h.session(t)
	if s.PaymentConfirmed() || s.WalletAddress() != "bob" {
		t.Fatalf("confirmed=%v wallet=%q", s.PaymentConfirmed(), s.WalletAddress())
	}

	if err := h.send(t, EventText, " alice "); err != nil {
		t.Fatalf("replacement wallet: %v", err)
	}
	if s.WalletAddress() != aliceWallet || !s.PaymentConfirmed() || s.State() != session.StateQuestion {
		t.Fatalf("wallet=%q confirmed=%v state=%s", s.WalletAddress(), s.PaymentConfirmed(), s.State())
	}
	if !s.PitchStartTime.Equal(time.Unix(1000, 0)) {
		t.Fatalf("pitch start moved to %v", s.PitchStartTime)
	}
	if h.sender.last() != "What do you build?" {
		t.Fatalf("last message = %q", h.sender.last())
	}
}

func TestVerificationErrorKeepsState(t *testing.T) {
	h := newHarness(t)
	h.rpc.ListErr = errors.New("rpc down")

	_ = h.send(t, EventPitch, "")
	err := h.send(t, EventText, aliceWallet)
	if !errors.Is(err, ErrTransient) || !errors.Is(err, payment.ErrVerification) {
		t.Fatalf("expected transient verification error, got %v", err)
	}

	s := h.session(t)
	if s.State() != session.StateAwaitingPayment || s.PaymentConfirmed() {
		t.Fatalf("state = %s", s.State())
	}
	if h.sender.last() != msgCheckFailed {
		t.Fatalf("last message = %q", h.sender.last())
	}

	h.rpc.ListErr = nil
	h.pay("sig", 1000, required)
	if err := h.send(t, EventCheckPayment, ""); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !s.PaymentConfirmed() {
		t.Fatal("retry should confirm")
	}
}

func TestRestartDiscardsAnswersAndResetsPayment(t *testing.T) {
	h := newHarness(t)
	h.pay("sig", 1001, required)

	_ = h.send(t, EventPitch, "")
	_ = h.send(t, EventText, aliceWallet)
	_ = h.send(t, EventText, "first answer")

	old := h.session(t)
	if len(old.Answers()) != 1 {
		t.Fatalf("answers = %d", len(old.Answers()))
	}

	h.clock = time.Unix(2000, 0)
	_ = h.send(t, EventPitch, "")

	s := h.session(t)
	if s.ID == old.ID {
		t.Fatal("restart should create a new session")
	}
	if old.State() != session.StateCancelled {
		t.Fatalf("superseded session state = %s", old.State())
	}
	if s.PaymentConfirmed() || len(s.Answers()) != 0 || !s.PitchStartTime.Equal(time.Unix(2000, 0)) {
		t.Fatalf("restart kept state: %+v", s.Snapshot())
	}

	_ = h.send(t, EventText, aliceWallet)
	if s.PaymentConfirmed() {
		t.Fatal("payment made before the restart must not count")
	}
}

func TestCancelLeavesRecordUntouched(t *testing.T) {
	h := newHarness(t)
	h.pay("sig", 1000, required)
	h.store.records = map[string]store.Record{
		participant: {ParticipantID: participant, Evaluated: true, Evaluation: "previous"},
	}

	_ = h.send(t, EventPitch, "")
	_ = h.send(t, EventText, aliceWallet)
	_ = h.send(t, EventText, "first answer")

	if err := h.send(t, EventCancel, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, ok := h.machine.Sessions().Get(participant); ok {
		t.Fatal("cancelled session should be discarded")
	}
	if h.sender.last() != msgCancelled {
		t.Fatalf("last message = %q", h.sender.last())
	}
	if h.store.upserts != 0 || h.store.records[participant].Evaluation != "previous" {
		t.Fatalf("record changed: %+v", h.store.records[participant])
	}

	_ = h.send(t, EventCancel, "")
	if h.sender.last() != msgNoSession {
		t.Fatalf("second cancel: %q", h.sender.last())
	}
}

func TestCompletionFailureCancelsSession(t *testing.T) {
	tests := []struct {
		name  string
		reply func(int, []ai.Message) (string, error)
		want  error
	}{
		{
			name:  "service error",
			reply: func(int, []ai.Message) (string, error) { return "", errors.New("503") },
			want:  ErrTransient,
		},
		{
			name:  "empty reply",
			reply: func(int, []ai.Message) (string, error) { return "   ", nil },
			want:  ErrProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.completer.reply = tt.reply
			h.pay("sig", 1000, required)

			_ = h.send(t, EventPitch, "")
			_ = h.send(t, EventText, aliceWallet)
			s := h.session(t)

			err := h.send(t, EventText, "answer")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if s.State() != session.StateCancelled {
				t.Fatalf("state = %s, want cancelled", s.State())
			}
			if _, ok := h.machine.Sessions().Get(participant); ok {
				t.Fatal("failed session should be discarded")
			}
			if h.sender.last() != msgQuestionFailed {
				t.Fatalf("last message = %q", h.sender.last())
			}
		})
	}
}

func TestEvaluationFailureCancelsSession(t *testing.T) {
	h := newHarness(t, "Q1?")
	h.completer.reply = func(call int, _ []ai.Message) (string, error) {
		if call == 2 {
			return "", errors.New("timeout")
		}
		return "ok", nil
	}
	h.pay("sig", 1000, required)

	_ = h.send(t, EventPitch, "")
	_ = h.send(t, EventText, aliceWallet)
	s := h.session(t)

	if err := h.send(t, EventText, "answer"); !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if s.State() != session.StateCancelled || s.Evaluation() != nil {
		t.Fatalf("state = %s", s.State())
	}
	if h.store.upserts != 0 {
		t.Fatal("failed evaluation must not write a record")
	}
	if h.sender.last() != msgEvaluationFailed {
		t.Fatalf("last message = %q", h.sender.last())
	}
}

func TestEmptyAnswerRepeatsQuestion(t *testing.T) {
	h := newHarness(t)
	h.pay("sig", 1000, required)
	_ = h.send(t, EventPitch, "")
	_ = h.send(t, EventText, aliceWallet)
	h.sender.reset()

	if err := h.send(t, EventText, "  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if h.completer.calls != 0 || h.session(t).State() != session.StateQuestion {
		t.Fatal("empty answer should leave the session in place")
	}
	if h.sender.last() != "What do you build?" {
		t.Fatalf("last message = %q", h.sender.last())
	}
}

func TestEventsWithoutSession(t *testing.T) {
	h := newHarness(t)

	for _, kind := range []EventKind{EventText, EventCheckPayment, EventCancel} {
		if err := h.send(t, kind, "hello"); err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if h.sender.last() != msgNoSession {
			t.Fatalf("%s: last message = %q", kind, h.sender.last())
		}
	}

	_ = h.send(t, EventStart, "")
	if h.sender.last() != msgWelcome {
		t.Fatal("missing welcome message")
	}
	_ = h.send(t, EventHelp, "")
	if !strings.Contains(h.sender.last(), "/paid") {
		t.Fatal("help should list /paid")
	}
}

func TestOperatorCheckPayment(t *testing.T) {
	h := newHarness(t)

	if _, err := h.machine.CheckPayment(context.Background(), participant); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}

	_ = h.send(t, EventPitch, "")
	_ = h.send(t, EventText, aliceWallet)
	h.pay("sig", 1000, required)

	snap, err := h.machine.CheckPayment(context.Background(), participant)
	if err != nil {
		t.Fatalf("CheckPayment: %v", err)
	}
	if !snap.PaymentConfirmed || snap.State != session.StateQuestion.String() {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if h.sender.last() != "What do you build?" {
		t.Fatalf("participant should get the first question, got %q", h.sender.last())
	}
}

func TestSendFailureIsTransient(t *testing.T) {
	h := newHarness(t)
	h.sender.err = errors.New("blocked by user")

	if err := h.send(t, EventStart, ""); !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
}
