// Package session models the per-participant interview state.
//
// A Session is mutated only by the goroutine serving its participant. Mutators
// take the session lock so that Snapshot can be called from anywhere.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a node of the interview state machine.
type State int

const (
	StateIdle State = iota
	StateAwaitingPayment
	StateAwaitingWallet
	StateQuestion
	StateEvaluated
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingPayment:
		return "awaiting_payment"
	case StateAwaitingWallet:
		return "awaiting_wallet_address"
	case StateQuestion:
		return "question"
	case StateEvaluated:
		return "evaluated"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are accepted.
func (s State) Terminal() bool {
	return s == StateEvaluated || s == StateCancelled
}

// Source tags a transcript turn.
type Source string

const (
	SourceQuestion Source = "question"
	SourceAnswer   Source = "answer"
	SourceModel    Source = "model"
)

// Turn is one transcript entry.
type Turn struct {
	Source Source `json:"source" yaml:"source"`
	Text   string `json:"text" yaml:"text"`
}

// Evaluation is the final decision rendered for a session.
type Evaluation struct {
	Approved  bool   `json:"approved" yaml:"approved"`
	Rationale string `json:"rationale" yaml:"rationale"`
}

var (
	ErrWalletLocked      = errors.New("wallet address is locked after payment confirmation")
	ErrAlreadyEvaluated  = errors.New("session is already evaluated")
	ErrPaymentRequired   = errors.New("payment must be confirmed before questions")
	ErrTerminalSession   = errors.New("session is in a terminal state")
	ErrQuestionsComplete = errors.New("all questions are already answered")
)

// Session is the mutable record of one interview attempt.
type Session struct {
	mu sync.Mutex

	ID             string
	ParticipantID  string
	DisplayName    string
	PitchStartTime time.Time

	state            State
	walletAddress    string
	paymentConfirmed bool
	paymentSignature string
	answers          []string
	transcript       []Turn
	evaluation       *Evaluation
}

// New creates a session awaiting payment with its start time fixed at now,
// truncated to whole seconds to match on-chain block times.
func New(participantID, displayName string, now time.Time) *Session {
	return &Session{
		ID:             uuid.NewString(),
		ParticipantID:  participantID,
		DisplayName:    displayName,
		PitchStartTime: now.Truncate(time.Second),
		state:          StateAwaitingPayment,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) WalletAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.walletAddress
}

func (s *Session) PaymentConfirmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paymentConfirmed
}

func (s *Session) PaymentSignature() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paymentSignature
}

// Answers returns a copy of the recorded answers.
func (s *Session) Answers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.answers...)
}

// Transcript returns a copy of the transcript.
func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.transcript...)
}

func (s *Session) Evaluation() *Evaluation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evaluation == nil {
		return nil
	}
	e := *s.evaluation
	return &e
}

// QuestionNumber is the 1-based number of the question currently awaiting an answer.
func (s *Session) QuestionNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers) + 1
}

// SetWallet stores the participant's sender address. Once the payment is
// confirmed the address can no longer change.
func (s *Session) SetWallet(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paymentConfirmed && s.walletAddress != address {
		return ErrWalletLocked
	}
	s.walletAddress = address
	return nil
}

// MarkAwaitingWallet moves a payment-pending session to wallet collection.
func (s *Session) MarkAwaitingWallet() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAwaitingPayment {
		s.state = StateAwaitingWallet
	}
}

// MarkAwaitingPayment returns a session with a stored wallet to payment polling.
func (s *Session) MarkAwaitingPayment() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAwaitingWallet {
		s.state = StateAwaitingPayment
	}
}

// ConfirmPayment flips the payment flag false->true and enters the first
// question. It reports whether the flag changed.
func (s *Session) ConfirmPayment(signature string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paymentConfirmed {
		return false
	}

	s.paymentConfirmed = true
	s.paymentSignature = signature
	if !s.state.Terminal() {
		s.state = StateQuestion
	}
	return true
}

// RecordAnswer appends the question/answer pair for the current question.
func (s *Session) RecordAnswer(question, answer string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return ErrTerminalSession
	}
	if !s.paymentConfirmed || s.state != StateQuestion {
		return ErrPaymentRequired
	}
	if len(s.answers) >= total {
		return ErrQuestionsComplete
	}

	s.answers = append(s.answers, answer)
	s.transcript = append(s.transcript,
		Turn{Source: SourceQuestion, Text: question},
		Turn{Source: SourceAnswer, Text: answer},
	)
	return nil
}

// RecordReply appends a model turn.
func (s *Session) RecordReply(reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, Turn{Source: SourceModel, Text: reply})
}

// Evaluate stores the decision and makes the session terminal. It can happen once.
func (s *Session) Evaluate(e Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.evaluation != nil {
		return ErrAlreadyEvaluated
	}
	if s.state.Terminal() {
		return ErrTerminalSession
	}

	s.evaluation = &e
	s.state = StateEvaluated
	return nil
}

// Cancel makes the session terminal without an evaluation.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Terminal() {
		s.state = StateCancelled
	}
}

// Snapshot is a point-in-time copy suitable for logging and the operator API.
type Snapshot struct {
	ID               string      `json:"id"`
	ParticipantID    string      `json:"participant_id"`
	DisplayName      string      `json:"display_name"`
	State            string      `json:"state"`
	Question         int         `json:"question,omitempty"`
	PitchStartTime   time.Time   `json:"pitch_start_time"`
	WalletAddress    string      `json:"wallet_address,omitempty"`
	PaymentConfirmed bool        `json:"payment_confirmed"`
	PaymentSignature string      `json:"payment_signature,omitempty"`
	Answers          int         `json:"answers"`
	Transcript       []Turn      `json:"transcript"`
	Evaluation       *Evaluation `json:"evaluation,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:               s.ID,
		ParticipantID:    s.ParticipantID,
		DisplayName:      s.DisplayName,
		State:            s.state.String(),
		PitchStartTime:   s.PitchStartTime,
		WalletAddress:    s.walletAddress,
		PaymentConfirmed: s.paymentConfirmed,
		PaymentSignature: s.paymentSignature,
		Answers:          len(s.answers),
		Transcript:       append([]Turn(nil), s.transcript...),
	}
	if s.state == StateQuestion {
		snap.Question = len(s.answers) + 1
	}
	if s.evaluation != nil {
		e := *s.evaluation
		snap.Evaluation = &e
	}
	return snap
}
