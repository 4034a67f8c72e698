// Package bot drives the pitch conversation: it turns chat events into
// session transitions, payment checks and model calls, and serializes all
// work for a participant.
package bot

import (
	"context"
	"errors"

	"github.com/spigell/pitch-analyst/internal/catalog"
	"github.com/spigell/pitch-analyst/internal/interview"
	"github.com/spigell/pitch-analyst/internal/payment"
	"github.com/spigell/pitch-analyst/internal/session"
)

var (
	// ErrTransient marks outages of the chain RPC, the completion service or the gateway.
	// Retrying the same action may succeed.
	ErrTransient = errors.New("transient external failure")
	// ErrValidation marks input the participant has to correct.
	ErrValidation = errors.New("validation failure")
	// ErrProtocol marks unusable model output. The session is cancelled.
	ErrProtocol = errors.New("protocol violation")
	// ErrNoSession is returned when a participant has no live session.
	ErrNoSession = errors.New("no active session")
)

// EventKind enumerates inbound chat events.
type EventKind int

const (
	EventStart EventKind = iota
	EventHelp
	EventPitch
	EventText
	EventCheckPayment
	EventCancel
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventHelp:
		return "help"
	case EventPitch:
		return "pitch"
	case EventText:
		return "text"
	case EventCheckPayment:
		return "check_payment"
	case EventCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Event is one inbound message from a participant.
type Event struct {
	Kind          EventKind
	ParticipantID string
	DisplayName   string
	Text          string
}

// Sender delivers outbound text to a participant.
type Sender interface {
	Send(ctx context.Context, participantID, text string) error
}

// Handler processes a single event.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// PaymentGate verifies session payments.
type PaymentGate interface {
	ValidateWallet(address string) error
	Verify(ctx context.Context, s *session.Session) (payment.Result, error)
}

// Interviewer advances a paid session by one answer.
type Interviewer interface {
	Advance(ctx context.Context, s *session.Session, answer string) (string, error)
	Catalog() *catalog.Catalog
}

// Evaluator renders the final decision.
type Evaluator interface {
	Evaluate(ctx context.Context, s *session.Session) (session.Evaluation, error)
}

// classify maps a component error to the participant-facing taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, interview.ErrEmptyReply):
		return ErrProtocol
	case errors.Is(err, interview.ErrEmptyAnswer),
		errors.Is(err, interview.ErrEmptyTranscript),
		errors.Is(err, session.ErrWalletLocked):
		return ErrValidation
	default:
		return ErrTransient
	}
}
