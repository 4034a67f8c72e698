package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/pitch-analyst/internal/interview"
	"github.com/spigell/pitch-analyst/internal/logger"
	"github.com/spigell/pitch-analyst/internal/payment"
	"github.com/spigell/pitch-analyst/internal/session"
)

// Config holds the participant-facing settings of the machine.
type Config struct {
	Terms      Terms
	InviteLink string
}

// Machine is the session state machine. Calls for one participant must be
// serialized by the caller; Dispatcher does that.
type Machine struct {
	sessions  *session.Registry
	gate      PaymentGate
	interview Interviewer
	evaluator Evaluator
	sender    Sender
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

func NewMachine(cfg Config, sessions *session.Registry, gate PaymentGate, interviewer Interviewer, evaluator Evaluator, sender Sender, log *zap.Logger) (*Machine, error) {
	switch {
	case sessions == nil:
		return nil, errors.New("session registry is required")
	case gate == nil:
		return nil, errors.New("payment gate is required")
	case interviewer == nil:
		return nil, errors.New("interviewer is required")
	case evaluator == nil:
		return nil, errors.New("evaluator is required")
	case sender == nil:
		return nil, errors.New("sender is required")
	}

	return &Machine{
		sessions:  sessions,
		gate:      gate,
		interview: interviewer,
		evaluator: evaluator,
		sender:    sender,
		cfg:       cfg,
		logger:    logger.WithFields(log),
		now:       time.Now,
	}, nil
}

// Sessions exposes the live session registry.
func (m *Machine) Sessions() *session.Registry { return m.sessions }

// Handle applies one event. Every failure has already been reported to the
// participant when Handle returns; the returned error is for logging.
func (m *Machine) Handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventStart:
		return m.reply(ctx, ev.ParticipantID, msgWelcome)
	case EventHelp:
		return m.reply(ctx, ev.ParticipantID, msgHelp)
	case EventPitch:
		return m.startPitch(ctx, ev)
	case EventCancel:
		return m.cancel(ctx, ev.ParticipantID)
	case EventCheckPayment:
		return m.checkPayment(ctx, ev.ParticipantID)
	case EventText:
		return m.text(ctx, ev)
	default:
		return fmt.Errorf("unknown event kind %d", ev.Kind)
	}
}

// CheckPayment runs an operator-triggered payment check and returns the
// resulting session state. The participant is notified as if they typed /paid.
func (m *Machine) CheckPayment(ctx context.Context, participantID string) (session.Snapshot, error) {
	s, ok := m.sessions.Get(participantID)
	if !ok || s.State().Terminal() {
		return session.Snapshot{}, ErrNoSession
	}

	err := m.checkPayment(ctx, participantID)
	return s.Snapshot(), err
}

func (m *Machine) startPitch(ctx context.Context, ev Event) error {
	s, previous := m.sessions.Start(ev.ParticipantID, ev.DisplayName, m.now())
	log := logger.WithSession(m.logger, s.ParticipantID, s.ID)

	if previous != nil {
		previous.Cancel()
		log.Info("previous session superseded",
			zap.String("previous_session_id", previous.ID),
			zap.Int("previous_answers", len(previous.Answers())),
		)
	}

	log.Info("session started", zap.Time("pitch_start_time", s.PitchStartTime))
	return m.reply(ctx, ev.ParticipantID, paymentInstructions(m.cfg.Terms))
}

func (m *Machine) cancel(ctx context.Context, participantID string) error {
	s, ok := m.sessions.Get(participantID)
	if !ok || s.State().Terminal() {
		return m.reply(ctx, participantID, msgNoSession)
	}

	m.abort(s)
	logger.WithSession(m.logger, participantID, s.ID).Info("session cancelled by participant")
	return m.reply(ctx, participantID, msgCancelled)
}

func (m *Machine) checkPayment(ctx context.Context, participantID string) error {
	s, notice := m.current(participantID)
	if s == nil {
		return m.reply(ctx, participantID, notice)
	}

	switch s.State() {
	case session.StateQuestion:
		return m.reply(ctx, participantID, msgAlreadyPaid, m.questionText(s))
	default:
		if s.WalletAddress() == "" {
			s.MarkAwaitingWallet()
			return m.reply(ctx, participantID, msgAskWallet)
		}
		return m.verify(ctx, s)
	}
}

func (m *Machine) text(ctx context.Context, ev Event) error {
	s, notice := m.current(ev.ParticipantID)
	if s == nil {
		return m.reply(ctx, ev.ParticipantID, notice)
	}

	switch s.State() {
	case session.StateAwaitingPayment:
		if stored := s.WalletAddress(); stored != "" {
			// a different valid address replaces the stored one, anything else re-checks
			address := strings.TrimSpace(ev.Text)
			if address == stored || m.gate.ValidateWallet(address) != nil {
				return m.verify(ctx, s)
			}
		}
		s.MarkAwaitingWallet()
		return m.acceptWallet(ctx, s, ev.Text)
	case session.StateAwaitingWallet:
		return m.acceptWallet(ctx, s, ev.Text)
	case session.StateQuestion:
		return m.answer(ctx, s, ev.Text)
	default:
		return m.reply(ctx, ev.ParticipantID, msgNoSession)
	}
}

// current returns the live session or the notice explaining why there is none.
func (m *Machine) current(participantID string) (*session.Session, string) {
	s, ok := m.sessions.Get(participantID)
	switch {
	case !ok:
		return nil, msgNoSession
	case s.State() == session.StateEvaluated:
		return nil, msgAlreadyEvaluated
	case s.State().Terminal():
		return nil, msgNoSession
	}
	return s, ""
}

func (m *Machine) acceptWallet(ctx context.Context, s *session.Session, text string) error {
	address := strings.TrimSpace(text)
	log := logger.WithSession(m.logger, s.ParticipantID, s.ID)

	if err := m.gate.ValidateWallet(address); err != nil {
		log.Info("invalid wallet address", zap.Error(err))
		return errors.Join(
			fmt.Errorf("%w: %w", ErrValidation, err),
			m.reply(ctx, s.ParticipantID, invalidWallet(err)),
		)
	}

	if err := s.SetWallet(address); err != nil {
		return errors.Join(
			fmt.Errorf("%w: %w", ErrValidation, err),
			m.reply(ctx, s.ParticipantID, msgWalletLocked),
		)
	}

	s.MarkAwaitingPayment()
	log.Info("wallet address stored", zap.String("wallet", address))
	return m.verify(ctx, s)
}

func (m *Machine) verify(ctx context.Context, s *session.Session) error {
	log := logger.WithSession(m.logger, s.ParticipantID, s.ID)

	res, err := m.gate.Verify(ctx, s)
	switch {
	case errors.Is(err, payment.ErrWalletMissing):
		s.MarkAwaitingWallet()
		return m.reply(ctx, s.ParticipantID, msgAskWallet)
	case errors.Is(err, payment.ErrPersistence):
		return errors.Join(err, m.reply(ctx, s.ParticipantID, msgStoreFailed, msgPaymentConfirmed, m.questionText(s)))
	case err != nil:
		log.Warn("payment check failed", zap.Error(err))
		return errors.Join(
			fmt.Errorf("%w: %w", ErrTransient, err),
			m.reply(ctx, s.ParticipantID, msgCheckFailed),
		)
	case res.Outcome != payment.Confirmed:
		return m.reply(ctx, s.ParticipantID, paymentPending(m.cfg.Terms))
	}

	log.Info("questions unlocked", zap.String(logger.FieldState, s.State().String()))
	return m.reply(ctx, s.ParticipantID, msgPaymentConfirmed, m.questionText(s))
}

func (m *Machine) answer(ctx context.Context, s *session.Session, text string) error {
	log := logger.WithSession(m.logger, s.ParticipantID, s.ID)
	number := s.QuestionNumber()

	reply, err := m.interview.Advance(ctx, s, text)
	switch {
	case errors.Is(err, interview.ErrEmptyAnswer):
		return errors.Join(
			fmt.Errorf("%w: %w", ErrValidation, err),
			m.reply(ctx, s.ParticipantID, msgEmptyAnswer, m.questionText(s)),
		)
	case err != nil:
		log.Error("answer processing failed, cancelling session", zap.Int("question", number), zap.Error(err))
		m.abort(s)
		return errors.Join(
			fmt.Errorf("%w: %w", classify(err), err),
			m.reply(ctx, s.ParticipantID, msgQuestionFailed),
		)
	}

	log.Info("answer recorded", zap.Int("question", number))

	if next, ok := m.interview.Catalog().At(s.QuestionNumber()); ok {
		return m.reply(ctx, s.ParticipantID, reply, next.Text)
	}

	sendErr := m.reply(ctx, s.ParticipantID, reply, msgProcessing)
	return errors.Join(sendErr, m.evaluate(ctx, s))
}

func (m *Machine) evaluate(ctx context.Context, s *session.Session) error {
	log := logger.WithSession(m.logger, s.ParticipantID, s.ID)

	result, err := m.evaluator.Evaluate(ctx, s)
	switch {
	case errors.Is(err, interview.ErrPersistence):
		return errors.Join(err, m.reply(ctx, s.ParticipantID, m.decisionText(result), msgStoreFailed))
	case err != nil:
		log.Error("evaluation failed, cancelling session", zap.Error(err))
		m.abort(s)
		return errors.Join(
			fmt.Errorf("%w: %w", classify(err), err),
			m.reply(ctx, s.ParticipantID, msgEvaluationFailed),
		)
	}

	return m.reply(ctx, s.ParticipantID, m.decisionText(result))
}

func (m *Machine) decisionText(e session.Evaluation) string {
	if e.Approved {
		return approvedMessage(m.cfg.InviteLink)
	}
	return rejectedMessage(e.Rationale)
}

// abort cancels the session and drops it from the registry.
func (m *Machine) abort(s *session.Session) {
	s.Cancel()
	m.sessions.Remove(s.ParticipantID, s.ID)
}

func (m *Machine) questionText(s *session.Session) string {
	q, ok := m.interview.Catalog().At(s.QuestionNumber())
	if !ok {
		return msgProcessing
	}
	return q.Text
}

// reply sends texts in order and stops at the first delivery failure.
func (m *Machine) reply(ctx context.Context, participantID string, texts ...string) error {
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		if err := m.sender.Send(ctx, participantID, text); err != nil {
			return fmt.Errorf("%w: send message: %w", ErrTransient, err)
		}
	}
	return nil
}
