package interview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spigell/pitch-analyst/internal/ai"
	"github.com/spigell/pitch-analyst/internal/session"
	"github.com/spigell/pitch-analyst/internal/store"
	"github.com/spigell/pitch-analyst/internal/utils"
)

const (
	approvedToken    = "Approved"
	notApprovedToken = "Not Approved"
)

// RecordWriter persists evaluated pitches.
type RecordWriter interface {
	UpsertRecord(ctx context.Context, record *store.Record) error
}

// Evaluator renders the final decision of an interview.
type Evaluator struct {
	completer   ai.Completer
	records     RecordWriter
	temperature float32
	maxLogLen   int
	logger      *zap.Logger
	now         func() time.Time
}

func NewEvaluator(completer ai.Completer, records RecordWriter, temperature float32, maxLogLength int, logger *zap.Logger) (*Evaluator, error) {
	if completer == nil {
		return nil, errors.New("completer is required")
	}
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Evaluator{
		completer:   completer,
		records:     records,
		temperature: temperature,
		maxLogLen:   maxLogLength,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// ParseDecision approves only when the reply says "Approved" and never says "Not Approved".
// Replies with both phrases or neither are rejections.
func ParseDecision(reply string) bool {
	return strings.Contains(reply, approvedToken) && !strings.Contains(reply, notApprovedToken)
}

// Evaluate asks the model for a verdict over the full transcript, stores it in
// the session and overwrites the participant's durable record. When only the
// write fails, the decision is returned together with an ErrPersistence error.
func (e *Evaluator) Evaluate(ctx context.Context, s *session.Session) (session.Evaluation, error) {
	turns := s.Transcript()
	if len(turns) == 0 {
		return session.Evaluation{}, ErrEmptyTranscript
	}

	messages := conversation(evaluationPrompt, turns)

	e.logger.Debug("evaluation completion request",
		zap.String("session_id", s.ID),
		zap.Int("messages", len(messages)),
		zap.Int("prompt_length", promptLength(messages)),
	)

	reply, err := e.completer.Complete(ctx, messages, e.temperature)
	if err != nil {
		return session.Evaluation{}, fmt.Errorf("evaluation completion: %w", err)
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return session.Evaluation{}, fmt.Errorf("evaluation: %w", ErrEmptyReply)
	}

	result := session.Evaluation{
		Approved:  ParseDecision(reply),
		Rationale: reply,
	}

	e.logger.Info("pitch evaluated",
		zap.String("participant_id", s.ParticipantID),
		zap.String("session_id", s.ID),
		zap.Bool("approved", result.Approved),
		zap.Int("response_length", utf8.RuneCountInString(reply)),
		zap.String("response_preview", utils.TruncateForLog(reply, e.maxLogLen)),
	)

	if err := s.Evaluate(result); err != nil {
		return session.Evaluation{}, err
	}

	if e.records == nil {
		return result, nil
	}

	if err := e.records.UpsertRecord(ctx, store.RecordFromSession(s, e.now())); err != nil {
		e.logger.Error("storing pitch record",
			zap.String("participant_id", s.ParticipantID),
			zap.Error(err),
		)
		return result, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	return result, nil
}
