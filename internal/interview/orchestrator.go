package interview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spigell/pitch-analyst/internal/ai"
	"github.com/spigell/pitch-analyst/internal/catalog"
	"github.com/spigell/pitch-analyst/internal/session"
	"github.com/spigell/pitch-analyst/internal/utils"
)

// Orchestrator answers every participant reply with one model turn.
type Orchestrator struct {
	completer   ai.Completer
	catalog     *catalog.Catalog
	temperature float32
	maxLogLen   int
	logger      *zap.Logger
}

func NewOrchestrator(completer ai.Completer, questions *catalog.Catalog, temperature float32, maxLogLength int, logger *zap.Logger) (*Orchestrator, error) {
	if completer == nil {
		return nil, errors.New("completer is required")
	}
	if questions == nil || questions.Len() == 0 {
		return nil, errors.New("question catalog is required")
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

	return &Orchestrator{
		completer:   completer,
		catalog:     questions,
		temperature: temperature,
		maxLogLen:   maxLogLength,
		logger:      logger,
	}, nil
}

// Catalog returns the question catalog the orchestrator walks.
func (o *Orchestrator) Catalog() *catalog.Catalog { return o.catalog }

// Advance records answer as the reply to the current question, asks the model
// for a reaction and appends it to the transcript.
func (o *Orchestrator) Advance(ctx context.Context, s *session.Session, answer string) (string, error) {
	if strings.TrimSpace(answer) == "" {
		return "", ErrEmptyAnswer
	}

	number := s.QuestionNumber()
	question, ok := o.catalog.At(number)
	if !ok {
		return "", session.ErrQuestionsComplete
	}

	if err := s.RecordAnswer(question.Text, answer, o.catalog.Len()); err != nil {
		return "", err
	}

	messages := conversation(interviewPrompt, s.Transcript())

	o.logger.Debug("interview completion request",
		zap.String("session_id", s.ID),
		zap.Int("question", number),
		zap.Int("messages", len(messages)),
		zap.Int("prompt_length", promptLength(messages)),
		zap.String("answer_preview", utils.TruncateForLog(answer, o.maxLogLen)),
	)

	reply, err := o.completer.Complete(ctx, messages, o.temperature)
	if err != nil {
		return "", fmt.Errorf("interview completion for question %d: %w", number, err)
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("question %d: %w", number, ErrEmptyReply)
	}

	o.logger.Debug("interview completion response",
		zap.String("session_id", s.ID),
		zap.Int("question", number),
		zap.Int("response_length", utf8.RuneCountInString(reply)),
		zap.String("response_preview", utils.TruncateForLog(reply, o.maxLogLen)),
	)

	s.RecordReply(reply)
	return reply, nil
}
