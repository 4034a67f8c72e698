// Package interview runs the model side of a pitch: a reply to every answer
// and a single final decision over the whole transcript.
package interview

import (
	_ "embed"
	"errors"
	"strings"

	"github.com/spigell/pitch-analyst/internal/ai"
	"github.com/spigell/pitch-analyst/internal/session"
)

// DefaultTemperature is the sampling temperature used for every completion.
const DefaultTemperature float32 = 0.7

const defaultMaxLogLength = 200

var (
	// ErrEmptyReply marks a completion that returned no usable text.
	ErrEmptyReply = errors.New("completion service returned an empty reply")
	// ErrEmptyTranscript is returned when there is nothing to evaluate.
	ErrEmptyTranscript = errors.New("transcript is empty")
	// ErrEmptyAnswer is returned for blank participant answers.
	ErrEmptyAnswer = errors.New("answer is empty")
	// ErrPersistence wraps record store failures after a decision was made.
	ErrPersistence = errors.New("storing pitch record failed")
)

//go:embed prompts/interview.md
var interviewPrompt string

//go:embed prompts/evaluation.md
var evaluationPrompt string

// conversation replays the transcript after the system instruction. Model
// turns keep the model role, questions and answers are both user turns.
func conversation(instruction string, turns []session.Turn) []ai.Message {
	messages := make([]ai.Message, 0, len(turns)+1)
	messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: strings.TrimSpace(instruction)})

	for _, turn := range turns {
		role := ai.RoleUser
		if turn.Source == session.SourceModel {
			role = ai.RoleModel
		}
		messages = append(messages, ai.Message{Role: role, Content: turn.Text})
	}

	return messages
}

func promptLength(messages []ai.Message) int {
	n := 0
	for _, m := range messages {
		n += len([]rune(m.Content))
	}
	return n
}
