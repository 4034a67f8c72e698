// Package ai defines the completion contract shared by all model providers.
package ai

import "context"

// Role tags a message sent to a completion backend.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
	RoleModel  Role = "model"
)

// Message is one role-tagged prompt entry.
type Message struct {
	Role    Role
	Content string
}

// Completer turns a full conversation into a single reply. Implementations
// are stateless: callers resend the whole history every time.
type Completer interface {
	Complete(ctx context.Context, messages []Message, temperature float32) (string, error)
}

// Describer is implemented by completers that can name their backend for logs.
type Describer interface {
	Provider() string
	Model() string
}
