// Package openai adapts OpenAI-compatible chat completion APIs to ai.Completer.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/spigell/pitch-analyst/internal/ai"
)

const defaultModel = "gpt-4"

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

// Client is an ai.Completer backed by the chat completions endpoint.
type Client struct {
	chat  chatCompleter
	model string
}

// New creates a client. baseURL may point to any OpenAI-compatible gateway.
func New(apiKey, model, baseURL string) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}

	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		cfg.BaseURL = baseURL
	}

	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}

	return &Client{chat: goopenai.NewClientWithConfig(cfg), model: model}, nil
}

func (c *Client) Provider() string { return "openai" }

func (c *Client) Model() string { return c.model }

func (c *Client) Complete(ctx context.Context, messages []ai.Message, temperature float32) (string, error) {
	req := goopenai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: temperature,
		Messages:    make([]goopenai.ChatCompletionMessage, 0, len(messages)),
	}

	for _, msg := range messages {
		req.Messages = append(req.Messages, goopenai.ChatCompletionMessage{
			Role:    roleOf(msg.Role),
			Content: msg.Content,
		})
	}

	resp, err := c.chat.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func roleOf(role ai.Role) string {
	switch role {
	case ai.RoleSystem:
		return goopenai.ChatMessageRoleSystem
	case ai.RoleModel:
		return goopenai.ChatMessageRoleAssistant
	default:
		return goopenai.ChatMessageRoleUser
	}
}
