// Package llm talks to an OpenAI-compatible chat completions endpoint.
//
// Callers treat every error from Client.Chat as transient: the game always
// substitutes a fallback line or verdict instead of surfacing the failure.
package llm

import (
	"context"
	"errors"
)

var ErrEmptyResponse = errors.New("model returned no choices")

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Client is the capability the game needs from a language model.
type Client interface {
	Chat(ctx context.Context, req Request) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (string, error)

func (f ClientFunc) Chat(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
