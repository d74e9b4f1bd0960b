// Package contextmgr windows conversation history so prompts stay inside the
// model's context budget. Token counting uses the tiktoken GPT-4 encoding as
// an approximation for every backend.
package contextmgr

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"

	"specsmith/pkg/llm"
	"specsmith/pkg/session"
)

// DefaultTokenBudget bounds the history portion of a prompt when no budget is
// configured. The system prompt and the latest user message are budgeted
// separately by the caller.
const DefaultTokenBudget = 6000

// Manager counts tokens and trims history to a budget.
type Manager struct {
	codec       tokenizer.Codec
	tokenBudget int
}

// New creates a manager with the given history token budget.
func New(tokenBudget int) (*Manager, error) {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &Manager{codec: codec, tokenBudget: tokenBudget}, nil
}

// CountTokens returns the token count of text, falling back to a 4-chars-per-
// token estimate if the codec fails.
func (m *Manager) CountTokens(text string) int {
	if m.codec == nil {
		return len(text) / 4
	}
	count, err := m.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// CountMessages returns the total token count of a message slice, role tags
// included.
func (m *Manager) CountMessages(messages []llm.CompletionMessage) int {
	total := 0
	for i := range messages {
		total += m.CountTokens(string(messages[i].Role)) + m.CountTokens(messages[i].Content)
	}
	return total
}

// Window converts the conversation log to completion messages, dropping the
// oldest entries until the remainder fits the token budget. The newest
// message is always kept, even when it alone exceeds the budget.
func (m *Manager) Window(log []session.Message) []llm.CompletionMessage {
	messages := make([]llm.CompletionMessage, 0, len(log))
	for i := range log {
		messages = append(messages, llm.CompletionMessage{
			Role:    convertRole(log[i].Role),
			Content: log[i].Content,
		})
	}

	for len(messages) > 1 && m.CountMessages(messages) > m.tokenBudget {
		messages = messages[1:]
	}
	return messages
}

func convertRole(role session.MessageRole) llm.CompletionRole {
	if role == session.RoleAssistant {
		return llm.RoleAssistant
	}
	return llm.RoleUser
}
