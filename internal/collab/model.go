// Package collab implements the planner, research and action collaborators
// on top of an LLM provider and the agentkit tool registry.
package collab

import (
	"context"
	"fmt"
	"strings"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
)

// Model wraps a provider with structured-reply handling.
type Model struct {
	provider llm.Provider
	logger   *logging.Logger

	// Retries is how many times an invalid reply is re-requested.
	Retries int
}

// NewModel creates a model over provider.
func NewModel(provider llm.Provider) *Model {
	return &Model{
		provider: provider,
		logger:   logging.New().WithComponent("collab"),
		Retries:  1,
	}
}

// Text asks for a free-form reply.
func (m *Model) Text(ctx context.Context, system, user string) (string, error) {
	resp, err := m.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// structured asks for a JSON reply, decodes it into v and runs check. An
// invalid reply is re-requested with the reason appended.
func (m *Model) structured(ctx context.Context, schema, system, user string, v interface{}, check func() error) error {
	prompt := user
	for attempt := 0; ; attempt++ {
		content, err := m.Text(ctx, system, prompt)
		if err != nil {
			return fmt.Errorf("%s: %w", schema, err)
		}
		err = decode(schema, content, v)
		if err == nil && check != nil {
			err = check()
		}
		if err == nil {
			return nil
		}
		if attempt >= m.Retries || ctx.Err() != nil {
			return err
		}
		m.logger.Warn("invalid model reply, asking again", map[string]interface{}{
			"schema": schema,
			"error":  err.Error(),
		})
		prompt = user + "\n\nYour previous reply was rejected: " + err.Error() +
			"\nReply with one JSON object and nothing else."
	}
}

func invalid(schema, format string, args ...interface{}) error {
	return &ValidationError{Schema: schema, Reason: fmt.Sprintf(format, args...)}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
