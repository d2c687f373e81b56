package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/manualrag-go/internal/rag"
)

// ChatCompleter adapts an eino chat model to rag.Completer. Each Complete
// call is a single two-message Generate: the system prompt then the user turn.
type ChatCompleter struct {
	// model is the chat model to call.
	model model.BaseChatModel
	// name labels the backend in errors and readiness responses.
	name string
}

// NewChatCompleter wraps m. name labels the backend (e.g. "openai").
func NewChatCompleter(m model.BaseChatModel, name string) *ChatCompleter {
	return &ChatCompleter{model: m, name: name}
}

// Complete sends system and user to the model and returns the reply text
// verbatim. Failures and empty replies wrap rag.ErrCompletionService.
//
// The call runs outside any eino graph, so Complete installs the callback
// manager itself; without it the global handlers registered by
// tracing.Setup never see the model's start and end events.
func (c *ChatCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      c.name,
		Type:      c.name,
		Component: components.ComponentOfChatModel,
	})
	msgs := []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(user),
	}
	resp, err := c.model.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", rag.ErrCompletionService, c.name, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("%w: %s returned an empty response", rag.ErrCompletionService, c.name)
	}
	return resp.Content, nil
}

// Name returns the backend label.
func (c *ChatCompleter) Name() string { return c.name }
