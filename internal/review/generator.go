package review

import (
	"context"
	"fmt"

	"github.com/kalambet/reviewd/internal/ollama"
)

// ChatEngine abstracts the chat-completion backend used for feedback generation.
type ChatEngine interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, jsonOutput bool) (string, error)
}

// Generator produces structured review findings for a code snippet using
// retrieved context.
type Generator struct {
	engine ChatEngine
	model  string
}

// NewGenerator creates a Generator using the given engine and model name.
func NewGenerator(engine ChatEngine, model string) *Generator {
	return &Generator{engine: engine, model: model}
}

const promptTemplate = `You are a code review assistant. Analyze the following code and provide line-level feedback.
Use the retrieved context to guide your feedback. Respond with a JSON array of objects with fields:
- line: line number (integer, optional)
- severity: high / medium / low
- message: short description of the issue
- reasoning: why this is an issue, referencing the context where relevant

Code:
%s

Context:
%s`

// Generate asks the model to review code against the retrieved context.
// Unparseable model output is degraded into a single synthetic finding; only
// transport-level failures return an error.
func (g *Generator) Generate(ctx context.Context, code, contextText string) ([]Finding, error) {
	prompt := fmt.Sprintf(promptTemplate, code, contextText)
	raw, err := g.engine.Chat(ctx, g.model, []ollama.Message{{Role: "user", Content: prompt}}, true)
	if err != nil {
		return nil, fmt.Errorf("generating feedback: %w", err)
	}
	return ParseFindings(raw), nil
}
