package ollama

import (
	"context"
	"fmt"
)

// Embedder binds a Client to a fixed embedding model, giving consumers the
// single-argument Embed the pipeline expects. Builder and serving paths must
// use the same model for retrieval to be meaningful.
type Embedder struct {
	client *Client
	model  string
}

// NewEmbedder creates an Embedder using the given client and model name.
func NewEmbedder(client *Client, model string) *Embedder {
	return &Embedder{client: client, model: model}
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.client.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}
