// Package embedding defines the embedding and chat model clients and the
// resilience wrapper the craving pipeline uses around them.
package embedding

import (
	"context"
	"errors"
)

// ErrNoEmbedding signals that no vector could be produced for the text and
// the caller should skip the vector path.
var ErrNoEmbedding = errors.New("embedding: no embedding available")

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder embeds several texts in one request. Results are in input order.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatMessage represents a chat message with role and content
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatClient returns the assistant reply to a conversation.
type ChatClient interface {
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
}

// ToFloat32 narrows a decoded JSON vector.
func ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
