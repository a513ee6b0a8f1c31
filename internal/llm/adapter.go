package llm

import (
	"context"
	"strings"
)

// Message is one turn of conversation context sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the normalized generation request. System carries the composed
// instruction blocks; Messages carries the windowed conversation history
// ending with the pending user message.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Response is the final response after streaming deltas.
type Response struct {
	Text  string
	Model string
}

// DeltaHandler receives streaming text fragments.
type DeltaHandler func(delta string) error

// Adapter bridges the turn pipeline with one model API surface.
type Adapter interface {
	StreamCompletion(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error)
}

// IsReasoningModel reports whether a model name routes to the Responses API
// and rejects sampling parameters.
func IsReasoningModel(model string) bool {
	for _, prefix := range []string{"gpt-5", "o3", "o4"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}
