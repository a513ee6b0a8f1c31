package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter produces deterministic local replies when no provider is
// configured.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) StreamCompletion(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	text := buildMockReply(req)
	if onDelta != nil && text != "" {
		if err := onDelta(text); err != nil {
			return Response{}, err
		}
	}
	return Response{Text: text, Model: req.Model}, nil
}

func buildMockReply(req Request) string {
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = strings.TrimSpace(req.Messages[i].Content)
			break
		}
	}
	if last == "" {
		return "듣고 있어요. 편하게 이야기해 주세요."
	}
	return fmt.Sprintf("그렇군요. \"%s\"라고 느끼셨군요. 조금 더 들려주실래요?", last)
}
