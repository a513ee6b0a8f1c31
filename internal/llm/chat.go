package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ChatAdapter streams chat-completions models through the OpenAI client.
type ChatAdapter struct {
	client *openai.Client
}

func NewChatAdapter(baseURL, apiKey string) *ChatAdapter {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
	return &ChatAdapter{client: openai.NewClientWithConfig(cfg)}
}

func (a *ChatAdapter) StreamCompletion(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:               req.Model,
		Messages:            messages,
		Temperature:         float32(req.Temperature),
		MaxCompletionTokens: req.MaxTokens,
	}

	stream, err := a.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil && wantsLegacyTokenParam(err) {
		// Older models reject max_completion_tokens; retry once with the
		// legacy parameter before giving up on this model.
		chatReq.MaxCompletionTokens = 0
		chatReq.MaxTokens = req.MaxTokens
		stream, err = a.client.CreateChatCompletionStream(ctx, chatReq)
	}
	if err != nil {
		return Response{}, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	var out strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Response{}, fmt.Errorf("stream recv: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return Response{}, err
			}
		}
	}

	return Response{Text: out.String(), Model: req.Model}, nil
}

func wantsLegacyTokenParam(err error) bool {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.HTTPStatusCode != 400 {
		return false
	}
	return strings.Contains(apiErr.Message, "max_completion_tokens")
}
