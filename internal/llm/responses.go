package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.openai.com/v1"

// ResponsesAdapter streams reasoning-family models over the Responses SSE
// protocol. Sampling parameters are omitted entirely; reasoning models
// reject them.
type ResponsesAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewResponsesAdapter(baseURL, apiKey string) *ResponsesAdapter {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &ResponsesAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type responsesPayload struct {
	Model           string           `json:"model"`
	Input           []responsesInput `json:"input"`
	MaxOutputTokens int              `json:"max_output_tokens,omitempty"`
	Stream          bool             `json:"stream"`
}

type responsesInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (a *ResponsesAdapter) StreamCompletion(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	input := make([]responsesInput, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		input = append(input, responsesInput{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		input = append(input, responsesInput{Role: m.Role, Content: m.Content})
	}

	payload, err := json.Marshal(responsesPayload{
		Model:           req.Model,
		Input:           input,
		MaxOutputTokens: req.MaxTokens,
		Stream:          true,
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/responses", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	res, err := a.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Response{}, fmt.Errorf("responses api status %d: %s", res.StatusCode, string(body))
	}

	text, err := a.consumeEvents(res.Body, onDelta)
	if err != nil {
		return Response{}, err
	}
	return Response{Text: text, Model: req.Model}, nil
}

type responsesEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// consumeEvents reads the SSE body line by line. Only output_text deltas
// produce client-visible text; every other event type is ignored except
// errors, which abort the stream.
func (a *ResponsesAdapter) consumeEvents(body io.Reader, onDelta DeltaHandler) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "event:") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var ev responsesEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "response.output_text.delta":
			if ev.Delta == "" {
				continue
			}
			out.WriteString(ev.Delta)
			if onDelta != nil {
				if err := onDelta(ev.Delta); err != nil {
					return "", err
				}
			}
		case "response.error", "error":
			msg := strings.TrimSpace(ev.Error.Message)
			if msg == "" {
				msg = "stream aborted by provider"
			}
			return "", fmt.Errorf("responses api error: %s", msg)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream read: %w", err)
	}

	return out.String(), nil
}
