package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// Gateway routes generation requests to the right adapter per model and
// walks an ordered fallback chain when a model fails before producing any
// output. Once a delta has reached the caller there is no retry: a partial
// answer from one model glued to a restart from another reads as nonsense.
type Gateway struct {
	primary   string
	backups   []string
	responses Adapter
	chat      Adapter
}

// Config controls gateway construction.
type Config struct {
	BaseURL      string
	APIKey       string
	PrimaryModel string
	BackupModels []string
}

// NewGateway builds the adapter pair for the configured credentials. An
// empty API key yields deterministic mock output for local development.
func NewGateway(cfg Config) *Gateway {
	g := &Gateway{
		primary: cfg.PrimaryModel,
		backups: cfg.BackupModels,
	}
	if cfg.APIKey == "" {
		log.Printf("llm: no API key configured, using mock adapter")
		mock := NewMockAdapter()
		g.responses = mock
		g.chat = mock
		return g
	}
	g.responses = NewResponsesAdapter(cfg.BaseURL, cfg.APIKey)
	g.chat = NewChatAdapter(cfg.BaseURL, cfg.APIKey)
	return g
}

// NewGatewayWithAdapters wires explicit adapters, primarily for tests.
func NewGatewayWithAdapters(primary string, backups []string, responses, chat Adapter) *Gateway {
	return &Gateway{primary: primary, backups: backups, responses: responses, chat: chat}
}

func (g *Gateway) adapterFor(model string) Adapter {
	if IsReasoningModel(model) {
		return g.responses
	}
	return g.chat
}

func (g *Gateway) chain(override string) []string {
	models := make([]string, 0, len(g.backups)+1)
	first := override
	if first == "" {
		first = g.primary
	}
	models = append(models, first)
	for _, m := range g.backups {
		if m != "" && m != first {
			models = append(models, m)
		}
	}
	return models
}

// Stream runs the request through the model chain. Each model is attempted
// at most once, in order; context cancellation and mid-stream failures
// surface immediately without trying further models.
func (g *Gateway) Stream(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	delivered := false
	wrapped := func(delta string) error {
		delivered = true
		if onDelta == nil {
			return nil
		}
		return onDelta(delta)
	}

	var lastErr error
	for _, model := range g.chain(req.Model) {
		attempt := req
		attempt.Model = model
		resp, err := g.adapterFor(model).StreamCompletion(ctx, attempt, wrapped)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Response{}, err
		}
		if delivered {
			return Response{}, fmt.Errorf("model %s failed mid-stream: %w", model, err)
		}
		log.Printf("llm: model %s failed, trying next: %v", model, err)
		lastErr = err
	}
	return Response{}, fmt.Errorf("all models failed: %w", lastErr)
}
