package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Deepme123/Deep-me-V2/internal/llm"
	"github.com/Deepme123/Deep-me-V2/internal/prompt"
	"github.com/Deepme123/Deep-me-V2/internal/protocol"
	"github.com/Deepme123/Deep-me-V2/internal/steps"
	"github.com/Deepme123/Deep-me-V2/internal/store"
)

// turnContext is everything derived from the session history before the
// model is called. Step orders are reserved here but nothing is written
// until the turn succeeds end to end.
type turnContext struct {
	history        []store.Step
	wantActivity   bool
	userOrder      int
	assistantOrder int
	conversation   []llm.Message
	currentStep    int
	system         string
}

// handleTurn runs the full message pipeline. Failures inside the turn send
// an error event and leave the session untouched; only transport-level
// problems propagate as errors.
func (s *Supervisor) handleTurn(ctx context.Context, c *connState, outbound chan<- any, userText string) error {
	if len(userText) > s.cfg.MaxUserTextBytes {
		return s.send(ctx, outbound, protocol.ErrorEvent{Type: protocol.TypeError, Message: "message_too_large"})
	}

	turns, err := s.store.CountUserSteps(ctx, c.sessionID)
	if err != nil {
		return s.sendTurnError(ctx, outbound, fmt.Sprintf("db_failed: %v", err), false)
	}
	if turns >= s.cfg.SessionMaxTurns {
		return s.send(ctx, outbound, protocol.LimitEvent{Type: protocol.TypeLimit, Message: "max turns reached"})
	}

	tc, err := s.prepareTurn(ctx, c, userText)
	if err != nil {
		log.Printf("chat: turn preparation failed | session=%s err=%v", c.sessionID, err)
		return s.sendTurnError(ctx, outbound, fmt.Sprintf("db_failed: %v", err), false)
	}

	if err := s.composePrompt(tc); err != nil {
		log.Printf("chat: prompt load failed | session=%s err=%v", c.sessionID, err)
		return s.sendTurnError(ctx, outbound, fmt.Sprintf("prompt_failed: %v", err), false)
	}

	if err := s.send(ctx, outbound, protocol.MessageStart{Type: protocol.TypeMessageStart}); err != nil {
		return err
	}

	assistantText, streamReason, err := s.streamAssistant(ctx, c, outbound, tc)
	if sendErr := s.send(ctx, outbound, protocol.MessageEnd{Type: protocol.TypeMessageEnd}); sendErr != nil {
		return sendErr
	}
	if err != nil {
		// Transport failure mid-stream, not a model failure.
		return err
	}
	if streamReason != "" {
		s.metrics.TurnOutcomes.WithLabelValues("dropped").Inc()
		return s.sendTurnError(ctx, outbound, streamReason, true)
	}

	assistantText = strings.TrimSpace(assistantText)
	if assistantText == "" {
		s.metrics.TurnOutcomes.WithLabelValues("dropped").Inc()
		return s.sendTurnError(ctx, outbound, "empty_assistant_response", true)
	}

	assistantText, endByToken := steps.ExtractEndSessionToken(assistantText)
	sessionEnds := endByToken || tc.currentStep >= steps.MaxStage
	if sessionEnds {
		assistantText = steps.FixedFarewell()
	}
	newStep := s.classifier.AfterTurn(tc.history, userText, assistantText)

	err = s.store.CommitTurn(ctx, store.TurnCommit{
		SessionID:         c.sessionID,
		UserOrder:         tc.userOrder,
		AssistantOrder:    tc.assistantOrder,
		UserText:          userText,
		AssistantText:     assistantText,
		AddActivityMarker: tc.wantActivity,
		MarkSessionEnded:  sessionEnds,
	})
	if err != nil {
		log.Printf("chat: turn commit failed | session=%s err=%v", c.sessionID, err)
		s.metrics.TurnOutcomes.WithLabelValues("commit_failed").Inc()
		return s.sendTurnError(ctx, outbound, "server_error:assistant_step_commit", false)
	}
	s.metrics.TurnOutcomes.WithLabelValues("completed").Inc()

	if err := s.send(ctx, outbound, protocol.FinalMessage{Type: protocol.TypeMessage, Message: assistantText}); err != nil {
		return err
	}
	if err := s.send(ctx, outbound, protocol.StepEvent{
		Type:     protocol.TypeStep,
		Step:     newStep,
		StepName: s.classifier.StageName(newStep),
	}); err != nil {
		return err
	}

	if sessionEnds {
		if err := s.send(ctx, outbound, protocol.SuggestClose{Type: protocol.TypeSuggestClose}); err != nil {
			return err
		}
	}

	if tc.wantActivity {
		return s.recommendAfterTurn(ctx, c, outbound)
	}
	return nil
}

func (s *Supervisor) prepareTurn(ctx context.Context, c *connState, userText string) (*turnContext, error) {
	history, err := s.store.StepsBySession(ctx, c.sessionID)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}

	alreadyFired := false
	lastOrder := 0
	for _, st := range history {
		if st.Kind == store.StepKindActivity {
			alreadyFired = true
		}
		if st.Order > lastOrder {
			lastOrder = st.Order
		}
	}

	// Only the most recent turns reach the model; classification always
	// sees the full history.
	windowed := history
	if max := s.cfg.HistoryTurns * 2; len(windowed) > max {
		windowed = windowed[len(windowed)-max:]
	}
	conversation := make([]llm.Message, 0, len(windowed)+1)
	for _, st := range windowed {
		switch {
		case st.Kind == store.StepKindUser && st.UserText != "":
			conversation = append(conversation, llm.Message{Role: "user", Content: st.UserText})
		case st.Kind == store.StepKindAssistant && st.AssistantText != "":
			conversation = append(conversation, llm.Message{Role: "assistant", Content: st.AssistantText})
		}
	}
	conversation = append(conversation, llm.Message{Role: "user", Content: userText})

	return &turnContext{
		history:        history,
		wantActivity:   s.activity.ShouldTrigger(alreadyFired, history, userText),
		userOrder:      lastOrder + 1,
		assistantOrder: lastOrder + 2,
		conversation:   conversation,
		currentStep:    s.classifier.ForPrompt(history, userText),
	}, nil
}

func (s *Supervisor) composePrompt(tc *turnContext) error {
	system := s.prompts.System()
	if block := s.classifier.StageContext(tc.currentStep); block != "" {
		system += "\n\n" + block
	}
	if block := s.classifier.EndSessionContext(tc.currentStep); block != "" {
		system += "\n\n" + block
	}
	if hint := s.classifier.SoftTimeoutHint(tc.history, lastUserText(tc.conversation)); hint != "" {
		system += "\n\n" + hint
	}

	task := ""
	if tc.wantActivity {
		loaded, err := s.prompts.Task()
		if err != nil {
			return err
		}
		task = loaded
	}
	tc.system = prompt.Compose(system, task)
	return nil
}

// streamAssistant runs the model under the stream timeout, filtering every
// fragment through the leak guard before it reaches the client. It returns
// the accumulated text, a turn-drop reason for model failures, or an error
// for transport failures.
func (s *Supervisor) streamAssistant(ctx context.Context, c *connState, outbound chan<- any, tc *turnContext) (string, string, error) {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.StreamTimeout)
	defer cancel()

	started := time.Now()
	var out strings.Builder
	var transportErr error

	_, streamErr := s.streamer.Stream(sctx, llm.Request{
		System:      tc.system,
		Messages:    tc.conversation,
		Temperature: s.cfg.LLMTemperature,
		MaxTokens:   s.cfg.LLMMaxTokens,
	}, func(delta string) error {
		safe := s.guard.Sanitize(delta, c.sysFP)
		if safe == "" {
			return nil
		}
		out.WriteString(safe)
		if err := s.send(ctx, outbound, protocol.MessageDelta{Type: protocol.TypeMessageDelta, Delta: safe}); err != nil {
			transportErr = err
			return err
		}
		return nil
	})
	s.metrics.ObserveStreamLatency(time.Since(started))

	if transportErr != nil {
		return "", "", transportErr
	}
	if streamErr != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		if errors.Is(streamErr, context.DeadlineExceeded) {
			return "", "stream_timeout", nil
		}
		s.metrics.ProviderErrors.WithLabelValues(s.cfg.LLMModel).Inc()
		return "", fmt.Sprintf("stream_failed:%v", streamErr), nil
	}
	return out.String(), "", nil
}

func (s *Supervisor) sendTurnError(ctx context.Context, outbound chan<- any, msg string, dropped bool) error {
	return s.send(ctx, outbound, protocol.ErrorEvent{Type: protocol.TypeError, Message: msg, TurnDropped: dropped})
}

// recommendAfterTurn is the best-effort side channel after an activity
// turn. Its failures never affect the committed turn.
func (s *Supervisor) recommendAfterTurn(ctx context.Context, c *connState, outbound chan<- any) error {
	if c.fuseTripped {
		return s.send(ctx, outbound, protocol.ErrorEvent{Type: protocol.TypeError, Message: "recommend_unavailable"})
	}

	items, err := s.recommendTasks(ctx, c, 5)
	if err != nil {
		c.fuseTripped = true
		s.metrics.RecommendOutcomes.WithLabelValues("failed").Inc()
		log.Printf("chat: post-turn recommend failed | session=%s err=%v", c.sessionID, err)
		return s.send(ctx, outbound, protocol.ErrorEvent{Type: protocol.TypeError, Message: "recommend_unavailable"})
	}
	if len(items) == 0 {
		return nil
	}
	s.metrics.RecommendOutcomes.WithLabelValues("ok").Inc()
	return s.send(ctx, outbound, protocol.TaskRecommendOK{Type: protocol.TypeTaskRecommendOK, Items: items})
}

func lastUserText(conversation []llm.Message) string {
	for i := len(conversation) - 1; i >= 0; i-- {
		if conversation[i].Role == "user" {
			return conversation[i].Content
		}
	}
	return ""
}
