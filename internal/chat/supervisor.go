// Package chat runs the per-connection conversation loop: session
// bootstrap, message dispatch, the streaming turn pipeline, and the task
// recommendation side channel.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Deepme123/Deep-me-V2/internal/config"
	"github.com/Deepme123/Deep-me-V2/internal/llm"
	"github.com/Deepme123/Deep-me-V2/internal/observability"
	"github.com/Deepme123/Deep-me-V2/internal/policy"
	"github.com/Deepme123/Deep-me-V2/internal/prompt"
	"github.com/Deepme123/Deep-me-V2/internal/protocol"
	"github.com/Deepme123/Deep-me-V2/internal/steps"
	"github.com/Deepme123/Deep-me-V2/internal/store"
)

// Frame is one parsed inbound websocket frame, or the protocol violation
// that prevented parsing it.
type Frame struct {
	Msg protocol.Inbound
	Err error
}

// CloseDirective tells the transport how to close the websocket once the
// loop returns.
type CloseDirective struct {
	Code   int
	Reason string
}

// Streamer generates an assistant reply as a delta stream.
type Streamer interface {
	Stream(ctx context.Context, req llm.Request, onDelta llm.DeltaHandler) (llm.Response, error)
}

// Recommender produces persisted task suggestions for a session.
type Recommender interface {
	Recommend(ctx context.Context, userID, sessionID string, n int) ([]store.Task, error)
}

var errBackpressure = errors.New("send queue backpressure")

// Supervisor owns everything a single connection needs that is not the
// websocket itself.
type Supervisor struct {
	cfg         config.Config
	store       store.Store
	prompts     *prompt.Loader
	streamer    Streamer
	recommender Recommender
	guard       *policy.LeakGuard
	activity    *policy.ActivityPolicy
	classifier  *steps.Classifier
	metrics     *observability.Metrics
}

func NewSupervisor(
	cfg config.Config,
	st store.Store,
	prompts *prompt.Loader,
	streamer Streamer,
	recommender Recommender,
	metrics *observability.Metrics,
) *Supervisor {
	return &Supervisor{
		cfg:         cfg,
		store:       st,
		prompts:     prompts,
		streamer:    streamer,
		recommender: recommender,
		guard:       policy.NewLeakGuard(cfg.LeakGuardNGram, cfg.LeakGuardMinMatch, cfg.LeakGuardMode),
		activity:    policy.NewActivityPolicy(cfg.ActivityKeywords),
		classifier:  steps.NewClassifier(steps.DefaultLexicon(), cfg.SoftTimeoutTurns),
		metrics:     metrics,
	}
}

// connState is the per-connection mutable state. The recommendation fuse is
// deliberately connection-scoped: one provider failure silences the side
// channel for the rest of this connection only.
type connState struct {
	userID      string
	sessionID   string
	sysFP       map[uint64]struct{}
	fuseTripped bool
}

// Run drives one authenticated connection until the client leaves, a
// policy closes it, or ctx is cancelled. It never writes to the socket
// directly; everything goes through outbound, which the transport drains.
func (s *Supervisor) Run(ctx context.Context, userID string, inbound <-chan Frame, outbound chan<- any) CloseDirective {
	c := &connState{userID: userID}

	if err := s.bootstrap(ctx, c, outbound); err != nil {
		if errors.Is(err, errBackpressure) {
			return CloseDirective{Code: 1013, Reason: "send_backpressure"}
		}
		log.Printf("chat: bootstrap failed | user=%s err=%v", userID, err)
		return CloseDirective{Code: 1011, Reason: "bootstrap_failed"}
	}

	idle := time.NewTimer(s.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return CloseDirective{Code: 1000}
		case <-idle.C:
			_ = s.send(ctx, outbound, protocol.ErrorEvent{Type: protocol.TypeError, Message: "idle_timeout"})
			return CloseDirective{Code: 1000, Reason: "idle_timeout"}
		case frame, ok := <-inbound:
			if !ok {
				return CloseDirective{Code: 1000}
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.cfg.IdleTimeout)

			directive, done := s.dispatch(ctx, c, outbound, frame)
			if done {
				return directive
			}
		}
	}
}

func (s *Supervisor) dispatch(ctx context.Context, c *connState, outbound chan<- any, frame Frame) (CloseDirective, bool) {
	if frame.Err != nil {
		if errors.Is(frame.Err, protocol.ErrEmptyFrame) {
			return CloseDirective{}, false
		}
		_ = s.send(ctx, outbound, protocol.ErrorEvent{Type: protocol.TypeError, Message: frame.Err.Error()})
		return CloseDirective{Code: 1007, Reason: frame.Err.Error()}, true
	}

	var err error
	switch frame.Msg.Type {
	case protocol.TypePing:
		err = s.send(ctx, outbound, protocol.Pong{Type: protocol.TypePong})
	case protocol.TypeOpen:
		// The session is bootstrapped on connect; re-acknowledge instead of
		// opening a second one.
		err = s.send(ctx, outbound, protocol.OpenOK{Type: protocol.TypeOpenOK, SessionID: c.sessionID})
	case protocol.TypeMessage:
		err = s.handleTurn(ctx, c, outbound, frame.Msg.Text)
	case protocol.TypeClose:
		return s.handleClose(ctx, c, outbound, frame.Msg)
	case protocol.TypeTaskRecommend:
		err = s.handleRecommend(ctx, c, outbound, frame.Msg.MaxItems)
	default:
		err = s.send(ctx, outbound, protocol.ErrorEvent{
			Type:    protocol.TypeError,
			Message: fmt.Sprintf("unknown type: %s", frame.Msg.Type),
		})
	}

	if errors.Is(err, errBackpressure) {
		return CloseDirective{Code: 1013, Reason: "send_backpressure"}, true
	}
	if err != nil {
		log.Printf("chat: connection loop error | session=%s err=%v", c.sessionID, err)
		return CloseDirective{Code: 1011, Reason: "internal_error"}, true
	}
	return CloseDirective{}, false
}

// bootstrap opens the session for the authenticated user right after
// connect and acknowledges it, so clients can speak immediately.
func (s *Supervisor) bootstrap(ctx context.Context, c *connState, outbound chan<- any) error {
	sess, err := s.store.CreateSession(ctx, c.userID)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	c.sessionID = sess.ID
	c.sysFP = s.guard.Fingerprint(s.prompts.System())

	return s.send(ctx, outbound, protocol.OpenOK{Type: protocol.TypeOpenOK, SessionID: c.sessionID})
}

func (s *Supervisor) handleClose(ctx context.Context, c *connState, outbound chan<- any, msg protocol.Inbound) (CloseDirective, bool) {
	err := s.store.CloseSession(ctx, c.sessionID, store.CloseLabels{
		EmotionLabel:   msg.EmotionLabel,
		Topic:          msg.Topic,
		TriggerSummary: msg.TriggerSummary,
		InsightSummary: msg.InsightSummary,
	})
	if err != nil {
		log.Printf("chat: close update failed | session=%s err=%v", c.sessionID, err)
		sendErr := s.send(ctx, outbound, protocol.ErrorEvent{Type: protocol.TypeError, Message: "close_failed"})
		if errors.Is(sendErr, errBackpressure) {
			return CloseDirective{Code: 1013, Reason: "send_backpressure"}, true
		}
		return CloseDirective{}, false
	}

	sendErr := s.send(ctx, outbound, protocol.CloseOK{Type: protocol.TypeCloseOK})
	if errors.Is(sendErr, errBackpressure) {
		return CloseDirective{Code: 1013, Reason: "send_backpressure"}, true
	}
	return CloseDirective{Code: 1000, Reason: "client_close"}, true
}

func (s *Supervisor) handleRecommend(ctx context.Context, c *connState, outbound chan<- any, maxItems int) error {
	if c.fuseTripped {
		return s.send(ctx, outbound, protocol.ErrorEvent{Type: protocol.TypeError, Message: "recommend_unavailable"})
	}
	if maxItems <= 0 {
		maxItems = 5
	}

	items, err := s.recommendTasks(ctx, c, maxItems)
	if err != nil {
		c.fuseTripped = true
		s.metrics.RecommendOutcomes.WithLabelValues("failed").Inc()
		log.Printf("chat: task recommend failed | session=%s err=%v", c.sessionID, err)
		return s.send(ctx, outbound, protocol.ErrorEvent{
			Type:    protocol.TypeError,
			Message: fmt.Sprintf("recommend failed: %v", err),
		})
	}
	s.metrics.RecommendOutcomes.WithLabelValues("ok").Inc()
	return s.send(ctx, outbound, protocol.TaskRecommendOK{Type: protocol.TypeTaskRecommendOK, Items: items})
}

func (s *Supervisor) recommendTasks(ctx context.Context, c *connState, maxItems int) ([]protocol.TaskItem, error) {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RecommendTimeout)
	defer cancel()

	tasks, err := s.recommender.Recommend(rctx, c.userID, c.sessionID, maxItems)
	if err != nil {
		return nil, err
	}
	items := make([]protocol.TaskItem, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, protocol.TaskItem{Title: t.Title, Description: t.Description})
	}
	return items, nil
}

// send queues one outbound event, waiting up to the heartbeat interval
// before declaring backpressure. A slow consumer gets disconnected rather
// than stalling the whole turn pipeline.
func (s *Supervisor) send(ctx context.Context, outbound chan<- any, msg any) error {
	select {
	case outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.HeartbeatInterval):
		return errBackpressure
	}
}
