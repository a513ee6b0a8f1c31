// Package httpapi owns the HTTP surface: health probes, metrics, prompt
// administration, and the websocket endpoint that feeds the chat loop.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Deepme123/Deep-me-V2/internal/auth"
	"github.com/Deepme123/Deep-me-V2/internal/chat"
	"github.com/Deepme123/Deep-me-V2/internal/config"
	"github.com/Deepme123/Deep-me-V2/internal/observability"
	"github.com/Deepme123/Deep-me-V2/internal/protocol"
)

// ConnectionRunner drives one websocket connection over parsed frames.
type ConnectionRunner interface {
	Run(ctx context.Context, userID string, inbound <-chan chat.Frame, outbound chan<- any) chat.CloseDirective
}

type Server struct {
	cfg      config.Config
	runner   ConnectionRunner
	auth     *auth.Authenticator
	prompts  PromptCache
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

// PromptCache is the invalidation hook exposed on the admin surface.
type PromptCache interface {
	Invalidate()
}

func New(cfg config.Config, runner ConnectionRunner, authn *auth.Authenticator, prompts PromptCache, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		runner:  runner,
		auth:    authn,
		prompts: prompts,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers enforce nothing here; we do. Same-origin only
				// unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/ws/emotion", s.handleEmotionWS)
	r.Post("/v1/prompts/reload", s.handleReloadPrompts)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleReloadPrompts(w http.ResponseWriter, _ *http.Request) {
	s.prompts.Invalidate()
	respondJSON(w, http.StatusOK, map[string]any{"status": "reloaded"})
}

func (s *Server) handleEmotionWS(w http.ResponseWriter, r *http.Request) {
	userID, authErr := s.auth.UserFromRequest(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Auth failures close with an application code after the handshake so
	// clients can tell them apart from transport errors.
	if authErr != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(4401, authErr.Error()),
			time.Now().Add(time.Second),
		)
		return
	}

	s.metrics.ActiveConnections.Inc()
	defer s.metrics.ActiveConnections.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan chat.Frame, 16)
	outbound := make(chan any, s.cfg.SendBuffer)

	directiveCh := make(chan chat.CloseDirective, 1)
	go func() {
		directiveCh <- s.runner.Run(ctx, userID, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go s.writeLoop(ctx, conn, outbound, writerDone)
	go s.readLoop(ctx, cancel, conn, inbound)

	directive := <-directiveCh
	cancel()
	<-writerDone

	// The writer may have stopped before draining the tail of the queue
	// (close_ok, final error). Flush it before the close frame.
	s.flushOutbound(conn, outbound)
	s.closeConn(conn, directive)
}

// readLoop forwards parsed frames to the supervisor until the client goes
// away. Binary frames are forwarded as protocol violations rather than
// silently dropped.
func (s *Server) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, inbound chan<- chat.Frame) {
	defer close(inbound)
	defer cancel()

	conn.SetReadLimit(1 << 20)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame chat.Frame
		switch msgType {
		case websocket.TextMessage:
			msg, perr := protocol.ParseClientFrame(data)
			frame = chat.Frame{Msg: msg, Err: perr}
			if perr == nil {
				s.metrics.WSMessages.WithLabelValues("inbound", string(msg.Type)).Inc()
			}
		case websocket.BinaryMessage:
			frame = chat.Frame{Err: protocol.ErrBinaryFrame}
		default:
			continue
		}

		select {
		case inbound <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// writeLoop keeps websocket writes single-threaded and emits a protocol
// ping whenever the outbound queue stays idle for a heartbeat interval.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, outbound <-chan any, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
			}
		case <-time.After(s.cfg.HeartbeatInterval):
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(protocol.Ping{Type: protocol.TypePing}); err != nil {
				return
			}
		}
	}
}

func (s *Server) flushOutbound(conn *websocket.Conn, outbound <-chan any) {
	for {
		select {
		case msg := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
			}
		default:
			return
		}
	}
}

func (s *Server) closeConn(conn *websocket.Conn, directive chat.CloseDirective) {
	code := directive.Code
	if code == 0 {
		code = websocket.CloseNormalClosure
	}
	if code == 1013 {
		// Best effort: tell a slow consumer why it is being dropped. The
		// writer has already stopped, so a direct write is safe.
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = conn.WriteJSON(protocol.ErrorEvent{Type: protocol.TypeError, Message: "send_backpressure"})
	}
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, directive.Reason),
		time.Now().Add(time.Second),
	)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.OpenOK:
		return m.Type, true
	case protocol.MessageStart:
		return m.Type, true
	case protocol.MessageDelta:
		return m.Type, true
	case protocol.MessageEnd:
		return m.Type, true
	case protocol.FinalMessage:
		return m.Type, true
	case protocol.StepEvent:
		return m.Type, true
	case protocol.SuggestClose:
		return m.Type, true
	case protocol.CloseOK:
		return m.Type, true
	case protocol.TaskRecommendOK:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	case protocol.LimitEvent:
		return m.Type, true
	case protocol.Pong:
		return m.Type, true
	case protocol.Ping:
		return m.Type, true
	default:
		return "", false
	}
}
