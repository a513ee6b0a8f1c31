package protocol

import (
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeOpen          MessageType = "open"
	TypeMessage       MessageType = "message"
	TypeClose         MessageType = "close"
	TypeTaskRecommend MessageType = "task_recommend"
	TypePing          MessageType = "ping"

	TypeOpenOK          MessageType = "open_ok"
	TypeMessageStart    MessageType = "message_start"
	TypeMessageDelta    MessageType = "message_delta"
	TypeMessageEnd      MessageType = "message_end"
	TypeStep            MessageType = "step"
	TypeSuggestClose    MessageType = "suggest_close"
	TypeCloseOK         MessageType = "close_ok"
	TypeTaskRecommendOK MessageType = "task_recommend_ok"
	TypeError           MessageType = "error"
	TypeLimit           MessageType = "limit"
	TypePong            MessageType = "pong"
)

var (
	ErrInvalidJSON = errors.New("invalid_json")
	ErrBinaryFrame = errors.New("binary_frames_not_allowed")
	ErrEmptyFrame  = errors.New("empty_frame")
	ErrUnsupported = errors.New("unsupported message type")
)

// Inbound is the normalized client frame after tolerant parsing.
type Inbound struct {
	Type        MessageType `json:"type"`
	Text        string      `json:"text,omitempty"`
	AccessToken string      `json:"access_token,omitempty"`
	MaxItems    int         `json:"max_items,omitempty"`

	// Final session labels, accepted on close.
	EmotionLabel   string `json:"emotion_label,omitempty"`
	Topic          string `json:"topic,omitempty"`
	TriggerSummary string `json:"trigger_summary,omitempty"`
	InsightSummary string `json:"insight_summary,omitempty"`
}

// OpenOK acknowledges a session open.
type OpenOK struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Turns     int         `json:"turns"`
}

type MessageStart struct {
	Type MessageType `json:"type"`
}

type MessageDelta struct {
	Type  MessageType `json:"type"`
	Delta string      `json:"delta"`
}

type MessageEnd struct {
	Type MessageType `json:"type"`
}

// FinalMessage carries the fully assembled assistant reply.
type FinalMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type StepEvent struct {
	Type     MessageType `json:"type"`
	Step     int         `json:"step"`
	StepName string      `json:"step_name"`
}

type SuggestClose struct {
	Type MessageType `json:"type"`
}

type CloseOK struct {
	Type MessageType `json:"type"`
}

type TaskItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type TaskRecommendOK struct {
	Type  MessageType `json:"type"`
	Items []TaskItem  `json:"items"`
}

type ErrorEvent struct {
	Type        MessageType `json:"type"`
	Message     string      `json:"message"`
	TurnDropped bool        `json:"turn_dropped,omitempty"`
}

type LimitEvent struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type Pong struct {
	Type MessageType `json:"type"`
}

type Ping struct {
	Type MessageType `json:"type"`
}

// ParseClientFrame normalizes a text frame into an Inbound message.
//
// Strategies are tried in order: strict JSON (including legacy objects that
// carry user_input/text without a type), bare command words, query-string
// style key=value frames, and finally raw text as an implicit message.
// A frame that looks like JSON but fails to parse is a protocol violation.
func ParseClientFrame(data []byte) (Inbound, error) {
	t := strings.TrimSpace(string(data))
	if t == "" {
		return Inbound{}, ErrEmptyFrame
	}

	if strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[") {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(t), &obj); err != nil {
			return Inbound{}, ErrInvalidJSON
		}
		if _, ok := obj["type"]; ok {
			var msg Inbound
			if err := json.Unmarshal([]byte(t), &msg); err != nil {
				return Inbound{}, ErrInvalidJSON
			}
			return msg, nil
		}
		// Legacy clients send {"user_input": "..."} or {"text": "..."}.
		if legacy, ok := parseLegacyObject(obj); ok {
			return legacy, nil
		}
		return Inbound{}, ErrInvalidJSON
	}

	switch strings.ToLower(t) {
	case "ping":
		return Inbound{Type: TypePing}, nil
	case "open":
		return Inbound{Type: TypeOpen}, nil
	case "close":
		return Inbound{Type: TypeClose}, nil
	}

	if strings.Contains(t, "=") && strings.Contains(t, "&") {
		if msg, ok := parseQueryFrame(t); ok {
			return msg, nil
		}
	}

	return Inbound{Type: TypeMessage, Text: t}, nil
}

func parseLegacyObject(obj map[string]json.RawMessage) (Inbound, bool) {
	text := rawString(obj["user_input"])
	if text == "" {
		text = rawString(obj["text"])
	}
	if text == "" {
		return Inbound{}, false
	}
	msg := Inbound{
		Type:           TypeMessage,
		Text:           text,
		AccessToken:    rawString(obj["access_token"]),
		EmotionLabel:   rawString(obj["emotion_label"]),
		Topic:          rawString(obj["topic"]),
		TriggerSummary: rawString(obj["trigger_summary"]),
		InsightSummary: rawString(obj["insight_summary"]),
	}
	if raw, ok := obj["max_items"]; ok {
		var n int
		if err := json.Unmarshal(raw, &n); err == nil {
			msg.MaxItems = n
		}
	}
	return msg, true
}

func parseQueryFrame(t string) (Inbound, bool) {
	values, err := url.ParseQuery(t)
	if err != nil {
		return Inbound{}, false
	}
	typ := strings.TrimSpace(values.Get("type"))
	if typ == "" {
		return Inbound{}, false
	}
	msg := Inbound{
		Type:           MessageType(typ),
		Text:           values.Get("text"),
		AccessToken:    values.Get("access_token"),
		EmotionLabel:   values.Get("emotion_label"),
		Topic:          values.Get("topic"),
		TriggerSummary: values.Get("trigger_summary"),
		InsightSummary: values.Get("insight_summary"),
	}
	if n, err := strconv.Atoi(values.Get("max_items")); err == nil {
		msg.MaxItems = n
	}
	return msg, true
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
