package store

import (
	"context"
	"errors"
	"time"
)

// StepKind discriminates conversation step records.
type StepKind string

const (
	StepKindUser      StepKind = "user"
	StepKindAssistant StepKind = "assistant"
	// StepKindActivity is a no-text marker flagging that an activity
	// recommendation was offered once in the session.
	StepKindActivity StepKind = "activity_suggest"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is one emotion conversation. Labels are written only at close.
type Session struct {
	ID             string     `json:"session_id"`
	UserID         string     `json:"user_id,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	EmotionLabel   string     `json:"emotion_label,omitempty"`
	Topic          string     `json:"topic,omitempty"`
	TriggerSummary string     `json:"trigger_summary,omitempty"`
	InsightSummary string     `json:"insight_summary,omitempty"`
}

// Step is an append-only conversation record owned by one session.
type Step struct {
	ID            string    `json:"step_id"`
	SessionID     string    `json:"session_id"`
	Order         int       `json:"step_order"`
	Kind          StepKind  `json:"step_type"`
	UserText      string    `json:"user_input,omitempty"`
	AssistantText string    `json:"gpt_response,omitempty"`
	InsightTag    string    `json:"insight_tag,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Task is a persisted activity recommendation.
type Task struct {
	ID          string    `json:"task_id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CloseLabels are the optional derived labels set when a session closes.
type CloseLabels struct {
	EmotionLabel   string
	Topic          string
	TriggerSummary string
	InsightSummary string
}

// TurnCommit is the atomic write unit for one completed turn: the user step,
// the assistant step, an optional trailing activity marker, and an optional
// session-end flag. All rows land or none do.
type TurnCommit struct {
	SessionID         string
	UserOrder         int
	AssistantOrder    int
	UserText          string
	AssistantText     string
	AddActivityMarker bool
	MarkSessionEnded  bool
}

// Store persists sessions, steps, and recommended tasks.
type Store interface {
	CreateSession(ctx context.Context, userID string) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	StepsBySession(ctx context.Context, sessionID string) ([]Step, error)
	RecentSteps(ctx context.Context, sessionID string, limit int) ([]Step, error)
	CommitTurn(ctx context.Context, commit TurnCommit) error
	CloseSession(ctx context.Context, sessionID string, labels CloseLabels) error
	MarkSessionEnded(ctx context.Context, sessionID string) error
	CountUserSteps(ctx context.Context, sessionID string) (int, error)
	HasActivityMarker(ctx context.Context, sessionID string) (bool, error)
	SaveTasks(ctx context.Context, tasks []Task) ([]Task, error)
	Close() error
}
