package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	steps    map[string][]Step
	tasks    []Task
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*Session),
		steps:    make(map[string][]Step),
	}
}

func (s *InMemoryStore) CreateSession(_ context.Context, userID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		StartedAt: time.Now().UTC(),
	}
	s.sessions[sess.ID] = &sess
	return sess, nil
}

func (s *InMemoryStore) GetSession(_ context.Context, id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return *sess, nil
}

func (s *InMemoryStore) StepsBySession(_ context.Context, sessionID string) ([]Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.steps[sessionID]
	out := make([]Step, len(arr))
	copy(out, arr)
	return out, nil
}

func (s *InMemoryStore) RecentSteps(_ context.Context, sessionID string, limit int) ([]Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.steps[sessionID]
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Step, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) CommitTurn(_ context.Context, commit TurnCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[commit.SessionID]; !ok {
		return ErrSessionNotFound
	}

	now := time.Now().UTC()
	records := []Step{
		{
			ID:        uuid.NewString(),
			SessionID: commit.SessionID,
			Order:     commit.UserOrder,
			Kind:      StepKindUser,
			UserText:  commit.UserText,
			CreatedAt: now,
		},
		{
			ID:            uuid.NewString(),
			SessionID:     commit.SessionID,
			Order:         commit.AssistantOrder,
			Kind:          StepKindAssistant,
			AssistantText: commit.AssistantText,
			CreatedAt:     now,
		},
	}
	if commit.AddActivityMarker {
		records = append(records, Step{
			ID:        uuid.NewString(),
			SessionID: commit.SessionID,
			Order:     commit.AssistantOrder + 1,
			Kind:      StepKindActivity,
			CreatedAt: now,
		})
	}
	s.steps[commit.SessionID] = append(s.steps[commit.SessionID], records...)

	if commit.MarkSessionEnded {
		sess := s.sessions[commit.SessionID]
		if sess.EndedAt == nil {
			sess.EndedAt = &now
		}
	}
	return nil
}

func (s *InMemoryStore) CloseSession(_ context.Context, sessionID string, labels CloseLabels) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	now := time.Now().UTC()
	if sess.EndedAt == nil {
		sess.EndedAt = &now
	}
	if labels.EmotionLabel != "" {
		sess.EmotionLabel = labels.EmotionLabel
	}
	if labels.Topic != "" {
		sess.Topic = labels.Topic
	}
	if labels.TriggerSummary != "" {
		sess.TriggerSummary = labels.TriggerSummary
	}
	if labels.InsightSummary != "" {
		sess.InsightSummary = labels.InsightSummary
	}
	return nil
}

func (s *InMemoryStore) MarkSessionEnded(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.EndedAt == nil {
		now := time.Now().UTC()
		sess.EndedAt = &now
	}
	return nil
}

func (s *InMemoryStore) CountUserSteps(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, st := range s.steps[sessionID] {
		if st.Kind == StepKindUser {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) HasActivityMarker(_ context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.steps[sessionID] {
		if st.Kind == StepKindActivity {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) SaveTasks(_ context.Context, tasks []Task) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(tasks))
	for _, task := range tasks {
		if task.ID == "" {
			task.ID = uuid.NewString()
		}
		if task.CreatedAt.IsZero() {
			task.CreatedAt = time.Now().UTC()
		}
		s.tasks = append(s.tasks, task)
		out = append(out, task)
	}
	return out, nil
}

// Tasks returns all saved tasks, oldest first.
func (s *InMemoryStore) Tasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

func (s *InMemoryStore) Close() error { return nil }
