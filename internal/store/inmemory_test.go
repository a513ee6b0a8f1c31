package store

import (
	"context"
	"errors"
	"testing"
)

func TestInMemoryCommitTurnAppendsOrderedSteps(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	sess, err := s.CreateSession(ctx, "user-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	err = s.CommitTurn(ctx, TurnCommit{
		SessionID:      sess.ID,
		UserOrder:      1,
		AssistantOrder: 2,
		UserText:       "오늘 힘들었어",
		AssistantText:  "많이 힘드셨군요",
	})
	if err != nil {
		t.Fatalf("CommitTurn: %v", err)
	}

	steps, err := s.StepsBySession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("StepsBySession: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].Kind != StepKindUser || steps[0].Order != 1 || steps[0].UserText != "오늘 힘들었어" {
		t.Fatalf("unexpected user step %+v", steps[0])
	}
	if steps[1].Kind != StepKindAssistant || steps[1].Order != 2 {
		t.Fatalf("unexpected assistant step %+v", steps[1])
	}
}

func TestInMemoryCommitTurnWithActivityMarker(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	sess, _ := s.CreateSession(ctx, "user-1")

	err := s.CommitTurn(ctx, TurnCommit{
		SessionID:         sess.ID,
		UserOrder:         1,
		AssistantOrder:    2,
		UserText:          "우울해",
		AssistantText:     "쉬어가도 괜찮아요",
		AddActivityMarker: true,
	})
	if err != nil {
		t.Fatalf("CommitTurn: %v", err)
	}

	has, err := s.HasActivityMarker(ctx, sess.ID)
	if err != nil || !has {
		t.Fatalf("HasActivityMarker = %v, %v", has, err)
	}
	steps, _ := s.StepsBySession(ctx, sess.ID)
	if len(steps) != 3 || steps[2].Kind != StepKindActivity || steps[2].Order != 3 {
		t.Fatalf("unexpected marker step layout %+v", steps)
	}
}

func TestInMemoryCommitTurnMarkSessionEnded(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	sess, _ := s.CreateSession(ctx, "")

	err := s.CommitTurn(ctx, TurnCommit{
		SessionID:        sess.ID,
		UserOrder:        1,
		AssistantOrder:   2,
		UserText:         "이제 그만할래",
		AssistantText:    "고마워 오늘 함께 해줘서 잘 지냈어 또 보자",
		MarkSessionEnded: true,
	})
	if err != nil {
		t.Fatalf("CommitTurn: %v", err)
	}
	got, _ := s.GetSession(ctx, sess.ID)
	if got.EndedAt == nil {
		t.Fatal("session not marked ended")
	}

	ended := *got.EndedAt
	if err := s.MarkSessionEnded(ctx, sess.ID); err != nil {
		t.Fatalf("MarkSessionEnded: %v", err)
	}
	got, _ = s.GetSession(ctx, sess.ID)
	if !got.EndedAt.Equal(ended) {
		t.Fatal("ended timestamp overwritten")
	}
}

func TestInMemoryCommitTurnUnknownSession(t *testing.T) {
	s := NewInMemoryStore()
	err := s.CommitTurn(context.Background(), TurnCommit{SessionID: "missing"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestInMemoryRecentStepsReturnsTail(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	sess, _ := s.CreateSession(ctx, "")

	for i := 0; i < 5; i++ {
		if err := s.CommitTurn(ctx, TurnCommit{
			SessionID:      sess.ID,
			UserOrder:      i*2 + 1,
			AssistantOrder: i*2 + 2,
			UserText:       "u",
			AssistantText:  "a",
		}); err != nil {
			t.Fatalf("CommitTurn: %v", err)
		}
	}

	recent, err := s.RecentSteps(ctx, sess.ID, 4)
	if err != nil {
		t.Fatalf("RecentSteps: %v", err)
	}
	if len(recent) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(recent))
	}
	if recent[0].Order != 7 || recent[3].Order != 10 {
		t.Fatalf("unexpected tail window: first %d last %d", recent[0].Order, recent[3].Order)
	}
}

func TestInMemoryCloseSessionSetsLabelsOnce(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	sess, _ := s.CreateSession(ctx, "")

	err := s.CloseSession(ctx, sess.ID, CloseLabels{EmotionLabel: "불안", Topic: "회사"})
	if err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	got, _ := s.GetSession(ctx, sess.ID)
	if got.EndedAt == nil || got.EmotionLabel != "불안" || got.Topic != "회사" {
		t.Fatalf("unexpected session %+v", got)
	}
}

func TestInMemoryCountUserSteps(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	sess, _ := s.CreateSession(ctx, "")

	for i := 0; i < 3; i++ {
		_ = s.CommitTurn(ctx, TurnCommit{
			SessionID:      sess.ID,
			UserOrder:      i*2 + 1,
			AssistantOrder: i*2 + 2,
			UserText:       "u",
			AssistantText:  "a",
		})
	}
	n, err := s.CountUserSteps(ctx, sess.ID)
	if err != nil || n != 3 {
		t.Fatalf("CountUserSteps = %d, %v", n, err)
	}
}

func TestInMemorySaveTasksAssignsIDs(t *testing.T) {
	s := NewInMemoryStore()
	saved, err := s.SaveTasks(context.Background(), []Task{
		{UserID: "user-1", Title: "10분 산책하기"},
		{UserID: "user-1", Title: "따뜻한 차 마시기", Description: "카페인 없는 걸로"},
	})
	if err != nil {
		t.Fatalf("SaveTasks: %v", err)
	}
	if len(saved) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(saved))
	}
	for _, task := range saved {
		if task.ID == "" || task.CreatedAt.IsZero() {
			t.Fatalf("task missing identity: %+v", task)
		}
	}
	if len(s.Tasks()) != 2 {
		t.Fatalf("tasks not persisted: %d", len(s.Tasks()))
	}
}
