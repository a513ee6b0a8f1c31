package recommend

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Deepme123/Deep-me-V2/internal/llm"
	"github.com/Deepme123/Deep-me-V2/internal/store"
)

type fixedPrompts struct {
	task string
	err  error
}

func (p fixedPrompts) Task() (string, error) { return p.task, p.err }

type replyAdapter struct {
	reply   string
	lastReq llm.Request
}

func (a *replyAdapter) StreamCompletion(ctx context.Context, req llm.Request, onDelta llm.DeltaHandler) (llm.Response, error) {
	a.lastReq = req
	return llm.Response{Text: a.reply, Model: req.Model}, nil
}

func newTestService(t *testing.T, reply string) (*Service, *store.InMemoryStore, *replyAdapter, store.Session) {
	t.Helper()
	st := store.NewInMemoryStore()
	sess, err := st.CreateSession(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	adapter := &replyAdapter{reply: reply}
	gw := llm.NewGatewayWithAdapters("gpt-4o-mini", nil, adapter, adapter)
	svc := NewService(st, gw, fixedPrompts{task: "활동을 추천해라"}, "gpt-4o-mini")
	return svc, st, adapter, sess
}

func TestRecommendParsesAndPersists(t *testing.T) {
	reply := `[{"title":"10분 산책","description":"가볍게 걷기"},{"title":"차 마시기","description":""}]`
	svc, st, _, sess := newTestService(t, reply)

	tasks, err := svc.Recommend(context.Background(), "user-1", sess.ID, 3)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Title != "10분 산책" || tasks[0].UserID != "user-1" {
		t.Fatalf("unexpected task %+v", tasks[0])
	}
	if len(st.Tasks()) != 2 {
		t.Fatalf("tasks not persisted: %d", len(st.Tasks()))
	}
}

func TestRecommendAcceptsFencedOutput(t *testing.T) {
	reply := "```json\n[{\"title\":\"명상\",\"description\":\"5분\"}]\n```"
	svc, _, _, sess := newTestService(t, reply)

	tasks, err := svc.Recommend(context.Background(), "user-1", sess.ID, 3)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "명상" {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
}

func TestRecommendDiscardsEmptyTitlesAndClampsCount(t *testing.T) {
	reply := `[{"title":""},{"title":"a"},{"title":"b"},{"title":"c"},{"title":"d"},{"title":"e"},{"title":"f"}]`
	svc, _, _, sess := newTestService(t, reply)

	tasks, err := svc.Recommend(context.Background(), "user-1", sess.ID, 99)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(tasks) != 5 {
		t.Fatalf("expected clamp to 5 tasks, got %d", len(tasks))
	}
}

func TestRecommendRejectsNonArrayOutput(t *testing.T) {
	svc, _, _, sess := newTestService(t, `{"title":"object, not array"}`)

	_, err := svc.Recommend(context.Background(), "user-1", sess.ID, 3)
	if !errors.Is(err, ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable, got %v", err)
	}
}

func TestRecommendRejectsAllEmptyTitles(t *testing.T) {
	svc, _, _, sess := newTestService(t, `[{"title":"  "},{"description":"no title"}]`)

	_, err := svc.Recommend(context.Background(), "user-1", sess.ID, 3)
	if !errors.Is(err, ErrNoValidTasks) {
		t.Fatalf("expected ErrNoValidTasks, got %v", err)
	}
}

func TestRecommendRejectsForeignSession(t *testing.T) {
	svc, _, _, sess := newTestService(t, `[{"title":"x"}]`)

	_, err := svc.Recommend(context.Background(), "someone-else", sess.ID, 3)
	if !errors.Is(err, ErrNotOwned) {
		t.Fatalf("expected ErrNotOwned, got %v", err)
	}
}

func TestRecommendBuildsContextFromHistoryAndLabels(t *testing.T) {
	svc, st, adapter, sess := newTestService(t, `[{"title":"x"}]`)
	ctx := context.Background()

	if err := st.CommitTurn(ctx, store.TurnCommit{
		SessionID:      sess.ID,
		UserOrder:      1,
		AssistantOrder: 2,
		UserText:       "회사 일로 불안해",
		AssistantText:  "많이 불안하셨군요",
	}); err != nil {
		t.Fatalf("CommitTurn: %v", err)
	}
	if err := st.CloseSession(ctx, sess.ID, store.CloseLabels{EmotionLabel: "불안", Topic: "회사"}); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}

	if _, err := svc.Recommend(ctx, "user-1", sess.ID, 2); err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	user := adapter.lastReq.Messages[len(adapter.lastReq.Messages)-1].Content
	for _, want := range []string{"감정: 불안", "주제: 회사", "회사 일로 불안해", "추천 개수: 2"} {
		if !strings.Contains(user, want) {
			t.Fatalf("context block missing %q:\n%s", want, user)
		}
	}
	if !strings.Contains(adapter.lastReq.System, "JSON 배열") {
		t.Fatalf("system prompt missing JSON directive:\n%s", adapter.lastReq.System)
	}
}

func TestCondenseHistoryKeepsTail(t *testing.T) {
	long := strings.Repeat("가", 600)
	steps := []store.Step{
		{UserText: long, AssistantText: "a"},
		{UserText: long, AssistantText: "b"},
	}
	got := condenseHistory(steps)
	if !strings.HasPrefix(got, "...\n") {
		t.Fatalf("expected truncation marker, got prefix %q", got[:10])
	}
	if n := len([]rune(got)); n > maxHistoryChars+4 {
		t.Fatalf("condensed history too long: %d runes", n)
	}
}
