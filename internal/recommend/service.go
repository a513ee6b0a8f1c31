// Package recommend generates and persists activity recommendations from a
// session's recent conversation.
package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Deepme123/Deep-me-V2/internal/llm"
	"github.com/Deepme123/Deep-me-V2/internal/store"
)

const (
	defaultItems      = 3
	maxItems          = 5
	recentStepsLimit  = 10
	maxHistoryChars   = 1000
	jsonOnlyDirective = "출력은 반드시 JSON 배열로만 해. 설명 문장/마크다운/코드블록 없이 " +
		`다음 형식으로만 응답해: [{"title": "...", "description": "..."}, ...]`
)

var (
	ErrNotOwned     = errors.New("session not owned by user")
	ErrNoValidTasks = errors.New("no valid tasks in model output")
	ErrUnparseable  = errors.New("model output is not a JSON array")
)

// PromptSource supplies the task-recommendation instruction.
type PromptSource interface {
	Task() (string, error)
}

// Service turns recent session context into persisted task suggestions.
type Service struct {
	store   store.Store
	gateway *llm.Gateway
	prompts PromptSource
	model   string
}

func NewService(st store.Store, gateway *llm.Gateway, prompts PromptSource, model string) *Service {
	return &Service{store: st, gateway: gateway, prompts: prompts, model: model}
}

type taskPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Recommend builds the prompt from the session's recent steps and labels,
// asks the model for n suggestions, and persists the valid ones.
func (s *Service) Recommend(ctx context.Context, userID, sessionID string, n int) ([]store.Task, error) {
	if n <= 0 {
		n = defaultItems
	}
	if n > maxItems {
		n = maxItems
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != "" && sess.UserID != userID {
		return nil, ErrNotOwned
	}

	steps, err := s.store.RecentSteps(ctx, sessionID, recentStepsLimit)
	if err != nil {
		return nil, fmt.Errorf("load recent steps: %w", err)
	}

	taskPrompt, err := s.prompts.Task()
	if err != nil {
		return nil, err
	}

	req := llm.Request{
		Model:  s.model,
		System: taskPrompt + "\n\n" + jsonOnlyDirective,
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf("컨텍스트:\n%s\n\n추천 개수: %d", contextBlock(sess, steps), n)},
		},
	}
	resp, err := s.gateway.Stream(ctx, req, nil)
	if err != nil {
		return nil, fmt.Errorf("generate recommendations: %w", err)
	}

	parsed, err := parseTaskArray(resp.Text)
	if err != nil {
		return nil, err
	}

	tasks := make([]store.Task, 0, n)
	for _, item := range parsed {
		if len(tasks) >= n {
			break
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		tasks = append(tasks, store.Task{
			UserID:      userID,
			Title:       title,
			Description: strings.TrimSpace(item.Description),
		})
	}
	if len(tasks) == 0 {
		return nil, ErrNoValidTasks
	}

	return s.store.SaveTasks(ctx, tasks)
}

func contextBlock(sess store.Session, steps []store.Step) string {
	var parts []string
	if sess.EmotionLabel != "" {
		parts = append(parts, "감정: "+sess.EmotionLabel)
	}
	if sess.Topic != "" {
		parts = append(parts, "주제: "+sess.Topic)
	}
	if snippet := condenseHistory(steps); snippet != "" {
		parts = append(parts, "최근 대화:\n"+snippet)
	}
	return strings.Join(parts, "\n\n")
}

// condenseHistory renders the steps as dialogue lines and keeps only the
// tail when it exceeds the character budget.
func condenseHistory(steps []store.Step) string {
	var lines []string
	for _, st := range steps {
		if st.UserText == "" && st.AssistantText == "" {
			continue
		}
		lines = append(lines, strings.TrimSpace(
			fmt.Sprintf("유저: %s\nGPT: %s", st.UserText, st.AssistantText)))
	}
	combined := strings.TrimSpace(strings.Join(lines, "\n"))
	runes := []rune(combined)
	if len(runes) <= maxHistoryChars {
		return combined
	}
	return "...\n" + string(runes[len(runes)-maxHistoryChars:])
}

var (
	fenceOpen  = regexp.MustCompile("^```(?:json)?\\s*")
	fenceClose = regexp.MustCompile("\\s*```$")
)

// parseTaskArray accepts the raw model output directly or wrapped in a
// markdown code fence.
func parseTaskArray(raw string) ([]taskPayload, error) {
	raw = strings.TrimSpace(raw)
	stripped := fenceClose.ReplaceAllString(fenceOpen.ReplaceAllString(raw, ""), "")
	for _, candidate := range []string{raw, strings.TrimSpace(stripped)} {
		var parsed []taskPayload
		if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
			return parsed, nil
		}
	}
	return nil, ErrUnparseable
}
