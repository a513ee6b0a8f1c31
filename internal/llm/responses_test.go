package llm

import (
	"strings"
	"testing"
)

func TestConsumeEventsYieldsOnlyOutputTextDeltas(t *testing.T) {
	body := strings.Join([]string{
		"event: response.created",
		`data: {"type":"response.created"}`,
		"",
		"event: response.output_text.delta",
		`data: {"type":"response.output_text.delta","delta":"안녕"}`,
		"",
		"event: response.reasoning.delta",
		`data: {"type":"response.reasoning.delta","delta":"internal"}`,
		"",
		"event: response.output_text.delta",
		`data: {"type":"response.output_text.delta","delta":"하세요"}`,
		"",
		"event: response.completed",
		`data: {"type":"response.completed"}`,
		"",
	}, "\n")

	a := NewResponsesAdapter("", "")
	var deltas []string
	text, err := a.consumeEvents(strings.NewReader(body), func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("consumeEvents returned error: %v", err)
	}
	if text != "안녕하세요" {
		t.Fatalf("unexpected text %q", text)
	}
	if len(deltas) != 2 || deltas[0] != "안녕" || deltas[1] != "하세요" {
		t.Fatalf("unexpected deltas %v", deltas)
	}
}

func TestConsumeEventsAbortsOnErrorEvent(t *testing.T) {
	body := strings.Join([]string{
		`data: {"type":"response.output_text.delta","delta":"시작"}`,
		`data: {"type":"response.error","error":{"message":"rate limited"}}`,
		`data: {"type":"response.output_text.delta","delta":"이후"}`,
	}, "\n")

	a := NewResponsesAdapter("", "")
	_, err := a.consumeEvents(strings.NewReader(body), nil)
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestConsumeEventsIgnoresMalformedData(t *testing.T) {
	body := strings.Join([]string{
		"data: not-json",
		"data: [DONE]",
		`data: {"type":"response.output_text.delta","delta":"ok"}`,
	}, "\n")

	a := NewResponsesAdapter("", "")
	text, err := a.consumeEvents(strings.NewReader(body), nil)
	if err != nil {
		t.Fatalf("consumeEvents returned error: %v", err)
	}
	if text != "ok" {
		t.Fatalf("unexpected text %q", text)
	}
}
