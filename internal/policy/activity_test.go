package policy

import (
	"testing"

	"github.com/Deepme123/Deep-me-V2/internal/store"
)

func TestActivityNeverFiresTwice(t *testing.T) {
	p := NewActivityPolicy(nil)
	history := []store.Step{{Kind: "insight"}}
	if p.ShouldTrigger(true, history, "요즘 너무 우울해") {
		t.Fatal("fired despite existing marker")
	}
}

func TestActivitySkipsEmptyHistory(t *testing.T) {
	p := NewActivityPolicy(nil)
	if p.ShouldTrigger(false, nil, "너무 힘들어") {
		t.Fatal("fired on the warm-up turn")
	}
}

func TestActivityFiresAfterAnalysisStep(t *testing.T) {
	p := NewActivityPolicy(nil)
	for _, kind := range []store.StepKind{"analysis", "insight", "emotion_summary"} {
		history := []store.Step{{Kind: store.StepKindUser}, {Kind: kind}}
		if !p.ShouldTrigger(false, history, "그랬구나") {
			t.Fatalf("did not fire after %s step", kind)
		}
	}
}

func TestActivityFiresOnDistressKeyword(t *testing.T) {
	p := NewActivityPolicy(nil)
	history := []store.Step{{Kind: store.StepKindAssistant}}
	if !p.ShouldTrigger(false, history, "요즘 번아웃이 온 것 같아") {
		t.Fatal("did not fire on distress keyword")
	}
}

func TestActivityStaysQuietOtherwise(t *testing.T) {
	p := NewActivityPolicy(nil)
	history := []store.Step{{Kind: store.StepKindAssistant}}
	if p.ShouldTrigger(false, history, "오늘 날씨 좋았어") {
		t.Fatal("fired without a trigger")
	}
}

func TestActivityCustomKeywords(t *testing.T) {
	p := NewActivityPolicy([]string{"burnout"})
	history := []store.Step{{Kind: store.StepKindAssistant}}
	if !p.ShouldTrigger(false, history, "I think I have Burnout") {
		t.Fatal("custom keyword not matched case-insensitively")
	}
	if p.ShouldTrigger(false, history, "요즘 너무 우울해") {
		t.Fatal("default keywords still active after override")
	}
}
