package policy

import (
	"strings"

	"github.com/Deepme123/Deep-me-V2/internal/store"
)

// Default distress triggers; overridable via configuration.
var defaultActivityKeywords = []string{
	"우울", "힘들", "지치", "무기력", "번아웃",
	"아무것도 하기 싫", "무기력해", "피곤해 죽", "버티기 힘들",
}

// Step kinds written by analysis-style collaborators that make an activity
// suggestion appropriate on the following turn.
var analysisStepKinds = map[store.StepKind]struct{}{
	"analysis":        {},
	"insight":         {},
	"emotion_summary": {},
}

// ActivityPolicy decides whether a turn should inject an activity
// recommendation. Intentionally conservative: at most once per session,
// never on the warm-up turn.
type ActivityPolicy struct {
	keywords []string
}

func NewActivityPolicy(keywords []string) *ActivityPolicy {
	if len(keywords) == 0 {
		keywords = defaultActivityKeywords
	}
	return &ActivityPolicy{keywords: keywords}
}

// ShouldTrigger reports whether this turn should offer an activity.
// alreadyFired reflects the whole session history, not just the windowed
// slice passed as history.
func (p *ActivityPolicy) ShouldTrigger(alreadyFired bool, history []store.Step, pendingUserText string) bool {
	if alreadyFired {
		return false
	}
	if len(history) == 0 {
		return false
	}
	if _, ok := analysisStepKinds[history[len(history)-1].Kind]; ok {
		return true
	}
	text := strings.ToLower(pendingUserText)
	for _, k := range p.keywords {
		if k != "" && strings.Contains(text, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
