// Package steps computes conversation progress through the fixed 11-stage
// emotion exploration script. The stage is never stored as canonical state;
// it is recomputed from the full step history, which keeps classification
// deterministic and monotonically non-decreasing over history prefixes.
package steps

import (
	"fmt"
	"strings"

	"github.com/Deepme123/Deep-me-V2/internal/store"
)

const (
	// MaxStage is the terminal closing stage.
	MaxStage = 11

	// EndSessionToken is the literal sentinel the model may emit to signal
	// the conversation is finished.
	EndSessionToken = "__END_SESSION__"
)

var farewellWords = []string{
	"고마워", "오늘", "함께", "해줘서", "잘", "지냈어", "또", "보자",
}

type stageMeta struct {
	stage   int
	name    string
	focus   string
	advance func(c *Classifier, userText, assistantText string) bool
}

// Classifier derives the conversation stage from step history using a
// configurable lexicon.
type Classifier struct {
	lex              Lexicon
	softTimeoutTurns int
	metas            []stageMeta
}

func NewClassifier(lex Lexicon, softTimeoutTurns int) *Classifier {
	if softTimeoutTurns < 1 {
		softTimeoutTurns = 1
	}
	c := &Classifier{lex: lex, softTimeoutTurns: softTimeoutTurns}
	c.metas = []stageMeta{
		{1, "인사", "관계 신호를 열고 다음 탐색으로 연결", advanceGreeting},
		{2, "감정", "느낌을 명확히 드러내는 단계", userHasAny(func(l Lexicon) []string { return l.Emotion })},
		{3, "상황", "감정을 유발한 상황을 구체화", userHasAny(func(l Lexicon) []string { return l.Situation })},
		{4, "신체반응", "몸의 반응을 탐색", userHasAny(func(l Lexicon) []string { return l.Body })},
		{5, "생각", "떠오르는 생각을 탐색", userHasAny(func(l Lexicon) []string { return l.Thought })},
		{6, "생각 아래 기준", "기준/가치/의무를 드러냄", userHasAny(func(l Lexicon) []string { return l.Belief })},
		{7, "이후 행동", "그 다음 행동을 확인", userHasAny(func(l Lexicon) []string { return l.Action })},
		{8, "요약", "흐름을 정리", assistantHasAny(func(l Lexicon) []string { return l.Summary })},
		{9, "욕구", "원하는 것/필요를 드러냄", userHasAny(func(l Lexicon) []string { return l.Need })},
		{10, "부정적인 감정 재구성", "다른 관점 제안", assistantHasAny(func(l Lexicon) []string { return l.Reframe })},
		{11, "마무리", "대화를 정리하고 마침", func(*Classifier, string, string) bool { return false }},
	}
	return c
}

func advanceGreeting(c *Classifier, userText, _ string) bool {
	return !c.isGreetingOnly(userText)
}

func userHasAny(pick func(Lexicon) []string) func(*Classifier, string, string) bool {
	return func(c *Classifier, userText, _ string) bool {
		return hasAny(userText, pick(c.lex))
	}
}

func assistantHasAny(pick func(Lexicon) []string) func(*Classifier, string, string) bool {
	return func(c *Classifier, _, assistantText string) bool {
		return hasAny(assistantText, pick(c.lex))
	}
}

func (c *Classifier) isGreetingOnly(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return true
	}
	if c.lex.GreetingPattern == nil {
		return false
	}
	return c.lex.GreetingPattern.MatchString(t)
}

func hasAny(text string, keywords []string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func clampStage(stage int) int {
	if stage < 1 {
		return 1
	}
	if stage > MaxStage {
		return MaxStage
	}
	return stage
}

// advance applies the current stage's predicate once. Stage 11 is terminal.
func (c *Classifier) advance(stage int, userText, assistantText string) int {
	stage = clampStage(stage)
	if stage >= MaxStage {
		return MaxStage
	}
	meta := c.metas[stage-1]
	if meta.advance(c, strings.TrimSpace(userText), strings.TrimSpace(assistantText)) {
		return stage + 1
	}
	return stage
}

// Classify walks the history and returns the current stage plus the number
// of consecutive completed rounds that failed to advance it. Pure and
// deterministic: the same history always yields the same result.
func (c *Classifier) Classify(history []store.Step) (stage, stagnantTurns int) {
	stage = 1
	pendingUser := ""
	for _, s := range history {
		switch s.Kind {
		case store.StepKindUser:
			pendingUser = s.UserText
		case store.StepKindAssistant:
			before := stage
			afterUser := c.advance(stage, pendingUser, "")
			if afterUser != stage {
				stage = afterUser
			} else {
				stage = c.advance(stage, pendingUser, s.AssistantText)
			}
			if stage == before {
				stagnantTurns++
			} else {
				stagnantTurns = 0
			}
			pendingUser = ""
		default:
			// Activity markers carry no text and never affect the stage.
		}
	}
	return clampStage(stage), stagnantTurns
}

// ForPrompt returns the stage to inject into the next prompt: the history
// stage, advanced at most once by applying the current stage's own predicate
// to the pending user text. The pending text is always checked against the
// current stage, never a later one, so a first message rich in emotion
// words still has to pass the greeting predicate before stage 2 is possible.
func (c *Classifier) ForPrompt(history []store.Step, pendingUserText string) int {
	stage, _ := c.Classify(history)
	return c.advance(stage, pendingUserText, "")
}

// AfterTurn returns the stage recorded for a completed turn: the user-text
// check first, falling back to the assistant-text check.
func (c *Classifier) AfterTurn(history []store.Step, userText, assistantText string) int {
	stage, _ := c.Classify(history)
	afterUser := c.advance(stage, userText, "")
	if afterUser != stage {
		return afterUser
	}
	return c.advance(stage, userText, assistantText)
}

// StageName returns the display name for a stage.
func (c *Classifier) StageName(stage int) string {
	return c.metas[clampStage(stage)-1].name
}

// StageContext builds the prompt block describing the current stage.
func (c *Classifier) StageContext(stage int) string {
	meta := c.metas[clampStage(stage)-1]
	return fmt.Sprintf("[CURRENT STEP]\nstep: %d/%d\nname: %s\nfocus: %s",
		meta.stage, MaxStage, meta.name, meta.focus)
}

// EndSessionContext builds the closing-stage prompt block, or "" before
// stage 11.
func (c *Classifier) EndSessionContext(stage int) string {
	if clampStage(stage) < MaxStage {
		return ""
	}
	return "[SESSION END]\n" +
		"rule: send the farewell exactly once and include the token exactly once.\n" +
		"farewell: " + FixedFarewell() + "\n" +
		"token: " + EndSessionToken
}

var softHints = map[int]string{
	1:  "Keep greeting short, then invite a small next share without pressing.",
	2:  "Name the feeling softly and mirror the intensity; offer 2 gentle labels.",
	3:  "Anchor in a concrete moment; if needed, ask for one specific scene.",
	4:  "Link feeling to body cues; prompt one bodily signal if stuck.",
	5:  "Surface the thought in simple words; reflect with a short paraphrase.",
	6:  "Point to a possible standard/value; offer a light guess, not a claim.",
	7:  "Notice what they did or avoided; connect it to the feeling.",
	8:  "Give a brief recap; avoid new questions unless needed.",
	9:  "Elicit a want/need; suggest two options to choose from.",
	10: "Offer a reframe as a tentative alternative; ask for confirmation only.",
	11: "Close gently; reinforce that it's okay to pause and hold.",
}

// SoftTimeoutHint returns a stage-holding style hint once the conversation
// has stagnated for the configured number of rounds, or "" otherwise. The
// hint influences generation style only; it never advances the stage.
func (c *Classifier) SoftTimeoutHint(history []store.Step, pendingUserText string) string {
	_, stagnant := c.Classify(history)
	if stagnant < c.softTimeoutTurns {
		return ""
	}
	stage := c.ForPrompt(history, pendingUserText)
	hint, ok := softHints[stage]
	if !ok {
		hint = "Vary reflection and keep the pace gentle."
	}
	return fmt.Sprintf("[SOFT TIMEOUT]\nstagnant_turns: %d\nrule: keep the current step; change response strategy only.\nhint: %s",
		stagnant, hint)
}

// ExtractEndSessionToken strips the end-of-session sentinel from text and
// reports whether it was present.
func ExtractEndSessionToken(text string) (string, bool) {
	if !strings.Contains(text, EndSessionToken) {
		return text, false
	}
	cleaned := strings.TrimSpace(strings.ReplaceAll(text, EndSessionToken, ""))
	return cleaned, true
}

// FixedFarewell is the exact message substituted for the model output on the
// closing turn.
func FixedFarewell() string {
	return strings.Join(farewellWords, " ")
}
