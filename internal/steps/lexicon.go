package steps

import "regexp"

// Lexicon supplies the language-specific keyword sets driving stage
// advancement. Predicates stay fixed; lexicons can be swapped without
// touching the classifier.
type Lexicon struct {
	GreetingPattern *regexp.Regexp

	Emotion   []string
	Situation []string
	Body      []string
	Thought   []string
	Belief    []string
	Action    []string
	Need      []string

	// Markers matched against assistant text.
	Summary []string
	Reframe []string
}

var defaultGreetingPattern = regexp.MustCompile(
	`^(?i)(안녕(하세요|하세용|하세여)?|하이|헬로|ㅎㅇ|반가워|좋은 (아침|저녁|밤)|굿(모닝|밤))([!.~ ]*)?$`,
)

// DefaultLexicon returns the built-in Korean lexicon.
func DefaultLexicon() Lexicon {
	return Lexicon{
		GreetingPattern: defaultGreetingPattern,
		Emotion: []string{
			"기쁘", "행복", "즐겁", "신나", "편안", "안도",
			"우울", "슬프", "속상", "허전", "외롭",
			"화나", "짜증", "분노", "답답",
			"불안", "초조", "긴장", "걱정", "무섭", "두렵",
			"무기력", "지치", "피곤",
		},
		Situation: []string{
			"때문", "때", "상황", "일", "사건", "회사", "학교", "집",
			"가족", "친구", "연인", "동료", "회의", "통화", "메시지", "시험",
			"요즘", "최근", "오늘", "어제", "이번", "지난",
		},
		Body: []string{
			"숨", "심장", "가슴", "몸", "손", "떨", "땀", "두통",
			"머리", "속", "위", "배", "어깨", "목", "긴장", "눈물", "잠", "식욕",
		},
		Thought: []string{
			"생각", "머리속", "걱정", "떠올", "상상", "마음속", "판단", "결론", "의문",
		},
		Belief: []string{
			"해야", "해야만", "당연", "원래", "항상", "절대", "기준",
			"가치", "중요", "옳", "맞", "틀", "책임", "의무",
		},
		Action: []string{
			"했", "했어", "했다", "하게", "말했", "보냈", "피했", "참았",
			"그만", "돌아", "움직", "행동", "하지", "했다가",
		},
		Need: []string{
			"원해", "바라", "필요", "하고 싶", "했으면", "했으면 좋", "원하는",
		},
		Summary: []string{
			"정리하면", "요약", "한마디로", "종합하면", "요컨대",
		},
		Reframe: []string{
			"다르게 볼", "다른 해석", "새롭게", "새로운 시각", "다른 관점", "재구성",
		},
	}
}
