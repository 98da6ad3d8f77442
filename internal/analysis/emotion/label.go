package emotion

import "strings"

// Label 表示一个情绪标签，取值来自封闭的标签集合。
type Label string

// 面部与文本分类器共享的核心情绪。
const (
	Neutral  Label = "neutral"
	Joy      Label = "joy"
	Sadness  Label = "sadness"
	Anger    Label = "anger"
	Fear     Label = "fear"
	Surprise Label = "surprise"
	Disgust  Label = "disgust"
)

// 文本分类器输出的细粒度情绪。
const (
	Admiration     Label = "admiration"
	Amusement      Label = "amusement"
	Annoyance      Label = "annoyance"
	Approval       Label = "approval"
	Caring         Label = "caring"
	Confusion      Label = "confusion"
	Curiosity      Label = "curiosity"
	Desire         Label = "desire"
	Disappointment Label = "disappointment"
	Disapproval    Label = "disapproval"
	Embarrassment  Label = "embarrassment"
	Excitement     Label = "excitement"
	Gratitude      Label = "gratitude"
	Grief          Label = "grief"
	Love           Label = "love"
	Nervousness    Label = "nervousness"
	Optimism       Label = "optimism"
	Pride          Label = "pride"
	Realization    Label = "realization"
	Relief         Label = "relief"
	Remorse        Label = "remorse"
)

var known = map[Label]struct{}{
	Neutral: {}, Joy: {}, Sadness: {}, Anger: {}, Fear: {}, Surprise: {}, Disgust: {},
	Admiration: {}, Amusement: {}, Annoyance: {}, Approval: {}, Caring: {}, Confusion: {},
	Curiosity: {}, Desire: {}, Disappointment: {}, Disapproval: {}, Embarrassment: {},
	Excitement: {}, Gratitude: {}, Grief: {}, Love: {}, Nervousness: {}, Optimism: {},
	Pride: {}, Realization: {}, Relief: {}, Remorse: {},
}

// Labels lists the whole set, core emotions first.
func Labels() []Label {
	return []Label{
		Neutral, Joy, Sadness, Anger, Fear, Surprise, Disgust,
		Admiration, Amusement, Annoyance, Approval, Caring, Confusion, Curiosity,
		Desire, Disappointment, Disapproval, Embarrassment, Excitement, Gratitude,
		Grief, Love, Nervousness, Optimism, Pride, Realization, Relief, Remorse,
	}
}

// face classifiers report adjectives; map them onto the shared nouns.
var aliases = map[string]Label{
	"happy":     Joy,
	"happiness": Joy,
	"sad":       Sadness,
	"angry":     Anger,
	"surprised": Surprise,
	"fearful":   Fear,
	"scared":    Fear,
	"disgusted": Disgust,
	"calm":      Neutral,
	"no_face":   Neutral,
}

// Normalize 将任意分类器输出映射到标签集合，未知或空值一律视为 neutral。
func Normalize(raw string) Label {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return Neutral
	}
	if l, ok := aliases[s]; ok {
		return l
	}
	if _, ok := known[Label(s)]; ok {
		return Label(s)
	}
	return Neutral
}

// Known reports whether raw names a label (or alias) of the set.
func Known(raw string) bool {
	s := strings.ToLower(strings.TrimSpace(raw))
	if _, ok := aliases[s]; ok {
		return true
	}
	_, ok := known[Label(s)]
	return ok
}

// Priority 返回融合时使用的优先级：悲伤/愤怒/恐惧为 3，喜悦/惊讶/厌恶为 2，其余为 1。
func Priority(l Label) int {
	switch l {
	case Sadness, Anger, Fear:
		return 3
	case Joy, Surprise, Disgust:
		return 2
	default:
		return 1
	}
}

// Family collapses fine-grained labels onto the seven core emotions.
func Family(l Label) Label {
	switch l {
	case Sadness, Grief, Disappointment, Remorse, Embarrassment:
		return Sadness
	case Anger, Annoyance, Disapproval:
		return Anger
	case Fear, Nervousness:
		return Fear
	case Joy, Amusement, Excitement, Gratitude, Love, Optimism, Pride, Relief, Admiration, Approval, Caring:
		return Joy
	case Surprise, Realization, Confusion, Curiosity:
		return Surprise
	case Disgust:
		return Disgust
	default:
		return Neutral
	}
}

// Reading 是单个模态的分类结果。Confidence 为 nil 表示未跟踪置信度。
type Reading struct {
	Label      Label    `json:"label"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// NewReading builds a reading with a tracked confidence clamped to [0,1].
func NewReading(label Label, confidence float64) Reading {
	c := clampUnit(confidence)
	return Reading{Label: label, Confidence: &c}
}

// NeutralReading is what a failed or empty classification degrades to.
func NeutralReading() Reading {
	return NewReading(Neutral, 0)
}

// Normalized returns a copy whose label is guaranteed to be in the set.
func (r Reading) Normalized() Reading {
	out := Reading{Label: Normalize(string(r.Label))}
	if r.Confidence != nil {
		c := clampUnit(*r.Confidence)
		out.Confidence = &c
	}
	return out
}

// ConfidenceOr returns the tracked confidence or def.
func (r Reading) ConfidenceOr(def float64) float64 {
	if r.Confidence == nil {
		return def
	}
	return *r.Confidence
}

func clampUnit(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
