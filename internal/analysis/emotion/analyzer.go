package emotion

import (
	"strings"
)

// Decision 是关键词启发式的打分结果。
type Decision struct {
	Emotion Label
	Score   int
}

var keywordBuckets = map[Label][]string{
	Joy: {
		"开心", "高兴", "喜悦", "快乐", "太好了", "太棒了", "真棒", "哈哈", "满意", "好耶",
		"happy", "glad", "great", "awesome", "amazing", "wonderful", "delighted", "good news",
	},
	Sadness: {
		"难过", "伤心", "失落", "沮丧", "悲伤", "哭", "痛苦", "寂寞", "孤单", "心碎", "低落", "委屈",
		"sad", "unhappy", "cry", "crying", "depressed", "lonely", "down", "hopeless", "miserable",
	},
	Anger: {
		"生气", "愤怒", "火大", "气死", "烦死", "受够了", "气愤", "抓狂", "气炸",
		"angry", "furious", "rage", "mad", "pissed", "frustrated", "frustrating", "hate",
	},
	Fear: {
		"害怕", "担心", "焦虑", "恐惧", "紧张", "不安", "慌",
		"afraid", "scared", "anxious", "worried", "nervous", "panic", "terrified", "fear",
	},
	Surprise: {
		"惊讶", "没想到", "居然", "竟然", "哇",
		"surprise", "surprised", "unexpected", "wow", "can't believe", "shocked",
	},
	Disgust: {
		"恶心", "讨厌", "反感", "厌恶",
		"disgusting", "gross", "disgusted", "revolting", "sick of",
	},
	Gratitude: {
		"谢谢", "感谢", "感激",
		"thanks", "thank you", "grateful", "appreciate",
	},
	Love: {
		"喜欢", "爱", "想念",
		"love", "adore", "miss you",
	},
	Nervousness: {
		"忐忑", "心慌",
		"on edge", "jittery", "uneasy",
	},
	Disappointment: {
		"失望", "白费",
		"disappointed", "let down", "letdown",
	},
	Confusion: {
		"困惑", "不明白", "搞不懂", "迷茫",
		"confused", "don't understand", "lost", "unsure",
	},
}

var punctuationBoost = map[Label]int{
	Surprise: 2,
	Joy:      1,
}

// Analyze 根据用户话语推断文本情绪。没有任何线索时返回 neutral。
func Analyze(utterance string) Decision {
	normalized := strings.TrimSpace(strings.ToLower(utterance))
	if normalized == "" {
		return Decision{Emotion: Neutral}
	}

	scores := make(map[Label]int)
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if containsWord(normalized, word) {
				scores[label] += 3
			}
		}
	}

	exclamations := strings.Count(utterance, "!") + strings.Count(utterance, "！")
	if exclamations > 1 {
		scores[Surprise] += exclamations * punctuationBoost[Surprise]
	} else if exclamations == 1 {
		scores[Joy] += punctuationBoost[Joy]
	}

	best := Neutral
	bestScore := 0
	for label, s := range scores {
		// 同分时按优先级、再按字母序决出，保证结果稳定。
		if s > bestScore ||
			(s == bestScore && s > 0 && (Priority(label) > Priority(best) ||
				(Priority(label) == Priority(best) && label < best))) {
			best = label
			bestScore = s
		}
	}

	if bestScore == 0 {
		return Decision{Emotion: Neutral}
	}
	return Decision{Emotion: best, Score: bestScore}
}

// Reading converts the decision to a reading; confidence grows with the score.
func (d Decision) Reading() Reading {
	if d.Score <= 0 {
		return NewReading(Neutral, 0.3)
	}
	conf := 0.4 + float64(d.Score)/20
	if conf > 0.9 {
		conf = 0.9
	}
	return NewReading(d.Emotion, conf)
}

// containsWord matches ASCII keywords on word boundaries and CJK keywords as substrings.
func containsWord(text, word string) bool {
	word = strings.ToLower(word)
	if word == "" {
		return false
	}
	if !isASCII(word) {
		return strings.Contains(text, word)
	}
	from := 0
	for {
		idx := strings.Index(text[from:], word)
		if idx < 0 {
			return false
		}
		start := from + idx
		end := start + len(word)
		if (start == 0 || !isWordByte(text[start-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		from = start + 1
	}
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func isWordByte(b byte) bool {
	return b == '\'' || b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
