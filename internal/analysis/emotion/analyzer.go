package emotion

import (
	"sort"
	"strings"
)

// Label 表示情绪分类器输出的标签，与 emotion-english-distilroberta-base 的词表一致。
type Label string

const (
	Neutral  Label = "neutral"
	Joy      Label = "joy"
	Sadness  Label = "sadness"
	Anger    Label = "anger"
	Fear     Label = "fear"
	Surprise Label = "surprise"
	Disgust  Label = "disgust"
)

// Decision 给出情绪识别结果以及命中得分。
type Decision struct {
	Emotion Label
	Score   int
}

var keywordBuckets = map[Label][]string{
	Joy: {
		"happy", "great", "glad", "good", "wonderful", "amazing", "awesome", "excited",
		"love", "loving", "grateful", "thankful", "thanks", "thank you", "proud", "relieved",
		"fantastic", "delighted", "cheerful", "better today", "yay",
	},
	Sadness: {
		"sad", "unhappy", "cry", "crying", "tears", "lonely", "miss", "heartbroken",
		"grief", "grieving", "down", "empty", "upset", "hurt", "sorrow", "lost", "tired of",
	},
	Anger: {
		"angry", "furious", "rage", "mad", "annoyed", "pissed", "irritated", "frustrated",
		"hate", "outraged", "fed up", "sick of",
	},
	Fear: {
		"scared", "afraid", "fear", "terrified", "nervous", "worried", "worry", "frightened",
		"dread", "uneasy", "insecure", "stressed",
	},
	Surprise: {
		"surprised", "shocked", "unexpected", "wow", "can't believe", "cannot believe",
		"no way", "suddenly",
	},
	Disgust: {
		"disgusted", "disgusting", "gross", "revolting", "sickening", "nasty", "repulsed",
	},
}

var punctuationBoost = map[Label]int{
	Joy:      2,
	Surprise: 1,
}

// Analyze 根据关键词命中推断用户话语的情绪，未命中时返回 Neutral。
func Analyze(text string) Decision {
	normalized := strings.TrimSpace(strings.ToLower(text))
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

	// 感叹号只在已有明确情绪时加强正向或惊讶的判断。
	if exclamations := strings.Count(text, "!"); exclamations > 0 && len(scores) > 0 {
		if scores[Joy] > 0 {
			scores[Joy] += exclamations * punctuationBoost[Joy]
		}
		if scores[Surprise] > 0 {
			scores[Surprise] += exclamations * punctuationBoost[Surprise]
		}
	}

	return best(scores)
}

// best 选出得分最高的标签；同分时按标签名排序保证结果确定。
func best(scores map[Label]int) Decision {
	labels := make([]Label, 0, len(scores))
	for label := range scores {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	bestLabel := Neutral
	bestScore := 0
	for _, label := range labels {
		if s := scores[label]; s > bestScore {
			bestScore = s
			bestLabel = label
		}
	}
	return Decision{Emotion: bestLabel, Score: bestScore}
}

func containsWord(text, word string) bool {
	idx := 0
	for {
		pos := strings.Index(text[idx:], word)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(word)
		if isBoundary(text, start-1) && isBoundary(text, end) {
			return true
		}
		idx = start + 1
	}
}

func isBoundary(text string, i int) bool {
	if i < 0 || i >= len(text) {
		return true
	}
	c := text[i]
	return !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '\'')
}
