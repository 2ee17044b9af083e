package safety

import "strings"

// SentimentThreshold — ниже этого значения сцена считается слишком мрачной.
const SentimentThreshold = -0.3

// AnalyzeSentiment оценивает тон текста по ключевым словам.
// Возвращает значение в [-1.0, 1.0]; 0.0 — нейтрально или слов-индикаторов нет.
func AnalyzeSentiment(text string) float64 {
	var score float64
	var count int

	for _, word := range strings.Fields(strings.ToLower(text)) {
		clean := stripPunctuation(word)
		if w, ok := negativeIndicators[clean]; ok {
			score += w
			count++
		} else if w, ok := positiveIndicators[clean]; ok {
			score += w
			count++
		}
	}
	if count == 0 {
		return 0.0
	}

	normalized := score / float64(count)
	if normalized > 1.0 {
		return 1.0
	}
	if normalized < -1.0 {
		return -1.0
	}
	return normalized
}

func stripPunctuation(word string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return -1
	}, word)
}
