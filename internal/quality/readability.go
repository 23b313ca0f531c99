package quality

import (
	"math"
	"strings"
	"unicode/utf8"
)

const (
	idealSentenceWords = 12.5
	idealWordRunes     = 4.5
)

// Readability scores text in [0,1] by how close its average sentence length
// (words) and average word length (characters) are to 12.5 and 4.5. Each
// component scores 1 - min(|actual-ideal|/ideal, 1); the result is their mean.
// Empty text, or text with no sentences, scores 0.
func Readability(text string) float64 {
	if text == "" {
		return 0
	}

	var sentences []string
	for _, s := range strings.FieldsFunc(text, isSentenceEnd) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return 0
	}

	sentenceWords := 0
	for _, s := range sentences {
		sentenceWords += len(strings.Fields(s))
	}
	avgSentence := float64(sentenceWords) / float64(len(sentences))

	var avgWord float64
	if words := strings.Fields(text); len(words) > 0 {
		total := 0
		for _, w := range words {
			total += utf8.RuneCountInString(w)
		}
		avgWord = float64(total) / float64(len(words))
	}

	return (deviationScore(avgSentence, idealSentenceWords) + deviationScore(avgWord, idealWordRunes)) / 2
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func deviationScore(actual, ideal float64) float64 {
	return 1 - math.Min(math.Abs(actual-ideal)/ideal, 1)
}
