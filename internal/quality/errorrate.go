// Package quality scores caption text against a reference transcript.
//
// All functions are pure: they hold no state and are safe for concurrent use.
package quality

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrMalformedInput is returned when a reference or hypothesis is not valid UTF-8 text.
var ErrMalformedInput = errors.New("malformed input")

// WordErrorRate returns (substitutions + deletions + insertions) / N over
// whitespace-separated words, where N is the number of reference words.
//
// The result is clamped to [0,1]. A reference with no words yields 1.0.
func WordErrorRate(reference, hypothesis string) (float64, error) {
	if err := validate(reference, hypothesis); err != nil {
		return 1.0, err
	}
	return errorRate(strings.Fields(reference), strings.Fields(hypothesis)), nil
}

// CharErrorRate is WordErrorRate at character granularity. Whitespace runs
// collapse to a single space and leading/trailing whitespace is ignored.
func CharErrorRate(reference, hypothesis string) (float64, error) {
	if err := validate(reference, hypothesis); err != nil {
		return 1.0, err
	}
	return errorRate(runes(reference), runes(hypothesis)), nil
}

// Accuracy returns 1 - WordErrorRate.
func Accuracy(reference, hypothesis string) (float64, error) {
	wer, err := WordErrorRate(reference, hypothesis)
	if err != nil {
		return 0, err
	}
	return 1 - wer, nil
}

func validate(reference, hypothesis string) error {
	if !utf8.ValidString(reference) {
		return fmt.Errorf("%w: reference is not valid UTF-8", ErrMalformedInput)
	}
	if !utf8.ValidString(hypothesis) {
		return fmt.Errorf("%w: hypothesis is not valid UTF-8", ErrMalformedInput)
	}
	return nil
}

func runes(s string) []rune {
	return []rune(strings.Join(strings.Fields(s), " "))
}

func errorRate[T comparable](reference, hypothesis []T) float64 {
	if len(reference) == 0 {
		return 1.0
	}
	rate := float64(editDistance(reference, hypothesis)) / float64(len(reference))
	if rate > 1 {
		return 1.0
	}
	return rate
}

// editDistance is the Levenshtein distance with unit costs, computed with two rows.
func editDistance[T comparable](a, b []T) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
