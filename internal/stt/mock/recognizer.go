// Package mock provides a deterministic recognizer for tests and local runs.
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lexiqai/caption-qos/internal/stt"
)

const (
	// SimulatedTranscript is returned for units without a reference
	SimulatedTranscript = "Simulated transcription from ASR"

	// DefaultConfidence is reported for every successful recognition
	DefaultConfidence = 0.95
)

// Recognizer echoes the reference text back, optionally rewritten by scripted substitutions.
// Script entries are consumed in order, one per Recognize call.
type Recognizer struct {
	// Delay is slept before answering, honoring ctx
	Delay time.Duration

	mu     sync.Mutex
	script []Step
	calls  int
}

// Step scripts one recognition. A non-nil Err fails the call; otherwise
// Replace maps reference words to the words the recognizer "hears".
type Step struct {
	Replace map[string]string
	Err     error
}

// New returns a recognizer that runs the given steps before falling back to plain echo
func New(steps ...Step) *Recognizer {
	return &Recognizer{script: steps}
}

// Recognize implements stt.Recognizer
func (r *Recognizer) Recognize(ctx context.Context, _ []byte, reference string) (stt.Recognition, error) {
	r.mu.Lock()
	r.calls++
	var step Step
	if len(r.script) > 0 {
		step, r.script = r.script[0], r.script[1:]
	}
	r.mu.Unlock()

	if r.Delay > 0 {
		timer := time.NewTimer(r.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return stt.Recognition{}, ctx.Err()
		case <-timer.C:
		}
	}

	if step.Err != nil {
		return stt.Recognition{}, step.Err
	}

	if reference == "" {
		return stt.Recognition{Transcript: SimulatedTranscript, Confidence: DefaultConfidence}, nil
	}

	transcript := reference
	if len(step.Replace) > 0 {
		words := strings.Fields(reference)
		for i, w := range words {
			if sub, ok := step.Replace[w]; ok {
				words[i] = sub
			}
		}
		transcript = strings.Join(words, " ")
	}

	return stt.Recognition{Transcript: transcript, Confidence: DefaultConfidence}, nil
}

// Calls returns how many times Recognize ran
func (r *Recognizer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
