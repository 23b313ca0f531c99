// Package stt defines the recognition oracle consumed by transcription sessions.
package stt

import (
	"context"
	"errors"
)

// ErrNoTranscript is returned when the oracle produced nothing for an audio unit.
var ErrNoTranscript = errors.New("no transcript produced")

// Recognition is the oracle's answer for one audio unit
type Recognition struct {
	// Transcript is the recognized text
	Transcript string

	// Confidence is the confidence score (0.0 to 1.0)
	Confidence float64
}

// Recognizer turns an audio unit into text.
//
// reference is the known spoken text when the caller has one (test calls,
// scripted audio). Backends that recognize real audio ignore it.
type Recognizer interface {
	Recognize(ctx context.Context, audio []byte, reference string) (Recognition, error)
}

// Factory creates the recognizer backing one transcription session.
// Recognizers that also implement io.Closer are closed when the session ends.
type Factory func(callID, language string) (Recognizer, error)

// Shared returns a Factory handing every session the same recognizer.
// Sessions never close it, even when r implements io.Closer; its owner does.
func Shared(r Recognizer) Factory {
	shared := sharedRecognizer{r}
	return func(string, string) (Recognizer, error) {
		return shared, nil
	}
}

// sharedRecognizer exposes only Recognize so ending one session cannot close r
type sharedRecognizer struct {
	Recognizer
}
