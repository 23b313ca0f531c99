// Package transcription runs one recognition session per call and scores its output.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-qos/internal/observability"
	"github.com/lexiqai/caption-qos/internal/quality"
	"github.com/lexiqai/caption-qos/internal/stt"
)

var (
	// ErrSessionNotFound is returned when a call has no active transcription session
	ErrSessionNotFound = errors.New("transcription session not found")

	// ErrMalformedInput is returned for unusable identifiers or text
	ErrMalformedInput = quality.ErrMalformedInput
)

// AudioUnit is one chunk of call audio. Reference is the known spoken text, when available.
type AudioUnit struct {
	Data      []byte
	Reference string
}

// Result is the scored outcome of one audio unit
type Result struct {
	CallID     string           `json:"call_id"`
	SessionID  string           `json:"session_id"`
	Transcript string           `json:"transcript"`
	LatencyMs  float64          `json:"latency_ms"`
	Confidence float64          `json:"confidence"`
	Timestamp  time.Time        `json:"timestamp"`
	Quality    *quality.Metrics `json:"quality,omitempty"`
}

// Session describes an active transcription session
type Session struct {
	ID         string             `json:"id"`
	CallID     string             `json:"call_id"`
	Language   string             `json:"language"`
	Thresholds quality.Thresholds `json:"thresholds"`
	StartedAt  time.Time          `json:"started_at"`
	Processed  int                `json:"processed"`
}

type session struct {
	info       Session
	recognizer stt.Recognizer
	logger     zerolog.Logger

	mu    sync.Mutex // one unit at a time, in call order
	ended atomic.Bool
}

// Manager owns the transcription sessions of all calls
type Manager struct {
	factory stt.Factory
	logger  zerolog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewManager creates a manager whose sessions get recognizers from factory
func NewManager(factory stt.Factory, logger zerolog.Logger) *Manager {
	return &Manager{
		factory:  factory,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Start opens a session for callID and returns its ID. An existing session
// for the call is replaced and its recognizer closed.
func (m *Manager) Start(callID, language string, t quality.Thresholds) (string, error) {
	if callID == "" {
		return "", fmt.Errorf("%w: empty call ID", ErrMalformedInput)
	}

	recognizer, err := m.factory(callID, language)
	if err != nil {
		return "", fmt.Errorf("failed to create recognizer: %w", err)
	}

	s := &session{
		info: Session{
			ID:         "asr-" + uuid.New().String(),
			CallID:     callID,
			Language:   language,
			Thresholds: t,
			StartedAt:  m.now(),
		},
		recognizer: recognizer,
		logger:     observability.WithCall(m.logger, callID),
	}

	m.mu.Lock()
	previous := m.sessions[callID]
	m.sessions[callID] = s
	m.mu.Unlock()

	if previous != nil {
		previous.logger.Warn().
			Str("replaced_session_id", previous.info.ID).
			Str("session_id", s.info.ID).
			Msg("Transcription session replaced")
		previous.close()
	}

	s.logger.Info().
		Str("session_id", s.info.ID).
		Str("language", language).
		Msg("Transcription session started")

	return s.info.ID, nil
}

// Process recognizes one audio unit. Oracle failures degrade the result to
// worst-case quality instead of returning an error.
func (m *Manager) Process(ctx context.Context, callID string, unit AudioUnit) (Result, error) {
	s := m.lookup(callID)
	if s == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrSessionNotFound, callID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended.Load() {
		return Result{}, fmt.Errorf("%w: %s", ErrSessionNotFound, callID)
	}

	start := m.now()
	rec, recErr := s.recognizer.Recognize(ctx, unit.Data, unit.Reference)
	done := m.now()
	elapsed := done.Sub(start)

	result := Result{
		CallID:    callID,
		SessionID: s.info.ID,
		LatencyMs: float64(elapsed) / float64(time.Millisecond),
		Timestamp: done,
	}
	s.info.Processed++

	if recErr != nil {
		metrics := quality.WorstCase(fmt.Sprintf("recognition failed: %v", recErr))
		metrics.LatencyMs = result.LatencyMs
		result.Quality = &metrics

		s.logger.Warn().Err(recErr).
			Str("session_id", s.info.ID).
			Msg("Recognition failed, scoring as worst case")
		observability.RecordTranscription(elapsed, true)
		return result, nil
	}

	result.Transcript = rec.Transcript
	result.Confidence = rec.Confidence
	observability.RecordTranscription(elapsed, false)

	if unit.Reference != "" {
		metrics, err := quality.Analyze(unit.Reference, rec.Transcript, result.LatencyMs, s.info.Thresholds)
		if err != nil {
			return Result{}, err
		}
		result.Quality = &metrics
		observability.RecordWordErrorRate(metrics.WER)

		if !metrics.Passed {
			s.logger.Debug().
				Strs("issues", metrics.Issues).
				Float64("wer", metrics.WER).
				Msg("Transcription below thresholds")
		}
	}

	return result, nil
}

// ProcessStream processes units in order and stops at the first error,
// returning the results produced before it.
func (m *Manager) ProcessStream(ctx context.Context, callID string, units []AudioUnit) ([]Result, error) {
	results := make([]Result, 0, len(units))
	for i, unit := range units {
		result, err := m.Process(ctx, callID, unit)
		if err != nil {
			return results, fmt.Errorf("unit %d: %w", i, err)
		}
		results = append(results, result)
	}
	return results, nil
}

// End closes the call's session. Ending a call without a session is a no-op.
func (m *Manager) End(callID string) {
	m.mu.Lock()
	s := m.sessions[callID]
	delete(m.sessions, callID)
	m.mu.Unlock()

	if s == nil {
		return
	}
	s.close()
	s.logger.Info().Str("session_id", s.info.ID).Msg("Transcription session ended")
}

// Session returns a copy of the call's active session
func (m *Manager) Session(callID string) (Session, bool) {
	s := m.lookup(callID)
	if s == nil {
		return Session{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info, true
}

// ActiveCount returns the number of active sessions
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) lookup(callID string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[callID]
}

func (s *session) close() {
	if s.ended.Swap(true) {
		return
	}
	if closer, ok := s.recognizer.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close recognizer")
		}
	}
}
