package telephony

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-qos/internal/observability"
	"github.com/lexiqai/caption-qos/internal/quality"
)

// Transcriber attaches a transcription session to an answered call
type Transcriber interface {
	Start(callID, language string, t quality.Thresholds) (string, error)
	End(callID string)
}

// ThresholdsFunc picks the quality thresholds for a call type
type ThresholdsFunc func(CallType) quality.Thresholds

type entry struct {
	mu   sync.Mutex
	call CallSession
}

// Manager is the registry of calls
type Manager struct {
	transcriber Transcriber
	thresholds  ThresholdsFunc
	language    string
	logger      zerolog.Logger
	now         func() time.Time

	mu    sync.RWMutex
	calls map[string]*entry
}

// Option configures a Manager
type Option func(*Manager)

// WithTranscriber starts and ends transcription sessions alongside calls
func WithTranscriber(t Transcriber) Option {
	return func(m *Manager) { m.transcriber = t }
}

// WithThresholds sets the per-type thresholds handed to new transcription sessions
func WithThresholds(f ThresholdsFunc) Option {
	return func(m *Manager) { m.thresholds = f }
}

// WithLanguage sets the transcription language used when a call does not specify one
func WithLanguage(language string) Option {
	return func(m *Manager) { m.language = language }
}

// NewManager creates an empty call registry
func NewManager(logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		thresholds: func(CallType) quality.Thresholds { return quality.DefaultThresholds() },
		language:   "en-US",
		logger:     logger,
		now:        time.Now,
		calls:      make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initiate registers a new call and starts it ringing
func (m *Manager) Initiate(from, to string, t CallType) (CallSession, error) {
	if from == "" || to == "" {
		return CallSession{}, fmt.Errorf("%w: from and to are required", ErrMalformedInput)
	}
	if t != Standard && t != Emergency {
		return CallSession{}, fmt.Errorf("%w: %s", ErrMalformedInput, t)
	}

	call := CallSession{
		ID:        "call-" + uuid.New().String(),
		From:      from,
		To:        to,
		Type:      t,
		Status:    Initiating,
		Priority:  Normal,
		CreatedAt: m.now(),
	}
	if t == Emergency {
		call.Priority = High
	}
	call.Status = Ringing

	m.mu.Lock()
	m.calls[call.ID] = &entry{call: call}
	m.mu.Unlock()

	observability.RecordCallInitiated(t.String())
	m.logger.Info().
		Str("call_id", call.ID).
		Str("call_type", t.String()).
		Str("priority", call.Priority.String()).
		Msg("Call initiated")

	return call, nil
}

// Answer activates a ringing call and starts its transcription session.
// Answering an active call returns it unchanged.
func (m *Manager) Answer(callID string) (CallSession, error) {
	return m.AnswerWithLanguage(callID, "")
}

// AnswerWithLanguage is Answer with an explicit transcription language
func (m *Manager) AnswerWithLanguage(callID, language string) (CallSession, error) {
	e, err := m.lookup(callID)
	if err != nil {
		return CallSession{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.call.Status {
	case Active:
		return m.snapshot(e.call), nil
	case Ended:
		return CallSession{}, fmt.Errorf("%w: cannot answer %s call %s", ErrInvalidStateTransition, e.call.Status, callID)
	}

	if language == "" {
		language = m.language
	}

	if m.transcriber != nil {
		sessionID, err := m.transcriber.Start(callID, language, m.thresholds(e.call.Type))
		if err != nil {
			return CallSession{}, fmt.Errorf("failed to start transcription for call %s: %w", callID, err)
		}
		e.call.TranscriptionSessionID = sessionID
	}

	e.call.Status = Active
	e.call.AnsweredAt = m.now()

	observability.RecordCallAnswered(e.call.Type.String(), e.call.TimeToAnswer())
	m.logger.Info().
		Str("call_id", callID).
		Dur("time_to_answer", e.call.TimeToAnswer()).
		Str("transcription_session_id", e.call.TranscriptionSessionID).
		Msg("Call answered")

	return m.snapshot(e.call), nil
}

// SendAudio reports whether the call accepts audio, which is only while Active
func (m *Manager) SendAudio(callID string, audio []byte) bool {
	e, err := m.lookup(callID)
	if err != nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.call.Status == Active
}

// End terminates a call and its transcription session. Ending an ended call returns it unchanged.
func (m *Manager) End(callID string) (CallSession, error) {
	e, err := m.lookup(callID)
	if err != nil {
		return CallSession{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.call.Status == Ended {
		return e.call, nil
	}

	now := m.now()
	e.call.Status = Ended
	e.call.EndedAt = now
	if e.call.Answered() {
		e.call.Duration = now.Sub(e.call.AnsweredAt)
	}

	if m.transcriber != nil {
		m.transcriber.End(callID)
	}

	observability.RecordCallEnded(e.call.Type.String(), e.call.Answered(), e.call.Duration)
	m.logger.Info().
		Str("call_id", callID).
		Bool("answered", e.call.Answered()).
		Dur("duration", e.call.Duration).
		Msg("Call ended")

	return e.call, nil
}

// Status returns a snapshot of the call
func (m *Manager) Status(callID string) (CallSession, error) {
	e, err := m.lookup(callID)
	if err != nil {
		return CallSession{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return m.snapshot(e.call), nil
}

// Metrics summarizes the call
func (m *Manager) Metrics(callID string) (CallMetrics, error) {
	call, err := m.Status(callID)
	if err != nil {
		return CallMetrics{}, err
	}

	return CallMetrics{
		CallID:       call.ID,
		Status:       call.Status,
		Type:         call.Type,
		Emergency:    call.Type == Emergency,
		Duration:     call.Duration,
		TimeToAnswer: call.TimeToAnswer(),
	}, nil
}

// Purge forgets an ended call
func (m *Manager) Purge(callID string) error {
	e, err := m.lookup(callID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	status := e.call.Status
	e.mu.Unlock()

	if status != Ended {
		return fmt.Errorf("%w: cannot purge %s call %s", ErrInvalidStateTransition, status, callID)
	}

	m.mu.Lock()
	delete(m.calls, callID)
	m.mu.Unlock()
	return nil
}

// List returns snapshots of all known calls, oldest first
func (m *Manager) List() []CallSession {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.calls))
	for _, e := range m.calls {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	calls := make([]CallSession, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		calls = append(calls, m.snapshot(e.call))
		e.mu.Unlock()
	}

	sort.Slice(calls, func(i, j int) bool {
		if calls[i].CreatedAt.Equal(calls[j].CreatedAt) {
			return calls[i].ID < calls[j].ID
		}
		return calls[i].CreatedAt.Before(calls[j].CreatedAt)
	})
	return calls
}

// ActiveCount returns the number of calls currently Active
func (m *Manager) ActiveCount() int {
	count := 0
	for _, c := range m.List() {
		if c.Status == Active {
			count++
		}
	}
	return count
}

func (m *Manager) lookup(callID string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.calls[callID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}
	return e, nil
}

// snapshot copies the call, filling in the running duration of an active call
func (m *Manager) snapshot(call CallSession) CallSession {
	if call.Status == Active {
		call.Duration = m.now().Sub(call.AnsweredAt)
	}
	return call
}
