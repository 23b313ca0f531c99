// Package captioning drives audio through transcription, caption delivery and compliance.
package captioning

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-qos/internal/captions"
	"github.com/lexiqai/caption-qos/internal/compliance"
	"github.com/lexiqai/caption-qos/internal/telephony"
	"github.com/lexiqai/caption-qos/internal/transcription"
)

// VerdictSink receives every rendered verdict
type VerdictSink interface {
	PublishVerdict(ctx context.Context, verdict compliance.Verdict) error
}

// Outcome is everything produced for one audio unit
type Outcome struct {
	Result  transcription.Result `json:"result"`
	Caption captions.Event       `json:"caption"`
	Verdict *compliance.Verdict  `json:"verdict,omitempty"`
}

// Service composes the call, transcription, caption and compliance components
type Service struct {
	calls       *telephony.Manager
	transcripts *transcription.Manager
	captions    *captions.Queue
	evaluator   *compliance.Evaluator
	sink        VerdictSink
	logger      zerolog.Logger

	mu       sync.Mutex
	verdicts []compliance.Verdict

	// per-call locks keep process and deliver of one unit together
	unitMu    sync.Mutex
	unitLocks map[string]*sync.Mutex
}

// NewService creates the pipeline. sink may be nil.
func NewService(
	calls *telephony.Manager,
	transcripts *transcription.Manager,
	queue *captions.Queue,
	evaluator *compliance.Evaluator,
	sink VerdictSink,
	logger zerolog.Logger,
) *Service {
	return &Service{
		calls:       calls,
		transcripts: transcripts,
		captions:    queue,
		evaluator:   evaluator,
		sink:        sink,
		logger:      logger,
		unitLocks:   make(map[string]*sync.Mutex),
	}
}

// Calls exposes the call registry
func (s *Service) Calls() *telephony.Manager { return s.calls }

// Captions exposes the caption queue
func (s *Service) Captions() *captions.Queue { return s.captions }

// StartCall initiates and immediately answers a call
func (s *Service) StartCall(from, to string, t telephony.CallType, language string) (telephony.CallSession, error) {
	call, err := s.calls.Initiate(from, to, t)
	if err != nil {
		return telephony.CallSession{}, err
	}

	answered, err := s.calls.AnswerWithLanguage(call.ID, language)
	if err != nil {
		if _, endErr := s.calls.End(call.ID); endErr != nil {
			s.logger.Warn().Err(endErr).Str("call_id", call.ID).Msg("Failed to end unanswerable call")
		}
		return telephony.CallSession{}, err
	}
	return answered, nil
}

// HandleAudio transcribes one unit, delivers its caption and, when the unit
// carries a reference, evaluates compliance on the end-to-end latency.
// Concurrent calls for the same call ID are handled one at a time, so
// captions are delivered in the order their transcripts were produced.
func (s *Service) HandleAudio(ctx context.Context, callID string, unit transcription.AudioUnit) (Outcome, error) {
	if !s.calls.SendAudio(callID, unit.Data) {
		if _, err := s.calls.Status(callID); err != nil {
			return Outcome{}, err
		}
		return Outcome{}, fmt.Errorf("%w: call %s is not active", telephony.ErrInvalidStateTransition, callID)
	}

	lock := s.unitLock(callID)
	lock.Lock()
	result, err := s.transcripts.Process(ctx, callID, unit)
	if err != nil {
		lock.Unlock()
		return Outcome{}, err
	}

	out := Outcome{
		Result:  result,
		Caption: s.captions.Deliver(callID, result.Transcript, result.Timestamp),
	}
	lock.Unlock()

	if result.Quality == nil {
		return out, nil
	}

	call, err := s.calls.Status(callID)
	if err != nil {
		return out, err
	}

	total := result.LatencyMs + out.Caption.DeliveryLatencyMs
	verdict := s.evaluator.EvaluateCall(call, total, *result.Quality)
	out.Verdict = &verdict

	s.mu.Lock()
	s.verdicts = append(s.verdicts, verdict)
	s.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.PublishVerdict(ctx, verdict); err != nil {
			s.logger.Error().Err(err).Str("call_id", callID).Msg("Failed to publish verdict")
		}
	}

	return out, nil
}

// EndCall ends the call and its transcription session
func (s *Service) EndCall(callID string) (telephony.CallSession, error) {
	return s.calls.End(callID)
}

// PurgeCall forgets an ended call: its record, caption log and verdicts.
// Calls that have not ended are rejected with ErrInvalidStateTransition.
func (s *Service) PurgeCall(callID string) error {
	if err := s.calls.Purge(callID); err != nil {
		return err
	}
	s.captions.Purge(callID)

	s.mu.Lock()
	kept := s.verdicts[:0]
	for _, v := range s.verdicts {
		if v.CallID != callID {
			kept = append(kept, v)
		}
	}
	clear(s.verdicts[len(kept):])
	s.verdicts = kept
	s.mu.Unlock()

	s.unitMu.Lock()
	delete(s.unitLocks, callID)
	s.unitMu.Unlock()

	s.logger.Info().Str("call_id", callID).Msg("Call purged")
	return nil
}

// Verdicts returns the verdicts recorded for callID, or all of them when callID is empty
func (s *Service) Verdicts(callID string) []compliance.Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]compliance.Verdict, 0, len(s.verdicts))
	for _, v := range s.verdicts {
		if callID == "" || v.CallID == callID {
			out = append(out, v)
		}
	}
	return out
}

// Summary aggregates every recorded verdict
func (s *Service) Summary() compliance.Summary {
	return compliance.Aggregate(s.Verdicts(""))
}

// CallSummary aggregates the verdicts of one call
func (s *Service) CallSummary(callID string) compliance.Summary {
	return compliance.Aggregate(s.Verdicts(callID))
}

func (s *Service) unitLock(callID string) *sync.Mutex {
	s.unitMu.Lock()
	defer s.unitMu.Unlock()

	lock, ok := s.unitLocks[callID]
	if !ok {
		lock = &sync.Mutex{}
		s.unitLocks[callID] = lock
	}
	return lock
}
