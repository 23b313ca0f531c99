package captioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-qos/internal/captions"
	"github.com/lexiqai/caption-qos/internal/compliance"
	"github.com/lexiqai/caption-qos/internal/stt"
	"github.com/lexiqai/caption-qos/internal/stt/mock"
	"github.com/lexiqai/caption-qos/internal/telephony"
	"github.com/lexiqai/caption-qos/internal/transcription"
)

type recordingVerdicts struct {
	mu       sync.Mutex
	verdicts []compliance.Verdict
}

func (r *recordingVerdicts) PublishVerdict(_ context.Context, v compliance.Verdict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verdicts = append(r.verdicts, v)
	return nil
}

func newTestService(r stt.Recognizer, sink VerdictSink) *Service {
	logger := zerolog.Nop()
	profiles := compliance.DefaultProfiles()
	transcripts := transcription.NewManager(stt.Shared(r), logger)
	calls := telephony.NewManager(logger,
		telephony.WithTranscriber(transcripts),
		telephony.WithThresholds(profiles.ThresholdsFor),
	)
	return NewService(
		calls,
		transcripts,
		captions.NewQueue(nil, logger),
		compliance.NewEvaluator(profiles, 2*time.Second, logger),
		sink,
		logger,
	)
}

func TestHandleAudio_EndToEnd(t *testing.T) {
	sink := &recordingVerdicts{}
	svc := newTestService(mock.New(), sink)

	call, err := svc.StartCall("+15551234567", "911", telephony.Emergency, "en-US")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if call.Status != telephony.Active {
		t.Fatalf("Expected active call, got %s", call.Status)
	}

	out, err := svc.HandleAudio(context.Background(), call.ID, transcription.AudioUnit{
		Data:      []byte{0x7f},
		Reference: "I need an ambulance",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.Caption.Text != "I need an ambulance" || out.Caption.Sequence != 0 {
		t.Errorf("Unexpected caption: %+v", out.Caption)
	}
	if out.Verdict == nil || !out.Verdict.Passed {
		t.Fatalf("Expected passing verdict, got %+v", out.Verdict)
	}
	if out.Verdict.Profile != "emergency" {
		t.Errorf("Expected emergency profile, got %q", out.Verdict.Profile)
	}
	if out.Verdict.TotalLatencyMs != out.Result.LatencyMs+out.Caption.DeliveryLatencyMs {
		t.Errorf("Expected total latency to sum recognition and delivery")
	}
	if len(sink.verdicts) != 1 {
		t.Errorf("Expected verdict published, got %d", len(sink.verdicts))
	}
}

func TestHandleAudio_NoReferenceSkipsVerdict(t *testing.T) {
	svc := newTestService(mock.New(), nil)
	call, _ := svc.StartCall("a", "b", telephony.Standard, "")

	out, err := svc.HandleAudio(context.Background(), call.ID, transcription.AudioUnit{Data: []byte{1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Verdict != nil {
		t.Errorf("Expected no verdict, got %+v", out.Verdict)
	}
	if out.Caption.Text != mock.SimulatedTranscript {
		t.Errorf("Expected simulated caption, got %q", out.Caption.Text)
	}
}

func TestHandleAudio_RejectsInactiveCalls(t *testing.T) {
	svc := newTestService(mock.New(), nil)

	if _, err := svc.HandleAudio(context.Background(), "call-missing", transcription.AudioUnit{}); !errors.Is(err, telephony.ErrCallNotFound) {
		t.Errorf("Expected ErrCallNotFound, got %v", err)
	}

	ringing, _ := svc.Calls().Initiate("a", "b", telephony.Standard)
	if _, err := svc.HandleAudio(context.Background(), ringing.ID, transcription.AudioUnit{}); !errors.Is(err, telephony.ErrInvalidStateTransition) {
		t.Errorf("Expected ErrInvalidStateTransition for ringing call, got %v", err)
	}

	call, _ := svc.StartCall("a", "b", telephony.Standard, "")
	svc.EndCall(call.ID)
	if _, err := svc.HandleAudio(context.Background(), call.ID, transcription.AudioUnit{}); !errors.Is(err, telephony.ErrInvalidStateTransition) {
		t.Errorf("Expected ErrInvalidStateTransition for ended call, got %v", err)
	}
}

func TestHandleAudio_OracleFailureFailsCompliance(t *testing.T) {
	svc := newTestService(mock.New(mock.Step{Err: errors.New("engine down")}), nil)
	call, _ := svc.StartCall("a", "b", telephony.Standard, "")

	out, err := svc.HandleAudio(context.Background(), call.ID, transcription.AudioUnit{Reference: "hello there"})
	if err != nil {
		t.Fatalf("Expected degraded result, got %v", err)
	}
	if out.Verdict == nil || out.Verdict.Passed {
		t.Fatalf("Expected failing verdict, got %+v", out.Verdict)
	}
	if out.Verdict.Accuracy != 0 {
		t.Errorf("Expected zero accuracy, got %f", out.Verdict.Accuracy)
	}
}

func TestSameQualityDiffersByCallType(t *testing.T) {
	// One substituted word in twenty: accuracy 0.95 passes standard, fails emergency
	ref := "one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen sixteen seventeen eighteen nineteen twenty"
	svc := newTestService(mock.New(
		mock.Step{Replace: map[string]string{"seven": "heaven"}},
		mock.Step{Replace: map[string]string{"seven": "heaven"}},
	), nil)

	standard, _ := svc.StartCall("a", "b", telephony.Standard, "")
	emergency, _ := svc.StartCall("a", "911", telephony.Emergency, "")

	s, err := svc.HandleAudio(context.Background(), standard.ID, transcription.AudioUnit{Reference: ref})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e, err := svc.HandleAudio(context.Background(), emergency.ID, transcription.AudioUnit{Reference: ref})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !s.Verdict.Passed {
		t.Errorf("Expected standard call to pass, got %v", s.Verdict.Issues)
	}
	if e.Verdict.Passed {
		t.Error("Expected emergency call to fail")
	}

	summary := svc.Summary()
	if summary.Total != 2 || summary.Passed != 1 {
		t.Errorf("Unexpected summary: %+v", summary)
	}
	if cs := svc.CallSummary(emergency.ID); cs.Total != 1 || cs.Passed != 0 {
		t.Errorf("Unexpected call summary: %+v", cs)
	}
}

func TestEndCall_TearsDownTranscription(t *testing.T) {
	svc := newTestService(mock.New(), nil)
	call, _ := svc.StartCall("a", "b", telephony.Standard, "")

	ended, err := svc.EndCall(call.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ended.Status != telephony.Ended {
		t.Errorf("Expected ended, got %s", ended.Status)
	}
	if svc.transcripts.ActiveCount() != 0 {
		t.Error("Expected transcription session to be gone")
	}
}

func TestConcurrentCallsKeepOwnOrdering(t *testing.T) {
	svc := newTestService(mock.New(), nil)

	const calls, units = 8, 10
	ids := make([]string, calls)
	for i := range ids {
		c, err := svc.StartCall("a", "b", telephony.CallType(i%2), "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ids[i] = c.ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < units; j++ {
				if _, err := svc.HandleAudio(context.Background(), id, transcription.AudioUnit{Reference: "caption text"}); err != nil {
					t.Errorf("call %s: %v", id, err)
					return
				}
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		log := svc.Captions().Log(id)
		if len(log) != units {
			t.Errorf("call %s: expected %d captions, got %d", id, units, len(log))
		}
		if !svc.Captions().Ordered(id) {
			t.Errorf("call %s: expected ordered captions", id)
		}
	}
	if svc.Summary().Total != calls*units {
		t.Errorf("Expected %d verdicts, got %d", calls*units, svc.Summary().Total)
	}
}

func TestAccuracy97PassesStandardFailsEmergency(t *testing.T) {
	// Three substituted words in a hundred: accuracy 0.97
	words := make([]string, 100)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	ref := strings.Join(words, " ")
	misheard := mock.Step{Replace: map[string]string{"w1": "x1", "w2": "x2", "w3": "x3"}}
	svc := newTestService(mock.New(misheard, misheard), nil)

	standard, _ := svc.StartCall("a", "b", telephony.Standard, "")
	emergency, _ := svc.StartCall("a", "911", telephony.Emergency, "")

	s, err := svc.HandleAudio(context.Background(), standard.ID, transcription.AudioUnit{Reference: ref})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e, err := svc.HandleAudio(context.Background(), emergency.ID, transcription.AudioUnit{Reference: ref})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.Verdict.Accuracy < 0.9699 || s.Verdict.Accuracy > 0.9701 {
		t.Errorf("Expected accuracy 0.97, got %f", s.Verdict.Accuracy)
	}
	if !s.Verdict.Passed {
		t.Errorf("Expected standard call to pass, got %v", s.Verdict.Issues)
	}
	if e.Verdict.Passed {
		t.Error("Expected emergency call to fail")
	}
}

func TestPurgeCall(t *testing.T) {
	svc := newTestService(mock.New(), nil)
	call, _ := svc.StartCall("a", "b", telephony.Standard, "")
	other, _ := svc.StartCall("c", "d", telephony.Standard, "")

	for _, id := range []string{call.ID, other.ID} {
		if _, err := svc.HandleAudio(context.Background(), id, transcription.AudioUnit{Reference: "hello there"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if err := svc.PurgeCall(call.ID); !errors.Is(err, telephony.ErrInvalidStateTransition) {
		t.Errorf("Expected ErrInvalidStateTransition for active call, got %v", err)
	}

	svc.EndCall(call.ID)
	if err := svc.PurgeCall(call.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cs := svc.CallSummary(call.ID); cs.Total != 0 {
		t.Errorf("Expected no verdicts after purge, got %+v", cs)
	}
	if log := svc.Captions().Log(call.ID); len(log) != 0 {
		t.Errorf("Expected no captions after purge, got %d", len(log))
	}
	if _, err := svc.Calls().Status(call.ID); !errors.Is(err, telephony.ErrCallNotFound) {
		t.Errorf("Expected ErrCallNotFound after purge, got %v", err)
	}
	if err := svc.PurgeCall(call.ID); !errors.Is(err, telephony.ErrCallNotFound) {
		t.Errorf("Expected ErrCallNotFound on second purge, got %v", err)
	}

	if cs := svc.CallSummary(other.ID); cs.Total != 1 {
		t.Errorf("Expected other call's verdict kept, got %+v", cs)
	}
	if len(svc.Captions().Log(other.ID)) != 1 {
		t.Error("Expected other call's captions kept")
	}
}

func TestConcurrentAudioOnOneCallStaysOrdered(t *testing.T) {
	svc := newTestService(mock.New(), nil)
	call, _ := svc.StartCall("a", "b", telephony.Standard, "")

	const workers, units = 16, 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < units; j++ {
				if _, err := svc.HandleAudio(context.Background(), call.ID, transcription.AudioUnit{Reference: "caption text"}); err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	log := svc.Captions().Log(call.ID)
	if len(log) != workers*units {
		t.Fatalf("Expected %d captions, got %d", workers*units, len(log))
	}
	if v := svc.Captions().Violations(call.ID); v != 0 {
		t.Errorf("Expected no ordering violations, got %d", v)
	}
	for i, e := range log {
		if e.Sequence != i {
			t.Fatalf("Expected sequence %d, got %d", i, e.Sequence)
		}
	}
}
