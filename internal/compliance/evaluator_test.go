package compliance

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-qos/internal/config"
	"github.com/lexiqai/caption-qos/internal/quality"
	"github.com/lexiqai/caption-qos/internal/telephony"
)

var created = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestEvaluator() *Evaluator {
	return NewEvaluator(DefaultProfiles(), 2*time.Second, zerolog.Nop())
}

func metricsWithAccuracy(acc float64) quality.Metrics {
	return quality.Metrics{WER: 1 - acc, Accuracy: acc, Passed: true, Issues: []string{}}
}

func TestDefaultProfiles_EmergencyIsStricter(t *testing.T) {
	p := DefaultProfiles()

	if err := p.Validate(); err != nil {
		t.Fatalf("Expected default profiles to be valid, got %v", err)
	}
	if p.Emergency.MaxLatencyMs >= p.Standard.MaxLatencyMs {
		t.Error("Expected emergency latency bound below standard")
	}
	if p.Emergency.MinAccuracy <= p.Standard.MinAccuracy {
		t.Error("Expected emergency accuracy bound above standard")
	}
}

func TestProfiles_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Profiles)
	}{
		{"equal latency", func(p *Profiles) { p.Emergency.MaxLatencyMs = p.Standard.MaxLatencyMs }},
		{"looser latency", func(p *Profiles) { p.Emergency.MaxLatencyMs = 5000 }},
		{"equal accuracy", func(p *Profiles) { p.Emergency.MinAccuracy = p.Standard.MinAccuracy }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultProfiles()
			tt.mutate(&p)
			if err := p.Validate(); !errors.Is(err, ErrInvalidProfile) {
				t.Errorf("Expected ErrInvalidProfile, got %v", err)
			}
		})
	}
}

func TestProfilesFromConfig(t *testing.T) {
	cfg := &config.Config{
		StandardMaxWER:        0.1,
		StandardMaxLatencyMs:  4000,
		StandardMinAccuracy:   0.9,
		EmergencyMaxWER:       0.03,
		EmergencyMaxLatencyMs: 1500,
		EmergencyMinAccuracy:  0.97,
	}

	p := ProfilesFromConfig(cfg)
	if p.Standard.MaxLatencyMs != 4000 || p.Emergency.MinAccuracy != 0.97 {
		t.Errorf("Unexpected profiles: %+v", p)
	}
	if p.For(telephony.Emergency).Name != "emergency" || p.For(telephony.Standard).Name != "standard" {
		t.Error("Expected For to select by call type")
	}

	th := p.ThresholdsFor(telephony.Emergency)
	if th.MaxWER != 0.03 || th.MaxLatencyMs != 1500 || th.MinAccuracy != 0.97 {
		t.Errorf("Unexpected thresholds: %+v", th)
	}
}

func TestEvaluate_PassesWithinProfile(t *testing.T) {
	e := newTestEvaluator()

	v := e.Evaluate(telephony.Emergency, 2000, metricsWithAccuracy(0.98))
	if !v.Passed {
		t.Errorf("Expected boundary values to pass, got %v", v.Issues)
	}
	if v.Profile != "emergency" {
		t.Errorf("Expected emergency profile, got %q", v.Profile)
	}
}

func TestEvaluate_SameMetricsDifferByCallType(t *testing.T) {
	e := newTestEvaluator()
	m := metricsWithAccuracy(0.96)

	if v := e.Evaluate(telephony.Standard, 2500, m); !v.Passed {
		t.Errorf("Expected standard call to pass, got %v", v.Issues)
	}

	v := e.Evaluate(telephony.Emergency, 2500, m)
	if v.Passed {
		t.Fatal("Expected emergency call to fail")
	}
	if len(v.Issues) != 2 {
		t.Fatalf("Expected latency and accuracy issues, got %v", v.Issues)
	}
	if !strings.HasPrefix(v.Issues[0], "Latency") || !strings.HasPrefix(v.Issues[1], "Accuracy") {
		t.Errorf("Unexpected issue order: %v", v.Issues)
	}
}

func TestEvaluate_AccuracyByCallType(t *testing.T) {
	e := newTestEvaluator()

	tests := []struct {
		name     string
		callType telephony.CallType
		accuracy float64
		want     bool
	}{
		{"standard at 0.97", telephony.Standard, 0.97, true},
		{"emergency at 0.97", telephony.Emergency, 0.97, false},
		{"standard at 0.94", telephony.Standard, 0.94, false},
		{"emergency at 0.99", telephony.Emergency, 0.99, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := e.Evaluate(tt.callType, 1500, metricsWithAccuracy(tt.accuracy))
			if v.Passed != tt.want {
				t.Errorf("Expected passed=%v, got %v (issues %v)", tt.want, v.Passed, v.Issues)
			}
			if !tt.want && (len(v.Issues) != 1 || !strings.HasPrefix(v.Issues[0], "Accuracy")) {
				t.Errorf("Expected a single accuracy issue, got %v", v.Issues)
			}
		})
	}
}

func TestCheckDispatch(t *testing.T) {
	e := newTestEvaluator()

	tests := []struct {
		name     string
		call     telephony.CallSession
		expected int
	}{
		{
			"standard call ignored",
			telephony.CallSession{Type: telephony.Standard, CreatedAt: created},
			0,
		},
		{
			"emergency answered in time",
			telephony.CallSession{Type: telephony.Emergency, CreatedAt: created, AnsweredAt: created.Add(2 * time.Second)},
			0,
		},
		{
			"emergency answered late",
			telephony.CallSession{Type: telephony.Emergency, CreatedAt: created, AnsweredAt: created.Add(2001 * time.Millisecond)},
			1,
		},
		{
			"emergency never answered",
			telephony.CallSession{Type: telephony.Emergency, CreatedAt: created},
			1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.CheckDispatch(tt.call); len(got) != tt.expected {
				t.Errorf("Expected %d issues, got %v", tt.expected, got)
			}
		})
	}
}

func TestEvaluateCall_AddsDispatchIssues(t *testing.T) {
	e := newTestEvaluator()
	call := telephony.CallSession{
		ID:         "call-1",
		Type:       telephony.Emergency,
		CreatedAt:  created,
		AnsweredAt: created.Add(5 * time.Second),
	}

	v := e.EvaluateCall(call, 100, metricsWithAccuracy(1.0))
	if v.Passed {
		t.Error("Expected late emergency answer to fail")
	}
	if v.CallID != "call-1" {
		t.Errorf("Expected call ID on verdict, got %q", v.CallID)
	}
	if len(v.Issues) != 1 || !strings.Contains(v.Issues[0], "answered after") {
		t.Errorf("Expected dispatch issue, got %v", v.Issues)
	}
}

func TestAggregate(t *testing.T) {
	verdicts := []Verdict{
		{CallID: "call-1", CallType: telephony.Standard, Passed: true, Issues: []string{}},
		{CallID: "call-2", CallType: telephony.Emergency, Passed: false, Issues: []string{"Latency too high", "Accuracy too low"}},
		{CallID: "call-3", CallType: telephony.Emergency, Passed: true, Issues: []string{}},
	}

	s := Aggregate(verdicts)
	if s.Total != 3 || s.Passed != 2 || s.Failed != 1 {
		t.Errorf("Unexpected counts: %+v", s)
	}
	if s.PassRate < 0.666 || s.PassRate > 0.667 {
		t.Errorf("Expected pass rate 2/3, got %f", s.PassRate)
	}
	expected := []string{"call-2: Latency too high", "call-2: Accuracy too low"}
	if len(s.Issues) != len(expected) {
		t.Fatalf("Expected %d issues, got %v", len(expected), s.Issues)
	}
	for i := range expected {
		if s.Issues[i] != expected[i] {
			t.Errorf("Expected %q, got %q", expected[i], s.Issues[i])
		}
	}
	if s.ByType["emergency"] != (TypeSummary{Total: 2, Passed: 1}) {
		t.Errorf("Unexpected emergency summary: %+v", s.ByType["emergency"])
	}
	if s.ByType["standard"] != (TypeSummary{Total: 1, Passed: 1}) {
		t.Errorf("Unexpected standard summary: %+v", s.ByType["standard"])
	}
}

func TestAggregate_Empty(t *testing.T) {
	s := Aggregate(nil)
	if s.Total != 0 || s.PassRate != 0 || len(s.Issues) != 0 {
		t.Errorf("Expected empty summary, got %+v", s)
	}
}
