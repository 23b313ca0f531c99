package compliance

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-qos/internal/observability"
	"github.com/lexiqai/caption-qos/internal/quality"
	"github.com/lexiqai/caption-qos/internal/telephony"
)

// Verdict is the compliance outcome for one captioned unit of a call
type Verdict struct {
	CallID         string             `json:"call_id"`
	CallType       telephony.CallType `json:"call_type"`
	Profile        string             `json:"profile"`
	TotalLatencyMs float64            `json:"total_latency_ms"`
	Accuracy       float64            `json:"accuracy"`
	Passed         bool               `json:"passed"`
	Issues         []string           `json:"issues"`
}

// Evaluator renders verdicts against a set of profiles
type Evaluator struct {
	profiles    Profiles
	answerBound time.Duration
	logger      zerolog.Logger
}

// NewEvaluator creates an evaluator. answerBound is the longest an emergency call may ring.
func NewEvaluator(profiles Profiles, answerBound time.Duration, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		profiles:    profiles,
		answerBound: answerBound,
		logger:      logger,
	}
}

// Profiles returns the evaluator's profiles
func (e *Evaluator) Profiles() Profiles {
	return e.profiles
}

// Evaluate checks end-to-end latency and accuracy against the call type's profile
func (e *Evaluator) Evaluate(t telephony.CallType, totalLatencyMs float64, m quality.Metrics) Verdict {
	p := e.profiles.For(t)
	v := Verdict{
		CallType:       t,
		Profile:        p.Name,
		TotalLatencyMs: totalLatencyMs,
		Accuracy:       m.Accuracy,
		Issues:         []string{},
	}

	if totalLatencyMs > p.MaxLatencyMs {
		v.Issues = append(v.Issues, fmt.Sprintf("Latency %.2fms exceeds %s limit %vms", totalLatencyMs, p.Name, p.MaxLatencyMs))
	}
	if m.Accuracy < p.MinAccuracy {
		v.Issues = append(v.Issues, fmt.Sprintf("Accuracy %.4f below %s minimum %v", m.Accuracy, p.Name, p.MinAccuracy))
	}
	v.Passed = len(v.Issues) == 0
	return v
}

// CheckDispatch reports emergency calls that were not answered within the answer bound
func (e *Evaluator) CheckDispatch(call telephony.CallSession) []string {
	if call.Type != telephony.Emergency {
		return nil
	}
	if !call.Answered() {
		return []string{"Emergency call was never answered"}
	}
	if ring := call.TimeToAnswer(); ring > e.answerBound {
		return []string{fmt.Sprintf("Emergency call answered after %v, limit %v", ring, e.answerBound)}
	}
	return nil
}

// EvaluateCall evaluates a unit of call and adds dispatch issues
func (e *Evaluator) EvaluateCall(call telephony.CallSession, totalLatencyMs float64, m quality.Metrics) Verdict {
	v := e.Evaluate(call.Type, totalLatencyMs, m)
	v.CallID = call.ID

	if issues := e.CheckDispatch(call); len(issues) > 0 {
		v.Issues = append(v.Issues, issues...)
		v.Passed = false
	}

	observability.RecordVerdict(call.Type.String(), v.Passed)
	if !v.Passed {
		e.logger.Warn().
			Str("call_id", call.ID).
			Str("profile", v.Profile).
			Strs("issues", v.Issues).
			Msg("Compliance check failed")
	}
	return v
}

// TypeSummary counts verdicts for one call type
type TypeSummary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
}

// Summary aggregates verdicts
type Summary struct {
	Total    int                    `json:"total"`
	Passed   int                    `json:"passed"`
	Failed   int                    `json:"failed"`
	PassRate float64                `json:"pass_rate"`
	Issues   []string               `json:"issues"`
	ByType   map[string]TypeSummary `json:"by_type"`
}

// Aggregate summarizes verdicts. Issues are prefixed with their call ID, in verdict order.
func Aggregate(verdicts []Verdict) Summary {
	s := Summary{
		Issues: []string{},
		ByType: map[string]TypeSummary{},
	}

	for _, v := range verdicts {
		s.Total++
		ts := s.ByType[v.CallType.String()]
		ts.Total++
		if v.Passed {
			s.Passed++
			ts.Passed++
		}
		s.ByType[v.CallType.String()] = ts

		for _, issue := range v.Issues {
			s.Issues = append(s.Issues, fmt.Sprintf("%s: %s", v.CallID, issue))
		}
	}

	s.Failed = s.Total - s.Passed
	if s.Total > 0 {
		s.PassRate = float64(s.Passed) / float64(s.Total)
	}
	return s
}
