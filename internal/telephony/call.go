// Package telephony manages the lifecycle of captioned calls.
package telephony

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrCallNotFound is returned for unknown call IDs
	ErrCallNotFound = errors.New("call not found")

	// ErrInvalidStateTransition is returned when an operation does not apply to the call's status
	ErrInvalidStateTransition = errors.New("invalid call state transition")

	// ErrMalformedInput is returned for unusable call parameters
	ErrMalformedInput = errors.New("malformed call input")
)

// CallType distinguishes regular calls from emergency calls
type CallType int

const (
	Standard CallType = iota
	Emergency
)

func (t CallType) String() string {
	switch t {
	case Standard:
		return "standard"
	case Emergency:
		return "emergency"
	default:
		return fmt.Sprintf("call_type(%d)", int(t))
	}
}

// ParseCallType parses "standard" or "emergency"; empty means standard
func ParseCallType(s string) (CallType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard":
		return Standard, nil
	case "emergency":
		return Emergency, nil
	default:
		return Standard, fmt.Errorf("%w: unknown call type %q", ErrMalformedInput, s)
	}
}

// Priority of a call
type Priority int

const (
	Normal Priority = iota
	High
)

func (p Priority) String() string {
	if p == High {
		return "high"
	}
	return "normal"
}

// Status is the lifecycle state of a call
type Status int

const (
	Initiating Status = iota
	Ringing
	Active
	Ended
)

func (s Status) String() string {
	switch s {
	case Initiating:
		return "initiating"
	case Ringing:
		return "ringing"
	case Active:
		return "active"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(text []byte) error {
	for _, candidate := range []Status{Initiating, Ringing, Active, Ended} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("%w: unknown status %q", ErrMalformedInput, text)
}

func (t CallType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *CallType) UnmarshalText(text []byte) error {
	parsed, err := ParseCallType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Priority) UnmarshalText(text []byte) error {
	switch string(text) {
	case "normal":
		*p = Normal
	case "high":
		*p = High
	default:
		return fmt.Errorf("%w: unknown priority %q", ErrMalformedInput, text)
	}
	return nil
}

// CallSession is a snapshot of one call. The manager owns the live record.
type CallSession struct {
	ID                     string        `json:"id"`
	From                   string        `json:"from"`
	To                     string        `json:"to"`
	Type                   CallType      `json:"type"`
	Status                 Status        `json:"status"`
	Priority               Priority      `json:"priority"`
	CreatedAt              time.Time     `json:"created_at"`
	AnsweredAt             time.Time     `json:"answered_at,omitempty"`
	EndedAt                time.Time     `json:"ended_at,omitempty"`
	Duration               time.Duration `json:"duration"`
	TranscriptionSessionID string        `json:"transcription_session_id,omitempty"`
}

// Answered reports whether the call ever became active
func (c CallSession) Answered() bool {
	return !c.AnsweredAt.IsZero()
}

// TimeToAnswer is the ring time of an answered call, zero otherwise
func (c CallSession) TimeToAnswer() time.Duration {
	if !c.Answered() {
		return 0
	}
	return c.AnsweredAt.Sub(c.CreatedAt)
}

// CallMetrics summarizes a call
type CallMetrics struct {
	CallID       string        `json:"call_id"`
	Status       Status        `json:"status"`
	Type         CallType      `json:"type"`
	Emergency    bool          `json:"emergency"`
	Duration     time.Duration `json:"duration"`
	TimeToAnswer time.Duration `json:"time_to_answer"`
}
