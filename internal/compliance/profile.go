// Package compliance judges captioned calls against accuracy and latency profiles.
package compliance

import (
	"errors"
	"fmt"

	"github.com/lexiqai/caption-qos/internal/config"
	"github.com/lexiqai/caption-qos/internal/quality"
	"github.com/lexiqai/caption-qos/internal/telephony"
)

// ErrInvalidProfile is returned when profiles are inconsistent
var ErrInvalidProfile = errors.New("invalid compliance profile")

// Profile bounds acceptable caption quality for one call type
type Profile struct {
	Name         string  `json:"name"`
	MaxWER       float64 `json:"max_wer"`
	MaxLatencyMs float64 `json:"max_latency_ms"`
	MinAccuracy  float64 `json:"min_accuracy"`
}

// Thresholds converts the profile for the quality analyzer
func (p Profile) Thresholds() quality.Thresholds {
	return quality.Thresholds{
		MaxWER:       p.MaxWER,
		MaxLatencyMs: p.MaxLatencyMs,
		MinAccuracy:  p.MinAccuracy,
	}
}

// Profiles holds one profile per call type
type Profiles struct {
	Standard  Profile `json:"standard"`
	Emergency Profile `json:"emergency"`
}

// DefaultProfiles returns the built-in standard and emergency profiles
func DefaultProfiles() Profiles {
	return Profiles{
		Standard:  Profile{Name: "standard", MaxWER: 0.05, MaxLatencyMs: 3000, MinAccuracy: 0.95},
		Emergency: Profile{Name: "emergency", MaxWER: 0.02, MaxLatencyMs: 2000, MinAccuracy: 0.98},
	}
}

// ProfilesFromConfig builds profiles from configuration
func ProfilesFromConfig(cfg *config.Config) Profiles {
	return Profiles{
		Standard: Profile{
			Name:         "standard",
			MaxWER:       cfg.StandardMaxWER,
			MaxLatencyMs: cfg.StandardMaxLatencyMs,
			MinAccuracy:  cfg.StandardMinAccuracy,
		},
		Emergency: Profile{
			Name:         "emergency",
			MaxWER:       cfg.EmergencyMaxWER,
			MaxLatencyMs: cfg.EmergencyMaxLatencyMs,
			MinAccuracy:  cfg.EmergencyMinAccuracy,
		},
	}
}

// For returns the profile of a call type
func (p Profiles) For(t telephony.CallType) Profile {
	if t == telephony.Emergency {
		return p.Emergency
	}
	return p.Standard
}

// ThresholdsFor adapts For to the telephony manager
func (p Profiles) ThresholdsFor(t telephony.CallType) quality.Thresholds {
	return p.For(t).Thresholds()
}

// Validate checks that the emergency profile is strictly tighter than standard
func (p Profiles) Validate() error {
	if p.Emergency.MaxLatencyMs >= p.Standard.MaxLatencyMs {
		return fmt.Errorf("%w: emergency max latency %vms must be below standard %vms",
			ErrInvalidProfile, p.Emergency.MaxLatencyMs, p.Standard.MaxLatencyMs)
	}
	if p.Emergency.MinAccuracy <= p.Standard.MinAccuracy {
		return fmt.Errorf("%w: emergency min accuracy %v must exceed standard %v",
			ErrInvalidProfile, p.Emergency.MinAccuracy, p.Standard.MinAccuracy)
	}
	return nil
}
