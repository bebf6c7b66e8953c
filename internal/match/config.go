package match

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// ScoringConfig holds the tunable confidence penalties. Confidence
// starts at 1.0 for an exact type+subject+period hit and each deviation
// subtracts its penalty, floored at zero.
type ScoringConfig struct {
	// PeriodPartialPenalty applies when periods overlap but do not
	// match exactly, or when only one side declares a period.
	PeriodPartialPenalty float64 `mapstructure:"period_partial_penalty"`
	// PeriodMissPenalty applies when both sides declare periods in
	// different years.
	PeriodMissPenalty float64 `mapstructure:"period_miss_penalty"`
	// SubjectNearPenalty applies when the subject matched on weaker
	// evidence: a single-surname variant or a company-key containment
	// rather than equality.
	SubjectNearPenalty float64 `mapstructure:"subject_near_penalty"`
	// NoIdentifierPenalty applies to worker matches not corroborated by
	// an identity number.
	NoIdentifierPenalty float64 `mapstructure:"no_identifier_penalty"`
}

// DefaultScoringConfig returns the penalty weights used when the
// configuration does not override them.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		PeriodPartialPenalty: 0.15,
		PeriodMissPenalty:    0.35,
		SubjectNearPenalty:   0.20,
		NoIdentifierPenalty:  0.10,
	}
}

// ValidateConfig checks that a ScoringConfig is internally consistent.
func ValidateConfig(c ScoringConfig) error {
	var errs []string

	penalties := map[string]float64{
		"period_partial_penalty": c.PeriodPartialPenalty,
		"period_miss_penalty":    c.PeriodMissPenalty,
		"subject_near_penalty":   c.SubjectNearPenalty,
		"no_identifier_penalty":  c.NoIdentifierPenalty,
	}
	for name, p := range penalties {
		if p < 0 || p > 1 {
			errs = append(errs, fmt.Sprintf("%s must be in [0, 1]", name))
		}
	}

	if c.PeriodPartialPenalty > c.PeriodMissPenalty {
		errs = append(errs, "period_partial_penalty must not exceed period_miss_penalty")
	}

	if len(errs) > 0 {
		return eris.Errorf("match: invalid scoring config: %s", strings.Join(errs, "; "))
	}
	return nil
}
