package rmt

import "context"

// Outcome is the judgement for one delivered pulse.
type Outcome struct {
	// Responded reports whether a motor evoked potential above the
	// response criterion was observed
	Responded bool

	// AmplitudeUV is the measured peak-to-peak MEP amplitude in
	// microvolts, when the source measures one
	AmplitudeUV float64

	// HasAmplitude distinguishes a measured zero from no measurement
	HasAmplitude bool
}

// OutcomeSource judges trials. Implementations range from an EMG channel
// applying a fixed microvolt criterion to an operator pressing a key.
type OutcomeSource interface {
	// AwaitOutcome blocks until the outcome for the most recently
	// delivered pulse is available, the context is cancelled, or the
	// source fails.
	AwaitOutcome(ctx context.Context) (Outcome, error)
}

// ThresholdJudge converts measured MEP amplitudes into responses using
// the conventional fixed criterion (50 uV peak-to-peak unless configured
// otherwise).
type ThresholdJudge struct {
	// CriterionUV is the response criterion; zero means 50.
	CriterionUV float64

	// Measure produces the next measurement.
	Measure func(ctx context.Context) (float64, error)
}

// AwaitOutcome measures one MEP and applies the criterion.
func (j *ThresholdJudge) AwaitOutcome(ctx context.Context) (Outcome, error) {
	criterion := j.CriterionUV
	if criterion == 0 {
		criterion = 50
	}

	uv, err := j.Measure(ctx)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Responded:    uv >= criterion,
		AmplitudeUV:  uv,
		HasAmplitude: true,
	}, nil
}
