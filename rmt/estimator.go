package rmt

import (
	"fmt"
	"math"

	"github.com/neurokit/go-magventure/protocol"
)

// DefaultAverageLastK is how many trailing reversal amplitudes the final
// estimate averages when the configuration does not say otherwise.
const DefaultAverageLastK = 6

// Config parameterizes the staircase.
type Config struct {
	// StartAmplitude is the first trial's amplitude in percent of
	// maximum stimulator output
	StartAmplitude int

	// InitialStep is the first amplitude step in percent
	InitialStep int

	// MinStep is the floor the step halves down to; the staircase only
	// terminates on reversals taken at this resolution
	MinStep int

	// MaxTrials bounds the run regardless of convergence
	MaxTrials int

	// TargetReversals is how many reversals at MinStep end the run
	TargetReversals int

	// AverageLastK is how many trailing reversal amplitudes to average;
	// defaults to DefaultAverageLastK
	AverageLastK int
}

func (c *Config) validate() error {
	if c.StartAmplitude < protocol.MinAmplitude || c.StartAmplitude > protocol.MaxAmplitude {
		return &ConfigError{
			Field: "StartAmplitude", Value: c.StartAmplitude,
			Reason: fmt.Sprintf("must be %d-%d", protocol.MinAmplitude, protocol.MaxAmplitude),
		}
	}
	if c.InitialStep < 1 {
		return &ConfigError{Field: "InitialStep", Value: c.InitialStep, Reason: "must be at least 1"}
	}
	if c.MinStep < 1 || c.MinStep > c.InitialStep {
		return &ConfigError{Field: "MinStep", Value: c.MinStep, Reason: "must be 1..InitialStep"}
	}
	if c.MaxTrials < 1 {
		return &ConfigError{Field: "MaxTrials", Value: c.MaxTrials, Reason: "must be at least 1"}
	}
	if c.TargetReversals < 1 {
		return &ConfigError{Field: "TargetReversals", Value: c.TargetReversals, Reason: "must be at least 1"}
	}
	if c.AverageLastK < 0 {
		return &ConfigError{Field: "AverageLastK", Value: c.AverageLastK, Reason: "must not be negative"}
	}
	return nil
}

// Estimate is the staircase's final answer.
type Estimate struct {
	// ValuePercent is the threshold estimate in percent of maximum
	// stimulator output
	ValuePercent float64

	// StandardError is the sample standard deviation of the averaged
	// reversal amplitudes divided by sqrt of their count; zero when
	// fewer than two reversals contributed
	StandardError float64

	// TrialsUsed is how many outcomes were consumed
	TrialsUsed int

	// Converged reports whether the run ended on the reversal criterion
	// rather than the trial budget
	Converged bool

	// FloorReached and CeilingReached record that the staircase was
	// clamped at an output limit at least once. Non-fatal, but a
	// clamped estimate deserves scrutiny.
	FloorReached   bool
	CeilingReached bool
}

// Estimator is a transformed up-down staircase: the step halves on every
// reversal down to MinStep, and the run ends after TargetReversals
// reversals at that floor. It is a pure state machine with no device
// coupling and is not safe for concurrent use.
type Estimator struct {
	config Config

	amplitude int
	step      int
	trials    int

	lastResponse bool
	haveLast     bool

	reversals      []int
	floorReversals int

	floorReached   bool
	ceilingReached bool
	done           bool
	converged      bool
}

// NewEstimator validates cfg and returns a staircase positioned at the
// start amplitude.
func NewEstimator(cfg Config) (*Estimator, error) {
	if cfg.AverageLastK == 0 {
		cfg.AverageLastK = DefaultAverageLastK
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Estimator{
		config:    cfg,
		amplitude: cfg.StartAmplitude,
		step:      cfg.InitialStep,
	}, nil
}

// Next returns the amplitude to stimulate at for the upcoming trial.
func (e *Estimator) Next() int { return e.amplitude }

// Done reports whether the staircase has terminated.
func (e *Estimator) Done() bool { return e.done }

// Trials returns the number of outcomes consumed so far.
func (e *Estimator) Trials() int { return e.trials }

// Record consumes the outcome of a trial delivered at the current Next
// amplitude. A response direction change is a reversal: the reversal
// amplitude is recorded, the step halves (never below MinStep) and the
// staircase moves the other way.
func (e *Estimator) Record(responded bool) error {
	if e.done {
		return ErrEstimationComplete
	}
	e.trials++

	if e.haveLast && responded != e.lastResponse {
		e.reversals = append(e.reversals, e.amplitude)
		if e.step > e.config.MinStep {
			e.step /= 2
			if e.step < e.config.MinStep {
				e.step = e.config.MinStep
			}
		}
		if e.step == e.config.MinStep {
			e.floorReversals++
		}
	}
	e.lastResponse = responded
	e.haveLast = true

	if e.floorReversals >= e.config.TargetReversals {
		e.done = true
		e.converged = true
		return nil
	}
	if e.trials >= e.config.MaxTrials {
		e.done = true
		return nil
	}

	// Responses mean the amplitude is above threshold, so step down;
	// absences step up.
	if responded {
		e.amplitude -= e.step
	} else {
		e.amplitude += e.step
	}
	if e.amplitude < protocol.MinAmplitude {
		e.amplitude = protocol.MinAmplitude
		e.floorReached = true
	}
	if e.amplitude > protocol.MaxAmplitude {
		e.amplitude = protocol.MaxAmplitude
		e.ceilingReached = true
	}
	return nil
}

// Estimate computes the threshold from the staircase state. It averages
// the last AverageLastK reversal amplitudes; if the run ended before any
// reversal the current amplitude is the best available answer and the
// estimate is marked unconverged.
func (e *Estimator) Estimate() Estimate {
	est := Estimate{
		TrialsUsed:     e.trials,
		Converged:      e.converged,
		FloorReached:   e.floorReached,
		CeilingReached: e.ceilingReached,
	}

	k := e.config.AverageLastK
	if k > len(e.reversals) {
		k = len(e.reversals)
	}
	if k == 0 {
		est.ValuePercent = float64(e.amplitude)
		return est
	}

	tail := e.reversals[len(e.reversals)-k:]
	var sum float64
	for _, a := range tail {
		sum += float64(a)
	}
	mean := sum / float64(k)
	est.ValuePercent = mean

	if k > 1 {
		var ss float64
		for _, a := range tail {
			d := float64(a) - mean
			ss += d * d
		}
		est.StandardError = math.Sqrt(ss/float64(k-1)) / math.Sqrt(float64(k))
	}
	return est
}
