package rmt

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neurokit/go-magventure/protocol"
)

// Stimulator is the session surface the runner drives.
// *stimulator.Session satisfies it.
type Stimulator interface {
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	SetAmplitude(ctx context.Context, percent int) error
	Arm(ctx context.Context) error
	Disarm()
	Fire(ctx context.Context) (*protocol.FireAck, error)
	Status(ctx context.Context) (*protocol.Status, error)
	Resync(ctx context.Context) error
}

// Result is the outcome of a completed run.
type Result struct {
	// RunID uniquely identifies this run in logs and records
	RunID string

	// Estimate is the staircase's final answer
	Estimate Estimate

	// Trials is the full trial record in delivery order
	Trials []Trial

	// Elapsed is the wall-clock duration of the run
	Elapsed time.Duration
}

// Runner drives one threshold estimation run: it enables the device,
// loops set-amplitude / arm / fire / judge until the staircase
// terminates, and always unwinds to a disarmed, disabled device on exit.
// A Runner is single-use.
type Runner struct {
	config RunnerConfig
	stim   Stimulator
	est    *Estimator
	source OutcomeSource
	rng    *rand.Rand

	mu      sync.Mutex
	ran     bool
	abort   context.CancelFunc
	aborted bool
}

// NewRunner creates a runner over an already-connected session.
func NewRunner(stim Stimulator, est *Estimator, source OutcomeSource, opts ...RunnerOption) *Runner {
	if stim == nil || est == nil || source == nil {
		panic("stimulator, estimator and outcome source cannot be nil")
	}

	cfg := defaultRunnerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Runner{
		config: cfg,
		stim:   stim,
		est:    est,
		source: source,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Abort requests a cooperative stop. It is safe to call from any
// goroutine and at any time; the runner honors it between trials only,
// never mid-fire, and still executes the safety unwind.
func (r *Runner) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborted = true
	if r.abort != nil {
		r.abort()
	}
}

// Run executes the estimation loop until the staircase terminates, the
// context is cancelled, or Abort is called. Whatever the exit path, the
// device is left disarmed and disabled, and the final state is verified
// with a status round trip.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	r.mu.Lock()
	if r.ran {
		r.mu.Unlock()
		return nil, errors.New("rmt: runner already used")
	}
	r.ran = true
	runCtx, cancel := context.WithCancel(ctx)
	r.abort = cancel
	if r.aborted {
		cancel()
	}
	r.mu.Unlock()
	defer cancel()

	runID := uuid.NewString()
	started := time.Now()
	r.logInfo("run starting",
		"run_id", runID,
		"start_amplitude", r.est.Next(),
		"max_trials", r.est.config.MaxTrials,
	)

	// The unwind runs on a fresh context: the run context may already be
	// cancelled, and the device must still be brought down safely.
	defer r.unwind(runID)

	if err := r.stim.Enable(runCtx); err != nil {
		return nil, fmt.Errorf("enable device: %w", err)
	}

	var trials []Trial
	for !r.est.Done() {
		// Aborts are honored here, between trials, and nowhere later
		// in the loop body.
		if runCtx.Err() != nil {
			r.logInfo("run aborted", "run_id", runID, "trials_done", len(trials))
			return nil, ErrAborted
		}

		amplitude := r.est.Next()
		if err := r.stim.SetAmplitude(runCtx, amplitude); err != nil {
			return nil, fmt.Errorf("trial %d: %w", len(trials)+1, err)
		}
		if err := r.stim.Arm(runCtx); err != nil {
			return nil, fmt.Errorf("trial %d: %w", len(trials)+1, err)
		}

		if err := r.pause(runCtx); err != nil {
			r.logInfo("run aborted during inter-trial pause", "run_id", runID, "trials_done", len(trials))
			return nil, ErrAborted
		}

		// From fire to judgement the run must not be interrupted: the
		// pulse is physical and its outcome must be collected. Only
		// the outcome timeout bounds this segment.
		fireCtx := context.WithoutCancel(ctx)
		if _, err := r.stim.Fire(fireCtx); err != nil {
			return nil, fmt.Errorf("trial %d: %w", len(trials)+1, err)
		}

		outcomeCtx, outcomeCancel := context.WithTimeout(fireCtx, r.config.OutcomeTimeout)
		outcome, err := r.source.AwaitOutcome(outcomeCtx)
		outcomeCancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, &OutcomeTimeoutError{Trial: len(trials) + 1, Timeout: r.config.OutcomeTimeout}
			}
			return nil, fmt.Errorf("trial %d: outcome: %w", len(trials)+1, err)
		}

		trial := Trial{
			Number:           len(trials) + 1,
			AmplitudePercent: amplitude,
			Outcome:          outcome,
		}
		if err := r.est.Record(outcome.Responded); err != nil {
			return nil, err
		}
		trials = append(trials, trial)

		r.logDebug("trial complete",
			"run_id", runID,
			"trial", trial.Number,
			"amplitude", amplitude,
			"responded", outcome.Responded,
		)
		if r.config.TrialCallback != nil {
			r.config.TrialCallback(trial)
		}
	}

	estimate := r.est.Estimate()
	r.logInfo("run complete",
		"run_id", runID,
		"threshold", estimate.ValuePercent,
		"standard_error", estimate.StandardError,
		"trials", estimate.TrialsUsed,
		"converged", estimate.Converged,
	)

	return &Result{
		RunID:    runID,
		Estimate: estimate,
		Trials:   trials,
		Elapsed:  time.Since(started),
	}, nil
}

// pause waits the jittered inter-trial interval or until the run is
// aborted.
func (r *Runner) pause(ctx context.Context) error {
	interval := r.config.TrialInterval
	if interval <= 0 {
		return nil
	}
	if j := r.config.IntervalJitter; j > 0 {
		spread := 2*r.rng.Float64() - 1
		interval += time.Duration(float64(interval) * j * spread)
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// unwind brings the device to a disarmed, disabled state and verifies it
// with a final status round trip. It runs on its own context so it works
// even when the run context is long dead.
func (r *Runner) unwind(runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.UnwindTimeout)
	defer cancel()

	r.stim.Disarm()

	if err := r.stim.Disable(ctx); err != nil {
		// A timed-out ack leaves the session distrusting its state;
		// resynchronize and try once more.
		r.logWarn("unwind disable failed, resyncing", "run_id", runID, "error", err.Error())
		if err := r.stim.Resync(ctx); err != nil {
			r.logError("unwind resync failed, device state unverified", "run_id", runID, "error", err.Error())
			return
		}
		if err := r.stim.Disable(ctx); err != nil {
			r.logError("unwind disable failed after resync", "run_id", runID, "error", err.Error())
			return
		}
	}

	status, err := r.stim.Status(ctx)
	switch {
	case err != nil:
		r.logError("unwind verification failed", "run_id", runID, "error", err.Error())
	case status.Flags.Enabled:
		r.logError("device still enabled after unwind", "run_id", runID)
	default:
		r.logInfo("device safe: disarmed and disabled", "run_id", runID)
	}
}

func (r *Runner) logDebug(msg string, keysAndValues ...interface{}) {
	if r.config.Logger != nil {
		r.config.Logger.Debugw(msg, keysAndValues...)
	}
}

func (r *Runner) logInfo(msg string, keysAndValues ...interface{}) {
	if r.config.Logger != nil {
		r.config.Logger.Infow(msg, keysAndValues...)
	}
}

func (r *Runner) logWarn(msg string, keysAndValues ...interface{}) {
	if r.config.Logger != nil {
		r.config.Logger.Warnw(msg, keysAndValues...)
	}
}

func (r *Runner) logError(msg string, keysAndValues ...interface{}) {
	if r.config.Logger != nil {
		r.config.Logger.Errorw(msg, keysAndValues...)
	}
}
