// Package rmt estimates the resting motor threshold with an adaptive
// staircase.
//
// The Estimator is a pure state machine: it proposes the next stimulation
// amplitude and consumes trial outcomes, with no device coupling. The
// Runner wires an Estimator to a stimulator session and an outcome source
// and drives the whole trial loop, including the safety unwind that leaves
// the device disarmed and disabled no matter how the run exits.
//
//	est, _ := rmt.NewEstimator(rmt.Config{
//	    StartAmplitude:  50,
//	    InitialStep:     16,
//	    MinStep:         1,
//	    MaxTrials:       60,
//	    TargetReversals: 6,
//	})
//	runner := rmt.NewRunner(sess, est, source)
//	result, err := runner.Run(ctx)
package rmt
