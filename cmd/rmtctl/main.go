// Command rmtctl runs a resting motor threshold estimation against a
// stimulator on a serial port, with the operator judging each trial from
// the EMG trace.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/viper"

	"github.com/neurokit/go-magventure/logger"
	"github.com/neurokit/go-magventure/rmt"
	"github.com/neurokit/go-magventure/stimulator"
	"github.com/neurokit/go-magventure/transport"
)

func main() {
	if err := loadConfig(); err != nil {
		fmt.Fprintln(os.Stderr, "error reading config:", err)
		os.Exit(1)
	}

	log := logger.Get(viper.GetString("log.level"))

	port, err := transport.Open(transport.Config{
		Name: viper.GetString("port.name"),
		Baud: viper.GetInt("port.baud"),
	})
	if err != nil {
		log.Errorw("failed to open serial port", "err", err)
		os.Exit(1)
	}

	sess := stimulator.New(port, stimulator.WithLogger(log))
	ctx := context.Background()
	if err := sess.Connect(ctx); err != nil {
		log.Errorw("failed to connect to stimulator", "err", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Errorw("failed to close session", "err", cerr)
		}
	}()

	est, err := rmt.NewEstimator(rmt.Config{
		StartAmplitude:  viper.GetInt("staircase.start_amplitude"),
		InitialStep:     viper.GetInt("staircase.initial_step"),
		MinStep:         viper.GetInt("staircase.min_step"),
		MaxTrials:       viper.GetInt("staircase.max_trials"),
		TargetReversals: viper.GetInt("staircase.target_reversals"),
	})
	if err != nil {
		log.Errorw("invalid staircase configuration", "err", err)
		os.Exit(1)
	}

	runner := rmt.NewRunner(sess, est, newConsoleJudge(os.Stdin),
		rmt.WithLogger(log),
		rmt.WithTrialInterval(viper.GetDuration("trial.interval")),
		rmt.WithOutcomeTimeout(viper.GetDuration("trial.outcome_timeout")),
		rmt.WithTrialCallback(func(t rmt.Trial) {
			fmt.Printf("trial %d: %d%% -> response=%v\n",
				t.Number, t.AmplitudePercent, t.Outcome.Responded)
		}),
	)

	// A single Ctrl-C aborts cooperatively: the runner finishes the trial
	// in flight and unwinds the device before Run returns.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Infow("abort requested, finishing current trial")
		runner.Abort()
	}()

	result, err := runner.Run(ctx)
	if err != nil {
		if errors.Is(err, rmt.ErrAborted) {
			log.Infow("run aborted, device unwound")
			os.Exit(130)
		}
		log.Errorw("estimation failed", "err", err)
		os.Exit(1)
	}

	printResult(result)
}

func loadConfig() error {
	viper.SetDefault("log.level", logger.InfoLevel)
	viper.SetDefault("port.name", "/dev/ttyUSB0")
	viper.SetDefault("port.baud", transport.DefaultBaud)
	viper.SetDefault("staircase.start_amplitude", 50)
	viper.SetDefault("staircase.initial_step", 16)
	viper.SetDefault("staircase.min_step", 1)
	viper.SetDefault("staircase.max_trials", 60)
	viper.SetDefault("staircase.target_reversals", 6)
	viper.SetDefault("trial.interval", "4s")
	viper.SetDefault("trial.outcome_timeout", "30s")

	viper.SetEnvPrefix("RMTCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.AddConfigPath("configs") // configs/rmtctl.yml
	viper.SetConfigName("rmtctl")

	if err := viper.ReadInConfig(); err != nil {
		// Defaults and environment cover everything; a config file is
		// optional.
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

func printResult(result *rmt.Result) {
	fmt.Printf("\nrun %s complete\n", result.RunID)
	fmt.Printf("  resting motor threshold: %.1f%% MSO\n", result.Estimate.ValuePercent)
	fmt.Printf("  standard error:          %.2f\n", result.Estimate.StandardError)
	fmt.Printf("  trials:                  %d\n", result.Estimate.TrialsUsed)
	fmt.Printf("  converged:               %v\n", result.Estimate.Converged)
	if result.Estimate.FloorReached {
		fmt.Println("  note: staircase was clamped at 0% MSO")
	}
	if result.Estimate.CeilingReached {
		fmt.Println("  note: staircase was clamped at 100% MSO")
	}
}

// consoleJudge asks the operator whether an MEP was observed. A single
// goroutine owns the input for the judge's lifetime, so a timed-out or
// aborted prompt does not leak a blocked reader per trial.
type consoleJudge struct {
	lines chan answer
}

type answer struct {
	line string
	err  error
}

func newConsoleJudge(r io.Reader) *consoleJudge {
	j := &consoleJudge{lines: make(chan answer)}
	go func() {
		in := bufio.NewReader(r)
		for {
			line, err := in.ReadString('\n')
			j.lines <- answer{line, err}
			if err != nil {
				return
			}
		}
	}()
	return j
}

func (j *consoleJudge) AwaitOutcome(ctx context.Context) (rmt.Outcome, error) {
	// Input typed before this prompt answers nothing; drop it.
drain:
	for {
		select {
		case a := <-j.lines:
			if a.err != nil {
				return rmt.Outcome{}, fmt.Errorf("read operator judgement: %w", a.err)
			}
		default:
			break drain
		}
	}

	fmt.Print("response observed? [y/N]: ")
	select {
	case <-ctx.Done():
		return rmt.Outcome{}, ctx.Err()
	case a := <-j.lines:
		if a.err != nil {
			return rmt.Outcome{}, fmt.Errorf("read operator judgement: %w", a.err)
		}
		responded := strings.HasPrefix(strings.TrimSpace(strings.ToLower(a.line)), "y")
		return rmt.Outcome{Responded: responded}, nil
	}
}
