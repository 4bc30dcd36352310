package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nethermind-labs/shareflow"
	"github.com/nethermind-labs/shareflow/utils"
)

const greeting = `
      _                      __ _
 ___ | |__   __ _ _ __ ___  / _| | _____      __
/ __|| '_ \ / _  | '__/ _ \| |_| |/ _ \ \ /\ / /
\__ \| | | | (_| | | |  __/|  _| | (_) \ V  V /
|___/|_| |_|\__,_|_|  \___||_| |_|\___/ \_/\_/

A tick generator shared across subscribers under a configurable
start/stop policy.

`

const (
	verbosityF          = "verbosity"
	intervalF           = "interval"
	replayF             = "replay"
	extraBufferF        = "extra-buffer"
	overflowF           = "overflow"
	policyF             = "policy"
	stopDelayF          = "stop-delay"
	replayExpirationF   = "replay-expiration"
	subscribersF        = "subscribers"
	subscriberLifetimeF = "subscriber-lifetime"

	defaultVerbosity  = utils.INFO
	defaultInterval   = 500 * time.Millisecond
	defaultReplay     = 3
	defaultExtra      = 16
	defaultOverflow   = "drop-oldest"
	defaultPolicy     = "while-subscribed"
	defaultStopDelay  = 2 * time.Second
	defaultReplayTTL  = 0 * time.Second
	defaultSubs       = 3
	defaultSubLife    = 5 * time.Second
)

type demoConfig struct {
	Verbosity          utils.LogLevel `mapstructure:"verbosity"`
	Interval           time.Duration  `mapstructure:"interval"`
	Replay             int            `mapstructure:"replay"`
	ExtraBuffer        int            `mapstructure:"extra-buffer"`
	Overflow           string         `mapstructure:"overflow"`
	Policy             string         `mapstructure:"policy"`
	StopDelay          time.Duration  `mapstructure:"stop-delay"`
	ReplayExpiration   time.Duration  `mapstructure:"replay-expiration"`
	Subscribers        int            `mapstructure:"subscribers"`
	SubscriberLifetime time.Duration  `mapstructure:"subscriber-lifetime"`
}

// NewCmd builds the shareflow-demo cobra command, mirroring the
// flags-then-viper-then-unmarshal wiring pattern used throughout the
// example pack's CLI entrypoints.
func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shareflow-demo [flags]",
		Short: "Demonstrates a shared, replay-capable tick stream.",
	}

	cmd.Flags().Uint8(verbosityF, uint8(defaultVerbosity), "Log verbosity: 0=debug 1=info 2=warn 3=error 4=fatal.")
	cmd.Flags().Duration(intervalF, defaultInterval, "Interval between upstream ticks.")
	cmd.Flags().Int(replayF, defaultReplay, "Number of past ticks a new subscriber replays.")
	cmd.Flags().Int(extraBufferF, defaultExtra, "Extra room for a slow subscriber beyond the replay window.")
	cmd.Flags().String(overflowF, defaultOverflow, "Overflow policy once the buffer is full: suspend, drop-oldest, drop-latest.")
	cmd.Flags().String(policyF, defaultPolicy, "Start policy: eager, lazy, while-subscribed.")
	cmd.Flags().Duration(stopDelayF, defaultStopDelay, "While-subscribed: delay before stopping after the last subscriber leaves.")
	cmd.Flags().Duration(replayExpirationF, defaultReplayTTL, "While-subscribed: how long the replay buffer survives after stopping.")
	cmd.Flags().Int(subscribersF, defaultSubs, "Number of demo subscribers to attach.")
	cmd.Flags().Duration(subscriberLifetimeF, defaultSubLife, "How long each demo subscriber stays attached.")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		v := viper.New()
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		var cfg demoConfig
		if err := v.Unmarshal(&cfg); err != nil {
			return err
		}

		if _, err := fmt.Fprint(cmd.OutOrStdout(), greeting); err != nil {
			return err
		}

		logger, err := utils.NewZapLogger(cfg.Verbosity, true)
		if err != nil {
			return err
		}

		return runDemo(cmd.Context(), cfg, logger)
	}

	return cmd
}

func overflowPolicyFromFlag(name string) (shareflow.OverflowPolicy, error) {
	switch name {
	case "suspend":
		return shareflow.Suspend, nil
	case "drop-oldest":
		return shareflow.DropOldest, nil
	case "drop-latest":
		return shareflow.DropLatest, nil
	default:
		return 0, fmt.Errorf("unknown overflow policy %q", name)
	}
}

func startPolicyFromFlag(name string, stopDelay, replayExpiration time.Duration) (shareflow.Policy, error) {
	switch name {
	case "eager":
		return shareflow.Eager(), nil
	case "lazy":
		return shareflow.Lazy(), nil
	case "while-subscribed":
		return shareflow.WhileSubscribed(stopDelay, replayExpiration)
	default:
		return nil, fmt.Errorf("unknown start policy %q", name)
	}
}

func runDemo(ctx context.Context, cfg demoConfig, logger utils.Logger) error {
	overflow, err := overflowPolicyFromFlag(cfg.Overflow)
	if err != nil {
		return err
	}
	policy, err := startPolicyFromFlag(cfg.Policy, cfg.StopDelay, cfg.ReplayExpiration)
	if err != nil {
		return err
	}

	shared, run, err := shareflow.SharedOf(ctx, newTicker(cfg.Interval), shareflow.Config[string]{
		Replay:      cfg.Replay,
		ExtraBuffer: cfg.ExtraBuffer,
		OnOverflow:  overflow,
		Name:        "shareflow_demo",
	}, policy, logger)
	if err != nil {
		return err
	}

	driverErr := make(chan error, 1)
	go func() { driverErr <- run() }()

	pool := utils.NewThrottler(uint(cfg.Subscribers), shared).WithMaxQueueLen(int32(cfg.Subscribers))
	for i := 0; i < cfg.Subscribers; i++ {
		i := i
		go func() {
			if err := pool.Do(func(s *shareflow.Stream[string]) error {
				runSubscriber(ctx, i, s, cfg.SubscriberLifetime, logger)
				return nil
			}); err != nil {
				logger.Errorw("demo subscriber rejected", "index", i, "err", err)
			}
		}()
	}

	select {
	case err := <-driverErr:
		return err
	case <-ctx.Done():
		<-driverErr
		return ctx.Err()
	}
}

func runSubscriber(ctx context.Context, index int, shared *shareflow.Stream[string], lifetime time.Duration, logger utils.SimpleLogger) {
	subCtx, cancel := context.WithTimeout(ctx, lifetime)
	defer cancel()

	sub := shared.Subscribe(subCtx)
	for v := range sub.C {
		logger.Infow("tick observed", "subscriber", index, "value", v)
	}
}

// newTicker returns a Producer that emits a timestamped message once
// per interval, mapping the raw tick channel through
// utils.PipelineStage the way the example pack's own channel utilities
// are meant to be composed.
func newTicker(interval time.Duration) shareflow.ProducerFunc[string] {
	return func(ctx context.Context, emit func(string) error) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		ticks := make(chan time.Time)
		go func() {
			defer close(ticks)
			for {
				select {
				case t := <-ticker.C:
					select {
					case ticks <- t:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()

		messages := utils.PipelineStage(ctx, ticks, func(t time.Time) string {
			return fmt.Sprintf("tick@%s", t.Format(time.RFC3339Nano))
		})

		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					return nil
				}
				if err := emit(msg); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
