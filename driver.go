package shareflow

import (
	"context"
	"errors"

	"github.com/sourcegraph/conc"

	"github.com/nethermind-labs/shareflow/utils"
)

// Producer is a cold, single-shot upstream: Collect runs once per
// upstream restart and should keep calling emit until ctx is cancelled
// or the upstream is naturally exhausted.
type Producer[T any] interface {
	Collect(ctx context.Context, emit func(T) error) error
}

// ProducerFunc adapts a plain function to Producer.
type ProducerFunc[T any] func(ctx context.Context, emit func(T) error) error

func (f ProducerFunc[T]) Collect(ctx context.Context, emit func(T) error) error {
	return f(ctx, emit)
}

// BufferedProducer lets an upstream advertise its own backpressure
// preference, fusing it onto the shared Stream it feeds so Share can
// build one combined buffer instead of stacking two.
type BufferedProducer[T any] interface {
	Producer[T]
	BufferHint() (extraBuffer int, onOverflow OverflowPolicy)
}

// Share drives upstream through shared under policy: it subscribes to
// shared's live subscriber count, translates that into start/stop
// commands, and supervises a single upstream collection goroutine at a
// time. A command that arrives while a collection is running cancels
// it (cancel-latest) before acting on the new command; CmdStopAndReset
// additionally clears shared's replay buffer once the cancelled
// collection has fully exited.
//
// Share blocks until ctx is cancelled, the command stream closes, or the
// running collection fails with a genuine (non-context) error, tearing
// down any running collection and resetting the replay buffer before it
// returns — joining in whatever error caused the exit.
func Share[T any](ctx context.Context, upstream Producer[T], shared *Stream[T], policy Policy, logger utils.SimpleLogger) error {
	countCh, unsubscribe := shared.subscriptionCountSignal()
	defer unsubscribe()

	commands := dedupAfterFirstStart(ctx, policy.Commands(ctx, countCh))

	var wg *conc.WaitGroup
	var cancel context.CancelFunc
	var branchDone chan error

	finish := func() {
		if cancel == nil {
			return
		}
		cancel()
		wg.Wait()
		cancel = nil
		wg = nil
		branchDone = nil
	}
	defer finish()

	start := func() {
		finish()
		branchCtx, branchCancel := context.WithCancel(ctx)
		cancel = branchCancel
		wg = conc.NewWaitGroup()
		done := make(chan error, 1)
		branchDone = done
		wg.Go(func() {
			err := upstream.Collect(branchCtx, func(v T) error {
				return shared.Emit(branchCtx, v)
			})
			if err != nil && branchCtx.Err() != nil {
				// Collect failed because we cancelled it ourselves
				// (a new command or ctx.Done() fired); not a real
				// upstream failure.
				err = nil
			}
			done <- err
		})
	}

	for {
		select {
		case err := <-branchDone:
			branchDone = nil
			if err == nil {
				continue
			}
			if logger != nil {
				logger.Errorw("shareflow: upstream collection failed", "err", err)
			}
			finish()
			shared.ResetReplay()
			return errors.Join(err)
		case cmd, ok := <-commands:
			if !ok {
				finish()
				shared.ResetReplay()
				return nil
			}
			switch cmd {
			case CmdStart:
				start()
			case CmdStop:
				finish()
			case CmdStopAndReset:
				finish()
				shared.ResetReplay()
			}
		case <-ctx.Done():
			finish()
			shared.ResetReplay()
			return nil
		}
	}
}
