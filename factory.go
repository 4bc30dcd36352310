package shareflow

import (
	"context"

	"github.com/nethermind-labs/shareflow/utils"
)

// SharedOf builds a Stream for producer under policy, returning the
// shared stream plus a func that runs the sharing driver until ctx is
// cancelled. Call the returned func from its own
// goroutine; it blocks for the driver's lifetime.
func SharedOf[T any](ctx context.Context, producer Producer[T], cfg Config[T], policy Policy, logger utils.SimpleLogger) (*Stream[T], func() error, error) {
	if bp, ok := producer.(BufferedProducer[T]); ok {
		extraBuffer, onOverflow := bp.BufferHint()
		cfg.ExtraBuffer = extraBuffer
		cfg.OnOverflow = onOverflow
	}
	shared, err := New(cfg)
	if err != nil {
		return nil, nil, err
	}
	run := func() error {
		return Share(ctx, producer, shared, policy, logger)
	}
	return shared, run, nil
}

// StateOf builds a State seeded with initial and a driver func that
// keeps it fed from producer under policy.
func StateOf[T comparable](ctx context.Context, producer Producer[T], initial T, policy Policy, logger utils.SimpleLogger) (*State[T], func() error) {
	st := NewState(initial)
	run := func() error {
		return Share(ctx, producer, st.Stream(), policy, logger)
	}
	return st, run
}

// StateAwaitingFirst builds a Stream with no seed value: every
// Subscribe/Collect call parks in awaitValue until producer, driven
// eagerly, emits for the first time, instead of returning a
// placeholder value immediately. Replay stays at 1 afterward, so any
// subscriber attaching later still gets the latest value right away.
func StateAwaitingFirst[T any](ctx context.Context, producer Producer[T], logger utils.SimpleLogger) (*Stream[T], func() error, error) {
	shared, err := New(Config[T]{Replay: 1, OnOverflow: DropOldest})
	if err != nil {
		return nil, nil, err
	}
	run := func() error {
		return Share(ctx, producer, shared, Eager(), logger)
	}
	return shared, run, nil
}
