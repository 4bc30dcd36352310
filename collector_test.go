package shareflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesReplayThenLiveValues(t *testing.T) {
	s := mustNew(t, Config[string]{Replay: 2})
	require.True(t, s.TryEmit("a"))
	require.True(t, s.TryEmit("b"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sub := s.Subscribe(ctx)

	assert.Equal(t, "a", <-sub.C)
	assert.Equal(t, "b", <-sub.C)

	require.True(t, s.TryEmit("c"))
	assert.Equal(t, "c", <-sub.C)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := mustNew(t, Config[int]{Replay: 0, ExtraBuffer: 4})
	sub := s.Subscribe(context.Background())

	require.True(t, s.TryEmit(1))
	assert.Equal(t, 1, <-sub.C)

	sub.Unsubscribe()
	_, open := <-sub.C
	assert.False(t, open, "channel must close once unsubscribed")
	assert.NoError(t, sub.Err())
}

func TestSubscriptionErrPropagatesSinkFailure(t *testing.T) {
	s := mustNew(t, Config[int]{Replay: 1})
	require.True(t, s.TryEmit(1))

	sinkErr := errors.New("boom")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.Collect(ctx, func(v int) error {
			return sinkErr
		})
	}()
	assert.Equal(t, sinkErr, <-done)
}

func TestOnSubscriptionHookRunsBeforeFirstValue(t *testing.T) {
	s := mustNew(t, Config[int]{Replay: 1})
	require.True(t, s.TryEmit(1))

	var hookRan bool
	var seenAtHookTime int
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	var delivered []int
	go func() {
		done <- s.Collect(ctx, func(v int) error {
			delivered = append(delivered, v)
			if len(delivered) == 1 {
				cancel()
			}
			return nil
		}, OnSubscription(func(emit func(int) error) error {
			hookRan = true
			seenAtHookTime = len(delivered)
			return nil
		}))
	}()

	<-done
	assert.True(t, hookRan)
	assert.Equal(t, 0, seenAtHookTime, "hook must run before any value is delivered")
	assert.Equal(t, []int{1}, delivered)
}

func TestOnSubscriptionHookErrorAbortsCollect(t *testing.T) {
	s := mustNew(t, Config[int]{Replay: 1})
	require.True(t, s.TryEmit(1))

	hookErr := errors.New("hook failed")
	err := s.Collect(context.Background(), func(int) error {
		t.Fatal("sink must not run when a hook fails")
		return nil
	}, OnSubscription(func(emit func(int) error) error {
		return hookErr
	}))
	assert.Equal(t, hookErr, err)
}

func TestOnSubscriptionHooksRunInOrder(t *testing.T) {
	s := mustNew(t, Config[int]{Replay: 0, ExtraBuffer: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	var order []string
	_ = s.Collect(ctx, func(int) error { return nil },
		OnSubscription(func(emit func(int) error) error { order = append(order, "first"); return nil }),
		OnSubscription(func(emit func(int) error) error { order = append(order, "second"); return nil }),
	)
	assert.Equal(t, []string{"first", "second"}, order)
}

// The hook's sink argument must be the newly-attached collector's own
// sink, not a broadcast to every subscriber: a value it emits should
// reach only that collector.
func TestOnSubscriptionHookDeliversSyntheticValueToThisSubscriberOnly(t *testing.T) {
	s := mustNew(t, Config[int]{Replay: 0, ExtraBuffer: 4})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	stop := errors.New("stop")

	var mu sync.Mutex
	var plain, seeded []int

	doneA := make(chan error, 1)
	go func() {
		doneA <- s.Collect(ctx, func(v int) error {
			mu.Lock()
			plain = append(plain, v)
			mu.Unlock()
			return stop
		})
	}()

	doneB := make(chan error, 1)
	go func() {
		doneB <- s.Collect(ctx, func(v int) error {
			mu.Lock()
			seeded = append(seeded, v)
			n := len(seeded)
			mu.Unlock()
			if n >= 2 {
				return stop
			}
			return nil
		}, OnSubscription(func(emit func(int) error) error {
			return emit(99)
		}))
	}()

	for s.SubscriptionCount() < 2 {
		time.Sleep(time.Millisecond)
	}
	require.True(t, s.TryEmit(1))

	require.ErrorIs(t, <-doneA, stop)
	require.ErrorIs(t, <-doneB, stop)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1}, plain, "a plain subscriber must never see another subscriber's synthetic value")
	assert.Equal(t, []int{99, 1}, seeded, "the hooked subscriber must see its synthetic value before any broadcast value")
}

func TestCollectContextCancelReturnsContextError(t *testing.T) {
	s := mustNew(t, Config[int]{Replay: 0, ExtraBuffer: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Collect(ctx, func(int) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSubscriptionCountReflectsAttachDetach(t *testing.T) {
	s := mustNew(t, Config[int]{Replay: 0, ExtraBuffer: 1})
	assert.Equal(t, 0, s.SubscriptionCount())

	ctx, cancel := context.WithCancel(context.Background())
	sub := s.Subscribe(ctx)

	deadline := time.Now().Add(time.Second)
	for s.SubscriptionCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 1, s.SubscriptionCount())

	sub.Unsubscribe()
	cancel()
	deadline = time.Now().Add(time.Second)
	for s.SubscriptionCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 0, s.SubscriptionCount())
}
