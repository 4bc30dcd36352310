package shareflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedOfDrivesProducerUnderPolicy(t *testing.T) {
	producer := ProducerFunc[string](func(ctx context.Context, emit func(string) error) error {
		if err := emit("OK"); err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shared, run, err := SharedOf(ctx, producer, Config[string]{Replay: 1}, Eager(), nil)
	require.NoError(t, err)

	go run()

	subCtx, subCancel := context.WithTimeout(context.Background(), time.Second)
	defer subCancel()
	sub := shared.Subscribe(subCtx)
	assert.Equal(t, "OK", <-sub.C)
}

func TestStateOfTracksProducerUpdates(t *testing.T) {
	values := make(chan int, 4)
	values <- 1
	values <- 2
	close(values)

	producer := ProducerFunc[int](func(ctx context.Context, emit func(int) error) error {
		for v := range values {
			if err := emit(v); err != nil {
				return err
			}
		}
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, run := StateOf(ctx, producer, 0, Eager(), nil)
	go run()

	deadline := time.Now().Add(time.Second)
	for st.Value() != 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 2, st.Value())
}

func TestStateAwaitingFirstBlocksUntilFirstValue(t *testing.T) {
	release := make(chan struct{})
	producer := ProducerFunc[string](func(ctx context.Context, emit func(string) error) error {
		<-release
		if err := emit("first"); err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shared, run, err := StateAwaitingFirst[string](ctx, producer, nil)
	require.NoError(t, err)
	go run()

	subCtx, subCancel := context.WithTimeout(context.Background(), time.Second)
	defer subCancel()
	sub := shared.Subscribe(subCtx)

	select {
	case <-sub.C:
		t.Fatal("subscriber must not observe a value before the producer emits")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	assert.Equal(t, "first", <-sub.C)
}

// bufferHintProducer advertises its own backpressure preference via
// BufferedProducer, which SharedOf must fold into Config before
// building the shared Stream.
type bufferHintProducer struct {
	ProducerFunc[int]
	extraBuffer int
	onOverflow  OverflowPolicy
}

func (p bufferHintProducer) BufferHint() (int, OverflowPolicy) {
	return p.extraBuffer, p.onOverflow
}

func TestSharedOfAppliesBufferedProducerHint(t *testing.T) {
	release := make(chan struct{})
	producer := bufferHintProducer{
		ProducerFunc: func(ctx context.Context, emit func(int) error) error {
			// Emit 3 values while one attached subscriber reads none
			// of them. With the Config passed to SharedOf (Replay:1,
			// OnOverflow zero value Suspend, capacity 1), this would
			// block forever on the second emit waiting for that
			// subscriber to drain the buffer; the hint's ExtraBuffer:2
			// (capacity 3) and DropOldest must be what actually lets
			// this finish.
			for i := 1; i <= 3; i++ {
				if err := emit(i); err != nil {
					return err
				}
			}
			close(release)
			<-ctx.Done()
			return ctx.Err()
		},
		extraBuffer: 2,
		onOverflow:  DropOldest,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shared, run, err := SharedOf[int](ctx, producer, Config[int]{Replay: 1}, Eager(), nil)
	require.NoError(t, err)

	// A subscriber slot that never reads keeps the buffer from draining.
	shared.mu.Lock()
	shared.allocateLocked()
	shared.mu.Unlock()
	go run()

	select {
	case <-release:
	case <-time.After(time.Second):
		t.Fatal("producer never finished emitting; BufferHint's ExtraBuffer was not applied")
	}

	subCtx, subCancel := context.WithTimeout(context.Background(), time.Second)
	defer subCancel()
	sub := shared.Subscribe(subCtx)
	assert.Equal(t, 3, <-sub.C, "a late subscriber must still see the latest replayed value")
}
