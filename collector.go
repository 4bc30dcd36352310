package shareflow

import "context"

// collectorConfig accumulates CollectorOptions before Collect starts
// pulling values.
type collectorConfig[T any] struct {
	onSubscription []func(emit func(T) error) error
}

// CollectorOption customizes a single Collect/Subscribe call.
type CollectorOption[T any] func(*collectorConfig[T])

// OnSubscription registers a hook run once a subscriber slot has been
// allocated but before the first value is delivered, receiving this
// collector's own sink so it can emit a value visible only to the
// subscriber that just attached rather than broadcasting to everyone
// via TryEmit/Emit. Hooks run in the order they were supplied; the
// first error returned aborts Collect without ever delivering a value.
func OnSubscription[T any](action func(emit func(T) error) error) CollectorOption[T] {
	return func(cfg *collectorConfig[T]) {
		cfg.onSubscription = append(cfg.onSubscription, action)
	}
}

// Collect attaches a subscriber slot and pulls values into sink until
// ctx is cancelled or sink returns an error. It is the low-level,
// spec-faithful primitive: allocate, (optionally) run subscription
// hooks, then loop peekTake/awaitValue until asked to stop.
func (s *Stream[T]) Collect(ctx context.Context, sink func(T) error, opts ...CollectorOption[T]) error {
	var cfg collectorConfig[T]
	for _, o := range opts {
		o(&cfg)
	}

	s.mu.Lock()
	sl, idx := s.allocateLocked()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		resumes := s.freeLocked(idx)
		s.mu.Unlock()
		fireAll(resumes)
	}()

	for _, hook := range cfg.onSubscription {
		if err := hook(sink); err != nil {
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		v, ok, resumes := s.peekTakeLocked(sl)
		s.mu.Unlock()
		fireAll(resumes)

		if !ok {
			if err := s.awaitValue(ctx, sl); err != nil {
				return err
			}
			continue
		}
		if err := sink(v); err != nil {
			return err
		}
	}
}

// Subscription is the Go-idiomatic, channel-based view of an attached
// subscriber, layered on top of Collect the way feed.Subscription
// layers on top of feed.Feed's internal fan-out.
type Subscription[T any] struct {
	C      <-chan T
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Err returns the reason Subscribe's goroutine stopped, once C has been
// drained and closed. It is nil if the subscription was simply
// cancelled via Unsubscribe.
func (sub *Subscription[T]) Err() error {
	<-sub.done
	return sub.err
}

// Unsubscribe detaches the subscription. It does not wait for the
// internal goroutine to exit; receive C down to closure (or call Err)
// for that.
func (sub *Subscription[T]) Unsubscribe() {
	sub.cancel()
}

// Subscribe attaches a channel-based subscriber. Its slot is allocated
// before Subscribe returns, so values emitted after the call reach it
// (subject to OnOverflow). The returned channel is closed once the
// subscription ends, whether via Unsubscribe or ctx being cancelled by
// the caller.
func (s *Stream[T]) Subscribe(ctx context.Context, opts ...CollectorOption[T]) *Subscription[T] {
	cctx, cancel := context.WithCancel(ctx)
	out := make(chan T)
	sub := &Subscription[T]{C: out, cancel: cancel, done: make(chan struct{})}

	attached := make(chan struct{})
	opts = append([]CollectorOption[T]{OnSubscription(func(func(T) error) error {
		close(attached)
		return nil
	})}, opts...)

	go func() {
		defer close(out)
		defer close(sub.done)
		err := s.Collect(cctx, func(v T) error {
			select {
			case out <- v:
				return nil
			case <-cctx.Done():
				return cctx.Err()
			}
		}, opts...)
		if err != nil && cctx.Err() == nil {
			sub.err = err
		}
	}()

	<-attached
	return sub
}
