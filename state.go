package shareflow

import "context"

// State is a degenerate Stream that always holds exactly one current
// value: replay is fixed at 1, there is no extra buffer, and overflow
// is DropOldest so a slow subscriber simply skips to the latest value
// instead of ever blocking a writer.
type State[T any] struct {
	stream *Stream[T]
	equals func(a, b T) bool
}

// NewState constructs a State seeded with initial, comparing values
// with Go's ==. Use NewStateFunc to supply a custom equals instead.
func NewState[T comparable](initial T) *State[T] {
	return NewStateFunc(initial, func(a, b T) bool { return a == b })
}

// NewStateFunc constructs a State with a custom equality function,
// for element types that aren't comparable with ==.
func NewStateFunc[T any](initial T, equals func(a, b T) bool) *State[T] {
	stream, err := New(Config[T]{
		Replay:     1,
		HasInitial: true,
		Initial:    initial,
		OnOverflow: DropOldest,
	})
	if err != nil {
		// Replay=1, HasInitial=true, DropOldest satisfies every
		// construction invariant; New cannot fail for this shape.
		panic(err)
	}
	return &State[T]{stream: stream, equals: equals}
}

// Value returns the current value.
func (st *State[T]) Value() T {
	snap := st.stream.ReplaySnapshot()
	return snap[len(snap)-1]
}

// SetValue replaces the current value, short-circuiting if it equals
// the one already held so subscribers don't see a spurious re-emit. The
// equals-check and the emit happen atomically under the stream's own
// lock, so two concurrent SetValue calls racing on the same new value
// can't both observe the stale current value and both emit.
func (st *State[T]) SetValue(v T) {
	st.stream.compareAndEmitIfChanged(v, st.equals)
}

// Stream exposes the underlying Stream for Subscribe/Collect/Share.
func (st *State[T]) Stream() *Stream[T] {
	return st.stream
}

// Subscribe attaches a channel-based subscriber, delivering the
// current value immediately followed by every subsequent update.
func (st *State[T]) Subscribe(ctx context.Context) *Subscription[T] {
	return st.stream.Subscribe(ctx)
}
