package shareflow

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/nethermind-labs/shareflow/metrics"
)

// OverflowPolicy selects what TryEmit does once both the replay window
// and the extra buffer are full and at least one subscriber still has
// unconsumed values.
type OverflowPolicy int8

const (
	// Suspend makes TryEmit fail (and Emit block) until room frees up.
	Suspend OverflowPolicy = iota
	// DropOldest evicts the single oldest buffered value to make room.
	DropOldest
	// DropLatest silently discards the value being emitted.
	DropLatest
)

// Config holds a Stream's construction parameters.
type Config[T any] struct {
	// Replay is how many of the most recently emitted values a newly
	// attached subscriber receives before live values.
	Replay int
	// ExtraBuffer is how much additional room, beyond Replay, a slow
	// subscriber gets before OnOverflow kicks in.
	ExtraBuffer int
	OnOverflow  OverflowPolicy
	// Initial, when HasInitial is true, seeds the replay buffer so the
	// very first subscriber never sees an empty stream.
	Initial    T
	HasInitial bool
	// Metrics defaults to metrics.VoidFactory() when nil.
	Metrics metrics.Factory
	// Name labels the stream's metrics; defaults to "shareflow".
	Name string
}

// Stream is a hot, multicast, replay-capable value stream: every active
// subscriber sees every value emitted while it is attached, a late
// subscriber first replays up to Replay historical values, and a slow
// subscriber can fall behind by up to ExtraBuffer values before
// OnOverflow decides what happens next.
//
// All mutation happens under mu; continuations collected while holding
// it (producer resumptions, subscriber wakeups) are only ever fired
// after it is released, so a waiter's own goroutine does the work of
// resuming itself instead of running arbitrary code under the lock.
type Stream[T any] struct {
	mu sync.Mutex

	buf *ring[T]

	// replayIndex and minCollectorIndex are the two logical-index
	// watermarks described in the data model: replayIndex is where a
	// newly attached subscriber starts, minCollectorIndex is the
	// slowest active subscriber's cursor (or bufferEnd when there are
	// none). head is always min(replayIndex, minCollectorIndex); ring
	// slots before head are dead and get cleared opportunistically.
	replayIndex       int64
	minCollectorIndex int64
	bufferSize        int64
	queueSize         int64

	replay        int64
	bufferCapacity int64
	onOverflow    OverflowPolicy

	hasInitial   bool
	initialValue T
	// initialPristine is true exactly when the current replay window
	// holds nothing but a freshly reinserted Config.Initial from the
	// last ResetReplay call, with no emit having landed since. It makes
	// ResetReplay idempotent without requiring T to be comparable.
	initialPristine bool

	slots *slotRegistry[T]
	count *countSignal

	subGauge  metrics.Gauge
	dropCount metrics.Counter
}

// New validates cfg and constructs a Stream.
func New[T any](cfg Config[T]) (*Stream[T], error) {
	if cfg.Replay < 0 {
		return nil, errors.Wrapf(ErrNegativeReplay, "replay=%d", cfg.Replay)
	}
	if cfg.ExtraBuffer < 0 {
		return nil, errors.Wrapf(ErrNegativeExtraBuffer, "extraBuffer=%d", cfg.ExtraBuffer)
	}
	if cfg.HasInitial && cfg.Replay == 0 {
		return nil, errors.WithStack(ErrInitialNeedsReplay)
	}
	capacity := addSaturating(int64(cfg.Replay), int64(cfg.ExtraBuffer))
	if cfg.OnOverflow != Suspend && capacity == 0 {
		return nil, errors.WithStack(ErrOverflowNeedsBuffer)
	}

	factory := cfg.Metrics
	if factory == nil {
		factory = metrics.VoidFactory()
	}
	name := cfg.Name
	if name == "" {
		name = "shareflow"
	}

	s := &Stream[T]{
		replay:         int64(cfg.Replay),
		bufferCapacity: capacity,
		onOverflow:     cfg.OnOverflow,
		hasInitial:     cfg.HasInitial,
		initialValue:   cfg.Initial,
		slots:          newSlotRegistry[T](),
		count:          newCountSignal(),
		subGauge: factory.NewGauge(metrics.GaugeOpts{
			Subsystem: name,
			Name:      "subscribers",
		}),
		dropCount: factory.NewCounter(metrics.CounterOpts{
			Subsystem: name,
			Name:      "dropped_total",
		}),
	}

	if cfg.HasInitial {
		s.buf = newRing[T](1)
		s.buf.set(0, entry[T]{kind: entryValue, value: cfg.Initial})
		s.bufferSize = 1
		s.initialPristine = true
	}
	s.minCollectorIndex = s.bufferSize

	return s, nil
}

func (s *Stream[T]) head() int64 {
	return minInt64(s.minCollectorIndex, s.replayIndex)
}

func (s *Stream[T]) bufferEnd() int64 {
	return s.head() + s.bufferSize
}

func (s *Stream[T]) queueEnd() int64 {
	return s.head() + s.bufferSize + s.queueSize
}

func (s *Stream[T]) totalSize() int64 {
	return s.bufferSize + s.queueSize
}

func (s *Stream[T]) replaySize() int64 {
	v := s.head() + s.bufferSize - s.replayIndex
	if v < 0 {
		return 0
	}
	return v
}

func (s *Stream[T]) rendezvous() bool {
	return s.bufferCapacity == 0
}

// reserveLocked grows the ring, if needed, so every logical index up
// to and including idx is addressable.
func (s *Stream[T]) reserveLocked(idx int64) {
	need := idx - s.head() + 1
	if s.buf.capacity() >= need {
		return
	}
	s.buf = s.buf.grow(need, s.head(), s.queueEnd())
}

// SubscriptionCount returns the number of currently attached collectors.
func (s *Stream[T]) SubscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots.activeCount()
}

// subscriptionCountSignal exposes the live subscriber count as a
// distinct-until-changed channel, consumed by a Policy.
func (s *Stream[T]) subscriptionCountSignal() (<-chan int, func()) {
	return s.count.subscribe()
}

// ReplaySnapshot returns a copy of the values currently in the replay
// window, oldest first.
func (s *Stream[T]) ReplaySnapshot() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.head() + s.bufferSize - s.replayIndex
	if n <= 0 {
		return nil
	}
	out := make([]T, 0, n)
	for i := s.replayIndex; i < s.head()+s.bufferSize; i++ {
		out = append(out, s.buf.get(i).value)
	}
	return out
}

// TryEmit attempts to publish v without blocking. It returns false only
// when OnOverflow is Suspend and the buffer is full because the slowest
// subscriber has not consumed its backlog; Emit should be used to wait
// out that condition instead.
func (s *Stream[T]) TryEmit(v T) bool {
	s.mu.Lock()
	ok := s.tryEmitLocked(v)
	var resumes []chan struct{}
	if ok {
		resumes = s.collectWakeupsLocked()
	}
	s.mu.Unlock()
	fireAll(resumes)
	return ok
}

// compareAndEmitIfChanged checks the latest buffered value against v
// using equals and, if it differs, emits it — entirely under s.mu, so
// concurrent callers can't race between reading the current value and
// emitting a new one the way two independent lock acquisitions would.
// It assumes the stream always holds at least one buffered value, true
// for State's fixed Replay:1/HasInitial configuration.
func (s *Stream[T]) compareAndEmitIfChanged(v T, equals func(a, b T) bool) {
	s.mu.Lock()
	current := s.buf.get(s.head() + s.bufferSize - 1).value
	if equals(current, v) {
		s.mu.Unlock()
		return
	}
	ok := s.tryEmitLocked(v)
	var resumes []chan struct{}
	if ok {
		resumes = s.collectWakeupsLocked()
	}
	s.mu.Unlock()
	fireAll(resumes)
}

func (s *Stream[T]) tryEmitLocked(v T) bool {
	if s.slots.activeCount() == 0 {
		if s.replay == 0 {
			return true
		}
		s.appendValueLocked(v)
		for s.bufferSize > s.replay {
			s.dropOldestLocked()
		}
		s.minCollectorIndex = s.bufferEnd()
		return true
	}

	notFull := s.bufferSize < s.bufferCapacity || s.minCollectorIndex > s.replayIndex
	if notFull {
		s.appendValueLocked(v)
		for s.bufferSize > s.bufferCapacity {
			s.dropOldestLocked()
		}
		if s.replaySize() > s.replay {
			s.replayIndex++
		}
		return true
	}

	switch s.onOverflow {
	case Suspend:
		return false
	case DropLatest:
		s.dropCount.Inc()
		return true
	case DropOldest:
		s.appendValueLocked(v)
		s.dropOldestLocked()
		if s.replaySize() > s.replay {
			s.replayIndex++
		}
		s.dropCount.Inc()
		return true
	default:
		return false
	}
}

func (s *Stream[T]) appendValueLocked(v T) int64 {
	idx := s.head() + s.bufferSize
	s.reserveLocked(idx)
	s.buf.set(idx, entry[T]{kind: entryValue, value: v})
	s.bufferSize++
	s.initialPristine = false
	return idx
}

// dropOldestLocked evicts the single oldest buffered value, advancing
// replayIndex and any slot cursor that was pointing at it.
func (s *Stream[T]) dropOldestLocked() {
	h := s.head()
	s.buf.clear(h)
	s.bufferSize--
	newHead := h + 1
	if s.replayIndex < newHead {
		s.replayIndex = newHead
	}
	if s.minCollectorIndex < newHead {
		s.slots.forEachActive(func(sl *slot[T]) {
			if sl.cursor < newHead {
				sl.cursor = newHead
			}
		})
		s.minCollectorIndex = newHead
	}
}

// Emit publishes v, blocking until room frees up, ctx is cancelled, or
// (in the zero-capacity rendezvous configuration) a subscriber directly
// takes the value.
func (s *Stream[T]) Emit(ctx context.Context, v T) error {
	if !s.rendezvous() {
		if s.TryEmit(v) {
			return nil
		}
	}

	rec := newEmitterRecord(v)
	s.mu.Lock()
	idx := s.head() + s.totalSize()
	s.reserveLocked(idx)
	s.buf.set(idx, entry[T]{kind: entryEmitter, rec: rec})
	rec.index = idx
	s.queueSize++
	resumes := s.collectWakeupsLocked()
	s.mu.Unlock()
	fireAll(resumes)

	select {
	case <-rec.done:
		return nil
	case <-ctx.Done():
		s.cancelEmit(rec)
		return ctx.Err()
	}
}

// cancelEmit removes a suspended emitter that lost the race against
// ctx.Done(). If the record was already resumed by a collector it is a
// no-op; otherwise the queued slot is either dropped (tail position) or
// left as a tombstone so later queue entries keep their logical index.
func (s *Stream[T]) cancelEmit(rec *emitterRecord[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.resumed || rec.canceled {
		return
	}
	rec.canceled = true
	e := s.buf.get(rec.index)
	if e.kind != entryEmitter || e.rec != rec {
		return
	}
	if rec.index == s.queueEnd()-1 {
		s.buf.clear(rec.index)
		s.queueSize--
		s.cleanupTailLocked()
	} else {
		s.buf.set(rec.index, entry[T]{kind: entryTombstone})
	}
}

// cleanupTailLocked strips trailing tombstones off the queue so the
// queue's logical tail never parks on dead entries.
func (s *Stream[T]) cleanupTailLocked() {
	for s.queueSize > 0 {
		tail := s.queueEnd() - 1
		if s.buf.get(tail).kind != entryTombstone {
			return
		}
		s.buf.clear(tail)
		s.queueSize--
	}
}

// tryPeekLocked reports whether sl can read a value right now, without
// mutating anything, returning the logical index to read or -1.
func (s *Stream[T]) tryPeekLocked(sl *slot[T]) int64 {
	if sl.cursor < s.bufferEnd() {
		return sl.cursor
	}
	if s.bufferCapacity > 0 {
		return -1
	}
	// Zero-capacity rendezvous: a subscriber sitting exactly at head can
	// take directly from the queue; it may never look further ahead.
	if sl.cursor > s.head() || s.queueSize == 0 {
		return -1
	}
	return sl.cursor
}

// peekTakeLocked advances sl past any tombstones and returns the next
// live value, if one is immediately available. The returned channels
// must be closed by the caller once the lock is released.
func (s *Stream[T]) peekTakeLocked(sl *slot[T]) (T, bool, []chan struct{}) {
	var zero T
	old := sl.cursor
	consumed := int64(0)
	for {
		idx := s.tryPeekLocked(sl)
		if idx < 0 {
			// Tombstones already skipped may have moved sl.cursor (and
			// freed queue room) even though no deliverable value turned
			// up; still reconcile the watermarks so a subsequent
			// producer resumption or wakeup isn't missed.
			var resumes []chan struct{}
			if consumed > 0 {
				resumes = s.maybeUpdateCollectorIndexLocked(old, consumed)
				resumes = append(resumes, s.collectWakeupsLocked()...)
			}
			return zero, false, resumes
		}
		e := s.buf.get(idx)
		switch e.kind {
		case entryValue:
			sl.cursor = idx + 1
			resumes := s.maybeUpdateCollectorIndexLocked(old, consumed)
			resumes = append(resumes, s.collectWakeupsLocked()...)
			return e.value, true, resumes
		case entryEmitter:
			sl.cursor = idx + 1
			s.queueSize--
			s.buf.clear(idx)
			consumed++
			e.rec.resumed = true
			resumes := []chan struct{}{e.rec.done}
			resumes = append(resumes, s.maybeUpdateCollectorIndexLocked(old, consumed)...)
			resumes = append(resumes, s.collectWakeupsLocked()...)
			return e.rec.value, true, resumes
		case entryTombstone:
			sl.cursor = idx + 1
			s.queueSize--
			s.buf.clear(idx)
			consumed++
			continue
		default:
			return zero, false, nil
		}
	}
}

func (s *Stream[T]) maybeUpdateCollectorIndexLocked(oldCursor, alreadyConsumed int64) []chan struct{} {
	if oldCursor > s.minCollectorIndex {
		return nil
	}
	return s.recomputeCollectorIndexLocked(alreadyConsumed)
}

// recomputeCollectorIndexLocked re-derives min_collector_index after a
// slot's cursor moved or a slot was freed, resuming as many suspended
// emitters as the freed room allows.
//
// The zero-capacity rendezvous configuration has no buffer region to
// move resumed values into, so there a value can only ever be resumed
// by a direct peekTakeLocked hand-off; this function just advances the
// watermarks to expose the next queued emitter and never touches the
// queue itself.
func (s *Stream[T]) recomputeCollectorIndexLocked(alreadyConsumed int64) []chan struct{} {
	oldHead := s.head()

	var newMin int64
	if s.slots.activeCount() == 0 {
		newMin = s.bufferEnd()
	} else {
		first := true
		s.slots.forEachActive(func(sl *slot[T]) {
			if first || sl.cursor < newMin {
				newMin = sl.cursor
				first = false
			}
		})
	}
	if newMin <= s.minCollectorIndex {
		return nil
	}

	var resumes []chan struct{}
	if s.rendezvous() {
		s.minCollectorIndex = newMin
		s.replayIndex = newMin
	} else {
		resumable := s.queueSize
		if s.slots.activeCount() > 0 {
			maxResumable := s.bufferCapacity - (s.bufferEnd() - newMin)
			if maxResumable < 0 {
				maxResumable = 0
			}
			resumable = minInt64(s.queueSize, maxResumable)
		}

		pos := oldHead + s.bufferSize + alreadyConsumed
		processed := int64(0)
		for processed < resumable && s.queueSize > 0 {
			e := s.buf.get(pos)
			switch e.kind {
			case entryTombstone:
				s.buf.clear(pos)
				s.queueSize--
			case entryEmitter:
				s.buf.set(pos, entry[T]{kind: entryValue, value: e.rec.value})
				s.bufferSize++
				s.queueSize--
				s.initialPristine = false
				e.rec.resumed = true
				resumes = append(resumes, e.rec.done)
			default:
				processed = resumable
				continue
			}
			pos++
			processed++
		}

		end := oldHead + s.bufferSize
		if s.slots.activeCount() == 0 {
			for s.bufferSize > s.replay {
				s.dropOldestLocked()
			}
			s.minCollectorIndex = end
		} else {
			s.minCollectorIndex = newMin
			newReplayIndex := end - minInt64(s.replay, s.bufferSize)
			if newReplayIndex > s.replayIndex {
				s.replayIndex = newReplayIndex
			}
		}
		s.bufferSize = end - s.head()
	}

	newHead := s.head()
	for i := oldHead; i < newHead; i++ {
		s.buf.clear(i)
	}
	return resumes
}

// collectWakeupsLocked finds every parked subscriber that can now read
// a value and returns their wake channels, clearing them from the slot
// so the next suspension allocates a fresh one.
func (s *Stream[T]) collectWakeupsLocked() []chan struct{} {
	var out []chan struct{}
	s.slots.forEachActive(func(sl *slot[T]) {
		if sl.wake != nil && s.tryPeekLocked(sl) >= 0 {
			out = append(out, sl.wake)
			sl.wake = nil
		}
	})
	return out
}

// allocateLocked registers a new subscriber at the current replay
// watermark and updates the observable subscriber count.
func (s *Stream[T]) allocateLocked() (*slot[T], int) {
	sl, idx := s.slots.allocate(s.replayIndex)
	if s.replayIndex < s.minCollectorIndex {
		s.minCollectorIndex = s.replayIndex
	}
	s.onSubscriberCountChangedLocked()
	return sl, idx
}

// freeLocked detaches a subscriber and resumes anything its departure
// unblocks (it can only ever raise min_collector_index, never lower it).
func (s *Stream[T]) freeLocked(idx int) []chan struct{} {
	sl := s.slots.slots[idx]
	old := sl.cursor
	s.slots.release(idx)
	s.onSubscriberCountChangedLocked()
	resumes := s.maybeUpdateCollectorIndexLocked(old, 0)
	resumes = append(resumes, s.collectWakeupsLocked()...)
	return resumes
}

func (s *Stream[T]) onSubscriberCountChangedLocked() {
	n := s.slots.activeCount()
	s.count.set(n)
	s.subGauge.Set(float64(n))
}

// awaitValue parks the caller until sl can read a value or ctx is
// cancelled. It re-checks tryPeekLocked before parking so a value that
// arrived between the previous unlock and this call isn't missed.
func (s *Stream[T]) awaitValue(ctx context.Context, sl *slot[T]) error {
	s.mu.Lock()
	if s.tryPeekLocked(sl) >= 0 {
		s.mu.Unlock()
		return nil
	}
	wake := make(chan struct{})
	sl.wake = wake
	s.mu.Unlock()

	select {
	case <-wake:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		if sl.wake == wake {
			sl.wake = nil
		}
		s.mu.Unlock()
		return ctx.Err()
	}
}

// ResetReplay erases the replay window for future subscribers: nobody
// who attaches after this call ever sees a value buffered before it.
// It is the driver's finalizer, run once collection stops so the next
// collection doesn't leak values from the one that just ended.
//
// It never touches minCollectorIndex or an already-attached
// subscriber's own cursor, so a slow subscriber's unread backlog
// survives intact. Only the slice of the buffer that was serving
// replay alone — the span between the old head and whichever is
// smaller of minCollectorIndex or the current buffer end — is
// dropped, since nothing still needs it once replay is erased; the
// buffer's tail (and thus anything still queued past it) never moves.
//
// If Config.Initial was supplied, a fresh copy becomes the entire
// replay window for the next subscriber, appended at that unchanged
// tail so it never collides with preserved backlog (a queued emitter
// is shifted right by one slot to make room). It counts against
// bufferCapacity like any other value, so the usual overflow rule runs
// immediately afterward instead of exempting it. initialPristine makes
// repeated calls with no intervening emit idempotent: once the
// reinserted value is the last thing appended, a second call is a
// pure no-op rather than appending a duplicate.
func (s *Stream[T]) ResetReplay() {
	s.mu.Lock()

	needsReinsert := s.hasInitial && !s.initialPristine
	if s.replaySize() == 0 && !needsReinsert {
		s.mu.Unlock()
		return
	}

	tail := s.bufferEnd()
	oldHead := s.head()
	newHead := minInt64(s.minCollectorIndex, tail)
	for i := oldHead; i < newHead; i++ {
		s.buf.clear(i)
	}
	s.bufferSize -= newHead - oldHead
	s.replayIndex = tail

	if needsReinsert {
		if s.queueSize > 0 {
			// Make room for the reinserted value without clobbering
			// queued emitters: shift them right by one logical slot,
			// highest index first, rewriting each record's own index
			// in lockstep.
			s.reserveLocked(s.queueEnd())
			for i := s.queueEnd() - 1; i >= tail; i-- {
				e := s.buf.get(i)
				s.buf.set(i+1, e)
				if e.kind == entryEmitter {
					e.rec.index = i + 1
				}
			}
		}
		s.reserveLocked(tail)
		s.buf.set(tail, entry[T]{kind: entryValue, value: s.initialValue})
		s.bufferSize++
		for s.bufferSize > s.bufferCapacity {
			s.dropOldestLocked()
		}
		s.initialPristine = true
	}

	s.mu.Unlock()
}
