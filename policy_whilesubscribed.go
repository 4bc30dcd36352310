package shareflow

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// WhileSubscribed starts upstream collection when the first subscriber
// attaches and stops it stopDelay after the last one detaches, giving a
// subscriber that reattaches quickly a free restart. If replayExpiration
// is positive, the replay buffer survives an extra replayExpiration
// after the stop before a CmdStopAndReset finally clears it; if it is
// zero, the buffer is cleared as soon as stopDelay elapses.
func WhileSubscribed(stopDelay, replayExpiration time.Duration) (Policy, error) {
	if stopDelay < 0 {
		return nil, errors.Wrapf(ErrNegativeDelay, "stopDelay=%s", stopDelay)
	}
	if replayExpiration < 0 {
		return nil, errors.Wrapf(ErrNegativeDelay, "replayExpiration=%s", replayExpiration)
	}

	return PolicyFunc(func(ctx context.Context, count <-chan int) <-chan Command {
		out := make(chan Command)
		go runWhileSubscribed(ctx, count, out, stopDelay, replayExpiration)
		return out
	}), nil
}

// whileSubscribedPhase tracks where in the stop sequence the policy is,
// so an incoming subscriber can tell which timer to cancel.
type whileSubscribedPhase int8

const (
	phaseStopped whileSubscribedPhase = iota
	phaseRunning
	phaseStopDelay
	phaseReplayExpiration
)

func runWhileSubscribed(ctx context.Context, count <-chan int, out chan<- Command, stopDelay, replayExpiration time.Duration) {
	defer close(out)

	phase := phaseStopped
	var timer *time.Timer
	var timerC <-chan time.Time
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}
	defer stopTimer()

	send := func(cmd Command) bool {
		select {
		case out <- cmd:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case n, ok := <-count:
			if !ok {
				return
			}
			switch {
			case n > 0 && phase != phaseRunning:
				stopTimer()
				wasStopped := phase == phaseStopped
				phase = phaseRunning
				if !wasStopped {
					// A stop sequence was mid-flight (CmdStop may already
					// have fired): issue a fresh CmdStart to resume.
				}
				if !send(CmdStart) {
					return
				}
			case n == 0 && phase == phaseRunning:
				phase = phaseStopDelay
				timer = time.NewTimer(stopDelay)
				timerC = timer.C
			}

		case <-timerC:
			switch phase {
			case phaseStopDelay:
				if replayExpiration > 0 {
					if !send(CmdStop) {
						return
					}
					phase = phaseReplayExpiration
					timer = time.NewTimer(replayExpiration)
					timerC = timer.C
				} else {
					if !send(CmdStopAndReset) {
						return
					}
					phase = phaseStopped
					timerC = nil
				}
			case phaseReplayExpiration:
				if !send(CmdStopAndReset) {
					return
				}
				phase = phaseStopped
				timerC = nil
			}

		case <-ctx.Done():
			return
		}
	}
}
