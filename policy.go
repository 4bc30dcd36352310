package shareflow

import "context"

// Command is an instruction a Policy issues to the sharing driver in
// response to the live subscriber count.
type Command int8

const (
	// CmdStop tears down the current upstream collection, if any, but
	// leaves the stream's replay buffer intact.
	CmdStop Command = iota
	// CmdStart (re)starts upstream collection if it isn't running.
	CmdStart
	// CmdStopAndReset tears down the current upstream collection and
	// clears the replay buffer via Stream.ResetReplay.
	CmdStopAndReset
)

// Policy turns an observed subscriber count into a command stream for
// the sharing driver. Commands returns a channel that Share consumes
// until ctx is done; a Policy implementation must close it in that
// case.
type Policy interface {
	Commands(ctx context.Context, count <-chan int) <-chan Command
}

// PolicyFunc adapts a plain function to the Policy interface.
type PolicyFunc func(ctx context.Context, count <-chan int) <-chan Command

func (f PolicyFunc) Commands(ctx context.Context, count <-chan int) <-chan Command {
	return f(ctx, count)
}

// dedupAfterFirstStart drops every command before the first CmdStart
// (there is nothing to stop yet) and collapses consecutive duplicates,
// so Share never issues a redundant restart or teardown.
func dedupAfterFirstStart(ctx context.Context, in <-chan Command) <-chan Command {
	out := make(chan Command)
	go func() {
		defer close(out)
		started := false
		last := CmdStop
		for {
			select {
			case cmd, ok := <-in:
				if !ok {
					return
				}
				if !started {
					if cmd != CmdStart {
						continue
					}
					started = true
				} else if cmd == last {
					continue
				}
				last = cmd
				select {
				case out <- cmd:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
