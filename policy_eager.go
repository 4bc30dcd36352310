package shareflow

import "context"

// Eager starts upstream collection immediately, regardless of whether
// any subscriber is attached yet, and never stops it.
func Eager() Policy {
	return PolicyFunc(func(ctx context.Context, count <-chan int) <-chan Command {
		out := make(chan Command, 1)
		out <- CmdStart
		go func() {
			<-ctx.Done()
			close(out)
		}()
		return out
	})
}
