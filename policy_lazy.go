package shareflow

import "context"

// Lazy starts upstream collection once the first subscriber attaches
// and never stops it afterward, even if the subscriber count later
// drops back to zero.
func Lazy() Policy {
	return PolicyFunc(func(ctx context.Context, count <-chan int) <-chan Command {
		out := make(chan Command)
		go func() {
			defer close(out)
			started := false
			for {
				select {
				case n, ok := <-count:
					if !ok {
						return
					}
					if started || n == 0 {
						continue
					}
					started = true
					select {
					case out <- CmdStart:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()
		return out
	})
}
