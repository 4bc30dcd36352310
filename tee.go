package shareflow

import "context"

// Tee forwards every value observed by sub into dst until sub's
// subscription ends or ctx is cancelled, letting one shared stream
// rebroadcast into another with a different replay/buffer shape.
func Tee[T any](ctx context.Context, sub *Subscription[T], dst *Stream[T]) {
	go func() {
		for {
			select {
			case v, ok := <-sub.C:
				if !ok {
					return
				}
				if err := dst.Emit(ctx, v); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
