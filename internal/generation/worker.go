package generation

import (
	"context"
	"iter"
)

// emitFunc hands one chunk to the consumer. It fails once the consumer has
// gone away.
type emitFunc func(chunk string) error

// runWorker runs produce on its own goroutine and relays emitted chunks to
// the iterator's consumer in order. The worker context is cancelled when the
// consumer stops early or the parent context ends, so produce must bind all
// of its I/O to that context.
func runWorker(ctx context.Context, produce func(ctx context.Context, emit emitFunc) error) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		chunks := make(chan string)
		done := make(chan error, 1)

		go func() {
			done <- produce(ctx, func(chunk string) error {
				select {
				case chunks <- chunk:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
			close(chunks)
		}()

		for chunk := range chunks {
			if !yield(chunk, nil) {
				cancel()
				for range chunks {
				}
				<-done
				return
			}
		}

		if err := <-done; err != nil {
			yield("", err)
		}
	}
}
