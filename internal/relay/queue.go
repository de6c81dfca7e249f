package relay

import "context"

// turnQueue serializes synthesis work for a single turn. Every enqueued task
// waits for its predecessor to finish, so exactly one task runs at a time and
// audio leaves in sentence order no matter how long each synthesis call takes.
type turnQueue struct {
	tail chan struct{}
}

func newTurnQueue() *turnQueue {
	done := make(chan struct{})
	close(done)
	return &turnQueue{tail: done}
}

// enqueue appends task to the chain. It must only be called from the
// goroutine that owns the queue; tasks themselves run on their own goroutine.
func (q *turnQueue) enqueue(task func()) {
	prev := q.tail
	done := make(chan struct{})
	q.tail = done
	go func() {
		defer close(done)
		<-prev
		task()
	}()
}

// wait blocks until every task enqueued so far has finished.
func (q *turnQueue) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.tail:
		return nil
	}
}
