package pipeline

import (
	"context"
	"sync"
	"time"
)

type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// StageEvent is one observable state transition. The last event of a run
// is either {complete, done} carrying the report or the failing stage's
// failed event carrying a *Failure.
type StageEvent struct {
	Stage   string `json:"stage"`
	Status  Status `json:"status"`
	Message string `json:"message"`
	Result  any    `json:"result,omitempty"`
}

// Failure is the error descriptor of a terminal failed event.
type Failure struct {
	Stage   string `json:"stage"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Terminal reports whether e ends a stream.
func (e StageEvent) Terminal() bool {
	return e.Status == StatusFailed || (e.Stage == StageComplete && e.Status == StatusDone)
}

type emitter interface {
	emit(StageEvent)
}

type discard struct{}

func (discard) emit(StageEvent) {}

// eventQueue decouples the pipeline from the stream consumer: emit never
// blocks, and a single forwarder goroutine feeds the consumer in order.
type eventQueue struct {
	mu     sync.Mutex
	items  []StageEvent
	closed bool
	signal chan struct{}
	grace  time.Duration
}

// readerGrace is how long a canceled stream keeps offering an event.
var readerGrace = 5 * time.Second

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1), grace: readerGrace}
}

func (q *eventQueue) emit(e StageEvent) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, e)
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// forward delivers queued events to out until the queue is closed and
// drained, then closes out. After ctx is done a reader that has not taken
// an event within readerGrace is treated as gone: the remaining events are
// dropped and out is closed as soon as the run ends.
func (q *eventQueue) forward(ctx context.Context, out chan<- StageEvent) {
	defer close(out)
	var gone chan struct{}
	for {
		q.mu.Lock()
		batch := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, e := range batch {
			if gone == nil {
				select {
				case out <- e:
					continue
				case <-ctx.Done():
					g := make(chan struct{})
					t := time.AfterFunc(q.grace, func() { close(g) })
					defer t.Stop()
					gone = g
				}
			}
			select {
			case out <- e:
			case <-gone:
			}
		}
		if closed {
			return
		}
		<-q.signal
	}
}
