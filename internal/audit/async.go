// README: Non-blocking audit wrapper; entries go through a bounded queue and overflow is dropped.
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ridebid/internal/observability"
)

const writeTimeout = 3 * time.Second

type Async struct {
	sink  Sink
	log   *zap.Logger
	queue chan Entry
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts a worker that drains the queue into sink until Close.
func NewAsync(sink Sink, buffer int, log *zap.Logger) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	a := &Async{
		sink:  sink,
		log:   log,
		queue: make(chan Entry, buffer),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

// Record enqueues e and returns immediately. It never reports an error.
func (a *Async) Record(_ context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil
	}
	select {
	case a.queue <- e:
	default:
		observability.SideChannelFailures.WithLabelValues("audit_dropped").Inc()
		a.log.Warn("audit queue full, entry dropped", zap.String("action", e.Action), zap.String("resource_id", string(e.ResourceID)))
	}
	return nil
}

// Close stops accepting entries and waits for the queue to drain.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := a.sink.Record(ctx, e); err != nil {
			observability.SideChannelFailures.WithLabelValues("audit").Inc()
			a.log.Warn("audit record failed", zap.String("action", e.Action), zap.Error(err))
		}
		cancel()
	}
}
